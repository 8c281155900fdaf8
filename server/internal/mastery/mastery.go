// Package mastery 记录学员在每道题上的累计表现，供进度页与复习使用。
package mastery

import (
	"context"
	"sort"
	"time"
)

// DefaultWeakestLimit 进度摘要里列出的最弱题目数量。
const DefaultWeakestLimit = 10

// Attempt 一次作答。
type Attempt struct {
	QuestionID string
	Section    string
	Correct    bool
	At         time.Time
}

// Entry 单题累计。
type Entry struct {
	QuestionID   string    `json:"questionId"`
	Section      string    `json:"section"`
	TimesSeen    int       `json:"timesSeen"`
	TimesCorrect int       `json:"timesCorrect"`
	LastSeenAt   time.Time `json:"lastSeenAt"`
}

// Accuracy 答对比例；未见过返回 0。
func (e Entry) Accuracy() float64 {
	if e.TimesSeen == 0 {
		return 0
	}
	return float64(e.TimesCorrect) / float64(e.TimesSeen)
}

// Store 掌握度存储端口。
type Store interface {
	Record(ctx context.Context, a Attempt) error
	Entries(ctx context.Context) ([]Entry, error)
}

type SectionMastery struct {
	Section string  `json:"section"`
	Seen    int     `json:"seen"`
	Correct int     `json:"correct"`
	Mastery float64 `json:"mastery"`
}

// Summary GET /api/progress 的返回体。
type Summary struct {
	TotalSeen    int              `json:"totalSeen"`
	TotalCorrect int              `json:"totalCorrect"`
	Sections     []SectionMastery `json:"sections"`
	Weakest      []string         `json:"weakest"`
}

// Summarize 按章节汇总，并挑出答错过的题里正确率最低的 limit 道。
// 正确率相同时见得多的排前面，再按 id 排。
func Summarize(entries []Entry, limit int) Summary {
	if limit <= 0 {
		limit = DefaultWeakestLimit
	}
	out := Summary{Sections: []SectionMastery{}, Weakest: []string{}}
	bySection := map[string]*SectionMastery{}
	var missed []Entry
	for _, e := range entries {
		out.TotalSeen += e.TimesSeen
		out.TotalCorrect += e.TimesCorrect
		sm, ok := bySection[e.Section]
		if !ok {
			sm = &SectionMastery{Section: e.Section}
			bySection[e.Section] = sm
		}
		sm.Seen += e.TimesSeen
		sm.Correct += e.TimesCorrect
		if e.TimesCorrect < e.TimesSeen {
			missed = append(missed, e)
		}
	}

	for _, sm := range bySection {
		if sm.Seen > 0 {
			sm.Mastery = float64(sm.Correct) / float64(sm.Seen)
		}
		out.Sections = append(out.Sections, *sm)
	}
	sort.Slice(out.Sections, func(i, j int) bool { return out.Sections[i].Section < out.Sections[j].Section })

	sort.Slice(missed, func(i, j int) bool {
		ai, aj := missed[i].Accuracy(), missed[j].Accuracy()
		if ai != aj {
			return ai < aj
		}
		if missed[i].TimesSeen != missed[j].TimesSeen {
			return missed[i].TimesSeen > missed[j].TimesSeen
		}
		return missed[i].QuestionID < missed[j].QuestionID
	})
	for i := 0; i < len(missed) && i < limit; i++ {
		out.Weakest = append(out.Weakest, missed[i].QuestionID)
	}
	return out
}
