package catalog

import (
	"sort"

	"skytrail/server/internal/model"
)

// Snapshot 题库的只读内存快照。规划器只通过它读题，不做任何 I/O。
type Snapshot struct {
	questions []model.QuestionRecord
	byID      map[string]model.QuestionRecord
}

// NewSnapshot 复制并按 id 排序，保证同一份数据得到同一顺序。
func NewSnapshot(questions []model.QuestionRecord) *Snapshot {
	qs := make([]model.QuestionRecord, len(questions))
	copy(qs, questions)
	sortByID(qs)
	byID := make(map[string]model.QuestionRecord, len(qs))
	for _, q := range qs {
		byID[q.ID] = q
	}
	return &Snapshot{questions: qs, byID: byID}
}

func (s *Snapshot) Len() int { return len(s.questions) }

// All 返回副本。
func (s *Snapshot) All() []model.QuestionRecord {
	out := make([]model.QuestionRecord, len(s.questions))
	copy(out, s.questions)
	return out
}

func (s *Snapshot) Get(id string) (model.QuestionRecord, bool) {
	q, ok := s.byID[id]
	return q, ok
}

func (s *Snapshot) QuestionsByPhase(phase model.Phase) []model.QuestionRecord {
	var out []model.QuestionRecord
	for _, q := range s.questions {
		if q.Phase == phase {
			out = append(out, q)
		}
	}
	return out
}

// QuestionsByIDs 按传入顺序返回存在的题目，未知 id 跳过。
func (s *Snapshot) QuestionsByIDs(ids []string) []model.QuestionRecord {
	out := make([]model.QuestionRecord, 0, len(ids))
	for _, id := range ids {
		if q, ok := s.byID[id]; ok {
			out = append(out, q)
		}
	}
	return out
}

// sortByID 原地按 id 数值排序。数据库按文本排序会把 "2.10" 排到 "2.9" 之前。
func sortByID(qs []model.QuestionRecord) {
	sort.SliceStable(qs, func(i, j int) bool { return lessID(qs[i].ID, qs[j].ID) })
}

// lessID 按 "章.号" 数值排序，"2.10" 排在 "2.9" 之后。
func lessID(a, b string) bool {
	as, an := splitID(a)
	bs, bn := splitID(b)
	if as != bs {
		return as < bs
	}
	if an != bn {
		return an < bn
	}
	return a < b
}

func splitID(id string) (int, int) {
	section, num, dot := 0, 0, false
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c == '.':
			dot = true
		case c >= '0' && c <= '9':
			if dot {
				num = num*10 + int(c-'0')
			} else {
				section = section*10 + int(c-'0')
			}
		default:
			return 1 << 30, 0
		}
	}
	return section, num
}
