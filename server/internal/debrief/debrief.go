// Package debrief 在 hop 结束（bust、时钟耗尽或序列走完）时落一条复盘记录。
package debrief

import (
	"context"
	"time"

	"skytrail/server/internal/model"
)

// Record 一次已结束 hop 的汇总。
type Record struct {
	SessionID    string           `json:"sessionId"`
	Mission      string           `json:"mission"`
	Aircraft     string           `json:"aircraft"`
	Status       string           `json:"status"`
	StartedAt    time.Time        `json:"startedAt"`
	EndedAt      time.Time        `json:"endedAt"`
	TotalCards   int              `json:"totalCards"`
	Answered     int              `json:"answered"`
	CorrectCount int              `json:"correctCount"`
	FinalRisk    int              `json:"finalRisk"`
	BustReason   string           `json:"bustReason,omitempty"`
	PhaseAtEnd   model.Phase      `json:"phaseAtEnd"`
	QuestionIDs  []string         `json:"questionIds"`
	Responses    []model.Response `json:"responses"`
}

// Recorder 复盘记录的写入端口。
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// FromSession 从终态会话生成记录。
func FromSession(sess *model.HopSession, endedAt time.Time) Record {
	st := sess.State
	rec := Record{
		SessionID:   st.SessionID,
		Mission:     sess.Hop.Mission,
		Aircraft:    sess.Hop.Aircraft,
		Status:      string(st.Status),
		StartedAt:   sess.Hop.CreatedAt,
		EndedAt:     endedAt,
		Answered:    len(st.Responses),
		FinalRisk:   st.Risk,
		BustReason:  st.BustReason,
		PhaseAtEnd:  phaseAtEnd(sess.Hop.Sequence, st.Index),
		QuestionIDs: sess.Hop.Sequence.QuestionIDs(),
		Responses:   st.Responses,
	}
	rec.TotalCards = len(rec.QuestionIDs)
	for _, r := range st.Responses {
		if r.IsCorrect {
			rec.CorrectCount++
		}
	}
	return rec
}

// phaseAtEnd 结束时所处的阶段；序列走完取最后一项的阶段。
func phaseAtEnd(seq model.Sequence, index int) model.Phase {
	if item := seq.At(index); item != nil {
		return item.ItemPhase()
	}
	if len(seq) == 0 {
		return ""
	}
	return seq[len(seq)-1].ItemPhase()
}

// Nop 不落库，未配置数据库或测试时使用。
type Nop struct{}

func (Nop) Record(context.Context, Record) error { return nil }
