// Package engine 是 hop 会话的风险/bust 状态机。
//
// 所有函数都是纯函数：输入序列与当前状态，返回新状态，不做 I/O、不睡眠、不读时钟。
// 会话时钟与 SVFR 卡片倒计时由外部周期性调用 Tick 驱动。
package engine

import (
	"errors"
	"slices"
	"strings"

	"skytrail/server/internal/model"
)

const (
	DefaultClockSeconds = 600
	DefaultCardSeconds  = 10
	// EmergencyClockFloor 紧急事件扣时后至少保留的秒数。
	EmergencyClockFloor = 60
	// HighRiskThreshold 风险达到该值且答错时使用高风险过场文本。
	HighRiskThreshold = 2
)

var (
	ErrTerminal        = errors.New("session is terminal")
	ErrPaused          = errors.New("session is paused")
	ErrNotAQuestion    = errors.New("current item is not a question")
	ErrNotAcknowledged = errors.New("current item is a question and must be answered")
	ErrBadOption       = errors.New("selected option out of range")
)

// ApplyAnswer 风险规则：
//   - 答对：风险不变，不 bust。
//   - 答错且为关键题：风险直接到 MaxRisk 并 bust。
//   - 答错非关键题：风险 +1（riskWeight 只用于展示），封顶 MaxRisk，到顶即 bust。
func ApplyAnswer(current model.SessionState, isCorrect, isCritical bool, riskWeight int) model.AnswerOutcome {
	if isCorrect {
		return model.AnswerOutcome{NewRisk: current.Risk, Busted: false}
	}
	if isCritical {
		return model.AnswerOutcome{NewRisk: model.MaxRisk, Busted: true}
	}
	newRisk := min(current.Risk+1, model.MaxRisk)
	return model.AnswerOutcome{NewRisk: newRisk, Busted: newRisk >= model.MaxRisk}
}

// Options 新会话参数。
type Options struct {
	ClockSeconds int
	CardSeconds  int
	SVFR         bool
	// StartRisk 来自外部 go/no-go 决策，钳制到 0..MaxRisk。
	StartRisk int
}

// NewState 初始化会话状态，序列为空时直接进入 debrief。
func NewState(sessionID string, seq model.Sequence, opts Options) model.SessionState {
	clock := opts.ClockSeconds
	if clock <= 0 {
		clock = DefaultClockSeconds
	}
	card := opts.CardSeconds
	if card <= 0 {
		card = DefaultCardSeconds
	}
	st := model.SessionState{
		SessionID:      sessionID,
		Risk:           min(max(opts.StartRisk, 0), model.MaxRisk),
		Responses:      []model.Response{},
		Status:         model.StatusActive,
		ClockRemaining: clock,
		SVFR:           opts.SVFR,
		CardSeconds:    card,
	}
	if len(seq) == 0 {
		st.Status = model.StatusDebrief
		return st
	}
	armCard(seq, &st)
	return st
}

// Result 一步推进的结果。
type Result struct {
	State    model.SessionState
	Outcome  *model.AnswerOutcome
	Response *model.Response
	// PhaseEnded 当前阶段在这一步结束（下一项属于新阶段，或序列结束）。
	PhaseEnded bool
	FromPhase  model.Phase
}

// Answer 对当前题卡作答。
func Answer(seq model.Sequence, st model.SessionState, selected int) (Result, error) {
	if err := checkPlayable(st); err != nil {
		return Result{State: st}, err
	}
	q, ok := seq.At(st.Index).(model.QuestionItem)
	if !ok {
		return Result{State: st}, ErrNotAQuestion
	}
	if selected < 1 || selected > len(q.Options) {
		return Result{State: st}, ErrBadOption
	}
	return answer(seq, clone(st), q, selected, false), nil
}

func answer(seq model.Sequence, st model.SessionState, q model.QuestionItem, selected int, timedOut bool) Result {
	isCorrect := selected == q.CorrectOption
	outcome := ApplyAnswer(st, isCorrect, q.IsCritical, q.RiskPoints)
	resp := model.Response{
		QuestionID:     q.ID,
		SelectedOption: selected,
		IsCorrect:      isCorrect,
		RiskBefore:     st.Risk,
		RiskAfter:      outcome.NewRisk,
		WasBust:        outcome.Busted,
		Phase:          q.Phase,
		TimedOut:       timedOut,
		IsEmergency:    q.IsEmergency,
	}
	st.Risk = outcome.NewRisk
	st.Responses = append(st.Responses, resp)

	res := Result{Outcome: &outcome, Response: &resp, FromPhase: q.Phase}
	if outcome.Busted {
		st.Status = model.StatusBust
		st.CardRemaining = 0
		if q.IsCritical && !isCorrect {
			st.BustReason = model.BustCritical
		} else {
			st.BustReason = model.BustRisk
		}
		res.State = st
		return res
	}
	res.PhaseEnded = advance(seq, &st)
	res.State = st
	return res
}

// Acknowledge 确认当前的无线电或紧急事件并前进一项。
// 紧急事件的扣时与加风险每个事件只生效一次。
func Acknowledge(seq model.Sequence, st model.SessionState) (Result, error) {
	if err := checkPlayable(st); err != nil {
		return Result{State: st}, err
	}
	item := seq.At(st.Index)
	st = clone(st)
	res := Result{}
	switch v := item.(type) {
	case model.QuestionItem:
		return Result{State: st}, ErrNotAcknowledged
	case model.EmergencyItem:
		applyEmergency(&st, v)
		res.FromPhase = v.Phase
	case model.RadioItem:
		if len(v.Lines) == 0 || strings.HasPrefix(v.ID, "emergency-resolve-") {
			st.ActiveEmergency = ""
		}
		res.FromPhase = v.Phase
	default:
		return Result{State: st}, ErrTerminal
	}
	res.PhaseEnded = advance(seq, &st)
	res.State = st
	return res, nil
}

func applyEmergency(st *model.SessionState, e model.EmergencyItem) {
	for _, id := range st.AcknowledgedEmergencies {
		if id == e.ID {
			return
		}
	}
	st.ClockRemaining = PenalizeClock(st.ClockRemaining, e.TimerPenalty)
	st.Risk = min(st.Risk+max(e.ImmediateRisk, 0), model.MaxRisk)
	st.AcknowledgedEmergencies = append(st.AcknowledgedEmergencies, e.ID)
	st.ActiveEmergency = e.ID
}

// PenalizeClock 扣时后不低于 EmergencyClockFloor；已低于该值时不再扣。
func PenalizeClock(remaining, penalty int) int {
	if penalty <= 0 || remaining <= EmergencyClockFloor {
		return remaining
	}
	return max(remaining-penalty, EmergencyClockFloor)
}

// Tick 推进会话时钟 seconds 秒。
// 时钟到 0 强制进入 debrief；SVFR 卡片倒计时到 0 时以必错选项作答。
func Tick(seq model.Sequence, st model.SessionState, seconds int) Result {
	if seconds <= 0 || st.Terminal() || st.Status == model.StatusPaused {
		return Result{State: st}
	}
	st = clone(st)
	st.ClockRemaining -= seconds
	if st.ClockRemaining <= 0 {
		st.ClockRemaining = 0
		st.CardRemaining = 0
		st.Status = model.StatusDebrief
		return Result{State: st}
	}

	if !st.SVFR || st.CardRemaining <= 0 {
		return Result{State: st}
	}
	q, ok := seq.At(st.Index).(model.QuestionItem)
	if !ok {
		st.CardRemaining = 0
		return Result{State: st}
	}
	st.CardRemaining -= seconds
	if st.CardRemaining > 0 {
		return Result{State: st}
	}
	st.CardRemaining = 0
	return answer(seq, st, q, WrongOption(q), true)
}

// WrongOption 一个必然不等于正确答案的选项。
func WrongOption(q model.QuestionItem) int {
	if q.CorrectOption == 1 {
		return 2
	}
	return 1
}

// Pause 暂停后时钟与卡片倒计时都停止。
func Pause(st model.SessionState) (model.SessionState, error) {
	if st.Terminal() {
		return st, ErrTerminal
	}
	st = clone(st)
	st.Status = model.StatusPaused
	return st, nil
}

func Resume(st model.SessionState) (model.SessionState, error) {
	if st.Terminal() {
		return st, ErrTerminal
	}
	st = clone(st)
	st.Status = model.StatusActive
	return st, nil
}

func checkPlayable(st model.SessionState) error {
	if st.Terminal() {
		return ErrTerminal
	}
	if st.Status == model.StatusPaused {
		return ErrPaused
	}
	return nil
}

// advance 前进一项；返回当前阶段是否就此结束。
func advance(seq model.Sequence, st *model.SessionState) bool {
	from := seq.At(st.Index)
	st.Index++
	next := seq.At(st.Index)
	if next == nil {
		st.Status = model.StatusDebrief
		st.CardRemaining = 0
		return true
	}
	armCard(seq, st)
	return from != nil && from.ItemPhase() != next.ItemPhase()
}

func armCard(seq model.Sequence, st *model.SessionState) {
	st.CardRemaining = 0
	if !st.SVFR {
		return
	}
	if _, ok := seq.At(st.Index).(model.QuestionItem); ok {
		st.CardRemaining = st.CardSeconds
	}
}

// clone 复制切片字段，保证调用方持有的旧状态不被修改。
func clone(st model.SessionState) model.SessionState {
	st.Responses = slices.Clone(st.Responses)
	st.AcknowledgedEmergencies = slices.Clone(st.AcknowledgedEmergencies)
	return st
}
