package engine

import (
	"errors"
	"testing"

	"skytrail/server/internal/model"
	"skytrail/server/internal/rng"
)

func question(id string, phase model.Phase, correct int, critical bool) model.QuestionItem {
	return model.QuestionItem{
		ID:            id,
		Phase:         phase,
		Stem:          "stem " + id,
		Options:       []string{"a", "b", "c", "d"},
		CorrectOption: correct,
		RiskPoints:    2,
		IsCritical:    critical,
	}
}

func radio(id string, phase model.Phase) model.RadioItem {
	return model.RadioItem{ID: id, Phase: phase, Lines: []model.RadioLine{{Speaker: "atc", Text: "hello"}}}
}

// TestApplyAnswerRules 验证答题风险规则。
func TestApplyAnswerRules(t *testing.T) {
	cases := []struct {
		name     string
		risk     int
		correct  bool
		critical bool
		weight   int
		want     model.AnswerOutcome
	}{
		{"correct keeps risk", 2, true, false, 3, model.AnswerOutcome{NewRisk: 2}},
		{"correct critical keeps risk", 1, true, true, 3, model.AnswerOutcome{NewRisk: 1}},
		{"wrong adds exactly one", 0, false, false, 3, model.AnswerOutcome{NewRisk: 1}},
		{"wrong at two busts", 2, false, false, 1, model.AnswerOutcome{NewRisk: 3, Busted: true}},
		{"wrong at max stays clamped", 3, false, false, 1, model.AnswerOutcome{NewRisk: 3, Busted: true}},
		{"critical from zero busts", 0, false, true, 1, model.AnswerOutcome{NewRisk: 3, Busted: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ApplyAnswer(model.SessionState{Risk: tc.risk}, tc.correct, tc.critical, tc.weight)
			if got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

// TestThreeWrongAnswersBustOnThird 验证连续三次非关键错误的风险轨迹为 [1,2,3]，只在第三次 bust。
func TestThreeWrongAnswersBustOnThird(t *testing.T) {
	seq := model.Sequence{
		question("1.01", model.PhasePreflight, 1, false),
		question("1.02", model.PhasePreflight, 1, false),
		question("1.03", model.PhasePreflight, 1, false),
		question("1.04", model.PhasePreflight, 1, false),
	}
	st := NewState("s1", seq, Options{})

	var trace []int
	for i := 0; i < 3; i++ {
		res, err := Answer(seq, st, 2)
		if err != nil {
			t.Fatalf("answer %d: %v", i, err)
		}
		trace = append(trace, res.Outcome.NewRisk)
		if res.Outcome.Busted != (i == 2) {
			t.Fatalf("answer %d: busted=%v", i, res.Outcome.Busted)
		}
		st = res.State
	}
	if trace[0] != 1 || trace[1] != 2 || trace[2] != 3 {
		t.Fatalf("unexpected risk trace %v", trace)
	}
	if st.Status != model.StatusBust || st.BustReason != model.BustRisk {
		t.Fatalf("expected risk bust, got %s/%s", st.Status, st.BustReason)
	}
	if _, err := Answer(seq, st, 1); !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected ErrTerminal after bust, got %v", err)
	}
}

// TestTwoWrongThenCorrectDoesNotBust 验证两错一对不会 bust，且风险不回落。
func TestTwoWrongThenCorrectDoesNotBust(t *testing.T) {
	seq := model.Sequence{
		question("1.01", model.PhasePreflight, 1, false),
		question("1.02", model.PhasePreflight, 1, false),
		question("1.03", model.PhasePreflight, 1, false),
	}
	st := NewState("s1", seq, Options{})
	for _, opt := range []int{2, 2, 1} {
		res, err := Answer(seq, st, opt)
		if err != nil {
			t.Fatalf("answer: %v", err)
		}
		if res.Outcome.NewRisk < st.Risk {
			t.Fatalf("risk decreased from %d to %d", st.Risk, res.Outcome.NewRisk)
		}
		st = res.State
	}
	if st.Risk != 2 || st.Status != model.StatusDebrief {
		t.Fatalf("expected risk 2 and debrief, got %d/%s", st.Risk, st.Status)
	}
}

// TestCriticalWrongSnapsToMax 验证关键题答错无论之前风险多少都直接 bust。
func TestCriticalWrongSnapsToMax(t *testing.T) {
	seq := model.Sequence{question("8.01", model.PhaseEnroute, 3, true), question("8.02", model.PhaseEnroute, 1, false)}
	st := NewState("s1", seq, Options{})
	res, err := Answer(seq, st, 1)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if !res.Outcome.Busted || res.Outcome.NewRisk != model.MaxRisk {
		t.Fatalf("expected critical bust, got %+v", res.Outcome)
	}
	if res.State.BustReason != model.BustCritical || !res.Response.WasBust {
		t.Fatalf("expected critical bust reason, got %+v", res.State)
	}
	if st.Responses == nil || len(st.Responses) != 0 {
		t.Fatalf("input state must not be mutated")
	}
}

// TestAnswerRejectsNonQuestion 验证对无线电项作答被拒绝，无线电需要确认。
func TestAnswerRejectsNonQuestion(t *testing.T) {
	seq := model.Sequence{radio("rx-1", model.PhasePreflight), question("1.01", model.PhasePreflight, 1, false)}
	st := NewState("s1", seq, Options{})
	if _, err := Answer(seq, st, 1); !errors.Is(err, ErrNotAQuestion) {
		t.Fatalf("expected ErrNotAQuestion, got %v", err)
	}
	res, err := Acknowledge(seq, st)
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if res.State.Index != 1 {
		t.Fatalf("expected index 1, got %d", res.State.Index)
	}
	if _, err := Acknowledge(seq, res.State); !errors.Is(err, ErrNotAcknowledged) {
		t.Fatalf("expected ErrNotAcknowledged, got %v", err)
	}
	if _, err := Answer(seq, res.State, 5); !errors.Is(err, ErrBadOption) {
		t.Fatalf("expected ErrBadOption, got %v", err)
	}
}

// TestClockOutForcesDebrief 验证时钟到 0 时无论剩余题目都强制 debrief。
func TestClockOutForcesDebrief(t *testing.T) {
	seq := model.Sequence{question("1.01", model.PhasePreflight, 1, false), question("1.02", model.PhasePreflight, 1, false)}
	st := NewState("s1", seq, Options{ClockSeconds: 3})

	st = Tick(seq, st, 1).State
	st = Tick(seq, st, 1).State
	if st.ClockRemaining != 1 || st.Status != model.StatusActive {
		t.Fatalf("expected 1s left and active, got %d/%s", st.ClockRemaining, st.Status)
	}
	st = Tick(seq, st, 1).State
	if st.ClockRemaining != 0 || st.Status != model.StatusDebrief {
		t.Fatalf("expected clock-out debrief, got %d/%s", st.ClockRemaining, st.Status)
	}
	if st.Index != 0 {
		t.Fatalf("clock-out must not advance the sequence")
	}
	// 终态后 tick 不再改变状态。
	if after := Tick(seq, st, 5).State; after.ClockRemaining != 0 {
		t.Fatalf("expected terminal tick to be a no-op")
	}
}

// TestPauseStopsClock 验证暂停期间 tick 不扣时、不能作答。
func TestPauseStopsClock(t *testing.T) {
	seq := model.Sequence{question("1.01", model.PhasePreflight, 1, false)}
	st := NewState("s1", seq, Options{})
	paused, err := Pause(st)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if got := Tick(seq, paused, 10).State.ClockRemaining; got != DefaultClockSeconds {
		t.Fatalf("expected clock frozen at %d, got %d", DefaultClockSeconds, got)
	}
	if _, err := Answer(seq, paused, 1); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	resumed, err := Resume(paused)
	if err != nil || resumed.Status != model.StatusActive {
		t.Fatalf("resume: %v %s", err, resumed.Status)
	}
}

// TestEmergencyAcknowledgeAppliesOnce 验证紧急事件扣时不低于 60 秒、加风险封顶，且只生效一次。
func TestEmergencyAcknowledgeAppliesOnce(t *testing.T) {
	em := model.EmergencyItem{ID: "engine-rough", Phase: model.PhaseEnroute, TimerPenalty: 120, ImmediateRisk: 2}
	seq := model.Sequence{em, question("3.18", model.PhaseEnroute, 1, true)}

	st := NewState("s1", seq, Options{ClockSeconds: 150, StartRisk: 2})
	res, err := Acknowledge(seq, st)
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	got := res.State
	if got.ClockRemaining != EmergencyClockFloor {
		t.Fatalf("expected clock floored at %d, got %d", EmergencyClockFloor, got.ClockRemaining)
	}
	if got.Risk != model.MaxRisk {
		t.Fatalf("expected risk clamped to %d, got %d", model.MaxRisk, got.Risk)
	}
	if got.Status != model.StatusActive || got.ActiveEmergency != "engine-rough" {
		t.Fatalf("emergency must not end the session, got %+v", got)
	}

	// 回到同一事件再次确认不会重复扣减。
	again := got
	again.Index = 0
	res2, err := Acknowledge(seq, again)
	if err != nil {
		t.Fatalf("second ack: %v", err)
	}
	if res2.State.ClockRemaining != got.ClockRemaining || len(res2.State.AcknowledgedEmergencies) != 1 {
		t.Fatalf("emergency effects applied twice: %+v", res2.State)
	}
}

// TestPenalizeClock 验证扣时规则。
func TestPenalizeClock(t *testing.T) {
	cases := []struct{ remaining, penalty, want int }{
		{600, 120, 480},
		{100, 120, 60},
		{60, 120, 60},
		{45, 120, 45},
		{300, 0, 300},
	}
	for _, tc := range cases {
		if got := PenalizeClock(tc.remaining, tc.penalty); got != tc.want {
			t.Fatalf("PenalizeClock(%d,%d)=%d, want %d", tc.remaining, tc.penalty, got, tc.want)
		}
	}
}

// TestSVFRCardExpiry 验证 SVFR 卡片倒计时到 0 时以错误选项作答，关键题直接 bust。
func TestSVFRCardExpiry(t *testing.T) {
	seq := model.Sequence{
		question("1.01", model.PhasePreflight, 1, false),
		radio("rx-1", model.PhasePreflight),
		question("8.01", model.PhaseTaxiDepart, 2, true),
	}
	st := NewState("s1", seq, Options{SVFR: true, CardSeconds: 10})
	if st.CardRemaining != 10 {
		t.Fatalf("expected card armed at 10, got %d", st.CardRemaining)
	}

	res := Tick(seq, st, 9)
	if res.Response != nil || res.State.CardRemaining != 1 {
		t.Fatalf("expected card still running, got %+v", res.State)
	}
	res = Tick(seq, res.State, 1)
	if res.Response == nil || !res.Response.TimedOut || res.Response.IsCorrect {
		t.Fatalf("expected timed-out wrong answer, got %+v", res.Response)
	}
	if res.Response.SelectedOption != 2 {
		t.Fatalf("expected synthetic option 2, got %d", res.Response.SelectedOption)
	}
	if res.State.Risk != 1 || res.State.Index != 1 || res.State.CardRemaining != 0 {
		t.Fatalf("unexpected state after expiry %+v", res.State)
	}

	// 无线电项不计时，确认后下一张关键题重新计时。
	ack, err := Acknowledge(seq, res.State)
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if !ack.PhaseEnded || ack.State.CardRemaining != 10 {
		t.Fatalf("expected phase change and re-armed card, got %+v", ack)
	}
	final := Tick(seq, ack.State, 10)
	if final.State.Status != model.StatusBust || final.State.BustReason != model.BustCritical {
		t.Fatalf("expected critical bust on expiry, got %+v", final.State)
	}
	if final.Response.SelectedOption != 1 {
		t.Fatalf("expected synthetic option 1 for correct=2, got %d", final.Response.SelectedOption)
	}
}

// TestNewStateClampsStartRisk 验证起始风险钳制与空序列直接 debrief。
func TestNewStateClampsStartRisk(t *testing.T) {
	seq := model.Sequence{question("1.01", model.PhasePreflight, 1, false)}
	if st := NewState("s", seq, Options{StartRisk: 7}); st.Risk != model.MaxRisk {
		t.Fatalf("expected clamp to %d, got %d", model.MaxRisk, st.Risk)
	}
	if st := NewState("s", seq, Options{StartRisk: -1}); st.Risk != 0 {
		t.Fatalf("expected clamp to 0, got %d", st.Risk)
	}
	if st := NewState("s", nil, Options{}); st.Status != model.StatusDebrief {
		t.Fatalf("expected empty sequence to start in debrief")
	}
}

// TestSelectorNarrate 验证过场文本池的选择与阶段衔接。
func TestSelectorNarrate(t *testing.T) {
	sel := NewSelector(map[model.Phase]model.TransitionSet{
		model.PhasePreflight: {
			Correct:  []string{"good"},
			Wrong:    []string{"wrong"},
			HighRisk: []string{"danger"},
			Bridge:   "engine start",
		},
	})
	r := rng.NewSequence(0)

	if got := sel.Pick(model.PhasePreflight, true, 2, r); got != "good" {
		t.Fatalf("expected correct pool, got %q", got)
	}
	if got := sel.Pick(model.PhasePreflight, false, 1, r); got != "wrong" {
		t.Fatalf("expected wrong pool, got %q", got)
	}
	if got := sel.Pick(model.PhasePreflight, false, 2, r); got != "danger" {
		t.Fatalf("expected high risk pool, got %q", got)
	}

	res := Result{
		State:      model.SessionState{Status: model.StatusActive},
		Response:   &model.Response{Phase: model.PhasePreflight, IsCorrect: true, RiskAfter: 0},
		PhaseEnded: true,
		FromPhase:  model.PhasePreflight,
	}
	transition, bridge := sel.Narrate(res, r)
	if transition != "good" || bridge != "engine start" {
		t.Fatalf("unexpected narration %q / %q", transition, bridge)
	}
	res.State.Status = model.StatusBust
	if tr, br := sel.Narrate(res, r); tr != "" || br != "" {
		t.Fatalf("expected no narration on bust")
	}
}
