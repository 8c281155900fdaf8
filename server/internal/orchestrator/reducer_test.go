package orchestrator

import (
	"testing"

	"skytrail/server/internal/engine"
	"skytrail/server/internal/model"
	"skytrail/server/internal/rng"
)

// TestReduceIsPure 验证 Reduce 不修改输入状态，且相同输入得到相同状态。
func TestReduceIsPure(t *testing.T) {
	seq := threeQuestions()
	st := engine.NewState("s1", seq, engine.Options{})
	sel := engine.NewSelector(nil)
	evt := model.Event{Type: model.EventAnswer, SelectedOption: 2}

	a, err := Reduce(seq, st, evt, sel, rng.NewSeeded(1))
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	b, err := Reduce(seq, st, evt, sel, rng.NewSeeded(2))
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if a.State.Risk != 1 || b.State.Risk != 1 || a.State.Index != b.State.Index {
		t.Fatalf("expected identical states, got %+v vs %+v", a.State, b.State)
	}
	if st.Index != 0 || len(st.Responses) != 0 {
		t.Fatalf("input state mutated: %+v", st)
	}
}

// TestReduceTickDefaultsToOneSecond 验证 tick 未带秒数时按 1 秒处理。
func TestReduceTickDefaultsToOneSecond(t *testing.T) {
	seq := threeQuestions()
	st := engine.NewState("s1", seq, engine.Options{ClockSeconds: 10})
	step, err := Reduce(seq, st, model.Event{Type: model.EventTick}, engine.NewSelector(nil), rng.NewSequence())
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if step.State.ClockRemaining != 9 {
		t.Fatalf("expected 9, got %d", step.State.ClockRemaining)
	}
}

// TestReducePhaseBridge 验证阶段结束时带上衔接文本。
func TestReducePhaseBridge(t *testing.T) {
	seq := threeQuestions()
	st := engine.NewState("s1", seq, engine.Options{})
	st.Index = 1
	sel := engine.NewSelector(map[model.Phase]model.TransitionSet{
		model.PhasePreflight: {Correct: []string{"nice"}, Bridge: "taxiing out"},
	})
	step, err := Reduce(seq, st, model.Event{Type: model.EventAnswer, ItemID: "1.02", SelectedOption: 1}, sel, rng.NewSequence())
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if step.Transition != "nice" || step.Bridge != "taxiing out" {
		t.Fatalf("unexpected narration %q / %q", step.Transition, step.Bridge)
	}
}
