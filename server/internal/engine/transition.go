package engine

import (
	"skytrail/server/internal/model"
	"skytrail/server/internal/rng"
)

// Selector 卡片之间的过场文本选择。
type Selector struct {
	sets map[model.Phase]model.TransitionSet
}

func NewSelector(sets map[model.Phase]model.TransitionSet) Selector {
	return Selector{sets: sets}
}

// Pick 风险 >= HighRiskThreshold 且答错时取高风险文本，否则按对错取。
func (s Selector) Pick(phase model.Phase, wasCorrect bool, risk int, r rng.Source) string {
	set := s.sets[phase]
	pool := set.Wrong
	switch {
	case !wasCorrect && risk >= HighRiskThreshold:
		pool = set.HighRisk
	case wasCorrect:
		pool = set.Correct
	}
	text, _ := rng.Pick(r, pool)
	return text
}

// Bridge 离开某阶段时的衔接文本。
func (s Selector) Bridge(from model.Phase) string {
	return s.sets[from].Bridge
}

// Narrate 根据一步推进的结果选出过场与阶段衔接文本。bust 时不出过场。
func (s Selector) Narrate(res Result, r rng.Source) (transition, bridge string) {
	if res.State.Status == model.StatusBust {
		return "", ""
	}
	if res.Response != nil {
		transition = s.Pick(res.Response.Phase, res.Response.IsCorrect, res.Response.RiskAfter, r)
	}
	if res.PhaseEnded && res.FromPhase != "" {
		bridge = s.Bridge(res.FromPhase)
	}
	return transition, bridge
}
