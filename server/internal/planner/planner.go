// Package planner 规划一次 hop 的完整序列：各阶段题量、天气偏好选题、
// 无线电穿插、紧急事件与进阶题的预留和放置。
//
// 规划是纯计算：题库只通过 Catalog 同步读取，随机性只来自注入的 rng.Source，
// 同一种子 + 同一题库快照得到同一份序列。
package planner

import (
	"strconv"
	"strings"

	"skytrail/server/internal/domain"
	"skytrail/server/internal/model"
	"skytrail/server/internal/rng"
	"skytrail/server/internal/weather"
)

// Catalog 规划器需要的题库读接口。
type Catalog interface {
	QuestionsByPhase(phase model.Phase) []model.QuestionRecord
	QuestionsByIDs(ids []string) []model.QuestionRecord
}

// Params 规划的概率与预算参数。
type Params struct {
	BonusChance       float64
	MaxEmergencyCards int
	MidRadioChance    float64
	EmergencyBaseRate float64
	EmergencyRiskStep float64
}

// DefaultParams 线上使用的参数。
func DefaultParams() Params {
	return Params{
		BonusChance:       0.5,
		MaxEmergencyCards: 2,
		MidRadioChance:    0.4,
		EmergencyBaseRate: 0.08,
		EmergencyRiskStep: 0.02,
	}
}

// distribute 轮转分配的迭代上限，保证边界不一致时也能结束。
const distributeIterationCap = 100

// 分配剩余题量的优先顺序。
var distributeOrder = []model.Phase{
	model.PhaseEnroute,
	model.PhaseTaxiDepart,
	model.PhaseArrival,
	model.PhasePreflight,
}

// Input 一次规划的输入。
type Input struct {
	Mission  model.MissionProfile
	Aircraft model.AircraftType
	Signals  []weather.Signal
	Brief    model.FlightBrief
}

// EmergencyPlan 选中的紧急事件及其题卡。
type EmergencyPlan struct {
	EventID string      `json:"eventId"`
	Phase   model.Phase `json:"phase"`
	CardIDs []string    `json:"cardIds"`
}

// Plan 规划结果。
type Plan struct {
	Sequence  model.Sequence
	Target    int
	Counts    map[model.Phase]int
	Emergency *EmergencyPlan
	BonusID   string
}

// Planner 持有静态数据表，本身无状态，可并发使用。
type Planner struct {
	lib    *domain.Library
	bias   weather.BiasTable
	params Params
}

func New(lib *domain.Library, params Params) *Planner {
	return &Planner{lib: lib, bias: weather.BiasTable(lib.WeatherBias), params: params}
}

// candidate 紧急事件题池里的一张卡：题库题或静态进阶题。
type candidate struct {
	record model.QuestionRecord
	static bool
}

type trigger struct {
	phase model.Phase
	event model.EmergencyEvent
}

// Plan 生成序列。题库供给不足时按可用数量填充，不报错。
func (p *Planner) Plan(in Input, cat Catalog, r rng.Source) Plan {
	mission := in.Mission
	tokens := in.Brief.Tokens()
	target := rng.Between(r, mission.TotalMin, mission.TotalMax)

	// 1. 进阶题预留
	var bonus *model.BonusCard
	if rng.Chance(r, p.params.BonusChance) {
		if b, ok := rng.Pick(r, p.lib.Bonus); ok {
			bonus = &b
		}
	}

	// 2. 紧急事件：逐阶段掷骰，命中的阶段里随机选一个
	chosen, hasEmergency := p.rollEmergency(mission, in.Aircraft, in.Signals, r)
	var candidates []candidate
	if hasEmergency {
		candidates = p.emergencyCandidates(chosen.event, cat, r)
	}

	// 3. 预算不足时先释放紧急题位，再释放进阶题位
	emergencyBudget := min(p.params.MaxEmergencyCards, len(candidates))
	floor := mission.BaseFloor()
	for target-(reserved(bonus)+emergencyBudget) < floor {
		if emergencyBudget > 0 {
			emergencyBudget--
		} else if bonus != nil {
			bonus = nil
		} else {
			break
		}
	}

	optional := map[string]bool{}
	if bonus != nil {
		optional[bonus.ID] = true
	}
	var emergencyCards []candidate
	for _, c := range candidates {
		if len(emergencyCards) >= emergencyBudget {
			break
		}
		if optional[c.record.ID] {
			continue
		}
		emergencyCards = append(emergencyCards, c)
		optional[c.record.ID] = true
	}

	var emergency *EmergencyPlan
	if hasEmergency && len(emergencyCards) > 0 {
		emergency = &EmergencyPlan{EventID: chosen.event.ID, Phase: chosen.phase}
		for _, c := range emergencyCards {
			emergency.CardIDs = append(emergency.CardIDs, c.record.ID)
		}
	}

	// 4. 基础题量分配与任务再平衡
	base := target - reserved(bonus) - len(emergencyCards)
	counts := distribute(mission, base)
	rebalance(mission, counts)

	// 5. 逐阶段组装
	seq := model.Sequence{}
	used := map[string]bool{}
	for _, phase := range model.Phases {
		seq = p.appendRadio(seq, phase, tokens, r, "")

		pool := append([]model.QuestionRecord(nil), cat.QuestionsByPhase(phase)...)
		rng.Shuffle(r, pool)
		ordered := preferredFirst(pool, p.bias.PreferredIDs(phase, in.Signals))

		var selected []model.QuestionRecord
		for _, q := range ordered {
			if len(selected) >= counts[phase] {
				break
			}
			if optional[q.ID] || used[q.ID] {
				continue
			}
			selected = append(selected, q)
			used[q.ID] = true
		}

		for i, q := range selected {
			seq = append(seq, p.questionItem(q, phase, tokens, nil, false))
			if i < len(selected)-1 && rng.Chance(r, p.params.MidRadioChance) {
				seq = p.appendRadio(seq, phase, tokens, r, "-mid-")
			}
		}

		if emergency != nil && phase == emergency.Phase {
			seq = p.appendEmergency(seq, chosen.event, phase, emergencyCards, used, tokens)
		}

		if bonus != nil && phase == bonus.HomePhase() {
			if !used[bonus.ID] {
				seq = append(seq, p.questionItem(bonus.QuestionRecord, phase, tokens, nil, true))
				used[bonus.ID] = true
			}
		}
	}

	plan := Plan{Sequence: seq, Target: target, Counts: counts, Emergency: emergency}
	if bonus != nil {
		plan.BonusID = bonus.ID
	}
	return plan
}

func reserved(bonus *model.BonusCard) int {
	if bonus != nil {
		return 1
	}
	return 0
}

// rollEmergency 概率 = 基础概率 + 步长 × min(天气信号数 + 机型风险, MaxRisk)。
func (p *Planner) rollEmergency(mission model.MissionProfile, aircraft model.AircraftType, signals []weather.Signal, r rng.Source) (trigger, bool) {
	score := min(weather.RiskCount(signals)+aircraft.Risk, model.MaxRisk)
	prob := p.params.EmergencyBaseRate + p.params.EmergencyRiskStep*float64(score)
	attempts := max(1, mission.EmergencyAttempts)

	var hits []trigger
	for _, phase := range model.Phases {
		for a := 0; a < attempts; a++ {
			if !rng.Chance(r, prob) {
				continue
			}
			var eligible []model.EmergencyEvent
			for _, e := range p.lib.Emergencies {
				if e.EligibleIn(phase) {
					eligible = append(eligible, e)
				}
			}
			if e, ok := rng.Pick(r, eligible); ok {
				hits = append(hits, trigger{phase: phase, event: e})
			}
			break
		}
	}
	return rng.Pick(r, hits)
}

func (p *Planner) emergencyCandidates(event model.EmergencyEvent, cat Catalog, r rng.Source) []candidate {
	var out []candidate
	for _, q := range cat.QuestionsByIDs(event.QuestionPool) {
		out = append(out, candidate{record: q})
	}
	for _, id := range event.BonusPool {
		if b, ok := p.lib.BonusCard(id); ok {
			out = append(out, candidate{record: b.QuestionRecord, static: true})
		}
	}
	rng.Shuffle(r, out)
	return out
}

// distribute 从各阶段下限开始，按优先顺序轮转加一，直到达到目标或全部饱和。
func distribute(mission model.MissionProfile, base int) map[model.Phase]int {
	counts := make(map[model.Phase]int, len(model.Phases))
	total := 0
	for _, phase := range model.Phases {
		counts[phase] = mission.Bounds[phase].Min
		total += counts[phase]
	}
	for i := 0; total < base && i < distributeIterationCap; i++ {
		phase := distributeOrder[i%len(distributeOrder)]
		if counts[phase] < mission.Bounds[phase].Max {
			counts[phase]++
			total++
		}
	}
	return counts
}

// rebalance 每次把一个题位从有余量的 reduce 阶段移到未满的 boost 阶段。
func rebalance(mission model.MissionProfile, counts map[model.Phase]int) {
	for s := 0; s < mission.Shifts; s++ {
		to, okTo := firstPhase(mission.Boost, func(p model.Phase) bool { return counts[p] < mission.Bounds[p].Max })
		from, okFrom := firstPhase(mission.Reduce, func(p model.Phase) bool { return counts[p] > mission.Bounds[p].Min })
		if !okTo || !okFrom || to == from {
			return
		}
		counts[from]--
		counts[to]++
	}
}

func firstPhase(phases []model.Phase, ok func(model.Phase) bool) (model.Phase, bool) {
	for _, p := range phases {
		if ok(p) {
			return p, true
		}
	}
	return "", false
}

// preferredFirst 稳定分区：偏好题在前，其余在后，各自保持原顺序。
func preferredFirst(pool []model.QuestionRecord, preferred []string) []model.QuestionRecord {
	if len(preferred) == 0 {
		return pool
	}
	want := make(map[string]bool, len(preferred))
	for _, id := range preferred {
		want[id] = true
	}
	out := make([]model.QuestionRecord, 0, len(pool))
	for _, q := range pool {
		if want[q.ID] {
			out = append(out, q)
		}
	}
	for _, q := range pool {
		if !want[q.ID] {
			out = append(out, q)
		}
	}
	return out
}

// appendRadio 追加一段该阶段的无线电。suffix 非空时生成 mid 编号。
func (p *Planner) appendRadio(seq model.Sequence, phase model.Phase, tokens map[string]string, r rng.Source, suffix string) model.Sequence {
	tmpl, ok := rng.Pick(r, p.lib.RadioFor(phase))
	if !ok {
		return seq
	}
	id := tmpl.ID
	if suffix != "" {
		id = tmpl.ID + suffix + strconv.Itoa(len(seq))
	}
	return append(seq, model.RadioItem{
		ID:      id,
		Phase:   phase,
		Context: domain.Substitute(tmpl.Context, tokens),
		Lines:   substituteLines(tmpl.Lines, tokens),
	})
}

// appendEmergency 固定顺序：公告、事件无线电（有台词时）、紧急题卡、收尾叙事。
func (p *Planner) appendEmergency(seq model.Sequence, event model.EmergencyEvent, phase model.Phase, cards []candidate, used map[string]bool, tokens map[string]string) model.Sequence {
	var lines []model.RadioLine
	if len(event.RadioLines) > 0 {
		lines = substituteLines(event.RadioLines, tokens)
	}
	seq = append(seq, model.EmergencyItem{
		ID:            event.ID,
		Phase:         phase,
		Name:          event.Name,
		Announcement:  domain.Substitute(event.Announcement, tokens),
		PanelLabel:    event.PanelLabel,
		PanelSub:      event.PanelSub,
		TimerPenalty:  event.TimerPenalty,
		ImmediateRisk: event.ImmediateRisk,
		Resolution:    domain.Substitute(event.Resolution, tokens),
		RadioLines:    lines,
	})
	if len(lines) > 0 {
		seq = append(seq, model.RadioItem{
			ID:      "emergency-radio-" + event.ID,
			Phase:   phase,
			Context: "Emergency communications - " + event.Name,
			Lines:   append([]model.RadioLine(nil), lines...),
		})
	}
	for _, c := range cards {
		if used[c.record.ID] {
			continue
		}
		seq = append(seq, p.questionItem(c.record, phase, tokens, &event, c.static))
		used[c.record.ID] = true
	}
	return append(seq, model.RadioItem{
		ID:      "emergency-resolve-" + event.ID,
		Phase:   phase,
		Context: domain.Substitute(event.Resolution, tokens),
		Lines:   []model.RadioLine{},
	})
}

// questionItem 把题库记录解析成题卡：套用场景覆盖、替换 token、紧急题加权。
func (p *Planner) questionItem(q model.QuestionRecord, phase model.Phase, tokens map[string]string, emergency *model.EmergencyEvent, static bool) model.QuestionItem {
	item := model.QuestionItem{
		ID:            q.ID,
		Phase:         phase,
		Stem:          q.Stem,
		Options:       append([]string(nil), q.Options...),
		CorrectOption: q.CorrectOption,
		RiskPoints:    riskPoints(q.RiskPoints, emergency != nil),
		IsCritical:    q.IsCritical,
		Explanation:   q.Explanation,
		SectionName:   q.SectionName,
		FlightContext: domain.Substitute(q.FlightContext, tokens),
		IsBonus:       static,
	}

	if static {
		item.Stem = domain.Substitute(q.Stem, tokens)
		item.Options = domain.SubstituteAll(q.Options, tokens)
		item.HasScenario = true
	}
	if overlay, ok := p.lib.Scenarios[q.ID]; ok {
		item.Stem = domain.Substitute(overlay.Stem, tokens)
		if len(overlay.Options) == len(q.Options) {
			item.Options = domain.SubstituteAll(overlay.Options, tokens)
		} else {
			item.Options = domain.SubstituteAll(q.Options, tokens)
		}
		item.HasScenario = true
	}

	if emergency != nil {
		item.IsEmergency = true
		item.EmergencyID = emergency.ID
		item.FlightContext = "[" + strings.ToUpper(emergency.Name) + "] " + item.FlightContext
	}
	return item
}

// riskPoints 至少 1；紧急题 +1；不超过 MaxRisk。
func riskPoints(value int, boost bool) int {
	rp := max(1, value)
	if boost {
		rp++
	}
	return min(rp, model.MaxRisk)
}

func substituteLines(lines []model.RadioLine, tokens map[string]string) []model.RadioLine {
	out := make([]model.RadioLine, len(lines))
	for i, l := range lines {
		out[i] = model.RadioLine{Speaker: l.Speaker, Text: domain.Substitute(l.Text, tokens)}
	}
	return out
}
