package domain

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"skytrail/server/internal/model"

	"gopkg.in/yaml.v3"
)

//go:embed data/*.yaml
var dataFS embed.FS

// Library 静态数据表集合：无线电模板、紧急事件、进阶题、场景覆盖、过场文本、
// 机场与 METAR 模板、天气偏好表、任务参数与机型。加载后只读。
type Library struct {
	Radio       []model.RadioTemplate
	Emergencies []model.EmergencyEvent
	Bonus       []model.BonusCard
	Scenarios   map[string]model.ScenarioOverlay
	Transitions map[model.Phase]model.TransitionSet
	Airports    []model.Airport
	Metars      []model.MetarTemplate
	WeatherBias map[string]map[model.Phase][]string
	Missions    []model.MissionProfile
	Aircraft    []model.AircraftType
}

// Load 从内嵌数据加载静态表。
func Load() (*Library, error) {
	return LoadFS(dataFS, "data")
}

// LoadFS 从任意文件系统加载，dir 下需包含全部 yaml 表。
func LoadFS(fsys fs.FS, dir string) (*Library, error) {
	lib := &Library{}

	var radio struct {
		Radio []model.RadioTemplate `yaml:"radio"`
	}
	var emergencies struct {
		Emergencies []model.EmergencyEvent `yaml:"emergencies"`
	}
	var bonus struct {
		Bonus []model.BonusCard `yaml:"bonus"`
	}
	var scenarios struct {
		Scenarios []model.ScenarioOverlay `yaml:"scenarios"`
	}
	var transitions struct {
		Transitions map[model.Phase]model.TransitionSet `yaml:"transitions"`
	}
	var airports struct {
		Airports []model.Airport `yaml:"airports"`
	}
	var metars struct {
		Metars []model.MetarTemplate `yaml:"metars"`
	}
	var bias struct {
		WeatherBias map[string]map[model.Phase][]string `yaml:"weather_bias"`
	}
	var missions struct {
		Missions []model.MissionProfile `yaml:"missions"`
		Aircraft []model.AircraftType   `yaml:"aircraft"`
	}

	tables := []struct {
		file string
		out  interface{}
	}{
		{"radio.yaml", &radio},
		{"emergencies.yaml", &emergencies},
		{"bonus.yaml", &bonus},
		{"scenarios.yaml", &scenarios},
		{"transitions.yaml", &transitions},
		{"airports.yaml", &airports},
		{"metars.yaml", &metars},
		{"weather_bias.yaml", &bias},
		{"missions.yaml", &missions},
	}
	for _, t := range tables {
		data, err := fs.ReadFile(fsys, dir+"/"+t.file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", t.file, err)
		}
		if err := yaml.Unmarshal(data, t.out); err != nil {
			return nil, fmt.Errorf("parse %s: %w", t.file, err)
		}
	}

	lib.Radio = radio.Radio
	lib.Emergencies = emergencies.Emergencies
	lib.Bonus = bonus.Bonus
	lib.Transitions = transitions.Transitions
	lib.Airports = airports.Airports
	lib.Metars = metars.Metars
	lib.WeatherBias = bias.WeatherBias
	lib.Missions = missions.Missions
	lib.Aircraft = missions.Aircraft
	lib.Scenarios = make(map[string]model.ScenarioOverlay, len(scenarios.Scenarios))
	for _, s := range scenarios.Scenarios {
		lib.Scenarios[s.QuestionID] = s
	}

	if err := lib.Validate(); err != nil {
		return nil, err
	}
	return lib, nil
}

// Validate 检查静态表自身的结构完整性。跨表引用（题号是否存在）由 catalog.Validate 负责。
func (l *Library) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if len(l.Missions) == 0 {
		add("no mission profiles")
	}
	for _, m := range l.Missions {
		if m.TotalMin > m.TotalMax {
			add("mission %s: total_min > total_max", m.Name)
		}
		for _, p := range model.Phases {
			b, ok := m.Bounds[p]
			if !ok {
				add("mission %s: missing bounds for %s", m.Name, p)
				continue
			}
			if b.Min < 0 || b.Min > b.Max {
				add("mission %s: bad bounds for %s", m.Name, p)
			}
		}
		if m.BaseFloor() > m.TotalMin {
			add("mission %s: phase minimums exceed total_min", m.Name)
		}
	}
	if len(l.Aircraft) == 0 {
		add("no aircraft types")
	}

	radioIDs := map[string]bool{}
	for _, r := range l.Radio {
		if radioIDs[r.ID] {
			add("duplicate radio id %s", r.ID)
		}
		radioIDs[r.ID] = true
		if !r.Phase.Valid() {
			add("radio %s: bad phase %q", r.ID, r.Phase)
		}
	}
	for _, p := range model.Phases {
		if len(l.RadioFor(p)) == 0 {
			add("no radio templates for %s", p)
		}
		set, ok := l.Transitions[p]
		if !ok || len(set.Correct) == 0 || len(set.Wrong) == 0 || len(set.HighRisk) == 0 {
			add("incomplete transitions for %s", p)
		}
	}

	for _, e := range l.Emergencies {
		if len(e.Phases) == 0 {
			add("emergency %s: no trigger phases", e.ID)
		}
		for _, p := range e.Phases {
			if !p.Valid() {
				add("emergency %s: bad phase %q", e.ID, p)
			}
		}
		if e.TimerPenalty < 0 || e.ImmediateRisk < 0 {
			add("emergency %s: negative penalty", e.ID)
		}
	}

	for _, b := range l.Bonus {
		if len(b.Options) != 4 || b.CorrectOption < 1 || b.CorrectOption > 4 {
			add("bonus %s: needs 4 options and a correct option in 1..4", b.ID)
		}
		if !b.HomePhase().Valid() {
			add("bonus %s: bad home phase %q", b.ID, b.Phase)
		}
	}

	for id, s := range l.Scenarios {
		if len(s.Options) != 0 && len(s.Options) != 4 {
			add("scenario %s: overlay options must be empty or 4", id)
		}
	}

	if len(l.Airports) == 0 || len(l.Metars) == 0 {
		add("airports and metars are required")
	}
	for _, a := range l.Airports {
		if len(a.Runways) == 0 {
			add("airport %s: no runways", a.ICAO)
		}
	}
	for _, m := range l.Metars {
		if len(m.Question.Options) != 4 {
			add("metar %s: question needs 4 options", m.ID)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("domain library invalid: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RadioFor 返回某阶段的全部无线电模板（保持表内顺序）。
func (l *Library) RadioFor(phase model.Phase) []model.RadioTemplate {
	var out []model.RadioTemplate
	for _, r := range l.Radio {
		if r.Phase == phase {
			out = append(out, r)
		}
	}
	return out
}

// Mission 按名称查找任务；未知名称回落到总题量最小的任务。
func (l *Library) Mission(name string) model.MissionProfile {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, m := range l.Missions {
		if m.Name == name {
			return m
		}
	}
	return l.SmallestMission()
}

// SmallestMission 总题量上限最小的任务（并列时取下限更小者）。
func (l *Library) SmallestMission() model.MissionProfile {
	var best model.MissionProfile
	for i, m := range l.Missions {
		if i == 0 || m.TotalMax < best.TotalMax || (m.TotalMax == best.TotalMax && m.TotalMin < best.TotalMin) {
			best = m
		}
	}
	return best
}

// AircraftType 按名称查找机型；未知机型回落到表中第一项。
func (l *Library) AircraftType(name string) model.AircraftType {
	name = strings.ToUpper(strings.TrimSpace(name))
	for _, a := range l.Aircraft {
		if a.Name == name {
			return a
		}
	}
	if len(l.Aircraft) == 0 {
		return model.AircraftType{Name: "C172", Label: "Cessna 172"}
	}
	return l.Aircraft[0]
}

// BonusCard 按 id 查找进阶题。
func (l *Library) BonusCard(id string) (model.BonusCard, bool) {
	for _, b := range l.Bonus {
		if b.ID == id {
			return b, true
		}
	}
	return model.BonusCard{}, false
}

// Emergency 按 id 查找紧急事件。
func (l *Library) Emergency(id string) (model.EmergencyEvent, bool) {
	for _, e := range l.Emergencies {
		if e.ID == id {
			return e, true
		}
	}
	return model.EmergencyEvent{}, false
}

// Substitute 用简报 token 替换模板文本。
func Substitute(text string, tokens map[string]string) string {
	if text == "" || len(tokens) == 0 {
		return text
	}
	pairs := make([]string, 0, len(tokens)*2)
	for k, v := range tokens {
		pairs = append(pairs, k, v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// SubstituteAll 对切片逐项替换，返回新切片。
func SubstituteAll(texts []string, tokens map[string]string) []string {
	if texts == nil {
		return nil
	}
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = Substitute(t, tokens)
	}
	return out
}
