package model

// RadioTemplate 无线电交流模板，文本含 {callsign}/{runway}/{icao} token。
type RadioTemplate struct {
	ID      string      `yaml:"id"`
	Phase   Phase       `yaml:"phase"`
	Context string      `yaml:"context"`
	Lines   []RadioLine `yaml:"lines"`
}

// EmergencyEvent 紧急事件的静态定义。
type EmergencyEvent struct {
	ID            string      `yaml:"id"`
	Name          string      `yaml:"name"`
	Phases        []Phase     `yaml:"phases"`
	Announcement  string      `yaml:"announcement"`
	PanelLabel    string      `yaml:"panel_label"`
	PanelSub      string      `yaml:"panel_sub"`
	TimerPenalty  int         `yaml:"timer_penalty"`
	ImmediateRisk int         `yaml:"immediate_risk"`
	QuestionPool  []string    `yaml:"question_pool"`
	BonusPool     []string    `yaml:"bonus_pool"`
	RadioLines    []RadioLine `yaml:"radio_lines"`
	Transitions   []string    `yaml:"transitions"`
	Resolution    string      `yaml:"resolution"`
}

// EligibleIn 该事件是否可在指定阶段触发。
func (e EmergencyEvent) EligibleIn(p Phase) bool {
	for _, ph := range e.Phases {
		if ph == p {
			return true
		}
	}
	return false
}

// BonusCard 进阶题（ROC-A 无线电执照题），Phase 即其固定归属阶段。
type BonusCard struct {
	QuestionRecord `yaml:",inline"`
}

// HomePhase 进阶题插入的阶段。
func (b BonusCard) HomePhase() Phase {
	return b.Phase
}

// ScenarioOverlay 按题目 id 覆盖题干与选项，正确选项下标不变。
type ScenarioOverlay struct {
	QuestionID string   `yaml:"id"`
	Stem       string   `yaml:"stem"`
	Options    []string `yaml:"options"`
}

// PhaseBounds 单阶段题量范围。
type PhaseBounds struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// MissionProfile 任务参数表。
type MissionProfile struct {
	Name              string                `yaml:"name"`
	Label             string                `yaml:"label"`
	TotalMin          int                   `yaml:"total_min"`
	TotalMax          int                   `yaml:"total_max"`
	Bounds            map[Phase]PhaseBounds `yaml:"bounds"`
	Boost             []Phase               `yaml:"boost"`
	Reduce            []Phase               `yaml:"reduce"`
	Shifts            int                   `yaml:"shifts"`
	EmergencyAttempts int                   `yaml:"emergency_attempts"`
}

// BaseFloor 各阶段下限之和，基础题量不能低于它。
func (m MissionProfile) BaseFloor() int {
	floor := 0
	for _, p := range Phases {
		floor += m.Bounds[p].Min
	}
	return floor
}

// AircraftType 机型与其风险常数。
type AircraftType struct {
	Name  string `yaml:"name"`
	Label string `yaml:"label"`
	Risk  int    `yaml:"risk"`
	Note  string `yaml:"note"`
}

// TransitionSet 某阶段的过场文本池。
type TransitionSet struct {
	Correct  []string `yaml:"correct"`
	Wrong    []string `yaml:"wrong"`
	HighRisk []string `yaml:"high_risk"`
	Bridge   string   `yaml:"bridge"`
}

// MetarTemplate 简报 METAR 模板：报文片段 + 解读 + 解读题。
type MetarTemplate struct {
	ID       string        `yaml:"id"`
	Parts    MetarParts    `yaml:"parts"`
	Decoded  MetarDecoded  `yaml:"decoded"`
	Question MetarQuestion `yaml:"question"`
}

// MetarParts 拼接原始报文用的片段。
type MetarParts struct {
	Wind      string `yaml:"wind"`
	Vis       string `yaml:"vis"`
	Wx        string `yaml:"wx"`
	Clouds    string `yaml:"clouds"`
	TempDew   string `yaml:"temp_dew"`
	Altimeter string `yaml:"altimeter"`
	Remarks   string `yaml:"rmk"`
}
