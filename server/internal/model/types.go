package model

import "time"

// Phase 飞行阶段，决定题目分桶与节奏。
type Phase string

const (
	PhasePreflight  Phase = "preflight"
	PhaseTaxiDepart Phase = "taxi_depart"
	PhaseEnroute    Phase = "enroute"
	PhaseArrival    Phase = "arrival"
)

// Phases 按飞行顺序排列，序列中的阶段块也按此顺序出现。
var Phases = []Phase{PhasePreflight, PhaseTaxiDepart, PhaseEnroute, PhaseArrival}

// Valid 判断是否为已知阶段。
func (p Phase) Valid() bool {
	switch p {
	case PhasePreflight, PhaseTaxiDepart, PhaseEnroute, PhaseArrival:
		return true
	}
	return false
}

// MaxRisk 风险计数上限，达到即 bust。
const MaxRisk = 3

// QuestionRecord 题库中的一道题，只读。
type QuestionRecord struct {
	ID            string      `json:"id" yaml:"id"`
	SectionName   string      `json:"sectionName" yaml:"section"`
	Stem          string      `json:"stem" yaml:"stem"`
	Options       []string    `json:"options" yaml:"options"`
	CorrectOption int         `json:"correctOption" yaml:"correct"`
	Phase         Phase       `json:"phase" yaml:"phase"`
	RiskPoints    int         `json:"riskPoints" yaml:"risk"`
	IsCritical    bool        `json:"isCritical" yaml:"critical"`
	Explanation   string      `json:"explanation" yaml:"explanation"`
	FlightContext string      `json:"flightContext,omitempty" yaml:"context"`
	References    []Reference `json:"references,omitempty" yaml:"references"`
}

// SectionNumber 返回 id 的章节前缀，例如 "3.18" -> "3"。
func (q QuestionRecord) SectionNumber() string {
	for i := 0; i < len(q.ID); i++ {
		if q.ID[i] == '.' {
			return q.ID[:i]
		}
	}
	return q.ID
}

// Reference 题目的出处引用。
type Reference struct {
	QuestionID   string `json:"questionId" yaml:"-"`
	Text         string `json:"referenceText" yaml:"text"`
	CanonicalURL string `json:"canonicalUrl,omitempty" yaml:"url"`
}

// Airport 简报使用的机场。
type Airport struct {
	ICAO        string   `json:"icao" yaml:"icao"`
	Name        string   `json:"name" yaml:"name"`
	Runways     []string `json:"runways" yaml:"runways"`
	ElevationFt int      `json:"elevationFt" yaml:"elevation_ft"`
	HasATC      bool     `json:"hasAtc" yaml:"has_atc"`
}

// MetarDecoded METAR 的结构化解读。
type MetarDecoded struct {
	WindDir        int     `json:"windDir" yaml:"wind_dir"`
	WindSpeedKt    int     `json:"windSpeed" yaml:"wind_speed"`
	GustKt         int     `json:"gustSpeed,omitempty" yaml:"gust_speed"`
	VisibilitySM   float64 `json:"visSm" yaml:"vis_sm"`
	CeilingFt      *int    `json:"ceilingFt" yaml:"ceiling_ft"`
	CloudLayers    string  `json:"cloudLayers" yaml:"cloud_layers"`
	TempC          int     `json:"tempC" yaml:"temp_c"`
	DewC           int     `json:"dewC" yaml:"dew_c"`
	AltimeterInHg  float64 `json:"altimeterInHg" yaml:"altimeter_inhg"`
	Phenomena      string  `json:"phenomena,omitempty" yaml:"phenomena"`
	WxCode         string  `json:"wxCode,omitempty" yaml:"wx_code"`
	FlightCategory string  `json:"flightCategory" yaml:"flight_category"`
}

// MetarQuestion 简报内嵌的 METAR 解读题。
type MetarQuestion struct {
	Stem          string   `json:"stem" yaml:"stem"`
	Options       []string `json:"options" yaml:"options"`
	CorrectOption int      `json:"correctOption" yaml:"correct"`
	Explanation   string   `json:"explanation" yaml:"explanation"`
}

// Metar 原始报文 + 解读 + 解读题。
type Metar struct {
	Raw      string        `json:"raw"`
	Decoded  MetarDecoded  `json:"decoded"`
	Question MetarQuestion `json:"question"`
}

// FlightBrief 一次 hop 的场景上下文，生成后不可变。
type FlightBrief struct {
	Airport        Airport `json:"airport"`
	Runway         string  `json:"runway"`
	Callsign       string  `json:"callsign"`
	CruiseAltitude string  `json:"cruiseAltitude"`
	Metar          Metar   `json:"metar"`
}

// Tokens 返回模板替换用的 token 表。
func (b FlightBrief) Tokens() map[string]string {
	return map[string]string{
		"{callsign}": b.Callsign,
		"{runway}":   b.Runway,
		"{icao}":     b.Airport.ICAO,
	}
}

// Hop 一次规划好的飞行训练：简报 + 序列，规划后不再修改。
type Hop struct {
	ID            string        `json:"id"`
	Mission       string        `json:"mission"`
	Aircraft      string        `json:"aircraft"`
	Brief         FlightBrief   `json:"brief"`
	WxConditions  []string      `json:"wxConditions"`
	Mode          string        `json:"mode"`
	SVFRAvailable bool          `json:"svfrAvailable"`
	Sequence      Sequence      `json:"sequence"`
	PhaseCounts   map[Phase]int `json:"phaseCounts"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// Hop.Mode：VFR/MVFR 直接起飞，IFR/LIFR 需要先做 go/no-go 决策。
const (
	ModeVFR    = "vfr"
	ModeGoNoGo = "go_no_go"
)

const (
	BustCritical = "critical_error"
	BustRisk     = "risk_limit"
)

// SessionStatus 会话生命周期。
type SessionStatus string

const (
	StatusActive  SessionStatus = "active"
	StatusPaused  SessionStatus = "paused"
	StatusBust    SessionStatus = "bust"
	StatusDebrief SessionStatus = "debrief"
)

// Response 一次作答记录。
type Response struct {
	QuestionID     string `json:"questionId"`
	SelectedOption int    `json:"selectedOption"`
	IsCorrect      bool   `json:"isCorrect"`
	RiskBefore     int    `json:"riskBefore"`
	RiskAfter      int    `json:"riskAfter"`
	WasBust        bool   `json:"wasBust"`
	Phase          Phase  `json:"phase"`
	TimedOut       bool   `json:"timedOut,omitempty"`
	IsEmergency    bool   `json:"isEmergency,omitempty"`
}

// SessionState 会话快照，只通过 engine 的纯函数推进。
type SessionState struct {
	SessionID string        `json:"sessionId"`
	Index     int           `json:"index"`
	Risk      int           `json:"risk"`
	Responses []Response    `json:"responses"`
	Status    SessionStatus `json:"status"`

	// ClockRemaining 会话总倒计时（秒）。
	ClockRemaining int `json:"clockRemaining"`
	// SVFR 模式下每张题卡独立倒计时；CardRemaining 为 0 表示当前不计时。
	SVFR          bool `json:"svfr"`
	CardSeconds   int  `json:"cardSeconds,omitempty"`
	CardRemaining int  `json:"cardRemaining,omitempty"`

	// ActiveEmergency 仅用于展示连续性。
	ActiveEmergency         string   `json:"activeEmergency,omitempty"`
	AcknowledgedEmergencies []string `json:"acknowledgedEmergencies,omitempty"`

	BustReason string `json:"bustReason,omitempty"`
	// LastEventSeq 最近一次归约的 timeline seq，重复投递的事件据此识别。
	LastEventSeq int64     `json:"lastEventSeq"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Terminal bust 或进入 debrief 后不再接受作答。
func (s *SessionState) Terminal() bool {
	return s.Status == StatusBust || s.Status == StatusDebrief
}

// HopSession 会话存储单元：不可变的 Hop + 可变的 SessionState。
type HopSession struct {
	Hop   Hop          `json:"hop"`
	State SessionState `json:"state"`
}

// EventType 会话事件类型。
type EventType string

const (
	EventHopStarted  EventType = "hop_started"
	EventAnswer      EventType = "answer"
	EventAck         EventType = "ack"
	EventTick        EventType = "tick"
	EventPause       EventType = "pause"
	EventResume      EventType = "resume"
	EventCardExpired EventType = "card_expired"
	EventHopEnded    EventType = "hop_ended"
)

// Event timeline 上的一条事实。
type Event struct {
	EventID        string    `json:"eventId,omitempty"`
	SessionID      string    `json:"sessionId"`
	Seq            int64     `json:"seq"`
	Type           EventType `json:"type"`
	ItemID         string    `json:"itemId,omitempty"`
	SelectedOption int       `json:"selectedOption,omitempty"`
	Seconds        int       `json:"seconds,omitempty"`
	Risk           int       `json:"risk,omitempty"`
	Status         string    `json:"status,omitempty"`
	ClientTS       time.Time `json:"clientTs"`
	ServerTS       time.Time `json:"serverTs"`
}

// AnswerOutcome applyAnswer 的结果。
type AnswerOutcome struct {
	NewRisk int  `json:"newRisk"`
	Busted  bool `json:"busted"`
}

// EventResponse 事件处理后的回执。
type EventResponse struct {
	State       SessionState   `json:"state"`
	Current     ItemRef        `json:"current"`
	Outcome     *AnswerOutcome `json:"outcome,omitempty"`
	Response    *Response      `json:"response,omitempty"`
	Transition  string         `json:"transition,omitempty"`
	PhaseBridge string         `json:"phaseBridge,omitempty"`
}

// PlanResponse GET /hop 的返回体。
type PlanResponse struct {
	Sequence      Sequence    `json:"sequence"`
	Brief         FlightBrief `json:"brief"`
	WxConditions  []string    `json:"wxConditions"`
	Mode          string      `json:"mode"`
	SVFRAvailable bool        `json:"svfrAvailable"`
	Mission       string      `json:"mission"`
	Aircraft      string      `json:"aircraft"`
}

// CreateHopRequest POST /api/hops 请求体。
type CreateHopRequest struct {
	Mission   string `json:"mission"`
	Aircraft  string `json:"aircraft"`
	SVFR      bool   `json:"svfr"`
	StartRisk int    `json:"startRisk"`
}

// CreateHopResponse POST /api/hops 返回体。
type CreateHopResponse struct {
	SessionID string       `json:"sessionId"`
	Hop       Hop          `json:"hop"`
	State     SessionState `json:"state"`
	Current   ItemRef      `json:"current"`
}

// SimAnswer 模拟考一道题的作答。
type SimAnswer struct {
	QuestionID     string `json:"questionId"`
	SelectedOption int    `json:"selectedOption"`
}

// SimRequest POST /sim 请求体。
type SimRequest struct {
	Responses []SimAnswer `json:"responses"`
}

// SimResultItem 单题判分。
type SimResultItem struct {
	QuestionID     string `json:"questionId"`
	SelectedOption int    `json:"selectedOption"`
	IsCorrect      bool   `json:"isCorrect"`
	CorrectOption  int    `json:"correctOption"`
}

// SimResult POST /sim 返回体。
type SimResult struct {
	Score   int             `json:"score"`
	Correct int             `json:"correct"`
	Total   int             `json:"total"`
	Passed  bool            `json:"passed"`
	Results []SimResultItem `json:"results"`
}
