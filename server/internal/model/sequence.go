package model

import (
	"encoding/json"
	"fmt"
)

// ItemKind 序列项的类型标签，JSON 中以 "type" 字段出现。
type ItemKind string

const (
	KindQuestion  ItemKind = "question"
	KindRadio     ItemKind = "radio"
	KindEmergency ItemKind = "emergency"
)

// SequenceItem 是封闭的和类型：只有 QuestionItem / RadioItem / EmergencyItem 三种实现。
// 消费方用 type switch 穷举处理。
type SequenceItem interface {
	Kind() ItemKind
	ItemID() string
	ItemPhase() Phase
	sequenceItem()
}

// QuestionItem 已解析文本的题卡。
type QuestionItem struct {
	ID            string   `json:"id"`
	Phase         Phase    `json:"phase"`
	Stem          string   `json:"stem"`
	Options       []string `json:"options"`
	CorrectOption int      `json:"correctOption"`
	RiskPoints    int      `json:"riskPoints"`
	IsCritical    bool     `json:"isCritical"`
	Explanation   string   `json:"explanation"`
	SectionName   string   `json:"sectionName"`
	FlightContext string   `json:"flightContext,omitempty"`
	IsEmergency   bool     `json:"isEmergency,omitempty"`
	EmergencyID   string   `json:"emergencyId,omitempty"`
	IsBonus       bool     `json:"isBonus,omitempty"`
	HasScenario   bool     `json:"hasScenario,omitempty"`
}

// RadioLine 一句无线电通话。
type RadioLine struct {
	Speaker string `json:"speaker" yaml:"speaker"` // atc | pilot
	Text    string `json:"text" yaml:"text"`
}

// RadioItem 无线电交流；Lines 为空表示纯叙事节拍。
type RadioItem struct {
	ID      string      `json:"id"`
	Phase   Phase       `json:"phase"`
	Context string      `json:"context"`
	Lines   []RadioLine `json:"lines"`
}

// EmergencyItem 紧急事件公告。
type EmergencyItem struct {
	ID            string `json:"id"`
	Phase         Phase  `json:"phase"`
	Name          string `json:"name"`
	Announcement  string `json:"announcement"`
	PanelLabel    string `json:"panelLabel"`
	PanelSub      string `json:"panelSub"`
	TimerPenalty  int    `json:"timerPenalty"`
	ImmediateRisk int    `json:"immediateRisk"`
	Resolution    string `json:"resolution"`
	// RadioLines 已替换 token 的应急通话；后面紧跟的 radio 卡展示同样内容。
	RadioLines []RadioLine `json:"radioLines,omitempty"`
}

func (QuestionItem) Kind() ItemKind  { return KindQuestion }
func (RadioItem) Kind() ItemKind     { return KindRadio }
func (EmergencyItem) Kind() ItemKind { return KindEmergency }

func (q QuestionItem) ItemID() string  { return q.ID }
func (r RadioItem) ItemID() string     { return r.ID }
func (e EmergencyItem) ItemID() string { return e.ID }

func (q QuestionItem) ItemPhase() Phase  { return q.Phase }
func (r RadioItem) ItemPhase() Phase     { return r.Phase }
func (e EmergencyItem) ItemPhase() Phase { return e.Phase }

func (QuestionItem) sequenceItem()  {}
func (RadioItem) sequenceItem()     {}
func (EmergencyItem) sequenceItem() {}

// Sequence 规划好的有序序列。
type Sequence []SequenceItem

// At 返回下标处的项，越界返回 nil。
func (s Sequence) At(i int) SequenceItem {
	if i < 0 || i >= len(s) {
		return nil
	}
	return s[i]
}

// QuestionIDs 按出现顺序返回所有题卡 id。
func (s Sequence) QuestionIDs() []string {
	var ids []string
	for _, item := range s {
		if q, ok := item.(QuestionItem); ok {
			ids = append(ids, q.ID)
		}
	}
	return ids
}

func (s Sequence) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(s))
	for i, item := range s {
		raw, err := marshalItem(item)
		if err != nil {
			return nil, fmt.Errorf("sequence[%d]: %w", i, err)
		}
		out = append(out, raw)
	}
	return json.Marshal(out)
}

func (s *Sequence) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	seq := make(Sequence, 0, len(raws))
	for i, raw := range raws {
		item, err := unmarshalItem(raw)
		if err != nil {
			return fmt.Errorf("sequence[%d]: %w", i, err)
		}
		seq = append(seq, item)
	}
	*s = seq
	return nil
}

// ItemRef 在 JSON 中携带单个序列项（可为空）。
type ItemRef struct {
	Item SequenceItem
}

func (r ItemRef) MarshalJSON() ([]byte, error) {
	if r.Item == nil {
		return []byte("null"), nil
	}
	return marshalItem(r.Item)
}

func (r *ItemRef) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		r.Item = nil
		return nil
	}
	item, err := unmarshalItem(data)
	if err != nil {
		return err
	}
	r.Item = item
	return nil
}

func marshalItem(item SequenceItem) ([]byte, error) {
	switch v := item.(type) {
	case QuestionItem:
		return json.Marshal(struct {
			Type ItemKind `json:"type"`
			QuestionItem
		}{KindQuestion, v})
	case RadioItem:
		return json.Marshal(struct {
			Type ItemKind `json:"type"`
			RadioItem
		}{KindRadio, v})
	case EmergencyItem:
		return json.Marshal(struct {
			Type ItemKind `json:"type"`
			EmergencyItem
		}{KindEmergency, v})
	default:
		return nil, fmt.Errorf("unknown sequence item %T", item)
	}
}

func unmarshalItem(raw []byte) (SequenceItem, error) {
	var head struct {
		Type ItemKind `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case KindQuestion:
		var q QuestionItem
		err := json.Unmarshal(raw, &q)
		return q, err
	case KindRadio:
		var r RadioItem
		err := json.Unmarshal(raw, &r)
		return r, err
	case KindEmergency:
		var e EmergencyItem
		err := json.Unmarshal(raw, &e)
		return e, err
	default:
		return nil, fmt.Errorf("unknown sequence item type %q", head.Type)
	}
}
