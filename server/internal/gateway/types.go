package gateway

import (
	"time"

	"skytrail/server/internal/model"
)

// MessageType 服务端推送给客户端的消息类型。
type MessageType string

const (
	MessageState    MessageType = "state"     // 连接建立后的当前快照
	MessageResult   MessageType = "result"    // 客户端事件的处理结果
	MessageTick     MessageType = "tick"      // 时钟推进后的快照
	MessageHopEnded MessageType = "hop_ended" // 会话转入终态，只推一次
	MessageError    MessageType = "error"
)

// ClientMessage 客户端发给服务端的事件（WebSocket 文本帧）。
type ClientMessage struct {
	Type           model.EventType `json:"type"`
	EventID        string          `json:"eventId,omitempty"` // 幂等去重
	ItemID         string          `json:"itemId,omitempty"`
	SelectedOption int             `json:"selectedOption,omitempty"`
	Seconds        int             `json:"seconds,omitempty"`
	ClientTS       time.Time       `json:"clientTs,omitempty"`
}

// Event 转成编排器的事件。
func (m *ClientMessage) Event() model.Event {
	return model.Event{
		EventID:        m.EventID,
		Type:           m.Type,
		ItemID:         m.ItemID,
		SelectedOption: m.SelectedOption,
		Seconds:        m.Seconds,
		ClientTS:       m.ClientTS,
	}
}

// ServerMessage 服务端发给客户端的消息。
type ServerMessage struct {
	Type     MessageType          `json:"type"`
	Seq      int64                `json:"seq,omitempty"` // 连接内序号
	EventID  string               `json:"eventId,omitempty"`
	Payload  *model.EventResponse `json:"payload,omitempty"`
	ServerTS time.Time            `json:"serverTs"`
	Error    string               `json:"error,omitempty"`
}
