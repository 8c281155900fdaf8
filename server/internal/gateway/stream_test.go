package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"skytrail/server/internal/model"
	"skytrail/server/internal/session"
)

// fakeHandler 一个只有两道题的会话；答错两次 bust。
type fakeHandler struct {
	mu    sync.Mutex
	state model.SessionState
	seq   model.Sequence
	ticks int
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{
		seq: model.Sequence{
			model.QuestionItem{ID: "1.01", Phase: model.PhasePreflight, Options: []string{"a", "b", "c", "d"}, CorrectOption: 1},
			model.QuestionItem{ID: "1.02", Phase: model.PhasePreflight, Options: []string{"a", "b", "c", "d"}, CorrectOption: 1},
		},
		state: model.SessionState{SessionID: "s1", Status: model.StatusActive, ClockRemaining: 600},
	}
}

func (f *fakeHandler) Get(_ context.Context, id string) (*model.HopSession, error) {
	if id != "s1" {
		return nil, session.ErrNotFound
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return &model.HopSession{Hop: model.Hop{ID: id, Sequence: f.seq}, State: f.state}, nil
}

func (f *fakeHandler) OnEvent(_ context.Context, _ string, evt model.Event) (*model.EventResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch evt.Type {
	case model.EventTick:
		f.ticks++
		f.state.ClockRemaining -= evt.Seconds
	case model.EventAnswer:
		if f.state.Terminal() {
			return nil, errors.New("session is terminal")
		}
		if evt.SelectedOption != 1 {
			f.state.Risk++
		}
		f.state.Index++
		if f.state.Risk >= 2 {
			f.state.Status = model.StatusBust
		} else if f.state.Index >= len(f.seq) {
			f.state.Status = model.StatusDebrief
		}
	default:
		return nil, errors.New("unsupported")
	}
	return &model.EventResponse{State: f.state}, nil
}

func (f *fakeHandler) tickCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ticks
}

func startStreamServer(t *testing.T, h Handler) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		stream := NewStream("s1", conn, h, StreamConfig{TickInterval: 20 * time.Millisecond}, nil)
		_ = stream.Run()
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil 读取服务端消息直到出现指定类型。
func readUntil(t *testing.T, conn *websocket.Conn, typ MessageType) ServerMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read while waiting for %s: %v", typ, err)
		}
		if msg.Type == typ {
			return msg
		}
	}
}

// TestStreamSnapshotTicksAndResult 验证连接后先推快照，随后周期性推送 tick，作答结果带回 eventId。
func TestStreamSnapshotTicksAndResult(t *testing.T) {
	h := newFakeHandler()
	conn := startStreamServer(t, h)

	first := readUntil(t, conn, MessageState)
	if first.Payload == nil || first.Payload.Current.Item == nil || first.Payload.Current.Item.ItemID() != "1.01" {
		t.Fatalf("expected snapshot with current item 1.01, got %+v", first.Payload)
	}

	tick := readUntil(t, conn, MessageTick)
	if tick.Payload.State.ClockRemaining >= 600 {
		t.Fatalf("expected clock to advance, got %d", tick.Payload.State.ClockRemaining)
	}

	if err := conn.WriteJSON(ClientMessage{Type: model.EventAnswer, EventID: "a1", SelectedOption: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	res := readUntil(t, conn, MessageResult)
	if res.EventID != "a1" || res.Payload.State.Index != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

// TestStreamRejectsClientTick 验证客户端不能自行推进时钟。
func TestStreamRejectsClientTick(t *testing.T) {
	conn := startStreamServer(t, newFakeHandler())
	readUntil(t, conn, MessageState)

	if err := conn.WriteJSON(ClientMessage{Type: model.EventTick, EventID: "t1", Seconds: 500}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readUntil(t, conn, MessageError)
	if msg.EventID != "t1" {
		t.Fatalf("expected error for t1, got %+v", msg)
	}
}

// TestStreamHopEndedStopsTicks 验证 bust 后推一次 hop_ended 并停止 tick。
func TestStreamHopEndedStopsTicks(t *testing.T) {
	h := newFakeHandler()
	conn := startStreamServer(t, h)
	readUntil(t, conn, MessageState)

	for i, id := range []string{"w1", "w2"} {
		if err := conn.WriteJSON(ClientMessage{Type: model.EventAnswer, EventID: id, SelectedOption: 3}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	ended := readUntil(t, conn, MessageHopEnded)
	if ended.Payload.State.Status != model.StatusBust {
		t.Fatalf("expected bust, got %s", ended.Payload.State.Status)
	}

	before := h.tickCount()
	time.Sleep(100 * time.Millisecond)
	if after := h.tickCount(); after > before+1 {
		t.Fatalf("ticks continued after hop ended: %d -> %d", before, after)
	}

	if err := conn.WriteJSON(ClientMessage{Type: model.EventAnswer, EventID: "late", SelectedOption: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readUntil(t, conn, MessageError); msg.EventID != "late" {
		t.Fatalf("expected error for late answer, got %+v", msg)
	}
}
