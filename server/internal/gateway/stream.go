package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"skytrail/server/internal/logger"
	"skytrail/server/internal/model"
)

// Handler 网关需要的编排器能力。
type Handler interface {
	Get(ctx context.Context, sessionID string) (*model.HopSession, error)
	OnEvent(ctx context.Context, sessionID string, evt model.Event) (*model.EventResponse, error)
}

// StreamConfig 流配置。
type StreamConfig struct {
	// TickInterval 推进会话时钟的周期，每个周期投递一次 tick。
	TickInterval time.Duration
	PingInterval time.Duration
	WriteTimeout time.Duration
}

// Stream 是一个会话的 WebSocket 通道。
// 职责：
//   - 读取客户端事件（answer/ack/pause/resume），与时钟 tick 一起进同一个 EventQueue 串行处理。
//   - 把处理结果推回客户端；会话进入终态后停止 tick 并推送一次 hop_ended。
type Stream struct {
	sessionID string

	conn     *websocket.Conn
	connLock sync.Mutex

	handler Handler
	queue   *EventQueue

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeChan chan struct{}

	seqCounter int64
	seqLock    sync.Mutex

	ended atomic.Bool

	config StreamConfig
	log    *logger.Logger
}

// NewStream 创建会话流。
func NewStream(sessionID string, conn *websocket.Conn, handler Handler, config StreamConfig, log *logger.Logger) *Stream {
	if config.TickInterval <= 0 {
		config.TickInterval = time.Second
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Stream{
		sessionID: sessionID,
		conn:      conn,
		handler:   handler,
		ctx:       ctx,
		cancel:    cancel,
		closeChan: make(chan struct{}),
		config:    config,
		log:       log.With("component", "Stream", "session_id", sessionID),
	}
	s.queue = NewEventQueue(sessionID, s.handleEvent, log)
	return s
}

// Run 推送当前快照，启动时钟与心跳，然后阻塞读取客户端消息直到连接关闭。
func (s *Stream) Run() error {
	defer s.Close()

	sess, err := s.handler.Get(s.ctx, s.sessionID)
	if err != nil {
		s.sendError("", err)
		return fmt.Errorf("load session: %w", err)
	}
	snapshot := &model.EventResponse{State: sess.State}
	if !sess.State.Terminal() {
		snapshot.Current = model.ItemRef{Item: sess.Hop.Sequence.At(sess.State.Index)}
	} else {
		s.ended.Store(true)
	}
	if err := s.send(&ServerMessage{Type: MessageState, Payload: snapshot}); err != nil {
		return err
	}

	go s.tickLoop()
	go s.pingLoop()

	s.log.Info("Stream started", "tick_interval", s.config.TickInterval)
	s.clientReadLoop()
	return nil
}

func (s *Stream) clientReadLoop() {
	for {
		select {
		case <-s.closeChan:
			return
		default:
		}

		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("Client read error", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError("", fmt.Errorf("invalid message: %w", err))
			continue
		}
		switch msg.Type {
		case model.EventAnswer, model.EventAck, model.EventPause, model.EventResume:
		case model.EventTick:
			// 时钟只由服务端驱动。
			s.sendError(msg.EventID, errors.New("tick is server driven"))
			continue
		default:
			s.sendError(msg.EventID, fmt.Errorf("unsupported event type %q", msg.Type))
			continue
		}
		if msg.ClientTS.IsZero() {
			msg.ClientTS = time.Now()
		}
		if err := s.queue.Enqueue(&msg); err != nil {
			s.sendError(msg.EventID, err)
		}
	}
}

// tickLoop 每个周期投递一次 tick；终态后停止投递。
func (s *Stream) tickLoop() {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	seconds := max(int(s.config.TickInterval/time.Second), 1)
	for {
		select {
		case <-s.closeChan:
			return
		case <-ticker.C:
			if s.ended.Load() {
				continue
			}
			if err := s.queue.Enqueue(&ClientMessage{Type: model.EventTick, Seconds: seconds}); err != nil {
				s.log.Warn("Drop tick", "error", err)
			}
		}
	}
}

// handleEvent 在 EventQueue 的处理协程里执行。
func (s *Stream) handleEvent(ctx context.Context, msg *ClientMessage) error {
	resp, err := s.handler.OnEvent(ctx, s.sessionID, msg.Event())
	if err != nil {
		s.sendError(msg.EventID, err)
		return err
	}

	typ := MessageResult
	if msg.Type == model.EventTick {
		typ = MessageTick
	}
	if err := s.send(&ServerMessage{Type: typ, EventID: msg.EventID, Payload: resp}); err != nil {
		return err
	}
	if resp.State.Terminal() && s.ended.CompareAndSwap(false, true) {
		s.log.Info("Hop ended on stream", "status", resp.State.Status, "risk", resp.State.Risk)
		return s.send(&ServerMessage{Type: MessageHopEnded, Payload: resp})
	}
	return nil
}

func (s *Stream) send(msg *ServerMessage) error {
	s.seqLock.Lock()
	s.seqCounter++
	msg.Seq = s.seqCounter
	s.seqLock.Unlock()

	if msg.ServerTS.IsZero() {
		msg.ServerTS = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal server message: %w", err)
	}

	s.connLock.Lock()
	defer s.connLock.Unlock()

	if s.conn == nil {
		return errors.New("client connection is closed")
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write to client: %w", err)
	}
	return nil
}

func (s *Stream) sendError(eventID string, err error) {
	if sendErr := s.send(&ServerMessage{Type: MessageError, EventID: eventID, Error: err.Error()}); sendErr != nil {
		s.log.Debug("Send error message failed", "error", sendErr)
	}
}

func (s *Stream) pingLoop() {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closeChan:
			return
		case <-ticker.C:
			s.connLock.Lock()
			if s.conn != nil {
				_ = s.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(5*time.Second))
			}
			s.connLock.Unlock()
		}
	}
}

// Close 关闭流：停止 tick、排空事件队列处理协程、关闭连接。可重复调用。
func (s *Stream) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.closeChan)
		s.cancel()
		_ = s.queue.Close()

		s.connLock.Lock()
		defer s.connLock.Unlock()
		if s.conn == nil {
			return
		}
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		closeErr = s.conn.Close()
		s.conn = nil

		stats := s.queue.Stats()
		s.log.Info("Stream closed", "processed", stats.Processed, "dropped", stats.Dropped, "failed", stats.Failed)
	})
	return closeErr
}
