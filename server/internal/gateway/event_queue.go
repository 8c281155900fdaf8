package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"skytrail/server/internal/logger"
)

// EventHandler 串行处理单个事件。返回 error 只记录，不中断队列。
type EventHandler func(ctx context.Context, msg *ClientMessage) error

// EventQueue 为单个会话提供串行事件处理。
// 客户端事件与时钟 tick 走同一个队列，保证作答与扣时不会交错。
type EventQueue struct {
	sessionID    string
	eventHandler EventHandler
	eventChan    chan *queuedEvent
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	log          *logger.Logger

	mu              sync.Mutex
	totalEvents     int64
	processedEvents int64
	droppedEvents   int64
	failedEvents    int64
}

type queuedEvent struct {
	msg       *ClientMessage
	timestamp time.Time
	resultCh  chan error // 同步调用时回传结果
}

const (
	// 队列容量：满了直接丢弃（背压）
	defaultQueueCapacity = 100
	defaultEventTimeout  = 10 * time.Second
	slowEventThreshold   = 2 * time.Second
)

// NewEventQueue 创建事件队列并启动处理协程。
func NewEventQueue(sessionID string, handler EventHandler, log *logger.Logger) *EventQueue {
	if log == nil {
		log = logger.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	eq := &EventQueue{
		sessionID:    sessionID,
		eventHandler: handler,
		eventChan:    make(chan *queuedEvent, defaultQueueCapacity),
		ctx:          ctx,
		cancel:       cancel,
		log:          log.With("component", "EventQueue", "session_id", sessionID),
	}

	eq.wg.Add(1)
	go eq.processLoop()

	return eq
}

// Enqueue 异步入队，队列满时返回错误。
func (eq *EventQueue) Enqueue(msg *ClientMessage) error {
	select {
	case <-eq.ctx.Done():
		return fmt.Errorf("event queue closed")
	default:
	}

	event := &queuedEvent{
		msg:       msg,
		timestamp: time.Now(),
	}

	select {
	case eq.eventChan <- event:
		eq.mu.Lock()
		eq.totalEvents++
		eq.mu.Unlock()
		return nil
	default:
		eq.mu.Lock()
		eq.droppedEvents++
		eq.mu.Unlock()
		eq.log.Warn("Queue full, dropping event", "type", msg.Type)
		return fmt.Errorf("event queue full")
	}
}

// EnqueueSync 入队并等待处理完成，返回处理器的错误。
func (eq *EventQueue) EnqueueSync(msg *ClientMessage, timeout time.Duration) error {
	select {
	case <-eq.ctx.Done():
		return fmt.Errorf("event queue closed")
	default:
	}

	if timeout == 0 {
		timeout = defaultEventTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	event := &queuedEvent{
		msg:       msg,
		timestamp: time.Now(),
		resultCh:  make(chan error, 1),
	}

	select {
	case eq.eventChan <- event:
		eq.mu.Lock()
		eq.totalEvents++
		eq.mu.Unlock()
	case <-timer.C:
		return fmt.Errorf("timeout enqueuing event")
	case <-eq.ctx.Done():
		return fmt.Errorf("event queue closed")
	}

	select {
	case err := <-event.resultCh:
		return err
	case <-timer.C:
		return fmt.Errorf("timeout waiting for event processing")
	case <-eq.ctx.Done():
		return fmt.Errorf("event queue closed")
	}
}

func (eq *EventQueue) processLoop() {
	defer eq.wg.Done()

	for {
		select {
		case <-eq.ctx.Done():
			return
		case event := <-eq.eventChan:
			eq.processEvent(event)
		}
	}
}

func (eq *EventQueue) processEvent(event *queuedEvent) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(eq.ctx, defaultEventTimeout)
	defer cancel()

	err := eq.eventHandler(ctx, event.msg)
	elapsed := time.Since(start)

	eq.mu.Lock()
	eq.processedEvents++
	if err != nil {
		eq.failedEvents++
	}
	eq.mu.Unlock()

	if err != nil {
		eq.log.Debug("Event rejected", "type", event.msg.Type, "error", err)
	}
	if elapsed > slowEventThreshold {
		eq.log.Warn("Slow event processing",
			"type", event.msg.Type,
			"queue_latency", start.Sub(event.timestamp),
			"processing_time", elapsed,
		)
	}

	if event.resultCh != nil {
		select {
		case event.resultCh <- err:
		default:
		}
	}
}

// Close 停止处理协程。通道不关闭，避免与并发的 Enqueue 竞争。
func (eq *EventQueue) Close() error {
	eq.cancel()
	eq.wg.Wait()

	stats := eq.Stats()
	eq.log.Debug("Event queue closed",
		"total", stats.Total,
		"processed", stats.Processed,
		"dropped", stats.Dropped,
		"failed", stats.Failed,
		"pending", stats.Pending,
	)
	return nil
}

// QueueStats 队列统计。
type QueueStats struct {
	SessionID string `json:"sessionId"`
	Total     int64  `json:"total"`
	Processed int64  `json:"processed"`
	Dropped   int64  `json:"dropped"`
	Failed    int64  `json:"failed"`
	Pending   int    `json:"pending"`
	Capacity  int    `json:"capacity"`
}

func (eq *EventQueue) Stats() QueueStats {
	eq.mu.Lock()
	defer eq.mu.Unlock()

	return QueueStats{
		SessionID: eq.sessionID,
		Total:     eq.totalEvents,
		Processed: eq.processedEvents,
		Dropped:   eq.droppedEvents,
		Failed:    eq.failedEvents,
		Pending:   len(eq.eventChan),
		Capacity:  cap(eq.eventChan),
	}
}
