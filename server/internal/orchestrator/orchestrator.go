package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"skytrail/server/internal/brief"
	"skytrail/server/internal/debrief"
	"skytrail/server/internal/domain"
	"skytrail/server/internal/engine"
	"skytrail/server/internal/logger"
	"skytrail/server/internal/mastery"
	"skytrail/server/internal/model"
	"skytrail/server/internal/planner"
	"skytrail/server/internal/rng"
	"skytrail/server/internal/session"
	"skytrail/server/internal/timeline"
	"skytrail/server/internal/weather"
)

// Deps 编排器依赖。Mastery/Recorder 为空时使用内存实现与 Nop。
type Deps struct {
	Sessions session.Store
	Timeline timeline.Store
	Library  *domain.Library
	Planner  *planner.Planner
	Catalog  planner.Catalog
	Rand     rng.Source
	Mastery  mastery.Store
	Recorder debrief.Recorder
	Log      *logger.Logger
	Now      func() time.Time

	ClockSeconds int
	CardSeconds  int
}

// Orchestrator 负责 hop 会话的编排。
//
// 职责与契约：
//   - 归约先算后写：事件先在副本上归约，被拒绝的事件不进 timeline；
//     接受的事件先写 timeline，再保存快照，保证可回放与幂等。
//   - 引擎与规划器保持纯函数，掌握度与复盘记录等副作用只在这里触发。
//   - 同一会话的事件串行处理，HTTP 与 WebSocket 可以同时投递。
type Orchestrator struct {
	store    session.Store
	timeline timeline.Store
	lib      *domain.Library
	planner  *planner.Planner
	catalog  planner.Catalog
	rng      rng.Source
	mastery  mastery.Store
	recorder debrief.Recorder
	selector engine.Selector
	log      *logger.Logger
	tracer   trace.Tracer
	now      func() time.Time

	clockSeconds int
	cardSeconds  int

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(d Deps) *Orchestrator {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Rand == nil {
		d.Rand = rng.NewSeeded(uint64(d.Now().UnixNano()))
	}
	if d.Mastery == nil {
		d.Mastery = mastery.NewInMemoryStore()
	}
	if d.Recorder == nil {
		d.Recorder = debrief.Nop{}
	}
	if d.Log == nil {
		d.Log = logger.NewNop()
	}
	if d.Planner == nil {
		d.Planner = planner.New(d.Library, planner.DefaultParams())
	}
	return &Orchestrator{
		store:        d.Sessions,
		timeline:     d.Timeline,
		lib:          d.Library,
		planner:      d.Planner,
		catalog:      d.Catalog,
		rng:          d.Rand,
		mastery:      d.Mastery,
		recorder:     d.Recorder,
		selector:     engine.NewSelector(d.Library.Transitions),
		log:          d.Log.With("component", "orchestrator"),
		tracer:       otel.Tracer("skytrail/orchestrator"),
		now:          d.Now,
		clockSeconds: d.ClockSeconds,
		cardSeconds:  d.CardSeconds,
		locks:        make(map[string]*sync.Mutex),
	}
}

// PlanHop 生成简报、判定天气并规划序列，不创建会话。
// 未知任务回落到最小任务，未知机型回落到默认机型。
func (o *Orchestrator) PlanHop(ctx context.Context, mission, aircraft string) model.Hop {
	_, span := o.tracer.Start(ctx, "orchestrator.PlanHop")
	defer span.End()

	b := brief.Generate(o.lib, o.rng)
	signals := weather.Classify(b.Metar.Decoded)
	profile := o.lib.Mission(mission)
	craft := o.lib.AircraftType(aircraft)

	plan := o.planner.Plan(planner.Input{
		Mission:  profile,
		Aircraft: craft,
		Signals:  signals,
		Brief:    b,
	}, o.catalog, o.rng)

	hop := model.Hop{
		Mission:       profile.Name,
		Aircraft:      craft.Name,
		Brief:         b,
		WxConditions:  weather.Strings(signals),
		Mode:          brief.Mode(b),
		SVFRAvailable: brief.SVFRAvailable(b),
		Sequence:      plan.Sequence,
		PhaseCounts:   plan.Counts,
		CreatedAt:     o.now(),
	}
	span.SetAttributes(
		attribute.String("hop.mission", hop.Mission),
		attribute.String("hop.aircraft", hop.Aircraft),
		attribute.Int("hop.items", len(hop.Sequence)),
		attribute.Int("hop.target", plan.Target),
		attribute.Bool("hop.emergency", plan.Emergency != nil),
	)
	o.log.Debug("Hop planned",
		"mission", hop.Mission,
		"aircraft", hop.Aircraft,
		"items", len(hop.Sequence),
		"target", plan.Target,
		"wx", hop.WxConditions,
	)
	return hop
}

// CreateHop 规划一次 hop 并创建会话。
// SVFR 只在有塔台的机场生效；起始风险由引擎钳制。
func (o *Orchestrator) CreateHop(ctx context.Context, req model.CreateHopRequest) (*model.CreateHopResponse, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.CreateHop")
	defer span.End()

	hop := o.PlanHop(ctx, req.Mission, req.Aircraft)
	hop.ID = uuid.NewString()

	state := engine.NewState(hop.ID, hop.Sequence, engine.Options{
		ClockSeconds: o.clockSeconds,
		CardSeconds:  o.cardSeconds,
		SVFR:         req.SVFR && hop.SVFRAvailable,
		StartRisk:    req.StartRisk,
	})
	now := o.now()
	state.UpdatedAt = now

	started := model.Event{
		EventID:  "start-" + hop.ID,
		Type:     model.EventHopStarted,
		Risk:     state.Risk,
		Seconds:  state.ClockRemaining,
		Status:   string(state.Status),
		ClientTS: now,
		ServerTS: now,
	}
	seq, err := o.timeline.Append(ctx, hop.ID, &started)
	if err != nil {
		return nil, o.fail(span, fmt.Errorf("append hop_started: %w", err))
	}
	state.LastEventSeq = seq

	sess := &model.HopSession{Hop: hop, State: state}
	if err := o.store.Save(ctx, sess); err != nil {
		return nil, o.fail(span, fmt.Errorf("save session: %w", err))
	}
	span.SetAttributes(attribute.String("session.id", hop.ID))
	o.log.Info("Hop session created",
		"session_id", hop.ID,
		"mission", hop.Mission,
		"aircraft", hop.Aircraft,
		"svfr", state.SVFR,
		"start_risk", state.Risk,
	)

	return &model.CreateHopResponse{
		SessionID: hop.ID,
		Hop:       hop,
		State:     state,
		Current:   model.ItemRef{Item: current(sess)},
	}, nil
}

// Get 返回会话快照。
func (o *Orchestrator) Get(ctx context.Context, sessionID string) (*model.HopSession, error) {
	return o.store.Get(ctx, sessionID)
}

// Timeline 返回会话 seq > after 的事件。
func (o *Orchestrator) Timeline(ctx context.Context, sessionID string, after int64) ([]model.Event, error) {
	if _, err := o.store.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return o.timeline.List(ctx, sessionID, after)
}

// Delete 删除会话快照与 timeline。
func (o *Orchestrator) Delete(ctx context.Context, sessionID string) error {
	unlock := o.lock(sessionID)
	defer unlock()

	if err := o.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	if err := o.timeline.Drop(ctx, sessionID); err != nil {
		return fmt.Errorf("drop timeline: %w", err)
	}
	o.forget(sessionID)
	return nil
}

// Sweep 清理空闲超过 idle 的会话：快照、timeline 与会话锁，返回清理数量。
// 只对能按时间查询空闲会话的 timeline 生效；快照已过期（Redis TTL）时照样清理 timeline。
func (o *Orchestrator) Sweep(ctx context.Context, idle time.Duration) (int, error) {
	exp, ok := o.timeline.(timeline.Expirer)
	if !ok || idle <= 0 {
		return 0, nil
	}

	swept := 0
	for _, id := range exp.IdleBefore(o.now().Add(-idle)) {
		unlock := o.lock(id)
		err := o.store.Delete(ctx, id)
		if err != nil && !errors.Is(err, session.ErrNotFound) {
			unlock()
			return swept, fmt.Errorf("delete idle session %s: %w", id, err)
		}
		if err := o.timeline.Drop(ctx, id); err != nil {
			unlock()
			return swept, fmt.Errorf("drop timeline %s: %w", id, err)
		}
		o.forget(id)
		unlock()
		swept++
	}
	if swept > 0 {
		o.log.Info("Idle sessions swept", "count", swept, "idle", idle)
	}
	return swept, nil
}

// forget 删除会话锁；调用方持有该锁。
func (o *Orchestrator) forget(sessionID string) {
	o.locksMu.Lock()
	delete(o.locks, sessionID)
	o.locksMu.Unlock()
}

// lockCount 当前持有的会话锁条目数。
func (o *Orchestrator) lockCount() int {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	return len(o.locks)
}

// Progress 掌握度摘要。
func (o *Orchestrator) Progress(ctx context.Context) (mastery.Summary, error) {
	entries, err := o.mastery.Entries(ctx)
	if err != nil {
		return mastery.Summary{}, fmt.Errorf("load mastery: %w", err)
	}
	return mastery.Summarize(entries, mastery.DefaultWeakestLimit), nil
}

// OnEvent 处理客户端或调度器投递的事件。
//
// 副作用说明：
//   - 接受的事件追加到 timeline；同一 EventID 重复投递只返回当前快照。
//   - 归约后保存会话快照。
//   - 作答写入掌握度；会话转入终态时追加 hop_ended 并写复盘记录。
func (o *Orchestrator) OnEvent(ctx context.Context, sessionID string, evt model.Event) (*model.EventResponse, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.OnEvent", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("event.type", string(evt.Type)),
	))
	defer span.End()

	unlock := o.lock(sessionID)
	defer unlock()

	sess, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	// 终态或暂停时 tick 不改变任何状态，不写 timeline 也不保存。
	if evt.Type == model.EventTick && (sess.State.Terminal() || sess.State.Status == model.StatusPaused) {
		return snapshotResponse(sess), nil
	}

	if evt.EventID != "" {
		seen, ok, err := o.timeline.Lookup(ctx, sessionID, evt.EventID)
		if err != nil {
			return nil, o.fail(span, fmt.Errorf("lookup event: %w", err))
		}
		if ok && seen <= sess.State.LastEventSeq {
			// 重复投递：该事件已经归约过，返回当前快照。
			return snapshotResponse(sess), nil
		}
	}

	now := o.now()
	normalized := normalizeEvent(sessionID, evt, now)
	step, err := Reduce(sess.Hop.Sequence, sess.State, normalized, o.selector, o.rng)
	if err != nil {
		span.SetAttributes(attribute.String("event.rejected", err.Error()))
		return nil, err
	}

	seq, err := o.timeline.Append(ctx, sessionID, &normalized)
	if err != nil {
		return nil, o.fail(span, fmt.Errorf("append event: %w", err))
	}

	wasTerminal := sess.State.Terminal()
	sess.State = step.State
	sess.State.LastEventSeq = seq
	sess.State.UpdatedAt = now

	if step.Response != nil && step.Response.TimedOut {
		o.appendSystem(ctx, sess, model.Event{
			Type:           model.EventCardExpired,
			ItemID:         step.Response.QuestionID,
			SelectedOption: step.Response.SelectedOption,
			Risk:           step.Response.RiskAfter,
		}, now)
	}
	if !wasTerminal && sess.State.Terminal() {
		o.appendSystem(ctx, sess, model.Event{
			Type:   model.EventHopEnded,
			Risk:   sess.State.Risk,
			Status: string(sess.State.Status),
		}, now)
	}

	if err := o.store.Save(ctx, sess); err != nil {
		return nil, o.fail(span, fmt.Errorf("save session: %w", err))
	}

	if step.Response != nil {
		o.recordMastery(ctx, sess.Hop.Sequence, *step.Response, now)
	}
	if !wasTerminal && sess.State.Terminal() {
		o.recordDebrief(ctx, sess, now)
	}

	span.SetAttributes(
		attribute.Int("session.risk", sess.State.Risk),
		attribute.String("session.status", string(sess.State.Status)),
	)
	return &model.EventResponse{
		State:       sess.State,
		Current:     model.ItemRef{Item: current(sess)},
		Outcome:     step.Outcome,
		Response:    step.Response,
		Transition:  step.Transition,
		PhaseBridge: step.Bridge,
	}, nil
}

// appendSystem 追加服务端派生事件；失败只记日志，不影响主流程。
func (o *Orchestrator) appendSystem(ctx context.Context, sess *model.HopSession, evt model.Event, now time.Time) {
	evt.SessionID = sess.State.SessionID
	evt.ClientTS = now
	evt.ServerTS = now
	seq, err := o.timeline.Append(ctx, sess.State.SessionID, &evt)
	if err != nil {
		o.log.Warn("Append system event failed", "session_id", sess.State.SessionID, "type", evt.Type, "error", err)
		return
	}
	sess.State.LastEventSeq = seq
}

func (o *Orchestrator) recordMastery(ctx context.Context, seq model.Sequence, resp model.Response, now time.Time) {
	section := ""
	for _, item := range seq {
		if q, ok := item.(model.QuestionItem); ok && q.ID == resp.QuestionID {
			section = q.SectionName
			break
		}
	}
	err := o.mastery.Record(ctx, mastery.Attempt{
		QuestionID: resp.QuestionID,
		Section:    section,
		Correct:    resp.IsCorrect,
		At:         now,
	})
	if err != nil {
		o.log.Warn("Record mastery failed", "question_id", resp.QuestionID, "error", err)
	}
}

func (o *Orchestrator) recordDebrief(ctx context.Context, sess *model.HopSession, now time.Time) {
	rec := debrief.FromSession(sess, now)
	if err := o.recorder.Record(ctx, rec); err != nil {
		o.log.Warn("Record debrief failed", "session_id", rec.SessionID, "error", err)
		return
	}
	o.log.Info("Hop ended",
		"session_id", rec.SessionID,
		"status", rec.Status,
		"bust_reason", rec.BustReason,
		"correct", rec.CorrectCount,
		"total", rec.TotalCards,
	)
}

func (o *Orchestrator) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	o.log.Error("Orchestrator failure", "error", err)
	return err
}

// lock 按会话加锁，返回解锁函数。
func (o *Orchestrator) lock(sessionID string) func() {
	o.locksMu.Lock()
	mu, ok := o.locks[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		o.locks[sessionID] = mu
	}
	o.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// IsClientError 事件被业务规则拒绝（而不是存储故障）。
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrSessionTerminal, ErrNotAQuestion, ErrNotAcknowledged,
		ErrPaused, ErrBadOption, ErrUnknownEvent, ErrStaleItem,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func current(sess *model.HopSession) model.SequenceItem {
	if sess.State.Terminal() {
		return nil
	}
	return sess.Hop.Sequence.At(sess.State.Index)
}

func snapshotResponse(sess *model.HopSession) *model.EventResponse {
	return &model.EventResponse{
		State:   sess.State,
		Current: model.ItemRef{Item: current(sess)},
	}
}

// PlanResponse GET /hop 的返回体。
func PlanResponse(h model.Hop) model.PlanResponse {
	return model.PlanResponse{
		Sequence:      h.Sequence,
		Brief:         h.Brief,
		WxConditions:  h.WxConditions,
		Mode:          h.Mode,
		SVFRAvailable: h.SVFRAvailable,
		Mission:       h.Mission,
		Aircraft:      h.Aircraft,
	}
}

func normalizeEvent(sessionID string, evt model.Event, now time.Time) model.Event {
	// 客户端可以不传 client_ts。
	if evt.ClientTS.IsZero() {
		evt.ClientTS = now
	}
	evt.ServerTS = now
	evt.SessionID = sessionID
	evt.Seq = 0
	return evt
}
