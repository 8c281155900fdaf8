package orchestrator

import (
	"errors"

	"skytrail/server/internal/engine"
	"skytrail/server/internal/model"
	"skytrail/server/internal/rng"
)

var (
	ErrSessionTerminal = engine.ErrTerminal
	ErrNotAQuestion    = engine.ErrNotAQuestion
	ErrNotAcknowledged = engine.ErrNotAcknowledged
	ErrPaused          = engine.ErrPaused
	ErrBadOption       = engine.ErrBadOption
	ErrUnknownEvent    = errors.New("unknown event type")
	// ErrStaleItem 事件指定的 itemId 已不是当前项（客户端落后于服务端）。
	ErrStaleItem = errors.New("event targets an item that is no longer current")
)

// Step 一个事件归约后的结果：引擎推进 + 过场文本。
type Step struct {
	engine.Result
	Transition string
	Bridge     string
}

// Reduce 只做归约，不触发外部调用。
// 约定：同一序列、同一起始状态、同一事件得到同一新状态；过场文本只影响展示。
func Reduce(seq model.Sequence, st model.SessionState, evt model.Event, sel engine.Selector, r rng.Source) (Step, error) {
	if evt.ItemID != "" && (evt.Type == model.EventAnswer || evt.Type == model.EventAck) {
		if cur := seq.At(st.Index); cur == nil || cur.ItemID() != evt.ItemID {
			return Step{Result: engine.Result{State: st}}, ErrStaleItem
		}
	}

	var (
		res engine.Result
		err error
	)
	switch evt.Type {
	case model.EventAnswer:
		res, err = engine.Answer(seq, st, evt.SelectedOption)
	case model.EventAck:
		res, err = engine.Acknowledge(seq, st)
	case model.EventTick:
		seconds := evt.Seconds
		if seconds <= 0 {
			seconds = 1
		}
		res = engine.Tick(seq, st, seconds)
	case model.EventPause:
		res.State, err = engine.Pause(st)
	case model.EventResume:
		res.State, err = engine.Resume(st)
	default:
		return Step{Result: engine.Result{State: st}}, ErrUnknownEvent
	}
	if err != nil {
		return Step{Result: engine.Result{State: st}}, err
	}

	step := Step{Result: res}
	step.Transition, step.Bridge = sel.Narrate(res, r)
	return step, nil
}
