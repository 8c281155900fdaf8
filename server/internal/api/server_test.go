package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"skytrail/server/internal/catalog"
	"skytrail/server/internal/config"
	"skytrail/server/internal/debrief"
	"skytrail/server/internal/domain"
	"skytrail/server/internal/grading"
	"skytrail/server/internal/mastery"
	"skytrail/server/internal/model"
	"skytrail/server/internal/orchestrator"
	"skytrail/server/internal/rng"
	"skytrail/server/internal/session"
	"skytrail/server/internal/timeline"
)

// fakeCatalog 内存题库，Search 只支持精确题号与章节过滤。
type fakeCatalog struct {
	questions []model.QuestionRecord
	pingErr   error
}

func (f *fakeCatalog) All(context.Context) ([]model.QuestionRecord, error) {
	return f.questions, nil
}

func (f *fakeCatalog) Search(_ context.Context, query string, section *int) ([]model.QuestionRecord, error) {
	var out []model.QuestionRecord
	for _, q := range f.questions {
		if query != "" && q.ID != query {
			continue
		}
		if section != nil && q.SectionNumber() != strconv.Itoa(*section) {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func (f *fakeCatalog) References(_ context.Context, id string) ([]model.Reference, error) {
	for _, q := range f.questions {
		if q.ID == id && len(q.References) > 0 {
			return q.References, nil
		}
	}
	return nil, catalog.ErrNoReferences
}

func (f *fakeCatalog) Ping(context.Context) error { return f.pingErr }

func newTestServer(t *testing.T) (*Server, *fakeCatalog) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	lib, err := domain.Load()
	if err != nil {
		t.Fatalf("load library: %v", err)
	}
	set, err := catalog.LoadSeed()
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	cat := &fakeCatalog{questions: set.Questions}
	orch := orchestrator.New(orchestrator.Deps{
		Sessions: session.NewInMemoryStore(),
		Timeline: timeline.NewInMemoryStore(),
		Library:  lib,
		Catalog:  catalog.NewSnapshot(set.Questions),
		Rand:     rng.NewSeeded(7),
		Mastery:  mastery.NewInMemoryStore(),
	})
	return NewServer(config.Default(), orch, cat, rng.NewSeeded(11), nil), cat
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

// TestPlanHopEndpoint 验证 /hop 返回完整规划且禁止缓存。
// 场景：未知任务与机型回落到默认值。
func TestPlanHopEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Routes(), http.MethodGet, "/hop?mission=moon-shot&aircraft=X99", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if cc := rec.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Fatalf("expected no-store cache control, got %q", cc)
	}
	plan := decode[model.PlanResponse](t, rec)
	if plan.Mission != "local" || plan.Aircraft != "C172" {
		t.Fatalf("expected fallback local/C172, got %s/%s", plan.Mission, plan.Aircraft)
	}
	if len(plan.Sequence) == 0 {
		t.Fatalf("expected non-empty sequence")
	}
	if plan.Mode != model.ModeVFR && plan.Mode != model.ModeGoNoGo {
		t.Fatalf("unexpected mode %q", plan.Mode)
	}
}

// TestHopLifecycle 验证创建会话后逐项作答直到 debrief，终态后的作答返回 409。
func TestHopLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Routes()

	rec := doJSON(t, h, http.MethodPost, "/api/hops", model.CreateHopRequest{Mission: "local", Aircraft: "C172"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[model.CreateHopResponse](t, rec)
	id := created.SessionID
	eventsPath := "/api/hops/" + id + "/events"

	current := created.Current.Item
	state := created.State
	for i := 0; !state.Terminal(); i++ {
		if i > 100 {
			t.Fatalf("hop did not finish")
		}
		var evt model.Event
		switch item := current.(type) {
		case model.QuestionItem:
			evt = model.Event{Type: model.EventAnswer, ItemID: item.ID, SelectedOption: item.CorrectOption}
		case model.RadioItem, model.EmergencyItem:
			evt = model.Event{Type: model.EventAck, ItemID: item.ItemID()}
		default:
			t.Fatalf("unexpected current item %T", current)
		}
		rec := doJSON(t, h, http.MethodPost, eventsPath, evt)
		if rec.Code != http.StatusOK {
			t.Fatalf("event %d: expected 200, got %d: %s", i, rec.Code, rec.Body.String())
		}
		resp := decode[model.EventResponse](t, rec)
		state = resp.State
		current = resp.Current.Item
	}
	if state.Status != model.StatusDebrief {
		t.Fatalf("expected debrief after all-correct run, got %s", state.Status)
	}

	rec = doJSON(t, h, http.MethodPost, eventsPath, model.Event{Type: model.EventAnswer, SelectedOption: 1})
	if rec.Code != http.StatusConflict {
		t.Fatalf("answer after debrief: expected 409, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/hops/"+id+"/timeline?after=1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("timeline: expected 200, got %d", rec.Code)
	}
	tl := decode[struct {
		Events []model.Event `json:"events"`
	}](t, rec)
	if len(tl.Events) == 0 || tl.Events[0].Seq != 2 {
		t.Fatalf("expected events after seq 1, got %+v", tl.Events)
	}
	if last := tl.Events[len(tl.Events)-1]; last.Type != model.EventHopEnded {
		t.Fatalf("expected timeline to end with hop_ended, got %s", last.Type)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/progress", nil)
	progress := decode[mastery.Summary](t, rec)
	if progress.TotalSeen == 0 || progress.TotalSeen != progress.TotalCorrect {
		t.Fatalf("expected all recorded answers correct, got %+v", progress)
	}

	if rec := doJSON(t, h, http.MethodDelete, "/api/hops/"+id, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodGet, "/api/hops/"+id, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", rec.Code)
	}
}

// TestHopEventErrors 验证事件错误的状态码映射。
func TestHopEventErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Routes()

	rec := doJSON(t, h, http.MethodPost, "/api/hops", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create with empty body: expected 201, got %d", rec.Code)
	}
	id := decode[model.CreateHopResponse](t, rec).SessionID

	cases := []struct {
		name string
		path string
		body any
		want int
	}{
		{"unknown session", "/api/hops/nope/events", model.Event{Type: model.EventPause}, http.StatusNotFound},
		{"unknown type", "/api/hops/" + id + "/events", model.Event{Type: "barrel_roll"}, http.StatusBadRequest},
		{"malformed", "/api/hops/" + id + "/events", "not an event", http.StatusBadRequest},
		{"stale item", "/api/hops/" + id + "/events", model.Event{Type: model.EventAck, ItemID: "radio-none"}, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := doJSON(t, h, http.MethodPost, tc.path, tc.body); rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}

	if rec := doJSON(t, h, http.MethodGet, "/api/hops/"+id+"/timeline?after=x", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad after: expected 400, got %d", rec.Code)
	}
}

// TestSimEndpoints 验证模拟考抽题与判分。
func TestSimEndpoints(t *testing.T) {
	srv, cat := newTestServer(t)
	h := srv.Routes()

	rec := doJSON(t, h, http.MethodGet, "/api/sim", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get sim: expected 200, got %d", rec.Code)
	}
	drawn := decode[[]model.QuestionRecord](t, rec)
	if want := min(grading.SimSize, len(cat.questions)); len(drawn) != want {
		t.Fatalf("expected %d questions, got %d", want, len(drawn))
	}

	q := cat.questions[0]
	req := model.SimRequest{Responses: []model.SimAnswer{
		{QuestionID: q.ID, SelectedOption: q.CorrectOption},
		{QuestionID: "99.99", SelectedOption: 1},
	}}
	rec = doJSON(t, h, http.MethodPost, "/api/sim", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("post sim: expected 200, got %d", rec.Code)
	}
	res := decode[model.SimResult](t, rec)
	if res.Correct != 1 || res.Total != 2 || res.Score != 50 || res.Passed {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Results[1].IsCorrect || res.Results[1].CorrectOption != 0 {
		t.Fatalf("unknown id should grade incorrect with correctOption 0, got %+v", res.Results[1])
	}

	if rec := doJSON(t, h, http.MethodPost, "/api/sim", "oops"); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed sim: expected 400, got %d", rec.Code)
	}
}

// TestQuestionsAndRefs 验证题库浏览与出处查询的参数校验。
func TestQuestionsAndRefs(t *testing.T) {
	srv, cat := newTestServer(t)
	h := srv.Routes()
	q := cat.questions[0]

	if rec := doJSON(t, h, http.MethodGet, "/api/questions?section=abc", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad section: expected 400, got %d", rec.Code)
	}
	rec := doJSON(t, h, http.MethodGet, "/api/questions?q="+q.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search: expected 200, got %d", rec.Code)
	}
	if got := decode[[]model.QuestionRecord](t, rec); len(got) != 1 || got[0].ID != q.ID {
		t.Fatalf("expected exactly %s, got %+v", q.ID, got)
	}
	rec = doJSON(t, h, http.MethodGet, "/api/questions?q=no-such-id", nil)
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Fatalf("expected empty array, got %s", body)
	}

	if rec := doJSON(t, h, http.MethodGet, "/api/refs", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing questionId: expected 400, got %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodGet, "/api/refs?questionId=99.99", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown refs: expected 404, got %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodGet, "/api/refs?questionId="+q.ID, nil); rec.Code != http.StatusOK {
		t.Fatalf("refs: expected 200, got %d", rec.Code)
	}
}

// TestHealthz 验证题库断开时返回 503。
func TestHealthz(t *testing.T) {
	srv, cat := newTestServer(t)
	h := srv.Routes()

	if rec := doJSON(t, h, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	cat.pingErr = errors.New("connection refused")
	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["status"] != "error" || body["database"] != "disconnected" {
		t.Fatalf("unexpected body %+v", body)
	}
}

type fakeDebriefs struct {
	records []debrief.Record
	limit   int
}

func (f *fakeDebriefs) Recent(_ context.Context, limit int) ([]debrief.Record, error) {
	f.limit = limit
	return f.records[:min(limit, len(f.records))], nil
}

// TestDebriefs 验证复盘列表的 limit 校验与默认值。
func TestDebriefs(t *testing.T) {
	srv, _ := newTestServer(t)
	if rec := doJSON(t, srv.Routes(), http.MethodGet, "/api/debriefs", nil); strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty list without lister, got %s", rec.Body.String())
	}

	lister := &fakeDebriefs{records: []debrief.Record{{SessionID: "a"}, {SessionID: "b"}}}
	h := srv.WithDebriefs(lister).Routes()

	if rec := doJSON(t, h, http.MethodGet, "/api/debriefs?limit=0", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for limit=0, got %d", rec.Code)
	}
	rec := doJSON(t, h, http.MethodGet, "/api/debriefs?limit=1", nil)
	if got := decode[[]debrief.Record](t, rec); len(got) != 1 || got[0].SessionID != "a" {
		t.Fatalf("unexpected records %+v", got)
	}
	doJSON(t, h, http.MethodGet, "/api/debriefs", nil)
	if lister.limit != 20 {
		t.Fatalf("expected default limit 20, got %d", lister.limit)
	}
}
