package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hyperengineering/mealclarify/internal/clarify"
	"github.com/hyperengineering/mealclarify/internal/metrics"
	"github.com/hyperengineering/mealclarify/internal/snapshot"
	"github.com/hyperengineering/mealclarify/internal/store"
	"github.com/hyperengineering/mealclarify/internal/types"
	"github.com/hyperengineering/mealclarify/internal/validation"
	"github.com/hyperengineering/mealclarify/internal/worker"
)

// --- Mock Implementations for Testing ---

// mockClarifier implements Clarifier for testing.
type mockClarifier struct {
	mu sync.Mutex

	outcome   *clarify.Outcome
	submitErr error
	submits   int
	lastUser  string
	lastMedia types.Media

	pending   *types.PendingClarification
	statusErr error

	cancelled bool
	cancelErr error
}

func (m *mockClarifier) HandleSubmission(ctx context.Context, userID string, media types.Media) (*clarify.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submits++
	m.lastUser = userID
	m.lastMedia = media
	return m.outcome, m.submitErr
}

func (m *mockClarifier) Cancel(ctx context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastUser = userID
	return m.cancelled, m.cancelErr
}

func (m *mockClarifier) Status(ctx context.Context, userID string) (*types.PendingClarification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastUser = userID
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	if m.pending == nil {
		return nil, store.ErrNotFound
	}
	return m.pending, nil
}

func (m *mockClarifier) ModelName() string { return "gpt-test" }

// mockReaper implements Reaper for testing.
type mockReaper struct {
	mu         sync.Mutex
	removed    int64
	err        error
	lastMaxAge time.Duration
	calls      int
}

func (m *mockReaper) RunOnce(ctx context.Context, maxAge time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastMaxAge = maxAge
	return m.removed, m.err
}

func (m *mockReaper) MaxAge() time.Duration { return 24 * time.Hour }

// mockCounter implements PendingCounter for testing.
type mockCounter struct {
	count int64
	err   error
}

func (m *mockCounter) Count(ctx context.Context) (int64, error) { return m.count, m.err }

// mockUploader implements snapshot.Uploader for testing.
type mockUploader struct {
	url    string
	expiry time.Time
	err    error
}

func (m *mockUploader) Upload(ctx context.Context, filePath string) error { return nil }

func (m *mockUploader) PresignedURL(ctx context.Context) (string, time.Time, error) {
	return m.url, m.expiry, m.err
}

type testDeps struct {
	clarifier *mockClarifier
	reaper    *mockReaper
	counter   *mockCounter
	uploader  snapshot.Uploader
}

func newTestServer(t *testing.T, d testDeps) (*Handler, http.Handler) {
	t.Helper()
	captureLogs(t)
	if d.clarifier == nil {
		d.clarifier = &mockClarifier{}
	}
	if d.reaper == nil {
		d.reaper = &mockReaper{}
	}
	if d.counter == nil {
		d.counter = &mockCounter{}
	}
	h := NewHandler(d.clarifier, d.reaper, d.counter, d.uploader, HandlerConfig{
		APIKey:        testAPIKey,
		Version:       "1.2.3",
		Limits:        validation.Limits{MaxMediaBytes: 1 << 10, MaxTextLength: 200},
		MaxPendingAge: 24 * time.Hour,
	})
	return h, NewRouter(h, nil)
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", w.Body.String(), err)
	}
	return v
}

// --- Health Endpoint Tests ---

func TestHealth_NoAuthRequired(t *testing.T) {
	_, router := newTestServer(t, testDeps{counter: &mockCounter{count: 7}})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decode[types.HealthResponse](t, w)
	if resp.Status != "healthy" || resp.Version != "1.2.3" {
		t.Errorf("status/version = %q/%q", resp.Status, resp.Version)
	}
	if resp.AnalysisModel != "gpt-test" {
		t.Errorf("analysis_model = %q, want gpt-test", resp.AnalysisModel)
	}
	if resp.PendingCount != 7 {
		t.Errorf("pending_count = %d, want 7", resp.PendingCount)
	}
}

func TestHealth_StoreError(t *testing.T) {
	_, router := newTestServer(t, testDeps{counter: &mockCounter{err: errors.New("db closed")}})

	w := doRequest(t, router, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

// --- Submission Tests ---

func TestSubmit_Resolved(t *testing.T) {
	clar := &mockClarifier{outcome: &clarify.Outcome{
		Kind:   clarify.OutcomeResolved,
		Result: &types.AnalysisResult{Items: []types.FoodItem{{Name: "oatmeal"}}},
	}}
	_, router := newTestServer(t, testDeps{clarifier: clar})

	w := doRequest(t, router, http.MethodPost, "/api/v1/users/42/submissions",
		`{"media_type":"text","text":"a bowl of oatmeal"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	resp := decode[types.SubmissionResponse](t, w)
	if resp.Status != types.StatusResolved {
		t.Errorf("status = %q, want resolved", resp.Status)
	}
	if len(resp.SubmissionID) != 26 {
		t.Errorf("submission_id = %q, want a ULID", resp.SubmissionID)
	}
	if resp.Result == nil || resp.Result.Items[0].Name != "oatmeal" {
		t.Errorf("result = %+v", resp.Result)
	}
	if clar.lastUser != "42" {
		t.Errorf("user = %q, want 42", clar.lastUser)
	}
	if got, ok := clar.lastMedia.(types.Text); !ok || got.Body != "a bowl of oatmeal" {
		t.Errorf("media = %#v", clar.lastMedia)
	}
}

func TestSubmit_NeedsClarification(t *testing.T) {
	clar := &mockClarifier{outcome: &clarify.Outcome{
		Kind:          clarify.OutcomeNeedsClarification,
		Clarification: true,
		Result:        &types.AnalysisResult{Uncertainty: types.Uncertainty{HasUncertainty: true}},
		Pending: &types.PendingClarification{
			UserID:             "42",
			UncertainItems:     []string{"sauce"},
			UncertaintyReasons: []string{"sauce not visible"},
		},
	}}
	_, router := newTestServer(t, testDeps{clarifier: clar})

	photo := base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8, 0xff})
	w := doRequest(t, router, http.MethodPost, "/api/v1/users/42/submissions",
		fmt.Sprintf(`{"media_type":"photo","data":%q}`, photo))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	resp := decode[types.SubmissionResponse](t, w)
	if resp.Status != types.StatusNeedsClarification || !resp.Clarification {
		t.Errorf("status/clarification = %q/%v", resp.Status, resp.Clarification)
	}
	if resp.Result != nil {
		t.Errorf("result should be omitted when clarification is needed, got %+v", resp.Result)
	}
	if len(resp.UncertainItems) != 1 || resp.UncertainItems[0] != "sauce" {
		t.Errorf("uncertain_items = %v", resp.UncertainItems)
	}
	if len(resp.UncertaintyReasons) != 1 {
		t.Errorf("uncertainty_reasons = %v", resp.UncertaintyReasons)
	}
}

func TestSubmit_InvalidJSON(t *testing.T) {
	clar := &mockClarifier{}
	_, router := newTestServer(t, testDeps{clarifier: clar})

	w := doRequest(t, router, http.MethodPost, "/api/v1/users/42/submissions", `{"media_type":`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if clar.submits != 0 {
		t.Error("orchestrator must not be called for invalid JSON")
	}
}

func TestSubmit_ValidationErrors(t *testing.T) {
	clar := &mockClarifier{}
	_, router := newTestServer(t, testDeps{clarifier: clar})

	w := doRequest(t, router, http.MethodPost, "/api/v1/users/42/submissions", `{"media_type":"video"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	p := decode[ProblemWithErrors](t, w)
	if len(p.Errors) == 0 || p.Errors[0].Field != "media_type" {
		t.Errorf("errors = %+v", p.Errors)
	}
	if clar.submits != 0 {
		t.Error("orchestrator must not be called for invalid submissions")
	}
}

func TestSubmit_BodyTooLarge(t *testing.T) {
	_, router := newTestServer(t, testDeps{})

	huge := strings.Repeat("A", 200<<10)
	w := doRequest(t, router, http.MethodPost, "/api/v1/users/42/submissions",
		fmt.Sprintf(`{"media_type":"photo","data":%q}`, huge))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
}

func TestSubmit_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"analysis failed", fmt.Errorf("%w: provider down", clarify.ErrAnalysisFailed), http.StatusBadGateway},
		{"persistence failed", fmt.Errorf("%w: get", store.ErrPersistenceFailed), http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, router := newTestServer(t, testDeps{clarifier: &mockClarifier{submitErr: tt.err}})
			w := doRequest(t, router, http.MethodPost, "/api/v1/users/42/submissions",
				`{"media_type":"text","text":"toast"}`)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestSubmit_RequiresAuth(t *testing.T) {
	clar := &mockClarifier{}
	_, router := newTestServer(t, testDeps{clarifier: clar})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/42/submissions",
		strings.NewReader(`{"media_type":"text","text":"toast"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if clar.submits != 0 {
		t.Error("orchestrator must not be called without auth")
	}
}

// --- Clarification Status / Cancel Tests ---

func TestGetClarification(t *testing.T) {
	created := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	clar := &mockClarifier{pending: &types.PendingClarification{
		ID:             "01JTEST000000000000000000",
		UserID:         "42",
		Media:          types.Audio{Data: []byte("OggS"), Filename: "voice_message.ogg"},
		UncertainItems: []string{"drink"},
		CreatedAt:      created,
	}}
	h, router := newTestServer(t, testDeps{clarifier: clar})
	h.now = func() time.Time { return created.Add(30 * time.Minute) }

	w := doRequest(t, router, http.MethodGet, "/api/v1/users/42/clarification", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	v := decode[types.ClarificationView](t, w)
	if v.MediaType != types.MediaAudio {
		t.Errorf("media_type = %q, want audio", v.MediaType)
	}
	if v.AgeSeconds != 1800 {
		t.Errorf("age_seconds = %d, want 1800", v.AgeSeconds)
	}
	if !v.ExpiresAt.Equal(created.Add(24 * time.Hour)) {
		t.Errorf("expires_at = %v", v.ExpiresAt)
	}
}

func TestGetClarification_NotFound(t *testing.T) {
	_, router := newTestServer(t, testDeps{})

	w := doRequest(t, router, http.MethodGet, "/api/v1/users/42/clarification", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestCancelClarification(t *testing.T) {
	for _, cancelled := range []bool{true, false} {
		t.Run(fmt.Sprint(cancelled), func(t *testing.T) {
			_, router := newTestServer(t, testDeps{clarifier: &mockClarifier{cancelled: cancelled}})

			w := doRequest(t, router, http.MethodDelete, "/api/v1/users/42/clarification", "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			if resp := decode[types.CancelResponse](t, w); resp.Cancelled != cancelled {
				t.Errorf("cancelled = %v, want %v", resp.Cancelled, cancelled)
			}
		})
	}
}

func TestCancelClarification_StoreError(t *testing.T) {
	clar := &mockClarifier{cancelErr: fmt.Errorf("%w: clear", store.ErrPersistenceFailed)}
	_, router := newTestServer(t, testDeps{clarifier: clar})

	w := doRequest(t, router, http.MethodDelete, "/api/v1/users/42/clarification", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

// --- Admin Tests ---

func TestSweep_DefaultMaxAge(t *testing.T) {
	reaper := &mockReaper{removed: 4}
	_, router := newTestServer(t, testDeps{reaper: reaper})

	w := doRequest(t, router, http.MethodPost, "/api/v1/admin/sweep", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decode[types.SweepResponse](t, w)
	if resp.Removed != 4 || resp.MaxAge != "24h0m0s" {
		t.Errorf("resp = %+v", resp)
	}
	if reaper.lastMaxAge != 24*time.Hour {
		t.Errorf("maxAge = %v, want 24h", reaper.lastMaxAge)
	}
}

func TestSweep_QueryMaxAge(t *testing.T) {
	reaper := &mockReaper{}
	_, router := newTestServer(t, testDeps{reaper: reaper})

	w := doRequest(t, router, http.MethodPost, "/api/v1/admin/sweep?max_age=90m", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if reaper.lastMaxAge != 90*time.Minute {
		t.Errorf("maxAge = %v, want 90m", reaper.lastMaxAge)
	}
}

func TestSweep_InvalidMaxAge(t *testing.T) {
	for _, q := range []string{"soon", "-1h"} {
		t.Run(q, func(t *testing.T) {
			reaper := &mockReaper{}
			_, router := newTestServer(t, testDeps{reaper: reaper})

			w := doRequest(t, router, http.MethodPost, "/api/v1/admin/sweep?max_age="+q, "")
			if w.Code != http.StatusUnprocessableEntity {
				t.Errorf("status = %d, want 422", w.Code)
			}
			if reaper.calls != 0 {
				t.Error("reaper must not run for an invalid max_age")
			}
		})
	}
}

func TestSnapshotURL(t *testing.T) {
	expiry := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	up := &mockUploader{url: "https://s3.example.com/snap?sig=1", expiry: expiry}
	_, router := newTestServer(t, testDeps{uploader: up})

	w := doRequest(t, router, http.MethodGet, "/api/v1/admin/snapshot", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decode[types.SnapshotURLResponse](t, w)
	if resp.URL != up.url || !resp.ExpiresAt.Equal(expiry) {
		t.Errorf("resp = %+v", resp)
	}
}

func TestSnapshotURL_NotConfigured(t *testing.T) {
	_, router := newTestServer(t, testDeps{})

	w := doRequest(t, router, http.MethodGet, "/api/v1/admin/snapshot", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestSnapshotURL_Error(t *testing.T) {
	_, router := newTestServer(t, testDeps{uploader: &mockUploader{err: errors.New("access denied")}})

	w := doRequest(t, router, http.MethodGet, "/api/v1/admin/snapshot", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

// --- Metrics endpoint ---

func TestMetricsEndpoint(t *testing.T) {
	captureLogs(t)
	reg := prometheus.NewRegistry()
	m := metrics.MustNewMetrics(reg)
	m.IncCancellation()

	h := NewHandler(&mockClarifier{}, &mockReaper{}, &mockCounter{}, nil, HandlerConfig{APIKey: testAPIKey})
	router := NewRouter(h, reg)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "mealclarify_") {
		t.Errorf("expected mealclarify metrics in exposition, got %q", w.Body.String())
	}
}

// --- Full stack: router + orchestrator + SQLite ---

// scriptedProvider returns an uncertain result for fresh analyses and a
// resolved one for clarifications.
type scriptedProvider struct{}

func (scriptedProvider) Analyze(ctx context.Context, media types.Media) (*types.AnalysisResult, error) {
	return &types.AnalysisResult{
		Items: []types.FoodItem{{Name: "pasta"}},
		Uncertainty: types.Uncertainty{
			HasUncertainty:     true,
			UncertainItems:     []string{"sauce"},
			UncertaintyReasons: []string{"sauce type unclear"},
		},
	}, nil
}

func (scriptedProvider) Reanalyze(ctx context.Context, originalSummary string, clarification types.Media) (*types.AnalysisResult, error) {
	return &types.AnalysisResult{
		Items:  []types.FoodItem{{Name: "pasta"}, {Name: "pesto"}},
		Totals: types.Nutrition{Calories: 620},
	}, nil
}

func (scriptedProvider) ModelName() string { return "scripted" }

func TestFullStack_ClarificationRoundTrip(t *testing.T) {
	captureLogs(t)
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "pending.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer s.Close()

	orch := clarify.NewOrchestrator(s, scriptedProvider{})
	reaper := worker.NewExpiryReaper(s, 24*time.Hour, time.Hour, nil)
	h := NewHandler(orch, reaper, s, nil, HandlerConfig{
		APIKey:        testAPIKey,
		Limits:        validation.Limits{MaxMediaBytes: 1 << 20, MaxTextLength: 4000},
		MaxPendingAge: 24 * time.Hour,
	})
	router := NewRouter(h, nil)

	w := doRequest(t, router, http.MethodPost, "/api/v1/users/7/submissions", `{"media_type":"text","text":"pasta"}`)
	if resp := decode[types.SubmissionResponse](t, w); resp.Status != types.StatusNeedsClarification {
		t.Fatalf("first submission status = %q, want needs_clarification", resp.Status)
	}

	w = doRequest(t, router, http.MethodGet, "/api/v1/users/7/clarification", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status after uncertain analysis = %d, want 200", w.Code)
	}
	if v := decode[types.ClarificationView](t, w); v.MediaType != types.MediaText || v.UncertainItems[0] != "sauce" {
		t.Errorf("view = %+v", v)
	}

	w = doRequest(t, router, http.MethodPost, "/api/v1/users/7/submissions", `{"media_type":"text","text":"it was pesto"}`)
	resp := decode[types.SubmissionResponse](t, w)
	if resp.Status != types.StatusResolved || !resp.Clarification {
		t.Fatalf("clarification status/flag = %q/%v, want resolved/true", resp.Status, resp.Clarification)
	}
	if resp.Result == nil || len(resp.Result.Items) != 2 {
		t.Errorf("result = %+v", resp.Result)
	}

	w = doRequest(t, router, http.MethodGet, "/api/v1/users/7/clarification", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status after resolution = %d, want 404", w.Code)
	}

	w = doRequest(t, router, http.MethodGet, "/api/v1/health", "")
	if hr := decode[types.HealthResponse](t, w); hr.PendingCount != 0 || hr.AnalysisModel != "scripted" {
		t.Errorf("health = %+v", hr)
	}
}
