package api

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/navguard/navguard/internal/clock/system"
	"github.com/navguard/navguard/internal/config"
	"github.com/navguard/navguard/internal/decision"
	"github.com/navguard/navguard/internal/dispatcher"
	iduuid "github.com/navguard/navguard/internal/id/uuid"
	queuemem "github.com/navguard/navguard/internal/queue/memory"
	"github.com/navguard/navguard/internal/safety"
	memstorage "github.com/navguard/navguard/internal/storage/memory"
	"github.com/navguard/navguard/internal/store"
)

const testDoc = `{
	"navigation_allowed": [
		{"from": "[*.]corp.example", "to": "[*.]docs.example"}
	],
	"navigation_blocked": [
		{"from": "*", "to": "[*.]bank.example"}
	]
}`

type serverDeps struct {
	manager   *safety.Manager
	jobs      *memstorage.JobStore
	queue     *queuemem.Queue
	decisions store.DecisionRepository
	gate      safety.Gate
	cfg       config.Config
}

func newTestDeps() *serverDeps {
	manager := safety.NewManager(zap.NewNop())
	manager.ParseSafetyLists(testDoc)
	return &serverDeps{
		manager: manager,
		jobs:    memstorage.NewJobStore(),
		queue:   queuemem.NewQueue(8),
		cfg: config.Config{
			Lists: config.ListsConfig{
				Source:       "https://example.com/lists.json",
				MaxBodyBytes: 1 << 20,
			},
		},
	}
}

func buildServer(d *serverDeps) *Server {
	clock := system.New()
	ids := iduuid.New()
	engine := decision.New(d.manager, nil, clock, ids, zap.NewNop())
	dispatch := dispatcher.New(d.queue, d.jobs, ids, clock, nil, zap.NewNop())
	return NewServer(d.manager, engine, d.jobs, dispatch, d.decisions, d.gate, d.cfg, zap.NewNop())
}

func TestServer_CheckNavigation_Blocked(t *testing.T) {
	t.Parallel()

	server := buildServer(newTestDeps())
	body := `{"from_url":"https://anything.example/page","to_url":"https://www.bank.example/login"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/navigation/check", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"outcome":"blocked"`)
	require.Contains(t, rec.Body.String(), "[*.]bank.example")
}

func TestServer_CheckNavigation_Allowed(t *testing.T) {
	t.Parallel()

	server := buildServer(newTestDeps())
	body := `{"from_url":"https://wiki.corp.example/start","to_url":"https://docs.example/page","agent_id":"agent-7"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/navigation/check", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"outcome":"allowed"`)
	require.Contains(t, rec.Body.String(), `"decision_id"`)
}

func TestServer_CheckNavigation_Unmatched(t *testing.T) {
	t.Parallel()

	server := buildServer(newTestDeps())
	body := `{"from_url":"https://stranger.example/","to_url":"https://elsewhere.example/"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/navigation/check", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"outcome":"unmatched"`)
}

func TestServer_CheckNavigation_InvalidURLRejected(t *testing.T) {
	t.Parallel()

	server := buildServer(newTestDeps())
	body := `{"from_url":"not a url","to_url":"https://docs.example/"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/navigation/check", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), `"outcome":"invalid"`)
	require.Contains(t, rec.Body.String(), "from_url")
}

func TestServer_CheckNavigation_InvalidJSON(t *testing.T) {
	t.Parallel()

	server := buildServer(newTestDeps())
	req := httptest.NewRequest(http.MethodPost, "/v1/navigation/check", bytes.NewBufferString("{invalid"))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_CheckNavigation_MissingFields(t *testing.T) {
	t.Parallel()

	server := buildServer(newTestDeps())
	req := httptest.NewRequest(http.MethodPost, "/v1/navigation/check", bytes.NewBufferString(`{"from_url":"https://a.example/"}`))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "to_url")
}

func TestServer_CheckNavigation_RateLimited(t *testing.T) {
	t.Parallel()

	deps := newTestDeps()
	deps.gate = denyGate{}
	server := buildServer(deps)

	body := `{"from_url":"https://a.example/","to_url":"https://b.example/"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/navigation/check", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestServer_GetLists_ReportsCounts(t *testing.T) {
	t.Parallel()

	server := buildServer(newTestDeps())
	req := httptest.NewRequest(http.MethodGet, "/v1/lists", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"allowed_rules":1`)
	require.Contains(t, rec.Body.String(), `"blocked_rules":1`)
	require.Contains(t, rec.Body.String(), `"document_valid":true`)
}

func TestServer_ReplaceLists_ParsesPayload(t *testing.T) {
	t.Parallel()

	deps := newTestDeps()
	server := buildServer(deps)

	doc := `{"navigation_blocked": [{"from": "*", "to": "intranet.example"}]}`
	req := httptest.NewRequest(http.MethodPut, "/v1/lists", bytes.NewBufferString(doc))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"document_valid":true`)
	require.Equal(t, 0, deps.manager.AllowedList().Size())
	require.Equal(t, 1, deps.manager.BlockedList().Size())
}

func TestServer_ReplaceLists_EmptyBody(t *testing.T) {
	t.Parallel()

	server := buildServer(newTestDeps())
	req := httptest.NewRequest(http.MethodPut, "/v1/lists", bytes.NewReader(nil))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ReplaceLists_RejectedDocumentEmptiesLists(t *testing.T) {
	t.Parallel()

	deps := newTestDeps()
	server := buildServer(deps)

	req := httptest.NewRequest(http.MethodPut, "/v1/lists", bytes.NewBufferString(`[1, 2, 3]`))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"document_valid":false`)
	require.Equal(t, 0, deps.manager.AllowedList().Size())
	require.Equal(t, 0, deps.manager.BlockedList().Size())
}

func TestServer_SubmitRefresh_ReturnsJobID(t *testing.T) {
	t.Parallel()

	deps := newTestDeps()
	server := buildServer(deps)

	req := httptest.NewRequest(http.MethodPost, "/v1/lists/refresh", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "job_id")

	item, err := deps.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, safety.RefreshReasonAPI, item.Reason)

	job, err := deps.jobs.GetJob(context.Background(), item.JobID)
	require.NoError(t, err)
	require.Equal(t, safety.JobStatusQueued, job.Status)
	require.Equal(t, "https://example.com/lists.json", job.Source)
}

func TestServer_SubmitRefresh_QueueFull(t *testing.T) {
	t.Parallel()

	deps := newTestDeps()
	deps.queue = queuemem.NewQueue(1)
	require.NoError(t, deps.queue.Enqueue(context.Background(), safety.QueueItem{JobID: "occupied"}))
	server := buildServer(deps)

	req := httptest.NewRequest(http.MethodPost, "/v1/lists/refresh", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "queue full")
}

func TestServer_GetRefreshJob_ReturnsJob(t *testing.T) {
	t.Parallel()

	deps := newTestDeps()
	job := safety.RefreshJob{ID: "job-1", Status: safety.JobStatusSucceeded, Reason: safety.RefreshReasonAPI}
	require.NoError(t, deps.jobs.CreateJob(context.Background(), job))
	server := buildServer(deps)

	req := httptest.NewRequest(http.MethodGet, "/v1/lists/refresh/job-1", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "succeeded")
}

func TestServer_GetRefreshJob_NotFound(t *testing.T) {
	t.Parallel()

	server := buildServer(newTestDeps())
	req := httptest.NewRequest(http.MethodGet, "/v1/lists/refresh/ghost", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RecentDecisions_WithoutStore(t *testing.T) {
	t.Parallel()

	server := buildServer(newTestDeps())
	req := httptest.NewRequest(http.MethodGet, "/v1/decisions/recent", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_RecentDecisions_ReturnsRows(t *testing.T) {
	t.Parallel()

	deps := newTestDeps()
	repo := &fakeDecisionRepo{records: []store.DecisionRecord{
		{
			ID:        uuid.MustParse("11111111-2222-3333-4444-555555555555"),
			DecidedAt: time.Unix(1700000000, 0).UTC(),
			FromURL:   "https://a.example/",
			ToURL:     "https://bank.example/",
			Outcome:   "blocked",
		},
	}}
	deps.decisions = repo
	server := buildServer(deps)

	req := httptest.NewRequest(http.MethodGet, "/v1/decisions/recent?limit=10", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"outcome":"blocked"`)
	require.Equal(t, 10, repo.lastLimit())
}

func TestServer_RecentDecisions_InvalidLimit(t *testing.T) {
	t.Parallel()

	deps := newTestDeps()
	deps.decisions = &fakeDecisionRepo{}
	server := buildServer(deps)

	req := httptest.NewRequest(http.MethodGet, "/v1/decisions/recent?limit=-3", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	deps := newTestDeps()
	deps.cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	server := buildServer(deps)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	buildServer(newTestDeps()).Handler().ServeHTTP(rec, req)

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	server := buildServer(newTestDeps())
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Body.String())
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

type denyGate struct{}

func (denyGate) Allow(string) bool { return false }

type fakeDecisionRepo struct {
	mu      sync.Mutex
	records []store.DecisionRecord
	limit   int
	err     error
}

func (f *fakeDecisionRepo) InsertDecision(_ context.Context, rec store.DecisionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return f.err
}

func (f *fakeDecisionRepo) GetDecision(_ context.Context, id uuid.UUID) (store.DecisionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return store.DecisionRecord{}, store.ErrNotFound
}

func (f *fakeDecisionRepo) RecentDecisions(_ context.Context, limit int) ([]store.DecisionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return append([]store.DecisionRecord(nil), f.records...), nil
}

func (f *fakeDecisionRepo) lastLimit() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.limit
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	rw := bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server))
	return server, rw, nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client == nil {
		return errors.New("no hijacked client")
	}
	return h.client.Close()
}
