package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"aimx.console/internal/adapters/transport/sse"
	"aimx.console/internal/adapters/transport/ws"
	"aimx.console/internal/core/domain"
	"aimx.console/internal/core/ports"
	"aimx.console/internal/core/services"
	"aimx.console/internal/core/stream"
)

type stubRepo struct {
	mu        sync.Mutex
	workloads map[string]*domain.Workload
}

func newStubRepo() *stubRepo {
	return &stubRepo{workloads: make(map[string]*domain.Workload)}
}

func (r *stubRepo) Create(_ context.Context, w *domain.Workload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *w
	r.workloads[w.ID] = &cp
	return nil
}

func (r *stubRepo) Get(_ context.Context, id string) (*domain.Workload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workloads[id]
	if !ok {
		return nil, ports.ErrWorkloadNotFound
	}
	cp := *w
	return &cp, nil
}

func (r *stubRepo) Update(_ context.Context, w *domain.Workload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workloads[w.ID]; !ok {
		return ports.ErrWorkloadNotFound
	}
	cp := *w
	r.workloads[w.ID] = &cp
	return nil
}

func (r *stubRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workloads[id]; !ok {
		return ports.ErrWorkloadNotFound
	}
	delete(r.workloads, id)
	return nil
}

func (r *stubRepo) List(_ context.Context, projectID string, offset, limit int) ([]*domain.Workload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*domain.Workload
	for _, w := range r.workloads {
		if projectID == "" || w.ProjectID == projectID {
			cp := *w
			all = append(all, &cp)
		}
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *stubRepo) Count(_ context.Context, projectID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, w := range r.workloads {
		if projectID == "" || w.ProjectID == projectID {
			n++
		}
	}
	return n, nil
}

func (r *stubRepo) ListByStatus(_ context.Context, status domain.WorkloadStatus) ([]*domain.Workload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Workload
	for _, w := range r.workloads {
		if w.Status == status {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out, nil
}

type stubPubSub struct {
	mu      sync.Mutex
	history map[string][]domain.LogEntry
	subs    map[string][]chan domain.LogEntry
}

func newStubPubSub() *stubPubSub {
	return &stubPubSub{
		history: make(map[string][]domain.LogEntry),
		subs:    make(map[string][]chan domain.LogEntry),
	}
}

func (p *stubPubSub) Publish(_ context.Context, workloadID string, entry domain.LogEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history[workloadID] = append(p.history[workloadID], entry)
	for _, ch := range p.subs[workloadID] {
		ch <- entry
	}
	return nil
}

func (p *stubPubSub) PublishDone(_ context.Context, workloadID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subs[workloadID] {
		close(ch)
	}
	p.subs[workloadID] = nil
	return nil
}

func (p *stubPubSub) Subscribe(_ context.Context, workloadID string) (<-chan domain.LogEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan domain.LogEntry, 64)
	p.subs[workloadID] = append(p.subs[workloadID], ch)
	return ch, nil
}

func (p *stubPubSub) Recent(_ context.Context, workloadID string, limit int) ([]domain.LogEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entries := p.history[workloadID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]domain.LogEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (p *stubPubSub) SubscribeAll(_ context.Context) (<-chan ports.WorkloadLogEntry, error) {
	ch := make(chan ports.WorkloadLogEntry)
	close(ch)
	return ch, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *services.WorkloadService) {
	t.Helper()
	repo := newStubRepo()
	pubsub := newStubPubSub()
	workloadSvc := services.NewWorkloadService(repo, pubsub)
	healthSvc := services.NewHealthService(nil, nil, "test")
	srv := NewServer(workloadSvc, healthSvc)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, workloadSvc
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func createWorkload(t *testing.T, ts *httptest.Server) *domain.Workload {
	t.Helper()
	resp := postJSON(t, ts.URL+"/api/workloads", CreateWorkloadRequest{
		Name: "bench", Kind: "training", Image: "img:1",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create returned %d", resp.StatusCode)
	}
	var w domain.Workload
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return &w
}

func TestCreateWorkloadValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/workloads", CreateWorkloadRequest{Name: "   "})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank name returned %d, want 400", resp.StatusCode)
	}
}

func TestGetWorkloadNotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/workloads/wl-nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestIngestThenRecentLogs(t *testing.T) {
	ts, _ := newTestServer(t)
	w := createWorkload(t, ts)

	resp := postJSON(t, ts.URL+"/api/workloads/"+w.ID+"/logs", IngestLogsRequest{
		Entries: []domain.LogEntry{
			{Level: domain.LevelInfo, Message: "epoch 1"},
			{Level: domain.LevelWarning, Message: "slow shard"},
		},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("ingest returned %d", resp.StatusCode)
	}

	resp2, err := http.Get(ts.URL + "/api/workloads/" + w.ID + "/logs")
	if err != nil {
		t.Fatalf("GET logs: %v", err)
	}
	defer resp2.Body.Close()
	var out struct {
		Entries []domain.LogEntry `json:"entries"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Entries) != 2 || out.Entries[1].Message != "slow shard" {
		t.Errorf("entries = %+v", out.Entries)
	}
}

func TestIngestEmptyBatchRejected(t *testing.T) {
	ts, _ := newTestServer(t)
	w := createWorkload(t, ts)

	resp := postJSON(t, ts.URL+"/api/workloads/"+w.ID+"/logs", IngestLogsRequest{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty batch returned %d, want 400", resp.StatusCode)
	}
}

func TestStreamSSEBadQueryRejected(t *testing.T) {
	ts, _ := newTestServer(t)
	w := createWorkload(t, ts)

	resp, err := http.Get(ts.URL + "/api/workloads/" + w.ID + "/logs/stream?start_date=yesterday")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

// A finished workload's stream replays history and ends with the sentinel,
// which a consumer observes as a clean stop.
func TestStreamSSETerminalWorkloadEndsCleanly(t *testing.T) {
	ts, svc := newTestServer(t)
	w := createWorkload(t, ts)
	ctx := context.Background()

	entries := []domain.LogEntry{
		{Timestamp: time.Now().UTC(), Level: domain.LevelInfo, Message: "started"},
		{Timestamp: time.Now().UTC(), Level: domain.LevelInfo, Message: "finished"},
	}
	if err := svc.IngestLogs(ctx, w.ID, entries); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if err := svc.CompleteWorkload(ctx, w.ID, domain.WorkloadStatusSucceeded); err != nil {
		t.Fatalf("complete: %v", err)
	}

	consumer := stream.New(sse.NewTransport(ts.URL, ts.Client()))
	consumer.Start(ctx, w.ID, domain.LogQuery{})

	select {
	case <-consumer.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end")
	}

	if err := consumer.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if consumer.Status() != stream.StatusStopped {
		t.Errorf("status = %v, want stopped", consumer.Status())
	}
	logs := consumer.Logs()
	if len(logs) != 2 || logs[0].Message != "started" || logs[1].Message != "finished" {
		t.Errorf("logs = %+v", logs)
	}
}

// Live path: history first, then entries published after the subscription, then
// the done marker when the workload completes.
func TestStreamSSELiveEntriesAndDone(t *testing.T) {
	ts, svc := newTestServer(t)
	w := createWorkload(t, ts)
	ctx := context.Background()

	if err := svc.IngestLogs(ctx, w.ID, []domain.LogEntry{
		{Timestamp: time.Now().UTC(), Message: "history line"},
	}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	received := make(chan domain.LogEntry, 16)
	consumer := stream.New(sse.NewTransport(ts.URL, ts.Client()))
	consumer.OnEntry = func(e domain.LogEntry) { received <- e }
	consumer.Start(ctx, w.ID, domain.LogQuery{})

	select {
	case e := <-received:
		if e.Message != "history line" {
			t.Fatalf("first entry = %+v", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("history entry never arrived")
	}

	if err := svc.IngestLogs(ctx, w.ID, []domain.LogEntry{
		{Timestamp: time.Now().UTC(), Message: "live line"},
	}); err != nil {
		t.Fatalf("ingest live: %v", err)
	}

	select {
	case e := <-received:
		if e.Message != "live line" {
			t.Fatalf("live entry = %+v", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("live entry never arrived")
	}

	if err := svc.CompleteWorkload(ctx, w.ID, domain.WorkloadStatusSucceeded); err != nil {
		t.Fatalf("complete: %v", err)
	}

	select {
	case <-consumer.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end after completion")
	}
	if consumer.Status() != stream.StatusStopped || consumer.Err() != nil {
		t.Errorf("status = %v, err = %v", consumer.Status(), consumer.Err())
	}
}

// Level filtering happens on the gateway side before entries hit the wire.
func TestStreamSSELevelFilter(t *testing.T) {
	ts, svc := newTestServer(t)
	w := createWorkload(t, ts)
	ctx := context.Background()

	if err := svc.IngestLogs(ctx, w.ID, []domain.LogEntry{
		{Timestamp: time.Now().UTC(), Level: domain.LevelDebug, Message: "noise"},
		{Timestamp: time.Now().UTC(), Level: domain.LevelError, Message: "signal"},
	}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if err := svc.CompleteWorkload(ctx, w.ID, domain.WorkloadStatusFailed); err != nil {
		t.Fatalf("complete: %v", err)
	}

	consumer := stream.New(sse.NewTransport(ts.URL, ts.Client()))
	consumer.Start(ctx, w.ID, domain.LogQuery{Level: domain.LevelError})

	select {
	case <-consumer.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end")
	}

	logs := consumer.Logs()
	if len(logs) != 1 || logs[0].Message != "signal" {
		t.Errorf("logs = %+v", logs)
	}
}

// Same terminal-workload contract over the pull binding.
func TestStreamWSTerminalWorkloadEndsCleanly(t *testing.T) {
	ts, svc := newTestServer(t)
	w := createWorkload(t, ts)
	ctx := context.Background()

	if err := svc.IngestLogs(ctx, w.ID, []domain.LogEntry{
		{Timestamp: time.Now().UTC(), Message: "only line"},
	}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if err := svc.CompleteWorkload(ctx, w.ID, domain.WorkloadStatusSucceeded); err != nil {
		t.Fatalf("complete: %v", err)
	}

	consumer := stream.New(ws.NewTransport(ts.URL, nil))
	consumer.Start(ctx, w.ID, domain.LogQuery{})

	select {
	case <-consumer.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end")
	}
	if consumer.Err() != nil || consumer.Status() != stream.StatusStopped {
		t.Fatalf("status = %v, err = %v", consumer.Status(), consumer.Err())
	}
	logs := consumer.Logs()
	if len(logs) != 1 || logs[0].Message != "only line" {
		t.Errorf("logs = %+v", logs)
	}
}

func TestStopWorkloadEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	w := createWorkload(t, ts)

	resp := postJSON(t, ts.URL+"/api/workloads/"+w.ID+"/stop", struct{}{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop returned %d", resp.StatusCode)
	}

	resp2 := postJSON(t, ts.URL+"/api/workloads/"+w.ID+"/stop", struct{}{})
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("second stop returned %d, want 400", resp2.StatusCode)
	}

	resp3 := postJSON(t, ts.URL+"/api/workloads/wl-missing/stop", struct{}{})
	defer resp3.Body.Close()
	if resp3.StatusCode != http.StatusNotFound {
		t.Errorf("stop of unknown workload returned %d, want 404", resp3.StatusCode)
	}
}

func TestCompleteWorkloadEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	w := createWorkload(t, ts)

	resp := postJSON(t, ts.URL+"/api/workloads/"+w.ID+"/complete", CompleteWorkloadRequest{
		Status: domain.WorkloadStatusSucceeded,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete returned %d", resp.StatusCode)
	}

	resp2, err := http.Get(ts.URL + "/api/workloads/" + w.ID)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp2.Body.Close()
	var got domain.Workload
	if err := json.NewDecoder(resp2.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != domain.WorkloadStatusSucceeded {
		t.Errorf("status = %s", got.Status)
	}
}

func TestRequestLoggerPreservesResponse(t *testing.T) {
	h := RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusTeapot || rec.Body.String() != "short and stout" {
		t.Errorf("response altered: code=%d body=%q", rec.Code, rec.Body.String())
	}
}

func TestRunReturnsCleanlyAfterShutdown(t *testing.T) {
	repo := newStubRepo()
	pubsub := newStubPubSub()
	srv := NewServer(services.NewWorkloadService(repo, pubsub), services.NewHealthService(nil, nil, "test"))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run("127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned %v after shutdown", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after shutdown")
	}
}

func TestLivenessEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health/live")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("liveness returned %d", resp.StatusCode)
	}
}
