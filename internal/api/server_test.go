package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"logalert/internal/domain"
)

type fakeTrigger struct {
	mu  sync.Mutex
	ids []uint
}

func (f *fakeTrigger) TriggerRule(ruleID uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, ruleID)
}

type fakeCleanup struct {
	result string
	err    error
}

func (f *fakeCleanup) RunOnce(context.Context) (string, error) {
	return f.result, f.err
}

type fakeSourceStore struct {
	source   *domain.DataSource
	getErr   error
	recorded error
	calls    int
}

func (f *fakeSourceStore) GetByID(context.Context, uint) (*domain.DataSource, error) {
	return f.source, f.getErr
}

func (f *fakeSourceStore) RecordTest(_ context.Context, _ uint, _ time.Time, testErr error) error {
	f.calls++
	f.recorded = testErr
	return nil
}

type fakeChannelStore struct {
	channel  *domain.Channel
	getErr   error
	recorded error
	calls    int
}

func (f *fakeChannelStore) GetByID(context.Context, uint) (*domain.Channel, error) {
	return f.channel, f.getErr
}

func (f *fakeChannelStore) RecordTest(_ context.Context, _ uint, _ time.Time, testErr error) error {
	f.calls++
	f.recorded = testErr
	return nil
}

type fakeTester struct {
	url string
	err error
}

func (f *fakeTester) SendTest(_ context.Context, webhookURL string) error {
	f.url = webhookURL
	return f.err
}

func newTestServer(cfg ServerConfig) *Server {
	if cfg.Trigger == nil {
		cfg.Trigger = &fakeTrigger{}
	}
	if cfg.Cleanup == nil {
		cfg.Cleanup = &fakeCleanup{}
	}
	if cfg.Sources == nil {
		cfg.Sources = &fakeSourceStore{}
	}
	if cfg.Channels == nil {
		cfg.Channels = &fakeChannelStore{}
	}
	if cfg.Tester == nil {
		cfg.Tester = &fakeTester{}
	}
	return NewServer(cfg)
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(method, target, nil)
	response := httptest.NewRecorder()
	s.Handler().ServeHTTP(response, request)
	return response
}

func decodeBody(t *testing.T, response *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(response.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return body
}

func TestHealthAlwaysOK(t *testing.T) {
	t.Parallel()

	s := newTestServer(ServerConfig{})
	response := do(t, s, http.MethodGet, "/healthz")
	if response.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, response.Code)
	}
}

func TestReadyFollowsFlag(t *testing.T) {
	t.Parallel()

	s := newTestServer(ServerConfig{})
	if response := do(t, s, http.MethodGet, "/readyz"); response.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected not ready before SetReady, got %d", response.Code)
	}

	s.SetReady(true)
	if response := do(t, s, http.MethodGet, "/readyz"); response.Code != http.StatusOK {
		t.Fatalf("expected ready after SetReady, got %d", response.Code)
	}

	s.SetReady(false)
	if response := do(t, s, http.MethodGet, "/readyz"); response.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected not ready during shutdown, got %d", response.Code)
	}
}

func TestMetricsEndpointServes(t *testing.T) {
	t.Parallel()

	s := newTestServer(ServerConfig{})
	response := do(t, s, http.MethodGet, "/metrics")
	if response.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, response.Code)
	}
}

func TestTriggerRuleQueuesID(t *testing.T) {
	t.Parallel()

	trigger := &fakeTrigger{}
	s := newTestServer(ServerConfig{Trigger: trigger})

	response := do(t, s, http.MethodPost, "/api/rules/42/trigger")
	if response.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, response.Code)
	}

	trigger.mu.Lock()
	defer trigger.mu.Unlock()
	if len(trigger.ids) != 1 || trigger.ids[0] != 42 {
		t.Fatalf("expected rule 42 queued, got %v", trigger.ids)
	}
}

func TestTriggerRuleRejectsNonNumericID(t *testing.T) {
	t.Parallel()

	s := newTestServer(ServerConfig{})
	response := do(t, s, http.MethodPost, "/api/rules/abc/trigger")
	if response.Code != http.StatusNotFound {
		t.Fatalf("expected route miss for non-numeric id, got %d", response.Code)
	}
}

func TestRunCleanupReportsResult(t *testing.T) {
	t.Parallel()

	s := newTestServer(ServerConfig{Cleanup: &fakeCleanup{result: "成功删除 7 条告警数据"}})
	response := do(t, s, http.MethodPost, "/api/cleanup/run")
	if response.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, response.Code)
	}

	body := decodeBody(t, response)
	if body["success"] != true {
		t.Fatalf("expected success true, got %v", body["success"])
	}
	if body["result"] != "成功删除 7 条告警数据" {
		t.Fatalf("unexpected result: %v", body["result"])
	}
}

func TestRunCleanupSurfacesFailure(t *testing.T) {
	t.Parallel()

	s := newTestServer(ServerConfig{Cleanup: &fakeCleanup{result: "清理失败: db gone", err: errors.New("db gone")}})
	response := do(t, s, http.MethodPost, "/api/cleanup/run")
	if response.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, response.Code)
	}
	if body := decodeBody(t, response); body["success"] != false {
		t.Fatalf("expected success false, got %v", body["success"])
	}
}

func TestTestSourceRecordsOutcome(t *testing.T) {
	t.Parallel()

	sources := &fakeSourceStore{source: &domain.DataSource{Name: "prod", URL: "http://es:9200", Enabled: true}}
	s := newTestServer(ServerConfig{Sources: sources})
	s.pingSource = func(context.Context, domain.DataSource) error { return nil }

	response := do(t, s, http.MethodPost, "/api/datasources/3/test")
	if response.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, response.Code)
	}
	if sources.calls != 1 || sources.recorded != nil {
		t.Fatalf("expected passing test recorded, calls=%d err=%v", sources.calls, sources.recorded)
	}
	if body := decodeBody(t, response); body["message"] != "连接成功" {
		t.Fatalf("unexpected message: %v", body["message"])
	}
}

func TestTestSourceFailureRecorded(t *testing.T) {
	t.Parallel()

	pingErr := errors.New("connection refused")
	sources := &fakeSourceStore{source: &domain.DataSource{Name: "prod", URL: "http://es:9200", Enabled: true}}
	s := newTestServer(ServerConfig{Sources: sources})
	s.pingSource = func(context.Context, domain.DataSource) error { return pingErr }

	response := do(t, s, http.MethodPost, "/api/datasources/3/test")
	if response.Code != http.StatusBadGateway {
		t.Fatalf("expected status %d, got %d", http.StatusBadGateway, response.Code)
	}
	if !errors.Is(sources.recorded, pingErr) {
		t.Fatalf("expected ping error recorded, got %v", sources.recorded)
	}
}

func TestTestSourceMissingReturnsNotFound(t *testing.T) {
	t.Parallel()

	s := newTestServer(ServerConfig{Sources: &fakeSourceStore{getErr: errors.New("record not found")}})
	response := do(t, s, http.MethodPost, "/api/datasources/9/test")
	if response.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, response.Code)
	}
}

func TestTestChannelSendsToItsWebhook(t *testing.T) {
	t.Parallel()

	tester := &fakeTester{}
	channels := &fakeChannelStore{channel: &domain.Channel{Name: "oncall", WebhookURL: "http://hook/abc", Enabled: true}}
	s := newTestServer(ServerConfig{Channels: channels, Tester: tester})

	response := do(t, s, http.MethodPost, "/api/channels/5/test")
	if response.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, response.Code)
	}
	if tester.url != "http://hook/abc" {
		t.Fatalf("expected test sent to channel webhook, got %q", tester.url)
	}
	if channels.calls != 1 || channels.recorded != nil {
		t.Fatalf("expected passing test recorded, calls=%d err=%v", channels.calls, channels.recorded)
	}
}

func TestTestChannelFailureRecorded(t *testing.T) {
	t.Parallel()

	sendErr := errors.New("code 19001")
	channels := &fakeChannelStore{channel: &domain.Channel{Name: "oncall", WebhookURL: "http://hook/abc", Enabled: true}}
	s := newTestServer(ServerConfig{Channels: channels, Tester: &fakeTester{err: sendErr}})

	response := do(t, s, http.MethodPost, "/api/channels/5/test")
	if response.Code != http.StatusBadGateway {
		t.Fatalf("expected status %d, got %d", http.StatusBadGateway, response.Code)
	}
	if !errors.Is(channels.recorded, sendErr) {
		t.Fatalf("expected send error recorded, got %v", channels.recorded)
	}
}
