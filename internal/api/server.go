// Package api exposes the ops HTTP surface: health, readiness, metrics,
// and manual triggers for rules, cleanup, and connection tests.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"logalert/internal/domain"
	"logalert/internal/search"
)

// testTimeout bounds one connection test round trip.
const testTimeout = 10 * time.Second

// RuleTrigger queues immediate evaluation of one rule.
// Params: rule id.
// Returns: nothing; the request is best effort.
type RuleTrigger interface {
	TriggerRule(ruleID uint)
}

// CleanupRunner performs one retention sweep on demand.
// Params: ctx.
// Returns: human-readable result and sweep error.
type CleanupRunner interface {
	RunOnce(ctx context.Context) (string, error)
}

// SourceStore loads data sources and records connection test outcomes.
// Params: ctx keyed operations.
// Returns: source rows with decrypted credentials.
type SourceStore interface {
	GetByID(ctx context.Context, id uint) (*domain.DataSource, error)
	RecordTest(ctx context.Context, id uint, at time.Time, testErr error) error
}

// ChannelStore loads channels and records connection test outcomes.
// Params: ctx keyed operations.
// Returns: channel rows.
type ChannelStore interface {
	GetByID(ctx context.Context, id uint) (*domain.Channel, error)
	RecordTest(ctx context.Context, id uint, at time.Time, testErr error) error
}

// ChannelTester posts a test card to a webhook.
// Params: ctx and webhook URL.
// Returns: nil only after accepted delivery.
type ChannelTester interface {
	SendTest(ctx context.Context, webhookURL string) error
}

// Server is the ops HTTP handler set.
// Params: collaborators injected by the service wiring.
// Returns: routed handler via Handler().
type Server struct {
	trigger  RuleTrigger
	cleanup  CleanupRunner
	sources  SourceStore
	channels ChannelStore
	tester   ChannelTester
	logger   *slog.Logger

	// pingSource is swappable so handler tests avoid a live backend.
	pingSource func(ctx context.Context, source domain.DataSource) error

	ready  atomic.Bool
	router *mux.Router
}

// ServerConfig bundles server construction inputs.
// Params: collaborator interfaces.
// Returns: input for NewServer.
type ServerConfig struct {
	Trigger  RuleTrigger
	Cleanup  CleanupRunner
	Sources  SourceStore
	Channels ChannelStore
	Tester   ChannelTester
	Logger   *slog.Logger
}

// NewServer builds the ops server and its routes.
// Params: cfg collaborator set.
// Returns: server reporting not ready until SetReady(true).
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		trigger:    cfg.Trigger,
		cleanup:    cfg.Cleanup,
		sources:    cfg.Sources,
		channels:   cfg.Channels,
		tester:     cfg.Tester,
		logger:     cfg.Logger,
		pingSource: pingDataSource,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/api/rules/{id:[0-9]+}/trigger", s.handleTriggerRule).Methods(http.MethodPost)
	r.HandleFunc("/api/cleanup/run", s.handleRunCleanup).Methods(http.MethodPost)
	r.HandleFunc("/api/datasources/{id:[0-9]+}/test", s.handleTestSource).Methods(http.MethodPost)
	r.HandleFunc("/api/channels/{id:[0-9]+}/test", s.handleTestChannel).Methods(http.MethodPost)
	s.router = r
	return s
}

// Handler returns the routed HTTP handler.
// Params: none.
// Returns: handler for the ops listener.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetReady flips the readiness probe result.
// Params: ready state.
// Returns: nothing.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleTriggerRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.trigger.TriggerRule(id)
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "rule_id": id})
}

func (s *Server) handleRunCleanup(w http.ResponseWriter, r *http.Request) {
	result, err := s.cleanup.RunOnce(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   err.Error(),
			"result":  result,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
}

func (s *Server) handleTestSource(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	source, err := s.sources.GetByID(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), testTimeout)
	defer cancel()
	testErr := s.pingSource(ctx, *source)

	if err := s.sources.RecordTest(r.Context(), id, time.Now(), testErr); err != nil {
		s.logger.Error("record data source test failed", "source_id", id, "error", err.Error())
	}

	if testErr != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "error": testErr.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "连接成功"})
}

func (s *Server) handleTestChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	channel, err := s.channels.GetByID(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), testTimeout)
	defer cancel()
	testErr := s.tester.SendTest(ctx, channel.WebhookURL)

	if err := s.channels.RecordTest(r.Context(), id, time.Now(), testErr); err != nil {
		s.logger.Error("record channel test failed", "channel_id", id, "error", err.Error())
	}

	if testErr != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "error": testErr.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "测试消息已发送"})
}

// pingDataSource builds a throwaway client for the source and pings it.
// Params: ctx and source row with decrypted credentials.
// Returns: connectivity error.
func pingDataSource(ctx context.Context, source domain.DataSource) error {
	opts, err := search.FromDataSource(source, testTimeout)
	if err != nil {
		return err
	}
	client, err := search.NewClient(opts, nil)
	if err != nil {
		return err
	}
	return client.Ping(ctx)
}

// pathID parses the {id} route variable.
// Params: response writer for the error path and request.
// Returns: parsed id and ok flag; false means a response was written.
func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
