// Package app composes the service from its parts and owns the process
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/gorm"

	"logalert/internal/api"
	"logalert/internal/clock"
	"logalert/internal/config"
	"logalert/internal/events"
	"logalert/internal/logging"
	"logalert/internal/notify"
	"logalert/internal/search"
	"logalert/internal/secrets"
	"logalert/internal/storage"
	"logalert/internal/worker"
)

// Service composes runtime dependencies and process lifecycle.
// Params: config snapshot and shared runtime components.
// Returns: runnable alerting service.
type Service struct {
	cfg      config.Config
	logger   *slog.Logger
	closeLog func()
	clock    clock.Clock

	db        *gorm.DB
	publisher events.Publisher
	scheduler *worker.Scheduler
	cleanup   *worker.CleanupWorker
	ops       *api.Server
	httpSrv   *http.Server
}

// NewService builds the service from a loaded config snapshot.
// Params: env file path, TOML config path, and clock implementation.
// Returns: initialized service or setup error.
func NewService(envFile, configFile string, clk clock.Clock) (*Service, error) {
	cfg, err := config.Load(envFile, configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	service := &Service{
		cfg:      cfg,
		logger:   logger,
		closeLog: closeLog,
		clock:    clk,
	}

	if err := service.buildStores(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildWorkers(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	service.buildHTTPServer()

	return service, nil
}

// buildStores connects Postgres and the optional NATS event publisher.
// Params: none.
// Returns: setup error.
func (s *Service) buildStores() error {
	db, err := storage.Open(s.cfg.Database)
	if err != nil {
		return err
	}
	s.db = db

	s.publisher = events.NopPublisher{}
	if s.cfg.Events.Enabled() {
		publisher, err := events.NewNATSPublisher(s.cfg.Events)
		if err != nil {
			return fmt.Errorf("connect event publisher: %w", err)
		}
		s.publisher = publisher
		s.logger.Info("alert event publisher connected", "subject", s.cfg.Events.Subject)
	}
	return nil
}

// buildWorkers wires stores, search, notification, scheduler, and cleanup.
// Params: none.
// Returns: setup error.
func (s *Service) buildWorkers() error {
	dbTimeout := time.Duration(s.cfg.Database.QueryTimeoutSeconds) * time.Second
	esTimeout := time.Duration(s.cfg.Search.QueryTimeoutSeconds) * time.Second

	var cipher *secrets.Cipher
	if len(s.cfg.Security.EncryptionKey) > 0 {
		c, err := secrets.New(s.cfg.Security.EncryptionKey)
		if err != nil {
			return err
		}
		cipher = c
	}

	rules := storage.NewRuleStore(s.db, dbTimeout)
	alerts := storage.NewAlertStore(s.db, dbTimeout)
	sources := storage.NewDataSourceStore(s.db, dbTimeout, cipher)
	channels := storage.NewChannelStore(s.db, dbTimeout)
	retention := storage.NewRetentionStore(s.db, dbTimeout)

	defaultClient, err := search.NewClient(search.FromConfig(s.cfg.Search), s.logger)
	if err != nil {
		return fmt.Errorf("create default search client: %w", err)
	}
	provider := worker.NewSearchProvider(defaultClient, sources, esTimeout, s.logger)

	sender := notify.NewWebhookSender(s.cfg.Worker.RetryTimes, s.logger)

	var broadcast worker.Broadcaster
	if s.cfg.Notify.TelegramEnabled() {
		broadcast = notify.NewTelegramSender(s.cfg.Notify)
		s.logger.Info("telegram broadcast enabled")
	}

	evaluator := worker.NewEvaluator(worker.EvaluatorConfig{
		Rules:       rules,
		Alerts:      alerts,
		Searchers:   provider,
		Sender:      sender,
		Broadcast:   broadcast,
		Publisher:   s.publisher,
		Clock:       s.clock,
		Logger:      s.logger,
		BatchSize:   s.cfg.Worker.BatchSize,
		SendTimeout: time.Duration(s.cfg.Worker.AlertSendTimeoutSeconds) * time.Second,
	})

	s.scheduler = worker.NewScheduler(worker.SchedulerConfig{
		Rules:          rules,
		Executor:       evaluator,
		Logger:         s.logger,
		CheckInterval:  time.Duration(s.cfg.Worker.CheckIntervalSeconds) * time.Second,
		DrainTimeout:   time.Duration(s.cfg.Server.ShutdownSeconds) * time.Second,
		MaxConcurrency: s.cfg.Worker.MaxConcurrency,
		BatchSize:      s.cfg.Worker.BatchSize,
	})

	s.cleanup = worker.NewCleanupWorker(alerts, retention, s.clock, s.logger)

	s.ops = api.NewServer(api.ServerConfig{
		Trigger:  s.scheduler,
		Cleanup:  s.cleanup,
		Sources:  sources,
		Channels: channels,
		Tester:   sender,
		Logger:   s.logger,
	})
	return nil
}

// buildHTTPServer wires the ops listener around the api router.
// Params: none.
// Returns: nothing.
func (s *Service) buildHTTPServer() {
	s.httpSrv = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:           s.ops.Handler(),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Run starts the service and blocks until shutdown signal or fatal error.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "listen", s.httpSrv.Addr)
		err := s.httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	if s.cfg.Worker.Enabled {
		s.scheduler.Start()
	} else {
		s.logger.Info("scheduler disabled")
	}
	go s.cleanup.Run(runCtx)

	s.ops.SetReady(true)
	s.logger.Info("service started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		_ = s.shutdown()
		return fmt.Errorf("http server failed: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
		return s.shutdown()
	}
}

// shutdown closes runtime resources in dependency order: stop accepting
// requests, stop evaluating, drain notifications, then close connections.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	s.ops.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(s.cfg.Server.ShutdownSeconds)*time.Second)
	defer cancel()

	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown failed", "error", err.Error())
		markErr(fmt.Errorf("http shutdown: %w", err))
	}

	if s.cfg.Worker.Enabled {
		s.scheduler.Stop()
	}

	if err := s.publisher.Close(); err != nil {
		s.logger.Error("event publisher close failed", "error", err.Error())
		markErr(fmt.Errorf("event publisher close: %w", err))
	}

	if err := s.closeDB(); err != nil {
		s.logger.Error("database close failed", "error", err.Error())
		markErr(fmt.Errorf("database close: %w", err))
	}

	s.logger.Info("service stopped")
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup
// failures.
// Params: none.
// Returns: all acquired resources closed best effort.
func (s *Service) cleanupInitResources() {
	if s.publisher != nil {
		_ = s.publisher.Close()
	}
	if s.db != nil {
		_ = s.closeDB()
		s.db = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// closeDB closes the underlying connection pool.
// Params: none.
// Returns: close error.
func (s *Service) closeDB() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
