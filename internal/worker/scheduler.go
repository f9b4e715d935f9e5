package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"logalert/internal/domain"
	"logalert/internal/metrics"
)

// triggerBuffer bounds pending immediate-execution requests.
const triggerBuffer = 100

// defaultDrainTimeout bounds the wait for detached notifications on Stop.
const defaultDrainTimeout = 30 * time.Second

// RuleTrigger requests immediate evaluation of one rule. Handlers depend on
// this instead of the scheduler itself.
// Params: rule id.
// Returns: nothing; the request is best effort.
type RuleTrigger interface {
	TriggerRule(ruleID uint)
}

// Executor runs one rule tick.
// Params: ctx, rule snapshot, and force flag.
// Returns: done channel for detached work and tick outcome.
type Executor interface {
	Execute(ctx context.Context, rule *domain.Rule, force bool) (<-chan struct{}, error)
}

// RuleLister loads rules for the reconcile loop.
// Params: ctx and batch size.
// Returns: enabled rules or one rule by id.
type RuleLister interface {
	GetEnabled(ctx context.Context, batchSize int) ([]domain.Rule, error)
	GetByID(ctx context.Context, id uint) (*domain.Rule, error)
}

// Scheduler owns one evaluation goroutine per enabled rule and caps
// concurrent evaluations with a semaphore.
// Params: rule store, executor, cadence, and limits.
// Returns: lifecycle and trigger operations.
type Scheduler struct {
	rules    RuleLister
	executor Executor
	logger   *slog.Logger

	checkInterval time.Duration
	drainTimeout  time.Duration
	batchSize     int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// inflight tracks detached notification work still holding a slot.
	inflight sync.WaitGroup
	sem      chan struct{}

	mu           sync.RWMutex
	runningRules map[uint]context.CancelFunc

	triggerChan chan uint
}

// SchedulerConfig bundles scheduler construction inputs.
// Params: collaborators and limits.
// Returns: input for NewScheduler.
type SchedulerConfig struct {
	Rules    RuleLister
	Executor Executor
	Logger   *slog.Logger

	CheckInterval  time.Duration
	DrainTimeout   time.Duration
	MaxConcurrency int
	BatchSize      int
}

// NewScheduler builds a stopped scheduler.
// Params: cfg collaborator set.
// Returns: scheduler ready for Start.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		rules:         cfg.Rules,
		executor:      cfg.Executor,
		logger:        cfg.Logger,
		checkInterval: cfg.CheckInterval,
		drainTimeout:  cfg.DrainTimeout,
		batchSize:     cfg.BatchSize,
		ctx:           ctx,
		cancel:        cancel,
		sem:           make(chan struct{}, cfg.MaxConcurrency),
		runningRules:  make(map[uint]context.CancelFunc),
		triggerChan:   make(chan uint, triggerBuffer),
	}
}

// Start launches the reconcile loop.
// Params: none.
// Returns: nothing.
func (s *Scheduler) Start() {
	s.logger.Info("scheduler started",
		"check_interval", s.checkInterval,
		"max_concurrency", cap(s.sem))

	s.wg.Add(1)
	go s.monitorRules()
}

// TriggerRule requests immediate evaluation after a rule create/update/enable.
// Params: rule id.
// Returns: nothing; a full trigger queue falls back to the next reconcile.
func (s *Scheduler) TriggerRule(ruleID uint) {
	select {
	case s.triggerChan <- ruleID:
		s.logger.Debug("rule trigger queued", "rule_id", ruleID)
	default:
		s.logger.Warn("rule trigger queue full, deferring to next reconcile", "rule_id", ruleID)
	}
}

// Stop cancels all rule loops and waits for detached notification work,
// bounded by the drain timeout.
// Params: none.
// Returns: nothing.
func (s *Scheduler) Stop() {
	s.cancel()

	s.mu.Lock()
	for ruleID, cancel := range s.runningRules {
		s.logger.Debug("stopping rule loop", "rule_id", ruleID)
		cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()

	drained := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(s.drainTimeout):
		s.logger.Warn("drain timeout reached, abandoning in-flight notifications",
			"drain_timeout", s.drainTimeout)
	}

	s.logger.Info("scheduler stopped")
}

// monitorRules reconciles rule loops on a fixed cadence and on triggers.
// Params: none.
// Returns: nothing; exits when the scheduler context is cancelled.
func (s *Scheduler) monitorRules() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.syncRules()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.syncRules()
		case ruleID := <-s.triggerChan:
			s.syncRulesAndExecute(ruleID)
		}
	}
}

// syncRules starts loops for newly enabled rules and stops loops for
// disabled or deleted ones.
// Params: none.
// Returns: nothing.
func (s *Scheduler) syncRules() {
	rules, err := s.rules.GetEnabled(s.ctx, s.batchSize)
	if err != nil {
		s.logger.Error("load enabled rules failed", "error", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	enabled := make(map[uint]bool, len(rules))
	for _, r := range rules {
		enabled[r.ID] = true
	}

	stopped := 0
	for ruleID, cancel := range s.runningRules {
		if !enabled[ruleID] {
			cancel()
			delete(s.runningRules, ruleID)
			stopped++
		}
	}

	started := 0
	for _, r := range rules {
		if _, running := s.runningRules[r.ID]; running {
			continue
		}
		ruleCtx, ruleCancel := context.WithCancel(s.ctx)
		s.runningRules[r.ID] = ruleCancel

		s.wg.Add(1)
		go s.runRule(ruleCtx, r)
		started++
	}

	metrics.RunningRules.Set(float64(len(s.runningRules)))
	if started > 0 || stopped > 0 {
		s.logger.Info("rules reconciled",
			"enabled", len(rules),
			"started", started,
			"stopped", stopped,
			"running", len(s.runningRules))
	}
}

// syncRulesAndExecute reconciles, then force-executes the rule only when no
// loop owns it. A running loop is the sole executor of its rule: a fresh one
// evaluates immediately on start, an existing one on its ticker.
// Params: triggered rule id.
// Returns: nothing.
func (s *Scheduler) syncRulesAndExecute(ruleID uint) {
	s.syncRules()

	s.mu.RLock()
	_, isRunning := s.runningRules[ruleID]
	s.mu.RUnlock()

	if isRunning {
		return
	}

	rule, err := s.rules.GetByID(s.ctx, ruleID)
	if err != nil {
		s.logger.Error("load triggered rule failed", "rule_id", ruleID, "error", err.Error())
		return
	}
	if !rule.Enabled {
		s.logger.Debug("triggered rule is disabled", "rule_id", ruleID)
		return
	}
	s.runOnce(s.ctx, rule, true)
}

// runRule is the per-rule evaluation loop.
// Params: loop ctx and starting rule snapshot.
// Returns: nothing; exits on ctx cancellation.
func (s *Scheduler) runRule(ctx context.Context, ruleModel domain.Rule) {
	defer s.wg.Done()

	interval := ruleModel.EffectiveInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("rule loop started",
		"rule_id", ruleModel.ID,
		"rule_name", ruleModel.Name,
		"interval", interval)
	s.executeFresh(ctx, ruleModel.ID, true)

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("rule loop stopped", "rule_id", ruleModel.ID)
			return
		case <-ticker.C:
			rule, err := s.rules.GetByID(ctx, ruleModel.ID)
			if err != nil {
				s.logger.Error("reload rule failed", "rule_id", ruleModel.ID, "error", err.Error())
				continue
			}

			if newInterval := rule.EffectiveInterval(); newInterval != interval {
				interval = newInterval
				ticker.Reset(interval)
				s.logger.Info("rule interval updated", "rule_id", rule.ID, "interval", interval)
			}

			s.runOnce(ctx, rule, false)
		}
	}
}

// executeFresh reloads the rule and force-executes it.
// Params: ctx, rule id, and force flag.
// Returns: nothing.
func (s *Scheduler) executeFresh(ctx context.Context, ruleID uint, force bool) {
	rule, err := s.rules.GetByID(ctx, ruleID)
	if err != nil {
		s.logger.Error("reload rule failed", "rule_id", ruleID, "error", err.Error())
		return
	}
	s.runOnce(ctx, rule, force)
}

// runOnce executes one tick holding a concurrency slot. The slot is released
// only after the tick's detached notification work finishes.
// Params: ctx, fresh rule snapshot, and force flag.
// Returns: nothing.
func (s *Scheduler) runOnce(ctx context.Context, rule *domain.Rule, force bool) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	metrics.InflightEvaluations.Inc()

	done, err := s.executor.Execute(ctx, rule, force)

	switch {
	case err == nil:
	case errors.Is(err, ErrSkipped):
		s.logger.Debug("rule tick skipped", "rule_id", rule.ID)
	case errors.Is(err, ErrNoWebhook):
		s.logger.Error("rule has no webhook target", "rule_id", rule.ID, "rule_name", rule.Name)
	default:
		s.logger.Error("rule execution failed",
			"rule_id", rule.ID,
			"rule_name", rule.Name,
			"force", force,
			"error", err.Error())
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		<-done
		<-s.sem
		metrics.InflightEvaluations.Dec()
	}()
}
