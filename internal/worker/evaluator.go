// Package worker schedules and evaluates alerting rules.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"logalert/internal/clock"
	"logalert/internal/domain"
	"logalert/internal/events"
	"logalert/internal/metrics"
)

// Evaluation outcomes that are not failures.
var (
	// ErrSkipped reports a tick gated out because the interval has not elapsed.
	ErrSkipped = errors.New("interval not elapsed")
	// ErrNoWebhook reports a rule with no usable webhook target.
	ErrNoWebhook = errors.New("no webhook url configured")
)

// defaultLookback bounds the first evaluation window of a rule.
const defaultLookback = 5 * time.Minute

// windowOverlap is subtracted from the last run time so boundary documents
// and documents indexed during the previous query are not missed.
const windowOverlap = 2 * time.Second

// notifySampleCap bounds the log sample handed to the webhook sender.
const notifySampleCap = 10

// RuleReader is the rule persistence surface the evaluator mutates.
// Params: rule id keyed operations.
// Returns: statistics updates on the rules table.
type RuleReader interface {
	UpdateLastRunTime(ctx context.Context, id uint, at time.Time) error
	IncrementRunCount(ctx context.Context, id uint) error
	IncrementAlertCount(ctx context.Context, id uint) error
}

// AlertWriter persists alert evidence rows.
// Params: ctx and alert record.
// Returns: insert error.
type AlertWriter interface {
	Create(ctx context.Context, alert *domain.Alert) error
}

// LogSearcher runs one rule query against a search backend.
// Params: index pattern, conditions, window, and page size.
// Returns: matched documents.
type LogSearcher interface {
	QueryLogs(ctx context.Context, indexPattern string, conditions domain.QueryConditions, from, to time.Time, batchSize int) ([]map[string]any, error)
}

// SearcherProvider resolves the search backend for one rule.
// Params: ctx and rule with optional data source binding.
// Returns: backend searcher or resolution error.
type SearcherProvider interface {
	ForRule(ctx context.Context, rule *domain.Rule) (LogSearcher, error)
}

// AlertSender delivers one alert card to a webhook.
// Params: webhook URL, rule identity, log sample, count, and window.
// Returns: nil only after accepted delivery.
type AlertSender interface {
	SendAlert(ctx context.Context, webhookURL, ruleName, indexName string, logs []map[string]any, logCount int, from, to time.Time) error
}

// Broadcaster mirrors alert summaries to a secondary transport.
// Params: rule identity, count, and window.
// Returns: transport error.
type Broadcaster interface {
	SendAlert(ctx context.Context, ruleName, indexName string, logCount int, from, to time.Time) error
}

// closedDone is returned when an evaluation finishes with no detached work.
var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Evaluator runs one rule tick end to end.
// Params: stores, search provider, senders, publisher, clock, and limits.
// Returns: tick execution operations.
type Evaluator struct {
	rules     RuleReader
	alerts    AlertWriter
	searchers SearcherProvider
	sender    AlertSender
	broadcast Broadcaster
	publisher events.Publisher
	clock     clock.Clock
	logger    *slog.Logger

	batchSize   int
	sendTimeout time.Duration
}

// EvaluatorConfig bundles evaluator construction inputs.
// Params: collaborator interfaces and limits.
// Returns: input for NewEvaluator.
type EvaluatorConfig struct {
	Rules     RuleReader
	Alerts    AlertWriter
	Searchers SearcherProvider
	Sender    AlertSender
	Broadcast Broadcaster
	Publisher events.Publisher
	Clock     clock.Clock
	Logger    *slog.Logger

	BatchSize   int
	SendTimeout time.Duration
}

// NewEvaluator builds an evaluator with defaults filled in.
// Params: cfg collaborator set.
// Returns: evaluator.
func NewEvaluator(cfg EvaluatorConfig) *Evaluator {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.NopPublisher{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 20 * time.Second
	}
	return &Evaluator{
		rules:       cfg.Rules,
		alerts:      cfg.Alerts,
		searchers:   cfg.Searchers,
		sender:      cfg.Sender,
		broadcast:   cfg.Broadcast,
		publisher:   cfg.Publisher,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		batchSize:   cfg.BatchSize,
		sendTimeout: cfg.SendTimeout,
	}
}

// Execute evaluates one rule tick.
// Params: ctx, rule snapshot with preloaded relations, and force flag
// (force skips the interval gate).
// Returns: done channel closing when all detached work for this tick has
// finished (already closed when nothing detached), and the tick outcome.
func (e *Evaluator) Execute(ctx context.Context, rule *domain.Rule, force bool) (<-chan struct{}, error) {
	now := e.clock.Now()

	from := now.Add(-defaultLookback)
	if rule.LastRunTime != nil {
		from = rule.LastRunTime.Add(-windowOverlap)
	}

	if !force && now.Sub(from) < rule.EffectiveInterval() {
		metrics.EvaluationsTotal.WithLabelValues("skipped").Inc()
		return closedDone, ErrSkipped
	}

	webhookURL, err := resolveWebhook(rule)
	if err != nil {
		metrics.EvaluationsTotal.WithLabelValues("error").Inc()
		return closedDone, err
	}

	searcher, err := e.searchers.ForRule(ctx, rule)
	if err != nil {
		metrics.EvaluationsTotal.WithLabelValues("error").Inc()
		return closedDone, fmt.Errorf("resolve search backend: %w", err)
	}

	e.logger.Debug("querying logs",
		"rule_id", rule.ID,
		"index_pattern", rule.IndexPattern,
		"from", from.Format(time.RFC3339),
		"to", now.Format(time.RFC3339))

	logs, err := searcher.QueryLogs(ctx, rule.IndexPattern, rule.Conditions, from, now, e.batchSize)
	if err != nil {
		metrics.EvaluationsTotal.WithLabelValues("error").Inc()
		return closedDone, fmt.Errorf("query logs: %w", err)
	}

	// The next window starts here; written synchronously so an overlapping
	// tick cannot re-query the same range.
	if err := e.rules.UpdateLastRunTime(ctx, rule.ID, now); err != nil {
		e.logger.Warn("update last run time failed", "rule_id", rule.ID, "error", err.Error())
	}

	go func() {
		if err := e.rules.IncrementRunCount(context.Background(), rule.ID); err != nil {
			e.logger.Warn("increment run count failed", "rule_id", rule.ID, "error", err.Error())
		}
	}()

	if len(logs) == 0 {
		metrics.EvaluationsTotal.WithLabelValues("empty").Inc()
		return closedDone, nil
	}

	metrics.EvaluationsTotal.WithLabelValues("matched").Inc()
	e.logger.Info("rule matched logs",
		"rule_id", rule.ID,
		"rule_name", rule.Name,
		"log_count", len(logs))

	done := make(chan struct{})
	go e.finishAlert(ctx, rule, webhookURL, logs, from, now, done)
	return done, nil
}

// finishAlert delivers the notification and persists the alert record.
// Delivery runs under the evaluation context so cancellation aborts the
// retry loop; the record write uses its own context so evidence still lands.
// Params: evaluation ctx, rule snapshot, webhook target, full match set,
// window, and done channel closed on completion.
// Returns: nothing; failures are recorded on the alert row.
func (e *Evaluator) finishAlert(ctx context.Context, rule *domain.Rule, webhookURL string, logs []map[string]any, from, to time.Time, done chan struct{}) {
	defer close(done)

	logCount := len(logs)
	sample := logs
	if len(sample) > notifySampleCap {
		sample = sample[:notifySampleCap]
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	sendErr := e.sender.SendAlert(sendCtx, webhookURL, rule.Name, rule.IndexPattern, sample, logCount, from, to)
	cancel()

	status := domain.AlertStatusSent
	errorMsg := ""
	if sendErr != nil {
		status = domain.AlertStatusFailed
		errorMsg = sendErr.Error()
		metrics.NotifyFailuresTotal.Inc()
		e.logger.Error("alert delivery failed",
			"rule_id", rule.ID,
			"rule_name", rule.Name,
			"error", errorMsg)
	}
	metrics.AlertsTotal.WithLabelValues(string(status)).Inc()

	stored := logs
	if len(stored) > domain.MaxStoredLogs {
		stored = stored[:domain.MaxStoredLogs]
	}

	record := &domain.Alert{
		RuleID:    rule.ID,
		IndexName: rule.IndexPattern,
		LogCount:  logCount,
		Logs:      domain.LogData(stored),
		TimeRange: domain.FormatTimeRange(from, to),
		Status:    status,
		ErrorMsg:  errorMsg,
	}
	createErr := e.alerts.Create(context.Background(), record)
	if createErr != nil {
		e.logger.Error("create alert record failed", "rule_id", rule.ID, "error", createErr.Error())
	} else if err := e.publisher.Publish(context.Background(), events.AlertEvent{
		AlertID:   record.ID,
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		IndexName: rule.IndexPattern,
		LogCount:  logCount,
		Status:    string(status),
		TimeRange: record.TimeRange,
		CreatedAt: record.CreatedAt,
	}); err != nil {
		e.logger.Warn("publish alert event failed", "rule_id", rule.ID, "error", err.Error())
	}

	if sendErr == nil {
		// The counter tracks persisted alerts, so a failed insert means
		// nothing to count.
		if createErr == nil {
			if err := e.rules.IncrementAlertCount(context.Background(), rule.ID); err != nil {
				e.logger.Warn("increment alert count failed", "rule_id", rule.ID, "error", err.Error())
			}
		}
		if e.broadcast != nil {
			broadcastCtx, cancelBroadcast := context.WithTimeout(ctx, e.sendTimeout)
			if err := e.broadcast.SendAlert(broadcastCtx, rule.Name, rule.IndexPattern, logCount, from, to); err != nil {
				e.logger.Warn("broadcast alert failed", "rule_id", rule.ID, "error", err.Error())
			}
			cancelBroadcast()
		}
	}
}

// resolveWebhook picks the rule's webhook target.
// Params: rule with optional preloaded channel.
// Returns: channel URL when an enabled channel is bound, else the rule's
// direct URL, or ErrNoWebhook.
func resolveWebhook(rule *domain.Rule) (string, error) {
	webhookURL := rule.WebhookURL
	if rule.ChannelID != nil && rule.Channel != nil && rule.Channel.Enabled {
		webhookURL = rule.Channel.WebhookURL
	}
	if webhookURL == "" {
		return "", ErrNoWebhook
	}
	return webhookURL, nil
}
