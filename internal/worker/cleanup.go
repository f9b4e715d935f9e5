package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"logalert/internal/clock"
	"logalert/internal/domain"
	"logalert/internal/metrics"
)

// AlertCleaner deletes old alert rows.
// Params: ctx and cutoff instant.
// Returns: deleted row count.
type AlertCleaner interface {
	CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionPolicy reads the cleanup schedule and records sweep outcomes.
// Params: ctx keyed operations.
// Returns: retention policy access.
type RetentionPolicy interface {
	Get(ctx context.Context) (domain.RetentionConfig, error)
	RecordExecution(ctx context.Context, at time.Time, status, result string) error
}

// CleanupWorker runs the daily alert retention sweep.
// Params: alert store, retention store, clock, and poll cadence.
// Returns: sweep lifecycle operations.
type CleanupWorker struct {
	alerts    AlertCleaner
	retention RetentionPolicy
	clock     clock.Clock
	logger    *slog.Logger
	poll      time.Duration
}

// NewCleanupWorker builds a cleanup worker.
// Params: alert store, retention store, clock, and logger.
// Returns: worker polling its schedule once a minute.
func NewCleanupWorker(alerts AlertCleaner, retention RetentionPolicy, clk clock.Clock, logger *slog.Logger) *CleanupWorker {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupWorker{
		alerts:    alerts,
		retention: retention,
		clock:     clk,
		logger:    logger,
		poll:      time.Minute,
	}
}

// Run polls the retention schedule and fires the sweep at the configured
// local time. The schedule is re-read every poll so edits apply without a
// restart.
// Params: ctx cancelling the loop.
// Returns: nothing.
func (w *CleanupWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	var nextRun *time.Time
	var schedHour, schedMinute int
	if cfg, err := w.retention.Get(ctx); err != nil {
		w.logger.Error("load retention config failed", "error", err.Error())
	} else if cfg.Enabled {
		nextRun = w.nextRunTime(cfg.Hour, cfg.Minute)
		schedHour, schedMinute = cfg.Hour, cfg.Minute
		w.logger.Info("cleanup scheduled",
			"next_run", nextRun.Format("2006-01-02 15:04:05"),
			"retention_days", cfg.RetentionDays)
	} else {
		w.logger.Info("cleanup disabled")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cfg, err := w.retention.Get(ctx)
			if err != nil {
				w.logger.Error("load retention config failed", "error", err.Error())
				continue
			}

			if !cfg.Enabled {
				if nextRun != nil {
					w.logger.Info("cleanup disabled, clearing schedule")
					nextRun = nil
				}
				continue
			}

			if nextRun == nil || cfg.Hour != schedHour || cfg.Minute != schedMinute {
				nextRun = w.nextRunTime(cfg.Hour, cfg.Minute)
				schedHour, schedMinute = cfg.Hour, cfg.Minute
				w.logger.Info("cleanup rescheduled",
					"next_run", nextRun.Format("2006-01-02 15:04:05"),
					"retention_days", cfg.RetentionDays)
			}

			// Truncated to the minute so the sweep fires anywhere inside
			// its scheduled minute.
			now := w.clock.Now().Truncate(time.Minute)
			if now.Before(nextRun.Truncate(time.Minute)) {
				continue
			}

			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("cleanup sweep failed", "error", err.Error())
			}

			// Advance a full day so the same scheduled minute cannot
			// trigger twice.
			bumped := nextRun.Add(24 * time.Hour)
			nextRun = &bumped
		}
	}
}

// RunOnce performs one retention sweep and records its outcome.
// Params: ctx.
// Returns: human-readable result string and sweep error.
func (w *CleanupWorker) RunOnce(ctx context.Context) (string, error) {
	cfg, err := w.retention.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("load retention config: %w", err)
	}

	now := w.clock.Now()
	cutoff := now.Add(-time.Duration(cfg.RetentionDays) * 24 * time.Hour)

	deleted, err := w.alerts.CleanupOlderThan(ctx, cutoff)
	if err != nil {
		result := fmt.Sprintf("清理失败: %v", err)
		metrics.CleanupRunsTotal.WithLabelValues("failed").Inc()
		if recordErr := w.retention.RecordExecution(ctx, now, domain.RetentionStatusFailed, result); recordErr != nil {
			w.logger.Error("record cleanup status failed", "error", recordErr.Error())
		}
		return result, err
	}

	result := fmt.Sprintf("成功删除 %d 条告警数据", deleted)
	if deleted == 0 {
		result = "没有需要清理的数据"
	}
	metrics.CleanupRunsTotal.WithLabelValues("success").Inc()
	w.logger.Info("cleanup completed",
		"deleted", deleted,
		"retention_days", cfg.RetentionDays)
	if recordErr := w.retention.RecordExecution(ctx, now, domain.RetentionStatusSuccess, result); recordErr != nil {
		w.logger.Error("record cleanup status failed", "error", recordErr.Error())
	}
	return result, nil
}

// nextRunTime computes the next scheduled sweep instant.
// Params: local hour and minute of day.
// Returns: today's slot, or tomorrow's when today's minute has passed.
func (w *CleanupWorker) nextRunTime(hour, minute int) *time.Time {
	now := w.clock.Now()
	run := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())

	if now.Truncate(time.Minute).After(run.Truncate(time.Minute)) {
		run = run.Add(24 * time.Hour)
	}
	return &run
}
