// Package notify delivers alert cards to webhook endpoints with retry.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"logalert/internal/metrics"
)

// permanentError marks delivery failures retrying cannot fix, such as a
// body that does not marshal or a URL no request can be built for.
type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }

func (e permanentError) Unwrap() error { return e.err }

// BackoffFunc computes the wait before the next retry attempt.
// Params: 1-based failed attempt number.
// Returns: wait duration.
type BackoffFunc func(attempt int) time.Duration

// backoffWithJitter grows 1s,2s,4s,8s (capped) plus up to 250ms of jitter.
// Params: 1-based failed attempt number.
// Returns: wait duration.
func backoffWithJitter(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt-1)) * time.Second
	if base > 8*time.Second {
		base = 8 * time.Second
	}
	jitter := time.Duration(rand.Intn(250)) * time.Millisecond
	return base + jitter
}

// WebhookSender posts alert cards to webhook URLs with bounded retries.
// Params: attempt cap, backoff policy, and logger.
// Returns: delivery operations for the evaluator.
type WebhookSender struct {
	client      *http.Client
	maxAttempts int
	backoff     BackoffFunc
	logger      *slog.Logger
}

// NewWebhookSender builds a webhook sender.
// Params: attempt cap (min 1) and logger.
// Returns: sender with default backoff policy.
func NewWebhookSender(maxAttempts int, logger *slog.Logger) *WebhookSender {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookSender{
		client:      &http.Client{Timeout: 10 * time.Second},
		maxAttempts: maxAttempts,
		backoff:     backoffWithJitter,
		logger:      logger,
	}
}

// SetBackoff overrides the retry wait policy.
// Params: replacement backoff function.
// Returns: nothing.
func (s *WebhookSender) SetBackoff(backoff BackoffFunc) {
	if backoff != nil {
		s.backoff = backoff
	}
}

// SendAlert delivers one alert card.
// Params: ctx, webhook URL, rule name, index, log sample, count, and window.
// Returns: nil after an accepted delivery, error after exhausted retries.
func (s *WebhookSender) SendAlert(
	ctx context.Context,
	webhookURL, ruleName, indexName string,
	logs []map[string]any,
	logCount int,
	from, to time.Time,
) error {
	if logCount <= 0 {
		logCount = len(logs)
	}

	s.logger.Info("sending alert",
		"rule_name", ruleName,
		"index_name", indexName,
		"log_count", logCount,
		"max_attempts", s.maxAttempts)

	message := BuildAlertCard(ruleName, indexName, logs, logCount, from, to)
	return s.send(ctx, webhookURL, ruleName, message)
}

// SendTest delivers the connectivity check card without retries.
// Params: ctx and webhook URL.
// Returns: nil when the endpoint accepts the card.
func (s *WebhookSender) SendTest(ctx context.Context, webhookURL string) error {
	return s.post(ctx, webhookURL, BuildTestCard())
}

// send posts one message with retry and backoff.
// Params: ctx, webhook URL, rule name for logging, and message body.
// Returns: nil on acceptance, last error after all attempts, or ctx error.
func (s *WebhookSender) send(ctx context.Context, webhookURL, ruleName string, message map[string]any) error {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			stopTimer(timer)
		}
	}()

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		metrics.NotifyAttemptsTotal.Inc()
		lastErr = s.post(ctx, webhookURL, message)
		if lastErr == nil {
			if attempt > 1 {
				s.logger.Info("alert send recovered after retries",
					"rule_name", ruleName,
					"attempt", attempt)
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var perm permanentError
		if errors.As(lastErr, &perm) {
			s.logger.Error("alert send failed permanently",
				"rule_name", ruleName,
				"attempt", attempt,
				"error", lastErr.Error())
			return lastErr
		}

		s.logger.Warn("alert send attempt failed",
			"rule_name", ruleName,
			"attempt", attempt,
			"max_attempts", s.maxAttempts,
			"error", lastErr.Error())

		if attempt == s.maxAttempts {
			break
		}

		wait := s.backoff(attempt)
		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			stopTimer(timer)
			timer.Reset(wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	s.logger.Error("alert send failed after all attempts",
		"rule_name", ruleName,
		"attempts", s.maxAttempts,
		"error", lastErr.Error())
	return fmt.Errorf("send after %d attempts: %w", s.maxAttempts, lastErr)
}

// post performs one webhook POST and validates the response envelope.
// Params: ctx, webhook URL, and message body.
// Returns: nil only for HTTP 200 with body code 0.
func (s *WebhookSender) post(ctx context.Context, webhookURL string, message map[string]any) error {
	body, err := json.Marshal(message)
	if err != nil {
		return permanentError{err: fmt.Errorf("marshal message: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return permanentError{err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	respBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	// Status first: an error page is rarely JSON and the status code is
	// the failure worth recording.
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook status %d: %s", resp.StatusCode, respBody)
	}

	var result map[string]any
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("parse webhook response: %w", err)
	}
	if code, ok := result["code"].(float64); !ok || code != 0 {
		return fmt.Errorf("webhook api error: %v", result)
	}
	return nil
}

// stopTimer stops a timer and drains its channel if it already fired.
// Params: non-nil timer.
// Returns: nothing.
func stopTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}
