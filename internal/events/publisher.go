// Package events publishes alert-created events to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"logalert/internal/config"
)

const alertStreamMaxAge = 7 * 24 * time.Hour

// AlertEvent is the payload published after an alert record is persisted.
// Params: identifying fields copied from the alert row.
// Returns: JSON event body.
type AlertEvent struct {
	AlertID   uint      `json:"alert_id"`
	RuleID    uint      `json:"rule_id"`
	RuleName  string    `json:"rule_name"`
	IndexName string    `json:"index_name"`
	LogCount  int       `json:"log_count"`
	Status    string    `json:"status"`
	TimeRange string    `json:"time_range"`
	CreatedAt time.Time `json:"created_at"`
}

// Publisher emits alert events.
// Params: context and event payload.
// Returns: publish error.
type Publisher interface {
	Publish(ctx context.Context, event AlertEvent) error
	Close() error
}

// NopPublisher drops all events. Used when no NATS URL is configured.
type NopPublisher struct{}

// Publish discards the event.
// Params: ctx and event (ignored).
// Returns: nil.
func (NopPublisher) Publish(context.Context, AlertEvent) error { return nil }

// Close is a no-op.
// Params: none.
// Returns: nil.
func (NopPublisher) Close() error { return nil }

// NATSPublisher publishes alert events into a JetStream stream.
// Params: NATS connection and publish subject settings.
// Returns: event publisher implementation.
type NATSPublisher struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	subject string
}

// NewNATSPublisher connects and ensures the alert event stream exists.
// Params: events config section.
// Returns: initialized publisher or setup error.
func NewNATSPublisher(cfg config.EventsConfig) (*NATSPublisher, error) {
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("connect events nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for events: %w", err)
	}
	if err := ensureStream(js, cfg.Stream, cfg.Subject); err != nil {
		nc.Close()
		return nil, err
	}
	return &NATSPublisher{nc: nc, js: js, subject: cfg.Subject}, nil
}

// Publish emits one alert event with the alert id as message id.
// Params: ctx and event payload.
// Returns: publish error.
func (p *NATSPublisher) Publish(ctx context.Context, event AlertEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal alert event: %w", err)
	}

	msg := nats.NewMsg(p.subject)
	msg.Data = body
	if event.AlertID != 0 {
		msg.Header.Set("Nats-Msg-Id", fmt.Sprintf("alert-%d", event.AlertID))
	}
	if _, err := p.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish alert event: %w", err)
	}
	return nil
}

// Close closes the publisher connection.
// Params: none.
// Returns: nil after connection close.
func (p *NATSPublisher) Close() error {
	if p == nil || p.nc == nil {
		return nil
	}
	p.nc.Close()
	return nil
}

// ensureStream ensures the alert event stream exists.
// Params: JetStream context and stream/subject names.
// Returns: stream create/lookup error.
func ensureStream(js nats.JetStreamContext, streamName, subject string) error {
	if _, err := js.StreamInfo(streamName); err == nil {
		return nil
	} else if err != nats.ErrStreamNotFound && !strings.Contains(strings.ToLower(err.Error()), "stream not found") {
		return fmt.Errorf("stream info %q: %w", streamName, err)
	}

	_, err := js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    alertStreamMaxAge,
	})
	if err != nil {
		return fmt.Errorf("create stream %q: %w", streamName, err)
	}
	return nil
}
