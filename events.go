package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// EventPublisher pushes provisioning events to a NATS subject. It is
// optional; without one configured, events only reach in-process sinks.
type EventPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewEventPublisher connects to NATS and returns a publisher for the
// given subject.
func NewEventPublisher(url, subject string) (*EventPublisher, error) {
	if url == "" {
		return nil, fmt.Errorf("NATS URL is required")
	}
	if subject == "" {
		return nil, fmt.Errorf("NATS subject is required")
	}

	conn, err := nats.Connect(url,
		nats.Name("drover"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	LogInfo("events").Str("url", url).Str("subject", subject).Msg("NATS publisher connected")

	return &EventPublisher{conn: conn, subject: subject}, nil
}

// Publish sends one event. Publishing is fire-and-forget; the bridge
// work never waits on the broker.
func (p *EventPublisher) Publish(event ProvisionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	LogDebug("events").
		Str("type", event.Type).
		Str("runId", event.RunID).
		Msg("Published event")

	return nil
}

// Close drains and closes the NATS connection.
func (p *EventPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

// publishEvent fans a provisioning event out to every attached sink.
// Sinks are optional; a bare CLI run has none.
func (a *App) publishEvent(event ProvisionEvent) {
	if a == nil {
		return
	}
	if a.wsHub != nil {
		a.wsHub.BroadcastEvent(event)
	}
	if a.events != nil {
		if err := a.events.Publish(event); err != nil {
			LogDebug("events").Err(err).Msg("NATS publish failed")
		}
	}
}
