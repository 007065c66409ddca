package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Subjects for activation lifecycle events
const (
	SubjectActivationRequested = "domain.activation.requested"
	SubjectActivationLive      = "domain.activation.live"
	SubjectActivationFailed    = "domain.activation.failed"
	SubjectActivationRemoved   = "domain.activation.removed"
	SubjectActivationSuspended = "domain.activation.suspended"
	SubjectActivationResumed   = "domain.activation.resumed"
)

// StreamDomains is the JetStream stream carrying domain events
const StreamDomains = "DOMAINS"

// ActivationEvent is the payload published on activation state changes
type ActivationEvent struct {
	ActivationID       string    `json:"activation_id"`
	SiteID             string    `json:"site_id"`
	Hostname           string    `json:"hostname"`
	State              string    `json:"state"`
	PreviousState      string    `json:"previous_state,omitempty"`
	CertificateStatus  string    `json:"certificate_status,omitempty"`
	SuspendedByBilling bool      `json:"suspended_by_billing"`
	FailureReason      string    `json:"failure_reason,omitempty"`
	OccurredAt         time.Time `json:"occurred_at"`
}

// Publisher publishes activation events to NATS JetStream
type Publisher struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// NewPublisher connects to NATS and returns a JetStream publisher
func NewPublisher(url, name string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	return &Publisher{nc: nc, js: js}, nil
}

// EnsureStream creates the stream if it does not exist
func (p *Publisher) EnsureStream(ctx context.Context, name string, subjects []string) error {
	_, err := p.js.StreamInfo(name, nats.Context(ctx))
	if err == nil {
		return nil
	}

	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: subjects,
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
	}, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", name, err)
	}

	return nil
}

// Publish publishes an activation event on the given subject
func (p *Publisher) Publish(ctx context.Context, subject string, event *ActivationEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	log.Debug().Str("subject", subject).Str("hostname", event.Hostname).Msg("Event published")
	return nil
}

// Close drains and closes the NATS connection
func (p *Publisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.nc.Close()
		}
	}
}
