// Package events publishes pipeline notification events. Clients never
// consume these directly (they learn state through polling); the events feed
// downstream consumers such as dashboards and audit tooling.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dermolink/chat-pipeline/internal/model"
	"github.com/dermolink/chat-pipeline/pkg/logger"
)

// SubjectPrefix is the prefix for all pipeline event subjects.
const SubjectPrefix = "pipeline"

// Publisher emits pipeline events. Publishing is best-effort: a failed
// publish never blocks or fails a message resolution.
type Publisher interface {
	Publish(ctx context.Context, event *model.PipelineEvent) error
	Close()
}

// NATSPublisher publishes events to a NATS subject per conversation.
type NATSPublisher struct {
	conn   *nats.Conn
	logger *logger.Logger
}

// ConnectNATS establishes the NATS connection for event publishing.
func ConnectNATS(url, token string, log *logger.Logger) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: nc, logger: log}, nil
}

// Subject returns the subject for an event.
func Subject(conversationID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, conversationID, eventType)
}

// Publish emits one event.
func (p *NATSPublisher) Publish(ctx context.Context, event *model.PipelineEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.conn.Publish(Subject(event.ConversationID, event.Type), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

// Noop discards all events. Used when NATS is not configured.
type Noop struct{}

// Publish discards the event.
func (Noop) Publish(ctx context.Context, event *model.PipelineEvent) error { return nil }

// Close is a no-op.
func (Noop) Close() {}
