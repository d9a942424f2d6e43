// Package supervisor runs the background sweep that keeps the pipeline
// from hanging: placeholders stuck in PROCESSING past the processing
// deadline are resolved to TIMEOUT, and confirmation requests past their
// expiry are rejected. The entity store's compare-and-swap transition makes
// the race against the dispatcher safe: exactly one writer wins.
package supervisor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dermolink/chat-pipeline/internal/confirm"
	"github.com/dermolink/chat-pipeline/internal/events"
	"github.com/dermolink/chat-pipeline/internal/model"
	"github.com/dermolink/chat-pipeline/internal/store"
	"github.com/dermolink/chat-pipeline/pkg/logger"
	"github.com/dermolink/chat-pipeline/pkg/metrics"
)

// TimeoutContent is the fixed user-facing copy for a timed-out reply.
const TimeoutContent = "El servicio está tardando demasiado en responder. Por favor, intenta de nuevo."

// JobCanceler nudges the dispatcher to abandon an in-flight generation
// whose placeholder the supervisor already resolved.
type JobCanceler interface {
	CancelJob(conversationID string)
}

// Supervisor sweeps on a fixed interval.
type Supervisor struct {
	store    store.Store
	gate     *confirm.Gate
	canceler JobCanceler
	pub      events.Publisher
	logger   *logger.Logger

	interval time.Duration
	deadline time.Duration
}

// New creates a supervisor sweeping every interval for placeholders older
// than deadline.
func New(st store.Store, gate *confirm.Gate, canceler JobCanceler, pub events.Publisher, log *logger.Logger, interval, deadline time.Duration) *Supervisor {
	return &Supervisor{
		store:    st,
		gate:     gate,
		canceler: canceler,
		pub:      pub,
		logger:   log,
		interval: interval,
		deadline: deadline,
	}
}

// Run sweeps until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass: stale placeholders and expired confirmations.
func (s *Supervisor) Sweep(ctx context.Context) {
	s.sweepStale(ctx)
	if ids := s.gate.ExpireStale(); len(ids) > 0 {
		s.logger.Info("expired confirmations", zap.Strings("conversations", ids))
	}
}

func (s *Supervisor) sweepStale(ctx context.Context) {
	stale, err := s.store.ListStaleProcessing(ctx, time.Now().Add(-s.deadline))
	if err != nil {
		s.logger.Error("stale sweep failed", zap.Error(err))
		return
	}

	for _, msg := range stale {
		// Placeholders suspended behind a live confirmation are not stuck;
		// the gate owns their fate until the request resolves or expires.
		if _, pending := s.gate.Pending(msg.ConversationID); pending {
			continue
		}

		content := TimeoutContent
		if _, err := s.store.UpdateMessageStatus(ctx, msg.ConversationID, msg.ID, model.StatusProcessing, model.StatusTimeout, &content); err != nil {
			// The dispatcher resolved it first. Expected, not a failure.
			if !errors.Is(err, store.ErrConflict) {
				s.logger.Error("timeout transition failed", zap.Error(err),
					zap.String("conversation_id", msg.ConversationID), zap.Int64("message_id", msg.ID))
			}
			continue
		}

		metrics.TimeoutsSweptTotal.Inc()
		metrics.ResolutionsTotal.WithLabelValues(string(model.StatusTimeout)).Inc()
		s.logger.Warn("placeholder timed out",
			zap.String("conversation_id", msg.ConversationID), zap.Int64("message_id", msg.ID))

		if s.canceler != nil {
			s.canceler.CancelJob(msg.ConversationID)
		}
		if err := s.pub.Publish(ctx, &model.PipelineEvent{
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			Type:           model.EventMessageTimeout,
			Status:         model.StatusTimeout,
			CreatedAt:      time.Now(),
		}); err != nil {
			s.logger.Warn("event publish failed", zap.Error(err))
		}
	}
}
