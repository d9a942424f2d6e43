// Package dispatch implements the reply dispatcher: a bounded worker pool
// that admits inbound messages conversation-by-conversation, invokes the
// generation collaborator, and resolves the outbound placeholder through
// the entity store. Per-conversation ordering is enforced by the lock
// manager; fairness across conversations comes from the shared FIFO job
// queue.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/dermolink/chat-pipeline/internal/confirm"
	"github.com/dermolink/chat-pipeline/internal/events"
	"github.com/dermolink/chat-pipeline/internal/gateway"
	"github.com/dermolink/chat-pipeline/internal/llm"
	"github.com/dermolink/chat-pipeline/internal/lock"
	"github.com/dermolink/chat-pipeline/internal/model"
	"github.com/dermolink/chat-pipeline/internal/store"
	"github.com/dermolink/chat-pipeline/pkg/logger"
	"github.com/dermolink/chat-pipeline/pkg/metrics"
)

// User-facing pipeline copy. The client never sees a raw error, only a
// resolved conversational message.
const (
	PlaceholderContent = "Procesando respuesta..."
	FailureContent     = "Lo siento, ha ocurrido un error procesando tu mensaje. Por favor, intenta de nuevo."
	CancelledContent   = "La solicitud ha sido cancelada."
)

// Config holds dispatcher tuning.
type Config struct {
	Workers           int
	MaxRetries        int           // retries after the initial attempt
	BackoffBase       time.Duration // first retry wait, doubled per attempt
	BackoffCap        time.Duration
	GenerationTimeout time.Duration // per-call collaborator timeout
}

// job is one admitted generation unit. The token proves the job holds its
// conversation's lock.
type job struct {
	conversationID string
	inboundID      int64
	content        string
	token          lock.Token
	placeholderID  int64 // 0 until the placeholder exists
	confirmed      bool  // resumed after an accepted confirmation
}

// Dispatcher coordinates the generation worker pool.
type Dispatcher struct {
	store  store.Store
	locks  *lock.Manager
	gen    llm.Client
	gate   *confirm.Gate
	gw     gateway.Gateway
	pub    events.Publisher
	logger *logger.Logger
	cfg    Config

	jobs chan job
	wg   sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // in-flight generation, by conversation
}

// New creates a dispatcher. Start must be called before submitting work.
func New(st store.Store, locks *lock.Manager, gen llm.Client, gate *confirm.Gate, gw gateway.Gateway, pub events.Publisher, log *logger.Logger, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Dispatcher{
		store:   st,
		locks:   locks,
		gen:     gen,
		gate:    gate,
		gw:      gw,
		pub:     pub,
		logger:  log,
		cfg:     cfg,
		jobs:    make(chan job, 1024),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Start launches the worker pool. Workers run until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-d.jobs:
					d.run(ctx, j)
				}
			}
		}()
	}
}

// Wait blocks until all workers have exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Submit records an inbound message and admits it to the pipeline. It
// returns immediately; clients observe progress through polling. When the
// content matches the confirmation trigger policy, the reply is suspended
// behind a ConfirmationRequest instead of being generated.
func (d *Dispatcher) Submit(ctx context.Context, conversationID, content string) (*model.SubmitMessageResponse, error) {
	inbound, err := d.store.CreateMessage(ctx, conversationID, model.DirectionIn, content, model.StatusDelivered)
	if err != nil {
		return nil, err
	}
	metrics.MessagesTotal.WithLabelValues(string(model.DirectionIn), string(model.StatusDelivered)).Inc()

	resp := &model.SubmitMessageResponse{MessageID: inbound.ID}

	tok, acquired := d.locks.Acquire(conversationID, inbound.ID)
	if !acquired {
		// A job is already active; the lock manager queued the message and
		// the releasing worker will admit it in order.
		return resp, nil
	}

	placeholder, err := d.store.CreateMessage(ctx, conversationID, model.DirectionOut, PlaceholderContent, model.StatusProcessing)
	if err != nil {
		d.releaseAndDrain(tok)
		return nil, err
	}
	metrics.MessagesTotal.WithLabelValues(string(model.DirectionOut), string(model.StatusProcessing)).Inc()
	resp.PlaceholderID = placeholder.ID

	if d.gate.Triggered(content) {
		req := d.gate.Create(conversationID, content, d.resolveFunc(job{
			conversationID: conversationID,
			inboundID:      inbound.ID,
			content:        content,
			token:          tok,
			placeholderID:  placeholder.ID,
		}))
		// The suspended job must keep its lock for the confirmation's whole
		// lifetime, which can exceed the base lock ttl.
		d.locks.Extend(tok, req.ExpiresAt)
		resp.RequiresConfirmation = true
		resp.ConfirmationMessage = confirm.Prompt
		return resp, nil
	}

	d.enqueue(job{
		conversationID: conversationID,
		inboundID:      inbound.ID,
		content:        content,
		token:          tok,
		placeholderID:  placeholder.ID,
	})
	return resp, nil
}

// CancelConversation cancels any in-flight or suspended job for a closed
// conversation, resolving its placeholder to FAILED and discarding the
// queue.
func (d *Dispatcher) CancelConversation(conversationID string) {
	// A pending confirmation resolves as rejected, which fails the
	// placeholder and releases the lock through its callback.
	if _, err := d.gate.Resolve(conversationID, false); err == nil {
		d.locks.Drop(conversationID)
		return
	}

	d.CancelJob(conversationID)
	d.locks.Drop(conversationID)
}

// CancelJob cancels the in-flight generation for a conversation, if any.
// The worker observes the cancellation and resolves the placeholder itself.
func (d *Dispatcher) CancelJob(conversationID string) {
	d.mu.Lock()
	cancel, ok := d.cancels[conversationID]
	d.mu.Unlock()
	if ok {
		cancel()
	}
}

// enqueue hands a job to the pool without blocking the caller's request
// path for long; the queue is deep enough that a full buffer means the
// system is saturated and backpressure is the right behavior.
func (d *Dispatcher) enqueue(j job) {
	d.jobs <- j
}

// resolveFunc builds the confirmation callback for a suspended job.
func (d *Dispatcher) resolveFunc(j job) confirm.ResolveFunc {
	return func(accepted bool) {
		if accepted {
			// The resumed job gets a fresh deadline; the confirmation may
			// have been sitting near its expiry.
			d.locks.Refresh(j.token)
			j.confirmed = true
			d.enqueue(j)
			return
		}

		cancelled := CancelledContent
		d.resolvePlaceholder(j, model.StatusFailed, &cancelled)
		d.releaseAndDrain(j.token)
	}
}

// run executes one admitted job on a worker.
func (d *Dispatcher) run(ctx context.Context, j job) {
	log := d.logger.WithConversation(j.conversationID)

	// Jobs admitted from the lock queue have no placeholder yet.
	if j.placeholderID == 0 {
		placeholder, err := d.store.CreateMessage(ctx, j.conversationID, model.DirectionOut, PlaceholderContent, model.StatusProcessing)
		if err != nil {
			// Conversation closed while the message sat in the queue.
			if !errors.Is(err, store.ErrConversationClosed) {
				log.Error("failed to create placeholder", zap.Error(err))
			}
			d.releaseAndDrain(j.token)
			return
		}
		metrics.MessagesTotal.WithLabelValues(string(model.DirectionOut), string(model.StatusProcessing)).Inc()
		j.placeholderID = placeholder.ID

		if !j.confirmed && d.gate.Triggered(j.content) {
			req := d.gate.Create(j.conversationID, j.content, d.resolveFunc(j))
			d.locks.Extend(j.token, req.ExpiresAt)
			return
		}
	}

	jobCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancels[j.conversationID] = cancel
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.cancels, j.conversationID)
		d.mu.Unlock()
		cancel()
	}()

	metrics.ActiveJobs.Inc()
	content, err := d.generate(jobCtx, j)
	metrics.ActiveJobs.Dec()

	switch {
	case err == nil:
		if msg := d.resolvePlaceholder(j, model.StatusDelivered, &content); msg != nil {
			d.deliverExternal(ctx, msg)
		}
	case errors.Is(err, context.Canceled):
		cancelled := CancelledContent
		d.resolvePlaceholder(j, model.StatusFailed, &cancelled)
	default:
		log.Warn("generation exhausted", zap.Error(err))
		apology := FailureContent
		d.resolvePlaceholder(j, model.StatusFailed, &apology)
	}

	d.releaseAndDrain(j.token)
}

// generate invokes the collaborator with the full ordered history, retrying
// transient failures with exponential backoff up to the attempt cap.
func (d *Dispatcher) generate(ctx context.Context, j job) (string, error) {
	history, err := d.history(ctx, j)
	if err != nil {
		return "", err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.BackoffBase
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = d.cfg.BackoffCap
	bo.MaxElapsedTime = 0

	var content string
	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 {
			metrics.GenerationRetriesTotal.Inc()
		}

		callCtx, cancelCall := context.WithTimeout(ctx, d.cfg.GenerationTimeout)
		defer cancelCall()

		start := time.Now()
		out, genErr := d.gen.Generate(callCtx, history)
		elapsed := time.Since(start).Seconds()

		switch {
		case genErr == nil:
			metrics.RecordGeneration(d.gen.Name(), "success", elapsed)
			content = out
			return nil
		case ctx.Err() != nil:
			// The job itself was cancelled (close or timeout sweep), not
			// just one call.
			metrics.RecordGeneration(d.gen.Name(), "cancelled", elapsed)
			return backoff.Permanent(context.Canceled)
		case llm.IsTransient(genErr):
			metrics.RecordGeneration(d.gen.Name(), "transient_error", elapsed)
			return genErr
		default:
			metrics.RecordGeneration(d.gen.Name(), "permanent_error", elapsed)
			return backoff.Permanent(genErr)
		}
	}

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(d.cfg.MaxRetries)), ctx)); err != nil {
		return "", err
	}
	return content, nil
}

// history builds the generation input: every delivered message in order,
// inbound as user turns and outbound as assistant turns. Unresolved or
// failed placeholders carry no conversational content and are skipped.
func (d *Dispatcher) history(ctx context.Context, j job) ([]llm.Message, error) {
	msgs, err := d.store.History(ctx, j.conversationID)
	if err != nil {
		return nil, err
	}

	history := make([]llm.Message, 0, len(msgs)+1)
	for _, msg := range msgs {
		if msg.Status != model.StatusDelivered {
			continue
		}
		role := llm.RoleUser
		if msg.Direction == model.DirectionOut {
			role = llm.RoleAssistant
		}
		history = append(history, llm.Message{Role: role, Content: msg.Content})
	}
	if j.confirmed {
		history = append(history, llm.Message{
			Role:    llm.RoleUser,
			Content: "El usuario ha confirmado que desea continuar con el proceso.",
		})
	}
	return history, nil
}

// resolvePlaceholder performs the single terminal transition for a
// placeholder. Losing the race to the timeout supervisor is expected and
// dropped silently.
func (d *Dispatcher) resolvePlaceholder(j job, status model.MessageStatus, content *string) *model.Message {
	msg, err := d.store.UpdateMessageStatus(context.Background(), j.conversationID, j.placeholderID, model.StatusProcessing, status, content)
	if err != nil {
		if !errors.Is(err, store.ErrConflict) {
			d.logger.WithConversation(j.conversationID).Error("failed to resolve placeholder", zap.Error(err))
		}
		return nil
	}

	metrics.ResolutionsTotal.WithLabelValues(string(status)).Inc()
	if err := d.pub.Publish(context.Background(), &model.PipelineEvent{
		ConversationID: j.conversationID,
		MessageID:      j.placeholderID,
		Type:           model.EventMessageResolved,
		Status:         status,
		CreatedAt:      time.Now(),
	}); err != nil {
		d.logger.Warn("event publish failed", zap.Error(err))
	}
	return msg
}

// deliverExternal pushes a delivered reply through the external gateway
// when the conversation is channel-bound. Delivery is at-least-once; a
// failure is logged and counted but does not change message state.
func (d *Dispatcher) deliverExternal(ctx context.Context, msg *model.Message) {
	conv, err := d.store.GetConversation(ctx, msg.ConversationID)
	if err != nil || conv.ChannelRef == "" {
		return
	}

	if err := d.gw.Deliver(ctx, conv.ChannelRef, msg.Content); err != nil {
		metrics.GatewayDeliveriesTotal.WithLabelValues("failed").Inc()
		d.logger.WithConversation(msg.ConversationID).Error("gateway delivery failed", zap.Error(err))
		return
	}
	metrics.GatewayDeliveriesTotal.WithLabelValues("delivered").Inc()
}

// releaseAndDrain gives up the conversation lock and, when inbound messages
// queued up behind the finished job, admits the next one with the lock
// handed over.
func (d *Dispatcher) releaseAndDrain(tok lock.Token) {
	next, msgID, ok := d.locks.Release(tok)
	if !ok {
		return
	}

	content := ""
	if msgs, err := d.store.ListMessagesSince(context.Background(), tok.ConversationID, msgID-1, 1); err == nil && len(msgs) > 0 {
		content = msgs[0].Content
	}

	d.enqueue(job{
		conversationID: tok.ConversationID,
		inboundID:      msgID,
		content:        content,
		token:          next,
	})
}
