package supervisor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dermolink/chat-pipeline/internal/confirm"
	"github.com/dermolink/chat-pipeline/internal/events"
	"github.com/dermolink/chat-pipeline/internal/model"
	"github.com/dermolink/chat-pipeline/internal/store"
	"github.com/dermolink/chat-pipeline/internal/supervisor"
	"github.com/dermolink/chat-pipeline/pkg/logger"
)

type recordCanceler struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordCanceler) CancelJob(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, conversationID)
}

func newStalePlaceholder(t *testing.T, st *store.Memory) (string, int64) {
	t.Helper()
	ctx := context.Background()

	conv, err := st.CreateConversation(ctx, "delegate-1", "")
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if _, err := st.CreateMessage(ctx, conv.ID, model.DirectionIn, "hola", model.StatusDelivered); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}
	placeholder, err := st.CreateMessage(ctx, conv.ID, model.DirectionOut, "Procesando respuesta...", model.StatusProcessing)
	if err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}
	return conv.ID, placeholder.ID
}

func TestSweepResolvesStalePlaceholder(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	gate := confirm.NewGate(confirm.KeywordTrigger(), time.Minute)
	canceler := &recordCanceler{}

	convID, placeholderID := newStalePlaceholder(t, st)

	sup := supervisor.New(st, gate, canceler, events.Noop{}, logger.NewNop(), time.Hour, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	sup.Sweep(ctx)

	msgs, err := st.ListMessagesSince(ctx, convID, placeholderID-1, 1)
	if err != nil || len(msgs) == 0 {
		t.Fatalf("placeholder not found: %v", err)
	}
	if msgs[0].Status != model.StatusTimeout {
		t.Fatalf("expected TIMEOUT, got %s", msgs[0].Status)
	}
	if msgs[0].Content != supervisor.TimeoutContent {
		t.Fatalf("unexpected timeout content: %q", msgs[0].Content)
	}
	if msgs[0].ResolvedAt == nil {
		t.Fatal("expected ResolvedAt on timed-out placeholder")
	}

	canceler.mu.Lock()
	defer canceler.mu.Unlock()
	if len(canceler.ids) != 1 || canceler.ids[0] != convID {
		t.Fatalf("expected in-flight job cancellation for %s, got %v", convID, canceler.ids)
	}
}

func TestSweepIgnoresFreshPlaceholder(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	gate := confirm.NewGate(confirm.KeywordTrigger(), time.Minute)

	convID, placeholderID := newStalePlaceholder(t, st)

	sup := supervisor.New(st, gate, nil, events.Noop{}, logger.NewNop(), time.Hour, time.Hour)
	sup.Sweep(ctx)

	msgs, _ := st.ListMessagesSince(ctx, convID, placeholderID-1, 1)
	if msgs[0].Status != model.StatusProcessing {
		t.Fatalf("placeholder within deadline must be untouched, got %s", msgs[0].Status)
	}
}

func TestSweepSkipsSuspendedConfirmation(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	gate := confirm.NewGate(confirm.KeywordTrigger(), time.Minute)

	convID, placeholderID := newStalePlaceholder(t, st)
	gate.Create(convID, "continuar", nil)

	sup := supervisor.New(st, gate, nil, events.Noop{}, logger.NewNop(), time.Hour, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	sup.Sweep(ctx)

	// The gate owns suspended placeholders until the request resolves.
	msgs, _ := st.ListMessagesSince(ctx, convID, placeholderID-1, 1)
	if msgs[0].Status != model.StatusProcessing {
		t.Fatalf("suspended placeholder must not time out, got %s", msgs[0].Status)
	}
}

func TestSweepLosesRaceToDispatcher(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	gate := confirm.NewGate(confirm.KeywordTrigger(), time.Minute)
	canceler := &recordCanceler{}

	convID, placeholderID := newStalePlaceholder(t, st)

	// The dispatcher resolves first; the sweep must change nothing.
	content := "listo"
	if _, err := st.UpdateMessageStatus(ctx, convID, placeholderID, model.StatusProcessing, model.StatusDelivered, &content); err != nil {
		t.Fatalf("UpdateMessageStatus failed: %v", err)
	}

	sup := supervisor.New(st, gate, canceler, events.Noop{}, logger.NewNop(), time.Hour, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	sup.Sweep(ctx)

	msgs, _ := st.ListMessagesSince(ctx, convID, placeholderID-1, 1)
	if msgs[0].Status != model.StatusDelivered || msgs[0].Content != "listo" {
		t.Fatalf("delivered reply must be untouched by the sweep: %+v", msgs[0])
	}
	canceler.mu.Lock()
	defer canceler.mu.Unlock()
	if len(canceler.ids) != 0 {
		t.Fatalf("no cancellation expected, got %v", canceler.ids)
	}
}
