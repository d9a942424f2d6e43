package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dermolink/chat-pipeline/internal/confirm"
	"github.com/dermolink/chat-pipeline/internal/dispatch"
	"github.com/dermolink/chat-pipeline/internal/events"
	"github.com/dermolink/chat-pipeline/internal/gateway"
	"github.com/dermolink/chat-pipeline/internal/handler"
	"github.com/dermolink/chat-pipeline/internal/llm"
	"github.com/dermolink/chat-pipeline/internal/lock"
	"github.com/dermolink/chat-pipeline/internal/model"
	"github.com/dermolink/chat-pipeline/internal/store"
	"github.com/dermolink/chat-pipeline/pkg/logger"
)

type env struct {
	store  *store.Memory
	gen    *llm.Mock
	gate   *confirm.Gate
	server *httptest.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		store: store.NewMemory(),
		gen:   llm.NewMock(),
		gate:  confirm.NewGate(confirm.KeywordTrigger(), time.Minute),
	}
	log := logger.NewNop()

	dispatcher := dispatch.New(e.store, lock.NewManager(time.Minute), e.gen, e.gate, gateway.Noop{}, events.Noop{}, log, dispatch.Config{
		Workers:           2,
		MaxRetries:        1,
		BackoffBase:       time.Millisecond,
		BackoffCap:        time.Millisecond,
		GenerationTimeout: time.Second,
	})
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Start(ctx)
	t.Cleanup(func() {
		cancel()
		dispatcher.Wait()
	})

	syncHandler := handler.NewSyncHandler(e.store, dispatcher, e.gate, log)
	conversationHandler := handler.NewConversationHandler(e.store, dispatcher, log)

	r := chi.NewRouter()
	r.Route("/conversations", func(r chi.Router) {
		r.Post("/", conversationHandler.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", conversationHandler.Get)
			r.Post("/close", conversationHandler.Close)
			r.Get("/messages", syncHandler.Poll)
			r.Post("/messages", syncHandler.Submit)
			r.Post("/confirm", syncHandler.Confirm)
		})
	})

	e.server = httptest.NewServer(r)
	t.Cleanup(e.server.Close)
	return e
}

func (e *env) newConversation(t *testing.T) string {
	t.Helper()
	conv, err := e.store.CreateConversation(context.Background(), "", "")
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	return conv.ID
}

func (e *env) post(t *testing.T, path, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(e.server.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading POST %s response failed: %v", path, err)
	}
	return resp, data
}

func (e *env) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading GET %s response failed: %v", path, err)
	}
	return resp, data
}

func TestSubmitAndPollFlow(t *testing.T) {
	e := newEnv(t)
	e.gen.Script([]string{"Hola, ¿en qué puedo ayudarte?"}, nil)
	convID := e.newConversation(t)

	resp, body := e.post(t, "/conversations/"+convID+"/messages", `{"content":"Hola"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.StatusCode, body)
	}
	var submitted model.SubmitMessageResponse
	if err := json.Unmarshal(body, &submitted); err != nil {
		t.Fatalf("bad submit response: %v", err)
	}
	if submitted.MessageID != 1 || submitted.PlaceholderID != 2 {
		t.Fatalf("unexpected submit ids: %+v", submitted)
	}

	// First poll from cursor 0 sees both the inbound message and the
	// placeholder, whatever state the reply is in.
	resp, body = e.get(t, "/conversations/"+convID+"/messages?after_id=0")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var page model.ListMessagesResponse
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("bad poll response: %v", err)
	}
	if len(page.Messages) != 2 || page.LastID != 2 {
		t.Fatalf("unexpected first poll: %+v", page)
	}

	// The reply resolves in place under the same id.
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, body = e.get(t, "/conversations/"+convID+"/messages?after_id=1")
		if err := json.Unmarshal(body, &page); err != nil {
			t.Fatalf("bad poll response: %v", err)
		}
		if len(page.Messages) == 1 && page.Messages[0].Status == model.StatusDelivered {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("reply never resolved: %+v", page)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if page.Messages[0].Content != "Hola, ¿en qué puedo ayudarte?" {
		t.Fatalf("unexpected reply: %+v", page.Messages[0])
	}

	// Polling past the last id is empty and keeps the cursor put.
	_, body = e.get(t, "/conversations/"+convID+"/messages?after_id=2")
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("bad poll response: %v", err)
	}
	if len(page.Messages) != 0 || page.LastID != 2 || page.HasMore {
		t.Fatalf("unexpected empty poll: %+v", page)
	}
}

func TestSubmitToClosedConversation(t *testing.T) {
	e := newEnv(t)
	convID := e.newConversation(t)

	if resp, _ := e.post(t, "/conversations/"+convID+"/close", ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 on close, got %d", resp.StatusCode)
	}
	resp, _ := e.post(t, "/conversations/"+convID+"/messages", `{"content":"Hola"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on closed conversation, got %d", resp.StatusCode)
	}
}

func TestConfirmFlow(t *testing.T) {
	e := newEnv(t)
	e.gen.Script([]string{"Continuamos."}, nil)
	convID := e.newConversation(t)

	_, body := e.post(t, "/conversations/"+convID+"/messages", `{"content":"continuar con el proceso"}`)
	var submitted model.SubmitMessageResponse
	if err := json.Unmarshal(body, &submitted); err != nil {
		t.Fatalf("bad submit response: %v", err)
	}
	if !submitted.RequiresConfirmation || submitted.ConfirmationMessage == "" {
		t.Fatalf("expected a confirmation request: %+v", submitted)
	}

	resp, body := e.post(t, "/conversations/"+convID+"/confirm", `{"accepted":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on confirm, got %d: %s", resp.StatusCode, body)
	}
	var confirmed model.ConfirmResponse
	if err := json.Unmarshal(body, &confirmed); err != nil {
		t.Fatalf("bad confirm response: %v", err)
	}
	if confirmed.State != model.ConfirmationAccepted {
		t.Fatalf("expected ACCEPTED, got %s", confirmed.State)
	}
}

func TestConfirmWithoutPending(t *testing.T) {
	e := newEnv(t)
	convID := e.newConversation(t)

	resp, _ := e.post(t, "/conversations/"+convID+"/confirm", `{"accepted":true}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 with no pending confirmation, got %d", resp.StatusCode)
	}
}

func TestPollValidation(t *testing.T) {
	e := newEnv(t)
	convID := e.newConversation(t)

	if resp, _ := e.get(t, "/conversations/"+convID+"/messages?after_id=abc"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad cursor, got %d", resp.StatusCode)
	}
	if resp, _ := e.get(t, "/conversations/"+uuid.NewString()+"/messages"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown conversation, got %d", resp.StatusCode)
	}
	if resp, _ := e.get(t, "/conversations/not-a-uuid/messages"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a malformed id, got %d", resp.StatusCode)
	}
}
