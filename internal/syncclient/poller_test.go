package syncclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dermolink/chat-pipeline/internal/model"
)

// scriptFetcher returns one scripted result per poll, then repeats the last.
type scriptFetcher struct {
	mu      sync.Mutex
	batches [][]model.Message
	errs    []error
	calls   int
	afterID []int64
}

func (s *scriptFetcher) Poll(ctx context.Context, conversationID string, afterID int64) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.calls
	s.calls++
	s.afterID = append(s.afterID, afterID)

	if i >= len(s.batches) {
		i = len(s.batches) - 1
	}
	if i < 0 {
		return nil, nil
	}
	return s.batches[i], s.errs[i]
}

func (s *scriptFetcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func msgs(ids ...int64) []model.Message {
	out := make([]model.Message, len(ids))
	for i, id := range ids {
		out[i] = model.Message{ID: id, Status: model.StatusDelivered}
	}
	return out
}

func testConfig() Config {
	return Config{
		Interval:      time.Millisecond,
		BackoffFactor: 1.5,
		BackoffCap:    5 * time.Millisecond,
		MaxFailures:   3,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestCursorAdvancesWithoutRepeats(t *testing.T) {
	fetcher := &scriptFetcher{
		batches: [][]model.Message{msgs(1, 2), msgs(3), nil},
		errs:    []error{nil, nil, nil},
	}

	p := New(fetcher, "conv-1", testConfig())
	var mu sync.Mutex
	var seen []int64
	p.OnMessages = func(batch []model.Message) {
		mu.Lock()
		defer mu.Unlock()
		for _, m := range batch {
			seen = append(seen, m.ID)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return p.Cursor() == 3 })
	waitFor(t, func() bool { return fetcher.callCount() >= 4 })
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	for i, id := range seen {
		if id != int64(i+1) {
			t.Fatalf("gap or repeat in delivered ids: %v", seen)
		}
	}

	// Each poll must ask for strictly newer messages than the last batch.
	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	want := []int64{0, 2, 3, 3}
	for i, cursor := range want {
		if fetcher.afterID[i] != cursor {
			t.Fatalf("unexpected cursor sequence: %v", fetcher.afterID[:len(want)])
		}
	}
}

func TestConnectivityNoticeAfterConsecutiveFailures(t *testing.T) {
	down := errors.New("gateway unreachable")
	fetcher := &scriptFetcher{
		batches: [][]model.Message{nil, nil, nil, nil},
		errs:    []error{down, down, down, nil},
	}

	p := New(fetcher, "conv-1", testConfig())
	events := make(chan bool, 4)
	p.OnConnectivity = func(isDown bool) { events <- isDown }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	select {
	case isDown := <-events:
		if !isDown {
			t.Fatal("first connectivity event must report down")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no connectivity notice after repeated failures")
	}

	// The next successful poll clears the notice.
	select {
	case isDown := <-events:
		if isDown {
			t.Fatal("recovery event must report up")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no recovery notice after a successful poll")
	}
}

func TestFailureBackoffIsCapped(t *testing.T) {
	p := New(&scriptFetcher{}, "conv-1", testConfig())

	interval := p.cfg.Interval
	for i := 0; i < 10; i++ {
		interval = p.backoff(interval)
	}
	if interval != p.cfg.BackoffCap {
		t.Fatalf("backoff must converge to the cap, got %v", interval)
	}
}

func TestHiddenViewStopsPolling(t *testing.T) {
	fetcher := &scriptFetcher{
		batches: [][]model.Message{nil},
		errs:    []error{nil},
	}

	p := New(fetcher, "conv-1", testConfig())
	p.SetVisible(false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if n := fetcher.callCount(); n != 0 {
		t.Fatalf("hidden view must not poll, got %d calls", n)
	}

	// Becoming visible resumes the loop promptly.
	p.SetVisible(true)
	waitFor(t, func() bool { return fetcher.callCount() > 0 })

	cancel()
	<-done
}
