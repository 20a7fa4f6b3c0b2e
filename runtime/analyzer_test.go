package runtime

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/drawscan/types"
)

// countingObserver counts published snapshots.
type countingObserver struct {
	mu    sync.Mutex
	count int
}

func (c *countingObserver) OnSnapshot(*types.Snapshot) {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
}
func (c *countingObserver) OnServerError(*ServerError)      {}
func (c *countingObserver) OnStateChange(types.SessionState) {}

func (c *countingObserver) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func TestAnalyzer_StartReplacesLiveSession(t *testing.T) {
	a := NewAnalyzer()

	first := &blockingSource{
		head:    "{\"kind\":\"status\",\"message\":\"first\"}\n",
		started: make(chan struct{}),
	}
	firstObs := &countingObserver{}
	config := newTestConfig(first, firstObs)
	s1, results1, err := a.Start(context.Background(), config)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-first.started

	body := "{\"kind\":\"status\",\"message\":\"second\"}\n"
	config2 := newTestConfig(ReaderSource(strings.NewReader(body)), nil)
	config2.Meta = &types.SessionMeta{SessionID: "sess-2"}
	s2, results2, err := a.Start(context.Background(), config2)
	if err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	// The first session was stopped before Start returned.
	select {
	case <-s1.Done():
	default:
		t.Fatal("previous session still running after Start returned")
	}
	published := firstObs.Count()

	r1 := <-results1
	if r1.Outcome.Status != types.OutcomeCanceled {
		t.Errorf("first outcome = %s, want canceled", r1.Outcome.Status)
	}

	select {
	case r2 := <-results2:
		if r2.Snapshot.StatusMessage != "second" {
			t.Errorf("second StatusMessage = %q, want second", r2.Snapshot.StatusMessage)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("second session did not finish")
	}

	if firstObs.Count() != published {
		t.Error("abandoned session published after its successor started")
	}
	if a.Current() != s2 {
		t.Error("Current() should be the second session")
	}
	if a.Latest().StatusMessage != "second" {
		t.Errorf("Latest().StatusMessage = %q, want second", a.Latest().StatusMessage)
	}
}

func TestAnalyzer_Cancel(t *testing.T) {
	a := NewAnalyzer()
	a.Cancel() // no session: no-op

	src := &blockingSource{head: "{\"kind\":\"status\",\"message\":\"x\"}\n", started: make(chan struct{})}
	_, results, err := a.Start(context.Background(), newTestConfig(src, nil))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-src.started

	a.Cancel()
	result := <-results
	if result.State != types.SessionFailed {
		t.Errorf("State = %s, want failed", result.State)
	}
	if a.Current() != nil {
		t.Error("Current() should be nil after Cancel")
	}
	if a.Latest() != nil {
		t.Error("Latest() should be nil after Cancel")
	}
}

func TestAnalyzer_StartInvalidConfig(t *testing.T) {
	a := NewAnalyzer()
	if _, _, err := a.Start(context.Background(), &SessionConfig{}); err == nil {
		t.Error("expected error for invalid config")
	}
}
