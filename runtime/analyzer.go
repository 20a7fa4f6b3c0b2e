package runtime

import (
	"context"
	"sync"

	"github.com/justapithecus/drawscan/types"
)

// Analyzer owns at most one live session. Starting a new session abandons
// the previous one and waits for it to stop, so an abandoned session can
// never publish after its successor has started.
//
// Observers must not call Start or Cancel from inside a callback: the
// previous session's callback would be waiting on itself.
type Analyzer struct {
	mu      sync.Mutex
	current *Session
	cancel  context.CancelFunc
}

// NewAnalyzer creates an analyzer with no session.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Start abandons any live session, then runs a new session from config in
// the background. The result channel receives exactly one value.
func (a *Analyzer) Start(ctx context.Context, config *SessionConfig) (*Session, <-chan *SessionResult, error) {
	session, err := NewSession(config)
	if err != nil {
		return nil, nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopLocked()

	sessionCtx, cancel := context.WithCancel(ctx)
	a.current = session
	a.cancel = cancel

	results := make(chan *SessionResult, 1)
	go func() {
		defer cancel()
		// Execute only fails on reuse, and this session is fresh.
		result, _ := session.Execute(sessionCtx)
		results <- result
	}()

	return session, results, nil
}

// Cancel abandons the live session, if any, and waits for it to stop.
func (a *Analyzer) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

func (a *Analyzer) stopLocked() {
	if a.current == nil {
		return
	}
	a.cancel()
	<-a.current.Done()
	a.current = nil
	a.cancel = nil
}

// Current returns the live session, or nil.
func (a *Analyzer) Current() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Latest returns the live session's latest snapshot, or nil when no
// session is live.
func (a *Analyzer) Latest() *types.Snapshot {
	s := a.Current()
	if s == nil {
		return nil
	}
	return s.Latest()
}
