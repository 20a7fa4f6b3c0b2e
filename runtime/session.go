package runtime

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justapithecus/drawscan/iox"
	"github.com/justapithecus/drawscan/log"
	"github.com/justapithecus/drawscan/metrics"
	"github.com/justapithecus/drawscan/stream"
	"github.com/justapithecus/drawscan/types"
)

// ErrSessionReused is returned when Execute is called more than once.
var ErrSessionReused = errors.New("session already executed")

// Source opens the byte stream a session consumes. Open must honor ctx:
// canceling it has to abort any in-flight read of the returned body.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// readerSource serves a fixed reader, for replays.
type readerSource struct {
	r io.Reader
}

// ReaderSource returns a Source over an already-open reader.
func ReaderSource(r io.Reader) Source {
	return readerSource{r: r}
}

func (s readerSource) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(s.r), nil
}

// SessionConfig configures a single analysis session.
type SessionConfig struct {
	// Meta is the session identity.
	Meta *types.SessionMeta
	// Source opens the response stream.
	Source Source
	// Observer receives snapshots, server errors and state changes (optional).
	Observer Observer
	// Logger is the session logger. If nil, a logger is built from Meta.
	Logger *log.Logger
	// Collector records session counters. If nil, nothing is recorded.
	Collector *metrics.Collector
	// StrictTermination fails the session when the stream ends with an
	// unterminated record instead of discarding it.
	StrictTermination bool
	// RequireBody fails the session when the response body is empty.
	RequireBody bool
	// Capture receives a copy of every raw byte read (optional).
	Capture io.Writer
}

// SessionResult represents the result of a session.
type SessionResult struct {
	// Meta is the session identity.
	Meta *types.SessionMeta
	// State is the terminal state, Completed or Failed.
	State types.SessionState
	// Outcome classifies how the session ended.
	Outcome *types.Outcome
	// Snapshot is the last published snapshot. On failure it is kept, not cleared.
	Snapshot *types.Snapshot
	// Err is the terminal error for failed sessions.
	Err error
	// ServerErrors are the messages of all error events, in order.
	ServerErrors []string
	// BytesRead is the raw size of the response body consumed.
	BytesRead int64
	// Records is the number of non-blank records received.
	Records int64
	// Duration is the total session duration.
	Duration time.Duration
}

// Session runs one upload-and-stream exchange through the state machine
// Idle -> Streaming -> {Completed | Failed}.
type Session struct {
	config   *SessionConfig
	logger   *log.Logger
	observer Observer
	latest   atomic.Pointer[types.Snapshot]

	mu       sync.Mutex
	state    types.SessionState
	executed bool
	done     chan struct{}
}

// NewSession creates a new session in the Idle state.
func NewSession(config *SessionConfig) (*Session, error) {
	if config.Meta == nil || config.Meta.SessionID == "" {
		return nil, errors.New("session requires a session id")
	}
	if config.Source == nil {
		return nil, errors.New("session requires a source")
	}

	logger := config.Logger
	if logger == nil {
		logger = log.NewLogger(config.Meta)
	}
	observer := config.Observer
	if observer == nil {
		observer = ObserverFuncs{}
	}

	s := &Session{
		config:   config,
		logger:   logger,
		observer: observer,
		state:    types.SessionIdle,
		done:     make(chan struct{}),
	}
	s.latest.Store(types.EmptySnapshot())
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.config.Meta.SessionID
}

// State returns the current session state.
func (s *Session) State() types.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Latest returns the most recently published snapshot. Safe to call from
// any goroutine while the session runs.
func (s *Session) Latest() *types.Snapshot {
	return s.latest.Load()
}

// Done is closed when Execute returns.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// transition moves to next if the state machine allows it.
func (s *Session) transition(next types.SessionState) {
	s.mu.Lock()
	if !s.state.CanTransition(next) {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = next
	s.mu.Unlock()

	s.logger.Debug("session state changed", map[string]any{
		"from": prev,
		"to":   next,
	})
	s.observer.OnStateChange(next)
}

// Execute runs the session end-to-end and returns its result.
// The only error return is ErrSessionReused; stream failures are reported
// in the result.
//
// Execution flow:
//  1. Open the source (request + response headers)
//  2. Enter Streaming on the first chunk
//  3. Dispatch records until end of stream or failure
//  4. Determine outcome
func (s *Session) Execute(ctx context.Context) (*SessionResult, error) {
	s.mu.Lock()
	if s.executed {
		s.mu.Unlock()
		return nil, ErrSessionReused
	}
	s.executed = true
	s.mu.Unlock()
	defer close(s.done)

	start := time.Now()
	collector := s.config.Collector
	collector.IncSessionStarted()
	s.logger.Info("starting session", nil)

	body, err := s.config.Source.Open(ctx)
	if err != nil {
		kind := DispatchErrorTransport
		if ctx.Err() != nil {
			kind = DispatchErrorCanceled
		}
		return s.buildResult(start, &DispatchError{Kind: kind, Err: err}, nil, nil), nil
	}
	defer iox.DiscardClose(body)

	var src io.Reader = body
	if s.config.Capture != nil {
		src = io.TeeReader(body, s.config.Capture)
	}

	opts := []stream.Option{stream.OnFirstChunk(func() { s.transition(types.SessionStreaming) })}
	if s.config.StrictTermination {
		opts = append(opts, stream.WithStrictTermination())
	}
	if s.config.RequireBody {
		opts = append(opts, stream.WithRequireBody())
	}
	reader := stream.NewRecordReader(src, opts...)

	dispatcher := NewDispatcher(reader, s.logger, collector, s.observer, &s.latest)
	runErr := dispatcher.Run(ctx)

	return s.buildResult(start, runErr, dispatcher, reader), nil
}

// buildResult settles the terminal state and assembles the result.
func (s *Session) buildResult(start time.Time, err error, d *Dispatcher, r *stream.RecordReader) *SessionResult {
	var serverErrors []string
	if d != nil {
		serverErrors = d.ServerErrors()
	}
	outcome := DetermineOutcome(err, len(serverErrors))

	collector := s.config.Collector
	switch {
	case err == nil:
		// A stream may complete without ever delivering a byte when no
		// body is required; pass through Streaming so the machine holds.
		s.transition(types.SessionStreaming)
		s.transition(types.SessionCompleted)
		collector.IncSessionCompleted()
	case IsCanceledError(err):
		s.transition(types.SessionFailed)
		collector.IncSessionCanceled()
	default:
		s.transition(types.SessionFailed)
		collector.IncSessionFailed()
	}

	result := &SessionResult{
		Meta:         s.config.Meta,
		State:        s.State(),
		Outcome:      outcome,
		Snapshot:     s.latest.Load(),
		Err:          err,
		ServerErrors: serverErrors,
		Duration:     time.Since(start),
	}
	if r != nil {
		result.BytesRead = r.BytesRead()
		result.Records = r.Records()
	}

	s.logger.Info("session finished", map[string]any{
		"state":         result.State,
		"outcome":       outcome.Status,
		"records":       result.Records,
		"bytes":         result.BytesRead,
		"server_errors": len(serverErrors),
		"duration_ms":   result.Duration.Milliseconds(),
	})
	return result
}
