package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/justapithecus/drawscan/log"
	"github.com/justapithecus/drawscan/metrics"
	"github.com/justapithecus/drawscan/stream"
	"github.com/justapithecus/drawscan/types"
)

// DispatchError classifies terminal dispatch errors for outcome determination.
type DispatchError struct {
	// Kind indicates whether the transport, the framing or the caller ended the session.
	Kind DispatchErrorKind
	// Err is the underlying error.
	Err error
}

// DispatchErrorKind classifies dispatch errors.
type DispatchErrorKind int

const (
	// DispatchErrorTransport indicates a connection, status or empty-body failure.
	DispatchErrorTransport DispatchErrorKind = iota
	// DispatchErrorProtocol indicates a framing violation (oversized record,
	// unterminated final record under strict termination).
	DispatchErrorProtocol
	// DispatchErrorCanceled indicates the session was abandoned.
	DispatchErrorCanceled
)

func (e *DispatchError) Error() string {
	return e.Err.Error()
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

func isDispatchKind(err error, kind DispatchErrorKind) bool {
	var dispErr *DispatchError
	if errors.As(err, &dispErr) {
		return dispErr.Kind == kind
	}
	return false
}

// IsTransportError returns true if the session failed in the transport.
func IsTransportError(err error) bool { return isDispatchKind(err, DispatchErrorTransport) }

// IsProtocolError returns true if the session failed on a framing violation.
func IsProtocolError(err error) bool { return isDispatchKind(err, DispatchErrorProtocol) }

// IsCanceledError returns true if the session was abandoned by the caller.
func IsCanceledError(err error) bool { return isDispatchKind(err, DispatchErrorCanceled) }

// ServerError is a recoverable, server-reported error raised by an error event.
type ServerError struct {
	Message string
	// Version is the snapshot version the error was applied at.
	Version int64
}

func (e *ServerError) Error() string {
	return "server error: " + e.Message
}

// Observer receives dispatch output. Calls are made synchronously from the
// dispatch goroutine, in processing order; an observer that needs to do
// slow work should hand it off.
type Observer interface {
	// OnSnapshot receives every published snapshot. Snapshots are immutable.
	OnSnapshot(s *types.Snapshot)
	// OnServerError receives every error event, before its snapshot.
	OnServerError(err *ServerError)
	// OnStateChange receives session state transitions.
	OnStateChange(state types.SessionState)
}

// ObserverFuncs adapts optional functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Snapshot    func(s *types.Snapshot)
	ServerError func(err *ServerError)
	StateChange func(state types.SessionState)
}

// OnSnapshot implements Observer.
func (o ObserverFuncs) OnSnapshot(s *types.Snapshot) {
	if o.Snapshot != nil {
		o.Snapshot(s)
	}
}

// OnServerError implements Observer.
func (o ObserverFuncs) OnServerError(err *ServerError) {
	if o.ServerError != nil {
		o.ServerError(err)
	}
}

// OnStateChange implements Observer.
func (o ObserverFuncs) OnStateChange(state types.SessionState) {
	if o.StateChange != nil {
		o.StateChange(state)
	}
}

// Dispatcher reads records, decodes them into events and folds them into
// the session snapshot.
//   - Records are processed one at a time, in arrival order
//   - Malformed and unknown-kind records are skipped; the session continues
//   - Error events are surfaced to the observer; the session continues
//   - A snapshot is published after every applied event
//   - Only transport failures, framing violations and cancellation end the loop early
type Dispatcher struct {
	reader       *stream.RecordReader
	logger       *log.Logger
	collector    *metrics.Collector
	observer     Observer
	latest       *atomic.Pointer[types.Snapshot]
	current      *types.Snapshot
	serverErrors []string
}

// NewDispatcher creates a dispatcher over reader. latest is the shared cell
// observers read from; the dispatcher is its only writer. observer may be nil.
func NewDispatcher(
	reader *stream.RecordReader,
	logger *log.Logger,
	collector *metrics.Collector,
	observer Observer,
	latest *atomic.Pointer[types.Snapshot],
) *Dispatcher {
	if observer == nil {
		observer = ObserverFuncs{}
	}
	if latest == nil {
		latest = &atomic.Pointer[types.Snapshot]{}
	}
	current := types.EmptySnapshot()
	latest.Store(current)
	return &Dispatcher{
		reader:    reader,
		logger:    logger,
		collector: collector,
		observer:  observer,
		latest:    latest,
		current:   current,
	}
}

// Run runs the dispatch loop until end of stream or a terminal error.
// Returns:
//   - nil: stream ended cleanly
//   - *DispatchError with Kind=DispatchErrorTransport: transport failure
//   - *DispatchError with Kind=DispatchErrorProtocol: framing violation
//   - *DispatchError with Kind=DispatchErrorCanceled: context canceled
//
// Snapshots already published stay published whatever Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return &DispatchError{Kind: DispatchErrorCanceled, Err: err}
		}

		record, err := d.reader.Next()
		if err != nil {
			return d.finish(ctx, err)
		}
		d.collector.IncRecordsReceived()

		// A read that completed while the session was being abandoned must
		// not publish.
		if err := ctx.Err(); err != nil {
			return &DispatchError{Kind: DispatchErrorCanceled, Err: err}
		}

		d.processRecord(record)
	}
}

// finish maps the reader's terminal error.
func (d *Dispatcher) finish(ctx context.Context, err error) error {
	d.collector.SetBytesRead(d.reader.BytesRead())

	if errors.Is(err, io.EOF) {
		if n := d.reader.Discarded(); n > 0 {
			d.collector.IncFragmentsDiscarded()
			d.logger.Warn("discarded unterminated trailing record", map[string]any{
				"bytes": n,
			})
		}
		return nil
	}

	// An abandoned session surfaces as a read error from the closed body.
	if ctx.Err() != nil {
		return &DispatchError{Kind: DispatchErrorCanceled, Err: ctx.Err()}
	}

	var recErr *stream.RecordError
	if errors.As(err, &recErr) && !recErr.IsTransport() {
		d.logger.Error("stream framing violation", map[string]any{
			"kind":  recErr.Kind.String(),
			"error": err.Error(),
		})
		return &DispatchError{
			Kind: DispatchErrorProtocol,
			Err:  fmt.Errorf("framing error: %w", err),
		}
	}

	d.logger.Error("transport failure", map[string]any{
		"error": err.Error(),
	})
	return &DispatchError{
		Kind: DispatchErrorTransport,
		Err:  fmt.Errorf("transport error: %w", err),
	}
}

// processRecord decodes and applies a single record. Decode failures are
// recovered here and never leave the loop.
func (d *Dispatcher) processRecord(record []byte) {
	ev, err := stream.DecodeEvent(record)
	if err != nil {
		if stream.IsUnknownKind(err) {
			d.collector.IncRecordsUnknownKind()
			d.logger.Warn("dropping event with unknown kind", map[string]any{
				"error": err.Error(),
			})
			return
		}
		d.collector.IncRecordsMalformed()
		d.logger.Warn("skipping malformed record", map[string]any{
			"error": err.Error(),
			"bytes": len(record),
		})
		return
	}

	d.apply(ev)
}

// apply folds ev and publishes the result.
func (d *Dispatcher) apply(ev types.Event) {
	next := Apply(d.current, ev)
	d.current = next
	d.collector.IncEventApplied(string(ev.Kind()))

	if errEv, ok := ev.(types.ErrorEvent); ok {
		d.serverErrors = append(d.serverErrors, errEv.Message)
		d.collector.IncServerError()
		d.logger.Warn("server reported error", map[string]any{
			"message": errEv.Message,
			"version": next.Version,
		})
		d.observer.OnServerError(&ServerError{Message: errEv.Message, Version: next.Version})
	} else {
		d.logger.Debug("event applied", map[string]any{
			"kind":    ev.Kind(),
			"version": next.Version,
		})
	}

	d.latest.Store(next)
	d.collector.IncSnapshotPublished()
	d.observer.OnSnapshot(next)
}

// Snapshot returns the latest snapshot produced by this dispatcher.
func (d *Dispatcher) Snapshot() *types.Snapshot {
	return d.current
}

// ServerErrors returns the messages of all error events seen, in order.
func (d *Dispatcher) ServerErrors() []string {
	return d.serverErrors
}
