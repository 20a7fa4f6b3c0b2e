// Package adapter defines the notification boundary for finished analyses.
//
// Adapters publish analysis completion notices to downstream systems.
// The CLI owns adapter lifecycle; users provide configuration only.
package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/justapithecus/drawscan/types"
)

// EventTypeAnalysisCompleted is the event_type of every notice.
const EventTypeAnalysisCompleted = "analysis_completed"

// AnalysisCompletedEvent is the payload published when a session ends.
type AnalysisCompletedEvent struct {
	EventType     string `json:"event_type"` // always "analysis_completed"
	ClientVersion string `json:"client_version"`
	SessionID     string `json:"session_id"`
	Endpoint      string `json:"endpoint"`
	Filename      string `json:"filename"`
	State         string `json:"state"`   // completed or failed
	Outcome       string `json:"outcome"` // success, server_error, etc.
	Message       string `json:"message"`
	Summary       string `json:"summary,omitempty"`
	ItemCount     int    `json:"item_count"`
	ServerErrors  int    `json:"server_errors"`
	ArchivePath   string `json:"archive_path,omitempty"`
	Timestamp     string `json:"timestamp"` // RFC 3339
	Records       int64  `json:"records"`
	BytesRead     int64  `json:"bytes_read"`
	DurationMs    int64  `json:"duration_ms"`
}

// NewAnalysisCompletedEvent builds a notice from a session's identity,
// terminal state and final snapshot. Counters are left for the caller.
func NewAnalysisCompletedEvent(
	meta *types.SessionMeta,
	state types.SessionState,
	outcome *types.Outcome,
	snap *types.Snapshot,
) *AnalysisCompletedEvent {
	event := &AnalysisCompletedEvent{
		EventType:     EventTypeAnalysisCompleted,
		ClientVersion: types.Version,
		State:         string(state),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	if meta != nil {
		event.SessionID = meta.SessionID
		event.Endpoint = meta.Endpoint
		event.Filename = meta.Filename
	}
	if outcome != nil {
		event.Outcome = string(outcome.Status)
		event.Message = outcome.Message
	}
	if snap != nil {
		event.Summary = snap.Summary
		event.ItemCount = len(snap.Items)
	}
	return event
}

// Adapter publishes analysis completion events to a downstream system.
type Adapter interface {
	// Publish sends a completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *AnalysisCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// Multi publishes every event to all of its adapters.
type Multi []Adapter

// Publish sends the event to each adapter in order. Every adapter is tried;
// failures are joined.
func (m Multi) Publish(ctx context.Context, event *AnalysisCompletedEvent) error {
	var errs []error
	for _, a := range m {
		if err := a.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every adapter and joins the failures.
func (m Multi) Close() error {
	var errs []error
	for _, a := range m {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Adapter = Multi(nil)
