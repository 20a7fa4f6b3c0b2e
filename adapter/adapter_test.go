package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/justapithecus/drawscan/types"
)

type fakeAdapter struct {
	published []*AnalysisCompletedEvent
	err       error
	closed    bool
}

func (f *fakeAdapter) Publish(_ context.Context, event *AnalysisCompletedEvent) error {
	f.published = append(f.published, event)
	return f.err
}

func (f *fakeAdapter) Close() error {
	f.closed = true
	return f.err
}

func TestNewAnalysisCompletedEvent(t *testing.T) {
	meta := &types.SessionMeta{SessionID: "s-1", Endpoint: "http://x", Filename: "a.png"}
	outcome := &types.Outcome{Status: types.OutcomeServerError, Message: "1 server error"}
	snap := &types.Snapshot{Summary: "done", Items: []types.Item{{ClassName: "a"}, {ClassName: "b"}}}

	event := NewAnalysisCompletedEvent(meta, types.SessionCompleted, outcome, snap)

	if event.EventType != EventTypeAnalysisCompleted {
		t.Errorf("expected %s, got %s", EventTypeAnalysisCompleted, event.EventType)
	}
	if event.SessionID != "s-1" || event.Filename != "a.png" {
		t.Errorf("unexpected identity: %+v", event)
	}
	if event.State != "completed" || event.Outcome != "server_error" {
		t.Errorf("unexpected state/outcome: %s/%s", event.State, event.Outcome)
	}
	if event.ItemCount != 2 || event.Summary != "done" {
		t.Errorf("unexpected snapshot fields: %+v", event)
	}
	if event.ClientVersion != types.Version {
		t.Errorf("expected version %s, got %s", types.Version, event.ClientVersion)
	}
	if event.Timestamp == "" {
		t.Error("timestamp should be set")
	}
}

func TestNewAnalysisCompletedEvent_NilInputs(t *testing.T) {
	event := NewAnalysisCompletedEvent(nil, types.SessionFailed, nil, nil)
	if event.State != "failed" {
		t.Errorf("expected failed, got %s", event.State)
	}
}

func TestMulti_PublishesToAll(t *testing.T) {
	first := &fakeAdapter{err: errors.New("down")}
	second := &fakeAdapter{}
	m := Multi{first, second}

	err := m.Publish(t.Context(), &AnalysisCompletedEvent{SessionID: "s"})
	if err == nil {
		t.Fatal("expected joined error")
	}
	if len(second.published) != 1 {
		t.Error("second adapter should still receive the event")
	}

	if err := m.Close(); err == nil {
		t.Error("expected close error from first adapter")
	}
	if !first.closed || !second.closed {
		t.Error("all adapters should be closed")
	}
}
