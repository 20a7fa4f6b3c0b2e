// Package metrics provides per-session counters for the streaming client.
//
// The Collector accumulates counters during one analysis session. It is a
// leaf package with no internal dependencies; event kinds are plain strings.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Session lifecycle
	SessionsStarted   int64 `json:"sessions_started"`
	SessionsCompleted int64 `json:"sessions_completed"`
	SessionsFailed    int64 `json:"sessions_failed"`
	SessionsCanceled  int64 `json:"sessions_canceled"`

	// Stream
	BytesRead          int64 `json:"bytes_read"`
	RecordsReceived    int64 `json:"records_received"`
	RecordsMalformed   int64 `json:"records_malformed"`
	RecordsUnknownKind int64 `json:"records_unknown_kind"`
	FragmentsDiscarded int64 `json:"fragments_discarded"`

	// Dispatch
	EventsApplied      int64            `json:"events_applied"`
	EventsByKind       map[string]int64 `json:"events_by_kind"`
	ServerErrors       int64            `json:"server_errors"`
	SnapshotsPublished int64            `json:"snapshots_published"`

	// Sinks
	ArchiveWriteSuccess int64 `json:"archive_write_success"`
	ArchiveWriteFailure int64 `json:"archive_write_failure"`
	NotifySuccess       int64 `json:"notify_success"`
	NotifyFailure       int64 `json:"notify_failure"`

	// Dimensions (informational, set at construction)
	SessionID string `json:"session_id"`
	Endpoint  string `json:"endpoint"`
}

// Collector accumulates counters during a single session.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	sessionsStarted   int64
	sessionsCompleted int64
	sessionsFailed    int64
	sessionsCanceled  int64

	bytesRead          int64
	recordsReceived    int64
	recordsMalformed   int64
	recordsUnknownKind int64
	fragmentsDiscarded int64

	eventsApplied      int64
	eventsByKind       map[string]int64
	serverErrors       int64
	snapshotsPublished int64

	archiveWriteSuccess int64
	archiveWriteFailure int64
	notifySuccess       int64
	notifyFailure       int64

	sessionID string
	endpoint  string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(sessionID, endpoint string) *Collector {
	return &Collector{
		eventsByKind: make(map[string]int64),
		sessionID:    sessionID,
		endpoint:     endpoint,
	}
}

func (c *Collector) inc(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// --- Session lifecycle ---

// IncSessionStarted records a session start.
func (c *Collector) IncSessionStarted() {
	if c == nil {
		return
	}
	c.inc(&c.sessionsStarted)
}

// IncSessionCompleted records a clean end of stream.
func (c *Collector) IncSessionCompleted() {
	if c == nil {
		return
	}
	c.inc(&c.sessionsCompleted)
}

// IncSessionFailed records a transport or protocol failure.
func (c *Collector) IncSessionFailed() {
	if c == nil {
		return
	}
	c.inc(&c.sessionsFailed)
}

// IncSessionCanceled records an abandoned session.
func (c *Collector) IncSessionCanceled() {
	if c == nil {
		return
	}
	c.inc(&c.sessionsCanceled)
}

// --- Stream ---

// SetBytesRead records the raw byte count of the response body.
func (c *Collector) SetBytesRead(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.bytesRead = n
	c.mu.Unlock()
}

// IncRecordsReceived records one complete, non-blank record.
func (c *Collector) IncRecordsReceived() {
	if c == nil {
		return
	}
	c.inc(&c.recordsReceived)
}

// IncRecordsMalformed records a record that failed to decode.
func (c *Collector) IncRecordsMalformed() {
	if c == nil {
		return
	}
	c.inc(&c.recordsMalformed)
}

// IncRecordsUnknownKind records a record with an unrecognized kind.
func (c *Collector) IncRecordsUnknownKind() {
	if c == nil {
		return
	}
	c.inc(&c.recordsUnknownKind)
}

// IncFragmentsDiscarded records an unterminated trailing fragment.
func (c *Collector) IncFragmentsDiscarded() {
	if c == nil {
		return
	}
	c.inc(&c.fragmentsDiscarded)
}

// --- Dispatch ---

// IncEventApplied records one event folded into the snapshot.
func (c *Collector) IncEventApplied(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.eventsApplied++
	c.eventsByKind[kind]++
	c.mu.Unlock()
}

// IncServerError records a server-reported error event.
func (c *Collector) IncServerError() {
	if c == nil {
		return
	}
	c.inc(&c.serverErrors)
}

// IncSnapshotPublished records one snapshot handed to observers.
func (c *Collector) IncSnapshotPublished() {
	if c == nil {
		return
	}
	c.inc(&c.snapshotsPublished)
}

// --- Sinks ---

// IncArchiveWriteSuccess records a successful archive write.
func (c *Collector) IncArchiveWriteSuccess() {
	if c == nil {
		return
	}
	c.inc(&c.archiveWriteSuccess)
}

// IncArchiveWriteFailure records a failed archive write.
func (c *Collector) IncArchiveWriteFailure() {
	if c == nil {
		return
	}
	c.inc(&c.archiveWriteFailure)
}

// IncNotifySuccess records a delivered completion notification.
func (c *Collector) IncNotifySuccess() {
	if c == nil {
		return
	}
	c.inc(&c.notifySuccess)
}

// IncNotifyFailure records a failed completion notification.
func (c *Collector) IncNotifyFailure() {
	if c == nil {
		return
	}
	c.inc(&c.notifyFailure)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byKind := make(map[string]int64, len(c.eventsByKind))
	for k, v := range c.eventsByKind {
		byKind[k] = v
	}

	return Snapshot{
		SessionsStarted:   c.sessionsStarted,
		SessionsCompleted: c.sessionsCompleted,
		SessionsFailed:    c.sessionsFailed,
		SessionsCanceled:  c.sessionsCanceled,

		BytesRead:          c.bytesRead,
		RecordsReceived:    c.recordsReceived,
		RecordsMalformed:   c.recordsMalformed,
		RecordsUnknownKind: c.recordsUnknownKind,
		FragmentsDiscarded: c.fragmentsDiscarded,

		EventsApplied:      c.eventsApplied,
		EventsByKind:       byKind,
		ServerErrors:       c.serverErrors,
		SnapshotsPublished: c.snapshotsPublished,

		ArchiveWriteSuccess: c.archiveWriteSuccess,
		ArchiveWriteFailure: c.archiveWriteFailure,
		NotifySuccess:       c.notifySuccess,
		NotifyFailure:       c.notifyFailure,

		SessionID: c.sessionID,
		Endpoint:  c.endpoint,
	}
}
