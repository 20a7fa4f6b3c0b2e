// Package archive stores the final result of completed analyses in a Lode
// dataset, partitioned by day and session.
//
// A session is written once, in a single snapshot: one summary record plus
// one record per detected item. Partial results are never archived.
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/drawscan/types"
)

// DefaultDataset is the Lode dataset ID used when none is configured.
const DefaultDataset = "drawscan"

// Partition keys, in layout order.
var partitionKeys = []string{"day", "session_id"}

// ErrNotCompleted is returned when archiving a session that did not complete.
var ErrNotCompleted = errors.New("only completed sessions are archived")

// ErrSessionNotFound is returned when no archived records match a session.
var ErrSessionNotFound = errors.New("session not found in archive")

// DeriveDay computes the partition day from the session completion time.
// Format: YYYY-MM-DD in UTC.
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Config holds archive configuration.
type Config struct {
	// Dataset is the Lode dataset ID (default "drawscan").
	Dataset string
	// IncludeImages stores the annotated image and crop references.
	// They are large; off by default.
	IncludeImages bool
}

// Entry is one finished session to archive.
type Entry struct {
	Meta         *types.SessionMeta
	State        types.SessionState
	Outcome      *types.Outcome
	Snapshot     *types.Snapshot
	ServerErrors []string
	CompletedAt  time.Time
}

// Writer writes finished sessions to a Lode dataset.
type Writer struct {
	dataset lode.Dataset
	config  Config
	backend string
}

// New creates a writer over a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func New(cfg Config, factory lode.StoreFactory) (*Writer, error) {
	return newWriter(cfg, factory, "custom")
}

// NewFS creates a writer with filesystem storage rooted at root.
func NewFS(cfg Config, root string) (*Writer, error) {
	if root == "" {
		return nil, errors.New("archive root path is required")
	}
	return newWriter(cfg, lode.NewFSFactory(root), "fs")
}

func newWriter(cfg Config, factory lode.StoreFactory, backend string) (*Writer, error) {
	if cfg.Dataset == "" {
		cfg.Dataset = DefaultDataset
	}
	ds, err := openDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	return &Writer{dataset: ds, config: cfg, backend: backend}, nil
}

// openDataset opens the dataset with the layout and codec shared by the
// read and write paths.
func openDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// Backend names the storage backend ("fs", "s3" or "custom").
func (w *Writer) Backend() string {
	return w.backend
}

// Write archives a completed session and returns its partition path.
func (w *Writer) Write(ctx context.Context, e *Entry) (string, error) {
	if e == nil || e.Meta == nil || e.Snapshot == nil {
		return "", errors.New("archive entry requires meta and snapshot")
	}
	if e.State != types.SessionCompleted {
		return "", fmt.Errorf("%w: state is %s", ErrNotCompleted, e.State)
	}
	if e.CompletedAt.IsZero() {
		e.CompletedAt = time.Now()
	}

	day := DeriveDay(e.CompletedAt)
	records := make([]any, 0, 1+len(e.Snapshot.Items))
	records = append(records, toSessionRecordMap(e, day, w.config))
	for i, item := range e.Snapshot.Items {
		records = append(records, toItemRecordMap(e.Meta.SessionID, day, i, item, w.config))
	}

	path := PartitionPath(w.config.Dataset, day, e.Meta.SessionID)
	if _, err := w.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		return "", WrapWriteError(err, path)
	}
	return path, nil
}

// ReadSession returns the archived records of a session: the session
// record first, then items in arrival order.
func (w *Writer) ReadSession(ctx context.Context, sessionID string) ([]map[string]any, error) {
	snapshots, err := w.dataset.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, w.config.Dataset+"/snapshots")
	}

	// Latest first; a session is written once.
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotHasSession(snap, sessionID) {
			continue
		}

		data, err := w.dataset.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", w.config.Dataset, snap.ID))
		}

		var out []map[string]any
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["session_id"] != sessionID {
				continue
			}
			out = append(out, record)
		}
		if len(out) > 0 {
			return out, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
}

// Close releases writer resources.
func (w *Writer) Close() error {
	return nil
}

// PartitionPath renders the Hive-style location of a session.
func PartitionPath(dataset, day, sessionID string) string {
	return fmt.Sprintf("%s/day=%s/session_id=%s", dataset, day, sessionID)
}

// snapshotHasSession reports whether any manifest file lies in the
// session's partition. Segments are matched exactly so that s-1 does not
// match s-10.
func snapshotHasSession(snap *lode.Snapshot, sessionID string) bool {
	segment := "session_id=" + sessionID
	for _, f := range snap.Manifest.Files {
		if hasSegment(f.Path, segment) {
			return true
		}
	}
	return false
}
