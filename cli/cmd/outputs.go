package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/justapithecus/drawscan/adapter"
	"github.com/justapithecus/drawscan/adapter/redis"
	"github.com/justapithecus/drawscan/adapter/webhook"
	"github.com/justapithecus/drawscan/archive"
	"github.com/justapithecus/drawscan/log"
	"github.com/justapithecus/drawscan/metrics"
	"github.com/justapithecus/drawscan/runtime"
	"github.com/justapithecus/drawscan/types"
)

// buildArchiver opens the archive for completed sessions. Returns nil
// when no backend is configured.
func buildArchiver(ctx context.Context, s storageChoice) (*archive.Writer, error) {
	cfg := archive.Config{
		Dataset:       s.dataset,
		IncludeImages: s.includeImages,
	}

	switch s.backend {
	case "":
		return nil, nil
	case "fs":
		if err := os.MkdirAll(s.path, 0o755); err != nil {
			return nil, fmt.Errorf("create storage path: %w", err)
		}
		return archive.NewFS(cfg, s.path)
	case "s3":
		bucket, prefix := archive.ParseS3Path(s.path)
		return archive.NewS3(ctx, cfg, archive.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       s.region,
			Endpoint:     s.endpoint,
			UsePathStyle: s.pathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", s.backend)
	}
}

// buildNotifier creates the completion notifier. An unconfigured adapter
// yields an empty Multi, which publishes nothing.
func buildNotifier(a adapterChoice) (adapter.Multi, error) {
	switch a.kind {
	case "":
		return adapter.Multi{}, nil
	case "webhook":
		wh, err := webhook.New(webhook.Config{
			URL:     a.url,
			Headers: cloneHeaders(a.headers),
			Timeout: a.timeout,
			Retries: a.retries,
		})
		if err != nil {
			return nil, err
		}
		return adapter.Multi{wh}, nil
	case "redis":
		rd, err := redis.New(redis.Config{
			URL:        a.url,
			Channel:    a.channel,
			HistoryKey: a.historyKey,
			Timeout:    a.timeout,
			Retries:    a.retries,
		})
		if err != nil {
			return nil, err
		}
		return adapter.Multi{rd}, nil
	default:
		return nil, fmt.Errorf("unknown adapter: %s", a.kind)
	}
}

// archiveResult writes a completed session to the archive. Failed sessions
// and write errors are logged; the session outcome is unaffected.
func archiveResult(
	ctx context.Context,
	w *archive.Writer,
	result *runtime.SessionResult,
	collector *metrics.Collector,
	logger *log.Logger,
) string {
	if w == nil {
		return ""
	}
	if result.State != types.SessionCompleted {
		logger.Debug("skipping archive for unfinished session", map[string]any{"state": result.State})
		return ""
	}

	path, err := w.Write(ctx, &archive.Entry{
		Meta:         result.Meta,
		State:        result.State,
		Outcome:      result.Outcome,
		Snapshot:     result.Snapshot,
		ServerErrors: result.ServerErrors,
		CompletedAt:  time.Now(),
	})
	if err != nil {
		collector.IncArchiveWriteFailure()
		logger.Error("archive write failed", map[string]any{"error": err.Error(), "backend": w.Backend()})
		return ""
	}
	collector.IncArchiveWriteSuccess()
	logger.Info("session archived", map[string]any{"path": path, "backend": w.Backend()})
	return path
}

// notifyResult publishes the analysis_completed event. Delivery failures
// are logged and counted.
func notifyResult(
	ctx context.Context,
	notifier adapter.Multi,
	result *runtime.SessionResult,
	archivePath string,
	collector *metrics.Collector,
	logger *log.Logger,
) {
	if len(notifier) == 0 {
		return
	}

	event := adapter.NewAnalysisCompletedEvent(result.Meta, result.State, result.Outcome, result.Snapshot)
	event.ServerErrors = len(result.ServerErrors)
	event.ArchivePath = archivePath
	event.Records = result.Records
	event.BytesRead = result.BytesRead
	event.DurationMs = result.Duration.Milliseconds()

	if err := notifier.Publish(ctx, event); err != nil {
		collector.IncNotifyFailure()
		logger.Error("completion notification failed", map[string]any{"error": err.Error()})
		return
	}
	collector.IncNotifySuccess()
	logger.Debug("completion notification sent", nil)
}
