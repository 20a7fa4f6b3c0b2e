package archive

import (
	"maps"
	"strings"
	"time"

	"github.com/justapithecus/drawscan/types"
)

// Record kind discriminator values.
const (
	RecordKindSession = "session"
	RecordKindItem    = "item"
)

// toSessionRecordMap converts an entry to its session record.
// Lode HiveLayout requires records as map[string]any.
func toSessionRecordMap(e *Entry, day string, cfg Config) map[string]any {
	s := e.Snapshot
	m := map[string]any{
		"record_kind":    RecordKindSession,
		"session_id":     e.Meta.SessionID,
		"day":            day,
		"endpoint":       e.Meta.Endpoint,
		"filename":       e.Meta.Filename,
		"state":          string(e.State),
		"status_message": s.StatusMessage,
		"summary":        s.Summary,
		"item_count":     len(s.Items),
		"version":        s.Version,
		"server_errors":  append([]string{}, e.ServerErrors...),
		"completed_at":   e.CompletedAt.UTC().Format(time.RFC3339),
		"client_version": types.Version,
	}
	if e.Outcome != nil {
		m["outcome"] = string(e.Outcome.Status)
		m["outcome_message"] = e.Outcome.Message
	}
	if s.LastError != "" {
		m["last_error"] = s.LastError
	}
	if p := s.PageExtraction; p != nil {
		m["page_text"] = p.Text
		m["page_table"] = maps.Clone(p.Table)
		if p.ExportFile != "" {
			m["export_file"] = p.ExportFile
		}
	}
	if cfg.IncludeImages && s.HasAnnotatedImage() {
		m["annotated_image"] = types.DataURL(s.AnnotatedImage)
	}
	return m
}

// toItemRecordMap converts one detected item to its record.
func toItemRecordMap(sessionID, day string, index int, item types.Item, cfg Config) map[string]any {
	m := map[string]any{
		"record_kind": RecordKindItem,
		"session_id":  sessionID,
		"day":         day,
		"index":       index,
		"cls_name":    item.ClassName,
		"conf":        item.Confidence,
		"vlm_text":    item.VLMText,
	}
	if len(item.Data) > 0 {
		data := maps.Clone(item.Data)
		if !cfg.IncludeImages {
			delete(data, "raw_crop")
			delete(data, "enhanced_crop")
		}
		m["data"] = data
	}
	if cfg.IncludeImages {
		if item.RawCrop != "" {
			m["raw_crop"] = types.DataURL(item.RawCrop)
		}
		if item.EnhancedCrop != "" {
			m["enhanced_crop"] = types.DataURL(item.EnhancedCrop)
		}
	}
	return m
}

// hasSegment reports whether path contains segment as a whole
// "/"-delimited element.
func hasSegment(path, segment string) bool {
	for part := range strings.SplitSeq(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}
