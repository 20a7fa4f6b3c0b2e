package types

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// dataURLPrefix is the default prefix applied to bare base64 image payloads.
const dataURLPrefix = "data:image/png;base64,"

// Item is one extracted crop reported by an item_result event.
// The typed fields mirror the pipeline's crop record; Data holds the full
// decoded payload, including fields the client does not interpret.
type Item struct {
	ClassName    string         `json:"cls_name" yaml:"cls_name"`
	Confidence   float64        `json:"conf" yaml:"conf"`
	RawCrop      string         `json:"raw_crop,omitempty" yaml:"raw_crop,omitempty"`
	EnhancedCrop string         `json:"enhanced_crop,omitempty" yaml:"enhanced_crop,omitempty"`
	VLMText      string         `json:"vlm_text,omitempty" yaml:"vlm_text,omitempty"`
	Data         map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// ConfidencePercent formats the confidence as a percentage with one decimal.
func (i Item) ConfidencePercent() string {
	return fmt.Sprintf("%.1f%%", i.Confidence*100)
}

// PageExtraction is the page-level extraction: free text, a field/value
// table and an optional reference to a server-side export file.
type PageExtraction struct {
	Text       string            `json:"text,omitempty" yaml:"text,omitempty"`
	Table      map[string]string `json:"table,omitempty" yaml:"table,omitempty"`
	ExportFile string            `json:"export_file,omitempty" yaml:"export_file,omitempty"`
}

// Fields returns the table keys in sorted order.
func (p *PageExtraction) Fields() []string {
	if p == nil {
		return nil
	}
	keys := make([]string, 0, len(p.Table))
	for k := range p.Table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot is the accumulated analysis result.
//
// A Snapshot is never mutated after it has been published. Producers build
// the next value from a copy; slices and maps reachable from a published
// Snapshot are shared read-only.
type Snapshot struct {
	AnnotatedImage string          `json:"annotated_image,omitempty" yaml:"annotated_image,omitempty"`
	StatusMessage  string          `json:"status_message" yaml:"status_message"`
	PageExtraction *PageExtraction `json:"page_extraction,omitempty" yaml:"page_extraction,omitempty"`
	Summary        string          `json:"summary,omitempty" yaml:"summary,omitempty"`
	Items          []Item          `json:"items" yaml:"items"`
	// LastError is the latest server-reported error not yet superseded by a
	// status event. It drives the status line only.
	LastError string `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	// Version counts applied events. The empty snapshot is version 0.
	Version int64 `json:"version" yaml:"version"`
}

// EmptySnapshot returns the snapshot a session starts from.
func EmptySnapshot() *Snapshot {
	return &Snapshot{Items: []Item{}}
}

// Clone returns a shallow copy whose Items slice can be appended to without
// affecting s.
func (s *Snapshot) Clone() *Snapshot {
	next := *s
	next.Items = slices.Clip(s.Items)
	return &next
}

// HasAnnotatedImage reports whether a detection result has been applied.
func (s *Snapshot) HasAnnotatedImage() bool {
	return s.AnnotatedImage != ""
}

// StatusLine returns the line a presenter shows for the current state.
// A server error takes precedence until a later status replaces it.
func (s *Snapshot) StatusLine() string {
	if s.LastError != "" {
		return "Error: " + s.LastError
	}
	return s.StatusMessage
}

// DataURL normalizes an image reference to a data URL.
// Bare base64 payloads are assumed to be PNG.
func DataURL(ref string) string {
	if ref == "" || strings.HasPrefix(ref, "data:") {
		return ref
	}
	return dataURLPrefix + ref
}
