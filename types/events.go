// Package types defines core domain types for the drawscan client.
//
//nolint:revive // types is a common Go package naming convention
package types

// EventKind is the discriminator carried by every streamed record.
type EventKind string

// Event kinds emitted by the analysis pipeline.
const (
	EventKindStatus          EventKind = "status"
	EventKindDetectionResult EventKind = "detection_result"
	EventKindPageExtract     EventKind = "page_extract"
	EventKindItemResult      EventKind = "item_result"
	EventKindSummary         EventKind = "summary"
	EventKindError           EventKind = "error"
)

// IsKnown returns true if the kind is one of the pipeline's event kinds.
func (k EventKind) IsKnown() bool {
	switch k {
	case EventKindStatus, EventKindDetectionResult, EventKindPageExtract,
		EventKindItemResult, EventKindSummary, EventKindError:
		return true
	}
	return false
}

// Event is a decoded pipeline event. The set of implementations is closed;
// use a type switch to dispatch on the concrete variant.
type Event interface {
	Kind() EventKind
	isEvent()
}

// StatusEvent carries a human-readable progress line.
type StatusEvent struct {
	Message string
}

// DetectionEvent carries the annotated detection image.
type DetectionEvent struct {
	// AnnotatedImage is a base64 payload or data URL.
	AnnotatedImage string
}

// PageExtractEvent carries the page-level extraction.
type PageExtractEvent struct {
	Extraction PageExtraction
}

// ItemEvent carries one extracted item (a detected crop and its description).
type ItemEvent struct {
	Item Item
}

// SummaryEvent carries the final language-model summary.
type SummaryEvent struct {
	Summary string
}

// ErrorEvent carries a server-reported, non-fatal error.
type ErrorEvent struct {
	Message string
}

func (StatusEvent) Kind() EventKind      { return EventKindStatus }
func (DetectionEvent) Kind() EventKind   { return EventKindDetectionResult }
func (PageExtractEvent) Kind() EventKind { return EventKindPageExtract }
func (ItemEvent) Kind() EventKind        { return EventKindItemResult }
func (SummaryEvent) Kind() EventKind     { return EventKindSummary }
func (ErrorEvent) Kind() EventKind       { return EventKindError }

func (StatusEvent) isEvent()      {}
func (DetectionEvent) isEvent()   {}
func (PageExtractEvent) isEvent() {}
func (ItemEvent) isEvent()        {}
func (SummaryEvent) isEvent()     {}
func (ErrorEvent) isEvent()       {}
