package runtime

import (
	"maps"

	"github.com/justapithecus/drawscan/types"
)

// Apply folds one event into s and returns the next snapshot.
//
// Apply is pure and total: s is never modified, every variant has a defined
// effect, and the same ordered events from the same start always produce
// the same result. A nil s is treated as the empty snapshot.
func Apply(s *types.Snapshot, ev types.Event) *types.Snapshot {
	if s == nil {
		s = types.EmptySnapshot()
	}
	if ev == nil {
		return s
	}
	next := s.Clone()
	next.Version++

	switch e := ev.(type) {
	case types.StatusEvent:
		next.StatusMessage = e.Message
		next.LastError = ""

	case types.DetectionEvent:
		next.AnnotatedImage = e.AnnotatedImage

	case types.PageExtractEvent:
		extraction := e.Extraction
		extraction.Table = maps.Clone(e.Extraction.Table)
		next.PageExtraction = &extraction

	case types.ItemEvent:
		next.Items = append(next.Items, e.Item)

	case types.SummaryEvent:
		next.Summary = e.Summary

	case types.ErrorEvent:
		next.LastError = e.Message
	}

	return next
}

// Fold applies events in order starting from the empty snapshot.
func Fold(events []types.Event) *types.Snapshot {
	s := types.EmptySnapshot()
	for _, ev := range events {
		s = Apply(s, ev)
	}
	return s
}
