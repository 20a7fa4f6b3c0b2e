package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/justapithecus/drawscan/types"
)

// DecodeErrorKind classifies record decoding errors. Both kinds are
// recoverable: the record is skipped and the stream continues.
type DecodeErrorKind int

const (
	// DecodeErrorMalformed indicates the record is not a structurally valid event.
	DecodeErrorMalformed DecodeErrorKind = iota
	// DecodeErrorUnknownKind indicates a valid record with an unrecognized kind.
	DecodeErrorUnknownKind
)

func (k DecodeErrorKind) String() string {
	switch k {
	case DecodeErrorMalformed:
		return "malformed"
	case DecodeErrorUnknownKind:
		return "unknown_kind"
	default:
		return fmt.Sprintf("DecodeErrorKind(%d)", int(k))
	}
}

// DecodeError is returned by DecodeEvent.
type DecodeError struct {
	Kind DecodeErrorKind
	// EventKind is the discriminator, when one could be read.
	EventKind string
	Msg       string
	Err       error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsUnknownKind reports whether err is a DecodeError for an unrecognized kind.
func IsUnknownKind(err error) bool {
	var decErr *DecodeError
	if errors.As(err, &decErr) {
		return decErr.Kind == DecodeErrorUnknownKind
	}
	return false
}

// wireRecord is the envelope shared by all records. The discriminator is
// "kind", with "type" accepted as an alias; the payload is "message" for
// plain text or "data" for structured content.
type wireRecord struct {
	Kind    string          `json:"kind"`
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (w *wireRecord) kind() string {
	if w.Kind != "" {
		return w.Kind
	}
	return w.Type
}

type detectionData struct {
	AnnotatedImage string `json:"annotated_image"`
	Image          string `json:"image"`
}

type pageExtractData struct {
	Text       string         `json:"text"`
	Table      map[string]any `json:"table"`
	Fields     map[string]any `json:"fields"`
	ExportFile string         `json:"export_file"`
	CSVFile    string         `json:"csv_file"`
}

type itemData struct {
	ClassName    string  `json:"cls_name"`
	Confidence   float64 `json:"conf"`
	RawCrop      string  `json:"raw_crop"`
	EnhancedCrop string  `json:"enhanced_crop"`
	VLMText      string  `json:"vlm_text"`
}

// DecodeEvent decodes one record into an event.
// Discriminates on the kind field, then decodes the kind-specific payload.
func DecodeEvent(record []byte) (types.Event, error) {
	var w wireRecord
	if err := json.Unmarshal(record, &w); err != nil {
		return nil, &DecodeError{
			Kind: DecodeErrorMalformed,
			Msg:  "failed to decode record",
			Err:  err,
		}
	}

	kind := types.EventKind(w.kind())
	if kind == "" {
		return nil, &DecodeError{Kind: DecodeErrorMalformed, Msg: "record has no kind"}
	}
	if !kind.IsKnown() {
		return nil, &DecodeError{
			Kind:      DecodeErrorUnknownKind,
			EventKind: string(kind),
			Msg:       fmt.Sprintf("unknown event kind %q", kind),
		}
	}

	ev, err := decodePayload(kind, &w)
	if err != nil {
		return nil, &DecodeError{
			Kind:      DecodeErrorMalformed,
			EventKind: string(kind),
			Msg:       fmt.Sprintf("invalid %s payload", kind),
			Err:       err,
		}
	}
	return ev, nil
}

func decodePayload(kind types.EventKind, w *wireRecord) (types.Event, error) {
	switch kind {
	case types.EventKindStatus:
		msg, err := text(w, "message", "status")
		return types.StatusEvent{Message: msg}, err

	case types.EventKindDetectionResult:
		return decodeDetection(w)

	case types.EventKindPageExtract:
		return decodePageExtract(w)

	case types.EventKindItemResult:
		return decodeItem(w)

	case types.EventKindSummary:
		summary, err := text(w, "summary", "llm_summary", "message")
		return types.SummaryEvent{Summary: summary}, err

	case types.EventKindError:
		msg, err := text(w, "message", "error", "detail")
		return types.ErrorEvent{Message: msg}, err
	}
	return nil, fmt.Errorf("no decoder for kind %q", kind)
}

// text extracts a text payload: the message field if it is a string, else
// data if it is a string, else the first string-valued key of a data object.
func text(w *wireRecord, dataKeys ...string) (string, error) {
	if s, ok := rawString(w.Message); ok {
		return s, nil
	}
	if len(w.Data) == 0 || isNull(w.Data) {
		return "", nil
	}
	if s, ok := rawString(w.Data); ok {
		return s, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(w.Data, &obj); err != nil {
		return "", fmt.Errorf("data is neither text nor an object: %w", err)
	}
	for _, k := range dataKeys {
		if s, ok := obj[k].(string); ok {
			return s, nil
		}
	}
	return "", nil
}

func decodeDetection(w *wireRecord) (types.Event, error) {
	if s, ok := rawString(w.Data); ok {
		return types.DetectionEvent{AnnotatedImage: s}, nil
	}
	if len(w.Data) == 0 || isNull(w.Data) {
		s, _ := rawString(w.Message)
		return types.DetectionEvent{AnnotatedImage: s}, nil
	}

	var d detectionData
	if err := json.Unmarshal(w.Data, &d); err != nil {
		return nil, err
	}
	img := d.AnnotatedImage
	if img == "" {
		img = d.Image
	}
	return types.DetectionEvent{AnnotatedImage: img}, nil
}

func decodePageExtract(w *wireRecord) (types.Event, error) {
	if len(w.Data) == 0 || isNull(w.Data) {
		return nil, errors.New("page_extract requires a data object")
	}

	var d pageExtractData
	if err := json.Unmarshal(w.Data, &d); err != nil {
		return nil, err
	}

	fields := d.Table
	if fields == nil {
		fields = d.Fields
	}
	extraction := types.PageExtraction{
		Text:       d.Text,
		ExportFile: d.ExportFile,
	}
	if extraction.ExportFile == "" {
		extraction.ExportFile = d.CSVFile
	}
	if len(fields) > 0 {
		extraction.Table = make(map[string]string, len(fields))
		for k, v := range fields {
			extraction.Table[k] = stringify(v)
		}
	}
	return types.PageExtractEvent{Extraction: extraction}, nil
}

func decodeItem(w *wireRecord) (types.Event, error) {
	if len(w.Data) == 0 || isNull(w.Data) {
		return nil, errors.New("item_result requires a data object")
	}

	var raw map[string]any
	if err := json.Unmarshal(w.Data, &raw); err != nil {
		return nil, err
	}
	// Typed fields are best effort: a crop record with an unexpected field
	// type still appends, with the raw payload preserved in Data.
	var d itemData
	_ = json.Unmarshal(w.Data, &d)

	return types.ItemEvent{Item: types.Item{
		ClassName:    d.ClassName,
		Confidence:   d.Confidence,
		RawCrop:      d.RawCrop,
		EnhancedCrop: d.EnhancedCrop,
		VLMText:      d.VLMText,
		Data:         raw,
	}}, nil
}

func rawString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func isNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}

// stringify renders a table cell value as text.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
