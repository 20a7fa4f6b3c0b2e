// Package stream turns a chunked byte stream of newline-delimited JSON into
// records and decodes records into pipeline events.
package stream

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Size constants for the record tokenizer.
const (
	// MaxRecordSize is the largest accepted record (64 MiB). Item records
	// carry base64 crops, so this is generous on purpose.
	MaxRecordSize = 64 * 1024 * 1024
	// DefaultChunkSize is the read size used for each transport read.
	DefaultChunkSize = 32 * 1024
)

// RecordErrorKind classifies record reader errors.
type RecordErrorKind int

const (
	// RecordErrorTransport indicates the underlying reader failed.
	RecordErrorTransport RecordErrorKind = iota
	// RecordErrorTooLarge indicates a record exceeding the size limit.
	RecordErrorTooLarge
	// RecordErrorUnterminated indicates a trailing fragment without a
	// newline at end of stream (strict termination only).
	RecordErrorUnterminated
	// RecordErrorEmptyBody indicates the stream ended before any byte arrived
	// (required body only).
	RecordErrorEmptyBody
)

func (k RecordErrorKind) String() string {
	switch k {
	case RecordErrorTransport:
		return "transport"
	case RecordErrorTooLarge:
		return "too_large"
	case RecordErrorUnterminated:
		return "unterminated"
	case RecordErrorEmptyBody:
		return "empty_body"
	default:
		return fmt.Sprintf("RecordErrorKind(%d)", int(k))
	}
}

// RecordError is a terminal record reader error.
type RecordError struct {
	Kind RecordErrorKind
	Msg  string
	Err  error
}

func (e *RecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// IsTransport returns true if the error originates from the transport.
func (e *RecordError) IsTransport() bool {
	return e.Kind == RecordErrorTransport || e.Kind == RecordErrorEmptyBody
}

// IsRecordError reports whether err is a *RecordError of the given kind.
func IsRecordError(err error, kind RecordErrorKind) bool {
	var recErr *RecordError
	if errors.As(err, &recErr) {
		return recErr.Kind == kind
	}
	return false
}

// Option configures a RecordReader.
type Option func(*RecordReader)

// WithStrictTermination makes an unterminated trailing fragment a
// RecordErrorUnterminated instead of being discarded.
func WithStrictTermination() Option {
	return func(r *RecordReader) { r.strict = true }
}

// WithRequireBody makes a stream that ends before its first byte a
// RecordErrorEmptyBody instead of a clean io.EOF.
func WithRequireBody() Option {
	return func(r *RecordReader) { r.requireBody = true }
}

// WithMaxRecordSize overrides MaxRecordSize.
func WithMaxRecordSize(n int) Option {
	return func(r *RecordReader) { r.maxRecord = n }
}

// WithChunkSize overrides DefaultChunkSize.
func WithChunkSize(n int) Option {
	return func(r *RecordReader) { r.chunk = make([]byte, n) }
}

// OnFirstChunk registers fn to run once, when the first non-empty chunk
// is read from the transport.
func OnFirstChunk(fn func()) Option {
	return func(r *RecordReader) { r.raw.onFirst = fn }
}

// countingReader counts raw transport bytes ahead of UTF-8 decoding.
type countingReader struct {
	r       io.Reader
	n       int64
	onFirst func()
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		if c.n == 0 && c.onFirst != nil {
			c.onFirst()
		}
		c.n += int64(n)
	}
	return n, err
}

// RecordReader splits a byte stream into newline-terminated records.
//
// Bytes are decoded as UTF-8 on the way in; a multi-byte sequence split
// across chunks is carried to the next read, never replaced. Records are
// emitted in arrival order. Empty or all-whitespace records are skipped.
// A trailing fragment without a newline at end of stream is not a record.
//
// Errors:
//   - io.EOF: stream ended cleanly
//   - *RecordError: terminal; repeated on every subsequent Next
type RecordReader struct {
	raw         *countingReader
	src         io.Reader
	chunk       []byte
	buf         []byte
	start       int // first unconsumed byte of buf
	scanned     int // bytes of buf already searched for a delimiter
	err         error
	eof         bool
	strict      bool
	requireBody bool
	maxRecord   int
	records     int64
	discarded   int64
}

// NewRecordReader creates a record reader over r.
func NewRecordReader(r io.Reader, opts ...Option) *RecordReader {
	rr := &RecordReader{
		raw:       &countingReader{r: r},
		maxRecord: MaxRecordSize,
	}
	for _, opt := range opts {
		opt(rr)
	}
	if rr.chunk == nil {
		rr.chunk = make([]byte, DefaultChunkSize)
	}
	rr.src = transform.NewReader(rr.raw, unicode.UTF8BOM.NewDecoder())
	return rr
}

// Next returns the next complete record, without its delimiter.
// The returned slice is owned by the caller.
func (r *RecordReader) Next() ([]byte, error) {
	for {
		if rec, ok := r.scan(); ok {
			if len(bytes.TrimSpace(rec)) == 0 {
				continue
			}
			r.records++
			return bytes.Clone(rec), nil
		}

		if r.err != nil {
			return nil, r.err
		}

		if r.eof {
			r.finish()
			continue
		}

		if len(r.buf)-r.start > r.maxRecord {
			r.err = &RecordError{
				Kind: RecordErrorTooLarge,
				Msg:  fmt.Sprintf("record exceeds maximum %d bytes", r.maxRecord),
			}
			return nil, r.err
		}

		r.fill()
	}
}

// scan looks for the next delimiter in the unscanned part of the buffer.
func (r *RecordReader) scan() ([]byte, bool) {
	i := bytes.IndexByte(r.buf[r.scanned:], '\n')
	if i < 0 {
		r.scanned = len(r.buf)
		return nil, false
	}
	end := r.scanned + i
	rec := r.buf[r.start:end]
	r.start = end + 1
	r.scanned = r.start
	return bytes.TrimSuffix(rec, []byte{'\r'}), true
}

// fill performs one transport read and records a terminal condition.
func (r *RecordReader) fill() {
	r.compact()

	n, err := r.src.Read(r.chunk)
	if n > 0 {
		r.buf = append(r.buf, r.chunk[:n]...)
	}
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		r.eof = true
	default:
		r.err = &RecordError{
			Kind: RecordErrorTransport,
			Msg:  "transport read failed",
			Err:  err,
		}
	}
}

// finish resolves end of stream once every complete record has been
// emitted; whatever remains in the buffer has no delimiter.
func (r *RecordReader) finish() {
	if r.requireBody && r.raw.n == 0 {
		r.err = &RecordError{Kind: RecordErrorEmptyBody, Msg: "response body is empty"}
		return
	}

	rest := r.buf[r.start:]
	if len(bytes.TrimSpace(rest)) > 0 {
		if r.strict {
			r.err = &RecordError{
				Kind: RecordErrorUnterminated,
				Msg:  fmt.Sprintf("stream ended with %d bytes after the last newline", len(rest)),
			}
			return
		}
		r.discarded += int64(len(rest))
	}
	r.buf = r.buf[:0]
	r.start, r.scanned = 0, 0
	r.err = io.EOF
}

// compact drops consumed bytes once they dominate the buffer.
func (r *RecordReader) compact() {
	if r.start == 0 || r.start < len(r.buf)/2 {
		return
	}
	n := copy(r.buf, r.buf[r.start:])
	r.buf = r.buf[:n]
	r.scanned -= r.start
	r.start = 0
}

// BytesRead returns the number of raw bytes read from the transport.
func (r *RecordReader) BytesRead() int64 {
	return r.raw.n
}

// Records returns the number of non-empty records emitted so far.
func (r *RecordReader) Records() int64 {
	return r.records
}

// Discarded returns the size of an unterminated trailing fragment that was
// dropped at end of stream, or 0.
func (r *RecordReader) Discarded() int64 {
	return r.discarded
}
