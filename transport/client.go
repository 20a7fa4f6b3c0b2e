// Package transport uploads a drawing to the analysis pipeline and returns
// the live, chunked response body.
//
// Only the request is retried: once response headers have arrived the body
// is handed to the caller and an interrupted stream is never resumed.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/justapithecus/drawscan/iox"
)

// DefaultEndpoint is the hosted analysis endpoint.
const DefaultEndpoint = "https://engineering-drawing-extractor-backend.onrender.com/analyze-page"

// DefaultHeaderTimeout bounds the wait for response headers. The body
// itself may stream for much longer and is bounded only by the context.
const DefaultHeaderTimeout = 5 * time.Minute

// DefaultRetries is the default number of request retry attempts.
const DefaultRetries = 0

// Form field names understood by the pipeline.
const (
	FieldFile   = "file"
	FieldVLMURL = "vlm_url"
)

// ErrEmptyBody is returned when the server answers 2xx with an empty body.
var ErrEmptyBody = errors.New("response body is empty")

// Config configures the upload client.
type Config struct {
	// Endpoint is the analysis URL to POST to (default DefaultEndpoint).
	Endpoint string
	// Headers are custom HTTP headers added to each request.
	Headers map[string]string
	// HeaderTimeout bounds the wait for response headers (default 5m).
	HeaderTimeout time.Duration
	// Retries is the number of request retries on network errors and 5xx
	// responses (default 0).
	Retries int
}

// Request is one drawing upload.
type Request struct {
	// Filename is the name sent with the file part.
	Filename string
	// Image is the raw image payload.
	Image []byte
	// VLMURL optionally points the pipeline at a specific VLM server.
	VLMURL string
	// Fields are extra form fields sent verbatim.
	Fields map[string]string
}

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code   int
	Status string
	// Body is the beginning of the response body, for diagnostics.
	Body string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("API error: %s", e.Status)
	if e.Status == "" {
		msg = fmt.Sprintf("API error: %d", e.Code)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Retriable reports whether a new request may succeed.
func (e *StatusError) Retriable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Client uploads drawings to the analysis pipeline.
type Client struct {
	config Config
	client *http.Client
}

// New creates an upload client from the given config.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if !strings.HasPrefix(cfg.Endpoint, "http://") && !strings.HasPrefix(cfg.Endpoint, "https://") {
		return nil, fmt.Errorf("endpoint must be an http(s) URL, got %q", cfg.Endpoint)
	}
	if cfg.HeaderTimeout <= 0 {
		cfg.HeaderTimeout = DefaultHeaderTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return nil, errors.New("unexpected default transport type")
	}
	rt := base.Clone()
	rt.ResponseHeaderTimeout = cfg.HeaderTimeout

	return &Client{
		config: cfg,
		client: &http.Client{Transport: rt},
	}, nil
}

// Endpoint returns the configured endpoint.
func (c *Client) Endpoint() string {
	return c.config.Endpoint
}

// Upload binds a request to the client. The result satisfies runtime.Source.
func (c *Client) Upload(req *Request) *Upload {
	return &Upload{client: c, req: req}
}

// Upload is a bound request, opened once per session.
type Upload struct {
	client *Client
	req    *Request
}

// Open performs the upload and returns the streaming response body.
func (u *Upload) Open(ctx context.Context) (io.ReadCloser, error) {
	return u.client.Do(ctx, u.req)
}

// Do sends the upload and returns the response body on a 2xx answer.
// Retries with exponential backoff on network errors, 429 and 5xx.
// Canceling ctx aborts both the request and any later body read.
func (c *Client) Do(ctx context.Context, req *Request) (io.ReadCloser, error) {
	if req == nil || len(req.Image) == 0 {
		return nil, errors.New("upload requires image bytes")
	}

	body, contentType, err := encodeForm(req)
	if err != nil {
		return nil, fmt.Errorf("encode upload: %w", err)
	}

	var lastErr error
	// attempts = 1 initial + retries
	attempts := 1 + c.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("upload canceled: %w", err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("upload canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		var rc io.ReadCloser
		rc, lastErr = c.doRequest(ctx, body, contentType)
		if lastErr == nil {
			return rc, nil
		}

		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) && !statusErr.Retriable() {
			return nil, lastErr
		}
		if errors.Is(lastErr, ErrEmptyBody) {
			return nil, lastErr
		}
	}

	if attempts == 1 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("upload failed after %d attempts: %w", attempts, lastErr)
}

// doRequest performs a single POST. On success the caller owns the body.
func (c *Client) doRequest(ctx context.Context, body []byte, contentType string) (io.ReadCloser, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/x-ndjson")
	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer iox.DiscardClose(resp.Body)
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{
			Code:   resp.StatusCode,
			Status: resp.Status,
			Body:   strings.TrimSpace(string(snippet)),
		}
	}

	if resp.ContentLength == 0 || resp.Body == http.NoBody {
		iox.DiscardClose(resp.Body)
		return nil, ErrEmptyBody
	}

	return resp.Body, nil
}

// encodeForm builds the multipart body: the image part, the optional VLM
// URL, then extra fields.
func encodeForm(req *Request) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	filename := req.Filename
	if filename == "" {
		filename = "drawing.png"
	}
	part, err := w.CreateFormFile(FieldFile, filepath.Base(filename))
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Image); err != nil {
		return nil, "", err
	}

	if req.VLMURL != "" {
		if err := w.WriteField(FieldVLMURL, req.VLMURL); err != nil {
			return nil, "", err
		}
	}
	for k, v := range req.Fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
