package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/justapithecus/drawscan/iox"
)

func testRequest() *Request {
	return &Request{
		Filename: "/tmp/drawings/bracket.png",
		Image:    []byte("\x89PNG\r\n\x1a\nfake"),
		VLMURL:   "http://vlm.local:8000",
	}
}

func TestDo_SendsMultipartForm(t *testing.T) {
	var (
		filename string
		payload  string
		vlmURL   string
		accept   string
		custom   string
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		f, hdr, err := r.FormFile(FieldFile)
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer iox.DiscardClose(f)
		b, _ := io.ReadAll(f)
		filename, payload = hdr.Filename, string(b)
		vlmURL = r.FormValue(FieldVLMURL)
		accept = r.Header.Get("Accept")
		custom = r.Header.Get("X-Token")
		_, _ = io.WriteString(w, "{\"kind\":\"status\",\"message\":\"ok\"}\n")
	}))
	defer ts.Close()

	c, err := New(Config{Endpoint: ts.URL, Headers: map[string]string{"X-Token": "t"}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer iox.DiscardClose(c)

	body, err := c.Do(t.Context(), testRequest())
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer iox.DiscardClose(body)
	got, _ := io.ReadAll(body)

	if filename != "bracket.png" {
		t.Errorf("expected base filename bracket.png, got %q", filename)
	}
	if payload != string(testRequest().Image) {
		t.Errorf("image payload mismatch: %q", payload)
	}
	if vlmURL != "http://vlm.local:8000" {
		t.Errorf("expected vlm_url, got %q", vlmURL)
	}
	if accept != "application/x-ndjson" {
		t.Errorf("expected ndjson accept header, got %q", accept)
	}
	if custom != "t" {
		t.Errorf("expected custom header, got %q", custom)
	}
	if !strings.Contains(string(got), "\"ok\"") {
		t.Errorf("unexpected body %q", got)
	}
}

func TestDo_OmitsEmptyVLMURL(t *testing.T) {
	var present bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseMultipartForm(1 << 20)
		_, present = r.MultipartForm.Value[FieldVLMURL]
		_, _ = io.WriteString(w, "\n")
	}))
	defer ts.Close()

	c, _ := New(Config{Endpoint: ts.URL})
	req := testRequest()
	req.VLMURL = ""
	body, err := c.Do(t.Context(), req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	iox.DiscardClose(body)

	if present {
		t.Error("vlm_url should be omitted when empty")
	}
}

func TestDo_StatusErrorNotRetriedOn4xx(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		http.Error(w, "bad image", http.StatusUnprocessableEntity)
	}))
	defer ts.Close()

	c, _ := New(Config{Endpoint: ts.URL, Retries: 3})
	_, err := c.Do(t.Context(), testRequest())

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", statusErr.Code)
	}
	if statusErr.Body != "bad image" {
		t.Errorf("expected body snippet, got %q", statusErr.Body)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("expected 1 attempt, got %d", got)
	}
}

func TestDo_RetriesOn5xx(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, "{}\n")
	}))
	defer ts.Close()

	c, _ := New(Config{Endpoint: ts.URL, Retries: 2})
	body, err := c.Do(t.Context(), testRequest())
	if err != nil {
		t.Fatalf("do should succeed after retry: %v", err)
	}
	iox.DiscardClose(body)

	if got := attempts.Load(); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestDo_EmptyBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c, _ := New(Config{Endpoint: ts.URL, Retries: 2})
	_, err := c.Do(t.Context(), testRequest())
	if !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("expected ErrEmptyBody, got %v", err)
	}
}

func TestDo_ContextCancelAbortsBody(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "{\"kind\":\"status\",\"message\":\"a\"}\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-time.After(5 * time.Second):
		}
	}))
	defer ts.Close()
	defer close(release)

	c, _ := New(Config{Endpoint: ts.URL})
	ctx, cancel := context.WithCancel(t.Context())
	body, err := c.Upload(testRequest()).Open(ctx)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer iox.DiscardClose(body)

	buf := make([]byte, 64)
	if _, err := body.Read(buf); err != nil {
		t.Fatalf("first read: %v", err)
	}

	cancel()
	done := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(body)
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected read error after cancel")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("body read did not abort after cancel")
	}
}

func TestDo_RequiresImage(t *testing.T) {
	c, _ := New(Config{Endpoint: "http://example.com"})
	if _, err := c.Do(t.Context(), &Request{Filename: "x.png"}); err == nil {
		t.Fatal("expected error for missing image")
	}
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(Config{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if c.Endpoint() != DefaultEndpoint {
		t.Errorf("expected default endpoint, got %s", c.Endpoint())
	}
	if c.config.HeaderTimeout != DefaultHeaderTimeout {
		t.Errorf("expected default header timeout, got %v", c.config.HeaderTimeout)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Endpoint: "ftp://x"}); err == nil {
		t.Error("expected error for non-http endpoint")
	}
	if _, err := New(Config{Endpoint: "http://x", Retries: -1}); err == nil {
		t.Error("expected error for negative retries")
	}
}

func TestStatusError_Message(t *testing.T) {
	err := &StatusError{Code: 500, Status: "500 Internal Server Error", Body: "oops"}
	if got := err.Error(); got != "API error: 500 Internal Server Error: oops" {
		t.Errorf("unexpected message %q", got)
	}
	if !err.Retriable() {
		t.Error("500 should be retriable")
	}
	if (&StatusError{Code: 404}).Retriable() {
		t.Error("404 should not be retriable")
	}
}
