package iox

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTemp(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "drawing.png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadFileLimited(t *testing.T) {
	path := writeTemp(t, []byte("12345"))

	data, err := ReadFileLimited(path, 5)
	if err != nil {
		t.Fatalf("ReadFileLimited() error = %v", err)
	}
	if string(data) != "12345" {
		t.Errorf("data = %q, want 12345", data)
	}
}

func TestReadFileLimited_TooLarge(t *testing.T) {
	path := writeTemp(t, []byte("123456"))

	_, err := ReadFileLimited(path, 5)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("error = %v, want ErrTooLarge", err)
	}
}

func TestReadFileLimited_Empty(t *testing.T) {
	path := writeTemp(t, nil)

	_, err := ReadFileLimited(path, 5)
	if err == nil || !strings.Contains(err.Error(), "empty") {
		t.Fatalf("error = %v, want empty file error", err)
	}
}

func TestReadFileLimited_Missing(t *testing.T) {
	_, err := ReadFileLimited(filepath.Join(t.TempDir(), "nope.png"), 5)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("error = %v, want os.ErrNotExist", err)
	}
}
