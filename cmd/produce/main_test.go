package main

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenInputClosesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	if err := os.WriteFile(path, []byte(`{"id":"1"}`+"\n"), 0o644); err != nil {
		t.Fatalf("writing input: %v", err)
	}

	in, closeInput, err := openInput(path)
	if err != nil {
		t.Fatalf("openInput: %v", err)
	}
	data, err := io.ReadAll(in)
	if err != nil || string(data) != `{"id":"1"}`+"\n" {
		t.Fatalf("read %q, %v", data, err)
	}

	closeInput()
	if _, err := in.Read(make([]byte, 1)); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("read after close = %v, want os.ErrClosed", err)
	}
}

func TestOpenInputDefaultsToStdin(t *testing.T) {
	in, closeInput, err := openInput("")
	if err != nil {
		t.Fatalf("openInput: %v", err)
	}
	defer closeInput()
	if in != os.Stdin {
		t.Fatalf("input = %v, want stdin", in)
	}
}

func TestOpenInputMissingFile(t *testing.T) {
	if _, _, err := openInput(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("openInput = %v, want ErrNotExist", err)
	}
}
