package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/shineum/ses-forwarder/internal/trigger"
)

// logOutput receives the JSON log stream so stdout stays free for command
// output.
var logOutput io.Writer = os.Stderr

func readEventFile(path string) (trigger.Trigger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return trigger.Trigger{}, fmt.Errorf("failed to read event file: %w", err)
	}
	return trigger.DecodeJSON(data)
}

// openInput opens path for reading, with "-" or "" meaning stdin.
func openInput(path string, stdin io.Reader) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, nil
}

// openOutput creates path for writing, with "-" or "" meaning stdout.
func openOutput(path string, stdout io.Writer) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopWriteCloser{stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output: %w", err)
	}
	return f, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// toCRLF normalizes line endings. Message files on disk usually use bare LF,
// while the header rewrite needs CRLF.
func toCRLF(raw []byte) []byte {
	lf := bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(lf, []byte("\n"), []byte("\r\n"))
}
