package modbus

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

type nopWriteCloser struct {
	*bytes.Buffer
}

func (nopWriteCloser) Close() error { return nil }

func newBufferLogger(level LogLevel, prefix string) (*SimpleLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	var wc io.WriteCloser = nopWriteCloser{buf}
	return NewSimpleLogger(wc, level, prefix), buf
}

func TestLoggerFiltersBelowLevel(t *testing.T) {
	logger, buf := newBufferLogger(LevelWarning, "TEST")
	logger.Write([]byte("DEBUG: filtered out"))
	logger.Write([]byte("WARNING: kept"))
	logger.Write([]byte("ERROR: kept"))

	out := buf.String()
	if strings.Contains(out, "filtered out") {
		t.Fatalf("DEBUG line should have been filtered below WARNING, got: %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Fatalf("WARNING/ERROR lines should have passed through, got: %q", out)
	}
}

func TestLoggerSetLevelFromString(t *testing.T) {
	logger, buf := newBufferLogger(LevelInfo, "TEST")
	if err := logger.SetLevelFromString("debug"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.GetLevel() != LevelDebug {
		t.Fatalf("level = %v, want LevelDebug", logger.GetLevel())
	}
	logger.Write([]byte("DEBUG: now visible"))
	if !strings.Contains(buf.String(), "now visible") {
		t.Fatalf("debug line should now pass through")
	}
}

func TestLoggerSetLevelFromStringRejectsUnknown(t *testing.T) {
	logger, _ := newBufferLogger(LevelInfo, "TEST")
	if err := logger.SetLevelFromString("NOISY"); err == nil {
		t.Fatalf("expected an error for an unrecognized level name")
	}
}

func TestLoggerDefaultsUnprefixedMessageToInfo(t *testing.T) {
	logger, buf := newBufferLogger(LevelInfo, "TEST")
	logger.Write([]byte("no level prefix here"))
	if !strings.Contains(buf.String(), "[INFO]") {
		t.Fatalf("unprefixed message should log at INFO, got: %q", buf.String())
	}
}
