package dlog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestGatedLoggerSuppressesDisabledCategory(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Debugger: false, Trace: true, Level: logrus.DebugLevel}, &buf)

	l.Debugger().Debugf("attach pid=%d", 42)
	if buf.Len() != 0 {
		t.Fatalf("Debugger() is disabled, expected no output, got %q", buf.String())
	}

	l.Trace().Debugf("wait tid=%d", 7)
	if !strings.Contains(buf.String(), "wait tid=7") {
		t.Fatalf("Trace() is enabled, expected output, got %q", buf.String())
	}
}

func TestErrorAlwaysLogs(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: logrus.InfoLevel}, &buf)

	l.Breakpoint().Errorf("enable failed: %v", "boom")
	if !strings.Contains(buf.String(), "enable failed: boom") {
		t.Fatalf("Errorf should always print, got %q", buf.String())
	}
}
