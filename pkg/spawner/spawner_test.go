package spawner

import (
	"bytes"
	"testing"
)

func TestSpawnerInterfaceSatisfiedByLinux(t *testing.T) {
	var _ Spawner = Linux{}
}

// TestLinuxRunUnknownPath exercises the error-translation path without
// actually forking a traced child (which requires the caller to pin the
// goroutine to its OS thread and drive wait4 itself, left to
// pkg/proc.Process.Attach/Wait for a real spawn).
func TestLinuxRunUnknownPath(t *testing.T) {
	var stdout, stderr bytes.Buffer
	l := Linux{}
	if _, err := l.Run("/nonexistent/ds2go-test-binary", nil, nil, "", nil, &stdout, &stderr); err == nil {
		t.Fatal("Run with a nonexistent path should fail")
	}
}
