package runtime

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestLifecycleSignalsDone(t *testing.T) {
	t.Parallel()

	lc := NewLifecycle()

	select {
	case <-lc.Done():
		t.Fatal("Done() closed before Shutdown()")
	default:
	}

	lc.Shutdown()
	lc.Shutdown() // idempotent

	select {
	case <-lc.Done():
	default:
		t.Error("Done() still open after Shutdown()")
	}
}

func TestWritePIDFileRoundTrip(t *testing.T) {
	t.Parallel()

	pidFile := filepath.Join(t.TempDir(), "run", "daemon.pid")
	if err := WritePIDFile(pidFile, 4242); err != nil {
		t.Fatalf("WritePIDFile() error = %v", err)
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if got := string(data); got != strconv.Itoa(4242) {
		t.Errorf("pid file contents = %q, want %q", got, "4242")
	}

	RemovePIDFile(pidFile)
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Errorf("pid file still present after RemovePIDFile, stat err = %v", err)
	}
}

func TestWritePIDFileRequiresPath(t *testing.T) {
	t.Parallel()

	if err := WritePIDFile("", 1); err == nil {
		t.Error("WritePIDFile(\"\") expected error")
	}
}
