package logging

import "testing"

func TestNewAcceptsKnownLevels(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "warn", "error"} {
		logger, err := New(level, true)
		if err != nil {
			t.Fatalf("new logger at %q: %v", level, err)
		}
		if logger == nil {
			t.Fatalf("expected logger for level %q", level)
		}
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("verbose", false); err == nil {
		t.Fatal("expected unsupported level error")
	}
}

func TestInitReplacesSharedLogger(t *testing.T) {
	prev := Log
	t.Cleanup(func() { Log = prev })

	if err := Init("debug", true); err != nil {
		t.Fatalf("init: %v", err)
	}
	if Log == prev {
		t.Fatal("expected shared logger to be replaced")
	}
}
