package logger

import (
	"testing"

	"task-planner/internal/config"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(config.LoggerConfig{Level: "loud", Format: "json"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewBuildsBothFormats(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		l, err := New(config.LoggerConfig{Level: "debug", Format: format})
		if err != nil {
			t.Fatalf("New(%s): %v", format, err)
		}
		l.WithComponent("test").WithTask("abc").Debugw("built", "format", format)
	}
}

func TestNopLogger(t *testing.T) {
	l := NewNop().WithComponent("dispatcher")
	l.Infow("ignored", "key", "value")
	_ = l.Close()
}
