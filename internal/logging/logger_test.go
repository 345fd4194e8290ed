package logging

import (
	"strings"
	"testing"
)

func TestLoggerRespectsMinLevel(t *testing.T) {
	output := &strings.Builder{}
	logger := NewLoggerWithOutput(LevelWarning, output)

	logger.Debug("hidden", nil)
	logger.Info("hidden", nil)
	logger.Warn("visible", nil)

	entries := logger.Buffer().List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 buffered entry, got %d", len(entries))
	}
	if entries[0].Message != "visible" {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
	if !strings.Contains(output.String(), `msg="visible"`) {
		t.Fatalf("output missing entry: %q", output.String())
	}
}

func TestLoggerWithMergesFields(t *testing.T) {
	logger := NewLoggerWithOutput(LevelInfo, nil)
	scoped := logger.With(map[string]string{"platform": "ios"})

	scoped.Info("ready", map[string]string{"files": "2"})

	entries := logger.Buffer().List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Context["platform"] != "ios" || entries[0].Context["files"] != "2" {
		t.Fatalf("unexpected context %v", entries[0].Context)
	}
}

func TestFormatEntrySortsContextKeys(t *testing.T) {
	formatted := formatEntry(Entry{
		Level:   LevelInfo,
		Message: "compiled",
		Context: map[string]string{"b": "2", "a": "1"},
	})
	if formatted != `level=info msg="compiled" a="1" b="2"` {
		t.Fatalf("unexpected format: %s", formatted)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug": LevelDebug,
		"INFO":  LevelInfo,
		"warn":  LevelWarning,
		"error": LevelError,
	}
	for input, want := range cases {
		got, ok := ParseLevel(input)
		if !ok || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v", input, got, ok)
		}
	}
	if _, ok := ParseLevel("loud"); ok {
		t.Fatal("expected unknown level to fail")
	}
}

func TestHubSubscribeReceivesBroadcast(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe(1)
	defer cancel()

	hub.Broadcast(Entry{Message: "hello"})

	select {
	case entry := <-ch:
		if entry.Message != "hello" {
			t.Fatalf("unexpected entry %+v", entry)
		}
	default:
		t.Fatal("expected buffered entry")
	}
}
