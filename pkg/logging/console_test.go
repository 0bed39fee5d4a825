package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func render(t *testing.T, level slog.Level, msg string, args ...any) string {
	t.Helper()
	var buf bytes.Buffer
	l := slog.New(newConsoleHandler(&buf, LevelTrace))
	l.Log(context.Background(), level, msg, args...)
	return buf.String()
}

func TestConsoleRendersRunVocabulary(t *testing.T) {
	line := render(t, slog.LevelInfo, "compilation finished",
		"run", "1f0c9a2b-3c4d-5e6f-7081-92a3b4c5d6e7",
		"cycles", 2,
		"durationMs", int64(140),
	)
	if !strings.Contains(line, "INFO  compilation finished") {
		t.Errorf("level or message missing: %q", line)
	}
	if !strings.Contains(line, "run=1f0c9a2b ") {
		t.Errorf("run id not shortened: %q", line)
	}
	if !strings.Contains(line, "cycles=2") {
		t.Errorf("int attr lost: %q", line)
	}
	if !strings.Contains(line, "duration=140ms") || strings.Contains(line, "durationMs=") {
		t.Errorf("duration not rendered with unit: %q", line)
	}
}

func TestConsoleTraceLevelTag(t *testing.T) {
	line := render(t, LevelTrace, "relation added", "from", "B", "to", "A")
	if !strings.Contains(line, "TRACE relation added") {
		t.Errorf("trace level not named: %q", line)
	}
}

func TestConsoleElidesLongLists(t *testing.T) {
	classes := []string{"A", "B", "C", "D", "E", "F"}
	line := render(t, slog.LevelDebug, "invalidated", "classes", classes)
	if !strings.Contains(line, "classes=[A B C D +2 more]") {
		t.Errorf("list not elided: %q", line)
	}

	short := render(t, slog.LevelDebug, "invalidated", "classes", []string{"A", "B"})
	if !strings.Contains(short, "classes=[A B]") {
		t.Errorf("short list mangled: %q", short)
	}
}

func TestConsoleQuotesAwkwardStrings(t *testing.T) {
	line := render(t, slog.LevelError, "rollback failed", "error", "rename failed: no space")
	if !strings.Contains(line, `error="rename failed: no space"`) {
		t.Errorf("error not quoted: %q", line)
	}
	plain := render(t, slog.LevelInfo, "compiling", "source", "A.src")
	if !strings.Contains(plain, "source=A.src") {
		t.Errorf("plain string needlessly quoted: %q", plain)
	}
}

func TestConsoleCarriesHandlerAttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(newConsoleHandler(&buf, slog.LevelInfo)).
		With("workspace", "demo").WithGroup("cycle")
	l.Info("pruned", "products", 3)

	line := buf.String()
	if !strings.Contains(line, "workspace=demo") {
		t.Errorf("WithAttrs attr dropped: %q", line)
	}
	if !strings.Contains(line, "cycle.products=3") {
		t.Errorf("group prefix missing: %q", line)
	}
}
