package app

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_JSONFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := newLogger(&buf, "warn", "json", false)

	log.Info("ws.join", "conversation_id", "c1")
	log.Warn("ingest.summary.fail", "conversation_id", "c1")

	out := buf.String()
	if strings.Contains(out, "ws.join") {
		t.Fatalf("info record should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"ingest.summary.fail"`) || !strings.Contains(out, `"conversation_id":"c1"`) {
		t.Fatalf("unexpected json output: %s", out)
	}
}

func TestPrettyHandler_Line(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := newLogger(&buf, "debug", "pretty", false).With("session_id", "s1").WithGroup("ws")

	log.Debug("ws.join", "room", "c1", "note", "two words", "err", errors.New("boom"))

	line := buf.String()
	for _, want := range []string{
		"DEBUG ws.join",
		" session_id=s1",
		" ws.room=c1",
		` ws.note="two words"`,
		" ws.err=boom",
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("missing %q in %q", want, line)
		}
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("unexpected ANSI codes with color disabled: %q", line)
	}
	if !strings.HasSuffix(line, "\n") || strings.Count(line, "\n") != 1 {
		t.Fatalf("expected exactly one line, got %q", line)
	}
}

func TestPrettyHandler_Color(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := newLogger(&buf, "info", "pretty", true)
	log.Error("reconcile.drop", "status", 503)

	line := buf.String()
	if !strings.Contains(line, ansiRed+"ERROR"+ansiReset) {
		t.Fatalf("expected red level tag in %q", line)
	}
	if !strings.Contains(line, ansiRed+"503"+ansiReset) {
		t.Fatalf("expected red 5xx status in %q", line)
	}
}
