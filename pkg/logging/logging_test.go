package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestInitAndLog(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelDebug, &buf)

	Debug("Test", "debug message %d", 1)
	Info("Test", "info message")
	Warn("Test", "warn message")

	out := buf.String()
	for _, want := range []string{"debug message 1", "info message", "warn message", "subsystem=Test"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q, got:\n%s", want, out)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelWarn, &buf)

	Debug("Test", "should not appear")
	Info("Test", "should not appear either")
	Warn("Test", "visible warning")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Errorf("filtered levels leaked into output:\n%s", out)
	}
	if !strings.Contains(out, "visible warning") {
		t.Errorf("warn entry missing from output:\n%s", out)
	}
}

func TestErrorIncludesErrAttr(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelDebug, &buf)

	Error("Test", errTest, "operation failed")

	out := buf.String()
	if !strings.Contains(out, "boom") {
		t.Errorf("error attribute missing from output:\n%s", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   LevelDebug,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"info":    LevelInfo,
		"bogus":   LevelInfo,
		"":        LevelInfo,
	}
	for name, want := range cases {
		if got := ParseLevel(name); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", name, got, want)
		}
	}
}

type testErr string

func (e testErr) Error() string { return string(e) }

var errTest = testErr("boom")
