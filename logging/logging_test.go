package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var stdout, stderr bytes.Buffer
	logger := NewDefaultLoggerWithWriters(&stdout, &stderr, false)
	logger.SetLevel(WarnLevel)

	logger.Debug("hidden debug")
	logger.Info("hidden info")
	logger.Warn("visible warn")
	logger.Error(errors.New("boom"), "visible error")

	if stdout.Len() != 0 {
		t.Errorf("expected nothing on stdout, got %q", stdout.String())
	}
	out := stderr.String()
	if !strings.Contains(out, "[WARN] visible warn") {
		t.Errorf("missing warn line in %q", out)
	}
	if !strings.Contains(out, "[ERROR] visible error: boom") {
		t.Errorf("missing error line in %q", out)
	}
}

func TestWithFieldsMergesAndSorts(t *testing.T) {
	var stdout bytes.Buffer
	base := NewDefaultLoggerWithWriters(&stdout, &stdout, false)

	child := base.WithFields(Fields{"component": "chroma", "bins": 24})
	child.Info("kernel ready", Fields{"bins": 144})

	line := stdout.String()
	if !strings.Contains(line, "bins=144 component=chroma") {
		t.Errorf("fields not merged in key order: %q", line)
	}

	stdout.Reset()
	base.Info("parent untouched")
	if strings.Contains(stdout.String(), "component") {
		t.Errorf("child fields leaked into parent: %q", stdout.String())
	}
}

func TestWithContext(t *testing.T) {
	var stdout bytes.Buffer
	logger := NewDefaultLoggerWithWriters(&stdout, &stdout, false)

	ctx := ContextWithFields(context.Background(), Fields{"request_id": "abc"})
	ctx = ContextWithFields(ctx, Fields{"path": "/"})
	logger.WithContext(ctx).Info("handled")

	line := stdout.String()
	if !strings.Contains(line, "path=/ request_id=abc") {
		t.Errorf("context fields missing: %q", line)
	}
}

func TestFatalCallsExit(t *testing.T) {
	var stderr bytes.Buffer
	logger := NewDefaultLoggerWithWriters(&stderr, &stderr, false)
	code := -1
	logger.exit = func(c int) { code = c }

	logger.Fatal(errors.New("bad"), "giving up")
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"loud", InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSetGlobalLoggerNil(t *testing.T) {
	prev := GetGlobalLogger()
	defer SetGlobalLogger(prev)

	SetGlobalLogger(nil)
	if _, ok := GetGlobalLogger().(*NoOpLogger); !ok {
		t.Errorf("expected NoOpLogger, got %T", GetGlobalLogger())
	}
}
