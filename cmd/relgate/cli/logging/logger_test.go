package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/relgate/cli/cmd/relgate/cli/paths"
)

const testSessionID = "test-session-1"

func initGitRepo(t *testing.T, dir string) {
	t.Helper()
	for _, args := range [][]string{
		{"init"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "Test"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     slog.Level
	}{
		{"empty defaults to INFO", "", slog.LevelInfo},
		{"DEBUG lowercase", "debug", slog.LevelDebug},
		{"DEBUG uppercase", "DEBUG", slog.LevelDebug},
		{"WARN lowercase", "warn", slog.LevelWarn},
		{"warning alias", "warning", slog.LevelWarn},
		{"ERROR uppercase", "ERROR", slog.LevelError},
		{"invalid defaults to INFO", "invalid", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseLogLevel(tt.envValue)
			if got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.envValue, got, tt.want)
			}
		})
	}
}

func TestInit_CreatesLogFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)
	initGitRepo(t, tmpDir)
	paths.ClearRepoRootCache()
	defer paths.ClearRepoRootCache()
	defer resetLogger()

	if err := Init(testSessionID); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	Info(context.Background(), "hello")
	Close()

	logFilePath := filepath.Join(tmpDir, LogsDir, testSessionID+".log")
	data, err := os.ReadFile(logFilePath) //nolint:gosec // test path
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Errorf("log file missing message, got %q", data)
	}
	if !strings.Contains(string(data), testSessionID) {
		t.Errorf("log file missing session ID, got %q", data)
	}
}

func TestInit_RejectsBadSessionID(t *testing.T) {
	if err := Init("../evil"); err == nil {
		t.Error("Init() should reject session IDs with path separators")
	}
}

func TestContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	mu.Lock()
	logger = createLogger(&buf, slog.LevelDebug)
	mu.Unlock()
	defer resetLogger()

	ctx := WithHook(WithComponent(WithSession(context.Background(), "s1"), "hooks"), "stop")
	Info(ctx, "decision", slog.String("outcome", "allow"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parsing log output: %v", err)
	}
	if entry["session_id"] != "s1" {
		t.Errorf("session_id = %v, want s1", entry["session_id"])
	}
	if entry["component"] != "hooks" {
		t.Errorf("component = %v, want hooks", entry["component"])
	}
	if entry["hook"] != "stop" {
		t.Errorf("hook = %v, want stop", entry["hook"])
	}
	if entry["outcome"] != "allow" {
		t.Errorf("outcome = %v, want allow", entry["outcome"])
	}
}

func TestLogDuration(t *testing.T) {
	var buf bytes.Buffer
	mu.Lock()
	logger = createLogger(&buf, slog.LevelDebug)
	mu.Unlock()
	defer resetLogger()

	start := time.Now().Add(-50 * time.Millisecond)
	LogDuration(context.Background(), slog.LevelInfo, "done", start)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parsing log output: %v", err)
	}
	ms, ok := entry["duration_ms"].(float64)
	if !ok || ms < 50 {
		t.Errorf("duration_ms = %v, want >= 50", entry["duration_ms"])
	}
}
