package main

import (
	"bytes"
	"context"
	stdErrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"filemutex/internal/errors"
)

// execute runs a fresh root command with args and returns its stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func readLock(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read lock: %v", err)
	}
	return string(data)
}

func TestInitCmd(t *testing.T) {
	lockFile := filepath.Join(t.TempDir(), "lock.txt")

	out, _, err := execute(t, "init", "--lock-file", lockFile)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, "Initialized") {
		t.Errorf("init output = %q", out)
	}
	if got := readLock(t, lockFile); got != "Ready" {
		t.Errorf("lock content = %q, want Ready", got)
	}

	if err := os.WriteFile(lockFile, []byte("Wait"), 0644); err != nil {
		t.Fatal(err)
	}
	out, _, err = execute(t, "init", "--lock-file", lockFile)
	if err != nil {
		t.Fatalf("second init: %v", err)
	}
	if !strings.Contains(out, "already exists") {
		t.Errorf("second init output = %q", out)
	}
	if got := readLock(t, lockFile); got != "Wait" {
		t.Errorf("init without --force changed the lock to %q", got)
	}

	if _, _, err := execute(t, "init", "--force", "--lock-file", lockFile); err != nil {
		t.Fatalf("init --force: %v", err)
	}
	if got := readLock(t, lockFile); got != "Ready" {
		t.Errorf("lock content after --force = %q, want Ready", got)
	}
}

func TestStatusCmd(t *testing.T) {
	lockFile := filepath.Join(t.TempDir(), "lock.txt")

	out, _, err := execute(t, "status", "--no-color", "--lock-file", lockFile)
	if err != nil {
		t.Fatalf("status on missing lock: %v", err)
	}
	if !strings.Contains(out, "does not exist") {
		t.Errorf("status output = %q", out)
	}

	if err := os.WriteFile(lockFile, []byte("Wait\n"), 0644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(lockFile, old, old); err != nil {
		t.Fatal(err)
	}
	out, _, err = execute(t, "status", "--no-color", "--stale-after", "1m", "--lock-file", lockFile)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"State:    Wait", "Held for: 1h", "Stale:    yes"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}

	if err := os.WriteFile(lockFile, []byte("garbage"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := execute(t, "status", "--lock-file", lockFile); !stdErrors.Is(err, errors.ErrReadError) {
		t.Errorf("status on corrupt lock = %v, want ReadError", err)
	}
}

func TestReleaseCmd(t *testing.T) {
	lockFile := filepath.Join(t.TempDir(), "lock.txt")
	if err := os.WriteFile(lockFile, []byte("Wait"), 0644); err != nil {
		t.Fatal(err)
	}

	_, _, err := execute(t, "release", "--lock-file", lockFile)
	if err == nil || !strings.Contains(err.Error(), "not stale") {
		t.Fatalf("release of a fresh lock = %v, want not stale error", err)
	}
	if got := readLock(t, lockFile); got != "Wait" {
		t.Errorf("refused release changed the lock to %q", got)
	}

	out, _, err := execute(t, "release", "--force", "--lock-file", lockFile)
	if err != nil {
		t.Fatalf("release --force: %v", err)
	}
	if !strings.Contains(out, "Released") {
		t.Errorf("release output = %q", out)
	}
	if got := readLock(t, lockFile); got != "Ready" {
		t.Errorf("lock content = %q, want Ready", got)
	}

	out, _, err = execute(t, "release", "--lock-file", lockFile)
	if err != nil {
		t.Fatalf("release of an available lock: %v", err)
	}
	if !strings.Contains(out, "already Ready") {
		t.Errorf("release output = %q", out)
	}

	if err := os.WriteFile(lockFile, []byte("Wait"), 0644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(lockFile, old, old); err != nil {
		t.Fatal(err)
	}
	if _, _, err := execute(t, "release", "--stale-after", "1m", "--lock-file", lockFile); err != nil {
		t.Fatalf("release of a stale lock: %v", err)
	}
	if got := readLock(t, lockFile); got != "Ready" {
		t.Errorf("lock content = %q, want Ready", got)
	}

	missing := filepath.Join(t.TempDir(), "missing.txt")
	if _, _, err := execute(t, "release", "--lock-file", missing); !stdErrors.Is(err, errors.ErrNotFound) {
		t.Errorf("release of a missing lock = %v, want NotFound", err)
	}
}

func TestRootCmd_RunsCalls(t *testing.T) {
	lockFile := filepath.Join(t.TempDir(), "lock.txt")
	if _, _, err := execute(t, "init", "--lock-file", lockFile); err != nil {
		t.Fatalf("init: %v", err)
	}

	out, logs, err := execute(t, "alpha",
		"--lock-file", lockFile,
		"--workers", "3",
		"--calls", "6",
		"--hold", "1ms",
		"--poll-interval", "10ms",
		"--no-color",
	)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, logs)
	}
	if got := strings.Count(out, "alpha start "); got != 6 {
		t.Errorf("printed %d start lines, want 6:\n%s", got, out)
	}
	if !strings.Contains(logs, "alpha completed 6 of 6 calls") {
		t.Errorf("logs missing completion line:\n%s", logs)
	}
	if got := readLock(t, lockFile); got != "Ready" {
		t.Errorf("lock content after run = %q, want Ready", got)
	}
}

func TestRootCmd_TimesOutOnHeldLock(t *testing.T) {
	lockFile := filepath.Join(t.TempDir(), "lock.txt")
	if err := os.WriteFile(lockFile, []byte("Wait"), 0644); err != nil {
		t.Fatal(err)
	}

	_, _, err := execute(t, "beta",
		"--lock-file", lockFile,
		"--calls", "1",
		"--poll-interval", "10ms",
		"--timeout", "50ms",
	)
	if !stdErrors.Is(err, errors.ErrTimeout) {
		t.Fatalf("run on held lock = %v, want Timeout", err)
	}
	if got := readLock(t, lockFile); got != "Wait" {
		t.Errorf("timed out run changed the lock to %q", got)
	}
}

func TestRootCmd_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	lockFile := filepath.Join(dir, "lock.txt")
	if err := os.WriteFile(lockFile, []byte("Ready"), 0644); err != nil {
		t.Fatal(err)
	}
	cfgFile := filepath.Join(dir, "filemutex.toml")
	content := `lock_file = "` + filepath.ToSlash(lockFile) + `"
workers = 2
calls = 3
poll_interval = "10ms"
hold = "1ms"
no_color = true
`
	if err := os.WriteFile(cfgFile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	out, logs, err := execute(t, "gamma", "--config", cfgFile)
	if err != nil {
		t.Fatalf("run with config: %v\n%s", err, logs)
	}
	if got := strings.Count(out, "gamma start "); got != 3 {
		t.Errorf("printed %d start lines, want 3", got)
	}

	out, _, err = execute(t, "gamma", "--config", cfgFile, "--calls", "2")
	if err != nil {
		t.Fatalf("run with config and flag: %v", err)
	}
	if got := strings.Count(out, "gamma start "); got != 2 {
		t.Errorf("flag did not override config: %d start lines, want 2", got)
	}
}

func TestRootCmd_Errors(t *testing.T) {
	dir := t.TempDir()
	badCfg := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(badCfg, []byte("lock_fiel = \"x\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing name", []string{"--lock-file", filepath.Join(dir, "lock.txt")}, "accepts 1 arg"},
		{"too many names", []string{"a", "b"}, "accepts 1 arg"},
		{"unknown config key", []string{"a", "--config", badCfg}, "unknown keys"},
		{"missing config", []string{"a", "--config", filepath.Join(dir, "nope.toml")}, "failed to load config"},
		{"invalid workers", []string{"a", "--lock-file", filepath.Join(dir, "lock.txt"), "--workers", "0"}, "invalid configuration"},
		{"stale shorter than hold", []string{"status", "--lock-file", filepath.Join(dir, "lock.txt"), "--stale-after", "10ms"}, "stale-after"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{1500 * time.Millisecond, "2s"},
		{90 * time.Second, "1m 30s"},
		{2*time.Hour + 5*time.Minute, "2h 5m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
