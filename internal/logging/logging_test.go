package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestDefaultLogPath(t *testing.T) {
	path := DefaultLogPath()
	if filepath.Base(path) != "storyrag.log" {
		t.Errorf("DefaultLogPath should end with storyrag.log, got: %s", path)
	}
	if !strings.Contains(path, ".storyrag") {
		t.Errorf("DefaultLogPath should live under .storyrag, got: %s", path)
	}
}

func TestConfigs(t *testing.T) {
	if cfg := DefaultConfig(); cfg.Level != "info" || cfg.WriteToStderr {
		t.Errorf("unexpected default config: %+v", cfg)
	}
	if cfg := DebugConfig(); cfg.Level != "debug" || !cfg.WriteToStderr {
		t.Errorf("unexpected debug config: %+v", cfg)
	}
	if cfg := ServeConfig("warn"); cfg.WriteToStderr {
		t.Error("serve config must never write to stderr")
	}
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "test.log")

	logger, cleanup, err := Setup(Config{Level: "debug", FilePath: logPath, MaxSizeMB: 1, MaxFiles: 2})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	logger.Info("index_started", slog.String("docs_dir", "./docs"))
	cleanup()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"index_started"`) {
		t.Errorf("log file missing message: %s", data)
	}
	if !strings.Contains(string(data), `"docs_dir":"./docs"`) {
		t.Errorf("log file missing attribute: %s", data)
	}
}

func TestSetup_LevelFilters(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	logger, cleanup, err := Setup(Config{Level: "warn", FilePath: logPath})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	cleanup()

	data, _ := os.ReadFile(logPath)
	if strings.Contains(string(data), "hidden") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(string(data), "shown") {
		t.Error("warn record should be written")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRotatingWriter_Rotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rot.log")
	w, err := NewRotatingWriter(path, 1, 2)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer func() { _ = w.Close() }()

	chunk := []byte(strings.Repeat("x", 600*1024))
	for i := 0; i < 5; i++ {
		if _, err := w.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	for _, suffix := range []string{"", ".1", ".2"} {
		if _, err := os.Stat(path + suffix); err != nil {
			t.Errorf("expected %s to exist: %v", path+suffix, err)
		}
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Error("backups beyond maxFiles should be removed")
	}
}

func TestViewer_TailFiltersByLevelAndPattern(t *testing.T) {
	path := filepath.Join(t.TempDir(), "view.log")
	var lines []string
	for i := 0; i < 5; i++ {
		lines = append(lines, fmt.Sprintf(`{"time":"2024-01-01T12:00:0%dZ","level":"INFO","msg":"query_completed","n":%d}`, i, i))
	}
	lines = append(lines, `{"time":"2024-01-01T12:00:09Z","level":"ERROR","msg":"generation_failed"}`, "not json")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		t.Fatal(err)
	}

	v := NewViewer(ViewerConfig{Level: "error", NoColor: true}, os.Stdout)
	entries, err := v.Tail(path, 10)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	// The invalid line has no level and passes through.
	if len(entries) != 2 || entries[0].Msg != "generation_failed" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	v = NewViewer(ViewerConfig{Pattern: regexp.MustCompile(`"n":[34]`), NoColor: true}, os.Stdout)
	entries, err = v.Tail(path, 1)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(entries) != 1 || !strings.Contains(v.FormatEntry(entries[0]), "n=4") {
		t.Fatalf("unexpected tail: %+v", entries)
	}
}

func TestViewer_FollowSeesAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "follow.log")
	if err := os.WriteFile(path, []byte(`{"level":"INFO","msg":"old"}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v := NewViewer(ViewerConfig{NoColor: true}, os.Stdout)
	entries := make(chan LogEntry, 4)
	done := make(chan error, 1)
	go func() { done <- v.Follow(ctx, path, entries) }()

	// Give Follow time to seek to the end before appending.
	time.Sleep(300 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString(`{"level":"INFO","msg":"new"}` + "\n")
	_ = f.Close()

	select {
	case e := <-entries:
		if e.Msg != "new" {
			t.Fatalf("got %q, want only lines appended after Follow started", e.Msg)
		}
	case <-ctx.Done():
		t.Fatal("no entry followed")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Follow: %v", err)
	}
}
