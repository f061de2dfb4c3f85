package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestAuditFileRotatesBySize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	writer, err := newAuditFile(AuditConfig{Path: path, MaxSizeMB: 1, MaxBackups: 3, MaxAgeDays: 1}.withDefaults())
	if err != nil {
		t.Fatalf("newAuditFile: %v", err)
	}
	defer writer.Close()
	// Force rotation on the second write.
	writer.maxSize = 16

	if _, err := writer.Write([]byte("0123456789abcdef")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := writer.Write([]byte("second entry")); err != nil {
		t.Fatalf("second write: %v", err)
	}

	backups, err := filepath.Glob(path + ".*")
	if err != nil {
		t.Fatalf("glob backups: %v", err)
	}
	if len(backups) != 1 {
		t.Fatalf("expected one backup after rotation, got %v", backups)
	}
	live, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read live file: %v", err)
	}
	if string(live) != "second entry" {
		t.Fatalf("live file should only hold the post-rotation write, got %q", live)
	}
}

func TestAuditFilePruneKeepsNewestBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	for _, suffix := range []string{".20240101T000000.000", ".20240102T000000.000", ".20240103T000000.000"} {
		if err := os.WriteFile(path+suffix, []byte("x"), 0o644); err != nil {
			t.Fatalf("seed backup: %v", err)
		}
	}

	writer, err := newAuditFile(AuditConfig{Path: path, MaxSizeMB: 1, MaxBackups: 2, MaxAgeDays: 365 * 100}.withDefaults())
	if err != nil {
		t.Fatalf("newAuditFile: %v", err)
	}
	writer.prune()

	backups, _ := filepath.Glob(path + ".*")
	if len(backups) != 2 {
		t.Fatalf("expected two surviving backups, got %v", backups)
	}
	for _, backup := range backups {
		if backup == path+".20240101T000000.000" {
			t.Fatal("oldest backup should have been pruned")
		}
	}
}

func TestAuditConfigDefaults(t *testing.T) {
	cfg := AuditConfig{Path: "audit.log"}.withDefaults()
	if cfg.MaxSizeMB != 64 || cfg.MaxBackups != 10 || cfg.MaxAgeDays != 14 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestNamedTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	child := slog.New(slog.NewJSONHandler(&buf, nil)).With(slog.String("component", "job-processor"))
	child.Info("claimed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry["component"] != "job-processor" {
		t.Fatalf("component attribute missing: %v", entry)
	}
}
