package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// auditFile is a size-rotated append writer for the audit sink. Rotation
// renames the live file to a timestamped backup; pruning keeps at most
// maxBackups files and drops anything older than maxAge.
type auditFile struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	maxSize    int64
	maxBackups int
	maxAge     time.Duration
	size       int64
}

func newAuditFile(cfg AuditConfig) (*auditFile, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &auditFile{
		path:       cfg.Path,
		maxSize:    int64(cfg.MaxSizeMB) * 1024 * 1024,
		maxBackups: cfg.MaxBackups,
		maxAge:     time.Duration(cfg.MaxAgeDays) * 24 * time.Hour,
	}, nil
}

func (w *auditFile) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.open(); err != nil {
		return 0, err
	}
	if w.maxSize > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *auditFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.size = 0
	return err
}

func (w *auditFile) open() error {
	if w.file != nil {
		return nil
	}
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

const backupStamp = "20060102T150405.000"

func (w *auditFile) rotate() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	w.size = 0

	backup := fmt.Sprintf("%s.%s", w.path, time.Now().Format(backupStamp))
	if _, err := os.Stat(w.path); err == nil {
		if err := os.Rename(w.path, backup); err != nil {
			return fmt.Errorf("rotate audit log: %w", err)
		}
	}
	w.prune()
	return nil
}

// prune removes expired and surplus backups, oldest first.
func (w *auditFile) prune() {
	backups, err := filepath.Glob(w.path + ".*")
	if err != nil || len(backups) == 0 {
		return
	}
	sort.Strings(backups)

	cutoff := time.Now().Add(-w.maxAge)
	kept := backups[:0]
	for _, path := range backups {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if w.maxAge > 0 && info.ModTime().Before(cutoff) {
			_ = os.Remove(path)
			continue
		}
		kept = append(kept, path)
	}
	if w.maxBackups > 0 && len(kept) > w.maxBackups {
		for _, path := range kept[:len(kept)-w.maxBackups] {
			_ = os.Remove(path)
		}
	}
}
