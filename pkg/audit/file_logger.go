package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const activeLogName = "audit.log"

// FileLogger appends audit events as JSON lines, rotating by size
type FileLogger struct {
	basePath string
	maxSize  int64
	maxFiles int

	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// FileLoggerConfig configures the file logger
type FileLoggerConfig struct {
	BasePath string // Directory holding audit.log and rotated files
	MaxSize  int64  // Rotate when audit.log reaches this size (default: 100MB)
	MaxFiles int    // Rotated files to keep (default: 10)
}

// NewFileLogger creates the directory if needed and opens audit.log for append
func NewFileLogger(config FileLoggerConfig) (*FileLogger, error) {
	if config.BasePath == "" {
		return nil, errors.New("audit log directory is required")
	}
	if err := os.MkdirAll(config.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	l := &FileLogger{
		basePath: config.BasePath,
		maxSize:  config.MaxSize,
		maxFiles: config.MaxFiles,
	}
	if l.maxSize <= 0 {
		l.maxSize = 100 * 1024 * 1024
	}
	if l.maxFiles <= 0 {
		l.maxFiles = 10
	}

	if err := l.openLogFile(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) activePath() string {
	return filepath.Join(l.basePath, activeLogName)
}

func (l *FileLogger) openLogFile() error {
	file, err := os.OpenFile(l.activePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	l.file = file
	l.encoder = json.NewEncoder(file)
	return nil
}

// rotate renames audit.log aside, reopens a fresh one and prunes old files.
// Callers hold l.mu.
func (l *FileLogger) rotate() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	rotated := filepath.Join(l.basePath,
		fmt.Sprintf("audit-%s.log", time.Now().UTC().Format("20060102T150405.000000000")))
	if err := os.Rename(l.activePath(), rotated); err != nil {
		return fmt.Errorf("failed to rename log file: %w", err)
	}
	if err := l.openLogFile(); err != nil {
		return err
	}
	return l.cleanupOldFiles()
}

func (l *FileLogger) cleanupOldFiles() error {
	files, err := filepath.Glob(filepath.Join(l.basePath, "audit-*.log"))
	if err != nil {
		return err
	}
	if len(files) <= l.maxFiles {
		return nil
	}

	// names embed a sortable timestamp, oldest first
	sort.Strings(files)
	for _, f := range files[:len(files)-l.maxFiles] {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove old audit log %s: %w", f, err)
		}
	}
	return nil
}

// Log appends the event to audit.log
func (l *FileLogger) Log(_ context.Context, event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return errors.New("audit file logger is closed")
	}

	if info, err := l.file.Stat(); err == nil && info.Size() >= l.maxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("failed to rotate log file: %w", err)
		}
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// Close closes the file logger
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// ReadLogs reads up to count events from audit.log; count <= 0 reads all
func (l *FileLogger) ReadLogs(count int) ([]*AuditEvent, error) {
	file, err := os.Open(l.activePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	var events []*AuditEvent
	decoder := json.NewDecoder(file)
	for {
		var event AuditEvent
		if err := decoder.Decode(&event); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to decode audit log entry: %w", err)
		}
		events = append(events, &event)

		if count > 0 && len(events) >= count {
			break
		}
	}
	return events, nil
}
