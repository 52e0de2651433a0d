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

const (
	activeLogName      = "audit.log"
	defaultMaxLogSize  = 100 * 1024 * 1024
	defaultMaxLogFiles = 10
)

// ErrLoggerClosed is returned by Log after Close
var ErrLoggerClosed = errors.New("audit logger closed")

// FileLoggerConfig configures the file logger
type FileLoggerConfig struct {
	Dir      string `yaml:"dir"`
	MaxSize  int64  `yaml:"max_size"`  // bytes before rotation, default 100MB
	MaxFiles int    `yaml:"max_files"` // rotated files kept, default 10
}

// FileLogger appends events as JSON lines to <Dir>/audit.log. Once the file
// reaches MaxSize it is renamed to audit-<timestamp>.log and a new one is
// started.
type FileLogger struct {
	dir      string
	maxSize  int64
	maxFiles int

	mu      sync.Mutex
	file    *os.File
	size    int64
	encoder *json.Encoder
}

// NewFileLogger creates Dir if needed and opens the active log file
func NewFileLogger(config FileLoggerConfig) (*FileLogger, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("audit log directory is required")
	}
	if err := os.MkdirAll(config.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	l := &FileLogger{
		dir:      config.Dir,
		maxSize:  config.MaxSize,
		maxFiles: config.MaxFiles,
	}
	if l.maxSize <= 0 {
		l.maxSize = defaultMaxLogSize
	}
	if l.maxFiles <= 0 {
		l.maxFiles = defaultMaxLogFiles
	}

	if err := l.openLocked(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) activePath() string {
	return filepath.Join(l.dir, activeLogName)
}

func (l *FileLogger) openLocked() error {
	file, err := os.OpenFile(l.activePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat audit log file: %w", err)
	}

	l.file = file
	l.size = info.Size()
	l.encoder = json.NewEncoder(&countingWriter{w: file, n: &l.size})
	return nil
}

// rotateLocked renames the active file and prunes old rotations
func (l *FileLogger) rotateLocked() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit log file: %w", err)
	}
	l.file = nil

	rotated := filepath.Join(l.dir, fmt.Sprintf("audit-%s.log", time.Now().UTC().Format("20060102T150405.000000000")))
	if err := os.Rename(l.activePath(), rotated); err != nil {
		return fmt.Errorf("failed to rotate audit log file: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(l.dir, "audit-*.log"))
	if err != nil {
		return err
	}
	// Timestamped names sort oldest first.
	sort.Strings(files)
	for len(files) > l.maxFiles {
		if err := os.Remove(files[0]); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove old audit log: %w", err)
		}
		files = files[1:]
	}

	return l.openLocked()
}

// Log appends event to the active file, rotating first when it is full
func (l *FileLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return ErrLoggerClosed
	}
	if l.size >= l.maxSize {
		if err := l.rotateLocked(); err != nil {
			return err
		}
	}
	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

// Close closes the active file
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadLogs returns up to count events from the active file, oldest first.
// count <= 0 reads all of them.
func (l *FileLogger) ReadLogs(count int) ([]*Event, error) {
	file, err := os.Open(l.activePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	var events []*Event
	decoder := json.NewDecoder(file)
	for count <= 0 || len(events) < count {
		var event Event
		if err := decoder.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode audit log entry: %w", err)
		}
		events = append(events, &event)
	}
	return events, nil
}

type countingWriter struct {
	w io.Writer
	n *int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	*c.n += int64(n)
	return n, err
}
