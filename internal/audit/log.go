package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Thinkelution/devlution/internal/logging"
)

// DefaultPath is where the audit log lives relative to the project root.
const DefaultPath = ".devlution/audit.jsonl"

// maxLineBytes bounds a single audit line when reading.
const maxLineBytes = 4 * 1024 * 1024

// Log is a file-backed append-only audit log. One Log value should be shared
// per file within a process; appends are serialized by its mutex and written
// with O_APPEND so every line lands whole.
type Log struct {
	path    string
	mu      sync.RWMutex
	mirrors []Mirror
	logger  *logging.Logger
	now     func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithMirrors adds secondary sinks that receive each entry after the append.
func WithMirrors(m ...Mirror) Option {
	return func(l *Log) { l.mirrors = append(l.mirrors, m...) }
}

// WithLogger sets the logger used to report mirror failures.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// WithClock overrides the timestamp source (for testing).
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// Open returns a Log writing to path, creating parent directories.
func Open(path string, opts ...Option) (*Log, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir audit dir: %w", err)
	}
	l := &Log{path: path, logger: logging.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Path returns the file backing the log.
func (l *Log) Path() string {
	return l.path
}

// Record timestamps e and appends it as one JSON line, synced to disk before
// returning. Mirrors are fed afterwards; their failures are logged, not returned.
func (l *Log) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.Actor == "" || e.Action == "" {
		return Entry{}, fmt.Errorf("audit entry requires actor and action")
	}
	e.Timestamp = l.now().UTC().Format(time.RFC3339Nano)
	if len(e.Details) == 0 {
		e.Details = nil
	}

	line, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal audit entry: %w", err)
	}
	line = append(line, '\n')

	if err := l.appendLine(line); err != nil {
		return Entry{}, err
	}

	for _, m := range l.mirrors {
		if err := m.Mirror(ctx, e); err != nil {
			l.logger.Warn(ctx, "audit mirror failed",
				zap.String("actor", e.Actor),
				zap.String("action", e.Action),
				zap.Error(err))
		}
	}
	return e, nil
}

func (l *Log) appendLine(line []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("append audit entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync audit log: %w", err)
	}
	return f.Close()
}

// ReadOpts narrows a Read. Zero values mean "all".
type ReadOpts struct {
	LastN int
	RunID string
}

// Read returns entries in append order, filtered by run id first and then
// truncated to the last LastN matches. A missing log reads as empty.
func (l *Log) Read(opts ReadOpts) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	entries := []Entry{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("audit log line %d: %w", lineNo, err)
		}
		if opts.RunID != "" && e.RunID != opts.RunID {
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}

	if opts.LastN > 0 && len(entries) > opts.LastN {
		entries = entries[len(entries)-opts.LastN:]
	}
	return entries, nil
}

// Clear truncates the whole log. Intended for test isolation only.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.Truncate(l.path, 0); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear audit log: %w", err)
	}
	return nil
}
