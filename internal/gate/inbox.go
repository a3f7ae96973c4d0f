package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/Thinkelution/devlution/internal/pipeline"
)

// Inbox holds externally submitted gate decisions until a run consumes them.
// Take is destructive: a submission is returned at most once.
type Inbox interface {
	Put(ctx context.Context, runID string, d pipeline.GateDecision) error
	Take(ctx context.Context, runID, gateID string) (*pipeline.GateDecision, error)
}

// MemoryInbox is an in-process Inbox.
type MemoryInbox struct {
	mu      sync.Mutex
	pending map[string]pipeline.GateDecision
}

func NewMemoryInbox() *MemoryInbox {
	return &MemoryInbox{pending: make(map[string]pipeline.GateDecision)}
}

func inboxKey(runID, gateID string) string { return runID + "/" + gateID }

func (m *MemoryInbox) Put(_ context.Context, runID string, d pipeline.GateDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[inboxKey(runID, d.GateID)] = d
	return nil
}

func (m *MemoryInbox) Take(_ context.Context, runID, gateID string) (*pipeline.GateDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := inboxKey(runID, gateID)
	d, ok := m.pending[k]
	if !ok {
		return nil, nil
	}
	delete(m.pending, k)
	return &d, nil
}

// FileInbox stores submissions as JSON files under
// <dir>/<runID>/gates/<gateID>.json so a CLI invocation in one process can
// feed a run parked by another.
type FileInbox struct {
	dir string
}

func NewFileInbox(dir string) *FileInbox {
	return &FileInbox{dir: dir}
}

func (f *FileInbox) path(runID, gateID string) string {
	return filepath.Join(f.dir, runID, "gates", gateID+".json")
}

func (f *FileInbox) Put(_ context.Context, runID string, d pipeline.GateDecision) error {
	if runID == "" || d.GateID == "" || filepath.Base(d.GateID) != d.GateID {
		return fmt.Errorf("invalid inbox key %q/%q", runID, d.GateID)
	}
	return pipeline.WriteJSON(f.path(runID, d.GateID), d)
}

// Take claims the file by renaming it first, so two concurrent takers
// cannot both read the same submission.
func (f *FileInbox) Take(_ context.Context, runID, gateID string) (*pipeline.GateDecision, error) {
	src := f.path(runID, gateID)
	claimed := fmt.Sprintf("%s.taken.%d", src, os.Getpid())
	if err := os.Rename(src, claimed); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim gate submission: %w", err)
	}
	defer os.Remove(claimed)

	var d pipeline.GateDecision
	if err := pipeline.ReadJSON(claimed, &d); err != nil {
		return nil, fmt.Errorf("read gate submission: %w", err)
	}
	return &d, nil
}

// RedisInbox keeps submissions in Redis and consumes them with GETDEL.
type RedisInbox struct {
	client *redis.Client
	prefix string
}

// NewRedisInbox connects using a redis:// URL.
func NewRedisInbox(url string) (*RedisInbox, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisInbox{client: redis.NewClient(opts), prefix: "devlution:gate:"}, nil
}

// Ping checks connectivity.
func (r *RedisInbox) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisInbox) Close() error {
	return r.client.Close()
}

func (r *RedisInbox) key(runID, gateID string) string {
	return r.prefix + runID + ":" + gateID
}

func (r *RedisInbox) Put(ctx context.Context, runID string, d pipeline.GateDecision) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal gate decision: %w", err)
	}
	if err := r.client.Set(ctx, r.key(runID, d.GateID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisInbox) Take(ctx context.Context, runID, gateID string) (*pipeline.GateDecision, error) {
	data, err := r.client.GetDel(ctx, r.key(runID, gateID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis getdel: %w", err)
	}
	var d pipeline.GateDecision
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode gate decision: %w", err)
	}
	return &d, nil
}
