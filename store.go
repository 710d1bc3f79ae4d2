package agentpay

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the durable record of tasks. Two implementations exist: a
// Redis-backed one and an in-process one. Which is used is decided once, at
// construction time, by the Backend probe; both expose identical behavior and
// callers must not care which mode is active.
type Store interface {
	// CreateTask persists a new task. ErrDuplicateTask if the id exists.
	CreateTask(ctx context.Context, t *Task) error
	// GetTask returns the task by id, or ErrTaskNotFound.
	GetTask(ctx context.Context, id string) (*Task, error)
	// UpdateTask applies a partial update read-merge-write atomically per task
	// and returns the updated record.
	UpdateTask(ctx context.Context, id string, u TaskUpdate) (*Task, error)
	// TasksBySender returns up to limit tasks for a sender, most recent first.
	TasksBySender(ctx context.Context, senderID string, limit int) ([]*Task, error)
	// TasksByStatus returns up to limit tasks in a status, most recently updated first.
	TasksByStatus(ctx context.Context, status Status, limit int) ([]*Task, error)
	// RecentTasks returns up to limit tasks across all senders and statuses,
	// most recently created first.
	RecentTasks(ctx context.Context, limit int) ([]*Task, error)
	// GetStats returns per-status counts, computed from index cardinalities.
	GetStats(ctx context.Context) (Stats, error)
}

// Backend is the result of the one-time probe for the external backing store.
// A nil client means fallback mode: the store and the scheduler run on
// in-process structures for the remainder of the process lifetime.
type Backend struct {
	rdb redis.UniversalClient
}

// NewBackend wraps an existing Redis client. Used by tests and by callers
// that manage their own connection.
func NewBackend(rdb redis.UniversalClient) *Backend { return &Backend{rdb: rdb} }

// Connect probes the backing store at the given URL. Any failure, from an
// empty URL to an unreachable server, selects fallback mode; it is logged but
// never surfaced as an error.
func Connect(redisURL string, log Logger) *Backend {
	log = orNoop(log)
	if redisURL == "" {
		log.Warnf("no backing store configured; using in-memory fallback")
		return &Backend{}
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Warnf("invalid backing store url: %v; using in-memory fallback", err)
		return &Backend{}
	}
	rdb := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		log.Warnf("backing store unreachable: %v; using in-memory fallback", err)
		return &Backend{}
	}
	log.Infof("backing store connected: %s", opt.Addr)
	return &Backend{rdb: rdb}
}

// Fallback reports whether the probe selected the in-process mode.
func (b *Backend) Fallback() bool { return b.rdb == nil }

// Close releases the underlying connection, if any.
func (b *Backend) Close() error {
	if b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

// NewStore returns the store implementation matching the backend mode.
func NewStore(b *Backend, log Logger) Store {
	if b.Fallback() {
		return newMemStore()
	}
	return newRedisStore(b.rdb, orNoop(log))
}
