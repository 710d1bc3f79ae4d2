package keys

// Package keys centralizes Redis key construction.
// It is kept in internal to avoid leaking key formats to public API.
// All keys share one hash tag so multi-key operations stay on a single
// cluster slot.

const prefix = "agentpay:{tasks}:"

// Task returns the primary record key for a task id (string, JSON value).
func Task(id string) string { return prefix + "task:" + id }

// Status returns the per-status index key (ZSET of task ids scored by updatedAt ms).
func Status(s string) string { return prefix + "status:" + s }

// Sender returns the per-sender index key (ZSET of task ids scored by createdAt ms).
func Sender(id string) string { return prefix + "sender:" + id }

// Created is the creation-order index (ZSET of task ids scored by createdAt ms).
const Created = prefix + "created"

// Queue holds the precomputed work-queue keys to avoid repeated concatenations.
type Queue struct {
	Pending string // LIST of envelope JSON
	Active  string // ZSET of envelope JSON scored by visibility deadline
	Delayed string // ZSET of envelope JSON scored by retry-due time
	Dead    string // LIST of envelope JSON that exhausted retries
}

// WorkQueue returns the key set for the paid-task work queue.
func WorkQueue() Queue {
	const qprefix = "agentpay:{queue}:"
	return Queue{
		Pending: qprefix + "pending",
		Active:  qprefix + "active",
		Delayed: qprefix + "delayed",
		Dead:    qprefix + "dead",
	}
}
