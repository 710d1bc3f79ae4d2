package agentpay

import (
	"context"
	"strconv"
	"sync"
	"time"

	ikeys "github.com/agentpay/agentpay-go/internal/keys"
	"github.com/redis/go-redis/v9"
)

// Handler processes one paid task. The task is looked up fresh from the store
// at dequeue time, never trusted from enqueue time.
type Handler func(ctx context.Context, task *Task) error

// envelope is what travels through the queue: just the id and the attempt
// count. The task record itself stays in the store.
type envelope struct {
	TaskID  string `json:"taskId"`
	Attempt int    `json:"attempt"`
}

type schedulerOptions struct {
	concurrency   int
	maxAttempts   int
	visibilityTTL time.Duration
	pollInterval  time.Duration
}

// SchedulerOption configures a Scheduler at construction.
type SchedulerOption func(*schedulerOptions)

// WithConcurrency sets the worker-pool size (default 3).
func WithConcurrency(n int) SchedulerOption {
	return func(o *schedulerOptions) { o.concurrency = n }
}

// WithMaxAttempts sets how many handler invocations a task gets before it is
// dead-lettered (default 3).
func WithMaxAttempts(n int) SchedulerOption {
	return func(o *schedulerOptions) { o.maxAttempts = n }
}

// WithVisibilityTTL sets how long a dequeued envelope is leased to a worker
// before it is reclaimed (default 1 minute).
func WithVisibilityTTL(d time.Duration) SchedulerOption {
	return func(o *schedulerOptions) { o.visibilityTTL = d }
}

// WithPollInterval sets the fallback-mode queue poll tick (default 500ms).
func WithPollInterval(d time.Duration) SchedulerOption {
	return func(o *schedulerOptions) { o.pollInterval = d }
}

// dequeueScript atomically moves one envelope from pending to active with a
// visibility deadline score.
var dequeueScript = redis.NewScript(`
local v = redis.call('RPOP', KEYS[1])
if not v then return false end
redis.call('ZADD', KEYS[2], ARGV[1], v)
return v
`)

// moveDueScript atomically moves one due member from a ZSET (delayed or
// active) back to the pending list.
var moveDueScript = redis.NewScript(`
local zkey = KEYS[1]
local pkey = KEYS[2]
local now  = ARGV[1]
local items = redis.call('ZRANGEBYSCORE', zkey, '-inf', now, 'LIMIT', 0, 1)
if #items == 0 then return false end
local m = items[1]
local rem = redis.call('ZREM', zkey, m)
if rem == 1 then
  redis.call('LPUSH', pkey, m)
  return m
end
return false
`)

// Scheduler dispatches paid tasks to the processing handler with bounded
// concurrency. In Redis mode failures are retried with exponential backoff up
// to a bounded attempt count; in fallback mode a fixed-interval poller
// delivers each envelope once, with no retry.
type Scheduler struct {
	rdb   redis.UniversalClient // nil in fallback mode
	store Store
	enc   Encoder
	keys  ikeys.Queue
	opts  schedulerOptions
	log   Logger

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	handler Handler

	fmu    sync.Mutex
	fqueue []envelope
}

// NewScheduler creates a scheduler on the given backend. Fallback mode is
// inherited from the backend probe, so the store and the queue degrade
// together.
func NewScheduler(b *Backend, store Store, log Logger, opts ...SchedulerOption) *Scheduler {
	o := schedulerOptions{
		concurrency:   3,
		maxAttempts:   3,
		visibilityTTL: time.Minute,
		pollInterval:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		rdb:    b.rdb,
		store:  store,
		enc:    &JSONEncoder{},
		keys:   ikeys.WorkQueue(),
		opts:   o,
		log:    orNoop(log),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Fallback reports whether the scheduler runs without a queue backend.
func (s *Scheduler) Fallback() bool { return s.rdb == nil }

// Enqueue places a task id into the work queue.
func (s *Scheduler) Enqueue(ctx context.Context, taskID string) error {
	env := envelope{TaskID: taskID}
	if s.rdb == nil {
		s.fmu.Lock()
		s.fqueue = append(s.fqueue, env)
		s.fmu.Unlock()
		return nil
	}
	raw, err := s.enc.Encode(env)
	if err != nil {
		return err
	}
	return s.rdb.LPush(ctx, s.keys.Pending, raw).Err()
}

// StartProcessor begins consuming the queue with the given handler. It is
// idempotent and non-blocking.
func (s *Scheduler) StartProcessor(handler Handler) {
	s.mu.Lock()
	if s.started {
		s.log.Warnf("scheduler already started; ignoring StartProcessor()")
		s.mu.Unlock()
		return
	}
	s.started = true
	s.handler = handler
	s.mu.Unlock()

	if s.rdb == nil {
		s.log.Infof("scheduler starting in fallback mode: poll=%s", s.opts.pollInterval)
		s.wg.Add(1)
		go s.pollLoop()
		return
	}

	s.log.Infof("scheduler starting: concurrency=%d maxAttempts=%d", s.opts.concurrency, s.opts.maxAttempts)
	for i := 0; i < s.opts.concurrency; i++ {
		s.wg.Add(1)
		go s.workerLoop()
	}
	// Backoff mover: due delayed envelopes go back to pending.
	s.wg.Add(1)
	go s.moveLoop(s.keys.Delayed, 100*time.Millisecond)
	// Visibility reclaimer: expired active envelopes go back to pending.
	s.wg.Add(1)
	go s.moveLoop(s.keys.Active, 200*time.Millisecond)
}

// Stop cancels the internal context and waits for all goroutines to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.log.Warnf("scheduler not started; ignoring Stop()")
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) workerLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		raw := s.dequeue()
		if raw == nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		var env envelope
		if err := s.enc.Decode(raw, &env); err != nil {
			s.log.Errorf("malformed queue envelope; dropping: %v", err)
			s.ack(raw)
			continue
		}

		task, err := s.store.GetTask(s.ctx, env.TaskID)
		if err != nil {
			// Record missing or store down: infrastructure-level, retried.
			s.retryOrDead(env, raw, err.Error())
			continue
		}
		if err := s.handler(s.ctx, task); err != nil {
			s.retryOrDead(env, raw, err.Error())
			continue
		}
		s.ack(raw)
		s.log.Debugf("processed: id=%s attempt=%d", env.TaskID, env.Attempt)
	}
}

func (s *Scheduler) dequeue() []byte {
	deadline := strconv.FormatInt(time.Now().Add(s.opts.visibilityTTL).Unix(), 10)
	res, err := dequeueScript.Run(s.ctx, s.rdb, []string{s.keys.Pending, s.keys.Active}, deadline).Result()
	if err == redis.Nil || res == nil {
		return nil
	}
	if err != nil {
		s.log.Warnf("dequeue failed: %v", err)
		return nil
	}
	switch v := res.(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return nil
	}
}

func (s *Scheduler) ack(raw []byte) {
	if err := s.rdb.ZRem(s.ctx, s.keys.Active, raw).Err(); err != nil {
		s.log.Errorf("ack failed: %v", err)
	}
}

// retryOrDead re-enqueues the envelope into the delayed ZSET with exponential
// backoff, or dead-letters it once attempts are exhausted. Retries re-invoke
// the handler; they carry no business meaning.
func (s *Scheduler) retryOrDead(env envelope, raw []byte, reason string) {
	env.Attempt++
	if env.Attempt >= s.opts.maxAttempts {
		_, err := s.rdb.TxPipelined(s.ctx, func(p redis.Pipeliner) error {
			p.ZRem(s.ctx, s.keys.Active, raw)
			p.LPush(s.ctx, s.keys.Dead, raw)
			return nil
		})
		if err != nil {
			s.log.Errorf("deadletter failed: id=%s err=%v", env.TaskID, err)
		} else {
			s.log.Warnf("dead: id=%s attempts=%d reason=%s", env.TaskID, env.Attempt, reason)
		}
		return
	}
	newRaw, _ := s.enc.Encode(env)
	next := time.Now().Add(time.Second * time.Duration(1<<env.Attempt)).Unix()
	_, err := s.rdb.TxPipelined(s.ctx, func(p redis.Pipeliner) error {
		p.ZRem(s.ctx, s.keys.Active, raw)
		p.ZAdd(s.ctx, s.keys.Delayed, redis.Z{Score: float64(next), Member: newRaw})
		return nil
	})
	if err != nil {
		s.log.Errorf("retry transition failed: id=%s err=%v", env.TaskID, err)
	} else {
		s.log.Warnf("retrying: id=%s attempt=%d reason=%s", env.TaskID, env.Attempt, reason)
	}
}

func (s *Scheduler) moveLoop(zkey string, tick time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			now := strconv.FormatInt(time.Now().Unix(), 10)
			for i := 0; i < 256; i++ {
				res, err := moveDueScript.Run(s.ctx, s.rdb, []string{zkey, s.keys.Pending}, now).Result()
				if err == redis.Nil || res == nil || res == false {
					break
				}
				if err != nil {
					s.log.Warnf("mover: script failed key=%s err=%v", zkey, err)
					break
				}
			}
		}
	}
}

// pollLoop is the fallback-mode consumer: one envelope per tick, single
// delivery, no backoff.
func (s *Scheduler) pollLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.fmu.Lock()
			if len(s.fqueue) == 0 {
				s.fmu.Unlock()
				continue
			}
			env := s.fqueue[0]
			s.fqueue = s.fqueue[1:]
			s.fmu.Unlock()

			task, err := s.store.GetTask(s.ctx, env.TaskID)
			if err != nil {
				s.log.Errorf("fallback: task %s lookup failed: %v", env.TaskID, err)
				continue
			}
			if err := s.handler(s.ctx, task); err != nil {
				s.log.Errorf("fallback: task %s handler failed: %v", env.TaskID, err)
			}
		}
	}
}
