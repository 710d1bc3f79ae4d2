package agentpay

import (
	"context"
	"errors"
	"time"

	ikeys "github.com/agentpay/agentpay-go/internal/keys"
	"github.com/redis/go-redis/v9"
)

// redisStore is the Redis-backed implementation of Store.
//
// Layout: the primary record is a string key holding the task JSON; the
// secondary indices are ZSETs of task ids (status keyed by updatedAt, sender
// and created keyed by createdAt). A status change removes the id from the
// old status ZSET and adds it to the new one in the same transaction as the
// record rewrite.
type redisStore struct {
	rdb redis.UniversalClient
	enc Encoder
	log Logger
}

func newRedisStore(rdb redis.UniversalClient, log Logger) *redisStore {
	return &redisStore{rdb: rdb, enc: &JSONEncoder{}, log: log}
}

func (s *redisStore) CreateTask(ctx context.Context, t *Task) error {
	data, err := s.enc.Encode(t)
	if err != nil {
		return err
	}
	key := ikeys.Task(t.ID)
	ok, err := s.rdb.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrDuplicateTask
	}
	createdMs := float64(t.CreatedAt.UnixMilli())
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, ikeys.Status(t.Status.String()), redis.Z{Score: float64(t.UpdatedAt.UnixMilli()), Member: t.ID})
		if t.SenderID != "" {
			p.ZAdd(ctx, ikeys.Sender(t.SenderID), redis.Z{Score: createdMs, Member: t.ID})
		}
		p.ZAdd(ctx, ikeys.Created, redis.Z{Score: createdMs, Member: t.ID})
		return nil
	})
	if err != nil {
		// Roll back the record so a half-indexed task never exists.
		_ = s.rdb.Del(ctx, key).Err()
		return err
	}
	return nil
}

func (s *redisStore) GetTask(ctx context.Context, id string) (*Task, error) {
	raw, err := s.rdb.Get(ctx, ikeys.Task(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	var t Task
	if err := s.enc.Decode(raw, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// maxUpdateRetries bounds the optimistic-transaction retry loop in UpdateTask.
const maxUpdateRetries = 5

func (s *redisStore) UpdateTask(ctx context.Context, id string, u TaskUpdate) (*Task, error) {
	key := ikeys.Task(id)
	var out *Task
	for i := 0; i < maxUpdateRetries; i++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err == redis.Nil {
				return ErrTaskNotFound
			}
			if err != nil {
				return err
			}
			var t Task
			if err := s.enc.Decode(raw, &t); err != nil {
				return err
			}
			old := t.Status
			if err := u.apply(&t, time.Now().UTC()); err != nil {
				return err
			}
			data, err := s.enc.Encode(&t)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, key, data, 0)
				if t.Status != old {
					p.ZRem(ctx, ikeys.Status(old.String()), t.ID)
				}
				// ZAdd on the current status also refreshes the updatedAt score.
				p.ZAdd(ctx, ikeys.Status(t.Status.String()), redis.Z{Score: float64(t.UpdatedAt.UnixMilli()), Member: t.ID})
				return nil
			})
			if err == nil {
				out = &t
			}
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			s.log.Debugf("update conflict on task %s; retrying", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, redis.TxFailedErr
}

func (s *redisStore) TasksBySender(ctx context.Context, senderID string, limit int) ([]*Task, error) {
	return s.fetchIndex(ctx, ikeys.Sender(senderID), limit)
}

func (s *redisStore) TasksByStatus(ctx context.Context, status Status, limit int) ([]*Task, error) {
	return s.fetchIndex(ctx, ikeys.Status(status.String()), limit)
}

func (s *redisStore) RecentTasks(ctx context.Context, limit int) ([]*Task, error) {
	return s.fetchIndex(ctx, ikeys.Created, limit)
}

func (s *redisStore) fetchIndex(ctx context.Context, key string, limit int) ([]*Task, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.rdb.ZRevRange(ctx, key, 0, stop).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	out := make([]*Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.GetTask(ctx, id)
		if errors.Is(err, ErrTaskNotFound) {
			// Index ahead of a rolled-back create; skip.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *redisStore) GetStats(ctx context.Context) (Stats, error) {
	cmds := make(map[Status]*redis.IntCmd, len(AllStatuses))
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, st := range AllStatuses {
			cmds[st] = p.ZCard(ctx, ikeys.Status(st.String()))
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Pending:    cmds[StatusPendingPayment].Val(),
		Paid:       cmds[StatusPaid].Val(),
		InProgress: cmds[StatusInProgress].Val(),
		Completed:  cmds[StatusCompleted].Val(),
		Failed:     cmds[StatusFailed].Val(),
	}, nil
}
