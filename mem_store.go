package agentpay

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore is the in-process fallback implementation of Store. It keeps the
// same shape as the Redis mode: one primary record per task plus by-status,
// by-sender and creation-order indices, so the two modes stay observably
// equivalent.
type memStore struct {
	mu       sync.RWMutex
	tasks    map[string]*Task
	byStatus map[Status]map[string]struct{}
	bySender map[string]map[string]struct{}
	created  []string
}

func newMemStore() *memStore {
	s := &memStore{
		tasks:    make(map[string]*Task),
		byStatus: make(map[Status]map[string]struct{}),
		bySender: make(map[string]map[string]struct{}),
	}
	for _, st := range AllStatuses {
		s.byStatus[st] = make(map[string]struct{})
	}
	return s
}

func (s *memStore) CreateTask(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return ErrDuplicateTask
	}
	rec := t.Clone()
	s.tasks[rec.ID] = rec
	s.byStatus[rec.Status][rec.ID] = struct{}{}
	if rec.SenderID != "" {
		if s.bySender[rec.SenderID] == nil {
			s.bySender[rec.SenderID] = make(map[string]struct{})
		}
		s.bySender[rec.SenderID][rec.ID] = struct{}{}
	}
	s.created = append(s.created, rec.ID)
	return nil
}

func (s *memStore) GetTask(_ context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.Clone(), nil
}

func (s *memStore) UpdateTask(_ context.Context, id string, u TaskUpdate) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	old := t.Status
	if err := u.apply(t, time.Now().UTC()); err != nil {
		return nil, err
	}
	if t.Status != old {
		delete(s.byStatus[old], id)
		s.byStatus[t.Status][id] = struct{}{}
	}
	return t.Clone(), nil
}

func (s *memStore) TasksBySender(_ context.Context, senderID string, limit int) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.bySender[senderID]
	out := make([]*Task, 0, len(ids))
	for id := range ids {
		out = append(out, s.tasks[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return clip(out, limit), nil
}

func (s *memStore) TasksByStatus(_ context.Context, status Status, limit int) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byStatus[status]
	out := make([]*Task, 0, len(ids))
	for id := range ids {
		out = append(out, s.tasks[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return clip(out, limit), nil
}

func (s *memStore) RecentTasks(_ context.Context, limit int) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Task, 0, len(s.created))
	for _, id := range s.created {
		out = append(out, s.tasks[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return clip(out, limit), nil
}

func (s *memStore) GetStats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Pending:    int64(len(s.byStatus[StatusPendingPayment])),
		Paid:       int64(len(s.byStatus[StatusPaid])),
		InProgress: int64(len(s.byStatus[StatusInProgress])),
		Completed:  int64(len(s.byStatus[StatusCompleted])),
		Failed:     int64(len(s.byStatus[StatusFailed])),
	}, nil
}

func clip(ts []*Task, limit int) []*Task {
	if limit > 0 && len(ts) > limit {
		return ts[:limit]
	}
	return ts
}
