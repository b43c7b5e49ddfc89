package backup

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-hmrc/core"
)

// MemoryStore is an in-memory core.BackupStore for tests and local use.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]core.BackupSubmission
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: map[string]core.BackupSubmission{}}
}

func (s *MemoryStore) Create(_ context.Context, submission core.BackupSubmission) (core.BackupSubmission, error) {
	if s == nil {
		return core.BackupSubmission{}, fmt.Errorf("backup: memory store is nil")
	}
	submission.ID = strings.TrimSpace(submission.ID)
	if submission.ID == "" {
		return core.BackupSubmission{}, fmt.Errorf("backup: submission id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[submission.ID]; exists {
		return core.BackupSubmission{}, fmt.Errorf("backup: submission %s already exists", submission.ID)
	}
	s.items[submission.ID] = cloneSubmission(submission)
	return cloneSubmission(submission), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (core.BackupSubmission, error) {
	if s == nil {
		return core.BackupSubmission{}, fmt.Errorf("backup: memory store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	submission, ok := s.items[strings.TrimSpace(id)]
	if !ok {
		return core.BackupSubmission{}, fmt.Errorf("backup: submission %s not found", strings.TrimSpace(id))
	}
	return cloneSubmission(submission), nil
}

func (s *MemoryStore) Update(_ context.Context, submission core.BackupSubmission) (core.BackupSubmission, error) {
	if s == nil {
		return core.BackupSubmission{}, fmt.Errorf("backup: memory store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[submission.ID]; !ok {
		return core.BackupSubmission{}, fmt.Errorf("backup: submission %s not found", submission.ID)
	}
	s.items[submission.ID] = cloneSubmission(submission)
	return cloneSubmission(submission), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	if s == nil {
		return fmt.Errorf("backup: memory store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, strings.TrimSpace(id))
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter core.BackupFilter) ([]core.BackupSubmission, error) {
	if s == nil {
		return nil, fmt.Errorf("backup: memory store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []core.BackupSubmission{}
	for _, submission := range s.items {
		if filter.UserID != "" && submission.UserID != filter.UserID {
			continue
		}
		if len(filter.Statuses) > 0 && !statusIn(submission.Status, filter.Statuses) {
			continue
		}
		out = append(out, cloneSubmission(submission))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteSyncedBefore(_ context.Context, cutoff time.Time) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("backup: memory store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, submission := range s.items {
		if submission.Status == core.BackupStatusSynced && submission.UpdatedAt.Before(cutoff) {
			delete(s.items, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Stats(_ context.Context, userID string) (core.BackupStats, error) {
	if s == nil {
		return core.BackupStats{}, fmt.Errorf("backup: memory store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := core.BackupStats{ByStatus: map[core.BackupStatus]int{}}
	for _, submission := range s.items {
		if userID != "" && submission.UserID != userID {
			continue
		}
		stats.Total++
		stats.ByStatus[submission.Status]++
		if submission.Status == core.BackupStatusSynced {
			continue
		}
		if stats.OldestUnsynced == nil || submission.CreatedAt.Before(*stats.OldestUnsynced) {
			oldest := submission.CreatedAt
			stats.OldestUnsynced = &oldest
		}
	}
	return stats, nil
}

func statusIn(status core.BackupStatus, statuses []core.BackupStatus) bool {
	for _, candidate := range statuses {
		if status == candidate {
			return true
		}
	}
	return false
}

func cloneSubmission(in core.BackupSubmission) core.BackupSubmission {
	out := in
	out.Data = copyData(in.Data)
	if in.LastSyncAttempt != nil {
		at := *in.LastSyncAttempt
		out.LastSyncAttempt = &at
	}
	return out
}

var _ core.BackupStore = (*MemoryStore)(nil)
