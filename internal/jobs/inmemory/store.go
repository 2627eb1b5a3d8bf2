package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/jobs"
)

// Store is an in-memory implementation of JobStore.
// It stores jobs in memory and is safe for concurrent use.
// Data is lost on service restart.
type Store struct {
	mu     sync.RWMutex
	jobs   map[string]*jobs.Job
	groups map[string]*jobs.Group
}

// NewStore creates a new in-memory job store.
func NewStore() *Store {
	return &Store{
		jobs:   make(map[string]*jobs.Job),
		groups: make(map[string]*jobs.Group),
	}
}

// SaveJob saves or updates a copy of job.
func (s *Store) SaveJob(ctx context.Context, job *jobs.Job) error {
	if job.JobID == "" {
		return fmt.Errorf("SaveJob: job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	jobCopy := *job
	s.jobs[job.JobID] = &jobCopy
	return nil
}

// GetJob retrieves a copy of a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("GetJob: job %s: %w", jobID, domain.ErrNotFound)
	}
	jobCopy := *job
	return &jobCopy, nil
}

// ListJobs returns matching jobs ordered by creation time.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*jobs.Job{}
	for _, job := range s.jobs {
		if filter.GroupID != "" && job.GroupID != filter.GroupID {
			continue
		}
		if filter.OwnerID != "" && job.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Kind != "" && job.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		jobCopy := *job
		result = append(result, &jobCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].JobID < result[j].JobID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.Job{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// SaveGroup saves a copy of group.
func (s *Store) SaveGroup(ctx context.Context, group *jobs.Group) error {
	if group.GroupID == "" {
		return fmt.Errorf("SaveGroup: group ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	groupCopy := *group
	groupCopy.JobIDs = append([]string(nil), group.JobIDs...)
	s.groups[group.GroupID] = &groupCopy
	return nil
}

// GetGroup retrieves a copy of a group by ID.
func (s *Store) GetGroup(ctx context.Context, groupID string) (*jobs.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group, exists := s.groups[groupID]
	if !exists {
		return nil, fmt.Errorf("GetGroup: group %s: %w", groupID, domain.ErrNotFound)
	}
	groupCopy := *group
	groupCopy.JobIDs = append([]string(nil), group.JobIDs...)
	return &groupCopy, nil
}

// GroupProgress folds the group's jobs into a progress report.
func (s *Store) GroupProgress(ctx context.Context, groupID string) (*jobs.GroupProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group, exists := s.groups[groupID]
	if !exists {
		return nil, fmt.Errorf("GroupProgress: group %s: %w", groupID, domain.ErrNotFound)
	}

	members := make([]*jobs.Job, 0, len(group.JobIDs))
	for _, id := range group.JobIDs {
		if job, ok := s.jobs[id]; ok {
			members = append(members, job)
		}
	}
	return jobs.Progress(group, members), nil
}

// Ensure Store implements JobStore interface.
var _ jobs.JobStore = (*Store)(nil)
