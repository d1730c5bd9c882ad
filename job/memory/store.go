package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pixelvault/moderation-server/job"
)

type store struct {
	mu   sync.Mutex
	data map[string]*job.Job
}

func NewInMemory() job.Store {
	return &store{
		data: make(map[string]*job.Job),
	}
}

func (s *store) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string]*job.Job)
}

func (s *store) CreateJob(ctx context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.data[j.ID]; found {
		return job.ErrExists
	}
	s.data[j.ID] = j.Clone()
	return nil
}

func (s *store) GetJob(ctx context.Context, id string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, found := s.data[id]
	if !found {
		return nil, job.ErrNotFound
	}
	return j.Clone(), nil
}

func (s *store) SetExternalJob(ctx context.Context, id, externalJobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, found := s.data[id]
	if !found {
		return job.ErrNotFound
	}
	j.ExternalJobID = externalJobID
	return nil
}

func (s *store) AdvanceStatus(ctx context.Context, id string, from, to job.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, found := s.data[id]
	if !found {
		return job.ErrNotFound
	}
	if j.Status != from || !job.CanAdvance(from, to) {
		return job.ErrInvalidTransition
	}
	j.Status = to
	return nil
}

func (s *store) TryMarkCompleted(ctx context.Context, id string, processedImages, nsfwDetected int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, found := s.data[id]
	if !found {
		return false, job.ErrNotFound
	}
	if j.Status != job.StatusProcessing {
		return false, nil
	}

	now := time.Now()
	j.Status = job.StatusCompleted
	j.ProcessedImages = processedImages
	j.NSFWDetected = nsfwDetected
	j.CompletedAt = &now
	return true, nil
}

func (s *store) MarkFailed(ctx context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, found := s.data[id]
	if !found {
		return job.ErrNotFound
	}
	if j.Status.Terminal() {
		return job.ErrInvalidTransition
	}
	j.Status = job.StatusFailed
	j.ErrorMessage = message
	return nil
}
