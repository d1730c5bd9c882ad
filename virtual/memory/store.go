package memory

import (
	"context"
	"sync"

	"github.com/pixelvault/moderation-server/virtual"
)

// Store is an in-memory virtual.Store for tests.
type Store struct {
	mu      sync.Mutex
	orders  map[string][]string // ownerID/jobID -> record ids in upload order
	applied map[string][]*virtual.ImageUpdate
	err     error
}

func NewInMemory() *Store {
	return &Store{
		orders:  make(map[string][]string),
		applied: make(map[string][]*virtual.ImageUpdate),
	}
}

func key(ownerID, jobID string) string {
	return ownerID + "/" + jobID
}

// SetUploadOrder seeds the correlation table for a job.
func (s *Store) SetUploadOrder(ownerID, jobID string, recordIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders[key(ownerID, jobID)] = recordIDs
}

// FailWith makes every call return err until cleared with FailWith(nil).
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.err = err
}

// Applied returns the updates received for a job.
func (s *Store) Applied(ownerID, jobID string) []*virtual.ImageUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.applied[key(ownerID, jobID)]
}

func (s *Store) GetUploadOrder(ctx context.Context, ownerID, jobID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}

	order, ok := s.orders[key(ownerID, jobID)]
	if !ok {
		return nil, virtual.ErrOrderUnavailable
	}
	return order, nil
}

func (s *Store) BulkUpdate(ctx context.Context, ownerID, jobID string, updates []*virtual.ImageUpdate) (*virtual.BulkUpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}

	k := key(ownerID, jobID)
	s.applied[k] = append(s.applied[k], updates...)
	return &virtual.BulkUpdateResult{Processed: len(updates)}, nil
}
