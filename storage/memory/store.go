package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/pixelvault/moderation-server/storage"
)

const defaultPageSize = 1000

// Store is an in-memory storage.Store. Listings are paged so callers
// exercise the same continuation behavior as the real object store.
type Store struct {
	mu       sync.Mutex
	buckets  map[string]map[string][]byte
	pageSize int

	// ops journals mutating calls in order, for tests asserting that every
	// object delete happens before the bucket delete.
	ops []string
}

func NewInMemory() *Store {
	return NewInMemoryWithPageSize(defaultPageSize)
}

func NewInMemoryWithPageSize(pageSize int) *Store {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Store{
		buckets:  make(map[string]map[string][]byte),
		pageSize: pageSize,
	}
}

func (s *Store) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buckets = make(map[string]map[string][]byte)
	s.ops = nil
}

// Operations returns the journal of mutating calls.
func (s *Store) Operations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.ops))
	copy(out, s.ops)
	return out
}

func (s *Store) Put(ctx context.Context, bucket, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[bucket]
	if !ok {
		b = make(map[string][]byte)
		s.buckets[bucket] = b
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	b[key] = dataCopy

	s.ops = append(s.ops, "put "+bucket+"/"+key)
	return nil
}

func (s *Store) ListAll(ctx context.Context, bucket string) ([]storage.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[bucket]
	if !ok {
		return nil, storage.ErrBucketNotFound
	}
	return s.listLocked(b), nil
}

func (s *Store) listLocked(b map[string][]byte) []storage.Object {
	objects := make([]storage.Object, 0, len(b))
	for key, data := range b {
		objects = append(objects, storage.Object{Key: key, Size: int64(len(data))})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects
}

func (s *Store) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[bucket]
	if !ok {
		return nil, storage.ErrBucketNotFound
	}
	data, ok := b[key]
	if !ok {
		return nil, storage.ErrNotFound
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	return dataCopy, nil
}

func (s *Store) DeleteBucket(ctx context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[bucket]
	if !ok {
		return storage.ErrBucketNotFound
	}

	// Drain page by page, mirroring continuation-token pagination.
	for {
		objects := s.listLocked(b)
		if len(objects) == 0 {
			break
		}
		page := objects
		if len(page) > s.pageSize {
			page = page[:s.pageSize]
		}
		for _, obj := range page {
			delete(b, obj.Key)
			s.ops = append(s.ops, "delete "+bucket+"/"+obj.Key)
		}
	}

	delete(s.buckets, bucket)
	s.ops = append(s.ops, "delete-bucket "+bucket)
	return nil
}
