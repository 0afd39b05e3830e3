package store

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

// MemoryStore implements KV with an in-memory map. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

func (s *MemoryStore) Get(_ context.Context, key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) Scan(_ context.Context, start, end []byte, order Order) ([]Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pairs []Pair
	for k, v := range s.data {
		kb := []byte(k)
		if bytes.Compare(kb, start) < 0 {
			continue
		}
		if end != nil && bytes.Compare(kb, end) >= 0 {
			continue
		}
		pairs = append(pairs, Pair{Key: kb, Value: append([]byte(nil), v...)})
	}
	sortPairs(pairs, order)
	return pairs, nil
}

func (s *MemoryStore) Apply(_ context.Context, writes []Write) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range writes {
		if w.Delete {
			delete(s.data, string(w.Key))
			continue
		}
		s.data[string(w.Key)] = append([]byte(nil), w.Value...)
	}
	return nil
}

// Len returns the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func sortPairs(pairs []Pair, order Order) {
	sort.Slice(pairs, func(i, j int) bool {
		c := bytes.Compare(pairs[i].Key, pairs[j].Key)
		if order == Descending {
			return c > 0
		}
		return c < 0
	})
}
