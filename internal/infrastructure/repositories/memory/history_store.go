package memory

import (
	"context"
	"sync"

	"cdnpulse/internal/core/ports"
)

// MemoryHistoryStore is an in-process list store with Redis list index
// semantics: Push prepends, ranges are inclusive and negative indexes count
// from the tail.
type MemoryHistoryStore struct {
	lists map[string][][]byte
	mu    sync.RWMutex
}

func NewMemoryHistoryStore() ports.HistoryStore {
	return &MemoryHistoryStore{
		lists: make(map[string][][]byte),
	}
}

func (s *MemoryHistoryStore) Push(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := make([]byte, len(value))
	copy(entry, value)
	s.lists[key] = append([][]byte{entry}, s.lists[key]...)
	return nil
}

func (s *MemoryHistoryStore) TrimTo(ctx context.Context, key string, start, stop int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[key]
	lo, hi, ok := resolveRange(int64(len(list)), start, stop)
	if !ok {
		delete(s.lists, key)
		return nil
	}
	s.lists[key] = append([][]byte(nil), list[lo:hi]...)
	return nil
}

func (s *MemoryHistoryStore) Range(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.lists[key]
	lo, hi, ok := resolveRange(int64(len(list)), start, stop)
	if !ok {
		return [][]byte{}, nil
	}
	out := make([][]byte, 0, hi-lo)
	for _, v := range list[lo:hi] {
		entry := make([]byte, len(v))
		copy(entry, v)
		out = append(out, entry)
	}
	return out, nil
}

func (s *MemoryHistoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lists, key)
	return nil
}

func (s *MemoryHistoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// resolveRange converts inclusive, possibly negative indexes into a
// half-open slice range. ok is false when the range is empty.
func resolveRange(n, start, stop int64) (lo, hi int64, ok bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop + 1, true
}
