package store

import (
	"bytes"
	"context"
	"sort"
)

// Branch buffers writes over a KV so a whole transaction can be committed
// or discarded as a unit. Reads see the branch's own pending writes.
// A Branch is not safe for concurrent use.
type Branch struct {
	base    KV
	pending map[string]*Write
}

// NewBranch opens a write buffer over base.
func NewBranch(base KV) *Branch {
	return &Branch{
		base:    base,
		pending: make(map[string]*Write),
	}
}

func (b *Branch) Get(ctx context.Context, key []byte) ([]byte, error) {
	if w, ok := b.pending[string(key)]; ok {
		if w.Delete {
			return nil, ErrNotFound
		}
		return append([]byte(nil), w.Value...), nil
	}
	return b.base.Get(ctx, key)
}

func (b *Branch) Set(_ context.Context, key, value []byte) error {
	k := append([]byte(nil), key...)
	b.pending[string(key)] = &Write{Key: k, Value: append([]byte(nil), value...)}
	return nil
}

func (b *Branch) Delete(_ context.Context, key []byte) error {
	k := append([]byte(nil), key...)
	b.pending[string(key)] = &Write{Key: k, Delete: true}
	return nil
}

// Range merges the base scan with pending writes in [start, end).
func (b *Branch) Range(ctx context.Context, start, end []byte, order Order) ([]Pair, error) {
	base, err := b.base.Scan(ctx, start, end, Ascending)
	if err != nil {
		return nil, err
	}

	merged := make(map[string][]byte, len(base))
	for _, p := range base {
		merged[string(p.Key)] = p.Value
	}
	for k, w := range b.pending {
		kb := []byte(k)
		if bytes.Compare(kb, start) < 0 || (end != nil && bytes.Compare(kb, end) >= 0) {
			continue
		}
		if w.Delete {
			delete(merged, k)
			continue
		}
		merged[k] = w.Value
	}

	pairs := make([]Pair, 0, len(merged))
	for k, v := range merged {
		pairs = append(pairs, Pair{Key: []byte(k), Value: append([]byte(nil), v...)})
	}
	sortPairs(pairs, order)
	return pairs, nil
}

// Writes returns the pending batch in key order.
func (b *Branch) Writes() []Write {
	writes := make([]Write, 0, len(b.pending))
	for _, w := range b.pending {
		writes = append(writes, *w)
	}
	sort.Slice(writes, func(i, j int) bool {
		return bytes.Compare(writes[i].Key, writes[j].Key) < 0
	})
	return writes
}

// Commit applies all pending writes to the base atomically and resets the
// branch.
func (b *Branch) Commit(ctx context.Context) error {
	if err := b.base.Apply(ctx, b.Writes()); err != nil {
		return err
	}
	b.pending = make(map[string]*Write)
	return nil
}

// Discard drops all pending writes.
func (b *Branch) Discard() {
	b.pending = make(map[string]*Write)
}
