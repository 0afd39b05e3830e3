package store

import "context"

// Prefixed partitions a Storage so that all keys live under prefix.
// Each contract gets its own partition.
type Prefixed struct {
	inner  Storage
	prefix []byte
}

// NewPrefixed wraps inner with the given key prefix.
func NewPrefixed(inner Storage, prefix []byte) *Prefixed {
	return &Prefixed{inner: inner, prefix: append([]byte(nil), prefix...)}
}

func (p *Prefixed) Get(ctx context.Context, key []byte) ([]byte, error) {
	return p.inner.Get(ctx, concat(p.prefix, key))
}

func (p *Prefixed) Set(ctx context.Context, key, value []byte) error {
	return p.inner.Set(ctx, concat(p.prefix, key), value)
}

func (p *Prefixed) Delete(ctx context.Context, key []byte) error {
	return p.inner.Delete(ctx, concat(p.prefix, key))
}

func (p *Prefixed) Range(ctx context.Context, start, end []byte, order Order) ([]Pair, error) {
	s := concat(p.prefix, start)
	var e []byte
	if end != nil {
		e = concat(p.prefix, end)
	} else {
		e = PrefixEnd(p.prefix)
	}
	pairs, err := p.inner.Range(ctx, s, e, order)
	if err != nil {
		return nil, err
	}
	for i := range pairs {
		pairs[i].Key = pairs[i].Key[len(p.prefix):]
	}
	return pairs, nil
}
