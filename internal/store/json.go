package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// LoadJSON reads key from st and decodes it into out.
func LoadJSON(ctx context.Context, st Storage, key []byte, out any) error {
	data, err := st.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %q: %w", key, err)
	}
	return nil
}

// MaybeLoadJSON is LoadJSON that reports absence as (false, nil).
func MaybeLoadJSON(ctx context.Context, st Storage, key []byte, out any) (bool, error) {
	err := LoadJSON(ctx, st, key, out)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// SaveJSON encodes v and writes it under key.
func SaveJSON(ctx context.Context, st Storage, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return st.Set(ctx, key, data)
}
