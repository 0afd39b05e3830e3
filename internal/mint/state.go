package mint

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/atmx/mirror-engine/internal/model"
	"github.com/atmx/mirror-engine/internal/store"
)

const (
	defaultLimit = 10
	maxLimit     = 30
)

var (
	configKey      = store.Key("config")
	positionIdxKey = store.Key("position_idx")

	// marker is the value of index and flag entries.
	marker = []byte{1}
)

func assetConfigKey(token string) []byte { return store.Key("asset_config", []byte(token)) }

func positionKey(idx uint64) []byte { return store.Key("position", store.Uint64Key(idx)) }

func shortKey(idx uint64) []byte { return store.Key("short", store.Uint64Key(idx)) }

// Secondary indexes: the key is the prefix followed by the 8-byte index.
func userPrefix(owner string) []byte  { return store.Key("by_user", []byte(owner), nil) }
func assetPrefix(token string) []byte { return store.Key("by_asset", []byte(token), nil) }

func loadConfig(ctx context.Context, st store.Storage) (Config, error) {
	var cfg Config
	if err := store.LoadJSON(ctx, st, configKey, &cfg); err != nil {
		return cfg, fmt.Errorf("mint: load config: %w", err)
	}
	return cfg, nil
}

func loadAssetConfig(ctx context.Context, st store.Storage, token string) (AssetConfig, error) {
	var ac AssetConfig
	if err := store.LoadJSON(ctx, st, assetConfigKey(token), &ac); err != nil {
		return ac, fmt.Errorf("asset config %s: %w", token, err)
	}
	return ac, nil
}

func maybeAssetConfig(ctx context.Context, st store.Storage, token string) (AssetConfig, bool, error) {
	var ac AssetConfig
	ok, err := store.MaybeLoadJSON(ctx, st, assetConfigKey(token), &ac)
	return ac, ok, err
}

func saveAssetConfig(ctx context.Context, st store.Storage, ac AssetConfig) error {
	return store.SaveJSON(ctx, st, assetConfigKey(ac.Token), ac)
}

func nextPositionIdx(ctx context.Context, st store.Storage) (uint64, error) {
	var idx uint64
	ok, err := store.MaybeLoadJSON(ctx, st, positionIdxKey, &idx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 1, nil
	}
	return idx, nil
}

func loadPosition(ctx context.Context, st store.Storage, idx uint64) (Position, error) {
	var p Position
	if err := store.LoadJSON(ctx, st, positionKey(idx), &p); err != nil {
		return p, fmt.Errorf("position %d: %w", idx, err)
	}
	return p, nil
}

// createPosition stores p under a freshly allocated index and writes both
// secondary indexes.
func createPosition(ctx context.Context, st store.Storage, p *Position, short bool) error {
	idx, err := nextPositionIdx(ctx, st)
	if err != nil {
		return err
	}
	p.Idx = idx
	if err := store.SaveJSON(ctx, st, positionIdxKey, idx+1); err != nil {
		return err
	}
	if err := savePosition(ctx, st, *p); err != nil {
		return err
	}
	if err := st.Set(ctx, indexKey(userPrefix(p.Owner), idx), marker); err != nil {
		return err
	}
	if err := st.Set(ctx, indexKey(assetPrefix(p.Asset.Info.String()), idx), marker); err != nil {
		return err
	}
	if short {
		return st.Set(ctx, shortKey(idx), marker)
	}
	return nil
}

func savePosition(ctx context.Context, st store.Storage, p Position) error {
	return store.SaveJSON(ctx, st, positionKey(p.Idx), p)
}

func removePosition(ctx context.Context, st store.Storage, p Position) error {
	for _, k := range [][]byte{
		positionKey(p.Idx),
		shortKey(p.Idx),
		indexKey(userPrefix(p.Owner), p.Idx),
		indexKey(assetPrefix(p.Asset.Info.String()), p.Idx),
	} {
		if err := st.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func isShort(ctx context.Context, st store.Storage, idx uint64) (bool, error) {
	_, err := st.Get(ctx, shortKey(idx))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func indexKey(prefix []byte, idx uint64) []byte {
	k := make([]byte, 0, len(prefix)+8)
	k = append(k, prefix...)
	return append(k, store.Uint64Key(idx)...)
}

// readPositions pages through positions whose keys live under prefix. When
// indexed is set the values are index markers and each position is
// loaded by the index decoded from the key suffix.
func readPositions(ctx context.Context, st store.Storage, prefix []byte, indexed bool, q *PositionsQuery) ([]PositionResponse, error) {
	limit := defaultLimit
	if q.Limit != nil {
		limit = min(int(*q.Limit), maxLimit)
	}
	order := model.OrderDesc
	if q.OrderBy != nil {
		if err := q.OrderBy.Validate(); err != nil {
			return nil, err
		}
		if *q.OrderBy == model.OrderAsc {
			order = model.OrderAsc
		}
	}

	start, end := prefix, store.PrefixEnd(prefix)
	dir := store.Descending
	if order == model.OrderAsc {
		dir = store.Ascending
		if q.StartAfter != nil {
			if *q.StartAfter == math.MaxUint64 {
				return []PositionResponse{}, nil
			}
			start = indexKey(prefix, *q.StartAfter+1)
		}
	} else if q.StartAfter != nil {
		end = indexKey(prefix, *q.StartAfter)
	}

	pairs, err := st.Range(ctx, start, end, dir)
	if err != nil {
		return nil, err
	}
	out := []PositionResponse{}
	for _, kv := range pairs {
		if len(out) >= limit {
			break
		}
		if len(kv.Key) < len(prefix)+8 {
			continue
		}
		idx := binary.BigEndian.Uint64(kv.Key[len(kv.Key)-8:])
		var p Position
		if indexed {
			if p, err = loadPosition(ctx, st, idx); err != nil {
				return nil, err
			}
		} else if err := json.Unmarshal(kv.Value, &p); err != nil {
			return nil, err
		}
		if !q.matches(p) {
			continue
		}
		short, err := isShort(ctx, st, idx)
		if err != nil {
			return nil, err
		}
		out = append(out, PositionResponse{Position: p, IsShort: short})
	}
	return out, nil
}
