// Package collateral implements the collateral oracle: a registry of assets
// accepted as CDP collateral, each with a price source and a multiplier
// applied to the raw price.
package collateral

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/atmx/mirror-engine/internal/host"
	"github.com/atmx/mirror-engine/internal/store"
)

const (
	defaultLimit = 10
	maxLimit     = 30
)

var (
	ErrAlreadyRegistered = errors.New("Collateral was already registered")
	ErrInvalidMultiplier = errors.New("Multiplier must be bigger than 0")
	ErrNotFound          = errors.New("Collateral not found")
	ErrAssetNotFound     = errors.New("Collateral asset not found")
	ErrMissingVariant    = errors.New("collateral: unsupported message")
)

var configKey = store.Key("config")

func collateralKey(asset string) []byte { return store.Key("collateral", []byte(asset)) }

// Oracle is the collateral oracle contract.
type Oracle struct{}

// New returns a collateral oracle contract.
func New() *Oracle { return &Oracle{} }

func (o *Oracle) Instantiate(ctx context.Context, deps host.Deps, _ host.Env, raw json.RawMessage) (*host.Response, error) {
	var msg InstantiateMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("collateral: decode instantiate: %w", err)
	}
	cfg := Config(msg)
	if err := store.SaveJSON(ctx, deps.Storage, configKey, cfg); err != nil {
		return nil, err
	}
	return host.NewResponse().AddAttribute("action", "instantiate"), nil
}

func (o *Oracle) Execute(ctx context.Context, deps host.Deps, env host.Env, raw json.RawMessage) (*host.Response, error) {
	var msg ExecuteMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("collateral: decode execute: %w", err)
	}
	cfg, err := loadConfig(ctx, deps.Storage)
	if err != nil {
		return nil, err
	}
	st := deps.Storage

	switch {
	case msg.UpdateConfig != nil:
		if env.Sender != cfg.Owner {
			return nil, host.Unauthorized("only the owner may update the config")
		}
		m := msg.UpdateConfig
		if m.Owner != nil {
			cfg.Owner = *m.Owner
		}
		if m.MintContract != nil {
			cfg.MintContract = *m.MintContract
		}
		if m.FactoryContract != nil {
			cfg.FactoryContract = *m.FactoryContract
		}
		if m.BaseDenom != nil {
			cfg.BaseDenom = *m.BaseDenom
		}
		if m.TefiOracle != nil {
			cfg.TefiOracle = *m.TefiOracle
		}
		if err := store.SaveJSON(ctx, st, configKey, cfg); err != nil {
			return nil, err
		}
		return host.NewResponse().AddAttribute("action", "update_config"), nil

	case msg.RegisterCollateralAsset != nil:
		m := msg.RegisterCollateralAsset
		if env.Sender != cfg.Owner && env.Sender != cfg.MintContract {
			return nil, host.Unauthorized("only the owner or the mint contract may register collateral")
		}
		if err := m.Asset.Validate(); err != nil {
			return nil, err
		}
		if _, err := m.PriceSource.Source(); err != nil {
			return nil, err
		}
		if !m.Multiplier.IsPositive() {
			return nil, ErrInvalidMultiplier
		}
		asset := m.Asset.String()
		if _, ok, err := loadCollateral(ctx, st, asset); err != nil {
			return nil, err
		} else if ok {
			return nil, ErrAlreadyRegistered
		}
		info := CollateralAssetInfo{Asset: asset, PriceSource: m.PriceSource, Multiplier: m.Multiplier}
		if err := store.SaveJSON(ctx, st, collateralKey(asset), info); err != nil {
			return nil, err
		}
		return host.NewResponse().
			AddAttribute("action", "register_collateral").
			AddAttribute("collateral_asset", asset), nil

	case msg.RevokeCollateralAsset != nil:
		if env.Sender != cfg.Owner && env.Sender != cfg.MintContract {
			return nil, host.Unauthorized("only the owner or the mint contract may revoke collateral")
		}
		return updateCollateral(ctx, st, msg.RevokeCollateralAsset.Asset.String(), "revoke_collateral", func(c *CollateralAssetInfo) error {
			c.IsRevoked = true
			return nil
		})

	case msg.ReinstateCollateralAsset != nil:
		if env.Sender != cfg.Owner {
			return nil, host.Unauthorized("only the owner may reinstate collateral")
		}
		return updateCollateral(ctx, st, msg.ReinstateCollateralAsset.Asset.String(), "reinstate_collateral", func(c *CollateralAssetInfo) error {
			c.IsRevoked = false
			return nil
		})

	case msg.UpdateCollateralPriceSource != nil:
		m := msg.UpdateCollateralPriceSource
		if env.Sender != cfg.Owner {
			return nil, host.Unauthorized("only the owner may change a price source")
		}
		return updateCollateral(ctx, st, m.Asset.String(), "update_collateral_price_source", func(c *CollateralAssetInfo) error {
			if _, err := m.PriceSource.Source(); err != nil {
				return err
			}
			c.PriceSource = m.PriceSource
			return nil
		})

	case msg.UpdateCollateralMultiplier != nil:
		m := msg.UpdateCollateralMultiplier
		if env.Sender != cfg.FactoryContract {
			return nil, host.Unauthorized("only the factory may change a multiplier")
		}
		if !m.Multiplier.IsPositive() {
			return nil, ErrInvalidMultiplier
		}
		return updateCollateral(ctx, st, m.Asset.String(), "update_collateral_multiplier", func(c *CollateralAssetInfo) error {
			c.Multiplier = m.Multiplier
			return nil
		})
	}
	return nil, ErrMissingVariant
}

func (o *Oracle) Query(ctx context.Context, deps host.Deps, env host.Env, raw json.RawMessage) (json.RawMessage, error) {
	var msg QueryMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("collateral: decode query: %w", err)
	}
	cfg, err := loadConfig(ctx, deps.Storage)
	if err != nil {
		return nil, err
	}

	switch {
	case msg.Config != nil:
		return json.Marshal(cfg)

	case msg.CollateralPrice != nil:
		info, err := mustLoadCollateral(ctx, deps.Storage, msg.CollateralPrice.Asset)
		if err != nil {
			return nil, err
		}
		r := resolver{deps: deps, cfg: cfg}
		rate, lastUpdated, err := r.price(ctx, info, 0)
		if err != nil {
			return nil, err
		}
		return json.Marshal(CollateralPriceResponse{
			Asset:       info.Asset,
			Rate:        rate,
			LastUpdated: lastUpdated,
			Multiplier:  info.Multiplier,
			IsRevoked:   info.IsRevoked,
		})

	case msg.CollateralInfo != nil:
		info, err := mustLoadCollateral(ctx, deps.Storage, msg.CollateralInfo.Asset)
		if err != nil {
			return nil, err
		}
		resp, err := infoResponse(info)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)

	case msg.CollateralsInfo != nil:
		return queryCollaterals(ctx, deps.Storage, msg.CollateralsInfo)
	}
	return nil, ErrMissingVariant
}

func loadConfig(ctx context.Context, st store.Storage) (Config, error) {
	var cfg Config
	if err := store.LoadJSON(ctx, st, configKey, &cfg); err != nil {
		return cfg, fmt.Errorf("collateral: load config: %w", err)
	}
	return cfg, nil
}

func loadCollateral(ctx context.Context, st store.Storage, asset string) (CollateralAssetInfo, bool, error) {
	var info CollateralAssetInfo
	ok, err := store.MaybeLoadJSON(ctx, st, collateralKey(asset), &info)
	return info, ok, err
}

func mustLoadCollateral(ctx context.Context, st store.Storage, asset string) (CollateralAssetInfo, error) {
	info, ok, err := loadCollateral(ctx, st, asset)
	if err != nil {
		return info, err
	}
	if !ok {
		return info, fmt.Errorf("%w: %s", ErrAssetNotFound, asset)
	}
	return info, nil
}

func updateCollateral(ctx context.Context, st store.Storage, asset, action string, fn func(*CollateralAssetInfo) error) (*host.Response, error) {
	info, ok, err := loadCollateral(ctx, st, asset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, asset)
	}
	if err := fn(&info); err != nil {
		return nil, err
	}
	if err := store.SaveJSON(ctx, st, collateralKey(asset), info); err != nil {
		return nil, err
	}
	return host.NewResponse().
		AddAttribute("action", action).
		AddAttribute("collateral_asset", asset), nil
}

func infoResponse(info CollateralAssetInfo) (CollateralInfoResponse, error) {
	src, err := info.PriceSource.Source()
	if err != nil {
		return CollateralInfoResponse{}, err
	}
	return CollateralInfoResponse{
		Asset:      info.Asset,
		Multiplier: info.Multiplier,
		SourceType: src.Name(),
		IsRevoked:  info.IsRevoked,
	}, nil
}

func queryCollaterals(ctx context.Context, st store.Storage, q *CollateralsInfoQuery) (json.RawMessage, error) {
	limit := defaultLimit
	if q.Limit != nil {
		limit = min(int(*q.Limit), maxLimit)
	}
	ns := store.Namespace("collateral")
	start, end := ns, store.PrefixEnd(ns)
	if q.StartAfter != nil {
		start = append(collateralKey(*q.StartAfter), 0)
	}
	pairs, err := st.Range(ctx, start, end, store.Ascending)
	if err != nil {
		return nil, err
	}
	resp := CollateralsInfoResponse{Collaterals: []CollateralInfoResponse{}}
	for _, p := range pairs {
		if len(resp.Collaterals) >= limit {
			break
		}
		var info CollateralAssetInfo
		if err := json.Unmarshal(p.Value, &info); err != nil {
			return nil, err
		}
		elem, err := infoResponse(info)
		if err != nil {
			return nil, err
		}
		resp.Collaterals = append(resp.Collaterals, elem)
	}
	return json.Marshal(resp)
}

// QueryPrice asks the collateral oracle at addr for the price of asset.
func QueryPrice(ctx context.Context, q host.Querier, addr, asset string, blockTime uint64) (CollateralPriceResponse, error) {
	var res CollateralPriceResponse
	err := q.QueryWasm(ctx, addr, QueryMsg{
		CollateralPrice: &CollateralPriceQuery{Asset: asset, BlockTime: &blockTime},
	}, &res)
	return res, err
}
