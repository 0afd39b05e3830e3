// Package oracle implements the price-feed hub: registered feeders push
// prices for assets quoted in the base denom, and anyone can query the
// cross rate between two assets.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/mirror-engine/internal/fixed"
	"github.com/atmx/mirror-engine/internal/host"
	"github.com/atmx/mirror-engine/internal/store"
)

const (
	defaultLimit = 10
	maxLimit     = 30
)

var (
	ErrNoPrice        = errors.New("oracle: no price data for the asset")
	ErrUnknownFeeder  = errors.New("oracle: asset is not registered")
	ErrInvalidPrice   = errors.New("oracle: price must be positive")
	ErrInvalidAsset   = errors.New("oracle: asset must not be empty")
	ErrMissingVariant = errors.New("oracle: unsupported message")
)

var configKey = store.Key("config")

func feederKey(asset string) []byte { return store.Key("feeder", []byte(asset)) }
func priceKey(asset string) []byte  { return store.Key("price", []byte(asset)) }

// Config is the singleton hub configuration.
type Config struct {
	Owner     string `json:"owner"`
	BaseAsset string `json:"base_asset"`
}

// PriceInfo is the latest feed for one asset, quoted in the base asset.
type PriceInfo struct {
	Price           decimal.Decimal `json:"price"`
	LastUpdatedTime uint64          `json:"last_updated_time"`
}

type InstantiateMsg struct {
	Owner     string `json:"owner"`
	BaseAsset string `json:"base_asset"`
}

type PriceFeed struct {
	Asset string          `json:"asset"`
	Price decimal.Decimal `json:"price"`
}

type (
	UpdateConfig struct {
		Owner *string `json:"owner,omitempty"`
	}
	RegisterAsset struct {
		Asset  string `json:"asset"`
		Feeder string `json:"feeder"`
	}
	FeedPrice struct {
		Prices []PriceFeed `json:"prices"`
	}
)

type ExecuteMsg struct {
	UpdateConfig  *UpdateConfig  `json:"update_config,omitempty"`
	RegisterAsset *RegisterAsset `json:"register_asset,omitempty"`
	FeedPrice     *FeedPrice     `json:"feed_price,omitempty"`
}

type PriceQuery struct {
	BaseAsset  string `json:"base_asset"`
	QuoteAsset string `json:"quote_asset"`
}

type PricesQuery struct {
	StartAfter *string `json:"start_after,omitempty"`
	Limit      *uint32 `json:"limit,omitempty"`
}

type FeederQuery struct {
	Asset string `json:"asset"`
}

type QueryMsg struct {
	Config *struct{}    `json:"config,omitempty"`
	Feeder *FeederQuery `json:"feeder,omitempty"`
	Price  *PriceQuery  `json:"price,omitempty"`
	Prices *PricesQuery `json:"prices,omitempty"`
}

// PriceResponse is the cross rate price(base)/price(quote).
type PriceResponse struct {
	Rate             decimal.Decimal `json:"rate"`
	LastUpdatedBase  uint64          `json:"last_updated_base"`
	LastUpdatedQuote uint64          `json:"last_updated_quote"`
}

type FeederResponse struct {
	Asset  string `json:"asset"`
	Feeder string `json:"feeder"`
}

type PricesResponseElem struct {
	Asset           string          `json:"asset"`
	Price           decimal.Decimal `json:"price"`
	LastUpdatedTime uint64          `json:"last_updated_time"`
}

type PricesResponse struct {
	Prices []PricesResponseElem `json:"prices"`
}

// Hub is the price-feed contract.
type Hub struct{}

// New returns a price-feed hub contract.
func New() *Hub { return &Hub{} }

func (h *Hub) Instantiate(ctx context.Context, deps host.Deps, _ host.Env, raw json.RawMessage) (*host.Response, error) {
	var msg InstantiateMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("oracle: decode instantiate: %w", err)
	}
	if msg.BaseAsset == "" {
		return nil, ErrInvalidAsset
	}
	cfg := Config{Owner: msg.Owner, BaseAsset: msg.BaseAsset}
	if err := store.SaveJSON(ctx, deps.Storage, configKey, cfg); err != nil {
		return nil, err
	}
	return host.NewResponse().AddAttribute("action", "instantiate"), nil
}

func (h *Hub) Execute(ctx context.Context, deps host.Deps, env host.Env, raw json.RawMessage) (*host.Response, error) {
	var msg ExecuteMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("oracle: decode execute: %w", err)
	}
	var cfg Config
	if err := store.LoadJSON(ctx, deps.Storage, configKey, &cfg); err != nil {
		return nil, fmt.Errorf("oracle: load config: %w", err)
	}
	st := deps.Storage

	switch {
	case msg.UpdateConfig != nil:
		if env.Sender != cfg.Owner {
			return nil, host.Unauthorized("only the owner may update the oracle config")
		}
		if msg.UpdateConfig.Owner != nil {
			cfg.Owner = *msg.UpdateConfig.Owner
		}
		if err := store.SaveJSON(ctx, st, configKey, cfg); err != nil {
			return nil, err
		}
		return host.NewResponse().AddAttribute("action", "update_config"), nil

	case msg.RegisterAsset != nil:
		m := msg.RegisterAsset
		if env.Sender != cfg.Owner {
			return nil, host.Unauthorized("only the owner may register feeders")
		}
		if m.Asset == "" {
			return nil, ErrInvalidAsset
		}
		// Re-registering replaces the feeder.
		if err := st.Set(ctx, feederKey(m.Asset), []byte(m.Feeder)); err != nil {
			return nil, err
		}
		return host.NewResponse().
			AddAttribute("action", "register_asset").
			AddAttribute("asset", m.Asset).
			AddAttribute("feeder", m.Feeder), nil

	case msg.FeedPrice != nil:
		res := host.NewResponse().AddAttribute("action", "price_feed")
		for _, p := range msg.FeedPrice.Prices {
			feeder, err := st.Get(ctx, feederKey(p.Asset))
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownFeeder, p.Asset)
			}
			if err != nil {
				return nil, err
			}
			if string(feeder) != env.Sender {
				return nil, host.Unauthorized("%s is not the feeder of %s", env.Sender, p.Asset)
			}
			if !p.Price.IsPositive() {
				return nil, ErrInvalidPrice
			}
			info := PriceInfo{Price: p.Price, LastUpdatedTime: env.Block.Seconds()}
			if err := store.SaveJSON(ctx, st, priceKey(p.Asset), info); err != nil {
				return nil, err
			}
			res.AddAttribute("asset", p.Asset).AddAttribute("price", p.Price.String())
		}
		return res, nil
	}
	return nil, ErrMissingVariant
}

func (h *Hub) Query(ctx context.Context, deps host.Deps, _ host.Env, raw json.RawMessage) (json.RawMessage, error) {
	var msg QueryMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("oracle: decode query: %w", err)
	}
	var cfg Config
	if err := store.LoadJSON(ctx, deps.Storage, configKey, &cfg); err != nil {
		return nil, fmt.Errorf("oracle: load config: %w", err)
	}

	switch {
	case msg.Config != nil:
		return json.Marshal(cfg)

	case msg.Feeder != nil:
		feeder, err := deps.Storage.Get(ctx, feederKey(msg.Feeder.Asset))
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFeeder, msg.Feeder.Asset)
		}
		if err != nil {
			return nil, err
		}
		return json.Marshal(FeederResponse{Asset: msg.Feeder.Asset, Feeder: string(feeder)})

	case msg.Price != nil:
		base, err := loadPrice(ctx, deps.Storage, cfg, msg.Price.BaseAsset)
		if err != nil {
			return nil, err
		}
		quote, err := loadPrice(ctx, deps.Storage, cfg, msg.Price.QuoteAsset)
		if err != nil {
			return nil, err
		}
		rate, err := fixed.Ratio(base.Price, quote.Price)
		if err != nil {
			return nil, fmt.Errorf("oracle: %w", err)
		}
		return json.Marshal(PriceResponse{
			Rate:             rate,
			LastUpdatedBase:  base.LastUpdatedTime,
			LastUpdatedQuote: quote.LastUpdatedTime,
		})

	case msg.Prices != nil:
		return queryPrices(ctx, deps.Storage, msg.Prices)
	}
	return nil, ErrMissingVariant
}

func loadPrice(ctx context.Context, st store.Storage, cfg Config, asset string) (PriceInfo, error) {
	if asset == cfg.BaseAsset {
		return PriceInfo{Price: fixed.One, LastUpdatedTime: fixed.NeverStale}, nil
	}
	var info PriceInfo
	ok, err := store.MaybeLoadJSON(ctx, st, priceKey(asset), &info)
	if err != nil {
		return info, err
	}
	if !ok {
		return info, fmt.Errorf("%w: %s", ErrNoPrice, asset)
	}
	return info, nil
}

func queryPrices(ctx context.Context, st store.Storage, q *PricesQuery) (json.RawMessage, error) {
	limit := defaultLimit
	if q.Limit != nil {
		limit = min(int(*q.Limit), maxLimit)
	}
	start := store.Namespace("price")
	end := store.PrefixEnd(start)
	if q.StartAfter != nil {
		start = append(priceKey(*q.StartAfter), 0)
	}
	pairs, err := st.Range(ctx, start, end, store.Ascending)
	if err != nil {
		return nil, err
	}
	prefixLen := len(store.Namespace("price"))
	resp := PricesResponse{Prices: []PricesResponseElem{}}
	for _, p := range pairs {
		if len(resp.Prices) >= limit {
			break
		}
		var info PriceInfo
		if err := json.Unmarshal(p.Value, &info); err != nil {
			return nil, err
		}
		resp.Prices = append(resp.Prices, PricesResponseElem{
			Asset:           string(p.Key[prefixLen:]),
			Price:           info.Price,
			LastUpdatedTime: info.LastUpdatedTime,
		})
	}
	return json.Marshal(resp)
}

// QueryPrice asks the hub at addr for price(base)/price(quote).
func QueryPrice(ctx context.Context, q host.Querier, addr, base, quote string) (PriceResponse, error) {
	var res PriceResponse
	err := q.QueryWasm(ctx, addr, QueryMsg{Price: &PriceQuery{BaseAsset: base, QuoteAsset: quote}}, &res)
	return res, err
}
