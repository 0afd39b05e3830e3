package collateral

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/mirror-engine/internal/fixed"
	"github.com/atmx/mirror-engine/internal/host"
	"github.com/atmx/mirror-engine/internal/metrics"
	"github.com/atmx/mirror-engine/internal/oracle"
)

// maxDepth bounds intermediate-denom resolution through the registry.
const maxDepth = 3

const defaultUnderlying = "uluna"

var (
	ErrInvalidPool       = errors.New("Invalid pool")
	ErrNoTefiOracle      = errors.New("collateral: no price-feed hub configured")
	ErrResolutionTooDeep = errors.New("collateral: price resolution nested too deeply")
)

type resolver struct {
	deps host.Deps
	cfg  Config
}

// price returns the multiplied rate of info and the time its raw price was
// last updated.
func (r resolver) price(ctx context.Context, info CollateralAssetInfo, depth int) (decimal.Decimal, uint64, error) {
	src, err := info.PriceSource.Source()
	if err != nil {
		return decimal.Zero, 0, err
	}
	metrics.CollateralPriceQueries.WithLabelValues(src.Name()).Inc()

	raw, lastUpdated, err := r.resolve(ctx, info.Asset, src, depth)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("price %s via %s: %w", info.Asset, src.Name(), err)
	}
	return fixed.Mul(raw, info.Multiplier), lastUpdated, nil
}

func (r resolver) resolve(ctx context.Context, asset string, src PriceSource, depth int) (decimal.Decimal, uint64, error) {
	q := r.deps.Querier
	switch s := src.(type) {
	case FixedPrice:
		return s.Price, fixed.NeverStale, nil

	case TefiOracle:
		res, err := oracle.QueryPrice(ctx, q, s.OracleAddr, asset, r.cfg.BaseDenom)
		if err != nil {
			return decimal.Zero, 0, err
		}
		return res.Rate, res.LastUpdatedBase, nil

	case AmmPair:
		var pool PoolResponse
		if err := q.QueryWasm(ctx, s.PairAddr, PoolQuery{Pool: &struct{}{}}, &pool); err != nil {
			return decimal.Zero, 0, err
		}
		quote := r.cfg.BaseDenom
		if s.IntermediateDenom != nil {
			quote = *s.IntermediateDenom
		}
		rate, err := poolRate(pool, quote)
		if err != nil {
			return decimal.Zero, 0, err
		}
		if quote == r.cfg.BaseDenom {
			return rate, fixed.NeverStale, nil
		}
		ip, _, err := r.denomPrice(ctx, quote, depth+1)
		if err != nil {
			return decimal.Zero, 0, err
		}
		return fixed.Mul(rate, ip), fixed.NeverStale, nil

	case Lunax:
		var st LunaxStateResponse
		if err := q.QueryWasm(ctx, s.StakingContractAddr, StateQuery{State: &struct{}{}}, &st); err != nil {
			return decimal.Zero, 0, err
		}
		underlying := defaultUnderlying
		if s.UnderlyingDenom != nil {
			underlying = *s.UnderlyingDenom
		}
		up, _, err := r.denomPrice(ctx, underlying, depth+1)
		if err != nil {
			return decimal.Zero, 0, err
		}
		return fixed.Mul(st.State.ExchangeRate, up), fixed.NeverStale, nil

	case AnchorMarket:
		var epoch EpochStateResponse
		if err := q.QueryWasm(ctx, s.AnchorMarketAddr, EpochStateQuery{EpochState: &struct{}{}}, &epoch); err != nil {
			return decimal.Zero, 0, err
		}
		return epoch.ExchangeRate, fixed.NeverStale, nil

	case Native:
		return r.tefiPrice(ctx, s.NativeDenom)
	}
	return decimal.Zero, 0, ErrInvalidSource
}

// denomPrice prices a denom in the base denom: through this registry when
// the denom is itself registered, else through the price-feed hub.
func (r resolver) denomPrice(ctx context.Context, denom string, depth int) (decimal.Decimal, uint64, error) {
	if denom == r.cfg.BaseDenom {
		return fixed.One, fixed.NeverStale, nil
	}
	if depth > maxDepth {
		return decimal.Zero, 0, ErrResolutionTooDeep
	}
	info, ok, err := loadCollateral(ctx, r.deps.Storage, denom)
	if err != nil {
		return decimal.Zero, 0, err
	}
	if ok {
		return r.price(ctx, info, depth)
	}
	return r.tefiPrice(ctx, denom)
}

func (r resolver) tefiPrice(ctx context.Context, denom string) (decimal.Decimal, uint64, error) {
	if denom == r.cfg.BaseDenom {
		return fixed.One, fixed.NeverStale, nil
	}
	if r.cfg.TefiOracle == "" {
		return decimal.Zero, 0, ErrNoTefiOracle
	}
	res, err := oracle.QueryPrice(ctx, r.deps.Querier, r.cfg.TefiOracle, denom, r.cfg.BaseDenom)
	if err != nil {
		return decimal.Zero, 0, err
	}
	return res.Rate, res.LastUpdatedBase, nil
}

// poolRate is reserve(quote)/reserve(other) for a two-asset pool where one
// side is the native quote denom.
func poolRate(pool PoolResponse, quote string) (decimal.Decimal, error) {
	for i, a := range pool.Assets {
		if !a.Info.IsNativeDenom(quote) {
			continue
		}
		other := pool.Assets[1-i]
		rate, err := fixed.Ratio(a.Amount, other.Amount)
		if err != nil {
			return decimal.Zero, ErrInvalidPool
		}
		return rate, nil
	}
	return decimal.Zero, ErrInvalidPool
}
