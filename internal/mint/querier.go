package mint

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/atmx/mirror-engine/internal/collateral"
	"github.com/atmx/mirror-engine/internal/fixed"
	"github.com/atmx/mirror-engine/internal/host"
	"github.com/atmx/mirror-engine/internal/model"
	"github.com/atmx/mirror-engine/internal/oracle"
)

// priceExpireTime is how old, in seconds, a timestamped price may be.
const priceExpireTime = 60

func assertFresh(lastUpdated, now uint64) error {
	if lastUpdated == fixed.NeverStale {
		return nil
	}
	if now > lastUpdated && now-lastUpdated > priceExpireTime {
		return ErrPriceTooOld
	}
	return nil
}

// assetPrice returns the price of a minted asset in the base denom. A
// migrated asset trades at its end price and a pre-IPO asset at its pre-IPO
// price.
func assetPrice(ctx context.Context, deps host.Deps, env host.Env, cfg Config, ac AssetConfig) (decimal.Decimal, error) {
	if ac.EndPrice != nil {
		return *ac.EndPrice, nil
	}
	if ac.IPOParams != nil {
		return ac.IPOParams.PreIPOPrice, nil
	}
	res, err := oracle.QueryPrice(ctx, deps.Querier, cfg.Oracle, ac.Token, cfg.BaseDenom)
	if err != nil {
		return decimal.Zero, err
	}
	now := env.Block.Seconds()
	if err := assertFresh(res.LastUpdatedBase, now); err != nil {
		return decimal.Zero, err
	}
	if err := assertFresh(res.LastUpdatedQuote, now); err != nil {
		return decimal.Zero, err
	}
	return res.Rate, nil
}

// collateralQuote is a collateral price as seen by the mint contract.
type collateralQuote struct {
	Price   decimal.Decimal
	Revoked bool
	// Migrated is set when the collateral is itself a migrated mint asset.
	Migrated bool
}

func collateralPrice(ctx context.Context, deps host.Deps, env host.Env, cfg Config, info model.AssetInfo) (collateralQuote, error) {
	if info.IsNativeDenom(cfg.BaseDenom) {
		return collateralQuote{Price: fixed.One}, nil
	}
	if info.Token != nil {
		ac, ok, err := maybeAssetConfig(ctx, deps.Storage, info.Token.ContractAddr)
		if err != nil {
			return collateralQuote{}, err
		}
		if ok && ac.EndPrice != nil {
			return collateralQuote{Price: *ac.EndPrice, Revoked: true, Migrated: true}, nil
		}
		if ok && ac.IPOParams != nil {
			return collateralQuote{}, ErrPreIPOCollateral
		}
	}
	now := env.Block.Seconds()
	res, err := collateral.QueryPrice(ctx, deps.Querier, cfg.CollateralOracle, info.String(), now)
	if err != nil {
		return collateralQuote{}, err
	}
	if err := assertFresh(res.LastUpdated, now); err != nil {
		return collateralQuote{}, err
	}
	return collateralQuote{Price: res.Rate, Revoked: res.IsRevoked}, nil
}

// liveCollateralPrice is collateralPrice for operations that add exposure:
// revoked collateral is rejected.
func liveCollateralPrice(ctx context.Context, deps host.Deps, env host.Env, cfg Config, info model.AssetInfo) (collateralQuote, error) {
	q, err := collateralPrice(ctx, deps, env, cfg, info)
	if err != nil {
		return q, err
	}
	if q.Revoked {
		return q, ErrRevokedCollateral
	}
	return q, nil
}

// minRatio is the ratio a position must keep. Migrated assets on either side
// fall back to 100%.
func minRatio(ac AssetConfig, cq collateralQuote) decimal.Decimal {
	if ac.EndPrice != nil || cq.Migrated {
		return fixed.One
	}
	return ac.MinCollateralRatio
}

// underCollateralized reports whether collateral is worth less than minted
// at ratio. Both sides are compared exactly, without truncation.
func underCollateralized(collateral, minted, assetPrice, collateralPrice, ratio decimal.Decimal) bool {
	return collateral.Mul(collateralPrice).LessThan(minted.Mul(assetPrice).Mul(ratio))
}
