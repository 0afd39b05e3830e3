package mint

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/mirror-engine/internal/fixed"
	"github.com/atmx/mirror-engine/internal/host"
	"github.com/atmx/mirror-engine/internal/model"
)

func assertCollateral(p Position, collateral model.Asset) error {
	if !collateral.Info.Equal(p.Collateral.Info) || !collateral.Amount.IsPositive() {
		return ErrWrongCollateral
	}
	return assertWhole(collateral.Amount)
}

func assertAsset(p Position, asset model.Asset) error {
	if !asset.Info.Equal(p.Asset.Info) || !asset.Amount.IsPositive() {
		return ErrWrongAsset
	}
	return assertWhole(asset.Amount)
}

// assertWhole rejects token amounts with a fractional part.
func assertWhole(amount decimal.Decimal) error {
	if !fixed.IsWhole(amount) {
		return fmt.Errorf("%w: %s", ErrFractionalAmount, amount)
	}
	return nil
}

// assertSentNative checks that a native collateral amount was attached to
// the call in full. Token collateral must arrive through a CW20 Send.
func assertSentNative(env host.Env, a model.Asset) error {
	if !a.Info.IsNative() {
		return ErrWrongCollateral
	}
	sent := decimal.Zero
	for _, c := range env.Funds {
		if c.Denom == a.Info.NativeToken.Denom {
			sent = sent.Add(c.Amount)
		}
	}
	if !sent.Equal(a.Amount) {
		return ErrNativeFundsMismatch
	}
	return nil
}

func assertNotMigrated(ac AssetConfig) error {
	if ac.EndPrice != nil {
		return ErrDeprecatedAsset
	}
	return nil
}

func assertMintPeriod(env host.Env, ac AssetConfig) error {
	if ac.IPOParams != nil && ac.IPOParams.MintEnd < env.Block.Height {
		return fmt.Errorf("%w at height %d", ErrMintPeriodEnded, ac.IPOParams.MintEnd)
	}
	return nil
}

// assertBurnPeriod disables burning a pre-IPO asset once its mint period is
// over. Burning resumes after the IPO is triggered.
func assertBurnPeriod(env host.Env, ac AssetConfig) error {
	if ac.IPOParams != nil && ac.IPOParams.MintEnd < env.Block.Height {
		return fmt.Errorf("%w at %d", ErrBurnPeriodEnded, ac.IPOParams.MintEnd)
	}
	return nil
}

func assertPreIPOCollateral(cfg Config, ac AssetConfig, collateral model.AssetInfo) error {
	if ac.IPOParams != nil && !collateral.IsNativeDenom(cfg.BaseDenom) {
		return ErrPreIPOCollateralDenom
	}
	return nil
}

func assertAuctionDiscount(d decimal.Decimal) error {
	if d.GreaterThan(fixed.One) || d.IsNegative() {
		return ErrAuctionDiscount
	}
	return nil
}

func assertMinCollateralRatio(r decimal.Decimal) error {
	if r.LessThan(fixed.One) {
		return ErrMinCollateralRatio
	}
	return nil
}

func assertProtocolFeeRate(r decimal.Decimal) error {
	if r.IsNegative() || r.GreaterThan(fixed.One) {
		return ErrProtocolFeeRate
	}
	return nil
}
