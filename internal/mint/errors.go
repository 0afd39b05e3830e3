package mint

import "errors"

// Validation errors. The messages are part of the contract's public surface
// and are matched by clients.
var (
	ErrWrongCollateral       = errors.New("Wrong collateral")
	ErrWrongAsset            = errors.New("Wrong asset")
	ErrNativeFundsMismatch   = errors.New("Native token balance mismatch between the argument and the transferred")
	ErrDeprecatedAsset       = errors.New("Operation is not allowed for the deprecated asset")
	ErrRevokedCollateral     = errors.New("The collateral asset provided is no longer valid")
	ErrCollateralRatioTooLow = errors.New("Can not open a position with low collateral ratio than minimum")
	ErrCollateralTooSmall    = errors.New("collateral is too small")
	ErrFractionalAmount      = errors.New("Amount must be a whole number")
	ErrWithdrawTooMuch       = errors.New("Cannot withdraw more than you provide")
	ErrWithdrawBelowMinimum  = errors.New("Cannot withdraw collateral over than minimum collateral ratio")
	ErrMintBelowMinimum      = errors.New("Cannot mint asset over than min collateral ratio")
	ErrBurnTooMuch           = errors.New("Cannot burn asset more than you mint")
	ErrLiquidateTooMuch      = errors.New("Cannot liquidate more than the position amount")
	ErrSafelyCollateralized  = errors.New("Cannot liquidate a safely collateralized position")
	ErrAuctionDiscount       = errors.New("auction_discount must be smaller than 1")
	ErrMinCollateralRatio    = errors.New("min_collateral_ratio must be bigger than 1")
	ErrProtocolFeeRate       = errors.New("protocol_fee_rate must be between 0 and 1")
	ErrAssetRegistered       = errors.New("Asset was already registered")
	ErrAssetMigrated         = errors.New("Asset was already migrated")
	ErrNoIPOParams           = errors.New("Asset does not have IPO params")
	ErrPriceTooOld           = errors.New("Price is too old")
	ErrShortParamsRequired   = errors.New("short_params are required to mint a short position")
	ErrPreIPOCollateral      = errors.New("Pre-IPO assets cannot be used as collateral")
	ErrPreIPOCollateralDenom = errors.New("Only the base denom can be used as collateral for pre-IPO assets")
	ErrPreIPOShort           = errors.New("Pre-IPO assets cannot be minted as short positions")
	ErrMintPeriodEnded       = errors.New("The minting period for this asset ended")
	ErrBurnPeriodEnded       = errors.New("Burning is disabled for assets with limitied minting time. Mint period ended")
	ErrMissingVariant        = errors.New("mint: unsupported message")
)
