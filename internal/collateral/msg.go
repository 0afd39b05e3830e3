package collateral

import (
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/atmx/mirror-engine/internal/model"
)

var ErrInvalidSource = errors.New("collateral: price source must name exactly one source type")

// PriceSource is one concrete pricing strategy. The set is closed: see the
// type switch in resolve.
type PriceSource interface {
	Name() string
}

// FixedPrice always reports the configured price.
type FixedPrice struct {
	Price decimal.Decimal `json:"price"`
}

// TefiOracle reads the asset's price from a price-feed hub.
type TefiOracle struct {
	OracleAddr string `json:"oracle_addr"`
}

// AmmPair derives the price from a pool's reserve ratio, optionally routed
// through an intermediate denom priced separately.
type AmmPair struct {
	PairAddr          string  `json:"pair_addr"`
	IntermediateDenom *string `json:"intermediate_denom,omitempty"`
}

// Lunax prices a liquid-staking derivative as exchange rate times the
// underlying native price.
type Lunax struct {
	StakingContractAddr string  `json:"staking_contract_addr"`
	UnderlyingDenom     *string `json:"underlying_denom,omitempty"`
}

// AnchorMarket reports a lending market's deposit exchange rate.
type AnchorMarket struct {
	AnchorMarketAddr string `json:"anchor_market_addr"`
}

// Native prices a native denom through the configured price-feed hub.
type Native struct {
	NativeDenom string `json:"native_denom"`
}

func (FixedPrice) Name() string   { return "fixed_price" }
func (TefiOracle) Name() string   { return "tefi_oracle" }
func (AmmPair) Name() string      { return "amm_pair" }
func (Lunax) Name() string        { return "lunax" }
func (AnchorMarket) Name() string { return "anchor_market" }
func (Native) Name() string       { return "native" }

// SourceType is the externally tagged wire form of a PriceSource, e.g.
// {"fixed_price":{"price":"1"}}. The legacy names "terraswap" and
// "terra_oracle" decode to amm_pair and tefi_oracle.
type SourceType struct {
	FixedPrice   *FixedPrice   `json:"fixed_price,omitempty"`
	TefiOracle   *TefiOracle   `json:"tefi_oracle,omitempty"`
	AmmPair      *AmmPair      `json:"amm_pair,omitempty"`
	Lunax        *Lunax        `json:"lunax,omitempty"`
	AnchorMarket *AnchorMarket `json:"anchor_market,omitempty"`
	Native       *Native       `json:"native,omitempty"`
}

func (s *SourceType) UnmarshalJSON(data []byte) error {
	type plain SourceType
	var w struct {
		plain
		Terraswap   *AmmPair    `json:"terraswap,omitempty"`
		TerraOracle *TefiOracle `json:"terra_oracle,omitempty"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = SourceType(w.plain)
	if s.AmmPair == nil {
		s.AmmPair = w.Terraswap
	}
	if s.TefiOracle == nil {
		s.TefiOracle = w.TerraOracle
	}
	return nil
}

// Source returns the single concrete source.
func (s SourceType) Source() (PriceSource, error) {
	var found []PriceSource
	if s.FixedPrice != nil {
		found = append(found, *s.FixedPrice)
	}
	if s.TefiOracle != nil {
		found = append(found, *s.TefiOracle)
	}
	if s.AmmPair != nil {
		found = append(found, *s.AmmPair)
	}
	if s.Lunax != nil {
		found = append(found, *s.Lunax)
	}
	if s.AnchorMarket != nil {
		found = append(found, *s.AnchorMarket)
	}
	if s.Native != nil {
		found = append(found, *s.Native)
	}
	if len(found) != 1 {
		return nil, ErrInvalidSource
	}
	return found[0], nil
}

// Fixed builds a FixedPrice source.
func Fixed(price decimal.Decimal) SourceType {
	return SourceType{FixedPrice: &FixedPrice{Price: price}}
}

// Tefi builds a TefiOracle source.
func Tefi(oracleAddr string) SourceType {
	return SourceType{TefiOracle: &TefiOracle{OracleAddr: oracleAddr}}
}

// Pair builds an AmmPair source. intermediate may be empty.
func Pair(pairAddr, intermediate string) SourceType {
	src := &AmmPair{PairAddr: pairAddr}
	if intermediate != "" {
		src.IntermediateDenom = &intermediate
	}
	return SourceType{AmmPair: src}
}

// Config is the singleton contract configuration.
type Config struct {
	Owner           string `json:"owner"`
	MintContract    string `json:"mint_contract"`
	FactoryContract string `json:"factory_contract"`
	BaseDenom       string `json:"base_denom"`
	TefiOracle      string `json:"tefi_oracle,omitempty"`
}

// CollateralAssetInfo is the stored record of one collateral asset.
type CollateralAssetInfo struct {
	Asset       string          `json:"asset"`
	PriceSource SourceType      `json:"price_source"`
	Multiplier  decimal.Decimal `json:"multiplier"`
	IsRevoked   bool            `json:"is_revoked"`
}

type InstantiateMsg struct {
	Owner           string `json:"owner"`
	MintContract    string `json:"mint_contract"`
	FactoryContract string `json:"factory_contract"`
	BaseDenom       string `json:"base_denom"`
	TefiOracle      string `json:"tefi_oracle,omitempty"`
}

type (
	UpdateConfig struct {
		Owner           *string `json:"owner,omitempty"`
		MintContract    *string `json:"mint_contract,omitempty"`
		FactoryContract *string `json:"factory_contract,omitempty"`
		BaseDenom       *string `json:"base_denom,omitempty"`
		TefiOracle      *string `json:"tefi_oracle,omitempty"`
	}
	RegisterCollateralAsset struct {
		Asset       model.AssetInfo `json:"asset"`
		PriceSource SourceType      `json:"price_source"`
		Multiplier  decimal.Decimal `json:"multiplier"`
	}
	RevokeCollateralAsset struct {
		Asset model.AssetInfo `json:"asset"`
	}
	ReinstateCollateralAsset struct {
		Asset model.AssetInfo `json:"asset"`
	}
	UpdateCollateralPriceSource struct {
		Asset       model.AssetInfo `json:"asset"`
		PriceSource SourceType      `json:"price_source"`
	}
	UpdateCollateralMultiplier struct {
		Asset      model.AssetInfo `json:"asset"`
		Multiplier decimal.Decimal `json:"multiplier"`
	}
)

// ExecuteMsg is the externally tagged execute message. Exactly one field is set.
type ExecuteMsg struct {
	UpdateConfig                *UpdateConfig                `json:"update_config,omitempty"`
	RegisterCollateralAsset     *RegisterCollateralAsset     `json:"register_collateral_asset,omitempty"`
	RevokeCollateralAsset       *RevokeCollateralAsset       `json:"revoke_collateral_asset,omitempty"`
	ReinstateCollateralAsset    *ReinstateCollateralAsset    `json:"reinstate_collateral_asset,omitempty"`
	UpdateCollateralPriceSource *UpdateCollateralPriceSource `json:"update_collateral_price_source,omitempty"`
	UpdateCollateralMultiplier  *UpdateCollateralMultiplier  `json:"update_collateral_multiplier,omitempty"`
}

type CollateralPriceQuery struct {
	Asset     string  `json:"asset"`
	BlockTime *uint64 `json:"block_time,omitempty"`
}

type CollateralInfoQuery struct {
	Asset string `json:"asset"`
}

type CollateralsInfoQuery struct {
	StartAfter *string `json:"start_after,omitempty"`
	Limit      *uint32 `json:"limit,omitempty"`
}

type QueryMsg struct {
	Config          *struct{}             `json:"config,omitempty"`
	CollateralPrice *CollateralPriceQuery `json:"collateral_price,omitempty"`
	CollateralInfo  *CollateralInfoQuery  `json:"collateral_info,omitempty"`
	CollateralsInfo *CollateralsInfoQuery `json:"collaterals_info,omitempty"`
}

// CollateralPriceResponse carries the multiplied rate. Revocation is
// reported, not enforced.
type CollateralPriceResponse struct {
	Asset       string          `json:"asset"`
	Rate        decimal.Decimal `json:"rate"`
	LastUpdated uint64          `json:"last_updated"`
	Multiplier  decimal.Decimal `json:"multiplier"`
	IsRevoked   bool            `json:"is_revoked"`
}

type CollateralInfoResponse struct {
	Asset      string          `json:"asset"`
	Multiplier decimal.Decimal `json:"multiplier"`
	SourceType string          `json:"source_type"`
	IsRevoked  bool            `json:"is_revoked"`
}

type CollateralsInfoResponse struct {
	Collaterals []CollateralInfoResponse `json:"collaterals"`
}

// --- collaborator wire types ---

// PoolQuery asks an AMM pair for its reserves.
type PoolQuery struct {
	Pool *struct{} `json:"pool"`
}

type PoolResponse struct {
	Assets     [2]model.Asset  `json:"assets"`
	TotalShare decimal.Decimal `json:"total_share"`
}

// StateQuery asks a liquid-staking hub for its state.
type StateQuery struct {
	State *struct{} `json:"state"`
}

type LunaxState struct {
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
}

type LunaxStateResponse struct {
	State LunaxState `json:"state"`
}

// EpochStateQuery asks a lending market for its current epoch state.
type EpochStateQuery struct {
	EpochState *struct{} `json:"epoch_state"`
}

type EpochStateResponse struct {
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	AterraSupply decimal.Decimal `json:"aterra_supply"`
}
