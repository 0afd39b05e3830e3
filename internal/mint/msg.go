package mint

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/mirror-engine/internal/cw20"
	"github.com/atmx/mirror-engine/internal/model"
)

// Config is the singleton mint configuration.
type Config struct {
	Owner            string          `json:"owner"`
	Oracle           string          `json:"oracle"`
	Collector        string          `json:"collector"`
	CollateralOracle string          `json:"collateral_oracle"`
	Staking          string          `json:"staking"`
	TerraswapFactory string          `json:"terraswap_factory"`
	Lock             string          `json:"lock"`
	BaseDenom        string          `json:"base_denom"`
	TokenCodeID      uint64          `json:"token_code_id"`
	ProtocolFeeRate  decimal.Decimal `json:"protocol_fee_rate"`
}

// IPOParams marks a pre-IPO asset. It is cleared by TriggerIPO or
// RegisterMigration.
type IPOParams struct {
	MintEnd                    uint64          `json:"mint_end"`
	PreIPOPrice                decimal.Decimal `json:"pre_ipo_price"`
	MinCollateralRatioAfterIPO decimal.Decimal `json:"min_collateral_ratio_after_ipo"`
	TriggerAddr                string          `json:"trigger_addr"`
}

// AssetConfig is the per-asset registry entry. EndPrice is set once the asset
// is migrated and never cleared.
type AssetConfig struct {
	Token              string           `json:"token"`
	AuctionDiscount    decimal.Decimal  `json:"auction_discount"`
	MinCollateralRatio decimal.Decimal  `json:"min_collateral_ratio"`
	EndPrice           *decimal.Decimal `json:"end_price,omitempty"`
	IPOParams          *IPOParams       `json:"ipo_params,omitempty"`
}

// ShortParams are forwarded to the pair's Swap hook when minting short.
type ShortParams struct {
	BeliefPrice *decimal.Decimal `json:"belief_price,omitempty"`
	MaxSpread   *decimal.Decimal `json:"max_spread,omitempty"`
}

// Position is a CDP.
type Position struct {
	Idx        uint64      `json:"idx,string"`
	Owner      string      `json:"owner"`
	Collateral model.Asset `json:"collateral"`
	Asset      model.Asset `json:"asset"`
}

type InstantiateMsg struct {
	Owner            string          `json:"owner"`
	Oracle           string          `json:"oracle"`
	Collector        string          `json:"collector"`
	CollateralOracle string          `json:"collateral_oracle"`
	Staking          string          `json:"staking"`
	TerraswapFactory string          `json:"terraswap_factory"`
	Lock             string          `json:"lock"`
	BaseDenom        string          `json:"base_denom"`
	TokenCodeID      uint64          `json:"token_code_id"`
	ProtocolFeeRate  decimal.Decimal `json:"protocol_fee_rate"`
}

type (
	UpdateConfig struct {
		Owner            *string          `json:"owner,omitempty"`
		Oracle           *string          `json:"oracle,omitempty"`
		Collector        *string          `json:"collector,omitempty"`
		CollateralOracle *string          `json:"collateral_oracle,omitempty"`
		Staking          *string          `json:"staking,omitempty"`
		TerraswapFactory *string          `json:"terraswap_factory,omitempty"`
		Lock             *string          `json:"lock,omitempty"`
		TokenCodeID      *uint64          `json:"token_code_id,omitempty"`
		ProtocolFeeRate  *decimal.Decimal `json:"protocol_fee_rate,omitempty"`
	}
	UpdateAsset struct {
		AssetToken         string           `json:"asset_token"`
		AuctionDiscount    *decimal.Decimal `json:"auction_discount,omitempty"`
		MinCollateralRatio *decimal.Decimal `json:"min_collateral_ratio,omitempty"`
		IPOParams          *IPOParams       `json:"ipo_params,omitempty"`
	}
	RegisterAsset struct {
		AssetToken         string          `json:"asset_token"`
		AuctionDiscount    decimal.Decimal `json:"auction_discount"`
		MinCollateralRatio decimal.Decimal `json:"min_collateral_ratio"`
		IPOParams          *IPOParams      `json:"ipo_params,omitempty"`
	}
	RegisterMigration struct {
		AssetToken string          `json:"asset_token"`
		EndPrice   decimal.Decimal `json:"end_price"`
	}
	TriggerIPO struct {
		AssetToken string `json:"asset_token"`
	}
	OpenPosition struct {
		Collateral      model.Asset     `json:"collateral"`
		AssetInfo       model.AssetInfo `json:"asset_info"`
		CollateralRatio decimal.Decimal `json:"collateral_ratio"`
		ShortParams     *ShortParams    `json:"short_params,omitempty"`
	}
	Deposit struct {
		PositionIdx uint64      `json:"position_idx,string"`
		Collateral  model.Asset `json:"collateral"`
	}
	Withdraw struct {
		PositionIdx uint64       `json:"position_idx,string"`
		Collateral  *model.Asset `json:"collateral,omitempty"`
	}
	Mint struct {
		PositionIdx uint64       `json:"position_idx,string"`
		Asset       model.Asset  `json:"asset"`
		ShortParams *ShortParams `json:"short_params,omitempty"`
	}
)

// ExecuteMsg is the externally tagged execute message. Exactly one field is set.
type ExecuteMsg struct {
	Receive           *cw20.ReceiveMsg   `json:"receive,omitempty"`
	UpdateConfig      *UpdateConfig      `json:"update_config,omitempty"`
	UpdateAsset       *UpdateAsset       `json:"update_asset,omitempty"`
	RegisterAsset     *RegisterAsset     `json:"register_asset,omitempty"`
	RegisterMigration *RegisterMigration `json:"register_migration,omitempty"`
	TriggerIPO        *TriggerIPO        `json:"trigger_ipo,omitempty"`
	OpenPosition      *OpenPosition      `json:"open_position,omitempty"`
	Deposit           *Deposit           `json:"deposit,omitempty"`
	Withdraw          *Withdraw          `json:"withdraw,omitempty"`
	Mint              *Mint              `json:"mint,omitempty"`
}

type OpenPositionHook struct {
	AssetInfo       model.AssetInfo `json:"asset_info"`
	CollateralRatio decimal.Decimal `json:"collateral_ratio"`
	ShortParams     *ShortParams    `json:"short_params,omitempty"`
}

type PositionHook struct {
	PositionIdx uint64 `json:"position_idx,string"`
}

// Cw20HookMsg is carried inside a CW20 Send to this contract.
type Cw20HookMsg struct {
	OpenPosition *OpenPositionHook `json:"open_position,omitempty"`
	Deposit      *PositionHook     `json:"deposit,omitempty"`
	Burn         *PositionHook     `json:"burn,omitempty"`
	Auction      *PositionHook     `json:"auction,omitempty"`
}

type AssetConfigQuery struct {
	AssetToken string `json:"asset_token"`
}

type PositionQuery struct {
	PositionIdx uint64 `json:"position_idx,string"`
}

type PositionsQuery struct {
	OwnerAddr  *string        `json:"owner_addr,omitempty"`
	AssetToken *string        `json:"asset_token,omitempty"`
	StartAfter *uint64        `json:"start_after,omitempty,string"`
	Limit      *uint32        `json:"limit,omitempty"`
	OrderBy    *model.OrderBy `json:"order_by,omitempty"`
}

// matches applies both filters. With owner and asset set the owner index is
// scanned and other assets are skipped.
func (q *PositionsQuery) matches(p Position) bool {
	if q.OwnerAddr != nil && p.Owner != *q.OwnerAddr {
		return false
	}
	return q.AssetToken == nil || p.Asset.Info.String() == *q.AssetToken
}

type QueryMsg struct {
	Config          *struct{}         `json:"config,omitempty"`
	AssetConfig     *AssetConfigQuery `json:"asset_config,omitempty"`
	Position        *PositionQuery    `json:"position,omitempty"`
	Positions       *PositionsQuery   `json:"positions,omitempty"`
	NextPositionIdx *struct{}         `json:"next_position_idx,omitempty"`
}

type PositionResponse struct {
	Position
	IsShort bool `json:"is_short"`
}

type PositionsResponse struct {
	Positions []PositionResponse `json:"positions"`
}

type NextPositionIdxResponse struct {
	NextPositionIdx uint64 `json:"next_position_idx,string"`
}

// --- collaborator wire types ---

// PairQuery asks the AMM factory for the pair trading the given assets.
type PairQuery struct {
	Pair struct {
		AssetInfos [2]model.AssetInfo `json:"asset_infos"`
	} `json:"pair"`
}

type PairInfo struct {
	AssetInfos     [2]model.AssetInfo `json:"asset_infos"`
	ContractAddr   string             `json:"contract_addr"`
	LiquidityToken string             `json:"liquidity_token"`
}

// SwapHook is the pair's CW20 hook selling the sent tokens.
type SwapHook struct {
	Swap struct {
		BeliefPrice *decimal.Decimal `json:"belief_price,omitempty"`
		MaxSpread   *decimal.Decimal `json:"max_spread,omitempty"`
		To          *string          `json:"to,omitempty"`
	} `json:"swap"`
}

type LockPositionFundsHook struct {
	PositionIdx uint64 `json:"position_idx,string"`
	Receiver    string `json:"receiver"`
}

type ReleasePositionFunds struct {
	PositionIdx uint64 `json:"position_idx,string"`
}

type LockMsg struct {
	LockPositionFundsHook *LockPositionFundsHook `json:"lock_position_funds_hook,omitempty"`
	ReleasePositionFunds  *ReleasePositionFunds  `json:"release_position_funds,omitempty"`
}

type ShortToken struct {
	AssetToken string          `json:"asset_token"`
	StakerAddr string          `json:"staker_addr"`
	Amount     decimal.Decimal `json:"amount"`
}

type StakingMsg struct {
	IncreaseShortToken *ShortToken `json:"increase_short_token,omitempty"`
	DecreaseShortToken *ShortToken `json:"decrease_short_token,omitempty"`
}
