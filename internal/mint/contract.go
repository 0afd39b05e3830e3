// Package mint implements the CDP engine: users lock collateral in
// positions and mint synthetic asset tokens against it, subject to a
// minimum collateral ratio enforced with prices from the price-feed hub and
// the collateral oracle. Under-collateralized positions can be liquidated by
// anyone through a discounted auction.
package mint

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/atmx/mirror-engine/internal/collateral"
	"github.com/atmx/mirror-engine/internal/cw20"
	"github.com/atmx/mirror-engine/internal/fixed"
	"github.com/atmx/mirror-engine/internal/host"
	"github.com/atmx/mirror-engine/internal/model"
	"github.com/atmx/mirror-engine/internal/store"
)

// Contract is the mint contract.
type Contract struct{}

// New returns a mint contract.
func New() *Contract { return &Contract{} }

func (c *Contract) Instantiate(ctx context.Context, deps host.Deps, _ host.Env, raw json.RawMessage) (*host.Response, error) {
	var msg InstantiateMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("mint: decode instantiate: %w", err)
	}
	if err := assertProtocolFeeRate(msg.ProtocolFeeRate); err != nil {
		return nil, err
	}
	if err := store.SaveJSON(ctx, deps.Storage, configKey, Config(msg)); err != nil {
		return nil, err
	}
	if err := store.SaveJSON(ctx, deps.Storage, positionIdxKey, uint64(1)); err != nil {
		return nil, err
	}
	return host.NewResponse().AddAttribute("action", "instantiate"), nil
}

func (c *Contract) Execute(ctx context.Context, deps host.Deps, env host.Env, raw json.RawMessage) (*host.Response, error) {
	var msg ExecuteMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("mint: decode execute: %w", err)
	}
	cfg, err := loadConfig(ctx, deps.Storage)
	if err != nil {
		return nil, err
	}
	h := &handler{deps: deps, env: env, cfg: cfg}

	switch {
	case msg.Receive != nil:
		return h.receive(ctx, *msg.Receive)
	case msg.UpdateConfig != nil:
		return h.updateConfig(ctx, msg.UpdateConfig)
	case msg.UpdateAsset != nil:
		return h.updateAsset(ctx, msg.UpdateAsset)
	case msg.RegisterAsset != nil:
		return h.registerAsset(ctx, msg.RegisterAsset)
	case msg.RegisterMigration != nil:
		return h.registerMigration(ctx, msg.RegisterMigration)
	case msg.TriggerIPO != nil:
		return h.triggerIPO(ctx, msg.TriggerIPO)
	case msg.OpenPosition != nil:
		m := msg.OpenPosition
		if err := assertSentNative(env, m.Collateral); err != nil {
			return nil, err
		}
		return h.openPosition(ctx, env.Sender, m.Collateral, m.AssetInfo, m.CollateralRatio, m.ShortParams)
	case msg.Deposit != nil:
		m := msg.Deposit
		if err := assertSentNative(env, m.Collateral); err != nil {
			return nil, err
		}
		return h.deposit(ctx, m.PositionIdx, m.Collateral)
	case msg.Withdraw != nil:
		return h.withdraw(ctx, env.Sender, msg.Withdraw.PositionIdx, msg.Withdraw.Collateral)
	case msg.Mint != nil:
		m := msg.Mint
		return h.mint(ctx, env.Sender, m.PositionIdx, m.Asset, m.ShortParams)
	}
	return nil, ErrMissingVariant
}

// receive dispatches a CW20 Send hook. The token is the caller.
func (h *handler) receive(ctx context.Context, r cw20.ReceiveMsg) (*host.Response, error) {
	var hook Cw20HookMsg
	if err := json.Unmarshal(r.Msg, &hook); err != nil {
		return nil, fmt.Errorf("mint: decode receive hook: %w", err)
	}
	sent := model.Asset{Info: model.Token(h.env.Sender), Amount: r.Amount}

	switch {
	case hook.OpenPosition != nil:
		m := hook.OpenPosition
		return h.openPosition(ctx, r.Sender, sent, m.AssetInfo, m.CollateralRatio, m.ShortParams)
	case hook.Deposit != nil:
		return h.deposit(ctx, hook.Deposit.PositionIdx, sent)
	case hook.Burn != nil:
		return h.burn(ctx, r.Sender, hook.Burn.PositionIdx, sent)
	case hook.Auction != nil:
		return h.auction(ctx, r.Sender, hook.Auction.PositionIdx, sent)
	}
	return nil, ErrMissingVariant
}

func (c *Contract) Query(ctx context.Context, deps host.Deps, _ host.Env, raw json.RawMessage) (json.RawMessage, error) {
	var msg QueryMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("mint: decode query: %w", err)
	}
	st := deps.Storage

	switch {
	case msg.Config != nil:
		cfg, err := loadConfig(ctx, st)
		if err != nil {
			return nil, err
		}
		return json.Marshal(cfg)

	case msg.AssetConfig != nil:
		ac, err := loadAssetConfig(ctx, st, msg.AssetConfig.AssetToken)
		if err != nil {
			return nil, err
		}
		return json.Marshal(ac)

	case msg.Position != nil:
		p, err := loadPosition(ctx, st, msg.Position.PositionIdx)
		if err != nil {
			return nil, err
		}
		short, err := isShort(ctx, st, p.Idx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(PositionResponse{Position: p, IsShort: short})

	case msg.Positions != nil:
		q := msg.Positions
		var (
			positions []PositionResponse
			err       error
		)
		switch {
		case q.OwnerAddr != nil:
			positions, err = readPositions(ctx, st, userPrefix(*q.OwnerAddr), true, q)
		case q.AssetToken != nil:
			positions, err = readPositions(ctx, st, assetPrefix(*q.AssetToken), true, q)
		default:
			positions, err = readPositions(ctx, st, store.Namespace("position"), false, q)
		}
		if err != nil {
			return nil, err
		}
		return json.Marshal(PositionsResponse{Positions: positions})

	case msg.NextPositionIdx != nil:
		idx, err := nextPositionIdx(ctx, st)
		if err != nil {
			return nil, err
		}
		return json.Marshal(NextPositionIdxResponse{NextPositionIdx: idx})
	}
	return nil, ErrMissingVariant
}

// handler carries the state shared by every execute path of one call.
type handler struct {
	deps host.Deps
	env  host.Env
	cfg  Config
}

func (h *handler) onlyOwner(action string) error {
	if h.env.Sender != h.cfg.Owner {
		return host.Unauthorized("only the owner may %s", action)
	}
	return nil
}

func (h *handler) updateConfig(ctx context.Context, m *UpdateConfig) (*host.Response, error) {
	if err := h.onlyOwner("update the config"); err != nil {
		return nil, err
	}
	cfg := h.cfg
	for dst, src := range map[*string]*string{
		&cfg.Owner:            m.Owner,
		&cfg.Oracle:           m.Oracle,
		&cfg.Collector:        m.Collector,
		&cfg.CollateralOracle: m.CollateralOracle,
		&cfg.Staking:          m.Staking,
		&cfg.TerraswapFactory: m.TerraswapFactory,
		&cfg.Lock:             m.Lock,
	} {
		if src != nil {
			*dst = *src
		}
	}
	if m.TokenCodeID != nil {
		cfg.TokenCodeID = *m.TokenCodeID
	}
	if m.ProtocolFeeRate != nil {
		if err := assertProtocolFeeRate(*m.ProtocolFeeRate); err != nil {
			return nil, err
		}
		cfg.ProtocolFeeRate = *m.ProtocolFeeRate
	}
	if err := store.SaveJSON(ctx, h.deps.Storage, configKey, cfg); err != nil {
		return nil, err
	}
	return host.NewResponse().AddAttribute("action", "update_config"), nil
}

func (h *handler) updateAsset(ctx context.Context, m *UpdateAsset) (*host.Response, error) {
	if err := h.onlyOwner("update an asset"); err != nil {
		return nil, err
	}
	ac, err := loadAssetConfig(ctx, h.deps.Storage, m.AssetToken)
	if err != nil {
		return nil, err
	}
	if m.AuctionDiscount != nil {
		if err := assertAuctionDiscount(*m.AuctionDiscount); err != nil {
			return nil, err
		}
		ac.AuctionDiscount = *m.AuctionDiscount
	}
	if m.MinCollateralRatio != nil {
		if err := assertMinCollateralRatio(*m.MinCollateralRatio); err != nil {
			return nil, err
		}
		ac.MinCollateralRatio = *m.MinCollateralRatio
	}
	if m.IPOParams != nil {
		if err := assertMinCollateralRatio(m.IPOParams.MinCollateralRatioAfterIPO); err != nil {
			return nil, err
		}
		ac.IPOParams = m.IPOParams
	}
	if err := saveAssetConfig(ctx, h.deps.Storage, ac); err != nil {
		return nil, err
	}
	return host.NewResponse().
		AddAttribute("action", "update_asset").
		AddAttribute("asset_token", ac.Token), nil
}

func (h *handler) registerAsset(ctx context.Context, m *RegisterAsset) (*host.Response, error) {
	if err := h.onlyOwner("register an asset"); err != nil {
		return nil, err
	}
	if err := assertAuctionDiscount(m.AuctionDiscount); err != nil {
		return nil, err
	}
	if err := assertMinCollateralRatio(m.MinCollateralRatio); err != nil {
		return nil, err
	}
	if m.IPOParams != nil {
		if err := assertMinCollateralRatio(m.IPOParams.MinCollateralRatioAfterIPO); err != nil {
			return nil, err
		}
	}
	if _, ok, err := maybeAssetConfig(ctx, h.deps.Storage, m.AssetToken); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAssetRegistered
	}

	ac := AssetConfig{
		Token:              m.AssetToken,
		AuctionDiscount:    m.AuctionDiscount,
		MinCollateralRatio: m.MinCollateralRatio,
		IPOParams:          m.IPOParams,
	}
	if err := saveAssetConfig(ctx, h.deps.Storage, ac); err != nil {
		return nil, err
	}

	res := host.NewResponse().
		AddAttribute("action", "register").
		AddAttribute("asset_token", m.AssetToken)
	// Pre-IPO assets become collateral only once the IPO is triggered.
	if m.IPOParams == nil {
		msg, err := h.registerCollateralMsg(m.AssetToken)
		if err != nil {
			return nil, err
		}
		res.AddMessages(msg)
	}
	return res, nil
}

func (h *handler) registerCollateralMsg(token string) (host.Msg, error) {
	return host.ExecuteMsg(h.cfg.CollateralOracle, collateral.ExecuteMsg{
		RegisterCollateralAsset: &collateral.RegisterCollateralAsset{
			Asset:       model.Token(token),
			PriceSource: collateral.Tefi(h.cfg.Oracle),
			Multiplier:  fixed.One,
		},
	})
}

func (h *handler) registerMigration(ctx context.Context, m *RegisterMigration) (*host.Response, error) {
	if err := h.onlyOwner("migrate an asset"); err != nil {
		return nil, err
	}
	ac, err := loadAssetConfig(ctx, h.deps.Storage, m.AssetToken)
	if err != nil {
		return nil, err
	}
	if ac.EndPrice != nil {
		return nil, ErrAssetMigrated
	}
	wasPreIPO := ac.IPOParams != nil

	end := m.EndPrice
	ac.EndPrice = &end
	ac.MinCollateralRatio = fixed.One
	ac.IPOParams = nil
	if err := saveAssetConfig(ctx, h.deps.Storage, ac); err != nil {
		return nil, err
	}

	res := host.NewResponse().
		AddAttribute("action", "migrate_asset").
		AddAttribute("asset_token", m.AssetToken).
		AddAttribute("end_price", end.String())
	// A pre-IPO asset was never registered as collateral.
	if !wasPreIPO {
		msg, err := host.ExecuteMsg(h.cfg.CollateralOracle, collateral.ExecuteMsg{
			RevokeCollateralAsset: &collateral.RevokeCollateralAsset{Asset: model.Token(m.AssetToken)},
		})
		if err != nil {
			return nil, err
		}
		res.AddMessages(msg)
	}
	return res, nil
}

func (h *handler) triggerIPO(ctx context.Context, m *TriggerIPO) (*host.Response, error) {
	ac, err := loadAssetConfig(ctx, h.deps.Storage, m.AssetToken)
	if err != nil {
		return nil, err
	}
	if ac.IPOParams == nil {
		return nil, ErrNoIPOParams
	}
	if h.env.Sender != ac.IPOParams.TriggerAddr {
		return nil, host.Unauthorized("only %s may trigger the IPO", ac.IPOParams.TriggerAddr)
	}
	ac.MinCollateralRatio = ac.IPOParams.MinCollateralRatioAfterIPO
	ac.IPOParams = nil
	if err := saveAssetConfig(ctx, h.deps.Storage, ac); err != nil {
		return nil, err
	}

	msg, err := h.registerCollateralMsg(m.AssetToken)
	if err != nil {
		return nil, err
	}
	return host.NewResponse().
		AddAttribute("action", "trigger_ipo").
		AddAttribute("asset_token", m.AssetToken).
		AddMessages(msg), nil
}
