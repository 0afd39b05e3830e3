package mint

import (
	"context"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/atmx/mirror-engine/internal/cw20"
	"github.com/atmx/mirror-engine/internal/fixed"
	"github.com/atmx/mirror-engine/internal/host"
	"github.com/atmx/mirror-engine/internal/model"
)

func (h *handler) openPosition(ctx context.Context, sender string, coll model.Asset, assetInfo model.AssetInfo, ratio decimal.Decimal, short *ShortParams) (*host.Response, error) {
	if !coll.Amount.IsPositive() {
		return nil, ErrWrongCollateral
	}
	if err := assertWhole(coll.Amount); err != nil {
		return nil, err
	}
	if err := coll.Info.Validate(); err != nil {
		return nil, err
	}
	cq, err := liveCollateralPrice(ctx, h.deps, h.env, h.cfg, coll.Info)
	if err != nil {
		return nil, err
	}

	if assetInfo.Token == nil {
		return nil, ErrWrongAsset
	}
	token := assetInfo.Token.ContractAddr
	ac, err := loadAssetConfig(ctx, h.deps.Storage, token)
	if err != nil {
		return nil, err
	}
	if err := assertNotMigrated(ac); err != nil {
		return nil, err
	}
	if err := assertMintPeriod(h.env, ac); err != nil {
		return nil, err
	}
	if err := assertPreIPOCollateral(h.cfg, ac, coll.Info); err != nil {
		return nil, err
	}
	if short != nil && ac.IPOParams != nil {
		return nil, ErrPreIPOShort
	}
	if ratio.LessThan(minRatio(ac, cq)) {
		return nil, ErrCollateralRatioTooLow
	}

	ap, err := assetPrice(ctx, h.deps, h.env, h.cfg, ac)
	if err != nil {
		return nil, err
	}
	priceInAsset, err := fixed.Ratio(cq.Price, ap)
	if err != nil {
		return nil, err
	}
	inv, err := fixed.Inv(ratio)
	if err != nil {
		return nil, err
	}
	mintAmount := fixed.MulFloor(fixed.MulFloor(coll.Amount, priceInAsset), inv)
	if !mintAmount.IsPositive() {
		return nil, ErrCollateralTooSmall
	}

	p := Position{
		Owner:      sender,
		Collateral: coll,
		Asset:      model.Asset{Info: assetInfo, Amount: mintAmount},
	}
	if err := createPosition(ctx, h.deps.Storage, &p, short != nil); err != nil {
		return nil, err
	}

	var msgs []host.Msg
	if short != nil {
		msgs, err = h.shortMsgs(ctx, token, p.Idx, sender, mintAmount, short)
	} else {
		var m host.Msg
		m, err = cw20.MintMsg(token, sender, mintAmount)
		msgs = []host.Msg{m}
	}
	if err != nil {
		return nil, err
	}

	return host.NewResponse().
		AddAttribute("action", "open_position").
		AddAttribute("position_idx", strconv.FormatUint(p.Idx, 10)).
		AddAttribute("mint_amount", p.Asset.String()).
		AddAttribute("collateral_amount", coll.String()).
		AddAttribute("is_short", strconv.FormatBool(short != nil)).
		AddMessages(msgs...), nil
}

// shortMsgs mints amount to this contract, sells it into the base-denom
// pair with the proceeds going to the lock contract, locks them for owner
// and registers the short with staking.
func (h *handler) shortMsgs(ctx context.Context, token string, idx uint64, owner string, amount decimal.Decimal, sp *ShortParams) ([]host.Msg, error) {
	var pq PairQuery
	pq.Pair.AssetInfos = [2]model.AssetInfo{model.Native(h.cfg.BaseDenom), model.Token(token)}
	var pair PairInfo
	if err := h.deps.Querier.QueryWasm(ctx, h.cfg.TerraswapFactory, pq, &pair); err != nil {
		return nil, err
	}

	var swap SwapHook
	lock := h.cfg.Lock
	swap.Swap.BeliefPrice = sp.BeliefPrice
	swap.Swap.MaxSpread = sp.MaxSpread
	swap.Swap.To = &lock

	mintMsg, err := cw20.MintMsg(token, h.env.Contract, amount)
	if err != nil {
		return nil, err
	}
	sendMsg, err := cw20.SendMsg(token, pair.ContractAddr, amount, swap)
	if err != nil {
		return nil, err
	}
	lockMsg, err := host.ExecuteMsg(lock, LockMsg{LockPositionFundsHook: &LockPositionFundsHook{PositionIdx: idx, Receiver: owner}})
	if err != nil {
		return nil, err
	}
	stakeMsg, err := host.ExecuteMsg(h.cfg.Staking, StakingMsg{IncreaseShortToken: &ShortToken{
		AssetToken: token, StakerAddr: owner, Amount: amount,
	}})
	if err != nil {
		return nil, err
	}
	return []host.Msg{mintMsg, sendMsg, lockMsg, stakeMsg}, nil
}

// closeShortMsgs reports a short reduction to staking and, when the position
// is gone, releases its locked funds.
func (h *handler) closeShortMsgs(token string, p Position, amount decimal.Decimal, closed bool) ([]host.Msg, error) {
	dec, err := host.ExecuteMsg(h.cfg.Staking, StakingMsg{DecreaseShortToken: &ShortToken{
		AssetToken: token, StakerAddr: p.Owner, Amount: amount,
	}})
	if err != nil {
		return nil, err
	}
	msgs := []host.Msg{dec}
	if closed {
		rel, err := h.releaseMsg(p.Idx)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, rel)
	}
	return msgs, nil
}

func (h *handler) releaseMsg(idx uint64) (host.Msg, error) {
	return host.ExecuteMsg(h.cfg.Lock, LockMsg{ReleasePositionFunds: &ReleasePositionFunds{PositionIdx: idx}})
}

// pay appends a transfer of amount of info to recipient, skipping zero
// amounts. It returns the transfer tax withheld.
func (h *handler) pay(ctx context.Context, msgs *[]host.Msg, info model.AssetInfo, amount decimal.Decimal, recipient string) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, nil
	}
	m, tax, err := cw20.AssetTransfer(ctx, h.deps.Querier, model.Asset{Info: info, Amount: amount}, recipient)
	if err != nil {
		return decimal.Zero, err
	}
	*msgs = append(*msgs, m)
	return tax, nil
}

func (h *handler) deposit(ctx context.Context, idx uint64, coll model.Asset) (*host.Response, error) {
	p, err := loadPosition(ctx, h.deps.Storage, idx)
	if err != nil {
		return nil, err
	}
	if err := assertCollateral(p, coll); err != nil {
		return nil, err
	}
	if _, err := liveCollateralPrice(ctx, h.deps, h.env, h.cfg, p.Collateral.Info); err != nil {
		return nil, err
	}
	ac, err := loadAssetConfig(ctx, h.deps.Storage, p.Asset.Info.String())
	if err != nil {
		return nil, err
	}
	if err := assertNotMigrated(ac); err != nil {
		return nil, err
	}

	p.Collateral.Amount = p.Collateral.Amount.Add(coll.Amount)
	if err := savePosition(ctx, h.deps.Storage, p); err != nil {
		return nil, err
	}
	return host.NewResponse().
		AddAttribute("action", "deposit").
		AddAttribute("position_idx", strconv.FormatUint(idx, 10)).
		AddAttribute("deposit_amount", coll.String()), nil
}

func (h *handler) withdraw(ctx context.Context, sender string, idx uint64, requested *model.Asset) (*host.Response, error) {
	p, err := loadPosition(ctx, h.deps.Storage, idx)
	if err != nil {
		return nil, err
	}
	if sender != p.Owner {
		return nil, host.Unauthorized("only the position owner may withdraw")
	}
	amount := p.Collateral.Amount
	if requested != nil {
		if err := assertCollateral(p, *requested); err != nil {
			return nil, err
		}
		if p.Collateral.Amount.LessThan(requested.Amount) {
			return nil, ErrWithdrawTooMuch
		}
		amount = requested.Amount
	}

	ac, err := loadAssetConfig(ctx, h.deps.Storage, p.Asset.Info.String())
	if err != nil {
		return nil, err
	}
	ap, err := assetPrice(ctx, h.deps, h.env, h.cfg, ac)
	if err != nil {
		return nil, err
	}
	cq, err := collateralPrice(ctx, h.deps, h.env, h.cfg, p.Collateral.Info)
	if err != nil {
		return nil, err
	}

	left := p.Collateral.Amount.Sub(amount)
	if underCollateralized(left, p.Asset.Amount, ap, cq.Price, minRatio(ac, cq)) {
		return nil, ErrWithdrawBelowMinimum
	}

	// Withdrawals from positions on a migrated asset pay the protocol fee.
	fee := decimal.Zero
	if ac.EndPrice != nil {
		fee = fixed.MulFloor(amount, h.cfg.ProtocolFeeRate)
	}
	refund := amount.Sub(fee)

	var msgs []host.Msg
	tax, err := h.pay(ctx, &msgs, p.Collateral.Info, refund, p.Owner)
	if err != nil {
		return nil, err
	}
	if _, err := h.pay(ctx, &msgs, p.Collateral.Info, fee, h.cfg.Collector); err != nil {
		return nil, err
	}

	p.Collateral.Amount = left
	closed := left.IsZero() && p.Asset.Amount.IsZero()
	if closed {
		short, err := isShort(ctx, h.deps.Storage, idx)
		if err != nil {
			return nil, err
		}
		if err := removePosition(ctx, h.deps.Storage, p); err != nil {
			return nil, err
		}
		if short {
			rel, err := h.releaseMsg(idx)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, rel)
		}
	} else if err := savePosition(ctx, h.deps.Storage, p); err != nil {
		return nil, err
	}

	return host.NewResponse().
		AddAttribute("action", "withdraw").
		AddAttribute("position_idx", strconv.FormatUint(idx, 10)).
		AddAttribute("withdraw_amount", model.Asset{Info: p.Collateral.Info, Amount: amount}.String()).
		AddAttribute("tax_amount", model.Asset{Info: p.Collateral.Info, Amount: tax}.String()).
		AddAttribute("protocol_fee", model.Asset{Info: p.Collateral.Info, Amount: fee}.String()).
		AddAttribute("closed", strconv.FormatBool(closed)).
		AddMessages(msgs...), nil
}

func (h *handler) mint(ctx context.Context, sender string, idx uint64, asset model.Asset, sp *ShortParams) (*host.Response, error) {
	p, err := loadPosition(ctx, h.deps.Storage, idx)
	if err != nil {
		return nil, err
	}
	if sender != p.Owner {
		return nil, host.Unauthorized("only the position owner may mint")
	}
	if err := assertAsset(p, asset); err != nil {
		return nil, err
	}
	token := p.Asset.Info.String()
	ac, err := loadAssetConfig(ctx, h.deps.Storage, token)
	if err != nil {
		return nil, err
	}
	if err := assertNotMigrated(ac); err != nil {
		return nil, err
	}
	cq, err := liveCollateralPrice(ctx, h.deps, h.env, h.cfg, p.Collateral.Info)
	if err != nil {
		return nil, err
	}
	if err := assertMintPeriod(h.env, ac); err != nil {
		return nil, err
	}
	short, err := isShort(ctx, h.deps.Storage, idx)
	if err != nil {
		return nil, err
	}
	if short && sp == nil {
		return nil, ErrShortParamsRequired
	}
	ap, err := assetPrice(ctx, h.deps, h.env, h.cfg, ac)
	if err != nil {
		return nil, err
	}

	minted := p.Asset.Amount.Add(asset.Amount)
	if underCollateralized(p.Collateral.Amount, minted, ap, cq.Price, minRatio(ac, cq)) {
		return nil, ErrMintBelowMinimum
	}
	p.Asset.Amount = minted
	if err := savePosition(ctx, h.deps.Storage, p); err != nil {
		return nil, err
	}

	var msgs []host.Msg
	if short {
		msgs, err = h.shortMsgs(ctx, token, idx, p.Owner, asset.Amount, sp)
	} else {
		var m host.Msg
		m, err = cw20.MintMsg(token, p.Owner, asset.Amount)
		msgs = []host.Msg{m}
	}
	if err != nil {
		return nil, err
	}
	return host.NewResponse().
		AddAttribute("action", "mint").
		AddAttribute("position_idx", strconv.FormatUint(idx, 10)).
		AddAttribute("mint_amount", asset.String()).
		AddMessages(msgs...), nil
}

// burn repays minted tokens already held by this contract. Tokens of a
// migrated asset may be burnt by anyone against any position and redeem
// collateral at the end price; otherwise only the owner may burn and the
// refund is the burnt share of the collateral.
func (h *handler) burn(ctx context.Context, sender string, idx uint64, asset model.Asset) (*host.Response, error) {
	p, err := loadPosition(ctx, h.deps.Storage, idx)
	if err != nil {
		return nil, err
	}
	if err := assertAsset(p, asset); err != nil {
		return nil, err
	}
	token := p.Asset.Info.String()
	ac, err := loadAssetConfig(ctx, h.deps.Storage, token)
	if err != nil {
		return nil, err
	}
	burnAmount := asset.Amount
	if p.Asset.Amount.LessThan(burnAmount) {
		return nil, ErrBurnTooMuch
	}
	if err := assertBurnPeriod(h.env, ac); err != nil {
		return nil, err
	}
	short, err := isShort(ctx, h.deps.Storage, idx)
	if err != nil {
		return nil, err
	}
	cq, err := collateralPrice(ctx, h.deps, h.env, h.cfg, p.Collateral.Info)
	if err != nil {
		return nil, err
	}

	var refund, fee decimal.Decimal
	if ac.EndPrice != nil {
		priceInColl, err := fixed.Ratio(*ac.EndPrice, cq.Price)
		if err != nil {
			return nil, err
		}
		byPrice := fixed.MulFloor(burnAmount, priceInColl)
		byShare, err := fixed.MulDivFloor(burnAmount, p.Collateral.Amount, p.Asset.Amount)
		if err != nil {
			return nil, err
		}
		refund = fixed.Min(byPrice, byShare)
		fee = fixed.Min(fixed.MulFloor(byPrice, h.cfg.ProtocolFeeRate), refund)
		p.Collateral.Amount = p.Collateral.Amount.Sub(refund)
		refund = refund.Sub(fee)
	} else {
		if sender != p.Owner {
			return nil, host.Unauthorized("only the position owner may burn")
		}
		ap, err := assetPrice(ctx, h.deps, h.env, h.cfg, ac)
		if err != nil {
			return nil, err
		}
		priceInColl, err := fixed.Ratio(ap, cq.Price)
		if err != nil {
			return nil, err
		}
		fee = fixed.Min(fixed.MulFloor(fixed.MulFloor(burnAmount, priceInColl), h.cfg.ProtocolFeeRate), p.Collateral.Amount)
		remaining := p.Collateral.Amount.Sub(fee)
		if burnAmount.Equal(p.Asset.Amount) {
			refund = remaining
		} else if refund, err = fixed.MulDivFloor(remaining, burnAmount, p.Asset.Amount); err != nil {
			return nil, err
		}
		p.Collateral.Amount = remaining.Sub(refund)
	}
	p.Asset.Amount = p.Asset.Amount.Sub(burnAmount)

	burnMsg, err := cw20.BurnMsg(token, burnAmount)
	if err != nil {
		return nil, err
	}
	msgs := []host.Msg{burnMsg}
	if _, err := h.pay(ctx, &msgs, p.Collateral.Info, fee, h.cfg.Collector); err != nil {
		return nil, err
	}
	tax, err := h.pay(ctx, &msgs, p.Collateral.Info, refund, sender)
	if err != nil {
		return nil, err
	}

	closed := p.Asset.Amount.IsZero()
	if closed {
		// Whatever collateral is left belongs to the owner.
		if _, err := h.pay(ctx, &msgs, p.Collateral.Info, p.Collateral.Amount, p.Owner); err != nil {
			return nil, err
		}
		if err := removePosition(ctx, h.deps.Storage, p); err != nil {
			return nil, err
		}
	} else if err := savePosition(ctx, h.deps.Storage, p); err != nil {
		return nil, err
	}
	if short {
		more, err := h.closeShortMsgs(token, p, burnAmount, closed)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, more...)
	}

	info := p.Collateral.Info
	return host.NewResponse().
		AddAttribute("action", "burn").
		AddAttribute("position_idx", strconv.FormatUint(idx, 10)).
		AddAttribute("burn_amount", asset.String()).
		AddAttribute("protocol_fee", model.Asset{Info: info, Amount: fee}.String()).
		AddAttribute("refund_collateral_amount", model.Asset{Info: info, Amount: refund}.String()).
		AddAttribute("tax_amount", model.Asset{Info: info, Amount: tax}.String()).
		AddAttribute("closed", strconv.FormatBool(closed)).
		AddMessages(msgs...), nil
}

// auction sells position collateral at a discount to whoever repays its
// debt, once the position has fallen below its minimum collateral ratio.
func (h *handler) auction(ctx context.Context, sender string, idx uint64, asset model.Asset) (*host.Response, error) {
	p, err := loadPosition(ctx, h.deps.Storage, idx)
	if err != nil {
		return nil, err
	}
	if err := assertAsset(p, asset); err != nil {
		return nil, err
	}
	token := p.Asset.Info.String()
	ac, err := loadAssetConfig(ctx, h.deps.Storage, token)
	if err != nil {
		return nil, err
	}
	offer := asset.Amount
	if offer.GreaterThan(p.Asset.Amount) {
		return nil, ErrLiquidateTooMuch
	}
	ap, err := assetPrice(ctx, h.deps, h.env, h.cfg, ac)
	if err != nil {
		return nil, err
	}
	cq, err := collateralPrice(ctx, h.deps, h.env, h.cfg, p.Collateral.Info)
	if err != nil {
		return nil, err
	}
	if !underCollateralized(p.Collateral.Amount, p.Asset.Amount, ap, cq.Price, minRatio(ac, cq)) {
		return nil, ErrSafelyCollateralized
	}

	priceInColl, err := fixed.Ratio(ap, cq.Price)
	if err != nil {
		return nil, err
	}
	discounted := fixed.Mul(priceInColl, fixed.One.Add(ac.AuctionDiscount))
	value := fixed.MulFloor(offer, discounted)

	var msgs []host.Msg
	returned, refundAsset := value, decimal.Zero
	if value.GreaterThan(p.Collateral.Amount) {
		// The offer buys more than the position holds; give back the excess.
		inv, err := fixed.Inv(discounted)
		if err != nil {
			return nil, err
		}
		returned = p.Collateral.Amount
		refundAsset = fixed.MulFloor(value.Sub(p.Collateral.Amount), inv)
		if _, err := h.pay(ctx, &msgs, p.Asset.Info, refundAsset, sender); err != nil {
			return nil, err
		}
	}
	liquidated := offer.Sub(refundAsset)
	leftAsset := p.Asset.Amount.Sub(liquidated)
	leftColl := p.Collateral.Amount.Sub(returned)

	short, err := isShort(ctx, h.deps.Storage, idx)
	if err != nil {
		return nil, err
	}
	closed := leftColl.IsZero() || leftAsset.IsZero()
	if closed {
		if err := removePosition(ctx, h.deps.Storage, p); err != nil {
			return nil, err
		}
		if !leftColl.IsZero() {
			if _, err := h.pay(ctx, &msgs, p.Collateral.Info, leftColl, p.Owner); err != nil {
				return nil, err
			}
		}
	} else {
		p.Asset.Amount = leftAsset
		p.Collateral.Amount = leftColl
		if err := savePosition(ctx, h.deps.Storage, p); err != nil {
			return nil, err
		}
	}

	burnMsg, err := cw20.BurnMsg(token, liquidated)
	if err != nil {
		return nil, err
	}
	msgs = append(msgs, burnMsg)

	fee := fixed.MulFloor(returned, h.cfg.ProtocolFeeRate)
	tax, err := h.pay(ctx, &msgs, p.Collateral.Info, returned.Sub(fee), sender)
	if err != nil {
		return nil, err
	}
	if _, err := h.pay(ctx, &msgs, p.Collateral.Info, fee, h.cfg.Collector); err != nil {
		return nil, err
	}
	if short {
		more, err := h.closeShortMsgs(token, p, liquidated, closed)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, more...)
	}

	info := p.Collateral.Info
	return host.NewResponse().
		AddAttribute("action", "auction").
		AddAttribute("position_idx", strconv.FormatUint(idx, 10)).
		AddAttribute("owner", p.Owner).
		AddAttribute("return_collateral_amount", model.Asset{Info: info, Amount: returned.Sub(fee)}.String()).
		AddAttribute("liquidated_amount", model.Asset{Info: p.Asset.Info, Amount: liquidated}.String()).
		AddAttribute("tax_amount", model.Asset{Info: info, Amount: tax}.String()).
		AddAttribute("protocol_fee", model.Asset{Info: info, Amount: fee}.String()).
		AddAttribute("closed", strconv.FormatBool(closed)).
		AddMessages(msgs...), nil
}
