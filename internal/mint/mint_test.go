package mint_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/mirror-engine/internal/collateral"
	"github.com/atmx/mirror-engine/internal/cw20"
	"github.com/atmx/mirror-engine/internal/host"
	"github.com/atmx/mirror-engine/internal/mint"
	"github.com/atmx/mirror-engine/internal/model"
	"github.com/atmx/mirror-engine/internal/oracle"
	"github.com/atmx/mirror-engine/internal/store"
)

const (
	asset = "mTSLA"
	pair  = "pair-mTSLA"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func uusd(n int64) []model.Coin { return []model.Coin{model.NewCoin(n, "uusd")} }

type env struct {
	t       *testing.T
	chain   *host.Chain
	factory *host.Stub
	pair    *host.Stub
	lock    *host.Stub
	staking *host.Stub
}

// setup deploys the full mint stack with mTSLA registered at a 150% minimum
// ratio, 20% auction discount and a 1.5% protocol fee, priced at 1 uusd.
func setup(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	c := host.NewChain(store.NewMemoryStore())
	e := &env{
		t:       t,
		chain:   c,
		factory: host.NewStub(),
		pair:    host.NewStub(),
		lock:    host.NewStub(),
		staking: host.NewStub(),
	}
	require.NoError(t, e.factory.SetResponse("pair", mint.PairInfo{
		AssetInfos:   [2]model.AssetInfo{model.Native("uusd"), model.Token(asset)},
		ContractAddr: pair,
	}))

	c.Register("oracle", oracle.New())
	c.Register("collateral", collateral.New())
	c.Register("mint", mint.New())
	c.Register(asset, cw20.New())
	c.Register("factory", e.factory)
	c.Register(pair, e.pair)
	c.Register("lock", e.lock)
	c.Register("staking", e.staking)

	_, err := c.Instantiate(ctx, "owner", "oracle", oracle.InstantiateMsg{Owner: "owner", BaseAsset: "uusd"}, nil)
	require.NoError(t, err)
	_, err = c.Instantiate(ctx, "owner", "collateral", collateral.InstantiateMsg{
		Owner:           "owner",
		MintContract:    "mint",
		FactoryContract: "factory",
		BaseDenom:       "uusd",
		TefiOracle:      "oracle",
	}, nil)
	require.NoError(t, err)
	_, err = c.Instantiate(ctx, "owner", "mint", mint.InstantiateMsg{
		Owner:            "owner",
		Oracle:           "oracle",
		Collector:        "collector",
		CollateralOracle: "collateral",
		Staking:          "staking",
		TerraswapFactory: "factory",
		Lock:             "lock",
		BaseDenom:        "uusd",
		TokenCodeID:      1,
		ProtocolFeeRate:  d("0.015"),
	}, nil)
	require.NoError(t, err)
	_, err = c.Instantiate(ctx, "owner", asset, cw20.InstantiateMsg{
		Name: "Mirror Tesla", Symbol: asset, Decimals: 6,
		Mint: &cw20.MinterData{Minter: "mint"},
	}, nil)
	require.NoError(t, err)

	_, err = c.Execute(ctx, "owner", "oracle", oracle.ExecuteMsg{RegisterAsset: &oracle.RegisterAsset{Asset: asset, Feeder: "feeder"}}, nil)
	require.NoError(t, err)
	e.feed("1")

	require.NoError(t, e.exec("owner", mint.ExecuteMsg{RegisterAsset: &mint.RegisterAsset{
		AssetToken:         asset,
		AuctionDiscount:    d("0.2"),
		MinCollateralRatio: d("1.5"),
	}}, nil))
	return e
}

func (e *env) exec(sender string, msg mint.ExecuteMsg, funds []model.Coin) error {
	_, err := e.chain.Execute(context.Background(), sender, "mint", msg, funds)
	return err
}

func (e *env) feed(price string) { e.feedAsset(asset, price) }

func (e *env) feedAsset(token, price string) {
	e.t.Helper()
	_, err := e.chain.Execute(context.Background(), "feeder", "oracle", oracle.ExecuteMsg{FeedPrice: &oracle.FeedPrice{
		Prices: []oracle.PriceFeed{{Asset: token, Price: d(price)}},
	}}, nil)
	require.NoError(e.t, err)
}

// listAsset deploys and registers another mint asset priced at price, with
// balance of it already held by holder.
func (e *env) listAsset(token, price, holder string, balance int64) {
	e.t.Helper()
	ctx := context.Background()
	e.chain.Register(token, cw20.New())
	_, err := e.chain.Instantiate(ctx, "owner", token, cw20.InstantiateMsg{
		Name: token, Symbol: token, Decimals: 6,
		InitialBalances: []cw20.Balance{{Address: holder, Amount: decimal.NewFromInt(balance)}},
		Mint:            &cw20.MinterData{Minter: "mint"},
	}, nil)
	require.NoError(e.t, err)
	_, err = e.chain.Execute(ctx, "owner", "oracle", oracle.ExecuteMsg{RegisterAsset: &oracle.RegisterAsset{Asset: token, Feeder: "feeder"}}, nil)
	require.NoError(e.t, err)
	e.feedAsset(token, price)
	require.NoError(e.t, e.exec("owner", mint.ExecuteMsg{RegisterAsset: &mint.RegisterAsset{
		AssetToken:         token,
		AuctionDiscount:    d("0.2"),
		MinCollateralRatio: d("1.5"),
	}}, nil))
}

func (e *env) fund(addr string, amount int64) {
	e.t.Helper()
	require.NoError(e.t, e.chain.Mint(context.Background(), addr, uusd(amount)...))
}

// open opens a position of amount uusd and returns its index.
func (e *env) open(owner string, amount int64, ratio string, short *mint.ShortParams) uint64 {
	e.t.Helper()
	var next mint.NextPositionIdxResponse
	require.NoError(e.t, e.chain.Query(context.Background(), "mint", mint.QueryMsg{NextPositionIdx: &struct{}{}}, &next))

	e.fund(owner, amount)
	require.NoError(e.t, e.exec(owner, mint.ExecuteMsg{OpenPosition: &mint.OpenPosition{
		Collateral:      model.Asset{Info: model.Native("uusd"), Amount: decimal.NewFromInt(amount)},
		AssetInfo:       model.Token(asset),
		CollateralRatio: d(ratio),
		ShortParams:     short,
	}}, uusd(amount)))
	return next.NextPositionIdx
}

// send delivers amount of the minted token from sender to the mint contract
// with hook.
func (e *env) send(sender string, amount int64, hook mint.Cw20HookMsg) error {
	return e.sendToken(asset, sender, amount, hook)
}

func (e *env) sendToken(token, sender string, amount int64, hook mint.Cw20HookMsg) error {
	raw, err := json.Marshal(hook)
	require.NoError(e.t, err)
	_, err = e.chain.Execute(context.Background(), sender, token, cw20.ExecuteMsg{Send: &cw20.Send{
		Contract: "mint", Amount: decimal.NewFromInt(amount), Msg: raw,
	}}, nil)
	return err
}

func (e *env) transfer(from, to string, amount int64) {
	e.t.Helper()
	_, err := e.chain.Execute(context.Background(), from, asset, cw20.ExecuteMsg{Transfer: &cw20.Transfer{
		Recipient: to, Amount: decimal.NewFromInt(amount),
	}}, nil)
	require.NoError(e.t, err)
}

func (e *env) position(idx uint64) (mint.PositionResponse, error) {
	var p mint.PositionResponse
	err := e.chain.Query(context.Background(), "mint", mint.QueryMsg{Position: &mint.PositionQuery{PositionIdx: idx}}, &p)
	return p, err
}

func (e *env) tokenBalance(addr string) decimal.Decimal { return e.balanceOf(asset, addr) }

func (e *env) balanceOf(token, addr string) decimal.Decimal {
	e.t.Helper()
	var res cw20.BalanceResponse
	require.NoError(e.t, e.chain.Query(context.Background(), token, cw20.QueryMsg{Balance: &cw20.BalanceQuery{Address: addr}}, &res))
	return res.Balance
}

func (e *env) nativeBalance(addr string) decimal.Decimal {
	e.t.Helper()
	c, err := e.chain.Balance(context.Background(), addr, "uusd")
	require.NoError(e.t, err)
	return c.Amount
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(d(want)), "want %s, got %s", want, got)
}

func TestRegisterAsset_RegistersCollateral(t *testing.T) {
	e := setup(t)

	var info collateral.CollateralInfoResponse
	require.NoError(t, e.chain.Query(context.Background(), "collateral", collateral.QueryMsg{
		CollateralInfo: &collateral.CollateralInfoQuery{Asset: asset},
	}, &info))
	assert.Equal(t, "tefi_oracle", info.SourceType)
	assertAmount(t, "1", info.Multiplier)

	err := e.exec("owner", mint.ExecuteMsg{RegisterAsset: &mint.RegisterAsset{
		AssetToken: asset, AuctionDiscount: d("0.2"), MinCollateralRatio: d("1.5"),
	}}, nil)
	assert.ErrorIs(t, err, mint.ErrAssetRegistered)
}

func TestRegisterAsset_Validation(t *testing.T) {
	e := setup(t)
	reg := func(sender, discount, ratio string) error {
		return e.exec(sender, mint.ExecuteMsg{RegisterAsset: &mint.RegisterAsset{
			AssetToken: "mAAPL", AuctionDiscount: d(discount), MinCollateralRatio: d(ratio),
		}}, nil)
	}
	assert.ErrorIs(t, reg("mallory", "0.2", "1.5"), host.ErrUnauthorized)
	assert.ErrorIs(t, reg("owner", "1.1", "1.5"), mint.ErrAuctionDiscount)
	assert.ErrorIs(t, reg("owner", "0.2", "0.9"), mint.ErrMinCollateralRatio)
}

func TestOpenPosition_Short(t *testing.T) {
	e := setup(t)
	belief := d("1")
	idx := e.open("alice", 1_000_000, "1.5", &mint.ShortParams{BeliefPrice: &belief})

	p, err := e.position(idx)
	require.NoError(t, err)
	assert.True(t, p.IsShort)
	assert.Equal(t, "alice", p.Owner)
	assertAmount(t, "1000000", p.Collateral.Amount)
	assertAmount(t, "666666", p.Asset.Amount)

	// The minted tokens were sold into the pair rather than paid out.
	assertAmount(t, "0", e.tokenBalance("alice"))
	assertAmount(t, "666666", e.tokenBalance(pair))
	require.Len(t, e.pair.Calls("receive"), 1)

	locks := e.lock.Calls("lock_position_funds_hook")
	require.Len(t, locks, 1)
	assert.Equal(t, "mint", locks[0].Sender)
	var lock mint.LockPositionFundsHook
	require.NoError(t, json.Unmarshal(locks[0].Msg, &lock))
	assert.Equal(t, idx, lock.PositionIdx)
	assert.Equal(t, "alice", lock.Receiver)

	stakes := e.staking.Calls("increase_short_token")
	require.Len(t, stakes, 1)
	var st mint.ShortToken
	require.NoError(t, json.Unmarshal(stakes[0].Msg, &st))
	assert.Equal(t, "alice", st.StakerAddr)
	assertAmount(t, "666666", st.Amount)
}

func TestOpenPosition_Validation(t *testing.T) {
	e := setup(t)
	e.fund("alice", 1_000_000)
	open := func(amount int64, sent []model.Coin, ratio string) error {
		return e.exec("alice", mint.ExecuteMsg{OpenPosition: &mint.OpenPosition{
			Collateral:      model.Asset{Info: model.Native("uusd"), Amount: decimal.NewFromInt(amount)},
			AssetInfo:       model.Token(asset),
			CollateralRatio: d(ratio),
		}}, sent)
	}
	assert.ErrorIs(t, open(1000, uusd(999), "2"), mint.ErrNativeFundsMismatch)
	assert.ErrorIs(t, open(1000, uusd(1000), "1.4"), mint.ErrCollateralRatioTooLow)
	assert.ErrorIs(t, open(1, uusd(1), "2"), mint.ErrCollateralTooSmall)

	err := e.exec("alice", mint.ExecuteMsg{OpenPosition: &mint.OpenPosition{
		Collateral:      model.Asset{Info: model.Native("uusd"), Amount: d("1000")},
		AssetInfo:       model.Native("uluna"),
		CollateralRatio: d("2"),
	}}, uusd(1000))
	assert.ErrorIs(t, err, mint.ErrWrongAsset)

	// Failed transactions leave balances untouched.
	assertAmount(t, "1000000", e.nativeBalance("alice"))
}

func TestBurn_FullBurnReturnsCollateral(t *testing.T) {
	e := setup(t)
	idx := e.open("alice", 1_000_000, "2", nil)
	assertAmount(t, "500000", e.tokenBalance("alice"))

	assert.ErrorIs(t, e.send("alice", 500_000, mint.Cw20HookMsg{Burn: &mint.PositionHook{PositionIdx: idx + 1}}), store.ErrNotFound)
	require.NoError(t, e.send("alice", 500_000, mint.Cw20HookMsg{Burn: &mint.PositionHook{PositionIdx: idx}}))

	// 1.5% of the burnt value goes to the collector; the rest comes back.
	assertAmount(t, "7500", e.nativeBalance("collector"))
	assertAmount(t, "992500", e.nativeBalance("alice"))
	assertAmount(t, "0", e.nativeBalance("mint"))
	assertAmount(t, "0", e.tokenBalance("alice"))
	assertAmount(t, "0", e.tokenBalance("mint"))

	_, err := e.position(idx)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBurn_PartialIsProportional(t *testing.T) {
	e := setup(t)
	idx := e.open("alice", 1_000_000, "2", nil)
	e.transfer("alice", "bob", 100_000)

	err := e.send("bob", 100_000, mint.Cw20HookMsg{Burn: &mint.PositionHook{PositionIdx: idx}})
	assert.ErrorIs(t, err, host.ErrUnauthorized)

	require.NoError(t, e.send("alice", 100_000, mint.Cw20HookMsg{Burn: &mint.PositionHook{PositionIdx: idx}}))
	p, err := e.position(idx)
	require.NoError(t, err)
	assertAmount(t, "400000", p.Asset.Amount)
	// fee 1500, refund (1000000-1500)*100000/500000 = 199700
	assertAmount(t, "798800", p.Collateral.Amount)
	assertAmount(t, "199700", e.nativeBalance("alice"))
	assertAmount(t, "1500", e.nativeBalance("collector"))

	e.open("alice", 1_000_000, "2", nil)
	assert.ErrorIs(t, e.send("alice", 400_001, mint.Cw20HookMsg{Burn: &mint.PositionHook{PositionIdx: idx}}), mint.ErrBurnTooMuch)
}

func TestShortBurn_DecreasesAndReleases(t *testing.T) {
	e := setup(t)
	idx := e.open("alice", 1_000_000, "2", &mint.ShortParams{})
	// Buy back the sold tokens from the pair.
	e.transfer(pair, "alice", 500_000)

	require.NoError(t, e.send("alice", 500_000, mint.Cw20HookMsg{Burn: &mint.PositionHook{PositionIdx: idx}}))
	require.Len(t, e.staking.Calls("decrease_short_token"), 1)
	releases := e.lock.Calls("release_position_funds")
	require.Len(t, releases, 1)
	var rel mint.ReleasePositionFunds
	require.NoError(t, json.Unmarshal(releases[0].Msg, &rel))
	assert.Equal(t, idx, rel.PositionIdx)
}

func TestDeposit_AnyoneMayAdd(t *testing.T) {
	e := setup(t)
	idx := e.open("alice", 1_000_000, "2", nil)
	e.fund("bob", 500)

	require.NoError(t, e.exec("bob", mint.ExecuteMsg{Deposit: &mint.Deposit{
		PositionIdx: idx,
		Collateral:  model.Asset{Info: model.Native("uusd"), Amount: d("500")},
	}}, uusd(500)))
	p, err := e.position(idx)
	require.NoError(t, err)
	assertAmount(t, "1000500", p.Collateral.Amount)

	require.NoError(t, e.chain.Mint(context.Background(), "bob", model.NewCoin(1, "uluna")))
	err = e.exec("bob", mint.ExecuteMsg{Deposit: &mint.Deposit{
		PositionIdx: idx,
		Collateral:  model.Asset{Info: model.Native("uluna"), Amount: d("1")},
	}}, []model.Coin{model.NewCoin(1, "uluna")})
	assert.ErrorIs(t, err, mint.ErrWrongCollateral)
}

func TestWithdraw_KeepsMinimumRatio(t *testing.T) {
	e := setup(t)
	idx := e.open("alice", 1_000_000, "2", nil)
	withdraw := func(sender string, amount int64) error {
		return e.exec(sender, mint.ExecuteMsg{Withdraw: &mint.Withdraw{
			PositionIdx: idx,
			Collateral:  &model.Asset{Info: model.Native("uusd"), Amount: decimal.NewFromInt(amount)},
		}}, nil)
	}

	assert.ErrorIs(t, withdraw("mallory", 1), host.ErrUnauthorized)
	assert.ErrorIs(t, withdraw("alice", 1_000_001), mint.ErrWithdrawTooMuch)
	// 500000 minted at 150% needs 750000 to stay.
	assert.ErrorIs(t, withdraw("alice", 250_001), mint.ErrWithdrawBelowMinimum)
	require.NoError(t, withdraw("alice", 250_000))

	assertAmount(t, "250000", e.nativeBalance("alice"))
	p, err := e.position(idx)
	require.NoError(t, err)
	assertAmount(t, "750000", p.Collateral.Amount)
}

func TestMint_MoreAgainstPosition(t *testing.T) {
	e := setup(t)
	idx := e.open("alice", 1_000_000, "2", nil)
	mintMore := func(amount int64) error {
		return e.exec("alice", mint.ExecuteMsg{Mint: &mint.Mint{
			PositionIdx: idx,
			Asset:       model.Asset{Info: model.Token(asset), Amount: decimal.NewFromInt(amount)},
		}}, nil)
	}

	// 666667 minted at 150% would need 1000000.5.
	assert.ErrorIs(t, mintMore(166_667), mint.ErrMintBelowMinimum)
	require.NoError(t, mintMore(166_666))
	assertAmount(t, "666666", e.tokenBalance("alice"))
}

func TestMint_ShortRequiresParams(t *testing.T) {
	e := setup(t)
	idx := e.open("alice", 1_000_000, "2", &mint.ShortParams{})
	err := e.exec("alice", mint.ExecuteMsg{Mint: &mint.Mint{
		PositionIdx: idx,
		Asset:       model.Asset{Info: model.Token(asset), Amount: d("1")},
	}}, nil)
	assert.ErrorIs(t, err, mint.ErrShortParamsRequired)
}

func TestMint_StalePrice(t *testing.T) {
	e := setup(t)
	idx := e.open("alice", 1_000_000, "2", nil)
	_, err := e.chain.NextBlock(context.Background(), 61*time.Second)
	require.NoError(t, err)

	err = e.exec("alice", mint.ExecuteMsg{Mint: &mint.Mint{
		PositionIdx: idx,
		Asset:       model.Asset{Info: model.Token(asset), Amount: d("1")},
	}}, nil)
	assert.ErrorIs(t, err, mint.ErrPriceTooOld)

	e.feed("1")
	assert.NoError(t, e.exec("alice", mint.ExecuteMsg{Mint: &mint.Mint{
		PositionIdx: idx,
		Asset:       model.Asset{Info: model.Token(asset), Amount: d("1")},
	}}, nil))
}

func TestAuction_RejectsSafePosition(t *testing.T) {
	e := setup(t)
	idx := e.open("alice", 1_000_000, "2", nil)
	e.transfer("alice", "bob", 100_000)

	err := e.send("bob", 100_000, mint.Cw20HookMsg{Auction: &mint.PositionHook{PositionIdx: idx}})
	assert.ErrorIs(t, err, mint.ErrSafelyCollateralized)
}

func TestAuction_ImprovesRatio(t *testing.T) {
	e := setup(t)
	idx := e.open("alice", 1_000_000, "2", nil)
	e.open("carol", 1_000_000, "2", nil)
	e.transfer("alice", "bob", 100_000)
	e.transfer("carol", "bob", 500_000)
	e.feed("1.5")

	assert.ErrorIs(t, e.send("bob", 500_001, mint.Cw20HookMsg{Auction: &mint.PositionHook{PositionIdx: idx}}), mint.ErrLiquidateTooMuch)
	require.NoError(t, e.send("bob", 100_000, mint.Cw20HookMsg{Auction: &mint.PositionHook{PositionIdx: idx}}))

	// 100000 at 1.5 with a 20% discount buys 180000 collateral.
	p, err := e.position(idx)
	require.NoError(t, err)
	assertAmount(t, "400000", p.Asset.Amount)
	assertAmount(t, "820000", p.Collateral.Amount)
	assertAmount(t, "177300", e.nativeBalance("bob"))
	assertAmount(t, "2700", e.nativeBalance("collector"))

	before := d("1000000").Div(d("750000"))
	after := p.Collateral.Amount.Div(p.Asset.Amount.Mul(d("1.5")))
	assert.True(t, after.GreaterThan(before))
}

func TestAuction_RefundsExcessOffer(t *testing.T) {
	e := setup(t)
	idx := e.open("alice", 1_000_000, "2", nil)
	e.transfer("alice", "bob", 500_000)
	e.feed("3")

	require.NoError(t, e.send("bob", 500_000, mint.Cw20HookMsg{Auction: &mint.PositionHook{PositionIdx: idx}}))

	// All collateral is sold; the unused part of the offer is returned.
	assertAmount(t, "222222", e.tokenBalance("bob"))
	assertAmount(t, "985000", e.nativeBalance("bob"))
	assertAmount(t, "15000", e.nativeBalance("collector"))
	assertAmount(t, "0", e.nativeBalance("mint"))
	_, err := e.position(idx)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMigration(t *testing.T) {
	e := setup(t)
	idx := e.open("alice", 1_000_000, "2", nil)
	e.transfer("alice", "bob", 100_000)

	migrate := mint.ExecuteMsg{RegisterMigration: &mint.RegisterMigration{AssetToken: asset, EndPrice: d("2")}}
	assert.ErrorIs(t, e.exec("mallory", migrate, nil), host.ErrUnauthorized)
	require.NoError(t, e.exec("owner", migrate, nil))
	assert.ErrorIs(t, e.exec("owner", migrate, nil), mint.ErrAssetMigrated)

	var ac mint.AssetConfig
	require.NoError(t, e.chain.Query(context.Background(), "mint", mint.QueryMsg{AssetConfig: &mint.AssetConfigQuery{AssetToken: asset}}, &ac))
	require.NotNil(t, ac.EndPrice)
	assertAmount(t, "2", *ac.EndPrice)
	assertAmount(t, "1", ac.MinCollateralRatio)

	var info collateral.CollateralInfoResponse
	require.NoError(t, e.chain.Query(context.Background(), "collateral", collateral.QueryMsg{
		CollateralInfo: &collateral.CollateralInfoQuery{Asset: asset},
	}, &info))
	assert.True(t, info.IsRevoked)

	e.fund("carol", 1000)
	err := e.exec("carol", mint.ExecuteMsg{OpenPosition: &mint.OpenPosition{
		Collateral:      model.Asset{Info: model.Native("uusd"), Amount: d("1000")},
		AssetInfo:       model.Token(asset),
		CollateralRatio: d("2"),
	}}, uusd(1000))
	assert.ErrorIs(t, err, mint.ErrDeprecatedAsset)

	// Anyone may burn a deprecated asset at its end price.
	require.NoError(t, e.send("bob", 100_000, mint.Cw20HookMsg{Burn: &mint.PositionHook{PositionIdx: idx}}))
	assertAmount(t, "197000", e.nativeBalance("bob"))
	assertAmount(t, "3000", e.nativeBalance("collector"))
	p, err := e.position(idx)
	require.NoError(t, err)
	assertAmount(t, "400000", p.Asset.Amount)
	assertAmount(t, "800000", p.Collateral.Amount)
}

func TestPreIPO(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	const ipo = "mIPO"
	e.chain.Register(ipo, cw20.New())
	_, err := e.chain.Instantiate(ctx, "owner", ipo, cw20.InstantiateMsg{
		Name: "Pre-IPO", Symbol: ipo, Decimals: 6, Mint: &cw20.MinterData{Minter: "mint"},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, e.exec("owner", mint.ExecuteMsg{RegisterAsset: &mint.RegisterAsset{
		AssetToken:         ipo,
		AuctionDiscount:    d("0.2"),
		MinCollateralRatio: d("2"),
		IPOParams: &mint.IPOParams{
			MintEnd:                    3,
			PreIPOPrice:                d("1"),
			MinCollateralRatioAfterIPO: d("1.5"),
			TriggerAddr:                "trigger",
		},
	}}, nil))

	// Not a collateral until the IPO.
	var info collateral.CollateralInfoResponse
	err = e.chain.Query(ctx, "collateral", collateral.QueryMsg{CollateralInfo: &collateral.CollateralInfoQuery{Asset: ipo}}, &info)
	assert.Error(t, err)

	open := func(short *mint.ShortParams) error {
		e.fund("alice", 1_000_000)
		return e.exec("alice", mint.ExecuteMsg{OpenPosition: &mint.OpenPosition{
			Collateral:      model.Asset{Info: model.Native("uusd"), Amount: d("1000000")},
			AssetInfo:       model.Token(ipo),
			CollateralRatio: d("2"),
			ShortParams:     short,
		}}, uusd(1_000_000))
	}
	require.NoError(t, open(nil))
	assert.ErrorIs(t, open(&mint.ShortParams{}), mint.ErrPreIPOShort)

	for range 3 {
		_, err := e.chain.NextBlock(ctx, 5*time.Second)
		require.NoError(t, err)
	}
	assert.ErrorIs(t, open(nil), mint.ErrMintPeriodEnded)

	trigger := mint.ExecuteMsg{TriggerIPO: &mint.TriggerIPO{AssetToken: ipo}}
	assert.ErrorIs(t, e.exec("mallory", trigger, nil), host.ErrUnauthorized)
	require.NoError(t, e.exec("trigger", trigger, nil))
	assert.ErrorIs(t, e.exec("trigger", trigger, nil), mint.ErrNoIPOParams)

	var ac mint.AssetConfig
	require.NoError(t, e.chain.Query(ctx, "mint", mint.QueryMsg{AssetConfig: &mint.AssetConfigQuery{AssetToken: ipo}}, &ac))
	assert.Nil(t, ac.IPOParams)
	assertAmount(t, "1.5", ac.MinCollateralRatio)
	require.NoError(t, e.chain.Query(ctx, "collateral", collateral.QueryMsg{CollateralInfo: &collateral.CollateralInfoQuery{Asset: ipo}}, &info))
}

func TestPositions_Pagination(t *testing.T) {
	e := setup(t)
	a1 := e.open("alice", 1000, "2", nil)
	b1 := e.open("bob", 1000, "2", nil)
	a2 := e.open("alice", 1000, "2", &mint.ShortParams{})

	query := func(q mint.PositionsQuery) []uint64 {
		var res mint.PositionsResponse
		require.NoError(t, e.chain.Query(context.Background(), "mint", mint.QueryMsg{Positions: &q}, &res))
		var ids []uint64
		for _, p := range res.Positions {
			ids = append(ids, p.Idx)
		}
		return ids
	}
	owner := "alice"
	token := asset
	asc := model.OrderAsc
	two := uint32(2)

	assert.Equal(t, []uint64{a2, a1}, query(mint.PositionsQuery{OwnerAddr: &owner}))
	assert.Equal(t, []uint64{a1, b1}, query(mint.PositionsQuery{OrderBy: &asc, Limit: &two}))
	assert.Equal(t, []uint64{a2}, query(mint.PositionsQuery{OrderBy: &asc, StartAfter: &b1}))
	assert.Equal(t, []uint64{b1, a1}, query(mint.PositionsQuery{AssetToken: &token, StartAfter: &a2}))

	var next mint.NextPositionIdxResponse
	require.NoError(t, e.chain.Query(context.Background(), "mint", mint.QueryMsg{NextPositionIdx: &struct{}{}}, &next))
	assert.Equal(t, a2+1, next.NextPositionIdx)
}

func (e *env) withdraw(sender string, idx uint64, info model.AssetInfo, amount string) error {
	return e.exec(sender, mint.ExecuteMsg{Withdraw: &mint.Withdraw{
		PositionIdx: idx,
		Collateral:  &model.Asset{Info: info, Amount: d(amount)},
	}}, nil)
}

func (e *env) mintMore(sender string, idx uint64, amount string) error {
	return e.exec(sender, mint.ExecuteMsg{Mint: &mint.Mint{
		PositionIdx: idx,
		Asset:       model.Asset{Info: model.Token(asset), Amount: d(amount)},
	}}, nil)
}

// openWithToken opens an mTSLA position backed by amount of token sent
// through a CW20 Send and returns its index.
func (e *env) openWithToken(owner, token string, amount int64, ratio string) uint64 {
	e.t.Helper()
	var next mint.NextPositionIdxResponse
	require.NoError(e.t, e.chain.Query(context.Background(), "mint", mint.QueryMsg{NextPositionIdx: &struct{}{}}, &next))
	require.NoError(e.t, e.sendToken(token, owner, amount, mint.Cw20HookMsg{OpenPosition: &mint.OpenPositionHook{
		AssetInfo:       model.Token(asset),
		CollateralRatio: d(ratio),
	}}))
	return next.NextPositionIdx
}

func TestCollateralRatio_ExactBoundary(t *testing.T) {
	e := setup(t)
	idx := e.open("alice", 2_000_002, "2", nil)
	p, err := e.position(idx)
	require.NoError(t, err)
	assertAmount(t, "1000001", p.Asset.Amount)

	// 1000001 minted at 150% needs 1500001.5 of collateral.
	uusdInfo := model.Native("uusd")
	assert.ErrorIs(t, e.withdraw("alice", idx, uusdInfo, "500001"), mint.ErrWithdrawBelowMinimum)
	require.NoError(t, e.withdraw("alice", idx, uusdInfo, "500000"))
	assert.ErrorIs(t, e.mintMore("alice", idx, "1"), mint.ErrMintBelowMinimum)

	e.transfer("alice", "bob", 1)
	assert.ErrorIs(t, e.send("bob", 1, mint.Cw20HookMsg{Auction: &mint.PositionHook{PositionIdx: idx}}), mint.ErrSafelyCollateralized)

	// A tiny price move puts 1500002 below 1500002.25 and opens the auction.
	e.feed("1.0000005")
	require.NoError(t, e.send("bob", 1, mint.Cw20HookMsg{Auction: &mint.PositionHook{PositionIdx: idx}}))
	p, err = e.position(idx)
	require.NoError(t, err)
	assertAmount(t, "1000000", p.Asset.Amount)
	assertAmount(t, "1500001", p.Collateral.Amount)
	assertAmount(t, "1", e.nativeBalance("bob"))
}

func TestFractionalAmountsRejected(t *testing.T) {
	e := setup(t)
	idx := e.open("alice", 1_000_000, "2", nil)

	assert.ErrorIs(t, e.mintMore("alice", idx, "0.5"), mint.ErrFractionalAmount)
	assert.ErrorIs(t, e.withdraw("alice", idx, model.Native("uusd"), "0.5"), mint.ErrFractionalAmount)

	raw, err := json.Marshal(mint.Cw20HookMsg{Burn: &mint.PositionHook{PositionIdx: idx}})
	require.NoError(t, err)
	_, err = e.chain.Execute(context.Background(), "alice", asset, cw20.ExecuteMsg{Send: &cw20.Send{
		Contract: "mint", Amount: d("0.5"), Msg: raw,
	}}, nil)
	assert.ErrorIs(t, err, cw20.ErrFractionalAmount)

	p, err := e.position(idx)
	require.NoError(t, err)
	assertAmount(t, "500000", p.Asset.Amount)
	assertAmount(t, "1000000", p.Collateral.Amount)
	assertAmount(t, "500000", e.tokenBalance("alice"))
}

func TestProtocolFeeRate_Range(t *testing.T) {
	e := setup(t)
	e.chain.Register("mint2", mint.New())
	_, err := e.chain.Instantiate(context.Background(), "owner", "mint2", mint.InstantiateMsg{
		Owner: "owner", BaseDenom: "uusd", ProtocolFeeRate: d("1.5"),
	}, nil)
	assert.ErrorIs(t, err, mint.ErrProtocolFeeRate)

	update := func(rate string) error {
		r := d(rate)
		return e.exec("owner", mint.ExecuteMsg{UpdateConfig: &mint.UpdateConfig{ProtocolFeeRate: &r}}, nil)
	}
	assert.ErrorIs(t, update("-0.01"), mint.ErrProtocolFeeRate)
	assert.ErrorIs(t, update("1.01"), mint.ErrProtocolFeeRate)
	require.NoError(t, update("1"))

	var cfg mint.Config
	require.NoError(t, e.chain.Query(context.Background(), "mint", mint.QueryMsg{Config: &struct{}{}}, &cfg))
	assertAmount(t, "1", cfg.ProtocolFeeRate)
}

func TestPositions_OwnerAndAssetFilter(t *testing.T) {
	e := setup(t)
	e.listAsset("mAAPL", "1", "alice", 0)
	tsla := e.open("alice", 1000, "2", nil)
	e.open("bob", 1000, "2", nil)

	e.fund("alice", 1000)
	require.NoError(t, e.exec("alice", mint.ExecuteMsg{OpenPosition: &mint.OpenPosition{
		Collateral:      model.Asset{Info: model.Native("uusd"), Amount: d("1000")},
		AssetInfo:       model.Token("mAAPL"),
		CollateralRatio: d("2"),
	}}, uusd(1000)))
	aapl := tsla + 2

	query := func(owner, token string) []uint64 {
		var res mint.PositionsResponse
		require.NoError(t, e.chain.Query(context.Background(), "mint", mint.QueryMsg{Positions: &mint.PositionsQuery{
			OwnerAddr: &owner, AssetToken: &token,
		}}, &res))
		var ids []uint64
		for _, p := range res.Positions {
			ids = append(ids, p.Idx)
		}
		return ids
	}
	assert.Equal(t, []uint64{aapl}, query("alice", "mAAPL"))
	assert.Equal(t, []uint64{tsla}, query("alice", asset))
	assert.Empty(t, query("bob", "mAAPL"))
}

func TestTokenCollateral_OpenDepositWithdraw(t *testing.T) {
	e := setup(t)
	e.listAsset("mAAPL", "2", "alice", 1_500_000)

	idx := e.openWithToken("alice", "mAAPL", 1_000_000, "2")
	p, err := e.position(idx)
	require.NoError(t, err)
	assert.True(t, p.Collateral.Info.Equal(model.Token("mAAPL")))
	assertAmount(t, "1000000", p.Collateral.Amount)
	// 1000000 mAAPL at 2 backs 1000000 mTSLA at 1 with 200%.
	assertAmount(t, "1000000", p.Asset.Amount)
	assertAmount(t, "1000000", e.tokenBalance("alice"))
	assertAmount(t, "1000000", e.balanceOf("mAAPL", "mint"))

	require.NoError(t, e.sendToken("mAAPL", "alice", 500_000, mint.Cw20HookMsg{Deposit: &mint.PositionHook{PositionIdx: idx}}))
	p, err = e.position(idx)
	require.NoError(t, err)
	assertAmount(t, "1500000", p.Collateral.Amount)

	// Token collateral cannot be claimed as attached native funds.
	err = e.exec("alice", mint.ExecuteMsg{Deposit: &mint.Deposit{
		PositionIdx: idx,
		Collateral:  model.Asset{Info: model.Token("mAAPL"), Amount: d("1")},
	}}, nil)
	assert.ErrorIs(t, err, mint.ErrWrongCollateral)

	// 1000000 minted at 150% needs 750000 mAAPL.
	assert.ErrorIs(t, e.withdraw("alice", idx, model.Token("mAAPL"), "750001"), mint.ErrWithdrawBelowMinimum)
	require.NoError(t, e.withdraw("alice", idx, model.Token("mAAPL"), "750000"))
	assertAmount(t, "750000", e.balanceOf("mAAPL", "alice"))
	assertAmount(t, "750000", e.balanceOf("mAAPL", "mint"))
}

func TestBurn_TokenCollateral(t *testing.T) {
	e := setup(t)
	e.listAsset("mAAPL", "2", "alice", 1_000_000)
	idx := e.openWithToken("alice", "mAAPL", 1_000_000, "2")

	require.NoError(t, e.send("alice", 500_000, mint.Cw20HookMsg{Burn: &mint.PositionHook{PositionIdx: idx}}))

	// 500000 mTSLA is worth 250000 mAAPL: fee 3750, then half of the rest.
	p, err := e.position(idx)
	require.NoError(t, err)
	assertAmount(t, "500000", p.Asset.Amount)
	assertAmount(t, "498125", p.Collateral.Amount)
	assertAmount(t, "498125", e.balanceOf("mAAPL", "alice"))
	assertAmount(t, "3750", e.balanceOf("mAAPL", "collector"))
	assertAmount(t, "498125", e.balanceOf("mAAPL", "mint"))
	assertAmount(t, "0", e.nativeBalance("collector"))
}

func TestMigratedAsset_TokenCollateral(t *testing.T) {
	e := setup(t)
	e.listAsset("mAAPL", "1", "alice", 1_000_000)
	e.feed("0.5")
	idx := e.openWithToken("alice", "mAAPL", 1_000_000, "1.5")
	p, err := e.position(idx)
	require.NoError(t, err)
	assertAmount(t, "1333333", p.Asset.Amount)
	e.transfer("alice", "carol", 1_333_333)

	require.NoError(t, e.exec("owner", mint.ExecuteMsg{RegisterMigration: &mint.RegisterMigration{AssetToken: asset, EndPrice: d("0.5")}}, nil))

	// The ratio drops to 100%: 1333333 at 0.5 needs 666666.5.
	aapl := model.Token("mAAPL")
	assert.ErrorIs(t, e.withdraw("alice", idx, aapl, "333334"), mint.ErrWithdrawBelowMinimum)
	require.NoError(t, e.withdraw("alice", idx, aapl, "333333"))

	// Withdrawals on a migrated asset pay the protocol fee.
	assertAmount(t, "328334", e.balanceOf("mAAPL", "alice"))
	assertAmount(t, "4999", e.balanceOf("mAAPL", "collector"))

	// Anyone may burn: 1333333 at 0.5 redeems 666666 of the 666667 held.
	require.NoError(t, e.send("carol", 1_333_333, mint.Cw20HookMsg{Burn: &mint.PositionHook{PositionIdx: idx}}))
	assertAmount(t, "656667", e.balanceOf("mAAPL", "carol"))
	assertAmount(t, "14998", e.balanceOf("mAAPL", "collector"))
	// The odd unit left over goes back to the owner.
	assertAmount(t, "328335", e.balanceOf("mAAPL", "alice"))
	assertAmount(t, "0", e.balanceOf("mAAPL", "mint"))

	_, err = e.position(idx)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMigratedCollateral(t *testing.T) {
	e := setup(t)
	e.listAsset("mAAPL", "2", "alice", 1_500_000)
	idx := e.openWithToken("alice", "mAAPL", 1_000_000, "2")

	require.NoError(t, e.exec("owner", mint.ExecuteMsg{RegisterMigration: &mint.RegisterMigration{AssetToken: "mAAPL", EndPrice: d("2")}}, nil))

	// No new exposure against migrated collateral.
	err := e.sendToken("mAAPL", "alice", 100_000, mint.Cw20HookMsg{OpenPosition: &mint.OpenPositionHook{
		AssetInfo: model.Token(asset), CollateralRatio: d("2"),
	}})
	assert.ErrorIs(t, err, mint.ErrRevokedCollateral)
	assert.ErrorIs(t, e.mintMore("alice", idx, "1"), mint.ErrRevokedCollateral)
	assert.ErrorIs(t, e.sendToken("mAAPL", "alice", 1, mint.Cw20HookMsg{Deposit: &mint.PositionHook{PositionIdx: idx}}), mint.ErrRevokedCollateral)

	// Valued at its end price with a 100% minimum: 1000000 mTSLA needs 500000 mAAPL.
	aapl := model.Token("mAAPL")
	assert.ErrorIs(t, e.withdraw("alice", idx, aapl, "500001"), mint.ErrWithdrawBelowMinimum)
	require.NoError(t, e.withdraw("alice", idx, aapl, "500000"))
	assertAmount(t, "1000000", e.balanceOf("mAAPL", "alice"))
	assertAmount(t, "0", e.balanceOf("mAAPL", "collector"))

	// Burning the live asset still refunds the migrated collateral.
	require.NoError(t, e.send("alice", 500_000, mint.Cw20HookMsg{Burn: &mint.PositionHook{PositionIdx: idx}}))
	p, err := e.position(idx)
	require.NoError(t, err)
	assertAmount(t, "500000", p.Asset.Amount)
	assertAmount(t, "248125", p.Collateral.Amount)
	assertAmount(t, "3750", e.balanceOf("mAAPL", "collector"))
	assertAmount(t, "1248125", e.balanceOf("mAAPL", "alice"))
}

func TestRevokedCollateral(t *testing.T) {
	e := setup(t)
	e.listAsset("mAAPL", "2", "alice", 2_000_000)
	idx := e.openWithToken("alice", "mAAPL", 1_000_000, "2")

	_, err := e.chain.Execute(context.Background(), "owner", "collateral", collateral.ExecuteMsg{
		RevokeCollateralAsset: &collateral.RevokeCollateralAsset{Asset: model.Token("mAAPL")},
	}, nil)
	require.NoError(t, err)

	err = e.sendToken("mAAPL", "alice", 100_000, mint.Cw20HookMsg{OpenPosition: &mint.OpenPositionHook{
		AssetInfo: model.Token(asset), CollateralRatio: d("2"),
	}})
	assert.ErrorIs(t, err, mint.ErrRevokedCollateral)
	assert.ErrorIs(t, e.mintMore("alice", idx, "1"), mint.ErrRevokedCollateral)

	// Exposure can still be reduced.
	require.NoError(t, e.withdraw("alice", idx, model.Token("mAAPL"), "100000"))
	require.NoError(t, e.send("alice", 100_000, mint.Cw20HookMsg{Burn: &mint.PositionHook{PositionIdx: idx}}))
}

func TestAuction_FullRepaymentRefundsOwner(t *testing.T) {
	e := setup(t)
	idx := e.open("alice", 1_000_000, "2", nil)
	e.transfer("alice", "bob", 500_000)
	e.feed("1.6")

	require.NoError(t, e.send("bob", 500_000, mint.Cw20HookMsg{Auction: &mint.PositionHook{PositionIdx: idx}}))

	// 500000 at 1.6 with a 20% discount buys 960000; the other 40000 is the owner's.
	assertAmount(t, "945600", e.nativeBalance("bob"))
	assertAmount(t, "14400", e.nativeBalance("collector"))
	assertAmount(t, "40000", e.nativeBalance("alice"))
	assertAmount(t, "0", e.nativeBalance("mint"))
	assertAmount(t, "0", e.tokenBalance("bob"))
	_, err := e.position(idx)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
