package collateral_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/mirror-engine/internal/collateral"
	"github.com/atmx/mirror-engine/internal/fixed"
	"github.com/atmx/mirror-engine/internal/host"
	"github.com/atmx/mirror-engine/internal/model"
	"github.com/atmx/mirror-engine/internal/oracle"
	"github.com/atmx/mirror-engine/internal/store"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type env struct {
	t     *testing.T
	chain *host.Chain
}

func setup(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	c := host.NewChain(store.NewMemoryStore())
	c.Register("oracle", oracle.New())
	c.Register("collateral", collateral.New())

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
	return &env{t: t, chain: c}
}

func (e *env) exec(sender string, msg collateral.ExecuteMsg) error {
	_, err := e.chain.Execute(context.Background(), sender, "collateral", msg, nil)
	return err
}

func (e *env) register(asset model.AssetInfo, src collateral.SourceType, multiplier string) {
	e.t.Helper()
	require.NoError(e.t, e.exec("owner", collateral.ExecuteMsg{RegisterCollateralAsset: &collateral.RegisterCollateralAsset{
		Asset: asset, PriceSource: src, Multiplier: d(multiplier),
	}}))
}

func (e *env) feed(asset, price string) {
	e.t.Helper()
	ctx := context.Background()
	_, err := e.chain.Execute(ctx, "owner", "oracle", oracle.ExecuteMsg{RegisterAsset: &oracle.RegisterAsset{Asset: asset, Feeder: "feeder"}}, nil)
	require.NoError(e.t, err)
	_, err = e.chain.Execute(ctx, "feeder", "oracle", oracle.ExecuteMsg{FeedPrice: &oracle.FeedPrice{
		Prices: []oracle.PriceFeed{{Asset: asset, Price: d(price)}},
	}}, nil)
	require.NoError(e.t, err)
}

func (e *env) stub(addr, variant string, resp any) {
	e.t.Helper()
	s := host.NewStub()
	require.NoError(e.t, s.SetResponse(variant, resp))
	e.chain.Register(addr, s)
}

func (e *env) price(asset string) (collateral.CollateralPriceResponse, error) {
	return collateral.QueryPrice(context.Background(), e.chain, "collateral", asset, e.chain.Block().Seconds())
}

func TestRegister_Permissions(t *testing.T) {
	e := setup(t)
	msg := collateral.ExecuteMsg{RegisterCollateralAsset: &collateral.RegisterCollateralAsset{
		Asset: model.Token("anc"), PriceSource: collateral.Fixed(d("1")), Multiplier: d("1"),
	}}
	assert.ErrorIs(t, e.exec("mallory", msg), host.ErrUnauthorized)
	require.NoError(t, e.exec("mint", msg))
	assert.ErrorIs(t, e.exec("owner", msg), collateral.ErrAlreadyRegistered)
}

func TestRegister_RejectsNonPositiveMultiplier(t *testing.T) {
	e := setup(t)
	err := e.exec("owner", collateral.ExecuteMsg{RegisterCollateralAsset: &collateral.RegisterCollateralAsset{
		Asset: model.Token("anc"), PriceSource: collateral.Fixed(d("1")), Multiplier: decimal.Zero,
	}})
	assert.ErrorIs(t, err, collateral.ErrInvalidMultiplier)
}

func TestPrice_Fixed(t *testing.T) {
	e := setup(t)
	e.register(model.Token("anc"), collateral.Fixed(d("1")), "1")

	res, err := e.price("anc")
	require.NoError(t, err)
	assert.True(t, res.Rate.Equal(d("1")))
	assert.Equal(t, fixed.NeverStale, res.LastUpdated)

	require.NoError(t, e.exec("owner", collateral.ExecuteMsg{UpdateCollateralPriceSource: &collateral.UpdateCollateralPriceSource{
		Asset: model.Token("anc"), PriceSource: collateral.Fixed(decimal.Zero),
	}}))
	res, err = e.price("anc")
	require.NoError(t, err)
	assert.True(t, res.Rate.IsZero())
}

func TestPrice_MultiplierApplied(t *testing.T) {
	e := setup(t)
	e.register(model.Token("anc"), collateral.Fixed(d("2")), "0.5")

	assert.ErrorIs(t, e.exec("owner", collateral.ExecuteMsg{UpdateCollateralMultiplier: &collateral.UpdateCollateralMultiplier{
		Asset: model.Token("anc"), Multiplier: d("2"),
	}}), host.ErrUnauthorized)

	res, err := e.price("anc")
	require.NoError(t, err)
	assert.True(t, res.Rate.Equal(d("1")), "got %s", res.Rate)

	require.NoError(t, e.exec("factory", collateral.ExecuteMsg{UpdateCollateralMultiplier: &collateral.UpdateCollateralMultiplier{
		Asset: model.Token("anc"), Multiplier: d("2"),
	}}))
	res, err = e.price("anc")
	require.NoError(t, err)
	assert.True(t, res.Rate.Equal(d("4")), "got %s", res.Rate)
}

func TestPrice_Tefi(t *testing.T) {
	e := setup(t)
	e.feed("mTSLA", "700")
	e.register(model.Token("mTSLA"), collateral.Tefi("oracle"), "1")

	res, err := e.price("mTSLA")
	require.NoError(t, err)
	assert.True(t, res.Rate.Equal(d("700")))
	assert.Equal(t, e.chain.Block().Seconds(), res.LastUpdated)
}

func TestPrice_AmmPair(t *testing.T) {
	e := setup(t)
	e.stub("pair", "pool", collateral.PoolResponse{
		Assets: [2]model.Asset{
			{Info: model.Native("uusd"), Amount: d("1")},
			{Info: model.Token("anc"), Amount: d("100")},
		},
		TotalShare: d("10"),
	})
	e.register(model.Token("anc"), collateral.Pair("pair", ""), "1")

	res, err := e.price("anc")
	require.NoError(t, err)
	assert.True(t, res.Rate.Equal(d("0.01")), "got %s", res.Rate)
}

func TestPrice_AmmPairIntermediate(t *testing.T) {
	e := setup(t)
	e.feed("uluna", "5")
	e.stub("pair", "pool", collateral.PoolResponse{
		Assets: [2]model.Asset{
			{Info: model.Native("uluna"), Amount: d("18")},
			{Info: model.Token("bluna"), Amount: d("2")},
		},
		TotalShare: d("6"),
	})
	e.register(model.Token("bluna"), collateral.Pair("pair", "uluna"), "1")

	res, err := e.price("bluna")
	require.NoError(t, err)
	assert.True(t, res.Rate.Equal(d("45")), "got %s", res.Rate)
}

func TestPrice_AmmPairInvalidPool(t *testing.T) {
	e := setup(t)
	e.stub("pair", "pool", collateral.PoolResponse{
		Assets: [2]model.Asset{
			{Info: model.Token("anc"), Amount: d("1")},
			{Info: model.Token("mir"), Amount: d("1")},
		},
	})
	e.register(model.Token("anc"), collateral.Pair("pair", ""), "1")

	_, err := e.price("anc")
	assert.ErrorIs(t, err, collateral.ErrInvalidPool)
}

func TestPrice_Lunax(t *testing.T) {
	e := setup(t)
	e.feed("uluna", "5")
	e.stub("lunax_hub", "state", collateral.LunaxStateResponse{State: collateral.LunaxState{ExchangeRate: d("1.1")}})
	e.register(model.Token("lunax"), collateral.SourceType{Lunax: &collateral.Lunax{StakingContractAddr: "lunax_hub"}}, "1")

	res, err := e.price("lunax")
	require.NoError(t, err)
	assert.True(t, res.Rate.Equal(d("5.5")), "got %s", res.Rate)
}

func TestPrice_AnchorMarket(t *testing.T) {
	e := setup(t)
	e.stub("market", "epoch_state", collateral.EpochStateResponse{ExchangeRate: d("1.25"), AterraSupply: d("1000")})
	e.register(model.Token("aust"), collateral.SourceType{AnchorMarket: &collateral.AnchorMarket{AnchorMarketAddr: "market"}}, "1")

	res, err := e.price("aust")
	require.NoError(t, err)
	assert.True(t, res.Rate.Equal(d("1.25")))
	assert.Equal(t, fixed.NeverStale, res.LastUpdated)
}

func TestPrice_Native(t *testing.T) {
	e := setup(t)
	e.feed("uluna", "5")
	e.register(model.Native("uluna"), collateral.SourceType{Native: &collateral.Native{NativeDenom: "uluna"}}, "1")

	res, err := e.price("uluna")
	require.NoError(t, err)
	assert.True(t, res.Rate.Equal(d("5")))
}

func TestRevoke_StillPriced(t *testing.T) {
	e := setup(t)
	e.register(model.Token("anc"), collateral.Fixed(d("3")), "1")

	assert.ErrorIs(t, e.exec("owner", collateral.ExecuteMsg{RevokeCollateralAsset: &collateral.RevokeCollateralAsset{
		Asset: model.Token("mir"),
	}}), collateral.ErrNotFound)
	require.NoError(t, e.exec("mint", collateral.ExecuteMsg{RevokeCollateralAsset: &collateral.RevokeCollateralAsset{
		Asset: model.Token("anc"),
	}}))

	res, err := e.price("anc")
	require.NoError(t, err)
	assert.True(t, res.IsRevoked)
	assert.True(t, res.Rate.Equal(d("3")))

	require.NoError(t, e.exec("owner", collateral.ExecuteMsg{ReinstateCollateralAsset: &collateral.ReinstateCollateralAsset{
		Asset: model.Token("anc"),
	}}))
	res, err = e.price("anc")
	require.NoError(t, err)
	assert.False(t, res.IsRevoked)
}

func TestPrice_UnknownAsset(t *testing.T) {
	e := setup(t)
	_, err := e.price("nothing")
	assert.ErrorIs(t, err, collateral.ErrAssetNotFound)
}

func TestCollateralsInfo_Pagination(t *testing.T) {
	e := setup(t)
	e.register(model.Token("a"), collateral.Fixed(d("1")), "1")
	e.register(model.Token("b"), collateral.Tefi("oracle"), "1")
	e.register(model.Token("c"), collateral.Pair("pair", ""), "1")

	var res collateral.CollateralsInfoResponse
	limit := uint32(2)
	require.NoError(t, e.chain.Query(context.Background(), "collateral", collateral.QueryMsg{
		CollateralsInfo: &collateral.CollateralsInfoQuery{Limit: &limit},
	}, &res))
	require.Len(t, res.Collaterals, 2)
	assert.Equal(t, "a", res.Collaterals[0].Asset)
	assert.Equal(t, "fixed_price", res.Collaterals[0].SourceType)
	assert.Equal(t, "tefi_oracle", res.Collaterals[1].SourceType)

	after := "b"
	require.NoError(t, e.chain.Query(context.Background(), "collateral", collateral.QueryMsg{
		CollateralsInfo: &collateral.CollateralsInfoQuery{StartAfter: &after},
	}, &res))
	require.Len(t, res.Collaterals, 1)
	assert.Equal(t, "amm_pair", res.Collaterals[0].SourceType)
}

func TestSourceType_LegacyAliases(t *testing.T) {
	var src collateral.SourceType
	require.NoError(t, json.Unmarshal([]byte(`{"terraswap":{"pair_addr":"pair"}}`), &src))
	s, err := src.Source()
	require.NoError(t, err)
	assert.Equal(t, "amm_pair", s.Name())

	require.NoError(t, json.Unmarshal([]byte(`{"terra_oracle":{"oracle_addr":"oracle"}}`), &src))
	s, err = src.Source()
	require.NoError(t, err)
	assert.Equal(t, collateral.TefiOracle{OracleAddr: "oracle"}, s)

	var empty collateral.SourceType
	_, err = empty.Source()
	assert.ErrorIs(t, err, collateral.ErrInvalidSource)
}
