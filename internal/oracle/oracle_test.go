package oracle_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/mirror-engine/internal/fixed"
	"github.com/atmx/mirror-engine/internal/host"
	"github.com/atmx/mirror-engine/internal/oracle"
	"github.com/atmx/mirror-engine/internal/store"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func setup(t *testing.T) *host.Chain {
	t.Helper()
	ctx := context.Background()
	c := host.NewChain(store.NewMemoryStore())
	c.Register("oracle", oracle.New())
	_, err := c.Instantiate(ctx, "owner", "oracle", oracle.InstantiateMsg{Owner: "owner", BaseAsset: "uusd"}, nil)
	require.NoError(t, err)
	_, err = c.Execute(ctx, "owner", "oracle", oracle.ExecuteMsg{RegisterAsset: &oracle.RegisterAsset{Asset: "mTSLA", Feeder: "feeder"}}, nil)
	require.NoError(t, err)
	return c
}

func feed(t *testing.T, c *host.Chain, sender, asset, price string) error {
	t.Helper()
	_, err := c.Execute(context.Background(), sender, "oracle", oracle.ExecuteMsg{FeedPrice: &oracle.FeedPrice{
		Prices: []oracle.PriceFeed{{Asset: asset, Price: d(price)}},
	}}, nil)
	return err
}

func TestFeedPrice_OnlyFeeder(t *testing.T) {
	c := setup(t)
	assert.ErrorIs(t, feed(t, c, "mallory", "mTSLA", "100"), host.ErrUnauthorized)
	assert.ErrorIs(t, feed(t, c, "feeder", "mAAPL", "100"), oracle.ErrUnknownFeeder)
	assert.ErrorIs(t, feed(t, c, "feeder", "mTSLA", "0"), oracle.ErrInvalidPrice)
}

func TestPrice_CrossRate(t *testing.T) {
	ctx := context.Background()
	c := setup(t)
	require.NoError(t, feed(t, c, "feeder", "mTSLA", "700"))

	res, err := oracle.QueryPrice(ctx, c, "oracle", "mTSLA", "uusd")
	require.NoError(t, err)
	assert.True(t, res.Rate.Equal(d("700")))
	assert.Equal(t, c.Block().Seconds(), res.LastUpdatedBase)
	assert.Equal(t, fixed.NeverStale, res.LastUpdatedQuote)

	res, err = oracle.QueryPrice(ctx, c, "oracle", "uusd", "mTSLA")
	require.NoError(t, err)
	assert.True(t, res.Rate.Equal(d("0.001428571428571428")), "got %s", res.Rate)
}

func TestPrice_Missing(t *testing.T) {
	c := setup(t)
	_, err := oracle.QueryPrice(context.Background(), c, "oracle", "mTSLA", "uusd")
	assert.ErrorIs(t, err, oracle.ErrNoPrice)
}

func TestPrice_TimestampFollowsBlock(t *testing.T) {
	ctx := context.Background()
	c := setup(t)
	_, err := c.NextBlock(ctx, 30*time.Second)
	require.NoError(t, err)
	require.NoError(t, feed(t, c, "feeder", "mTSLA", "10"))

	var prices oracle.PricesResponse
	require.NoError(t, c.Query(ctx, "oracle", oracle.QueryMsg{Prices: &oracle.PricesQuery{}}, &prices))
	require.Len(t, prices.Prices, 1)
	assert.Equal(t, "mTSLA", prices.Prices[0].Asset)
	assert.Equal(t, c.Block().Seconds(), prices.Prices[0].LastUpdatedTime)
}
