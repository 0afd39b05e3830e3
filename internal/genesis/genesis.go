// Package genesis loads the initial chain state from a TOML file: contract
// addresses, native balances, tokens, price feeds, registered assets and
// collaterals, and canned collaborator responses.
package genesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"github.com/atmx/mirror-engine/internal/collateral"
	"github.com/atmx/mirror-engine/internal/cw20"
	"github.com/atmx/mirror-engine/internal/host"
	"github.com/atmx/mirror-engine/internal/mint"
	"github.com/atmx/mirror-engine/internal/model"
	"github.com/atmx/mirror-engine/internal/oracle"
	"github.com/atmx/mirror-engine/internal/store"
)

var (
	ErrUnknownKeys    = errors.New("genesis: unknown keys")
	ErrMissingField   = errors.New("genesis: missing required field")
	ErrUnknownSource  = errors.New("genesis: unknown collateral source type")
	ErrAddressCollide = errors.New("genesis: address registered twice")
)

// appliedKey marks a store that already holds genesis state.
var appliedKey = store.Key("genesis", []byte("applied"))

// Config is the decoded genesis file.
type Config struct {
	Owner           string          `toml:"owner"`
	BaseDenom       string          `toml:"base_denom"`
	ProtocolFeeRate decimal.Decimal `toml:"protocol_fee_rate"`
	BlockInterval   time.Duration   `toml:"block_interval"`

	Contracts   Contracts    `toml:"contracts"`
	Tax         Tax          `toml:"tax"`
	Accounts    []Account    `toml:"accounts"`
	Tokens      []Token      `toml:"tokens"`
	Feeds       []Feed       `toml:"feeds"`
	Assets      []Asset      `toml:"assets"`
	Collaterals []Collateral `toml:"collaterals"`
	Stubs       []Stub       `toml:"stubs"`
}

// Contracts are the addresses the engine's contracts and collaborators live at.
type Contracts struct {
	Oracle     string `toml:"oracle"`
	Collateral string `toml:"collateral"`
	Mint       string `toml:"mint"`
	Factory    string `toml:"factory"`
	Lock       string `toml:"lock"`
	Staking    string `toml:"staking"`
	Collector  string `toml:"collector"`
}

type Tax struct {
	Rate decimal.Decimal            `toml:"rate"`
	Caps map[string]decimal.Decimal `toml:"caps"`
}

// Account is a native balance. Coins use the "1000uusd,5uluna" notation.
type Account struct {
	Address string `toml:"address"`
	Coins   string `toml:"coins"`
}

type TokenBalance struct {
	Address string          `toml:"address"`
	Amount  decimal.Decimal `toml:"amount"`
}

// Token is a CW20 token. Minted assets leave Minter empty and get the mint
// contract.
type Token struct {
	Address  string         `toml:"address"`
	Name     string         `toml:"name"`
	Symbol   string         `toml:"symbol"`
	Decimals uint8          `toml:"decimals"`
	Minter   string         `toml:"minter"`
	Balances []TokenBalance `toml:"balances"`
}

// Feed registers a feeder with the price-feed hub and, when Price is set,
// pushes an initial price.
type Feed struct {
	Asset  string          `toml:"asset"`
	Feeder string          `toml:"feeder"`
	Price  decimal.Decimal `toml:"price"`
}

type IPO struct {
	MintEnd                    uint64          `toml:"mint_end"`
	PreIPOPrice                decimal.Decimal `toml:"pre_ipo_price"`
	MinCollateralRatioAfterIPO decimal.Decimal `toml:"min_collateral_ratio_after_ipo"`
	TriggerAddr                string          `toml:"trigger_addr"`
}

// Asset is a mint asset registration.
type Asset struct {
	Token              string          `toml:"token"`
	AuctionDiscount    decimal.Decimal `toml:"auction_discount"`
	MinCollateralRatio decimal.Decimal `toml:"min_collateral_ratio"`
	IPO                *IPO            `toml:"ipo"`
}

// Source is the flat TOML form of a collateral price source.
type Source struct {
	Type              string          `toml:"type"`
	Price             decimal.Decimal `toml:"price"`
	Oracle            string          `toml:"oracle"`
	Pair              string          `toml:"pair"`
	IntermediateDenom string          `toml:"intermediate_denom"`
	StakingContract   string          `toml:"staking_contract"`
	UnderlyingDenom   string          `toml:"underlying_denom"`
	AnchorMarket      string          `toml:"anchor_market"`
	Denom             string          `toml:"denom"`
}

// Collateral is a collateral registration. Native selects a denom rather
// than a token address.
type Collateral struct {
	Asset      string          `toml:"asset"`
	Native     bool            `toml:"native"`
	Multiplier decimal.Decimal `toml:"multiplier"`
	Source     Source          `toml:"source"`
}

// Stub is a collaborator contract answering queries with canned JSON keyed
// by query variant.
type Stub struct {
	Address   string            `toml:"address"`
	Responses map[string]string `toml:"responses"`
}

// Load reads and validates the genesis file at path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("genesis: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w in %s: %s", ErrUnknownKeys, path, strings.Join(keys, ", "))
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns an empty chain owned by owner: the three contracts
// instantiated with default addresses and nothing else.
func Default(owner string) *Config {
	cfg := &Config{Owner: owner}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	if strings.TrimSpace(c.BaseDenom) == "" {
		c.BaseDenom = "uusd"
	}
	if c.BlockInterval <= 0 {
		c.BlockInterval = 6 * time.Second
	}
	for dst, def := range map[*string]string{
		&c.Contracts.Oracle:     "oracle",
		&c.Contracts.Collateral: "collateral_oracle",
		&c.Contracts.Mint:       "mint",
		&c.Contracts.Factory:    "factory",
		&c.Contracts.Lock:       "lock",
		&c.Contracts.Staking:    "staking",
		&c.Contracts.Collector:  "collector",
	} {
		if strings.TrimSpace(*dst) == "" {
			*dst = def
		}
	}
	for i := range c.Collaterals {
		col := &c.Collaterals[i]
		if col.Multiplier.IsZero() {
			col.Multiplier = decimal.NewFromInt(1)
		}
		if col.Source.Type == "tefi_oracle" && col.Source.Oracle == "" {
			col.Source.Oracle = c.Contracts.Oracle
		}
	}
}

func (c *Config) validate() error {
	if c.Owner == "" {
		return fmt.Errorf("%w: owner", ErrMissingField)
	}
	for _, a := range c.Accounts {
		if _, err := model.ParseCoins(a.Coins); err != nil {
			return fmt.Errorf("genesis: account %s: %w", a.Address, err)
		}
	}
	for _, col := range c.Collaterals {
		if _, err := col.Source.SourceType(); err != nil {
			return fmt.Errorf("genesis: collateral %s: %w", col.Asset, err)
		}
	}
	return nil
}

// ChainOptions returns the host options the genesis file implies.
func (c *Config) ChainOptions() []host.Option {
	return []host.Option{host.WithTax(host.TaxPolicy{Rate: c.Tax.Rate, Caps: c.Tax.Caps})}
}

// SourceType converts the flat TOML form to the contract's wire form.
func (s Source) SourceType() (collateral.SourceType, error) {
	opt := func(v string) *string {
		if v == "" {
			return nil
		}
		return &v
	}
	switch s.Type {
	case "fixed_price":
		return collateral.Fixed(s.Price), nil
	case "tefi_oracle":
		return collateral.Tefi(s.Oracle), nil
	case "amm_pair":
		return collateral.Pair(s.Pair, s.IntermediateDenom), nil
	case "lunax":
		return collateral.SourceType{Lunax: &collateral.Lunax{
			StakingContractAddr: s.StakingContract,
			UnderlyingDenom:     opt(s.UnderlyingDenom),
		}}, nil
	case "anchor_market":
		return collateral.SourceType{AnchorMarket: &collateral.AnchorMarket{AnchorMarketAddr: s.AnchorMarket}}, nil
	case "native":
		return collateral.SourceType{Native: &collateral.Native{NativeDenom: s.Denom}}, nil
	}
	return collateral.SourceType{}, fmt.Errorf("%w %q", ErrUnknownSource, s.Type)
}

func (col Collateral) info() model.AssetInfo {
	if col.Native {
		return model.Native(col.Asset)
	}
	return model.Token(col.Asset)
}

// Register binds every contract named in the genesis file to its address.
// It must run on every start, before the chain serves requests.
func (c *Config) Register(chain *host.Chain) error {
	seen := make(map[string]bool)
	bind := func(addr string, contract host.Contract) error {
		if seen[addr] {
			return fmt.Errorf("%w: %s", ErrAddressCollide, addr)
		}
		seen[addr] = true
		chain.Register(addr, contract)
		return nil
	}

	if err := bind(c.Contracts.Oracle, oracle.New()); err != nil {
		return err
	}
	if err := bind(c.Contracts.Collateral, collateral.New()); err != nil {
		return err
	}
	if err := bind(c.Contracts.Mint, mint.New()); err != nil {
		return err
	}
	for _, t := range c.Tokens {
		if err := bind(t.Address, cw20.New()); err != nil {
			return err
		}
	}
	for _, s := range c.Stubs {
		stub := host.NewStub()
		for variant, resp := range s.Responses {
			if err := stub.SetResponse(variant, json.RawMessage(resp)); err != nil {
				return fmt.Errorf("genesis: stub %s response %s: %w", s.Address, variant, err)
			}
		}
		if err := bind(s.Address, stub); err != nil {
			return err
		}
	}
	return nil
}

// Init writes the genesis state through chain. It is a no-op on a store that
// was already initialized, and reports whether anything was applied.
func (c *Config) Init(ctx context.Context, chain *host.Chain, kv store.KV) (bool, error) {
	if _, err := kv.Get(ctx, appliedKey); err == nil {
		return false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	for _, a := range c.Accounts {
		coins, err := model.ParseCoins(a.Coins)
		if err != nil {
			return false, err
		}
		if err := chain.Mint(ctx, a.Address, coins...); err != nil {
			return false, fmt.Errorf("genesis: fund %s: %w", a.Address, err)
		}
	}

	addr := c.Contracts
	type step struct {
		addr string
		msg  any
	}
	instantiate := []step{
		{addr.Oracle, oracle.InstantiateMsg{Owner: c.Owner, BaseAsset: c.BaseDenom}},
		{addr.Collateral, collateral.InstantiateMsg{
			Owner:           c.Owner,
			MintContract:    addr.Mint,
			FactoryContract: addr.Factory,
			BaseDenom:       c.BaseDenom,
			TefiOracle:      addr.Oracle,
		}},
		{addr.Mint, mint.InstantiateMsg{
			Owner:            c.Owner,
			Oracle:           addr.Oracle,
			Collector:        addr.Collector,
			CollateralOracle: addr.Collateral,
			Staking:          addr.Staking,
			TerraswapFactory: addr.Factory,
			Lock:             addr.Lock,
			BaseDenom:        c.BaseDenom,
			ProtocolFeeRate:  c.ProtocolFeeRate,
		}},
	}
	for _, t := range c.Tokens {
		minter := t.Minter
		if minter == "" {
			minter = addr.Mint
		}
		msg := cw20.InstantiateMsg{
			Name:     t.Name,
			Symbol:   t.Symbol,
			Decimals: t.Decimals,
			Mint:     &cw20.MinterData{Minter: minter},
		}
		for _, b := range t.Balances {
			msg.InitialBalances = append(msg.InitialBalances, cw20.Balance{Address: b.Address, Amount: b.Amount})
		}
		instantiate = append(instantiate, step{t.Address, msg})
	}
	for _, in := range instantiate {
		if _, err := chain.Instantiate(ctx, c.Owner, in.addr, in.msg, nil); err != nil {
			return false, fmt.Errorf("genesis: instantiate %s: %w", in.addr, err)
		}
	}

	for _, f := range c.Feeds {
		if _, err := chain.Execute(ctx, c.Owner, addr.Oracle, oracle.ExecuteMsg{
			RegisterAsset: &oracle.RegisterAsset{Asset: f.Asset, Feeder: f.Feeder},
		}, nil); err != nil {
			return false, fmt.Errorf("genesis: register feeder for %s: %w", f.Asset, err)
		}
		if f.Price.IsZero() {
			continue
		}
		if _, err := chain.Execute(ctx, f.Feeder, addr.Oracle, oracle.ExecuteMsg{
			FeedPrice: &oracle.FeedPrice{Prices: []oracle.PriceFeed{{Asset: f.Asset, Price: f.Price}}},
		}, nil); err != nil {
			return false, fmt.Errorf("genesis: feed %s: %w", f.Asset, err)
		}
	}

	for _, a := range c.Assets {
		msg := &mint.RegisterAsset{
			AssetToken:         a.Token,
			AuctionDiscount:    a.AuctionDiscount,
			MinCollateralRatio: a.MinCollateralRatio,
		}
		if a.IPO != nil {
			msg.IPOParams = &mint.IPOParams{
				MintEnd:                    a.IPO.MintEnd,
				PreIPOPrice:                a.IPO.PreIPOPrice,
				MinCollateralRatioAfterIPO: a.IPO.MinCollateralRatioAfterIPO,
				TriggerAddr:                a.IPO.TriggerAddr,
			}
		}
		if _, err := chain.Execute(ctx, c.Owner, addr.Mint, mint.ExecuteMsg{RegisterAsset: msg}, nil); err != nil {
			return false, fmt.Errorf("genesis: register asset %s: %w", a.Token, err)
		}
	}

	for _, col := range c.Collaterals {
		src, err := col.Source.SourceType()
		if err != nil {
			return false, err
		}
		if _, err := chain.Execute(ctx, c.Owner, addr.Collateral, collateral.ExecuteMsg{
			RegisterCollateralAsset: &collateral.RegisterCollateralAsset{
				Asset:       col.info(),
				PriceSource: src,
				Multiplier:  col.Multiplier,
			},
		}, nil); err != nil {
			return false, fmt.Errorf("genesis: register collateral %s: %w", col.Asset, err)
		}
	}

	if err := kv.Apply(ctx, []store.Write{{Key: appliedKey, Value: []byte{1}}}); err != nil {
		return false, err
	}
	slog.Info("genesis applied",
		"accounts", len(c.Accounts),
		"tokens", len(c.Tokens),
		"assets", len(c.Assets),
		"collaterals", len(c.Collaterals),
	)
	return true, nil
}
