// Package model defines the wire types shared by every contract in the engine.
// All amounts and prices use shopspring/decimal, never float64.
package model

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAssetInfo is returned when an AssetInfo names neither or both
	// of a token contract and a native denom.
	ErrInvalidAssetInfo = errors.New("model: asset info must be exactly one of token or native_token")
)

// TokenInfo identifies a CW20 token by its contract address.
type TokenInfo struct {
	ContractAddr string `json:"contract_addr"`
}

// NativeInfo identifies a native bank denomination.
type NativeInfo struct {
	Denom string `json:"denom"`
}

// AssetInfo is either a CW20 token or a native denom. Exactly one field is set.
type AssetInfo struct {
	Token       *TokenInfo  `json:"token,omitempty"`
	NativeToken *NativeInfo `json:"native_token,omitempty"`
}

// Token returns the AssetInfo for a CW20 contract address.
func Token(addr string) AssetInfo {
	return AssetInfo{Token: &TokenInfo{ContractAddr: addr}}
}

// Native returns the AssetInfo for a native denom.
func Native(denom string) AssetInfo {
	return AssetInfo{NativeToken: &NativeInfo{Denom: denom}}
}

// Validate checks that exactly one variant is set and non-empty.
func (a AssetInfo) Validate() error {
	switch {
	case a.Token != nil && a.NativeToken == nil && a.Token.ContractAddr != "":
		return nil
	case a.NativeToken != nil && a.Token == nil && a.NativeToken.Denom != "":
		return nil
	}
	return ErrInvalidAssetInfo
}

// IsNative reports whether the asset is a native denom.
func (a AssetInfo) IsNative() bool {
	return a.NativeToken != nil
}

// IsNativeDenom reports whether the asset is the given native denom.
func (a AssetInfo) IsNativeDenom(denom string) bool {
	return a.NativeToken != nil && a.NativeToken.Denom == denom
}

// Equal compares two AssetInfos by variant and identifier.
func (a AssetInfo) Equal(b AssetInfo) bool {
	switch {
	case a.Token != nil && b.Token != nil:
		return a.Token.ContractAddr == b.Token.ContractAddr
	case a.NativeToken != nil && b.NativeToken != nil:
		return a.NativeToken.Denom == b.NativeToken.Denom
	}
	return false
}

// String returns the contract address or denom.
func (a AssetInfo) String() string {
	switch {
	case a.Token != nil:
		return a.Token.ContractAddr
	case a.NativeToken != nil:
		return a.NativeToken.Denom
	}
	return ""
}

// Asset is an amount of a specific asset.
type Asset struct {
	Info   AssetInfo       `json:"info"`
	Amount decimal.Decimal `json:"amount"`
}

// String renders the asset as "<amount><denom or address>", e.g. "1000uusd".
func (a Asset) String() string {
	return a.Amount.String() + a.Info.String()
}

// Coin is a native bank balance entry.
type Coin struct {
	Denom  string          `json:"denom"`
	Amount decimal.Decimal `json:"amount"`
}

// NewCoin creates a coin from an integer amount.
func NewCoin(amount int64, denom string) Coin {
	return Coin{Denom: denom, Amount: decimal.NewFromInt(amount)}
}

func (c Coin) String() string {
	return c.Amount.String() + c.Denom
}

// ToAsset converts the coin to a native Asset.
func (c Coin) ToAsset() Asset {
	return Asset{Info: Native(c.Denom), Amount: c.Amount}
}

// OrderBy selects iteration order for paginated queries.
type OrderBy string

const (
	OrderAsc  OrderBy = "asc"
	OrderDesc OrderBy = "desc"
)

// Validate rejects anything other than asc/desc. Empty is allowed.
func (o OrderBy) Validate() error {
	switch o {
	case "", OrderAsc, OrderDesc:
		return nil
	}
	return fmt.Errorf("model: invalid order_by %q", string(o))
}
