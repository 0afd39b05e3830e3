// Package cw20 implements a minimal fungible token contract with a single
// minter, allowances, and the Send/Receive hook used to hand tokens to
// other contracts together with an instruction.
package cw20

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/mirror-engine/internal/fixed"
	"github.com/atmx/mirror-engine/internal/host"
	"github.com/atmx/mirror-engine/internal/model"
	"github.com/atmx/mirror-engine/internal/store"
)

var (
	ErrInvalidZeroAmount = errors.New("cw20: invalid zero amount")
	ErrInsufficientFunds = errors.New("cw20: insufficient funds")
	ErrNoAllowance       = errors.New("cw20: no allowance for this account")
	ErrCannotExceedCap   = errors.New("cw20: minting cannot exceed the cap")
	ErrFractionalAmount  = errors.New("cw20: amount must be a whole number")
)

var tokenInfoKey = store.Key("token_info")

func balanceKey(addr string) []byte { return store.Key("balance", []byte(addr)) }

func allowanceKey(owner, spender string) []byte {
	return store.Key("allowance", []byte(owner), []byte(spender))
}

// MinterData names the account allowed to mint and an optional supply cap.
type MinterData struct {
	Minter string           `json:"minter"`
	Cap    *decimal.Decimal `json:"cap,omitempty"`
}

// Balance is an initial balance entry.
type Balance struct {
	Address string          `json:"address"`
	Amount  decimal.Decimal `json:"amount"`
}

// InstantiateMsg creates a token.
type InstantiateMsg struct {
	Name            string      `json:"name"`
	Symbol          string      `json:"symbol"`
	Decimals        uint8       `json:"decimals"`
	InitialBalances []Balance   `json:"initial_balances"`
	Mint            *MinterData `json:"mint,omitempty"`
}

// TokenInfo is the stored token metadata and supply.
type TokenInfo struct {
	Name        string          `json:"name"`
	Symbol      string          `json:"symbol"`
	Decimals    uint8           `json:"decimals"`
	TotalSupply decimal.Decimal `json:"total_supply"`
	Mint        *MinterData     `json:"mint,omitempty"`
}

type (
	Transfer struct {
		Recipient string          `json:"recipient"`
		Amount    decimal.Decimal `json:"amount"`
	}
	Burn struct {
		Amount decimal.Decimal `json:"amount"`
	}
	Send struct {
		Contract string          `json:"contract"`
		Amount   decimal.Decimal `json:"amount"`
		Msg      json.RawMessage `json:"msg"`
	}
	Mint struct {
		Recipient string          `json:"recipient"`
		Amount    decimal.Decimal `json:"amount"`
	}
	IncreaseAllowance struct {
		Spender string          `json:"spender"`
		Amount  decimal.Decimal `json:"amount"`
	}
	TransferFrom struct {
		Owner     string          `json:"owner"`
		Recipient string          `json:"recipient"`
		Amount    decimal.Decimal `json:"amount"`
	}
	BurnFrom struct {
		Owner  string          `json:"owner"`
		Amount decimal.Decimal `json:"amount"`
	}
)

// ExecuteMsg is the externally tagged execute message. Exactly one field is set.
type ExecuteMsg struct {
	Transfer          *Transfer          `json:"transfer,omitempty"`
	Burn              *Burn              `json:"burn,omitempty"`
	Send              *Send              `json:"send,omitempty"`
	Mint              *Mint              `json:"mint,omitempty"`
	IncreaseAllowance *IncreaseAllowance `json:"increase_allowance,omitempty"`
	TransferFrom      *TransferFrom      `json:"transfer_from,omitempty"`
	BurnFrom          *BurnFrom          `json:"burn_from,omitempty"`
}

// ReceiveMsg is delivered to the target of a Send.
type ReceiveMsg struct {
	Sender string          `json:"sender"`
	Amount decimal.Decimal `json:"amount"`
	Msg    json.RawMessage `json:"msg"`
}

// ReceiveWrapper is how a ReceiveMsg appears on the wire: {"receive": {...}}.
type ReceiveWrapper struct {
	Receive ReceiveMsg `json:"receive"`
}

// QueryMsg is the externally tagged query message.
type QueryMsg struct {
	Balance   *BalanceQuery   `json:"balance,omitempty"`
	TokenInfo *struct{}       `json:"token_info,omitempty"`
	Allowance *AllowanceQuery `json:"allowance,omitempty"`
}

type BalanceQuery struct {
	Address string `json:"address"`
}

type AllowanceQuery struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
}

type BalanceResponse struct {
	Balance decimal.Decimal `json:"balance"`
}

type AllowanceResponse struct {
	Allowance decimal.Decimal `json:"allowance"`
}

// Token is the CW20 contract.
type Token struct{}

// New returns a token contract.
func New() *Token { return &Token{} }

func (t *Token) Instantiate(ctx context.Context, deps host.Deps, _ host.Env, raw json.RawMessage) (*host.Response, error) {
	var msg InstantiateMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("cw20: decode instantiate: %w", err)
	}
	supply := decimal.Zero
	for _, b := range msg.InitialBalances {
		if !fixed.IsWhole(b.Amount) {
			return nil, ErrFractionalAmount
		}
		if err := addBalance(ctx, deps.Storage, b.Address, b.Amount); err != nil {
			return nil, err
		}
		supply = supply.Add(b.Amount)
	}
	if msg.Mint != nil && msg.Mint.Cap != nil && supply.GreaterThan(*msg.Mint.Cap) {
		return nil, ErrCannotExceedCap
	}
	info := TokenInfo{
		Name:        msg.Name,
		Symbol:      msg.Symbol,
		Decimals:    msg.Decimals,
		TotalSupply: supply,
		Mint:        msg.Mint,
	}
	if err := store.SaveJSON(ctx, deps.Storage, tokenInfoKey, info); err != nil {
		return nil, err
	}
	return host.NewResponse().AddAttribute("action", "instantiate").AddAttribute("symbol", msg.Symbol), nil
}

func (t *Token) Execute(ctx context.Context, deps host.Deps, env host.Env, raw json.RawMessage) (*host.Response, error) {
	var msg ExecuteMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("cw20: decode execute: %w", err)
	}
	st := deps.Storage

	switch {
	case msg.Transfer != nil:
		m := msg.Transfer
		if err := move(ctx, st, env.Sender, m.Recipient, m.Amount); err != nil {
			return nil, err
		}
		return host.NewResponse().
			AddAttribute("action", "transfer").
			AddAttribute("from", env.Sender).
			AddAttribute("to", m.Recipient).
			AddAttribute("amount", m.Amount.String()), nil

	case msg.Burn != nil:
		if err := burn(ctx, st, env.Sender, msg.Burn.Amount); err != nil {
			return nil, err
		}
		return host.NewResponse().
			AddAttribute("action", "burn").
			AddAttribute("from", env.Sender).
			AddAttribute("amount", msg.Burn.Amount.String()), nil

	case msg.Send != nil:
		m := msg.Send
		if err := move(ctx, st, env.Sender, m.Contract, m.Amount); err != nil {
			return nil, err
		}
		hook, err := host.ExecuteMsg(m.Contract, ReceiveWrapper{Receive: ReceiveMsg{
			Sender: env.Sender,
			Amount: m.Amount,
			Msg:    m.Msg,
		}})
		if err != nil {
			return nil, err
		}
		return host.NewResponse().
			AddAttribute("action", "send").
			AddAttribute("from", env.Sender).
			AddAttribute("to", m.Contract).
			AddAttribute("amount", m.Amount.String()).
			AddMessages(hook), nil

	case msg.Mint != nil:
		m := msg.Mint
		if err := mint(ctx, st, env.Sender, m.Recipient, m.Amount); err != nil {
			return nil, err
		}
		return host.NewResponse().
			AddAttribute("action", "mint").
			AddAttribute("to", m.Recipient).
			AddAttribute("amount", m.Amount.String()), nil

	case msg.IncreaseAllowance != nil:
		m := msg.IncreaseAllowance
		if err := checkAmount(m.Amount); err != nil {
			return nil, err
		}
		cur, err := loadAllowance(ctx, st, env.Sender, m.Spender)
		if err != nil {
			return nil, err
		}
		if err := store.SaveJSON(ctx, st, allowanceKey(env.Sender, m.Spender), cur.Add(m.Amount)); err != nil {
			return nil, err
		}
		return host.NewResponse().
			AddAttribute("action", "increase_allowance").
			AddAttribute("owner", env.Sender).
			AddAttribute("spender", m.Spender).
			AddAttribute("amount", m.Amount.String()), nil

	case msg.TransferFrom != nil:
		m := msg.TransferFrom
		if err := spendAllowance(ctx, st, m.Owner, env.Sender, m.Amount); err != nil {
			return nil, err
		}
		if err := move(ctx, st, m.Owner, m.Recipient, m.Amount); err != nil {
			return nil, err
		}
		return host.NewResponse().
			AddAttribute("action", "transfer_from").
			AddAttribute("from", m.Owner).
			AddAttribute("to", m.Recipient).
			AddAttribute("by", env.Sender).
			AddAttribute("amount", m.Amount.String()), nil

	case msg.BurnFrom != nil:
		m := msg.BurnFrom
		if err := spendAllowance(ctx, st, m.Owner, env.Sender, m.Amount); err != nil {
			return nil, err
		}
		if err := burn(ctx, st, m.Owner, m.Amount); err != nil {
			return nil, err
		}
		return host.NewResponse().
			AddAttribute("action", "burn_from").
			AddAttribute("from", m.Owner).
			AddAttribute("by", env.Sender).
			AddAttribute("amount", m.Amount.String()), nil
	}
	return nil, fmt.Errorf("cw20: %w", host.ErrUnsupportedMessage)
}

func (t *Token) Query(ctx context.Context, deps host.Deps, _ host.Env, raw json.RawMessage) (json.RawMessage, error) {
	var msg QueryMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("cw20: decode query: %w", err)
	}
	switch {
	case msg.Balance != nil:
		bal, err := loadBalance(ctx, deps.Storage, msg.Balance.Address)
		if err != nil {
			return nil, err
		}
		return json.Marshal(BalanceResponse{Balance: bal})
	case msg.TokenInfo != nil:
		var info TokenInfo
		if err := store.LoadJSON(ctx, deps.Storage, tokenInfoKey, &info); err != nil {
			return nil, err
		}
		return json.Marshal(info)
	case msg.Allowance != nil:
		a, err := loadAllowance(ctx, deps.Storage, msg.Allowance.Owner, msg.Allowance.Spender)
		if err != nil {
			return nil, err
		}
		return json.Marshal(AllowanceResponse{Allowance: a})
	}
	return nil, fmt.Errorf("cw20: %w", host.ErrUnsupportedMessage)
}

// --- state helpers ---

func loadBalance(ctx context.Context, st store.Storage, addr string) (decimal.Decimal, error) {
	bal := decimal.Zero
	if _, err := store.MaybeLoadJSON(ctx, st, balanceKey(addr), &bal); err != nil {
		return decimal.Zero, err
	}
	return bal, nil
}

func addBalance(ctx context.Context, st store.Storage, addr string, amount decimal.Decimal) error {
	bal, err := loadBalance(ctx, st, addr)
	if err != nil {
		return err
	}
	return store.SaveJSON(ctx, st, balanceKey(addr), bal.Add(amount))
}

func subBalance(ctx context.Context, st store.Storage, addr string, amount decimal.Decimal) error {
	bal, err := loadBalance(ctx, st, addr)
	if err != nil {
		return err
	}
	if bal.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, addr, bal, amount)
	}
	return store.SaveJSON(ctx, st, balanceKey(addr), bal.Sub(amount))
}

// checkAmount accepts positive whole amounts only.
func checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidZeroAmount
	}
	if !fixed.IsWhole(amount) {
		return ErrFractionalAmount
	}
	return nil
}

func move(ctx context.Context, st store.Storage, from, to string, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if err := subBalance(ctx, st, from, amount); err != nil {
		return err
	}
	return addBalance(ctx, st, to, amount)
}

func updateSupply(ctx context.Context, st store.Storage, delta decimal.Decimal) (*TokenInfo, error) {
	var info TokenInfo
	if err := store.LoadJSON(ctx, st, tokenInfoKey, &info); err != nil {
		return nil, err
	}
	info.TotalSupply = info.TotalSupply.Add(delta)
	return &info, store.SaveJSON(ctx, st, tokenInfoKey, info)
}

func burn(ctx context.Context, st store.Storage, from string, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if err := subBalance(ctx, st, from, amount); err != nil {
		return err
	}
	_, err := updateSupply(ctx, st, amount.Neg())
	return err
}

func mint(ctx context.Context, st store.Storage, sender, to string, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	var info TokenInfo
	if err := store.LoadJSON(ctx, st, tokenInfoKey, &info); err != nil {
		return err
	}
	if info.Mint == nil || info.Mint.Minter != sender {
		return host.Unauthorized("%s is not the minter", sender)
	}
	if info.Mint.Cap != nil && info.TotalSupply.Add(amount).GreaterThan(*info.Mint.Cap) {
		return ErrCannotExceedCap
	}
	if _, err := updateSupply(ctx, st, amount); err != nil {
		return err
	}
	return addBalance(ctx, st, to, amount)
}

func loadAllowance(ctx context.Context, st store.Storage, owner, spender string) (decimal.Decimal, error) {
	a := decimal.Zero
	if _, err := store.MaybeLoadJSON(ctx, st, allowanceKey(owner, spender), &a); err != nil {
		return decimal.Zero, err
	}
	return a, nil
}

func spendAllowance(ctx context.Context, st store.Storage, owner, spender string, amount decimal.Decimal) error {
	a, err := loadAllowance(ctx, st, owner, spender)
	if err != nil {
		return err
	}
	if a.LessThan(amount) {
		return ErrNoAllowance
	}
	return store.SaveJSON(ctx, st, allowanceKey(owner, spender), a.Sub(amount))
}

// --- message builders ---

// MintMsg builds a Mint message to token.
func MintMsg(token, recipient string, amount decimal.Decimal) (host.Msg, error) {
	return host.ExecuteMsg(token, ExecuteMsg{Mint: &Mint{Recipient: recipient, Amount: amount}})
}

// BurnMsg builds a Burn message to token.
func BurnMsg(token string, amount decimal.Decimal) (host.Msg, error) {
	return host.ExecuteMsg(token, ExecuteMsg{Burn: &Burn{Amount: amount}})
}

// TransferMsg builds a Transfer message to token.
func TransferMsg(token, recipient string, amount decimal.Decimal) (host.Msg, error) {
	return host.ExecuteMsg(token, ExecuteMsg{Transfer: &Transfer{Recipient: recipient, Amount: amount}})
}

// SendMsg builds a Send message that delivers amount of token to contract
// together with hook.
func SendMsg(token, contract string, amount decimal.Decimal, hook any) (host.Msg, error) {
	raw, err := json.Marshal(hook)
	if err != nil {
		return host.Msg{}, fmt.Errorf("encode send hook: %w", err)
	}
	return host.ExecuteMsg(token, ExecuteMsg{Send: &Send{Contract: contract, Amount: amount, Msg: raw}})
}

// AssetTransfer builds the message paying asset to recipient: a bank send
// for native denoms (net of transfer tax) or a CW20 transfer. It returns the
// tax withheld.
func AssetTransfer(ctx context.Context, q host.Querier, asset model.Asset, recipient string) (host.Msg, decimal.Decimal, error) {
	if asset.Info.IsNative() {
		coin := model.Coin{Denom: asset.Info.NativeToken.Denom, Amount: asset.Amount}
		net, err := q.DeductTax(ctx, coin)
		if err != nil {
			return host.Msg{}, decimal.Zero, err
		}
		return host.SendMsg(recipient, net), coin.Amount.Sub(net.Amount), nil
	}
	m, err := TransferMsg(asset.Info.Token.ContractAddr, recipient, asset.Amount)
	return m, decimal.Zero, err
}
