// Package host is the single-threaded contract runtime. It dispatches one
// message per transaction to a contract, executes the messages that contract
// returns in FIFO order, and commits every storage write atomically, or
// none of them if any step fails.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/atmx/mirror-engine/internal/model"
	"github.com/atmx/mirror-engine/internal/store"
)

var (
	// ErrUnauthorized is returned when the sender is not allowed to perform
	// the operation. Contracts wrap it so callers can match with errors.Is.
	ErrUnauthorized = errors.New("unauthorized")

	ErrUnknownContract    = errors.New("host: unknown contract")
	ErrInsufficientFunds  = errors.New("host: insufficient funds")
	ErrTooManyMessages    = errors.New("host: message limit exceeded")
	ErrUnsupportedMessage = errors.New("host: unsupported message")
)

// BlockInfo is the block a transaction executes in.
type BlockInfo struct {
	Height uint64    `json:"height"`
	Time   time.Time `json:"time"`
}

// Seconds returns the block time as unix seconds.
func (b BlockInfo) Seconds() uint64 {
	return uint64(b.Time.Unix())
}

// Env is the execution environment of a single contract call.
type Env struct {
	Block    BlockInfo
	Contract string
	Sender   string
	Funds    []model.Coin
}

// Attribute is a key/value pair emitted by a contract.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// BankSend moves native coins out of the calling contract.
type BankSend struct {
	ToAddress string       `json:"to_address"`
	Amount    []model.Coin `json:"amount"`
}

// WasmExecute calls another contract with the caller as sender.
type WasmExecute struct {
	ContractAddr string          `json:"contract_addr"`
	Msg          json.RawMessage `json:"msg"`
	Funds        []model.Coin    `json:"funds"`
}

// Msg is an outbound effect returned by a contract. Exactly one field is set.
type Msg struct {
	Bank *BankSend    `json:"bank,omitempty"`
	Wasm *WasmExecute `json:"wasm,omitempty"`
}

// Response is what a contract returns from Instantiate or Execute.
type Response struct {
	Messages   []Msg           `json:"messages"`
	Attributes []Attribute     `json:"attributes"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// NewResponse returns an empty response.
func NewResponse() *Response {
	return &Response{}
}

// AddAttribute appends a key/value attribute.
func (r *Response) AddAttribute(key, value string) *Response {
	r.Attributes = append(r.Attributes, Attribute{Key: key, Value: value})
	return r
}

// AddMessages appends outbound messages in order.
func (r *Response) AddMessages(msgs ...Msg) *Response {
	r.Messages = append(r.Messages, msgs...)
	return r
}

// Attr returns the value of the first attribute with key, or "".
func (r *Response) Attr(key string) string {
	for _, a := range r.Attributes {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

// ExecuteMsg builds a WasmExecute message calling contract with msg.
func ExecuteMsg(contract string, msg any, funds ...model.Coin) (Msg, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return Msg{}, fmt.Errorf("encode execute msg for %s: %w", contract, err)
	}
	return Msg{Wasm: &WasmExecute{ContractAddr: contract, Msg: raw, Funds: funds}}, nil
}

// SendMsg builds a BankSend message.
func SendMsg(to string, coins ...model.Coin) Msg {
	return Msg{Bank: &BankSend{ToAddress: to, Amount: coins}}
}

// Querier performs read-only synchronous queries against chain state.
type Querier interface {
	// QueryWasm runs msg against contract's Query entry point and decodes the
	// result into out.
	QueryWasm(ctx context.Context, contract string, msg any, out any) error

	// Balance returns the native balance of addr in denom.
	Balance(ctx context.Context, addr, denom string) (model.Coin, error)

	// DeductTax returns the largest part of coin that can be sent so that the
	// amount plus the chain's transfer tax does not exceed coin.
	DeductTax(ctx context.Context, coin model.Coin) (model.Coin, error)
}

// Deps bundles what a contract may touch during one call.
type Deps struct {
	Storage store.Storage
	Querier Querier
}

// Contract is a sandboxed state machine invoked by the chain.
type Contract interface {
	Instantiate(ctx context.Context, deps Deps, env Env, msg json.RawMessage) (*Response, error)
	Execute(ctx context.Context, deps Deps, env Env, msg json.RawMessage) (*Response, error)
	Query(ctx context.Context, deps Deps, env Env, msg json.RawMessage) (json.RawMessage, error)
}

// Unauthorized wraps ErrUnauthorized with context.
func Unauthorized(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, fmt.Sprintf(format, args...))
}
