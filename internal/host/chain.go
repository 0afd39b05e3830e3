package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/mirror-engine/internal/model"
	"github.com/atmx/mirror-engine/internal/store"
)

// DefaultMaxMessages bounds the messages one transaction may dispatch.
const DefaultMaxMessages = 512

// FeePool receives transfer tax.
const FeePool = "fee_collector"

var blockKey = store.Key("chain", []byte("block"))

// Event is emitted for every dispatched message of a committed transaction.
type Event struct {
	Type       string      `json:"type"`
	Contract   string      `json:"contract,omitempty"`
	Attributes []Attribute `json:"attributes"`
}

// Attr returns the value of the first attribute with key, or "".
func (e Event) Attr(key string) string {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

// TxResult describes a committed transaction.
type TxResult struct {
	ID     string          `json:"tx_id"`
	Height uint64          `json:"height"`
	Events []Event         `json:"events"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Option configures a Chain.
type Option func(*Chain)

// WithTax sets the native transfer tax.
func WithTax(p TaxPolicy) Option {
	return func(c *Chain) { c.tax = p }
}

// WithMaxMessages overrides DefaultMaxMessages.
func WithMaxMessages(n int) Option {
	return func(c *Chain) { c.maxMessages = n }
}

// WithBlock sets the starting block.
func WithBlock(b BlockInfo) Option {
	return func(c *Chain) { c.block = b }
}

// Chain hosts contracts over a KV store. Uses a mutex so transactions are
// applied one at a time, in submission order.
type Chain struct {
	mu          sync.Mutex
	kv          store.KV
	contracts   map[string]Contract
	block       BlockInfo
	tax         TaxPolicy
	maxMessages int
}

// NewChain creates a chain over kv. Contracts must be registered before use.
func NewChain(kv store.KV, opts ...Option) *Chain {
	c := &Chain{
		kv:          kv,
		contracts:   make(map[string]Contract),
		block:       BlockInfo{Height: 1, Time: time.Unix(1_600_000_000, 0).UTC()},
		maxMessages: DefaultMaxMessages,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register binds a contract implementation to an address.
func (c *Chain) Register(addr string, contract Contract) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contracts[addr] = contract
}

// Contracts returns all registered addresses, sorted.
func (c *Chain) Contracts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	addrs := make([]string, 0, len(c.contracts))
	for a := range c.contracts {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)
	return addrs
}

// Block returns the current block.
func (c *Chain) Block() BlockInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block
}

// Restore loads the last persisted block, if any.
func (c *Chain) Restore(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var b BlockInfo
	data, err := c.kv.Get(ctx, blockKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("decode block: %w", err)
	}
	c.block = b
	return nil
}

// NextBlock advances height by one and time by d, persisting the result.
func (c *Chain) NextBlock(ctx context.Context, d time.Duration) (BlockInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := BlockInfo{Height: c.block.Height + 1, Time: c.block.Time.Add(d)}
	data, err := json.Marshal(next)
	if err != nil {
		return c.block, err
	}
	if err := c.kv.Apply(ctx, []store.Write{{Key: blockKey, Value: data}}); err != nil {
		return c.block, fmt.Errorf("persist block: %w", err)
	}
	c.block = next
	return next, nil
}

// Mint credits native coins to addr outside of any contract call. Used for
// genesis balances and tests.
func (c *Chain) Mint(ctx context.Context, addr string, coins ...model.Coin) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := store.NewBranch(c.kv)
	for _, coin := range coins {
		if err := credit(ctx, b, addr, coin); err != nil {
			return err
		}
	}
	return b.Commit(ctx)
}

// Balance returns the committed native balance of addr.
func (c *Chain) Balance(ctx context.Context, addr, denom string) (model.Coin, error) {
	return balance(ctx, store.NewBranch(c.kv), addr, denom)
}

// Instantiate runs the Instantiate entry point of the contract registered
// at addr as one atomic transaction.
func (c *Chain) Instantiate(ctx context.Context, sender, addr string, msg any, funds []model.Coin) (*TxResult, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode instantiate msg: %w", err)
	}
	return c.run(ctx, addr, func(t *txn) (*Response, error) {
		contract, err := t.chain.lookup(addr)
		if err != nil {
			return nil, err
		}
		if err := t.transfer(ctx, sender, addr, funds, false); err != nil {
			return nil, err
		}
		env := t.env(addr, sender, funds)
		res, err := contract.Instantiate(ctx, t.deps(addr), env, raw)
		if err != nil {
			return nil, fmt.Errorf("instantiate %s: %w", addr, err)
		}
		t.emit("instantiate", addr, res)
		return res, nil
	})
}

// Execute submits msg from sender to contract with the given funds.
func (c *Chain) Execute(ctx context.Context, sender, contract string, msg any, funds []model.Coin) (*TxResult, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode execute msg: %w", err)
	}
	return c.ExecuteRaw(ctx, sender, contract, raw, funds)
}

// ExecuteRaw is Execute with a pre-encoded message.
func (c *Chain) ExecuteRaw(ctx context.Context, sender, contract string, raw json.RawMessage, funds []model.Coin) (*TxResult, error) {
	first := Msg{Wasm: &WasmExecute{ContractAddr: contract, Msg: raw, Funds: funds}}
	return c.run(ctx, contract, func(t *txn) (*Response, error) {
		return t.dispatch(ctx, sender, first)
	})
}

// Query runs a read-only query against committed state.
func (c *Chain) Query(ctx context.Context, contract string, msg any, out any) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode query msg: %w", err)
	}
	res, err := c.QueryRaw(ctx, contract, raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(res, out); err != nil {
		return fmt.Errorf("decode query response: %w", err)
	}
	return nil
}

// QueryWasm lets the chain itself serve as a Querier over committed state.
func (c *Chain) QueryWasm(ctx context.Context, contract string, msg any, out any) error {
	return c.Query(ctx, contract, msg, out)
}

// DeductTax applies the chain's tax policy.
func (c *Chain) DeductTax(_ context.Context, coin model.Coin) (model.Coin, error) {
	return c.tax.Deduct(coin), nil
}

// QueryRaw is Query returning the raw JSON response.
func (c *Chain) QueryRaw(ctx context.Context, contract string, raw json.RawMessage) (json.RawMessage, error) {
	c.mu.Lock()
	block := c.block
	c.mu.Unlock()

	t := &txn{chain: c, branch: store.NewBranch(c.kv), block: block}
	defer t.branch.Discard()
	return t.query(ctx, contract, raw)
}

// run executes first and the FIFO queue of messages it produces inside one
// branch. Messages returned by first are sent from target. The branch is
// committed only if every message succeeds.
func (c *Chain) run(ctx context.Context, target string, first func(*txn) (*Response, error)) (*TxResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &txn{chain: c, branch: store.NewBranch(c.kv), block: c.block}
	defer t.branch.Discard()

	type queued struct {
		sender string
		msg    Msg
	}

	res, err := first(t)
	if err != nil {
		return nil, err
	}
	data := res.Data

	queue := make([]queued, 0, len(res.Messages))
	for _, m := range res.Messages {
		queue = append(queue, queued{sender: target, msg: m})
	}
	for i := 0; i < len(queue); i++ {
		if i >= c.maxMessages {
			return nil, fmt.Errorf("%w (%d)", ErrTooManyMessages, c.maxMessages)
		}
		q := queue[i]
		sub, err := t.dispatch(ctx, q.sender, q.msg)
		if err != nil {
			return nil, err
		}
		if sub == nil {
			continue
		}
		from := q.msg.Wasm.ContractAddr
		for _, m := range sub.Messages {
			queue = append(queue, queued{sender: from, msg: m})
		}
	}

	if err := t.branch.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &TxResult{
		ID:     uuid.New().String(),
		Height: c.block.Height,
		Events: t.events,
		Data:   data,
	}, nil
}

func (c *Chain) lookup(addr string) (Contract, error) {
	contract, ok := c.contracts[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, addr)
	}
	return contract, nil
}

// txn is the state of one in-flight transaction. It also serves as the
// Querier handed to contracts, so nested queries observe the transaction's
// own uncommitted writes.
type txn struct {
	chain  *Chain
	branch *store.Branch
	block  BlockInfo
	events []Event
}

func (t *txn) env(contract, sender string, funds []model.Coin) Env {
	return Env{Block: t.block, Contract: contract, Sender: sender, Funds: funds}
}

func (t *txn) deps(addr string) Deps {
	return Deps{
		Storage: store.NewPrefixed(t.branch, contractPrefix(addr)),
		Querier: t,
	}
}

func (t *txn) emit(typ, contract string, res *Response) {
	t.events = append(t.events, Event{Type: typ, Contract: contract, Attributes: res.Attributes})
}

// dispatch executes one message. A nil response means no follow-up messages.
func (t *txn) dispatch(ctx context.Context, sender string, msg Msg) (*Response, error) {
	switch {
	case msg.Wasm != nil:
		w := msg.Wasm
		contract, err := t.chain.lookup(w.ContractAddr)
		if err != nil {
			return nil, err
		}
		if err := t.transfer(ctx, sender, w.ContractAddr, w.Funds, false); err != nil {
			return nil, err
		}
		res, err := contract.Execute(ctx, t.deps(w.ContractAddr), t.env(w.ContractAddr, sender, w.Funds), w.Msg)
		if err != nil {
			return nil, fmt.Errorf("execute %s: %w", w.ContractAddr, err)
		}
		if res == nil {
			res = NewResponse()
		}
		t.emit("wasm", w.ContractAddr, res)
		return res, nil

	case msg.Bank != nil:
		if err := t.transfer(ctx, sender, msg.Bank.ToAddress, msg.Bank.Amount, true); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return nil, ErrUnsupportedMessage
}

// transfer moves coins between accounts. When taxed, the sender also pays
// the transfer tax to FeePool.
func (t *txn) transfer(ctx context.Context, from, to string, coins []model.Coin, taxed bool) error {
	for _, coin := range coins {
		if !coin.Amount.IsPositive() {
			continue
		}
		if !coin.Amount.Equal(coin.Amount.Floor()) {
			return fmt.Errorf("host: fractional amount %s", coin)
		}
		tax := model.Coin{Denom: coin.Denom, Amount: decimal.Zero}
		if taxed {
			tax = t.chain.tax.Compute(coin)
		}
		if err := debit(ctx, t.branch, from, model.Coin{Denom: coin.Denom, Amount: coin.Amount.Add(tax.Amount)}); err != nil {
			return err
		}
		if err := credit(ctx, t.branch, to, coin); err != nil {
			return err
		}
		if tax.Amount.IsPositive() {
			if err := credit(ctx, t.branch, FeePool, tax); err != nil {
				return err
			}
		}
		t.events = append(t.events, Event{Type: "transfer", Attributes: []Attribute{
			{Key: "sender", Value: from},
			{Key: "recipient", Value: to},
			{Key: "amount", Value: coin.String()},
			{Key: "tax", Value: tax.String()},
		}})
	}
	return nil
}

func (t *txn) query(ctx context.Context, contract string, raw json.RawMessage) (json.RawMessage, error) {
	c, err := t.chain.lookup(contract)
	if err != nil {
		return nil, err
	}
	res, err := c.Query(ctx, t.deps(contract), t.env(contract, "", nil), raw)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", contract, err)
	}
	return res, nil
}

// --- Querier ---

func (t *txn) QueryWasm(ctx context.Context, contract string, msg any, out any) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode query msg: %w", err)
	}
	res, err := t.query(ctx, contract, raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(res, out); err != nil {
		return fmt.Errorf("decode query response from %s: %w", contract, err)
	}
	return nil
}

func (t *txn) Balance(ctx context.Context, addr, denom string) (model.Coin, error) {
	return balance(ctx, t.branch, addr, denom)
}

func (t *txn) DeductTax(_ context.Context, coin model.Coin) (model.Coin, error) {
	return t.chain.tax.Deduct(coin), nil
}

func contractPrefix(addr string) []byte {
	return store.Key("wasm", []byte(addr), nil)
}
