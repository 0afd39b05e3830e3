package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/mirror-engine/internal/model"
	"github.com/atmx/mirror-engine/internal/store"
)

func balanceKey(addr, denom string) []byte {
	return store.Key("bank", []byte(addr), []byte(denom))
}

func balance(ctx context.Context, st store.Storage, addr, denom string) (model.Coin, error) {
	coin := model.Coin{Denom: denom, Amount: decimal.Zero}
	data, err := st.Get(ctx, balanceKey(addr, denom))
	if errors.Is(err, store.ErrNotFound) {
		return coin, nil
	}
	if err != nil {
		return coin, err
	}
	amount, err := decimal.NewFromString(string(data))
	if err != nil {
		return coin, fmt.Errorf("decode balance %s/%s: %w", addr, denom, err)
	}
	coin.Amount = amount
	return coin, nil
}

func setBalance(ctx context.Context, st store.Storage, addr string, coin model.Coin) error {
	if coin.Amount.IsZero() {
		return st.Delete(ctx, balanceKey(addr, coin.Denom))
	}
	return st.Set(ctx, balanceKey(addr, coin.Denom), []byte(coin.Amount.String()))
}

func credit(ctx context.Context, st store.Storage, addr string, coin model.Coin) error {
	cur, err := balance(ctx, st, addr, coin.Denom)
	if err != nil {
		return err
	}
	cur.Amount = cur.Amount.Add(coin.Amount)
	return setBalance(ctx, st, addr, cur)
}

func debit(ctx context.Context, st store.Storage, addr string, coin model.Coin) error {
	cur, err := balance(ctx, st, addr, coin.Denom)
	if err != nil {
		return err
	}
	if cur.Amount.LessThan(coin.Amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, addr, cur, coin)
	}
	cur.Amount = cur.Amount.Sub(coin.Amount)
	return setBalance(ctx, st, addr, cur)
}
