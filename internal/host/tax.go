package host

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/mirror-engine/internal/model"
)

// TaxPolicy is the transfer tax charged on native bank sends. The tax is
// debited from the sender on top of the sent amount and capped per denom.
type TaxPolicy struct {
	Rate decimal.Decimal
	Caps map[string]decimal.Decimal
}

// Compute returns the tax charged on sending c.
func (p TaxPolicy) Compute(c model.Coin) model.Coin {
	tax := c.Amount.Mul(p.Rate).Floor()
	if cp, ok := p.Caps[c.Denom]; ok && tax.GreaterThan(cp) {
		tax = cp
	}
	return model.Coin{Denom: c.Denom, Amount: tax}
}

// Deduct returns the largest amount x such that x + Compute(x) <= c.
func (p TaxPolicy) Deduct(c model.Coin) model.Coin {
	if p.Rate.IsZero() || !c.Amount.IsPositive() {
		return c
	}
	q, _ := c.Amount.QuoRem(decimal.NewFromInt(1).Add(p.Rate), 0)
	if cp, ok := p.Caps[c.Denom]; ok && c.Amount.Sub(q).GreaterThan(cp) {
		q = c.Amount.Sub(cp)
	}
	return model.Coin{Denom: c.Denom, Amount: q}
}
