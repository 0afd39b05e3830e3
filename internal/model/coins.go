package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// coinRegex matches: {amount}{denom}
// Example: 1000000uusd
var coinRegex = regexp.MustCompile(`^([0-9]+)([a-zA-Z][a-zA-Z0-9/:._-]{1,127})$`)

var ErrInvalidCoin = errors.New("model: invalid coin format")

// ParseCoin parses a single coin string such as "1000uusd".
func ParseCoin(s string) (Coin, error) {
	matches := coinRegex.FindStringSubmatch(strings.TrimSpace(s))
	if matches == nil {
		return Coin{}, fmt.Errorf("%w: %s (expected {amount}{denom})", ErrInvalidCoin, s)
	}
	amount, err := decimal.NewFromString(matches[1])
	if err != nil {
		return Coin{}, fmt.Errorf("%w: invalid amount %s", ErrInvalidCoin, matches[1])
	}
	return Coin{Denom: matches[2], Amount: amount}, nil
}

// ParseCoins parses a comma-separated coin list. Empty input yields nil.
func ParseCoins(s string) ([]Coin, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var coins []Coin
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		c, err := ParseCoin(part)
		if err != nil {
			return nil, err
		}
		if seen[c.Denom] {
			return nil, fmt.Errorf("%w: duplicate denom %s", ErrInvalidCoin, c.Denom)
		}
		seen[c.Denom] = true
		coins = append(coins, c)
	}
	return coins, nil
}
