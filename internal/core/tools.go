package core

import (
	"strings"

	apperrors "github.com/didac-crst/mockexchange-api/pkg/errors"
)

// SplitSymbol splits a "BASE/QUOTE" trading pair into its two assets
func SplitSymbol(symbol string) (base, quote string, err error) {
	base, quote, ok := strings.Cut(symbol, "/")
	if !ok || base == "" || quote == "" {
		return "", "", apperrors.InvalidArgumentf("invalid symbol %q, want BASE/QUOTE", symbol)
	}
	return base, quote, nil
}

// MakeSymbol joins two assets into a trading pair
func MakeSymbol(base, quote string) string {
	return base + "/" + quote
}
