package id

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	clierr "github.com/ggonzalez94/xfer-core/internal/errors"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// ParseAmount accepts either a base-unit integer or a decimal amount and
// returns the positive base-unit value.
func ParseAmount(baseUnits, decimal string, decimals int) (*big.Int, error) {
	baseUnits = strings.TrimSpace(baseUnits)
	decimal = strings.TrimSpace(decimal)
	if baseUnits != "" && decimal != "" {
		return nil, clierr.New(clierr.CodeUsage, "use either --amount or --amount-decimal, not both")
	}
	if baseUnits == "" && decimal == "" {
		return nil, clierr.New(clierr.CodeUsage, "amount is required")
	}
	if decimals < 0 {
		return nil, clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}

	var out *big.Int
	if baseUnits != "" {
		n, ok := new(big.Int).SetString(baseUnits, 10)
		if !ok {
			return nil, clierr.New(clierr.CodeUsage, "--amount must be an integer string")
		}
		out = n
	} else {
		if !decimalPattern.MatchString(decimal) {
			return nil, clierr.New(clierr.CodeUsage, "--amount-decimal must be in decimal form like 1.23")
		}
		n, err := decimalToBaseUnits(decimal, decimals)
		if err != nil {
			return nil, err
		}
		out = n
	}
	if out.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUsage, "amount must be positive")
	}
	return out, nil
}

// FormatUnits renders a base-unit amount with decimals, trimming trailing
// zeros.
func FormatUnits(baseUnits string, decimals int) string {
	n, ok := new(big.Int).SetString(strings.TrimSpace(baseUnits), 10)
	if !ok {
		return baseUnits
	}
	if decimals <= 0 {
		return n.String()
	}
	neg := n.Sign() < 0
	s := new(big.Int).Abs(n).String()
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := strings.TrimRight(s[len(s)-decimals:], "0")
	if fracPart != "" {
		intPart += "." + fracPart
	}
	if neg {
		return "-" + intPart
	}
	return intPart
}

func decimalToBaseUnits(decimal string, decimals int) (*big.Int, error) {
	intPart, fracPart, _ := strings.Cut(decimal, ".")
	if len(fracPart) > decimals {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
	}
	combined := strings.TrimLeft(intPart+fracPart+strings.Repeat("0", decimals-len(fracPart)), "0")
	if combined == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, clierr.New(clierr.CodeUsage, "invalid decimal amount")
	}
	return n, nil
}
