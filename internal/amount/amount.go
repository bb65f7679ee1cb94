package amount

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Decimals is the number of implied fractional digits in a base-unit value.
const Decimals = 6

// ErrInvalidAmount is returned for input that is not a positive decimal
// representable in base units.
var ErrInvalidAmount = errors.New("invalid amount")

// Max is the largest base-unit value the ledger tracks (2^128-1).
var Max = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 128), 1)

// ToDisplay converts base units to a human-readable amount with exactly
// Decimals fractional digits and a comma-grouped integer part,
// e.g. 1234567890 -> "1,234.567890".
func ToDisplay(units *uint256.Int) string {
	d := toDecimal(units)
	_, frac, _ := strings.Cut(d.StringFixed(Decimals), ".")
	return humanize.BigComma(d.BigInt()) + "." + frac
}

// ToPlain is ToDisplay without grouping, suitable for prefilling an input.
func ToPlain(units *uint256.Int) string {
	return toDecimal(units).StringFixed(Decimals)
}

// maxIntDigits is the number of integer digits in Max.
const maxIntDigits = 33

var (
	plainAmount   = regexp.MustCompile(`^(\d+\.?\d*|\.\d+)$`)
	groupedAmount = regexp.MustCompile(`^\d{1,3}(,\d{3})+(\.\d*)?$`)
)

// ToBaseUnits converts a human-readable amount to base units, flooring any
// digits past Decimals. Commas are accepted only as en-US thousands
// separators so display strings round-trip. Signs and exponents are rejected.
// e.g., "10" -> 10000000, "0.0000019" -> 1
func ToBaseUnits(amount string) (*uint256.Int, error) {
	s := strings.TrimSpace(amount)
	if s == "" {
		return nil, fmt.Errorf("%w: amount cannot be empty", ErrInvalidAmount)
	}
	switch {
	case plainAmount.MatchString(s):
	case groupedAmount.MatchString(s):
		s = strings.ReplaceAll(s, ",", "")
	default:
		return nil, fmt.Errorf("%w: %q is not a decimal number", ErrInvalidAmount, amount)
	}

	whole, frac, _ := strings.Cut(s, ".")
	if len(strings.TrimLeft(whole, "0")) > maxIntDigits {
		return nil, fmt.Errorf("%w: %q exceeds 128 bits", ErrInvalidAmount, amount)
	}
	if len(frac) > Decimals {
		frac = frac[:Decimals]
	}
	if whole == "" {
		whole = "0"
	}
	if frac != "" {
		whole += "." + frac
	}

	d, err := decimal.NewFromString(whole)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, amount, err)
	}
	if !d.IsPositive() {
		return nil, fmt.Errorf("%w: %q must be positive", ErrInvalidAmount, amount)
	}

	units := d.Shift(Decimals).BigInt()
	if units.Sign() == 0 {
		return nil, fmt.Errorf("%w: %q is below the smallest unit", ErrInvalidAmount, amount)
	}

	res, overflow := uint256.FromBig(units)
	if overflow || res.Gt(Max) {
		return nil, fmt.Errorf("%w: %q exceeds 128 bits", ErrInvalidAmount, amount)
	}
	return res, nil
}

// Parse reads a base-unit integer as sent over the wire.
func Parse(nat string) (*uint256.Int, error) {
	res, err := uint256.FromDecimal(nat)
	if err != nil {
		return nil, fmt.Errorf("failed to parse nat %q: %w", nat, err)
	}
	if res.Gt(Max) {
		return nil, fmt.Errorf("nat %q exceeds 128 bits", nat)
	}
	return res, nil
}

func toDecimal(units *uint256.Int) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units.ToBig(), -Decimals)
}
