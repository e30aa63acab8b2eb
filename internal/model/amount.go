package model

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// BasisPoints is the denominator of every ratio expressed in bps.
const BasisPoints = 10_000

var ErrInvalidAmount = errors.New("invalid amount")

// Amount is an unsigned 256-bit token quantity. It is encoded as a decimal
// string in JSON and in storage.
type Amount struct {
	v uint256.Int
}

func NewAmount(n uint64) Amount {
	var a Amount
	a.v.SetUint64(n)
	return a
}

func ParseAmount(s string) (Amount, error) {
	var a Amount
	if s == "" {
		return a, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return a, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
	}
	if err := a.v.SetFromDecimal(s); err != nil {
		return a, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	return a, nil
}

func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Add returns a+b and reports whether the sum overflowed.
func (a Amount) Add(b Amount) (Amount, bool) {
	var out Amount
	_, overflow := out.v.AddOverflow(&a.v, &b.v)
	return out, overflow
}

// SaturatingSub returns a-b, or zero when b > a.
func (a Amount) SaturatingSub(b Amount) Amount {
	var out Amount
	if a.v.Lt(&b.v) {
		return out
	}
	out.v.Sub(&a.v, &b.v)
	return out
}

// MulBps returns floor(a * bps / 10000).
func (a Amount) MulBps(bps uint64) Amount {
	var out Amount
	num := uint256.NewInt(bps)
	den := uint256.NewInt(BasisPoints)
	// The 512-bit intermediate only overflows the result when bps > 10000.
	if _, overflow := out.v.MulDivOverflow(&a.v, num, den); overflow {
		out.v.SetAllOne()
	}
	return out
}

func (a Amount) Cmp(b Amount) int { return a.v.Cmp(&b.v) }

func (a Amount) IsZero() bool { return a.v.IsZero() }

func (a Amount) String() string { return a.v.Dec() }

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: amount must be a decimal string", ErrInvalidAmount)
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
