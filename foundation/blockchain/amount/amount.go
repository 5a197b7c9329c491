// Package amount provides an exact fixed point monetary value with 8 decimal
// places of precision. All balance math in the ledger goes through this type.
package amount

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Decimals is the number of fractional digits carried by every amount.
const Decimals = 8

// Set of error variables for amount math.
var (
	ErrOverflow     = errors.New("amount overflow")
	ErrDivideByZero = errors.New("amount divide by zero")
)

var (
	divisor = big.NewInt(100_000_000)

	// maxRaw bounds the magnitude of the underlying integer to a signed
	// 256 bit value. Anything outside of this range is an overflow.
	maxRaw = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(1))
)

// Amount represents a signed value scaled by 10^8. The zero value is a
// valid zero amount. Amounts are immutable.
type Amount struct {
	raw *big.Int
}

// New constructs an amount from a count of whole units.
func New(units int64) Amount {
	raw := new(big.Int).Mul(big.NewInt(units), divisor)
	return Amount{raw: raw}
}

// NewFromRaw constructs an amount from the scaled integer representation.
func NewFromRaw(raw *big.Int) Amount {
	if raw == nil {
		return Zero()
	}
	return Amount{raw: new(big.Int).Set(raw)}
}

// NewFromRawInt64 constructs an amount from a scaled int64 value.
func NewFromRawInt64(raw int64) Amount {
	return Amount{raw: big.NewInt(raw)}
}

// Zero returns an amount of zero.
func Zero() Amount {
	return Amount{raw: new(big.Int)}
}

// Parse converts a string of the form "<int>[.<frac>]" into an amount.
// Fractional digits past the 8th are truncated. The integer and fraction
// parts fall back to zero on their own when they can't be parsed, so
// "12.x5" is 12 and "abc.5" is 0.5. A value too large to hold is zero.
func Parse(s string) Amount {
	s = strings.TrimSpace(s)

	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}

	intPart, fracPart, _ := strings.Cut(s, ".")
	fracPart, _, _ = strings.Cut(fracPart, ".")

	if len(fracPart) > Decimals {
		fracPart = fracPart[:Decimals]
	}

	if intPart == "" || !isDigits(intPart) {
		intPart = "0"
	}
	if !isDigits(fracPart) {
		fracPart = ""
	}
	fracPart += strings.Repeat("0", Decimals-len(fracPart))

	raw, ok := new(big.Int).SetString(intPart+fracPart, 10)
	if !ok || raw.CmpAbs(maxRaw) > 0 {
		return Zero()
	}
	if neg {
		raw.Neg(raw)
	}

	return Amount{raw: raw}
}

// ParseStrict performs the same conversion as Parse but reports malformed
// input instead of falling back to zero.
func ParseStrict(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero(), errors.New("empty amount")
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	intPart, fracPart, _ := strings.Cut(s, ".")
	if intPart == "" {
		intPart = "0"
	}
	if !isDigits(intPart) || !isDigits(fracPart) {
		return Zero(), fmt.Errorf("invalid amount %q", s)
	}

	if len(fracPart) > Decimals {
		fracPart = fracPart[:Decimals]
	}
	fracPart += strings.Repeat("0", Decimals-len(fracPart))

	raw, ok := new(big.Int).SetString(intPart+fracPart, 10)
	if !ok {
		return Zero(), fmt.Errorf("invalid amount %q", s)
	}
	if neg {
		raw.Neg(raw)
	}

	if raw.CmpAbs(maxRaw) > 0 {
		return Zero(), ErrOverflow
	}

	return Amount{raw: raw}, nil
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// =============================================================================

// Add returns a+b or ErrOverflow.
func (a Amount) Add(b Amount) (Amount, error) {
	return checked(new(big.Int).Add(a.int(), b.int()))
}

// Sub returns a-b or ErrOverflow.
func (a Amount) Sub(b Amount) (Amount, error) {
	return checked(new(big.Int).Sub(a.int(), b.int()))
}

// Mul returns a*b rescaled back to 8 decimals.
func (a Amount) Mul(b Amount) (Amount, error) {
	raw := new(big.Int).Mul(a.int(), b.int())
	raw.Quo(raw, divisor)
	return checked(raw)
}

// Div returns a/b rescaled back to 8 decimals.
func (a Amount) Div(b Amount) (Amount, error) {
	if b.IsZero() {
		return Zero(), ErrDivideByZero
	}

	raw := new(big.Int).Mul(a.int(), divisor)
	raw.Quo(raw, b.int())
	return checked(raw)
}

// DivRem divides a by b and returns the truncated quotient along with the
// remainder so that a == q*b + r holds exactly. Callers use the remainder
// to redistribute value instead of losing it to truncation.
func (a Amount) DivRem(b Amount) (q Amount, r Amount, err error) {
	q, err = a.Div(b)
	if err != nil {
		return Zero(), Zero(), err
	}

	qb, err := q.Mul(b)
	if err != nil {
		return Zero(), Zero(), err
	}

	r, err = a.Sub(qb)
	if err != nil {
		return Zero(), Zero(), err
	}

	return q, r, nil
}

// MulInt returns a multiplied by a plain integer factor.
func (a Amount) MulInt(n int64) (Amount, error) {
	return checked(new(big.Int).Mul(a.int(), big.NewInt(n)))
}

// DivInt returns a divided by a plain integer, truncated toward zero.
func (a Amount) DivInt(n int64) (Amount, error) {
	if n == 0 {
		return Zero(), ErrDivideByZero
	}
	return checked(new(big.Int).Quo(a.int(), big.NewInt(n)))
}

// =============================================================================

// Cmp compares a and b and returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	return a.int().Cmp(b.int())
}

// CmpUnits compares a against a count of whole units.
func (a Amount) CmpUnits(units int64) int {
	return a.Cmp(New(units))
}

// Equal reports whether a and b hold the same value.
func (a Amount) Equal(b Amount) bool {
	return a.Cmp(b) == 0
}

// Sign returns -1, 0 or +1 depending on the sign of a.
func (a Amount) Sign() int {
	return a.int().Sign()
}

// IsZero reports whether a is zero.
func (a Amount) IsZero() bool {
	return a.Sign() == 0
}

// Raw returns a copy of the underlying scaled integer.
func (a Amount) Raw() *big.Int {
	return new(big.Int).Set(a.int())
}

// RawString returns the underlying scaled integer in base 10.
func (a Amount) RawString() string {
	return a.int().String()
}

// String formats the amount as "<int>.<8 digits>".
func (a Amount) String() string {
	raw := a.int()

	abs := new(big.Int).Abs(raw)
	intPart, fracPart := new(big.Int).QuoRem(abs, divisor, new(big.Int))

	sign := ""
	if raw.Sign() < 0 {
		sign = "-"
	}

	frac := fracPart.String()
	frac = strings.Repeat("0", Decimals-len(frac)) + frac

	return sign + intPart.String() + "." + frac
}

// MarshalJSON implements the json.Marshaler interface.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	v, err := ParseStrict(s)
	if err != nil {
		return err
	}
	*a = v

	return nil
}

// =============================================================================

func (a Amount) int() *big.Int {
	if a.raw == nil {
		return new(big.Int)
	}
	return a.raw
}

func checked(raw *big.Int) (Amount, error) {
	if raw.CmpAbs(maxRaw) > 0 {
		return Zero(), ErrOverflow
	}
	return Amount{raw: raw}, nil
}

// Max returns the largest value an amount can hold.
func Max() Amount {
	return Amount{raw: new(big.Int).Set(maxRaw)}
}
