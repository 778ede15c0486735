package money

import (
	"fmt"
	"strconv"

	"github.com/cockroachdb/apd/v3"
)

const precision = 34

// Decimal is an exact amount for cost, revenue and the ratios derived from
// them. The zero value is 0.
type Decimal struct {
	value apd.Decimal
}

func New(s string) (Decimal, error) {
	var d apd.Decimal
	if _, _, err := d.SetString(s); err != nil {
		return Decimal{}, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return Decimal{value: d}, nil
}

// MustNew is New for literals known to be valid.
func MustNew(s string) Decimal {
	d, err := New(s)
	if err != nil {
		panic(err)
	}
	return d
}

// OrZero parses s, treating empty input as 0.
func OrZero(s string) (Decimal, error) {
	if s == "" {
		return Decimal{}, nil
	}
	return New(s)
}

func FromInt64(i int64) Decimal {
	var d apd.Decimal
	d.SetInt64(i)
	return Decimal{value: d}
}

// FromFloat converts through the shortest decimal representation of f.
func FromFloat(f float64) (Decimal, error) {
	return New(strconv.FormatFloat(f, 'f', -1, 64))
}

func (d Decimal) String() string {
	return d.value.Text('f')
}

func (d Decimal) IsZero() bool {
	return d.value.IsZero()
}

func (d Decimal) Cmp(other Decimal) int {
	return d.value.Cmp(&other.value)
}

func (d Decimal) Add(other Decimal) Decimal {
	var result apd.Decimal
	ctx := apd.BaseContext.WithPrecision(precision)
	ctx.Add(&result, &d.value, &other.value)
	return Decimal{value: result}
}

func (d Decimal) Mul(other Decimal) Decimal {
	var result apd.Decimal
	ctx := apd.BaseContext.WithPrecision(precision)
	ctx.Mul(&result, &d.value, &other.value)
	return Decimal{value: result}
}

// Quo divides d by other. ok is false when other is zero.
func (d Decimal) Quo(other Decimal) (q Decimal, ok bool) {
	if other.IsZero() {
		return Decimal{}, false
	}
	var result apd.Decimal
	ctx := apd.BaseContext.WithPrecision(precision)
	ctx.Quo(&result, &d.value, &other.value)
	// Quo fills the coefficient to full precision; strip the trailing zeros.
	result.Reduce(&result)
	return Decimal{value: result}, true
}

// Round rounds half up to the given number of decimal places.
func (d Decimal) Round(places int32) Decimal {
	var result apd.Decimal
	ctx := apd.BaseContext.WithPrecision(precision)
	ctx.Rounding = apd.RoundHalfUp
	ctx.Quantize(&result, &d.value, -places)
	return Decimal{value: result}
}

func (d Decimal) Float64() float64 {
	f, _ := d.value.Float64()
	return f
}

func (d Decimal) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Decimal) UnmarshalText(b []byte) error {
	v, err := New(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}
