// Package money represents monetary and quantity values with fixed-point
// precision, avoiding float64 accumulation error across the risk engine,
// portfolio accounting, and trade router.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places preserved at rest (micros).
const Scale = 6

// Amount wraps shopspring/decimal.Decimal so every package in this module
// shares one canonical representation and rounding mode (banker's rounding,
// decimal's default) instead of re-deriving float64 math at each boundary.
type Amount struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Amount{d: decimal.Zero}

// New builds an Amount from a decimal string. Use this at every external
// boundary (HTTP payloads, DB rows) instead of parsing floats directly.
func New(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Amount{d: d}, nil
}

// FromFloat builds an Amount from a float64. Reserved for values that
// originate as floats from an upstream exchange feed (ticks, marks) where
// the source itself is already float-precision; never use it for
// user-entered or persisted monetary values.
func FromFloat(f float64) Amount {
	return Amount{d: decimal.NewFromFloat(f)}
}

// FromMicros builds an Amount from an int64 fixed-point micros value
// (1 unit = 1e-6), the representation used internally on hot paths.
func FromMicros(micros int64) Amount {
	return Amount{d: decimal.New(micros, -Scale)}
}

// Micros returns the int64 fixed-point micros representation.
func (a Amount) Micros() int64 {
	return a.d.Shift(Scale).Round(0).IntPart()
}

func (a Amount) String() string { return a.d.StringFixed(Scale) }

func (a Amount) Float64() float64 { f, _ := a.d.Float64(); return f }

func (a Amount) Add(b Amount) Amount    { return Amount{d: a.d.Add(b.d)} }
func (a Amount) Sub(b Amount) Amount    { return Amount{d: a.d.Sub(b.d)} }
func (a Amount) Mul(b Amount) Amount    { return Amount{d: a.d.Mul(b.d)} }
func (a Amount) Div(b Amount) Amount    { return Amount{d: a.d.Div(b.d)} }
func (a Amount) Neg() Amount            { return Amount{d: a.d.Neg()} }
func (a Amount) Abs() Amount            { return Amount{d: a.d.Abs()} }
func (a Amount) IsZero() bool           { return a.d.IsZero() }
func (a Amount) IsNegative() bool       { return a.d.IsNegative() }
func (a Amount) IsPositive() bool       { return a.d.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool    { return a.d.GreaterThan(b.d) }
func (a Amount) GreaterOrEqual(b Amount) bool { return a.d.GreaterThanOrEqual(b.d) }
func (a Amount) LessThan(b Amount) bool       { return a.d.LessThan(b.d) }
func (a Amount) LessOrEqual(b Amount) bool    { return a.d.LessThanOrEqual(b.d) }
func (a Amount) Equal(b Amount) bool          { return a.d.Equal(b.d) }

// MulFloat scales an Amount by a plain ratio (e.g. a risk size-down factor)
// without forcing callers to round-trip through Amount for pure scalars.
func (a Amount) MulFloat(ratio float64) Amount {
	return Amount{d: a.d.Mul(decimal.NewFromFloat(ratio))}
}

// MarshalJSON encodes as a decimal string, never a JSON number, so clients
// never round-trip through float64.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.d.StringFixed(Scale) + `"`), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", s, err)
	}
	a.d = d
	return nil
}

// Value implements driver.Valuer for storing as TEXT in SQLite.
func (a Amount) Value() (driver.Value, error) {
	return a.d.StringFixed(Scale), nil
}

// Scan implements sql.Scanner.
func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return err
		}
		a.d = d
		return nil
	case []byte:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return err
		}
		a.d = d
		return nil
	case int64:
		a.d = decimal.New(v, 0)
		return nil
	case float64:
		a.d = decimal.NewFromFloat(v)
		return nil
	case nil:
		a.d = decimal.Zero
		return nil
	default:
		return fmt.Errorf("unsupported scan type %T for money.Amount", src)
	}
}
