// Package position implements exact score positions measured in whole notes.
package position

import (
	"fmt"
	"strconv"
)

// Position is an exact rational number of whole notes. Values are kept in
// lowest terms with a positive denominator, so == compares positions and a
// Position can be used as a map key. The zero value is position 0.
type Position struct {
	num int64
	den int64
}

// Zero is the start of a score.
var Zero = Position{}

// New returns num/den in lowest terms. A zero denominator yields Zero.
func New(num, den int64) Position {
	if den == 0 || num == 0 {
		return Position{}
	}
	if den < 0 {
		num, den = -num, -den
	}
	g := gcd(abs(num), den)
	return Position{num: num / g, den: den / g}
}

// Whole returns n whole notes.
func Whole(n int64) Position { return New(n, 1) }

// Num returns the numerator in lowest terms.
func (p Position) Num() int64 { return p.num }

// Den returns the denominator in lowest terms (1 for the zero value).
func (p Position) Den() int64 {
	if p.den == 0 {
		return 1
	}
	return p.den
}

func (p Position) Add(q Position) Position {
	if p.num == 0 {
		return q
	}
	if q.num == 0 {
		return p
	}
	g := gcd(p.den, q.den)
	return New(p.num*(q.den/g)+q.num*(p.den/g), p.den/g*q.den)
}

func (p Position) Sub(q Position) Position {
	return p.Add(Position{num: -q.num, den: q.den})
}

// Mul scales p by n/d.
func (p Position) Mul(n, d int64) Position {
	if p.num == 0 || d == 0 {
		return Position{}
	}
	return New(p.num*n, p.Den()*d)
}

// Cmp returns -1, 0 or +1 when p is less than, equal to or greater than q.
func (p Position) Cmp(q Position) int {
	l := p.num * q.Den()
	r := q.num * p.Den()
	switch {
	case l < r:
		return -1
	case l > r:
		return 1
	}
	return 0
}

func (p Position) Less(q Position) bool  { return p.Cmp(q) < 0 }
func (p Position) Equal(q Position) bool { return p == q }
func (p Position) IsZero() bool          { return p.num == 0 }

// Float64 returns the real value of p in whole notes.
func (p Position) Float64() float64 {
	if p.num == 0 {
		return 0
	}
	return float64(p.num) / float64(p.den)
}

func (p Position) String() string {
	if p.Den() == 1 {
		return strconv.FormatInt(p.num, 10)
	}
	return fmt.Sprintf("%d/%d", p.num, p.den)
}

// Parse reads "n" or "n/d".
func Parse(s string) (Position, error) {
	for i := 0; i < len(s); i++ {
		if s[i] != '/' {
			continue
		}
		n, err := strconv.ParseInt(s[:i], 10, 64)
		if err != nil {
			return Position{}, fmt.Errorf("position: parse %q: %w", s, err)
		}
		d, err := strconv.ParseInt(s[i+1:], 10, 64)
		if err != nil {
			return Position{}, fmt.Errorf("position: parse %q: %w", s, err)
		}
		if d == 0 {
			return Position{}, fmt.Errorf("position: parse %q: zero denominator", s)
		}
		return New(n, d), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Position{}, fmt.Errorf("position: parse %q: %w", s, err)
	}
	return Whole(n), nil
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
