package position

import "testing"

func TestNewNormalizes(t *testing.T) {
	if got := New(2, 8); got != New(1, 4) {
		t.Fatalf("2/8 = %v, want 1/4", got)
	}
	if got := New(3, -6); got != New(-1, 2) {
		t.Fatalf("3/-6 = %v, want -1/2", got)
	}
	if got := New(0, 7); got != Zero {
		t.Fatalf("0/7 = %v, want zero value", got)
	}
}

func TestArithmetic(t *testing.T) {
	a := New(3, 8)
	b := New(1, 8)
	if got := a.Add(b); got != New(1, 2) {
		t.Fatalf("3/8+1/8 = %v", got)
	}
	if got := a.Sub(b); got != New(1, 4) {
		t.Fatalf("3/8-1/8 = %v", got)
	}
	if got := b.Sub(a); got != New(-1, 4) {
		t.Fatalf("1/8-3/8 = %v", got)
	}
	if got := Zero.Add(a); got != a {
		t.Fatalf("0+3/8 = %v", got)
	}
	if got := New(1, 4).Mul(3, 2); got != New(3, 8) {
		t.Fatalf("1/4*3/2 = %v", got)
	}
}

func TestCmpAndFloat(t *testing.T) {
	if !New(1, 10).Less(New(1, 5)) {
		t.Fatalf("1/10 should be less than 1/5")
	}
	if New(2, 4).Cmp(New(1, 2)) != 0 {
		t.Fatalf("2/4 should equal 1/2")
	}
	if got := New(3, 8).Float64(); got != 0.375 {
		t.Fatalf("3/8 real value = %v", got)
	}
	if got := Zero.Float64(); got != 0 {
		t.Fatalf("zero real value = %v", got)
	}
}

func TestParse(t *testing.T) {
	cases := map[string]Position{
		"3/8": New(3, 8),
		"2":   Whole(2),
		"4/8": New(1, 2),
	}
	for in, want := range cases {
		got, err := Parse(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if got != want {
			t.Fatalf("parse %q = %v, want %v", in, got, want)
		}
	}
	if _, err := Parse("1/0"); err == nil {
		t.Fatalf("expected zero denominator error")
	}
	if got := New(3, 8).String(); got != "3/8" {
		t.Fatalf("String = %q", got)
	}
}
