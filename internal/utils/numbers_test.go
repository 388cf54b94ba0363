package utils

import "testing"

func TestParsePositive(t *testing.T) {
	cases := []struct {
		s    string
		want int
		ok   bool
	}{
		{"1", 1, true},
		{" 42 ", 42, true},
		{"0012", 12, true},
		{"", 0, false},
		{"0", 0, false},
		{"-3", 0, false},
		{"+3", 0, false},
		{"x", 0, false},
		{"1.5", 0, false},
		{"999999999999999999999999", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParsePositive(tc.s)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParsePositive(%q) = %d,%v; want %d,%v", tc.s, got, ok, tc.want, tc.ok)
		}
	}
}
