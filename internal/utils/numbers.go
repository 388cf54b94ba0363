// Package utils holds small parsing helpers shared by the transport and CLI
// layers. They carry no domain logic.
package utils

import (
	"strconv"
	"strings"
)

// ParsePositive parses s as a base-10 integer of at least 1. Signs, spaces
// inside the digits and overflow are rejected.
//
//	ParsePositive("3")   // 3, true
//	ParsePositive("0")   // 0, false
//	ParsePositive("+3")  // 0, false
func ParsePositive(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s[0] == '+' || s[0] == '-' {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
