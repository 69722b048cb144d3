// Package utils provides shared utility functions.
package utils

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatINR formats an amount with the rupee sign and Indian digit grouping
// (12,34,567.89).
func FormatINR(amount decimal.Decimal) string {
	negative := amount.IsNegative()
	str := amount.Abs().StringFixed(2)
	intPart, decPart, _ := strings.Cut(str, ".")

	result := "₹" + groupIndian(intPart) + "." + decPart
	if negative {
		result = "-" + result
	}
	return result
}

// groupIndian groups the last three digits, then pairs.
func groupIndian(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	result := s[n-3:]
	s = s[:n-3]
	for len(s) > 2 {
		result = s[len(s)-2:] + "," + result
		s = s[:len(s)-2]
	}
	return s + "," + result
}

// FormatSignedINR formats an MTM with an explicit plus sign for profits.
func FormatSignedINR(amount decimal.Decimal) string {
	if amount.IsPositive() {
		return "+" + FormatINR(amount)
	}
	return FormatINR(amount)
}

// FormatPrice formats a premium with two decimals.
func FormatPrice(price float64) string {
	return fmt.Sprintf("%.2f", price)
}
