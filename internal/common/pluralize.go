// Package common — pluralize.go formats token amounts for notifications.
package common

import (
	"fmt"
	"strings"
)

// PluralizeTokens returns "token" for ±1 and "tokens" otherwise.
func PluralizeTokens(n int64) string {
	if n == 1 || n == -1 {
		return "token"
	}
	return "tokens"
}

// FormatTokens renders an amount with its unit.
//
//	FormatTokens(1)   → "1 token"
//	FormatTokens(150) → "150 tokens"
func FormatTokens(n int64) string {
	return fmt.Sprintf("%s %s", FormatNumber(n), PluralizeTokens(n))
}

// FormatTokensDelta renders a signed amount: "+100 tokens" or "-50 tokens".
func FormatTokensDelta(n int64) string {
	if n >= 0 {
		return "+" + FormatTokens(n)
	}
	return FormatTokens(n)
}

// FormatNumber groups thousands with commas.
// Example: FormatNumber(2350) → "2,350"
func FormatNumber(n int64) string {
	if n < 0 {
		return "-" + FormatNumber(-n)
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("%s,%03d", FormatNumber(n/1000), n%1000)
}

// FormatCents renders minor units as a decimal amount with currency code.
// Example: FormatCents(1999, "usd") → "19.99 USD"
func FormatCents(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, strings.ToUpper(currency))
}
