package products

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CurrencyPlaceholder is shown for empty or zero monetary inputs.
const CurrencyPlaceholder = "-"

// breakEvenThreshold separates favorable break-even ROAS ratios from
// unfavorable ones: at 1.5 or below, a modest ad spend still breaks even.
const breakEvenThreshold = 1.5

// Roas carries the outcome of a break-even ROAS computation. Valid is false
// when either input was missing or non-numeric. A Valid zero value signals a
// non-positive margin: every sale loses money regardless of ad spend.
type Roas struct {
	Value float64
	Valid bool
}

// Favorable reports whether the ratio indicates an attractive break-even
// point (positive and at or below the threshold).
func (r Roas) Favorable() bool {
	return r.Valid && r.Value > 0 && r.Value <= breakEvenThreshold
}

// CalculateRoas computes the break-even return-on-ad-spend ratio from
// price and cost-of-goods text inputs. The ratio is price divided by
// margin, rounded to two decimal places.
func CalculateRoas(price, cogs string) Roas {
	priceValue, err := parseAmount(price)
	if err != nil {
		return Roas{}
	}
	cogsValue, err := parseAmount(cogs)
	if err != nil {
		return Roas{}
	}

	margin := priceValue - cogsValue
	if margin <= 0 {
		return Roas{Valid: true}
	}
	return Roas{Value: roundTwoPlaces(priceValue / margin), Valid: true}
}

// FormatRoas renders a Roas for display: "-" for no result, "Loss" for a
// non-positive margin, otherwise the ratio with an "x" suffix.
func FormatRoas(r Roas) string {
	if !r.Valid {
		return CurrencyPlaceholder
	}
	if r.Value <= 0 {
		return "Loss"
	}
	return strconv.FormatFloat(r.Value, 'f', 2, 64) + "x"
}

// FormatCurrency renders a monetary text input as US dollars with two
// decimal places. Empty and zero inputs yield the placeholder; inputs that
// do not parse are passed through unchanged.
func FormatCurrency(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return CurrencyPlaceholder
	}
	parsed, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return trimmed
	}
	if parsed == 0 {
		return CurrencyPlaceholder
	}
	return fmt.Sprintf("$%.2f", parsed)
}

// Margin computes price minus cost from text inputs. Valid is false when
// either input is missing or non-numeric.
func Margin(price, cogs string) (float64, bool) {
	priceValue, err := parseAmount(price)
	if err != nil {
		return 0, false
	}
	cogsValue, err := parseAmount(cogs)
	if err != nil {
		return 0, false
	}
	return priceValue - cogsValue, true
}

func parseAmount(value string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(value), 64)
}

func roundTwoPlaces(value float64) float64 {
	return math.Round(value*100) / 100
}
