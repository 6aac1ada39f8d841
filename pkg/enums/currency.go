package enums

import (
	"fmt"
	"slices"
	"strings"
)

// Currency is an ISO 4217 code, stored lowercase the way Stripe expects it.
type Currency string

const CurrencyEUR Currency = "eur"

var supportedCurrencies = []Currency{CurrencyEUR}

func (c Currency) String() string { return string(c) }

// Code is the upper-case form printed next to amounts.
func (c Currency) Code() string { return strings.ToUpper(string(c)) }

func (c Currency) IsValid() bool {
	return slices.Contains(supportedCurrencies, c)
}

// ParseCurrency normalizes case and whitespace before matching.
func ParseCurrency(value string) (Currency, error) {
	c := Currency(strings.ToLower(strings.TrimSpace(value)))
	if !c.IsValid() {
		return "", fmt.Errorf("currency %q is not supported", value)
	}
	return c, nil
}
