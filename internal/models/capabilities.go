package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CurrencyLimits describes the transferable range for one currency on one provider.
type CurrencyLimits struct {
	Min          decimal.Decimal
	Max          decimal.Decimal
	DailyLimit   decimal.Decimal
	MonthlyLimit decimal.Decimal
}

// FeeSchedule describes how a provider prices one currency.
// Effective fee = max(Min, min(Max, Fixed + amount*Percent/100)).
type FeeSchedule struct {
	Fixed   decimal.Decimal
	Percent decimal.Decimal
	Min     decimal.Decimal
	Max     decimal.Decimal
}

// ProviderCapabilities is the read-only snapshot a provider advertises at
// registration time. Selection treats it as immutable for the duration of a
// single decision.
type ProviderCapabilities struct {
	ProviderId     string
	Currencies     []string
	Operations     []OperationType
	Limits         map[string]CurrencyLimits
	Fees           map[string]FeeSchedule
	Active         bool
	Priority       int
	Countries      []string // empty = available everywhere
	ProcessingTime map[OperationType]time.Duration
}

// SupportsCurrency reports whether the provider handles the given currency.
func (c ProviderCapabilities) SupportsCurrency(currency string) bool {
	for _, cur := range c.Currencies {
		if cur == currency {
			return true
		}
	}
	return false
}

// SupportsOperation reports whether the provider handles the given operation type.
func (c ProviderCapabilities) SupportsOperation(op OperationType) bool {
	for _, o := range c.Operations {
		if o == op {
			return true
		}
	}
	return false
}

// AllowsCountry reports whether the provider is available in the given
// country. An empty allow-list means no restriction.
func (c ProviderCapabilities) AllowsCountry(country string) bool {
	if len(c.Countries) == 0 || country == "" {
		return true
	}
	for _, cc := range c.Countries {
		if cc == country {
			return true
		}
	}
	return false
}

// WithinLimits reports whether amount falls inside the provider's min/max
// range for the currency. Providers without a configured limit for the
// currency accept any positive amount.
func (c ProviderCapabilities) WithinLimits(currency string, amount decimal.Decimal) bool {
	limits, ok := c.Limits[currency]
	if !ok {
		return true
	}
	if !limits.Min.IsZero() && amount.LessThan(limits.Min) {
		return false
	}
	if !limits.Max.IsZero() && amount.GreaterThan(limits.Max) {
		return false
	}
	return true
}

// EstimateFee computes the fee for amount in currency, or zero when the
// provider has no schedule for that currency.
func (c ProviderCapabilities) EstimateFee(currency string, amount decimal.Decimal) decimal.Decimal {
	schedule, ok := c.Fees[currency]
	if !ok {
		return decimal.Zero
	}
	fee := schedule.Fixed.Add(amount.Mul(schedule.Percent).Div(decimal.NewFromInt(100)))
	if !schedule.Min.IsZero() && fee.LessThan(schedule.Min) {
		fee = schedule.Min
	}
	if !schedule.Max.IsZero() && fee.GreaterThan(schedule.Max) {
		fee = schedule.Max
	}
	return fee
}
