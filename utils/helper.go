package utils

import (
	"github.com/shopspring/decimal"
)

// returns slice removing duplicate elements
func UniqueSlice[T comparable](slice []T) []T {
	inResult := make(map[T]bool)
	var result []T
	for _, elm := range slice {
		if _, ok := inResult[elm]; !ok {
			inResult[elm] = true
			result = append(result, elm)
		}
	}
	return result
}

func DereferencePtr[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

// SumDecimals adds every value; an empty list sums to zero.
func SumDecimals(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// WithinTolerance reports whether actual is within percent% of expected.
// A zero expected value only matches a zero actual value.
func WithinTolerance(expected, actual, percent decimal.Decimal) bool {
	diff := expected.Sub(actual).Abs()
	if expected.IsZero() {
		return diff.IsZero()
	}
	allowed := expected.Abs().Mul(percent).Div(decimal.NewFromInt(100))
	return diff.LessThanOrEqual(allowed)
}
