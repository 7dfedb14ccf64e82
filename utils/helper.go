package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"
)

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

func DereferencePtr[T any](ptr *T, defaults ...T) T {
	if ptr != nil {
		return *ptr
	}
	var def T
	if len(defaults) > 0 {
		def = defaults[0]
	}
	return def
}

func UniqueSlice[T comparable](slice []T) []T {
	seen := make(map[T]bool)
	result := []T{}
	for _, v := range slice {
		if !seen[v] {
			seen[v] = true
			result = append(result, v)
		}
	}
	return result
}

func MergeIntSlices(slice1, slice2 []int) []int {
	return UniqueSlice(append(append([]int{}, slice1...), slice2...))
}

// ParseDecimal accepts user-formatted numbers like "20,000" or "Rs 1,250.50".
// Keep digits, '.', and a leading '-' only.
func ParseDecimal(value string) (decimal.Decimal, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return decimal.Zero, errors.New("empty decimal value")
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(strings.TrimPrefix(s, "Rs"))
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	}
	var b strings.Builder
	b.Grow(len(s) + 1)
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	clean := b.String()
	if clean == "" {
		return decimal.Zero, fmt.Errorf("invalid decimal value %q", value)
	}
	if neg {
		clean = "-" + clean
	}
	return decimal.NewFromString(clean)
}

func ValidatePhoneNumber(phoneNumber, countryCode string) error {
	if countryCode == "" {
		countryCode = "IN"
	}
	num, err := libphonenumber.Parse(phoneNumber, countryCode)
	if err != nil {
		return err
	}
	if !libphonenumber.IsValidNumber(num) {
		return fmt.Errorf("invalid phone number %q", phoneNumber)
	}
	return nil
}

func ProcessValidationErrors(err error) map[string]string {
	fieldErrors := make(map[string]string)
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, fieldError := range validationErrors {
			fieldErrors[fieldError.Field()] = fmt.Sprintf("failed on %s", fieldError.Tag())
		}
	}
	return fieldErrors
}
