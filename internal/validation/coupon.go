// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"

	"github.com/shopspring/decimal"
)

// NormalizeCouponCode приводит код купона к каноническому виду: без пробелов по краям, в верхнем регистре.
// Коды купонов сравниваются без учёта регистра, формат кода определяет справочник.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ParseAmount разбирает денежную сумму из строки. Отрицательные значения недопустимы.
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}

	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.Zero, false
	}

	return d, true
}
