// Package money отвечает за точный разбор денежных сумм.
// Внутреннее представление сумм на платформе — целые центы.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount возвращается, если строка не является корректной денежной суммой.
var (
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrNonPositiveAmount возвращается для нулевых и отрицательных сумм.
	ErrNonPositiveAmount = errors.New("amount must be positive")
)

// ParseAmount разбирает строку с суммой взноса и возвращает её в центах.
// Разбор через decimal исключает накопление ошибок двоичного округления
// при конвертации в центы. Допускается не более двух знаков после запятой.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return ToCents(d)
}

// ToCents переводит decimal-сумму в центы.
func ToCents(d decimal.Decimal) (int64, error) {
	cents := d.Mul(decimal.NewFromInt(100))
	if !cents.IsInteger() {
		return 0, fmt.Errorf("%w: more than two decimal places", ErrInvalidAmount)
	}
	if !cents.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: out of range", ErrInvalidAmount)
	}
	if cents.IntPart() <= 0 {
		return 0, ErrNonPositiveAmount
	}
	return cents.IntPart(), nil
}

// ToUnits переводит центы в основные единицы для выдачи наружу.
func ToUnits(cents int64) float64 {
	return float64(cents) / 100
}
