// Package payment сверяет оплату с итоговой суммой продажи.
package payment

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/pos-checkout/internal/model"
)

var (
	// ErrInsufficientTender возвращается, если полученных наличных меньше итоговой суммы.
	ErrInsufficientTender = errors.New("tendered cash is less than total")
	// ErrUnknownMethod возвращается для неподдерживаемого способа оплаты.
	ErrUnknownMethod = errors.New("unknown payment method")
	// ErrInvalidTender возвращается для отрицательной суммы наличных.
	ErrInvalidTender = errors.New("tendered cash must not be negative")
)

// ParseMethod разбирает способ оплаты.
func ParseMethod(s string) (model.PaymentMethod, error) {
	m := model.PaymentMethod(s)
	switch m {
	case model.PaymentCash, model.PaymentCard, model.PaymentMobileMoney, model.PaymentBankTransfer:
		return m, nil
	default:
		return "", ErrUnknownMethod
	}
}

// Reconcile сверяет оплату. Функция не имеет побочных эффектов.
//
// Для наличных требуется tendered >= total, сдача равна разнице. При недостатке наличных
// вместе с ErrInsufficientTender возвращается результат с Sufficient=false.
// Для остальных способов сумма не нужна, авторизация остаётся за платёжным шлюзом.
func Reconcile(method model.PaymentMethod, total decimal.Decimal, tendered *decimal.Decimal) (model.PaymentOutcome, error) {
	switch method {
	case model.PaymentCash:
		out := model.PaymentOutcome{
			Method: method,
			Total:  total,
			Change: decimal.Zero,
		}
		if tendered == nil {
			return out, ErrInsufficientTender
		}
		if tendered.IsNegative() {
			return out, ErrInvalidTender
		}
		t := *tendered
		out.Tendered = &t
		if t.LessThan(total) {
			return out, ErrInsufficientTender
		}
		out.Change = t.Sub(total)
		out.Sufficient = true
		return out, nil

	case model.PaymentCard, model.PaymentMobileMoney, model.PaymentBankTransfer:
		return model.PaymentOutcome{
			Method:               method,
			Total:                total,
			Change:               decimal.Zero,
			Sufficient:           true,
			AuthorizationPending: true,
		}, nil

	default:
		return model.PaymentOutcome{}, ErrUnknownMethod
	}
}
