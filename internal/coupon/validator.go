// Package coupon проверяет применимость купонов по данным внешнего справочника.
package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/pos-checkout/internal/model"
	"github.com/mmeshcher/pos-checkout/internal/validation"
)

// Причины отказа в применении купона.
var (
	ErrNotFound                = errors.New("coupon not found")
	ErrExpired                 = errors.New("coupon has expired")
	ErrNotYetActive            = errors.New("coupon is not yet active")
	ErrUsageLimitReached       = errors.New("coupon usage limit reached")
	ErrPerCustomerLimitReached = errors.New("coupon per-customer limit reached")
	ErrMinimumNotMet           = errors.New("cart subtotal below coupon minimum")
)

var rejections = []error{
	ErrNotFound,
	ErrExpired,
	ErrNotYetActive,
	ErrUsageLimitReached,
	ErrPerCustomerLimitReached,
	ErrMinimumNotMet,
}

// IsRejection сообщает, что ошибка означает отказ в применении купона, а не сбой справочника.
func IsRejection(err error) bool {
	for _, r := range rejections {
		if errors.Is(err, r) {
			return true
		}
	}
	return false
}

// Directory описывает справочник купонов.
type Directory interface {
	GetCouponByCode(ctx context.Context, code string) (*model.Coupon, error)
	CountCustomerRedemptions(ctx context.Context, code, customerID string) (int, error)
}

// Validator проверяет купоны. Расчётом суммы скидки не занимается.
type Validator struct {
	directory Directory
	now       func() time.Time
}

// NewValidator создаёт валидатор купонов поверх справочника.
func NewValidator(directory Directory) *Validator {
	return &Validator{
		directory: directory,
		now:       time.Now,
	}
}

// WithClock подменяет источник текущего времени.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Validate проверяет купон по порядку: наличие, срок действия, общий лимит,
// лимит на покупателя (если покупатель привязан) и минимальную сумму корзины.
func (v *Validator) Validate(ctx context.Context, code string, subtotal decimal.Decimal, customerID string) (model.Coupon, error) {
	code = validation.NormalizeCouponCode(code)
	if code == "" {
		return model.Coupon{}, ErrNotFound
	}

	c, err := v.directory.GetCouponByCode(ctx, code)
	if err != nil {
		if errors.Is(err, model.ErrCouponNotFound) {
			return model.Coupon{}, ErrNotFound
		}
		return model.Coupon{}, fmt.Errorf("coupon lookup: %w", err)
	}
	if c == nil {
		return model.Coupon{}, ErrNotFound
	}

	now := v.now()
	if c.StartDate != nil && now.Before(*c.StartDate) {
		return model.Coupon{}, ErrNotYetActive
	}
	if c.EndDate != nil && now.After(*c.EndDate) {
		return model.Coupon{}, ErrExpired
	}

	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return model.Coupon{}, ErrUsageLimitReached
	}

	if c.PerCustomerLimit != nil && customerID != "" {
		used, err := v.directory.CountCustomerRedemptions(ctx, code, customerID)
		if err != nil {
			return model.Coupon{}, fmt.Errorf("coupon redemptions lookup: %w", err)
		}
		if used >= *c.PerCustomerLimit {
			return model.Coupon{}, ErrPerCustomerLimitReached
		}
	}

	if c.MinAmount != nil && subtotal.LessThan(*c.MinAmount) {
		return model.Coupon{}, ErrMinimumNotMet
	}

	accepted := *c
	accepted.Code = code
	return accepted, nil
}
