// Package pricing рассчитывает стоимость корзины: скидки, купон, налог и итог.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/pos-checkout/internal/model"
)

// CurrencyPlaces задаёт точность округления денежных сумм.
const CurrencyPlaces = 2

var hundred = decimal.NewFromInt(100)

// Evaluate рассчитывает стоимость корзины. Функция чистая: результат зависит только от аргументов.
//
// Порядок расчёта фиксирован: скидки считаются от исходной суммы, процентный купон от суммы
// после скидок, налог от суммы после скидок и купона. Отрицательная налоговая база обнуляется
// один раз, на финальном шаге.
func Evaluate(lines []model.CartLine, discounts []model.DiscountRule, coupon *model.Coupon, taxRate decimal.Decimal) model.Breakdown {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.LineTotal())
	}

	if !subtotal.IsPositive() {
		return model.Breakdown{
			Subtotal:      subtotal,
			DiscountTotal: decimal.Zero,
			CouponAmount:  decimal.Zero,
			TaxableAmount: decimal.Zero,
			TaxRate:       taxRate,
			Tax:           decimal.Zero,
			Total:         decimal.Zero,
		}
	}

	discountTotal := DiscountTotal(subtotal, discounts)
	couponAmount := CouponAmount(subtotal.Sub(discountTotal), coupon)

	taxable := subtotal.Sub(discountTotal).Sub(couponAmount)
	if taxable.IsNegative() {
		taxable = decimal.Zero
	}

	tax := taxable.Mul(taxRate).Round(CurrencyPlaces)

	return model.Breakdown{
		Subtotal:      subtotal,
		DiscountTotal: discountTotal,
		CouponAmount:  couponAmount,
		TaxableAmount: taxable,
		TaxRate:       taxRate,
		Tax:           tax,
		Total:         taxable.Add(tax),
	}
}

// DiscountTotal суммирует вклад скидок. Каждая скидка считается от исходной суммы,
// повторяющиеся идентификаторы учитываются один раз.
func DiscountTotal(subtotal decimal.Decimal, discounts []model.DiscountRule) decimal.Decimal {
	total := decimal.Zero
	seen := make(map[string]struct{}, len(discounts))
	for _, d := range discounts {
		if _, ok := seen[d.ID]; ok {
			continue
		}
		seen[d.ID] = struct{}{}
		total = total.Add(contribution(d.Kind, d.Value, subtotal))
	}
	return total
}

// CouponAmount рассчитывает вклад купона от суммы после скидок с учётом ограничения MaxDiscount.
func CouponAmount(base decimal.Decimal, coupon *model.Coupon) decimal.Decimal {
	if coupon == nil {
		return decimal.Zero
	}
	if base.IsNegative() {
		base = decimal.Zero
	}
	amount := contribution(coupon.Kind, coupon.Value, base)
	if coupon.MaxDiscount != nil && amount.GreaterThan(*coupon.MaxDiscount) {
		amount = *coupon.MaxDiscount
	}
	return amount
}

func contribution(kind model.DiscountKind, value, base decimal.Decimal) decimal.Decimal {
	switch kind {
	case model.DiscountPercentage:
		return base.Mul(value).Div(hundred).Round(CurrencyPlaces)
	case model.DiscountFixed:
		return value
	default:
		return decimal.Zero
	}
}
