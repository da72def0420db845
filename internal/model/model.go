// Package model содержит доменные сущности кассового терминала.
package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrProductNotFound возвращается, если товар отсутствует в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrCouponNotFound возвращается справочником, если купон с таким кодом не существует.
	ErrCouponNotFound = errors.New("coupon not found")
	// ErrDiscountNotFound возвращается, если скидка с указанным идентификатором не найдена.
	ErrDiscountNotFound = errors.New("discount not found")
)

// Product описывает товар каталога.
type Product struct {
	ID            string
	Name          string
	Price         decimal.Decimal
	StockQuantity int
	Category      string
}

// CartLine описывает позицию корзины. Цена фиксируется в момент добавления товара.
type CartLine struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

// LineTotal возвращает стоимость позиции.
func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// DiscountKind описывает способ расчёта скидки.
type DiscountKind string

const (
	DiscountPercentage DiscountKind = "percentage"
	DiscountFixed      DiscountKind = "fixed"
)

// Valid сообщает, известен ли тип скидки.
func (k DiscountKind) Valid() bool {
	return k == DiscountPercentage || k == DiscountFixed
}

var hundred = decimal.NewFromInt(100)

// ValidValue сообщает, допустимо ли значение для типа скидки: значение неотрицательно,
// процент не превышает 100.
func (k DiscountKind) ValidValue(v decimal.Decimal) bool {
	if !k.Valid() || v.IsNegative() {
		return false
	}
	return k != DiscountPercentage || !v.GreaterThan(hundred)
}

// DiscountRule описывает именованную скидку, которую можно комбинировать с другими.
type DiscountRule struct {
	ID    string
	Name  string
	Kind  DiscountKind
	Value decimal.Decimal
}

// Valid сообщает, что тип и значение скидки допустимы.
func (r DiscountRule) Valid() bool {
	return r.Kind.ValidValue(r.Value)
}

// Coupon описывает купон и ограничения на его применение.
// Нулевые указатели означают отсутствие ограничения.
type Coupon struct {
	ID               string
	Code             string
	Kind             DiscountKind
	Value            decimal.Decimal
	MinAmount        *decimal.Decimal
	MaxDiscount      *decimal.Decimal
	StartDate        *time.Time
	EndDate          *time.Time
	UsageLimit       *int
	PerCustomerLimit *int
	UsedCount        int
}

// Valid сообщает, что тип, значение и денежные ограничения купона допустимы.
func (c Coupon) Valid() bool {
	if !c.Kind.ValidValue(c.Value) {
		return false
	}
	if c.MinAmount != nil && c.MinAmount.IsNegative() {
		return false
	}
	if c.MaxDiscount != nil && c.MaxDiscount.IsNegative() {
		return false
	}
	return true
}

// Breakdown содержит расчёт стоимости текущего состояния корзины.
type Breakdown struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	DiscountTotal decimal.Decimal `json:"discount_total"`
	CouponAmount  decimal.Decimal `json:"coupon_amount"`
	TaxableAmount decimal.Decimal `json:"taxable_amount"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
}

// PaymentMethod описывает способ оплаты.
type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "cash"
	PaymentCard         PaymentMethod = "card"
	PaymentMobileMoney  PaymentMethod = "mobile_money"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
)

// PaymentOutcome содержит результат сверки оплаты.
type PaymentOutcome struct {
	Method               PaymentMethod
	Total                decimal.Decimal
	Tendered             *decimal.Decimal
	Change               decimal.Decimal
	Sufficient           bool
	AuthorizationPending bool
}

// SaleRecord описывает завершённую продажу. После создания не изменяется.
type SaleRecord struct {
	ID            string
	TenantID      string
	TerminalID    string
	OperatorID    string
	CustomerID    string
	Lines         []CartLine
	DiscountIDs   []string
	CouponID      string
	CouponCode    string
	PaymentMethod PaymentMethod
	TenderedCash  *decimal.Decimal
	Change        decimal.Decimal
	Breakdown     Breakdown
	CreatedAt     time.Time
}

// ReceiptEntry описывает строку чека.
type ReceiptEntry struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// Receipt содержит данные чека, достаточные для любого способа отображения без пересчёта.
type Receipt struct {
	ReceiptID     string           `json:"receipt_id"`
	SaleID        string           `json:"sale_id"`
	TerminalID    string           `json:"terminal_id,omitempty"`
	OperatorID    string           `json:"operator_id,omitempty"`
	IssuedAt      time.Time        `json:"issued_at"`
	Entries       []ReceiptEntry   `json:"entries"`
	Subtotal      decimal.Decimal  `json:"subtotal"`
	DiscountTotal decimal.Decimal  `json:"discount_total"`
	CouponCode    string           `json:"coupon_code,omitempty"`
	CouponAmount  decimal.Decimal  `json:"coupon_amount"`
	Tax           decimal.Decimal  `json:"tax"`
	Total         decimal.Decimal  `json:"total"`
	PaymentMethod PaymentMethod    `json:"payment_method"`
	TenderedCash  *decimal.Decimal `json:"tendered_cash,omitempty"`
	Change        *decimal.Decimal `json:"change,omitempty"`
}

// CartView описывает состояние корзины терминала вместе с актуальным расчётом.
type CartView struct {
	Lines       []CartLine
	DiscountIDs []string
	CouponCode  string
	CustomerID  string
	Breakdown   Breakdown
}
