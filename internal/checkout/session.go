// Package checkout объединяет корзину, расчёт стоимости, купоны, оплату и оформление продажи
// в сессию одного кассового терминала.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/pos-checkout/internal/cart"
	"github.com/mmeshcher/pos-checkout/internal/coupon"
	"github.com/mmeshcher/pos-checkout/internal/model"
	"github.com/mmeshcher/pos-checkout/internal/payment"
	"github.com/mmeshcher/pos-checkout/internal/pricing"
	"github.com/mmeshcher/pos-checkout/internal/sale"
	"github.com/mmeshcher/pos-checkout/internal/validation"
)

// ErrCouponSuperseded возвращается, если за время проверки купона оператор сменил или очистил код.
// Результат такой проверки не применяется.
var ErrCouponSuperseded = errors.New("coupon validation superseded")

// Catalog описывает каталог товаров.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (*model.Product, error)
}

// DiscountDirectory описывает справочник скидок.
type DiscountDirectory interface {
	ListDiscounts(ctx context.Context) ([]model.DiscountRule, error)
}

// CouponValidator проверяет применимость купона.
type CouponValidator interface {
	Validate(ctx context.Context, code string, subtotal decimal.Decimal, customerID string) (model.Coupon, error)
}

// Finalizer оформляет продажу.
type Finalizer interface {
	Finalize(ctx context.Context, in sale.Input) (model.SaleRecord, model.Receipt, error)
}

// Options задаёт параметры сессии терминала.
type Options struct {
	TenantID   string
	TerminalID string
	TaxRate    decimal.Decimal
}

// CheckoutRequest содержит параметры оплаты. Оператор передаётся явно.
type CheckoutRequest struct {
	Method     model.PaymentMethod
	Tendered   *decimal.Decimal
	OperatorID string
}

// Session владеет корзиной одного терминала. Все изменения корзины сериализованы.
type Session struct {
	mu          sync.Mutex
	cart        *cart.Cart
	pendingCode string
	// saleID сохраняется между попытками оформления, пока не изменились транзакция и
	// параметры оплаты, чтобы повторная отправка после сбоя не создала вторую продажу.
	saleID      string
	salePayment CheckoutRequest

	catalog   Catalog
	discounts DiscountDirectory
	coupons   CouponValidator
	finalizer Finalizer
	opts      Options
}

// NewSession создаёт сессию терминала с пустой корзиной.
func NewSession(opts Options, catalog Catalog, discounts DiscountDirectory, coupons CouponValidator, finalizer Finalizer) *Session {
	return &Session{
		cart:      cart.New(),
		catalog:   catalog,
		discounts: discounts,
		coupons:   coupons,
		finalizer: finalizer,
		opts:      opts,
	}
}

// TerminalID возвращает идентификатор терминала сессии.
func (s *Session) TerminalID() string {
	return s.opts.TerminalID
}

func (s *Session) viewLocked() model.CartView {
	v := model.CartView{
		Lines:       s.cart.Lines(),
		DiscountIDs: s.cart.DiscountIDs(),
		CustomerID:  s.cart.Customer(),
		Breakdown:   s.evaluateLocked(),
	}
	if c := s.cart.Coupon(); c != nil {
		v.CouponCode = c.Code
	}
	return v
}

func (s *Session) evaluateLocked() model.Breakdown {
	return pricing.Evaluate(s.cart.Lines(), s.cart.Discounts(), s.cart.Coupon(), s.opts.TaxRate)
}

// Idle сообщает, что сессия не отличается от только что созданной: корзина пуста,
// нет скидок, купона, покупателя, ожидающей проверки купона и незавершённой продажи.
func (s *Session) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cart.IsEmpty() &&
		len(s.cart.Discounts()) == 0 &&
		s.cart.Coupon() == nil &&
		s.cart.Customer() == "" &&
		s.pendingCode == "" &&
		s.saleID == ""
}

// View возвращает текущее состояние корзины с расчётом.
func (s *Session) View() model.CartView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// AddProduct добавляет товар из каталога. Цена читается один раз, в момент добавления.
func (s *Session) AddProduct(ctx context.Context, productID string) (model.CartView, error) {
	p, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return model.CartView{}, fmt.Errorf("get product: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.saleID = ""
	s.cart.AddItem(*p)
	return s.viewLocked(), nil
}

// SetQuantity заменяет количество товара в позиции.
func (s *Session) SetQuantity(productID string, quantity int) (model.CartView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.cart.SetQuantity(productID, quantity); err != nil {
		return s.viewLocked(), err
	}
	s.saleID = ""
	return s.viewLocked(), nil
}

// RemoveItem удаляет позицию из корзины.
func (s *Session) RemoveItem(productID string) model.CartView {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saleID = ""
	s.cart.RemoveItem(productID)
	return s.viewLocked()
}

// ApplyDiscount применяет скидку из справочника по идентификатору.
func (s *Session) ApplyDiscount(ctx context.Context, discountID string) (model.CartView, error) {
	rules, err := s.discounts.ListDiscounts(ctx)
	if err != nil {
		return model.CartView{}, fmt.Errorf("list discounts: %w", err)
	}

	var rule *model.DiscountRule
	for i := range rules {
		if rules[i].ID == discountID {
			rule = &rules[i]
			break
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rule == nil {
		return s.viewLocked(), model.ErrDiscountNotFound
	}
	s.saleID = ""
	s.cart.ApplyDiscount(*rule)
	return s.viewLocked(), nil
}

// RemoveDiscount снимает скидку.
func (s *Session) RemoveDiscount(discountID string) model.CartView {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saleID = ""
	s.cart.RemoveDiscount(discountID)
	return s.viewLocked()
}

// ApplyCoupon проверяет купон и применяет его вместо ранее применённого.
//
// На время обращения к справочнику блокировка снимается. Если за это время код сменился
// или был очищен, результат отбрасывается с ErrCouponSuperseded. Повторное применение
// уже действующего кода ничего не проверяет заново, но отменяет ожидающую проверку другого
// кода. Минимальная сумма повторно сверяется с корзиной на момент применения.
// При отказе корзина не меняется.
func (s *Session) ApplyCoupon(ctx context.Context, code string) (model.CartView, error) {
	code = validation.NormalizeCouponCode(code)

	s.mu.Lock()
	s.pendingCode = code
	if c := s.cart.Coupon(); c != nil && c.Code == code {
		s.pendingCode = ""
		v := s.viewLocked()
		s.mu.Unlock()
		return v, nil
	}
	subtotal := s.cart.Subtotal()
	customerID := s.cart.Customer()
	s.mu.Unlock()

	accepted, err := s.coupons.Validate(ctx, code, subtotal, customerID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pendingCode != code {
		return s.viewLocked(), ErrCouponSuperseded
	}
	s.pendingCode = ""

	if err != nil {
		return s.viewLocked(), err
	}
	if accepted.MinAmount != nil && s.cart.Subtotal().LessThan(*accepted.MinAmount) {
		return s.viewLocked(), coupon.ErrMinimumNotMet
	}

	s.saleID = ""
	s.cart.SetCoupon(accepted)
	return s.viewLocked(), nil
}

// ClearCoupon снимает купон и отменяет ожидающую проверку.
func (s *Session) ClearCoupon() model.CartView {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pendingCode = ""
	s.saleID = ""
	s.cart.ClearCoupon()
	return s.viewLocked()
}

// AttachCustomer привязывает покупателя к транзакции.
func (s *Session) AttachCustomer(customerID string) model.CartView {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saleID = ""
	s.cart.SetCustomer(customerID)
	return s.viewLocked()
}

// Reset сбрасывает транзакцию.
func (s *Session) Reset() model.CartView {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pendingCode = ""
	s.saleID = ""
	s.cart.Clear()
	return s.viewLocked()
}

// Checkout сверяет оплату и оформляет продажу. Корзина очищается только после
// подтверждённого сохранения; при любой ошибке транзакция остаётся нетронутой.
func (s *Session) Checkout(ctx context.Context, req CheckoutRequest) (model.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cart.IsEmpty() {
		return model.Receipt{}, sale.ErrEmptyCart
	}

	breakdown := s.evaluateLocked()

	outcome, err := payment.Reconcile(req.Method, breakdown.Total, req.Tendered)
	if err != nil {
		return model.Receipt{}, err
	}

	if s.saleID == "" || !samePayment(s.salePayment, req) {
		s.saleID = sale.NewSaleID()
		s.salePayment = req
	}

	_, receipt, err := s.finalizer.Finalize(ctx, sale.Input{
		SaleID:    s.saleID,
		Lines:     s.cart.Lines(),
		Discounts: s.cart.Discounts(),
		Coupon:    s.cart.Coupon(),
		Breakdown: breakdown,
		Payment:   outcome,
		Metadata: sale.Metadata{
			TenantID:   s.opts.TenantID,
			TerminalID: s.opts.TerminalID,
			OperatorID: req.OperatorID,
			CustomerID: s.cart.Customer(),
		},
	})
	if err != nil {
		return model.Receipt{}, err
	}

	s.pendingCode = ""
	s.saleID = ""
	s.cart.Clear()
	return receipt, nil
}

func samePayment(a, b CheckoutRequest) bool {
	if a.Method != b.Method || a.OperatorID != b.OperatorID {
		return false
	}
	if a.Tendered == nil || b.Tendered == nil {
		return a.Tendered == nil && b.Tendered == nil
	}
	return a.Tendered.Equal(*b.Tendered)
}
