// Package service управляет сессиями кассовых терминалов.
package service

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/pos-checkout/internal/checkout"
	"github.com/mmeshcher/pos-checkout/internal/coupon"
	"github.com/mmeshcher/pos-checkout/internal/model"
	"github.com/mmeshcher/pos-checkout/internal/sale"
)

// ErrTerminalRequired возвращается, если не указан идентификатор терминала.
var ErrTerminalRequired = errors.New("terminal id is required")

// Backend описывает внешние системы, с которыми работает терминал:
// каталог, справочник скидок и купонов, сохранение продаж.
type Backend interface {
	Close() error
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	ListDiscounts(ctx context.Context) ([]model.DiscountRule, error)
	GetCouponByCode(ctx context.Context, code string) (*model.Coupon, error)
	CountCustomerRedemptions(ctx context.Context, code, customerID string) (int, error)
	SubmitSale(ctx context.Context, record model.SaleRecord) (string, error)
}

// Options задаёт параметры, общие для всех терминалов арендатора.
type Options struct {
	TenantID string
	TaxRate  decimal.Decimal
}

// Service хранит сессии терминалов. Каждый терминал владеет ровно одной корзиной,
// корзины разных терминалов не пересекаются. Сессия без незавершённой транзакции
// удаляется из реестра, как только её перестают использовать.
type Service struct {
	backend   Backend
	validator *coupon.Validator
	finalizer *sale.Finalizer
	opts      Options
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[string]*terminal
}

type terminal struct {
	session *checkout.Session
	refs    int
}

// NewService создаёт новый сервис поверх внешних систем.
func NewService(backend Backend, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		backend:   backend,
		validator: coupon.NewValidator(backend),
		finalizer: sale.NewFinalizer(backend),
		opts:      opts,
		logger:    logger,
		sessions:  make(map[string]*terminal),
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.backend != nil {
		return s.backend.Close()
	}
	return nil
}

// acquire возвращает сессию терминала, создавая её при первом обращении.
// release обязательно вызывается по окончании работы с сессией.
func (s *Service) acquire(terminalID string) (*checkout.Session, func(), error) {
	if terminalID == "" {
		return nil, nil, ErrTerminalRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.sessions[terminalID]
	if !ok {
		t = &terminal{
			session: checkout.NewSession(checkout.Options{
				TenantID:   s.opts.TenantID,
				TerminalID: terminalID,
				TaxRate:    s.opts.TaxRate,
			}, s.backend, s.backend, s.validator, s.finalizer),
		}
		s.sessions[terminalID] = t
		s.logger.Debug("terminal session opened", zap.String("terminal", terminalID))
	}
	t.refs++

	return t.session, func() { s.release(terminalID, t) }, nil
}

func (s *Service) release(terminalID string, t *terminal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.refs--
	if t.refs == 0 && t.session.Idle() {
		delete(s.sessions, terminalID)
		s.logger.Debug("terminal session closed", zap.String("terminal", terminalID))
	}
}

// ActiveSessions возвращает число терминалов с незавершённой транзакцией.
func (s *Service) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// View возвращает состояние корзины терминала.
func (s *Service) View(ctx context.Context, terminalID string) (model.CartView, error) {
	sess, release, err := s.acquire(terminalID)
	if err != nil {
		return model.CartView{}, err
	}
	defer release()
	return sess.View(), nil
}

// AddItem добавляет товар в корзину терминала.
func (s *Service) AddItem(ctx context.Context, terminalID, productID string) (model.CartView, error) {
	sess, release, err := s.acquire(terminalID)
	if err != nil {
		return model.CartView{}, err
	}
	defer release()
	return sess.AddProduct(ctx, productID)
}

// SetQuantity изменяет количество товара в корзине терминала.
func (s *Service) SetQuantity(ctx context.Context, terminalID, productID string, quantity int) (model.CartView, error) {
	sess, release, err := s.acquire(terminalID)
	if err != nil {
		return model.CartView{}, err
	}
	defer release()
	return sess.SetQuantity(productID, quantity)
}

// RemoveItem удаляет товар из корзины терминала.
func (s *Service) RemoveItem(ctx context.Context, terminalID, productID string) (model.CartView, error) {
	sess, release, err := s.acquire(terminalID)
	if err != nil {
		return model.CartView{}, err
	}
	defer release()
	return sess.RemoveItem(productID), nil
}

// Reset сбрасывает транзакцию терминала.
func (s *Service) Reset(ctx context.Context, terminalID string) (model.CartView, error) {
	sess, release, err := s.acquire(terminalID)
	if err != nil {
		return model.CartView{}, err
	}
	defer release()
	s.logger.Info("transaction reset", zap.String("terminal", terminalID))
	return sess.Reset(), nil
}

// ApplyDiscount применяет скидку к корзине терминала.
func (s *Service) ApplyDiscount(ctx context.Context, terminalID, discountID string) (model.CartView, error) {
	sess, release, err := s.acquire(terminalID)
	if err != nil {
		return model.CartView{}, err
	}
	defer release()
	return sess.ApplyDiscount(ctx, discountID)
}

// RemoveDiscount снимает скидку с корзины терминала.
func (s *Service) RemoveDiscount(ctx context.Context, terminalID, discountID string) (model.CartView, error) {
	sess, release, err := s.acquire(terminalID)
	if err != nil {
		return model.CartView{}, err
	}
	defer release()
	return sess.RemoveDiscount(discountID), nil
}

// ApplyCoupon применяет купон к корзине терминала.
func (s *Service) ApplyCoupon(ctx context.Context, terminalID, code string) (model.CartView, error) {
	sess, release, err := s.acquire(terminalID)
	if err != nil {
		return model.CartView{}, err
	}
	defer release()

	view, err := sess.ApplyCoupon(ctx, code)
	switch {
	case err == nil:
	case coupon.IsRejection(err):
		s.logger.Info("coupon rejected",
			zap.String("terminal", terminalID), zap.String("code", code), zap.Error(err))
	case errors.Is(err, checkout.ErrCouponSuperseded):
		s.logger.Debug("coupon validation discarded", zap.String("terminal", terminalID), zap.String("code", code))
	default:
		s.logger.Error("coupon validation error",
			zap.String("terminal", terminalID), zap.String("code", code), zap.Error(err))
	}
	return view, err
}

// ClearCoupon снимает купон с корзины терминала.
func (s *Service) ClearCoupon(ctx context.Context, terminalID string) (model.CartView, error) {
	sess, release, err := s.acquire(terminalID)
	if err != nil {
		return model.CartView{}, err
	}
	defer release()
	return sess.ClearCoupon(), nil
}

// AttachCustomer привязывает покупателя к транзакции терминала.
func (s *Service) AttachCustomer(ctx context.Context, terminalID, customerID string) (model.CartView, error) {
	sess, release, err := s.acquire(terminalID)
	if err != nil {
		return model.CartView{}, err
	}
	defer release()
	return sess.AttachCustomer(customerID), nil
}

// Checkout оформляет продажу на терминале.
func (s *Service) Checkout(ctx context.Context, terminalID string, req checkout.CheckoutRequest) (*model.Receipt, error) {
	sess, release, err := s.acquire(terminalID)
	if err != nil {
		return nil, err
	}
	defer release()

	receipt, err := sess.Checkout(ctx, req)
	if err != nil {
		if errors.Is(err, sale.ErrPersistenceFailed) {
			s.logger.Warn("sale not persisted, transaction kept for retry",
				zap.String("terminal", terminalID), zap.String("operator", req.OperatorID), zap.Error(err))
		}
		return nil, err
	}

	s.logger.Info("sale completed",
		zap.String("terminal", terminalID),
		zap.String("operator", req.OperatorID),
		zap.String("sale", receipt.SaleID),
		zap.String("receipt", receipt.ReceiptID),
		zap.String("total", receipt.Total.StringFixed(2)),
		zap.String("method", string(receipt.PaymentMethod)),
	)
	return &receipt, nil
}

// ListDiscounts возвращает доступные скидки.
func (s *Service) ListDiscounts(ctx context.Context) ([]model.DiscountRule, error) {
	return s.backend.ListDiscounts(ctx)
}
