// Package handler содержит HTTP-обработчики API кассового терминала.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/pos-checkout/internal/cart"
	"github.com/mmeshcher/pos-checkout/internal/checkout"
	"github.com/mmeshcher/pos-checkout/internal/coupon"
	"github.com/mmeshcher/pos-checkout/internal/middleware"
	"github.com/mmeshcher/pos-checkout/internal/model"
	"github.com/mmeshcher/pos-checkout/internal/payment"
	"github.com/mmeshcher/pos-checkout/internal/sale"
	"github.com/mmeshcher/pos-checkout/internal/service"
	"github.com/mmeshcher/pos-checkout/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	View(ctx context.Context, terminalID string) (model.CartView, error)
	AddItem(ctx context.Context, terminalID, productID string) (model.CartView, error)
	SetQuantity(ctx context.Context, terminalID, productID string, quantity int) (model.CartView, error)
	RemoveItem(ctx context.Context, terminalID, productID string) (model.CartView, error)
	Reset(ctx context.Context, terminalID string) (model.CartView, error)
	ApplyDiscount(ctx context.Context, terminalID, discountID string) (model.CartView, error)
	RemoveDiscount(ctx context.Context, terminalID, discountID string) (model.CartView, error)
	ApplyCoupon(ctx context.Context, terminalID, code string) (model.CartView, error)
	ClearCoupon(ctx context.Context, terminalID string) (model.CartView, error)
	AttachCustomer(ctx context.Context, terminalID, customerID string) (model.CartView, error)
	Checkout(ctx context.Context, terminalID string, req checkout.CheckoutRequest) (*model.Receipt, error)
	ListDiscounts(ctx context.Context) ([]model.DiscountRule, error)
}

// Handler реализует HTTP-обработчики API кассового терминала.
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: s,
		logger:  logger,
	}
}

type lineResponse struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type cartResponse struct {
	Lines       []lineResponse  `json:"lines"`
	DiscountIDs []string        `json:"discount_ids"`
	CouponCode  string          `json:"coupon_code,omitempty"`
	CustomerID  string          `json:"customer_id,omitempty"`
	Breakdown   model.Breakdown `json:"breakdown"`
}

type discountResponse struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Kind  string          `json:"kind"`
	Value decimal.Decimal `json:"value"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

type discountRequest struct {
	DiscountID string `json:"discount_id"`
}

type couponRequest struct {
	Code string `json:"code"`
}

type customerRequest struct {
	CustomerID string `json:"customer_id"`
}

type checkoutRequest struct {
	PaymentMethod string      `json:"payment_method"`
	TenderedCash  json.Number `json:"tendered_cash,omitempty"`
}

func toCartResponse(v model.CartView) cartResponse {
	lines := make([]lineResponse, 0, len(v.Lines))
	for _, l := range v.Lines {
		lines = append(lines, lineResponse{
			ProductID: l.ProductID,
			Name:      l.Name,
			UnitPrice: l.UnitPrice,
			Quantity:  l.Quantity,
			LineTotal: l.LineTotal(),
		})
	}

	ids := v.DiscountIDs
	if ids == nil {
		ids = []string{}
	}

	return cartResponse{
		Lines:       lines,
		DiscountIDs: ids,
		CouponCode:  v.CouponCode,
		CustomerID:  v.CustomerID,
		Breakdown:   v.Breakdown,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func couponReason(err error) string {
	switch {
	case errors.Is(err, coupon.ErrNotFound):
		return "not_found"
	case errors.Is(err, coupon.ErrExpired):
		return "expired"
	case errors.Is(err, coupon.ErrNotYetActive):
		return "not_yet_active"
	case errors.Is(err, coupon.ErrUsageLimitReached):
		return "usage_limit_reached"
	case errors.Is(err, coupon.ErrPerCustomerLimitReached):
		return "per_customer_limit_reached"
	case errors.Is(err, coupon.ErrMinimumNotMet):
		return "minimum_not_met"
	default:
		return "rejected"
	}
}

// writeError переводит ошибки транзакции в HTTP-статусы. Ни одна из них не прерывает транзакцию.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrTerminalRequired),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, payment.ErrUnknownMethod),
		errors.Is(err, payment.ErrInvalidTender),
		errors.Is(err, sale.ErrEmptyCart):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, model.ErrProductNotFound),
		errors.Is(err, model.ErrDiscountNotFound),
		errors.Is(err, cart.ErrLineNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case coupon.IsRejection(err):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: couponReason(err)})
	case errors.Is(err, checkout.ErrCouponSuperseded):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, payment.ErrInsufficientTender):
		writeJSON(w, http.StatusPaymentRequired, errorResponse{Error: err.Error()})
	case errors.Is(err, sale.ErrPersistenceFailed):
		h.logger.Error("checkout persistence error", zap.Error(err), zap.String("uri", r.RequestURI))
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: sale.ErrPersistenceFailed.Error()})
	default:
		h.logger.Error("request error", zap.Error(err), zap.String("uri", r.RequestURI))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) respondCart(w http.ResponseWriter, r *http.Request, v model.CartView, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(v))
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return false
	}
	return true
}

// ListDiscounts возвращает доступные скидки.
func (h *Handler) ListDiscounts(w http.ResponseWriter, r *http.Request) {
	rules, err := h.service.ListDiscounts(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]discountResponse, 0, len(rules))
	for _, d := range rules {
		resp = append(resp, discountResponse{
			ID:    d.ID,
			Name:  d.Name,
			Kind:  string(d.Kind),
			Value: d.Value,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetCart возвращает корзину терминала с актуальным расчётом.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.View(r.Context(), chi.URLParam(r, "terminalID"))
	h.respondCart(w, r, v, err)
}

// ResetCart сбрасывает транзакцию терминала.
func (h *Handler) ResetCart(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.Reset(r.Context(), chi.URLParam(r, "terminalID"))
	h.respondCart(w, r, v, err)
}

// AddItem добавляет товар в корзину.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ProductID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	v, err := h.service.AddItem(r.Context(), chi.URLParam(r, "terminalID"), req.ProductID)
	h.respondCart(w, r, v, err)
}

// SetQuantity изменяет количество товара в позиции.
func (h *Handler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if !decode(w, r, &req) {
		return
	}

	v, err := h.service.SetQuantity(r.Context(), chi.URLParam(r, "terminalID"), chi.URLParam(r, "productID"), req.Quantity)
	h.respondCart(w, r, v, err)
}

// RemoveItem удаляет позицию из корзины.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.RemoveItem(r.Context(), chi.URLParam(r, "terminalID"), chi.URLParam(r, "productID"))
	h.respondCart(w, r, v, err)
}

// ApplyDiscount применяет скидку.
func (h *Handler) ApplyDiscount(w http.ResponseWriter, r *http.Request) {
	var req discountRequest
	if !decode(w, r, &req) {
		return
	}
	if req.DiscountID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	v, err := h.service.ApplyDiscount(r.Context(), chi.URLParam(r, "terminalID"), req.DiscountID)
	h.respondCart(w, r, v, err)
}

// RemoveDiscount снимает скидку.
func (h *Handler) RemoveDiscount(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.RemoveDiscount(r.Context(), chi.URLParam(r, "terminalID"), chi.URLParam(r, "discountID"))
	h.respondCart(w, r, v, err)
}

// ApplyCoupon применяет купон. Отказ возвращается с причиной, корзина при этом не меняется.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if !decode(w, r, &req) {
		return
	}

	code := validation.NormalizeCouponCode(req.Code)
	if code == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	v, err := h.service.ApplyCoupon(r.Context(), chi.URLParam(r, "terminalID"), code)
	h.respondCart(w, r, v, err)
}

// ClearCoupon снимает купон.
func (h *Handler) ClearCoupon(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.ClearCoupon(r.Context(), chi.URLParam(r, "terminalID"))
	h.respondCart(w, r, v, err)
}

// AttachCustomer привязывает покупателя к транзакции.
func (h *Handler) AttachCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if !decode(w, r, &req) {
		return
	}

	v, err := h.service.AttachCustomer(r.Context(), chi.URLParam(r, "terminalID"), req.CustomerID)
	h.respondCart(w, r, v, err)
}

// Checkout оформляет продажу и возвращает содержимое чека.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := middleware.GetOperatorIDFromContext(r.Context())
	if !ok {
		http.Error(w, "operator id required", http.StatusBadRequest)
		return
	}

	var req checkoutRequest
	if !decode(w, r, &req) {
		return
	}

	method, err := payment.ParseMethod(req.PaymentMethod)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var tendered *decimal.Decimal
	if req.TenderedCash != "" {
		amount, ok := validation.ParseAmount(req.TenderedCash.String())
		if !ok {
			h.writeError(w, r, payment.ErrInvalidTender)
			return
		}
		tendered = &amount
	}

	receipt, err := h.service.Checkout(r.Context(), chi.URLParam(r, "terminalID"), checkout.CheckoutRequest{
		Method:     method,
		Tendered:   tendered,
		OperatorID: operatorID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, receipt)
}
