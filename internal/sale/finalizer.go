// Package sale оформляет завершённые продажи и формирует содержимое чека.
package sale

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/pos-checkout/internal/model"
	"github.com/mmeshcher/pos-checkout/internal/payment"
)

var (
	// ErrEmptyCart возвращается при попытке оформить продажу без позиций.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrPersistenceFailed возвращается, если сервис продаж не подтвердил сохранение.
	ErrPersistenceFailed = errors.New("sale persistence failed")
)

// Persister сохраняет продажу во внешней системе и возвращает номер чека.
type Persister interface {
	SubmitSale(ctx context.Context, record model.SaleRecord) (string, error)
}

// Metadata содержит контекст транзакции, передаваемый явно.
type Metadata struct {
	TenantID   string
	TerminalID string
	OperatorID string
	CustomerID string
}

// NewSaleID создаёт идентификатор продажи.
func NewSaleID() string {
	return uuid.NewString()
}

// Input содержит всё необходимое для оформления продажи.
// Пустой SaleID означает, что идентификатор будет создан при оформлении.
type Input struct {
	SaleID    string
	Lines     []model.CartLine
	Discounts []model.DiscountRule
	Coupon    *model.Coupon
	Breakdown model.Breakdown
	Payment   model.PaymentOutcome
	Metadata  Metadata
}

// Finalizer собирает запись о продаже и отправляет её на сохранение.
type Finalizer struct {
	persister Persister
	now       func() time.Time
	newID     func() string
}

// NewFinalizer создаёт Finalizer поверх сервиса сохранения продаж.
func NewFinalizer(p Persister) *Finalizer {
	return &Finalizer{
		persister: p,
		now:       time.Now,
		newID:     NewSaleID,
	}
}

// WithClock подменяет источник текущего времени.
func (f *Finalizer) WithClock(now func() time.Time) *Finalizer {
	f.now = now
	return f
}

// Finalize оформляет продажу. Повторной проверки наличных не выполняет: решение принимает
// сверка оплаты. Корзину не изменяет, очистка остаётся за вызывающей стороной после успеха.
func (f *Finalizer) Finalize(ctx context.Context, in Input) (model.SaleRecord, model.Receipt, error) {
	if len(in.Lines) == 0 {
		return model.SaleRecord{}, model.Receipt{}, ErrEmptyCart
	}
	if !in.Payment.Sufficient {
		return model.SaleRecord{}, model.Receipt{}, payment.ErrInsufficientTender
	}

	id := in.SaleID
	if id == "" {
		id = f.newID()
	}

	record := newRecord(id, f.now().UTC(), in)

	receiptID, err := f.persister.SubmitSale(ctx, record)
	if err != nil {
		return model.SaleRecord{}, model.Receipt{}, fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}

	return record, BuildReceipt(record, receiptID), nil
}

func newRecord(id string, at time.Time, in Input) model.SaleRecord {
	lines := make([]model.CartLine, len(in.Lines))
	copy(lines, in.Lines)

	discountIDs := make([]string, 0, len(in.Discounts))
	for _, d := range in.Discounts {
		discountIDs = append(discountIDs, d.ID)
	}

	record := model.SaleRecord{
		ID:            id,
		TenantID:      in.Metadata.TenantID,
		TerminalID:    in.Metadata.TerminalID,
		OperatorID:    in.Metadata.OperatorID,
		CustomerID:    in.Metadata.CustomerID,
		Lines:         lines,
		DiscountIDs:   discountIDs,
		PaymentMethod: in.Payment.Method,
		Change:        in.Payment.Change,
		Breakdown:     in.Breakdown,
		CreatedAt:     at,
	}
	if in.Coupon != nil {
		record.CouponID = in.Coupon.ID
		record.CouponCode = in.Coupon.Code
	}
	if in.Payment.Method == model.PaymentCash && in.Payment.Tendered != nil {
		t := *in.Payment.Tendered
		record.TenderedCash = &t
	}

	return record
}

// BuildReceipt формирует содержимое чека по записи о продаже.
func BuildReceipt(record model.SaleRecord, receiptID string) model.Receipt {
	entries := make([]model.ReceiptEntry, 0, len(record.Lines))
	for _, l := range record.Lines {
		entries = append(entries, model.ReceiptEntry{
			Description: l.Name,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			LineTotal:   l.LineTotal(),
		})
	}

	r := model.Receipt{
		ReceiptID:     receiptID,
		SaleID:        record.ID,
		TerminalID:    record.TerminalID,
		OperatorID:    record.OperatorID,
		IssuedAt:      record.CreatedAt,
		Entries:       entries,
		Subtotal:      record.Breakdown.Subtotal,
		DiscountTotal: record.Breakdown.DiscountTotal,
		CouponCode:    record.CouponCode,
		CouponAmount:  record.Breakdown.CouponAmount,
		Tax:           record.Breakdown.Tax,
		Total:         record.Breakdown.Total,
		PaymentMethod: record.PaymentMethod,
	}

	if record.PaymentMethod == model.PaymentCash && record.TenderedCash != nil {
		tendered := *record.TenderedCash
		change := decimal.Max(record.Change, decimal.Zero)
		r.TenderedCash = &tendered
		r.Change = &change
	}

	return r
}
