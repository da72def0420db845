package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/pos-checkout/internal/coupon"
	"github.com/mmeshcher/pos-checkout/internal/model"
	"github.com/mmeshcher/pos-checkout/internal/payment"
	"github.com/mmeshcher/pos-checkout/internal/sale"
)

type stubBackend struct {
	products  map[string]model.Product
	discounts []model.DiscountRule
	coupons   map[string]model.Coupon

	submitErr error
	submitted []model.SaleRecord
}

func (s *stubBackend) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return nil, model.ErrProductNotFound
	}
	return &p, nil
}

func (s *stubBackend) ListDiscounts(ctx context.Context) ([]model.DiscountRule, error) {
	return s.discounts, nil
}

func (s *stubBackend) GetCouponByCode(ctx context.Context, code string) (*model.Coupon, error) {
	c, ok := s.coupons[code]
	if !ok {
		return nil, model.ErrCouponNotFound
	}
	return &c, nil
}

func (s *stubBackend) CountCustomerRedemptions(ctx context.Context, code, customerID string) (int, error) {
	return 0, nil
}

func (s *stubBackend) SubmitSale(ctx context.Context, record model.SaleRecord) (string, error) {
	s.submitted = append(s.submitted, record)
	if s.submitErr != nil {
		return "", s.submitErr
	}
	return "R-0001", nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func newBackend() *stubBackend {
	return &stubBackend{
		products: map[string]model.Product{
			"p1": {ID: "p1", Name: "Bread", Price: dec("100")},
			"p2": {ID: "p2", Name: "Milk", Price: dec("25")},
			"p3": {ID: "p3", Name: "Gum", Price: dec("50")},
		},
		discounts: []model.DiscountRule{
			{ID: "d10", Name: "Ten percent", Kind: model.DiscountPercentage, Value: dec("10")},
		},
		coupons: map[string]model.Coupon{
			"SAVE20": {ID: "c1", Code: "SAVE20", Kind: model.DiscountFixed, Value: dec("20")},
			"MIN100": {ID: "c2", Code: "MIN100", Kind: model.DiscountFixed, Value: dec("5"), MinAmount: decPtr("100")},
		},
	}
}

func newSession(b *stubBackend) *Session {
	return NewSession(
		Options{TenantID: "t1", TerminalID: "term-1", TaxRate: dec("0.15")},
		b, b, coupon.NewValidator(b), sale.NewFinalizer(b),
	)
}

func addTwice(t *testing.T, s *Session, id string) {
	t.Helper()
	_, err := s.AddProduct(context.Background(), id)
	require.NoError(t, err)
	_, err = s.AddProduct(context.Background(), id)
	require.NoError(t, err)
}

func TestSession_FullSaleClearsCart(t *testing.T) {
	b := newBackend()
	s := newSession(b)
	ctx := context.Background()

	addTwice(t, s, "p1")
	_, err := s.ApplyDiscount(ctx, "d10")
	require.NoError(t, err)
	v, err := s.ApplyCoupon(ctx, "save20")
	require.NoError(t, err)

	assert.Equal(t, "SAVE20", v.CouponCode)
	assert.True(t, v.Breakdown.Total.Equal(dec("184")))

	receipt, err := s.Checkout(ctx, CheckoutRequest{Method: model.PaymentCash, Tendered: decPtr("200"), OperatorID: "op-1"})
	require.NoError(t, err)
	assert.Equal(t, "R-0001", receipt.ReceiptID)
	require.NotNil(t, receipt.Change)
	assert.True(t, receipt.Change.Equal(dec("16")))

	require.Len(t, b.submitted, 1)
	assert.Equal(t, "op-1", b.submitted[0].OperatorID)
	assert.Equal(t, "term-1", b.submitted[0].TerminalID)
	assert.Equal(t, "c1", b.submitted[0].CouponID)

	after := s.View()
	assert.Empty(t, after.Lines)
	assert.Empty(t, after.DiscountIDs)
	assert.Empty(t, after.CouponCode)
}

func TestSession_InsufficientTenderKeepsCart(t *testing.T) {
	b := newBackend()
	s := newSession(b)

	addTwice(t, s, "p1")

	_, err := s.Checkout(context.Background(), CheckoutRequest{Method: model.PaymentCash, Tendered: decPtr("150")})
	require.ErrorIs(t, err, payment.ErrInsufficientTender)
	assert.Empty(t, b.submitted)
	assert.Len(t, s.View().Lines, 1)
}

func TestSession_PersistenceFailureKeepsTransaction(t *testing.T) {
	b := newBackend()
	b.submitErr = errors.New("network unreachable")
	s := newSession(b)
	ctx := context.Background()

	addTwice(t, s, "p1")
	_, err := s.ApplyDiscount(ctx, "d10")
	require.NoError(t, err)
	_, err = s.ApplyCoupon(ctx, "SAVE20")
	require.NoError(t, err)

	req := CheckoutRequest{Method: model.PaymentCash, Tendered: decPtr("200")}
	_, err = s.Checkout(ctx, req)
	require.ErrorIs(t, err, sale.ErrPersistenceFailed)

	v := s.View()
	require.Len(t, v.Lines, 1)
	assert.Equal(t, 2, v.Lines[0].Quantity)
	assert.Equal(t, []string{"d10"}, v.DiscountIDs)
	assert.Equal(t, "SAVE20", v.CouponCode)

	b.submitErr = nil
	receipt, err := s.Checkout(ctx, req)
	require.NoError(t, err)
	assert.True(t, receipt.Total.Equal(dec("184")))
	require.Len(t, b.submitted, 2)
	assert.Equal(t, b.submitted[0].ID, b.submitted[1].ID, "retry must reuse the sale id")
	assert.Empty(t, s.View().Lines)
}

func TestSession_ChangedPaymentGetsNewSaleID(t *testing.T) {
	b := newBackend()
	b.submitErr = errors.New("timeout")
	s := newSession(b)
	ctx := context.Background()

	_, err := s.AddProduct(ctx, "p1")
	require.NoError(t, err)

	_, err = s.Checkout(ctx, CheckoutRequest{Method: model.PaymentCard})
	require.ErrorIs(t, err, sale.ErrPersistenceFailed)

	b.submitErr = nil
	_, err = s.Checkout(ctx, CheckoutRequest{Method: model.PaymentCash, Tendered: decPtr("200")})
	require.NoError(t, err)

	require.Len(t, b.submitted, 2)
	assert.NotEqual(t, b.submitted[0].ID, b.submitted[1].ID)
	assert.Equal(t, model.PaymentCash, b.submitted[1].PaymentMethod)
}

func TestSession_ChangedTransactionGetsNewSaleID(t *testing.T) {
	b := newBackend()
	b.submitErr = errors.New("timeout")
	s := newSession(b)
	ctx := context.Background()

	_, err := s.AddProduct(ctx, "p1")
	require.NoError(t, err)

	req := CheckoutRequest{Method: model.PaymentCard}
	_, err = s.Checkout(ctx, req)
	require.ErrorIs(t, err, sale.ErrPersistenceFailed)

	_, err = s.AddProduct(ctx, "p2")
	require.NoError(t, err)

	b.submitErr = nil
	_, err = s.Checkout(ctx, req)
	require.NoError(t, err)

	require.Len(t, b.submitted, 2)
	assert.NotEqual(t, b.submitted[0].ID, b.submitted[1].ID)
}

func TestSession_EmptyCheckout(t *testing.T) {
	s := newSession(newBackend())

	_, err := s.Checkout(context.Background(), CheckoutRequest{Method: model.PaymentCard})
	require.ErrorIs(t, err, sale.ErrEmptyCart)
}

func TestSession_RejectedCouponLeavesBreakdown(t *testing.T) {
	s := newSession(newBackend())
	ctx := context.Background()

	_, err := s.AddProduct(ctx, "p3")
	require.NoError(t, err)
	before := s.View()

	v, err := s.ApplyCoupon(ctx, "MIN100")
	require.ErrorIs(t, err, coupon.ErrMinimumNotMet)
	assert.Empty(t, v.CouponCode)
	assert.True(t, before.Breakdown.Total.Equal(v.Breakdown.Total))
}

func TestSession_RejectedCouponKeepsPreviousCoupon(t *testing.T) {
	s := newSession(newBackend())
	ctx := context.Background()

	_, err := s.AddProduct(ctx, "p3")
	require.NoError(t, err)
	_, err = s.ApplyCoupon(ctx, "SAVE20")
	require.NoError(t, err)

	v, err := s.ApplyCoupon(ctx, "UNKNOWN")
	require.ErrorIs(t, err, coupon.ErrNotFound)
	assert.Equal(t, "SAVE20", v.CouponCode)
}

func TestSession_UnknownProductAndDiscount(t *testing.T) {
	s := newSession(newBackend())
	ctx := context.Background()

	_, err := s.AddProduct(ctx, "nope")
	require.ErrorIs(t, err, model.ErrProductNotFound)

	_, err = s.ApplyDiscount(ctx, "nope")
	require.ErrorIs(t, err, model.ErrDiscountNotFound)
}

func TestSession_PriceCapturedAtAddTime(t *testing.T) {
	b := newBackend()
	s := newSession(b)
	ctx := context.Background()

	_, err := s.AddProduct(ctx, "p2")
	require.NoError(t, err)

	b.products["p2"] = model.Product{ID: "p2", Name: "Milk", Price: dec("99")}

	v := s.View()
	assert.True(t, v.Lines[0].UnitPrice.Equal(dec("25")))
}

// blockingValidator задерживает проверку одного кода до закрытия release,
// остальные коды проверяются сразу.
type blockingValidator struct {
	code    string
	started chan struct{}
	release chan struct{}
	next    CouponValidator
}

func newBlockingValidator(code string, next CouponValidator) *blockingValidator {
	return &blockingValidator{
		code:    code,
		started: make(chan struct{}),
		release: make(chan struct{}),
		next:    next,
	}
}

func (v *blockingValidator) Validate(ctx context.Context, code string, subtotal decimal.Decimal, customerID string) (model.Coupon, error) {
	if code == v.code {
		close(v.started)
		<-v.release
	}
	return v.next.Validate(ctx, code, subtotal, customerID)
}

func applyInBackground(s *Session, code string) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		_, err := s.ApplyCoupon(context.Background(), code)
		errCh <- err
	}()
	return errCh
}

func waitStarted(t *testing.T, v *blockingValidator) {
	t.Helper()
	select {
	case <-v.started:
	case <-time.After(time.Second):
		t.Fatalf("validation did not start")
	}
}

func waitResult(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(time.Second):
		t.Fatalf("ApplyCoupon did not return")
	}
	return nil
}

func TestSession_ClearedCouponDiscardsInFlightValidation(t *testing.T) {
	b := newBackend()
	v := newBlockingValidator("SAVE20", coupon.NewValidator(b))
	s := NewSession(Options{TaxRate: dec("0")}, b, b, v, sale.NewFinalizer(b))

	_, err := s.AddProduct(context.Background(), "p1")
	require.NoError(t, err)

	errCh := applyInBackground(s, "SAVE20")
	waitStarted(t, v)

	s.ClearCoupon()
	close(v.release)

	require.ErrorIs(t, waitResult(t, errCh), ErrCouponSuperseded)
	assert.Empty(t, s.View().CouponCode)
}

func TestSession_ReapplyingCurrentCodeDiscardsInFlightValidation(t *testing.T) {
	b := newBackend()
	b.coupons["OTHER"] = model.Coupon{ID: "c3", Code: "OTHER", Kind: model.DiscountFixed, Value: dec("1")}
	v := newBlockingValidator("OTHER", coupon.NewValidator(b))
	s := NewSession(Options{TaxRate: dec("0")}, b, b, v, sale.NewFinalizer(b))
	ctx := context.Background()

	_, err := s.AddProduct(ctx, "p1")
	require.NoError(t, err)
	_, err = s.ApplyCoupon(ctx, "SAVE20")
	require.NoError(t, err)

	errCh := applyInBackground(s, "OTHER")
	waitStarted(t, v)

	view, err := s.ApplyCoupon(ctx, "save20")
	require.NoError(t, err)
	assert.Equal(t, "SAVE20", view.CouponCode)

	close(v.release)

	require.ErrorIs(t, waitResult(t, errCh), ErrCouponSuperseded)
	assert.Equal(t, "SAVE20", s.View().CouponCode)
}

func TestSession_NewerCodeSupersedesInFlightValidation(t *testing.T) {
	b := newBackend()
	v := newBlockingValidator("MIN100", coupon.NewValidator(b))
	s := NewSession(Options{TaxRate: dec("0")}, b, b, v, sale.NewFinalizer(b))
	ctx := context.Background()

	_, err := s.AddProduct(ctx, "p1")
	require.NoError(t, err)

	errCh := applyInBackground(s, "MIN100")
	waitStarted(t, v)

	_, err = s.ApplyCoupon(ctx, "SAVE20")
	require.NoError(t, err)

	close(v.release)

	require.ErrorIs(t, waitResult(t, errCh), ErrCouponSuperseded)
	assert.Equal(t, "SAVE20", s.View().CouponCode)
}

func TestSession_MinimumRecheckedAgainstCurrentCart(t *testing.T) {
	b := newBackend()
	v := newBlockingValidator("MIN100", coupon.NewValidator(b))
	s := NewSession(Options{TaxRate: dec("0")}, b, b, v, sale.NewFinalizer(b))
	ctx := context.Background()

	_, err := s.AddProduct(ctx, "p1")
	require.NoError(t, err)

	errCh := applyInBackground(s, "MIN100")
	waitStarted(t, v)

	s.RemoveItem("p1")
	_, err = s.AddProduct(ctx, "p2")
	require.NoError(t, err)

	close(v.release)

	require.ErrorIs(t, waitResult(t, errCh), coupon.ErrMinimumNotMet)

	view := s.View()
	assert.Empty(t, view.CouponCode)
	assert.True(t, view.Breakdown.Subtotal.Equal(dec("25")))
	assert.True(t, view.Breakdown.CouponAmount.IsZero())
}

func TestSession_Idle(t *testing.T) {
	b := newBackend()
	s := newSession(b)
	ctx := context.Background()

	assert.True(t, s.Idle())

	_, err := s.AddProduct(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, s.Idle())

	_, err = s.Checkout(ctx, CheckoutRequest{Method: model.PaymentCard})
	require.NoError(t, err)
	assert.True(t, s.Idle())

	s.AttachCustomer("cust-1")
	assert.False(t, s.Idle())

	s.Reset()
	assert.True(t, s.Idle())
}

func TestSession_SetQuantityAndRemove(t *testing.T) {
	s := newSession(newBackend())

	_, err := s.AddProduct(context.Background(), "p2")
	require.NoError(t, err)

	v, err := s.SetQuantity("p2", 4)
	require.NoError(t, err)
	assert.True(t, v.Breakdown.Subtotal.Equal(dec("100")))

	_, err = s.SetQuantity("p2", 0)
	require.Error(t, err)

	v = s.RemoveItem("p2")
	assert.Empty(t, v.Lines)
	assert.True(t, v.Breakdown.Total.IsZero())
}
