package payment

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/pos-checkout/internal/model"
)

func ptr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestReconcile_Cash(t *testing.T) {
	tests := []struct {
		name       string
		tendered   *decimal.Decimal
		wantErr    error
		wantChange string
	}{
		{name: "change due", tendered: ptr("200"), wantChange: "16"},
		{name: "exact", tendered: ptr("184"), wantChange: "0"},
		{name: "insufficient", tendered: ptr("150"), wantErr: ErrInsufficientTender},
		{name: "missing tender", tendered: nil, wantErr: ErrInsufficientTender},
		{name: "negative tender", tendered: ptr("-5"), wantErr: ErrInvalidTender},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Reconcile(model.PaymentCash, decimal.NewFromInt(184), tt.tendered)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.False(t, out.Sufficient)
				return
			}
			require.NoError(t, err)
			assert.True(t, out.Sufficient)
			assert.False(t, out.AuthorizationPending)
			assert.Truef(t, out.Change.Equal(decimal.RequireFromString(tt.wantChange)), "change = %s", out.Change)
		})
	}
}

func TestReconcile_NonCash(t *testing.T) {
	methods := []model.PaymentMethod{model.PaymentCard, model.PaymentMobileMoney, model.PaymentBankTransfer}

	for _, m := range methods {
		out, err := Reconcile(m, decimal.NewFromInt(184), nil)
		require.NoError(t, err)
		assert.True(t, out.Sufficient)
		assert.True(t, out.AuthorizationPending)
		assert.True(t, out.Change.IsZero())
		assert.Nil(t, out.Tendered)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	tendered := ptr("200")

	first, err1 := Reconcile(model.PaymentCash, decimal.NewFromInt(184), tendered)
	second, err2 := Reconcile(model.PaymentCash, decimal.NewFromInt(184), tendered)

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, first.Change.String(), second.Change.String())
	assert.Equal(t, "200", tendered.String())
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("mobile_money")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentMobileMoney, m)

	_, err = ParseMethod("cheque")
	require.ErrorIs(t, err, ErrUnknownMethod)

	_, err = Reconcile(model.PaymentMethod("cheque"), decimal.Zero, nil)
	require.ErrorIs(t, err, ErrUnknownMethod)
}
