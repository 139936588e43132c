package services

import (
	"context"
	"testing"
	"time"

	"namedepot/internal/models"
	"namedepot/internal/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockVerifier struct {
	conf payment.Confirmation
	err  error
}

func (m *mockVerifier) Verify(ctx context.Context, ref string) (*payment.Confirmation, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &m.conf, nil
}

func checkoutFixture(t *testing.T, verifier payment.Verifier) (*CheckoutService, *memOrders, *memPending, *mockRegistrar) {
	t.Helper()
	users := newMemUsers(&models.User{ID: "u1", Name: "Ada Lovelace", Email: "ada@example.com", Country: "GB"})
	orders := newMemOrders()
	pending := newMemPending()
	reg := newMockRegistrar()

	p := NewProvisioner(orders, pending, users, reg, time.Second, nil)
	s := NewCheckoutService(orders, verifier, p, time.Second)

	require.NoError(t, orders.Create(context.Background(), &models.Order{
		ID: "ord_1", UserID: "u1", Amount: 51.99, Status: models.OrderPending,
		Domains: []models.DomainLineItem{
			{Name: "foo.com", Price: 12.99, Currency: "USD", PeriodYears: 1, Status: models.ItemPending},
			{Name: "bar.io", Price: 39.00, Currency: "USD", PeriodYears: 1, Status: models.ItemPending},
		},
	}))
	return s, orders, pending, reg
}

func TestConfirmStartsProvisioning(t *testing.T) {
	s, orders, _, _ := checkoutFixture(t, &mockVerifier{
		conf: payment.Confirmation{Confirmed: true, Amount: 51.99, Currency: "USD"},
	})

	order, err := s.Confirm(context.Background(), "ord_1", "pay_123")
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, order.Status)
	assert.Equal(t, "pay_123", order.PaymentRef)

	// Both sagas run detached from the request; wait for them to land.
	assert.Eventually(t, func() bool {
		got, err := orders.Find(context.Background(), "ord_1")
		if err != nil {
			return false
		}
		for _, item := range got.Domains {
			if item.Status != models.ItemRegistered {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	got, err := orders.Find(context.Background(), "ord_1")
	require.NoError(t, err)
	for _, item := range got.Domains {
		assert.Equal(t, models.StepPaymentVerified, item.BookingLog[0].Step)
		assert.Equal(t, 20, item.BookingLog[0].Progress)
		assert.Equal(t, models.StepDomainRegistered, item.LastStep())
		assert.Equal(t, 100, item.LastProgress())
	}
}

func TestConfirmRejectsUnconfirmedPayment(t *testing.T) {
	s, orders, _, reg := checkoutFixture(t, &mockVerifier{
		conf: payment.Confirmation{Confirmed: false},
	})

	_, err := s.Confirm(context.Background(), "ord_1", "pay_123")
	assert.ErrorIs(t, err, ErrPaymentNotConfirmed)

	got, err := orders.Find(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, got.Status, "order untouched on rejection")
	_, _, registers := reg.calls()
	assert.Zero(t, registers)
}

func TestConfirmRejectsAmountMismatch(t *testing.T) {
	s, _, _, _ := checkoutFixture(t, &mockVerifier{
		conf: payment.Confirmation{Confirmed: true, Amount: 12.99},
	})

	_, err := s.Confirm(context.Background(), "ord_1", "pay_123")
	assert.ErrorIs(t, err, ErrPaymentAmountMismatch)
}

func TestConfirmRejectsProcessedOrder(t *testing.T) {
	s, orders, _, _ := checkoutFixture(t, &mockVerifier{
		conf: payment.Confirmation{Confirmed: true, Amount: 51.99},
	})

	order, err := orders.Find(context.Background(), "ord_1")
	require.NoError(t, err)
	order.Status = models.OrderCompleted
	require.NoError(t, orders.Update(context.Background(), order))

	_, err = s.Confirm(context.Background(), "ord_1", "pay_123")
	assert.ErrorIs(t, err, ErrOrderAlreadyProcessed)
}
