package services

import (
	"context"
	"time"

	"namedepot/internal/models"
	"namedepot/internal/payment"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	ErrPaymentNotConfirmed   = errors.New("payment is not confirmed")
	ErrPaymentAmountMismatch = errors.New("confirmed payment amount does not match the order")
	ErrOrderAlreadyProcessed = errors.New("order has already been processed")
)

// CheckoutService confirms an order's payment and kicks off provisioning.
// The saga runs per line item on a detached context so it outlives the HTTP
// response; distinct domain names are safe to provision concurrently.
type CheckoutService struct {
	orders      models.OrderRepository
	payments    payment.Verifier
	provisioner *Provisioner
	timeout     time.Duration
	log         *logrus.Entry
}

func NewCheckoutService(orders models.OrderRepository, payments payment.Verifier, provisioner *Provisioner, timeout time.Duration) *CheckoutService {
	return &CheckoutService{
		orders:      orders,
		payments:    payments,
		provisioner: provisioner,
		timeout:     timeout,
		log:         logrus.WithField("component", "checkout"),
	}
}

// Confirm verifies the payment with the gateway, marks the order completed,
// records payment_verified on every line item and launches provisioning.
func (s *CheckoutService) Confirm(ctx context.Context, orderID, paymentRef string) (*models.Order, error) {
	order, err := s.orders.Find(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderPending {
		return nil, ErrOrderAlreadyProcessed
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	conf, err := s.payments.Verify(callCtx, paymentRef)
	cancel()
	if err != nil {
		return nil, errors.Wrap(err, "verify payment")
	}
	if !conf.Confirmed {
		return nil, ErrPaymentNotConfirmed
	}
	if conf.Amount+0.005 < order.Amount {
		return nil, ErrPaymentAmountMismatch
	}

	order.PaymentRef = paymentRef
	order.Status = models.OrderCompleted
	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}

	for i := range order.Domains {
		item := &order.Domains[i]
		if item.LastStep() != models.StepNone {
			continue
		}
		if err := s.orders.AppendBooking(ctx, item.ID, models.StepPaymentVerified, "payment confirmed"); err != nil {
			return nil, err
		}
	}

	s.log.WithFields(logrus.Fields{"order_id": order.ID, "domains": len(order.Domains)}).Info("payment confirmed, provisioning started")

	// Detach from the request context so provisioning is not cancelled when
	// the HTTP response is sent.
	sagaCtx := context.WithoutCancel(ctx)
	for _, item := range order.Domains {
		go func(name string) {
			if _, err := s.provisioner.Execute(sagaCtx, order.ID, name); err != nil {
				s.log.WithError(err).WithFields(logrus.Fields{"order_id": order.ID, "domain": name}).Error("provisioning run failed")
			}
		}(item.Name)
	}

	return order, nil
}
