package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanFollow(t *testing.T) {
	cases := []struct {
		prev, next Step
		ok         bool
	}{
		{StepNone, StepPaymentVerified, true},
		{StepNone, StepCustomerCreated, false},
		{StepPaymentVerified, StepCustomerCreated, true},
		{StepPaymentVerified, StepDomainRegistering, true}, // retry with known ids
		{StepPaymentVerified, StepDomainRegistered, false},
		{StepCustomerCreated, StepContactCreated, true},
		{StepCustomerCreated, StepDomainRegistering, false},
		{StepContactCreated, StepDomainRegistering, true},
		{StepDomainRegistering, StepDomainRegistered, true},
		{StepDomainRegistering, StepDomainPending, true},
		{StepDomainRegistering, StepDomainFailed, true},
		{StepDomainPending, StepDomainRegistered, true}, // verification confirms
		{StepDomainFailed, StepDomainRegistering, true}, // operator retry
		{StepDomainFailed, StepDomainRegistered, true},
		{StepDomainFailed, StepDomainFailed, false},
		{StepDomainRegistered, StepDNSActivated, true},
		{StepDomainRegistered, StepDomainRegistering, false},
		{StepDNSActivated, StepDomainRegistered, false}, // terminal
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, CanFollow(tc.prev, tc.next), "%q -> %q", tc.prev, tc.next)
	}
}

func TestValidateTransition(t *testing.T) {
	assert.NoError(t, ValidateTransition(StepNone, StepPaymentVerified))

	err := ValidateTransition(StepPaymentVerified, StepDNSActivated)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), string(StepDNSActivated))
	assert.Contains(t, err.Error(), string(StepPaymentVerified))
}

func TestProgressNeverDecreases(t *testing.T) {
	assert.Equal(t, 20, ProgressAfter(0, StepPaymentVerified))
	assert.Equal(t, 40, ProgressAfter(20, StepCustomerCreated))
	assert.Equal(t, 60, ProgressAfter(40, StepContactCreated))
	assert.Equal(t, 80, ProgressAfter(60, StepDomainRegistering))
	assert.Equal(t, 100, ProgressAfter(80, StepDomainRegistered))

	// Parked and failed steps carry the log's previous progress forward.
	assert.Equal(t, 80, ProgressAfter(80, StepDomainPending))
	assert.Equal(t, 80, ProgressAfter(80, StepDomainFailed))
	assert.Equal(t, 20, ProgressAfter(20, StepDomainFailed))

	// A registering entry appended after a parked run does not rewind.
	assert.Equal(t, 80, ProgressAfter(80, StepDomainRegistering))
}

func TestStatusForStep(t *testing.T) {
	assert.Equal(t, ItemRegistered, StatusForStep(StepDomainRegistered))
	assert.Equal(t, ItemRegistered, StatusForStep(StepDNSActivated))
	assert.Equal(t, ItemFailed, StatusForStep(StepDomainFailed))
	assert.Equal(t, ItemProcessing, StatusForStep(StepCustomerCreated))
	assert.Equal(t, ItemProcessing, StatusForStep(StepContactCreated))
	assert.Equal(t, ItemProcessing, StatusForStep(StepDomainRegistering))
	assert.Equal(t, ItemPending, StatusForStep(StepPaymentVerified))
	assert.Equal(t, ItemPending, StatusForStep(StepDomainPending))
	assert.Equal(t, ItemPending, StatusForStep(StepNone))
}

func TestLineItemLogHelpers(t *testing.T) {
	item := DomainLineItem{}
	assert.Equal(t, StepNone, item.LastStep())
	assert.Equal(t, 0, item.LastProgress())

	item.BookingLog = []BookingEntry{
		{Step: StepPaymentVerified, Progress: 20},
		{Step: StepDomainRegistering, Progress: 80},
	}
	assert.Equal(t, StepDomainRegistering, item.LastStep())
	assert.Equal(t, 80, item.LastProgress())
}
