package models

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when an append would put a booking log
// out of order.
var ErrInvalidTransition = errors.New("invalid booking step transition")

// Step is one stage of a domain's provisioning lifecycle.
type Step string

const (
	StepNone              Step = ""
	StepPaymentVerified   Step = "payment_verified"
	StepCustomerCreated   Step = "customer_created"
	StepContactCreated    Step = "contact_created"
	StepDomainRegistering Step = "domain_registering"
	StepDomainRegistered  Step = "domain_registered"
	StepDomainPending     Step = "domain_pending"
	StepDomainFailed      Step = "domain_failed"
	StepDNSActivated      Step = "dns_activated"
)

// stepProgress maps forward steps to their progress value. Steps absent here
// (domain_pending, domain_failed) keep the log's previous progress.
var stepProgress = map[Step]int{
	StepPaymentVerified:   20,
	StepCustomerCreated:   40,
	StepContactCreated:    60,
	StepDomainRegistering: 80,
	StepDomainRegistered:  100,
	StepDNSActivated:      100,
}

// transitions is the booking-step state machine. A step may only be appended
// when it is listed under the log's current last step. domain_failed and
// domain_pending loop back to domain_registering so operator retries can
// re-enter the registration call without repeating earlier steps.
var transitions = map[Step][]Step{
	StepNone:              {StepPaymentVerified},
	StepPaymentVerified:   {StepCustomerCreated, StepDomainRegistering, StepDomainFailed},
	StepCustomerCreated:   {StepContactCreated, StepDomainFailed},
	StepContactCreated:    {StepDomainRegistering, StepDomainFailed},
	StepDomainRegistering: {StepDomainRegistered, StepDomainPending, StepDomainFailed},
	StepDomainPending:     {StepDomainRegistering, StepDomainRegistered, StepDomainFailed},
	StepDomainFailed:      {StepDomainRegistering, StepDomainRegistered},
	StepDomainRegistered:  {StepDNSActivated},
	StepDNSActivated:      {},
}

// CanFollow reports whether next may legally be appended after prev.
func CanFollow(prev, next Step) bool {
	for _, s := range transitions[prev] {
		if s == next {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition (wrapped with both steps)
// when next may not follow prev.
func ValidateTransition(prev, next Step) error {
	if !CanFollow(prev, next) {
		return fmt.Errorf("%w: %q cannot follow %q", ErrInvalidTransition, next, prev)
	}
	return nil
}

// ProgressAfter returns the progress value a log ends at once step is
// appended after lastProgress. Progress never decreases within one log.
func ProgressAfter(lastProgress int, step Step) int {
	p, ok := stepProgress[step]
	if !ok || p < lastProgress {
		return lastProgress
	}
	return p
}

// StatusForStep is the fixed mapping from a log's last step to the line
// item's externally visible status.
func StatusForStep(step Step) string {
	switch step {
	case StepDomainRegistered, StepDNSActivated:
		return ItemRegistered
	case StepDomainFailed:
		return ItemFailed
	case StepCustomerCreated, StepContactCreated, StepDomainRegistering:
		return ItemProcessing
	default:
		return ItemPending
	}
}
