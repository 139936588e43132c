// Package registrar defines the port the provisioning core requires from the
// upstream domain registrar, plus an HTTP reseller-API implementation.
// Registrar errors are opaque strings; the core only distinguishes
// not-found, already-registered and permanent-vs-transient.
package registrar

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound means the registrar has no record of the domain.
	ErrNotFound = errors.New("domain not found at registrar")
	// ErrAlreadyRegistered means a registration attempt hit an existing
	// record; callers treat it as an idempotent no-op and re-query.
	ErrAlreadyRegistered = errors.New("domain already registered")
)

// PermanentError marks a registrar rejection that will not succeed on retry
// (invalid domain, policy violation). Timeouts and 5xx stay transient.
type PermanentError struct {
	Message string
}

func (e *PermanentError) Error() string { return e.Message }

// IsPermanent reports whether err is a terminal registrar rejection.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// DomainState is the registrar's view of a registration.
type DomainState string

const (
	StateActive   DomainState = "active"
	StatePending  DomainState = "pending"
	StateNotFound DomainState = "notfound"
	StateFailed   DomainState = "failed"
)

// CustomerProfile is the user profile a registrar customer or contact is
// created from.
type CustomerProfile struct {
	Name    string
	Email   string
	Phone   string
	Company string
	Address string
	City    string
	Country string
	Zip     string
}

// Contact roles accepted by CreateOrGetContact.
const (
	RoleAdmin   = "admin"
	RoleTech    = "tech"
	RoleBilling = "billing"
)

type RegisterRequest struct {
	Name             string
	Years            int
	CustomerID       string
	Nameservers      []string
	AdminContactID   string
	TechContactID    string
	BillingContactID string
}

// Registration is the registrar's record of a (possibly in-flight) order.
type Registration struct {
	OrderID   string
	State     DomainState
	ExpiresAt *time.Time
}

// TLDPrice is one pricing row keyed by extension.
type TLDPrice struct {
	Extension   string  `json:"extension"`
	Price       float64 `json:"price"`
	Cost        float64 `json:"cost"`
	Currency    string  `json:"currency"`
	Category    string  `json:"category"`
	Margin      float64 `json:"margin"`
	Description string  `json:"description"`
}

// Client is the registrar collaborator contract. Customer and contact
// creation are lookup-or-create: calling them twice for the same profile
// yields the same identifier.
type Client interface {
	CreateOrGetCustomer(ctx context.Context, profile CustomerProfile) (string, error)
	CreateOrGetContact(ctx context.Context, customerID string, profile CustomerProfile, role string) (string, error)
	RegisterDomain(ctx context.Context, req RegisterRequest) (*Registration, error)
	QueryDomainStatus(ctx context.Context, name string) (*Registration, error)
	CheckAvailability(ctx context.Context, name string) (bool, error)
	FetchPricing(ctx context.Context) ([]TLDPrice, error)
}
