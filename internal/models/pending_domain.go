package models

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrPendingDomainNotFound  = errors.New("pending domain not found")
	ErrDuplicatePendingDomain = errors.New("a pending record for this domain already exists")
	ErrAlreadyProcessing      = errors.New("pending domain is already being processed")
	ErrNotRetryable           = errors.New("pending domain is not in a retryable state")
)

// Pending domain statuses
const (
	PendingStatusPending    = "pending"
	PendingStatusProcessing = "processing"
	PendingStatusCompleted  = "completed"
	PendingStatusFailed     = "failed"
)

// PendingDomain is created when the provisioner cannot complete a
// registration synchronously. One active record per domain name; records are
// never deleted automatically and serve as an audit trail.
type PendingDomain struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	Name             string     `gorm:"not null;uniqueIndex" json:"name"`
	Price            float64    `json:"price"`
	Currency         string     `gorm:"size:3;default:'USD'" json:"currency"`
	PeriodYears      int        `gorm:"default:1" json:"period_years"`
	UserID           string     `gorm:"index" json:"user_id"`
	OrderID          string     `gorm:"index" json:"order_id"`
	CustomerID       string     `json:"customer_id,omitempty"`
	ContactID        string     `json:"contact_id,omitempty"`
	AdminContactID   string     `json:"admin_contact_id,omitempty"`
	TechContactID    string     `json:"tech_contact_id,omitempty"`
	BillingContactID string     `json:"billing_contact_id,omitempty"`
	Nameservers      string     `json:"nameservers"`
	Status           string     `gorm:"default:'pending';index" json:"status"`
	Reason           string     `json:"reason"`
	Attempts         int        `gorm:"default:0" json:"attempts"`
	LastVerifiedAt   *time.Time `json:"last_verified_at,omitempty"`
	RegistrarOrderID string     `json:"registrar_order_id,omitempty"`
	RegisteredAt     *time.Time `json:"registered_at,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	// ProcessingAt is the lease timestamp set when the record moves to
	// processing; a lease older than the grace period is resumable.
	ProcessingAt *time.Time `json:"processing_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NameserverList splits the stored comma-joined nameserver string.
func (p *PendingDomain) NameserverList() []string {
	if p.Nameservers == "" {
		return nil
	}
	parts := strings.Split(p.Nameservers, ",")
	out := make([]string, 0, len(parts))
	for _, ns := range parts {
		if ns = strings.TrimSpace(ns); ns != "" {
			out = append(out, ns)
		}
	}
	return out
}

func (p *PendingDomain) SetNameservers(ns []string) {
	p.Nameservers = strings.Join(ns, ",")
}

// PendingDomainFilter narrows Search results.
type PendingDomainFilter struct {
	Status string
	Search string
}

type PendingDomainRepository interface {
	// Create inserts a new record, returning ErrDuplicatePendingDomain when
	// an active record for the same name already exists.
	Create(ctx context.Context, pd *PendingDomain) error
	// Upsert inserts or, keyed by domain name, refreshes an existing record.
	Upsert(ctx context.Context, pd *PendingDomain) error
	Find(ctx context.Context, id uint) (*PendingDomain, error)
	FindByName(ctx context.Context, name string) (*PendingDomain, error)
	Search(ctx context.Context, filter PendingDomainFilter) ([]PendingDomain, error)
	Update(ctx context.Context, pd *PendingDomain) error
	// AcquireLease conditionally moves the record to processing and stamps
	// ProcessingAt. The transition succeeds from pending or failed, and from
	// processing when the existing lease is older than grace. It returns
	// ErrAlreadyProcessing when an unexpired lease holds the record, and
	// ErrNotRetryable for completed records.
	AcquireLease(ctx context.Context, id uint, now time.Time, grace time.Duration) (*PendingDomain, error)
}
