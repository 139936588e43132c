package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrLineItemNotFound = errors.New("domain line item not found")
)

// Order statuses
const (
	OrderPending   = "pending"
	OrderCompleted = "completed"
	OrderFailed    = "failed"
	OrderRefunded  = "refunded"
)

// Domain line item statuses
const (
	ItemPending    = "pending"
	ItemProcessing = "processing"
	ItemRegistered = "registered"
	ItemFailed     = "failed"
	ItemCancelled  = "cancelled"
)

type Order struct {
	ID         string           `gorm:"primaryKey;size:36" json:"id"`
	UserID     string           `gorm:"index;not null" json:"user_id"`
	PaymentRef string           `json:"payment_ref"`
	Amount     float64          `json:"amount"`
	Currency   string           `gorm:"size:3;default:'USD'" json:"currency"`
	Status     string           `gorm:"default:'pending'" json:"status"`
	Domains    []DomainLineItem `json:"domains"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	DeletedAt  gorm.DeletedAt   `gorm:"index" json:"-"`
}

// DomainLineItem is one domain name within an order. Line items are appended
// during checkout only; afterwards just the status/step-log fields move.
type DomainLineItem struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	OrderID          string         `gorm:"not null;uniqueIndex:idx_order_domain" json:"order_id"`
	Name             string         `gorm:"not null;uniqueIndex:idx_order_domain" json:"name"`
	Price            float64        `json:"price"`
	Currency         string         `gorm:"size:3;default:'USD'" json:"currency"`
	PeriodYears      int            `gorm:"default:1" json:"period_years"`
	Status           string         `gorm:"default:'pending'" json:"status"`
	RegistrarOrderID string         `json:"registrar_order_id,omitempty"`
	CustomerID       string         `json:"customer_id,omitempty"`
	ContactID        string         `json:"contact_id,omitempty"`
	ExpiresAt        *time.Time     `json:"expires_at,omitempty"`
	DNSActive        bool           `json:"dns_active"`
	DNSActivatedAt   *time.Time     `json:"dns_activated_at,omitempty"`
	LastError        string         `json:"-"`
	BookingLog       []BookingEntry `gorm:"foreignKey:LineItemID" json:"booking_log"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// BookingEntry is one row of a line item's append-only step log.
type BookingEntry struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	LineItemID uint      `gorm:"index;not null" json:"-"`
	Step       Step      `gorm:"not null" json:"step"`
	Message    string    `json:"message"`
	Progress   int       `json:"progress"`
	CreatedAt  time.Time `json:"created_at"`
}

// LastStep returns the step of the most recent booking entry, or StepNone
// when the log is empty.
func (d *DomainLineItem) LastStep() Step {
	if len(d.BookingLog) == 0 {
		return StepNone
	}
	return d.BookingLog[len(d.BookingLog)-1].Step
}

// LastProgress returns the progress of the most recent booking entry.
func (d *DomainLineItem) LastProgress() int {
	if len(d.BookingLog) == 0 {
		return 0
	}
	return d.BookingLog[len(d.BookingLog)-1].Progress
}

type OrderRepository interface {
	Create(ctx context.Context, order *Order) error
	Find(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, order *Order) error
	FindLineItem(ctx context.Context, orderID, name string) (*DomainLineItem, error)
	UpdateLineItem(ctx context.Context, item *DomainLineItem) error
	// AppendBooking validates the step against the line item's log, appends
	// the entry and syncs the item's status from the new step. The store
	// rejects out-of-order appends with ErrInvalidTransition.
	AppendBooking(ctx context.Context, itemID uint, step Step, message string) error
	// FindWithUnfinishedItems returns all non-deleted orders that carry at
	// least one line item in pending or processing state.
	FindWithUnfinishedItems(ctx context.Context) ([]Order, error)
}
