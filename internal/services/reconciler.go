package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"namedepot/internal/models"
	"namedepot/internal/registrar"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// PendingItem is one row of the merged pending-work view. Rows come either
// from dedicated pending-domain records (source "pending") or are projected
// from order line items still in flight (source "order").
type PendingItem struct {
	ID             string     `json:"id"`
	Source         string     `json:"source"`
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	Reason         string     `json:"reason,omitempty"`
	Price          float64    `json:"price"`
	Currency       string     `json:"currency"`
	PeriodYears    int        `json:"period_years"`
	UserID         string     `json:"user_id,omitempty"`
	OrderID        string     `json:"order_id,omitempty"`
	Attempts       int        `json:"attempts"`
	LastVerifiedAt *time.Time `json:"last_verified_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

const (
	sourcePending = "pending"
	sourceOrder   = "order"
)

// Pagination describes the slice of the merged set a List call returned.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// VerifyResult is the per-record outcome of a VerifyBatch call.
type VerifyResult struct {
	ID     uint   `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Reconciler merges the two sources of unfinished-domain records into one
// consistent operator view and drives verification and retries. It holds no
// state of its own; everything lives in the store.
type Reconciler struct {
	pending     models.PendingDomainRepository
	orders      models.OrderRepository
	provisioner *Provisioner
	client      registrar.Client
	timeout     time.Duration
	leaseGrace  time.Duration
	clock       func() time.Time
	log         *logrus.Entry
}

func NewReconciler(
	pending models.PendingDomainRepository,
	orders models.OrderRepository,
	provisioner *Provisioner,
	client registrar.Client,
	timeout, leaseGrace time.Duration,
) *Reconciler {
	return &Reconciler{
		pending:     pending,
		orders:      orders,
		provisioner: provisioner,
		client:      client,
		timeout:     timeout,
		leaseGrace:  leaseGrace,
		clock:       func() time.Time { return time.Now().UTC() },
		log:         logrus.WithField("component", "reconciler"),
	}
}

// List returns one page of the merged pending-work view plus per-status
// counts computed over the whole merged set, before pagination. A line item
// projected from an order is dropped when a dedicated pending-domain record
// with the same name (case-insensitive) exists: the dedicated record is
// authoritative once the executor has materialized it.
func (r *Reconciler) List(ctx context.Context, filter models.PendingDomainFilter, page, pageSize int) ([]PendingItem, Pagination, map[string]int, error) {
	records, err := r.pending.Search(ctx, filter)
	if err != nil {
		return nil, Pagination{}, nil, err
	}

	merged := make([]PendingItem, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, pd := range records {
		merged = append(merged, pendingItemFromRecord(pd))
		seen[strings.ToLower(pd.Name)] = struct{}{}
	}

	orders, err := r.orders.FindWithUnfinishedItems(ctx)
	if err != nil {
		return nil, Pagination{}, nil, err
	}
	for _, order := range orders {
		for _, item := range order.Domains {
			if item.Status != models.ItemPending && item.Status != models.ItemProcessing {
				continue
			}
			if _, dup := seen[strings.ToLower(item.Name)]; dup {
				continue
			}
			projected := pendingItemFromLineItem(order, item)
			if !matchesFilter(projected, filter) {
				continue
			}
			merged = append(merged, projected)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})

	summary := make(map[string]int)
	for _, it := range merged {
		summary[it.Status]++
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	total := len(merged)
	totalPages := (total + pageSize - 1) / pageSize
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	return merged[start:end], Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
	}, summary, nil
}

// VerifyBatch re-queries the registrar for each referenced pending record.
// The attempt counter and last-verified timestamp move on every call
// regardless of outcome; status only moves on a confirmed answer.
func (r *Reconciler) VerifyBatch(ctx context.Context, ids []uint) ([]VerifyResult, error) {
	results := make([]VerifyResult, 0, len(ids))
	for _, id := range ids {
		pd, err := r.pending.Find(ctx, id)
		if errors.Is(err, models.ErrPendingDomainNotFound) {
			results = append(results, VerifyResult{ID: id, Status: "not_found"})
			continue
		}
		if err != nil {
			return nil, err
		}
		if pd.Status != models.PendingStatusPending {
			results = append(results, VerifyResult{ID: id, Name: pd.Name, Status: pd.Status, Reason: "skipped: not pending"})
			continue
		}

		res, err := r.verifyOne(ctx, pd)
		if err != nil {
			return nil, err
		}
		results = append(results, *res)
	}
	return results, nil
}

func (r *Reconciler) verifyOne(ctx context.Context, pd *models.PendingDomain) (*VerifyResult, error) {
	now := r.clock()
	pd.Attempts++
	pd.LastVerifiedAt = &now

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	reg, err := r.client.QueryDomainStatus(callCtx, pd.Name)
	cancel()

	switch {
	case errors.Is(err, registrar.ErrNotFound):
		// Likely never submitted; the reason makes the ambiguity visible to
		// operators instead of guessing a terminal state.
		pd.Reason = "registration not found at registrar, likely not submitted"
	case err != nil:
		pd.Reason = "verification failed: " + err.Error()
	case reg.State == registrar.StateActive:
		pd.Status = models.PendingStatusCompleted
		pd.Reason = "registration confirmed by registrar"
		if reg.OrderID != "" {
			pd.RegistrarOrderID = reg.OrderID
		}
		pd.RegisteredAt = &now
		if reg.ExpiresAt != nil {
			pd.ExpiresAt = reg.ExpiresAt
		} else if pd.ExpiresAt == nil {
			exp := expiryFromPeriod(now, pd.PeriodYears)
			pd.ExpiresAt = &exp
		}
	case reg.State == registrar.StateFailed:
		pd.Status = models.PendingStatusFailed
		pd.Reason = "registrar reported registration as failed"
	default:
		pd.Reason = "registrar still processing registration"
	}

	if err := r.pending.Update(ctx, pd); err != nil {
		return nil, err
	}

	if pd.Status == models.PendingStatusCompleted {
		if err := r.mirrorRegistered(ctx, pd); err != nil {
			return nil, err
		}
	}
	if pd.Status == models.PendingStatusFailed {
		if err := r.mirrorFailed(ctx, pd); err != nil {
			return nil, err
		}
	}

	r.log.WithFields(logrus.Fields{"domain": pd.Name, "status": pd.Status, "attempts": pd.Attempts}).Info("pending domain verified")
	return &VerifyResult{ID: pd.ID, Name: pd.Name, Status: pd.Status, Reason: pd.Reason}, nil
}

// Retry re-enters the saga executor for one pending record. The processing
// lease is claimed first; a concurrent holder surfaces as
// models.ErrAlreadyProcessing and the registrar is never called.
func (r *Reconciler) Retry(ctx context.Context, id uint) (*ProvisionResult, error) {
	pd, err := r.pending.AcquireLease(ctx, id, r.clock(), r.leaseGrace)
	if err != nil {
		return nil, err
	}
	return r.provisioner.Resume(ctx, pd)
}

// CreateManual registers an operator-entered pending domain. Duplicate names
// surface as models.ErrDuplicatePendingDomain, never silently merged.
func (r *Reconciler) CreateManual(ctx context.Context, pd *models.PendingDomain) error {
	pd.Name = strings.ToLower(strings.TrimSpace(pd.Name))
	if pd.Name == "" || !strings.Contains(pd.Name, ".") {
		return errors.Errorf("invalid domain name %q", pd.Name)
	}
	if pd.PeriodYears <= 0 {
		pd.PeriodYears = 1
	}
	pd.Status = models.PendingStatusPending
	if pd.Reason == "" {
		pd.Reason = "created manually"
	}
	return r.pending.Create(ctx, pd)
}

// mirrorRegistered updates the originating order's line item after a
// verification confirmed the registration.
func (r *Reconciler) mirrorRegistered(ctx context.Context, pd *models.PendingDomain) error {
	item, err := r.orders.FindLineItem(ctx, pd.OrderID, pd.Name)
	if errors.Is(err, models.ErrLineItemNotFound) || errors.Is(err, models.ErrOrderNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if item.Status == models.ItemRegistered {
		return nil
	}

	item.RegistrarOrderID = pd.RegistrarOrderID
	item.ExpiresAt = pd.ExpiresAt
	item.LastError = ""
	if err := r.orders.UpdateLineItem(ctx, item); err != nil {
		return err
	}
	if models.CanFollow(item.LastStep(), models.StepDomainRegistered) {
		return r.orders.AppendBooking(ctx, item.ID, models.StepDomainRegistered, "registration confirmed by registrar")
	}
	// Out-of-band confirmation with an incompatible log tail: force the
	// status without an append so the store invariant holds.
	item.Status = models.ItemRegistered
	return r.orders.UpdateLineItem(ctx, item)
}

func (r *Reconciler) mirrorFailed(ctx context.Context, pd *models.PendingDomain) error {
	item, err := r.orders.FindLineItem(ctx, pd.OrderID, pd.Name)
	if errors.Is(err, models.ErrLineItemNotFound) || errors.Is(err, models.ErrOrderNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if item.Status == models.ItemFailed {
		return nil
	}

	item.LastError = pd.Reason
	if err := r.orders.UpdateLineItem(ctx, item); err != nil {
		return err
	}
	if models.CanFollow(item.LastStep(), models.StepDomainFailed) {
		return r.orders.AppendBooking(ctx, item.ID, models.StepDomainFailed, pd.Reason)
	}
	item.Status = models.ItemFailed
	return r.orders.UpdateLineItem(ctx, item)
}

func pendingItemFromRecord(pd models.PendingDomain) PendingItem {
	return PendingItem{
		ID:             fmt.Sprintf("%d", pd.ID),
		Source:         sourcePending,
		Name:           strings.ToLower(pd.Name),
		Status:         pd.Status,
		Reason:         pd.Reason,
		Price:          pd.Price,
		Currency:       pd.Currency,
		PeriodYears:    pd.PeriodYears,
		UserID:         pd.UserID,
		OrderID:        pd.OrderID,
		Attempts:       pd.Attempts,
		LastVerifiedAt: pd.LastVerifiedAt,
		CreatedAt:      pd.CreatedAt,
	}
}

func pendingItemFromLineItem(order models.Order, item models.DomainLineItem) PendingItem {
	return PendingItem{
		ID:          fmt.Sprintf("order:%s:%s", order.ID, strings.ToLower(item.Name)),
		Source:      sourceOrder,
		Name:        strings.ToLower(item.Name),
		Status:      item.Status,
		Reason:      item.LastError,
		Price:       item.Price,
		Currency:    item.Currency,
		PeriodYears: item.PeriodYears,
		UserID:      order.UserID,
		OrderID:     order.ID,
		CreatedAt:   item.CreatedAt,
	}
}

func matchesFilter(item PendingItem, filter models.PendingDomainFilter) bool {
	if filter.Status != "" && item.Status != filter.Status {
		return false
	}
	if filter.Search != "" {
		needle := strings.ToLower(filter.Search)
		if !strings.Contains(item.Name, needle) && !strings.Contains(strings.ToLower(item.Reason), needle) {
			return false
		}
	}
	return true
}

func expiryFromPeriod(from time.Time, years int) time.Time {
	if years <= 0 {
		years = 1
	}
	return from.Add(time.Duration(years) * 365 * 24 * time.Hour)
}
