package database

import (
	"context"
	"strings"
	"time"

	"namedepot/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PendingDomainRepository is the gorm implementation of
// models.PendingDomainRepository.
type PendingDomainRepository struct {
	db *gorm.DB
}

func NewPendingDomainRepository(db *gorm.DB) *PendingDomainRepository {
	return &PendingDomainRepository{db: db}
}

func (r *PendingDomainRepository) Create(ctx context.Context, pd *models.PendingDomain) error {
	pd.Name = strings.ToLower(pd.Name)
	err := r.db.WithContext(ctx).Create(pd).Error
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique") {
		return models.ErrDuplicatePendingDomain
	}
	return errors.Wrap(err, "create pending domain")
}

// Upsert inserts the record or, when a row for the same domain name already
// exists, refreshes its retry-relevant fields while leaving the audit fields
// (attempts, created_at) alone.
func (r *PendingDomainRepository) Upsert(ctx context.Context, pd *models.PendingDomain) error {
	pd.Name = strings.ToLower(pd.Name)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "reason", "customer_id", "contact_id",
			"admin_contact_id", "tech_contact_id", "billing_contact_id",
			"nameservers", "price", "currency", "period_years", "updated_at",
		}),
	}).Create(pd).Error
	return errors.Wrap(err, "upsert pending domain")
}

func (r *PendingDomainRepository) Find(ctx context.Context, id uint) (*models.PendingDomain, error) {
	var pd models.PendingDomain
	err := r.db.WithContext(ctx).First(&pd, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrPendingDomainNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find pending domain")
	}
	return &pd, nil
}

func (r *PendingDomainRepository) FindByName(ctx context.Context, name string) (*models.PendingDomain, error) {
	var pd models.PendingDomain
	err := r.db.WithContext(ctx).Where("name = ? COLLATE NOCASE", name).First(&pd).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrPendingDomainNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find pending domain by name")
	}
	return &pd, nil
}

func (r *PendingDomainRepository) Search(ctx context.Context, filter models.PendingDomainFilter) ([]models.PendingDomain, error) {
	q := r.db.WithContext(ctx).Model(&models.PendingDomain{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Search != "" {
		like := "%" + strings.ToLower(filter.Search) + "%"
		q = q.Where("lower(name) LIKE ? OR lower(reason) LIKE ?", like, like)
	}

	var out []models.PendingDomain
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, errors.Wrap(err, "search pending domains")
	}
	return out, nil
}

func (r *PendingDomainRepository) Update(ctx context.Context, pd *models.PendingDomain) error {
	err := r.db.WithContext(ctx).Model(pd).
		Select("Status", "Reason", "Attempts", "LastVerifiedAt", "RegistrarOrderID",
			"RegisteredAt", "ExpiresAt", "ProcessingAt", "CustomerID", "ContactID",
			"AdminContactID", "TechContactID", "BillingContactID", "Nameservers").
		Updates(pd).Error
	return errors.Wrap(err, "update pending domain")
}

// AcquireLease is a compare-and-set transition to processing. A single
// conditional UPDATE claims the record; RowsAffected tells whether this
// caller won. The condition admits pending and failed records, plus
// processing records whose lease timestamp is older than the grace period.
func (r *PendingDomainRepository) AcquireLease(ctx context.Context, id uint, now time.Time, grace time.Duration) (*models.PendingDomain, error) {
	stale := now.Add(-grace)
	res := r.db.WithContext(ctx).Model(&models.PendingDomain{}).
		Where("id = ?", id).
		Where("status IN ? OR (status = ? AND (processing_at IS NULL OR processing_at < ?))",
			[]string{models.PendingStatusPending, models.PendingStatusFailed},
			models.PendingStatusProcessing, stale).
		Updates(map[string]interface{}{
			"status":        models.PendingStatusProcessing,
			"processing_at": now,
		})
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "acquire processing lease")
	}

	if res.RowsAffected == 0 {
		pd, err := r.Find(ctx, id)
		if err != nil {
			return nil, err
		}
		if pd.Status == models.PendingStatusProcessing {
			return nil, models.ErrAlreadyProcessing
		}
		return nil, models.ErrNotRetryable
	}

	return r.Find(ctx, id)
}
