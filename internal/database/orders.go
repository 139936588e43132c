package database

import (
	"context"

	"namedepot/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// OrderRepository is the gorm implementation of models.OrderRepository.
type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return errors.Wrap(err, "create order")
	}
	return nil
}

func (r *OrderRepository) Find(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Domains.BookingLog", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Domains").
		First(&order, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find order")
	}
	return &order, nil
}

func (r *OrderRepository) Update(ctx context.Context, order *models.Order) error {
	err := r.db.WithContext(ctx).Model(order).
		Select("PaymentRef", "Status", "Amount", "Currency").
		Updates(order).Error
	return errors.Wrap(err, "update order")
}

func (r *OrderRepository) FindLineItem(ctx context.Context, orderID, name string) (*models.DomainLineItem, error) {
	var item models.DomainLineItem
	err := r.db.WithContext(ctx).
		Preload("BookingLog", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("order_id = ? AND name = ? COLLATE NOCASE", orderID, name).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrLineItemNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find line item")
	}
	return &item, nil
}

func (r *OrderRepository) UpdateLineItem(ctx context.Context, item *models.DomainLineItem) error {
	err := r.db.WithContext(ctx).Model(item).
		Select("Status", "RegistrarOrderID", "CustomerID", "ContactID",
			"ExpiresAt", "DNSActive", "DNSActivatedAt", "LastError").
		Updates(item).Error
	return errors.Wrap(err, "update line item")
}

// AppendBooking appends one step-log entry inside a transaction. The step is
// validated against the log's last entry so out-of-order appends are
// rejected here, not left to caller discipline. The line item's status is
// synced from the new step in the same transaction.
func (r *OrderRepository) AppendBooking(ctx context.Context, itemID uint, step models.Step, message string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item models.DomainLineItem
		if err := tx.First(&item, itemID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrLineItemNotFound
			}
			return errors.Wrap(err, "load line item")
		}

		var last models.BookingEntry
		prev := models.StepNone
		progress := 0
		err := tx.Where("line_item_id = ?", itemID).Order("id DESC").First(&last).Error
		if err == nil {
			prev = last.Step
			progress = last.Progress
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrap(err, "load last booking entry")
		}

		if err := models.ValidateTransition(prev, step); err != nil {
			return err
		}

		entry := models.BookingEntry{
			LineItemID: itemID,
			Step:       step,
			Message:    message,
			Progress:   models.ProgressAfter(progress, step),
		}
		if err := tx.Create(&entry).Error; err != nil {
			return errors.Wrap(err, "append booking entry")
		}

		return errors.Wrap(
			tx.Model(&item).Update("status", models.StatusForStep(step)).Error,
			"sync line item status")
	})
}

func (r *OrderRepository) FindWithUnfinishedItems(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Preload("Domains").
		Where("id IN (?)", r.db.Model(&models.DomainLineItem{}).
			Select("order_id").
			Where("status IN ?", []string{models.ItemPending, models.ItemProcessing})).
		Find(&orders).Error
	if err != nil {
		return nil, errors.Wrap(err, "find orders with unfinished items")
	}
	return orders, nil
}
