package services

import (
	"context"
	"time"

	"namedepot/internal/models"
	"namedepot/internal/registrar"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrPaymentNotVerified means Execute was invoked before the caller recorded
// the payment_verified step.
var ErrPaymentNotVerified = errors.New("order payment has not been verified")

// Provisioner drives one domain line item through the registrar provisioning
// steps: customer, contacts, registration. Each step's outcome is appended
// to the booking log before the next step runs, so every partial run leaves
// a resumable record behind. External-call errors never escape; every exit
// path lands the line item and/or pending-domain record in a terminal or
// explicitly resumable state.
type Provisioner struct {
	orders    models.OrderRepository
	pending   models.PendingDomainRepository
	users     models.UserRepository
	client    registrar.Client
	timeout   time.Duration
	defaultNS []string
	log       *logrus.Entry
}

func NewProvisioner(
	orders models.OrderRepository,
	pending models.PendingDomainRepository,
	users models.UserRepository,
	client registrar.Client,
	timeout time.Duration,
	defaultNS []string,
) *Provisioner {
	return &Provisioner{
		orders:    orders,
		pending:   pending,
		users:     users,
		client:    client,
		timeout:   timeout,
		defaultNS: defaultNS,
		log:       logrus.WithField("component", "provisioner"),
	}
}

// ProvisionResult is the terminal outcome of one executor run.
type ProvisionResult struct {
	Domain           string     `json:"domain"`
	Status           string     `json:"status"`
	RegistrarOrderID string     `json:"registrar_order_id,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	Error            string     `json:"error,omitempty"`
}

// Execute runs the provisioning steps for one paid order-domain pair.
// payment_verified must already be in the booking log. Re-invoking for an
// already-registered item is a no-op; re-invoking after a failure resumes
// without repeating steps whose identifiers are already known.
func (p *Provisioner) Execute(ctx context.Context, orderID, domainName string) (*ProvisionResult, error) {
	item, err := p.orders.FindLineItem(ctx, orderID, domainName)
	if err != nil {
		return nil, err
	}
	if item.Status == models.ItemRegistered {
		return &ProvisionResult{
			Domain:           item.Name,
			Status:           item.Status,
			RegistrarOrderID: item.RegistrarOrderID,
			ExpiresAt:        item.ExpiresAt,
		}, nil
	}
	if item.LastStep() == models.StepNone {
		return nil, ErrPaymentNotVerified
	}

	order, err := p.orders.Find(ctx, orderID)
	if err != nil {
		return nil, err
	}

	log := p.log.WithFields(logrus.Fields{"order_id": orderID, "domain": item.Name})

	profile, err := p.customerProfile(ctx, order.UserID)
	if err != nil {
		return p.failItem(ctx, item, "load user profile: "+err.Error())
	}

	// Step 1: registrar customer. Lookup-or-create; skipped entirely when a
	// previous run already recorded the id.
	if item.CustomerID == "" {
		customerID, err := p.createCustomer(ctx, *profile)
		if err != nil {
			log.WithError(err).Error("customer creation failed")
			return p.failItem(ctx, item, "customer creation failed: "+err.Error())
		}
		item.CustomerID = customerID
		if err := p.orders.UpdateLineItem(ctx, item); err != nil {
			return nil, err
		}
		if err := p.appendIfAllowed(ctx, item, models.StepCustomerCreated, "registrar customer "+customerID); err != nil {
			return nil, err
		}
	}

	// Step 2: contacts. A single contact id serves the admin, tech and
	// billing roles.
	if item.ContactID == "" {
		contactID, err := p.createContact(ctx, item.CustomerID, *profile)
		if err != nil {
			log.WithError(err).Error("contact creation failed")
			return p.failItem(ctx, item, "contact creation failed: "+err.Error())
		}
		item.ContactID = contactID
		if err := p.orders.UpdateLineItem(ctx, item); err != nil {
			return nil, err
		}
		if err := p.appendIfAllowed(ctx, item, models.StepContactCreated, "registrar contact "+contactID); err != nil {
			return nil, err
		}
	}

	// Step 3: registration. The registering entry goes in before the call so
	// an in-flight attempt is visible in the log.
	if err := p.appendIfAllowed(ctx, item, models.StepDomainRegistering, "submitting registration"); err != nil {
		return nil, err
	}

	reg, err := p.registerDomain(ctx, registrar.RegisterRequest{
		Name:             item.Name,
		Years:            item.PeriodYears,
		CustomerID:       item.CustomerID,
		Nameservers:      p.defaultNS,
		AdminContactID:   item.ContactID,
		TechContactID:    item.ContactID,
		BillingContactID: item.ContactID,
	})
	if err != nil {
		log.WithError(err).Error("registration failed")
		return p.failItem(ctx, item, err.Error())
	}

	if reg.State == registrar.StatePending {
		return p.parkItem(ctx, item, reg)
	}
	return p.completeItem(ctx, item, reg)
}

// Resume re-runs registration for a pending-domain record whose processing
// lease the caller already holds. Identifiers carried on the record replace
// steps 1–2; missing ones are created first.
func (p *Provisioner) Resume(ctx context.Context, pd *models.PendingDomain) (*ProvisionResult, error) {
	log := p.log.WithFields(logrus.Fields{"pending_id": pd.ID, "domain": pd.Name})

	item, err := p.orders.FindLineItem(ctx, pd.OrderID, pd.Name)
	if err != nil && !errors.Is(err, models.ErrLineItemNotFound) && !errors.Is(err, models.ErrOrderNotFound) {
		return nil, err
	}
	// Manually created records have no originating line item; err is nil
	// only when one exists to mirror into.
	if err != nil {
		item = nil
	}

	if pd.CustomerID == "" {
		profile, err := p.customerProfile(ctx, pd.UserID)
		if err != nil {
			return p.failPending(ctx, pd, item, errors.Wrap(err, "load user profile"))
		}
		customerID, err := p.createCustomer(ctx, *profile)
		if err != nil {
			log.WithError(err).Error("customer creation failed on retry")
			return p.failPending(ctx, pd, item, errors.Wrap(err, "customer creation failed"))
		}
		pd.CustomerID = customerID
	}
	if pd.ContactID == "" {
		profile, err := p.customerProfile(ctx, pd.UserID)
		if err != nil {
			return p.failPending(ctx, pd, item, errors.Wrap(err, "load user profile"))
		}
		contactID, err := p.createContact(ctx, pd.CustomerID, *profile)
		if err != nil {
			log.WithError(err).Error("contact creation failed on retry")
			return p.failPending(ctx, pd, item, errors.Wrap(err, "contact creation failed"))
		}
		pd.ContactID = contactID
	}
	if err := p.pending.Update(ctx, pd); err != nil {
		return nil, err
	}

	if item != nil {
		item.Status = models.ItemProcessing
		if err := p.orders.UpdateLineItem(ctx, item); err != nil {
			return nil, err
		}
		if err := p.appendIfAllowed(ctx, item, models.StepDomainRegistering, "retrying registration"); err != nil {
			return nil, err
		}
	}

	nameservers := pd.NameserverList()
	if len(nameservers) == 0 {
		nameservers = p.defaultNS
	}
	reg, err := p.registerDomain(ctx, registrar.RegisterRequest{
		Name:             pd.Name,
		Years:            pd.PeriodYears,
		CustomerID:       pd.CustomerID,
		Nameservers:      nameservers,
		AdminContactID:   contactOr(pd.AdminContactID, pd.ContactID),
		TechContactID:    contactOr(pd.TechContactID, pd.ContactID),
		BillingContactID: contactOr(pd.BillingContactID, pd.ContactID),
	})
	if err != nil {
		log.WithError(err).Error("retry registration failed")
		return p.failPending(ctx, pd, item, err)
	}

	now := time.Now().UTC()
	expiry := p.expiry(reg, pd.PeriodYears)
	pd.Status = models.PendingStatusCompleted
	pd.Reason = "registration completed on retry"
	pd.RegistrarOrderID = reg.OrderID
	pd.RegisteredAt = &now
	pd.ExpiresAt = expiry
	if err := p.pending.Update(ctx, pd); err != nil {
		return nil, err
	}

	if item != nil {
		item.RegistrarOrderID = reg.OrderID
		item.ExpiresAt = expiry
		item.LastError = ""
		if err := p.orders.UpdateLineItem(ctx, item); err != nil {
			return nil, err
		}
		if err := p.appendIfAllowed(ctx, item, models.StepDomainRegistered, "domain registered"); err != nil {
			return nil, err
		}
	}

	log.Info("retry registration completed")
	return &ProvisionResult{
		Domain:           pd.Name,
		Status:           models.ItemRegistered,
		RegistrarOrderID: reg.OrderID,
		ExpiresAt:        expiry,
	}, nil
}

// registerDomain performs the registration call. A duplicate-registration
// rejection is resolved by re-querying the registrar and treating the
// existing record as the result.
func (p *Provisioner) registerDomain(ctx context.Context, req registrar.RegisterRequest) (*registrar.Registration, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	reg, err := p.client.RegisterDomain(callCtx, req)
	if errors.Is(err, registrar.ErrAlreadyRegistered) {
		queryCtx, cancelQuery := context.WithTimeout(ctx, p.timeout)
		defer cancelQuery()
		reg, err = p.client.QueryDomainStatus(queryCtx, req.Name)
	}
	return reg, err
}

func (p *Provisioner) createCustomer(ctx context.Context, profile registrar.CustomerProfile) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.client.CreateOrGetCustomer(callCtx, profile)
}

func (p *Provisioner) createContact(ctx context.Context, customerID string, profile registrar.CustomerProfile) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.client.CreateOrGetContact(callCtx, customerID, profile, registrar.RoleAdmin)
}

func (p *Provisioner) customerProfile(ctx context.Context, userID string) (*registrar.CustomerProfile, error) {
	user, err := p.users.Find(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &registrar.CustomerProfile{
		Name:    user.Name,
		Email:   user.Email,
		Phone:   user.Phone,
		Company: user.Company,
		Address: user.Address,
		City:    user.City,
		Country: user.Country,
		Zip:     user.Zip,
	}, nil
}

// completeItem records a successful registration on the line item and closes
// any pending-domain record that exists for the same name.
func (p *Provisioner) completeItem(ctx context.Context, item *models.DomainLineItem, reg *registrar.Registration) (*ProvisionResult, error) {
	expiry := p.expiry(reg, item.PeriodYears)

	item.RegistrarOrderID = reg.OrderID
	item.ExpiresAt = expiry
	item.LastError = ""
	if err := p.orders.UpdateLineItem(ctx, item); err != nil {
		return nil, err
	}
	if err := p.appendIfAllowed(ctx, item, models.StepDomainRegistered, "domain registered"); err != nil {
		return nil, err
	}

	if pd, err := p.pending.FindByName(ctx, item.Name); err == nil && pd.Status != models.PendingStatusCompleted {
		now := time.Now().UTC()
		pd.Status = models.PendingStatusCompleted
		pd.Reason = "registration confirmed"
		pd.RegistrarOrderID = reg.OrderID
		pd.RegisteredAt = &now
		pd.ExpiresAt = expiry
		if err := p.pending.Update(ctx, pd); err != nil {
			return nil, err
		}
	}

	p.log.WithFields(logrus.Fields{"domain": item.Name, "registrar_order_id": reg.OrderID}).Info("domain registered")
	return &ProvisionResult{
		Domain:           item.Name,
		Status:           models.ItemRegistered,
		RegistrarOrderID: reg.OrderID,
		ExpiresAt:        expiry,
	}, nil
}

// parkItem handles a registration the registrar accepted but has not yet
// confirmed: the item goes to domain_pending and a pending-domain record
// keeps it visible to operators.
func (p *Provisioner) parkItem(ctx context.Context, item *models.DomainLineItem, reg *registrar.Registration) (*ProvisionResult, error) {
	if err := p.appendIfAllowed(ctx, item, models.StepDomainPending, "awaiting registry confirmation"); err != nil {
		return nil, err
	}

	pd := p.pendingFromItem(ctx, item, "registration accepted, awaiting registry confirmation")
	pd.RegistrarOrderID = reg.OrderID
	if err := p.pending.Upsert(ctx, pd); err != nil {
		return nil, err
	}

	return &ProvisionResult{
		Domain:           item.Name,
		Status:           models.ItemPending,
		RegistrarOrderID: reg.OrderID,
	}, nil
}

// failItem is the single failure exit: booking log gains domain_failed, the
// line item keeps the raw error for operators, and a pending-domain record
// is created or refreshed carrying every identifier a retry needs.
func (p *Provisioner) failItem(ctx context.Context, item *models.DomainLineItem, reason string) (*ProvisionResult, error) {
	if err := p.appendIfAllowed(ctx, item, models.StepDomainFailed, reason); err != nil {
		return nil, err
	}
	item.LastError = reason
	item.Status = models.ItemFailed
	if err := p.orders.UpdateLineItem(ctx, item); err != nil {
		return nil, err
	}

	if err := p.pending.Upsert(ctx, p.pendingFromItem(ctx, item, reason)); err != nil {
		return nil, err
	}

	return &ProvisionResult{
		Domain: item.Name,
		Status: models.ItemFailed,
		Error:  reason,
	}, nil
}

// failPending records a retry failure on the pending record (and mirrors it
// to the line item when one exists). Permanent registrar rejections are
// terminal; everything else returns to pending so the record stays
// resumable.
func (p *Provisioner) failPending(ctx context.Context, pd *models.PendingDomain, item *models.DomainLineItem, cause error) (*ProvisionResult, error) {
	reason := cause.Error()
	pd.Status = models.PendingStatusPending
	if registrar.IsPermanent(cause) {
		pd.Status = models.PendingStatusFailed
	}
	pd.Reason = reason
	if err := p.pending.Update(ctx, pd); err != nil {
		return nil, err
	}

	if item != nil {
		item.LastError = reason
		item.Status = models.ItemFailed
		if err := p.orders.UpdateLineItem(ctx, item); err != nil {
			return nil, err
		}
		if err := p.appendIfAllowed(ctx, item, models.StepDomainFailed, reason); err != nil {
			return nil, err
		}
	}

	return &ProvisionResult{
		Domain: pd.Name,
		Status: models.ItemFailed,
		Error:  reason,
	}, nil
}

// appendIfAllowed appends a booking entry when the transition table permits
// it from the item's current last step, refreshing the in-memory log and
// status to match. Steps already present after a partial run are skipped
// silently rather than rejected.
func (p *Provisioner) appendIfAllowed(ctx context.Context, item *models.DomainLineItem, step models.Step, message string) error {
	if !models.CanFollow(item.LastStep(), step) {
		return nil
	}
	if err := p.orders.AppendBooking(ctx, item.ID, step, message); err != nil {
		return err
	}
	item.BookingLog = append(item.BookingLog, models.BookingEntry{
		LineItemID: item.ID,
		Step:       step,
		Message:    message,
		Progress:   models.ProgressAfter(item.LastProgress(), step),
		CreatedAt:  time.Now().UTC(),
	})
	item.Status = models.StatusForStep(step)
	return nil
}

func (p *Provisioner) pendingFromItem(ctx context.Context, item *models.DomainLineItem, reason string) *models.PendingDomain {
	userID := ""
	if order, err := p.orders.Find(ctx, item.OrderID); err == nil {
		userID = order.UserID
	}
	pd := &models.PendingDomain{
		Name:        item.Name,
		Price:       item.Price,
		Currency:    item.Currency,
		PeriodYears: item.PeriodYears,
		UserID:      userID,
		OrderID:     item.OrderID,
		CustomerID:  item.CustomerID,
		ContactID:   item.ContactID,
		Status:      models.PendingStatusPending,
		Reason:      reason,
	}
	pd.SetNameservers(p.defaultNS)
	return pd
}

func (p *Provisioner) expiry(reg *registrar.Registration, years int) *time.Time {
	if reg.ExpiresAt != nil {
		return reg.ExpiresAt
	}
	if years <= 0 {
		years = 1
	}
	t := time.Now().UTC().Add(time.Duration(years) * 365 * 24 * time.Hour)
	return &t
}

func contactOr(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}
