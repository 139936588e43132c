package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"namedepot/internal/models"
	"namedepot/internal/registrar"
)

// memOrders is an in-memory models.OrderRepository with the same append
// validation the real store performs.
type memOrders struct {
	mu     sync.Mutex
	orders map[string]*models.Order
	items  map[uint]*models.DomainLineItem
	nextID uint
}

var _ models.OrderRepository = &memOrders{}

func newMemOrders() *memOrders {
	return &memOrders{
		orders: make(map[string]*models.Order),
		items:  make(map[uint]*models.DomainLineItem),
	}
}

func (m *memOrders) Create(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *order
	stored.Domains = nil
	for i := range order.Domains {
		m.nextID++
		item := order.Domains[i]
		item.ID = m.nextID
		item.OrderID = order.ID
		item.CreatedAt = time.Now().UTC()
		m.items[item.ID] = &item
		stored.Domains = append(stored.Domains, item)
	}
	stored.CreatedAt = time.Now().UTC()
	m.orders[order.ID] = &stored
	*order = stored
	return nil
}

func (m *memOrders) Find(ctx context.Context, id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	clone := *order
	clone.Domains = nil
	for _, item := range order.Domains {
		clone.Domains = append(clone.Domains, *m.cloneItem(item.ID))
	}
	return &clone, nil
}

func (m *memOrders) Update(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.orders[order.ID]
	if !ok {
		return models.ErrOrderNotFound
	}
	stored.Status = order.Status
	stored.PaymentRef = order.PaymentRef
	return nil
}

func (m *memOrders) FindLineItem(ctx context.Context, orderID, name string) (*models.DomainLineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if item.OrderID == orderID && strings.EqualFold(item.Name, name) {
			return m.cloneItem(item.ID), nil
		}
	}
	return nil, models.ErrLineItemNotFound
}

func (m *memOrders) UpdateLineItem(ctx context.Context, item *models.DomainLineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[item.ID]
	if !ok {
		return models.ErrLineItemNotFound
	}
	stored.Status = item.Status
	stored.RegistrarOrderID = item.RegistrarOrderID
	stored.CustomerID = item.CustomerID
	stored.ContactID = item.ContactID
	stored.ExpiresAt = item.ExpiresAt
	stored.DNSActive = item.DNSActive
	stored.DNSActivatedAt = item.DNSActivatedAt
	stored.LastError = item.LastError
	return nil
}

func (m *memOrders) AppendBooking(ctx context.Context, itemID uint, step models.Step, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[itemID]
	if !ok {
		return models.ErrLineItemNotFound
	}

	prev := models.StepNone
	progress := 0
	if n := len(stored.BookingLog); n > 0 {
		prev = stored.BookingLog[n-1].Step
		progress = stored.BookingLog[n-1].Progress
	}
	if err := models.ValidateTransition(prev, step); err != nil {
		return err
	}

	stored.BookingLog = append(stored.BookingLog, models.BookingEntry{
		LineItemID: itemID,
		Step:       step,
		Message:    message,
		Progress:   models.ProgressAfter(progress, step),
		CreatedAt:  time.Now().UTC(),
	})
	stored.Status = models.StatusForStep(step)
	return nil
}

func (m *memOrders) FindWithUnfinishedItems(ctx context.Context) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, order := range m.orders {
		unfinished := false
		clone := *order
		clone.Domains = nil
		for _, item := range order.Domains {
			itemClone := *m.cloneItem(item.ID)
			clone.Domains = append(clone.Domains, itemClone)
			if itemClone.Status == models.ItemPending || itemClone.Status == models.ItemProcessing {
				unfinished = true
			}
		}
		if unfinished {
			out = append(out, clone)
		}
	}
	return out, nil
}

// cloneItem must be called with m.mu held.
func (m *memOrders) cloneItem(id uint) *models.DomainLineItem {
	stored := m.items[id]
	clone := *stored
	clone.BookingLog = append([]models.BookingEntry(nil), stored.BookingLog...)
	return &clone
}

// item returns the canonical stored line item for assertions.
func (m *memOrders) item(id uint) *models.DomainLineItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cloneItem(id)
}

type memPending struct {
	mu     sync.Mutex
	byID   map[uint]*models.PendingDomain
	nextID uint
}

var _ models.PendingDomainRepository = &memPending{}

func newMemPending() *memPending {
	return &memPending{byID: make(map[uint]*models.PendingDomain)}
}

func (m *memPending) Create(ctx context.Context, pd *models.PendingDomain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if strings.EqualFold(existing.Name, pd.Name) {
			return models.ErrDuplicatePendingDomain
		}
	}
	m.nextID++
	pd.ID = m.nextID
	pd.Name = strings.ToLower(pd.Name)
	pd.CreatedAt = time.Now().UTC()
	stored := *pd
	m.byID[pd.ID] = &stored
	return nil
}

func (m *memPending) Upsert(ctx context.Context, pd *models.PendingDomain) error {
	m.mu.Lock()
	existing := m.findByNameLocked(pd.Name)
	m.mu.Unlock()
	if existing == nil {
		return m.Create(ctx, pd)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.byID[existing.ID]
	stored.Status = pd.Status
	stored.Reason = pd.Reason
	stored.CustomerID = pd.CustomerID
	stored.ContactID = pd.ContactID
	stored.AdminContactID = pd.AdminContactID
	stored.TechContactID = pd.TechContactID
	stored.BillingContactID = pd.BillingContactID
	stored.Nameservers = pd.Nameservers
	stored.Price = pd.Price
	stored.Currency = pd.Currency
	stored.PeriodYears = pd.PeriodYears
	pd.ID = stored.ID
	return nil
}

func (m *memPending) Find(ctx context.Context, id uint) (*models.PendingDomain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.byID[id]
	if !ok {
		return nil, models.ErrPendingDomainNotFound
	}
	clone := *stored
	return &clone, nil
}

func (m *memPending) FindByName(ctx context.Context, name string) (*models.PendingDomain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.findByNameLocked(name)
	if stored == nil {
		return nil, models.ErrPendingDomainNotFound
	}
	clone := *stored
	return &clone, nil
}

func (m *memPending) Search(ctx context.Context, filter models.PendingDomainFilter) ([]models.PendingDomain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PendingDomain
	for _, pd := range m.byID {
		if filter.Status != "" && pd.Status != filter.Status {
			continue
		}
		if filter.Search != "" {
			needle := strings.ToLower(filter.Search)
			if !strings.Contains(strings.ToLower(pd.Name), needle) &&
				!strings.Contains(strings.ToLower(pd.Reason), needle) {
				continue
			}
		}
		out = append(out, *pd)
	}
	return out, nil
}

func (m *memPending) Update(ctx context.Context, pd *models.PendingDomain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.byID[pd.ID]
	if !ok {
		return models.ErrPendingDomainNotFound
	}
	stored.Status = pd.Status
	stored.Reason = pd.Reason
	stored.Attempts = pd.Attempts
	stored.LastVerifiedAt = pd.LastVerifiedAt
	stored.RegistrarOrderID = pd.RegistrarOrderID
	stored.RegisteredAt = pd.RegisteredAt
	stored.ExpiresAt = pd.ExpiresAt
	stored.ProcessingAt = pd.ProcessingAt
	stored.CustomerID = pd.CustomerID
	stored.ContactID = pd.ContactID
	stored.AdminContactID = pd.AdminContactID
	stored.TechContactID = pd.TechContactID
	stored.BillingContactID = pd.BillingContactID
	stored.Nameservers = pd.Nameservers
	return nil
}

func (m *memPending) AcquireLease(ctx context.Context, id uint, now time.Time, grace time.Duration) (*models.PendingDomain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.byID[id]
	if !ok {
		return nil, models.ErrPendingDomainNotFound
	}

	switch stored.Status {
	case models.PendingStatusPending, models.PendingStatusFailed:
	case models.PendingStatusProcessing:
		if stored.ProcessingAt != nil && stored.ProcessingAt.After(now.Add(-grace)) {
			return nil, models.ErrAlreadyProcessing
		}
	default:
		return nil, models.ErrNotRetryable
	}

	stored.Status = models.PendingStatusProcessing
	stored.ProcessingAt = &now
	clone := *stored
	return &clone, nil
}

// findByNameLocked must be called with m.mu held.
func (m *memPending) findByNameLocked(name string) *models.PendingDomain {
	for _, pd := range m.byID {
		if strings.EqualFold(pd.Name, name) {
			return pd
		}
	}
	return nil
}

func (m *memPending) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

type memUsers struct {
	mu   sync.Mutex
	byID map[string]*models.User
}

var _ models.UserRepository = &memUsers{}

func newMemUsers(users ...*models.User) *memUsers {
	m := &memUsers{byID: make(map[string]*models.User)}
	for _, u := range users {
		m.byID[u.ID] = u
	}
	return m
}

func (m *memUsers) Create(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[user.ID] = user
	return nil
}

func (m *memUsers) Find(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byID[id]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

func (m *memUsers) List(ctx context.Context) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for _, u := range m.byID {
		out = append(out, *u)
	}
	return out, nil
}

func (m *memUsers) Update(ctx context.Context, user *models.User) error { return nil }
func (m *memUsers) Delete(ctx context.Context, id string) error         { return nil }

type memSettings struct {
	mu     sync.Mutex
	values map[string]string
}

var _ models.SettingRepository = &memSettings{}

func newMemSettings() *memSettings {
	return &memSettings{values: make(map[string]string)}
}

func (m *memSettings) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", models.ErrSettingNotFound
	}
	return v, nil
}

func (m *memSettings) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// mockRegistrar counts calls and returns configurable answers.
type mockRegistrar struct {
	mu sync.Mutex

	customerCalls int
	contactCalls  int
	registerCalls int
	queryCalls    int
	pricingCalls  int

	customerID string
	contactID  string

	registerErr     error
	registerReg     *registrar.Registration
	registerBlock   chan struct{} // when non-nil, RegisterDomain waits on it
	registerEntered chan struct{}

	queryReg *registrar.Registration
	queryErr error

	pricing    []registrar.TLDPrice
	pricingErr error
}

var _ registrar.Client = &mockRegistrar{}

func newMockRegistrar() *mockRegistrar {
	return &mockRegistrar{
		customerID:  "cust-1",
		contactID:   "cont-1",
		registerReg: &registrar.Registration{OrderID: "ro-1", State: registrar.StateActive},
	}
}

func (m *mockRegistrar) CreateOrGetCustomer(ctx context.Context, profile registrar.CustomerProfile) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customerCalls++
	return m.customerID, nil
}

func (m *mockRegistrar) CreateOrGetContact(ctx context.Context, customerID string, profile registrar.CustomerProfile, role string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contactCalls++
	return m.contactID, nil
}

func (m *mockRegistrar) RegisterDomain(ctx context.Context, req registrar.RegisterRequest) (*registrar.Registration, error) {
	m.mu.Lock()
	m.registerCalls++
	entered := m.registerEntered
	block := m.registerBlock
	err := m.registerErr
	reg := m.registerReg
	m.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func (m *mockRegistrar) QueryDomainStatus(ctx context.Context, name string) (*registrar.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryCalls++
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return m.queryReg, nil
}

func (m *mockRegistrar) CheckAvailability(ctx context.Context, name string) (bool, error) {
	return true, nil
}

func (m *mockRegistrar) FetchPricing(ctx context.Context) ([]registrar.TLDPrice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pricingCalls++
	if m.pricingErr != nil {
		return nil, m.pricingErr
	}
	return m.pricing, nil
}

func (m *mockRegistrar) calls() (customers, contacts, registers int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.customerCalls, m.contactCalls, m.registerCalls
}
