package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"namedepot/internal/config"
	"namedepot/internal/models"
	"namedepot/internal/registrar"
	"namedepot/internal/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type Handler struct {
	cfg        *config.Config
	orders     models.OrderRepository
	users      models.UserRepository
	checkout   *services.CheckoutService
	reconciler *services.Reconciler
	pricing    *services.PricingCache
	registrar  registrar.Client
}

func RegisterRoutes(
	api *echo.Group,
	cfg *config.Config,
	orders models.OrderRepository,
	users models.UserRepository,
	checkout *services.CheckoutService,
	reconciler *services.Reconciler,
	pricing *services.PricingCache,
	client registrar.Client,
) {
	h := &Handler{
		cfg:        cfg,
		orders:     orders,
		users:      users,
		checkout:   checkout,
		reconciler: reconciler,
		pricing:    pricing,
		registrar:  client,
	}

	api.GET("/domains/search", h.SearchDomains)
	api.POST("/orders", h.CreateOrder)
	api.GET("/orders/:id", h.GetOrder)
	api.POST("/checkout/:id/confirm", h.ConfirmCheckout)

	admin := api.Group("/admin", h.requireAdminKey)
	admin.GET("/pending-domains", h.ListPendingDomains)
	admin.POST("/pending-domains", h.CreatePendingDomain)
	admin.POST("/pending-domains/verify", h.VerifyPendingDomains)
	admin.POST("/pending-domains/:id/retry", h.RetryPendingDomain)

	admin.GET("/pricing", h.GetPricing)
	admin.POST("/pricing/refresh", h.RefreshPricing)
	admin.DELETE("/pricing/cache", h.PurgePricingCache)
	admin.PUT("/pricing/cache", h.UpdatePricingCache)

	admin.GET("/users", h.ListUsers)
	admin.POST("/users", h.CreateUser)
	admin.GET("/users/:id", h.GetUser)
	admin.PUT("/users/:id", h.UpdateUser)
	admin.DELETE("/users/:id", h.DeleteUser)
}

// requireAdminKey gates the admin surface on the X-Admin-Key header.
func (h *Handler) requireAdminKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := c.Request().Header.Get("X-Admin-Key")
		if key == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "admin key required"})
		}
		if h.cfg.AdminAPIKey == "" || key != h.cfg.AdminAPIKey {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "invalid admin key"})
		}
		return next(c)
	}
}

// SearchDomains checks availability with the registrar and attaches the
// cached price for the extension.
func (h *Handler) SearchDomains(c echo.Context) error {
	name := strings.ToLower(strings.TrimSpace(c.QueryParam("q")))
	dot := strings.LastIndex(name, ".")
	if dot <= 0 || dot == len(name)-1 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "q must be a full domain name"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.cfg.ExternalCallTimeout())
	defer cancel()
	available, err := h.registrar.CheckAvailability(ctx, name)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "availability check failed"})
	}

	resp := map[string]interface{}{
		"domain":    name,
		"available": available,
	}
	if price, err := h.pricing.GetPrice(c.Request().Context(), name[dot+1:]); err == nil {
		resp["price"] = price.Price
		resp["currency"] = price.Currency
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) CreateOrder(c echo.Context) error {
	var req struct {
		UserID   string `json:"user_id"`
		Currency string `json:"currency"`
		Domains  []struct {
			Name        string  `json:"name"`
			Price       float64 `json:"price"`
			PeriodYears int     `json:"period_years"`
		} `json:"domains"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.UserID == "" || len(req.Domains) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "user_id and domains are required"})
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	if _, err := h.users.Find(c.Request().Context(), req.UserID); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown user"})
	}

	order := models.Order{
		ID:       uuid.NewString(),
		UserID:   req.UserID,
		Currency: req.Currency,
		Status:   models.OrderPending,
	}
	for _, d := range req.Domains {
		name := strings.ToLower(strings.TrimSpace(d.Name))
		if name == "" || !strings.Contains(name, ".") {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid domain name: " + d.Name})
		}
		years := d.PeriodYears
		if years <= 0 {
			years = 1
		}
		order.Domains = append(order.Domains, models.DomainLineItem{
			Name:        name,
			Price:       d.Price,
			Currency:    req.Currency,
			PeriodYears: years,
			Status:      models.ItemPending,
		})
		order.Amount += d.Price
	}

	if err := h.orders.Create(c.Request().Context(), &order); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusCreated, order)
}

// GetOrder is the client polling endpoint. Raw registrar error text never
// crosses this boundary; failed items carry a generic message instead.
func (h *Handler) GetOrder(c echo.Context) error {
	order, err := h.orders.Find(c.Request().Context(), c.Param("id"))
	if errors.Is(err, models.ErrOrderNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "order not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	type domainView struct {
		Name       string                `json:"name"`
		Status     string                `json:"status"`
		Progress   int                   `json:"progress"`
		Message    string                `json:"message,omitempty"`
		ExpiresAt  interface{}           `json:"expires_at,omitempty"`
		BookingLog []models.BookingEntry `json:"booking_log"`
	}
	domains := make([]domainView, 0, len(order.Domains))
	for _, item := range order.Domains {
		v := domainView{
			Name:       item.Name,
			Status:     item.Status,
			Progress:   item.LastProgress(),
			BookingLog: item.BookingLog,
		}
		if item.Status == models.ItemFailed {
			v.Message = "registration could not be completed"
		}
		if item.ExpiresAt != nil {
			v.ExpiresAt = item.ExpiresAt
		}
		domains = append(domains, v)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":       order.ID,
		"status":   order.Status,
		"amount":   order.Amount,
		"currency": order.Currency,
		"domains":  domains,
	})
}

func (h *Handler) ConfirmCheckout(c echo.Context) error {
	var req struct {
		PaymentRef string `json:"payment_ref"`
	}
	if err := c.Bind(&req); err != nil || req.PaymentRef == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "payment_ref is required"})
	}

	order, err := h.checkout.Confirm(c.Request().Context(), c.Param("id"), req.PaymentRef)
	switch {
	case errors.Is(err, models.ErrOrderNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "order not found"})
	case errors.Is(err, services.ErrPaymentNotConfirmed),
		errors.Is(err, services.ErrPaymentAmountMismatch),
		errors.Is(err, services.ErrOrderAlreadyProcessed):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusAccepted, order)
}

func (h *Handler) ListPendingDomains(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))
	filter := models.PendingDomainFilter{
		Status: c.QueryParam("status"),
		Search: c.QueryParam("search"),
	}

	items, pagination, summary, err := h.reconciler.List(c.Request().Context(), filter, page, pageSize)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"items":      items,
		"pagination": pagination,
		"summary":    summary,
	})
}

func (h *Handler) CreatePendingDomain(c echo.Context) error {
	var pd models.PendingDomain
	if err := c.Bind(&pd); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	err := h.reconciler.CreateManual(c.Request().Context(), &pd)
	if errors.Is(err, models.ErrDuplicatePendingDomain) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusCreated, pd)
}

func (h *Handler) VerifyPendingDomains(c echo.Context) error {
	var req struct {
		IDs []uint `json:"ids"`
	}
	if err := c.Bind(&req); err != nil || len(req.IDs) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "ids are required"})
	}

	results, err := h.reconciler.VerifyBatch(c.Request().Context(), req.IDs)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"results": results})
}

func (h *Handler) RetryPendingDomain(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}

	result, err := h.reconciler.Retry(c.Request().Context(), uint(id))
	switch {
	case errors.Is(err, models.ErrPendingDomainNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "pending domain not found"})
	case errors.Is(err, models.ErrAlreadyProcessing):
		return c.JSON(http.StatusConflict, map[string]string{"error": "retry already in progress"})
	case errors.Is(err, models.ErrNotRetryable):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) GetPricing(c echo.Context) error {
	return c.JSON(http.StatusOK, h.pricing.Snapshot(c.Request().Context()))
}

func (h *Handler) RefreshPricing(c echo.Context) error {
	entries, err := h.pricing.Refresh(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"entries": entries})
}

func (h *Handler) PurgePricingCache(c echo.Context) error {
	h.pricing.Purge()
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) UpdatePricingCache(c echo.Context) error {
	var req struct {
		Enabled    *bool `json:"enabled"`
		TTLMinutes *int  `json:"ttl_minutes"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	ctx := c.Request().Context()
	if req.TTLMinutes != nil {
		if err := h.pricing.SetTTL(ctx, *req.TTLMinutes); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
	}
	if req.Enabled != nil {
		if err := h.pricing.SetEnabled(ctx, *req.Enabled); err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
	}
	return c.JSON(http.StatusOK, h.pricing.Snapshot(ctx))
}

func (h *Handler) ListUsers(c echo.Context) error {
	users, err := h.users.List(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, users)
}

func (h *Handler) CreateUser(c echo.Context) error {
	var user models.User
	if err := c.Bind(&user); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if user.Name == "" || user.Email == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "name and email are required"})
	}
	user.ID = uuid.NewString()

	if err := h.users.Create(c.Request().Context(), &user); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusCreated, user)
}

func (h *Handler) GetUser(c echo.Context) error {
	user, err := h.users.Find(c.Request().Context(), c.Param("id"))
	if errors.Is(err, models.ErrUserNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "user not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, user)
}

func (h *Handler) UpdateUser(c echo.Context) error {
	user, err := h.users.Find(c.Request().Context(), c.Param("id"))
	if errors.Is(err, models.ErrUserNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "user not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	var req models.User
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	user.Name = req.Name
	user.Phone = req.Phone
	user.Company = req.Company
	user.Address = req.Address
	user.City = req.City
	user.Country = req.Country
	user.Zip = req.Zip

	if err := h.users.Update(c.Request().Context(), user); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, user)
}

func (h *Handler) DeleteUser(c echo.Context) error {
	err := h.users.Delete(c.Request().Context(), c.Param("id"))
	if errors.Is(err, models.ErrUserNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "user not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}
