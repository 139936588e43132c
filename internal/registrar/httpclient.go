package registrar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// HTTPClient talks to a reseller-style registrar API: GET requests with
// auth-userid/api-key query parameters and JSON bodies.
type HTTPClient struct {
	baseURL    string
	authUserID string
	apiKey     string
	http       *http.Client
	log        *logrus.Entry
}

func NewHTTPClient(baseURL, authUserID, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authUserID: authUserID,
		apiKey:     apiKey,
		http:       &http.Client{Timeout: timeout},
		log:        logrus.WithField("component", "registrar"),
	}
}

type apiResponse struct {
	Status      string          `json:"status"`
	Message     string          `json:"message"`
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	DomainState string          `json:"domain_state"`
	ExpiresAt   string          `json:"expires_at"`
	Available   bool            `json:"available"`
	Pricing     []TLDPrice      `json:"pricing"`
	Raw         json.RawMessage `json:"-"`
}

func (c *HTTPClient) call(ctx context.Context, path string, params url.Values) (*apiResponse, error) {
	params.Set("auth-userid", c.authUserID)
	params.Set("api-key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "registrar: build request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "registrar: %s", path)
	}
	defer resp.Body.Close()

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrapf(err, "registrar: decode %s response", path)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("registrar: %s: upstream error %d: %s", path, resp.StatusCode, body.Message)
	}
	if resp.StatusCode >= 400 || strings.EqualFold(body.Status, "ERROR") {
		msg := body.Message
		if msg == "" {
			msg = fmt.Sprintf("registrar rejected %s with status %d", path, resp.StatusCode)
		}
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "already exists") || strings.Contains(lower, "already registered") {
			return nil, ErrAlreadyRegistered
		}
		if strings.Contains(lower, "not found") || strings.Contains(lower, "doesn't exist") {
			return nil, ErrNotFound
		}
		// 4xx business rejections will not succeed on retry.
		return nil, &PermanentError{Message: msg}
	}
	return &body, nil
}

func (c *HTTPClient) CreateOrGetCustomer(ctx context.Context, profile CustomerProfile) (string, error) {
	params := profileParams(profile)
	body, err := c.call(ctx, "/customers/signup", params)
	if err != nil {
		return "", err
	}
	return body.ID, nil
}

func (c *HTTPClient) CreateOrGetContact(ctx context.Context, customerID string, profile CustomerProfile, role string) (string, error) {
	params := profileParams(profile)
	params.Set("customer-id", customerID)
	params.Set("type", role)
	body, err := c.call(ctx, "/contacts/add", params)
	if err != nil {
		return "", err
	}
	return body.ID, nil
}

func (c *HTTPClient) RegisterDomain(ctx context.Context, req RegisterRequest) (*Registration, error) {
	params := url.Values{}
	params.Set("domain-name", req.Name)
	params.Set("years", strconv.Itoa(req.Years))
	params.Set("customer-id", req.CustomerID)
	params.Set("admin-contact-id", req.AdminContactID)
	params.Set("tech-contact-id", req.TechContactID)
	params.Set("billing-contact-id", req.BillingContactID)
	for _, ns := range req.Nameservers {
		params.Add("ns", ns)
	}

	body, err := c.call(ctx, "/domains/register", params)
	if err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{"domain": req.Name, "order_id": body.OrderID}).Info("domain registration submitted")
	return registrationFromResponse(body)
}

func (c *HTTPClient) QueryDomainStatus(ctx context.Context, name string) (*Registration, error) {
	params := url.Values{}
	params.Set("domain-name", name)
	body, err := c.call(ctx, "/domains/details", params)
	if err != nil {
		return nil, err
	}
	return registrationFromResponse(body)
}

func (c *HTTPClient) CheckAvailability(ctx context.Context, name string) (bool, error) {
	params := url.Values{}
	params.Set("domain-name", name)
	body, err := c.call(ctx, "/domains/available", params)
	if err != nil {
		return false, err
	}
	return body.Available, nil
}

func (c *HTTPClient) FetchPricing(ctx context.Context) ([]TLDPrice, error) {
	body, err := c.call(ctx, "/products/customer-price", url.Values{})
	if err != nil {
		return nil, err
	}
	return body.Pricing, nil
}

func registrationFromResponse(body *apiResponse) (*Registration, error) {
	reg := &Registration{OrderID: body.OrderID}
	switch strings.ToLower(body.DomainState) {
	case "active", "registered":
		reg.State = StateActive
	case "failed", "rejected":
		reg.State = StateFailed
	case "", "notfound":
		reg.State = StateNotFound
	default:
		reg.State = StatePending
	}
	if body.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, body.ExpiresAt)
		if err != nil {
			return nil, errors.Wrap(err, "registrar: parse expiry")
		}
		reg.ExpiresAt = &t
	}
	return reg, nil
}

func profileParams(profile CustomerProfile) url.Values {
	params := url.Values{}
	params.Set("name", profile.Name)
	params.Set("email", profile.Email)
	params.Set("phone", profile.Phone)
	params.Set("company", profile.Company)
	params.Set("address", profile.Address)
	params.Set("city", profile.City)
	params.Set("country", profile.Country)
	params.Set("zip", profile.Zip)
	return params
}
