// Package razorpay adapts the Razorpay REST API to the normalized provider
// interface. Payment intents are backed by Razorpay orders.
package razorpay

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/carnil/carnil/internal/domain/customer"
	domainErrors "github.com/carnil/carnil/internal/domain/errors"
	"github.com/carnil/carnil/internal/domain/payment"
	"github.com/carnil/carnil/internal/domain/subscription"
	"github.com/carnil/carnil/internal/providers"
	"github.com/go-resty/resty/v2"
)

const (
	name           = string(providers.Razorpay)
	DefaultBaseURL = "https://api.razorpay.com/v1"

	// Order notes carrying fields Razorpay orders have no column for.
	noteCustomerID  = "customer_id"
	noteDescription = "description"

	defaultTotalCount = 12
)

var currencies = []string{"inr", "usd", "eur", "gbp", "sgd", "aed", "aud", "cad"}

// Adapter calls Razorpay over resty with basic auth.
type Adapter struct {
	rest *resty.Client
}

// New builds an adapter. cfg.APIKey has the form "key_id:key_secret".
func New(cfg providers.Config) (*Adapter, error) {
	keyID, keySecret, ok := strings.Cut(cfg.APIKey, ":")
	if !ok || keyID == "" || keySecret == "" {
		return nil, domainErrors.NewValidationError("apiKey", "razorpay api key must be key_id:key_secret")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := resty.New().
		SetBaseURL(baseURL).
		SetBasicAuth(keyID, keySecret).
		SetHeader("Content-Type", "application/json").
		SetTimeout(60 * time.Second)

	return &Adapter{rest: c}, nil
}

func NewFactory() providers.Factory {
	return func(cfg providers.Config) (providers.Adapter, error) {
		return New(cfg)
	}
}

func (a *Adapter) Name() providers.Name { return providers.Razorpay }

// Capabilities reports no idempotency support: Razorpay only deduplicates
// orders by receipt, which is not a general idempotency key.
func (a *Adapter) Capabilities() providers.Capabilities {
	return providers.Capabilities{IdempotencyKeys: false, Currencies: currencies}
}

type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
		Field       string `json:"field"`
	} `json:"error"`
}

// do executes a request and converts failures to the domain taxonomy.
func (a *Adapter) do(ctx context.Context, op, method, path string, body, out any) error {
	var apiErr apiError
	req := a.rest.R().
		SetContext(ctx).
		SetResult(out).
		SetError(&apiErr)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return domainErrors.NewTransientError(name, op, 0, err)
	}
	if resp.IsError() {
		msg := apiErr.Error.Description
		if msg == "" {
			msg = http.StatusText(resp.StatusCode())
		}
		return domainErrors.ClassifyStatus(name, op, resp.StatusCode(), apiErr.Error.Code, msg)
	}
	return nil
}

type customerEntity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Notes notes  `json:"notes"`
}

func (c customerEntity) normalize() *customer.Customer {
	return &customer.Customer{ID: c.ID, Email: c.Email, Name: c.Name, Metadata: c.Notes}
}

func (a *Adapter) CreateCustomer(ctx context.Context, req customer.CreateRequest) (*customer.Customer, error) {
	body := map[string]any{
		"fail_existing": "0",
	}
	if req.Name != "" {
		body["name"] = req.Name
	}
	if req.Email != "" {
		body["email"] = req.Email
	}
	if len(req.Metadata) > 0 {
		body["notes"] = req.Metadata
	}

	var out customerEntity
	if err := a.do(ctx, "create_customer", resty.MethodPost, "/customers", body, &out); err != nil {
		return nil, err
	}
	return out.normalize(), nil
}

func (a *Adapter) UpdateCustomer(ctx context.Context, req customer.UpdateRequest) (*customer.Customer, error) {
	body := map[string]any{}
	if req.Name != nil {
		body["name"] = *req.Name
	}
	if req.Email != nil {
		body["email"] = *req.Email
	}
	if len(req.Metadata) > 0 {
		body["notes"] = req.Metadata
	}

	var out customerEntity
	if err := a.do(ctx, "update_customer", resty.MethodPut, "/customers/"+req.ID, body, &out); err != nil {
		return nil, err
	}
	return out.normalize(), nil
}

type orderEntity struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Receipt  string `json:"receipt"`
	Notes    notes  `json:"notes"`
}

func (o orderEntity) normalize() *payment.PaymentIntent {
	pi := &payment.PaymentIntent{
		ID:       o.ID,
		Amount:   o.Amount,
		Currency: payment.NormalizeCurrency(o.Currency),
		Status:   orderStatus(o.Status),
	}
	md := make(map[string]string, len(o.Notes))
	for k, v := range o.Notes {
		switch k {
		case noteCustomerID:
			pi.CustomerID = v
		case noteDescription:
			pi.Description = v
		default:
			md[k] = v
		}
	}
	if len(md) > 0 {
		pi.Metadata = md
	}
	return pi
}

func orderStatus(s string) payment.Status {
	switch s {
	case "attempted":
		return payment.StatusProcessing
	case "paid":
		return payment.StatusSucceeded
	}
	return payment.StatusRequiresPaymentMethod
}

func (a *Adapter) CreatePaymentIntent(ctx context.Context, req payment.CreateRequest) (*payment.PaymentIntent, error) {
	n := make(map[string]string, len(req.Metadata)+2)
	for k, v := range req.Metadata {
		n[k] = v
	}
	if req.CustomerID != "" {
		n[noteCustomerID] = req.CustomerID
	}
	if req.Description != "" {
		n[noteDescription] = req.Description
	}

	body := map[string]any{
		"amount":   req.Amount,
		"currency": strings.ToUpper(req.Currency),
	}
	if len(n) > 0 {
		body["notes"] = n
	}

	var out orderEntity
	if err := a.do(ctx, "create_order", resty.MethodPost, "/orders", body, &out); err != nil {
		return nil, err
	}
	return out.normalize(), nil
}

func (a *Adapter) GetPaymentIntent(ctx context.Context, id string) (*payment.PaymentIntent, error) {
	var out orderEntity
	if err := a.do(ctx, "fetch_order", resty.MethodGet, "/orders/"+id, nil, &out); err != nil {
		return nil, err
	}
	return out.normalize(), nil
}

type paymentEntity struct {
	ID         string `json:"id"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Status     string `json:"status"`
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
	Method     string `json:"method"`
	ErrorCode  string `json:"error_code"`
	Notes      notes  `json:"notes"`
}

// ConfirmPayment captures the order's authorized payment. Razorpay payments
// are authorized client-side through Checkout, so there is nothing to confirm
// until one exists.
func (a *Adapter) ConfirmPayment(ctx context.Context, req payment.ConfirmRequest) (*payment.PaymentIntent, error) {
	var order orderEntity
	if err := a.do(ctx, "fetch_order", resty.MethodGet, "/orders/"+req.PaymentIntentID, nil, &order); err != nil {
		return nil, err
	}
	if order.Status == "paid" {
		return order.normalize(), nil
	}

	var list struct {
		Items []paymentEntity `json:"items"`
	}
	if err := a.do(ctx, "fetch_order_payments", resty.MethodGet, "/orders/"+req.PaymentIntentID+"/payments", nil, &list); err != nil {
		return nil, err
	}

	var authorized *paymentEntity
	for i := range list.Items {
		p := &list.Items[i]
		if req.PaymentMethod != "" && p.ID != req.PaymentMethod {
			continue
		}
		if p.Status == "authorized" {
			authorized = p
			break
		}
	}
	if authorized == nil {
		return nil, domainErrors.NewRequestError(name, "capture_payment", http.StatusBadRequest,
			"BAD_REQUEST_ERROR", fmt.Sprintf("order %s has no authorized payment to capture", req.PaymentIntentID))
	}

	var captured paymentEntity
	body := map[string]any{"amount": authorized.Amount, "currency": authorized.Currency}
	if err := a.do(ctx, "capture_payment", resty.MethodPost, "/payments/"+authorized.ID+"/capture", body, &captured); err != nil {
		return nil, err
	}

	pi := order.normalize()
	pi.Status = capturedStatus(captured.Status)
	return pi, nil
}

func capturedStatus(s string) payment.Status {
	switch s {
	case "captured":
		return payment.StatusSucceeded
	case "failed":
		return payment.StatusFailed
	}
	return payment.StatusProcessing
}

type subscriptionEntity struct {
	ID         string `json:"id"`
	PlanID     string `json:"plan_id"`
	CustomerID string `json:"customer_id"`
	Status     string `json:"status"`
	Notes      notes  `json:"notes"`
}

func (s subscriptionEntity) normalize() *subscription.Subscription {
	return &subscription.Subscription{
		ID:         s.ID,
		CustomerID: s.CustomerID,
		PriceID:    s.PlanID,
		Status:     subscriptionStatus(s.Status),
		Metadata:   s.Notes,
	}
}

func subscriptionStatus(s string) subscription.Status {
	switch s {
	case "active":
		return subscription.StatusActive
	case "pending", "halted":
		return subscription.StatusPastDue
	case "cancelled", "completed", "expired":
		return subscription.StatusCanceled
	}
	return subscription.StatusIncomplete
}

func (a *Adapter) CreateSubscription(ctx context.Context, req subscription.CreateRequest) (*subscription.Subscription, error) {
	body := map[string]any{
		"plan_id":     req.PriceID,
		"customer_id": req.CustomerID,
		"total_count": defaultTotalCount,
	}
	if len(req.Metadata) > 0 {
		body["notes"] = req.Metadata
	}

	var out subscriptionEntity
	if err := a.do(ctx, "create_subscription", resty.MethodPost, "/subscriptions", body, &out); err != nil {
		return nil, err
	}
	return out.normalize(), nil
}

func (a *Adapter) GetSubscription(ctx context.Context, id string) (*subscription.Subscription, error) {
	var out subscriptionEntity
	if err := a.do(ctx, "fetch_subscription", resty.MethodGet, "/subscriptions/"+id, nil, &out); err != nil {
		return nil, err
	}
	return out.normalize(), nil
}

func (a *Adapter) CancelSubscription(ctx context.Context, req subscription.CancelRequest) (*subscription.Subscription, error) {
	body := map[string]any{"cancel_at_cycle_end": 0}

	var out subscriptionEntity
	if err := a.do(ctx, "cancel_subscription", resty.MethodPost, "/subscriptions/"+req.SubscriptionID+"/cancel", body, &out); err != nil {
		return nil, err
	}
	return out.normalize(), nil
}
