package controller

import (
	"context"
	"net/http"
	"strings"

	"github.com/carnil/carnil/internal/domain/customer"
	domainErrors "github.com/carnil/carnil/internal/domain/errors"
	"github.com/carnil/carnil/internal/domain/payment"
	"github.com/carnil/carnil/internal/domain/subscription"
	"github.com/carnil/carnil/internal/middleware"
	"github.com/carnil/carnil/internal/service"
	"github.com/carnil/carnil/internal/state"
	"github.com/rs/zerolog"
)

// ProjectionReader reads the state the worker projected for a customer.
type ProjectionReader interface {
	Get(ctx context.Context, customerID string, v any) (bool, error)
}

// CarnilController serves the single action endpoint clients call.
type CarnilController struct {
	client      *service.Client
	projections ProjectionReader
	logger      zerolog.Logger
}

// NewCarnilController builds the controller. projections may be nil, in which
// case getCustomerState is rejected.
func NewCarnilController(client *service.Client, projections ProjectionReader, logger zerolog.Logger) *CarnilController {
	return &CarnilController{client: client, projections: projections, logger: logger}
}

type actionFunc func(c *CarnilController, ctx context.Context, r *http.Request, req ActionRequest, id middleware.Identity) (any, error)

var actions = map[string]actionFunc{
	ActionCreateCustomer:      (*CarnilController).createCustomer,
	ActionUpdateCustomer:      (*CarnilController).updateCustomer,
	ActionCreatePaymentIntent: (*CarnilController).createPaymentIntent,
	ActionGetPaymentIntent:    (*CarnilController).getPaymentIntent,
	ActionConfirmPayment:      (*CarnilController).confirmPayment,
	ActionCreateSubscription:  (*CarnilController).createSubscription,
	ActionCancelSubscription:  (*CarnilController).cancelSubscription,
	ActionGetCustomerState:    (*CarnilController).getCustomerState,
}

// Handle dispatches {"action", "data"} to the client. The caller identity,
// when present, fills a missing customer id.
func (c *CarnilController) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, maxBodySize)
	if err != nil {
		writeError(w, err)
		return
	}
	var req ActionRequest
	if err := decodeData(body, &req); err != nil {
		writeError(w, domainErrors.NewValidationError("body", "invalid JSON"))
		return
	}
	if req.Action == "" {
		writeError(w, domainErrors.NewValidationError("action", "is required"))
		return
	}
	fn, ok := actions[req.Action]
	if !ok {
		writeError(w, domainErrors.NewValidationError("action", "unknown action "+req.Action))
		return
	}

	id, _ := middleware.IdentityFrom(r.Context())
	res, err := fn(c, r.Context(), r, req, id)
	if err != nil {
		c.logger.Warn().Err(err).
			Str("action", req.Action).
			Str("customer_id", id.CustomerID).
			Msg("Action failed")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (c *CarnilController) createCustomer(ctx context.Context, r *http.Request, req ActionRequest, id middleware.Identity) (any, error) {
	var in customer.CreateRequest
	if err := decodeData(req.Data, &in); err != nil {
		return nil, err
	}
	if in.Email == "" {
		in.Email, _ = id.CustomerData["email"].(string)
	}
	if in.Name == "" {
		in.Name, _ = id.CustomerData["name"].(string)
	}
	in.IdempotencyKey = idempotencyKey(r)
	return c.client.CreateCustomer(ctx, in)
}

func (c *CarnilController) updateCustomer(ctx context.Context, _ *http.Request, req ActionRequest, id middleware.Identity) (any, error) {
	var in customer.UpdateRequest
	if err := decodeData(req.Data, &in); err != nil {
		return nil, err
	}
	if in.ID == "" {
		in.ID = id.CustomerID
	}
	if err := authorizeCustomer(id, in.ID); err != nil {
		return nil, err
	}
	return c.client.UpdateCustomer(ctx, in)
}

func (c *CarnilController) createPaymentIntent(ctx context.Context, r *http.Request, req ActionRequest, id middleware.Identity) (any, error) {
	var in payment.CreateRequest
	if err := decodeData(req.Data, &in); err != nil {
		return nil, err
	}
	if in.CustomerID == "" {
		in.CustomerID = id.CustomerID
	}
	if err := authorizeCustomer(id, in.CustomerID); err != nil {
		return nil, err
	}
	in.IdempotencyKey = idempotencyKey(r)
	return c.client.CreatePaymentIntent(ctx, in)
}

func (c *CarnilController) getPaymentIntent(ctx context.Context, _ *http.Request, req ActionRequest, id middleware.Identity) (any, error) {
	var in GetPaymentIntentRequest
	if err := decodeData(req.Data, &in); err != nil {
		return nil, err
	}
	res, err := c.client.GetPaymentIntent(ctx, in.PaymentIntentID)
	if err != nil {
		return nil, err
	}
	if err := authorizeCustomer(id, res.Data.CustomerID); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *CarnilController) confirmPayment(ctx context.Context, _ *http.Request, req ActionRequest, id middleware.Identity) (any, error) {
	var in payment.ConfirmRequest
	if err := decodeData(req.Data, &in); err != nil {
		return nil, err
	}
	if in.PaymentIntentID != "" {
		if err := c.verifyPaymentIntentOwnership(ctx, id, in.PaymentIntentID); err != nil {
			return nil, err
		}
	}
	return c.client.ConfirmPayment(ctx, in)
}

func (c *CarnilController) createSubscription(ctx context.Context, r *http.Request, req ActionRequest, id middleware.Identity) (any, error) {
	var in subscription.CreateRequest
	if err := decodeData(req.Data, &in); err != nil {
		return nil, err
	}
	if in.CustomerID == "" {
		in.CustomerID = id.CustomerID
	}
	if err := authorizeCustomer(id, in.CustomerID); err != nil {
		return nil, err
	}
	in.IdempotencyKey = idempotencyKey(r)
	return c.client.CreateSubscription(ctx, in)
}

func (c *CarnilController) cancelSubscription(ctx context.Context, _ *http.Request, req ActionRequest, id middleware.Identity) (any, error) {
	var in subscription.CancelRequest
	if err := decodeData(req.Data, &in); err != nil {
		return nil, err
	}
	if in.SubscriptionID != "" {
		if err := c.verifySubscriptionOwnership(ctx, id, in.SubscriptionID); err != nil {
			return nil, err
		}
	}
	return c.client.CancelSubscription(ctx, in)
}

func (c *CarnilController) getCustomerState(ctx context.Context, _ *http.Request, req ActionRequest, id middleware.Identity) (any, error) {
	if c.projections == nil {
		return nil, domainErrors.NewValidationError("action", "customer state is not available")
	}
	var in GetCustomerStateRequest
	if err := decodeData(req.Data, &in); err != nil {
		return nil, err
	}
	if in.CustomerID == "" {
		in.CustomerID = id.CustomerID
	}
	if in.CustomerID == "" {
		return nil, domainErrors.NewValidationError("customerId", "is required")
	}
	if err := authorizeCustomer(id, in.CustomerID); err != nil {
		return nil, err
	}

	var snap state.Snapshot
	found, err := c.projections.Get(ctx, in.CustomerID, &snap)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domainErrors.NewDomainError("not_found", "no state projected for customer "+in.CustomerID, domainErrors.ErrNotFound)
	}
	return service.Result[state.Snapshot]{Data: snap}, nil
}

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(middleware.IdempotencyKeyHeader))
}
