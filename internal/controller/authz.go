package controller

import (
	"context"

	domainErrors "github.com/carnil/carnil/internal/domain/errors"
	"github.com/carnil/carnil/internal/middleware"
)

// authorizeCustomer rejects an identified caller acting on another customer.
// Anonymous callers and entities without a customer are not restricted.
func authorizeCustomer(id middleware.Identity, customerID string) error {
	if id.CustomerID == "" || customerID == "" || customerID == id.CustomerID {
		return nil
	}
	return domainErrors.NewDomainError("forbidden", "customer "+customerID+" is not the caller", domainErrors.ErrForbidden)
}

func (c *CarnilController) verifyPaymentIntentOwnership(ctx context.Context, id middleware.Identity, paymentIntentID string) error {
	if id.CustomerID == "" {
		return nil
	}
	res, err := c.client.GetPaymentIntent(ctx, paymentIntentID)
	if err != nil {
		return err
	}
	return authorizeCustomer(id, res.Data.CustomerID)
}

func (c *CarnilController) verifySubscriptionOwnership(ctx context.Context, id middleware.Identity, subscriptionID string) error {
	if id.CustomerID == "" {
		return nil
	}
	res, err := c.client.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	return authorizeCustomer(id, res.Data.CustomerID)
}
