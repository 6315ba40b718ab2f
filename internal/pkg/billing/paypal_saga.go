package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
)

// CreateRecurringSubscription runs the product, plan, subscription sequence.
// A failed plan step leaves the product behind since PayPal products cannot
// be deleted; a failed subscription step deactivates the plan.
func (c *PayPalClient) CreateRecurringSubscription(ctx context.Context, profileID string, in CreatePayPalSubscriptionRequest) (*PayPalSubscriptionResult, error) {
	if !in.FinalAmount.IsPositive() {
		return nil, validationErrorf("final_amount must be positive")
	}
	if !c.Configured() {
		return nil, configErrorf("PAYPAL_CLIENT_ID/PAYPAL_CLIENT_SECRET are not configured")
	}

	interval := NormalizeInterval(in.Interval)
	name := strings.TrimSpace(in.PlanName)
	if name == "" {
		name = "TrackMyStartup subscription"
	}

	product, err := c.CreateProduct(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	plan, err := c.CreatePlan(ctx, PayPalPlanInput{
		ProductID: product.ID,
		Name:      fmt.Sprintf("%s (%s)", name, interval),
		Amount:    in.FinalAmount,
		Currency:  in.Currency,
		Interval:  interval,
	})
	if err != nil {
		log.Warnf("[PayPal] Plan creation failed, product %s left without plan: %v", product.ID, err)
		return nil, fmt.Errorf("create plan: %w", err)
	}

	sub, err := c.CreateSubscription(ctx, plan.ID, profileID)
	if err != nil {
		// compensation runs even when ctx is already cancelled
		if derr := c.DeactivatePlan(context.WithoutCancel(ctx), plan.ID); derr != nil {
			log.Errorf("[PayPal] Failed to deactivate plan %s after subscription error: %v", plan.ID, derr)
		} else {
			log.Warnf("[PayPal] Deactivated plan %s after subscription error", plan.ID)
		}
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	log.Infof("[PayPal] Created subscription %s on plan %s for profile %s", sub.ID, plan.ID, profileID)
	return &PayPalSubscriptionResult{
		SubscriptionID: sub.ID,
		Status:         sub.Status,
		ApproveURL:     ApproveURL(sub.Links),
		PlanID:         plan.ID,
		ProductID:      product.ID,
	}, nil
}
