package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/trackmystartup/tms-payments/internal/pkg/billing"
	"github.com/trackmystartup/tms-payments/internal/pkg/database"
)

// PaymentController serves the gateway checkout, verification, autopay and
// webhook endpoints.
type PaymentController struct {
	svc *billing.Service
}

// NewPaymentController creates a new payment controller with the billing service
func NewPaymentController(svc *billing.Service) *PaymentController {
	return &PaymentController{svc: svc}
}

var paymentController *PaymentController

// InitializePaymentController sets the global payment controller. A nil
// service is built from the database and env.
func InitializePaymentController(svc *billing.Service) {
	if svc == nil {
		svc = billing.NewServiceFromDB(database.GetDB())
	}
	paymentController = NewPaymentController(svc)
}

// GetPaymentController returns the global payment controller instance
func GetPaymentController() *PaymentController {
	if paymentController == nil {
		InitializePaymentController(nil)
	}
	return paymentController
}

// HandleCreateRazorpayOrder creates a one-time Razorpay order.
func (pc *PaymentController) HandleCreateRazorpayOrder(c *fiber.Ctx) error {
	var req billing.CreateOrderRequest
	if ok, err := parseJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	order, err := pc.svc.CreateRazorpayOrder(ctx, req)
	if err != nil {
		return respondError(c, "Razorpay", err, fiber.StatusBadRequest)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"order":  order,
		"key_id": pc.svc.RazorpayKeyID(),
	})
}

// HandleCreateRazorpaySubscription starts a Razorpay subscription for the
// configured plan of the requested interval.
func (pc *PaymentController) HandleCreateRazorpaySubscription(c *fiber.Ctx) error {
	var req billing.CreateRazorpaySubscriptionRequest
	if ok, err := parseJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	sub, err := pc.svc.CreateRazorpaySubscription(ctx, req)
	if err != nil {
		return respondError(c, "Razorpay", err, fiber.StatusBadRequest)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"subscription": sub,
		"key_id":       pc.svc.RazorpayKeyID(),
	})
}

func (pc *PaymentController) HandleCreatePayPalOrder(c *fiber.Ctx) error {
	var req billing.CreatePayPalOrderRequest
	if ok, err := parseJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	order, err := pc.svc.CreatePayPalOrder(ctx, req)
	if err != nil {
		return respondError(c, "PayPal", err, fiber.StatusBadRequest)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"orderId":    order.ID,
		"status":     order.Status,
		"approveUrl": billing.ApproveURL(order.Links),
	})
}

// HandleCreatePayPalSubscription runs the product, plan, subscription sequence.
func (pc *PaymentController) HandleCreatePayPalSubscription(c *fiber.Ctx) error {
	var req billing.CreatePayPalSubscriptionRequest
	if ok, err := parseJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := pc.svc.CreatePayPalSubscription(ctx, req)
	if err != nil {
		return respondError(c, "PayPal", err, fiber.StatusBadRequest)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

// HandleVerifyPayment dispatches the legacy combined verify endpoint to the
// gateway specific handler named by "provider" (or "endpoint").
func (pc *PaymentController) HandleVerifyPayment(c *fiber.Ctx) error {
	var hint struct {
		Provider             string `json:"provider"`
		Endpoint             string `json:"endpoint"`
		RazorpayPaymentID    string `json:"razorpay_payment_id"`
		PayPalOrderID        string `json:"paypal_order_id"`
		PayPalSubscriptionID string `json:"paypal_subscription_id"`
	}
	if ok, err := parseJSON(c, &hint); !ok {
		return err
	}

	switch verifyProvider(hint.Provider, hint.Endpoint, hint.RazorpayPaymentID != "", hint.PayPalOrderID != "" || hint.PayPalSubscriptionID != "") {
	case "razorpay":
		return pc.HandleVerifyRazorpay(c)
	case "paypal":
		return pc.HandleVerifyPayPal(c)
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   errCodeUnknownProvider,
			"message": "provider must be razorpay or paypal",
		})
	}
}

func verifyProvider(provider, endpoint string, hasRazorpayIDs, hasPayPalIDs bool) string {
	for _, v := range []string{provider, endpoint} {
		v = strings.ToLower(strings.TrimSpace(v))
		switch {
		case v == "":
			continue
		case strings.Contains(v, "razorpay"):
			return "razorpay"
		case strings.Contains(v, "paypal"):
			return "paypal"
		default:
			return ""
		}
	}
	switch {
	case hasRazorpayIDs:
		return "razorpay"
	case hasPayPalIDs:
		return "paypal"
	}
	return ""
}

// HandleVerifyRazorpay verifies a Razorpay checkout and writes the ledger.
func (pc *PaymentController) HandleVerifyRazorpay(c *fiber.Ctx) error {
	var req billing.RazorpayVerifyRequest
	if ok, err := parseJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := pc.svc.VerifyRazorpay(ctx, req)
	if err != nil {
		return respondError(c, "Verify", err, fiber.StatusBadRequest)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

// HandleVerifyPayPal confirms a PayPal order or subscription and writes the
// ledger.
func (pc *PaymentController) HandleVerifyPayPal(c *fiber.Ctx) error {
	var req billing.PayPalVerifyRequest
	if ok, err := parseJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := pc.svc.VerifyPayPal(ctx, req)
	if err != nil {
		return respondError(c, "Verify", err, fiber.StatusBadRequest)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

// HandleStopAutopay cancels the Razorpay mandate of a subscription.
func (pc *PaymentController) HandleStopAutopay(c *fiber.Ctx) error {
	var req billing.StopAutopayRequest
	if ok, err := parseJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	sub, err := pc.svc.StopAutopay(ctx, req)
	if err != nil {
		return respondError(c, "Autopay", err, fiber.StatusBadRequest)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":      true,
		"message":      "Autopay stopped",
		"subscription": sub,
	})
}

// HandleCleanupCustomer cancels mandates and deletes saved tokens of a
// Razorpay customer.
func (pc *PaymentController) HandleCleanupCustomer(c *fiber.Ctx) error {
	var req struct {
		CustomerID string `json:"customer_id"`
	}
	if ok, err := parseJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := pc.svc.CleanupCustomer(ctx, req.CustomerID)
	if err != nil {
		return respondError(c, "Cleanup", err, fiber.StatusBadRequest)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

// HandleRazorpayWebhook verifies X-Razorpay-Signature over the raw body and
// acknowledges the event.
func (pc *PaymentController) HandleRazorpayWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("X-Razorpay-Signature"))
	eventID := strings.TrimSpace(c.Get("X-Razorpay-Event-Id"))

	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := pc.svc.HandleRazorpayWebhook(ctx, rawBody, signature, eventID)
	if err != nil {
		return respondError(c, "RazorpayWebhook", err, fiber.StatusUnauthorized)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

// HandleGetActiveSubscription returns the active subscription of a user.
func (pc *PaymentController) HandleGetActiveSubscription(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	sub, err := pc.svc.GetActiveSubscription(ctx, c.Params("user_id"))
	if err != nil {
		return respondError(c, "Subscription", err, fiber.StatusBadRequest)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"subscription": sub})
}

// HandleAddAdvisorCredits tops up the credit balance of an advisor.
func (pc *PaymentController) HandleAddAdvisorCredits(c *fiber.Ctx) error {
	var req billing.AddCreditsInput
	if ok, err := parseJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := pc.svc.AddAdvisorCredits(ctx, req)
	if err != nil {
		return respondError(c, "AdvisorCredits", err, fiber.StatusBadRequest)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":   true,
		"credits":   res.Balance,
		"duplicate": res.Duplicate,
	})
}

func (pc *PaymentController) HandleGetAdvisorCredits(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	balance, err := pc.svc.GetAdvisorCredits(ctx, c.Params("advisor_user_id"))
	if err != nil {
		return respondError(c, "AdvisorCredits", err, fiber.StatusBadRequest)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"credits": balance})
}
