package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/trackmystartup/tms-payments/internal/pkg/billing"
)

// gateway calls are bounded by the client timeout; this covers the ledger too
const requestTimeout = 30 * time.Second

// Error codes returned in the "error" field of JSON error responses.
const (
	errCodeValidation       = "validation_error"
	errCodeConfiguration    = "server_configuration_error"
	errCodeInvalidSignature = "invalid_signature"
	errCodeProfileNotFound  = "profile_not_found"
	errCodeSubscriptionGone = "subscription_not_found"
	errCodeInProgress       = "verification_in_progress"
	errCodeNotCompleted     = "payment_not_completed"
	errCodeGateway          = "gateway_error"
	errCodeLedger           = "ledger_write_failed"
	errCodeInternal         = "internal_error"
	errCodeMethodNotAllowed = "method_not_allowed"
	errCodeNotFound         = "not_found"
	errCodeTooManyRequests  = "too_many_requests"
	errCodeInvalidJSONBody  = "invalid_json"
	errCodeUnknownProvider  = "unsupported_provider"
)

func requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), requestTimeout)
}

// parseJSON decodes the request body into out and writes a 400 on failure.
// The returned bool is false when a response was already written.
func parseJSON(c *fiber.Ctx, out interface{}) (bool, error) {
	if len(c.Body()) == 0 {
		return false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   errCodeValidation,
			"message": "request body is required",
		})
	}
	if err := json.Unmarshal(c.Body(), out); err != nil {
		code := errCodeInvalidJSONBody
		if errors.Is(err, billing.ErrValidation) {
			code = errCodeValidation
		}
		return false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   code,
			"message": err.Error(),
		})
	}
	return true, nil
}

// respondError maps billing errors to HTTP statuses. signatureStatus is the
// status used for ErrInvalidSignature, which differs between the verify
// endpoints and the webhook.
func respondError(c *fiber.Ctx, op string, err error, signatureStatus int) error {
	var gwErr *billing.GatewayError
	switch {
	case errors.Is(err, billing.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": errCodeValidation, "message": err.Error()})
	case errors.Is(err, billing.ErrInvalidSignature):
		return c.Status(signatureStatus).JSON(fiber.Map{"error": errCodeInvalidSignature, "message": "signature verification failed"})
	case errors.Is(err, billing.ErrProfileNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": errCodeProfileNotFound, "message": err.Error()})
	case errors.Is(err, billing.ErrSubscriptionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": errCodeSubscriptionGone, "message": err.Error()})
	case errors.Is(err, billing.ErrVerificationInProgress):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": errCodeInProgress, "message": err.Error()})
	case errors.Is(err, billing.ErrPaymentNotCompleted):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": errCodeNotCompleted, "message": err.Error()})
	case errors.Is(err, billing.ErrServerConfiguration):
		log.Errorf("[%s] %v", op, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": errCodeConfiguration, "message": err.Error()})
	case errors.As(err, &gwErr):
		log.Errorf("[%s] %v", op, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":    errCodeGateway,
			"message":  gwErr.Provider + " request failed",
			"provider": gwErr.Provider,
			"status":   gwErr.StatusCode,
			"details":  gatewayDetails(gwErr.Body),
		})
	case errors.Is(err, billing.ErrLedgerWrite):
		log.Errorf("[%s] %v", op, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": errCodeLedger, "message": err.Error()})
	default:
		log.Errorf("[%s] %v", op, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": errCodeInternal, "message": "internal server error"})
	}
}

// gatewayDetails passes the upstream body through, as JSON when it is JSON.
func gatewayDetails(body string) interface{} {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return nil
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	return trimmed
}

// ErrorHandler renders fiber errors (404, 405, 429, body limit) as JSON.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal server error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	} else {
		log.Errorf("[HTTP] %s %s: %v", c.Method(), c.Path(), err)
	}

	errCode := errCodeInternal
	switch code {
	case fiber.StatusMethodNotAllowed:
		errCode = errCodeMethodNotAllowed
	case fiber.StatusNotFound:
		errCode = errCodeNotFound
	case fiber.StatusTooManyRequests:
		errCode = errCodeTooManyRequests
	case fiber.StatusBadRequest, fiber.StatusRequestEntityTooLarge:
		errCode = errCodeValidation
	}
	return c.Status(code).JSON(fiber.Map{"error": errCode, "message": message})
}
