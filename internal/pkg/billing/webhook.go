package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/trackmystartup/tms-payments/app/models"
)

const (
	RazorpayEventSubscriptionActivated = "subscription.activated"
	RazorpayEventSubscriptionCharged   = "subscription.charged"
	RazorpayEventSubscriptionPaused    = "subscription.paused"
	RazorpayEventSubscriptionCancelled = "subscription.cancelled"
)

type RazorpayPayment struct {
	ID         string          `json:"id"`
	Entity     string          `json:"entity"`
	Amount     int64           `json:"amount"`
	Currency   string          `json:"currency"`
	Status     string          `json:"status"`
	OrderID    string          `json:"order_id"`
	CustomerID string          `json:"customer_id"`
	TokenID    string          `json:"token_id"`
	Method     string          `json:"method"`
	Notes      json.RawMessage `json:"notes,omitempty"`
	CreatedAt  int64           `json:"created_at"`
}

// RazorpayWebhookEvent is the envelope Razorpay posts to the webhook.
type RazorpayWebhookEvent struct {
	Entity    string   `json:"entity"`
	AccountID string   `json:"account_id"`
	Event     string   `json:"event"`
	Contains  []string `json:"contains"`
	Payload   struct {
		Subscription *struct {
			Entity RazorpaySubscription `json:"entity"`
		} `json:"subscription,omitempty"`
		Payment *struct {
			Entity RazorpayPayment `json:"entity"`
		} `json:"payment,omitempty"`
	} `json:"payload"`
	CreatedAt int64 `json:"created_at"`
}

// Subscription returns the subscription entity of the event, if any.
func (e *RazorpayWebhookEvent) Subscription() *RazorpaySubscription {
	if e.Payload.Subscription == nil {
		return nil
	}
	return &e.Payload.Subscription.Entity
}

// Payment returns the payment entity of the event, if any.
func (e *RazorpayWebhookEvent) Payment() *RazorpayPayment {
	if e.Payload.Payment == nil {
		return nil
	}
	return &e.Payload.Payment.Entity
}

func ParseRazorpayWebhookEvent(body []byte) (*RazorpayWebhookEvent, error) {
	var ev RazorpayWebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, validationErrorf("invalid webhook payload: %v", err)
	}
	if strings.TrimSpace(ev.Event) == "" {
		return nil, validationErrorf("webhook payload has no event")
	}
	return &ev, nil
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *Service) RecordWebhookEvent(_ context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		eventID = "hash:" + payloadHash(in.PayloadJSON)
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(_ context.Context, webhookEventID uint, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

// HandleRazorpayWebhook verifies, records and dispatches a Razorpay webhook.
// Only subscription.activated changes state; it stores the gateway customer
// id on the profile. Redeliveries of an event that was processed cleanly are
// acknowledged as duplicates.
func (s *Service) HandleRazorpayWebhook(ctx context.Context, body []byte, signature, eventID string) (*WebhookResult, error) {
	secret, err := s.razorpay.webhookSecret()
	if err != nil {
		return nil, err
	}

	eventType := peekEventType(body)
	if !VerifyRazorpayWebhookSignature(body, signature, secret) {
		log.Warnf("[RazorpayWebhook] Invalid signature for event %q", eventType)
		// keyed apart from real deliveries so a forged event id cannot shadow them
		_, stored, rerr := s.RecordWebhookEvent(ctx, WebhookEventInput{
			Provider:        models.WebhookProviderRazorpay,
			ProviderEventID: "invalid:" + payloadHash(string(body)),
			EventType:       eventType,
			PayloadJSON:     string(body),
		})
		if rerr == nil {
			_ = s.MarkWebhookProcessed(ctx, stored.ID, ErrInvalidSignature)
		}
		return nil, ErrInvalidSignature
	}

	created, stored, err := s.RecordWebhookEvent(ctx, WebhookEventInput{
		Provider:        models.WebhookProviderRazorpay,
		ProviderEventID: eventID,
		EventType:       eventType,
		PayloadJSON:     string(body),
		SignatureValid:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("record webhook event: %w", err)
	}
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		return &WebhookResult{OK: true, Duplicate: true, Event: eventType}, nil
	}
	if created {
		s.archiveWebhook(ctx, stored, body)
	}

	ev, err := ParseRazorpayWebhookEvent(body)
	if err != nil {
		_ = s.MarkWebhookProcessed(ctx, stored.ID, err)
		return nil, err
	}

	result := &WebhookResult{OK: true, Event: ev.Event}
	var procErr error
	switch ev.Event {
	case RazorpayEventSubscriptionActivated:
		procErr = s.onSubscriptionActivated(ctx, ev)
	case RazorpayEventSubscriptionCharged, RazorpayEventSubscriptionPaused, RazorpayEventSubscriptionCancelled:
		logSubscriptionEvent(ev)
	default:
		log.Infof("[RazorpayWebhook] Ignoring event %s", ev.Event)
		result.Ignored = true
	}

	_ = s.MarkWebhookProcessed(ctx, stored.ID, procErr)
	if procErr != nil {
		if errors.Is(procErr, ErrProfileNotFound) || errors.Is(procErr, ErrValidation) {
			log.Warnf("[RazorpayWebhook] %s not applied: %v", ev.Event, procErr)
			result.Ignored = true
			return result, nil
		}
		return nil, procErr
	}
	return result, nil
}

func (s *Service) onSubscriptionActivated(ctx context.Context, ev *RazorpayWebhookEvent) error {
	sub := ev.Subscription()
	if sub == nil {
		return validationErrorf("subscription.activated without subscription entity")
	}
	customerID := strings.TrimSpace(sub.CustomerID)
	if customerID == "" {
		if p := ev.Payment(); p != nil {
			customerID = strings.TrimSpace(p.CustomerID)
		}
	}
	if customerID == "" {
		return validationErrorf("subscription %s has no customer_id", sub.ID)
	}

	profileID := ""
	if userID := notesMap(sub.Notes)["user_id"]; userID != "" {
		resolved, err := s.resolver.ResolveProfileID(ctx, userID)
		switch {
		case err == nil:
			profileID = resolved
		case errors.Is(err, ErrProfileNotFound):
			log.Warnf("[RazorpayWebhook] notes.user_id %s of subscription %s does not resolve", userID, sub.ID)
		default:
			return err
		}
	}
	if profileID == "" {
		local, err := s.repo.GetSubscriptionByRazorpayID(sub.ID)
		if err != nil {
			return fmt.Errorf("%w: no profile for subscription %s", ErrProfileNotFound, sub.ID)
		}
		profileID = local.UserID
	}

	if err := s.repo.SetRazorpayCustomerID(profileID, customerID); err != nil {
		return fmt.Errorf("store customer id: %w", err)
	}
	log.Infof("[RazorpayWebhook] Stored customer %s on profile %s for subscription %s", customerID, profileID, sub.ID)
	return nil
}

func logSubscriptionEvent(ev *RazorpayWebhookEvent) {
	subID, status := "", ""
	if sub := ev.Subscription(); sub != nil {
		subID, status = sub.ID, sub.Status
	}
	paymentID := ""
	if p := ev.Payment(); p != nil {
		paymentID = p.ID
	}
	log.Infof("[RazorpayWebhook] %s subscription=%s status=%s payment=%s", ev.Event, subID, status, paymentID)
}

func (s *Service) archiveWebhook(ctx context.Context, event *models.BillingWebhookEvent, body []byte) {
	if s.archive == nil {
		return
	}
	key := fmt.Sprintf("webhooks/%s/%s/%d-%s.json",
		event.Provider,
		time.Now().UTC().Format("2006/01/02"),
		event.ID,
		strings.ReplaceAll(event.EventType, ".", "_"),
	)
	if err := s.archive.PutPayload(ctx, key, body); err != nil {
		log.Warnf("[RazorpayWebhook] Failed to archive event %d: %v", event.ID, err)
		return
	}
	if err := s.repo.SetWebhookArchiveKey(event.ID, key); err != nil {
		log.Warnf("[RazorpayWebhook] Failed to store archive key for event %d: %v", event.ID, err)
	}
}

func peekEventType(body []byte) string {
	var head struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return "unknown"
	}
	if strings.TrimSpace(head.Event) == "" {
		return "unknown"
	}
	return strings.TrimSpace(head.Event)
}

func payloadHash(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// notesMap flattens Razorpay notes, which are an object when set and an
// empty array otherwise.
func notesMap(raw json.RawMessage) map[string]string {
	out := map[string]string{}
	if len(raw) == 0 {
		return out
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return out
	}
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out[k] = strings.TrimSpace(val)
		case nil:
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}
