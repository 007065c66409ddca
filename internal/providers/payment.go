package providers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"domain-activation-service/internal/config"

	"github.com/google/uuid"
)

// PaymentEventType is the closed set of normalized subscription events the
// billing reconciler consumes
type PaymentEventType string

const (
	EventSubscriptionActivated PaymentEventType = "subscription.activated"
	EventSubscriptionPastDue   PaymentEventType = "subscription.past_due"
	EventSubscriptionCancelled PaymentEventType = "subscription.cancelled"
)

// PaymentEvent is a verified, normalized payment-provider webhook event
type PaymentEvent struct {
	EventID                string
	Type                   PaymentEventType
	SiteID                 uuid.UUID
	SubscriptionID         string
	PeriodEnd              time.Time
	PlanAllowsCustomDomain bool
}

var (
	// ErrInvalidSignature is returned for payloads that fail verification
	ErrInvalidSignature = errors.New("webhook signature verification failed")
	// ErrUnhandledEventType is returned for provider events outside the
	// normalized set; the caller acknowledges and drops them
	ErrUnhandledEventType = errors.New("unhandled payment event type")
)

// PaymentVerifier verifies webhook signatures and decodes provider payloads
// into normalized events
type PaymentVerifier struct {
	cfg *config.PaymentConfig
	now func() time.Time
}

// NewPaymentVerifier creates a new payment webhook verifier
func NewPaymentVerifier(cfg *config.PaymentConfig) *PaymentVerifier {
	return &PaymentVerifier{
		cfg: cfg,
		now: time.Now,
	}
}

// webhookEnvelope mirrors the provider's event wrapper
type webhookEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID               string            `json:"id"`
			Status           string            `json:"status"`
			CurrentPeriodEnd int64             `json:"current_period_end"`
			Metadata         map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// VerifyAndDecode checks the signature header against the shared secret and
// returns the normalized event. The signature scheme is the provider's
// "t=<unix>,v1=<hex hmac-sha256(t.payload)>" header with a bounded
// timestamp tolerance against replay.
func (v *PaymentVerifier) VerifyAndDecode(payload []byte, sigHeader string) (*PaymentEvent, error) {
	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return nil, ErrInvalidSignature
	}

	if v.cfg.Tolerance > 0 {
		skew := v.now().Sub(time.Unix(timestamp, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > v.cfg.Tolerance {
			return nil, ErrInvalidSignature
		}
	}

	expected := computeSignature(v.cfg.WebhookSecret, timestamp, payload)
	valid := false
	for _, sig := range signatures {
		sigBytes, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(sigBytes, expected) {
			valid = true
			break
		}
	}
	if !valid {
		return nil, ErrInvalidSignature
	}

	return decodeEvent(payload)
}

func decodeEvent(payload []byte) (*PaymentEvent, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}

	eventType, err := normalizeEventType(envelope.Type, envelope.Data.Object.Status)
	if err != nil {
		return nil, err
	}

	obj := envelope.Data.Object

	siteID, err := uuid.Parse(obj.Metadata["site_id"])
	if err != nil {
		return nil, fmt.Errorf("webhook payload missing valid site_id metadata: %w", err)
	}

	event := &PaymentEvent{
		EventID:                envelope.ID,
		Type:                   eventType,
		SiteID:                 siteID,
		SubscriptionID:         obj.ID,
		PlanAllowsCustomDomain: obj.Metadata["custom_domains"] != "disabled",
	}

	if obj.CurrentPeriodEnd > 0 {
		event.PeriodEnd = time.Unix(obj.CurrentPeriodEnd, 0)
	}

	return event, nil
}

// normalizeEventType folds the provider's event-type strings into the
// closed normalized set
func normalizeEventType(providerType, subscriptionStatus string) (PaymentEventType, error) {
	switch providerType {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.resumed":
		switch subscriptionStatus {
		case "active", "trialing":
			return EventSubscriptionActivated, nil
		case "past_due", "unpaid":
			return EventSubscriptionPastDue, nil
		case "canceled", "cancelled":
			return EventSubscriptionCancelled, nil
		default:
			return "", fmt.Errorf("%w: %s (%s)", ErrUnhandledEventType, providerType, subscriptionStatus)
		}
	case "customer.subscription.deleted":
		return EventSubscriptionCancelled, nil
	case "invoice.payment_failed":
		return EventSubscriptionPastDue, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnhandledEventType, providerType)
	}
}

func parseSignatureHeader(header string) (timestamp int64, signatures []string, err error) {
	if header == "" {
		return 0, nil, errors.New("empty signature header")
	}

	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp, err = strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return 0, nil, err
			}
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp == 0 || len(signatures) == 0 {
		return 0, nil, errors.New("malformed signature header")
	}

	return timestamp, signatures, nil
}

func computeSignature(secret string, timestamp int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}
