package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/guildhall-dev/guildhall/internal/apperr"
	"github.com/guildhall-dev/guildhall/internal/keys"
	"github.com/guildhall-dev/guildhall/internal/model"
	"github.com/guildhall-dev/guildhall/internal/storage"
)

// SignatureTolerance bounds how old a webhook timestamp may be before
// it is rejected as a replay.
const SignatureTolerance = 5 * time.Minute

// Gateway event types the handler acts on; everything else is
// acknowledged and ignored.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentFailed       = "invoice.payment_failed"
)

// Webhook verifies and applies payment-gateway events. An empty secret
// means mock mode: signatures are not checked, which is only safe
// because the mock gateway is the lone caller there.
type Webhook struct {
	svc    *Service
	secret string
}

// NewWebhook wraps the service with signature verification.
func NewWebhook(svc *Service, secret string) *Webhook {
	return &Webhook{svc: svc, secret: secret}
}

type event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object eventObject `json:"object"`
	} `json:"data"`
}

type eventObject struct {
	ID                string `json:"id"`
	ClientReferenceID string `json:"client_reference_id"`
	Customer          string `json:"customer"`
	Subscription      string `json:"subscription"`
	Status            string `json:"status"`
	Metadata          struct {
		UserID string `json:"userId"`
		Tier   string `json:"tier"`
	} `json:"metadata"`
}

// Handle verifies the signature header and applies the event. Replayed
// events succeed without effect.
func (w *Webhook) Handle(ctx context.Context, payload []byte, sigHeader string) error {
	if w.secret != "" {
		if err := verifySignature(payload, sigHeader, w.secret, w.svc.now()); err != nil {
			return err
		}
	}

	var ev event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return apperr.Validation("payload", "malformed event")
	}
	if ev.ID == "" {
		return apperr.Validation("id", "event id is required")
	}

	switch ev.Type {
	case EventCheckoutCompleted:
		return w.checkoutCompleted(ctx, ev)
	case EventSubscriptionUpdated:
		return w.subscriptionUpdated(ctx, ev)
	case EventSubscriptionDeleted:
		return w.subscriptionDeleted(ctx, ev)
	case EventPaymentFailed:
		return w.paymentFailed(ctx, ev)
	default:
		w.svc.log.Debug().Str("type", ev.Type).Msg("ignoring gateway event")
		return nil
	}
}

// verifySignature checks the "t=<ts>,v1=<hex>" header scheme: v1 is
// HMAC-SHA256 of "<ts>.<payload>" under the endpoint secret.
func verifySignature(payload []byte, header, secret string, nowMs int64) error {
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	if ts == "" || sig == "" {
		return apperr.Unauthenticated("invalid_signature", "missing signature header")
	}
	sent, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return apperr.Unauthenticated("invalid_signature", "bad signature timestamp")
	}
	if d := nowMs/1000 - sent; d > int64(SignatureTolerance/time.Second) || d < -int64(SignatureTolerance/time.Second) {
		return apperr.Unauthenticated("invalid_signature", "signature timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return apperr.Unauthenticated("invalid_signature", "signature mismatch")
	}
	return nil
}

func (w *Webhook) checkoutCompleted(ctx context.Context, ev event) error {
	userID := ev.Data.Object.ClientReferenceID
	if userID == "" {
		userID = ev.Data.Object.Metadata.UserID
	}
	tier := ev.Data.Object.Metadata.Tier
	if userID == "" || !ValidTier(tier) || tier == model.TierFree {
		return apperr.Validation("payload", "checkout event missing user or tier")
	}

	grant := Allowance(w.svc.allowances, tier)
	now := w.svc.now()
	entry := model.CreditEntry{
		ID:            uuid.NewString(),
		UserID:        userID,
		Delta:         grant,
		Reason:        "tier_allowance",
		SourceEventID: ev.ID,
		TS:            now,
	}
	return w.apply(ctx, userID, ev.ID, storage.Item{
		"tier":            tier,
		"status":          model.SubStatusActive,
		"gatewayCustomer": ev.Data.Object.Customer,
		"gatewaySubId":    ev.Data.Object.Subscription,
		"updatedAt":       now,
	}, grant, &entry)
}

func (w *Webhook) subscriptionUpdated(ctx context.Context, ev event) error {
	userID := ev.Data.Object.Metadata.UserID
	if userID == "" {
		return apperr.Validation("payload", "subscription event missing user")
	}
	set := storage.Item{"updatedAt": w.svc.now()}
	switch ev.Data.Object.Status {
	case "active":
		set["status"] = model.SubStatusActive
	case "past_due", "unpaid":
		set["status"] = model.SubStatusPastDue
	case "canceled":
		set["status"] = model.SubStatusCancelled
		set["tier"] = model.TierFree
	default:
		return nil
	}
	if tier := ev.Data.Object.Metadata.Tier; ValidTier(tier) && set["status"] == model.SubStatusActive {
		set["tier"] = tier
	}
	return w.apply(ctx, userID, ev.ID, set, 0, nil)
}

func (w *Webhook) subscriptionDeleted(ctx context.Context, ev event) error {
	userID := ev.Data.Object.Metadata.UserID
	if userID == "" {
		return apperr.Validation("payload", "subscription event missing user")
	}
	return w.apply(ctx, userID, ev.ID, storage.Item{
		"status":    model.SubStatusCancelled,
		"tier":      model.TierFree,
		"updatedAt": w.svc.now(),
	}, 0, nil)
}

func (w *Webhook) paymentFailed(ctx context.Context, ev event) error {
	userID := ev.Data.Object.Metadata.UserID
	if userID == "" {
		// Invoices do not always carry metadata; without a user there is
		// nothing to mark.
		w.svc.log.Warn().Str("event", ev.ID).Msg("payment failure without user reference")
		return nil
	}
	return w.apply(ctx, userID, ev.ID, storage.Item{
		"status":    model.SubStatusPastDue,
		"updatedAt": w.svc.now(),
	}, 0, nil)
}

// apply writes the subscription mutation, the processed-event marker
// and the optional ledger entry in one transaction. The NOT contains
// guard turns a replayed event into a no-op conflict.
func (w *Webhook) apply(ctx context.Context, userID, eventID string, set storage.Item, grant int64, entry *model.CreditEntry) error {
	if err := w.svc.ensure(ctx, userID); err != nil {
		return err
	}

	update := &storage.UpdateInput{
		PK:       keys.User(userID),
		SK:       keys.SKSubscription,
		Set:      set,
		AddToSet: map[string][]string{"processedEvents": {eventID}},
		Condition: storage.Condition{
			{Attr: "processedEvents", Op: storage.OpNotContains, Value: eventID},
		},
	}
	if grant != 0 {
		update.Add = map[string]int64{"balance": grant}
	}
	// Status changes move the row between GSI1 partitions, so the index
	// keys are rewritten alongside.
	if status, ok := set["status"].(string); ok {
		update.Set[storage.AttrGSI1PK] = keys.SubStatus(status)
		update.Set[storage.AttrGSI1SK] = keys.User(userID)
	}

	ops := []storage.WriteOp{{Update: update}}
	if entry != nil {
		ops = append(ops, storage.WriteOp{Put: entry.Item(), Condition: storage.NotExists(storage.AttrSK)})
	}

	err := w.svc.store.TransactWrite(ctx, ops)
	if errors.Is(err, storage.ErrConflict) {
		w.svc.log.Info().Str("event", eventID).Msg("replayed gateway event")
		return nil
	}
	if err != nil {
		return apperr.Internal(fmt.Errorf("apply gateway event %s: %w", eventID, err))
	}
	return nil
}
