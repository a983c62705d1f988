package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildhall-dev/guildhall/internal/apperr"
	"github.com/guildhall-dev/guildhall/internal/model"
)

func checkoutPayload(eventID, userID, tier string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"type": "checkout.session.completed",
		"data": {"object": {
			"client_reference_id": %q,
			"customer": "cus_123",
			"subscription": "sub_456",
			"metadata": {"userId": %q, "tier": %q}
		}}
	}`, eventID, userID, userID, tier))
}

func subscriptionPayload(eventID, eventType, userID, status string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"type": %q,
		"data": {"object": {
			"status": %q,
			"metadata": {"userId": %q}
		}}
	}`, eventID, eventType, status, userID))
}

func TestCheckoutCompletedGrantsAllowance(t *testing.T) {
	s, _ := newTestService()
	w := NewWebhook(s, "")
	ctx := context.Background()

	require.NoError(t, w.Handle(ctx, checkoutPayload("evt_1", "u1", model.TierInitiate), ""))

	sub, err := s.Current(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.TierInitiate, sub.Tier)
	assert.Equal(t, model.SubStatusActive, sub.Status)
	assert.Equal(t, "cus_123", sub.GatewayCustomer)
	assert.Equal(t, "sub_456", sub.GatewaySubID)
	assert.Equal(t, int64(100), sub.Balance)

	entries, _, err := s.Ledger(ctx, "u1", 0, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(100), entries[0].Delta)
	assert.Equal(t, "tier_allowance", entries[0].Reason)
	assert.Equal(t, "evt_1", entries[0].SourceEventID)
}

func TestReplayedEventIsIgnored(t *testing.T) {
	s, _ := newTestService()
	w := NewWebhook(s, "")
	ctx := context.Background()

	payload := checkoutPayload("evt_1", "u1", model.TierInitiate)
	require.NoError(t, w.Handle(ctx, payload, ""))
	require.NoError(t, w.Handle(ctx, payload, ""))

	// One grant, one ledger entry, however often the gateway retries.
	balance, err := s.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
	entries, _, err := s.Ledger(ctx, "u1", 0, "")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSubscriptionLifecycle(t *testing.T) {
	s, _ := newTestService()
	w := NewWebhook(s, "")
	ctx := context.Background()

	require.NoError(t, w.Handle(ctx, checkoutPayload("evt_1", "u1", model.TierInitiate), ""))

	require.NoError(t, w.Handle(ctx, subscriptionPayload("evt_2", EventPaymentFailed, "u1", ""), ""))
	sub, err := s.Current(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.SubStatusPastDue, sub.Status)
	assert.Equal(t, model.TierInitiate, sub.Tier)

	require.NoError(t, w.Handle(ctx, subscriptionPayload("evt_3", EventSubscriptionUpdated, "u1", "active"), ""))
	sub, err = s.Current(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.SubStatusActive, sub.Status)

	require.NoError(t, w.Handle(ctx, subscriptionPayload("evt_4", EventSubscriptionDeleted, "u1", ""), ""))
	sub, err = s.Current(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.SubStatusCancelled, sub.Status)
	assert.Equal(t, model.TierFree, sub.Tier)
	// The credit balance survives cancellation.
	assert.Equal(t, int64(100), sub.Balance)
}

func TestUnknownEventIsAcknowledged(t *testing.T) {
	s, _ := newTestService()
	w := NewWebhook(s, "")
	assert.NoError(t, w.Handle(context.Background(), []byte(`{"id":"evt_x","type":"charge.refunded"}`), ""))
}

func TestPaymentFailedWithoutUserIsAcknowledged(t *testing.T) {
	s, _ := newTestService()
	w := NewWebhook(s, "")
	payload := []byte(`{"id":"evt_y","type":"invoice.payment_failed","data":{"object":{}}}`)
	assert.NoError(t, w.Handle(context.Background(), payload, ""))
}

func sign(payload []byte, secret string, tsSec int64) string {
	ts := fmt.Sprintf("%d", tsSec)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestSignatureVerification(t *testing.T) {
	s, clock := newTestService()
	w := NewWebhook(s, "whsec_test")
	ctx := context.Background()
	payload := checkoutPayload("evt_1", "u1", model.TierInitiate)

	// Unsigned and garbage headers are rejected.
	err := w.Handle(ctx, payload, "")
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
	err = w.Handle(ctx, payload, "t=abc,v1=def")
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))

	// Wrong secret.
	err = w.Handle(ctx, payload, sign(payload, "whsec_other", clock.ts/1000))
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))

	// Stale timestamp.
	err = w.Handle(ctx, payload, sign(payload, "whsec_test", clock.ts/1000-600))
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))

	// A fresh, correctly signed event goes through.
	require.NoError(t, w.Handle(ctx, payload, sign(payload, "whsec_test", clock.ts/1000)))
	sub, err := s.Current(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.SubStatusActive, sub.Status)
}
