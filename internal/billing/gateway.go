package billing

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CheckoutSession is the gateway's answer to a checkout request.
type CheckoutSession struct {
	SessionID   string `json:"sessionId"`
	RedirectURL string `json:"redirectUrl"`
}

// Gateway is the narrow payment-gateway client interface. The real
// gateway lives behind it; the core never sees more of its API.
type Gateway interface {
	CreateSession(ctx context.Context, userID, tier, successURL, cancelURL string) (CheckoutSession, error)
	CancelSubscription(ctx context.Context, gatewaySubID string) error
	PortalURL(ctx context.Context, gatewayCustomer string) (string, error)
}

// StripeGateway talks to the hosted checkout API with the secret key.
type StripeGateway struct {
	secret string
	client *http.Client
	base   string
}

// NewStripeGateway builds the production gateway client.
func NewStripeGateway(secret string, client *http.Client) *StripeGateway {
	if client == nil {
		client = &http.Client{}
	}
	return &StripeGateway{secret: secret, client: client, base: "https://api.stripe.com/v1"}
}

func (g *StripeGateway) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.base+path, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return fmt.Errorf("billing: build gateway request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("billing: gateway call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("billing: gateway call: status %d", resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (g *StripeGateway) CreateSession(ctx context.Context, userID, tier, successURL, cancelURL string) (CheckoutSession, error) {
	form := url.Values{
		"client_reference_id": {userID},
		"success_url":         {successURL},
		"cancel_url":          {cancelURL},
		"mode":                {"subscription"},
		"metadata[tier]":      {tier},
		// Copied onto the subscription object so later lifecycle events
		// still carry the user id.
		"subscription_data[metadata][userId]": {userID},
		"subscription_data[metadata][tier]":   {tier},
	}
	var raw struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := g.post(ctx, "/checkout/sessions", form, &raw); err != nil {
		return CheckoutSession{}, err
	}
	return CheckoutSession{SessionID: raw.ID, RedirectURL: raw.URL}, nil
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, gatewaySubID string) error {
	return g.post(ctx, "/subscriptions/"+gatewaySubID+"/cancel", url.Values{}, nil)
}

func (g *StripeGateway) PortalURL(ctx context.Context, gatewayCustomer string) (string, error) {
	var raw struct {
		URL string `json:"url"`
	}
	err := g.post(ctx, "/billing_portal/sessions", url.Values{"customer": {gatewayCustomer}}, &raw)
	return raw.URL, err
}

// MockGateway is active whenever no payment secret is configured. Its
// sessions short-circuit to the completed-checkout handler so dev and
// tests exercise the same webhook path as production.
type MockGateway struct{}

func (MockGateway) CreateSession(_ context.Context, userID, tier, successURL, _ string) (CheckoutSession, error) {
	id := "mock_" + uuid.NewString()
	sep := "?"
	if strings.Contains(successURL, "?") {
		sep = "&"
	}
	return CheckoutSession{
		SessionID:   id,
		RedirectURL: fmt.Sprintf("%s%ssession_id=%s&user_id=%s&tier=%s", successURL, sep, id, userID, tier),
	}, nil
}

func (MockGateway) CancelSubscription(context.Context, string) error { return nil }

func (MockGateway) PortalURL(context.Context, string) (string, error) {
	return "https://billing.example.invalid/portal", nil
}
