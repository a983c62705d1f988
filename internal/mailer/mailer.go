// Package mailer is the narrow interface to the external mail sender.
// The core only enqueues send requests; delivery is someone else's
// problem.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Mailer enqueues transactional mail.
type Mailer interface {
	SendConfirmation(ctx context.Context, email, token string) error
	SendPasswordReset(ctx context.Context, email, token string) error
	SendInvite(ctx context.Context, email, inviteID string) error
}

type sendRequest struct {
	Template string `json:"template"`
	To       string `json:"to"`
	Token    string `json:"token,omitempty"`
	InviteID string `json:"inviteId,omitempty"`
}

// HTTPMailer posts send requests to the configured mailer endpoint.
type HTTPMailer struct {
	endpoint string
	client   *http.Client
	log      zerolog.Logger
}

// NewHTTP builds an HTTPMailer.
func NewHTTP(endpoint string, client *http.Client, log zerolog.Logger) *HTTPMailer {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPMailer{endpoint: endpoint, client: client, log: log.With().Str("component", "mailer").Logger()}
}

func (m *HTTPMailer) send(ctx context.Context, req sendRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("mailer: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("mailer: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := m.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("mailer: enqueue: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mailer: enqueue: status %d", resp.StatusCode)
	}
	m.log.Debug().Str("template", req.Template).Msg("mail enqueued")
	return nil
}

func (m *HTTPMailer) SendConfirmation(ctx context.Context, email, token string) error {
	return m.send(ctx, sendRequest{Template: "confirm_email", To: email, Token: token})
}

func (m *HTTPMailer) SendPasswordReset(ctx context.Context, email, token string) error {
	return m.send(ctx, sendRequest{Template: "password_reset", To: email, Token: token})
}

func (m *HTTPMailer) SendInvite(ctx context.Context, email, inviteID string) error {
	return m.send(ctx, sendRequest{Template: "collab_invite", To: email, InviteID: inviteID})
}

// Recorder is the test double; it records every enqueue.
type Recorder struct {
	mu    sync.Mutex
	Sent  []sendRequest
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) record(req sendRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Sent = append(r.Sent, req)
	return nil
}

func (r *Recorder) SendConfirmation(_ context.Context, email, token string) error {
	return r.record(sendRequest{Template: "confirm_email", To: email, Token: token})
}

func (r *Recorder) SendPasswordReset(_ context.Context, email, token string) error {
	return r.record(sendRequest{Template: "password_reset", To: email, Token: token})
}

func (r *Recorder) SendInvite(_ context.Context, email, inviteID string) error {
	return r.record(sendRequest{Template: "collab_invite", To: email, InviteID: inviteID})
}

// Count returns how many mails of template were enqueued.
func (r *Recorder) Count(template string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.Sent {
		if s.Template == template {
			n++
		}
	}
	return n
}
