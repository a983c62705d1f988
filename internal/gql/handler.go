package gql

import (
	"context"
	"net/http"

	"github.com/graphql-go/graphql"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/guildhall-dev/guildhall/internal/auth"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Authorizer is the slice of the auth layer the handler needs.
type Authorizer interface {
	Authorize(ctx context.Context, raw string) (auth.Policy, error)
}

// Handler serves POST /graphql. Two credential paths: a bearer token
// establishes a principal; the API key alone reaches only the public
// availability fields, which never call requirePrincipal.
type Handler struct {
	schema     graphql.Schema
	authorizer Authorizer
	apiKey     string
	log        zerolog.Logger
}

// NewHandler wraps the schema in an HTTP handler.
func NewHandler(schema graphql.Schema, authorizer Authorizer, apiKey string, log zerolog.Logger) *Handler {
	return &Handler{
		schema:     schema,
		authorizer: authorizer,
		apiKey:     apiKey,
		log:        log.With().Str("component", "graphql").Logger(),
	}
}

type request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if raw := r.Header.Get("Authorization"); raw != "" {
		policy, err := h.authorizer.Authorize(ctx, raw)
		if err != nil {
			http.Error(w, "invalid bearer token", http.StatusUnauthorized)
			return
		}
		ctx = auth.WithPrincipal(ctx, policy.Principal)
	} else if h.apiKey == "" || r.Header.Get("X-Api-Key") != h.apiKey {
		http.Error(w, "credentials required", http.StatusUnauthorized)
		return
	}

	result := graphql.Do(graphql.Params{
		Schema:         h.schema,
		RequestString:  req.Query,
		OperationName:  req.OperationName,
		VariableValues: req.Variables,
		Context:        ctx,
	})
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}
