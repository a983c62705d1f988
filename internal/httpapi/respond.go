package httpapi

import (
	"net/http"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/hlog"

	"github.com/guildhall-dev/guildhall/internal/apperr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// errorBody is the wire error envelope.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindGone:
		return http.StatusGone
	case apperr.KindTooManyRequests:
		return http.StatusTooManyRequests
	case apperr.KindDependency:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps the taxonomy to the envelope. Internal causes are
// logged with the request id and never serialized.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.As(err)
	status := statusFor(ae.Kind)

	body := errorBody{Code: ae.Code, Message: ae.Message}
	switch ae.Kind {
	case apperr.KindValidation:
		if ae.Field != "" {
			body.Details = map[string]string{"field": ae.Field}
		}
	case apperr.KindTooManyRequests:
		if ae.RetryAfter > 0 {
			secs := int64(ae.RetryAfter.Seconds())
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
			body.Details = map[string]int64{"retryAfterSeconds": secs}
		}
	case apperr.KindInternal, apperr.KindDependency:
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		// Correlation id only; no internals on the wire.
		body.Message = "internal error"
		if id, ok := hlog.IDFromRequest(r); ok {
			body.Details = map[string]string{"requestId": id.String()}
		}
		if ae.Kind == apperr.KindDependency {
			body.Message = ae.Message
		}
	}
	writeJSON(w, status, body)
}

// readJSON decodes the request body into dst with a validation error on
// malformed input.
func readJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Validation("body", "malformed JSON body")
	}
	return nil
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func queryInt64(r *http.Request, name string) int64 {
	v, err := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
