package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/wisbric/scimgateway/internal/errorsx"
	"github.com/wisbric/scimgateway/pkg/ratelimit"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// ScimErrorBody is the SCIM 2.0 error schema (spec §6).
type ScimErrorBody struct {
	Schemas  []string `json:"schemas"`
	Status   string   `json:"status"`
	ScimType string   `json:"scimType,omitempty"`
	Detail   string   `json:"detail"`
}

// RespondSCIMError translates err into the SCIM error schema and writes it
// with the matching HTTP status, unwrapping to an *errorsx.AdapterError
// when present (spec §6 error body / status code mapping).
func RespondSCIMError(w http.ResponseWriter, err error) {
	var adapterErr *errorsx.AdapterError
	kind := errorsx.KindInternalError
	detail := err.Error()

	if errors.As(err, &adapterErr) {
		kind = adapterErr.ScimErrorKind
	}

	body := ScimErrorBody{
		Schemas:  []string{"urn:ietf:params:scim:api:messages:2.0:Error"},
		Status:   strconv.Itoa(kind.HTTPStatus()),
		ScimType: kind.SCIMType(),
		Detail:   detail,
	}

	Respond(w, kind.HTTPStatus(), body)
}

// SetRateLimitHeaders writes the X-RateLimit-* headers spec §6 requires on
// every response, and Retry-After when the request was rejected.
func SetRateLimitHeaders(w http.ResponseWriter, res ratelimit.AdmissionResult) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.RemainingTokens))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	if !res.Allowed {
		h.Set("Retry-After", strconv.Itoa(res.RetryAfterSeconds))
	}
}

// RespondRateLimited writes a 429 SCIM error body with Retry-After set,
// for the admission-rejected path.
func RespondRateLimited(w http.ResponseWriter, res ratelimit.AdmissionResult) {
	SetRateLimitHeaders(w, res)
	body := ScimErrorBody{
		Schemas: []string{"urn:ietf:params:scim:api:messages:2.0:Error"},
		Status:  strconv.Itoa(errorsx.KindRateLimitExceeded.HTTPStatus()),
		Detail:  "rate limit exceeded",
	}
	Respond(w, http.StatusTooManyRequests, body)
}
