package httpapi

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wisbric/scimgateway/internal/errorsx"
	"github.com/wisbric/scimgateway/pkg/ratelimit"
)

func TestRespondSCIMErrorMapsStatusAndScimType(t *testing.T) {
	rec := httptest.NewRecorder()
	err := errorsx.New("salesforce", "salesforce", "createUser", errorsx.KindUniqueness, nil)

	RespondSCIMError(rec, err)

	if rec.Code != 409 {
		t.Errorf("expected 409, got %d", rec.Code)
	}

	var body ScimErrorBody
	if jsonErr := json.Unmarshal(rec.Body.Bytes(), &body); jsonErr != nil {
		t.Fatal(jsonErr)
	}
	if body.ScimType != "uniqueness" {
		t.Errorf("expected scimType=uniqueness, got %q", body.ScimType)
	}
}

func TestRespondSCIMErrorOmitsScimTypeWhenNotApplicable(t *testing.T) {
	rec := httptest.NewRecorder()
	err := errorsx.New("salesforce", "salesforce", "getUser", errorsx.KindUnauthorized, nil)

	RespondSCIMError(rec, err)

	var body ScimErrorBody
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.ScimType != "" {
		t.Errorf("expected no scimType for Unauthorized, got %q", body.ScimType)
	}
}

func TestRespondSCIMErrorDefaultsUnwrappedErrorsToInternalError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondSCIMError(rec, plainError("boom"))

	if rec.Code != 500 {
		t.Errorf("expected 500 for a non-AdapterError, got %d", rec.Code)
	}
}

type plainError string

func (e plainError) Error() string { return string(e) }

func TestSetRateLimitHeadersOnAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	res := ratelimit.AdmissionResult{Allowed: true, Limit: 50, RemainingTokens: 49, ResetAt: time.Unix(100, 0)}

	SetRateLimitHeaders(rec, res)

	if rec.Header().Get("X-RateLimit-Limit") != "50" || rec.Header().Get("X-RateLimit-Remaining") != "49" {
		t.Errorf("unexpected headers: %v", rec.Header())
	}
	if rec.Header().Get("Retry-After") != "" {
		t.Error("expected no Retry-After header when admitted")
	}
}

func TestRespondRateLimitedSetsRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	res := ratelimit.AdmissionResult{Allowed: false, Limit: 50, RemainingTokens: 0, RetryAfterSeconds: 7}

	RespondRateLimited(rec, res)

	if rec.Code != 429 {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "7" {
		t.Errorf("expected Retry-After=7, got %q", rec.Header().Get("Retry-After"))
	}
}
