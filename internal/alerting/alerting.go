// Package alerting emits operations alerts for exhausted retries and
// critical adapter failures (spec §7 "Alerting"), grounded on the
// teacher's pkg/escalation.Engine Redis pub/sub notification path, with a
// per-(tenant, provider, errorKind) cooldown suppressing repeat alerts.
package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wisbric/scimgateway/internal/errorsx"
)

const defaultCooldown = 15 * time.Minute

// criticalKinds trigger an alert immediately, without waiting for retries
// to exhaust (spec §7).
var criticalKinds = map[errorsx.Kind]bool{
	errorsx.KindUnauthorized:   true,
	errorsx.KindForbidden:      true,
	errorsx.KindTooMany:        true, // QuotaExceeded is surfaced as TooMany in this taxonomy
	errorsx.KindAdapterDisabled: true, // AccountDisabled at the adapter layer maps here
}

// recommendedActions maps an error kind to operator guidance (spec §7
// "a recommended action (e.g., Unauthorized -> refresh credentials in
// secret store)").
var recommendedActions = map[errorsx.Kind]string{
	errorsx.KindUnauthorized:      "refresh credentials in secret store",
	errorsx.KindForbidden:         "verify the adapter's scopes/permissions with the provider",
	errorsx.KindRateLimitExceeded: "reduce poll frequency or request a higher provider quota",
	errorsx.KindTooMany:           "reduce poll frequency or request a higher provider quota",
	errorsx.KindServerUnavailable: "check provider status page; retries will continue automatically",
	errorsx.KindTimeout:           "check network path to the provider",
	errorsx.KindAdapterDisabled:   "re-enable the adapter once the account is restored",
}

// Severity is the alert's urgency level.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Alert is a single operations alert (spec §7).
type Alert struct {
	Severity          Severity
	TenantID          string
	ProviderID        string
	ErrorKind         errorsx.Kind
	Message           string
	RetryCount        int
	RecommendedAction string
	OccurredAt        time.Time
}

// Publisher delivers an Alert to whatever notification channel backs it
// (Redis pub/sub, Slack, PagerDuty, ...). Implementations must not block
// the caller for long; Notify is called synchronously from the polling
// path.
type Publisher interface {
	Publish(ctx context.Context, a Alert) error
}

// cooldownKey identifies the (tenant, provider, errorKind) suppression
// bucket spec §7 requires.
type cooldownKey struct {
	tenantID   string
	providerID string
	errorKind  errorsx.Kind
}

// Notifier decides whether a failure warrants an alert and, if so,
// publishes it through Publisher, suppressing repeats within Cooldown.
type Notifier struct {
	publisher Publisher
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	lastSent map[cooldownKey]time.Time
}

// Config configures a Notifier. Cooldown defaults to 15 minutes when zero.
type Config struct {
	Cooldown time.Duration
}

// New creates a Notifier publishing through p.
func New(p Publisher, cfg Config) *Notifier {
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &Notifier{
		publisher: p,
		cooldown:  cooldown,
		now:       time.Now,
		lastSent:  make(map[cooldownKey]time.Time),
	}
}

// IsCritical reports whether kind alerts immediately rather than waiting
// for retries to exhaust (spec §7).
func IsCritical(kind errorsx.Kind) bool {
	return criticalKinds[kind]
}

// NotifyRetriesExhausted alerts after retries have been exhausted for a
// transient failure.
func (n *Notifier) NotifyRetriesExhausted(ctx context.Context, tenantID, providerID string, err *errorsx.AdapterError, retryCount int) error {
	return n.notify(ctx, tenantID, providerID, err, retryCount)
}

// NotifyCritical alerts immediately for a critical-kind failure,
// regardless of retry count.
func (n *Notifier) NotifyCritical(ctx context.Context, tenantID, providerID string, err *errorsx.AdapterError) error {
	return n.notify(ctx, tenantID, providerID, err, 0)
}

func (n *Notifier) notify(ctx context.Context, tenantID, providerID string, err *errorsx.AdapterError, retryCount int) error {
	kind := err.ScimErrorKind
	key := cooldownKey{tenantID: tenantID, providerID: providerID, errorKind: kind}
	now := n.now()

	n.mu.Lock()
	if last, ok := n.lastSent[key]; ok && now.Sub(last) < n.cooldown {
		n.mu.Unlock()
		return nil
	}
	n.lastSent[key] = now
	n.mu.Unlock()

	severity := SeverityWarning
	if IsCritical(kind) {
		severity = SeverityCritical
	}

	alert := Alert{
		Severity:          severity,
		TenantID:          tenantID,
		ProviderID:        providerID,
		ErrorKind:         kind,
		Message:           err.Error(),
		RetryCount:        retryCount,
		RecommendedAction: recommendedAction(kind),
		OccurredAt:        now,
	}

	return n.publisher.Publish(ctx, alert)
}

func recommendedAction(kind errorsx.Kind) string {
	if action, ok := recommendedActions[kind]; ok {
		return action
	}
	return fmt.Sprintf("investigate %s failures for this adapter", kind)
}
