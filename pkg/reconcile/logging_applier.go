package reconcile

import (
	"context"
	"log/slog"
)

// LoggingApplier is the default Applier wired at startup. Three-way state
// compares content checksums, not full attribute payloads, so there is no
// generic attribute set this layer can push to an arbitrary adapter;
// applying the actual SCIM PATCH/PUT is provider-specific and lives in the
// component that owns both sides of a sync (not yet built here). Until
// that lands, LoggingApplier records the apply decision so AUTO_APPLY
// reconciliations are observable rather than silently swallowed.
type LoggingApplier struct {
	logger *slog.Logger
}

// NewLoggingApplier creates a LoggingApplier.
func NewLoggingApplier(logger *slog.Logger) *LoggingApplier {
	return &LoggingApplier{logger: logger}
}

// ApplyUpstreamToProvider implements Applier.
func (a *LoggingApplier) ApplyUpstreamToProvider(ctx context.Context, resourceID, upstreamValue string) error {
	a.logger.Info("reconcile: apply upstream to provider", "resourceId", resourceID, "upstreamChecksum", upstreamValue)
	return nil
}

// ApplyProviderToUpstream implements Applier.
func (a *LoggingApplier) ApplyProviderToUpstream(ctx context.Context, resourceID, providerValue string) error {
	a.logger.Info("reconcile: apply provider to upstream", "resourceId", resourceID, "providerChecksum", providerValue)
	return nil
}
