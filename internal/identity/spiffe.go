// Package identity implements Server Identity (SI): optional startup
// self-attestation of this gateway's own SPIFFE ID against the configured
// SERVER_ID, via a local SPIRE Workload API socket. Adapted from the
// teacher's SPIFFEVerifier (originally verifying peer SVIDs) into a
// self-check: on any failure it logs a warning and falls back to the
// static configured identity — it never blocks startup and never changes
// the `auth` claim the rest of the system relies on.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spiffe/go-spiffe/v2/workloadapi"
)

// Attest attempts to fetch this process's own X.509-SVID from socketPath
// within a bounded timeout and compares its SPIFFE ID against serverID. It
// always returns serverID as the identity to use; the bool reports whether
// self-attestation succeeded and matched, purely for logging/metrics.
func Attest(socketPath, serverID string, timeout time.Duration) (identity string, attested bool) {
	if socketPath == "" {
		slog.Info("identity: SPIFFE attestation disabled (no socket configured)", "server_id", serverID)
		return serverID, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	source, err := workloadapi.NewX509Source(ctx, workloadapi.WithClientOptions(workloadapi.WithAddr(socketPath)))
	if err != nil {
		slog.Warn("identity: could not reach SPIRE workload API, falling back to static SERVER_ID", "error", err)
		return serverID, false
	}
	defer source.Close()

	svid, err := source.GetX509SVID()
	if err != nil {
		slog.Warn("identity: failed to fetch own SVID, falling back to static SERVER_ID", "error", err)
		return serverID, false
	}

	fetchedID := svid.ID.String()
	if fetchedID != serverID {
		slog.Warn("identity: SPIFFE ID does not match configured SERVER_ID; using configured value",
			"spiffe_id", fetchedID, "server_id", serverID)
		return serverID, false
	}

	slog.Info("identity: self-attestation confirmed SERVER_ID matches SPIFFE ID", "server_id", serverID)
	return serverID, true
}

// BuildSPIFFEID is a convenience for deployments that want to derive
// SERVER_ID from a trust domain rather than hardcoding it.
func BuildSPIFFEID(trustDomain, serverName string) string {
	return fmt.Sprintf("spiffe://%s/server/%s", trustDomain, serverName)
}
