// Package delegation implements the Delegation Authority Module (DAM):
// minting an intent-bound, single-use, short-lived agent token from a
// confirmed intent and the operator's already-authenticated session.
package delegation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/finllm/gateway/internal/authz"
	"github.com/finllm/gateway/internal/credential"
	"github.com/finllm/gateway/internal/gatewayerr"
	"github.com/finllm/gateway/internal/intent"
)

// LedgerWriter is the one audit.Ledger method this package needs — narrowed
// to an interface, the same way internal/sep does, so the denial-logging
// path doesn't pull in a live Postgres connection for tests. *audit.Ledger
// satisfies this directly.
type LedgerWriter interface {
	Log(ctx context.Context, eventType string, payload map[string]any, correlationID string) (int64, error)
}

// Authority mints delegation tokens. ttl is the delegation token's fixed
// lifetime — deliberately much shorter than a session token's, since a
// delegation token carries standing authorization for one specific action.
// Ledger is optional; when set, an authorization denial at Delegate writes
// a security_fail row (§7: "ledger entry at /auth/delegate").
type Authority struct {
	issuer *credential.Issuer
	ttl    time.Duration
	Ledger LedgerWriter
}

func New(issuer *credential.Issuer, ttl time.Duration) *Authority {
	return &Authority{issuer: issuer, ttl: ttl}
}

// Delegate mints an agent token scoped to confirmedIntent, on behalf of
// subject with userRoles. It re-checks both the intent's own safety
// verdict and the role/action mapping — the operator's session token
// proves who they are, not that the specific intent is now authorized.
func (a *Authority) Delegate(subject string, userRoles []string, confirmedIntent *intent.Response) (string, error) {
	if !confirmedIntent.IsSafe {
		return "", gatewayerr.New(400, gatewayerr.CodeInputRejected, "cannot delegate token for an unsafe intent")
	}

	if !authz.Authorize(confirmedIntent.Action, userRoles) {
		a.logDenial(subject, confirmedIntent.Action)
		return "", gatewayerr.New(403, gatewayerr.CodeAuthorization,
			fmt.Sprintf("your role is not authorized to perform the '%s' action", confirmedIntent.Action))
	}

	target := ""
	if confirmedIntent.Target != nil {
		target = *confirmedIntent.Target
	}
	encodedScope := credential.EncodeScope(confirmedIntent.Action, target)
	roles := append(append([]string{}, userRoles...), credential.ScopeRole(encodedScope))

	token, _, err := a.issuer.Issue(subject, roles, credential.KindDelegation, a.ttl)
	if err != nil {
		return "", gatewayerr.Wrap(500, gatewayerr.CodeInternal, "failed to mint delegation token", err)
	}
	return token, nil
}

// logDenial records a security_fail row for an authorization-denied
// delegation attempt. A nil Ledger (e.g. in unit tests) is a silent no-op.
func (a *Authority) logDenial(subject, action string) {
	if a.Ledger == nil {
		return
	}
	if _, err := a.Ledger.Log(context.Background(), "security_fail", map[string]any{
		"reason":   "operator role not authorized for requested action at delegate",
		"user_sub": subject,
		"action":   action,
	}, ""); err != nil {
		slog.Error("delegation: failed to write denial event to ledger", "error", err)
	}
}
