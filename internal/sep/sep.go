// Package sep implements the Secured Execution Pipeline: the central state
// machine that validates a delegation token and carries an agent action
// through input sanitization, prompt-injection screening, RSA-PSS signing,
// output sanitization, and an audit ledger write — fail-closed at every
// stage, adapted from the original's ExecutionService.execute_secured_query
// trace-driven state machine (services/execution_service.py).
package sep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/finllm/gateway/internal/credential"
	"github.com/finllm/gateway/internal/filter"
	"github.com/finllm/gateway/internal/gatewayerr"
	"github.com/finllm/gateway/internal/signer"
)

// ActionRequest is the body of a POST /agent/execute call.
type ActionRequest struct {
	Action    string `json:"action"`
	AccountID string `json:"account_id"`
	Amount    *int64 `json:"amount"`
}

// Result is the pipeline's successful output.
type Result struct {
	Response string `json:"response"`
	EventID  int64  `json:"event_id"`
	Status   string `json:"status"`
}

// LedgerWriter is the one audit.Ledger method the pipeline needs — narrowed
// to an interface so tests can substitute a fake instead of a live Postgres
// connection. *audit.Ledger satisfies this directly.
type LedgerWriter interface {
	Log(ctx context.Context, eventType string, payload map[string]any, correlationID string) (int64, error)
}

// Pipeline wires together the credential verifier, content filter, signer,
// and audit ledger that every stage of the state machine calls into.
type Pipeline struct {
	Issuer        *credential.Issuer
	SingleUse     credential.SingleUseTracker
	DecodeFailure credential.DecodeFailureCounter
	Filter        *filter.Filter
	Signer        *signer.Signer
	Ledger        LedgerWriter
	Metrics       *Metrics
	DelegationTTL time.Duration
}

// Execute runs S0–S7 (+S1a) of the pipeline for one presented delegation
// token and request body. correlationID and remoteAddr are used only for
// logging/telemetry, never for authorization decisions.
func (p *Pipeline) Execute(ctx context.Context, token string, req ActionRequest, correlationID, remoteAddr string) (*Result, error) {
	start := time.Now()
	eventType := "unknown"
	defer func() {
		p.Metrics.Outcomes.WithLabelValues(eventType).Inc()
		p.Metrics.StageDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	// S1 decode-token
	claims, action, target, err := p.decodeToken(ctx, token, remoteAddr)
	if err != nil {
		// Token-decode failures predate a validated subject and are
		// deliberately not logged to the ledger — see §9 Open Question 3
		// in the design notes. They are observable only via the
		// decode-failure counter incremented inside decodeToken.
		return nil, err
	}

	// S1a cross-check body: the body's action is informational; a mismatch
	// against the token-bound scope is treated as a security failure, not
	// silently ignored (resolved Open Question 1).
	if req.Action != "" && req.Action != action {
		eventType = "security_fail"
		p.logFailSafe(ctx, eventType, map[string]any{
			"reason":   "request body action does not match delegated token scope",
			"user_sub": claims.Subject,
		}, correlationID)
		return nil, gatewayerr.New(400, gatewayerr.CodeScopeMismatch, "request action does not match delegated scope")
	}

	// S2 canonicalize-input
	amountStr := "N/A"
	if req.Amount != nil {
		amountStr = fmt.Sprintf("%d", *req.Amount)
	}
	userInput := fmt.Sprintf("Action:%s Target:%s Amount:%s", action, target, amountStr)

	slog.Info("sep: executing secured query", "user_sub", claims.Subject, "action", action, "target", target, "correlation_id", correlationID)

	// S3 filter-input
	inputResult := p.Filter.InputCheck(userInput)
	injResult := p.Filter.DetectInjection(userInput)
	if inputResult.Status == filter.StatusBlocked {
		eventType = "query_blocked"
		p.logFailSafe(ctx, eventType, map[string]any{"reason": inputResult.Reason, "user_sub": claims.Subject}, correlationID)
		return nil, gatewayerr.New(400, gatewayerr.CodeInputRejected, inputResult.Reason)
	}
	if injResult.Status == filter.StatusBlocked {
		eventType = "query_blocked"
		p.logFailSafe(ctx, eventType, map[string]any{"reason": injResult.Reason, "user_sub": claims.Subject}, correlationID)
		return nil, gatewayerr.New(400, gatewayerr.CodeInputRejected, injResult.Reason)
	}

	maskedInput := inputResult.MaskedInput

	// S4 sign
	sig, err := p.Signer.Sign(maskedInput)
	if err != nil {
		eventType = "security_fail"
		p.logFailSafe(ctx, eventType, map[string]any{"error": err.Error(), "user_sub": claims.Subject}, correlationID)
		return nil, gatewayerr.Wrap(500, gatewayerr.CodeCrypto, "cryptographic signing failed", err)
	}
	verified := p.Signer.Verify(maskedInput, sig)

	// S5 invoke-agent (stubbed FCA)
	agentResponse := fmt.Sprintf("Successfully executed '%s' for user %s on target '%s'. Signed message verified: %t",
		action, claims.Subject, target, verified)

	// S6 filter-output
	outputResult := p.Filter.OutputCheck(agentResponse)
	if outputResult.Status == filter.StatusBlocked {
		eventType = "output_blocked"
		p.logFailSafe(ctx, eventType, map[string]any{"reason": outputResult.Reason, "user_sub": claims.Subject}, correlationID)
		return nil, gatewayerr.New(500, gatewayerr.CodeOutputRejected, outputResult.Reason)
	}

	// S7 audit-success. Uses context.Background(), not the request context,
	// so a client disconnect before this write completes can never cause
	// the ledger to lose the record of an action that already executed.
	eventType = "query_success"
	eventID, err := p.Ledger.Log(context.Background(), eventType, map[string]any{
		"user_sub":         claims.Subject,
		"delegated_action": action,
		"input_original":    userInput,
		"input_masked":      maskedInput,
		"signature_hex":     fmt.Sprintf("%x", sig),
		"atv_verified":      verified,
		"agent_response":    agentResponse,
		"correlation_id":    correlationID,
	}, correlationID)
	if err != nil {
		return nil, gatewayerr.Wrap(500, gatewayerr.CodeLedger, "failed to record audit event", err)
	}

	return &Result{
		Response: agentResponse,
		EventID:  eventID,
		Status:   "Transaction executed and logged successfully.",
	}, nil
}

// decodeToken implements S1: verify the delegation token's signature and
// expiry, extract its scope, and enforce single-use.
func (p *Pipeline) decodeToken(ctx context.Context, token, remoteAddr string) (claims *credential.Claims, action, target string, err error) {
	claims, err = p.Issuer.Verify(token)
	if err != nil {
		p.countDecodeFailure(ctx, remoteAddr)
		return nil, "", "", err
	}
	if claims.Kind != credential.KindDelegation {
		p.countDecodeFailure(ctx, remoteAddr)
		return nil, "", "", gatewayerr.New(401, gatewayerr.CodeAuthentication, "token is not a delegation token")
	}

	action, target, err = credential.ExtractScope(claims.Roles)
	if err != nil {
		p.countDecodeFailure(ctx, remoteAddr)
		return nil, "", "", gatewayerr.Wrap(400, gatewayerr.CodeMalformed, "malformed scope in delegation token", err)
	}

	firstUse, err := p.SingleUse.Redeem(ctx, tokenID(token), p.DelegationTTL)
	if err != nil {
		p.countDecodeFailure(ctx, remoteAddr)
		return nil, "", "", gatewayerr.Wrap(500, gatewayerr.CodeInternal, "failed to check single-use status", err)
	}
	if !firstUse {
		p.countDecodeFailure(ctx, remoteAddr)
		return nil, "", "", gatewayerr.New(401, gatewayerr.CodeAuthentication, "delegation token already used")
	}

	return claims, action, target, nil
}

func (p *Pipeline) countDecodeFailure(ctx context.Context, remoteAddr string) {
	if p.DecodeFailure == nil {
		return
	}
	if _, err := p.DecodeFailure.Increment(ctx, remoteAddr); err != nil {
		slog.Warn("sep: failed to increment decode-failure counter", "error", err)
	}
}

// tokenID derives a stable identity for the single-use tracker from the
// token's own bytes: the whole token when it is at most 128 characters,
// otherwise its last 128 characters. That tail always contains the whole
// HMAC signature segment, and the token is unforgeable (HMAC-signed), so it
// is a sufficient and compact single-use key.
func tokenID(token string) string {
	const maxKeyLen = 128
	if len(token) <= maxKeyLen {
		return token
	}
	return token[len(token)-maxKeyLen:]
}

func (p *Pipeline) logFailSafe(ctx context.Context, eventType string, payload map[string]any, correlationID string) {
	if _, err := p.Ledger.Log(ctx, eventType, payload, correlationID); err != nil {
		slog.Error("sep: failed to write failure event to ledger", "error", err, "event_type", eventType)
	}
}
