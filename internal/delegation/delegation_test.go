package delegation

import (
	"context"
	"testing"
	"time"

	"github.com/finllm/gateway/internal/credential"
	"github.com/finllm/gateway/internal/intent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

type fakeLedger struct {
	events []string
}

func (f *fakeLedger) Log(_ context.Context, eventType string, _ map[string]any, _ string) (int64, error) {
	f.events = append(f.events, eventType)
	return int64(len(f.events)), nil
}

func TestDelegate_SafeAuthorizedIntent(t *testing.T) {
	issuer := credential.NewIssuer("secret", "", "srv", time.Time{})
	authority := New(issuer, 2*time.Minute)

	resp := &intent.Response{
		Action: "transfer",
		Target: strPtr("savings account"),
		IsSafe: true,
	}

	token, err := authority.Delegate("alice", []string{"teller"}, resp)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, credential.KindDelegation, claims.Kind)

	action, target, err := credential.ExtractScope(claims.Roles)
	require.NoError(t, err)
	assert.Equal(t, "transfer", action)
	assert.Equal(t, "savings account", target)
}

func TestDelegate_UnsafeIntentRejected(t *testing.T) {
	issuer := credential.NewIssuer("secret", "", "srv", time.Time{})
	authority := New(issuer, 2*time.Minute)

	resp := &intent.Response{Action: "transfer", IsSafe: false}

	_, err := authority.Delegate("alice", []string{"teller"}, resp)
	require.Error(t, err)
}

func TestDelegate_UnauthorizedRoleRejected(t *testing.T) {
	issuer := credential.NewIssuer("secret", "", "srv", time.Time{})
	authority := New(issuer, 2*time.Minute)

	resp := &intent.Response{Action: "transfer", IsSafe: true}

	_, err := authority.Delegate("alice", []string{"advisor"}, resp)
	require.Error(t, err)
}

// §7: an authorization denial at /auth/delegate writes a ledger row.
func TestDelegate_UnauthorizedRoleLogsDenial(t *testing.T) {
	issuer := credential.NewIssuer("secret", "", "srv", time.Time{})
	authority := New(issuer, 2*time.Minute)
	ledger := &fakeLedger{}
	authority.Ledger = ledger

	resp := &intent.Response{Action: "transfer", IsSafe: true}

	_, err := authority.Delegate("alice", []string{"advisor"}, resp)
	require.Error(t, err)
	require.Len(t, ledger.events, 1)
	assert.Equal(t, "security_fail", ledger.events[0])
}
