package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthorize_TellerCanTransfer(t *testing.T) {
	assert.True(t, Authorize("transfer", []string{"teller"}))
}

func TestAuthorize_AdvisorCannotTransfer(t *testing.T) {
	assert.False(t, Authorize("transfer", []string{"advisor"}))
}

func TestAuthorize_AnyMatchingRoleSucceeds(t *testing.T) {
	assert.True(t, Authorize("check_balance", []string{"guest", "advisor"}))
}

func TestAuthorize_UnknownActionAlwaysDenied(t *testing.T) {
	assert.False(t, Authorize("format_hard_drive", []string{"manager"}))
}

func TestAuthorize_InformationalOpenToMostRoles(t *testing.T) {
	assert.True(t, Authorize("informational", []string{"customer_service"}))
	assert.False(t, Authorize("informational", []string{"audit_reader"}))
}
