package operator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecord_RolesJoinRoundTrip(t *testing.T) {
	roles := []string{"teller", "advisor"}
	joined := strings.Join(roles, ",")
	assert.Equal(t, roles, strings.Split(joined, ","))
}
