// Package credential implements the two-stage credential lifecycle: operator
// password verification and session token issuance, plus intent-bound
// delegation token minting, in the HMAC-signed bearer format the teacher's
// own token broker uses (internal/security/token_broker.go): a JSON claims
// blob and an HMAC-SHA256 signature, each base64url-encoded and joined with
// a ".".
package credential

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/finllm/gateway/internal/gatewayerr"
)

// Kind distinguishes an operator session token from an agent delegation
// token — the original's is_agent_token flag, made an explicit type here
// instead of a bool so the two can never be silently confused.
type Kind string

const (
	KindSession    Kind = "session"
	KindDelegation Kind = "delegation"
)

// Claims is the payload signed into every token this package issues. Roles
// carries the operator's roles for a session token, or the operator's roles
// plus a synthetic "scope_data=<base64 scope>" entry for a delegation token
// — see EncodeScope.
type Claims struct {
	Subject   string   `json:"sub"`
	Roles     []string `json:"roles"`
	Kind      Kind     `json:"kind"`
	IssuedAt  int64    `json:"iat"`
	ExpiresAt int64    `json:"exp"`
	Issuer    string   `json:"auth"`
}

// Issuer signs and verifies bearer tokens with a single HMAC secret. A
// previous secret may be supplied to honor in-flight tokens across a key
// rotation, mirroring the teacher's token broker grace window.
type Issuer struct {
	secret     []byte
	prevSecret []byte
	graceUntil time.Time
	serverID   string
}

// NewIssuer builds an Issuer. prevSecret and graceUntil may be zero values
// when no rotation is in progress.
func NewIssuer(secret, prevSecret, serverID string, graceUntil time.Time) *Issuer {
	var prev []byte
	if prevSecret != "" {
		prev = []byte(prevSecret)
	}
	return &Issuer{
		secret:     []byte(secret),
		prevSecret: prev,
		graceUntil: graceUntil,
		serverID:   serverID,
	}
}

// Issue mints a token for subject/roles of the given kind, expiring after
// ttl.
func (i *Issuer) Issue(subject string, roles []string, kind Kind, ttl time.Duration) (string, *Claims, error) {
	now := time.Now()
	claims := &Claims{
		Subject:   subject,
		Roles:     roles,
		Kind:      kind,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
		Issuer:    i.serverID,
	}

	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", nil, fmt.Errorf("credential: marshal claims: %w", err)
	}

	sig := i.sign(claimsJSON, i.secret)
	token := base64.RawURLEncoding.EncodeToString(claimsJSON) + "." + base64.RawURLEncoding.EncodeToString(sig)
	return token, claims, nil
}

// Verify checks a token's signature and expiry, returning its claims. The
// current key is tried first, then the previous key during its grace
// window — a token that fails both is rejected outright, never partially
// trusted.
func (i *Issuer) Verify(token string) (*Claims, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return nil, gatewayerr.Unauthorized("malformed token")
	}

	claimsJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, gatewayerr.Unauthorized("malformed token encoding")
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, gatewayerr.Unauthorized("malformed signature encoding")
	}

	valid := hmac.Equal(sig, i.sign(claimsJSON, i.secret))
	if !valid && len(i.prevSecret) > 0 && time.Now().Before(i.graceUntil) {
		valid = hmac.Equal(sig, i.sign(claimsJSON, i.prevSecret))
	}
	if !valid {
		return nil, gatewayerr.Unauthorized("invalid token signature")
	}

	var claims Claims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return nil, gatewayerr.Unauthorized("invalid token claims")
	}
	if time.Now().Unix() > claims.ExpiresAt {
		return nil, gatewayerr.Unauthorized("token expired")
	}
	if claims.Issuer != i.serverID {
		return nil, gatewayerr.Unauthorized("token auth claim mismatch")
	}
	return &claims, nil
}

func (i *Issuer) sign(data, key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// EncodeScope base64url-encodes "action:target" so the delimiter in target
// (an account name, free text) can never be confused with the roles-list
// delimiter it travels alongside — the fix the original auth_service.py
// applied after finding ":" inside targets broke naive splitting.
func EncodeScope(action, target string) string {
	raw := fmt.Sprintf("%s:%s", action, target)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeScope reverses EncodeScope, splitting back into action and target.
func DecodeScope(encoded string) (action, target string, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", fmt.Errorf("credential: decode scope: %w", err)
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("credential: malformed scope %q", raw)
	}
	return parts[0], parts[1], nil
}

// ScopeRole returns the synthetic role entry a delegation token's role list
// carries to smuggle the scope through the shared Claims.Roles shape.
func ScopeRole(encodedScope string) string {
	return "scope_data=" + encodedScope
}

// ExtractScope finds the "scope_data=..." entry in roles and decodes it.
func ExtractScope(roles []string) (action, target string, err error) {
	for _, r := range roles {
		if strings.HasPrefix(r, "scope_data=") {
			return DecodeScope(strings.TrimPrefix(r, "scope_data="))
		}
	}
	return "", "", fmt.Errorf("credential: no scope_data entry in roles")
}
