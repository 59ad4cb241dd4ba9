package signer

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func generateTestKeys(t *testing.T) (privPath, pubPath string) {
	t.Helper()
	dir := t.TempDir()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privPath = filepath.Join(dir, "private_key.pem")
	privBytes := x509.MarshalPKCS1PrivateKey(key)
	require.NoError(t, os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{
		Type: "RSA PRIVATE KEY", Bytes: privBytes,
	}), 0o600))

	pubPath = filepath.Join(dir, "public_key.pem")
	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{
		Type: "PUBLIC KEY", Bytes: pubBytes,
	}), 0o600))

	return privPath, pubPath
}

func TestSignVerify_RoundTrip(t *testing.T) {
	privPath, pubPath := generateTestKeys(t)
	s, err := Load(privPath, pubPath, "")
	require.NoError(t, err)

	msg := "Action:transfer Target:savings account Amount:100"
	sig, err := s.Sign(msg)
	require.NoError(t, err)
	require.True(t, s.Verify(msg, sig))
}

func TestSign_NonDeterministic(t *testing.T) {
	privPath, pubPath := generateTestKeys(t)
	s, err := Load(privPath, pubPath, "")
	require.NoError(t, err)

	msg := "Action:check_balance Target:acct-1 Amount:N/A"
	sig1, err := s.Sign(msg)
	require.NoError(t, err)
	sig2, err := s.Sign(msg)
	require.NoError(t, err)

	require.NotEqual(t, sig1, sig2, "PSS signatures must be non-deterministic")
	require.True(t, s.Verify(msg, sig1))
	require.True(t, s.Verify(msg, sig2))
}

func TestVerify_TamperedMessage(t *testing.T) {
	privPath, pubPath := generateTestKeys(t)
	s, err := Load(privPath, pubPath, "")
	require.NoError(t, err)

	sig, err := s.Sign("original message")
	require.NoError(t, err)
	require.False(t, s.Verify("tampered message", sig))
}

func TestVerify_MalformedSignatureNeverPanics(t *testing.T) {
	privPath, pubPath := generateTestKeys(t)
	s, err := Load(privPath, pubPath, "")
	require.NoError(t, err)

	require.False(t, s.Verify("hello", []byte("not a signature")))
	require.False(t, s.Verify("hello", nil))
}
