// Package signer implements the Agent Transaction Verifier (ATV): RSA-PSS
// signing and verification of the canonicalized message the Secured
// Execution Pipeline actually processed.
//
// There is no third-party Go library for RSA-PSS beyond crypto/rsa and
// crypto/sha256 — the teacher repo's own signing code
// (internal/federation/crypto_provider.go) reaches for stdlib crypto/ecdsa
// and crypto/ed25519 directly rather than an external signing package, so
// stdlib here matches house style, not a shortcut.
package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// Signer holds the RSA-2048 keypair loaded once at startup. Both halves are
// process-wide read-only state after Load returns.
type Signer struct {
	private *rsa.PrivateKey
	public  *rsa.PublicKey
}

// Load reads the PEM-encoded private and public keys from disk. The private
// key is PKCS#1 or unencrypted PKCS#8, and may be passphrase-protected in the
// legacy DEK-Info PEM format that cmd/genkeys writes; an "ENCRYPTED PRIVATE
// KEY" (encrypted PKCS#8) block is not supported. Any failure here is meant
// to abort the process: a gateway that cannot sign cannot run.
func Load(privatePath, publicPath, passphrase string) (*Signer, error) {
	priv, err := loadPrivateKey(privatePath, passphrase)
	if err != nil {
		return nil, fmt.Errorf("signer: load private key: %w", err)
	}
	pub, err := loadPublicKey(publicPath)
	if err != nil {
		return nil, fmt.Errorf("signer: load public key: %w", err)
	}
	return &Signer{private: priv, public: pub}, nil
}

func loadPrivateKey(path, passphrase string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}

	der := block.Bytes
	if x509.IsEncryptedPEMBlock(block) {
		//nolint:staticcheck // x509.DecryptPEMBlock is deprecated but is the
		// only stdlib path for the legacy DEK-Info encrypted PEM format
		// cmd/genkeys writes (OpenSSL "traditional" format, per §6).
		der, err = x509.DecryptPEMBlock(block, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("decrypt private key: %w", err)
		}
	}

	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return key, nil
}

func loadPublicKey(path string) (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	return key, nil
}

var pssOpts = &rsa.PSSOptions{
	SaltLength: rsa.PSSSaltLengthAuto, // max permitted for the key size, per §4.2
	Hash:       crypto.SHA256,
}

// Sign produces an RSA-PSS/SHA-256 signature over the UTF-8 bytes of
// message. PSS salts are random, so repeated calls with the same message
// produce distinct signatures — all of which verify.
func (s *Signer) Sign(message string) ([]byte, error) {
	digest := sha256.Sum256([]byte(message))
	sig, err := rsa.SignPSS(rand.Reader, s.private, crypto.SHA256, digest[:], pssOpts)
	if err != nil {
		return nil, fmt.Errorf("signer: sign: %w", err)
	}
	return sig, nil
}

// Verify checks a signature against message, returning false (never an
// error) on any mismatch or malformed input — callers must not be able to
// distinguish "bad signature" from "corrupt signature" by error inspection.
func (s *Signer) Verify(message string, signature []byte) bool {
	digest := sha256.Sum256([]byte(message))
	err := rsa.VerifyPSS(s.public, crypto.SHA256, digest[:], signature, pssOpts)
	return err == nil
}
