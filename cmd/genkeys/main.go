// Command genkeys generates the RSA-2048 keypair the Crypto Signer loads at
// startup, matching the original's scripts/generate_keys.py: PKCS#1
// "traditional" PEM for the private key (optionally passphrase-encrypted),
// PKIX PEM for the public key.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"log"
	"os"
	"path/filepath"
)

func main() {
	outdir := flag.String("outdir", "keys", "directory to write private_key.pem and public_key.pem into")
	passphrase := flag.String("passphrase", "", "optional passphrase to encrypt the private key with")
	flag.Parse()

	if err := os.MkdirAll(*outdir, 0o755); err != nil {
		log.Fatalf("genkeys: create %s: %v", *outdir, err)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		log.Fatalf("genkeys: generate key: %v", err)
	}

	privPath := filepath.Join(*outdir, "private_key.pem")
	pubPath := filepath.Join(*outdir, "public_key.pem")

	if err := writePrivateKey(privPath, key, *passphrase); err != nil {
		log.Fatalf("genkeys: write private key: %v", err)
	}
	if err := writePublicKey(pubPath, &key.PublicKey); err != nil {
		log.Fatalf("genkeys: write public key: %v", err)
	}

	log.Printf("genkeys: generated keys: %s, %s", privPath, pubPath)
}

func writePrivateKey(path string, key *rsa.PrivateKey, passphrase string) error {
	der := x509.MarshalPKCS1PrivateKey(key)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}

	if passphrase != "" {
		//nolint:staticcheck // x509.EncryptPEMBlock is deprecated but is the
		// only stdlib path for the legacy DEK-Info encrypted PEM format
		// signer.Load knows how to read.
		encrypted, err := x509.EncryptPEMBlock(rand.Reader, block.Type, der, []byte(passphrase), x509.PEMCipherAES256)
		if err != nil {
			return err
		}
		block = encrypted
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return pem.Encode(f, block)
}

func writePublicKey(path string, key *rsa.PublicKey) error {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return pem.Encode(f, &pem.Block{Type: "PUBLIC KEY", Bytes: der})
}
