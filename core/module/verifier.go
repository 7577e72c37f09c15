package module

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/errors"
)

// Verifier checks package integrity and authenticity before install.
type Verifier struct {
	publicKey     *rsa.PublicKey
	allowUnsigned bool
}

// NewVerifier creates a verifier. With an empty key path and allowUnsigned
// set, signature checks are skipped; with a key configured, every package
// must carry a valid signature.
func NewVerifier(publicKeyPath string, allowUnsigned bool) (*Verifier, error) {
	v := &Verifier{allowUnsigned: allowUnsigned}
	if publicKeyPath != "" {
		if err := v.loadPublicKey(publicKeyPath); err != nil {
			return nil, fmt.Errorf("failed to load public key: %w", err)
		}
	}
	return v, nil
}

func (v *Verifier) loadPublicKey(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read public key file: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return fmt.Errorf("failed to decode PEM block")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("not an RSA public key")
	}
	v.publicKey = rsaPub
	return nil
}

// Checksum returns the hex SHA256 of data.
func Checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)
}

// VerifyPackage checks the payload against the manifest checksum and, when a
// key is configured, the detached signature over the payload.
func (v *Verifier) VerifyPackage(manifest *Manifest, pkg Package) error {
	if manifest.Checksum != "" {
		if actual := Checksum(pkg.Payload); actual != manifest.Checksum {
			return errors.SignatureInvalid(manifest.Name, "package checksum mismatch")
		}
	}

	if v.publicKey == nil {
		if pkg.Signature == "" && !v.allowUnsigned {
			return errors.SignatureInvalid(manifest.Name, "unsigned package rejected")
		}
		return nil
	}

	if pkg.Signature == "" {
		return errors.SignatureInvalid(manifest.Name, "package is not signed")
	}
	sigBytes, err := base64.StdEncoding.DecodeString(pkg.Signature)
	if err != nil {
		return errors.SignatureInvalid(manifest.Name, "failed to decode signature")
	}
	hash := sha256.Sum256(pkg.Payload)
	if err := rsa.VerifyPKCS1v15(v.publicKey, crypto.SHA256, hash[:], sigBytes); err != nil {
		return errors.SignatureInvalid(manifest.Name, "signature verification failed")
	}
	return nil
}
