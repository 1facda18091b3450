package payload

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/hpungsan/qrform/internal/errors"
)

// KeySource supplies the PEM encoded public key used for sealing.
type KeySource interface {
	FetchPublicKey(ctx context.Context) (string, error)
}

// StaticKey is a KeySource backed by a key already in hand.
type StaticKey string

// FetchPublicKey returns the key itself.
func (k StaticKey) FetchPublicKey(context.Context) (string, error) {
	if strings.TrimSpace(string(k)) == "" {
		return "", errors.NewKeyUnavailable(fmt.Errorf("empty public key"))
	}
	return string(k), nil
}

// Sealer fetches a public key and encrypts gated payloads with it.
type Sealer struct {
	Keys KeySource
}

// Seal encrypts the base64 payload. Key fetch failures keep their own code
// (KEY_UNAVAILABLE or TIMEOUT); everything after the fetch is ENCRYPT_FAILED.
func (s *Sealer) Seal(ctx context.Context, encoded string) (string, error) {
	if s.Keys == nil {
		return "", errors.NewKeyUnavailable(fmt.Errorf("no key source configured"))
	}
	pemText, err := s.Keys.FetchPublicKey(ctx)
	if err != nil {
		if qErr := errors.As(err); qErr.Code == errors.ErrInternal {
			return "", errors.NewKeyUnavailable(err)
		}
		return "", err
	}
	pub, err := ParsePublicKey(pemText)
	if err != nil {
		return "", err
	}
	return Encrypt(pub, encoded)
}

// ParsePublicKey accepts a PKIX "PUBLIC KEY" or PKCS#1 "RSA PUBLIC KEY" PEM
// block, or the bare base64 body of a PKIX key.
func ParsePublicKey(text string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(text)))
	if block == nil {
		der, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(text), ""))
		if err != nil {
			return nil, errors.NewEncryptFailed(fmt.Errorf("public key is not PEM encoded"))
		}
		block = &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	}

	switch block.Type {
	case "RSA PUBLIC KEY":
		pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, errors.NewEncryptFailed(fmt.Errorf("parse public key: %w", err))
		}
		return pub, nil
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, errors.NewEncryptFailed(fmt.Errorf("parse public key: %w", err))
		}
		pub, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, errors.NewEncryptFailed(fmt.Errorf("public key is %T, not RSA", key))
		}
		return pub, nil
	}
	return nil, errors.NewEncryptFailed(fmt.Errorf("unsupported PEM block %q", block.Type))
}

// MaxPlaintext is the largest message pub can encrypt with PKCS#1 v1.5.
func MaxPlaintext(pub *rsa.PublicKey) int {
	return pub.Size() - 11
}

// Encrypt encrypts payload with RSA PKCS#1 v1.5 and returns the ciphertext
// as standard base64.
func Encrypt(pub *rsa.PublicKey, payload string) (string, error) {
	if len(payload) > MaxPlaintext(pub) {
		return "", errors.NewEncryptFailed(fmt.Errorf("payload of %d bytes exceeds the key's %d byte block", len(payload), MaxPlaintext(pub)))
	}
	ct, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(payload))
	if err != nil {
		return "", errors.NewEncryptFailed(err)
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// ParsePrivateKey accepts PKCS#1 "RSA PRIVATE KEY" or PKCS#8 "PRIVATE KEY" PEM.
func ParsePrivateKey(text string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(text)))
	if block == nil {
		return nil, fmt.Errorf("private key is not PEM encoded")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		priv, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is %T, not RSA", key)
		}
		return priv, nil
	}
	return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
}

// Decrypt reverses Encrypt.
func Decrypt(priv *rsa.PrivateKey, sealed string) (string, error) {
	ct, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sealed))
	if err != nil {
		return "", fmt.Errorf("sealed payload is not base64: %w", err)
	}
	pt, err := rsa.DecryptPKCS1v15(rand.Reader, priv, ct)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(pt), nil
}
