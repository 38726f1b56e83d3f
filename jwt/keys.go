package jwtkit

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultKeysPath is where External Secrets mounts token signing keys.
	DefaultKeysPath = "/vault/receiptkit"

	EnvActiveKeyID      = "RECEIPTKIT_ACTIVE_KEY_ID"
	EnvActivePrivateKey = "RECEIPTKIT_ACTIVE_PRIVATE_KEY_PEM"
	EnvPublicKeys       = "RECEIPTKIT_PUBLIC_KEYS"

	defaultKeysDir = ".runtime/receiptkit"
	privateKeyFile = "private.pem"
	keyIDFile      = "kid"
)

// KeySource provides the active signer and public keys for JWKS.
type KeySource interface {
	ActiveSigner() Signer
	PublicKeys() map[string]*rsa.PublicKey
}

// StaticKeySource is a simple in-memory implementation.
type StaticKeySource struct {
	Active Signer
	Pubs   map[string]*rsa.PublicKey
}

func (s StaticKeySource) ActiveSigner() Signer                  { return s.Active }
func (s StaticKeySource) PublicKeys() map[string]*rsa.PublicKey { return s.Pubs }

// NewStaticKeySource publishes only the signer's own public key.
func NewStaticKeySource(signer *RSASigner) StaticKeySource {
	return StaticKeySource{
		Active: signer,
		Pubs:   map[string]*rsa.PublicKey{signer.KID(): signer.PublicKey()},
	}
}

// keyMaterial is the common shape of env and keys.json key provisioning.
type keyMaterial struct {
	ActiveKeyID         string            `json:"active_key_id"`
	ActivePrivateKeyPEM string            `json:"active_private_key_pem"`
	PublicKeys          map[string]string `json:"public_keys"`
}

func (m keyMaterial) build(log logrus.FieldLogger) (KeySource, error) {
	if m.ActiveKeyID == "" {
		return nil, errors.New("missing active key id")
	}
	if m.ActivePrivateKeyPEM == "" {
		return nil, errors.New("missing active private key")
	}
	signer, err := NewRSASignerFromPEM(m.ActiveKeyID, []byte(m.ActivePrivateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("parse active private key: %w", err)
	}
	ks := NewStaticKeySource(signer)
	for kid, pemStr := range m.PublicKeys {
		pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemStr))
		if err != nil {
			// Retired keys that fail to parse are skipped, not fatal.
			log.WithError(err).WithField("kid", kid).Warn("skipping unparseable public key")
			continue
		}
		ks.Pubs[kid] = pub
	}
	return ks, nil
}

// NewAutoKeySource discovers token signing keys, highest priority first:
//  1. RECEIPTKIT_ACTIVE_KEY_ID / RECEIPTKIT_ACTIVE_PRIVATE_KEY_PEM / RECEIPTKIT_PUBLIC_KEYS
//  2. keysPath/keys.json (DefaultKeysPath when empty)
//  3. a generated key persisted under .runtime/receiptkit (refused in production)
func NewAutoKeySource(keysPath string, log logrus.FieldLogger) (KeySource, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if ks, err := loadFromEnv(log); err != nil {
		return nil, fmt.Errorf("failed to load keys from environment variables: %w", err)
	} else if ks != nil {
		return ks, nil
	}

	if keysPath == "" {
		keysPath = DefaultKeysPath
	}
	if ks, err := loadFromFile(filepath.Join(keysPath, "keys.json"), log); err != nil {
		return nil, fmt.Errorf("failed to load keys from %s: %w", keysPath, err)
	} else if ks != nil {
		return ks, nil
	}

	if IsProdEnv() {
		return nil, fmt.Errorf("no signing keys in env or %s and key generation is disabled in production", keysPath)
	}
	log.Warn("no signing keys provisioned; using generated development key")
	return NewGeneratedKeySource(log)
}

func loadFromEnv(log logrus.FieldLogger) (KeySource, error) {
	m := keyMaterial{
		ActiveKeyID:         strings.TrimSpace(os.Getenv(EnvActiveKeyID)),
		ActivePrivateKeyPEM: strings.TrimSpace(os.Getenv(EnvActivePrivateKey)),
	}
	if m.ActiveKeyID == "" && m.ActivePrivateKeyPEM == "" {
		return nil, nil
	}
	if raw := strings.TrimSpace(os.Getenv(EnvPublicKeys)); raw != "" {
		if err := json.Unmarshal([]byte(raw), &m.PublicKeys); err != nil {
			return nil, fmt.Errorf("failed to parse %s JSON: %w", EnvPublicKeys, err)
		}
	}
	return m.build(log)
}

func loadFromFile(path string, log logrus.FieldLogger) (KeySource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read keys.json: %w", err)
	}
	var m keyMaterial
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse keys.json: %w", err)
	}
	return m.build(log)
}

// NewGeneratedKeySource reuses the key persisted under .runtime/receiptkit or
// generates and persists a new one. Development only.
func NewGeneratedKeySource(log logrus.FieldLogger) (KeySource, error) {
	keyPath := filepath.Join(defaultKeysDir, privateKeyFile)
	if pemBytes, err := os.ReadFile(keyPath); err == nil {
		kid := "dev"
		if b, err := os.ReadFile(filepath.Join(defaultKeysDir, keyIDFile)); err == nil && strings.TrimSpace(string(b)) != "" {
			kid = strings.TrimSpace(string(b))
		}
		if signer, err := NewRSASignerFromPEM(kid, pemBytes); err == nil {
			return NewStaticKeySource(signer), nil
		}
	}

	kid := fmt.Sprintf("dev-%d", time.Now().Unix())
	signer, err := NewRSASigner(2048, kid)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	if err := persistKey(signer); err != nil && log != nil {
		log.WithError(err).Warn("failed to persist development signing key")
	}
	return NewStaticKeySource(signer), nil
}

func persistKey(signer *RSASigner) error {
	if err := os.MkdirAll(defaultKeysDir, 0o700); err != nil {
		return fmt.Errorf("create keys directory: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(signer.PrivateKey()),
	})
	if err := os.WriteFile(filepath.Join(defaultKeysDir, privateKeyFile), privPEM, 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(defaultKeysDir, keyIDFile), []byte(signer.KID()), 0o600); err != nil {
		return fmt.Errorf("write key ID: %w", err)
	}
	return nil
}

// IsProdEnv reports whether ENV, APP_ENV or ENVIRONMENT names production.
func IsProdEnv() bool {
	for _, k := range []string{"ENV", "APP_ENV", "ENVIRONMENT"} {
		if v := strings.ToLower(strings.TrimSpace(os.Getenv(k))); v != "" {
			return v == "production" || v == "prod"
		}
	}
	return false
}
