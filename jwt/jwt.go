package jwtkit

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Signer issues asymmetric JWTs.
type Signer interface {
	// Algorithm returns the JWS algorithm (e.g., RS256).
	Algorithm() string
	// KID returns current key id.
	KID() string
	// Sign creates a signed JWT with provided claims.
	Sign(ctx context.Context, claims jwt.MapClaims) (token string, err error)
}

// RSASigner signs with an in-memory RSA key. Production keys are loaded by
// NewAutoKeySource from env or a mounted keys.json.
type RSASigner struct {
	key *rsa.PrivateKey
	kid string
}

func NewRSASigner(bits int, kid string) (*RSASigner, error) {
	if bits == 0 {
		bits = 2048
	}
	k, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}
	return &RSASigner{key: k, kid: kid}, nil
}

func (s *RSASigner) Algorithm() string           { return jwt.SigningMethodRS256.Alg() }
func (s *RSASigner) KID() string                 { return s.kid }
func (s *RSASigner) PublicKey() *rsa.PublicKey   { return &s.key.PublicKey }
func (s *RSASigner) PrivateKey() *rsa.PrivateKey { return s.key }

func (s *RSASigner) Sign(_ context.Context, claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.kid
	return token.SignedString(s.key)
}

// NewRSASignerFromPEM constructs an RSASigner from a PKCS#1 or PKCS#8 PEM key.
func NewRSASignerFromPEM(kid string, pemBytes []byte) (*RSASigner, error) {
	if len(pemBytes) == 0 {
		return nil, errors.New("empty RSA private key pem")
	}
	blk, _ := pem.Decode(pemBytes)
	if blk == nil {
		return nil, errors.New("failed to decode RSA private key pem")
	}
	if blk.Type == "RSA PRIVATE KEY" {
		parsed, err := x509.ParsePKCS1PrivateKey(blk.Bytes)
		if err != nil {
			return nil, err
		}
		return &RSASigner{key: parsed, kid: kid}, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(blk.Bytes)
	if err != nil {
		return nil, err
	}
	parsed, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("pkcs8 key is not RSA private key")
	}
	return &RSASigner{key: parsed, kid: kid}, nil
}

// AccessTokenIssuer mints the bearer tokens handed out after a wallet sign-in.
// The subject is the wallet address.
type AccessTokenIssuer struct {
	Keys     KeySource
	Issuer   string
	Audience string
	TTL      time.Duration
}

// Issue returns a signed token for subject and its expiry.
func (i AccessTokenIssuer) Issue(ctx context.Context, subject string) (string, time.Time, error) {
	if i.Keys == nil || i.Keys.ActiveSigner() == nil {
		return "", time.Time{}, errors.New("no active signing key")
	}
	ttl := i.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub": subject,
		"iss": i.Issuer,
		"aud": i.Audience,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	}
	tok, err := i.Keys.ActiveSigner().Sign(ctx, claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return tok, exp, nil
}
