package jwtkit

import (
	"context"
	"errors"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	jwxjwt "github.com/lestrrat-go/jwx/v2/jwt"
)

// Verifier validates access tokens issued by AccessTokenIssuer.
type Verifier struct {
	keySet   jwk.Set
	issuer   string
	audience string
	skew     time.Duration
}

// NewVerifier verifies against the public keys of ks. The key set is built
// once; rotate by constructing a new Verifier.
func NewVerifier(ks KeySource, issuer, audience string, skew time.Duration) (*Verifier, error) {
	set, err := KeySetFromSource(ks)
	if err != nil {
		return nil, err
	}
	return &Verifier{keySet: set, issuer: issuer, audience: audience, skew: skew}, nil
}

// Verify checks signature, issuer, audience and validity window and returns
// the token subject.
func (v *Verifier) Verify(ctx context.Context, raw string) (string, error) {
	if raw == "" {
		return "", errors.New("empty token")
	}
	opts := []jwxjwt.ParseOption{
		jwxjwt.WithKeySet(v.keySet),
		jwxjwt.WithValidate(true),
		jwxjwt.WithAcceptableSkew(v.skew),
		jwxjwt.WithContext(ctx),
	}
	if v.issuer != "" {
		opts = append(opts, jwxjwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwxjwt.WithAudience(v.audience))
	}
	tok, err := jwxjwt.ParseString(raw, opts...)
	if err != nil {
		return "", err
	}
	if tok.Subject() == "" {
		return "", errors.New("token has no subject")
	}
	return tok.Subject(), nil
}
