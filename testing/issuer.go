// Package testing provides helpers for exercising receiptkit without real
// wallets or key material: an access token issuer with a matching verifier,
// and ed25519 wallets that produce Bearer and SIWS credentials.
//
// Example usage:
//
//	issuer := receiptkittest.NewTestIssuer()
//	defer issuer.Close()
//
//	owner := receiptkittest.NewWallet()
//	cred := issuer.BearerCredential(owner.Address())
package testing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/PaulFidika/receiptkit/core"
	"github.com/PaulFidika/receiptkit/credential"
	jwtkit "github.com/PaulFidika/receiptkit/jwt"
	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	DefaultIssuer   = "receiptkit-test"
	DefaultAudience = "receiptkit"
)

// TestIssuer signs access tokens and serves its JWKS at
// /.well-known/jwks.json on a local test server.
type TestIssuer struct {
	server *httptest.Server
	keys   jwtkit.StaticKeySource
	tokens jwtkit.AccessTokenIssuer
}

func NewTestIssuer() *TestIssuer {
	signer, err := jwtkit.NewRSASigner(2048, "test-key-1")
	if err != nil {
		panic("failed to create RSA signer: " + err.Error())
	}
	keys := jwtkit.NewStaticKeySource(signer)
	ti := &TestIssuer{
		keys:   keys,
		tokens: jwtkit.AccessTokenIssuer{Keys: keys, Issuer: DefaultIssuer, Audience: DefaultAudience, TTL: time.Hour},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		jwtkit.ServeJWKS(w, r, jwtkit.JWKSFromSource(ti.keys))
	})
	ti.server = httptest.NewServer(mux)
	return ti
}

func (ti *TestIssuer) URL() string { return ti.server.URL }

func (ti *TestIssuer) Close() {
	if ti.server != nil {
		ti.server.Close()
	}
}

// Keys returns the signing keys, for wiring a server under test.
func (ti *TestIssuer) Keys() jwtkit.KeySource { return ti.keys }

// Tokens returns the access token issuer used by SIWS logins.
func (ti *TestIssuer) Tokens() jwtkit.AccessTokenIssuer { return ti.tokens }

// Verifier returns a verifier that accepts tokens from this issuer.
func (ti *TestIssuer) Verifier() *jwtkit.Verifier {
	v, err := jwtkit.NewVerifier(ti.keys, DefaultIssuer, DefaultAudience, time.Minute)
	if err != nil {
		panic("failed to build verifier: " + err.Error())
	}
	return v
}

// CreateToken returns a valid access token for subject.
func (ti *TestIssuer) CreateToken(subject string) string {
	tok, _, err := ti.tokens.Issue(context.Background(), subject)
	if err != nil {
		panic("failed to sign token: " + err.Error())
	}
	return tok
}

// CreateExpiredToken returns a token whose exp is an hour in the past.
func (ti *TestIssuer) CreateExpiredToken(subject string) string {
	now := time.Now()
	tok, err := ti.keys.ActiveSigner().Sign(context.Background(), jwt.MapClaims{
		"sub": subject,
		"iss": DefaultIssuer,
		"aud": DefaultAudience,
		"iat": now.Add(-2 * time.Hour).Unix(),
		"exp": now.Add(-time.Hour).Unix(),
	})
	if err != nil {
		panic("failed to sign token: " + err.Error())
	}
	return tok
}

// BearerCredential returns a core credential carrying a fresh token.
func (ti *TestIssuer) BearerCredential(subject string) core.Credential {
	return core.Credential{Scheme: credential.SchemeBearer, Value: ti.CreateToken(subject)}
}

// AuthorizationHeader returns "Bearer <token>" for subject.
func (ti *TestIssuer) AuthorizationHeader(subject string) string {
	return credential.SchemeBearer + " " + ti.CreateToken(subject)
}
