package jwtkit

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func newTestKeys(t *testing.T) StaticKeySource {
	t.Helper()
	signer, err := NewRSASigner(2048, "test-key")
	if err != nil {
		t.Fatalf("NewRSASigner: %v", err)
	}
	return NewStaticKeySource(signer)
}

func TestIssueAndVerify(t *testing.T) {
	keys := newTestKeys(t)
	iss := AccessTokenIssuer{Keys: keys, Issuer: "receiptkit", Audience: "receipts", TTL: time.Minute}
	tok, exp, err := iss.Issue(context.Background(), "wallet-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expiry in the past: %v", exp)
	}

	v, err := NewVerifier(keys, "receiptkit", "receipts", 0)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	sub, err := v.Verify(context.Background(), tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if sub != "wallet-1" {
		t.Fatalf("expected subject wallet-1, got %q", sub)
	}
}

func TestVerifyRejects(t *testing.T) {
	keys := newTestKeys(t)
	v, err := NewVerifier(keys, "receiptkit", "receipts", 0)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	ctx := context.Background()

	wrongAud := AccessTokenIssuer{Keys: keys, Issuer: "receiptkit", Audience: "other"}
	tok, _, _ := wrongAud.Issue(ctx, "wallet-1")
	if _, err := v.Verify(ctx, tok); err == nil {
		t.Error("token with wrong audience accepted")
	}

	foreign := newTestKeys(t)
	foreignIss := AccessTokenIssuer{Keys: foreign, Issuer: "receiptkit", Audience: "receipts"}
	tok, _, _ = foreignIss.Issue(ctx, "wallet-1")
	if _, err := v.Verify(ctx, tok); err == nil {
		t.Error("token signed by unknown key accepted")
	}

	expired, err := keys.ActiveSigner().Sign(ctx, jwt.MapClaims{
		"sub": "wallet-1",
		"iss": "receiptkit",
		"aud": "receipts",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := v.Verify(ctx, expired); err == nil {
		t.Error("expired token accepted")
	}

	if _, err := v.Verify(ctx, ""); err == nil {
		t.Error("empty token accepted")
	}
}

func TestNewRSASignerFromPEM(t *testing.T) {
	orig, err := NewRSASigner(2048, "k1")
	if err != nil {
		t.Fatalf("NewRSASigner: %v", err)
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(orig.PrivateKey())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for name, blk := range map[string]*pem.Block{
		"pkcs1": {Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(orig.PrivateKey())},
		"pkcs8": {Type: "PRIVATE KEY", Bytes: pkcs8},
	} {
		s, err := NewRSASignerFromPEM("k1", pem.EncodeToMemory(blk))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !s.PublicKey().Equal(orig.PublicKey()) {
			t.Errorf("%s: public key mismatch", name)
		}
	}
	if _, err := NewRSASignerFromPEM("k1", nil); err == nil {
		t.Error("empty pem accepted")
	}
}

func TestServeJWKS_ETag(t *testing.T) {
	ks := JWKSFromSource(newTestKeys(t))
	if len(ks.Keys) != 1 || ks.Keys[0].Kid != "test-key" {
		t.Fatalf("unexpected jwks: %+v", ks)
	}

	w := httptest.NewRecorder()
	ServeJWKS(w, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil), ks)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	etag := w.Header().Get("ETag")

	req := httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil)
	req.Header.Set("If-None-Match", etag)
	w2 := httptest.NewRecorder()
	ServeJWKS(w2, req, ks)
	if w2.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", w2.Code)
	}
}

func TestNewAutoKeySource_Env(t *testing.T) {
	signer, err := NewRSASigner(2048, "env-key")
	if err != nil {
		t.Fatalf("NewRSASigner: %v", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(signer.PrivateKey())})
	t.Setenv(EnvActiveKeyID, "env-key")
	t.Setenv(EnvActivePrivateKey, string(privPEM))
	t.Setenv(EnvPublicKeys, `{"retired":"not a pem"}`)

	ks, err := NewAutoKeySource(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewAutoKeySource: %v", err)
	}
	if ks.ActiveSigner().KID() != "env-key" {
		t.Fatalf("expected env-key, got %s", ks.ActiveSigner().KID())
	}
	if len(ks.PublicKeys()) != 1 {
		t.Fatalf("expected unparseable retired key to be skipped, got %d keys", len(ks.PublicKeys()))
	}
}

func TestNewAutoKeySource_ProductionRefusesGeneration(t *testing.T) {
	t.Setenv(EnvActiveKeyID, "")
	t.Setenv(EnvActivePrivateKey, "")
	t.Setenv("ENV", "production")
	if _, err := NewAutoKeySource(t.TempDir(), nil); err == nil {
		t.Fatal("expected error in production without keys")
	}
}
