package receipthttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwtkit "github.com/PaulFidika/receiptkit/jwt"
	memorystore "github.com/PaulFidika/receiptkit/storage/memory"
)

func TestJWKSHandler(t *testing.T) {
	signer, err := jwtkit.NewRSASigner(2048, "kid-1")
	if err != nil {
		t.Fatal(err)
	}
	w := httptest.NewRecorder()
	JWKSHandler(jwtkit.NewStaticKeySource(signer)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var ks jwtkit.JWKS
	if err := json.Unmarshal(w.Body.Bytes(), &ks); err != nil {
		t.Fatal(err)
	}
	if len(ks.Keys) != 1 || ks.Keys[0].Kid != "kid-1" {
		t.Fatalf("unexpected keys %+v", ks.Keys)
	}
}

func TestNewChallengeCache_MemoryWithoutRedis(t *testing.T) {
	c := NewChallengeCache(nil, time.Minute)
	mc, ok := c.(*memorystore.SIWSCache)
	if !ok {
		t.Fatalf("expected memory cache, got %T", c)
	}
	_ = mc.Close()
}
