package receiptgin_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	receiptgin "github.com/PaulFidika/receiptkit/adapters/gin"
	"github.com/PaulFidika/receiptkit/audit"
	"github.com/PaulFidika/receiptkit/core"
	"github.com/PaulFidika/receiptkit/credential"
	prelocal "github.com/PaulFidika/receiptkit/pre/local"
	"github.com/PaulFidika/receiptkit/ratelimit"
	memorylimiter "github.com/PaulFidika/receiptkit/ratelimit/memory"
	memorystore "github.com/PaulFidika/receiptkit/storage/memory"
	receiptkittest "github.com/PaulFidika/receiptkit/testing"
	"github.com/gin-gonic/gin"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	srv    *httptest.Server
	issuer *receiptkittest.TestIssuer
	owner  *receiptkittest.Wallet
	events *audit.MemorySink
	siws   *credential.SIWSService
}

type harnessOpts struct {
	pre     core.ReEncrypter
	limiter *memorylimiter.Limiter
}

func newHarness(t *testing.T, o harnessOpts) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, _ := logtest.NewNullLogger()

	network, err := prelocal.NewRandom()
	require.NoError(t, err)
	var pre core.ReEncrypter = network
	if o.pre != nil {
		pre = o.pre
	}

	issuer := receiptkittest.NewTestIssuer()
	t.Cleanup(issuer.Close)
	owner := receiptkittest.NewWallet()

	receipts := memorystore.NewReceiptStore()
	keyRef := prelocal.ReceiptKeyRef(owner.Address(), "R1")
	ct, err := network.Seal(keyRef, []byte("flat white 4.20"))
	require.NoError(t, err)
	require.NoError(t, receipts.Put(context.Background(), memorystore.Receipt{
		ID: "R1", OwnerID: owner.Address(), OwnerKeyRef: keyRef, Ciphertext: ct,
	}))

	cache := memorystore.NewSIWSCache(time.Minute)
	t.Cleanup(func() { _ = cache.Close() })
	siwsSvc, err := credential.NewSIWSService(credential.SIWSConfig{Domain: "receipts.test"}, cache, issuer.Tokens(), log)
	require.NoError(t, err)

	events := audit.NewMemorySink(0)
	svc, err := core.NewService(core.Config{
		Policies: memorystore.NewPolicyStore(),
		Receipts: receipts,
		PRE:      pre,
		Auth:     credential.NewAuthenticator(issuer.Verifier(), siwsSvc),
		Events:   events,
		Logger:   log,
	})
	require.NoError(t, err)

	opts := receiptgin.Options{Service: svc, SIWS: siwsSvc, Keys: issuer.Keys(), Logger: log}
	if o.limiter != nil {
		opts.RateLimiter = o.limiter
	}
	engine, err := receiptgin.NewEngine(opts)
	require.NoError(t, err)
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)

	return &harness{srv: srv, issuer: issuer, owner: owner, events: events, siws: siwsSvc}
}

func (h *harness) do(t *testing.T, method, path, auth string, body any) (int, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (h *harness) bearer(w *receiptkittest.Wallet) string {
	return h.issuer.AuthorizationHeader(w.Address())
}

func TestAPI_GrantDecryptRevoke(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	grantee := receiptkittest.NewWallet()
	stranger := receiptkittest.NewWallet()

	code, body := h.do(t, http.MethodPost, "/policies", h.bearer(h.owner), map[string]any{
		"resourceId": "R1", "granteeId": grantee.Address(), "durationDays": 7,
	})
	require.Equal(t, http.StatusCreated, code, body)
	policyID, _ := body["policyId"].(string)
	require.NotEmpty(t, policyID)
	assert.NotNil(t, body["expiresAt"])

	code, body = h.do(t, http.MethodPost, "/policies/decrypt", h.bearer(grantee), map[string]any{"resourceId": "R1"})
	require.Equal(t, http.StatusOK, code, body)
	pt, err := base64.StdEncoding.DecodeString(body["plaintext"].(string))
	require.NoError(t, err)
	assert.Equal(t, "flat white 4.20", string(pt))

	code, body = h.do(t, http.MethodPost, "/policies/decrypt", h.bearer(stranger), map[string]any{"resourceId": "R1"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "NoAccess", body["error"])

	code, body = h.do(t, http.MethodPost, "/policies/decrypt", "", map[string]any{"resourceId": "R1"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Unauthorized", body["error"])

	code, _ = h.do(t, http.MethodDelete, "/policies/"+policyID, h.bearer(stranger), nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = h.do(t, http.MethodDelete, "/policies/"+policyID, h.bearer(h.owner), nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = h.do(t, http.MethodDelete, "/policies/"+policyID, h.bearer(h.owner), nil)
	assert.Equal(t, http.StatusNoContent, code, "double revoke is a no-op")

	code, body = h.do(t, http.MethodPost, "/policies/decrypt", h.bearer(grantee), map[string]any{"resourceId": "R1"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "NoAccess", body["error"])

	code, body = h.do(t, http.MethodGet, "/policies?resourceId=R1", h.bearer(h.owner), nil)
	require.Equal(t, http.StatusOK, code)
	data := body["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "revoked", data[0].(map[string]any)["status"])

	code, body = h.do(t, http.MethodGet, "/policies/"+policyID, h.bearer(h.owner), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, policyID, body["policyId"])

	assert.Len(t, h.events.OfType(core.EventPolicyRevoked), 1)
}

func TestAPI_GrantErrors(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	grantee := receiptkittest.NewWallet()

	cases := []struct {
		name string
		auth string
		body map[string]any
		code int
		kind string
	}{
		{"unknown resource", h.bearer(h.owner), map[string]any{"resourceId": "R404", "granteeId": grantee.Address()}, http.StatusNotFound, "InvalidResource"},
		{"self grant", h.bearer(h.owner), map[string]any{"resourceId": "R1", "granteeId": h.owner.Address()}, http.StatusBadRequest, "InvalidGrantee"},
		{"bad grantee", h.bearer(h.owner), map[string]any{"resourceId": "R1", "granteeId": "0xnot-base58"}, http.StatusBadRequest, "InvalidGrantee"},
		{"zero duration", h.bearer(h.owner), map[string]any{"resourceId": "R1", "granteeId": grantee.Address(), "durationDays": 0}, http.StatusBadRequest, "InvalidRequest"},
		{"huge duration", h.bearer(h.owner), map[string]any{"resourceId": "R1", "granteeId": grantee.Address(), "durationDays": 213504}, http.StatusBadRequest, "InvalidRequest"},
		{"not owner", h.bearer(grantee), map[string]any{"resourceId": "R1", "granteeId": grantee.Address()}, http.StatusUnauthorized, "Unauthorized"},
		{"expired token", "Bearer " + h.issuer.CreateExpiredToken(h.owner.Address()), map[string]any{"resourceId": "R1", "granteeId": grantee.Address()}, http.StatusUnauthorized, "Unauthorized"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := h.do(t, http.MethodPost, "/policies", tc.auth, tc.body)
			assert.Equal(t, tc.code, code)
			assert.Equal(t, tc.kind, body["error"])
		})
	}

	code, _ := h.do(t, http.MethodDelete, "/policies/does-not-exist", h.bearer(h.owner), nil)
	assert.Equal(t, http.StatusNotFound, code)
}

type brokenPRE struct{ core.ReEncrypter }

func (brokenPRE) ReEncrypt(context.Context, core.CapsuleRef, core.CiphertextRef) ([]byte, error) {
	return nil, errors.New("porter timeout")
}

func TestAPI_UpstreamErrorIs502(t *testing.T) {
	network, err := prelocal.NewRandom()
	require.NoError(t, err)
	h := newHarness(t, harnessOpts{pre: brokenPRE{network}})
	grantee := receiptkittest.NewWallet()

	code, _ := h.do(t, http.MethodPost, "/policies", h.bearer(h.owner), map[string]any{"resourceId": "R1", "granteeId": grantee.Address()})
	require.Equal(t, http.StatusCreated, code)

	code, body := h.do(t, http.MethodPost, "/policies/decrypt", h.bearer(grantee), map[string]any{"resourceId": "R1"})
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "UpstreamError", body["error"])
}

func TestAPI_SIWSLoginAndOneShotCredential(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	grantee := receiptkittest.NewWallet()

	// Owner logs in through the HTTP flow and uses the bearer token.
	code, body := h.do(t, http.MethodPost, "/auth/siws/challenge", "", map[string]any{"address": h.owner.Address()})
	require.Equal(t, http.StatusOK, code)
	msg := body["message"].(string)

	code, body = h.do(t, http.MethodPost, "/auth/siws/verify", "", map[string]any{"message": msg, "signature": h.owner.Sign(msg)})
	require.Equal(t, http.StatusOK, code, body)
	token := body["accessToken"].(string)

	code, _ = h.do(t, http.MethodPost, "/auth/siws/verify", "", map[string]any{"message": msg, "signature": h.owner.Sign(msg)})
	assert.Equal(t, http.StatusUnauthorized, code, "challenge cannot be redeemed twice")

	code, _ = h.do(t, http.MethodPost, "/policies", "Bearer "+token, map[string]any{"resourceId": "R1", "granteeId": grantee.Address()})
	require.Equal(t, http.StatusCreated, code)

	// Grantee decrypts with a one-shot SIWS credential instead.
	cred, err := grantee.SIWSCredential(context.Background(), h.siws)
	require.NoError(t, err)
	code, _ = h.do(t, http.MethodPost, "/policies/decrypt", "SIWS "+cred.Value, map[string]any{"resourceId": "R1"})
	assert.Equal(t, http.StatusOK, code)
	code, _ = h.do(t, http.MethodPost, "/policies/decrypt", "SIWS "+cred.Value, map[string]any{"resourceId": "R1"})
	assert.Equal(t, http.StatusUnauthorized, code, "SIWS credential is one-shot")

	code, _ = h.do(t, http.MethodPost, "/auth/siws/challenge", "", map[string]any{"address": "nope"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAPI_RateLimitAndHealth(t *testing.T) {
	lim := memorylimiter.New(map[string]ratelimit.Limit{
		ratelimit.BucketDecrypt: {Limit: 1, Window: time.Minute},
		ratelimit.BucketDefault: {Limit: 100, Window: time.Minute},
	})
	h := newHarness(t, harnessOpts{limiter: lim})
	w := receiptkittest.NewWallet()

	code, _ := h.do(t, http.MethodPost, "/policies/decrypt", h.bearer(w), map[string]any{"resourceId": "R1"})
	assert.Equal(t, http.StatusForbidden, code)
	code, body := h.do(t, http.MethodPost, "/policies/decrypt", h.bearer(w), map[string]any{"resourceId": "R1"})
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "rate_limited", body["error"])

	code, body = h.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])

	code, body = h.do(t, http.MethodGet, "/.well-known/jwks.json", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["keys"], 1)
}
