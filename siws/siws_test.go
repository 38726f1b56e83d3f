package siws

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
	"time"
)

const testAddress = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

func TestConstructMessage(t *testing.T) {
	statement := "Share receipt R1"
	uri := "https://receipts.example.com"
	version := "1"
	chainID := "mainnet"
	expTime := "2025-12-05T12:00:00Z"

	msg := ConstructMessage(SignInInput{
		Domain:         "receipts.example.com",
		Address:        testAddress,
		Statement:      &statement,
		URI:            &uri,
		Version:        &version,
		ChainID:        &chainID,
		Nonce:          "abc12345",
		IssuedAt:       "2025-12-05T11:00:00Z",
		ExpirationTime: &expTime,
		Resources:      []string{"receipt://R1"},
	})

	for _, want := range []string{
		"receipts.example.com wants you to sign in with your Solana account:\n" + testAddress,
		"\n\nShare receipt R1\n",
		"URI: https://receipts.example.com",
		"Nonce: abc12345",
		"Issued At: 2025-12-05T11:00:00Z",
		"Expiration Time: 2025-12-05T12:00:00Z",
		"Resources:\n- receipt://R1",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestConstructMessageMinimal(t *testing.T) {
	msg := ConstructMessage(SignInInput{
		Domain:   "example.com",
		Address:  testAddress,
		Nonce:    "abc12345",
		IssuedAt: "2025-12-05T11:00:00Z",
	})

	expected := `example.com wants you to sign in with your Solana account:
7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU

Nonce: abc12345
Issued At: 2025-12-05T11:00:00Z`

	if msg != expected {
		t.Errorf("minimal message mismatch:\ngot:\n%s\n\nwant:\n%s", msg, expected)
	}
}

func TestParseMessage(t *testing.T) {
	original, err := NewSignInInput("example.com", testAddress,
		WithStatement("Sign in to share receipts"),
		WithURI("https://example.com"),
		WithResources("receipt://R1", "receipt://R2"),
	)
	if err != nil {
		t.Fatalf("new input: %v", err)
	}

	parsed, err := ParseMessage(ConstructMessage(original))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if parsed.Domain != original.Domain || parsed.Address != original.Address {
		t.Errorf("header mismatch: got %s/%s", parsed.Domain, parsed.Address)
	}
	if parsed.Nonce != original.Nonce || parsed.IssuedAt != original.IssuedAt {
		t.Errorf("nonce/issuedAt mismatch: got %s/%s", parsed.Nonce, parsed.IssuedAt)
	}
	if deref(parsed.Statement) != "Sign in to share receipts" {
		t.Errorf("statement mismatch: %q", deref(parsed.Statement))
	}
	if len(parsed.Resources) != 2 || parsed.Resources[1] != "receipt://R2" {
		t.Errorf("resources mismatch: %v", parsed.Resources)
	}
	if ConstructMessage(parsed) != ConstructMessage(original) {
		t.Error("re-rendered message differs from original")
	}
}

func TestParseMessageRejectsGarbage(t *testing.T) {
	for _, msg := range []string{
		"",
		"hello",
		"example.com wants you to sign in with your Ethereum account:\n" + testAddress,
		"example.com wants you to sign in with your Solana account:\n",
	} {
		if _, err := ParseMessage(msg); err == nil {
			t.Errorf("expected error for %q", msg)
		}
	}
}

func TestGenerateNonce(t *testing.T) {
	nonce1, err := GenerateNonce()
	if err != nil {
		t.Fatalf("failed to generate nonce: %v", err)
	}
	nonce2, err := GenerateNonce()
	if err != nil {
		t.Fatalf("failed to generate second nonce: %v", err)
	}
	if len(nonce1) < 8 {
		t.Errorf("nonce too short: %q", nonce1)
	}
	if nonce1 == nonce2 {
		t.Error("nonces should be unique")
	}
}

func TestBase58ToPublicKey(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	decoded, err := Base58ToPublicKey(PublicKeyToBase58(pub))
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if !pub.Equal(decoded) {
		t.Error("public key mismatch after round-trip")
	}
}

func TestValidateAddress(t *testing.T) {
	if err := ValidateAddress(testAddress); err != nil {
		t.Errorf("valid address rejected: %v", err)
	}
	if err := ValidateAddress("abc"); err == nil {
		t.Error("short address accepted")
	}
	if err := ValidateAddress("0OIl"); err == nil {
		t.Error("invalid base58 accepted")
	}
}

func TestVerify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	address := PublicKeyToBase58(pub)

	input, err := NewSignInInput("example.com", address, WithStatement("Test"))
	if err != nil {
		t.Fatalf("failed to create input: %v", err)
	}
	message := []byte(ConstructMessage(input))
	output := SignInOutput{
		Account:       AccountInfo{Address: address},
		Signature:     ed25519.Sign(priv, message),
		SignedMessage: message,
	}

	if err := Verify(input, output); err != nil {
		t.Fatalf("valid verify failed: %v", err)
	}

	badInput := input
	badInput.Address = testAddress
	if err := Verify(badInput, output); err == nil {
		t.Error("address mismatch not detected")
	}

	otherPub, _, _ := ed25519.GenerateKey(rand.Reader)
	wrongKey := output
	wrongKey.Account.PublicKey = otherPub
	if err := VerifySignature(wrongKey); err == nil {
		t.Error("public key not bound to address")
	}

	output.Signature[0] ^= 0xFF
	if err := VerifySignature(output); err == nil {
		t.Error("tampered signature accepted")
	}
}

func TestValidateTimestamps(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	exp := now.Add(10 * time.Minute).Format(time.RFC3339)
	input := SignInInput{IssuedAt: now.Format(time.RFC3339), ExpirationTime: &exp}
	if err := validateTimestampsAt(input, now); err != nil {
		t.Errorf("valid timestamps rejected: %v", err)
	}

	if err := validateTimestampsAt(input, now.Add(11*time.Minute)); err == nil {
		t.Error("expired message accepted")
	}

	input.ExpirationTime = nil
	nb := now.Add(10 * time.Minute).Format(time.RFC3339)
	input.NotBefore = &nb
	if err := validateTimestampsAt(input, now); err == nil {
		t.Error("not-yet-valid message accepted")
	}

	input.NotBefore = nil
	input.IssuedAt = now.Add(MaxClockSkew + time.Minute).Format(time.RFC3339)
	if err := validateTimestampsAt(input, now); err == nil {
		t.Error("future-dated message accepted")
	}
}
