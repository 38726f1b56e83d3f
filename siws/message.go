package siws

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

const headerSuffix = " wants you to sign in with your Solana account:"

// Labels of the optional and required message fields, in wire order.
const (
	labelURI       = "URI"
	labelVersion   = "Version"
	labelChainID   = "Chain ID"
	labelNonce     = "Nonce"
	labelIssuedAt  = "Issued At"
	labelExpires   = "Expiration Time"
	labelNotBefore = "Not Before"
	labelRequestID = "Request ID"
	labelResources = "Resources"
)

// ConstructMessage renders input in the SIWS text format:
//
//	${domain} wants you to sign in with your Solana account:
//	${address}
//
//	${statement}
//
//	URI: ${uri}
//	Version: ${version}
//	Chain ID: ${chainId}
//	Nonce: ${nonce}
//	Issued At: ${issuedAt}
//	Expiration Time: ${expirationTime}
//	Not Before: ${notBefore}
//	Request ID: ${requestId}
//	Resources:
//	- ${resources[0]}
func ConstructMessage(input SignInInput) string {
	var sb strings.Builder
	sb.WriteString(input.Domain + headerSuffix + "\n" + input.Address)
	if s := deref(input.Statement); s != "" {
		sb.WriteString("\n\n" + s)
	}
	sb.WriteString("\n")

	fields := []struct {
		label, value string
	}{
		{labelURI, deref(input.URI)},
		{labelVersion, deref(input.Version)},
		{labelChainID, deref(input.ChainID)},
		{labelNonce, input.Nonce},
		{labelIssuedAt, input.IssuedAt},
		{labelExpires, deref(input.ExpirationTime)},
		{labelNotBefore, deref(input.NotBefore)},
		{labelRequestID, deref(input.RequestID)},
	}
	for _, f := range fields {
		// Nonce and Issued At are always present, even when empty.
		if f.value == "" && f.label != labelNonce && f.label != labelIssuedAt {
			continue
		}
		sb.WriteString("\n" + f.label + ": " + f.value)
	}
	if len(input.Resources) > 0 {
		sb.WriteString("\n" + labelResources + ":")
		for _, r := range input.Resources {
			sb.WriteString("\n- " + r)
		}
	}
	return sb.String()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// GenerateNonce returns 128 random bits, base64url encoded (22 chars).
func GenerateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// InputOption customizes a SignInInput.
type InputOption func(*SignInInput)

// NewSignInInput returns an input with a fresh nonce, issued now and
// expiring after 15 minutes unless overridden.
func NewSignInInput(domain, address string, opts ...InputOption) (SignInInput, error) {
	nonce, err := GenerateNonce()
	if err != nil {
		return SignInInput{}, err
	}
	now := time.Now().UTC()
	version := "1"
	chainID := "mainnet"
	exp := now.Add(15 * time.Minute).Format(time.RFC3339)
	input := SignInInput{
		Domain:         domain,
		Address:        address,
		Nonce:          nonce,
		IssuedAt:       now.Format(time.RFC3339),
		ExpirationTime: &exp,
		Version:        &version,
		ChainID:        &chainID,
	}
	for _, opt := range opts {
		opt(&input)
	}
	return input, nil
}

func WithStatement(statement string) InputOption {
	return func(i *SignInInput) { i.Statement = &statement }
}

func WithURI(uri string) InputOption {
	return func(i *SignInInput) { i.URI = &uri }
}

// WithChainID sets mainnet, devnet or testnet.
func WithChainID(chainID string) InputOption {
	return func(i *SignInInput) { i.ChainID = &chainID }
}

// WithIssuedAt overrides the issue time. Apply it before
// WithExpirationDuration.
func WithIssuedAt(t time.Time) InputOption {
	return func(i *SignInInput) { i.IssuedAt = t.UTC().Format(time.RFC3339) }
}

// WithExpirationDuration sets expiry relative to IssuedAt.
func WithExpirationDuration(d time.Duration) InputOption {
	return func(i *SignInInput) {
		issued, err := time.Parse(time.RFC3339, i.IssuedAt)
		if err != nil {
			issued = time.Now().UTC()
		}
		exp := issued.Add(d).Format(time.RFC3339)
		i.ExpirationTime = &exp
	}
}

// WithResources lists the receipt URIs the signer intends to act on.
func WithResources(resources ...string) InputOption {
	return func(i *SignInInput) { i.Resources = append(i.Resources, resources...) }
}
