// Package siws implements Sign-In With Solana messages: wallet owners prove
// control of an address by signing a structured, nonce-bound message with the
// ed25519 key behind it. receiptkit uses it as the owner/grantee credential.
package siws

import (
	"context"
	"crypto/ed25519"
	"time"
)

// SignInInput holds the fields of a sign-in message.
type SignInInput struct {
	Domain         string   `json:"domain"`
	Address        string   `json:"address"`
	Statement      *string  `json:"statement,omitempty"`
	URI            *string  `json:"uri,omitempty"`
	Version        *string  `json:"version,omitempty"`
	ChainID        *string  `json:"chainId,omitempty"`
	Nonce          string   `json:"nonce"`
	IssuedAt       string   `json:"issuedAt"`
	ExpirationTime *string  `json:"expirationTime,omitempty"`
	NotBefore      *string  `json:"notBefore,omitempty"`
	RequestID      *string  `json:"requestId,omitempty"`
	Resources      []string `json:"resources,omitempty"`
}

// AccountInfo identifies the signing wallet.
type AccountInfo struct {
	Address   string            `json:"address"`
	PublicKey ed25519.PublicKey `json:"publicKey"`
}

// SignInOutput is what a wallet hands back after signing.
type SignInOutput struct {
	Account       AccountInfo `json:"account"`
	Signature     []byte      `json:"signature"`
	SignedMessage []byte      `json:"signedMessage"`
}

// ChallengeData is the server-side record of an issued nonce.
type ChallengeData struct {
	Address   string    `json:"address"`
	Domain    string    `json:"domain"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ChallengeCache keeps issued nonces until they are consumed or expire.
// Consume must be atomic: a nonce is handed out at most once.
type ChallengeCache interface {
	Put(ctx context.Context, nonce string, data ChallengeData) error
	Consume(ctx context.Context, nonce string) (ChallengeData, bool, error)
}
