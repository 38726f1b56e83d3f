// Package credential turns Authorization headers into verified wallet
// identities. Two schemes are accepted:
//
//	Bearer <jwt>                          access token issued after a SIWS login
//	SIWS <base64url({message,signature})> one-shot signed sign-in message
//
// Signatures are base58, the encoding Solana wallets hand back.
package credential

import (
	"errors"
	"strings"

	"github.com/PaulFidika/receiptkit/core"
)

const (
	SchemeBearer = "Bearer"
	SchemeSIWS   = "SIWS"
)

var (
	ErrMissingCredential = errors.New("credential: missing")
	ErrUnsupportedScheme = errors.New("credential: unsupported scheme")
	ErrMalformed         = errors.New("credential: malformed")
)

// Parse splits an Authorization header into scheme and value. Scheme matching
// is case-insensitive and normalised to SchemeBearer or SchemeSIWS.
func Parse(header string) (core.Credential, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return core.Credential{}, ErrMissingCredential
	}
	scheme, value, ok := strings.Cut(header, " ")
	value = strings.TrimSpace(value)
	if !ok || value == "" {
		return core.Credential{}, ErrMalformed
	}
	switch {
	case strings.EqualFold(scheme, SchemeBearer):
		return core.Credential{Scheme: SchemeBearer, Value: value}, nil
	case strings.EqualFold(scheme, SchemeSIWS):
		return core.Credential{Scheme: SchemeSIWS, Value: value}, nil
	default:
		return core.Credential{}, ErrUnsupportedScheme
	}
}
