package credential

import (
	"context"
	"errors"

	"github.com/PaulFidika/receiptkit/core"
)

// TokenVerifier checks a bearer token and returns its subject.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (string, error)
}

// Authenticator implements core.Authenticator over bearer tokens and one-shot
// SIWS messages. Either side may be nil to disable that scheme.
type Authenticator struct {
	tokens TokenVerifier
	siws   *SIWSService
}

func NewAuthenticator(tokens TokenVerifier, siws *SIWSService) *Authenticator {
	return &Authenticator{tokens: tokens, siws: siws}
}

func (a *Authenticator) Authenticate(ctx context.Context, cred core.Credential) (string, error) {
	switch cred.Scheme {
	case SchemeBearer:
		if a.tokens == nil {
			return "", ErrUnsupportedScheme
		}
		return a.tokens.Verify(ctx, cred.Value)
	case SchemeSIWS:
		if a.siws == nil {
			return "", ErrUnsupportedScheme
		}
		sm, err := decodeSIWS(cred.Value)
		if err != nil {
			return "", err
		}
		return a.siws.Redeem(ctx, sm.Message, sm.Signature)
	case "":
		return "", ErrMissingCredential
	default:
		return "", errors.Join(ErrUnsupportedScheme, errors.New(cred.Scheme))
	}
}
