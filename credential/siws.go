package credential

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/PaulFidika/receiptkit/siws"
	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidAddress = errors.New("siws: invalid address")
	ErrUnknownNonce   = errors.New("siws: unknown or already used nonce")
	ErrBadSignature   = errors.New("siws: signature rejected")
)

// TokenIssuer mints access tokens for a verified wallet.
type TokenIssuer interface {
	Issue(ctx context.Context, subject string) (token string, expiresAt time.Time, err error)
}

type SIWSConfig struct {
	Domain       string
	Statement    string
	ChallengeTTL time.Duration
}

// SIWSService issues sign-in challenges and redeems signed ones.
type SIWSService struct {
	cfg    SIWSConfig
	cache  siws.ChallengeCache
	tokens TokenIssuer
	log    logrus.FieldLogger
	now    func() time.Time
}

func NewSIWSService(cfg SIWSConfig, cache siws.ChallengeCache, tokens TokenIssuer, log logrus.FieldLogger) (*SIWSService, error) {
	if cfg.Domain == "" {
		return nil, errors.New("siws: domain is required")
	}
	if cache == nil {
		return nil, errors.New("siws: challenge cache is required")
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 15 * time.Minute
	}
	if cfg.Statement == "" {
		cfg.Statement = "Sign in to manage access to your receipts."
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SIWSService{cfg: cfg, cache: cache, tokens: tokens, log: log, now: time.Now}, nil
}

// Challenge is the message a wallet is asked to sign.
type Challenge struct {
	Message   string    `json:"message"`
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *SIWSService) Challenge(ctx context.Context, address string) (Challenge, error) {
	if err := siws.ValidateAddress(address); err != nil {
		return Challenge{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	input, err := siws.NewSignInInput(s.cfg.Domain, address,
		siws.WithStatement(s.cfg.Statement),
		siws.WithIssuedAt(s.now()),
		siws.WithExpirationDuration(s.cfg.ChallengeTTL),
	)
	if err != nil {
		return Challenge{}, err
	}
	issued, exp, err := challengeWindow(input, s.cfg.ChallengeTTL)
	if err != nil {
		return Challenge{}, err
	}
	err = s.cache.Put(ctx, input.Nonce, siws.ChallengeData{
		Address:   address,
		Domain:    s.cfg.Domain,
		IssuedAt:  issued,
		ExpiresAt: exp,
	})
	if err != nil {
		return Challenge{}, fmt.Errorf("siws: store challenge: %w", err)
	}
	return Challenge{Message: siws.ConstructMessage(input), Nonce: input.Nonce, ExpiresAt: exp}, nil
}

func challengeWindow(input siws.SignInInput, ttl time.Duration) (issued, expires time.Time, err error) {
	issued, err = time.Parse(time.RFC3339, input.IssuedAt)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("siws: challenge issued-at: %w", err)
	}
	return issued, issued.Add(ttl), nil
}

// Redeem checks a signed challenge and consumes its nonce, returning the
// wallet address. The signature is checked before the nonce is consumed so a
// forged request cannot burn someone else's challenge.
func (s *SIWSService) Redeem(ctx context.Context, message, signatureB58 string) (string, error) {
	input, err := siws.ParseMessage(message)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if err := siws.ValidateDomain(input, s.cfg.Domain); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if err := siws.ValidateTimestamps(input); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	sig, err := base58.Decode(signatureB58)
	if err != nil {
		return "", fmt.Errorf("%w: signature encoding", ErrBadSignature)
	}
	out := siws.SignInOutput{
		Account:       siws.AccountInfo{Address: input.Address},
		Signature:     sig,
		SignedMessage: []byte(message),
	}
	if err := siws.Verify(input, out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	data, ok, err := s.cache.Consume(ctx, input.Nonce)
	if err != nil {
		return "", fmt.Errorf("siws: consume nonce: %w", err)
	}
	if !ok || data.Address != input.Address || data.Domain != input.Domain {
		return "", ErrUnknownNonce
	}
	return input.Address, nil
}

// Session is returned by a successful login.
type Session struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int64  `json:"expiresIn"`
	Address     string `json:"address"`
}

// Login redeems a signed challenge for a bearer access token.
func (s *SIWSService) Login(ctx context.Context, message, signatureB58 string) (Session, error) {
	if s.tokens == nil {
		return Session{}, errors.New("siws: token issuer not configured")
	}
	address, err := s.Redeem(ctx, message, signatureB58)
	if err != nil {
		return Session{}, err
	}
	tok, exp, err := s.tokens.Issue(ctx, address)
	if err != nil {
		return Session{}, fmt.Errorf("siws: issue token: %w", err)
	}
	s.log.WithField("address", address).Info("siws login")
	return Session{
		AccessToken: tok,
		TokenType:   SchemeBearer,
		ExpiresIn:   int64(exp.Sub(s.now()).Seconds()),
		Address:     address,
	}, nil
}

// SignedMessage is the payload of a SIWS credential.
type SignedMessage struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// EncodeSIWS renders a SIWS credential value.
func EncodeSIWS(message, signatureB58 string) (string, error) {
	b, err := json.Marshal(SignedMessage{Message: message, Signature: signatureB58})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func decodeSIWS(value string) (SignedMessage, error) {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return SignedMessage{}, ErrMalformed
	}
	var sm SignedMessage
	if err := json.Unmarshal(raw, &sm); err != nil || sm.Message == "" || sm.Signature == "" {
		return SignedMessage{}, ErrMalformed
	}
	return sm, nil
}
