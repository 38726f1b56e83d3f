package core

import (
	"context"
	"errors"
	"time"

	"github.com/PaulFidika/receiptkit/siws"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Config wires the access controller to its collaborators.
type Config struct {
	Policies PolicyStore
	Receipts ReceiptStore
	PRE      ReEncrypter
	Auth     Authenticator

	// Events is optional; nil disables the audit trail.
	Events AccessEventLogger
	// Logger is optional; defaults to the logrus standard logger.
	Logger logrus.FieldLogger
	// Now is optional; defaults to time.Now.
	Now func() time.Time
	// GranteeKey resolves the public key the re-encryption network issues
	// keys for. Defaults to decoding the identity as a base58 wallet address.
	GranteeKey func(identity string) ([]byte, error)
	// NewID is optional; defaults to random UUIDs.
	NewID func() string
}

// Service is the access controller: the single authorization gate between a
// requester and the re-encryption network.
type Service struct {
	policies   PolicyStore
	receipts   ReceiptStore
	pre        ReEncrypter
	auth       Authenticator
	events     AccessEventLogger
	log        logrus.FieldLogger
	now        func() time.Time
	granteeKey func(string) ([]byte, error)
	newID      func() string
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Policies == nil {
		return nil, errors.New("core: policy store is required")
	}
	if cfg.Receipts == nil {
		return nil, errors.New("core: receipt store is required")
	}
	if cfg.PRE == nil {
		return nil, errors.New("core: re-encryption service is required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("core: authenticator is required")
	}
	s := &Service{
		policies:   cfg.Policies,
		receipts:   cfg.Receipts,
		pre:        cfg.PRE,
		auth:       cfg.Auth,
		events:     cfg.Events,
		log:        cfg.Logger,
		now:        cfg.Now,
		granteeKey: cfg.GranteeKey,
		newID:      cfg.NewID,
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.granteeKey == nil {
		s.granteeKey = func(id string) ([]byte, error) {
			pub, err := siws.Base58ToPublicKey(id)
			if err != nil {
				return nil, err
			}
			return []byte(pub), nil
		}
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.NewString() }
	}
	return s, nil
}

func (s *Service) authenticate(ctx context.Context, cred Credential) (string, error) {
	if cred.Value == "" {
		return "", fail(KindUnauthorized, errors.New("missing credential"))
	}
	id, err := s.auth.Authenticate(ctx, cred)
	if err != nil {
		return "", fail(KindUnauthorized, err)
	}
	if id == "" {
		return "", fail(KindUnauthorized, errors.New("credential resolved to empty identity"))
	}
	return id, nil
}

// emit records ev best-effort; audit failures never fail the request.
func (s *Service) emit(ctx context.Context, ev AccessEvent) {
	if s.events == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = s.now().UTC()
	}
	if err := s.events.LogAccessEvent(ctx, ev); err != nil {
		s.log.WithError(err).WithField("event", ev.Type).Warn("access event not recorded")
	}
}
