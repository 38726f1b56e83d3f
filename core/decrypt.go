package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Decrypt returns the plaintext of resourceID to a grantee holding a live
// policy. The check runs on every call; nothing is cached, so a revoke is
// effective on the very next request.
//
// Every authorization failure is reported as NoAccess so the caller cannot
// tell a revoked, expired or never-granted policy apart, nor learn whether
// the resource exists.
func (s *Service) Decrypt(ctx context.Context, grantee Credential, resourceID string) ([]byte, error) {
	caller, err := s.authenticate(ctx, grantee)
	if err != nil {
		return nil, err
	}
	resourceID = strings.TrimSpace(resourceID)
	if resourceID == "" {
		return nil, fail(KindNoAccess, errors.New("empty resource id"))
	}

	deny := func(policyID, reason string, cause error) error {
		s.emit(ctx, AccessEvent{
			Type:       EventDecryptDenied,
			PolicyID:   policyID,
			ResourceID: resourceID,
			ActorID:    caller,
			GranteeID:  caller,
			Reason:     reason,
		})
		return fail(KindNoAccess, cause)
	}

	p, err := s.policies.Latest(ctx, resourceID, caller)
	if err != nil {
		if errors.Is(err, ErrPolicyNotFound) {
			return nil, deny("", ReasonNoPolicy, err)
		}
		return nil, fmt.Errorf("load policy for %s: %w", resourceID, err)
	}

	now := s.now()
	switch p.Status(now) {
	case StatusRevoked:
		return nil, deny(p.ID, ReasonRevoked, errors.New("policy revoked"))
	case StatusExpired:
		return nil, deny(p.ID, ReasonExpired, errors.New("policy expired"))
	}

	ct, err := s.receipts.GetCiphertext(ctx, resourceID)
	if err != nil {
		if errors.Is(err, ErrReceiptNotFound) {
			return nil, deny(p.ID, ReasonMissingCiphertext, err)
		}
		return nil, fmt.Errorf("load ciphertext for %s: %w", resourceID, err)
	}

	plaintext, err := s.pre.ReEncrypt(ctx, p.CapsuleRef, ct)
	if err != nil {
		s.emit(ctx, AccessEvent{
			Type:       EventDecryptDenied,
			PolicyID:   p.ID,
			ResourceID: resourceID,
			ActorID:    caller,
			GranteeID:  caller,
			Reason:     ReasonUpstream,
		})
		return nil, fail(KindUpstream, err)
	}

	s.emit(ctx, AccessEvent{
		Type:       EventDecryptAllowed,
		PolicyID:   p.ID,
		ResourceID: resourceID,
		ActorID:    caller,
		GranteeID:  caller,
	})
	return plaintext, nil
}
