package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// RevokeAccess marks a policy revoked. Only the policy owner may revoke, and
// revoking an already revoked policy is a successful no-op.
func (s *Service) RevokeAccess(ctx context.Context, owner Credential, policyID string) error {
	caller, err := s.authenticate(ctx, owner)
	if err != nil {
		return err
	}
	policyID = strings.TrimSpace(policyID)
	if policyID == "" {
		return fail(KindNotFound, errors.New("empty policy id"))
	}

	p, err := s.policies.Get(ctx, policyID)
	if err != nil {
		if errors.Is(err, ErrPolicyNotFound) {
			return fail(KindNotFound, err)
		}
		return fmt.Errorf("load policy %s: %w", policyID, err)
	}
	if p.OwnerID != caller {
		return fail(KindUnauthorized, errors.New("caller does not own the policy"))
	}
	if p.Revoked {
		return nil
	}

	now := s.now().UTC()
	changed, err := s.policies.Revoke(ctx, policyID, now)
	if err != nil {
		if errors.Is(err, ErrPolicyNotFound) {
			return fail(KindNotFound, err)
		}
		return fmt.Errorf("revoke policy %s: %w", policyID, err)
	}
	if !changed {
		return nil
	}

	s.log.WithField("policy_id", policyID).Info("policy revoked")
	s.emit(ctx, AccessEvent{
		Type:       EventPolicyRevoked,
		PolicyID:   p.ID,
		ResourceID: p.ResourceID,
		ActorID:    caller,
		GranteeID:  p.GranteeID,
		At:         now,
	})
	return nil
}
