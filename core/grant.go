package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// MaxDurationDays bounds a grant to one hundred years, which keeps the
// expiry representable in every store.
const MaxDurationDays = 36500

// GrantRequest asks for a new policy. DurationDays nil means no expiry.
type GrantRequest struct {
	ResourceID   string
	GranteeID    string
	DurationDays *int
}

// GrantResult identifies the created policy.
type GrantResult struct {
	PolicyID  string     `json:"policyId"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

// GrantAccess creates a policy letting req.GranteeID decrypt req.ResourceID.
// The caller must prove control of the resource's owner-of-record identity.
func (s *Service) GrantAccess(ctx context.Context, owner Credential, req GrantRequest) (GrantResult, error) {
	caller, err := s.authenticate(ctx, owner)
	if err != nil {
		return GrantResult{}, err
	}

	resourceID := strings.TrimSpace(req.ResourceID)
	granteeID := strings.TrimSpace(req.GranteeID)
	if resourceID == "" {
		return GrantResult{}, fail(KindInvalidResource, errors.New("empty resource id"))
	}
	if granteeID == "" {
		return GrantResult{}, fail(KindInvalidGrantee, errors.New("empty grantee id"))
	}
	if req.DurationDays != nil && (*req.DurationDays <= 0 || *req.DurationDays > MaxDurationDays) {
		return GrantResult{}, fail(KindInvalidRequest, fmt.Errorf("duration must be 1..%d days, got %d", MaxDurationDays, *req.DurationDays))
	}

	rec, err := s.receipts.GetOwner(ctx, resourceID)
	if err != nil {
		if errors.Is(err, ErrReceiptNotFound) {
			return GrantResult{}, fail(KindInvalidResource, err)
		}
		return GrantResult{}, fmt.Errorf("lookup owner of %s: %w", resourceID, err)
	}
	if rec.ID != caller {
		return GrantResult{}, fail(KindUnauthorized, errors.New("caller is not the owner of record"))
	}
	if granteeID == rec.ID {
		return GrantResult{}, fail(KindInvalidGrantee, errors.New("self-grant"))
	}
	granteeKey, err := s.granteeKey(granteeID)
	if err != nil {
		return GrantResult{}, fail(KindInvalidGrantee, err)
	}

	// Stores keep microseconds; ordering must not depend on the backend.
	now := s.now().UTC().Truncate(time.Microsecond)
	p := &Policy{
		ID:         s.newID(),
		ResourceID: resourceID,
		OwnerID:    rec.ID,
		GranteeID:  granteeID,
		CreatedAt:  now,
	}
	if req.DurationDays != nil {
		exp := now.Add(time.Duration(*req.DurationDays) * 24 * time.Hour)
		p.ExpiresAt = &exp
	}

	capsule, err := s.pre.IssueReEncryptionKey(ctx, rec.KeyRef, granteeKey, p.ID)
	if err != nil {
		return GrantResult{}, fail(KindUpstream, err)
	}
	p.CapsuleRef = capsule

	if err := s.policies.Create(ctx, p); err != nil {
		return GrantResult{}, fmt.Errorf("store policy: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"policy_id":   p.ID,
		"resource_id": p.ResourceID,
		"grantee_id":  p.GranteeID,
	}).Info("policy granted")
	s.emit(ctx, AccessEvent{
		Type:       EventPolicyGranted,
		PolicyID:   p.ID,
		ResourceID: p.ResourceID,
		ActorID:    caller,
		GranteeID:  p.GranteeID,
		At:         now,
	})
	return GrantResult{PolicyID: p.ID, ExpiresAt: p.ExpiresAt}, nil
}
