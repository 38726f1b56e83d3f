package core

import "time"

// CapsuleRef is the opaque handle returned by the re-encryption network when
// a re-encryption key is issued for a policy.
type CapsuleRef string

// CiphertextRef is the opaque handle of an encrypted receipt payload.
type CiphertextRef string

// Policy is one grant of access from an owner to a grantee for one resource.
// Only Revoked (and RevokedAt alongside it) ever changes after creation.
type Policy struct {
	ID         string     `json:"id"`
	ResourceID string     `json:"resource_id"`
	OwnerID    string     `json:"owner_id"`
	GranteeID  string     `json:"grantee_id"`
	CapsuleRef CapsuleRef `json:"capsule_ref"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Revoked    bool       `json:"revoked"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	// Seq is assigned by the store on insert and orders policies created
	// within the same instant.
	Seq int64 `json:"seq"`
}

// Status is the computed lifecycle state of a policy.
type Status string

const (
	StatusActive     Status = "active"
	StatusExpired    Status = "expired"
	StatusRevoked    Status = "revoked"
	StatusSuperseded Status = "superseded"
)

// Expired reports whether now is strictly past the policy expiry.
func (p *Policy) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// Status computes the policy state at now. Revocation wins over expiry.
func (p *Policy) Status(now time.Time) Status {
	switch {
	case p.Revoked:
		return StatusRevoked
	case p.Expired(now):
		return StatusExpired
	default:
		return StatusActive
	}
}

// NewerThan orders policies by creation time, then by store sequence.
func (p *Policy) NewerThan(other *Policy) bool {
	if other == nil {
		return true
	}
	if !p.CreatedAt.Equal(other.CreatedAt) {
		return p.CreatedAt.After(other.CreatedAt)
	}
	return p.Seq > other.Seq
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (p *Policy) Clone() *Policy {
	if p == nil {
		return nil
	}
	out := *p
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		out.ExpiresAt = &t
	}
	if p.RevokedAt != nil {
		t := *p.RevokedAt
		out.RevokedAt = &t
	}
	return &out
}

// PolicyView is the owner-facing projection of a policy.
type PolicyView struct {
	ID         string     `json:"policyId"`
	ResourceID string     `json:"resourceId"`
	GranteeID  string     `json:"granteeId"`
	CreatedAt  time.Time  `json:"createdAt"`
	ExpiresAt  *time.Time `json:"expiresAt"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
	Status     Status     `json:"status"`
}

func viewOf(p *Policy, status Status) PolicyView {
	return PolicyView{
		ID:         p.ID,
		ResourceID: p.ResourceID,
		GranteeID:  p.GranteeID,
		CreatedAt:  p.CreatedAt,
		ExpiresAt:  p.ExpiresAt,
		RevokedAt:  p.RevokedAt,
		Status:     status,
	}
}
