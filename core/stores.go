package core

import (
	"context"
	"time"
)

// PolicyStore persists policies. Implementations must make Revoke an atomic
// compare-and-set on the revoked flag and must serve Latest from a single
// consistent read, so a concurrent Revoke is either fully visible or not at all.
type PolicyStore interface {
	// Create inserts p and assigns p.Seq.
	Create(ctx context.Context, p *Policy) error
	// Get returns the policy with id, or ErrPolicyNotFound.
	Get(ctx context.Context, id string) (*Policy, error)
	// Latest returns the newest policy for (resourceID, granteeID) regardless
	// of its state, or ErrPolicyNotFound.
	Latest(ctx context.Context, resourceID, granteeID string) (*Policy, error)
	// Revoke sets revoked=true. changed is false when it was already revoked.
	Revoke(ctx context.Context, id string, at time.Time) (changed bool, err error)
	// ListByOwner returns the owner's policies, oldest first. An empty
	// resourceID lists all resources.
	ListByOwner(ctx context.Context, ownerID, resourceID string) ([]*Policy, error)
	// ExpiringBetween returns policies whose expiry falls in (from, to].
	ExpiringBetween(ctx context.Context, from, to time.Time) ([]*Policy, error)
}

// Owner is the owner-of-record of a receipt and the key reference the
// re-encryption network holds for it.
type Owner struct {
	ID     string
	KeyRef string
}

// ReceiptStore is the read side of the encrypted receipt repository.
type ReceiptStore interface {
	// GetOwner returns the owner-of-record, or ErrReceiptNotFound.
	GetOwner(ctx context.Context, resourceID string) (Owner, error)
	// GetCiphertext returns the ciphertext reference, or ErrReceiptNotFound.
	GetCiphertext(ctx context.Context, resourceID string) (CiphertextRef, error)
}

// ReEncrypter is the proxy re-encryption network. It is treated as an opaque
// capability: any error it returns surfaces as UpstreamError.
type ReEncrypter interface {
	IssueReEncryptionKey(ctx context.Context, ownerKeyRef string, granteePublicKey []byte, policyID string) (CapsuleRef, error)
	ReEncrypt(ctx context.Context, capsule CapsuleRef, ciphertext CiphertextRef) ([]byte, error)
}

// Credential is a caller credential as presented on the wire, e.g. scheme
// "Bearer" with a JWT, or "SIWS" with a one-shot signed message.
type Credential struct {
	Scheme string
	Value  string
}

// Authenticator proves that a credential controls an identity and returns it.
type Authenticator interface {
	Authenticate(ctx context.Context, cred Credential) (identity string, err error)
}
