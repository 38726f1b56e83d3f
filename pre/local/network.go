// Package prelocal is an in-process stand-in for a proxy re-encryption
// network. It has the same shape as the real thing (owner-sealed
// ciphertexts, per-policy re-encryption keys, a ReEncrypt call that only
// works with a matching capsule) but none of its threshold cryptography.
// Use it for development and tests.
package prelocal

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/PaulFidika/receiptkit/core"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24

	dekInfo     = "receiptkit/pre/v1/dek|"
	kfragInfo   = "receiptkit/pre/v1/kfrag|"
	capsuleVers = 1
)

var (
	ErrBadCapsule    = errors.New("prelocal: malformed capsule")
	ErrBadCiphertext = errors.New("prelocal: malformed ciphertext")
	ErrOpen          = errors.New("prelocal: authentication failed")
)

// Network holds the master secret every derived key hangs off.
type Network struct {
	master []byte
}

// New returns a network keyed by master, which must be at least 32 bytes.
func New(master []byte) (*Network, error) {
	if len(master) < keySize {
		return nil, fmt.Errorf("prelocal: master secret must be at least %d bytes", keySize)
	}
	return &Network{master: append([]byte(nil), master...)}, nil
}

// NewRandom returns a network with a fresh random master secret. Ciphertexts
// sealed by it do not survive a restart.
func NewRandom() (*Network, error) {
	m := make([]byte, keySize)
	if _, err := rand.Read(m); err != nil {
		return nil, err
	}
	return New(m)
}

type capsule struct {
	Version  int    `json:"v"`
	PolicyID string `json:"p"`
	Grantee  []byte `json:"g"`
	Wrapped  []byte `json:"w"`
}

func (n *Network) derive(salt []byte, info string) (*[keySize]byte, error) {
	var k [keySize]byte
	if _, err := io.ReadFull(hkdf.New(sha256.New, n.master, salt, []byte(info)), k[:]); err != nil {
		return nil, err
	}
	return &k, nil
}

func seal(key *[keySize]byte, msg []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], msg, &nonce, key), nil
}

func open(key *[keySize]byte, box []byte) ([]byte, error) {
	if len(box) < nonceSize+secretbox.Overhead {
		return nil, ErrOpen
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	out, ok := secretbox.Open(nil, box[nonceSize:], &nonce, key)
	if !ok {
		return nil, ErrOpen
	}
	return out, nil
}

// Seal encrypts plaintext under the data key of keyRef. The data key is a
// function of keyRef alone, so every receipt must carry its own key
// reference (see ReceiptKeyRef); a capsule opens exactly the ciphertexts
// sealed under the reference it was issued for.
func (n *Network) Seal(keyRef string, plaintext []byte) (core.CiphertextRef, error) {
	if keyRef == "" {
		return "", errors.New("prelocal: key reference is required")
	}
	dek, err := n.derive(nil, dekInfo+keyRef)
	if err != nil {
		return "", err
	}
	box, err := seal(dek, plaintext)
	if err != nil {
		return "", err
	}
	return core.CiphertextRef(base64.RawURLEncoding.EncodeToString(box)), nil
}

// ReceiptKeyRef is the key reference for one receipt of one owner.
func ReceiptKeyRef(ownerID, receiptID string) string {
	return ownerID + "/" + receiptID
}

// IssueReEncryptionKey wraps the receipt data key named by ownerKeyRef for
// one grantee and one policy. The capsule is useless for any other policy id or grantee.
func (n *Network) IssueReEncryptionKey(ctx context.Context, ownerKeyRef string, granteePublicKey []byte, policyID string) (core.CapsuleRef, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if ownerKeyRef == "" || policyID == "" {
		return "", errors.New("prelocal: owner key and policy id are required")
	}
	if len(granteePublicKey) != keySize {
		return "", fmt.Errorf("prelocal: grantee key must be %d bytes", keySize)
	}
	dek, err := n.derive(nil, dekInfo+ownerKeyRef)
	if err != nil {
		return "", err
	}
	kek, err := n.derive(granteePublicKey, kfragInfo+policyID)
	if err != nil {
		return "", err
	}
	wrapped, err := seal(kek, dek[:])
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(capsule{Version: capsuleVers, PolicyID: policyID, Grantee: granteePublicKey, Wrapped: wrapped})
	if err != nil {
		return "", err
	}
	return core.CapsuleRef(base64.RawURLEncoding.EncodeToString(b)), nil
}

// ReEncrypt unwraps the data key from the capsule and opens the ciphertext.
func (n *Network) ReEncrypt(ctx context.Context, ref core.CapsuleRef, ct core.CiphertextRef) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := base64.RawURLEncoding.DecodeString(string(ref))
	if err != nil {
		return nil, ErrBadCapsule
	}
	var c capsule
	if err := json.Unmarshal(raw, &c); err != nil || c.Version != capsuleVers {
		return nil, ErrBadCapsule
	}
	kek, err := n.derive(c.Grantee, kfragInfo+c.PolicyID)
	if err != nil {
		return nil, err
	}
	dekBytes, err := open(kek, c.Wrapped)
	if err != nil {
		return nil, err
	}
	if len(dekBytes) != keySize {
		return nil, ErrBadCapsule
	}
	var dek [keySize]byte
	copy(dek[:], dekBytes)

	box, err := base64.RawURLEncoding.DecodeString(string(ct))
	if err != nil {
		return nil, ErrBadCiphertext
	}
	return open(&dek, box)
}
