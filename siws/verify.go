package siws

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// PublicKeyToBase58 renders an ed25519 key as a Solana address.
func PublicKeyToBase58(pub ed25519.PublicKey) string {
	return base58.Encode(pub)
}

// Base58ToPublicKey decodes a Solana address into its ed25519 key.
func Base58ToPublicKey(address string) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("invalid base58 address: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid address length: got %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// ValidateAddress reports whether address decodes to a 32-byte key.
func ValidateAddress(address string) error {
	_, err := Base58ToPublicKey(address)
	return err
}

// VerifySignature checks the wallet signature over SignedMessage. The public
// key is taken from the address when the output does not carry one, and must
// match the address when it does.
func VerifySignature(output SignInOutput) error {
	fromAddr, err := Base58ToPublicKey(output.Account.Address)
	if err != nil {
		return err
	}
	pub := output.Account.PublicKey
	if len(pub) == 0 {
		pub = fromAddr
	} else if !bytes.Equal(pub, fromAddr) {
		return errors.New("public key does not match address")
	}
	if len(output.Signature) != ed25519.SignatureSize {
		return fmt.Errorf("invalid signature length: %d", len(output.Signature))
	}
	if !ed25519.Verify(pub, output.SignedMessage, output.Signature) {
		return errors.New("signature verification failed")
	}
	return nil
}

// Verify checks that output is a valid signature over exactly the message
// built from expected.
func Verify(expected SignInInput, output SignInOutput) error {
	if output.Account.Address != expected.Address {
		return fmt.Errorf("address mismatch: got %s, expected %s", output.Account.Address, expected.Address)
	}
	if string(output.SignedMessage) != ConstructMessage(expected) {
		return errors.New("signed message does not match expected input")
	}
	return VerifySignature(output)
}
