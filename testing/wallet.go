package testing

import (
	"context"
	"crypto/ed25519"

	"github.com/PaulFidika/receiptkit/core"
	"github.com/PaulFidika/receiptkit/credential"
	"github.com/PaulFidika/receiptkit/siws"
	"github.com/mr-tron/base58"
)

// Wallet is an ed25519 keypair standing in for a Solana wallet.
type Wallet struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func NewWallet() *Wallet {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		panic("failed to generate wallet: " + err.Error())
	}
	return &Wallet{pub: pub, priv: priv}
}

// Address is the base58 wallet address, which is also the identity.
func (w *Wallet) Address() string { return siws.PublicKeyToBase58(w.pub) }

func (w *Wallet) PublicKey() ed25519.PublicKey { return w.pub }

// Sign returns the base58 signature over message.
func (w *Wallet) Sign(message string) string {
	return base58.Encode(ed25519.Sign(w.priv, []byte(message)))
}

// SIWSCredential asks svc for a challenge, signs it and returns a one-shot
// SIWS credential.
func (w *Wallet) SIWSCredential(ctx context.Context, svc *credential.SIWSService) (core.Credential, error) {
	ch, err := svc.Challenge(ctx, w.Address())
	if err != nil {
		return core.Credential{}, err
	}
	v, err := credential.EncodeSIWS(ch.Message, w.Sign(ch.Message))
	if err != nil {
		return core.Credential{}, err
	}
	return core.Credential{Scheme: credential.SchemeSIWS, Value: v}, nil
}
