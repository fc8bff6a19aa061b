package wallet

import (
	"github.com/anchorageoss/coldsign/keys"
)

// Shim is the wallet data access the signing engine needs.
type Shim interface {
	Address() AccountPublicAddress
	ViewSecretKey() keys.Scalar
	// TxPubKey returns the transaction public key an output was received with.
	TxPubKey(td *TransferDetails) keys.Point
}

// Account is a watch-only account backed by loaded wallet keys.
type Account struct {
	Keys *keys.WalletKeys
}

// NewAccount creates a watch-only account
func NewAccount(k *keys.WalletKeys) *Account {
	return &Account{Keys: k}
}

func (a *Account) Address() AccountPublicAddress {
	return AccountPublicAddress{
		SpendPublicKey: a.Keys.SpendPublic,
		ViewPublicKey:  a.Keys.ViewPublic,
	}
}

func (a *Account) ViewSecretKey() keys.Scalar {
	return a.Keys.ViewSecret
}

func (a *Account) TxPubKey(td *TransferDetails) keys.Point {
	return td.TxPubKey
}
