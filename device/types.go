// Package device runs the signing protocol against a hardware wallet.
//
// The Service owns the device for the duration of each operation and drives
// the protocol engine round by round:
//   - SignTransaction signs every transaction of an unsigned set
//   - SyncKeyImages exports key images in batches and verifies them
//   - LiveRefresh fetches key images one output at a time
//   - GetTxKeys recovers transaction keys from persisted aux data
//
// # Transport
//
// A Transport exchanges one request for one acknowledgment:
//
//	svc := device.NewService(bridgeSession, protocol.Config{})
//	result, err := svc.SignTransaction(ctx, &device.SignRequest{
//		Shim:     account,
//		Unsigned: unsignedSet,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Errors from the device or the transport abort the operation. Protocol
// errors carry the failing step, see errs.StepError.
package device

import (
	"github.com/anchorageoss/coldsign/keys"
	"github.com/anchorageoss/coldsign/wallet"
)

// SignRequest represents the parameters for signing
type SignRequest struct {
	Shim     wallet.Shim
	Unsigned *wallet.UnsignedTxSet
	Aux      *wallet.TxAuxData
}

// SignResult represents the result of signing. AuxData holds one serialized
// TxKeyData per transaction.
type SignResult struct {
	Transactions []SignedTxSummary   `json:"transactions"`
	Signed       *wallet.SignedTxSet `json:"-"`
	AuxData      [][]byte            `json:"-"`
	PrefixHashes []keys.Hash         `json:"-"`
}

// SignedTxSummary describes one signed transaction
type SignedTxSummary struct {
	SessionID  string   `json:"sessionId"`
	TxHash     string   `json:"txHash"`
	PrefixHash string   `json:"prefixHash"`
	Inputs     int      `json:"inputs"`
	Outputs    int      `json:"outputs"`
	Fee        uint64   `json:"fee"`
	RctType    uint8    `json:"rctType"`
	Offloaded  bool     `json:"offloaded"`
	KeyImages  []string `json:"keyImages"`
}

// KeyImageResult is a verified key image for one transfer
type KeyImageResult struct {
	TransferIndex int           `json:"transferIndex"`
	OutKey        keys.Point    `json:"-"`
	KeyImage      keys.KeyImage `json:"-"`
}

// SyncResult represents the result of a key image sync
type SyncResult struct {
	ExportID  string           `json:"exportId"`
	KeyImages []KeyImageResult `json:"keyImages"`
}
