package protocol

import (
	"github.com/anchorageoss/coldsign/codec"
	"github.com/anchorageoss/coldsign/crypto"
	"github.com/anchorageoss/coldsign/errs"
	"github.com/anchorageoss/coldsign/keys"
)

// TxKeyDataVersion is the current aux data format.
const TxKeyDataVersion = 1

// Reasons for a tx key request.
const (
	TxKeyReasonKey        uint32 = 0
	TxKeyReasonDerivation uint32 = 1
)

// TxKeyData is the aux data persisted after signing. It lets the device
// re-disclose the transaction keys later without the host ever storing them
// in the clear.
type TxKeyData struct {
	Version       uint32     `borsh:"version"`
	TxPrefixHash  keys.Hash  `borsh:"tx_prefix_hash"`
	Salt1         []byte     `borsh:"salt1"`
	Salt2         []byte     `borsh:"salt2"`
	TxEncKeys     []byte     `borsh:"tx_enc_keys"`
	ViewPublicKey keys.Point `borsh:"view_public_key"`
}

// Validate checks the version and that the encrypted keys are present.
func (d TxKeyData) Validate() error {
	if d.Version != TxKeyDataVersion {
		return errs.Encoding("unsupported tx key data version %d", d.Version)
	}
	if len(d.Salt1) == 0 || len(d.TxEncKeys) == 0 {
		return errs.Encoding("tx key data missing salt or encrypted keys")
	}
	return nil
}

// LoadTxKeyData decodes persisted aux data.
func LoadTxKeyData(blob []byte) (*TxKeyData, error) {
	var d TxKeyData
	if err := codec.Deserialize(blob, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// NewGetTxKeyRequest builds the device request for the stored keys.
func NewGetTxKeyRequest(d *TxKeyData, reason uint32) *GetTxKeyRequest {
	return &GetTxKeyRequest{
		Salt1:         d.Salt1,
		Salt2:         d.Salt2,
		TxEncKeys:     d.TxEncKeys,
		TxPrefixHash:  d.TxPrefixHash,
		Reason:        reason,
		ViewPublicKey: d.ViewPublicKey,
	}
}

// DecryptTxKeys opens the keys the device re-encrypted for the host.
func DecryptTxKeys(ack *GetTxKeyAck, view keys.Scalar, txPrefixHash keys.Hash) ([]keys.Scalar, error) {
	if ack == nil || len(ack.Salt) == 0 || len(ack.TxKeys) == 0 {
		return nil, errs.Protocol("tx key ack missing salt or keys")
	}

	enc := crypto.ComputeEncKey(view, txPrefixHash[:], ack.Salt)
	plaintext, err := crypto.OpenEnvelope(ack.TxKeys, enc[:])
	if err != nil {
		return nil, err
	}
	if len(plaintext) == 0 || len(plaintext)%keys.Size != 0 {
		return nil, errs.Protocol("tx keys length %d is not a multiple of %d", len(plaintext), keys.Size)
	}

	out := make([]keys.Scalar, len(plaintext)/keys.Size)
	for i := range out {
		copy(out[i][:], plaintext[i*keys.Size:])
	}
	return out, nil
}
