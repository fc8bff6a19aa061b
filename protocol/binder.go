package protocol

import (
	"encoding/binary"

	"github.com/anchorageoss/coldsign/crypto"
	"github.com/anchorageoss/coldsign/errs"
	"github.com/anchorageoss/coldsign/keys"
)

// HMAC domains bound during signing.
const (
	DomainDestination = "txdest"
	DomainInput       = "txin"
	DomainPseudoOut   = "txin_comm"
	DomainOutput      = "txout"
)

// HashAddress binds an address with an optional amount and subaddress flag:
//
//	H(spend || view || [amount u64 LE] || [flag])
//
// Including an optional field changes the digest, so both sides must agree on
// which fields are present.
func HashAddress(spend, view keys.Point, amount *uint64, isSubaddress *bool) keys.Hash {
	buf := make([]byte, 0, 2*keys.Size+9)
	buf = append(buf, spend[:]...)
	buf = append(buf, view[:]...)
	if amount != nil {
		buf = binary.LittleEndian.AppendUint64(buf, *amount)
	}
	if isSubaddress != nil {
		flag := byte(0)
		if *isSubaddress {
			flag = 1
		}
		buf = append(buf, flag)
	}
	return crypto.FastHash(buf)
}

// RecordHash hashes one transfer record:
//
//	H(out_key || tx_pub_key || additional_tx_pub_keys... || varint(internal_output_index))
func RecordHash(r *TransferRecord) keys.Hash {
	parts := make([][]byte, 0, 3+len(r.AdditionalTxPubKeys))
	parts = append(parts, r.OutKey[:], r.TxPubKey[:])
	for i := range r.AdditionalTxPubKeys {
		parts = append(parts, r.AdditionalTxPubKeys[i][:])
	}
	parts = append(parts, crypto.Varint(r.InternalOutputIndex))
	return crypto.FastHash(parts...)
}

// ComputeHash commits to a batch of transfer records in order.
func ComputeHash(records []TransferRecord) keys.Hash {
	parts := make([][]byte, len(records))
	for i := range records {
		h := RecordHash(&records[i])
		parts[i] = h[:]
	}
	return crypto.FastHash(parts...)
}

// Binder computes and checks the HMACs that bind values the device must echo.
// Both sides derive the key from the private view key and the session nonce
// sent at Init.
type Binder struct {
	key keys.Key
}

// NewBinder derives the session HMAC key.
func NewBinder(view keys.Scalar, nonce keys.Hash) *Binder {
	return &Binder{key: crypto.ComputeEncKey(view, []byte("hmac"), nonce[:])}
}

// MAC returns HMAC(key, domain || varint(index) || parts...).
func (b *Binder) MAC(domain string, index int, parts ...[]byte) []byte {
	all := make([][]byte, 0, 2+len(parts))
	all = append(all, []byte(domain), crypto.Varint(uint64(index)))
	all = append(all, parts...)
	return crypto.HMACKeccak(b.key[:], all...)
}

// Check compares an echoed HMAC with the local recomputation in constant time.
func (b *Binder) Check(echoed []byte, domain string, index int, parts ...[]byte) error {
	if len(echoed) == 0 {
		return errs.Protocol("missing %s hmac for index %d", domain, index)
	}
	if !crypto.EqualMAC(echoed, b.MAC(domain, index, parts...)) {
		return errs.Mismatch("%s hmac mismatch for index %d", domain, index)
	}
	return nil
}
