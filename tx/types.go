// Package tx models RingCT transactions as assembled by the host: the
// transaction prefix, the RingCT signature section and the range proofs.
//
// All types encode with the codec package. Hashes over them (the prefix
// hash and the pre-signature message hash) are computed on that encoding, so
// the host and the device agree on them byte for byte.
package tx

import (
	"github.com/anchorageoss/coldsign/keys"
)

// RingCT signature types.
const (
	RCTTypeNull            uint8 = 0
	RCTTypeFull            uint8 = 1
	RCTTypeSimple          uint8 = 2
	RCTTypeBulletproof     uint8 = 3
	RCTTypeBulletproof2    uint8 = 4
	RCTTypeCLSAG           uint8 = 5
	RCTTypeBulletproofPlus uint8 = 6
)

// CtKey pairs an output key with its amount commitment.
type CtKey struct {
	Dest keys.Key `borsh:"dest"`
	Mask keys.Key `borsh:"mask"`
}

// TxInToKey spends one output out of a ring.
type TxInToKey struct {
	Amount     uint64        `borsh:"amount"`
	KeyOffsets []uint64      `borsh:"key_offsets"`
	KeyImage   keys.KeyImage `borsh:"k_image"`
}

// TxOut is a transaction output.
type TxOut struct {
	Amount     uint64     `borsh:"amount"`
	Key        keys.Point `borsh:"key"`
	HasViewTag bool       `borsh:"has_view_tag"`
	ViewTag    uint8      `borsh:"view_tag"`
}

// Prefix is the signed part of a transaction outside the RingCT section.
type Prefix struct {
	Version    uint64      `borsh:"version"`
	UnlockTime uint64      `borsh:"unlock_time"`
	Vin        []TxInToKey `borsh:"vin"`
	Vout       []TxOut     `borsh:"vout"`
	Extra      []byte      `borsh:"extra"`
}

// EcdhTuple carries the encrypted amount of an output. Compact tuples keep
// only the first 8 bytes of Amount and leave Mask zero.
type EcdhTuple struct {
	Mask   keys.Key `borsh:"mask"`
	Amount keys.Key `borsh:"amount"`
}

// Clsag is a CLSAG ring signature.
type Clsag struct {
	S  []keys.Key `borsh:"s"`
	C1 keys.Key   `borsh:"c1"`
	D  keys.Key   `borsh:"D"`
}

// MgSig is an MLSAG ring signature.
type MgSig struct {
	SS [][]keys.Key `borsh:"ss"`
	CC keys.Key     `borsh:"cc"`
}

// RctSig is the RingCT section: the base (type, fee, amounts and
// commitments) plus the prunable proofs and signatures.
type RctSig struct {
	Type       uint8       `borsh:"type"`
	TxnFee     uint64      `borsh:"txn_fee"`
	Message    keys.Key    `borsh:"message"`
	PseudoOuts []keys.Key  `borsh:"pseudo_outs"`
	EcdhInfo   []EcdhTuple `borsh:"ecdh_info"`
	OutPk      []CtKey     `borsh:"out_pk"`

	Bulletproofs     []Bulletproof     `borsh:"bulletproofs"`
	BulletproofsPlus []BulletproofPlus `borsh:"bulletproofs_plus"`
	CLSAGs           []Clsag           `borsh:"clsags"`
	MGs              []MgSig           `borsh:"mgs"`
}

// Transaction is a fully assembled transaction.
type Transaction struct {
	Prefix Prefix `borsh:"prefix"`
	Rct    RctSig `borsh:"rct_signatures"`
}

// NumSignatures returns the number of populated ring signatures.
func (r *RctSig) NumSignatures() int {
	return len(r.CLSAGs) + len(r.MGs)
}

// Proofs returns the range proofs of the transaction in order.
func (r *RctSig) Proofs() []RangeProof {
	out := make([]RangeProof, 0, len(r.Bulletproofs)+len(r.BulletproofsPlus))
	for i := range r.Bulletproofs {
		out = append(out, &r.Bulletproofs[i])
	}
	for i := range r.BulletproofsPlus {
		out = append(out, &r.BulletproofsPlus[i])
	}
	return out
}

// AddProof appends p to the slice matching its kind.
func (r *RctSig) AddProof(p RangeProof) {
	switch proof := p.(type) {
	case *Bulletproof:
		r.Bulletproofs = append(r.Bulletproofs, *proof)
	case *BulletproofPlus:
		r.BulletproofsPlus = append(r.BulletproofsPlus, *proof)
	}
}
