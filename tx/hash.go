package tx

import (
	"fmt"

	"github.com/anchorageoss/coldsign/codec"
	"github.com/anchorageoss/coldsign/crypto"
	"github.com/anchorageoss/coldsign/keys"
)

type rctBase struct {
	Type       uint8       `borsh:"type"`
	TxnFee     uint64      `borsh:"txn_fee"`
	PseudoOuts []keys.Key  `borsh:"pseudo_outs"`
	EcdhInfo   []EcdhTuple `borsh:"ecdh_info"`
	OutPk      []CtKey     `borsh:"out_pk"`
}

type rctProofs struct {
	Bulletproofs     []Bulletproof     `borsh:"bulletproofs"`
	BulletproofsPlus []BulletproofPlus `borsh:"bulletproofs_plus"`
}

// Hash returns the transaction prefix hash.
func (p *Prefix) Hash() (keys.Hash, error) {
	b, err := codec.Serialize(p)
	if err != nil {
		return keys.Hash{}, fmt.Errorf("failed to serialize tx prefix: %w", err)
	}
	return crypto.FastHash(b), nil
}

// PreSignatureHash returns the message ring signatures commit to:
// H(message || H(base) || H(proofs)).
func PreSignatureHash(rv *RctSig) (keys.Hash, error) {
	base, err := codec.Serialize(rctBase{
		Type:       rv.Type,
		TxnFee:     rv.TxnFee,
		PseudoOuts: rv.PseudoOuts,
		EcdhInfo:   rv.EcdhInfo,
		OutPk:      rv.OutPk,
	})
	if err != nil {
		return keys.Hash{}, fmt.Errorf("failed to serialize rct base: %w", err)
	}
	proofs, err := codec.Serialize(rctProofs{
		Bulletproofs:     rv.Bulletproofs,
		BulletproofsPlus: rv.BulletproofsPlus,
	})
	if err != nil {
		return keys.Hash{}, fmt.Errorf("failed to serialize range proofs: %w", err)
	}

	baseHash := crypto.FastHash(base)
	proofHash := crypto.FastHash(proofs)
	return crypto.FastHash(rv.Message[:], baseHash[:], proofHash[:]), nil
}

// Hash returns the hash of the full transaction encoding.
func (t *Transaction) Hash() (keys.Hash, error) {
	b, err := codec.Serialize(t)
	if err != nil {
		return keys.Hash{}, fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return crypto.FastHash(b), nil
}
