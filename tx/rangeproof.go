package tx

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/anchorageoss/coldsign/codec"
	"github.com/anchorageoss/coldsign/errs"
	"github.com/anchorageoss/coldsign/keys"
)

// ProofKind identifies a range proof variant.
type ProofKind uint8

const (
	// KindBulletproof is the original Bulletproof.
	KindBulletproof ProofKind = 1
	// KindBulletproofPlus is the shorter Bulletproof+.
	KindBulletproofPlus ProofKind = 2
)

func (k ProofKind) String() string {
	switch k {
	case KindBulletproof:
		return "bulletproof"
	case KindBulletproofPlus:
		return "bulletproof+"
	default:
		return fmt.Sprintf("ProofKind(%d)", uint8(k))
	}
}

// bulletproofLogN is log2 of the 64-bit range.
const bulletproofLogN = 6

// RangeProof is an aggregated range proof over a batch of output commitments.
type RangeProof interface {
	Kind() ProofKind
	// Commitments returns the commitments V the proof is over.
	Commitments() []keys.Key
	// BindCommitments replaces V with the host's own commitments.
	BindCommitments(v []keys.Key)
	// Rounds returns the number of inner-product rounds (len(L)).
	Rounds() (int, error)
}

// Bulletproof is a legacy aggregated range proof.
type Bulletproof struct {
	V    []keys.Key `borsh:"V"`
	A    keys.Key   `borsh:"A"`
	S    keys.Key   `borsh:"S"`
	T1   keys.Key   `borsh:"T1"`
	T2   keys.Key   `borsh:"T2"`
	Taux keys.Key   `borsh:"taux"`
	Mu   keys.Key   `borsh:"mu"`
	L    []keys.Key `borsh:"L"`
	R    []keys.Key `borsh:"R"`
	Aa   keys.Key   `borsh:"a"`
	B    keys.Key   `borsh:"b"`
	T    keys.Key   `borsh:"t"`
}

func (p *Bulletproof) Kind() ProofKind              { return KindBulletproof }
func (p *Bulletproof) Commitments() []keys.Key      { return p.V }
func (p *Bulletproof) BindCommitments(v []keys.Key) { p.V = append([]keys.Key(nil), v...) }

func (p *Bulletproof) Rounds() (int, error) {
	if len(p.L) != len(p.R) {
		return 0, errors.New("L and R differ in length")
	}
	return len(p.L), nil
}

// BulletproofPlus is an extended aggregated range proof.
type BulletproofPlus struct {
	V  []keys.Key `borsh:"V"`
	A  keys.Key   `borsh:"A"`
	A1 keys.Key   `borsh:"A1"`
	B  keys.Key   `borsh:"B"`
	R1 keys.Key   `borsh:"r1"`
	S1 keys.Key   `borsh:"s1"`
	D1 keys.Key   `borsh:"d1"`
	L  []keys.Key `borsh:"L"`
	R  []keys.Key `borsh:"R"`
}

func (p *BulletproofPlus) Kind() ProofKind              { return KindBulletproofPlus }
func (p *BulletproofPlus) Commitments() []keys.Key      { return p.V }
func (p *BulletproofPlus) BindCommitments(v []keys.Key) { p.V = append([]keys.Key(nil), v...) }

func (p *BulletproofPlus) Rounds() (int, error) {
	if len(p.L) != len(p.R) {
		return 0, errors.New("L and R differ in length")
	}
	return len(p.L), nil
}

// ExpectedRounds returns the inner-product round count for a proof over n
// commitments: 6 + ceil(log2(n)).
func ExpectedRounds(n int) int {
	if n <= 1 {
		return bulletproofLogN
	}
	return bulletproofLogN + bits.Len(uint(n-1))
}

// NewProof returns an empty proof of the given kind.
func NewProof(kind ProofKind) (RangeProof, error) {
	switch kind {
	case KindBulletproof:
		return &Bulletproof{}, nil
	case KindBulletproofPlus:
		return &BulletproofPlus{}, nil
	default:
		return nil, errs.Encoding("unknown range proof kind %d", kind)
	}
}

type proofEnvelope struct {
	Kind    uint8  `borsh:"kind"`
	Payload []byte `borsh:"payload"`
}

// EncodeRangeProof encodes a proof with its kind tag.
func EncodeRangeProof(p RangeProof) ([]byte, error) {
	if p == nil {
		return nil, errs.Encoding("nil range proof")
	}
	payload, err := codec.Serialize(p)
	if err != nil {
		return nil, err
	}
	return codec.Serialize(proofEnvelope{Kind: uint8(p.Kind()), Payload: payload})
}

// DecodeRangeProof decodes a kind-tagged proof.
func DecodeRangeProof(data []byte) (RangeProof, error) {
	var env proofEnvelope
	if err := codec.Deserialize(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode range proof envelope: %w", err)
	}
	p, err := NewProof(ProofKind(env.Kind))
	if err != nil {
		return nil, err
	}
	if err := codec.Deserialize(env.Payload, p); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", ProofKind(env.Kind), err)
	}
	return p, nil
}

// StructuralVerifier checks that a proof is well formed for its commitments:
// at least one commitment, matching L/R lengths with the expected round
// count, and no zero group elements.
type StructuralVerifier struct{}

// Verify reports whether p passes the structural checks.
func (StructuralVerifier) Verify(p RangeProof) bool {
	if p == nil || len(p.Commitments()) == 0 {
		return false
	}
	rounds, err := p.Rounds()
	if err != nil || rounds != ExpectedRounds(len(p.Commitments())) {
		return false
	}

	var elems []keys.Key
	switch proof := p.(type) {
	case *Bulletproof:
		elems = []keys.Key{proof.A, proof.S, proof.T1, proof.T2, proof.Taux, proof.Mu, proof.Aa, proof.B, proof.T}
		elems = append(elems, proof.L...)
		elems = append(elems, proof.R...)
	case *BulletproofPlus:
		elems = []keys.Key{proof.A, proof.A1, proof.B, proof.R1, proof.S1, proof.D1}
		elems = append(elems, proof.L...)
		elems = append(elems, proof.R...)
	default:
		return false
	}
	for _, e := range elems {
		if keys.IsZero(e) {
			return false
		}
	}
	return true
}
