package protocol

import (
	"math/bits"

	"github.com/anchorageoss/coldsign/errs"
	"github.com/anchorageoss/coldsign/keys"
	"github.com/anchorageoss/coldsign/tx"
	"github.com/anchorageoss/coldsign/wallet"
)

// DefaultMaxOutputs is the largest aggregated range proof batch.
const DefaultMaxOutputs = 16

// RangeProver computes range proofs on the host when proving is not
// offloaded to the device.
type RangeProver interface {
	Prove(kind tx.ProofKind, amounts []uint64, masks []keys.Key) (tx.RangeProof, error)
}

// RangeVerifier checks a range proof received from the device.
type RangeVerifier interface {
	Verify(p tx.RangeProof) bool
}

// BatchPolicy decides how outputs are grouped into aggregated proofs.
type BatchPolicy struct {
	// MaxOutputs bounds a batch. Zero means DefaultMaxOutputs.
	MaxOutputs int
	// PerOutput proves every output on its own.
	PerOutput bool
}

// Grouping returns the batch sizes for n outputs. Batches larger than one
// are powers of two when the outputs do not fit a single batch.
func (p BatchPolicy) Grouping(n int) []uint64 {
	if n <= 0 {
		return nil
	}
	if p.PerOutput {
		out := make([]uint64, n)
		for i := range out {
			out[i] = 1
		}
		return out
	}

	limit := p.MaxOutputs
	if limit <= 0 {
		limit = DefaultMaxOutputs
	}
	if n <= limit {
		return []uint64{uint64(n)}
	}

	var out []uint64
	for rem := n; rem > 0; {
		size := 1 << (bits.Len(uint(min(rem, limit))) - 1)
		out = append(out, uint64(size))
		rem -= size
	}
	return out
}

// ProofScheme is the range proof and ring signature combination negotiated
// for a transaction.
type ProofScheme struct {
	Kind      tx.ProofKind
	BpVersion uint8
	CLSAG     bool
	RctType   uint8
}

// NewProofScheme derives the scheme from the wallet's RCT config. A non-zero
// bpOverride replaces the configured Bulletproof version.
func NewProofScheme(cfg wallet.RCTConfig, bpOverride uint8) (ProofScheme, error) {
	if cfg.RangeProofType == wallet.RangeProofBorromean {
		return ProofScheme{}, errs.Protocol("borromean range proofs are not supported")
	}

	bp := cfg.BpVersion
	if bpOverride != 0 {
		bp = bpOverride
	}

	s := ProofScheme{BpVersion: bp, CLSAG: bp >= 3}
	switch bp {
	case 1:
		s.Kind, s.RctType = tx.KindBulletproof, tx.RCTTypeBulletproof
	case 2:
		s.Kind, s.RctType = tx.KindBulletproof, tx.RCTTypeBulletproof2
	case 3:
		s.Kind, s.RctType = tx.KindBulletproof, tx.RCTTypeCLSAG
	case 4:
		s.Kind, s.RctType = tx.KindBulletproofPlus, tx.RCTTypeBulletproofPlus
	default:
		return ProofScheme{}, errs.Protocol("unsupported bulletproof version %d", bp)
	}
	return s, nil
}
