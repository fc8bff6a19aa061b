package protocol

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/anchorageoss/coldsign/crypto"
	"github.com/anchorageoss/coldsign/keys"
	"github.com/anchorageoss/coldsign/tx"
	"github.com/anchorageoss/coldsign/wallet"
)

// DefaultClientVersion is the protocol revision spoken by default. Version 3
// seals signatures until Final and carries the input order in AllInputsSet.
const DefaultClientVersion = 3

// Phase is the position of a signing session in the protocol.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseSetInput
	PhaseInputVini
	PhaseAllInputsSet
	PhaseSetOutput
	PhaseRangeProof
	PhaseAllOutputsSet
	PhaseSignInput
	PhaseFinal
	PhaseDone
	PhaseFailed
)

var phaseNames = [...]string{
	"init", "set_input", "input_vini", "all_inputs_set", "set_output",
	"range_proof", "all_outputs_set", "sign_input", "final", "done", "failed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Config tunes the engine. The zero value is usable.
type Config struct {
	// ClientVersion is the protocol revision. Zero means DefaultClientVersion.
	ClientVersion uint32
	// Policy groups outputs into range proof batches.
	Policy BatchPolicy
	// Prover computes range proofs on the host. When nil the host asks the
	// device to prove.
	Prover RangeProver
	// Verifier checks offloaded proofs. The default, tx.StructuralVerifier,
	// only checks that a proof is well formed and does not verify it.
	// Production callers must supply a real Bulletproof verifier.
	Verifier RangeVerifier
	// Primitives back key image verification. Defaults to crypto.Ed25519.
	Primitives Primitives
	// Rand is the randomness source. Defaults to crypto/rand.
	Rand io.Reader
}

func (c Config) withDefaults() Config {
	if c.ClientVersion == 0 {
		c.ClientVersion = DefaultClientVersion
	}
	if c.Verifier == nil {
		c.Verifier = tx.StructuralVerifier{}
	}
	if c.Primitives == nil {
		c.Primitives = crypto.Ed25519{}
	}
	if c.Rand == nil {
		c.Rand = rand.Reader
	}
	return c
}

// WithDefaults returns c with unset fields filled in.
func (c Config) WithDefaults() Config { return c.withDefaults() }

// session is the plain state record of one signing run. Input slices are
// indexed in session order, which is the permuted order the device sees.
type session struct {
	id      uuid.UUID
	phase   Phase
	pending string

	txIdx    int
	unsigned *wallet.UnsignedTxSet
	cd       *wallet.TxConstructionData
	aux      *wallet.TxAuxData

	initialized   bool
	clientVersion uint32
	tsx           TransactionData
	binder        *Binder
	perm          Permutation
	expectedKIs   []keys.KeyImage
	scheme        ProofScheme
	offload       bool
	negotiated    bool
	grouping      []uint64

	inputCursor int
	viniCursor  int
	vini        [][]byte
	viniHMAC    [][]byte
	pseudoOut   [][]byte
	pseudoHMAC  [][]byte
	alpha       [][]byte
	spendKey    [][]byte
	vin         []tx.TxInToKey
	pseudoOuts  []keys.Key

	dstHMACs       [][]byte
	outputCursor   int
	batchCursor    int
	batchStart     int
	outputsInBatch int
	vout           []tx.TxOut
	outPk          []tx.CtKey
	ecdh           []tx.EcdhTuple
	masks          []keys.Key
	proofs         []tx.RangeProof

	prefixHash  keys.Hash
	fullMessage keys.Hash
	tx          *tx.Transaction

	signCursor int
	sealedSigs [][]byte

	salt     []byte
	randMult []byte
	encKeys  []byte
}

func (s *session) numInputs() int  { return len(s.cd.Sources) }
func (s *session) numOutputs() int { return len(s.cd.SplittedDsts) }
