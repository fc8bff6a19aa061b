package tx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anchorageoss/coldsign/errs"
	"github.com/anchorageoss/coldsign/keys"
)

func filled(seed byte) keys.Key {
	var k keys.Key
	for i := range k {
		k[i] = seed ^ byte(i+1)
	}
	return k
}

func filledSlice(n int, seed byte) []keys.Key {
	out := make([]keys.Key, n)
	for i := range out {
		out[i] = filled(seed + byte(i))
	}
	return out
}

func sampleBulletproof(commitments int) *Bulletproof {
	rounds := ExpectedRounds(commitments)
	return &Bulletproof{
		V: filledSlice(commitments, 1),
		A: filled(10), S: filled(11), T1: filled(12), T2: filled(13),
		Taux: filled(14), Mu: filled(15),
		L: filledSlice(rounds, 20), R: filledSlice(rounds, 40),
		Aa: filled(16), B: filled(17), T: filled(18),
	}
}

func sampleBulletproofPlus(commitments int) *BulletproofPlus {
	rounds := ExpectedRounds(commitments)
	return &BulletproofPlus{
		V: filledSlice(commitments, 1),
		A: filled(10), A1: filled(11), B: filled(12), R1: filled(13), S1: filled(14), D1: filled(15),
		L: filledSlice(rounds, 20), R: filledSlice(rounds, 40),
	}
}

func TestRangeProofEnvelope(t *testing.T) {
	tests := []struct {
		name  string
		proof RangeProof
	}{
		{"bulletproof", sampleBulletproof(2)},
		{"bulletproof plus", sampleBulletproofPlus(3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeRangeProof(tt.proof)
			require.NoError(t, err)

			got, err := DecodeRangeProof(data)
			require.NoError(t, err)
			assert.Equal(t, tt.proof.Kind(), got.Kind())
			assert.Equal(t, tt.proof, got)
		})
	}

	t.Run("unknown kind", func(t *testing.T) {
		data, err := EncodeRangeProof(sampleBulletproof(1))
		require.NoError(t, err)
		data[0] = 9
		_, err = DecodeRangeProof(data)
		assert.ErrorIs(t, err, errs.ErrEncoding)
	})

	t.Run("nil proof", func(t *testing.T) {
		_, err := EncodeRangeProof(nil)
		assert.ErrorIs(t, err, errs.ErrEncoding)
	})
}

func TestExpectedRounds(t *testing.T) {
	tests := map[int]int{1: 6, 2: 7, 3: 8, 4: 8, 5: 9, 8: 9, 16: 10}
	for n, want := range tests {
		assert.Equal(t, want, ExpectedRounds(n), "n=%d", n)
	}
}

func TestStructuralVerifier(t *testing.T) {
	var v StructuralVerifier

	assert.True(t, v.Verify(sampleBulletproof(2)))
	assert.True(t, v.Verify(sampleBulletproofPlus(5)))

	t.Run("round count must match commitments", func(t *testing.T) {
		p := sampleBulletproof(2)
		p.BindCommitments(filledSlice(5, 3))
		assert.False(t, v.Verify(p))
	})

	t.Run("L and R lengths differ", func(t *testing.T) {
		p := sampleBulletproofPlus(2)
		p.R = p.R[1:]
		assert.False(t, v.Verify(p))
	})

	t.Run("zero element", func(t *testing.T) {
		p := sampleBulletproof(1)
		p.Taux = keys.Key{}
		assert.False(t, v.Verify(p))
	})

	t.Run("no commitments", func(t *testing.T) {
		p := sampleBulletproof(1)
		p.BindCommitments(nil)
		assert.False(t, v.Verify(p))
		assert.False(t, v.Verify(nil))
	})
}

func TestRctSigProofs(t *testing.T) {
	var rv RctSig
	rv.AddProof(sampleBulletproof(1))
	rv.AddProof(sampleBulletproofPlus(1))
	require.Len(t, rv.Bulletproofs, 1)
	require.Len(t, rv.BulletproofsPlus, 1)
	assert.Len(t, rv.Proofs(), 2)
}

func samplePrefix() *Prefix {
	return &Prefix{
		Version:    2,
		UnlockTime: 0,
		Vin: []TxInToKey{
			{KeyOffsets: []uint64{10, 3, 1}, KeyImage: keys.KeyImage(filled(1))},
		},
		Vout: []TxOut{
			{Key: keys.Point(filled(2)), HasViewTag: true, ViewTag: 7},
		},
		Extra: ExtraPubKey(keys.Point(filled(3))),
	}
}

func TestPrefixHash(t *testing.T) {
	p := samplePrefix()
	h1, err := p.Hash()
	require.NoError(t, err)

	h2, err := samplePrefix().Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	p.Vout[0].ViewTag = 8
	h3, err := p.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestPreSignatureHash(t *testing.T) {
	rv := &RctSig{
		Type:       RCTTypeCLSAG,
		TxnFee:     1000,
		Message:    filled(1),
		PseudoOuts: filledSlice(2, 5),
		EcdhInfo:   []EcdhTuple{{Amount: filled(6)}},
		OutPk:      []CtKey{{Dest: filled(7), Mask: filled(8)}},
	}
	rv.AddProof(sampleBulletproof(1))

	h1, err := PreSignatureHash(rv)
	require.NoError(t, err)

	// Signatures are not covered
	rv.CLSAGs = []Clsag{{S: filledSlice(2, 9), C1: filled(1), D: filled(2)}}
	h2, err := PreSignatureHash(rv)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	// Proofs are
	rv.Bulletproofs[0].Mu = filled(99)
	h3, err := PreSignatureHash(rv)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)

	rv.TxnFee++
	h4, err := PreSignatureHash(rv)
	require.NoError(t, err)
	assert.NotEqual(t, h3, h4)
}

func TestExtractPaymentID(t *testing.T) {
	pub := ExtraPubKey(keys.Point(filled(1)))
	id := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}

	t.Run("encrypted id after pub key", func(t *testing.T) {
		extra := append(append([]byte{}, pub...), ExtraEncryptedPaymentID(id)...)
		got, ok := ExtractPaymentID(extra)
		require.True(t, ok)
		assert.Equal(t, id[:], got)
	})

	t.Run("plain 32-byte id", func(t *testing.T) {
		plain := filled(4)
		extra := append([]byte{ExtraTagNonce, 33, NonceTagPaymentID}, plain[:]...)
		got, ok := ExtractPaymentID(extra)
		require.True(t, ok)
		assert.Equal(t, plain[:], got)
	})

	t.Run("no nonce", func(t *testing.T) {
		_, ok := ExtractPaymentID(pub)
		assert.False(t, ok)
	})

	t.Run("truncated nonce", func(t *testing.T) {
		_, ok := ExtractPaymentID([]byte{ExtraTagNonce, 9, NonceTagEncryptedPaymentID, 1})
		assert.False(t, ok)
	})

	t.Run("unknown tag", func(t *testing.T) {
		_, ok := ExtractPaymentID([]byte{0x7f, 1, 2})
		assert.False(t, ok)
	})
}
