package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anchorageoss/coldsign/errs"
	"github.com/anchorageoss/coldsign/keys"
)

func TestHashAddressFieldSensitivity(t *testing.T) {
	spend, view := keys.Point{1}, keys.Point{2}
	amount, other := uint64(5), uint64(6)
	yes, no := true, false

	base := HashAddress(spend, view, nil, nil)
	withAmount := HashAddress(spend, view, &amount, nil)
	withFlag := HashAddress(spend, view, nil, &no)
	both := HashAddress(spend, view, &amount, &no)

	digests := []keys.Hash{base, withAmount, withFlag, both,
		HashAddress(spend, view, &other, nil),
		HashAddress(spend, view, nil, &yes),
		HashAddress(spend, view, &amount, &yes),
		HashAddress(keys.Point{3}, view, nil, nil),
		HashAddress(spend, keys.Point{3}, nil, nil),
	}
	seen := make(map[keys.Hash]int)
	for i, d := range digests {
		if j, ok := seen[d]; ok {
			t.Fatalf("digest %d collides with digest %d", i, j)
		}
		seen[d] = i
	}

	assert.Equal(t, base, HashAddress(spend, view, nil, nil))
}

func TestComputeHashOrderSensitive(t *testing.T) {
	a := TransferRecord{OutKey: keys.Point{1}, TxPubKey: keys.Point{2}, InternalOutputIndex: 0}
	b := TransferRecord{OutKey: keys.Point{3}, TxPubKey: keys.Point{4}, InternalOutputIndex: 1}

	assert.NotEqual(t, ComputeHash([]TransferRecord{a, b}), ComputeHash([]TransferRecord{b, a}))

	c := a
	c.InternalOutputIndex = 7
	assert.NotEqual(t, RecordHash(&a), RecordHash(&c))

	d := a
	d.AdditionalTxPubKeys = []keys.Point{{9}}
	assert.NotEqual(t, RecordHash(&a), RecordHash(&d))
}

func TestBinder(t *testing.T) {
	b := NewBinder(keys.Scalar{7}, keys.Hash{1})
	mac := b.MAC(DomainInput, 0, []byte("src"), []byte("vini"))

	require.NoError(t, b.Check(mac, DomainInput, 0, []byte("src"), []byte("vini")))

	t.Run("index bound", func(t *testing.T) {
		assert.ErrorIs(t, b.Check(mac, DomainInput, 1, []byte("src"), []byte("vini")), errs.ErrCommitmentMismatch)
	})
	t.Run("domain bound", func(t *testing.T) {
		assert.ErrorIs(t, b.Check(mac, DomainOutput, 0, []byte("src"), []byte("vini")), errs.ErrCommitmentMismatch)
	})
	t.Run("nonce bound", func(t *testing.T) {
		other := NewBinder(keys.Scalar{7}, keys.Hash{2})
		assert.ErrorIs(t, other.Check(mac, DomainInput, 0, []byte("src"), []byte("vini")), errs.ErrCommitmentMismatch)
	})
	t.Run("flipped byte", func(t *testing.T) {
		bad := append([]byte(nil), mac...)
		bad[3] ^= 0x01
		assert.ErrorIs(t, b.Check(bad, DomainInput, 0, []byte("src"), []byte("vini")), errs.ErrCommitmentMismatch)
	})
	t.Run("missing", func(t *testing.T) {
		assert.ErrorIs(t, b.Check(nil, DomainInput, 0, []byte("src")), errs.ErrProtocol)
	})
}
