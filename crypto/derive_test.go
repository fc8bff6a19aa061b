package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anchorageoss/coldsign/errs"
	"github.com/anchorageoss/coldsign/keys"
)

func TestFastHashKnownVector(t *testing.T) {
	// Keccak-256 of the empty string
	h := FastHash()
	assert.Equal(t, "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", hex.EncodeToString(h[:]))

	// Inputs are concatenated without separators
	assert.Equal(t, FastHash([]byte("abc")), FastHash([]byte("a"), []byte("bc")))
}

func TestHMACKeccak(t *testing.T) {
	mac := HMACKeccak([]byte("key"), []byte("msg"))
	require.Len(t, mac, 32)
	assert.True(t, EqualMAC(mac, HMACKeccak([]byte("key"), []byte("m"), []byte("sg"))))
	assert.False(t, EqualMAC(mac, HMACKeccak([]byte("key2"), []byte("msg"))))
}

func TestVarint(t *testing.T) {
	assert.Equal(t, []byte{0x00}, Varint(0))
	assert.Equal(t, []byte{0x7f}, Varint(127))
	assert.Equal(t, []byte{0x80, 0x01}, Varint(128))
	assert.Equal(t, []byte{0xac, 0x02}, Varint(300))
}

func TestComputeEncKey(t *testing.T) {
	var view keys.Scalar
	view[0] = 7

	base := ComputeEncKey(view, []byte("prefix"), []byte("salt"))
	assert.Equal(t, base, ComputeEncKey(view, []byte("prefix"), []byte("salt")))

	var other keys.Scalar
	other[0] = 8
	assert.NotEqual(t, base, ComputeEncKey(other, []byte("prefix"), []byte("salt")))
	assert.NotEqual(t, base, ComputeEncKey(view, []byte("prefiy"), []byte("salt")))
	assert.NotEqual(t, base, ComputeEncKey(view, []byte("prefix"), []byte("salu")))
}

func TestSealingKeys(t *testing.T) {
	master := make([]byte, 32)
	master[5] = 1

	k0, err := ComputeSealingKey(master, 0, false)
	require.NoError(t, err)
	iv0, err := ComputeSealingKey(master, 0, true)
	require.NoError(t, err)
	k1, err := ComputeSealingKey(master, 1, false)
	require.NoError(t, err)

	assert.NotEqual(t, k0, iv0)
	assert.NotEqual(t, k0, k1)

	_, err = ComputeSealingKey(master, -1, false)
	assert.ErrorIs(t, err, errs.ErrCrypto)
	_, err = ComputeSealingKey(master, 1<<28, false)
	assert.ErrorIs(t, err, errs.ErrCrypto)

	t.Run("seal and open", func(t *testing.T) {
		sealed, err := Seal(master, 3, []byte("signature"))
		require.NoError(t, err)

		opened, err := OpenSealed(master, 3, sealed)
		require.NoError(t, err)
		assert.Equal(t, []byte("signature"), opened)

		_, err = OpenSealed(master, 2, sealed)
		assert.ErrorIs(t, err, errs.ErrCrypto)
	})
}
