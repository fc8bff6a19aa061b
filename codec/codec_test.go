package codec

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anchorageoss/coldsign/errs"
)

type record struct {
	Amount  uint64
	Key     [32]byte
	Offsets []uint64
	Label   string
	Flag    bool
}

type bounded struct {
	Items []uint32
}

func (b bounded) Validate() error {
	if len(b.Items) > 3 {
		return errors.New("too many items")
	}
	return nil
}

func sampleRecord() record {
	r := record{Amount: 1_000_000, Offsets: []uint64{5, 9, 1}, Label: "change", Flag: true}
	for i := range r.Key {
		r.Key[i] = byte(i)
	}
	return r
}

func TestRoundTrip(t *testing.T) {
	in := sampleRecord()

	data, err := Serialize(in)
	require.NoError(t, err)

	var out record
	require.NoError(t, Deserialize(data, &out))
	assert.Equal(t, in, out)

	t.Run("pointer input encodes the value", func(t *testing.T) {
		viaPtr, err := Serialize(&in)
		require.NoError(t, err)
		assert.Equal(t, data, viaPtr)
	})
}

func TestDeserializeRejectsMalformed(t *testing.T) {
	data, err := Serialize(sampleRecord())
	require.NoError(t, err)

	t.Run("trailing bytes", func(t *testing.T) {
		var out record
		err := Deserialize(append(append([]byte{}, data...), 0), &out)
		assert.ErrorIs(t, err, errs.ErrEncoding)
	})

	t.Run("truncated", func(t *testing.T) {
		for _, n := range []int{0, 1, 8, 40, len(data) - 1} {
			var out record
			err := Deserialize(data[:n], &out)
			assert.ErrorIs(t, err, errs.ErrEncoding, "length %d", n)
		}
	})

	t.Run("non-canonical bool", func(t *testing.T) {
		bad := append([]byte{}, data...)
		bad[len(bad)-1] = 2
		var out record
		err := Deserialize(bad, &out)
		assert.ErrorIs(t, err, errs.ErrEncoding)
	})

	t.Run("oversized length prefix", func(t *testing.T) {
		type failure struct {
			Code    uint32
			Message string
		}
		cases := map[string][]byte{
			"string":     {0, 0, 0, 0, 0, 0, 0, 0x10},
			"max":        {0, 0, 0, 0, 0xff, 0xff, 0xff, 0xff},
			"off by one": {0, 0, 0, 0, 3, 0, 0, 0, 'a', 'b'},
		}
		for name, raw := range cases {
			var before, after runtime.MemStats
			runtime.ReadMemStats(&before)
			var out failure
			err := Deserialize(raw, &out)
			runtime.ReadMemStats(&after)
			assert.ErrorIs(t, err, errs.ErrEncoding, name)
			assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20), name)
		}
	})

	t.Run("oversized nested slice", func(t *testing.T) {
		type batch struct {
			Labels []string
			Keys   [][32]byte
		}
		var out batch
		// one label claiming 2^28 bytes
		err := Deserialize([]byte{1, 0, 0, 0, 0, 0, 0, 0x10, 'x'}, &out)
		assert.ErrorIs(t, err, errs.ErrEncoding)
		// two keys with only one present
		raw := append([]byte{0, 0, 0, 0, 2, 0, 0, 0}, make([]byte, 32)...)
		err = Deserialize(raw, &out)
		assert.ErrorIs(t, err, errs.ErrEncoding)
	})

	t.Run("non-pointer target", func(t *testing.T) {
		var out record
		err := Deserialize(data, out)
		assert.ErrorIs(t, err, errs.ErrEncoding)
	})
}

func TestValidator(t *testing.T) {
	_, err := Serialize(bounded{Items: []uint32{1, 2, 3, 4}})
	assert.ErrorIs(t, err, errs.ErrEncoding)

	ok, err := Serialize(bounded{Items: []uint32{1, 2}})
	require.NoError(t, err)

	var out bounded
	require.NoError(t, Deserialize(ok, &out))
	assert.Equal(t, []uint32{1, 2}, out.Items)

	// Four items encode fine at the borsh layer but fail validation on decode
	raw := []byte{4, 0, 0, 0, 1, 0, 0, 0, 2, 0, 0, 0, 3, 0, 0, 0, 4, 0, 0, 0}
	err = Deserialize(raw, &out)
	assert.ErrorIs(t, err, errs.ErrEncoding)
}

func TestSerializeNil(t *testing.T) {
	var r *record
	_, err := Serialize(r)
	assert.ErrorIs(t, err, errs.ErrEncoding)

	_, err = Serialize(nil)
	assert.ErrorIs(t, err, errs.ErrEncoding)
}

func TestDeserializeHelpers(t *testing.T) {
	in := sampleRecord()
	data, err := Serialize(in)
	require.NoError(t, err)

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "record.bin")
		require.NoError(t, os.WriteFile(path, data, 0o600))

		var out record
		raw, err := DeserializeFile(path, &out)
		require.NoError(t, err)
		assert.Equal(t, data, raw)
		assert.Equal(t, in, out)

		_, err = DeserializeFile(filepath.Join(t.TempDir(), "missing"), &out)
		assert.Error(t, err)
	})

	t.Run("base64", func(t *testing.T) {
		var out record
		_, err := DeserializeBase64(base64.StdEncoding.EncodeToString(data), &out)
		require.NoError(t, err)
		assert.Equal(t, in, out)

		_, err = DeserializeBase64("not base64!", &out)
		assert.ErrorIs(t, err, errs.ErrEncoding)
	})
}
