package protocol_test

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anchorageoss/coldsign/crypto"
	"github.com/anchorageoss/coldsign/errs"
	"github.com/anchorageoss/coldsign/internal/emulator"
	"github.com/anchorageoss/coldsign/keys"
	"github.com/anchorageoss/coldsign/protocol"
	"github.com/anchorageoss/coldsign/testdata"
	"github.com/anchorageoss/coldsign/wallet"
)

func liveRefresh(t *testing.T, f *testdata.Fixture, dev *emulator.Device, td *wallet.TransferDetails) *protocol.LiveRefreshStepAck {
	t.Helper()
	req, err := protocol.LiveRefreshStep(f.Account, td, crypto.Ed25519{})
	require.NoError(t, err)
	ack := &protocol.LiveRefreshStepAck{}
	require.NoError(t, dev.Call(context.Background(), req, ack))
	return ack
}

// reseal moves the payload of ack under the encryption key of another output.
func reseal(t *testing.T, f *testdata.Fixture, ack *protocol.LiveRefreshStepAck, from, to keys.Point, mutate func([]byte) []byte) *protocol.LiveRefreshStepAck {
	t.Helper()
	enc := crypto.ComputeEncKey(f.Keys.ViewSecret, from[:], ack.Salt)
	payload, err := crypto.OpenEnvelope(ack.KeyImage, enc[:])
	require.NoError(t, err)
	if mutate != nil {
		payload = mutate(payload)
	}
	enc = crypto.ComputeEncKey(f.Keys.ViewSecret, to[:], ack.Salt)
	sealed, err := crypto.SealEnvelope(payload, enc[:], rand.Reader)
	require.NoError(t, err)
	return &protocol.LiveRefreshStepAck{Salt: ack.Salt, KeyImage: sealed}
}

func TestLiveRefresh(t *testing.T) {
	f, err := testdata.NewFixture(2, 1, 4)
	require.NoError(t, err)
	dev := emulator.New(f.Keys.ViewSecret, f.OutputSecrets)
	td0, td1 := &f.Unsigned.Transfers[0], &f.Unsigned.Transfers[1]

	t.Run("verifies", func(t *testing.T) {
		ack := liveRefresh(t, f, dev, td0)
		ki, kp, err := protocol.VerifyAndDecode(ack, f.Keys.ViewSecret, td0.OutKey, crypto.Ed25519{})
		require.NoError(t, err)
		assert.Equal(t, td0.KeyImage, ki)
		assert.Equal(t, td0.OutKey, kp.Public)
		assert.True(t, keys.IsZero(kp.Secret))
		assert.NoError(t, protocol.CheckKnownKeyImage(td0, ki))
	})

	t.Run("substituted key image", func(t *testing.T) {
		ack := liveRefresh(t, f, dev, td1)
		forged := reseal(t, f, ack, td1.OutKey, td0.OutKey, nil)
		_, _, err := protocol.VerifyAndDecode(forged, f.Keys.ViewSecret, td0.OutKey, crypto.Ed25519{})
		assert.ErrorIs(t, err, errs.ErrCommitmentMismatch)
	})

	t.Run("flipped signature", func(t *testing.T) {
		ack := liveRefresh(t, f, dev, td0)
		forged := reseal(t, f, ack, td0.OutKey, td0.OutKey, func(p []byte) []byte {
			p[len(p)-1] ^= 0x01
			return p
		})
		_, _, err := protocol.VerifyAndDecode(forged, f.Keys.ViewSecret, td0.OutKey, crypto.Ed25519{})
		assert.Error(t, err)
	})

	t.Run("short payload", func(t *testing.T) {
		ack := liveRefresh(t, f, dev, td0)
		forged := reseal(t, f, ack, td0.OutKey, td0.OutKey, func(p []byte) []byte { return p[:64] })
		_, _, err := protocol.VerifyAndDecode(forged, f.Keys.ViewSecret, td0.OutKey, crypto.Ed25519{})
		assert.ErrorIs(t, err, errs.ErrProtocol)
	})

	t.Run("tampered envelope", func(t *testing.T) {
		ack := liveRefresh(t, f, dev, td0)
		ack.KeyImage[len(ack.KeyImage)-1] ^= 0x01
		_, _, err := protocol.VerifyAndDecode(ack, f.Keys.ViewSecret, td0.OutKey, crypto.Ed25519{})
		assert.ErrorIs(t, err, errs.ErrCrypto)
	})

	t.Run("wrong output key", func(t *testing.T) {
		ack := liveRefresh(t, f, dev, td0)
		_, _, err := protocol.VerifyAndDecode(ack, f.Keys.ViewSecret, td1.OutKey, crypto.Ed25519{})
		assert.ErrorIs(t, err, errs.ErrCrypto)
	})

	t.Run("missing fields", func(t *testing.T) {
		_, _, err := protocol.VerifyAndDecode(&protocol.LiveRefreshStepAck{}, f.Keys.ViewSecret, td0.OutKey, crypto.Ed25519{})
		assert.ErrorIs(t, err, errs.ErrProtocol)
	})
}

func TestKeyImageExport(t *testing.T) {
	f, err := testdata.NewFixture(12, 1, 4)
	require.NoError(t, err)
	dev := emulator.New(f.Keys.ViewSecret, f.OutputSecrets)
	ctx := context.Background()

	batch, err := protocol.BuildExportRequest(f.Account, f.Unsigned.Transfers)
	require.NoError(t, err)
	require.NoError(t, dev.Call(ctx, batch.InitRequest(), &protocol.KeyImageExportInitAck{}))

	steps := batch.StepRequests()
	require.Len(t, steps, 2)
	assert.Len(t, steps[0].Tdis, protocol.KeyImageSyncBatch)
	assert.Len(t, steps[1].Tdis, 2)

	var exported []protocol.ExportedKeyImage
	for _, step := range steps {
		ack := &protocol.KeyImageSyncStepAck{}
		require.NoError(t, dev.Call(ctx, step, ack))
		require.Len(t, ack.Kis, len(step.Tdis))
		exported = append(exported, ack.Kis...)
	}
	final := &protocol.KeyImageSyncFinalAck{}
	require.NoError(t, dev.Call(ctx, &protocol.KeyImageSyncFinalRequest{}, final))

	for i := range exported {
		td := &f.Unsigned.Transfers[i]
		ki, err := protocol.DecodeExportedKeyImage(final.EncKey, &exported[i], td.OutKey, crypto.Ed25519{})
		require.NoError(t, err, "transfer %d", i)
		assert.Equal(t, td.KeyImage, ki)
	}

	// a key image decoded against the wrong output fails its signature
	_, err = protocol.DecodeExportedKeyImage(final.EncKey, &exported[0], f.Unsigned.Transfers[1].OutKey, crypto.Ed25519{})
	assert.ErrorIs(t, err, errs.ErrCommitmentMismatch)

	bad := exported[0]
	bad.Blob = append([]byte(nil), bad.Blob...)
	bad.Blob[0] ^= 0x01
	_, err = protocol.DecodeExportedKeyImage(final.EncKey, &bad, f.Unsigned.Transfers[0].OutKey, crypto.Ed25519{})
	assert.ErrorIs(t, err, errs.ErrCrypto)
}

func TestKeyImageExportDetectsAlteredRecords(t *testing.T) {
	f, err := testdata.NewFixture(2, 1, 4)
	require.NoError(t, err)
	dev := emulator.New(f.Keys.ViewSecret, f.OutputSecrets)
	ctx := context.Background()

	batch, err := protocol.BuildExportRequest(f.Account, f.Unsigned.Transfers)
	require.NoError(t, err)
	require.NoError(t, dev.Call(ctx, batch.InitRequest(), &protocol.KeyImageExportInitAck{}))

	step := batch.StepRequests()[0]
	step.Tdis[1].InternalOutputIndex = 3
	require.NoError(t, dev.Call(ctx, step, &protocol.KeyImageSyncStepAck{}))

	err = dev.Call(ctx, &protocol.KeyImageSyncFinalRequest{}, &protocol.KeyImageSyncFinalAck{})
	var failure *protocol.Failure
	assert.ErrorAs(t, err, &failure)
}

func TestBuildExportRequest(t *testing.T) {
	f, err := testdata.NewFixture(4, 1, 4)
	require.NoError(t, err)

	_, err = protocol.BuildExportRequest(f.Account, nil)
	assert.ErrorIs(t, err, errs.ErrInvalidState)

	transfers := append([]wallet.TransferDetails(nil), f.Unsigned.Transfers...)
	transfers[0].SubaddrIndex = wallet.SubaddressIndex{Major: 1, Minor: 4}
	transfers[1].SubaddrIndex = wallet.SubaddressIndex{Major: 0, Minor: 2}
	transfers[2].SubaddrIndex = wallet.SubaddressIndex{Major: 1, Minor: 1}
	transfers[3].SubaddrIndex = wallet.SubaddressIndex{Major: 1, Minor: 4}

	batch, err := protocol.BuildExportRequest(f.Account, transfers)
	require.NoError(t, err)
	assert.Equal(t, []protocol.SubAddressIndices{
		{Account: 0, Minor: []uint32{2}},
		{Account: 1, Minor: []uint32{1, 4}},
	}, batch.Subs)
	assert.Equal(t, protocol.ComputeHash(batch.Records), batch.Hash)
	assert.Equal(t, uint64(4), batch.InitRequest().Num)

	transfers[0], transfers[1] = transfers[1], transfers[0]
	swapped, err := protocol.BuildExportRequest(f.Account, transfers)
	require.NoError(t, err)
	assert.NotEqual(t, batch.Hash, swapped.Hash)
}

func TestCheckKnownKeyImage(t *testing.T) {
	td := &wallet.TransferDetails{KeyImage: keys.KeyImage{1}, KeyImageKnown: true}
	assert.NoError(t, protocol.CheckKnownKeyImage(td, keys.KeyImage{1}))
	assert.ErrorIs(t, protocol.CheckKnownKeyImage(td, keys.KeyImage{2}), errs.ErrCommitmentMismatch)

	td.KeyImageKnown = false
	assert.NoError(t, protocol.CheckKnownKeyImage(td, keys.KeyImage{2}))
}
