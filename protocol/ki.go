package protocol

import (
	"sort"

	"github.com/anchorageoss/coldsign/crypto"
	"github.com/anchorageoss/coldsign/errs"
	"github.com/anchorageoss/coldsign/keys"
	"github.com/anchorageoss/coldsign/wallet"
)

// KeyImageSyncBatch is the maximum number of records per sync step.
const KeyImageSyncBatch = 10

// keyImagePayloadSize is ki || c || r.
const keyImagePayloadSize = 3 * keys.Size

// Primitives are the curve operations key image verification relies on.
type Primitives interface {
	InSubgroup(ki keys.KeyImage) bool
	CheckRingSignature(prefix keys.Hash, ki keys.KeyImage, pubs []keys.Point, sigs []keys.Signature) bool
	GenerateKeyDerivation(pub keys.Point, secret keys.Scalar) (keys.Point, error)
}

// KeyImageExportBatch is a batch of transfers prepared for key image export.
// It is built per sync call and discarded afterwards.
type KeyImageExportBatch struct {
	Records []TransferRecord
	Hash    keys.Hash
	Subs    []SubAddressIndices
}

// BuildExportRequest maps wallet transfers to transport records and commits
// to them in order.
func BuildExportRequest(shim wallet.Shim, transfers []wallet.TransferDetails) (*KeyImageExportBatch, error) {
	if len(transfers) == 0 {
		return nil, errs.InvalidState("no transfers to export")
	}

	batch := &KeyImageExportBatch{Records: make([]TransferRecord, len(transfers))}
	minors := make(map[uint32]map[uint32]struct{})

	for i := range transfers {
		td := &transfers[i]
		batch.Records[i] = TransferRecord{
			OutKey:              td.OutKey,
			TxPubKey:            shim.TxPubKey(td),
			AdditionalTxPubKeys: append([]keys.Point(nil), td.AdditionalTxPubKeys...),
			InternalOutputIndex: td.InternalOutputIndex,
			SubAddrMajor:        td.SubaddrIndex.Major,
			SubAddrMinor:        td.SubaddrIndex.Minor,
		}
		if minors[td.SubaddrIndex.Major] == nil {
			minors[td.SubaddrIndex.Major] = make(map[uint32]struct{})
		}
		minors[td.SubaddrIndex.Major][td.SubaddrIndex.Minor] = struct{}{}
	}

	batch.Hash = ComputeHash(batch.Records)

	for major, set := range minors {
		sub := SubAddressIndices{Account: major}
		for minor := range set {
			sub.Minor = append(sub.Minor, minor)
		}
		sort.Slice(sub.Minor, func(a, b int) bool { return sub.Minor[a] < sub.Minor[b] })
		batch.Subs = append(batch.Subs, sub)
	}
	sort.Slice(batch.Subs, func(a, b int) bool { return batch.Subs[a].Account < batch.Subs[b].Account })

	return batch, nil
}

// InitRequest returns the export init request committing to the batch.
func (b *KeyImageExportBatch) InitRequest() *KeyImageExportInitRequest {
	return &KeyImageExportInitRequest{
		Num:  uint64(len(b.Records)),
		Hash: b.Hash,
		Subs: b.Subs,
	}
}

// StepRequests splits the records into sync steps.
func (b *KeyImageExportBatch) StepRequests() []*KeyImageSyncStepRequest {
	var steps []*KeyImageSyncStepRequest
	for start := 0; start < len(b.Records); start += KeyImageSyncBatch {
		end := min(start+KeyImageSyncBatch, len(b.Records))
		steps = append(steps, &KeyImageSyncStepRequest{Tdis: b.Records[start:end]})
	}
	return steps
}

// verifyKeyImagePayload decodes ki || c || r and checks the size-1 ring
// signature proving the device knows the secret of outKey.
func verifyKeyImagePayload(plaintext []byte, outKey keys.Point, prims Primitives) (keys.KeyImage, error) {
	if len(plaintext) != keyImagePayloadSize {
		return keys.KeyImage{}, errs.Protocol("key image payload must be %d bytes, got %d", keyImagePayloadSize, len(plaintext))
	}

	ki, err := keys.StringToKey[keys.KeyImage](plaintext[:keys.Size])
	if err != nil {
		return keys.KeyImage{}, err
	}
	sig, err := keys.SignatureFromBytes(plaintext[keys.Size:])
	if err != nil {
		return keys.KeyImage{}, err
	}

	if !prims.InSubgroup(ki) {
		return keys.KeyImage{}, errs.Mismatch("key image %s is not in the prime-order subgroup", ki)
	}
	if !prims.CheckRingSignature(keys.Hash(ki), ki, []keys.Point{outKey}, []keys.Signature{sig}) {
		return keys.KeyImage{}, errs.Mismatch("key image %s signature does not verify for output %s", ki, outKey)
	}
	return ki, nil
}

// VerifyAndDecode decrypts and verifies a live refresh key image. The
// returned key pair carries only the public output key; the secret stays on
// the device.
func VerifyAndDecode(ack *LiveRefreshStepAck, view keys.Scalar, outKey keys.Point, prims Primitives) (keys.KeyImage, keys.KeyPair, error) {
	if ack == nil || len(ack.Salt) == 0 || len(ack.KeyImage) == 0 {
		return keys.KeyImage{}, keys.KeyPair{}, errs.Protocol("live refresh ack missing salt or key image")
	}

	enc := crypto.ComputeEncKey(view, outKey[:], ack.Salt)
	plaintext, err := crypto.OpenEnvelope(ack.KeyImage, enc[:])
	if err != nil {
		return keys.KeyImage{}, keys.KeyPair{}, err
	}

	ki, err := verifyKeyImagePayload(plaintext, outKey, prims)
	if err != nil {
		return keys.KeyImage{}, keys.KeyPair{}, err
	}
	return ki, keys.KeyPair{Public: outKey}, nil
}

// DecodeExportedKeyImage decrypts and verifies one key image from a batch
// export using the key disclosed in the final sync ack.
func DecodeExportedKeyImage(encKey []byte, exported *ExportedKeyImage, outKey keys.Point, prims Primitives) (keys.KeyImage, error) {
	plaintext, err := crypto.Decrypt(exported.Blob, encKey, exported.IV)
	if err != nil {
		return keys.KeyImage{}, err
	}
	return verifyKeyImagePayload(plaintext, outKey, prims)
}

// CheckKnownKeyImage rejects a device key image that contradicts one the
// wallet already holds for the transfer.
func CheckKnownKeyImage(td *wallet.TransferDetails, ki keys.KeyImage) error {
	if td.KeyImageKnown && td.KeyImage != ki {
		return errs.Mismatch("device key image %s differs from known %s", ki, td.KeyImage)
	}
	return nil
}

// LiveRefreshStep builds the request for one received output.
func LiveRefreshStep(shim wallet.Shim, td *wallet.TransferDetails, prims Primitives) (*LiveRefreshStepRequest, error) {
	txPub := shim.TxPubKey(td)
	if td.InternalOutputIndex < uint64(len(td.AdditionalTxPubKeys)) {
		txPub = td.AdditionalTxPubKeys[td.InternalOutputIndex]
	}

	deriv, err := prims.GenerateKeyDerivation(txPub, shim.ViewSecretKey())
	if err != nil {
		return nil, err
	}

	return &LiveRefreshStepRequest{
		OutKey:       td.OutKey,
		RecvDeriv:    deriv,
		RealOutIdx:   td.InternalOutputIndex,
		SubAddrMajor: td.SubaddrIndex.Major,
		SubAddrMinor: td.SubaddrIndex.Minor,
	}, nil
}
