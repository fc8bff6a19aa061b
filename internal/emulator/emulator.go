// Package emulator implements the device side of the signing protocol in
// software. It derives real key images and key image signatures from the
// one-time output secrets it is given, but produces placeholder commitments,
// range proofs and ring signatures: their shape is right and their binding
// to the host's HMACs and hashes is exact, which is what the host checks.
package emulator

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/anchorageoss/coldsign/codec"
	"github.com/anchorageoss/coldsign/crypto"
	"github.com/anchorageoss/coldsign/keys"
	"github.com/anchorageoss/coldsign/protocol"
	"github.com/anchorageoss/coldsign/tx"
	"github.com/anchorageoss/coldsign/wallet"
)

// Tamper may rewrite an acknowledgment before it is returned to the host.
type Tamper func(req, ack protocol.Message)

// Device is a software signing device.
type Device struct {
	view    keys.Scalar
	outputs map[keys.Point]keys.Scalar
	rand    io.Reader
	ed      crypto.Ed25519
	master  [32]byte

	// Tamper is applied to every acknowledgment when set.
	Tamper Tamper
	// DeclineOffload makes the device refuse to compute range proofs.
	DeclineOffload bool

	mu    sync.Mutex
	Calls []protocol.MessageType

	sign *signState
	last *signState
	ki   *exportState
}

type signState struct {
	tsx        protocol.TransactionData
	binder     *protocol.Binder
	scheme     protocol.ProofScheme
	offload    bool
	txKey      keys.Scalar
	opening    []byte
	inputs     int
	outputs    int
	signed     int
	vin        []tx.TxInToKey
	pseudoOuts []keys.Key
	vout       []tx.TxOut
	outPk      []tx.CtKey
	ecdh       []tx.EcdhTuple
	proofs     []tx.RangeProof
	prefixHash keys.Hash
}

type exportState struct {
	num     uint64
	hash    keys.Hash
	encKey  []byte
	records []protocol.TransferRecord
}

// New returns a device holding the private view key and the one-time
// secrets of the outputs it can spend.
func New(view keys.Scalar, outputs map[keys.Point]keys.Scalar) *Device {
	d := &Device{view: view, outputs: outputs, rand: rand.Reader}
	_, _ = io.ReadFull(d.rand, d.master[:])
	return d
}

// Call answers one request, implementing the device transport.
func (d *Device) Call(ctx context.Context, req, ack protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, req.MessageType())

	resp, err := d.handle(req)
	if err != nil {
		return &protocol.Failure{Code: 1, Message: err.Error()}
	}
	if d.Tamper != nil {
		d.Tamper(req, resp)
	}

	dst := reflect.ValueOf(ack)
	src := reflect.ValueOf(resp)
	if dst.Kind() != reflect.Pointer || dst.Type() != src.Type() {
		return fmt.Errorf("ack %T cannot hold %T", ack, resp)
	}
	dst.Elem().Set(src.Elem())
	return nil
}

func (d *Device) handle(req protocol.Message) (protocol.Message, error) {
	switch r := req.(type) {
	case *protocol.InitRequest:
		return d.init(r)
	case *protocol.SetInputRequest:
		return d.setInput(r)
	case *protocol.InputViniRequest:
		return &protocol.InputViniAck{}, d.needSession()
	case *protocol.AllInputsSetRequest:
		return &protocol.AllInputsSetAck{}, d.needSession()
	case *protocol.SetOutputRequest:
		return d.setOutput(r)
	case *protocol.RangeProofRequest:
		return d.rangeProof(r)
	case *protocol.AllOutSetRequest:
		return d.allOutSet(r)
	case *protocol.SignInputRequest:
		return d.signInput(r)
	case *protocol.FinalRequest:
		return d.final()
	case *protocol.GetTxKeyRequest:
		return d.getTxKey(r)
	case *protocol.KeyImageExportInitRequest:
		return d.exportInit(r)
	case *protocol.KeyImageSyncStepRequest:
		return d.syncStep(r)
	case *protocol.KeyImageSyncFinalRequest:
		return d.syncFinal()
	case *protocol.LiveRefreshStartRequest:
		return &protocol.LiveRefreshStartAck{}, nil
	case *protocol.LiveRefreshStepRequest:
		return d.liveRefreshStep(r)
	case *protocol.LiveRefreshFinalRequest:
		return &protocol.LiveRefreshFinalAck{}, nil
	default:
		return nil, fmt.Errorf("unsupported request %T", req)
	}
}

func (d *Device) needSession() error {
	if d.sign == nil {
		return errors.New("no signing session")
	}
	return nil
}

func (d *Device) random(n int) []byte {
	b := make([]byte, n)
	_, _ = io.ReadFull(d.rand, b)
	b[0] |= 1
	return b
}

func (d *Device) randomKey() keys.Key {
	var k keys.Key
	copy(k[:], d.random(keys.Size))
	return k
}

func (d *Device) init(r *protocol.InitRequest) (protocol.Message, error) {
	scheme, err := protocol.NewProofScheme(wallet.RCTConfig{
		RangeProofType: wallet.RangeProofPaddedBulletproof,
		BpVersion:      uint8(r.Tsx.RsigData.BpVersion),
	}, 0)
	if err != nil {
		return nil, err
	}
	txKey, err := crypto.RandomScalar(d.rand)
	if err != nil {
		return nil, err
	}

	st := &signState{
		tsx:     r.Tsx,
		binder:  protocol.NewBinder(d.view, r.Tsx.HMACNonce),
		scheme:  scheme,
		offload: r.Tsx.RsigData.OffloadType != 0 && !d.DeclineOffload,
		txKey:   txKey,
		opening: d.random(32),
	}

	ack := &protocol.InitAck{HasRsigData: true}
	for i, dst := range r.Tsx.Outputs {
		b, err := codec.Serialize(dst)
		if err != nil {
			return nil, err
		}
		ack.HMACs = append(ack.HMACs, st.binder.MAC(protocol.DomainDestination, i, b))
	}
	if st.offload {
		ack.RsigData.OffloadType = 1
	}
	ack.RsigData.Grouping = r.Tsx.RsigData.Grouping
	d.sign = st
	return ack, nil
}

func (d *Device) secretFor(out keys.Point) (keys.Scalar, error) {
	sec, ok := d.outputs[out]
	if !ok {
		return keys.Scalar{}, fmt.Errorf("output %s not owned", out)
	}
	return sec, nil
}

func (d *Device) setInput(r *protocol.SetInputRequest) (protocol.Message, error) {
	if err := d.needSession(); err != nil {
		return nil, err
	}
	st := d.sign
	src := r.SrcEntr
	if err := src.Validate(); err != nil {
		return nil, err
	}

	out := keys.Point(src.Outputs[src.RealOutput].Key.Dest)
	sec, err := d.secretFor(out)
	if err != nil {
		return nil, err
	}
	ki, err := d.ed.GenerateKeyImage(out, sec)
	if err != nil {
		return nil, err
	}
	offsets, err := src.KeyOffsets()
	if err != nil {
		return nil, err
	}

	in := tx.TxInToKey{KeyOffsets: offsets, KeyImage: ki}
	vini, err := codec.Serialize(in)
	if err != nil {
		return nil, err
	}
	srcBytes, err := codec.Serialize(src)
	if err != nil {
		return nil, err
	}
	pseudo := d.randomKey()

	idx := st.inputs
	st.inputs++
	st.vin = append(st.vin, in)
	st.pseudoOuts = append(st.pseudoOuts, pseudo)

	return &protocol.SetInputAck{
		Vini:           vini,
		ViniHMAC:       st.binder.MAC(protocol.DomainInput, idx, srcBytes, vini),
		PseudoOut:      pseudo[:],
		PseudoOutHMAC:  st.binder.MAC(protocol.DomainPseudoOut, idx, pseudo[:]),
		PseudoOutAlpha: d.random(48),
		SpendKey:       d.random(48),
	}, nil
}

func (d *Device) setOutput(r *protocol.SetOutputRequest) (protocol.Message, error) {
	if err := d.needSession(); err != nil {
		return nil, err
	}
	st := d.sign
	idx := st.outputs

	dst, err := codec.Serialize(r.DstEntr)
	if err != nil {
		return nil, err
	}
	if err := st.binder.Check(r.DstEntrHMAC, protocol.DomainDestination, idx, dst); err != nil {
		return nil, err
	}

	out := tx.TxOut{Key: keys.Point(d.randomKey()), HasViewTag: true, ViewTag: uint8(idx)}
	pk := tx.CtKey{Dest: keys.Key(out.Key), Mask: d.randomKey()}
	ecdh := tx.EcdhTuple{Amount: d.randomKey()}

	outBytes, err := codec.Serialize(out)
	if err != nil {
		return nil, err
	}
	pkBytes, err := codec.Serialize(pk)
	if err != nil {
		return nil, err
	}
	ecdhBytes, err := codec.Serialize(ecdh)
	if err != nil {
		return nil, err
	}

	st.outputs++
	st.vout = append(st.vout, out)
	st.outPk = append(st.outPk, pk)
	st.ecdh = append(st.ecdh, ecdh)

	ack := &protocol.SetOutputAck{
		TxOut:    outBytes,
		VoutHMAC: st.binder.MAC(protocol.DomainOutput, idx, r.DstEntrHMAC, outBytes),
		OutPk:    pkBytes,
		EcdhInfo: ecdhBytes,
	}
	if !st.offload {
		ack.RsigData.HasMask = true
		ack.RsigData.Mask = d.randomKey()
	}
	return ack, nil
}

// FakeProof returns a structurally valid proof of the given kind over v.
func FakeProof(kind tx.ProofKind, v []keys.Key, rand io.Reader) (tx.RangeProof, error) {
	elem := func() keys.Key {
		var k keys.Key
		_, _ = io.ReadFull(rand, k[:])
		k[0] |= 1
		return k
	}
	rounds := tx.ExpectedRounds(len(v))
	lr := func() []keys.Key {
		out := make([]keys.Key, rounds)
		for i := range out {
			out[i] = elem()
		}
		return out
	}

	switch kind {
	case tx.KindBulletproof:
		return &tx.Bulletproof{
			V: append([]keys.Key(nil), v...), A: elem(), S: elem(), T1: elem(), T2: elem(),
			Taux: elem(), Mu: elem(), L: lr(), R: lr(), Aa: elem(), B: elem(), T: elem(),
		}, nil
	case tx.KindBulletproofPlus:
		return &tx.BulletproofPlus{
			V: append([]keys.Key(nil), v...), A: elem(), A1: elem(), B: elem(),
			R1: elem(), S1: elem(), D1: elem(), L: lr(), R: lr(),
		}, nil
	default:
		return nil, fmt.Errorf("unknown proof kind %d", kind)
	}
}

// Prover is a host-side range prover producing placeholder proofs.
type Prover struct {
	Calls int
}

// Prove returns a fake proof over the masks.
func (p *Prover) Prove(kind tx.ProofKind, amounts []uint64, masks []keys.Key) (tx.RangeProof, error) {
	if len(amounts) != len(masks) {
		return nil, fmt.Errorf("%d amounts for %d masks", len(amounts), len(masks))
	}
	p.Calls++
	return FakeProof(kind, masks, rand.Reader)
}

func (d *Device) rangeProof(r *protocol.RangeProofRequest) (protocol.Message, error) {
	if err := d.needSession(); err != nil {
		return nil, err
	}
	st := d.sign
	if !st.offload {
		return nil, errors.New("range proofs are not offloaded")
	}
	proof, err := FakeProof(st.scheme.Kind, r.Commitments, d.rand)
	if err != nil {
		return nil, err
	}
	st.proofs = append(st.proofs, proof)
	b, err := tx.EncodeRangeProof(proof)
	if err != nil {
		return nil, err
	}
	return &protocol.RangeProofAck{Rsig: b}, nil
}

func (d *Device) allOutSet(r *protocol.AllOutSetRequest) (protocol.Message, error) {
	if err := d.needSession(); err != nil {
		return nil, err
	}
	st := d.sign
	if !st.offload {
		st.proofs = nil
		for _, b := range r.Rsigs {
			p, err := tx.DecodeRangeProof(b)
			if err != nil {
				return nil, err
			}
			st.proofs = append(st.proofs, p)
		}
	}

	txPub, err := d.ed.SecretToPublic(st.txKey)
	if err != nil {
		return nil, err
	}
	extra := tx.ExtraPubKey(txPub)
	if len(st.tsx.PaymentID) == 8 {
		var id [8]byte
		copy(id[:], st.tsx.PaymentID)
		extra = append(extra, tx.ExtraEncryptedPaymentID(id)...)
	}

	prefix := tx.Prefix{
		Version:    uint64(st.tsx.Version),
		UnlockTime: st.tsx.UnlockTime,
		Vin:        st.vin,
		Vout:       st.vout,
		Extra:      extra,
	}
	prefixHash, err := prefix.Hash()
	if err != nil {
		return nil, err
	}
	st.prefixHash = prefixHash

	rv := tx.RctSig{
		Type:       st.scheme.RctType,
		TxnFee:     st.tsx.Fee,
		Message:    keys.Key(prefixHash),
		PseudoOuts: st.pseudoOuts,
		EcdhInfo:   st.ecdh,
		OutPk:      st.outPk,
	}
	for _, p := range st.proofs {
		rv.AddProof(p)
	}
	full, err := tx.PreSignatureHash(&rv)
	if err != nil {
		return nil, err
	}

	return &protocol.AllOutSetAck{
		Extra:           extra,
		TxPrefixHash:    prefixHash[:],
		RvType:          uint32(st.scheme.RctType),
		TxnFee:          st.tsx.Fee,
		Message:         prefixHash[:],
		FullMessageHash: full[:],
	}, nil
}

func (d *Device) signInput(r *protocol.SignInputRequest) (protocol.Message, error) {
	if err := d.needSession(); err != nil {
		return nil, err
	}
	st := d.sign
	idx := st.signed

	srcBytes, err := codec.Serialize(r.SrcEntr)
	if err != nil {
		return nil, err
	}
	if err := st.binder.Check(r.ViniHMAC, protocol.DomainInput, idx, srcBytes, r.Vini); err != nil {
		return nil, err
	}
	if err := st.binder.Check(r.PseudoOutHMAC, protocol.DomainPseudoOut, idx, r.PseudoOut); err != nil {
		return nil, err
	}

	ring := len(r.SrcEntr.Outputs)
	var sig any
	if st.scheme.CLSAG {
		c := tx.Clsag{C1: d.randomKey(), D: d.randomKey()}
		for range ring {
			c.S = append(c.S, d.randomKey())
		}
		sig = c
	} else {
		m := tx.MgSig{CC: d.randomKey()}
		for range ring {
			m.SS = append(m.SS, []keys.Key{d.randomKey(), d.randomKey()})
		}
		sig = m
	}
	blob, err := codec.Serialize(sig)
	if err != nil {
		return nil, err
	}
	if st.tsx.ClientVersion >= 3 {
		blob, err = crypto.Seal(st.opening, idx, blob)
		if err != nil {
			return nil, err
		}
	}
	st.signed++
	return &protocol.SignInputAck{Signature: blob}, nil
}

func (d *Device) txKeyWrap(salt1, salt2 []byte, prefixHash keys.Hash) keys.Hash {
	return crypto.FastHash(d.master[:], salt1, salt2, prefixHash[:])
}

func (d *Device) final() (protocol.Message, error) {
	if err := d.needSession(); err != nil {
		return nil, err
	}
	st := d.sign
	salt1, salt2 := d.random(32), d.random(32)
	wrap := d.txKeyWrap(salt1, salt2, st.prefixHash)
	enc, err := crypto.SealEnvelope(st.txKey[:], wrap[:], d.rand)
	if err != nil {
		return nil, err
	}

	ack := &protocol.FinalAck{Salt: salt1, RandMult: salt2, TxEncKeys: enc}
	if st.tsx.ClientVersion >= 3 {
		ack.OpeningKey = st.opening
	}
	d.last, d.sign = st, nil
	return ack, nil
}

// LastTxKey returns the transaction secret key of the last finished session.
func (d *Device) LastTxKey() (keys.Scalar, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return keys.Scalar{}, false
	}
	return d.last.txKey, true
}

func (d *Device) getTxKey(r *protocol.GetTxKeyRequest) (protocol.Message, error) {
	wrap := d.txKeyWrap(r.Salt1, r.Salt2, r.TxPrefixHash)
	plaintext, err := crypto.OpenEnvelope(r.TxEncKeys, wrap[:])
	if err != nil {
		return nil, err
	}
	salt := d.random(32)
	enc := crypto.ComputeEncKey(d.view, r.TxPrefixHash[:], salt)
	sealed, err := crypto.SealEnvelope(plaintext, enc[:], d.rand)
	if err != nil {
		return nil, err
	}
	return &protocol.GetTxKeyAck{Salt: salt, TxKeys: sealed}, nil
}

// signedKeyImage returns ki || c || r for an owned output.
func (d *Device) signedKeyImage(out keys.Point) ([]byte, error) {
	sec, err := d.secretFor(out)
	if err != nil {
		return nil, err
	}
	ki, err := d.ed.GenerateKeyImage(out, sec)
	if err != nil {
		return nil, err
	}
	sigs, err := d.ed.GenerateRingSignature(keys.Hash(ki), ki, []keys.Point{out}, sec, 0, d.rand)
	if err != nil {
		return nil, err
	}
	return append(ki[:], sigs[0].Bytes()...), nil
}

func (d *Device) exportInit(r *protocol.KeyImageExportInitRequest) (protocol.Message, error) {
	d.ki = &exportState{num: r.Num, hash: r.Hash, encKey: d.random(crypto.KeySize)}
	return &protocol.KeyImageExportInitAck{}, nil
}

func (d *Device) syncStep(r *protocol.KeyImageSyncStepRequest) (protocol.Message, error) {
	if d.ki == nil {
		return nil, errors.New("no export session")
	}
	ack := &protocol.KeyImageSyncStepAck{}
	for _, rec := range r.Tdis {
		payload, err := d.signedKeyImage(rec.OutKey)
		if err != nil {
			return nil, err
		}
		iv := d.random(crypto.NonceSize)
		blob, err := crypto.Encrypt(payload, d.ki.encKey, iv)
		if err != nil {
			return nil, err
		}
		ack.Kis = append(ack.Kis, protocol.ExportedKeyImage{IV: iv, Blob: blob})
		d.ki.records = append(d.ki.records, rec)
	}
	return ack, nil
}

func (d *Device) syncFinal() (protocol.Message, error) {
	if d.ki == nil {
		return nil, errors.New("no export session")
	}
	st := d.ki
	d.ki = nil
	if uint64(len(st.records)) != st.num {
		return nil, fmt.Errorf("received %d of %d records", len(st.records), st.num)
	}
	if protocol.ComputeHash(st.records) != st.hash {
		return nil, errors.New("transfer records do not match the committed hash")
	}
	return &protocol.KeyImageSyncFinalAck{EncKey: st.encKey}, nil
}

func (d *Device) liveRefreshStep(r *protocol.LiveRefreshStepRequest) (protocol.Message, error) {
	payload, err := d.signedKeyImage(r.OutKey)
	if err != nil {
		return nil, err
	}
	salt := d.random(32)
	enc := crypto.ComputeEncKey(d.view, r.OutKey[:], salt)
	sealed, err := crypto.SealEnvelope(payload, enc[:], d.rand)
	if err != nil {
		return nil, err
	}
	return &protocol.LiveRefreshStepAck{Salt: salt, KeyImage: sealed}, nil
}
