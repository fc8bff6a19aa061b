package protocol

import (
	"fmt"
	"io"
	"math/bits"

	"github.com/google/uuid"

	"github.com/anchorageoss/coldsign/codec"
	"github.com/anchorageoss/coldsign/crypto"
	"github.com/anchorageoss/coldsign/errs"
	"github.com/anchorageoss/coldsign/keys"
	"github.com/anchorageoss/coldsign/tx"
	"github.com/anchorageoss/coldsign/wallet"
)

// txVersion is the transaction format the signer assembles.
const txVersion = 2

// Signer drives one transaction through the signing protocol. Each StepX
// builds the next request and each StepXAck consumes the device's answer.
// A Signer is not safe for concurrent use.
type Signer struct {
	shim wallet.Shim
	cfg  Config
	s    session
}

// NewSigner prepares a session for transaction txIdx of the unsigned set.
// A nil aux is treated as empty.
func NewSigner(shim wallet.Shim, unsigned *wallet.UnsignedTxSet, txIdx int, aux *wallet.TxAuxData, cfg Config) (*Signer, error) {
	if shim == nil || unsigned == nil {
		return nil, errs.InvalidState("signer needs a wallet and an unsigned set")
	}
	if txIdx < 0 || txIdx >= len(unsigned.Txes) {
		return nil, errs.InvalidState("transaction index %d outside [0, %d)", txIdx, len(unsigned.Txes))
	}
	if aux == nil {
		aux = &wallet.TxAuxData{}
	}

	return &Signer{
		shim: shim,
		cfg:  cfg.withDefaults(),
		s: session{
			id:       uuid.New(),
			phase:    PhaseInit,
			txIdx:    txIdx,
			unsigned: unsigned,
			cd:       &unsigned.Txes[txIdx],
			aux:      aux,
		},
	}, nil
}

// ID returns the session id used in logs.
func (sg *Signer) ID() uuid.UUID { return sg.s.id }

// Phase returns the current protocol phase.
func (sg *Signer) Phase() Phase { return sg.s.phase }

func (sg *Signer) expect(phase Phase, cursor, idx int, step string) error {
	if sg.s.phase != phase {
		return errs.InvalidState("%s not allowed in phase %s", step, sg.s.phase)
	}
	if cursor != idx {
		return errs.InvalidState("%s expected index %d, got %d", step, cursor, idx)
	}
	return nil
}

func (sg *Signer) expectAck(step string) error {
	if sg.s.phase == PhaseFailed {
		return errs.InvalidState("session failed")
	}
	if sg.s.pending != step {
		return errs.InvalidState("unexpected %s ack, pending %q", step, sg.s.pending)
	}
	return nil
}

// fail terminates the session.
func (sg *Signer) fail(step string, err error) error {
	sg.s.phase = PhaseFailed
	sg.s.pending = ""
	log.Warnf("Session %s failed at %s: %v", sg.s.id, step, err)
	return errs.AtStep(step, err)
}

func (sg *Signer) enter(phase Phase) {
	log.Debugf("Session %s: %s -> %s", sg.s.id, sg.s.phase, phase)
	sg.s.phase = phase
}

func indexed(step string, i int) string {
	return fmt.Sprintf("%s[%d]", step, i)
}

// StepInit negotiates the transaction: it fixes the input order, the proof
// scheme, the fee and the session HMAC key, and returns the Init request.
func (sg *Signer) StepInit() (*InitRequest, error) {
	if err := sg.expect(PhaseInit, 0, 0, "init"); err != nil {
		return nil, err
	}
	if sg.s.pending != "" {
		return nil, errs.InvalidState("init already sent")
	}

	req, err := sg.buildInit()
	if err != nil {
		return nil, sg.fail("init", err)
	}
	sg.s.pending = "init"
	log.Infof("Session %s: init with %d inputs, %d outputs, fee %d",
		sg.s.id, sg.s.numInputs(), sg.s.numOutputs(), sg.s.tsx.Fee)
	return req, nil
}

func (sg *Signer) buildInit() (*InitRequest, error) {
	s := &sg.s
	cd := s.cd

	if err := cd.Validate(); err != nil {
		return nil, errs.InvalidState("invalid construction data: %v", err)
	}

	// Step 1: resolve transfers and their key images.
	s.expectedKIs = make([]keys.KeyImage, len(cd.Sources))
	for i, sel := range cd.SelectedTransfers {
		td, err := s.unsigned.Transfer(sel)
		if err != nil {
			return nil, errs.InvalidState("input %d: %v", i, err)
		}
		if !td.KeyImageKnown {
			return nil, errs.InvalidState("input %d: key image of transfer %d is unknown", i, sel)
		}
		s.expectedKIs[i] = td.KeyImage
	}
	perm, err := SortByKeyImage(s.expectedKIs)
	if err != nil {
		return nil, err
	}
	s.perm = perm

	// Step 2: fee and ring size.
	fee, err := computeFee(cd)
	if err != nil {
		return nil, err
	}
	ring := len(cd.Sources[0].Outputs)
	for i, src := range cd.Sources {
		if len(src.Outputs) != ring {
			return nil, errs.InvalidState("input %d ring size %d differs from %d", i, len(src.Outputs), ring)
		}
		if _, err := src.KeyOffsets(); err != nil {
			return nil, errs.InvalidState("input %d: %v", i, err)
		}
	}

	// Step 3: proof scheme and batching.
	s.scheme, err = NewProofScheme(cd.RctConfig, s.aux.BpVersion)
	if err != nil {
		return nil, err
	}
	s.grouping = sg.cfg.Policy.Grouping(s.numOutputs())

	s.clientVersion = sg.cfg.ClientVersion
	if s.aux.ClientVersion != 0 {
		s.clientVersion = s.aux.ClientVersion
	}

	// Step 4: session binding key.
	var nonce keys.Hash
	if _, err := io.ReadFull(sg.cfg.Rand, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to draw hmac nonce: %w", err)
	}
	s.binder = NewBinder(sg.shim.ViewSecretKey(), nonce)

	paymentID, _ := tx.ExtractPaymentID(cd.Extra)

	offload := uint32(0)
	if sg.cfg.Prover == nil {
		offload = 1
	}

	s.tsx = TransactionData{
		Version:       txVersion,
		ClientVersion: s.clientVersion,
		HardFork:      s.aux.HardFork,
		UnlockTime:    cd.UnlockTime,
		PaymentID:     paymentID,
		Outputs:       cd.SplittedDsts,
		ChangeDts:     cd.ChangeDts,
		NumInputs:     uint32(len(cd.Sources)),
		Mixin:         uint32(ring - 1),
		Fee:           fee,
		Account:       cd.SubaddrAccount,
		MinorIndices:  cd.SubaddrIndices,
		RsigData: RsigData{
			RsigType:    uint32(s.scheme.Kind),
			OffloadType: offload,
			Grouping:    s.grouping,
			BpVersion:   uint32(s.scheme.BpVersion),
		},
		IntegratedIndices: integratedIndices(cd, s.aux),
		HMACNonce:         nonce,
	}

	n := s.numInputs()
	s.vini = make([][]byte, n)
	s.viniHMAC = make([][]byte, n)
	s.pseudoOut = make([][]byte, n)
	s.pseudoHMAC = make([][]byte, n)
	s.alpha = make([][]byte, n)
	s.spendKey = make([][]byte, n)
	s.vin = make([]tx.TxInToKey, n)
	s.pseudoOuts = make([]keys.Key, n)
	s.sealedSigs = make([][]byte, n)
	s.initialized = true

	return &InitRequest{
		Version: s.clientVersion,
		Address: cd.SubaddrAccount,
		Tsx:     s.tsx,
	}, nil
}

func computeFee(cd *wallet.TxConstructionData) (uint64, error) {
	var in, out, carry uint64
	for _, src := range cd.Sources {
		if in, carry = bits.Add64(in, src.Amount, 0); carry != 0 {
			return 0, errs.InvalidState("input amounts overflow")
		}
	}
	for _, dst := range cd.SplittedDsts {
		if out, carry = bits.Add64(out, dst.Amount, 0); carry != 0 {
			return 0, errs.InvalidState("output amounts overflow")
		}
	}
	if out > in {
		return 0, errs.InvalidState("outputs %d exceed inputs %d", out, in)
	}
	return in - out, nil
}

// integratedIndices lists the destinations paid to a recipient that carries
// a payment id, skipping the change output.
func integratedIndices(cd *wallet.TxConstructionData, aux *wallet.TxAuxData) []uint32 {
	if len(aux.TxRecipients) == 0 {
		return nil
	}

	changeAmount, changeSub := cd.ChangeDts.Amount, cd.ChangeDts.IsSubaddress
	changeHash := HashAddress(cd.ChangeDts.Addr.SpendPublicKey, cd.ChangeDts.Addr.ViewPublicKey, &changeAmount, &changeSub)

	var out []uint32
	for i, dst := range cd.SplittedDsts {
		amount, sub := dst.Amount, dst.IsSubaddress
		if HashAddress(dst.Addr.SpendPublicKey, dst.Addr.ViewPublicKey, &amount, &sub) == changeHash {
			continue
		}
		dstHash := HashAddress(dst.Addr.SpendPublicKey, dst.Addr.ViewPublicKey, nil, nil)
		for _, r := range aux.TxRecipients {
			if !r.HasPaymentID {
				continue
			}
			if HashAddress(r.Address.SpendPublicKey, r.Address.ViewPublicKey, nil, nil) == dstHash {
				out = append(out, uint32(i))
				break
			}
		}
	}
	return out
}

// StepInitAck checks the destination HMACs and the device's proof parameters.
func (sg *Signer) StepInitAck(ack *InitAck) error {
	const step = "init_ack"
	if err := sg.expectAck("init"); err != nil {
		return err
	}
	s := &sg.s

	if ack == nil || len(ack.HMACs) != s.numOutputs() {
		return sg.fail(step, errs.Protocol("expected %d destination hmacs", s.numOutputs()))
	}
	for i := range s.cd.SplittedDsts {
		dst, err := codec.Serialize(s.cd.SplittedDsts[i])
		if err != nil {
			return sg.fail(step, err)
		}
		if err := s.binder.Check(ack.HMACs[i], DomainDestination, i, dst); err != nil {
			return sg.fail(step, err)
		}
	}
	s.dstHMACs = ack.HMACs

	s.offload = sg.cfg.Prover == nil
	if ack.HasRsigData {
		s.offload = ack.RsigData.OffloadType != 0
		if err := sg.applyGrouping(ack.RsigData.Grouping); err != nil {
			return sg.fail(step, err)
		}
	}
	if !s.offload && sg.cfg.Prover == nil {
		return sg.fail(step, errs.Protocol("device declined to prove and no host prover is configured"))
	}

	s.negotiated = true
	s.pending = ""
	sg.enter(PhaseSetInput)
	return nil
}

// applyGrouping adopts a device-chosen grouping that covers every output.
func (sg *Signer) applyGrouping(grouping []uint64) error {
	if len(grouping) == 0 {
		return nil
	}
	var total, carry uint64
	for _, g := range grouping {
		if g == 0 {
			return errs.Protocol("empty range proof batch")
		}
		if total, carry = bits.Add64(total, g, 0); carry != 0 {
			return errs.Protocol("range proof grouping overflows")
		}
	}
	if total != uint64(sg.s.numOutputs()) {
		return errs.Protocol("grouping covers %d of %d outputs", total, sg.s.numOutputs())
	}
	sg.s.grouping = append([]uint64(nil), grouping...)
	return nil
}

func (sg *Signer) source(i int) (*wallet.SourceEntry, int, error) {
	orig, err := sg.s.perm.At(i)
	if err != nil {
		return nil, 0, err
	}
	return &sg.s.cd.Sources[orig], orig, nil
}

// StepSetInput returns the request for session input i.
func (sg *Signer) StepSetInput(i int) (*SetInputRequest, error) {
	if err := sg.expect(PhaseSetInput, sg.s.inputCursor, i, "set_input"); err != nil {
		return nil, err
	}
	if sg.s.pending != "" {
		return nil, errs.InvalidState("%s still pending", sg.s.pending)
	}
	src, _, err := sg.source(i)
	if err != nil {
		return nil, err
	}
	sg.s.pending = "set_input"
	return &SetInputRequest{SrcEntr: *src}, nil
}

// StepSetInputAck verifies the input's HMACs and that the device spends the
// expected key image.
func (sg *Signer) StepSetInputAck(ack *SetInputAck) error {
	if err := sg.expectAck("set_input"); err != nil {
		return err
	}
	s := &sg.s
	i := s.inputCursor
	step := indexed("set_input_ack", i)

	if ack == nil || len(ack.Vini) == 0 || len(ack.PseudoOutAlpha) == 0 || len(ack.SpendKey) == 0 {
		return sg.fail(step, errs.Protocol("set input ack missing fields"))
	}
	if len(ack.PseudoOut) != keys.Size {
		return sg.fail(step, errs.Protocol("pseudo out must be %d bytes, got %d", keys.Size, len(ack.PseudoOut)))
	}

	src, orig, err := sg.source(i)
	if err != nil {
		return sg.fail(step, err)
	}
	srcBytes, err := codec.Serialize(src)
	if err != nil {
		return sg.fail(step, err)
	}
	if err := s.binder.Check(ack.ViniHMAC, DomainInput, i, srcBytes, ack.Vini); err != nil {
		return sg.fail(step, err)
	}
	if err := s.binder.Check(ack.PseudoOutHMAC, DomainPseudoOut, i, ack.PseudoOut); err != nil {
		return sg.fail(step, err)
	}

	var in tx.TxInToKey
	if err := codec.Deserialize(ack.Vini, &in); err != nil {
		return sg.fail(step, err)
	}
	if in.KeyImage != s.expectedKIs[orig] {
		return sg.fail(step, errs.Mismatch("input spends key image %s, expected %s", in.KeyImage, s.expectedKIs[orig]))
	}
	offsets, _ := src.KeyOffsets()
	if in.Amount != 0 || len(in.KeyOffsets) != len(offsets) {
		return sg.fail(step, errs.Mismatch("input does not match its ring"))
	}
	for k := range offsets {
		if in.KeyOffsets[k] != offsets[k] {
			return sg.fail(step, errs.Mismatch("input key offset %d does not match ring", k))
		}
	}

	s.vini[i] = ack.Vini
	s.viniHMAC[i] = ack.ViniHMAC
	s.pseudoOut[i] = ack.PseudoOut
	s.pseudoHMAC[i] = ack.PseudoOutHMAC
	s.alpha[i] = ack.PseudoOutAlpha
	s.spendKey[i] = ack.SpendKey
	s.vin[i] = in
	copy(s.pseudoOuts[i][:], ack.PseudoOut)

	s.inputCursor++
	s.pending = ""
	if s.inputCursor == s.numInputs() {
		if s.clientVersion <= 2 {
			sg.enter(PhaseInputVini)
		} else {
			sg.enter(PhaseAllInputsSet)
		}
	}
	return nil
}

// StepInputVini re-sends session input i after ordering. Only clients at
// version 2 or older run this round.
func (sg *Signer) StepInputVini(i int) (*InputViniRequest, error) {
	if err := sg.expect(PhaseInputVini, sg.s.viniCursor, i, "input_vini"); err != nil {
		return nil, err
	}
	if sg.s.pending != "" {
		return nil, errs.InvalidState("%s still pending", sg.s.pending)
	}
	src, orig, err := sg.source(i)
	if err != nil {
		return nil, err
	}
	sg.s.pending = "input_vini"
	return &InputViniRequest{
		SrcEntr:  *src,
		Vini:     sg.s.vini[i],
		ViniHMAC: sg.s.viniHMAC[i],
		OrigIdx:  uint32(orig),
	}, nil
}

// StepInputViniAck advances past one re-sent input.
func (sg *Signer) StepInputViniAck(ack *InputViniAck) error {
	if err := sg.expectAck("input_vini"); err != nil {
		return err
	}
	if ack == nil {
		return sg.fail(indexed("input_vini_ack", sg.s.viniCursor), errs.Protocol("missing input vini ack"))
	}
	sg.s.viniCursor++
	sg.s.pending = ""
	if sg.s.viniCursor == sg.s.numInputs() {
		sg.enter(PhaseAllInputsSet)
	}
	return nil
}

// StepAllInputsSet closes the input phase and sends the input order.
func (sg *Signer) StepAllInputsSet() (*AllInputsSetRequest, error) {
	if err := sg.expect(PhaseAllInputsSet, 0, 0, "all_inputs_set"); err != nil {
		return nil, err
	}
	if sg.s.pending != "" {
		return nil, errs.InvalidState("%s still pending", sg.s.pending)
	}
	sg.s.pending = "all_inputs_set"
	return &AllInputsSetRequest{Permutation: sg.s.perm.Indices()}, nil
}

// StepAllInputsSetAck applies any updated proof parameters.
func (sg *Signer) StepAllInputsSetAck(ack *AllInputsSetAck) error {
	const step = "all_inputs_set_ack"
	if err := sg.expectAck("all_inputs_set"); err != nil {
		return err
	}
	if ack == nil {
		return sg.fail(step, errs.Protocol("missing all inputs set ack"))
	}
	if ack.HasRsigData {
		if err := sg.applyGrouping(ack.RsigData.Grouping); err != nil {
			return sg.fail(step, err)
		}
	}
	sg.s.pending = ""
	sg.enter(PhaseSetOutput)
	return nil
}

// StepSetOutput returns the request for destination i.
func (sg *Signer) StepSetOutput(i int) (*SetOutputRequest, error) {
	if err := sg.expect(PhaseSetOutput, sg.s.outputCursor, i, "set_output"); err != nil {
		return nil, err
	}
	if sg.s.pending != "" {
		return nil, errs.InvalidState("%s still pending", sg.s.pending)
	}
	sg.s.pending = "set_output"
	return &SetOutputRequest{
		DstEntr:     sg.s.cd.SplittedDsts[i],
		DstEntrHMAC: sg.s.dstHMACs[i],
	}, nil
}

// StepSetOutputAck verifies the output binding and, when a batch is
// complete, either proves it locally or moves to fetch the device's proof.
func (sg *Signer) StepSetOutputAck(ack *SetOutputAck) error {
	if err := sg.expectAck("set_output"); err != nil {
		return err
	}
	s := &sg.s
	i := s.outputCursor
	step := indexed("set_output_ack", i)

	if ack == nil || len(ack.TxOut) == 0 || len(ack.OutPk) == 0 || len(ack.EcdhInfo) == 0 {
		return sg.fail(step, errs.Protocol("set output ack missing fields"))
	}
	if err := s.binder.Check(ack.VoutHMAC, DomainOutput, i, s.dstHMACs[i], ack.TxOut); err != nil {
		return sg.fail(step, err)
	}

	var out tx.TxOut
	if err := codec.Deserialize(ack.TxOut, &out); err != nil {
		return sg.fail(step, err)
	}
	var pk tx.CtKey
	if err := codec.Deserialize(ack.OutPk, &pk); err != nil {
		return sg.fail(step, err)
	}
	var ecdh tx.EcdhTuple
	if err := codec.Deserialize(ack.EcdhInfo, &ecdh); err != nil {
		return sg.fail(step, err)
	}
	if keys.Point(pk.Dest) != out.Key {
		return sg.fail(step, errs.Mismatch("output commitment key differs from output key"))
	}

	var mask keys.Key
	if !s.offload {
		if !ack.RsigData.HasMask {
			return sg.fail(step, errs.Protocol("output mask required for host proving"))
		}
		mask = ack.RsigData.Mask
	}

	s.vout = append(s.vout, out)
	s.outPk = append(s.outPk, pk)
	s.ecdh = append(s.ecdh, ecdh)
	s.masks = append(s.masks, mask)
	s.outputCursor++
	s.outputsInBatch++
	s.pending = ""

	if s.grouping[s.batchCursor] <= uint64(s.outputsInBatch) {
		if s.offload {
			sg.enter(PhaseRangeProof)
			return nil
		}
		if err := sg.proveBatch(); err != nil {
			return sg.fail(step, err)
		}
	}
	if s.outputCursor == s.numOutputs() {
		sg.enter(PhaseAllOutputsSet)
	}
	return nil
}

func (sg *Signer) batchCommitments() []keys.Key {
	s := &sg.s
	out := make([]keys.Key, 0, s.outputCursor-s.batchStart)
	for _, pk := range s.outPk[s.batchStart:s.outputCursor] {
		out = append(out, pk.Mask)
	}
	return out
}

func (sg *Signer) proveBatch() error {
	s := &sg.s
	amounts := make([]uint64, 0, s.outputCursor-s.batchStart)
	for _, dst := range s.cd.SplittedDsts[s.batchStart:s.outputCursor] {
		amounts = append(amounts, dst.Amount)
	}

	proof, err := sg.cfg.Prover.Prove(s.scheme.Kind, amounts, s.masks[s.batchStart:s.outputCursor])
	if err != nil {
		return fmt.Errorf("failed to prove batch %d: %w", s.batchCursor, err)
	}
	if proof == nil || proof.Kind() != s.scheme.Kind {
		return errs.Protocol("prover returned wrong proof kind for batch %d", s.batchCursor)
	}
	proof.BindCommitments(sg.batchCommitments())
	sg.closeBatch(proof)
	return nil
}

func (sg *Signer) closeBatch(proof tx.RangeProof) {
	s := &sg.s
	s.proofs = append(s.proofs, proof)
	log.Debugf("Session %s: batch %d closed with %d outputs", s.id, s.batchCursor, s.outputsInBatch)
	s.batchCursor++
	s.batchStart = s.outputCursor
	s.outputsInBatch = 0
}

// StepRangeProof asks the device for the proof over batch b.
func (sg *Signer) StepRangeProof(b int) (*RangeProofRequest, error) {
	if err := sg.expect(PhaseRangeProof, sg.s.batchCursor, b, "range_proof"); err != nil {
		return nil, err
	}
	if sg.s.pending != "" {
		return nil, errs.InvalidState("%s still pending", sg.s.pending)
	}
	sg.s.pending = "range_proof"
	return &RangeProofRequest{
		BatchIndex:  uint32(b),
		FirstOutput: uint32(sg.s.batchStart),
		Commitments: sg.batchCommitments(),
	}, nil
}

// StepRangeProofAck binds the device's proof to the host's commitments and
// verifies it.
func (sg *Signer) StepRangeProofAck(ack *RangeProofAck) error {
	if err := sg.expectAck("range_proof"); err != nil {
		return err
	}
	s := &sg.s
	step := indexed("range_proof_ack", s.batchCursor)

	if ack == nil || len(ack.Rsig) == 0 {
		return sg.fail(step, errs.Protocol("range proof ack is empty"))
	}
	proof, err := tx.DecodeRangeProof(ack.Rsig)
	if err != nil {
		return sg.fail(step, err)
	}
	if proof.Kind() != s.scheme.Kind {
		return sg.fail(step, errs.Protocol("device sent %s, negotiated %s", proof.Kind(), s.scheme.Kind))
	}
	proof.BindCommitments(sg.batchCommitments())
	if !sg.cfg.Verifier.Verify(proof) {
		return sg.fail(step, errs.Crypto("range proof for batch %d does not verify", s.batchCursor))
	}

	sg.closeBatch(proof)
	s.pending = ""
	if s.outputCursor == s.numOutputs() {
		sg.enter(PhaseAllOutputsSet)
	} else {
		sg.enter(PhaseSetOutput)
	}
	return nil
}

// StepAllOutputsSet closes the output phase. Host-computed proofs travel with
// the request so the device can hash them.
func (sg *Signer) StepAllOutputsSet() (*AllOutSetRequest, error) {
	if err := sg.expect(PhaseAllOutputsSet, 0, 0, "all_outputs_set"); err != nil {
		return nil, err
	}
	if sg.s.pending != "" {
		return nil, errs.InvalidState("%s still pending", sg.s.pending)
	}

	req := &AllOutSetRequest{}
	if !sg.s.offload {
		for _, p := range sg.s.proofs {
			b, err := tx.EncodeRangeProof(p)
			if err != nil {
				return nil, sg.fail("all_outputs_set", err)
			}
			req.Rsigs = append(req.Rsigs, b)
		}
	}
	sg.s.pending = "all_outputs_set"
	return req, nil
}

// StepAllOutputsSetAck rebuilds the transaction and checks that the device
// hashed exactly the same prefix and RingCT data.
func (sg *Signer) StepAllOutputsSetAck(ack *AllOutSetAck) error {
	const step = "all_outputs_set_ack"
	if err := sg.expectAck("all_outputs_set"); err != nil {
		return err
	}
	s := &sg.s

	// Step 1: negotiated values.
	if ack == nil {
		return sg.fail(step, errs.Protocol("missing all outputs set ack"))
	}
	if ack.RvType != uint32(s.scheme.RctType) {
		return sg.fail(step, errs.Protocol("rct type %d, negotiated %d", ack.RvType, s.scheme.RctType))
	}
	if ack.TxnFee != s.tsx.Fee {
		return sg.fail(step, errs.Protocol("fee %d, negotiated %d", ack.TxnFee, s.tsx.Fee))
	}
	prefixHash, err := keys.StringToKey[keys.Hash](ack.TxPrefixHash)
	if err != nil {
		return sg.fail(step, errs.Protocol("bad tx prefix hash: %v", err))
	}
	fullHash, err := keys.StringToKey[keys.Hash](ack.FullMessageHash)
	if err != nil {
		return sg.fail(step, errs.Protocol("bad full message hash: %v", err))
	}
	message, err := keys.StringToKey[keys.Key](ack.Message)
	if err != nil {
		return sg.fail(step, errs.Protocol("bad rct message: %v", err))
	}

	// Step 2: prefix.
	t := &tx.Transaction{
		Prefix: tx.Prefix{
			Version:    txVersion,
			UnlockTime: s.cd.UnlockTime,
			Vin:        s.vin,
			Vout:       s.vout,
			Extra:      ack.Extra,
		},
	}
	localPrefix, err := t.Prefix.Hash()
	if err != nil {
		return sg.fail(step, err)
	}
	if localPrefix != prefixHash {
		return sg.fail(step, errs.Mismatch("tx prefix hash %s, device sent %s", localPrefix, prefixHash))
	}
	if keys.Hash(message) != localPrefix {
		return sg.fail(step, errs.Mismatch("rct message does not commit to the prefix"))
	}

	// Step 3: RingCT base and proofs.
	t.Rct = tx.RctSig{
		Type:       s.scheme.RctType,
		TxnFee:     s.tsx.Fee,
		Message:    message,
		PseudoOuts: s.pseudoOuts,
		EcdhInfo:   s.ecdh,
		OutPk:      s.outPk,
	}
	covered := 0
	for _, p := range s.proofs {
		t.Rct.AddProof(p)
		covered += len(p.Commitments())
	}
	if covered != s.numOutputs() {
		return sg.fail(step, errs.Protocol("range proofs cover %d of %d outputs", covered, s.numOutputs()))
	}

	localFull, err := tx.PreSignatureHash(&t.Rct)
	if err != nil {
		return sg.fail(step, err)
	}
	if localFull != fullHash {
		return sg.fail(step, errs.Mismatch("pre-signature hash %s, device sent %s", localFull, fullHash))
	}

	s.prefixHash = localPrefix
	s.fullMessage = localFull
	s.tx = t
	s.pending = ""
	sg.enter(PhaseSignInput)
	return nil
}

// StepSignInput returns the signing request for session input i.
func (sg *Signer) StepSignInput(i int) (*SignInputRequest, error) {
	if err := sg.expect(PhaseSignInput, sg.s.signCursor, i, "sign_input"); err != nil {
		return nil, err
	}
	if sg.s.pending != "" {
		return nil, errs.InvalidState("%s still pending", sg.s.pending)
	}
	src, orig, err := sg.source(i)
	if err != nil {
		return nil, err
	}
	s := &sg.s
	s.pending = "sign_input"
	return &SignInputRequest{
		SrcEntr:        *src,
		Vini:           s.vini[i],
		ViniHMAC:       s.viniHMAC[i],
		PseudoOut:      s.pseudoOut[i],
		PseudoOutHMAC:  s.pseudoHMAC[i],
		PseudoOutAlpha: s.alpha[i],
		SpendKey:       s.spendKey[i],
		OrigIdx:        uint32(orig),
	}, nil
}

// StepSignInputAck stores the signature as received. It stays sealed until
// Final discloses the opening key.
func (sg *Signer) StepSignInputAck(ack *SignInputAck) error {
	if err := sg.expectAck("sign_input"); err != nil {
		return err
	}
	s := &sg.s
	if ack == nil || len(ack.Signature) == 0 {
		return sg.fail(indexed("sign_input_ack", s.signCursor), errs.Protocol("empty signature"))
	}
	s.sealedSigs[s.signCursor] = ack.Signature
	s.signCursor++
	s.pending = ""
	if s.signCursor == s.numInputs() {
		sg.enter(PhaseFinal)
	}
	return nil
}

// StepFinal returns the closing request.
func (sg *Signer) StepFinal() (*FinalRequest, error) {
	if err := sg.expect(PhaseFinal, 0, 0, "final"); err != nil {
		return nil, err
	}
	if sg.s.pending != "" {
		return nil, errs.InvalidState("%s still pending", sg.s.pending)
	}
	sg.s.pending = "final"
	return &FinalRequest{}, nil
}

// StepFinalAck opens every signature and completes the transaction.
func (sg *Signer) StepFinalAck(ack *FinalAck) error {
	const step = "final_ack"
	if err := sg.expectAck("final"); err != nil {
		return err
	}
	s := &sg.s

	if ack == nil || len(ack.Salt) == 0 || len(ack.TxEncKeys) == 0 {
		return sg.fail(step, errs.Protocol("final ack missing tx key data"))
	}
	sealed := s.clientVersion >= 3
	if sealed && len(ack.OpeningKey) == 0 {
		return sg.fail(step, errs.Protocol("final ack missing signature opening key"))
	}

	var clsags []tx.Clsag
	var mgs []tx.MgSig
	for i, blob := range s.sealedSigs {
		if len(blob) == 0 {
			return sg.fail(step, errs.Protocol("signature %d missing", i))
		}
		if sealed {
			opened, err := crypto.OpenSealed(ack.OpeningKey, i, blob)
			if err != nil {
				return sg.fail(step, fmt.Errorf("failed to open signature %d: %w", i, err))
			}
			blob = opened
		}
		if s.scheme.CLSAG {
			var sig tx.Clsag
			if err := codec.Deserialize(blob, &sig); err != nil {
				return sg.fail(step, fmt.Errorf("failed to decode signature %d: %w", i, err))
			}
			clsags = append(clsags, sig)
		} else {
			var sig tx.MgSig
			if err := codec.Deserialize(blob, &sig); err != nil {
				return sg.fail(step, fmt.Errorf("failed to decode signature %d: %w", i, err))
			}
			mgs = append(mgs, sig)
		}
	}

	s.tx.Rct.CLSAGs = clsags
	s.tx.Rct.MGs = mgs
	s.salt = ack.Salt
	s.randMult = ack.RandMult
	s.encKeys = ack.TxEncKeys
	s.pending = ""
	sg.enter(PhaseDone)
	log.Infof("Session %s: signed %d inputs", s.id, s.numInputs())
	return nil
}

// NumInputs returns the number of inputs.
func (sg *Signer) NumInputs() (int, error) {
	if !sg.s.initialized {
		return 0, errs.InvalidState("session not initialized")
	}
	return sg.s.numInputs(), nil
}

// NumOutputs returns the number of outputs.
func (sg *Signer) NumOutputs() (int, error) {
	if !sg.s.initialized {
		return 0, errs.InvalidState("session not initialized")
	}
	return sg.s.numOutputs(), nil
}

// ClientVersion returns the negotiated protocol revision.
func (sg *Signer) ClientVersion() (uint32, error) {
	if !sg.s.initialized {
		return 0, errs.InvalidState("session not initialized")
	}
	return sg.s.clientVersion, nil
}

// ProofScheme returns the negotiated proof scheme.
func (sg *Signer) ProofScheme() (ProofScheme, error) {
	if !sg.s.initialized {
		return ProofScheme{}, errs.InvalidState("session not initialized")
	}
	return sg.s.scheme, nil
}

// RctType returns the RingCT type of the transaction.
func (sg *Signer) RctType() (uint8, error) {
	if !sg.s.initialized {
		return 0, errs.InvalidState("session not initialized")
	}
	return sg.s.scheme.RctType, nil
}

// IsOffloading reports whether the device computes the range proofs.
func (sg *Signer) IsOffloading() (bool, error) {
	if !sg.s.negotiated {
		return false, errs.InvalidState("init ack not processed")
	}
	return sg.s.offload, nil
}

// Grouping returns the range proof batch sizes.
func (sg *Signer) Grouping() ([]uint64, error) {
	if !sg.s.initialized {
		return nil, errs.InvalidState("session not initialized")
	}
	return append([]uint64(nil), sg.s.grouping...), nil
}

// Permutation returns the input order.
func (sg *Signer) Permutation() (Permutation, error) {
	if !sg.s.initialized {
		return Permutation{}, errs.InvalidState("session not initialized")
	}
	return sg.s.perm, nil
}

// SourceTransfer returns the wallet transfer spent by session input idx.
func (sg *Signer) SourceTransfer(idx int) (*wallet.TransferDetails, error) {
	if !sg.s.initialized {
		return nil, errs.InvalidState("session not initialized")
	}
	if idx < 0 || idx >= sg.s.numInputs() {
		return nil, errs.InvalidState("input %d outside [0, %d)", idx, sg.s.numInputs())
	}
	orig, err := sg.s.perm.At(idx)
	if err != nil {
		return nil, err
	}
	return sg.s.unsigned.Transfer(sg.s.cd.SelectedTransfers[orig])
}

// TxPrefixHash returns the verified prefix hash.
func (sg *Signer) TxPrefixHash() (keys.Hash, error) {
	if sg.s.tx == nil {
		return keys.Hash{}, errs.InvalidState("prefix hash not yet agreed")
	}
	return sg.s.prefixHash, nil
}

// Transaction returns the signed transaction.
func (sg *Signer) Transaction() (*tx.Transaction, error) {
	if sg.s.phase != PhaseDone {
		return nil, errs.InvalidState("transaction not signed, phase %s", sg.s.phase)
	}
	return sg.s.tx, nil
}

// KeyImages returns the spent key images in transaction input order.
func (sg *Signer) KeyImages() ([]keys.KeyImage, error) {
	if sg.s.phase != PhaseDone {
		return nil, errs.InvalidState("transaction not signed, phase %s", sg.s.phase)
	}
	out := make([]keys.KeyImage, len(sg.s.vin))
	for i, in := range sg.s.vin {
		out[i] = in.KeyImage
	}
	return out, nil
}

// StoreTxAuxInfo serializes the data needed to recover the tx keys later.
func (sg *Signer) StoreTxAuxInfo() ([]byte, error) {
	if sg.s.phase != PhaseDone {
		return nil, errs.InvalidState("transaction not signed, phase %s", sg.s.phase)
	}
	s := &sg.s
	return codec.Serialize(TxKeyData{
		Version:       TxKeyDataVersion,
		TxPrefixHash:  s.prefixHash,
		Salt1:         s.salt,
		Salt2:         s.randMult,
		TxEncKeys:     s.encKeys,
		ViewPublicKey: sg.shim.Address().ViewPublicKey,
	})
}
