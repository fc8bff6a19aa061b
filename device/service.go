package device

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/anchorageoss/coldsign/errs"
	"github.com/anchorageoss/coldsign/keys"
	"github.com/anchorageoss/coldsign/protocol"
	"github.com/anchorageoss/coldsign/wallet"
)

// Transport interface for exchanging messages with the device
type Transport interface {
	Call(ctx context.Context, req, ack protocol.Message) error
}

// Service handles device operations
type Service struct {
	transport Transport
	cfg       protocol.Config

	// commsLock serializes access to the device.
	commsLock sync.Mutex
}

// NewService creates a new device service
func NewService(transport Transport, cfg protocol.Config) *Service {
	return &Service{
		transport: transport,
		cfg:       cfg.WithDefaults(),
	}
}

func (s *Service) call(ctx context.Context, req, ack protocol.Message) error {
	if err := s.transport.Call(ctx, req, ack); err != nil {
		var failure *protocol.Failure
		if errors.As(err, &failure) {
			return fmt.Errorf("device rejected message %d: %w", req.MessageType(), err)
		}
		return fmt.Errorf("failed to call device: %w", err)
	}
	return nil
}

// roundTrip sends req and hands the acknowledgment to apply. A request that
// could not be built is reported as is.
func roundTrip[A protocol.Message](ctx context.Context, s *Service, req protocol.Message, reqErr error, ack A, apply func(A) error) error {
	if reqErr != nil {
		return reqErr
	}
	if err := s.call(ctx, req, ack); err != nil {
		return err
	}
	return apply(ack)
}

// SignTransaction signs every transaction of the unsigned set
func (s *Service) SignTransaction(ctx context.Context, req *SignRequest) (*SignResult, error) {
	if req == nil || req.Shim == nil || req.Unsigned == nil {
		return nil, errors.New("sign request needs a wallet and an unsigned set")
	}
	if err := req.Unsigned.Validate(); err != nil {
		return nil, errs.InvalidState("invalid unsigned set: %v", err)
	}

	s.commsLock.Lock()
	defer s.commsLock.Unlock()

	result := &SignResult{Signed: &wallet.SignedTxSet{}}
	for i := range req.Unsigned.Txes {
		summary, err := s.signOne(ctx, req, i, result)
		if err != nil {
			return nil, fmt.Errorf("failed to sign transaction %d: %w", i, err)
		}
		result.Transactions = append(result.Transactions, *summary)
	}
	return result, nil
}

func (s *Service) signOne(ctx context.Context, req *SignRequest, txIdx int, result *SignResult) (*SignedTxSummary, error) {
	sg, err := protocol.NewSigner(req.Shim, req.Unsigned, txIdx, req.Aux, s.cfg)
	if err != nil {
		return nil, err
	}
	log.Infof("Signing transaction %d in session %s", txIdx, sg.ID())

	// Step 1: Init
	initReq, err := sg.StepInit()
	if err := roundTrip(ctx, s, initReq, err, &protocol.InitAck{}, sg.StepInitAck); err != nil {
		return nil, err
	}
	numInputs, err := sg.NumInputs()
	if err != nil {
		return nil, err
	}
	numOutputs, err := sg.NumOutputs()
	if err != nil {
		return nil, err
	}

	// Step 2: Inputs
	for i := range numInputs {
		r, err := sg.StepSetInput(i)
		if err := roundTrip(ctx, s, r, err, &protocol.SetInputAck{}, sg.StepSetInputAck); err != nil {
			return nil, err
		}
	}
	if sg.Phase() == protocol.PhaseInputVini {
		for i := range numInputs {
			r, err := sg.StepInputVini(i)
			if err := roundTrip(ctx, s, r, err, &protocol.InputViniAck{}, sg.StepInputViniAck); err != nil {
				return nil, err
			}
		}
	}
	allIn, err := sg.StepAllInputsSet()
	if err := roundTrip(ctx, s, allIn, err, &protocol.AllInputsSetAck{}, sg.StepAllInputsSetAck); err != nil {
		return nil, err
	}

	// Step 3: Outputs, fetching offloaded proofs as batches close
	batch := 0
	for i := range numOutputs {
		r, err := sg.StepSetOutput(i)
		if err := roundTrip(ctx, s, r, err, &protocol.SetOutputAck{}, sg.StepSetOutputAck); err != nil {
			return nil, err
		}
		if sg.Phase() == protocol.PhaseRangeProof {
			rp, err := sg.StepRangeProof(batch)
			if err := roundTrip(ctx, s, rp, err, &protocol.RangeProofAck{}, sg.StepRangeProofAck); err != nil {
				return nil, err
			}
			batch++
		}
	}
	allOut, err := sg.StepAllOutputsSet()
	if err := roundTrip(ctx, s, allOut, err, &protocol.AllOutSetAck{}, sg.StepAllOutputsSetAck); err != nil {
		return nil, err
	}

	// Step 4: Signatures
	for i := range numInputs {
		r, err := sg.StepSignInput(i)
		if err := roundTrip(ctx, s, r, err, &protocol.SignInputAck{}, sg.StepSignInputAck); err != nil {
			return nil, err
		}
	}
	final, err := sg.StepFinal()
	if err := roundTrip(ctx, s, final, err, &protocol.FinalAck{}, sg.StepFinalAck); err != nil {
		return nil, err
	}

	// Step 5: Collect the signed transaction and its aux data
	signed, err := sg.Transaction()
	if err != nil {
		return nil, err
	}
	aux, err := sg.StoreTxAuxInfo()
	if err != nil {
		return nil, err
	}
	kis, err := sg.KeyImages()
	if err != nil {
		return nil, err
	}
	prefixHash, err := sg.TxPrefixHash()
	if err != nil {
		return nil, err
	}
	txHash, err := signed.Hash()
	if err != nil {
		return nil, err
	}
	offloaded, err := sg.IsOffloading()
	if err != nil {
		return nil, err
	}

	result.Signed.Txes = append(result.Signed.Txes, *signed)
	result.Signed.TxKeys = append(result.Signed.TxKeys, aux)
	result.Signed.KeyImgs = append(result.Signed.KeyImgs, kis...)
	result.AuxData = append(result.AuxData, aux)
	result.PrefixHashes = append(result.PrefixHashes, prefixHash)

	summary := &SignedTxSummary{
		SessionID:  sg.ID().String(),
		TxHash:     txHash.String(),
		PrefixHash: prefixHash.String(),
		Inputs:     numInputs,
		Outputs:    numOutputs,
		Fee:        signed.Rct.TxnFee,
		RctType:    signed.Rct.Type,
		Offloaded:  offloaded,
	}
	for _, ki := range kis {
		summary.KeyImages = append(summary.KeyImages, ki.String())
	}
	return summary, nil
}

// SyncKeyImages exports the key images of the given transfers and verifies
// each one against its output key.
func (s *Service) SyncKeyImages(ctx context.Context, shim wallet.Shim, transfers []wallet.TransferDetails) (*SyncResult, error) {
	batch, err := protocol.BuildExportRequest(shim, transfers)
	if err != nil {
		return nil, err
	}

	s.commsLock.Lock()
	defer s.commsLock.Unlock()

	exportID := uuid.New().String()
	log.Infof("Exporting %d key images, export %s", len(transfers), exportID)

	// Step 1: Commit to the batch
	if err := s.call(ctx, batch.InitRequest(), &protocol.KeyImageExportInitAck{}); err != nil {
		return nil, err
	}

	// Step 2: Stream the transfers
	exported := make([]protocol.ExportedKeyImage, 0, len(transfers))
	for i, step := range batch.StepRequests() {
		ack := &protocol.KeyImageSyncStepAck{}
		if err := s.call(ctx, step, ack); err != nil {
			return nil, err
		}
		if len(ack.Kis) != len(step.Tdis) {
			return nil, errs.AtStep(fmt.Sprintf("key_image_sync_step[%d]", i),
				errs.Protocol("device returned %d key images for %d transfers", len(ack.Kis), len(step.Tdis)))
		}
		exported = append(exported, ack.Kis...)
	}

	// Step 3: Disclose the encryption key
	final := &protocol.KeyImageSyncFinalAck{}
	if err := s.call(ctx, &protocol.KeyImageSyncFinalRequest{}, final); err != nil {
		return nil, err
	}
	if len(final.EncKey) == 0 {
		return nil, errs.AtStep("key_image_sync_final", errs.Protocol("missing encryption key"))
	}

	// Step 4: Decrypt and verify concurrently
	results := make([]KeyImageResult, len(transfers))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range transfers {
		g.Go(func() error {
			td := &transfers[i]
			ki, err := protocol.DecodeExportedKeyImage(final.EncKey, &exported[i], td.OutKey, s.cfg.Primitives)
			if err != nil {
				return errs.AtStep(fmt.Sprintf("key_image[%d]", i), err)
			}
			if err := protocol.CheckKnownKeyImage(td, ki); err != nil {
				return errs.AtStep(fmt.Sprintf("key_image[%d]", i), err)
			}
			results[i] = KeyImageResult{TransferIndex: i, OutKey: td.OutKey, KeyImage: ki}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Infof("Export %s verified %d key images", exportID, len(results))
	return &SyncResult{ExportID: exportID, KeyImages: results}, nil
}

// LiveRefresh fetches key images one output at a time.
func (s *Service) LiveRefresh(ctx context.Context, shim wallet.Shim, transfers []wallet.TransferDetails) (*SyncResult, error) {
	s.commsLock.Lock()
	defer s.commsLock.Unlock()

	if err := s.call(ctx, &protocol.LiveRefreshStartRequest{}, &protocol.LiveRefreshStartAck{}); err != nil {
		return nil, err
	}

	result := &SyncResult{ExportID: uuid.New().String()}
	for i := range transfers {
		td := &transfers[i]
		req, err := protocol.LiveRefreshStep(shim, td, s.cfg.Primitives)
		if err != nil {
			return nil, err
		}
		ack := &protocol.LiveRefreshStepAck{}
		if err := s.call(ctx, req, ack); err != nil {
			return nil, err
		}
		ki, _, err := protocol.VerifyAndDecode(ack, shim.ViewSecretKey(), td.OutKey, s.cfg.Primitives)
		if err != nil {
			return nil, errs.AtStep(fmt.Sprintf("live_refresh_step[%d]", i), err)
		}
		if err := protocol.CheckKnownKeyImage(td, ki); err != nil {
			return nil, errs.AtStep(fmt.Sprintf("live_refresh_step[%d]", i), err)
		}
		result.KeyImages = append(result.KeyImages, KeyImageResult{TransferIndex: i, OutKey: td.OutKey, KeyImage: ki})
	}

	if err := s.call(ctx, &protocol.LiveRefreshFinalRequest{}, &protocol.LiveRefreshFinalAck{}); err != nil {
		return nil, err
	}
	return result, nil
}

// GetTxKeys recovers the transaction keys from persisted aux data.
func (s *Service) GetTxKeys(ctx context.Context, shim wallet.Shim, auxData []byte) ([]keys.Scalar, error) {
	data, err := protocol.LoadTxKeyData(auxData)
	if err != nil {
		return nil, fmt.Errorf("failed to load tx key data: %w", err)
	}

	s.commsLock.Lock()
	defer s.commsLock.Unlock()

	ack := &protocol.GetTxKeyAck{}
	if err := s.call(ctx, protocol.NewGetTxKeyRequest(data, protocol.TxKeyReasonKey), ack); err != nil {
		return nil, err
	}
	txKeys, err := protocol.DecryptTxKeys(ack, shim.ViewSecretKey(), data.TxPrefixHash)
	if err != nil {
		return nil, errs.AtStep("get_tx_key", err)
	}
	log.Debugf("Recovered %d tx keys for prefix %s", len(txKeys), data.TxPrefixHash)
	return txKeys, nil
}
