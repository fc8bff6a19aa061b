package protocol

import (
	"fmt"

	"github.com/anchorageoss/coldsign/keys"
	"github.com/anchorageoss/coldsign/wallet"
)

// MessageType identifies a device message on the wire.
type MessageType uint16

// Device message types.
const (
	MsgFailure MessageType = 3

	MsgTransactionInitRequest       MessageType = 501
	MsgTransactionInitAck           MessageType = 502
	MsgTransactionSetInputRequest   MessageType = 503
	MsgTransactionSetInputAck       MessageType = 504
	MsgTransactionInputViniRequest  MessageType = 507
	MsgTransactionInputViniAck      MessageType = 508
	MsgTransactionAllInputsSetReq   MessageType = 509
	MsgTransactionAllInputsSetAck   MessageType = 510
	MsgTransactionSetOutputRequest  MessageType = 511
	MsgTransactionSetOutputAck      MessageType = 512
	MsgTransactionAllOutSetRequest  MessageType = 513
	MsgTransactionAllOutSetAck      MessageType = 514
	MsgTransactionSignInputRequest  MessageType = 515
	MsgTransactionSignInputAck      MessageType = 516
	MsgTransactionFinalRequest      MessageType = 517
	MsgTransactionFinalAck          MessageType = 518
	MsgTransactionRangeProofRequest MessageType = 519
	MsgTransactionRangeProofAck     MessageType = 520
	MsgKeyImageExportInitRequest    MessageType = 530
	MsgKeyImageExportInitAck        MessageType = 531
	MsgKeyImageSyncStepRequest      MessageType = 532
	MsgKeyImageSyncStepAck          MessageType = 533
	MsgKeyImageSyncFinalRequest     MessageType = 534
	MsgKeyImageSyncFinalAck         MessageType = 535
	MsgGetTxKeyRequest              MessageType = 550
	MsgGetTxKeyAck                  MessageType = 551
	MsgLiveRefreshStartRequest      MessageType = 552
	MsgLiveRefreshStartAck          MessageType = 553
	MsgLiveRefreshStepRequest       MessageType = 554
	MsgLiveRefreshStepAck           MessageType = 555
	MsgLiveRefreshFinalRequest      MessageType = 556
	MsgLiveRefreshFinalAck          MessageType = 557
)

// Message is a device request or acknowledgment.
type Message interface {
	MessageType() MessageType
}

// Failure is returned by the device instead of the expected acknowledgment.
type Failure struct {
	Code    uint32 `borsh:"code"`
	Message string `borsh:"message"`
}

func (*Failure) MessageType() MessageType { return MsgFailure }

func (f *Failure) Error() string {
	return fmt.Sprintf("device failure %d: %s", f.Code, f.Message)
}

// RsigData carries range proof parameters and payloads.
type RsigData struct {
	RsigType    uint32   `borsh:"rsig_type"`
	OffloadType uint32   `borsh:"offload_type"`
	Grouping    []uint64 `borsh:"grouping"`
	BpVersion   uint32   `borsh:"bp_version"`
	HasMask     bool     `borsh:"has_mask"`
	Mask        keys.Key `borsh:"mask"`
	Rsig        []byte   `borsh:"rsig"`
}

// TransactionData is the negotiation data agreed at Init. It is immutable
// once the Init request has been built.
type TransactionData struct {
	Version           uint32                    `borsh:"version"`
	ClientVersion     uint32                    `borsh:"client_version"`
	HardFork          uint32                    `borsh:"hard_fork"`
	UnlockTime        uint64                    `borsh:"unlock_time"`
	PaymentID         []byte                    `borsh:"payment_id"`
	Outputs           []wallet.DestinationEntry `borsh:"outputs"`
	ChangeDts         wallet.DestinationEntry   `borsh:"change_dts"`
	NumInputs         uint32                    `borsh:"num_inputs"`
	Mixin             uint32                    `borsh:"mixin"`
	Fee               uint64                    `borsh:"fee"`
	Account           uint32                    `borsh:"account"`
	MinorIndices      []uint32                  `borsh:"minor_indices"`
	RsigData          RsigData                  `borsh:"rsig_data"`
	IntegratedIndices []uint32                  `borsh:"integrated_indices"`
	HMACNonce         keys.Hash                 `borsh:"hmac_nonce"`
}

// InitRequest opens a signing session.
type InitRequest struct {
	Version uint32          `borsh:"version"`
	Address uint32          `borsh:"address_n"`
	Tsx     TransactionData `borsh:"tsx_data"`
}

// InitAck returns one HMAC per destination.
type InitAck struct {
	HMACs       [][]byte `borsh:"hmacs"`
	HasRsigData bool     `borsh:"has_rsig_data"`
	RsigData    RsigData `borsh:"rsig_data"`
}

// SetInputRequest sends one source entry.
type SetInputRequest struct {
	SrcEntr wallet.SourceEntry `borsh:"src_entr"`
}

// SetInputAck returns the serialized input and its commitments.
type SetInputAck struct {
	Vini           []byte `borsh:"vini"`
	ViniHMAC       []byte `borsh:"vini_hmac"`
	PseudoOut      []byte `borsh:"pseudo_out"`
	PseudoOutHMAC  []byte `borsh:"pseudo_out_hmac"`
	PseudoOutAlpha []byte `borsh:"pseudo_out_alpha"`
	SpendKey       []byte `borsh:"spend_key"`
}

// InputViniRequest re-sends an input after ordering, for older clients.
type InputViniRequest struct {
	SrcEntr  wallet.SourceEntry `borsh:"src_entr"`
	Vini     []byte             `borsh:"vini"`
	ViniHMAC []byte             `borsh:"vini_hmac"`
	OrigIdx  uint32             `borsh:"orig_idx"`
}

// InputViniAck is empty.
type InputViniAck struct{}

// AllInputsSetRequest closes the input phase. Permutation lists the
// construction index of each session input.
type AllInputsSetRequest struct {
	Permutation []uint32 `borsh:"permutation"`
}

// AllInputsSetAck may update range proof parameters.
type AllInputsSetAck struct {
	HasRsigData bool     `borsh:"has_rsig_data"`
	RsigData    RsigData `borsh:"rsig_data"`
}

// SetOutputRequest sends one destination with its Init HMAC.
type SetOutputRequest struct {
	DstEntr     wallet.DestinationEntry `borsh:"dst_entr"`
	DstEntrHMAC []byte                  `borsh:"dst_entr_hmac"`
}

// SetOutputAck returns the output, its commitment and encrypted amount.
type SetOutputAck struct {
	TxOut    []byte   `borsh:"tx_out"`
	VoutHMAC []byte   `borsh:"vouti_hmac"`
	OutPk    []byte   `borsh:"out_pk"`
	EcdhInfo []byte   `borsh:"ecdh_info"`
	RsigData RsigData `borsh:"rsig_data"`
}

// RangeProofRequest asks the device for the proof over one output batch.
type RangeProofRequest struct {
	BatchIndex  uint32     `borsh:"batch_index"`
	FirstOutput uint32     `borsh:"first_output"`
	Commitments []keys.Key `borsh:"commitments"`
}

// RangeProofAck carries an encoded range proof.
type RangeProofAck struct {
	Rsig []byte `borsh:"rsig"`
}

// AllOutSetRequest closes the output phase. Rsigs holds locally computed
// proofs when proving is not offloaded.
type AllOutSetRequest struct {
	Rsigs [][]byte `borsh:"rsigs"`
}

// AllOutSetAck returns the device's view of the transaction for comparison.
type AllOutSetAck struct {
	Extra           []byte `borsh:"extra"`
	TxPrefixHash    []byte `borsh:"tx_prefix_hash"`
	RvType          uint32 `borsh:"rv_type"`
	TxnFee          uint64 `borsh:"txn_fee"`
	Message         []byte `borsh:"message"`
	FullMessageHash []byte `borsh:"full_message_hash"`
}

// SignInputRequest asks for the signature of one input.
type SignInputRequest struct {
	SrcEntr        wallet.SourceEntry `borsh:"src_entr"`
	Vini           []byte             `borsh:"vini"`
	ViniHMAC       []byte             `borsh:"vini_hmac"`
	PseudoOut      []byte             `borsh:"pseudo_out"`
	PseudoOutHMAC  []byte             `borsh:"pseudo_out_hmac"`
	PseudoOutAlpha []byte             `borsh:"pseudo_out_alpha"`
	SpendKey       []byte             `borsh:"spend_key"`
	OrigIdx        uint32             `borsh:"orig_idx"`
}

// SignInputAck carries a sealed signature.
type SignInputAck struct {
	Signature []byte `borsh:"signature"`
}

// FinalRequest closes the session.
type FinalRequest struct{}

// FinalAck discloses the signature opening key and the encrypted tx keys.
type FinalAck struct {
	Salt       []byte `borsh:"salt"`
	RandMult   []byte `borsh:"rand_mult"`
	TxEncKeys  []byte `borsh:"tx_enc_keys"`
	OpeningKey []byte `borsh:"opening_key"`
}

// SubAddressIndices lists the minor indices used under one major index.
type SubAddressIndices struct {
	Account uint32   `borsh:"account"`
	Minor   []uint32 `borsh:"minor_indices"`
}

// KeyImageExportInitRequest commits to the batch of transfers to export.
type KeyImageExportInitRequest struct {
	Num  uint64              `borsh:"num"`
	Hash keys.Hash           `borsh:"hash"`
	Subs []SubAddressIndices `borsh:"subs"`
}

// KeyImageExportInitAck is empty.
type KeyImageExportInitAck struct{}

// TransferRecord is the transport form of one transfer.
type TransferRecord struct {
	OutKey              keys.Point   `borsh:"out_key"`
	TxPubKey            keys.Point   `borsh:"tx_pub_key"`
	AdditionalTxPubKeys []keys.Point `borsh:"additional_tx_pub_keys"`
	InternalOutputIndex uint64       `borsh:"internal_output_index"`
	SubAddrMajor        uint32       `borsh:"sub_addr_major"`
	SubAddrMinor        uint32       `borsh:"sub_addr_minor"`
}

// KeyImageSyncStepRequest sends a chunk of transfer records.
type KeyImageSyncStepRequest struct {
	Tdis []TransferRecord `borsh:"tdis"`
}

// ExportedKeyImage is an encrypted (key image, signature) pair.
type ExportedKeyImage struct {
	IV   []byte `borsh:"iv"`
	Blob []byte `borsh:"blob"`
}

// KeyImageSyncStepAck returns one exported key image per record.
type KeyImageSyncStepAck struct {
	Kis []ExportedKeyImage `borsh:"kis"`
}

// KeyImageSyncFinalRequest ends the export.
type KeyImageSyncFinalRequest struct{}

// KeyImageSyncFinalAck discloses the key that decrypts the exported images.
type KeyImageSyncFinalAck struct {
	EncKey []byte `borsh:"enc_key"`
}

// GetTxKeyRequest asks the device to re-disclose transaction keys.
type GetTxKeyRequest struct {
	Salt1         []byte     `borsh:"salt1"`
	Salt2         []byte     `borsh:"salt2"`
	TxEncKeys     []byte     `borsh:"tx_enc_keys"`
	TxPrefixHash  keys.Hash  `borsh:"tx_prefix_hash"`
	Reason        uint32     `borsh:"reason"`
	ViewPublicKey keys.Point `borsh:"view_public_key"`
}

// GetTxKeyAck returns the tx keys encrypted for the host.
type GetTxKeyAck struct {
	Salt   []byte `borsh:"salt"`
	TxKeys []byte `borsh:"tx_keys"`
}

// LiveRefreshStartRequest opens a live refresh session.
type LiveRefreshStartRequest struct{}

// LiveRefreshStartAck is empty.
type LiveRefreshStartAck struct{}

// LiveRefreshStepRequest asks for the key image of one received output.
type LiveRefreshStepRequest struct {
	OutKey       keys.Point `borsh:"out_key"`
	RecvDeriv    keys.Point `borsh:"recv_deriv"`
	RealOutIdx   uint64     `borsh:"real_out_idx"`
	SubAddrMajor uint32     `borsh:"sub_addr_major"`
	SubAddrMinor uint32     `borsh:"sub_addr_minor"`
}

// LiveRefreshStepAck returns the encrypted key image and signature.
type LiveRefreshStepAck struct {
	Salt     []byte `borsh:"salt"`
	KeyImage []byte `borsh:"key_image"`
}

// LiveRefreshFinalRequest closes a live refresh session.
type LiveRefreshFinalRequest struct{}

// LiveRefreshFinalAck is empty.
type LiveRefreshFinalAck struct{}

func (*InitRequest) MessageType() MessageType               { return MsgTransactionInitRequest }
func (*InitAck) MessageType() MessageType                   { return MsgTransactionInitAck }
func (*SetInputRequest) MessageType() MessageType           { return MsgTransactionSetInputRequest }
func (*SetInputAck) MessageType() MessageType               { return MsgTransactionSetInputAck }
func (*InputViniRequest) MessageType() MessageType          { return MsgTransactionInputViniRequest }
func (*InputViniAck) MessageType() MessageType              { return MsgTransactionInputViniAck }
func (*AllInputsSetRequest) MessageType() MessageType       { return MsgTransactionAllInputsSetReq }
func (*AllInputsSetAck) MessageType() MessageType           { return MsgTransactionAllInputsSetAck }
func (*SetOutputRequest) MessageType() MessageType          { return MsgTransactionSetOutputRequest }
func (*SetOutputAck) MessageType() MessageType              { return MsgTransactionSetOutputAck }
func (*RangeProofRequest) MessageType() MessageType         { return MsgTransactionRangeProofRequest }
func (*RangeProofAck) MessageType() MessageType             { return MsgTransactionRangeProofAck }
func (*AllOutSetRequest) MessageType() MessageType          { return MsgTransactionAllOutSetRequest }
func (*AllOutSetAck) MessageType() MessageType              { return MsgTransactionAllOutSetAck }
func (*SignInputRequest) MessageType() MessageType          { return MsgTransactionSignInputRequest }
func (*SignInputAck) MessageType() MessageType              { return MsgTransactionSignInputAck }
func (*FinalRequest) MessageType() MessageType              { return MsgTransactionFinalRequest }
func (*FinalAck) MessageType() MessageType                  { return MsgTransactionFinalAck }
func (*KeyImageExportInitRequest) MessageType() MessageType { return MsgKeyImageExportInitRequest }
func (*KeyImageExportInitAck) MessageType() MessageType     { return MsgKeyImageExportInitAck }
func (*KeyImageSyncStepRequest) MessageType() MessageType   { return MsgKeyImageSyncStepRequest }
func (*KeyImageSyncStepAck) MessageType() MessageType       { return MsgKeyImageSyncStepAck }
func (*KeyImageSyncFinalRequest) MessageType() MessageType  { return MsgKeyImageSyncFinalRequest }
func (*KeyImageSyncFinalAck) MessageType() MessageType      { return MsgKeyImageSyncFinalAck }
func (*GetTxKeyRequest) MessageType() MessageType           { return MsgGetTxKeyRequest }
func (*GetTxKeyAck) MessageType() MessageType               { return MsgGetTxKeyAck }
func (*LiveRefreshStartRequest) MessageType() MessageType   { return MsgLiveRefreshStartRequest }
func (*LiveRefreshStartAck) MessageType() MessageType       { return MsgLiveRefreshStartAck }
func (*LiveRefreshStepRequest) MessageType() MessageType    { return MsgLiveRefreshStepRequest }
func (*LiveRefreshStepAck) MessageType() MessageType        { return MsgLiveRefreshStepAck }
func (*LiveRefreshFinalRequest) MessageType() MessageType   { return MsgLiveRefreshFinalRequest }
func (*LiveRefreshFinalAck) MessageType() MessageType       { return MsgLiveRefreshFinalAck }

// NewMessage returns an empty message of the given type, for transports that
// decode by type tag.
func NewMessage(t MessageType) (Message, error) {
	switch t {
	case MsgFailure:
		return &Failure{}, nil
	case MsgTransactionInitRequest:
		return &InitRequest{}, nil
	case MsgTransactionInitAck:
		return &InitAck{}, nil
	case MsgTransactionSetInputRequest:
		return &SetInputRequest{}, nil
	case MsgTransactionSetInputAck:
		return &SetInputAck{}, nil
	case MsgTransactionInputViniRequest:
		return &InputViniRequest{}, nil
	case MsgTransactionInputViniAck:
		return &InputViniAck{}, nil
	case MsgTransactionAllInputsSetReq:
		return &AllInputsSetRequest{}, nil
	case MsgTransactionAllInputsSetAck:
		return &AllInputsSetAck{}, nil
	case MsgTransactionSetOutputRequest:
		return &SetOutputRequest{}, nil
	case MsgTransactionSetOutputAck:
		return &SetOutputAck{}, nil
	case MsgTransactionRangeProofRequest:
		return &RangeProofRequest{}, nil
	case MsgTransactionRangeProofAck:
		return &RangeProofAck{}, nil
	case MsgTransactionAllOutSetRequest:
		return &AllOutSetRequest{}, nil
	case MsgTransactionAllOutSetAck:
		return &AllOutSetAck{}, nil
	case MsgTransactionSignInputRequest:
		return &SignInputRequest{}, nil
	case MsgTransactionSignInputAck:
		return &SignInputAck{}, nil
	case MsgTransactionFinalRequest:
		return &FinalRequest{}, nil
	case MsgTransactionFinalAck:
		return &FinalAck{}, nil
	case MsgKeyImageExportInitRequest:
		return &KeyImageExportInitRequest{}, nil
	case MsgKeyImageExportInitAck:
		return &KeyImageExportInitAck{}, nil
	case MsgKeyImageSyncStepRequest:
		return &KeyImageSyncStepRequest{}, nil
	case MsgKeyImageSyncStepAck:
		return &KeyImageSyncStepAck{}, nil
	case MsgKeyImageSyncFinalRequest:
		return &KeyImageSyncFinalRequest{}, nil
	case MsgKeyImageSyncFinalAck:
		return &KeyImageSyncFinalAck{}, nil
	case MsgGetTxKeyRequest:
		return &GetTxKeyRequest{}, nil
	case MsgGetTxKeyAck:
		return &GetTxKeyAck{}, nil
	case MsgLiveRefreshStartRequest:
		return &LiveRefreshStartRequest{}, nil
	case MsgLiveRefreshStartAck:
		return &LiveRefreshStartAck{}, nil
	case MsgLiveRefreshStepRequest:
		return &LiveRefreshStepRequest{}, nil
	case MsgLiveRefreshStepAck:
		return &LiveRefreshStepAck{}, nil
	case MsgLiveRefreshFinalRequest:
		return &LiveRefreshFinalRequest{}, nil
	case MsgLiveRefreshFinalAck:
		return &LiveRefreshFinalAck{}, nil
	default:
		return nil, fmt.Errorf("unknown message type %d", t)
	}
}
