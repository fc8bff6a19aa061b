// Package wallet holds the wallet-side data the signing engine consumes:
// received transfers, the unsigned transaction construction data produced by
// output selection, and the auxiliary signing hints.
package wallet

import (
	"errors"
	"fmt"

	"github.com/anchorageoss/coldsign/keys"
	"github.com/anchorageoss/coldsign/tx"
)

// Range proof types negotiated in RCTConfig.
const (
	RangeProofBorromean         uint8 = 0
	RangeProofBulletproof       uint8 = 1
	RangeProofMultiOutputBullet uint8 = 2
	RangeProofPaddedBulletproof uint8 = 3
)

// AccountPublicAddress is a standard or subaddress public address.
type AccountPublicAddress struct {
	SpendPublicKey keys.Point `borsh:"spend_public_key"`
	ViewPublicKey  keys.Point `borsh:"view_public_key"`
}

// SubaddressIndex locates a subaddress within the wallet.
type SubaddressIndex struct {
	Major uint32 `borsh:"major"`
	Minor uint32 `borsh:"minor"`
}

// TransferDetails is an output received by the wallet.
type TransferDetails struct {
	BlockHeight         uint64          `borsh:"block_height"`
	TxHash              keys.Hash       `borsh:"txid"`
	InternalOutputIndex uint64          `borsh:"internal_output_index"`
	GlobalOutputIndex   uint64          `borsh:"global_output_index"`
	OutKey              keys.Point      `borsh:"out_key"`
	TxPubKey            keys.Point      `borsh:"tx_pub_key"`
	AdditionalTxPubKeys []keys.Point    `borsh:"additional_tx_pub_keys"`
	Amount              uint64          `borsh:"amount"`
	Mask                keys.Key        `borsh:"mask"`
	Rct                 bool            `borsh:"rct"`
	Spent               bool            `borsh:"spent"`
	KeyImage            keys.KeyImage   `borsh:"key_image"`
	KeyImageKnown       bool            `borsh:"key_image_known"`
	SubaddrIndex        SubaddressIndex `borsh:"subaddr_index"`
}

// OutputEntry is one ring member: its global index and public key/commitment.
type OutputEntry struct {
	Index uint64   `borsh:"index"`
	Key   tx.CtKey `borsh:"key"`
}

// SourceEntry is one input of the transaction being built.
type SourceEntry struct {
	Outputs                 []OutputEntry `borsh:"outputs"`
	RealOutput              uint64        `borsh:"real_output"`
	RealOutTxKey            keys.Point    `borsh:"real_out_tx_key"`
	RealOutAdditionalTxKeys []keys.Point  `borsh:"real_out_additional_tx_keys"`
	RealOutputInTxIndex     uint64        `borsh:"real_output_in_tx_index"`
	Amount                  uint64        `borsh:"amount"`
	Rct                     bool          `borsh:"rct"`
	Mask                    keys.Key      `borsh:"mask"`
}

// Validate checks that the real output is inside the ring.
func (s SourceEntry) Validate() error {
	if len(s.Outputs) == 0 {
		return errors.New("source has an empty ring")
	}
	if s.RealOutput >= uint64(len(s.Outputs)) {
		return fmt.Errorf("real output %d outside ring of %d", s.RealOutput, len(s.Outputs))
	}
	return nil
}

// KeyOffsets converts the ring's global indices to the relative offsets a
// transaction input carries. The ring must be sorted by global index.
func (s SourceEntry) KeyOffsets() ([]uint64, error) {
	out := make([]uint64, len(s.Outputs))
	for i, o := range s.Outputs {
		if i == 0 {
			out[i] = o.Index
			continue
		}
		prev := s.Outputs[i-1].Index
		if o.Index <= prev {
			return nil, fmt.Errorf("ring not sorted at member %d", i)
		}
		out[i] = o.Index - prev
	}
	return out, nil
}

// DestinationEntry is one payment destination.
type DestinationEntry struct {
	Original     string               `borsh:"original"`
	Amount       uint64               `borsh:"amount"`
	Addr         AccountPublicAddress `borsh:"addr"`
	IsSubaddress bool                 `borsh:"is_subaddress"`
	IsIntegrated bool                 `borsh:"is_integrated"`
}

// RCTConfig selects the range proof type and Bulletproof version.
type RCTConfig struct {
	RangeProofType uint8 `borsh:"range_proof_type"`
	BpVersion      uint8 `borsh:"bp_version"`
}

// TxConstructionData is the unsigned transaction produced by output selection.
type TxConstructionData struct {
	Sources           []SourceEntry      `borsh:"sources"`
	ChangeDts         DestinationEntry   `borsh:"change_dts"`
	SplittedDsts      []DestinationEntry `borsh:"splitted_dsts"`
	SelectedTransfers []uint64           `borsh:"selected_transfers"`
	Extra             []byte             `borsh:"extra"`
	UnlockTime        uint64             `borsh:"unlock_time"`
	UseRct            bool               `borsh:"use_rct"`
	RctConfig         RCTConfig          `borsh:"rct_config"`
	Dests             []DestinationEntry `borsh:"dests"`
	SubaddrAccount    uint32             `borsh:"subaddr_account"`
	SubaddrIndices    []uint32           `borsh:"subaddr_indices"`
}

// Validate checks the structural consistency of the construction data.
func (c TxConstructionData) Validate() error {
	if len(c.Sources) == 0 {
		return errors.New("no sources")
	}
	if len(c.SplittedDsts) == 0 {
		return errors.New("no destinations")
	}
	if len(c.SelectedTransfers) != len(c.Sources) {
		return fmt.Errorf("%d selected transfers for %d sources", len(c.SelectedTransfers), len(c.Sources))
	}
	for i, src := range c.Sources {
		if err := src.Validate(); err != nil {
			return fmt.Errorf("source %d: %w", i, err)
		}
	}
	return nil
}

// UnsignedTxSet is a batch of unsigned transactions together with the
// transfers they spend. Selected transfer indices are absolute, offset by
// TransferOffset into Transfers.
type UnsignedTxSet struct {
	Txes           []TxConstructionData `borsh:"txes"`
	TransferOffset uint64               `borsh:"transfer_offset"`
	Transfers      []TransferDetails    `borsh:"transfers"`
}

// Validate checks that every selected transfer resolves.
func (u UnsignedTxSet) Validate() error {
	for i, c := range u.Txes {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("tx %d: %w", i, err)
		}
		for _, sel := range c.SelectedTransfers {
			if _, err := u.Transfer(sel); err != nil {
				return fmt.Errorf("tx %d: %w", i, err)
			}
		}
	}
	return nil
}

// Transfer resolves an absolute transfer index.
func (u *UnsignedTxSet) Transfer(idx uint64) (*TransferDetails, error) {
	if idx < u.TransferOffset || idx-u.TransferOffset >= uint64(len(u.Transfers)) {
		return nil, fmt.Errorf("transfer %d outside [%d, %d)", idx, u.TransferOffset, u.TransferOffset+uint64(len(u.Transfers)))
	}
	return &u.Transfers[idx-u.TransferOffset], nil
}

// TxRecipient is a recipient address as entered by the user.
type TxRecipient struct {
	Address      AccountPublicAddress `borsh:"address"`
	HasPaymentID bool                 `borsh:"has_payment_id"`
}

// TxAuxData carries signing hints that are not part of the construction data.
// Zero values mean "use the default".
type TxAuxData struct {
	TxRecipients  []TxRecipient `borsh:"tx_recipients"`
	BpVersion     uint8         `borsh:"bp_version"`
	ClientVersion uint32        `borsh:"client_version"`
	HardFork      uint32        `borsh:"hard_fork"`
}

// SignedTxSet is the result of signing an unsigned set.
type SignedTxSet struct {
	Txes    []tx.Transaction `borsh:"txes"`
	TxKeys  [][]byte         `borsh:"tx_device_aux"`
	KeyImgs []keys.KeyImage  `borsh:"key_images"`
}

// TransferSet is the list of owned outputs exported for key image sync.
type TransferSet struct {
	Transfers []TransferDetails `borsh:"transfers"`
}
