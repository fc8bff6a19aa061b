// Package testdata provides deterministic wallet fixtures for use across all
// test packages.
package testdata

import (
	"fmt"

	"github.com/anchorageoss/coldsign/crypto"
	"github.com/anchorageoss/coldsign/keys"
	"github.com/anchorageoss/coldsign/tx"
	"github.com/anchorageoss/coldsign/wallet"
)

// Fee is the fee every fixture transaction pays.
const Fee = 1000

// InputAmount is the amount of every fixture transfer.
const InputAmount = 1_000_000

// RingSize is the ring size of every fixture input.
const RingSize = 3

// Fixture is a watch-only wallet with spendable transfers, an unsigned
// transaction over them and the one-time secrets a device would derive.
type Fixture struct {
	Keys          *keys.WalletKeys
	Account       *wallet.Account
	OutputSecrets map[keys.Point]keys.Scalar
	Unsigned      *wallet.UnsignedTxSet
	Aux           *wallet.TxAuxData
}

func scalar(label string, i int) keys.Scalar {
	return crypto.HashToScalar([]byte("coldsign fixture"), []byte(label), []byte{byte(i)})
}

func pair(label string, i int) (keys.Scalar, keys.Point, error) {
	sec := scalar(label, i)
	pub, err := crypto.Ed25519{}.SecretToPublic(sec)
	if err != nil {
		return keys.Scalar{}, keys.Point{}, fmt.Errorf("failed to derive %s[%d]: %w", label, i, err)
	}
	return sec, pub, nil
}

// NewFixture builds a wallet with numInputs transfers and an unsigned
// transaction spending all of them to numOutputs destinations, the last of
// which is change. bpVersion selects the proof scheme.
func NewFixture(numInputs, numOutputs int, bpVersion uint8) (*Fixture, error) {
	if numInputs < 1 || numOutputs < 1 {
		return nil, fmt.Errorf("fixture needs at least one input and one output")
	}
	ed := crypto.Ed25519{}

	viewSec, viewPub, err := pair("view", 0)
	if err != nil {
		return nil, err
	}
	_, spendPub, err := pair("spend", 0)
	if err != nil {
		return nil, err
	}
	wk := &keys.WalletKeys{Name: "fixture", SpendPublic: spendPub, ViewPublic: viewPub, ViewSecret: viewSec}
	own := wallet.AccountPublicAddress{SpendPublicKey: spendPub, ViewPublicKey: viewPub}

	_, txPub, err := pair("txpub", 0)
	if err != nil {
		return nil, err
	}

	f := &Fixture{
		Keys:          wk,
		Account:       wallet.NewAccount(wk),
		OutputSecrets: make(map[keys.Point]keys.Scalar),
		Aux:           &wallet.TxAuxData{},
	}

	const offset = 7
	set := &wallet.UnsignedTxSet{TransferOffset: offset}
	cd := wallet.TxConstructionData{
		UseRct:         true,
		RctConfig:      wallet.RCTConfig{RangeProofType: wallet.RangeProofPaddedBulletproof, BpVersion: bpVersion},
		SubaddrIndices: []uint32{0},
		Extra:          append(tx.ExtraPubKey(txPub), tx.ExtraEncryptedPaymentID([8]byte{1, 2, 3, 4, 5, 6, 7, 8})...),
	}

	for i := range numInputs {
		sec, pub, err := pair("output", i)
		if err != nil {
			return nil, err
		}
		ki, err := ed.GenerateKeyImage(pub, sec)
		if err != nil {
			return nil, fmt.Errorf("failed to derive key image %d: %w", i, err)
		}
		f.OutputSecrets[pub] = sec

		global := uint64(1000 + 100*i)
		set.Transfers = append(set.Transfers, wallet.TransferDetails{
			BlockHeight:         uint64(2000 + i),
			TxHash:              keys.Hash(scalar("txid", i)),
			GlobalOutputIndex:   global,
			OutKey:              pub,
			TxPubKey:            txPub,
			AdditionalTxPubKeys: []keys.Point{txPub},
			Amount:              InputAmount,
			Mask:                keys.Key(scalar("mask", i)),
			Rct:                 true,
			KeyImage:            ki,
			KeyImageKnown:       true,
		})

		ring := make([]wallet.OutputEntry, RingSize)
		for r := range ring {
			_, decoy, err := pair("decoy", i*RingSize+r)
			if err != nil {
				return nil, err
			}
			ring[r] = wallet.OutputEntry{
				Index: global - 1 + uint64(r),
				Key:   tx.CtKey{Dest: keys.Key(decoy), Mask: keys.Key(scalar("commit", i*RingSize+r))},
			}
		}
		ring[1].Key.Dest = keys.Key(pub)

		cd.Sources = append(cd.Sources, wallet.SourceEntry{
			Outputs:                 ring,
			RealOutput:              1,
			RealOutTxKey:            txPub,
			RealOutAdditionalTxKeys: []keys.Point{txPub},
			Amount:                  InputAmount,
			Rct:                     true,
			Mask:                    keys.Key(scalar("mask", i)),
		})
		cd.SelectedTransfers = append(cd.SelectedTransfers, uint64(offset+i))
	}

	total := uint64(numInputs*InputAmount - Fee)
	each := total / uint64(numOutputs)
	for i := range numOutputs {
		amount := each
		addr := own
		if i == numOutputs-1 {
			amount = total - each*uint64(numOutputs-1)
		} else {
			_, s, err := pair("recipient-spend", i)
			if err != nil {
				return nil, err
			}
			_, v, err := pair("recipient-view", i)
			if err != nil {
				return nil, err
			}
			addr = wallet.AccountPublicAddress{SpendPublicKey: s, ViewPublicKey: v}
			f.Aux.TxRecipients = append(f.Aux.TxRecipients, wallet.TxRecipient{Address: addr, HasPaymentID: i == 0})
		}
		dst := wallet.DestinationEntry{Original: fmt.Sprintf("dest-%d", i), Amount: amount, Addr: addr}
		cd.SplittedDsts = append(cd.SplittedDsts, dst)
		cd.Dests = append(cd.Dests, dst)
		if i == numOutputs-1 {
			cd.ChangeDts = dst
		}
	}

	set.Txes = []wallet.TxConstructionData{cd}
	f.Unsigned = set
	return f, nil
}
