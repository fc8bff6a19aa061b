package device

import (
	"fmt"
	"strings"

	"github.com/anchorageoss/coldsign/protocol"
	"github.com/anchorageoss/coldsign/tx"
	"github.com/anchorageoss/coldsign/wallet"
)

// Formatter formats device results for display
type Formatter struct{}

// NewFormatter creates a new formatter
func NewFormatter() *Formatter {
	return &Formatter{}
}

func shorten(s string) string {
	if len(s) > 16 {
		return s[:16] + "..."
	}
	return s
}

// FormatSignResult formats a signing result for display
func (f *Formatter) FormatSignResult(result *SignResult) string {
	var sb strings.Builder
	for i, t := range result.Transactions {
		sb.WriteString(fmt.Sprintf("Transaction %d:\n", i))
		sb.WriteString(fmt.Sprintf("  Session: %s\n", t.SessionID))
		sb.WriteString(fmt.Sprintf("  Hash: %s\n", t.TxHash))
		sb.WriteString(fmt.Sprintf("  Prefix Hash: %s\n", t.PrefixHash))
		sb.WriteString(fmt.Sprintf("  Inputs: %d, Outputs: %d\n", t.Inputs, t.Outputs))
		sb.WriteString(fmt.Sprintf("  Fee: %d\n", t.Fee))
		sb.WriteString(fmt.Sprintf("  RingCT Type: %d (offloaded proofs: %t)\n", t.RctType, t.Offloaded))
		sb.WriteString("  Key Images:\n")
		for j, ki := range t.KeyImages {
			sb.WriteString(fmt.Sprintf("    [%d] %s\n", j, shorten(ki)))
		}
	}
	return sb.String()
}

// FormatKeyImages formats synced key images for display
func (f *Formatter) FormatKeyImages(result *SyncResult) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Export %s: %d key images\n", result.ExportID, len(result.KeyImages)))
	for _, r := range result.KeyImages {
		sb.WriteString(fmt.Sprintf("  Transfer %d: %s (output %s)\n", r.TransferIndex, r.KeyImage, shorten(r.OutKey.String())))
	}
	return sb.String()
}

// FormatKeyImagesJSON formats synced key images for JSON output
func (f *Formatter) FormatKeyImagesJSON(result *SyncResult) map[string]interface{} {
	images := make([]map[string]interface{}, len(result.KeyImages))
	for i, r := range result.KeyImages {
		images[i] = map[string]interface{}{
			"transferIndex": r.TransferIndex,
			"outKey":        r.OutKey.String(),
			"keyImage":      r.KeyImage.String(),
		}
	}
	return map[string]interface{}{
		"exportId":  result.ExportID,
		"keyImages": images,
	}
}

// FormatUnsignedTxSet formats an unsigned transaction set for display
func (f *Formatter) FormatUnsignedTxSet(u *wallet.UnsignedTxSet) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Transfers: %d (offset %d)\n", len(u.Transfers), u.TransferOffset))
	for i, c := range u.Txes {
		var in, out uint64
		for _, src := range c.Sources {
			in += src.Amount
		}
		for _, dst := range c.SplittedDsts {
			out += dst.Amount
		}
		var fee uint64
		if in > out {
			fee = in - out
		}
		sb.WriteString(fmt.Sprintf("Transaction %d:\n", i))
		sb.WriteString(fmt.Sprintf("  Inputs: %d (ring size %d), Outputs: %d\n", len(c.Sources), ringSize(c.Sources), len(c.SplittedDsts)))
		sb.WriteString(fmt.Sprintf("  Amount In: %d, Amount Out: %d, Fee: %d\n", in, out, fee))
		sb.WriteString(fmt.Sprintf("  Bulletproof Version: %d, Unlock Time: %d\n", c.RctConfig.BpVersion, c.UnlockTime))
		sb.WriteString(fmt.Sprintf("  Subaddress Account: %d\n", c.SubaddrAccount))
		for j, dst := range c.SplittedDsts {
			sb.WriteString(fmt.Sprintf("    [%d] %d to %s\n", j, dst.Amount, shorten(dst.Addr.SpendPublicKey.String())))
		}
	}
	return sb.String()
}

func ringSize(sources []wallet.SourceEntry) int {
	if len(sources) == 0 {
		return 0
	}
	return len(sources[0].Outputs)
}

// FormatUnsignedTxSetJSON formats an unsigned transaction set for JSON output
func (f *Formatter) FormatUnsignedTxSetJSON(u *wallet.UnsignedTxSet) map[string]interface{} {
	txes := make([]map[string]interface{}, len(u.Txes))
	for i, c := range u.Txes {
		dests := make([]map[string]interface{}, len(c.SplittedDsts))
		for j, dst := range c.SplittedDsts {
			dests[j] = map[string]interface{}{
				"amount":       dst.Amount,
				"spendKey":     dst.Addr.SpendPublicKey.String(),
				"viewKey":      dst.Addr.ViewPublicKey.String(),
				"isSubaddress": dst.IsSubaddress,
			}
		}
		txes[i] = map[string]interface{}{
			"inputs":       len(c.Sources),
			"ringSize":     ringSize(c.Sources),
			"destinations": dests,
			"bpVersion":    c.RctConfig.BpVersion,
			"unlockTime":   c.UnlockTime,
		}
	}
	return map[string]interface{}{
		"transferOffset": u.TransferOffset,
		"transfers":      len(u.Transfers),
		"txes":           txes,
	}
}

func txHashes(t *tx.Transaction) (string, string) {
	txHash, prefixHash := "<invalid>", "<invalid>"
	if h, err := t.Hash(); err == nil {
		txHash = h.String()
	}
	if h, err := t.Prefix.Hash(); err == nil {
		prefixHash = h.String()
	}
	return txHash, prefixHash
}

// FormatSignedTxSet formats a signed transaction set for display
func (f *Formatter) FormatSignedTxSet(s *wallet.SignedTxSet) string {
	var sb strings.Builder
	for i := range s.Txes {
		t := &s.Txes[i]
		txHash, prefixHash := txHashes(t)
		sb.WriteString(fmt.Sprintf("Transaction %d:\n", i))
		sb.WriteString(fmt.Sprintf("  Hash: %s\n", txHash))
		sb.WriteString(fmt.Sprintf("  Prefix Hash: %s\n", prefixHash))
		sb.WriteString(fmt.Sprintf("  Inputs: %d, Outputs: %d\n", len(t.Prefix.Vin), len(t.Prefix.Vout)))
		sb.WriteString(fmt.Sprintf("  RingCT Type: %d, Fee: %d\n", t.Rct.Type, t.Rct.TxnFee))
		sb.WriteString(fmt.Sprintf("  Signatures: %d, Range Proofs: %d\n", t.Rct.NumSignatures(), len(t.Rct.Proofs())))
	}
	sb.WriteString(fmt.Sprintf("Key Images: %d\n", len(s.KeyImgs)))
	for j, ki := range s.KeyImgs {
		sb.WriteString(fmt.Sprintf("  [%d] %s\n", j, ki))
	}
	return sb.String()
}

// FormatSignedTxSetJSON formats a signed transaction set for JSON output
func (f *Formatter) FormatSignedTxSetJSON(s *wallet.SignedTxSet) map[string]interface{} {
	txes := make([]map[string]interface{}, len(s.Txes))
	for i := range s.Txes {
		t := &s.Txes[i]
		txHash, prefixHash := txHashes(t)
		txes[i] = map[string]interface{}{
			"txHash":      txHash,
			"prefixHash":  prefixHash,
			"inputs":      len(t.Prefix.Vin),
			"outputs":     len(t.Prefix.Vout),
			"rctType":     t.Rct.Type,
			"fee":         t.Rct.TxnFee,
			"signatures":  t.Rct.NumSignatures(),
			"rangeProofs": len(t.Rct.Proofs()),
		}
	}
	images := make([]string, len(s.KeyImgs))
	for i, ki := range s.KeyImgs {
		images[i] = ki.String()
	}
	return map[string]interface{}{
		"txes":      txes,
		"keyImages": images,
	}
}

// FormatTxKeyData formats persisted tx key data. The keys stay encrypted.
func (f *Formatter) FormatTxKeyData(d *protocol.TxKeyData) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Version: %d\n", d.Version))
	sb.WriteString(fmt.Sprintf("Prefix Hash: %s\n", d.TxPrefixHash))
	sb.WriteString(fmt.Sprintf("View Public Key: %s\n", d.ViewPublicKey))
	sb.WriteString(fmt.Sprintf("Encrypted Keys: %d bytes\n", len(d.TxEncKeys)))
	return sb.String()
}
