package tx

import (
	"encoding/binary"

	"github.com/anchorageoss/coldsign/keys"
)

// tx extra field tags
const (
	ExtraTagPadding           = 0x00
	ExtraTagPubKey            = 0x01
	ExtraTagNonce             = 0x02
	ExtraTagAdditionalPubKeys = 0x04

	NonceTagPaymentID          = 0x00
	NonceTagEncryptedPaymentID = 0x01
)

// ExtractPaymentID returns the payment id carried in the extra nonce, either
// an 8-byte encrypted id or a 32-byte plain one. Parsing stops at the first
// unknown or malformed field.
func ExtractPaymentID(extra []byte) ([]byte, bool) {
	for i := 0; i < len(extra); {
		switch extra[i] {
		case ExtraTagPadding:
			return nil, false
		case ExtraTagPubKey:
			i += 1 + keys.Size
		case ExtraTagAdditionalPubKeys:
			n, w := binary.Uvarint(extra[i+1:])
			if w <= 0 || n > uint64(len(extra)) {
				return nil, false
			}
			i += 1 + w + int(n)*keys.Size
		case ExtraTagNonce:
			if i+1 >= len(extra) {
				return nil, false
			}
			size := int(extra[i+1])
			start := i + 2
			if start+size > len(extra) || size == 0 {
				return nil, false
			}
			nonce := extra[start : start+size]
			switch {
			case nonce[0] == NonceTagEncryptedPaymentID && len(nonce) == 9:
				return append([]byte(nil), nonce[1:]...), true
			case nonce[0] == NonceTagPaymentID && len(nonce) == 33:
				return append([]byte(nil), nonce[1:]...), true
			}
			i = start + size
		default:
			return nil, false
		}
	}
	return nil, false
}

// ExtraPubKey returns an extra field holding the transaction public key.
func ExtraPubKey(pub keys.Point) []byte {
	return append([]byte{ExtraTagPubKey}, pub[:]...)
}

// ExtraEncryptedPaymentID returns an extra nonce field holding an encrypted
// 8-byte payment id.
func ExtraEncryptedPaymentID(id [8]byte) []byte {
	out := []byte{ExtraTagNonce, 9, NonceTagEncryptedPaymentID}
	return append(out, id[:]...)
}
