package crypto

import (
	"crypto/hmac"
	"encoding/binary"

	"golang.org/x/crypto/sha3"

	"github.com/anchorageoss/coldsign/keys"
)

// FastHash returns the legacy Keccak-256 digest of the concatenated inputs.
func FastHash(data ...[]byte) keys.Hash {
	h := sha3.NewLegacyKeccak256()
	for _, b := range data {
		h.Write(b)
	}
	var out keys.Hash
	h.Sum(out[:0])
	return out
}

// HMACKeccak returns HMAC with Keccak-256 over the concatenated inputs.
func HMACKeccak(key []byte, data ...[]byte) []byte {
	mac := hmac.New(sha3.NewLegacyKeccak256, key)
	for _, b := range data {
		mac.Write(b)
	}
	return mac.Sum(nil)
}

// EqualMAC compares two MACs in constant time.
func EqualMAC(a, b []byte) bool {
	return hmac.Equal(a, b)
}

// Varint encodes v as an unsigned LEB128 varint.
func Varint(v uint64) []byte {
	return binary.AppendUvarint(nil, v)
}
