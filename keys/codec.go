package keys

import (
	"encoding/hex"
	"strings"

	"github.com/anchorageoss/coldsign/errs"
)

// Size is the canonical width of every key value.
const Size = 32

// Point is a compressed ed25519 curve point.
type Point [Size]byte

// Scalar is a little-endian scalar modulo the group order.
type Scalar [Size]byte

// Hash is a Keccak-256 digest.
type Hash [Size]byte

// Key is a RingCT key: a commitment, mask or other 32-byte value that may be
// either a point or a scalar depending on context.
type Key [Size]byte

// KeyImage is the spend tag of an output, x*Hp(P).
type KeyImage [Size]byte

// Fixed is the set of 32-byte key kinds handled by the codec.
type Fixed interface {
	~[Size]byte
}

// KeyToString returns the canonical byte encoding of v. The result always has
// length Size.
func KeyToString[T Fixed](v T) []byte {
	out := make([]byte, Size)
	copy(out, v[:])
	return out
}

// StringToKey decodes a canonical encoding. Inputs that are not exactly Size
// bytes fail with errs.ErrEncoding.
func StringToKey[T Fixed](b []byte) (T, error) {
	var v T
	if len(b) != Size {
		return v, errs.Encoding("key must be %d bytes, got %d", Size, len(b))
	}
	copy(v[:], b)
	return v, nil
}

// ParseHex decodes a hex encoded key.
func ParseHex[T Fixed](s string) (T, error) {
	var v T
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return v, errs.Encoding("invalid hex: %v", err)
	}
	return StringToKey[T](raw)
}

// IsZero reports whether every byte of v is zero.
func IsZero[T Fixed](v T) bool {
	var zero T
	return v == zero
}

func (p Point) String() string    { return hex.EncodeToString(p[:]) }
func (s Scalar) String() string   { return "<scalar>" }
func (h Hash) String() string     { return hex.EncodeToString(h[:]) }
func (k Key) String() string      { return hex.EncodeToString(k[:]) }
func (k KeyImage) String() string { return hex.EncodeToString(k[:]) }

// Signature is a ring signature element (c, r).
type Signature struct {
	C Scalar
	R Scalar
}

// Bytes returns c || r.
func (s Signature) Bytes() []byte {
	out := make([]byte, 0, 2*Size)
	out = append(out, s.C[:]...)
	return append(out, s.R[:]...)
}

// SignatureFromBytes decodes c || r.
func SignatureFromBytes(b []byte) (Signature, error) {
	var sig Signature
	if len(b) != 2*Size {
		return sig, errs.Encoding("signature must be %d bytes, got %d", 2*Size, len(b))
	}
	copy(sig.C[:], b[:Size])
	copy(sig.R[:], b[Size:])
	return sig, nil
}

// KeyPair is an output key pair. Secret is zero when only the public half is
// known to the host.
type KeyPair struct {
	Public Point
	Secret Scalar
}
