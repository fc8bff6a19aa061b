package crypto

import (
	"github.com/anchorageoss/coldsign/errs"
	"github.com/anchorageoss/coldsign/keys"
)

const (
	sealKeyDomain = "sig-key"
	sealIVDomain  = "sig-iv"
)

// ComputeEncKey derives a payload encryption key shared with the device from
// the private view key, a context value and a device-chosen salt:
//
//	h = H(H(view || aux))
//	key = HMAC-Keccak(salt, h)
func ComputeEncKey(view keys.Scalar, aux, salt []byte) keys.Key {
	h := FastHash(view[:], aux)
	h = FastHash(h[:])

	var out keys.Key
	copy(out[:], HMACKeccak(salt, h[:]))
	return out
}

// ComputeSealingKey derives the per-input key (isIV false) or nonce seed
// (isIV true) used by the device to seal signature idx under master.
func ComputeSealingKey(master []byte, idx int, isIV bool) (keys.Key, error) {
	if idx < 0 {
		return keys.Key{}, errs.Crypto("negative sealing index %d", idx)
	}
	index := Varint(uint64(idx))
	if len(index) > 4 {
		return keys.Key{}, errs.Crypto("sealing index %d too large", idx)
	}
	padded := make([]byte, 4)
	copy(padded, index)

	domain := sealKeyDomain
	if isIV {
		domain = sealIVDomain
	}

	h := FastHash(master, []byte(domain), padded)
	return keys.Key(FastHash(h[:])), nil
}

// OpenSealed decrypts signature idx sealed under master.
func OpenSealed(master []byte, idx int, sealed []byte) ([]byte, error) {
	key, nonce, err := sealingPair(master, idx)
	if err != nil {
		return nil, err
	}
	return Decrypt(sealed, key[:], nonce[:NonceSize])
}

// Seal is the device-side inverse of OpenSealed.
func Seal(master []byte, idx int, plaintext []byte) ([]byte, error) {
	key, nonce, err := sealingPair(master, idx)
	if err != nil {
		return nil, err
	}
	return Encrypt(plaintext, key[:], nonce[:NonceSize])
}

func sealingPair(master []byte, idx int) (keys.Key, keys.Key, error) {
	key, err := ComputeSealingKey(master, idx, false)
	if err != nil {
		return keys.Key{}, keys.Key{}, err
	}
	nonce, err := ComputeSealingKey(master, idx, true)
	if err != nil {
		return keys.Key{}, keys.Key{}, err
	}
	return key, nonce, nil
}
