// Package crypto provides the cryptographic helpers used between the host and
// the signing device.
//
// This package provides:
//   - ChaCha20-Poly1305 decryption of device payloads (RFC 7539)
//   - Keccak-256 hashing and HMAC-Keccak
//   - Derivation of payload encryption keys and signature sealing keys
//   - Key image, hash-to-point and ring signature operations on ed25519
//   - ECDSA P-256 request stamps for the device bridge
//
// # Device Payloads
//
// Payloads the device returns encrypted use the layout nonce||ciphertext||tag
// and are keyed by a value derived from the private view key:
//
//	key := crypto.ComputeEncKey(viewSecret, txPrefixHash[:], salt)
//	plaintext, err := crypto.OpenEnvelope(payload, key[:])
//	if err != nil {
//		// errs.ErrCrypto: the payload was tampered with or the key is wrong
//	}
//
// # Key Images
//
// Verify a key image and its size-1 ring signature:
//
//	var prims crypto.Ed25519
//	ok := prims.InSubgroup(ki) &&
//		prims.CheckRingSignature(keys.Hash(ki), ki, []keys.Point{outKey}, sigs)
//
// # Request Stamps
//
// Bridge requests are signed with ECDSA P-256 over SHA-256 of the body and
// encoded as DER:
//
//	der, err := crypto.SignWithECDSA(privateKey, body)
package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/asn1"
	"fmt"
	"math/big"
)

// ECDSASignature represents an ECDSA signature for ASN.1 encoding
type ECDSASignature struct {
	R, S *big.Int
}

// SignWithECDSA signs data with an ECDSA private key using SHA256 and returns
// the DER encoding
func SignWithECDSA(privateKey *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	hash := sha256.Sum256(data)

	r, s, err := ecdsa.Sign(rand.Reader, privateKey, hash[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign with ECDSA: %w", err)
	}

	return asn1.Marshal(ECDSASignature{R: r, S: s})
}

// VerifyECDSAStamp verifies a DER-encoded signature over data
func VerifyECDSAStamp(publicKey *ecdsa.PublicKey, data, der []byte) bool {
	var sig ECDSASignature
	rest, err := asn1.Unmarshal(der, &sig)
	if err != nil || len(rest) != 0 || sig.R == nil || sig.S == nil {
		return false
	}

	hash := sha256.Sum256(data)
	return ecdsa.Verify(publicKey, hash[:], sig.R, sig.S)
}
