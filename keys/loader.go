// Package keys provides the canonical key codec and key file loading.
//
// # Key Codec
//
// Every key kind (Point, Scalar, Hash, Key, KeyImage) is exactly 32 bytes.
// KeyToString and StringToKey convert between values and their wire bytes:
//
//	b := keys.KeyToString(viewPublic)
//	p, err := keys.StringToKey[keys.Point](b)
//
// Decoding input of any other length fails with errs.ErrEncoding.
//
// # Wallet Key Files
//
// Watch-only wallet keys are stored in ~/.config/coldsign/wallets/ with two
// files per wallet:
//
//	<name>.address - "spendpubhex:viewpubhex"
//	<name>.view    - "hexkey:ed25519" where hexkey is the private view scalar
//
// The private spend key never leaves the signing device.
//
// # Bridge API Keys
//
// Requests to a remote device bridge may be stamped with a P-256 API key
// stored in ~/.config/coldsign/keys/:
//
//	<key-name>.public  - Hex-encoded compressed public key
//	<key-name>.private - Format: "hexkey:p256"
//
// Load one with the FileKeyProvider:
//
//	provider := &keys.FileKeyProvider{KeyName: "bridge"}
//	apiKey, err := provider.GetAPIKey(context.Background())
package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
)

// APIKey is a bridge API key used to stamp requests
type APIKey struct {
	PublicKey  string
	PrivateKey *ecdsa.PrivateKey
}

// WalletKeys is the watch-only key material of one wallet account
type WalletKeys struct {
	Name        string
	SpendPublic Point
	ViewPublic  Point
	ViewSecret  Scalar
}

// FileKeyProvider loads bridge API keys from files
type FileKeyProvider struct {
	KeyName string
}

// GetAPIKey loads the API key from files
func (f *FileKeyProvider) GetAPIKey(ctx context.Context) (*APIKey, error) {
	return LoadAPIKeyFromFile(f.KeyName)
}

func configDir(sub string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "coldsign", sub), nil
}

// readKeyFile reads a "hexkey:curve" private key file and returns the raw key.
func readKeyFile(path, wantCurve string) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}

	parts := strings.Split(strings.TrimSpace(string(content)), ":")
	if len(parts) != 2 {
		return nil, errors.New("invalid private key format, expected 'hexkey:curve'")
	}
	if parts[1] != wantCurve {
		return nil, fmt.Errorf("unsupported curve: %s, only %s is supported", parts[1], wantCurve)
	}

	raw, err := hex.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key hex: %w", err)
	}
	return raw, nil
}

// LoadAPIKeyFromFile loads a bridge API key by name
func LoadAPIKeyFromFile(keyName string) (*APIKey, error) {
	dir, err := configDir("keys")
	if err != nil {
		return nil, err
	}
	return LoadAPIKeyFromDir(dir, keyName)
}

// LoadAPIKeyFromDir loads a bridge API key from an explicit directory
func LoadAPIKeyFromDir(dir, keyName string) (*APIKey, error) {
	publicKeyBytes, err := os.ReadFile(filepath.Join(dir, keyName+".public"))
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}

	d, err := readKeyFile(filepath.Join(dir, keyName+".private"), "p256")
	if err != nil {
		return nil, err
	}

	curve := elliptic.P256()
	privateKey := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve},
		D:         new(big.Int).SetBytes(d),
	}
	privateKey.X, privateKey.Y = curve.ScalarBaseMult(d)

	return &APIKey{
		PublicKey:  strings.TrimSpace(string(publicKeyBytes)),
		PrivateKey: privateKey,
	}, nil
}

// LoadWalletKeys loads watch-only wallet keys by name
func LoadWalletKeys(name string) (*WalletKeys, error) {
	dir, err := configDir("wallets")
	if err != nil {
		return nil, err
	}
	return LoadWalletKeysFromDir(dir, name)
}

// LoadWalletKeysFromDir loads watch-only wallet keys from an explicit directory
func LoadWalletKeysFromDir(dir, name string) (*WalletKeys, error) {
	addr, err := os.ReadFile(filepath.Join(dir, name+".address"))
	if err != nil {
		return nil, fmt.Errorf("failed to read address file: %w", err)
	}

	parts := strings.Split(strings.TrimSpace(string(addr)), ":")
	if len(parts) != 2 {
		return nil, errors.New("invalid address format, expected 'spendpubhex:viewpubhex'")
	}

	spend, err := ParseHex[Point](parts[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse spend public key: %w", err)
	}
	view, err := ParseHex[Point](parts[1])
	if err != nil {
		return nil, fmt.Errorf("failed to parse view public key: %w", err)
	}

	raw, err := readKeyFile(filepath.Join(dir, name+".view"), "ed25519")
	if err != nil {
		return nil, err
	}
	secret, err := StringToKey[Scalar](raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse view secret key: %w", err)
	}

	return &WalletKeys{
		Name:        name,
		SpendPublic: spend,
		ViewPublic:  view,
		ViewSecret:  secret,
	}, nil
}
