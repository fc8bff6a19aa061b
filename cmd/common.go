package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/anchorageoss/coldsign/api"
	"github.com/anchorageoss/coldsign/codec"
	"github.com/anchorageoss/coldsign/keys"
	"github.com/anchorageoss/coldsign/store"
	"github.com/anchorageoss/coldsign/wallet"
)

// Environment variables backing the shared flags.
const (
	EnvBridge = "COLDSIGN_BRIDGE"
	EnvWallet = "COLDSIGN_WALLET"
	EnvStore  = "COLDSIGN_STORE"
)

const (
	defaultBridge = "http://127.0.0.1:21325"
	defaultDevice = "default"
	bridgeTimeout = 2 * time.Minute
)

func walletFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "wallet",
			Usage:   "Watch-only wallet name",
			Sources: cli.EnvVars(EnvWallet),
		},
		&cli.StringFlag{
			Name:  "wallet-dir",
			Usage: "Directory holding wallet key files (default ~/.config/coldsign/wallets)",
		},
	}
}

func bridgeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "bridge",
			Usage:   "Device bridge URL",
			Value:   defaultBridge,
			Sources: cli.EnvVars(EnvBridge),
		},
		&cli.StringFlag{
			Name:  "device",
			Usage: "Device path on the bridge",
			Value: defaultDevice,
		},
		&cli.StringFlag{
			Name:  "key-name",
			Usage: "Bridge API key name; requests are unstamped when empty",
		},
	}
}

func storeFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "store",
		Usage:   "Path to the local store (default ~/.config/coldsign/coldsign.db)",
		Sources: cli.EnvVars(EnvStore),
	}
}

func inputFlags(what string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "file",
			Usage: "Path to " + what + " binary file",
		},
		&cli.StringFlag{
			Name:  "base64",
			Usage: "Base64-encoded " + what,
		},
	}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "json",
		Usage: "Output in JSON format",
	}
}

// commandFlags concatenates flag groups.
func commandFlags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// readInput decodes --file or --base64 into v.
func readInput(cmd *cli.Command, v any) ([]byte, error) {
	filePath := cmd.String("file")
	b64 := cmd.String("base64")

	if filePath == "" && b64 == "" {
		return nil, fmt.Errorf("either --file or --base64 must be provided")
	}
	if filePath != "" && b64 != "" {
		return nil, fmt.Errorf("only one of --file or --base64 should be provided")
	}
	if filePath != "" {
		return codec.DeserializeFile(filePath, v)
	}
	return codec.DeserializeBase64(b64, v)
}

func loadAccount(cmd *cli.Command) (*wallet.Account, error) {
	name := cmd.String("wallet")
	if name == "" {
		return nil, fmt.Errorf("--wallet or %s must be provided", EnvWallet)
	}
	var (
		walletKeys *keys.WalletKeys
		err        error
	)
	if dir := cmd.String("wallet-dir"); dir != "" {
		walletKeys, err = keys.LoadWalletKeysFromDir(dir, name)
	} else {
		walletKeys, err = keys.LoadWalletKeys(name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet %s: %w", name, err)
	}
	return wallet.NewAccount(walletKeys), nil
}

// acquireDevice opens a bridge session on the selected device. The caller
// releases it.
func acquireDevice(ctx context.Context, cmd *cli.Command) (*api.Session, error) {
	var provider api.KeyProvider
	if keyName := cmd.String("key-name"); keyName != "" {
		provider = &keys.FileKeyProvider{KeyName: keyName}
	}

	client, err := api.NewClient(cmd.String("bridge"), &http.Client{Timeout: bridgeTimeout}, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create bridge client: %w", err)
	}
	session, err := client.Acquire(ctx, cmd.String("device"))
	if err != nil {
		return nil, err
	}
	return session, nil
}

func release(ctx context.Context, cmd *cli.Command, session *api.Session) {
	if err := session.Release(ctx); err != nil {
		fmt.Fprintf(errWriter(cmd), "⚠ %v\n", err)
	}
}

func openStore(cmd *cli.Command) (*store.DB, error) {
	path := cmd.String("store")
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, ".config", "coldsign", "coldsign.db")
	}
	return store.Open(path)
}

func writer(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func errWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}

func printJSON(cmd *cli.Command, v any) error {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprintln(writer(cmd), string(jsonBytes))
	return nil
}
