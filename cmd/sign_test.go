package cmd

import (
	"bytes"
	"context"
	"encoding/hex"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/anchorageoss/coldsign/codec"
	"github.com/anchorageoss/coldsign/internal/emulator"
	"github.com/anchorageoss/coldsign/store"
	"github.com/anchorageoss/coldsign/testdata"
	"github.com/anchorageoss/coldsign/wallet"
)

const testWallet = "test"

// testEnv is a wallet on disk, a bridge in front of an emulated device and
// an empty store path.
type testEnv struct {
	f         *testdata.Fixture
	dev       *emulator.Device
	bridge    *httptest.Server
	dir       string
	walletDir string
	storePath string
}

func newTestEnv(t *testing.T, numInputs, numOutputs int, bpVersion uint8) *testEnv {
	t.Helper()
	f, err := testdata.NewFixture(numInputs, numOutputs, bpVersion)
	require.NoError(t, err)

	dir := t.TempDir()
	walletDir := filepath.Join(dir, "wallets")
	require.NoError(t, os.MkdirAll(walletDir, 0o700))
	addr := f.Keys.SpendPublic.String() + ":" + f.Keys.ViewPublic.String()
	require.NoError(t, os.WriteFile(filepath.Join(walletDir, testWallet+".address"), []byte(addr), 0o600))
	view := hex.EncodeToString(f.Keys.ViewSecret[:]) + ":ed25519"
	require.NoError(t, os.WriteFile(filepath.Join(walletDir, testWallet+".view"), []byte(view), 0o600))

	dev := emulator.New(f.Keys.ViewSecret, f.OutputSecrets)
	bridge := httptest.NewServer(emulator.NewBridge(dev))
	t.Cleanup(bridge.Close)

	return &testEnv{
		f:         f,
		dev:       dev,
		bridge:    bridge,
		dir:       dir,
		walletDir: walletDir,
		storePath: filepath.Join(dir, "coldsign.db"),
	}
}

// deviceArgs are the wallet, bridge and store flags of a device command.
func (e *testEnv) deviceArgs() []string {
	return []string{
		"--wallet", testWallet,
		"--wallet-dir", e.walletDir,
		"--bridge", e.bridge.URL,
		"--device", "emulator",
		"--store", e.storePath,
	}
}

func (e *testEnv) writeFile(t *testing.T, name string, v any) string {
	t.Helper()
	data, err := codec.Serialize(v)
	require.NoError(t, err)
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// runApp runs a root command holding every subcommand and returns stdout
// and stderr.
func runApp(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := &cli.Command{
		Name:      "coldsign",
		Writer:    &stdout,
		ErrWriter: &stderr,
		Commands: []*cli.Command{
			SignCommand(),
			KeyImagesCommand(),
			TxKeyCommand(),
			DecodeCommand(),
			HashAddressCommand(),
		},
	}
	err := app.Run(context.Background(), append([]string{"coldsign"}, args...))
	return stdout.String(), stderr.String(), err
}

func TestSignCommand(t *testing.T) {
	cmd := SignCommand()

	require.NotNil(t, cmd)
	require.Equal(t, "sign", cmd.Name)

	names := make(map[string]bool)
	for _, flag := range cmd.Flags {
		names[flag.Names()[0]] = true
	}
	for _, want := range []string{"wallet", "wallet-dir", "bridge", "device", "key-name", "file", "base64", "store", "aux", "out", "client-version", "max-batch", "per-output-proofs", "json"} {
		require.True(t, names[want], "missing flag %s", want)
	}
}

func TestRunSignCommand(t *testing.T) {
	env := newTestEnv(t, 2, 3, 4)
	unsignedPath := env.writeFile(t, "unsigned.bin", env.f.Unsigned)
	auxPath := env.writeFile(t, "aux.bin", env.f.Aux)
	outPath := filepath.Join(env.dir, "signed.bin")

	args := append([]string{"sign"}, env.deviceArgs()...)
	args = append(args, "--file", unsignedPath, "--aux", auxPath, "--out", outPath)
	stdout, stderr, err := runApp(t, args...)
	require.NoError(t, err)
	require.Contains(t, stdout, "Transaction 0:")
	require.Contains(t, stdout, "Inputs: 2, Outputs: 3")
	require.Contains(t, stderr, "1 transaction(s) signed")

	// Signed set is on disk
	signed := &wallet.SignedTxSet{}
	_, err = codec.DeserializeFile(outPath, signed)
	require.NoError(t, err)
	require.Len(t, signed.Txes, 1)
	require.Len(t, signed.Txes[0].Rct.CLSAGs, 2)
	require.Len(t, signed.KeyImgs, 2)

	// Tx aux data is stored under the prefix hash
	prefixHash, err := signed.Txes[0].Prefix.Hash()
	require.NoError(t, err)
	db, err := store.Open(env.storePath)
	require.NoError(t, err)
	aux, err := db.GetTxAux(prefixHash)
	require.NoError(t, err)
	require.Equal(t, signed.TxKeys[0], aux)
	require.NoError(t, db.Close())

	t.Run("tx key recovery", func(t *testing.T) {
		args := append([]string{"tx-key"}, env.deviceArgs()...)
		args = append(args, "--prefix-hash", prefixHash.String())
		stdout, _, err := runApp(t, args...)
		require.NoError(t, err)

		txKey, ok := env.dev.LastTxKey()
		require.True(t, ok)
		lines := strings.Split(strings.TrimSpace(stdout), "\n")
		require.Equal(t, hex.EncodeToString(txKey[:]), lines[0])
	})

	t.Run("tx key listing", func(t *testing.T) {
		stdout, stderr, err := runApp(t, "tx-key", "--store", env.storePath)
		require.NoError(t, err)
		require.Equal(t, prefixHash.String(), strings.TrimSpace(stdout))
		require.Contains(t, stderr, "1 transaction(s)")
	})

	t.Run("tx key without wallet", func(t *testing.T) {
		t.Setenv(EnvWallet, "")
		_, _, err := runApp(t, "tx-key", "--store", env.storePath, "--prefix-hash", prefixHash.String())
		require.Error(t, err)
		require.Contains(t, err.Error(), "--wallet or COLDSIGN_WALLET must be provided")
	})

	t.Run("tx key unknown prefix", func(t *testing.T) {
		args := append([]string{"tx-key"}, env.deviceArgs()...)
		args = append(args, "--prefix-hash", strings.Repeat("00", 32))
		_, _, err := runApp(t, args...)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("decode signed output", func(t *testing.T) {
		stdout, _, err := runApp(t, "decode", "signed", "--file", outPath, "--json")
		require.NoError(t, err)
		require.Contains(t, stdout, prefixHash.String())
		require.Contains(t, stdout, `"signatures": 2`)
	})

	t.Run("decode stored aux", func(t *testing.T) {
		auxFile := filepath.Join(env.dir, "txkey.bin")
		require.NoError(t, os.WriteFile(auxFile, aux, 0o600))
		stdout, _, err := runApp(t, "decode", "aux", "--file", auxFile)
		require.NoError(t, err)
		require.Contains(t, stdout, "Prefix Hash: "+prefixHash.String())
	})
}

func TestRunSignCommandJSON(t *testing.T) {
	env := newTestEnv(t, 1, 2, 4)
	unsignedPath := env.writeFile(t, "unsigned.bin", env.f.Unsigned)

	args := append([]string{"sign"}, env.deviceArgs()...)
	args = append(args, "--file", unsignedPath, "--out", filepath.Join(env.dir, "signed.bin"), "--per-output-proofs", "--json")
	stdout, _, err := runApp(t, args...)
	require.NoError(t, err)
	require.Contains(t, stdout, `"transactions"`)
	require.Contains(t, stdout, `"offloaded": true`)
}

func TestRunSignCommandErrors(t *testing.T) {
	env := newTestEnv(t, 1, 2, 4)
	unsignedPath := env.writeFile(t, "unsigned.bin", env.f.Unsigned)
	outPath := filepath.Join(env.dir, "signed.bin")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "missing input",
			args:    []string{"--out", outPath},
			wantErr: "either --file or --base64 must be provided",
		},
		{
			name:    "negative batch",
			args:    []string{"--file", unsignedPath, "--out", outPath, "--max-batch=-1"},
			wantErr: "invalid --max-batch",
		},
		{
			name:    "unknown wallet",
			args:    []string{"--file", unsignedPath, "--out", outPath, "--wallet", "nobody"},
			wantErr: "failed to load wallet nobody",
		},
		{
			name:    "bridge unreachable",
			args:    []string{"--file", unsignedPath, "--out", outPath, "--bridge", "http://127.0.0.1:1"},
			wantErr: "failed to acquire device",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// later flags override the defaults from deviceArgs
			args := append([]string{"sign"}, env.deviceArgs()...)
			_, _, err := runApp(t, append(args, tt.args...)...)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := os.Stat(outPath)
	require.True(t, os.IsNotExist(err))
}

func TestRunKeyImagesCommand(t *testing.T) {
	for _, live := range []bool{false, true} {
		name := "batch export"
		if live {
			name = "live refresh"
		}
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, 3, 1, 4)
			transfersPath := env.writeFile(t, "transfers.bin", &wallet.TransferSet{Transfers: env.f.Unsigned.Transfers})

			args := append([]string{"key-images"}, env.deviceArgs()...)
			args = append(args, "--file", transfersPath, "--json")
			if live {
				args = append(args, "--live")
			}
			stdout, stderr, err := runApp(t, args...)
			require.NoError(t, err)
			require.Contains(t, stdout, `"keyImages"`)
			require.Contains(t, stderr, "3 key images verified and stored")

			db, err := store.Open(env.storePath)
			require.NoError(t, err)
			defer db.Close()
			for _, td := range env.f.Unsigned.Transfers {
				ki, err := db.GetKeyImage(td.OutKey)
				require.NoError(t, err)
				require.Equal(t, td.KeyImage, ki)
			}
		})
	}
}

func TestKeyImagesCommandEnvironment(t *testing.T) {
	env := newTestEnv(t, 1, 1, 4)
	transfersPath := env.writeFile(t, "transfers.bin", &wallet.TransferSet{Transfers: env.f.Unsigned.Transfers})

	t.Setenv(EnvBridge, env.bridge.URL)
	t.Setenv(EnvWallet, testWallet)
	t.Setenv(EnvStore, env.storePath)

	stdout, _, err := runApp(t, "key-images", "--wallet-dir", env.walletDir, "--device", "emulator", "--file", transfersPath)
	require.NoError(t, err)
	require.Contains(t, stdout, "1 key images")

	db, err := store.Open(env.storePath)
	require.NoError(t, err)
	defer db.Close()
	entries, err := db.KeyImages()
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
