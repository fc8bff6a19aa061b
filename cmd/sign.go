package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/anchorageoss/coldsign/codec"
	"github.com/anchorageoss/coldsign/device"
	"github.com/anchorageoss/coldsign/protocol"
	"github.com/anchorageoss/coldsign/wallet"
)

// SignCommand creates the sign command
func SignCommand() *cli.Command {
	return &cli.Command{
		Name:  "sign",
		Usage: "Sign an unsigned transaction set on the device",
		Flags: commandFlags(
			walletFlags(),
			bridgeFlags(),
			inputFlags("unsigned transaction set"),
			[]cli.Flag{
				storeFlag(),
				&cli.StringFlag{
					Name:  "aux",
					Usage: "Path to signing hints (TxAuxData) binary file",
				},
				&cli.StringFlag{
					Name:     "out",
					Usage:    "Path to write the signed transaction set",
					Required: true,
				},
				&cli.IntFlag{
					Name:  "client-version",
					Usage: "Signing protocol revision",
					Value: int(protocol.DefaultClientVersion),
				},
				&cli.IntFlag{
					Name:  "max-batch",
					Usage: "Maximum outputs per range proof batch (0 for the default)",
				},
				&cli.BoolFlag{
					Name:  "per-output-proofs",
					Usage: "Prove every output in its own batch",
				},
				jsonFlag(),
			},
		),
		Action: runSignCommand,
	}
}

func signConfig(cmd *cli.Command) (protocol.Config, error) {
	clientVersion := cmd.Int("client-version")
	if clientVersion < 0 {
		return protocol.Config{}, fmt.Errorf("invalid --client-version %d", clientVersion)
	}
	maxBatch := cmd.Int("max-batch")
	if maxBatch < 0 {
		return protocol.Config{}, fmt.Errorf("invalid --max-batch %d", maxBatch)
	}
	return protocol.Config{
		ClientVersion: uint32(clientVersion),
		Policy: protocol.BatchPolicy{
			MaxOutputs: maxBatch,
			PerOutput:  cmd.Bool("per-output-proofs"),
		},
	}, nil
}

func runSignCommand(ctx context.Context, cmd *cli.Command) error {
	outPath := cmd.String("out")

	// Step 1: Load inputs
	cfg, err := signConfig(cmd)
	if err != nil {
		return err
	}
	unsigned := &wallet.UnsignedTxSet{}
	if _, err := readInput(cmd, unsigned); err != nil {
		return fmt.Errorf("failed to decode unsigned transaction set: %w", err)
	}
	var aux *wallet.TxAuxData
	if auxPath := cmd.String("aux"); auxPath != "" {
		aux = &wallet.TxAuxData{}
		if _, err := codec.DeserializeFile(auxPath, aux); err != nil {
			return fmt.Errorf("failed to decode signing hints: %w", err)
		}
	}
	account, err := loadAccount(cmd)
	if err != nil {
		return err
	}
	db, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	// Step 2: Sign on the device
	session, err := acquireDevice(ctx, cmd)
	if err != nil {
		return err
	}
	defer release(ctx, cmd, session)

	svc := device.NewService(session, cfg)
	result, err := svc.SignTransaction(ctx, &device.SignRequest{
		Shim:     account,
		Unsigned: unsigned,
		Aux:      aux,
	})
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}

	// Step 3: Persist the signed set and the tx key aux data
	signed, err := codec.Serialize(result.Signed)
	if err != nil {
		return fmt.Errorf("failed to encode signed transaction set: %w", err)
	}
	if err := os.WriteFile(outPath, signed, 0o600); err != nil {
		return fmt.Errorf("failed to write signed transaction set: %w", err)
	}
	for i, prefixHash := range result.PrefixHashes {
		if err := db.PutTxAux(prefixHash, result.AuxData[i]); err != nil {
			return fmt.Errorf("failed to store tx aux data: %w", err)
		}
	}

	// Step 4: Report
	if cmd.Bool("json") {
		if err := printJSON(cmd, result); err != nil {
			return err
		}
	} else {
		fmt.Fprint(writer(cmd), device.NewFormatter().FormatSignResult(result))
	}

	stderr := errWriter(cmd)
	fmt.Fprintf(stderr, "\n=== COLDSIGN SUMMARY ===\n")
	fmt.Fprintf(stderr, "✓ %d transaction(s) signed\n", len(result.Transactions))
	fmt.Fprintf(stderr, "✓ Signed set written to %s (%d bytes)\n", outPath, len(signed))
	fmt.Fprintf(stderr, "✓ Tx key data stored for %d transaction(s)\n", len(result.PrefixHashes))
	return nil
}
