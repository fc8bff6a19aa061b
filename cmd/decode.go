package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/anchorageoss/coldsign/crypto"
	"github.com/anchorageoss/coldsign/device"
	"github.com/anchorageoss/coldsign/protocol"
	"github.com/anchorageoss/coldsign/wallet"
)

// DecodeCommand creates the decode commands
func DecodeCommand() *cli.Command {
	return &cli.Command{
		Name:  "decode",
		Usage: "Decode wallet and signing containers",
		Commands: []*cli.Command{
			decodeUnsignedCommand(),
			decodeSignedCommand(),
			decodeAuxCommand(),
		},
	}
}

func decodeFlags(what string) []cli.Flag {
	return append(inputFlags(what), jsonFlag())
}

func decodeUnsignedCommand() *cli.Command {
	return &cli.Command{
		Name:   "unsigned",
		Usage:  "Decode an unsigned transaction set",
		Flags:  decodeFlags("unsigned transaction set"),
		Action: runDecodeUnsignedCommand,
	}
}

func runDecodeUnsignedCommand(ctx context.Context, cmd *cli.Command) error {
	unsigned := &wallet.UnsignedTxSet{}
	raw, err := readInput(cmd, unsigned)
	if err != nil {
		return fmt.Errorf("failed to decode unsigned transaction set: %w", err)
	}
	hash := crypto.FastHash(raw)

	formatter := device.NewFormatter()
	if cmd.Bool("json") {
		output := formatter.FormatUnsignedTxSetJSON(unsigned)
		output["hash"] = hash.String()
		return printJSON(cmd, output)
	}

	w := writer(cmd)
	fmt.Fprintf(w, "=== Unsigned Transaction Set ===\n")
	fmt.Fprintf(w, "Hash: %s\n\n", hash)
	fmt.Fprint(w, formatter.FormatUnsignedTxSet(unsigned))
	return nil
}

func decodeSignedCommand() *cli.Command {
	return &cli.Command{
		Name:   "signed",
		Usage:  "Decode a signed transaction set",
		Flags:  decodeFlags("signed transaction set"),
		Action: runDecodeSignedCommand,
	}
}

func runDecodeSignedCommand(ctx context.Context, cmd *cli.Command) error {
	signed := &wallet.SignedTxSet{}
	if _, err := readInput(cmd, signed); err != nil {
		return fmt.Errorf("failed to decode signed transaction set: %w", err)
	}

	formatter := device.NewFormatter()
	if cmd.Bool("json") {
		return printJSON(cmd, formatter.FormatSignedTxSetJSON(signed))
	}

	w := writer(cmd)
	fmt.Fprintf(w, "=== Signed Transaction Set ===\n\n")
	fmt.Fprint(w, formatter.FormatSignedTxSet(signed))
	return nil
}

func decodeAuxCommand() *cli.Command {
	return &cli.Command{
		Name:   "aux",
		Usage:  "Decode persisted tx key data",
		Flags:  decodeFlags("tx key data"),
		Action: runDecodeAuxCommand,
	}
}

func runDecodeAuxCommand(ctx context.Context, cmd *cli.Command) error {
	data := &protocol.TxKeyData{}
	if _, err := readInput(cmd, data); err != nil {
		return fmt.Errorf("failed to decode tx key data: %w", err)
	}

	if cmd.Bool("json") {
		return printJSON(cmd, map[string]interface{}{
			"version":       data.Version,
			"prefixHash":    data.TxPrefixHash.String(),
			"viewPublicKey": data.ViewPublicKey.String(),
			"encryptedKeys": len(data.TxEncKeys),
		})
	}

	w := writer(cmd)
	fmt.Fprintf(w, "=== Tx Key Data ===\n\n")
	fmt.Fprint(w, device.NewFormatter().FormatTxKeyData(data))
	return nil
}
