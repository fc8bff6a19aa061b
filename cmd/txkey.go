package cmd

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/anchorageoss/coldsign/device"
	"github.com/anchorageoss/coldsign/keys"
	"github.com/anchorageoss/coldsign/protocol"
)

// TxKeyCommand creates the tx-key command
func TxKeyCommand() *cli.Command {
	return &cli.Command{
		Name:  "tx-key",
		Usage: "Recover the transaction keys of a signed transaction, or list the stored ones",
		Flags: commandFlags(
			walletFlags(),
			bridgeFlags(),
			[]cli.Flag{
				storeFlag(),
				&cli.StringFlag{
					Name:  "prefix-hash",
					Usage: "Transaction prefix hash (hex); lists stored prefix hashes when empty",
				},
				jsonFlag(),
			},
		),
		Action: runTxKeyCommand,
	}
}

func runTxKeyCommand(ctx context.Context, cmd *cli.Command) error {
	if cmd.String("prefix-hash") == "" {
		return listTxKeys(cmd)
	}
	prefixHash, err := keys.ParseHex[keys.Hash](cmd.String("prefix-hash"))
	if err != nil {
		return fmt.Errorf("invalid --prefix-hash: %w", err)
	}
	account, err := loadAccount(cmd)
	if err != nil {
		return err
	}

	db, err := openStore(cmd)
	if err != nil {
		return err
	}
	auxData, err := db.GetTxAux(prefixHash)
	closeErr := db.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close store: %w", closeErr)
	}

	session, err := acquireDevice(ctx, cmd)
	if err != nil {
		return err
	}
	defer release(ctx, cmd, session)

	txKeys, err := device.NewService(session, protocol.Config{}).GetTxKeys(ctx, account, auxData)
	if err != nil {
		return fmt.Errorf("failed to recover tx keys: %w", err)
	}

	encoded := make([]string, len(txKeys))
	for i, k := range txKeys {
		encoded[i] = hex.EncodeToString(k[:])
	}
	if cmd.Bool("json") {
		return printJSON(cmd, map[string]interface{}{
			"prefixHash": prefixHash.String(),
			"txKeys":     encoded,
		})
	}
	w := writer(cmd)
	for _, k := range encoded {
		fmt.Fprintln(w, k)
	}
	return nil
}

func listTxKeys(cmd *cli.Command) error {
	db, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	hashes, err := db.TxAuxHashes()
	if err != nil {
		return fmt.Errorf("failed to list tx aux data: %w", err)
	}
	encoded := make([]string, len(hashes))
	for i, h := range hashes {
		encoded[i] = h.String()
	}
	if cmd.Bool("json") {
		return printJSON(cmd, map[string]interface{}{"prefixHashes": encoded})
	}
	w := writer(cmd)
	for _, h := range encoded {
		fmt.Fprintln(w, h)
	}
	fmt.Fprintf(errWriter(cmd), "%d transaction(s) with stored tx key data\n", len(encoded))
	return nil
}
