package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/anchorageoss/coldsign/device"
	"github.com/anchorageoss/coldsign/protocol"
	"github.com/anchorageoss/coldsign/store"
	"github.com/anchorageoss/coldsign/wallet"
)

// KeyImagesCommand creates the key-images command
func KeyImagesCommand() *cli.Command {
	return &cli.Command{
		Name:  "key-images",
		Usage: "Sync key images of owned outputs from the device",
		Flags: commandFlags(
			walletFlags(),
			bridgeFlags(),
			inputFlags("transfer set"),
			[]cli.Flag{
				storeFlag(),
				&cli.BoolFlag{
					Name:  "live",
					Usage: "Refresh one output at a time instead of a batch export",
				},
				jsonFlag(),
			},
		),
		Action: runKeyImagesCommand,
	}
}

func runKeyImagesCommand(ctx context.Context, cmd *cli.Command) error {
	transfers := &wallet.TransferSet{}
	if _, err := readInput(cmd, transfers); err != nil {
		return fmt.Errorf("failed to decode transfer set: %w", err)
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

	session, err := acquireDevice(ctx, cmd)
	if err != nil {
		return err
	}
	defer release(ctx, cmd, session)

	svc := device.NewService(session, protocol.Config{})
	var result *device.SyncResult
	if cmd.Bool("live") {
		result, err = svc.LiveRefresh(ctx, account, transfers.Transfers)
	} else {
		result, err = svc.SyncKeyImages(ctx, account, transfers.Transfers)
	}
	if err != nil {
		return fmt.Errorf("failed to sync key images: %w", err)
	}

	entries := make([]store.KeyImageEntry, len(result.KeyImages))
	for i, r := range result.KeyImages {
		entries[i] = store.KeyImageEntry{OutKey: r.OutKey, KeyImage: r.KeyImage}
	}
	if err := db.PutKeyImages(entries); err != nil {
		return fmt.Errorf("failed to store key images: %w", err)
	}

	formatter := device.NewFormatter()
	if cmd.Bool("json") {
		if err := printJSON(cmd, formatter.FormatKeyImagesJSON(result)); err != nil {
			return err
		}
	} else {
		fmt.Fprint(writer(cmd), formatter.FormatKeyImages(result))
	}

	fmt.Fprintf(errWriter(cmd), "\n✓ %d key images verified and stored\n", len(entries))
	return nil
}
