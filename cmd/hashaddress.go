package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/anchorageoss/coldsign/keys"
	"github.com/anchorageoss/coldsign/protocol"
)

// HashAddressCommand creates the hash-address command
func HashAddressCommand() *cli.Command {
	return &cli.Command{
		Name:  "hash-address",
		Usage: "Compute the address hash a device binds destinations to",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "spend",
				Usage:    "Spend public key (hex)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "view",
				Usage:    "View public key (hex)",
				Required: true,
			},
			&cli.Uint64Flag{
				Name:  "amount",
				Usage: "Amount bound into the hash",
			},
			&cli.BoolFlag{
				Name:  "subaddress",
				Usage: "Bind the subaddress flag into the hash",
			},
		},
		Action: runHashAddressCommand,
	}
}

func runHashAddressCommand(ctx context.Context, cmd *cli.Command) error {
	spend, err := keys.ParseHex[keys.Point](cmd.String("spend"))
	if err != nil {
		return fmt.Errorf("invalid --spend: %w", err)
	}
	view, err := keys.ParseHex[keys.Point](cmd.String("view"))
	if err != nil {
		return fmt.Errorf("invalid --view: %w", err)
	}

	// Optional fields only take part when given on the command line
	var amount *uint64
	if cmd.IsSet("amount") {
		v := cmd.Uint64("amount")
		amount = &v
	}
	var isSubaddress *bool
	if cmd.IsSet("subaddress") {
		v := cmd.Bool("subaddress")
		isSubaddress = &v
	}

	fmt.Fprintln(writer(cmd), protocol.HashAddress(spend, view, amount, isSubaddress))
	return nil
}
