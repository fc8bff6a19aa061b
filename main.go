package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/decred/slog"
	"github.com/urfave/cli/v3"

	"github.com/anchorageoss/coldsign/api"
	"github.com/anchorageoss/coldsign/cmd"
	"github.com/anchorageoss/coldsign/device"
	"github.com/anchorageoss/coldsign/errs"
	"github.com/anchorageoss/coldsign/protocol"
)

// subsystems maps each package logger to its tag.
var subsystems = map[string]func(slog.Logger){
	"PROT": protocol.UseLogger,
	"DEVC": device.UseLogger,
	"BRDG": api.UseLogger,
}

// setupLogging routes every subsystem to stderr at the given level.
func setupLogging(level string) error {
	lvl, ok := slog.LevelFromString(level)
	if !ok {
		return fmt.Errorf("invalid log level %q", level)
	}
	backend := slog.NewBackend(os.Stderr)
	for tag, use := range subsystems {
		logger := backend.Logger(tag)
		logger.SetLevel(lvl)
		use(logger)
	}
	return nil
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "coldsign",
		Usage: "Cold signing with a hardware wallet",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (trace, debug, info, warn, error, critical, off)",
				Value: "info",
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			return ctx, setupLogging(c.String("log-level"))
		},
		Commands: []*cli.Command{
			cmd.SignCommand(),
			cmd.KeyImagesCommand(),
			cmd.TxKeyCommand(),
			cmd.DecodeCommand(),
			cmd.HashAddressCommand(),
		},
	}
}

// describeError appends the failure kind and, for signing failures, the
// step at which the session stopped.
func describeError(err error) string {
	kind := errs.Kind(err)
	if kind == nil {
		return err.Error()
	}
	var se *errs.StepError
	if errors.As(err, &se) {
		return fmt.Sprintf("%v (kind: %v, step: %s)", err, kind, se.Step)
	}
	return fmt.Sprintf("%v (kind: %v)", err, kind)
}

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		log.Fatal(describeError(err))
	}
}
