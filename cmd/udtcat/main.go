// Command udtcat is the CLI entry point.
//
// udtcat copies stdin to a peer and the peer's stream to stdout over a
// UDP-based transport, optionally encrypted with a shared passphrase.
//
//	udtcat [options] host port      connect to a listener
//	udtcat -l [options] port        wait for one initiator
package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"

	"github.com/1ureka/udtcat/internal/app"
	"github.com/1ureka/udtcat/internal/config"
	"github.com/1ureka/udtcat/internal/util"
)

// stderr receives usage and help text.
var stderr io.Writer = os.Stderr

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// run resolves the configuration, hands it to its role and returns the exit
// status.
func run(ctx context.Context, args []string) int {
	cfg, err := config.Resolve(args)
	if err != nil {
		reportConfigError(stderr, err)
		return 1
	}

	if cfg.Verbose {
		util.EnableDebug()
	}
	util.LogDebug("role=%s host=%q port=%q encryption=%t", cfg.Role, cfg.Host, cfg.Port, cfg.UseEncryption)

	if err := app.Run(ctx, cfg); err != nil {
		util.LogError("%v", err)
		return 1
	}
	return 0
}

// reportConfigError prints the diagnostic for a resolution failure, followed
// by the usage text or the passphrase choices where they help.
func reportConfigError(w io.Writer, err error) {
	var usageErr *config.UsageError

	switch {
	case errors.Is(err, config.ErrHelp):
		// Usage only.
	case errors.As(err, &usageErr):
		util.LogError("Unknown command line arg. -h for help. (%v)", usageErr.Err)
	case errors.Is(err, config.ErrNoHost):
		util.LogError("Please specify server host.")
	case errors.Is(err, config.ErrNoPort):
		util.LogError("Please specify port num.")
	default:
		util.LogError("%v", err)
	}

	if errors.Is(err, config.ErrNoPassphrase) {
		config.PassphraseHelp(w)
	}
	if config.IsUsage(err) {
		config.Usage(w)
	}
}
