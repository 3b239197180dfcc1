// Package app runs the two transfer roles on a finished configuration record.
package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/1ureka/udtcat/internal/adapter"
	"github.com/1ureka/udtcat/internal/config"
	"github.com/1ureka/udtcat/internal/signaling"
	"github.com/1ureka/udtcat/internal/transport"
	"github.com/1ureka/udtcat/internal/util"
)

// session is an established transport that the role owns and closes.
type session interface {
	adapter.Transport
	Close() error
}

// Replaced in tests.
var (
	establishListener = func(ctx context.Context, addr string, opts transport.Options) (session, error) {
		tr, err := signaling.EstablishAsListener(ctx, addr, opts)
		if err != nil {
			return nil, err
		}
		return tr, nil
	}
	establishInitiator = func(ctx context.Context, wsURL string, opts transport.Options) (session, error) {
		tr, err := signaling.EstablishAsInitiator(ctx, wsURL, opts)
		if err != nil {
			return nil, err
		}
		return tr, nil
	}

	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
)

// Run hands cfg to the role it names.
func Run(ctx context.Context, cfg config.Config) error {
	switch cfg.Role {
	case config.RoleListener:
		return RunListener(ctx, cfg)
	case config.RoleInitiator:
		return RunInitiator(ctx, cfg)
	default:
		return fmt.Errorf("unknown role %q", cfg.Role)
	}
}

// RunListener waits on cfg.Port for one initiator, then transfers
// stdin/stdout with it.
func RunListener(ctx context.Context, cfg config.Config) error {
	tr, err := establishListener(ctx, signaling.ListenAddr(cfg.Port), transportOptions(cfg))
	if err != nil {
		return fmt.Errorf("failed to establish connection: %w", err)
	}
	return transfer(ctx, tr, cfg)
}

// RunInitiator connects to cfg.Host:cfg.Port, then transfers stdin/stdout
// with the listener.
func RunInitiator(ctx context.Context, cfg config.Config) error {
	wsURL, err := signaling.InitiatorURL(cfg.Host, cfg.Port)
	if err != nil {
		return err
	}

	tr, err := establishInitiator(ctx, wsURL, transportOptions(cfg))
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", wsURL, err)
	}
	return transfer(ctx, tr, cfg)
}

func transportOptions(cfg config.Config) transport.Options {
	return transport.Options{
		SendBufferSize:    cfg.SendBufferSize,
		ReceiveBufferSize: cfg.ReceiveBufferSize,
	}
}

// transfer runs the adapter over stdio and closes tr afterwards.
func transfer(ctx context.Context, tr session, cfg config.Config) error {
	defer tr.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	util.LogSuccess("connection established")
	if cfg.UseEncryption {
		util.LogDebug("stream encrypted with %s", cfg.Encrypter.Algorithm())
	}
	if cfg.Verbose {
		util.StartStatsReporter(ctx)
	}

	err := adapter.Run(ctx, tr, adapter.Stream{
		In:             stdin,
		Out:            stdout,
		MaxSegmentSize: cfg.MaxSegmentSize,
		Encrypter:      cfg.Encrypter,
		Decrypter:      cfg.Decrypter,
		Blast:          cfg.Blast,
		BlastRate:      cfg.BlastRate,
	})
	if err != nil {
		return fmt.Errorf("transfer failed: %w", err)
	}

	util.LogInfo("transfer complete")
	return nil
}
