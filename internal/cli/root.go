// Package cli implements sevakctl, the operator tool for the ledger.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"sevakpoints/internal/config"
	"sevakpoints/internal/ledger"
	"sevakpoints/internal/store"
)

// Exit codes for sevakctl.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // ledger drift or rejected rows
	ExitCommandError = 2
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

// OpenFunc connects the ledger and returns a release func.
type OpenFunc func(ctx context.Context, cfg config.App) (*ledger.Service, func(), error)

// RootOptions holds global flags and shared dependencies for all commands.
type RootOptions struct {
	Format string // "json" | "text"
	Config config.App
	Open   OpenFunc
}

var validFormats = []string{"text", "json"}

// NewRootCommand builds sevakctl around cfg.
func NewRootCommand(cfg config.App) *cobra.Command {
	return newRootCommand(&RootOptions{Config: cfg, Open: OpenLedger})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sevakctl",
		Short: "Operate the sevak points ledger",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewPurgeCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	return cmd
}

// OpenLedger connects to the configured store. Redis is used as the cache
// unless the queue runs in memory, so CLI writes invalidate the api's leaderboard.
func OpenLedger(ctx context.Context, cfg config.App) (*ledger.Service, func(), error) {
	policy, err := cfg.Policy()
	if err != nil {
		return nil, nil, err
	}
	svcOpts := []ledger.Option{ledger.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}

	var closers []func()
	release := func() {
		for _, c := range slices.Backward(closers) {
			c()
		}
	}

	var st ledger.Store
	if cfg.StoreBackend == "memory" {
		st = ledger.NewMemStore()
	} else {
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("db connect: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		st = ledger.NewRepository(db.Client)
	}
	if cfg.QueueBackend != "memory" {
		rc := store.NewRedis(cfg.RedisAddr)
		closers = append(closers, func() { _ = rc.Close() })
		svcOpts = append(svcOpts, ledger.WithCache(rc, cfg.LeaderboardCacheTTL))
	}
	return ledger.NewService(st, policy, svcOpts...), release, nil
}

// emit writes v as JSON, or calls text in text mode.
func emit(cmd *cobra.Command, opts *RootOptions, v any, text func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
