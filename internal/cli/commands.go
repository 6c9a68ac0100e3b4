package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"sevakpoints/internal/auth"
	"sevakpoints/internal/importer"
	"sevakpoints/internal/ledger"
	"sevakpoints/internal/store"
)

func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := store.RunMigrations(opts.Config.DatabaseURL); err != nil {
				return &ExitError{Code: ExitCommandError, Message: "migrate", Err: err}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

// NewVerifyCommand recomputes every balance from its transactions.
func NewVerifyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check stored balances against the transaction ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, release, err := opts.Open(cmd.Context(), opts.Config)
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "open ledger", Err: err}
			}
			defer release()

			drift, err := svc.Verify(cmd.Context())
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "verify", Err: err}
			}
			if drift == nil {
				drift = []ledger.Drift{}
			}
			if err := emit(cmd, opts, drift, func(w io.Writer) {
				if len(drift) == 0 {
					fmt.Fprintln(w, "ledger consistent")
					return
				}
				for _, d := range drift {
					fmt.Fprintf(w, "%s stored=%d ledger=%d\n", d.SevakID, d.Stored, d.Ledger)
				}
			}); err != nil {
				return err
			}
			if len(drift) > 0 {
				return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d participant(s) out of balance", len(drift))}
			}
			return nil
		},
	}
}

type importOptions struct {
	email string
	name  string
	at    string
}

// NewImportCommand runs a roster import synchronously.
func NewImportCommand(opts *RootOptions) *cobra.Command {
	imp := &importOptions{}
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Create participants from a .csv or .xlsx roster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, opts, imp, args[0])
		},
	}
	cmd.Flags().StringVar(&imp.email, "email", "", "staff email recorded on the initial transactions (required)")
	cmd.Flags().StringVar(&imp.name, "name", "", "staff name")
	cmd.Flags().StringVar(&imp.at, "device-time", "", "RFC 3339 timestamp to record, defaults to now")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func runImport(cmd *cobra.Command, opts *RootOptions, imp *importOptions, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "read roster", Err: err}
	}
	records, err := importer.ReadRecords(filepath.Base(path), data)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "decode roster", Err: err}
	}

	clock, err := opts.Config.Clock()
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "clock", Err: err}
	}
	at := imp.at
	if at == "" {
		at = time.Now().Format(time.RFC3339)
	}
	dt, err := clock.Parse(at)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "device time", Err: err}
	}

	svc, release, err := opts.Open(cmd.Context(), opts.Config)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "open ledger", Err: err}
	}
	defer release()

	actor := ledger.Actor{Email: imp.email, Name: imp.name, Role: auth.RoleAdmin}
	rep, err := svc.BulkCreate(cmd.Context(), importer.Rows(records), actor, dt)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "import", Err: err}
	}
	if err := emit(cmd, opts, rep, func(w io.Writer) {
		for _, p := range rep.Created {
			fmt.Fprintf(w, "created %s %s (%s)\n", p.SevakID, p.Name, p.Gender)
		}
		for _, f := range rep.Failed {
			fmt.Fprintf(w, "line %d %q: %s\n", f.Line, f.Name, f.Error)
		}
		fmt.Fprintf(w, "%d row(s), %d created, %d failed\n", rep.Total, len(rep.Created), len(rep.Failed))
	}); err != nil {
		return err
	}
	if len(rep.Failed) > 0 {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d row(s) rejected", len(rep.Failed))}
	}
	return nil
}

// NewPurgeCommand hard deletes a participant and its history.
func NewPurgeCommand(opts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge <sevak-id>",
		Short: "Permanently delete a participant with all transactions, attendance and feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return &ExitError{Code: ExitCommandError, Message: "purge is irreversible, pass --yes to confirm"}
			}
			svc, release, err := opts.Open(cmd.Context(), opts.Config)
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "open ledger", Err: err}
			}
			defer release()
			if err := svc.PurgeParticipant(cmd.Context(), args[0]); err != nil {
				return &ExitError{Code: ExitFailure, Message: "purge " + args[0], Err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the hard delete")
	return cmd
}

// NewTokenCommand mints a development token signed with JWT_SIGNING_KEY.
func NewTokenCommand(opts *RootOptions) *cobra.Command {
	var (
		actor ledger.Actor
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a staff token for local development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor.Role != auth.RoleAdmin && actor.Role != auth.RoleInspector {
				return &ExitError{Code: ExitCommandError, Message: fmt.Sprintf("role %q: want admin or inspector", actor.Role)}
			}
			if ttl <= 0 {
				ttl = opts.Config.AccessTTL
			}
			tok, exp, err := auth.Issue(actor, opts.Config.JWTIssuer, opts.Config.JWTSigningKey, ttl)
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "issue token", Err: err}
			}
			out := struct {
				Token     string    `json:"access_token"`
				ExpiresAt time.Time `json:"expires_at"`
			}{tok, exp}
			return emit(cmd, opts, out, func(w io.Writer) { fmt.Fprintln(w, tok) })
		},
	}
	cmd.Flags().StringVar(&actor.Email, "email", "", "staff email (required)")
	cmd.Flags().StringVar(&actor.Name, "name", "", "staff display name")
	cmd.Flags().StringVar(&actor.Role, "role", auth.RoleInspector, "admin or inspector")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, defaults to ACCESS_TTL")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
