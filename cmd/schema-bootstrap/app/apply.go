package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/stacklok/schema-bootstrap/internal/sqlexec"
)

const flagDryRun = "dry-run"

func (a *app) newApplyCmd() *cobra.Command {
	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Fetch the schema and run it against the configured database",
		Long: heredoc.Doc(`
			Fetch the schema at the selected ref, optionally strip MySQL-only clauses,
			and run its statements one at a time against the database section of the
			configuration file. The first failing statement stops the run; statements
			that already ran are not rolled back.

			The database password is read from database.passwordFile or from
			SCHEMA_BOOTSTRAP_DATABASE_PASSWORD.
		`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			dryRun, err := cmd.Flags().GetBool(flagDryRun)
			if err != nil {
				return fmt.Errorf("failed to get %s flag: %w", flagDryRun, err)
			}

			cfg, err := a.loadConfig(true)
			if err != nil {
				return err
			}
			if err := applyCompatFlag(cmd, cfg); err != nil {
				return err
			}
			if cfg.Database == nil && !dryRun {
				return fmt.Errorf("invalid configuration: database section is required")
			}

			s, err := a.newSession(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			content, err := s.fetch(ctx)
			if err != nil {
				return err
			}
			script, err := s.compat(content.Text)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if dryRun {
				for i, statement := range sqlexec.SplitStatements(script) {
					if _, err := fmt.Fprintf(out, "-- statement %d\n%s\n", i, strings.TrimSpace(statement)); err != nil {
						return err
					}
				}
				return nil
			}

			db, err := a.openDB(ctx, cfg.Database, a.fs)
			if err != nil {
				return err
			}
			defer func() {
				if err := db.Close(); err != nil {
					slog.Warn("Failed to close database connection", "error", err)
				}
			}()

			count, err := sqlexec.Execute(ctx, db, script)
			s.metrics.RecordStatementsApplied(ctx, count, err == nil)
			if err != nil {
				return fmt.Errorf("failed to apply schema from %s at %s after %d statements: %w",
					content.Reference.Short(), content.Commit, count, err)
			}

			_, err = fmt.Fprintf(out, "Applied %d statements from %s (%s)\n", count, content.Reference.Short(), content.Commit)
			return err
		},
	}

	applyCmd.Flags().Bool(flagCompat, false, "Strip MySQL-only clauses before running the schema")
	applyCmd.Flags().Bool(flagDryRun, false, "Print the statements instead of running them")
	return applyCmd
}
