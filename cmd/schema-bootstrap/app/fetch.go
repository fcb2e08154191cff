package app

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

const (
	flagCompat = "compat"
	flagOutput = "output"
)

func (a *app) newFetchCmd() *cobra.Command {
	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Print the schema file at the selected ref",
		Long: heredoc.Doc(`
			Clone the repository into a disposable workspace, resolve the selected ref
			and print the decoded schema file. The workspace is removed afterwards.
		`),
		Example: heredoc.Doc(`
			schema-bootstrap fetch --repository ssh://git@git.example.com/platform/schema.git \
			  --path db/schema.sql --tag v1.4 --private-key ~/.ssh/id_ed25519
			schema-bootstrap fetch --config bootstrap.yaml --latest-tag --compat -o schema.sql
		`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := a.loadConfig(true)
			if err != nil {
				return err
			}
			if err := applyCompatFlag(cmd, cfg); err != nil {
				return err
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
			text, err := s.compat(content.Text)
			if err != nil {
				return err
			}

			slog.InfoContext(ctx, "Schema fetched",
				"reference", content.Reference.String(),
				"commit", content.Commit,
				"path", content.Path,
				"encoding", content.Encoding,
			)

			output, err := cmd.Flags().GetString(flagOutput)
			if err != nil {
				return fmt.Errorf("failed to get %s flag: %w", flagOutput, err)
			}
			if output != "" {
				if err := afero.WriteFile(a.fs, output, []byte(text), 0o644); err != nil {
					return fmt.Errorf("failed to write schema to %s: %w", output, err)
				}
				return nil
			}

			_, err = io.WriteString(cmd.OutOrStdout(), text)
			return err
		},
	}

	fetchCmd.Flags().StringP(flagOutput, "o", "", "Write the schema to this file instead of stdout")
	fetchCmd.Flags().Bool(flagCompat, false, "Strip MySQL-only clauses before printing")
	return fetchCmd
}
