package app

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/MakeNowJust/heredoc"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/stacklok/schema-bootstrap/internal/tags"
)

func (a *app) newTagsCmd() *cobra.Command {
	tagsCmd := &cobra.Command{
		Use:   "tags",
		Short: "Inspect the release tags of the schema repository",
		Long: heredoc.Doc(`
			Release tags are compared under the configured tag scheme. With the
			default major-minor scheme a tag reads v<major>.<minor> and v2.10 is
			newer than v2.9.
		`),
	}

	tagsCmd.AddCommand(a.newTagsLatestCmd())
	tagsCmd.AddCommand(a.newTagsListCmd())
	return tagsCmd
}

func (a *app) newTagsLatestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "latest",
		Short: "Print the newest release tag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := a.loadConfig(false)
			if err != nil {
				return err
			}
			s, err := a.newSession(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			newest, err := s.retriever.LatestTag(ctx, s.access, s.scheme, s.resolveOpts...)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), newest)
			return err
		},
	}
}

func (a *app) newTagsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the tags of the repository with the version each one parses to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := a.loadConfig(false)
			if err != nil {
				return err
			}
			s, err := a.newSession(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			names, err := s.retriever.ListTags(ctx, s.access)
			if err != nil {
				return err
			}

			table, err := renderTagTable(s.scheme, names)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(table)
			return err
		},
	}
}

// renderTagTable lays out one row per tag and marks the newest one
func renderTagTable(scheme tags.Scheme, names []string) ([]byte, error) {
	newest, err := tags.Resolve(scheme, names, tags.SkipMalformed())
	if err != nil && !errors.Is(err, tags.ErrNoTagsFound) {
		return nil, err
	}

	buff := &bytes.Buffer{}
	table := tablewriter.NewWriter(buff)
	table.SetBorder(false)
	table.SetHeader([]string{"Tag", "Version", "Newest"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, name := range names {
		version, err := tags.Normalize(scheme, name)
		if err != nil {
			version = "malformed"
		}
		mark := ""
		if name == newest {
			mark = "*"
		}
		table.Append([]string{name, version, mark})
	}
	table.Render()

	return buff.Bytes(), nil
}
