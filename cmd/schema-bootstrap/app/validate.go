package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacklok/schema-bootstrap/internal/config"
	"github.com/stacklok/schema-bootstrap/internal/sqlcompat"
)

func (a *app) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration without contacting the repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig(true)
			if err != nil {
				return err
			}
			if cfg.Compat != nil {
				if _, err := sqlcompat.RulesByName(cfg.Compat.Rules...); err != nil {
					return fmt.Errorf("invalid configuration: %w", err)
				}
			}
			if cfg.Database != nil {
				if err := cfg.Database.Validate(); err != nil {
					return fmt.Errorf("invalid database configuration: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Valid configuration\n")
			fmt.Fprintf(out, "  Repository: %s\n", cfg.Repository)
			fmt.Fprintf(out, "  Path: %s (%s)\n", cfg.Path, cfg.Encoding)
			fmt.Fprintf(out, "  Ref: %s\n", describeRef(cfg.Ref, cfg.TagScheme))
			if cfg.Database != nil {
				fmt.Fprintf(out, "  Database: %s@%s:%d/%s\n", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
			}
			return nil
		},
	}
}

func describeRef(ref config.RefConfig, scheme string) string {
	switch {
	case ref.LatestTag:
		return "newest tag (" + scheme + ")"
	case ref.Tag != "":
		return "tag " + ref.Tag
	default:
		return "branch " + ref.Branch
	}
}
