// Package app provides the commands of the schema-bootstrap CLI.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/schema-bootstrap/internal/config"
	"github.com/stacklok/schema-bootstrap/internal/git"
	"github.com/stacklok/schema-bootstrap/internal/sqlexec"
	"github.com/stacklok/schema-bootstrap/internal/versions"
)

// EnvPrefix prefixes every environment variable the CLI reads
const EnvPrefix = "SCHEMA_BOOTSTRAP"

// Flag names, which double as viper keys
const (
	keyConfig            = "config"
	keyRepository        = "repository"
	keyPath              = "path"
	keyEncoding          = "encoding"
	keyBranch            = "branch"
	keyTag               = "tag"
	keyLatestTag         = "latest-tag"
	keyTagScheme         = "tag-scheme"
	keySkipMalformedTags = "skip-malformed-tags"
	keySSHUser           = "ssh-user"
	keyPrivateKey        = "private-key"
	keyPublicKey         = "public-key"
	keyPassphraseFile    = "passphrase-file"
	keyInsecureHostKey   = "insecure-skip-host-key-verification"
	keyKnownHosts        = "known-hosts"
	keyWorkspaceDir      = "workspace-dir"
	keyInMemory          = "in-memory"
)

// database is the connection apply runs statements on
type database interface {
	sqlexec.Execer
	Close() error
}

// app holds what the commands share. Tests swap the git client and database opener.
type app struct {
	v         *viper.Viper
	fs        afero.Fs
	gitClient git.Client
	openDB    func(ctx context.Context, cfg *config.DatabaseConfig, fs afero.Fs) (database, error)
}

func newApp() *app {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	return &app{
		v:      v,
		fs:     afero.NewOsFs(),
		openDB: openDatabase,
	}
}

func openDatabase(ctx context.Context, cfg *config.DatabaseConfig, fs afero.Fs) (database, error) {
	db, err := sqlexec.Open(ctx, cfg, fs)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// NewRootCmd creates the root command of schema-bootstrap
func NewRootCmd() *cobra.Command {
	return newRootCmd(newApp())
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "schema-bootstrap",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "Bootstrap databases from schema files kept in git",
		Long: heredoc.Doc(`
			schema-bootstrap reads a schema file from a git repository over SSH and
			applies it to a database.

			The ref the file is read from is a branch, a tag, or the newest release
			tag. Every flag can also be set in the configuration file given with
			--config, or through a SCHEMA_BOOTSTRAP_ prefixed environment variable
			(for example SCHEMA_BOOTSTRAP_LATEST_TAG=true). Flags win over both.
		`),
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				slog.Error("Error displaying help", "error", err)
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String(keyConfig, "", "Path to the YAML configuration file")
	flags.String(keyRepository, "", "SSH URL of the repository holding the schema")
	flags.String(keyPath, "", "Path of the schema file within the repository")
	flags.String(keyEncoding, "", "Encoding of the schema file (default utf-8)")
	flags.String(keyBranch, "", "Read the schema from this branch")
	flags.String(keyTag, "", "Read the schema from this tag")
	flags.Bool(keyLatestTag, false, "Read the schema from the newest release tag")
	flags.String(keyTagScheme, "", "How tags are compared: major-minor or semver (default major-minor)")
	flags.Bool(keySkipMalformedTags, false, "Ignore tags that do not follow the tag scheme")
	flags.String(keySSHUser, "", "SSH user (default git)")
	flags.String(keyPrivateKey, "", "Path to the SSH private key")
	flags.String(keyPublicKey, "", "Path to the SSH public key, checked against the private key")
	flags.String(keyPassphraseFile, "", "Path to a file holding the private key passphrase")
	flags.Bool(keyInsecureHostKey, false, "Accept any SSH host key")
	flags.StringSlice(keyKnownHosts, nil, "known_hosts files used to verify the host key")
	flags.String(keyWorkspaceDir, "", "Directory clone workspaces are created in (default system temp dir)")
	flags.Bool(keyInMemory, false, "Clone into memory instead of a workspace directory")

	if err := a.v.BindPFlags(flags); err != nil {
		slog.Error("Error binding flags", "error", err)
	}

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(a.newFetchCmd())
	rootCmd.AddCommand(a.newTagsCmd())
	rootCmd.AddCommand(a.newApplyCmd())
	rootCmd.AddCommand(a.newValidateCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return fmt.Errorf("failed to get format flag: %w", err)
			}

			if format == "json" {
				output, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to format version info as JSON: %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(output))
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema-bootstrap %s\n  commit: %s\n  built:  %s\n  go:     %s\n  platform: %s\n",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
			return err
		},
	}
	versionCmd.Flags().String("format", "", "Output format (json)")
	return versionCmd
}
