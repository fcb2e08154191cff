package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacklok/schema-bootstrap/internal/config"
)

// loadConfig reads the configuration file, when one is given, and overlays the values
// set through flags or the environment. Commands that do not read a file pass
// requireRef=false and get the newest tag selected when no ref is configured.
func (a *app) loadConfig(requireRef bool) (*config.Config, error) {
	cfg := &config.Config{}
	if path := a.v.GetString(keyConfig); path != "" {
		loaded, err := config.ReadConfig(config.WithConfigPath(path), config.WithFs(a.fs))
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	a.overlay(cfg)

	if !requireRef && cfg.Ref == (config.RefConfig{}) {
		cfg.Ref.LatestTag = true
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (a *app) overlay(cfg *config.Config) {
	setString := func(key string, dst *string) {
		if a.v.IsSet(key) {
			*dst = a.v.GetString(key)
		}
	}
	setBool := func(key string, dst *bool) {
		if a.v.IsSet(key) {
			*dst = a.v.GetBool(key)
		}
	}

	setString(keyRepository, &cfg.Repository)
	setString(keyPath, &cfg.Path)
	setString(keyEncoding, &cfg.Encoding)
	setString(keyTagScheme, &cfg.TagScheme)
	setBool(keySkipMalformedTags, &cfg.SkipMalformedTags)
	setString(keySSHUser, &cfg.SSH.User)
	setString(keyPrivateKey, &cfg.SSH.PrivateKeyFile)
	setString(keyPublicKey, &cfg.SSH.PublicKeyFile)
	setString(keyPassphraseFile, &cfg.SSH.PassphraseFile)
	setBool(keyInsecureHostKey, &cfg.SSH.InsecureSkipHostKeyVerification)
	setString(keyWorkspaceDir, &cfg.Workspace.Directory)
	setBool(keyInMemory, &cfg.Workspace.InMemory)

	if a.v.IsSet(keyKnownHosts) {
		cfg.SSH.KnownHostsFiles = a.v.GetStringSlice(keyKnownHosts)
	}

	// A ref given on the command line replaces the configured one instead of adding to it
	if a.v.IsSet(keyBranch) || a.v.IsSet(keyTag) || a.v.IsSet(keyLatestTag) {
		cfg.Ref = config.RefConfig{
			Branch:    a.v.GetString(keyBranch),
			Tag:       a.v.GetString(keyTag),
			LatestTag: a.v.GetBool(keyLatestTag),
		}
	}
}

// applyCompatFlag lets --compat switch the compatibility filter on or off,
// keeping any rule selection from the configuration file
func applyCompatFlag(cmd *cobra.Command, cfg *config.Config) error {
	if !cmd.Flags().Changed(flagCompat) {
		return nil
	}
	enabled, err := cmd.Flags().GetBool(flagCompat)
	if err != nil {
		return fmt.Errorf("failed to get %s flag: %w", flagCompat, err)
	}
	if cfg.Compat == nil {
		cfg.Compat = &config.CompatConfig{}
	}
	cfg.Compat.Enabled = enabled
	return nil
}
