package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rescale/upsess/internal/config"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd(a *app) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage upsess configuration",
		Long: `Configuration management commands for upsess.

Commands:
  init  - Write a configuration file with default values
  show  - Display the effective configuration
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd(a))
	configCmd.AddCommand(newConfigShowCmd(a))
	configCmd.AddCommand(newConfigPathCmd(a))

	return configCmd
}

func (a *app) configPath() (string, error) {
	if p := a.v.GetString("config"); p != "" {
		return p, nil
	}
	return config.DefaultConfigPath()
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long: `Write the effective configuration (defaults plus overrides) to the
configuration file.

Use --force to overwrite an existing file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.configPath()
			if err != nil {
				return err
			}
			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Configuration already exists at: %s\n", path)
					fmt.Fprintln(cmd.OutOrStdout(), "Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := config.Save(a.cfg, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")
	return cmd
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			showConfig(cmd.OutOrStdout(), a.cfg)
			return nil
		},
	}
}

func showConfig(w io.Writer, cfg *config.Config) {
	e := cfg.Engine
	fmt.Fprintln(w, "[engine]")
	fmt.Fprintf(w, "  in_memory_threshold_mb: %d\n", e.InMemoryThresholdMB)
	fmt.Fprintf(w, "  read_quantum_kb:        %d\n", e.ReadQuantumKB)
	fmt.Fprintf(w, "  hash_chunk_kb:          %d\n", e.HashChunkKB)
	fmt.Fprintf(w, "  progress_step_mb:       %d\n", e.ProgressStepMB)
	fmt.Fprintf(w, "  native_digest:          %t\n", e.NativeDigest)
	fmt.Fprintf(w, "  include_hidden:         %t\n", e.IncludeHidden)

	fmt.Fprintln(w, "[store]")
	fmt.Fprintf(w, "  path:                   %s\n", cfg.Store.Path)
	fmt.Fprintf(w, "  open_timeout_seconds:   %d\n", cfg.Store.OpenTimeoutSeconds)

	fmt.Fprintln(w, "[log]")
	fmt.Fprintf(w, "  level:                  %s\n", cfg.Log.Level)
	fmt.Fprintf(w, "  file:                   %s\n", cfg.Log.File)

	fmt.Fprintln(w, "[proxy]")
	fmt.Fprintf(w, "  mode:                   %s\n", cfg.Proxy.Mode)
	if cfg.Proxy.Host != "" {
		fmt.Fprintf(w, "  host:                   %s:%d\n", cfg.Proxy.Host, cfg.Proxy.Port)
	}
	if cfg.Proxy.User != "" {
		fmt.Fprintf(w, "  user:                   %s\n", cfg.Proxy.User)
		fmt.Fprintf(w, "  password:               %s\n", mask(cfg.Proxy.Password))
	}

	fmt.Fprintln(w, "[s3]")
	fmt.Fprintf(w, "  region:                 %s\n", cfg.S3.Region)
	fmt.Fprintf(w, "  endpoint:               %s\n", cfg.S3.Endpoint)
	fmt.Fprintf(w, "  access_key_id:          %s\n", cfg.S3.AccessKeyID)
	fmt.Fprintf(w, "  secret_access_key:      %s\n", mask(cfg.S3.SecretAccessKey))

	fmt.Fprintln(w, "[azure]")
	fmt.Fprintf(w, "  account:                %s\n", cfg.Azure.Account)
	fmt.Fprintf(w, "  account_key:            %s\n", mask(cfg.Azure.AccountKey))
	fmt.Fprintf(w, "  sas_url:                %s\n", mask(cfg.Azure.SASURL))
}

// mask hides all but the last four characters of a secret.
func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.configPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}
