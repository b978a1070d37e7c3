// Package cli provides the command-line interface for upsess.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rescale/upsess/internal/cloud/providers"
	"github.com/rescale/upsess/internal/config"
	"github.com/rescale/upsess/internal/engine"
	"github.com/rescale/upsess/internal/logging"
	"github.com/rescale/upsess/internal/version"
)

// app carries the state shared by every command of one invocation.
type app struct {
	v       *viper.Viper
	cfg     *config.Config
	logger  *logging.Logger
	logFile *os.File
	in      io.Reader
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New(), in: os.Stdin}

	rootCmd := &cobra.Command{
		Use:   "upsess",
		Short: "Resumable upload session engine",
		Long: `upsess ` + version.Version + ` - Built: ` + version.BuildTime + `
Opens upload sessions over local files, S3 objects and Azure blobs, reads
them in chunks, computes content digests, and keeps file handles and
upload state across restarts.

References:
  /path/to/file              local file or directory
  s3://bucket/key            S3 object (a trailing / names a prefix)
  azure://container/path     Azure blob (a trailing / names a prefix)

Environment:
  UPSESS_CONFIG, UPSESS_STORE, UPSESS_LOG_LEVEL, UPSESS_YES override the
  matching flags.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logFile != nil {
				a.logFile.Close()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "Configuration file path (default ~/.config/upsess/upsess.conf)")
	flags.String("store", "", "Durable store path (overrides [store] path)")
	flags.String("log-level", "", "Log level: debug, info, warn, error (overrides [log] level)")
	flags.BoolP("yes", "y", false, "Grant local read access without prompting")

	for _, name := range []string{"config", "store", "log-level", "yes"} {
		_ = a.v.BindPFlag(name, flags.Lookup(name))
	}
	a.v.SetEnvPrefix("UPSESS")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"

	rootCmd.AddCommand(newHashCmd(a))
	rootCmd.AddCommand(newReadCmd(a))
	rootCmd.AddCommand(newDropCmd(a))
	rootCmd.AddCommand(newHandlesCmd(a))
	rootCmd.AddCommand(newUploadsCmd(a))
	rootCmd.AddCommand(newDeviceIDCmd(a))
	rootCmd.AddCommand(newConfigCmd(a))

	return rootCmd
}

// init loads the configuration file, applies flag and environment overrides,
// and sets up logging.
func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.v.GetString("config"))
	if err != nil {
		return err
	}
	if store := a.v.GetString("store"); store != "" {
		cfg.Store.Path = config.ExpandHome(store)
	}
	if level := a.v.GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	a.cfg = cfg

	a.logger = logging.NewLogger(cmd.ErrOrStderr())
	logging.SetGlobalLevel(logging.ParseLevel(cfg.Log.Level))

	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			a.logger.Warn().Err(err).Str("path", cfg.Log.File).Msg("Cannot open log file")
		} else {
			a.logFile = f
			a.logger.SetOutput(io.MultiWriter(cmd.ErrOrStderr(), f))
		}
	}
	return nil
}

// openEngine builds an engine with every configured platform. The caller
// closes it.
func (a *app) openEngine(ctx context.Context, out io.Writer) (*engine.Engine, error) {
	a.ensureProxyPassword(out)

	platforms, err := providers.NewFactory(a.cfg, a.logger).Platforms(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Cloud platforms unavailable; only local references will resolve")
		platforms = nil
	}

	return engine.New(engine.Options{
		Config:    a.cfg,
		Logger:    a.logger,
		Prompter:  newPrompter(a.v.GetBool("yes"), a.in, out),
		Platforms: platforms,
	})
}

// Execute runs the CLI.
func Execute() error {
	// Create a context that can be cancelled by signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Loop so repeated Ctrl+C does not kill the process mid-cleanup.
	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\nReceived signal %v, cancelling operations...\n", sig)
				cancel()
			}
		}
	}()

	err := NewRootCmd().ExecuteContext(ctx)

	signal.Stop(sigChan)
	close(sigChan)

	return err
}
