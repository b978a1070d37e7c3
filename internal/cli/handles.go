package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescale/upsess/internal/digest"
	"github.com/rescale/upsess/internal/engine"
	"github.com/rescale/upsess/internal/progress"
)

// newHandlesCmd creates the 'handles' command group.
func newHandlesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "handles",
		Short: "Manage durable file handles",
		Long: `Durable handles remember files and folders across runs.

Commands:
  list     - Show stored handles
  restore  - Reopen a session from a handle
  rm       - Delete one handle
  clear    - Delete every handle`,
	}

	cmd.AddCommand(newHandlesListCmd(a))
	cmd.AddCommand(newHandlesRestoreCmd(a))
	cmd.AddCommand(newHandlesRmCmd(a))
	cmd.AddCommand(newHandlesClearCmd(a))
	return cmd
}

func newHandlesListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored handles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := a.openEngine(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer eng.Close()

			recs, err := eng.ListHandles(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(recs) == 0 {
				fmt.Fprintln(out, "No stored handles.")
				return nil
			}
			for _, r := range recs {
				grant := ""
				if r.ImplicitGrant {
					grant = " (picked)"
				}
				fmt.Fprintf(out, "%-36s  %-9s  %-8s  %s  %s%s\n",
					r.ID, r.Kind, r.Origin, r.CreatedAt.Local().Format(time.DateTime), r.Descriptor, grant)
			}
			return nil
		},
	}
}

func newHandlesRestoreCmd(a *app) *cobra.Command {
	var (
		algo           string
		nonInteractive bool
	)

	cmd := &cobra.Command{
		Use:   "restore <handle-id>",
		Short: "Reopen a session from a stored handle",
		Long: `Reopen an upload session from a handle stored by an earlier run.

Local handles must be confirmed again after a restart. With
--non-interactive the command fails with PERMISSION_PENDING instead of
prompting. A handle whose file has moved or been deleted is removed and
reported as HANDLE_STALE.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := a.openEngine(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer eng.Close()

			id, err := eng.RestoreSessionFromHandle(ctx, args[0], !nonInteractive)
			if err != nil {
				return withCode(err)
			}
			s, err := eng.Session(id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s: %s (%d bytes)\n", id, s.Name, s.Size)

			if algo == "" {
				return nil
			}
			alg, err := digest.ParseAlgorithm(algo)
			if err != nil {
				return err
			}
			bar := progress.NewBar(cmd.ErrOrStderr(), s.Size, "Hashing "+s.Name)
			res, err := eng.ComputeHash(ctx, id, engine.HashRequest{
				Algorithm:  alg,
				OnProgress: bar.Fraction,
			})
			if err != nil {
				bar.Fail(err)
				return withCode(err)
			}
			bar.Done()
			return printDigest(cmd.OutOrStdout(), s.Name, res, false)
		},
	}

	cmd.Flags().StringVar(&algo, "hash", "", "Digest the restored file with this algorithm")
	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "Never prompt for access")
	return cmd
}

func newHandlesRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <handle-id>...",
		Short: "Delete stored handles",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := a.openEngine(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer eng.Close()

			for _, id := range args {
				if err := eng.DeleteHandle(ctx, id); err != nil {
					return fmt.Errorf("failed to delete %s: %w", id, err)
				}
			}
			return nil
		},
	}
}

func newHandlesClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored handle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := a.openEngine(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer eng.Close()
			return eng.ClearHandles(ctx)
		},
	}
}
