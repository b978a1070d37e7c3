package cli

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rescale/upsess/internal/collect"
	"github.com/rescale/upsess/internal/digest"
	"github.com/rescale/upsess/internal/engine"
	"github.com/rescale/upsess/internal/progress"
	"github.com/rescale/upsess/internal/util/filter"
	ustrings "github.com/rescale/upsess/internal/util/strings"
)

type dropFlags struct {
	include string
	exclude string
	paths   string
	origin  string
	algo    string
	jobs    int
	keep    bool
}

// newDropCmd creates the 'drop' command.
func newDropCmd(a *app) *cobra.Command {
	var flags dropFlags

	cmd := &cobra.Command{
		Use:   "drop <ref>...",
		Short: "Register files and folders as one selection",
		Long: `Register the given references as a single user selection, walk any
folders, and create one upload session per file found.

Each file that can be restored later gets a durable handle; the handle IDs
are printed so 'handles restore' can reopen them in another run.

Files found inside folders can be narrowed with --include, --exclude and
--path. Relative paths start with the dropped folder's name.

Use --hash to digest every created session (one progress bar per file).`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			origin, err := collect.ParseOrigin(flags.origin)
			if err != nil {
				return err
			}
			var alg digest.Algorithm
			if flags.algo != "" {
				if alg, err = digest.ParseAlgorithm(flags.algo); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			eng, err := a.openEngine(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer eng.Close()

			sel := filter.Config{
				Include:     filter.ParsePatternList(flags.include),
				Exclude:     filter.ParsePatternList(flags.exclude),
				PathInclude: filter.ParsePatternList(flags.paths),
			}
			info, created, err := openSelection(ctx, eng, origin, sel, args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Batch %s: %d %s\n", info.BatchID, info.FileCount, ustrings.Pluralize("file", int64(info.FileCount)))
			for _, dir := range info.EmptyDirectories {
				fmt.Fprintf(out, "  empty folder  %s\n", dir)
			}
			for _, c := range created {
				handle := c.HandleID
				if handle == "" {
					handle = "-"
				}
				fmt.Fprintf(out, "  %-36s  %12d  %s\n", handle, c.Size, c.RelativePath)
			}

			if alg != "" {
				err = hashAll(cmd, eng, created, alg, flags.jobs)
			}
			if !flags.keep {
				for _, c := range created {
					_ = eng.CleanupSession(ctx, c.SessionID)
				}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&flags.origin, "origin", string(collect.OriginDrop), "Gesture origin: picker, drop, fallback")
	cmd.Flags().StringVar(&flags.include, "include", "", "Only files in folders whose name matches these patterns (comma-separated)")
	cmd.Flags().StringVar(&flags.exclude, "exclude", "", "Skip files in folders whose name matches these patterns (comma-separated)")
	cmd.Flags().StringVar(&flags.paths, "path", "", "Only files whose relative path matches these patterns; ** spans folders")
	cmd.Flags().StringVar(&flags.algo, "hash", "", "Digest every file with this algorithm")
	cmd.Flags().IntVarP(&flags.jobs, "jobs", "j", 4, "Files hashed concurrently")
	cmd.Flags().BoolVar(&flags.keep, "keep-handles", true, "Keep the durable handles after the command exits")

	return cmd
}

// hashAll digests every session concurrently with one bar per file. A failed
// file does not stop the others.
func hashAll(cmd *cobra.Command, eng *engine.Engine, created []collect.Created, alg digest.Algorithm, jobs int) error {
	ctx := cmd.Context()
	ui := progress.NewHashUI(len(created), cmd.ErrOrStderr())
	results := make([]string, len(created))

	var failed int32
	var g errgroup.Group
	if jobs > 0 {
		g.SetLimit(jobs)
	}
	for i, c := range created {
		g.Go(func() error {
			bar := ui.AddFileBar(c.RelativePath, c.Size)
			res, err := eng.ComputeHash(ctx, c.SessionID, engine.HashRequest{
				Algorithm:  alg,
				OnProgress: bar.UpdateProgress,
			})
			if err != nil {
				atomic.AddInt32(&failed, 1)
				bar.Complete("", withCode(err))
				return nil
			}
			results[i] = res.Digest
			bar.Complete(res.Digest, nil)
			return nil
		})
	}
	_ = g.Wait()
	ui.Wait()

	writeDigests(cmd.OutOrStdout(), created, results)
	if n := atomic.LoadInt32(&failed); n > 0 {
		return fmt.Errorf("%d of %d %s could not be hashed", n, len(created), ustrings.Pluralize("file", int64(len(created))))
	}
	return nil
}

func writeDigests(w io.Writer, created []collect.Created, results []string) {
	for i, c := range created {
		if results[i] != "" {
			fmt.Fprintf(w, "%s  %s\n", results[i], c.RelativePath)
		}
	}
}
