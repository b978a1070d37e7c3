package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rescale/upsess/internal/digest"
	"github.com/rescale/upsess/internal/engine"
	"github.com/rescale/upsess/internal/progress"
)

type hashFlags struct {
	algo      string
	blockSize int64
	jsonOut   bool
	quiet     bool
}

// newHashCmd creates the 'hash' command.
func newHashCmd(a *app) *cobra.Command {
	var flags hashFlags

	cmd := &cobra.Command{
		Use:   "hash <ref>",
		Short: "Compute the digest of a file",
		Long: `Open an upload session over a file and compute its digest.

Algorithms: MD5, SHA1, SEGMENTED_SHA1.
With --block-size, MD5 and SHA1 also print one digest per block.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			alg, err := digest.ParseAlgorithm(flags.algo)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			eng, err := a.openEngine(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer eng.Close()

			c, err := openFile(ctx, eng, args[0])
			if err != nil {
				return err
			}
			defer eng.CleanupSession(ctx, c.SessionID)

			var bar progress.Single = progress.Silent{}
			if !flags.quiet {
				bar = progress.NewBar(cmd.ErrOrStderr(), c.Size, "Hashing "+c.FileName)
			}

			res, err := eng.ComputeHash(ctx, c.SessionID, engine.HashRequest{
				Algorithm:  alg,
				BlockSize:  flags.blockSize,
				OnProgress: bar.Fraction,
			})
			if err != nil {
				bar.Fail(err)
				return withCode(err)
			}
			bar.Done()

			return printDigest(cmd.OutOrStdout(), c.RelativePath, res, flags.jsonOut)
		},
	}

	cmd.Flags().StringVarP(&flags.algo, "algo", "a", "MD5", "Digest algorithm")
	cmd.Flags().Int64Var(&flags.blockSize, "block-size", 0, "Also digest each block of this many bytes")
	cmd.Flags().BoolVar(&flags.jsonOut, "json", false, "Print the result as JSON")
	cmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "Do not show a progress bar")

	return cmd
}

func printDigest(w io.Writer, name string, res *digest.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintf(w, "%s  %s\n", res.Digest, name)
	for i, d := range res.BlockDigests {
		fmt.Fprintf(w, "  block %d  %s\n", i, d)
	}
	return nil
}
