package cli

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/rescale/upsess/internal/chunk"
	"github.com/rescale/upsess/internal/session"
)

// readOutput is the JSON form of a chunk plus how much of the file has been
// served in this session.
type readOutput struct {
	*chunk.Chunk
	Coverage session.Coverage `json:"coverage"`
}

// newReadCmd creates the 'read' command.
func newReadCmd(a *app) *cobra.Command {
	var (
		offset int64
		length int64
		raw    bool
	)

	cmd := &cobra.Command{
		Use:   "read <ref>",
		Short: "Read one chunk of a file",
		Long: `Open an upload session over a file and read the chunk [offset, offset+length).

A length of 0 reads the configured read quantum. The chunk is clamped to the
end of the file. By default the chunk is printed as JSON with a base64
payload and the read coverage of the session; --raw writes the bytes to
stdout instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			if raw {
				stream, err := eng.ReadStream(ctx, c.SessionID, offset, length)
				if err != nil {
					return withCode(err)
				}
				defer stream.Close()
				_, err = io.Copy(cmd.OutOrStdout(), stream)
				return err
			}

			ch, err := eng.Read(ctx, c.SessionID, offset, length)
			if err != nil {
				return withCode(err)
			}
			cov, err := eng.Coverage(c.SessionID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(readOutput{Chunk: ch, Coverage: cov})
		},
	}

	cmd.Flags().Int64Var(&offset, "offset", 0, "Start offset in bytes")
	cmd.Flags().Int64Var(&length, "length", 0, "Chunk length in bytes (0 = read quantum)")
	cmd.Flags().BoolVar(&raw, "raw", false, "Write the raw bytes instead of JSON")

	return cmd
}
