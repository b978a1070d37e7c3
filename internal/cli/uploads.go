package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rescale/upsess/internal/persist"
	ustrings "github.com/rescale/upsess/internal/util/strings"
)

// errStoreUnavailable is returned when upload state cannot be written.
var errStoreUnavailable = errors.New("upload state store is unavailable")

// newUploadsCmd creates the 'uploads' command group.
func newUploadsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uploads",
		Short: "Manage persisted upload state",
		Long: `Persisted upload state is the set of in-flight upload records the
transfer layer saves so it can resume after a restart.

Commands:
  show   - Print the saved set
  save   - Replace the saved set from a JSON file
  clear  - Remove the saved set`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the saved upload records as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := a.openEngine(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer eng.Close()

			snap := eng.LoadPersistedUploads(ctx)
			if snap == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "No saved uploads.")
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "save <file.json|->",
		Short: "Replace the saved upload records",
		Long: `Replace the saved set with the records in a JSON file ("-" reads stdin).

The file holds an array of {"id": ..., "payload": {...}} objects. The set is
stamped with this installation's device ID.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := readRecords(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			eng, err := a.openEngine(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer eng.Close()

			if !eng.SavePersistedUploads(ctx, records, eng.DeviceID(ctx)) {
				return errStoreUnavailable
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %d upload %s.\n", len(records), ustrings.Pluralize("record", int64(len(records))))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove the saved upload records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := a.openEngine(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer eng.Close()

			if !eng.ClearPersistedUploads(ctx) {
				return errStoreUnavailable
			}
			return nil
		},
	})

	return cmd
}

func readRecords(stdin io.Reader, path string) ([]persist.Record, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}

	var records []persist.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse records: %w", err)
	}
	for i, r := range records {
		if r.ID == "" {
			return nil, fmt.Errorf("record %d has no id", i)
		}
	}
	return records, nil
}

// newDeviceIDCmd creates the 'device-id' command.
func newDeviceIDCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "device-id",
		Short: "Print this installation's device ID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := a.openEngine(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer eng.Close()

			fmt.Fprintln(cmd.OutOrStdout(), eng.DeviceID(ctx))
			return nil
		},
	}
}
