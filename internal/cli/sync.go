package cli

import (
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	syncpkg "github.com/kimhsiao/cutlog/internal/sync"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Upload queued changes, then pull remote changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				res, err := a.engine.Sync(cmd.Context())
				if res == nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.JSON {
					if jerr := outputJSON(out, res); jerr != nil {
						return jerr
					}
				} else {
					printSyncResult(out, res)
				}
				return err
			})
		},
	}
}

func printSyncResult(w io.Writer, res *syncpkg.SyncResult) {
	if res.Success {
		PrintSuccess(w, "Sync finished in "+res.Duration.Round(time.Millisecond).String())
	} else {
		PrintError(w, "Sync failed: "+res.Error)
	}
	PrintLabelValue(w, "Uploaded", strconv.Itoa(res.Uploaded))
	if res.UploadFailed > 0 {
		PrintLabelValue(w, "Upload failures", strconv.Itoa(res.UploadFailed))
	}
	if res.Skipped > 0 {
		PrintLabelValue(w, "Deferred", strconv.Itoa(res.Skipped))
	}
	PrintLabelValue(w, "Profiles updated", strconv.Itoa(res.ProfilesUpdated))
	PrintLabelValue(w, "Profiles deleted", strconv.Itoa(res.ProfilesDeleted))
	PrintLabelValue(w, "Records updated", strconv.Itoa(res.RecordsUpdated))
	PrintLabelValue(w, "Records deleted", strconv.Itoa(res.RecordsDeleted))
	if res.Conflicts > 0 {
		PrintWarning(w, countNoun(res.Conflicts, "remote change", "remote changes")+" deferred behind local edits")
	}
}
