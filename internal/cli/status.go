package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/cutlog/internal/models"
	"github.com/kimhsiao/cutlog/internal/sync/queue"
)

// statusReport is the JSON shape of "cutlog status".
type statusReport struct {
	DataDir         string      `json:"data_dir"`
	API             string      `json:"api"`
	LastSyncAt      int64       `json:"last_sync_at,omitempty"`
	ManifestTime    int64       `json:"last_manifest_server_time,omitempty"`
	Queue           queue.Stats `json:"queue"`
	PendingProfiles int         `json:"pending_profiles"`
	PendingRecords  int         `json:"pending_records"`
	DeadOperations  []string    `json:"dead_operations,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queued changes and the last sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				report, err := buildStatus(cmd, a)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.JSON {
					return outputJSON(out, report)
				}

				PrintSection(out, "cutlog status")
				PrintLabelValue(out, "Data dir", report.DataDir)
				PrintLabelValue(out, "API", report.API)
				PrintLabelValue(out, "Last sync", formatUnix(report.LastSyncAt))
				PrintLabelValue(out, "Queued operations", strconv.Itoa(report.Queue.Total))
				PrintLabelValue(out, "Pending profiles", strconv.Itoa(report.PendingProfiles))
				PrintLabelValue(out, "Pending records", strconv.Itoa(report.PendingRecords))
				if report.Queue.Dead > 0 {
					PrintWarning(out, countNoun(report.Queue.Dead, "operation was", "operations were")+
						" rejected; run \"cutlog queue retry\" or \"cutlog queue discard\"")
					for _, op := range report.DeadOperations {
						PrintEmptyState(out, op)
					}
				}
				return nil
			})
		},
	}
}

func buildStatus(cmd *cobra.Command, a *app) (*statusReport, error) {
	ctx := cmd.Context()
	report := &statusReport{DataDir: a.cfg.DataDir, API: a.cfg.APIBaseURL}

	if v, ok, err := a.repo.GetMetadata(ctx, models.MetaLastSyncAt); err != nil {
		return nil, err
	} else if ok {
		report.LastSyncAt, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok, err := a.repo.GetMetadata(ctx, models.MetaLastManifestServerTime); err != nil {
		return nil, err
	} else if ok {
		report.ManifestTime, _ = strconv.ParseInt(v, 10, 64)
	}

	stats, err := a.engine.Queue().Stats(ctx)
	if err != nil {
		return nil, err
	}
	report.Queue = stats

	pending, err := a.engine.Cache().ListPending(ctx)
	if err != nil {
		return nil, err
	}
	report.PendingProfiles = len(pending.Profiles)
	report.PendingRecords = len(pending.Records)

	if stats.Dead > 0 {
		dead, err := a.engine.Queue().ListDead(ctx)
		if err != nil {
			return nil, err
		}
		for _, op := range dead {
			report.DeadOperations = append(report.DeadOperations, op.String()+": "+op.LastError)
		}
	}
	return report, nil
}
