package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/kimhsiao/cutlog/internal/errors"
	"github.com/kimhsiao/cutlog/internal/models"
)

// NewRecordsCommand creates the records command group.
func NewRecordsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "records",
		Aliases: []string{"record", "r"},
		Short:   "Manage haircut records",
	}
	cmd.AddCommand(newRecordsListCommand(opts))
	cmd.AddCommand(newRecordsAddCommand(opts))
	cmd.AddCommand(newRecordsRmCommand(opts))
	return cmd
}

func newRecordsListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list [profile-id]",
		Aliases: []string{"ls"},
		Short:   "List records, optionally of one profile",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profileID := ""
			if len(args) == 1 {
				profileID = args[0]
			}
			return withApp(opts, func(a *app) error {
				ctx := cmd.Context()
				records, err := a.records.List(ctx, profileID)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if opts.JSON {
					if err := outputJSON(out, records); err != nil {
						return err
					}
					return a.finish(ctx, cmd.ErrOrStderr(), opts.Sync)
				}
				if len(records) == 0 {
					PrintEmptyState(out, "No records")
					return a.finish(ctx, out, opts.Sync)
				}

				PrintSection(out, countNoun(len(records), "record", "records"))
				rows := make([][]string, 0, len(records))
				for _, r := range records {
					rows = append(rows, []string{
						r.ID,
						r.ProfileID,
						r.OccurredAtTime().Format("2006-01-02"),
						r.Stylist,
						formatPrice(r.PriceCents),
						statusLabel(r.SyncStatus),
					})
				}
				PrintTable(out, []string{"ID", "Profile", "Date", "Stylist", "Price", "Status"}, rows)
				return a.finish(ctx, out, opts.Sync)
			})
		},
	}
}

func formatPrice(cents int64) string {
	if cents == 0 {
		return "-"
	}
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

// parsePrice parses "25", "25.5" or "25.50" into cents.
func parsePrice(s string) (int64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, apperrors.Newf(apperrors.ErrInvalid, "price %q: want a non-negative amount like 25.50", s)
	}
	return int64(f*100 + 0.5), nil
}

func newRecordsAddCommand(opts *RootOptions) *cobra.Command {
	var (
		date     string
		price    string
		duration int
		images   []string
	)
	r := &models.Record{}

	cmd := &cobra.Command{
		Use:     "add <profile-id>",
		Short:   "Record a haircut",
		Example: `  cutlog records add tmp-7c0e... --date 2026-03-14 --stylist Jo --price 32.50 --duration 40`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r.ProfileID = args[0]
			r.DurationMinutes = duration
			r.ImageURLs = images

			occurred := time.Now()
			if date != "" {
				t, err := time.ParseInLocation("2006-01-02", date, time.Local)
				if err != nil {
					return apperrors.Newf(apperrors.ErrInvalid, "date %q: want YYYY-MM-DD", date)
				}
				occurred = t
			}
			r.OccurredAt = occurred.Unix()

			if price != "" {
				cents, err := parsePrice(price)
				if err != nil {
					return err
				}
				r.PriceCents = cents
			}

			return withApp(opts, func(a *app) error {
				saved, err := a.records.Save(cmd.Context(), r)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.JSON {
					if err := outputJSON(out, saved); err != nil {
						return err
					}
					return a.finish(cmd.Context(), cmd.ErrOrStderr(), opts.Sync)
				}
				PrintSuccess(out, fmt.Sprintf("Recorded haircut %s for profile %s", saved.ID, saved.ProfileID))
				return a.finish(cmd.Context(), out, opts.Sync)
			})
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "date of the haircut, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&r.Stylist, "stylist", "", "who cut it")
	cmd.Flags().StringVar(&r.Location, "location", "", "where")
	cmd.Flags().StringVar(&r.Notes, "notes", "", "free-form notes")
	cmd.Flags().StringVar(&price, "price", "", "price paid, e.g. 32.50")
	cmd.Flags().IntVar(&duration, "duration", 0, "duration in minutes")
	cmd.Flags().StringArrayVar(&images, "image", nil, "image URL, repeatable")
	return cmd
}

func newRecordsRmCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <profile-id> <record-id>",
		Aliases: []string{"delete"},
		Short:   "Delete a record",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				if err := a.records.Delete(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !opts.JSON {
					PrintSuccess(out, "Deleted record "+args[1])
				}
				return a.finish(cmd.Context(), out, opts.Sync)
			})
		},
	}
}
