package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	apperrors "github.com/kimhsiao/cutlog/internal/errors"
	"github.com/kimhsiao/cutlog/internal/models"
)

// NewProfilesCommand creates the profiles command group.
func NewProfilesCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "profiles",
		Aliases: []string{"profile", "p"},
		Short:   "Manage tracked profiles",
	}
	cmd.AddCommand(newProfilesListCommand(opts))
	cmd.AddCommand(newProfilesAddCommand(opts))
	cmd.AddCommand(newProfilesEditCommand(opts))
	cmd.AddCommand(newProfilesRmCommand(opts))
	return cmd
}

func newProfilesListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List profiles",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				ctx := cmd.Context()
				profiles, err := a.profiles.List(ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if opts.JSON {
					if err := outputJSON(out, profiles); err != nil {
						return err
					}
					return a.finish(ctx, cmd.ErrOrStderr(), opts.Sync)
				}

				if len(profiles) == 0 {
					PrintEmptyState(out, "No profiles yet. Add one with: cutlog profiles add <name>")
					return a.finish(ctx, out, opts.Sync)
				}
				PrintSection(out, "Profiles")
				rows := make([][]string, 0, len(profiles))
				for _, p := range profiles {
					rows = append(rows, []string{
						p.ID,
						p.Name,
						strconv.Itoa(p.RecordCount),
						formatUnix(p.UpdatedAt),
						statusLabel(p.SyncStatus),
					})
				}
				PrintTable(out, []string{"ID", "Name", "Records", "Updated", "Status"}, rows)
				return a.finish(ctx, out, opts.Sync)
			})
		},
	}
}

// profileFlags are the editable profile fields.
type profileFlags struct {
	name         string
	description  string
	measurements []string
	images       []string
}

func (f *profileFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.description, "description", "d", "", "free-form description")
	cmd.Flags().StringArrayVarP(&f.measurements, "measure", "m", nil, `haircut step as "area=size[:technique]", repeatable, in order`)
	cmd.Flags().StringArrayVar(&f.images, "image", nil, "image URL, repeatable")
}

// apply copies the flags that were set onto p.
func (f *profileFlags) apply(cmd *cobra.Command, p *models.Profile) error {
	if f.name != "" {
		p.Name = f.name
	}
	if cmd.Flags().Changed("description") {
		p.Description = f.description
	}
	if cmd.Flags().Changed("measure") {
		measurements, err := parseMeasurements(f.measurements)
		if err != nil {
			return err
		}
		p.Measurements = measurements
	}
	if cmd.Flags().Changed("image") {
		p.ImageURLs = f.images
	}
	return nil
}

// parseMeasurements parses "area=size[:technique]" steps; order is kept.
func parseMeasurements(specs []string) ([]models.Measurement, error) {
	out := make([]models.Measurement, 0, len(specs))
	for i, spec := range specs {
		area, rest, ok := strings.Cut(spec, "=")
		area = strings.TrimSpace(area)
		if !ok || area == "" {
			return nil, apperrors.Newf(apperrors.ErrInvalid, "measurement %q: want area=size[:technique]", spec)
		}
		size, technique, _ := strings.Cut(rest, ":")
		out = append(out, models.Measurement{
			Area:      area,
			Size:      strings.TrimSpace(size),
			Technique: strings.TrimSpace(technique),
			StepOrder: i + 1,
		})
	}
	return out, nil
}

func newProfilesAddCommand(opts *RootOptions) *cobra.Command {
	flags := &profileFlags{}
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a profile",
		Example: `  cutlog profiles add Alex -m "sides=2 inch:clipper" -m "top=4 inch:scissors"
  cutlog profiles add "Sam" --description "keeps a fringe" --sync`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.name = args[0]
			p := &models.Profile{}
			if err := flags.apply(cmd, p); err != nil {
				return err
			}
			return withApp(opts, func(a *app) error {
				saved, err := a.profiles.Save(cmd.Context(), p)
				if err != nil {
					return err
				}
				return reportProfile(cmd, opts, a, saved, "Added")
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newProfilesEditCommand(opts *RootOptions) *cobra.Command {
	flags := &profileFlags{}
	cmd := &cobra.Command{
		Use:   "edit <profile-id>",
		Short: "Change a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				ctx := cmd.Context()
				p, err := a.profiles.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if err := flags.apply(cmd, p); err != nil {
					return err
				}
				saved, err := a.profiles.Save(ctx, p)
				if err != nil {
					return err
				}
				return reportProfile(cmd, opts, a, saved, "Updated")
			})
		},
	}
	cmd.Flags().StringVarP(&flags.name, "name", "n", "", "new name")
	flags.register(cmd)
	return cmd
}

func reportProfile(cmd *cobra.Command, opts *RootOptions, a *app, p *models.Profile, verb string) error {
	out := cmd.OutOrStdout()
	if opts.JSON {
		if err := outputJSON(out, p); err != nil {
			return err
		}
		return a.finish(cmd.Context(), cmd.ErrOrStderr(), opts.Sync)
	}
	PrintSuccess(out, fmt.Sprintf("%s profile %q (%s)", verb, p.Name, p.ID))
	return a.finish(cmd.Context(), out, opts.Sync)
}

func newProfilesRmCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <profile-id>",
		Aliases: []string{"delete"},
		Short:   "Delete a profile and its records",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				if err := a.profiles.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !opts.JSON {
					PrintSuccess(out, "Deleted profile "+args[0])
				}
				return a.finish(cmd.Context(), out, opts.Sync)
			})
		},
	}
}
