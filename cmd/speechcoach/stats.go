package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/speechcoach/internal/app"
	"github.com/MrWong99/speechcoach/internal/progress"
	"github.com/MrWong99/speechcoach/internal/report"
	"github.com/MrWong99/speechcoach/pkg/culture"
)

func newStatsCmd(root *rootOptions) *cobra.Command {
	var profile string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show practice progress for a profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("profile") {
				cfg.Practice.Profile = profile
			}
			if !progress.ValidProfile(cfg.Practice.Profile) {
				return fmt.Errorf("invalid profile name %q", cfg.Practice.Profile)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			repo, closeRepo, err := app.OpenRepository(ctx, cfg.Storage)
			if err != nil {
				return err
			}
			defer closeRepo()

			stats, err := progress.NewStore(repo).Load(ctx, cfg.Practice.Profile)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), report.Stats(stats))
			return nil
		},
	}
	cmd.Flags().StringVarP(&profile, "profile", "p", "", "profile to show")
	return cmd
}

func newCulturesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cultures",
		Short: "List the audience cultures feedback can be tailored to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprint(cmd.OutOrStdout(), report.Cultures(culture.All()))
			return nil
		},
	}
}
