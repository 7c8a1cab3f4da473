package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cbgabler/ehr-module-simulator/internal/scenario"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/auth"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/log"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/types"
	"github.com/cbgabler/ehr-module-simulator/internal/simulation"
	"github.com/cbgabler/ehr-module-simulator/internal/storage"
)

// demoUsers are created by seed so a fresh install can start sessions
var demoUsers = []simulation.User{
	{DisplayName: "Demo Trainee", Role: auth.RoleTrainee},
	{DisplayName: "Demo Instructor", Role: auth.RoleInstructor},
	{DisplayName: "Administrator", Role: auth.RoleAdmin},
}

func newSeedCmd() *cobra.Command {
	var (
		dir      string
		tokenTTL time.Duration
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load scenarios and demo users into the storage backend",
		Long: "seed stores the bundled example scenarios, or every .yaml, .yml and .json file in --dir, " +
			"and creates one demo user per role. Running it again updates the same records.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var scenarios []simulation.Scenario
			if dir != "" {
				scenarios, err = scenario.LoadDir(dir)
			} else {
				scenarios, err = scenario.Examples()
			}
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			backend, err := storage.Open(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open %s storage: %w", cfg.Storage.Driver, err)
			}
			defer backend.Close()

			logger := log.WithComponent("seed")
			out := cmd.OutOrStdout()

			fmt.Fprintln(out, "Scenarios:")
			for _, sc := range scenarios {
				id, err := backend.CreateScenario(ctx, sc)
				if err != nil {
					return fmt.Errorf("seed scenario %q: %w", sc.Name, err)
				}
				logger.Debug().Str("scenario_id", id.String()).Str("name", sc.Name).Msg("seeded scenario")
				fmt.Fprintf(out, "  %s  %s\n", id, sc.Name)
			}

			fmt.Fprintln(out, "Users:")
			for _, u := range demoUsers {
				u.ID = types.NewDeterministicID("user", u.DisplayName)
				id, err := backend.CreateUser(ctx, u)
				if err != nil {
					return fmt.Errorf("seed user %q: %w", u.DisplayName, err)
				}
				token, err := auth.IssueToken(cfg.Auth, auth.User{
					ID:       id,
					Username: u.DisplayName,
					Roles:    []string{u.Role},
				}, tokenTTL)
				if err != nil {
					return fmt.Errorf("issue token for %q: %w", u.DisplayName, err)
				}
				fmt.Fprintf(out, "  %s  %-16s %-10s %s\n", id, u.DisplayName, u.Role, token)
			}

			logger.Info().
				Int("scenarios", len(scenarios)).
				Int("users", len(demoUsers)).
				Str("driver", cfg.Storage.Driver).
				Msg("seed complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "directory of scenario files to load instead of the bundled examples")
	cmd.Flags().DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of the printed development tokens")
	return cmd
}
