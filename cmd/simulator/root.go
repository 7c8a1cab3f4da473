package main

import (
	"github.com/spf13/cobra"

	"github.com/cbgabler/ehr-module-simulator/internal/shared/config"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/log"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "simulator",
		Short:        "EHR patient simulation server",
		Long:         "simulator runs training sessions in which trainees titrate medications while the patient's vitals evolve tick by tick.",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newSeedCmd(),
	)
	return rootCmd
}

// loadConfig reads the environment and configures the base logger
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log.Configure(log.Config{Level: cfg.Log.Level, Service: cfg.Log.Service})
	return cfg, nil
}
