package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// newRootCmd builds the command tree. Each call returns fresh flag state.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "emsbridge",
		Short: "EMS heating bus bridge for Gray Logic",
		Long: `emsbridge connects an EMS heating bus to the Gray Logic MQTT bus.

The service configuration is read from --config, or the GRAYLOGIC_CONFIG
environment variable when the flag is not given. It references the bridge
configuration (gateway, devices, polling) through protocols.ems.config_file.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Service configuration file")

	resolve := func() string {
		if configPath != "" {
			return configPath
		}
		return getConfigPath()
	}

	root.AddCommand(
		newRunCmd(resolve),
		newDecodeCmd(),
		newProfilesCmd(),
		newTypesCmd(resolve),
		newMonitorCmd(),
	)
	return root
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
