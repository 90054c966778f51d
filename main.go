package main

import (
	"os"

	"github.com/spf13/cobra"
)

// isDevMode detects development runs from the environment
func isDevMode() bool {
	return os.Getenv("DEV_MODE") == "1"
}

func main() {
	var settingsPath string
	var devMode bool

	rootCmd := &cobra.Command{
		Use:          "gridmap",
		Short:        "Region map viewer with tile caching",
		SilenceUsage: true,
		Version:      AppVersion,
	}
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "", "settings file (default ~/.gridmap/settings/settings.json)")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", isDevMode(), "verbose logging and request logs")

	globals := func() AppOptions {
		return AppOptions{SettingsPath: settingsPath, DevMode: devMode}
	}

	rootCmd.AddCommand(snapshotCmd(globals))
	rootCmd.AddCommand(serveCmd(globals))
	rootCmd.AddCommand(settingsCmd(globals))
	rootCmd.AddCommand(cacheCmd(globals))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
