// Command jara runs the Jara rewards gateway.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jara-app/rewards-gateway/internal/config"
	"github.com/jara-app/rewards-gateway/pkg/logger"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:           "jara",
		Short:         "Jara rewards gateway",
		Long:          "Hosts per-device XP, coin, mission and engagement state for the Jara web app.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ./config.yaml)")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

// loadConfig reads .env, then the config file and environment, and sets up
// the global logger.
func loadConfig() (*config.Config, *logger.Logger, error) {
	envLoaded := godotenv.Load() == nil

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	log := logger.Get()
	log.Debug().Bool("dotenv", envLoaded).Str("environment", cfg.Server.Environment).Msg("Configuration loaded")
	return cfg, log, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
