package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/resistance-prophet-server/internal/config"
	"github.com/resistance-prophet-server/internal/domain"
	"github.com/resistance-prophet-server/internal/logging"
)

// Version is stamped at build time with -ldflags "-X main.Version=...".
var Version = "dev"

var configFile string

var rootCmd = &cobra.Command{
	Use:   "prophet",
	Short: "Resistance Prophet - early warning for treatment resistance",
	Long: `Resistance Prophet fuses CA-125 kinetics, DNA-repair restoration and
pathway escape into a HIGH/MEDIUM/LOW resistance risk per patient.

Run "prophet serve" to start the HTTP API.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./config.yaml)")
	rootCmd.AddCommand(serveCmd, migrateCmd, assessCmd, tokenCmd, profilesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads and validates configuration. One-shot commands log to
// stderr so their stdout stays machine readable.
func loadConfig(logToStderr bool) (*domain.Config, *logrus.Logger, error) {
	manager, err := config.NewManagerFromFile(configFile)
	if err != nil {
		return nil, nil, err
	}
	if err := manager.Validate(); err != nil {
		return nil, nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cfg := manager.GetConfig()
	if logToStderr {
		cfg.Logging.Output = "stderr"
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
