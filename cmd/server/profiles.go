package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/resistance-prophet-server/internal/profile"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Export or import patient profiles as JSON",
}

var profilesExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write every stored profile to file, or stdout",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(true)
		if err != nil {
			return err
		}
		store, err := profile.New(cfg.Profile)
		if err != nil {
			return err
		}
		defer store.Close()

		out := cmd.OutOrStdout()
		if len(args) == 1 {
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		return profile.ExportJSON(cmd.Context(), store, out)
	},
}

var profilesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load profiles from an export; existing IDs are skipped",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(true)
		if err != nil {
			return err
		}
		store, err := profile.New(cfg.Profile)
		if err != nil {
			return err
		}
		defer store.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		imported, skipped, err := profile.ImportJSON(cmd.Context(), store, f)
		if err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"imported": imported,
			"skipped":  skipped,
		}).Info("Profiles imported")
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d, skipped %d\n", imported, skipped)
		return nil
	},
}

func init() {
	profilesCmd.AddCommand(profilesExportCmd, profilesImportCmd)
}
