package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/resistance-prophet-server/internal/app"
	"github.com/resistance-prophet-server/internal/domain"
)

var assessFile string

var assessCmd = &cobra.Command{
	Use:   "assess",
	Short: "Assess one request document and print the result",
	Long: `Reads an assessment request (measurements, treatment start, baseline and
current tumor features) as JSON and prints the fused risk assessment.
Nothing is stored. Use --file - to read from stdin.`,
	RunE: runAssess,
}

func init() {
	assessCmd.Flags().StringVarP(&assessFile, "file", "f", "-", "request JSON file, - for stdin")
}

func runAssess(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(true)
	if err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	if assessFile != "-" {
		f, err := os.Open(assessFile)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	var req domain.AssessRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("decoding request: %w", err)
	}

	// history stays in memory; nothing here is persisted
	cfg.Database.Enabled = false
	a, err := app.New(cmd.Context(), cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Prophet.AssessRaw(cmd.Context(), req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
