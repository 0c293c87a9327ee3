package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Michdriod/RCA-AI/internal/app"
	"github.com/Michdriod/RCA-AI/internal/logging"
	"github.com/Michdriod/RCA-AI/internal/report"
)

var reportFlags struct {
	format string
	output string
}

var reportCmd = &cobra.Command{
	Use:   "report <session-id>",
	Short: "Export a stored session as md, html, xlsx, yaml or json",
	Long: `Loads a session from the configured store and writes a report.
Sessions only outlive the process with the redis or sql backends.`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVarP(&reportFlags.format, "format", "f", "md", "report format: md, html, xlsx, yaml or json")
	reportCmd.Flags().StringVarP(&reportFlags.output, "output", "o", "", "output file (default stdout)")
}

func runReport(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(reportFlags.format)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	a, err := app.New(cmd.Context(), cfg, logging.New("engine"))
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.Engine.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if reportFlags.output != "" {
		f, err := os.Create(reportFlags.output)
		if err != nil {
			return fmt.Errorf("create report file: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := report.Write(w, s, format); err != nil {
		return err
	}
	if reportFlags.output != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Report: %s\n", reportFlags.output)
	}
	return nil
}
