package main

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "ocr-worker",
	Short: "OCR job worker backed by Tesseract",
	Long: `ocr-worker recognizes text in images and detects their orientation and
script.

Jobs arrive on a Redis queue and are processed one at a time:
  - the engine is initialized by the first job
  - language data is downloaded once and cached
  - progress and the final result are published per job`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "YAML config file (default: environment only)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "json", "output format: json or yaml",
	)

	rootCmd.AddCommand(serveCmd, submitCmd, recognizeCmd, detectCmd)
}
