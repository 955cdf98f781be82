package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/form-detector/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:     "form-detector",
	Short:   "Classify PDFs as fillable forms or read-only documents",
	Long:    "Downloads PDFs from a list of URLs, asks a hosted model whether each one is an interactive fillable form, and exports the results to a spreadsheet.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
