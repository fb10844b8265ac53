package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/support934/smartgecode-saas/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "smartgeocode",
	Short: "Rate-limited batch geocoding service",
	Long:  "Accepts address spreadsheets, resolves each row through a query waterfall against Nominatim under monthly quotas, and serves the results as CSV or GeoJSON.",
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
