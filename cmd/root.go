package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/parcel-risk/internal/config"
	"github.com/sells-group/parcel-risk/internal/pipeline"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "parcel-risk",
	Short: "Classify parcels by exposure to the demolition ordinance",
	Long:  "Joins lots with zoning, historic designations and building heights, assigns each lot a residential code from 0 to 3, and renders the result as a map.",
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
}

// datasets resolves the configured dataset files against the data dir.
func datasets(c *config.Config) pipeline.Datasets {
	d := c.Data
	return pipeline.Datasets{
		Lots:              d.Path(d.Lots),
		Zoning:            d.Path(d.Zoning),
		HistoricState:     d.Path(d.HistoricState),
		HistoricNational:  d.Path(d.HistoricNational),
		HistoricRegister:  d.Path(d.HistoricRegister),
		HistoricLocal:     d.Path(d.HistoricLocal),
		HistoricLandmarks: d.Path(d.HistoricLandmarks),
		Buildings:         d.Path(d.Buildings),
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
