package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/parcel-risk/internal/config"
	"github.com/sells-group/parcel-risk/internal/export"
	"github.com/sells-group/parcel-risk/internal/model"
	"github.com/sells-group/parcel-risk/internal/monitoring"
	"github.com/sells-group/parcel-risk/internal/parcel"
	"github.com/sells-group/parcel-risk/internal/pipeline"
	"github.com/sells-group/parcel-risk/internal/render"
	"github.com/sells-group/parcel-risk/internal/report"
)

var (
	runOut              string
	runThreshold        float64
	runIncludeLandmarks bool
	runGeoJSON          string
	runXLSX             string
	runCSV              string
	runSummary          string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Classify every lot and render the map",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyRunFlags(cmd, cfg)
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		sinks, err := runSinks()
		if err != nil {
			return err
		}

		metrics := monitoring.New()
		opts := pipeline.Options{
			ResidentialCategories: cfg.Zoning.ResidentialCategories,
			ThresholdFt:           cfg.Character.ThresholdFt,
			IncludeLandmarks:      cfg.Historic.IncludeLandmarks,
			Output:                runOut,
		}
		ds := datasets(cfg)

		result, runErr := pipeline.New(opts, st, metrics, sinks...).Run(ctx, ds)
		if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			zap.L().Warn("failed to write metrics textfile", zap.Error(err))
		}
		if runErr != nil {
			return eris.Wrap(runErr, "pipeline run")
		}

		inputs := model.RunInputs{
			Datasets:         ds.Map(),
			ThresholdFt:      opts.ThresholdFt,
			IncludeLandmarks: opts.IncludeLandmarks,
			Output:           runOut,
		}
		rep := report.New(result.RunID, inputs, result.Summary, result.Phases)
		if runSummary != "" {
			if err := report.Write(runSummary, rep); err != nil {
				return err
			}
		}

		printSummary(os.Stdout, rep)
		return nil
	},
}

// applyRunFlags lets explicitly set flags override the config file.
func applyRunFlags(cmd *cobra.Command, c *config.Config) {
	if cmd.Flags().Changed("threshold") {
		c.Character.ThresholdFt = runThreshold
	}
	if cmd.Flags().Changed("include-landmarks") {
		c.Historic.IncludeLandmarks = runIncludeLandmarks
	}
}

// runSinks builds the map renderer and one exporter per requested file.
func runSinks() ([]pipeline.Sink, error) {
	var sinks []pipeline.Sink
	if runOut != "" {
		sinks = append(sinks, &render.Map{
			Path: runOut,
			Options: render.Options{
				Title:   cfg.Render.Title,
				DPI:     cfg.Render.DPI,
				WidthIn: cfg.Render.WidthIn,
			},
		})
	}
	for _, path := range []string{runGeoJSON, runXLSX, runCSV} {
		if path == "" {
			continue
		}
		f, err := export.NewFile(path)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, f)
	}
	return sinks, nil
}

// printSummary writes the per-code parcel counts of a run.
func printSummary(out io.Writer, rep *report.Report) {
	s := rep.Summary
	p := message.NewPrinter(language.English)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if rep.RunID != "" {
		_, _ = p.Fprintf(w, "Run:\t%s\n", rep.RunID)
	}
	_, _ = p.Fprintf(w, "Parcels:\t%d\n", s.Parcels)
	for _, c := range parcel.Codes {
		_, _ = p.Fprintf(w, "  %d %s\t%d\t(%.1f%%)\n", int(c), c.Label(), s.Codes[c.String()], 100*rep.Share(c))
	}
	_, _ = p.Fprintf(w, "Escalated (historic):\t%d\n", s.Escalations.Historic)
	_, _ = p.Fprintf(w, "Escalated (character):\t%d\n", s.Escalations.Character)
	if s.DroppedLots > 0 {
		_, _ = p.Fprintf(w, "Lots outside zoning:\t%d\n", s.DroppedLots)
	}
	_, _ = fmt.Fprintf(w, "Elapsed:\t%dms\n", s.ElapsedMS)
	_ = w.Flush()
}

func init() {
	runCmd.Flags().StringVar(&runOut, "out", "parcels.png", "map image path; the extension picks the format (empty to skip)")
	runCmd.Flags().Float64Var(&runThreshold, "threshold", pipeline.DefaultThresholdFt, "height deviation in feet that counts as out of character")
	runCmd.Flags().BoolVar(&runIncludeLandmarks, "include-landmarks", false, "count local landmarks as historic")
	runCmd.Flags().StringVar(&runGeoJSON, "geojson", "", "also export the parcel table as GeoJSON")
	runCmd.Flags().StringVar(&runXLSX, "xlsx", "", "also export the parcel table as an XLSX workbook")
	runCmd.Flags().StringVar(&runCSV, "csv", "", "also export the parcel table as CSV")
	runCmd.Flags().StringVar(&runSummary, "summary", "", "write a YAML run report to this path")
	rootCmd.AddCommand(runCmd)
}
