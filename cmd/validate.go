package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/parcel-risk/internal/layer"
	"github.com/sells-group/parcel-risk/internal/pipeline"
)

var validateStrict bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load every dataset and check its schema without classifying",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("validate"); err != nil {
			return err
		}

		in, err := pipeline.Load(cmd.Context(), datasets(cfg))
		if err != nil {
			return err
		}
		formatLayers(os.Stdout, in.Layers())
		if validateStrict {
			return requireGeometry(in.Layers())
		}
		return nil
	},
}

// requireGeometry fails on the first dataset holding features that no
// spatial join can match.
func requireGeometry(layers []*layer.Layer) error {
	for _, l := range layers {
		if l == nil {
			continue
		}
		if err := layer.RequireGeometry(l); err != nil {
			return err
		}
	}
	return nil
}

// formatLayers writes one line per loaded dataset.
func formatLayers(out io.Writer, layers []*layer.Layer) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DATASET\tFEATURES\tNO GEOMETRY\tFIELDS\tPATH")
	for _, l := range layers {
		if l == nil {
			continue
		}
		empty := l.Filter(func(f layer.Feature) bool { return f.Shape == nil })
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", l.Name, l.Len(), empty.Len(), len(l.Fields()), l.Path)
	}
	_ = w.Flush()
}

func init() {
	validateCmd.Flags().BoolVar(&validateStrict, "strict", false, "fail when a dataset has features without geometry")
	rootCmd.AddCommand(validateCmd)
}
