// Package report writes the YAML summary of a classification run.
package report

import (
	"bytes"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/parcel-risk/internal/model"
	"github.com/sells-group/parcel-risk/internal/parcel"
)

// Report is the document written to the summary file.
type Report struct {
	RunID   string              `yaml:"run_id,omitempty"`
	Inputs  model.RunInputs     `yaml:"inputs"`
	Summary *model.Summary      `yaml:"summary"`
	Legend  map[string]string   `yaml:"legend"`
	Phases  []model.PhaseResult `yaml:"phases"`
}

// New assembles a report. The legend maps each code name to its map label.
func New(runID string, inputs model.RunInputs, summary *model.Summary, phases []model.PhaseResult) *Report {
	legend := make(map[string]string, len(parcel.Codes))
	for _, c := range parcel.Codes {
		legend[c.String()] = c.Label()
	}
	return &Report{
		RunID:   runID,
		Inputs:  inputs,
		Summary: summary,
		Legend:  legend,
		Phases:  phases,
	}
}

// Share is the fraction of parcels carrying code c.
func (r *Report) Share(c parcel.Code) float64 {
	if r.Summary == nil || r.Summary.Parcels == 0 {
		return 0
	}
	return float64(r.Summary.Codes[c.String()]) / float64(r.Summary.Parcels)
}

// Marshal encodes the report as YAML with two-space indentation.
func (r *Report) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return nil, eris.Wrap(err, "report: encode")
	}
	if err := enc.Close(); err != nil {
		return nil, eris.Wrap(err, "report: encode")
	}
	return buf.Bytes(), nil
}

// Write saves the report to path.
func Write(path string, r *Report) error {
	b, err := r.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return eris.Wrapf(err, "report: write %s", path)
	}
	return nil
}

// Read loads a report written by Write.
func Read(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "report: read %s", path)
	}
	var r Report
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrap(err, "report: parse")
	}
	return &r, nil
}
