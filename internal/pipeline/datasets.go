package pipeline

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/parcel-risk/internal/layer"
)

// Datasets are the paths of the eight input files.
type Datasets struct {
	Lots              string
	Zoning            string
	HistoricState     string
	HistoricNational  string
	HistoricRegister  string
	HistoricLocal     string
	HistoricLandmarks string
	Buildings         string
}

// Map returns the datasets keyed by name, for run records.
func (d Datasets) Map() map[string]string {
	return map[string]string{
		"lots":               d.Lots,
		"zoning":             d.Zoning,
		"historic_state":     d.HistoricState,
		"historic_national":  d.HistoricNational,
		"historic_register":  d.HistoricRegister,
		"historic_local":     d.HistoricLocal,
		"historic_landmarks": d.HistoricLandmarks,
		"buildings":          d.Buildings,
	}
}

// Specs describes how each dataset is read: the attribute renames the
// stages rely on and the attributes that must be present afterwards.
func (d Datasets) Specs() []layer.Spec {
	return []layer.Spec{
		{
			Name:     "lots",
			Path:     d.Lots,
			Renames:  map[string]string{"objectid": "lot_id"},
			Required: []string{"lot_id", "street", "st_type", "from_st", "to_st", "resunits"},
		},
		{
			Name:     "zoning",
			Path:     d.Zoning,
			Renames:  map[string]string{"objectid": "zone_id"},
			Required: []string{"zone_id", "gen"},
		},
		{
			Name:     "historic_state",
			Path:     d.HistoricState,
			Required: []string{"name"},
		},
		{
			Name:     "historic_national",
			Path:     d.HistoricNational,
			Renames:  map[string]string{"name": "fed_name"},
			Required: []string{"fed_name"},
		},
		{
			Name:     "historic_register",
			Path:     d.HistoricRegister,
			Required: []string{"highstnum", "stname", "sttype", "lowstnum", "ceqacode"},
		},
		{
			Name:     "historic_local",
			Path:     d.HistoricLocal,
			Renames:  map[string]string{"district": "local_name"},
			Required: []string{"local_name"},
		},
		{
			Name:     "historic_landmarks",
			Path:     d.HistoricLandmarks,
			Renames:  map[string]string{"name": "localb_name"},
			Required: []string{"localb_name"},
		},
		{
			Name:     "buildings",
			Path:     d.Buildings,
			Required: []string{"hgt_mediancm"},
		},
	}
}

// Inputs are the loaded datasets, ready for the stages.
type Inputs struct {
	Lots      *layer.Layer
	Zoning    *layer.Layer
	Historic  HistoricSources
	Buildings *layer.Layer
}

// Layers returns every loaded layer in Specs order.
func (in *Inputs) Layers() []*layer.Layer {
	return []*layer.Layer{
		in.Lots,
		in.Zoning,
		in.Historic.State,
		in.Historic.Federal,
		in.Historic.Register,
		in.Historic.Local,
		in.Historic.Landmarks,
		in.Buildings,
	}
}

// Load reads and validates all eight datasets concurrently.
func Load(ctx context.Context, d Datasets) (*Inputs, error) {
	layers, err := layer.LoadAll(ctx, d.Specs())
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load datasets")
	}
	return &Inputs{
		Lots:   layers[0],
		Zoning: layers[1],
		Historic: HistoricSources{
			State:     layers[2],
			Federal:   layers[3],
			Register:  layers[4],
			Local:     layers[5],
			Landmarks: layers[6],
		},
		Buildings: layers[7],
	}, nil
}
