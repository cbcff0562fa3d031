package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/parcel-risk/internal/layer/layertest"
	"github.com/sells-group/parcel-risk/internal/model"
	"github.com/sells-group/parcel-risk/internal/monitoring"
	"github.com/sells-group/parcel-risk/internal/parcel"
	"github.com/sells-group/parcel-risk/internal/store"
	"github.com/sells-group/parcel-risk/internal/store/mocks"
)

// scenarioInputs: a vacant residential lot, a register-listed mixed use
// lot, three lots on one block face of which C is 15 ft taller than its
// neighbors, and a lot outside every zoning district.
func scenarioInputs(t *testing.T) *Inputs {
	t.Helper()
	src := emptySources()
	src.Register = register(t)
	return &Inputs{
		Lots: lotsLayer(t,
			lot{id: "vacant", rect: [4]float64{1, 1, 1, 1}, resunits: "0"},
			lot{id: "ceqa", rect: [4]float64{21, 1, 1, 1}, street: "MARKET", stType: "ST", from: "100", to: "120", resunits: "5"},
			lot{id: "A", rect: [4]float64{0, 4, 2, 2}, street: "MARKET", stType: "ST", from: "1200", resunits: "3"},
			lot{id: "B", rect: [4]float64{3, 4, 2, 2}, street: "MARKET", stType: "ST", from: "1210", resunits: "3"},
			lot{id: "C", rect: [4]float64{6, 4, 2, 2}, street: "MARKET", stType: "ST", from: "1220", resunits: "3"},
			lot{id: "outside", rect: [4]float64{50, 50, 1, 1}, resunits: "3"},
		),
		Zoning:   zoningLayer(t),
		Historic: src,
		Buildings: buildingsLayer(t, map[[4]float64]any{
			{0.5, 4.5, 1, 1}: float64(1000),
			{3.5, 4.5, 1, 1}: float64(1000),
			{6.5, 4.5, 1, 1}: float64(1460),
		}),
	}
}

type recordingSink struct {
	name  string
	err   error
	got   *parcel.Table
	calls int
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Write(_ context.Context, t *parcel.Table) error {
	s.calls++
	s.got = t
	return s.err
}

func phaseNames(phases []model.PhaseResult) []string {
	names := make([]string, len(phases))
	for i, p := range phases {
		names[i] = p.Name
	}
	return names
}

func TestPipeline_Scenario(t *testing.T) {
	sink := &recordingSink{name: "map"}
	p := New(DefaultOptions(), nil, nil, sink)

	res, err := p.RunInputs(context.Background(), scenarioInputs(t))
	require.NoError(t, err)
	got := byLot(res.Table)

	assert.Equal(t, parcel.CodeZonedVacant, got["vacant"].Residential)
	assert.Equal(t, parcel.CodeProtected, got["ceqa"].Residential)
	assert.Equal(t, parcel.CodeHousing, got["A"].Residential)
	assert.Equal(t, parcel.CodeHousing, got["B"].Residential)
	assert.Equal(t, parcel.CodeProtected, got["C"].Residential)
	assert.NotContains(t, got, "outside")

	s := res.Summary
	require.NotNil(t, s)
	assert.Equal(t, 5, s.Parcels)
	assert.Equal(t, 5, s.Rows)
	assert.Equal(t, 1, s.DroppedLots)
	assert.Equal(t, map[string]int{
		"not_residential": 0,
		"zoned_vacant":    1,
		"housing":         2,
		"protected":       2,
	}, s.Codes)
	assert.Equal(t, model.Escalations{Historic: 1, Character: 1}, s.Escalations)
	assert.Equal(t, 6, s.StageRows["lots"])
	assert.InDelta(t, DefaultThresholdFt, s.ThresholdFt, 1e-9)

	assert.Equal(t, []string{"0_load", "1_zoning", "2_historic", "3_character", "5_map"}, phaseNames(res.Phases))
	for _, ph := range res.Phases {
		assert.Equal(t, model.PhaseStatusComplete, ph.Status, ph.Name)
	}
	assert.Equal(t, 1, sink.calls)
	assert.Same(t, res.Table, sink.got)
	assert.Empty(t, res.RunID)
}

func TestPipeline_PartitionCoversEveryLot(t *testing.T) {
	res, err := New(DefaultOptions(), nil, nil).RunInputs(context.Background(), scenarioInputs(t))
	require.NoError(t, err)

	parts, err := res.Table.Partition()
	require.NoError(t, err)

	seen := map[string]int{}
	for _, part := range parts {
		for _, r := range part {
			seen[r.LotID]++
		}
	}
	assert.Len(t, seen, res.Table.DistinctLots())
	for lot, n := range seen {
		assert.Equal(t, 1, n, lot)
	}
}

func TestPipeline_IncludeLandmarksRecorded(t *testing.T) {
	opts := DefaultOptions()
	opts.IncludeLandmarks = true
	opts.ThresholdFt = 20

	in := scenarioInputs(t)
	in.Historic.Landmarks = polyLayer(t, "historic_landmarks", "localb_name",
		map[string][4]float64{"B1": {3, 4, 2, 2}}, "B1")

	res, err := New(opts, nil, nil).RunInputs(context.Background(), in)
	require.NoError(t, err)

	got := byLot(res.Table)
	assert.Equal(t, parcel.CodeProtected, got["B"].Residential)
	// 15 ft is under a 20 ft threshold.
	assert.Equal(t, parcel.CodeHousing, got["C"].Residential)
	assert.True(t, res.Summary.Landmarks)
}

func TestPipeline_WithMockStore(t *testing.T) {
	ctx := context.Background()
	st := mocks.NewMockStore(t)

	st.On("CreateRun", ctx, mock.MatchedBy(func(in model.RunInputs) bool {
		return in.ThresholdFt == DefaultThresholdFt && in.Output == "map.png"
	})).Return(&model.Run{ID: "run-1"}, nil)
	st.On("CreatePhase", ctx, "run-1", mock.AnythingOfType("string")).
		Return(&model.RunPhase{ID: "phase-1"}, nil).Times(5)
	st.On("CompletePhase", ctx, "phase-1", mock.AnythingOfType("*model.PhaseResult")).
		Return(nil).Times(5)
	st.On("SaveParcels", ctx, "run-1", mock.AnythingOfType("*parcel.Table")).Return(int64(5), nil)
	st.On("CompleteRun", ctx, "run-1", mock.MatchedBy(func(r *model.RunResult) bool {
		return r.Summary != nil && r.Summary.Parcels == 5 && len(r.Phases) == 5
	})).Return(nil)

	opts := DefaultOptions()
	opts.Output = "map.png"
	m := monitoring.New()

	res, err := New(opts, st, m).RunInputs(ctx, scenarioInputs(t))
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, "4_persist", res.Phases[4].Name)
	assert.Equal(t, 5, res.Phases[4].Rows)

	assert.InDelta(t, 1, testutil.ToFloat64(m.Runs.WithLabelValues("complete")), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Parcels.WithLabelValues("protected")), 1e-9)
}

func TestPipeline_CreateRunError(t *testing.T) {
	ctx := context.Background()
	st := mocks.NewMockStore(t)
	st.On("CreateRun", ctx, mock.Anything).Return(nil, errors.New("db down"))

	_, err := New(DefaultOptions(), st, nil).RunInputs(ctx, scenarioInputs(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: create run")
}

func TestPipeline_PhaseBookkeepingErrorsAreNotFatal(t *testing.T) {
	ctx := context.Background()
	st := mocks.NewMockStore(t)
	st.On("CreateRun", ctx, mock.Anything).Return(&model.Run{ID: "run-1"}, nil)
	st.On("CreatePhase", ctx, "run-1", mock.Anything).Return(nil, errors.New("phase table locked"))
	st.On("SaveParcels", ctx, "run-1", mock.Anything).Return(int64(5), nil)
	st.On("CompleteRun", ctx, "run-1", mock.Anything).Return(errors.New("write failed"))

	res, err := New(DefaultOptions(), st, nil).RunInputs(ctx, scenarioInputs(t))
	require.NoError(t, err)
	assert.Len(t, res.Phases, 5)
	st.AssertNotCalled(t, "CompletePhase", mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_PersistFailureFailsRun(t *testing.T) {
	ctx := context.Background()
	st := mocks.NewMockStore(t)
	st.On("CreateRun", ctx, mock.Anything).Return(&model.Run{ID: "run-1"}, nil)
	st.On("CreatePhase", ctx, "run-1", mock.Anything).Return(&model.RunPhase{ID: "p"}, nil)
	st.On("CompletePhase", ctx, "p", mock.Anything).Return(nil)
	st.On("SaveParcels", ctx, "run-1", mock.Anything).Return(int64(0), errors.New("disk full"))
	st.On("FailRun", mock.Anything, "run-1", mock.MatchedBy(func(r *model.RunResult) bool {
		last := r.Phases[len(r.Phases)-1]
		return r.Summary == nil && strings.Contains(r.Error, "disk full") &&
			last.Name == "4_persist" && last.Status == model.PhaseStatusFailed
	})).Return(nil)

	m := monitoring.New()
	res, err := New(DefaultOptions(), st, m).RunInputs(ctx, scenarioInputs(t))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Runs.WithLabelValues("failed")), 1e-9)
}

func TestPipeline_SinkFailureStopsLaterSinks(t *testing.T) {
	bad := &recordingSink{name: "geojson", err: errors.New("permission denied")}
	after := &recordingSink{name: "xlsx"}

	_, err := New(DefaultOptions(), nil, nil, bad, after).RunInputs(context.Background(), scenarioInputs(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.Equal(t, 1, bad.calls)
	assert.Zero(t, after.calls)
}

func TestPipeline_StageErrorFailsRun(t *testing.T) {
	in := scenarioInputs(t)
	in.Lots = layertest.New("lots",
		layertest.Feature(t, layertest.Rect(1, 1, 1, 1), map[string]any{"resunits": "0"}),
	)

	ctx := context.Background()
	st := mocks.NewMockStore(t)
	st.On("CreateRun", ctx, mock.Anything).Return(&model.Run{ID: "run-1"}, nil)
	st.On("CreatePhase", ctx, "run-1", mock.Anything).Return(&model.RunPhase{ID: "p"}, nil)
	st.On("CompletePhase", ctx, "p", mock.Anything).Return(nil)
	st.On("FailRun", mock.Anything, "run-1", mock.Anything).Return(nil)

	_, err := New(DefaultOptions(), st, nil).RunInputs(ctx, in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no lot_id")
	st.AssertNotCalled(t, "SaveParcels", mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(DefaultOptions(), nil, nil).RunInputs(ctx, scenarioInputs(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipeline_SQLiteStore(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))

	res, err := New(DefaultOptions(), st, nil).RunInputs(ctx, scenarioInputs(t))
	require.NoError(t, err)

	run, err := st.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	require.NotNil(t, run.Result)
	assert.Equal(t, res.Summary.Codes, run.Result.Summary.Codes)

	codes, err := st.ParcelCodes(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, res.Summary.Codes, codes)
}

func writeLayer(t *testing.T, dir, name string, feats ...string) string {
	t.Helper()
	path := filepath.Join(dir, name+".geojson")
	body := `{"type":"FeatureCollection","features":[` + strings.Join(feats, ",") + `]}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func square(x, y, size float64, props string) string {
	return fmt.Sprintf(`{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[%g,%g],[%g,%g],[%g,%g],[%g,%g],[%g,%g]]]},"properties":%s}`,
		x, y, x+size, y, x+size, y+size, x, y+size, x, y, props)
}

func testDatasets(t *testing.T) Datasets {
	t.Helper()
	dir := t.TempDir()
	return Datasets{
		Lots: writeLayer(t, dir, "lots",
			square(1, 1, 1, `{"objectid":1,"street":"MARKET","st_type":"ST","from_st":"100","to_st":"120","resunits":"4"}`),
			square(4, 1, 1, `{"objectid":2,"street":"MARKET","st_type":"ST","from_st":"130","to_st":"140","resunits":"0"}`),
		),
		Zoning: writeLayer(t, dir, "zoning",
			square(0, 0, 10, `{"objectid":10,"gen":"Residential"}`),
		),
		HistoricState:    writeLayer(t, dir, "state", square(0, 0, 3, `{"name":"S"}`)),
		HistoricNational: writeLayer(t, dir, "national", square(0, 0, 3, `{"name":"F"}`)),
		HistoricRegister: writeLayer(t, dir, "register",
			`{"type":"Feature","geometry":null,"properties":{"highstnum":"1","stname":"X","sttype":"ST","lowstnum":"1","ceqacode":"B"}}`),
		HistoricLocal:     writeLayer(t, dir, "local", square(80, 80, 1, `{"district":"L"}`)),
		HistoricLandmarks: writeLayer(t, dir, "landmarks", square(80, 80, 1, `{"name":"B"}`)),
		Buildings:         writeLayer(t, dir, "buildings", square(1.2, 1.2, 0.5, `{"hgt_mediancm":900}`)),
	}
}

func TestPipeline_RunFromFiles(t *testing.T) {
	res, err := New(DefaultOptions(), nil, nil).Run(context.Background(), testDatasets(t))
	require.NoError(t, err)

	got := byLot(res.Table)
	require.Len(t, got, 2)
	assert.Equal(t, parcel.CodeProtected, got["1"].Residential)
	assert.Equal(t, "10", got["1"].ZoneID)
	assert.Equal(t, strPtr("F"), got["1"].FedName)
	assert.Equal(t, parcel.CodeZonedVacant, got["2"].Residential)
	assert.Equal(t, 2, res.Phases[0].Rows)
}

func TestPipeline_RunMissingDataset(t *testing.T) {
	d := testDatasets(t)
	d.Buildings = filepath.Join(t.TempDir(), "missing.geojson")

	ctx := context.Background()
	st := mocks.NewMockStore(t)
	st.On("CreateRun", ctx, mock.MatchedBy(func(in model.RunInputs) bool {
		return in.Datasets["buildings"] == d.Buildings
	})).Return(&model.Run{ID: "run-1"}, nil)
	st.On("CreatePhase", ctx, "run-1", "0_load").Return(&model.RunPhase{ID: "p"}, nil)
	st.On("CompletePhase", ctx, "p", mock.MatchedBy(func(r *model.PhaseResult) bool {
		return r.Status == model.PhaseStatusFailed
	})).Return(nil)
	st.On("FailRun", mock.Anything, "run-1", mock.Anything).Return(nil)

	_, err := New(DefaultOptions(), st, nil).Run(ctx, d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: load datasets")
}

func TestCheckMonotonic(t *testing.T) {
	prev := parcel.NewTable([]parcel.Parcel{
		{LotID: "1", Residential: parcel.CodeHousing, HasResidential: 2},
	})

	require.NoError(t, checkMonotonic("x", prev, parcel.NewTable([]parcel.Parcel{
		{LotID: "1", Residential: parcel.CodeProtected, HasResidential: 2},
	})))

	err := checkMonotonic("x", prev, parcel.NewTable([]parcel.Parcel{
		{LotID: "1", Residential: parcel.CodeZonedVacant},
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decreased")

	err = checkMonotonic("x", prev, parcel.NewTable([]parcel.Parcel{{LotID: "2"}}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in the previous stage")
}

func TestCheckCodes(t *testing.T) {
	require.NoError(t, checkCodes("x", parcel.NewTable([]parcel.Parcel{
		{LotID: "1", Residential: parcel.CodeProtected, HasResidential: 2},
	})))

	err := checkCodes("x", parcel.NewTable([]parcel.Parcel{{LotID: "1", Residential: parcel.CodeProtected}}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "protected without housing")

	err = checkCodes("x", parcel.NewTable([]parcel.Parcel{{LotID: "1", Residential: 7}}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "residential code 7")
}
