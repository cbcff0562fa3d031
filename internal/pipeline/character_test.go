package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/parcel-risk/internal/layer/layertest"
	"github.com/sells-group/parcel-risk/internal/parcel"
)

func characterLots(t *testing.T, extra ...lot) *parcel.Table {
	t.Helper()
	lots := append([]lot{
		{id: "A", rect: [4]float64{0, 0, 2, 2}, street: "MARKET", stType: "ST", from: "1200", to: "1208", resunits: "3"},
		{id: "B", rect: [4]float64{3, 0, 2, 2}, street: "MARKET", stType: "ST", from: float64(1210), to: "1218", resunits: "0"},
		{id: "C", rect: [4]float64{6, 0, 2, 2}, street: "MARKET", stType: "ST", from: "1220", to: "1228", resunits: "3"},
		{id: "D", rect: [4]float64{8.5, 3, 1, 1}, street: "MARKET", stType: "ST", from: nil, resunits: "2"},
		{id: "E", rect: [4]float64{3, 5, 2, 2}, street: "MISSION", stType: "ST", from: "1230", resunits: "2"},
	}, extra...)
	zoned, _, err := ResolveZoning(lotsLayer(t, lots...), zoningLayer(t), DefaultResidentialCategories)
	require.NoError(t, err)
	return zoned
}

func characterBuildings(t *testing.T) map[[4]float64]any {
	t.Helper()
	return map[[4]float64]any{
		{0.5, 0.5, 1, 1}:     float64(1000),
		{3.5, 0.5, 1, 1}:     "1000",
		{6.5, 0.5, 1, 1}:     float64(1460),
		{8.7, 3.2, 0.5, 0.5}: float64(5000),
		{3.5, 5.5, 1, 1}:     float64(3000),
		{0.2, 1.6, 0.2, 0.2}: nil,
	}
}

func TestResolveCharacter_BlockDeviation(t *testing.T) {
	out, stats, err := ResolveCharacter(characterLots(t), buildingsLayer(t, characterBuildings(t)), DefaultThresholdFt)
	require.NoError(t, err)
	got := byLot(out)

	c := got["C"]
	require.NotNil(t, c.Height)
	require.NotNil(t, c.BlockHeight)
	assert.InDelta(t, 1460*cmToFeet, *c.Height, 1e-9)
	assert.InDelta(t, 1000*cmToFeet, *c.BlockHeight, 1e-9)
	assert.InDelta(t, 15.09, *c.Height-*c.BlockHeight, 0.01)
	assert.True(t, c.NeighborhoodCharacter)
	assert.Equal(t, parcel.CodeProtected, c.Residential)

	a := got["A"]
	assert.False(t, a.NeighborhoodCharacter)
	assert.Equal(t, parcel.CodeHousing, a.Residential)
	require.NotNil(t, a.Block)
	assert.Equal(t, 12, *a.Block)

	assert.Equal(t, 6, stats.Buildings)
	assert.Equal(t, 6, stats.Pairs)
	assert.Equal(t, 1, stats.Deviating)
	assert.Equal(t, 1, stats.Escalated)
}

func TestResolveCharacter_MissingBlockNeverDeviates(t *testing.T) {
	out, _, err := ResolveCharacter(characterLots(t), buildingsLayer(t, characterBuildings(t)), DefaultThresholdFt)
	require.NoError(t, err)

	d := byLot(out)["D"]
	assert.Nil(t, d.Block)
	require.NotNil(t, d.Height)
	assert.Nil(t, d.BlockHeight)
	assert.False(t, d.NeighborhoodCharacter)
	assert.Equal(t, parcel.CodeHousing, d.Residential)

	// E is alone on its block face so its median is its own height.
	e := byLot(out)["E"]
	require.NotNil(t, e.BlockHeight)
	assert.Equal(t, *e.Height, *e.BlockHeight)
	assert.False(t, e.NeighborhoodCharacter)
}

func TestResolveCharacter_DeviationWithoutHousingKeepsCode(t *testing.T) {
	buildings := characterBuildings(t)
	// Block median moves to C's 1460 cm; A and B now both deviate.
	buildings[[4]float64{3.5, 0.5, 1, 1}] = float64(4000)

	out, stats, err := ResolveCharacter(characterLots(t), buildingsLayer(t, buildings), DefaultThresholdFt)
	require.NoError(t, err)
	got := byLot(out)

	assert.True(t, got["B"].NeighborhoodCharacter)
	assert.Equal(t, parcel.CodeZonedVacant, got["B"].Residential)
	assert.True(t, got["A"].NeighborhoodCharacter)
	assert.Equal(t, parcel.CodeProtected, got["A"].Residential)
	assert.False(t, got["C"].NeighborhoodCharacter)
	assert.Equal(t, 2, stats.Deviating)
	assert.Equal(t, 1, stats.Escalated)
}

func TestResolveCharacter_Threshold(t *testing.T) {
	out, stats, err := ResolveCharacter(characterLots(t), buildingsLayer(t, characterBuildings(t)), 20)
	require.NoError(t, err)
	assert.False(t, byLot(out)["C"].NeighborhoodCharacter)
	assert.Zero(t, stats.Deviating)
}

func TestResolveCharacter_LotWithoutBuildings(t *testing.T) {
	empty := lot{id: "F", rect: [4]float64{1, 8, 1, 1}, street: "MARKET", stType: "ST", from: "1240", resunits: "1"}
	out, _, err := ResolveCharacter(characterLots(t, empty), buildingsLayer(t, characterBuildings(t)), DefaultThresholdFt)
	require.NoError(t, err)

	f := byLot(out)["F"]
	assert.Nil(t, f.Height)
	assert.NotNil(t, f.BlockHeight)
	assert.False(t, f.NeighborhoodCharacter)
}

func TestResolveCharacter_EmptyBuildings(t *testing.T) {
	in := characterLots(t)
	out, stats, err := ResolveCharacter(in, layertest.New("buildings"), DefaultThresholdFt)
	require.NoError(t, err)
	assert.Equal(t, in.Len(), out.Len())
	assert.Zero(t, stats.Pairs)
	assert.Equal(t, in.FirstCodes(), out.FirstCodes())
}

func TestResolveCharacter_BadFromSt(t *testing.T) {
	bad := lot{id: "G", rect: [4]float64{1, 8, 1, 1}, street: "MARKET", stType: "ST", from: "12A", resunits: "1"}
	_, _, err := ResolveCharacter(characterLots(t, bad), buildingsLayer(t, characterBuildings(t)), DefaultThresholdFt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lot G")
	assert.Contains(t, err.Error(), "parse from_st")
}

func TestResolveCharacter_BadHeight(t *testing.T) {
	buildings := map[[4]float64]any{{0.5, 0.5, 1, 1}: "tall"}
	_, _, err := ResolveCharacter(characterLots(t), buildingsLayer(t, buildings), DefaultThresholdFt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "buildings feature")
}

func TestBlockNumber(t *testing.T) {
	tests := []struct {
		in   string
		want *int
	}{
		{"", nil},
		{"1250", intPtr(12)},
		{"99", intPtr(0)},
		{"1250.7", intPtr(12)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := blockNumber(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 2.0, median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, median([]float64{4, 1, 3, 2}))
	assert.Equal(t, 7.0, median([]float64{7}))

	in := []float64{3, 1, 2}
	median(in)
	assert.Equal(t, []float64{3, 1, 2}, in)
}

func intPtr(n int) *int { return &n }
