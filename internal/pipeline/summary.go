package pipeline

import (
	"time"

	"github.com/sells-group/parcel-risk/internal/model"
	"github.com/sells-group/parcel-risk/internal/parcel"
)

// stageStats collects what each stage reported.
type stageStats struct {
	zoning    ZoningStats
	historic  HistoricStats
	character CharacterStats
}

func buildSummary(final *parcel.Table, st stageStats, opts Options, elapsed time.Duration) *model.Summary {
	codes := make(map[string]int, len(parcel.Codes))
	for c, n := range final.Counts() {
		codes[c.String()] = n
	}
	return &model.Summary{
		Parcels:     final.DistinctLots(),
		Rows:        final.Len(),
		DroppedLots: st.zoning.Dropped,
		TiedLots:    st.zoning.Tied,
		Codes:       codes,
		Escalations: model.Escalations{
			Historic:  st.historic.Escalated,
			Character: st.character.Escalated,
		},
		StageRows: map[string]int{
			"lots":            st.zoning.Lots,
			"zoning":          st.zoning.Rows,
			"historic_joined": st.historic.JoinedRows,
			"historic":        st.historic.Rows,
			"character":       final.Len(),
		},
		ThresholdFt: opts.ThresholdFt,
		Landmarks:   opts.IncludeLandmarks,
		ElapsedMS:   elapsed.Milliseconds(),
		GeneratedAt: time.Now().UTC(),
	}
}
