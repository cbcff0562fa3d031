package pipeline

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/parcel-risk/internal/parcel"
)

// checkCodes verifies every row carries a defined code and that code 3 is
// only held by lots with housing.
func checkCodes(stage string, t *parcel.Table) error {
	for _, r := range t.Rows() {
		if !r.Residential.Valid() {
			return eris.Errorf("pipeline: invariant violated after %s: lot %s has residential code %d",
				stage, r.LotID, r.Residential)
		}
		if r.Residential == parcel.CodeProtected && !r.HasHousing() {
			return eris.Errorf("pipeline: invariant violated after %s: lot %s is protected without housing",
				stage, r.LotID)
		}
	}
	return nil
}

// checkMonotonic verifies no lot's code went down between two stages and
// no lot appeared from nowhere.
func checkMonotonic(stage string, prev, next *parcel.Table) error {
	before := prev.FirstCodes()
	for lot, code := range next.FirstCodes() {
		was, ok := before[lot]
		if !ok {
			return eris.Errorf("pipeline: invariant violated after %s: lot %s was not in the previous stage", stage, lot)
		}
		if code < was {
			return eris.Errorf("pipeline: invariant violated after %s: lot %s residential decreased from %d to %d",
				stage, lot, was, code)
		}
	}
	return nil
}
