package auction

import (
	"github.com/shopspring/decimal"

	"github.com/rivalapexmediation/auction/internal/models"
)

// CPM values are compared at 0.0001 precision.
const monetaryPrecision int32 = 4

// BidMeetsFloor reports whether price is at or above floor. Both values are
// rounded to monetaryPrecision first so float noise cannot reject a bid that
// exactly matches its floor.
func BidMeetsFloor(price, floor float64) bool {
	p := decimal.NewFromFloat(price).Round(monetaryPrecision)
	f := decimal.NewFromFloat(floor).Round(monetaryPrecision)
	return p.GreaterThanOrEqual(f)
}

// effectiveFloor is the higher of the adapter floor and the floor of the
// impression the bid targets. Bids for unknown impressions fall back to the
// first impression's floor.
func effectiveFloor(adapter models.AdapterDescriptor, req *models.BidRequest, impID string) float64 {
	floor := adapter.FloorCPM
	if len(req.Imp) == 0 {
		return floor
	}
	imp := req.Imp[0]
	for _, candidate := range req.Imp {
		if candidate.ID == impID {
			imp = candidate
			break
		}
	}
	return max(floor, imp.BidFloor)
}
