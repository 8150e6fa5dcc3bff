package models

import "github.com/prebid/openrtb/v20/openrtb2"

// BidRequest is the OpenRTB 2.x bid request passed through the mediation
// layer. WSeat restricts an auction to the listed adapter IDs.
type BidRequest = openrtb2.BidRequest

// BidResponse is the OpenRTB 2.x response returned by adapters.
type BidResponse = openrtb2.BidResponse

// Well-known no-bid reasons reported in AuctionOutcome.NoBidReason.
const (
	NoBidNoAdapters         = "no_adapters"
	NoBidNoBids             = "no_bids"
	NoBidBelowFloor         = "below_floor"
	NoBidAdaptersErrored    = "all_adapters_errored"
	NoBidRateLimited        = "rate_limited"
	NoBidAdapterUnavailable = "adapter_unavailable"
)

// WinningBid is the bid selected by an auction.
type WinningBid struct {
	AdapterID  string  `json:"adapter_id"`
	BidID      string  `json:"bid_id"`
	ImpID      string  `json:"imp_id"`
	Price      float64 `json:"price"`
	AdMarkup   string  `json:"adm,omitempty"`
	CreativeID string  `json:"crid,omitempty"`
}

// AuctionOutcome is the result of a single auction attempt.
type AuctionOutcome struct {
	Success     bool        `json:"success"`
	NoBidReason string      `json:"no_bid_reason,omitempty"`
	Winner      *WinningBid `json:"winner,omitempty"`
	// Bids is the number of valid bids received across adapters.
	Bids int `json:"bids"`
}

// NoBid returns a failed outcome carrying reason.
func NoBid(reason string) AuctionOutcome {
	return AuctionOutcome{Success: false, NoBidReason: reason}
}
