package auction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/rivalapexmediation/auction/internal/models"
)

// ErrNoEndpoint is returned for adapters registered without a bid URL.
var ErrNoEndpoint = errors.New("adapter has no endpoint")

// Bidder sends an encoded OpenRTB request to one adapter. A nil response with
// a nil error means the adapter declined to bid.
type Bidder interface {
	RequestBids(ctx context.Context, adapter models.AdapterDescriptor, body []byte) (*models.BidResponse, error)
}

// HTTPBidder posts OpenRTB JSON to adapter endpoints.
type HTTPBidder struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPBidder returns a bidder whose requests are traced through otelhttp.
// Timeouts come from the per-call context.
func NewHTTPBidder(logger *zap.Logger) *HTTPBidder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPBidder{
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		logger:     logger,
	}
}

// RequestBids implements Bidder. HTTP 204 and responses without seat bids are
// treated as no bid.
func (b *HTTPBidder) RequestBids(ctx context.Context, adapter models.AdapterDescriptor, body []byte) (*models.BidResponse, error) {
	if adapter.Endpoint == "" {
		return nil, fmt.Errorf("%s: %w", adapter.ID, ErrNoEndpoint)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, adapter.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Openrtb-Version", "2.6")

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			b.logger.Warn("failed to close response body", zap.String("adapter", adapter.ID), zap.Error(err))
		}
	}()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(msg))
	}

	var out models.BidResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.SeatBid) == 0 {
		return nil, nil
	}
	return &out, nil
}
