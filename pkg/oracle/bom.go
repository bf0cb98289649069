package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/shopspring/decimal"
)

// observation is the subset of a BOM observations payload we read.
type observation struct {
	Data *struct {
		TempFeelsLike *decimal.Decimal `json:"temp_feels_like"`
	} `json:"data"`
}

// BOMSource reads the apparent temperature from a Bureau of Meteorology
// observations endpoint.
type BOMSource struct {
	url    string
	client *http.Client
}

func NewBOMSource(url string, client *http.Client) *BOMSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &BOMSource{url: url, client: client}
}

func (s *BOMSource) Price(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return decimal.Zero, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}

	var obs observation
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&obs); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if obs.Data == nil || obs.Data.TempFeelsLike == nil {
		return decimal.Zero, fmt.Errorf("%w: missing data.temp_feels_like", ErrMalformed)
	}
	return *obs.Data.TempFeelsLike, nil
}
