// README: HTTP-backed live status source.
package delay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPSource reads live delay from the vehicle-status service's JSON API.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *HTTPSource) FetchLiveStatus(ctx context.Context, vehicleID string) (LiveStatus, error) {
	url := fmt.Sprintf("%s/vehicles/%s/status", s.baseURL, vehicleID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return LiveStatus{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return LiveStatus{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return LiveStatus{}, fmt.Errorf("status feed returned %d for vehicle %s", resp.StatusCode, vehicleID)
	}
	var status LiveStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return LiveStatus{}, fmt.Errorf("decode status feed: %w", err)
	}
	return status, nil
}
