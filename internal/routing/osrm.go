// Package routing wraps the external routing engine the mobile clients use
// for ride route previews. The relay itself never computes routes.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Route is the preview handed back to clients: how long and how far.
type Route struct {
	DurationSeconds float64 `json:"duration_seconds"`
	DistanceMeters  float64 `json:"distance_meters"`
}

// Client resolves a route between two coordinates.
type Client interface {
	Route(ctx context.Context, fromLat, fromLon, toLat, toLon float64) (Route, error)
}

// OSRMClient queries an OSRM HTTP server.
type OSRMClient struct {
	Endpoint string
	HTTP     *http.Client
}

func NewOSRMClient(endpoint string) *OSRMClient {
	return &OSRMClient{Endpoint: endpoint, HTTP: &http.Client{Timeout: 2 * time.Second}}
}

// Route queries /route/v1/driving between the points.
func (o *OSRMClient) Route(ctx context.Context, fromLat, fromLon, toLat, toLon float64) (Route, error) {
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=false",
		o.Endpoint, fromLon, fromLat, toLon, toLat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Route{}, err
	}
	resp, err := o.HTTP.Do(req)
	if err != nil {
		return Route{}, err
	}
	defer resp.Body.Close()
	var out struct {
		Routes []struct {
			Duration float64 `json:"duration"`
			Distance float64 `json:"distance"`
		} `json:"routes"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Route{}, err
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return Route{}, fmt.Errorf("osrm no route: %v", out.Code)
	}
	return Route{DurationSeconds: out.Routes[0].Duration, DistanceMeters: out.Routes[0].Distance}, nil
}
