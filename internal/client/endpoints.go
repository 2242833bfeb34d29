package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"floodwatch/internal/model"
)

// Backend paths
const (
	PathNearbyAlerts     = "/alerts/nearby"
	PathRiskAssess       = "/risk/assess"
	PathEvacuationRoutes = "/evacuation/routes"
	PathReports          = "/reports"
	PathHealth           = "/health"
)

type locationBody struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

func bodyFor(fix model.LocationFix) json.RawMessage {
	b, _ := json.Marshal(locationBody{Latitude: fix.Latitude, Longitude: fix.Longitude, Accuracy: fix.Accuracy})
	return b
}

// NearbyAlerts returns the active hazard zones within radiusMeters of lat, lng
func (c *Client) NearbyAlerts(ctx context.Context, lat, lng, radiusMeters float64) ([]model.HazardZone, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set("radius", strconv.FormatFloat(radiusMeters, 'f', -1, 64))

	resp, err := c.Send(ctx, Request{Method: http.MethodGet, Target: PathNearbyAlerts + "?" + q.Encode()})
	if err != nil {
		return nil, err
	}
	var zones []model.HazardZone
	if err := decode(resp, &zones); err != nil {
		return nil, fmt.Errorf("failed to decode nearby alerts: %w", err)
	}
	return zones, nil
}

// AssessRisk asks the backend for the flood risk at fix
func (c *Client) AssessRisk(ctx context.Context, fix model.LocationFix) (model.RiskAssessment, error) {
	var out model.RiskAssessment
	resp, err := c.Send(ctx, Request{Method: http.MethodPost, Target: PathRiskAssess, Body: bodyFor(fix)})
	if err != nil {
		return out, err
	}
	if err := decode(resp, &out); err != nil {
		return out, fmt.Errorf("failed to decode risk assessment: %w", err)
	}
	return out, nil
}

// EvacuationRoutes returns routes away from fix, nearest shelter first
func (c *Client) EvacuationRoutes(ctx context.Context, fix model.LocationFix) ([]model.EvacuationRoute, error) {
	resp, err := c.Send(ctx, Request{Method: http.MethodPost, Target: PathEvacuationRoutes, Body: bodyFor(fix)})
	if err != nil {
		return nil, err
	}
	var routes []model.EvacuationRoute
	if err := decode(resp, &routes); err != nil {
		return nil, fmt.Errorf("failed to decode evacuation routes: %w", err)
	}
	return routes, nil
}

// SubmitReport posts a flood report
func (c *Client) SubmitReport(ctx context.Context, report model.FloodReport) (*Response, error) {
	body, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return c.Send(ctx, Request{Method: http.MethodPost, Target: PathReports, Body: body})
}

// Health probes the backend. Any answer, error statuses included, proves connectivity.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.Send(ctx, Request{Method: http.MethodGet, Target: PathHealth})
	return err
}

func decode(resp *Response, v any) error {
	if resp == nil || len(resp.Data) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Data, v)
}
