// Package trackapi is a client for the campus bus tracking HTTP API, used by
// driver devices and the simulator.
package trackapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"campusbus/internal/domain"
)

const userAgent = "CampusBus-Driver/1.0"

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// APIError is a non-2xx answer from the server
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Location is one position report
type Location struct {
	Lat       float64    `json:"lat"`
	Lon       float64    `json:"lon"`
	SpeedKmh  float64    `json:"speedKmh"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	RouteID   string     `json:"routeId,omitempty"`
	TripID    string     `json:"tripId,omitempty"`
	BusNumber string     `json:"busNumber,omitempty"`
}

type tripRequest struct {
	RouteID string `json:"routeId"`
	TripID  string `json:"tripId,omitempty"`
}

type tripResponse struct {
	VehicleKey string           `json:"vehicleKey"`
	Trip       domain.TripState `json:"trip"`
}

type vehiclesResponse struct {
	Vehicles []*domain.Vehicle `json:"vehicles"`
}

type apiError struct {
	Error string `json:"error"`
}

// PostLocation reports a position and returns the vehicle with its new tracking report
func (c *Client) PostLocation(ctx context.Context, vehicleKey string, loc Location) (*domain.Vehicle, error) {
	var v domain.Vehicle
	if err := c.do(ctx, http.MethodPost, vehiclePath(vehicleKey, "location"), loc, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// StartTrip assigns the vehicle to a route and resets its progress
func (c *Client) StartTrip(ctx context.Context, vehicleKey, routeID, tripID string) (domain.TripState, error) {
	var resp tripResponse
	err := c.do(ctx, http.MethodPost, vehiclePath(vehicleKey, "trip"), tripRequest{RouteID: routeID, TripID: tripID}, &resp)
	return resp.Trip, err
}

// ListVehicles returns the tracked vehicles, optionally limited to one route
func (c *Client) ListVehicles(ctx context.Context, routeID string) ([]*domain.Vehicle, error) {
	path := "/v1/vehicles"
	if routeID != "" {
		path += "?" + url.Values{"route": {routeID}}.Encode()
	}
	var resp vehiclesResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Vehicles, nil
}

func vehiclePath(key, action string) string {
	return "/v1/vehicles/" + url.PathEscape(key) + "/" + action
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e apiError
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
