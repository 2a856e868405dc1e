package trackapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusbus/internal/domain"
)

func TestPostLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/vehicles/bus%201/location", r.URL.EscapedPath())
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))

		var loc Location
		require.NoError(t, json.NewDecoder(r.Body).Decode(&loc))
		assert.Equal(t, "north", loc.RouteID)

		json.NewEncoder(w).Encode(domain.Vehicle{Key: "bus 1", RouteID: loc.RouteID, Lat: loc.Lat, Lon: loc.Lon})
	}))
	defer srv.Close()

	v, err := New(srv.URL+"/").PostLocation(context.Background(), "bus 1", Location{Lat: 1.5, Lon: 2.5, RouteID: "north"})
	require.NoError(t, err)
	assert.Equal(t, "bus 1", v.Key)
	assert.Equal(t, 2.5, v.Lon)
}

func TestStartTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/vehicles/bus-1/trip", r.URL.Path)
		var req tripRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(tripResponse{VehicleKey: "bus-1", Trip: domain.TripState{RouteID: req.RouteID, TripID: "t-1"}})
	}))
	defer srv.Close()

	state, err := New(srv.URL).StartTrip(context.Background(), "bus-1", "north", "")
	require.NoError(t, err)
	assert.Equal(t, "north", state.RouteID)
	assert.Equal(t, "t-1", state.TripID)
}

func TestListVehicles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "north", r.URL.Query().Get("route"))
		json.NewEncoder(w).Encode(map[string]any{
			"vehicles": []domain.Vehicle{{Key: "bus-1"}, {Key: "bus-2"}},
			"count":    2,
		})
	}))
	defer srv.Close()

	vehicles, err := New(srv.URL).ListVehicles(context.Background(), "north")
	require.NoError(t, err)
	require.Len(t, vehicles, 2)
	assert.Equal(t, "bus-2", vehicles[1].Key)
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/vehicles/bus-1/trip" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"route \"south\": unknown route"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)

	_, err := c.PostLocation(context.Background(), "bus-1", Location{RouteID: "south"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "unknown route")

	_, err = c.StartTrip(context.Background(), "bus-1", "north", "")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "Bad Gateway", apiErr.Message)
}
