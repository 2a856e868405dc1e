package routefile

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusbus/internal/domain"
)

func gtfsArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func campusFeed() map[string]string {
	return map[string]string{
		"routes.txt": "\ufeffroute_id,route_short_name,route_long_name,route_type\n" +
			"R1,12,North Loop,3\n" +
			"R2,14,,3\n" +
			"R3,99,Ghost Route,3\n",
		"stops.txt": "stop_id,stop_name,stop_lat,stop_lon\n" +
			"S1,Main Gate,12.9716,77.5946\n" +
			"S2,Library,12.9730,77.5970\n" +
			"S3,Hostel,12.9760,77.6010\n",
		"trips.txt": "route_id,service_id,trip_id\n" +
			"R1,WK,T1\n" +
			"R1,WK,T1b\n" +
			"R2,WK,T2\n",
		"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
			"T1,08:10:00,08:10:00,S2,2\n" +
			"T1,08:00:00,08:00:00,S1,1\n" +
			"T1,08:25:00,08:25:00,S3,3\n" +
			"T1b,09:00:00,09:00:00,S1,1\n" +
			"T2,24:05:00,24:05:00,S3,1\n" +
			"T2,,24:20:00,S1,2\n",
	}
}

func TestParseGTFS(t *testing.T) {
	data := gtfsArchive(t, campusFeed())
	require.True(t, IsGTFSArchive(data))

	cat, err := ParseGTFS(data)
	require.NoError(t, err)
	require.Len(t, cat.Routes, 2)

	north := cat.Routes[0]
	assert.Equal(t, "R1", north.ID)
	assert.Equal(t, "North Loop", north.Name)
	assert.Equal(t, "12", north.BusNumber)
	require.Len(t, north.Waypoints, 3)
	assert.Equal(t, []string{"Main Gate", "Library", "Hostel"},
		[]string{north.Waypoints[0].Name, north.Waypoints[1].Name, north.Waypoints[2].Name})
	assert.Equal(t, "08:10", north.Waypoints[1].ScheduledTime)
	assert.Equal(t, domain.WaypointStart, north.Waypoints[0].Kind)
	assert.Equal(t, domain.WaypointEnd, north.Waypoints[2].Kind)

	late := cat.Routes[1]
	assert.Equal(t, "14", late.Name)
	assert.Equal(t, "24:05", late.Waypoints[0].ScheduledTime)
	assert.Equal(t, "24:20", late.Waypoints[1].ScheduledTime)
}

func TestParseGTFSRejects(t *testing.T) {
	files := campusFeed()
	delete(files, "stop_times.txt")
	_, err := ParseGTFS(gtfsArchive(t, files))
	assert.True(t, errors.Is(err, ErrInvalidCatalogue))

	files = campusFeed()
	files["trips.txt"] = "route_id,service_id,trip_id\n"
	_, err = ParseGTFS(gtfsArchive(t, files))
	assert.True(t, errors.Is(err, ErrInvalidCatalogue), "no route with two stops")

	_, err = ParseGTFS([]byte("PK\x03\x04garbage"))
	assert.True(t, errors.Is(err, ErrInvalidCatalogue))
}

func TestLoaderDetectsGTFSArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campus.zip")
	require.NoError(t, os.WriteFile(path, gtfsArchive(t, campusFeed()), 0o644))

	res, err := NewLoader(path, testLogger()).Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Routes, 2)
	assert.Len(t, res.Fingerprint, 64)
}
