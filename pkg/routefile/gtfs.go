package routefile

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"campusbus/internal/domain"
)

var zipMagic = []byte("PK\x03\x04")

// IsGTFSArchive reports whether data looks like a zip archive
func IsGTFSArchive(data []byte) bool {
	return bytes.HasPrefix(data, zipMagic)
}

type gtfsStop struct {
	name     string
	lat, lon float64
}

type gtfsStopTime struct {
	seq     int
	stopID  string
	arrival string
}

// ParseGTFS builds a catalogue from a GTFS static archive. Each route in
// routes.txt becomes one catalogue route whose waypoints are the stops of
// its first trip in trips.txt, scheduled with that trip's arrival times.
// Routes whose trip visits fewer than two stops are skipped.
func ParseGTFS(data []byte) (*Catalogue, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open archive: %v", ErrInvalidCatalogue, err)
	}

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}
	for _, name := range []string{"routes.txt", "stops.txt", "trips.txt", "stop_times.txt"} {
		if _, ok := files[name]; !ok {
			return nil, fmt.Errorf("%w: archive has no %s", ErrInvalidCatalogue, name)
		}
	}

	var routeOrder []string
	routes := make(map[string]*domain.Route)
	err = readCSV(files["routes.txt"], func(rec []string, idx map[string]int) {
		id := getField(rec, idx, "route_id")
		if id == "" {
			return
		}
		short := getField(rec, idx, "route_short_name")
		name := getField(rec, idx, "route_long_name")
		if name == "" {
			name = short
		}
		if name == "" {
			name = id
		}
		routes[id] = &domain.Route{ID: id, Name: name, BusNumber: short}
		routeOrder = append(routeOrder, id)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: routes.txt: %v", ErrInvalidCatalogue, err)
	}

	stops := make(map[string]gtfsStop)
	err = readCSV(files["stops.txt"], func(rec []string, idx map[string]int) {
		lat, _ := strconv.ParseFloat(getField(rec, idx, "stop_lat"), 64)
		lon, _ := strconv.ParseFloat(getField(rec, idx, "stop_lon"), 64)
		id := getField(rec, idx, "stop_id")
		name := getField(rec, idx, "stop_name")
		if name == "" {
			name = id
		}
		stops[id] = gtfsStop{name: name, lat: lat, lon: lon}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: stops.txt: %v", ErrInvalidCatalogue, err)
	}

	// route_id -> representative trip, trip_id -> route_id
	firstTrip := make(map[string]string)
	tripRoute := make(map[string]string)
	err = readCSV(files["trips.txt"], func(rec []string, idx map[string]int) {
		tripID := getField(rec, idx, "trip_id")
		routeID := getField(rec, idx, "route_id")
		if tripID == "" || routes[routeID] == nil {
			return
		}
		if _, ok := firstTrip[routeID]; !ok {
			firstTrip[routeID] = tripID
			tripRoute[tripID] = routeID
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: trips.txt: %v", ErrInvalidCatalogue, err)
	}

	stopTimes := make(map[string][]gtfsStopTime)
	err = readCSV(files["stop_times.txt"], func(rec []string, idx map[string]int) {
		tripID := getField(rec, idx, "trip_id")
		if _, ok := tripRoute[tripID]; !ok {
			return
		}
		seq, _ := strconv.Atoi(getField(rec, idx, "stop_sequence"))
		arrival := getField(rec, idx, "arrival_time")
		if arrival == "" {
			arrival = getField(rec, idx, "departure_time")
		}
		stopTimes[tripID] = append(stopTimes[tripID], gtfsStopTime{
			seq:     seq,
			stopID:  getField(rec, idx, "stop_id"),
			arrival: arrival,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: stop_times.txt: %v", ErrInvalidCatalogue, err)
	}

	cat := &Catalogue{}
	for _, routeID := range routeOrder {
		times := stopTimes[firstTrip[routeID]]
		sort.SliceStable(times, func(i, j int) bool { return times[i].seq < times[j].seq })

		route := routes[routeID]
		for _, st := range times {
			stop, ok := stops[st.stopID]
			if !ok {
				continue
			}
			wp := domain.Waypoint{Name: stop.name, Lat: stop.lat, Lon: stop.lon}
			if m, ok := domain.ParseClock(st.arrival); ok {
				wp.ScheduledTime = domain.FormatClock(m)
			}
			route.Waypoints = append(route.Waypoints, wp)
		}
		if len(route.Waypoints) < 2 {
			continue
		}
		cat.Routes = append(cat.Routes, route)
	}

	if err := finish(cat); err != nil {
		return nil, err
	}
	return cat, nil
}

func readCSV(file *zip.File, fn func(rec []string, idx map[string]int)) error {
	rc, err := file.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return err
	}
	idx := makeIndex(header)

	for {
		record, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		fn(record, idx)
	}
}

func makeIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		// strip a UTF-8 BOM from the first column
		idx[strings.TrimPrefix(strings.TrimSpace(name), "\ufeff")] = i
	}
	return idx
}

func getField(record []string, idx map[string]int, field string) string {
	if i, ok := idx[field]; ok && i < len(record) {
		return strings.TrimSpace(record[i])
	}
	return ""
}
