package cache

import (
	"fmt"
	"strings"
)

const (
	KeyRouteCatalogue = "routes:catalogue"
	patternTrips      = "trip:*"
	tripKeyPrefix     = "trip:"
)

func KeyTrip(vehicleKey string) string {
	return fmt.Sprintf("trip:%s", vehicleKey)
}

func KeyVehicle(vehicleKey string) string {
	return fmt.Sprintf("vehicle:%s", vehicleKey)
}

func vehicleKeyFromTripKey(k string) string {
	return strings.TrimPrefix(k, tripKeyPrefix)
}
