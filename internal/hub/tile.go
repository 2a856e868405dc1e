package hub

import (
	"fmt"
	"math"

	"campusbus/internal/domain"
)

// MaxBBoxTiles caps how many tiles a single bounding-box subscription may expand to
const MaxBBoxTiles = 256

// TileID calculates tile ID for given coordinates at specified zoom level
// Uses Web Mercator (slippy map) tile scheme
func TileID(lat, lon float64, zoom int) string {
	x, y := tileXY(lat, lon, zoom)
	return fmt.Sprintf("%d/%d/%d", zoom, x, y)
}

func tileXY(lat, lon float64, zoom int) (int, int) {
	n := math.Pow(2, float64(zoom))
	x := int(math.Floor((lon + 180.0) / 360.0 * n))
	latRad := lat * math.Pi / 180.0
	y := int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n))

	maxTile := int(n) - 1
	return clampTile(x, maxTile), clampTile(y, maxTile)
}

func clampTile(v, maxTile int) int {
	if v < 0 {
		return 0
	}
	if v > maxTile {
		return maxTile
	}
	return v
}

// ParseTileID extracts zoom, x, y from a tile ID string
func ParseTileID(tileID string) (zoom, x, y int, ok bool) {
	n, err := fmt.Sscanf(tileID, "%d/%d/%d", &zoom, &x, &y)
	if err != nil || n != 3 {
		return 0, 0, 0, false
	}
	return zoom, x, y, true
}

// NearbyTiles returns the tile containing the point plus its 8 neighbours
func NearbyTiles(lat, lon float64, zoom int) []string {
	x, y := tileXY(lat, lon, zoom)
	maxTile := int(math.Pow(2, float64(zoom))) - 1
	tiles := make([]string, 0, 9)

	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			nx, ny := x+dx, y+dy
			if nx < 0 || nx > maxTile || ny < 0 || ny > maxTile {
				continue
			}
			tiles = append(tiles, fmt.Sprintf("%d/%d/%d", zoom, nx, ny))
		}
	}
	return tiles
}

// TilesInBBox returns all tile IDs that intersect the bounding box, or nil
// when the box would expand past MaxBBoxTiles.
func TilesInBBox(bb domain.BoundingBox, zoom int) []string {
	x1, y1 := tileXY(bb.MaxLat, bb.MinLon, zoom)
	x2, y2 := tileXY(bb.MinLat, bb.MaxLon, zoom)
	if x2 < x1 || y2 < y1 {
		return nil
	}
	if (x2-x1+1)*(y2-y1+1) > MaxBBoxTiles {
		return nil
	}

	tiles := make([]string, 0, (x2-x1+1)*(y2-y1+1))
	for x := x1; x <= x2; x++ {
		for y := y1; y <= y2; y++ {
			tiles = append(tiles, fmt.Sprintf("%d/%d/%d", zoom, x, y))
		}
	}
	return tiles
}
