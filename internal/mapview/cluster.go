package mapview

import (
	"math"
)

const (
	// DefaultClusterRadius is the cluster cell size in screen pixels.
	DefaultClusterRadius = 50
	// DefaultDisableClusteringAtZoom shows every marker from this zoom on.
	DefaultDisableClusteringAtZoom = 12

	tileSize       = 256
	maxMercatorLat = 85.05112878
	maxZoom        = 22
)

// Cluster groups markers that fall in the same screen cell.
type Cluster struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Count     int      `json:"count"`
	Markers   []Marker `json:"markers,omitempty"`
}

type cell struct{ x, y int64 }

// ClusterMarkers groups markers on a square grid of radiusPx pixels in Web Mercator
// space at zoom. At or above disableAtZoom every marker is its own cluster.
// Clusters are returned in order of their first marker and positioned at the
// mean of their members.
func ClusterMarkers(markers []Marker, zoom, radiusPx, disableAtZoom int) []Cluster {
	if radiusPx <= 0 {
		radiusPx = DefaultClusterRadius
	}
	zoom = max(0, min(zoom, maxZoom))

	if disableAtZoom > 0 && zoom >= disableAtZoom {
		out := make([]Cluster, 0, len(markers))
		for i := range markers {
			out = append(out, Cluster{
				Latitude:  markers[i].Latitude,
				Longitude: markers[i].Longitude,
				Count:     1,
				Markers:   []Marker{markers[i]},
			})
		}
		return out
	}

	index := make(map[cell]int)
	var out []Cluster
	for i := range markers {
		x, y := Project(markers[i].Latitude, markers[i].Longitude, zoom)
		c := cell{int64(math.Floor(x / float64(radiusPx))), int64(math.Floor(y / float64(radiusPx)))}

		j, ok := index[c]
		if !ok {
			j = len(out)
			index[c] = j
			out = append(out, Cluster{})
		}
		out[j].Markers = append(out[j].Markers, markers[i])
		out[j].Count++
		out[j].Latitude += markers[i].Latitude
		out[j].Longitude += markers[i].Longitude
	}

	for i := range out {
		n := float64(out[i].Count)
		out[i].Latitude /= n
		out[i].Longitude /= n
	}
	return out
}

// Project converts a coordinate to Web Mercator world pixels at zoom.
func Project(lat, lon float64, zoom int) (x, y float64) {
	lat = math.Max(-maxMercatorLat, math.Min(maxMercatorLat, lat))
	scale := tileSize * math.Exp2(float64(zoom))

	x = (lon + 180) / 360 * scale
	sin := math.Sin(lat * math.Pi / 180)
	y = (0.5 - math.Log((1+sin)/(1-sin))/(4*math.Pi)) * scale
	return x, y
}
