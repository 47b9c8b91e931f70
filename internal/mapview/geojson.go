package mapview

// Geometry is a GeoJSON Point geometry.
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"` // longitude, latitude
}

// Feature is a GeoJSON feature.
type Feature struct {
	Type       string         `json:"type"`
	ID         string         `json:"id,omitempty"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// FeatureCollection is a GeoJSON feature collection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

func point(lat, lon float64) Geometry {
	return Geometry{Type: "Point", Coordinates: []float64{lon, lat}}
}

// MarkerCollection renders one Point feature per marker.
func MarkerCollection(markers []Marker) FeatureCollection {
	fc := FeatureCollection{Type: "FeatureCollection", Features: make([]Feature, 0, len(markers))}
	for i := range markers {
		m := &markers[i]
		fc.Features = append(fc.Features, Feature{
			Type:     "Feature",
			ID:       m.Key,
			Geometry: point(m.Latitude, m.Longitude),
			Properties: map[string]any{
				"title":    m.Title,
				"subtitle": m.Subtitle,
				"popup":    m.Popup,
			},
		})
	}
	return fc
}

// ClusterCollection renders clusters; single-marker clusters become marker
// features and larger ones carry cluster=true and point_count.
func ClusterCollection(clusters []Cluster) FeatureCollection {
	fc := FeatureCollection{Type: "FeatureCollection", Features: make([]Feature, 0, len(clusters))}
	for i := range clusters {
		c := &clusters[i]
		if c.Count == 1 && len(c.Markers) == 1 {
			fc.Features = append(fc.Features, MarkerCollection(c.Markers).Features...)
			continue
		}
		keys := make([]string, 0, len(c.Markers))
		for j := range c.Markers {
			keys = append(keys, c.Markers[j].Key)
		}
		fc.Features = append(fc.Features, Feature{
			Type:     "Feature",
			Geometry: point(c.Latitude, c.Longitude),
			Properties: map[string]any{
				"cluster":     true,
				"point_count": c.Count,
				"keys":        keys,
			},
		})
	}
	return fc
}
