// Package mapview prepares occurrence records for the map front end:
// markers with popup text, grid clustering and GeoJSON.
package mapview

import (
	"strconv"
	"strings"
	"time"

	"github.com/k3a/html2text"

	"github.com/lightvibes/biomap/internal/occurrence"
)

// PopupLine is one labelled row of a marker popup. An empty Label renders the
// value on its own, as for the title.
type PopupLine struct {
	Label string `json:"label,omitempty"`
	Value string `json:"value"`
}

// Marker is a point on the map.
type Marker struct {
	Key       string      `json:"key"`
	Latitude  float64     `json:"latitude"`
	Longitude float64     `json:"longitude"`
	Title     string      `json:"title"`
	Subtitle  string      `json:"subtitle,omitempty"`
	Popup     []PopupLine `json:"popup"`
}

// dateLayouts are the eventDate forms GBIF emits, most specific first.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"2006-01",
}

// Markers converts records to markers in input order.
func Markers(records []occurrence.Record) []Marker {
	out := make([]Marker, 0, len(records))
	for i := range records {
		out = append(out, NewMarker(&records[i]))
	}
	return out
}

// NewMarker builds the marker and popup for one record. Free-text fields may
// contain HTML from data publishers and are reduced to plain text.
func NewMarker(r *occurrence.Record) Marker {
	m := Marker{
		Key:       r.Key,
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Title:     r.ScientificName,
		Subtitle:  plain(r.VernacularName),
	}

	add := func(label, value string) {
		if value = plain(value); value != "" {
			m.Popup = append(m.Popup, PopupLine{Label: label, Value: value})
		}
	}

	add("", r.ScientificName)
	add("", r.VernacularName)
	add("Locality", r.Locality)
	add("State/Province", r.StateProvince)
	add("Country", r.Country)
	add("Water body", r.WaterBody)
	add("Date", FormatEventDate(r.EventDate))
	if r.Depth != nil {
		add("Depth", formatMeters(*r.Depth))
	}
	if r.Elevation != nil {
		add("Elevation", formatMeters(*r.Elevation))
	}
	add("Habitat", r.Habitat)
	add("Recorded by", r.RecordedBy)
	add("Institution", r.InstitutionCode)

	return m
}

// FormatEventDate renders the date part of a GBIF eventDate. Ranges use their
// start; unparseable values are returned unchanged.
func FormatEventDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	start, _, _ := strings.Cut(raw, "/")
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, start); err == nil {
			if layout == "2006-01" {
				return t.Format("2006-01")
			}
			return t.Format("2006-01-02")
		}
	}
	return raw
}

func formatMeters(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + " m"
}

func plain(s string) string {
	if s == "" {
		return ""
	}
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(html2text.HTML2Text(s))
}
