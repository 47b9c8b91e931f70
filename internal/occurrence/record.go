// Package occurrence fetches, normalizes and deduplicates georeferenced
// occurrence records for a taxon.
package occurrence

import (
	"fmt"
	"strconv"

	"github.com/lightvibes/biomap/internal/gbif"
	"github.com/lightvibes/biomap/internal/taxon"
)

// Record is one georeferenced observation ready for the map.
type Record struct {
	Key             string   `json:"key"`
	Latitude        float64  `json:"latitude"`
	Longitude       float64  `json:"longitude"`
	ScientificName  string   `json:"scientificName"`
	VernacularName  string   `json:"vernacularName,omitempty"`
	Locality        string   `json:"locality,omitempty"`
	Country         string   `json:"country,omitempty"`
	StateProvince   string   `json:"stateProvince,omitempty"`
	WaterBody       string   `json:"waterBody,omitempty"`
	EventDate       string   `json:"eventDate,omitempty"`
	Year            int      `json:"year,omitempty"`
	Depth           *float64 `json:"depth,omitempty"`
	Elevation       *float64 `json:"elevation,omitempty"`
	Habitat         string   `json:"habitat,omitempty"`
	RecordedBy      string   `json:"recordedBy,omitempty"`
	InstitutionCode string   `json:"institutionCode,omitempty"`
}

// FromGBIF converts a GBIF occurrence. ok is false when either coordinate
// is missing.
func FromGBIF(o *gbif.Occurrence) (rec Record, ok bool) {
	if o == nil || o.DecimalLatitude == nil || o.DecimalLongitude == nil {
		return Record{}, false
	}
	return Record{
		Key:             strconv.FormatInt(o.Key, 10),
		Latitude:        *o.DecimalLatitude,
		Longitude:       *o.DecimalLongitude,
		ScientificName:  taxon.CleanScientificName(o.ScientificName),
		VernacularName:  o.VernacularName,
		Locality:        o.Locality,
		Country:         o.Country,
		StateProvince:   o.StateProvince,
		WaterBody:       o.WaterBody,
		EventDate:       o.EventDate,
		Year:            o.Year,
		Depth:           o.Depth,
		Elevation:       o.Elevation,
		Habitat:         o.Habitat,
		RecordedBy:      o.RecordedBy,
		InstitutionCode: o.InstitutionCode,
	}, true
}

// coordinateKey identifies a location; records at the same point collapse.
func coordinateKey(lat, lon float64) string {
	return fmt.Sprintf("%v-%v", lat, lon)
}

// Dedupe drops records whose coordinates were already seen. The first record
// at each location wins and input order is preserved.
func Dedupe(records []Record) []Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]Record, 0, len(records))
	for i := range records {
		key := coordinateKey(records[i].Latitude, records[i].Longitude)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, records[i])
	}
	return out
}
