package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// LatLng is a WGS84 coordinate in decimal degrees.
type LatLng struct {
	Lat float64 `json:"lat" yaml:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" yaml:"lng" validate:"gte=-180,lte=180"`
}

// Valid reports whether the coordinate is finite and within WGS84 range.
func (p LatLng) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// String formats the coordinate as "lat,lng".
func (p LatLng) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

// ParseLatLng parses a "lat,lng" pair.
func ParseLatLng(s string) (LatLng, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return LatLng{}, eris.Errorf("model: invalid coordinate %q (want lat,lng)", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return LatLng{}, eris.Wrapf(err, "model: parse latitude %q", parts[0])
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return LatLng{}, eris.Wrapf(err, "model: parse longitude %q", parts[1])
	}
	p := LatLng{Lat: lat, Lng: lng}
	if !p.Valid() {
		return LatLng{}, eris.Errorf("model: coordinate %q out of range", s)
	}
	return p, nil
}

// BBox is an axis-aligned lat/lng bounding box. Bounds are inclusive.
type BBox struct {
	MinLat float64 `json:"min_lat" yaml:"min_lat" mapstructure:"min_lat"`
	MaxLat float64 `json:"max_lat" yaml:"max_lat" mapstructure:"max_lat"`
	MinLng float64 `json:"min_lng" yaml:"min_lng" mapstructure:"min_lng"`
	MaxLng float64 `json:"max_lng" yaml:"max_lng" mapstructure:"max_lng"`
}

// Contains reports whether the point lies inside the box.
func (b BBox) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// Validate checks that the box is non-degenerate.
func (b BBox) Validate() error {
	p1 := LatLng{Lat: b.MinLat, Lng: b.MinLng}
	p2 := LatLng{Lat: b.MaxLat, Lng: b.MaxLng}
	if !p1.Valid() || !p2.Valid() {
		return eris.New("model: bbox corner out of range")
	}
	if b.MinLat >= b.MaxLat || b.MinLng >= b.MaxLng {
		return eris.Errorf("model: bbox min must be below max (%v)", b)
	}
	return nil
}

// RawPoint is a single incident or streetlight observation.
type RawPoint struct {
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Weight float64 `json:"weight,omitempty"`
}

// EffectiveWeight returns the point weight, defaulting to 1.
func (p RawPoint) EffectiveWeight() float64 {
	if p.Weight <= 0 || math.IsNaN(p.Weight) || math.IsInf(p.Weight, 0) {
		return 1
	}
	return p.Weight
}
