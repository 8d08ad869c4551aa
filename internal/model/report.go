package model

import "time"

// ReportType classifies a community hazard report.
type ReportType string

const (
	ReportBadLighting    ReportType = "bad_lighting"
	ReportNoSidewalk     ReportType = "no_sidewalk"
	ReportSuspiciousArea ReportType = "suspicious_area"
	ReportBlockedPath    ReportType = "blocked_path"
)

// ReportTypes lists every known report type.
var ReportTypes = []ReportType{ReportBadLighting, ReportNoSidewalk, ReportSuspiciousArea, ReportBlockedPath}

// Valid reports whether t is a known report type.
func (t ReportType) Valid() bool {
	for _, known := range ReportTypes {
		if t == known {
			return true
		}
	}
	return false
}

// CommunityReport is a user-submitted point annotation of a local hazard.
type CommunityReport struct {
	ID              string     `json:"id"`
	Lat             float64    `json:"lat"`
	Lng             float64    `json:"lng"`
	Type            ReportType `json:"type"`
	Upvotes         int        `json:"upvotes"`
	Downvotes       int        `json:"downvotes"`
	TimestampMillis int64      `json:"timestamp_millis"`
	Dismissed       bool       `json:"dismissed,omitempty"`
}

// Time returns the report submission time.
func (r CommunityReport) Time() time.Time {
	return time.UnixMilli(r.TimestampMillis)
}

// Point returns the report location.
func (r CommunityReport) Point() LatLng {
	return LatLng{Lat: r.Lat, Lng: r.Lng}
}
