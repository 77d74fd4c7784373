// Package roll defines the voter-roll data model shared across the
// acquisition pipeline: wards, polling stations, the discovered station
// map, extracted voter records, and per-station run state.
//
// roll holds no behaviour beyond field-shape parsing. Everything here is
// created by one component (discovery, extraction, the coordinator) and
// read by the others; nothing is mutated after creation except
// StationState, which the coordinator owns.
package roll

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Ward is one administrative unit configured for scraping. Wards come
// from static configuration and are immutable.
type Ward struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// PollingStation is a leaf unit under a ward, the unit of extraction.
// Created by discovery, never mutated afterwards.
type PollingStation struct {
	WardID       string    `json:"ward_id"`
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// WardStations groups the stations discovered under one ward.
type WardStations struct {
	Ward     Ward             `json:"ward"`
	Stations []PollingStation `json:"stations"`
}

// StationMap is the discovered ward→station index. It is replaced
// wholesale on re-discovery, never patched.
type StationMap struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Wards       []WardStations `json:"wards"`
}

// TotalStations returns the number of stations across all wards.
func (m StationMap) TotalStations() int {
	n := 0
	for _, w := range m.Wards {
		n += len(w.Stations)
	}
	return n
}

// StationsFor returns the stations discovered under the given ward, or
// nil if the ward is not in the map.
func (m StationMap) StationsFor(wardID string) []PollingStation {
	for _, w := range m.Wards {
		if w.Ward.ID == wardID {
			return w.Stations
		}
	}
	return nil
}

// VoterRecord is one extracted voter row. Rows whose gender/age
// composite does not parse keep the raw text and set Raw; they are
// never dropped, since downstream cleaning handles anomalies.
type VoterRecord struct {
	StationID   string    `json:"station_id"`
	Serial      string    `json:"serial"`
	Name        string    `json:"name"`
	Guardian    string    `json:"guardian"`
	HouseNo     string    `json:"house_no"`
	Gender      string    `json:"gender"`
	Age         int       `json:"age"`
	GenderAge   string    `json:"gender_age"` // raw composite as scraped
	VoterID     string    `json:"voter_id"`
	WardName    string    `json:"ward_name"`
	StationName string    `json:"station_name"`
	ScrapedAt   time.Time `json:"scraped_at"`
	Raw         bool      `json:"raw,omitempty"`
}

var genderAgeRe = regexp.MustCompile(`^([MF])\s*/\s*(\d+)$`)

// SplitGenderAge parses the portal's gender/age composite ("M / 60")
// into a single-letter gender and an integer age. ok is false when the
// composite has any other shape.
func SplitGenderAge(s string) (gender string, age int, ok bool) {
	m := genderAgeRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", 0, false
	}
	age, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], age, true
}

// StationStatus is the checkpoint status of one station.
type StationStatus string

const (
	StatusPending    StationStatus = "pending"
	StatusInProgress StationStatus = "in_progress"
	StatusDone       StationStatus = "done"
	StatusFailed     StationStatus = "failed"
)

// StationState is the durable per-station checkpoint. A restarted run
// skips done stations and resumes pending/in_progress ones.
type StationState struct {
	StationID string
	WardID    string
	Status    StationStatus
	Attempts  int
	Reason    string
	UpdatedAt time.Time
}

// StationFailure records the last failure reason of one station for the
// run summary, enabling targeted re-runs.
type StationFailure struct {
	StationID string
	Name      string
	Reason    string
}

// RunSummary aggregates the outcome of one coordinator run.
type RunSummary struct {
	RunID    string
	Done     int
	Failed   int
	Pending  int
	Records  int
	Elapsed  time.Duration
	Failures []StationFailure
}
