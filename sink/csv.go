package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/votemap/secroll/roll"
)

var csvHeader = []string{
	"sl_no", "name", "guardian", "house_no", "gender", "age", "gender_age",
	"voter_id", "ward", "polling_station", "scrape_timestamp", "raw",
}

// CSV writes one file per completed station under a ward subdirectory,
// mirroring the layout downstream cleaning expects:
//
//	<dir>/<ward_name>/<station_name>.csv
type CSV struct {
	dir string
}

// NewCSV creates a CSV sink rooted at dir.
func NewCSV(dir string) *CSV {
	return &CSV{dir: dir}
}

// Write stages the station in a temp file and renames it onto the
// final path only after a full flush and sync. A partial roll on the
// final path would be indistinguishable from a complete one downstream,
// so a failed write must leave no station file behind.
func (s *CSV) Write(ctx context.Context, station roll.PollingStation, records []roll.VoterRecord) error {
	if len(records) == 0 {
		return nil
	}

	wardDir := filepath.Join(s.dir, SanitizeName(records[0].WardName))
	if err := os.MkdirAll(wardDir, 0o755); err != nil {
		return fmt.Errorf("sink: mkdir %s: %w", wardDir, err)
	}

	path := filepath.Join(wardDir, SanitizeName(station.Name)+".csv")
	tmp, err := os.CreateTemp(wardDir, "."+SanitizeName(station.Name)+".*")
	if err != nil {
		return fmt.Errorf("sink: stage %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := writeRows(tmp, records); err != nil {
		tmp.Close()
		return fmt.Errorf("sink: write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sink: sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("sink: close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("sink: publish %s: %w", path, err)
	}
	return nil
}

func writeRows(w io.Writer, records []roll.VoterRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		age := ""
		if !r.Raw {
			age = strconv.Itoa(r.Age)
		}
		row := []string{
			r.Serial, r.Name, r.Guardian, r.HouseNo, r.Gender, age, r.GenderAge,
			r.VoterID, r.WardName, r.StationName,
			r.ScrapedAt.Format(time.RFC3339), strconv.FormatBool(r.Raw),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SanitizeName turns a portal display name into a filesystem-safe
// path component.
func SanitizeName(name string) string {
	r := strings.NewReplacer(
		"/", "_", " ", "_",
		"(", "", ")", "", ",", "",
	)
	return r.Replace(strings.TrimSpace(name))
}
