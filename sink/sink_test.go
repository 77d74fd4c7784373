package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/votemap/secroll/roll"
)

func TestSanitizeName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"003 EXAMPLE WARD", "003_EXAMPLE_WARD"},
		{"12 G.H.S.S (Main), North", "12_G.H.S.S_Main_North"},
		{"A/B", "A_B"},
	}
	for _, c := range cases {
		if got := SanitizeName(c.in); got != c.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func testRecords(n int) []roll.VoterRecord {
	out := make([]roll.VoterRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, roll.VoterRecord{
			StationID: "s1", Serial: "1", Name: "ANITHA K", Guardian: "KRISHNAN",
			HouseNo: "003/12", Gender: "F", Age: 44, GenderAge: "F / 44",
			VoterID: "SEC001", WardName: "003 EXAMPLE WARD",
			StationName: "12 Example School", ScrapedAt: time.Now(),
		})
	}
	return out
}

func TestCSVWritesWardLayout(t *testing.T) {
	dir := t.TempDir()
	s := NewCSV(dir)
	station := roll.PollingStation{WardID: "w1", ID: "s1", Name: "12 Example School"}

	if err := s.Write(context.Background(), station, testRecords(3)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	path := filepath.Join(dir, "003_EXAMPLE_WARD", "12_Example_School.csv")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("expected station file: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want header + 3", len(rows))
	}
	if rows[0][0] != "sl_no" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][4] != "F" || rows[1][5] != "44" {
		t.Errorf("gender/age columns = %q/%q, want F/44", rows[1][4], rows[1][5])
	}
}

func TestCSVSkipsEmptyStations(t *testing.T) {
	dir := t.TempDir()
	s := NewCSV(dir)
	station := roll.PollingStation{ID: "s1", Name: "Empty"}

	if err := s.Write(context.Background(), station, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Error("empty station must not produce a file")
	}
}

// failingWriter accepts up to limit bytes, then refuses everything.
type failingWriter struct {
	limit int
	n     int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.n+len(p) > w.limit {
		return 0, errors.New("no space left on device")
	}
	w.n += len(p)
	return len(p), nil
}

func TestCSVRowErrorSurfaces(t *testing.T) {
	// Enough rows to overflow the csv writer's buffer, so the failure
	// hits mid-batch rather than at the final flush.
	err := writeRows(&failingWriter{limit: 4096}, testRecords(200))
	if err == nil {
		t.Fatal("expected error from mid-batch write failure")
	}
}

func TestCSVWriteIsAtomic(t *testing.T) {
	dir := t.TempDir()
	s := NewCSV(dir)
	station := roll.PollingStation{WardID: "w1", ID: "s1", Name: "12 Example School"}

	if err := s.Write(context.Background(), station, testRecords(2)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	wardDir := filepath.Join(dir, "003_EXAMPLE_WARD")
	entries, err := os.ReadDir(wardDir)
	if err != nil {
		t.Fatal(err)
	}
	// Only the published file: no staging residue.
	if len(entries) != 1 || entries[0].Name() != "12_Example_School.csv" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("ward dir = %v, want only the station file", names)
	}
}

func TestCSVWriteFailureLeavesNoStationFile(t *testing.T) {
	dir := t.TempDir()
	s := NewCSV(dir)
	// A name past the filesystem limit makes staging fail outright.
	station := roll.PollingStation{WardID: "w1", ID: "s1", Name: strings.Repeat("X", 300)}

	if err := s.Write(context.Background(), station, testRecords(2)); err == nil {
		t.Fatal("expected error")
	}
	entries, err := os.ReadDir(filepath.Join(dir, "003_EXAMPLE_WARD"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Error("failed write must leave nothing behind")
	}
}

func TestJSONL(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONL(&buf)
	station := roll.PollingStation{ID: "s1", Name: "X"}

	if err := s.Write(context.Background(), station, testRecords(2)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if !strings.Contains(lines[0], `"serial":"1"`) {
		t.Errorf("line missing serial: %s", lines[0])
	}
}
