package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/votemap/secroll/roll"
)

func testMap(stationsPerWard ...int) roll.StationMap {
	m := roll.StationMap{GeneratedAt: time.Now()}
	for wi, n := range stationsPerWard {
		ws := roll.WardStations{
			Ward: roll.Ward{ID: wardID(wi), Name: "Ward " + wardID(wi)},
		}
		for si := 0; si < n; si++ {
			ws.Stations = append(ws.Stations, roll.PollingStation{
				WardID:       ws.Ward.ID,
				ID:           ws.Ward.ID + "-s" + string(rune('a'+si)),
				Name:         "Station",
				DiscoveredAt: time.Now(),
			})
		}
		m.Wards = append(m.Wards, ws)
	}
	return m
}

func wardID(i int) string { return "w" + string(rune('1'+i)) }

func TestLoadMapBeforeDiscovery(t *testing.T) {
	s := NewStore(OpenMemory(t), nil)
	if _, err := s.LoadMap(context.Background()); !errors.Is(err, ErrNoMap) {
		t.Fatalf("LoadMap = %v, want ErrNoMap", err)
	}
}

func TestReplaceAndLoadMap(t *testing.T) {
	ctx := context.Background()
	s := NewStore(OpenMemory(t), nil)

	if err := s.ReplaceMap(ctx, testMap(2, 1)); err != nil {
		t.Fatalf("ReplaceMap: %v", err)
	}
	m, err := s.LoadMap(ctx)
	if err != nil {
		t.Fatalf("LoadMap: %v", err)
	}
	if m.TotalStations() != 3 || len(m.Wards) != 2 {
		t.Errorf("loaded %d wards / %d stations, want 2 / 3", len(m.Wards), m.TotalStations())
	}
	if m.GeneratedAt.IsZero() {
		t.Error("GeneratedAt not persisted")
	}
}

func TestReplaceMapIsWholesale(t *testing.T) {
	ctx := context.Background()
	s := NewStore(OpenMemory(t), nil)

	if err := s.ReplaceMap(ctx, testMap(3, 3)); err != nil {
		t.Fatalf("ReplaceMap: %v", err)
	}
	// Re-discovery found a smaller set; the old rows must be gone.
	if err := s.ReplaceMap(ctx, testMap(1)); err != nil {
		t.Fatalf("ReplaceMap: %v", err)
	}
	m, err := s.LoadMap(ctx)
	if err != nil {
		t.Fatalf("LoadMap: %v", err)
	}
	if m.TotalStations() != 1 || len(m.Wards) != 1 {
		t.Errorf("loaded %d wards / %d stations after replace, want 1 / 1",
			len(m.Wards), m.TotalStations())
	}
}

func TestStationStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore(OpenMemory(t), nil)

	if err := s.SetState(ctx, roll.StationState{
		StationID: "s1", WardID: "w1", Status: roll.StatusInProgress,
	}); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if err := s.SetState(ctx, roll.StationState{
		StationID: "s1", WardID: "w1", Status: roll.StatusFailed,
		Attempts: 8, Reason: "captcha retries exhausted",
	}); err != nil {
		t.Fatalf("SetState update: %v", err)
	}

	states, err := s.States(ctx)
	if err != nil {
		t.Fatalf("States: %v", err)
	}
	st, ok := states["s1"]
	if !ok {
		t.Fatal("state for s1 missing")
	}
	if st.Status != roll.StatusFailed || st.Attempts != 8 || st.Reason == "" {
		t.Errorf("state = %+v, want failed/8/reason", st)
	}
	if st.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}

func TestCounts(t *testing.T) {
	ctx := context.Background()
	s := NewStore(OpenMemory(t), nil)

	for _, st := range []roll.StationState{
		{StationID: "a", WardID: "w1", Status: roll.StatusDone},
		{StationID: "b", WardID: "w1", Status: roll.StatusDone},
		{StationID: "c", WardID: "w1", Status: roll.StatusFailed},
		{StationID: "d", WardID: "w2", Status: roll.StatusInProgress},
		{StationID: "e", WardID: "w2", Status: roll.StatusPending},
	} {
		if err := s.SetState(ctx, st); err != nil {
			t.Fatalf("SetState: %v", err)
		}
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	want := map[roll.StationStatus]int{
		roll.StatusDone:       2,
		roll.StatusFailed:     1,
		roll.StatusInProgress: 1,
		roll.StatusPending:    1,
	}
	for status, n := range want {
		if counts[status] != n {
			t.Errorf("Counts[%s] = %d, want %d", status, counts[status], n)
		}
	}
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewStore(OpenMemory(t), nil)

	id, err := s.BeginRun(ctx)
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if id == "" {
		t.Fatal("empty run id")
	}
	if err := s.FinishRun(ctx, roll.RunSummary{
		RunID: id, Done: 2, Failed: 1, Records: 214,
	}); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
}
