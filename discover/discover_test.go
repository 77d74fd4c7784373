package discover

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/votemap/secroll/pace"
	"github.com/votemap/secroll/roll"
	"github.com/votemap/secroll/session"
)

// stubSession serves scripted polling-station options per ward and can
// refuse a ward entirely.
type stubSession struct {
	options     map[string][]session.Choice // ward id → stations
	failWards   map[string]bool
	currentWard string
	navigations int
}

func (s *stubSession) Navigate(ctx context.Context, url string) error {
	s.navigations++
	return nil
}

func (s *stubSession) SelectOption(ctx context.Context, field, value string) error {
	if field == session.DefaultSelectors().Ward {
		if s.failWards[value] {
			return errors.New("form did not render")
		}
		s.currentWard = value
	}
	return nil
}

func (s *stubSession) Options(ctx context.Context, field string) ([]session.Choice, error) {
	return s.options[s.currentWard], nil
}

func (s *stubSession) Fill(ctx context.Context, field, value string) error  { return nil }
func (s *stubSession) CaptureElement(ctx context.Context, sel string) ([]byte, error) {
	return nil, errors.New("not a form page")
}
func (s *stubSession) ReloadCaptcha(ctx context.Context) error { return nil }
func (s *stubSession) ClearResult(ctx context.Context) error   { return nil }
func (s *stubSession) Submit(ctx context.Context) error        { return nil }
func (s *stubSession) PageKind(ctx context.Context) (session.PageKind, error) {
	return session.KindForm, nil
}
func (s *stubSession) ReadTable(ctx context.Context) ([]session.Row, error) { return nil, nil }
func (s *stubSession) HasNextPage(ctx context.Context) (bool, error)        { return false, nil }
func (s *stubSession) NextPage(ctx context.Context) error                   { return nil }

func testEngine(sess session.Session) *Engine {
	return New(Config{
		FormURL:   "https://portal.example/form",
		District:  "d1",
		LocalBody: "lb1",
	}, sess, pace.New(pace.Config{Spacing: time.Millisecond}))
}

func TestDiscoverStableStationSet(t *testing.T) {
	sess := &stubSession{options: map[string][]session.Choice{
		"w1": {{Value: "s1", Label: "School A"}, {Value: "s2", Label: "School B"}},
		"w2": {{Value: "s3", Label: "Hall C"}},
	}}
	wards := []roll.Ward{{ID: "w1", Name: "One"}, {ID: "w2", Name: "Two"}}
	e := testEngine(sess)

	m1, err := e.Discover(context.Background(), wards)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if m1.TotalStations() != 3 {
		t.Fatalf("TotalStations = %d, want 3", m1.TotalStations())
	}

	// Unchanged portal: same cardinality on re-discovery.
	m2, err := e.Discover(context.Background(), wards)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if m2.TotalStations() != m1.TotalStations() {
		t.Errorf("re-discovery cardinality %d != %d", m2.TotalStations(), m1.TotalStations())
	}

	// Portal added one station: count grows by exactly one.
	sess.options["w2"] = append(sess.options["w2"], session.Choice{Value: "s4", Label: "Hall D"})
	m3, err := e.Discover(context.Background(), wards)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if m3.TotalStations() != m1.TotalStations()+1 {
		t.Errorf("after adding one station got %d, want %d", m3.TotalStations(), m1.TotalStations()+1)
	}
}

func TestDiscoverSkipsFailedWard(t *testing.T) {
	sess := &stubSession{
		options: map[string][]session.Choice{
			"w1": {{Value: "s1", Label: "School A"}},
			"w3": {{Value: "s9", Label: "Hall Z"}},
		},
		failWards: map[string]bool{"w2": true},
	}
	e := testEngine(sess)

	m, err := e.Discover(context.Background(), []roll.Ward{
		{ID: "w1"}, {ID: "w2"}, {ID: "w3"},
	})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(m.Wards) != 2 {
		t.Errorf("got %d wards, want 2 (w2 skipped)", len(m.Wards))
	}
	if m.StationsFor("w2") != nil {
		t.Error("failed ward must not appear in the map")
	}
	if m.StationsFor("w3") == nil {
		t.Error("wards after the failed one must still be discovered")
	}
}

func TestDiscoverHonorsCancellation(t *testing.T) {
	sess := &stubSession{options: map[string][]session.Choice{}}
	e := testEngine(sess)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Discover(ctx, []roll.Ward{{ID: "w1"}}); err == nil {
		t.Error("expected cancellation error")
	}
}
