// Package extract turns one polling station's form submission into
// validated voter records: it fills the cascading form, drives the
// CAPTCHA attempt loop to acceptance, and walks the paginated result
// table.
//
// Extraction is all-or-nothing per station. Either every page is
// retrieved and the full record set returned, or the station fails as
// a whole — a partial page set delivered to the sink would make an
// undercount look like a complete roll.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/votemap/secroll/captcha"
	"github.com/votemap/secroll/pace"
	"github.com/votemap/secroll/roll"
	"github.com/votemap/secroll/session"
)

// Config configures the extraction engine.
type Config struct {
	// FormURL is the voter-list search form.
	FormURL string

	// District, LocalBody and Language are the static portal values
	// filled above and below the ward/station levels of the cascade.
	District  string
	LocalBody string
	Language  string

	// MaxRetries bounds CAPTCHA attempts per station. Default: 8.
	MaxRetries int

	// ResultWait bounds the wait for the portal to answer a submitted
	// form. Default: 60s.
	ResultWait time.Duration

	// PollInterval is the page-kind check interval during ResultWait.
	// Default: 1s.
	PollInterval time.Duration

	// MaxPages guards against a pagination loop that never ends.
	// Default: 500.
	MaxPages int

	// Selectors are the portal's structural markers.
	Selectors session.Selectors

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 8
	}
	if c.ResultWait <= 0 {
		c.ResultWait = 60 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 500
	}
	if c.Selectors.District == "" {
		c.Selectors = session.DefaultSelectors()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Engine extracts one station's records at a time. It borrows the
// session for the duration of one Extract call.
type Engine struct {
	cfg    Config
	sess   session.Session
	solver captcha.Solver
	sched  *pace.Scheduler
}

// New creates an extraction Engine.
func New(cfg Config, sess session.Session, solver captcha.Solver, sched *pace.Scheduler) *Engine {
	cfg.applyDefaults()
	return &Engine{cfg: cfg, sess: sess, solver: solver, sched: sched}
}

// Extract returns every record of one station together with the number
// of CAPTCHA attempts consumed. A station that yields zero rows on a
// valid results page returns an empty slice and no error.
func (e *Engine) Extract(ctx context.Context, ward roll.Ward, st roll.PollingStation) ([]roll.VoterRecord, int, error) {
	log := e.cfg.Logger
	log.Info("extract: station starting", "ward", ward.Name, "station", st.Name)

	if err := e.prepareForm(ctx, ward, st); err != nil {
		return nil, 0, err
	}

	m := &machine{
		sess:         e.sess,
		solver:       e.solver,
		sched:        e.sched,
		sel:          e.cfg.Selectors,
		maxRetries:   e.cfg.MaxRetries,
		resultWait:   e.cfg.ResultWait,
		pollInterval: e.cfg.PollInterval,
		logger:       log,
	}
	attempts, err := m.run(ctx)
	if err != nil {
		return nil, attempts, err
	}

	records, err := e.collectPages(ctx, ward, st)
	if err != nil {
		return nil, attempts, err
	}

	log.Info("extract: station complete",
		"station", st.Name, "records", len(records), "attempts", attempts)
	return records, attempts, nil
}

// prepareForm navigates to the form and fills the cascade down to the
// station, reaching FORM_READY.
func (e *Engine) prepareForm(ctx context.Context, ward roll.Ward, st roll.PollingStation) error {
	sel := e.cfg.Selectors

	if err := e.sched.Wait(ctx, pace.Navigate); err != nil {
		return err
	}
	if err := e.sess.Navigate(ctx, e.cfg.FormURL); err != nil {
		e.sched.Failure(pace.Navigate)
		return fmt.Errorf("extract: open form: %w", err)
	}
	e.sched.Success(pace.Navigate)

	steps := []struct{ field, value string }{
		{sel.District, e.cfg.District},
		{sel.LocalBody, e.cfg.LocalBody},
		{sel.Ward, ward.ID},
		{sel.PollingStation, st.ID},
		{sel.Language, e.cfg.Language},
	}
	for _, s := range steps {
		if err := e.sess.SelectOption(ctx, s.field, s.value); err != nil {
			return fmt.Errorf("extract: fill form: %w", err)
		}
	}
	return nil
}

// collectPages reads the result table across every offered page and
// maps rows to records. Any page failure fails the whole station.
func (e *Engine) collectPages(ctx context.Context, ward roll.Ward, st roll.PollingStation) ([]roll.VoterRecord, error) {
	var records []roll.VoterRecord
	scrapedAt := time.Now()

	for page := 1; ; page++ {
		if page > e.cfg.MaxPages {
			return nil, fmt.Errorf("%w: pagination did not terminate after %d pages",
				ErrBadShape, e.cfg.MaxPages)
		}

		rows, err := e.sess.ReadTable(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", ErrBadShape, page, err)
		}
		for _, row := range rows {
			records = append(records, rowToRecord(ward, st, row, scrapedAt))
		}

		more, err := e.sess.HasNextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", ErrBadShape, page, err)
		}
		if !more {
			break
		}

		if err := e.sched.Wait(ctx, pace.Navigate); err != nil {
			return nil, err
		}
		if err := e.sess.NextPage(ctx); err != nil {
			return nil, fmt.Errorf("%w: follow page %d: %v", ErrBadShape, page+1, err)
		}
	}
	return records, nil
}

// Result-table column order on the portal.
const (
	colSerial = iota
	colName
	colGuardian
	colHouseNo
	colGenderAge
	colVoterID
	colCount
)

// rowToRecord maps one table row to a VoterRecord with field-shape
// validation. Rows that fail validation keep their raw text and set
// Raw rather than being dropped; upstream cleaning handles anomalies.
func rowToRecord(ward roll.Ward, st roll.PollingStation, row session.Row, scrapedAt time.Time) roll.VoterRecord {
	cell := func(i int) string {
		if i < len(row) {
			return row[i]
		}
		return ""
	}

	rec := roll.VoterRecord{
		StationID:   st.ID,
		Serial:      cell(colSerial),
		Name:        cell(colName),
		Guardian:    cell(colGuardian),
		HouseNo:     cell(colHouseNo),
		GenderAge:   cell(colGenderAge),
		VoterID:     cell(colVoterID),
		WardName:    ward.Name,
		StationName: st.Name,
		ScrapedAt:   scrapedAt,
	}

	if len(row) < colCount || rec.Serial == "" {
		rec.Raw = true
		return rec
	}
	gender, age, ok := roll.SplitGenderAge(rec.GenderAge)
	if !ok {
		rec.Raw = true
		return rec
	}
	rec.Gender = gender
	rec.Age = age
	return rec
}
