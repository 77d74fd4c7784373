// Package discover walks the ward hierarchy once and enumerates every
// polling station the portal offers under each configured ward.
//
// Discovery is the most session-fragile step of the pipeline, so its
// product (the station map) is persisted and extraction runs from the
// map rather than re-walking the hierarchy. Re-running discovery
// replaces the map wholesale; station sets change between elections.
package discover

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/votemap/secroll/pace"
	"github.com/votemap/secroll/roll"
	"github.com/votemap/secroll/session"
)

// Config configures the discovery engine.
type Config struct {
	// FormURL is the voter-list search form.
	FormURL string

	// District and LocalBody are the portal values selected above the
	// ward level of the cascade.
	District  string
	LocalBody string

	// Selectors are the portal's structural markers.
	Selectors session.Selectors

	Logger *slog.Logger
}

// Engine enumerates polling stations. It borrows the session for the
// duration of one Discover call and owns no browser state.
type Engine struct {
	cfg   Config
	sess  session.Session
	sched *pace.Scheduler
}

// New creates a discovery Engine.
func New(cfg Config, sess session.Session, sched *pace.Scheduler) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Selectors = withDefaults(cfg.Selectors)
	return &Engine{cfg: cfg, sess: sess, sched: sched}
}

func withDefaults(s session.Selectors) session.Selectors {
	d := session.DefaultSelectors()
	if s.District == "" {
		return d
	}
	return s
}

// Discover walks every configured ward and returns the station map.
// A ward whose form never renders is logged and skipped; it does not
// abort the other wards. Discover returns an error only when the
// context is cancelled.
func (e *Engine) Discover(ctx context.Context, wards []roll.Ward) (roll.StationMap, error) {
	m := roll.StationMap{GeneratedAt: time.Now()}
	log := e.cfg.Logger

	log.Info("discover: starting", "wards", len(wards))

	for _, ward := range wards {
		if err := ctx.Err(); err != nil {
			return m, fmt.Errorf("discover: cancelled: %w", err)
		}

		stations, err := e.discoverWard(ctx, ward)
		if err != nil {
			e.sched.Failure(pace.Navigate)
			log.Error("discover: ward failed, skipping",
				"ward", ward.Name, "error", err)
			continue
		}
		e.sched.Success(pace.Navigate)

		m.Wards = append(m.Wards, roll.WardStations{Ward: ward, Stations: stations})
		log.Info("discover: ward complete",
			"ward", ward.Name, "stations", len(stations))
	}

	log.Info("discover: finished",
		"wards", len(m.Wards), "stations", m.TotalStations())
	return m, nil
}

func (e *Engine) discoverWard(ctx context.Context, ward roll.Ward) ([]roll.PollingStation, error) {
	sel := e.cfg.Selectors

	if err := e.sched.Wait(ctx, pace.Navigate); err != nil {
		return nil, err
	}
	if err := e.sess.Navigate(ctx, e.cfg.FormURL); err != nil {
		return nil, err
	}
	if err := e.sess.SelectOption(ctx, sel.District, e.cfg.District); err != nil {
		return nil, err
	}
	if err := e.sess.SelectOption(ctx, sel.LocalBody, e.cfg.LocalBody); err != nil {
		return nil, err
	}
	if err := e.sess.SelectOption(ctx, sel.Ward, ward.ID); err != nil {
		return nil, err
	}

	choices, err := e.sess.Options(ctx, sel.PollingStation)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	stations := make([]roll.PollingStation, 0, len(choices))
	for _, c := range choices {
		stations = append(stations, roll.PollingStation{
			WardID:       ward.ID,
			ID:           c.Value,
			Name:         c.Label,
			DiscoveredAt: now,
		})
	}
	return stations, nil
}
