// Package runner orchestrates the acquisition pipeline: discovery,
// per-station extraction, checkpointing, and the final run summary.
//
// The coordinator is strictly sequential: one browser session, one
// station in flight. Checkpoint state is flushed after every station,
// so a crash loses at most the station that was in flight. Horizontal
// throughput comes from running multiple coordinator processes against
// disjoint station subsets, each with its own session and scheduler.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/votemap/secroll/checkpoint"
	"github.com/votemap/secroll/roll"
	"github.com/votemap/secroll/sink"
)

// Discoverer walks the ward hierarchy into a station map.
type Discoverer interface {
	Discover(ctx context.Context, wards []roll.Ward) (roll.StationMap, error)
}

// Extractor produces one station's complete record set.
type Extractor interface {
	Extract(ctx context.Context, ward roll.Ward, st roll.PollingStation) ([]roll.VoterRecord, int, error)
}

// Options select the run mode.
type Options struct {
	// Rediscover forces a fresh hierarchy walk even when a station map
	// is already persisted.
	Rediscover bool

	// RetryFailed processes only stations whose checkpoint status is
	// failed, for targeted re-runs.
	RetryFailed bool
}

// Coordinator sequences one run.
type Coordinator struct {
	cfg    *Config
	opts   Options
	store  *checkpoint.Store
	disc   Discoverer
	ext    Extractor
	out    sink.Sink
	logger *slog.Logger
}

// New creates a Coordinator. All collaborators are borrowed; the
// coordinator owns none of their lifecycles.
func New(cfg *Config, opts Options, store *checkpoint.Store, disc Discoverer, ext Extractor, out sink.Sink, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg: cfg, opts: opts, store: store,
		disc: disc, ext: ext, out: out, logger: logger,
	}
}

// Run executes the pipeline. Station-level failures never abort the
// run; only persistence failures do — progress that cannot be recorded
// durably risks silent data loss on the next crash.
//
// Cancellation is honored at station boundaries: the in-flight station
// finishes (or fails), its state is flushed, and Run returns.
func (c *Coordinator) Run(ctx context.Context) (roll.RunSummary, error) {
	start := time.Now()
	log := c.logger

	// Checkpoint writes outlive cancellation: the boundary stop only
	// works if the last station's state still reaches the database.
	stateCtx := context.WithoutCancel(ctx)

	runID, err := c.store.BeginRun(stateCtx)
	if err != nil {
		return roll.RunSummary{}, err
	}
	sum := roll.RunSummary{RunID: runID}

	m, err := c.stationMap(ctx)
	if err != nil {
		return sum, err
	}
	states, err := c.store.States(stateCtx)
	if err != nil {
		return sum, err
	}

	log.Info("runner: starting",
		"run", runID, "wards", len(m.Wards), "stations", m.TotalStations())

	for _, ws := range m.Wards {
		for _, st := range ws.Stations {
			if ctx.Err() != nil {
				log.Warn("runner: stopping at station boundary", "station", st.ID)
				goto done
			}
			if !c.eligible(states[st.ID]) {
				continue
			}
			if err := c.runStation(ctx, ws.Ward, st, &sum); err != nil {
				return sum, err
			}
		}
	}

done:
	c.finalize(stateCtx, m, &sum, start)
	if err := c.store.FinishRun(stateCtx, sum); err != nil {
		return sum, err
	}

	log.Info("runner: finished",
		"run", runID, "done", sum.Done, "failed", sum.Failed,
		"pending", sum.Pending, "records", sum.Records, "elapsed", sum.Elapsed)
	return sum, nil
}

func (c *Coordinator) stationMap(ctx context.Context) (roll.StationMap, error) {
	if !c.opts.Rediscover {
		m, err := c.store.LoadMap(ctx)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, checkpoint.ErrNoMap) {
			return roll.StationMap{}, err
		}
		c.logger.Info("runner: no station map persisted, discovering")
	}

	m, err := c.disc.Discover(ctx, c.cfg.Wards)
	if err != nil {
		return m, err
	}
	if err := c.store.ReplaceMap(ctx, m); err != nil {
		return m, err
	}
	return m, nil
}

// eligible decides whether a station is processed this run. Normal
// runs resume pending and in_progress stations; done stations are
// never re-processed, and failed ones wait for a retry-failed run.
func (c *Coordinator) eligible(st roll.StationState) bool {
	if c.opts.RetryFailed {
		return st.Status == roll.StatusFailed
	}
	switch st.Status {
	case roll.StatusDone, roll.StatusFailed:
		return false
	default:
		return true
	}
}

// runStation extracts one station end to end. The returned error is
// nil unless checkpointing itself failed.
func (c *Coordinator) runStation(ctx context.Context, ward roll.Ward, st roll.PollingStation, sum *roll.RunSummary) error {
	log := c.logger
	stateCtx := context.WithoutCancel(ctx)

	if err := c.store.SetState(stateCtx, roll.StationState{
		StationID: st.ID, WardID: ward.ID, Status: roll.StatusInProgress,
	}); err != nil {
		return err
	}

	records, attempts, err := c.ext.Extract(ctx, ward, st)
	if err == nil {
		// Records count as delivered only once the sink accepted them.
		// A cancellation mid-run must not drop records already in hand.
		if werr := c.out.Write(stateCtx, st, records); werr != nil {
			err = fmt.Errorf("runner: sink write: %w", werr)
		}
	}

	if err != nil {
		// An interrupted station is not a failed one: leaving it
		// in_progress lets the next plain run resume it.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Warn("runner: station interrupted",
				"ward", ward.Name, "station", st.Name, "error", err)
			return nil
		}
		log.Error("runner: station failed",
			"ward", ward.Name, "station", st.Name, "attempts", attempts, "error", err)
		return c.store.SetState(stateCtx, roll.StationState{
			StationID: st.ID, WardID: ward.ID, Status: roll.StatusFailed,
			Attempts: attempts, Reason: err.Error(),
		})
	}

	sum.Records += len(records)
	return c.store.SetState(stateCtx, roll.StationState{
		StationID: st.ID, WardID: ward.ID, Status: roll.StatusDone,
		Attempts: attempts,
	})
}

// finalize computes the end-of-run station totals from the durable
// state, so the summary reflects prior runs' completions too.
func (c *Coordinator) finalize(ctx context.Context, m roll.StationMap, sum *roll.RunSummary, start time.Time) {
	sum.Elapsed = time.Since(start)

	states, err := c.store.States(ctx)
	if err != nil {
		c.logger.Error("runner: summary state load failed", "error", err)
		return
	}
	for _, ws := range m.Wards {
		for _, st := range ws.Stations {
			switch s := states[st.ID]; s.Status {
			case roll.StatusDone:
				sum.Done++
			case roll.StatusFailed:
				sum.Failed++
				sum.Failures = append(sum.Failures, roll.StationFailure{
					StationID: st.ID, Name: st.Name, Reason: s.Reason,
				})
			default:
				sum.Pending++
			}
		}
	}
}
