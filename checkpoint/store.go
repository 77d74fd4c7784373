package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/votemap/secroll/roll"
)

// ErrNoMap is returned by LoadMap when no discovery has been persisted.
var ErrNoMap = errors.New("checkpoint: no station map persisted, run discovery first")

// Store reads and writes the durable pipeline state. A persistence
// failure here is fatal to the run: progress that cannot be recorded is
// progress that will be silently lost on the next crash.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore wraps an opened checkpoint database.
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// ReplaceMap persists a freshly discovered station map, replacing any
// previous map wholesale in one transaction. Station sets change
// between elections; partial patches are never applied.
func (s *Store) ReplaceMap(ctx context.Context, m roll.StationMap) error {
	err := runTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM station_map`); err != nil {
			return fmt.Errorf("checkpoint: clear map: %w", err)
		}
		for _, w := range m.Wards {
			for _, st := range w.Stations {
				_, err := tx.ExecContext(ctx,
					`INSERT INTO station_map (ward_id, ward_name, station_id, station_name, discovered_at)
					 VALUES (?, ?, ?, ?, ?)`,
					w.Ward.ID, w.Ward.Name, st.ID, st.Name, st.DiscoveredAt.UTC().Format(time.RFC3339Nano))
				if err != nil {
					return fmt.Errorf("checkpoint: insert station %s: %w", st.ID, err)
				}
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO map_meta (key, value) VALUES ('generated_at', ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			m.GeneratedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("checkpoint: map meta: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("checkpoint: station map replaced",
		"wards", len(m.Wards), "stations", m.TotalStations())
	return nil
}

// LoadMap reads the persisted station map. Ward and station order is
// the insertion order of the generating discovery.
func (s *Store) LoadMap(ctx context.Context) (roll.StationMap, error) {
	var m roll.StationMap

	var genStr string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM map_meta WHERE key = 'generated_at'`).Scan(&genStr)
	if errors.Is(err, sql.ErrNoRows) {
		return m, ErrNoMap
	}
	if err != nil {
		return m, fmt.Errorf("checkpoint: load map meta: %w", err)
	}
	if m.GeneratedAt, err = time.Parse(time.RFC3339Nano, genStr); err != nil {
		return m, fmt.Errorf("checkpoint: parse map timestamp: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT ward_id, ward_name, station_id, station_name, discovered_at
		 FROM station_map ORDER BY rowid`)
	if err != nil {
		return m, fmt.Errorf("checkpoint: load map: %w", err)
	}
	defer rows.Close()

	byWard := make(map[string]int)
	for rows.Next() {
		var wardID, wardName, stID, stName, discStr string
		if err := rows.Scan(&wardID, &wardName, &stID, &stName, &discStr); err != nil {
			return m, fmt.Errorf("checkpoint: scan map row: %w", err)
		}
		disc, err := time.Parse(time.RFC3339Nano, discStr)
		if err != nil {
			return m, fmt.Errorf("checkpoint: parse station timestamp: %w", err)
		}

		idx, ok := byWard[wardID]
		if !ok {
			idx = len(m.Wards)
			byWard[wardID] = idx
			m.Wards = append(m.Wards, roll.WardStations{
				Ward: roll.Ward{ID: wardID, Name: wardName},
			})
		}
		m.Wards[idx].Stations = append(m.Wards[idx].Stations, roll.PollingStation{
			WardID:       wardID,
			ID:           stID,
			Name:         stName,
			DiscoveredAt: disc,
		})
	}
	if err := rows.Err(); err != nil {
		return m, fmt.Errorf("checkpoint: load map: %w", err)
	}
	return m, nil
}

// SetState upserts one station's checkpoint row.
func (s *Store) SetState(ctx context.Context, st roll.StationState) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	return runTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO station_state (station_id, ward_id, status, attempts, reason, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(station_id) DO UPDATE SET
			   ward_id = excluded.ward_id,
			   status = excluded.status,
			   attempts = excluded.attempts,
			   reason = excluded.reason,
			   updated_at = excluded.updated_at`,
			st.StationID, st.WardID, string(st.Status), st.Attempts, st.Reason,
			st.UpdatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("checkpoint: set state %s: %w", st.StationID, err)
		}
		return nil
	})
}

// States loads all station checkpoint rows keyed by station id.
func (s *Store) States(ctx context.Context) (map[string]roll.StationState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT station_id, ward_id, status, attempts, reason, updated_at FROM station_state`)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load states: %w", err)
	}
	defer rows.Close()

	out := make(map[string]roll.StationState)
	for rows.Next() {
		var st roll.StationState
		var status, updStr string
		if err := rows.Scan(&st.StationID, &st.WardID, &status, &st.Attempts, &st.Reason, &updStr); err != nil {
			return nil, fmt.Errorf("checkpoint: scan state: %w", err)
		}
		st.Status = roll.StationStatus(status)
		if st.UpdatedAt, err = time.Parse(time.RFC3339Nano, updStr); err != nil {
			return nil, fmt.Errorf("checkpoint: parse state timestamp: %w", err)
		}
		out[st.StationID] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("checkpoint: load states: %w", err)
	}
	return out, nil
}

// Counts reports station-state totals keyed by status for the status
// surface. Statuses with no stations are absent from the map.
func (s *Store) Counts(ctx context.Context) (map[roll.StationStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM station_state GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: counts: %w", err)
	}
	defer rows.Close()

	out := make(map[roll.StationStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("checkpoint: scan counts: %w", err)
		}
		out[roll.StationStatus(status)] = n
	}
	return out, rows.Err()
}

// BeginRun records the start of a coordinator run and returns its id.
func (s *Store) BeginRun(ctx context.Context) (string, error) {
	id := uuid.Must(uuid.NewV7()).String()
	err := runTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO runs (id, started_at) VALUES (?, ?)`,
			id, time.Now().UTC().Format(time.RFC3339Nano))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("checkpoint: begin run: %w", err)
	}
	return id, nil
}

// FinishRun records the outcome of a coordinator run.
func (s *Store) FinishRun(ctx context.Context, sum roll.RunSummary) error {
	err := runTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE runs SET finished_at = ?, done = ?, failed = ?, pending = ?, records = ?
			 WHERE id = ?`,
			time.Now().UTC().Format(time.RFC3339Nano),
			sum.Done, sum.Failed, sum.Pending, sum.Records, sum.RunID)
		return err
	})
	if err != nil {
		return fmt.Errorf("checkpoint: finish run: %w", err)
	}
	return nil
}
