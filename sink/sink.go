// Package sink receives completed stations' record batches. The
// coordinator calls Write exactly once per station, only after the
// whole station extracted successfully — a sink never sees a partial
// station.
package sink

import (
	"context"

	"github.com/votemap/secroll/roll"
)

// Sink accepts one completed station's records. Append-only.
type Sink interface {
	Write(ctx context.Context, station roll.PollingStation, records []roll.VoterRecord) error
}

// Callback adapts a function to a Sink. Used in tests and for
// in-process consumers.
type Callback func(ctx context.Context, station roll.PollingStation, records []roll.VoterRecord) error

func (f Callback) Write(ctx context.Context, station roll.PollingStation, records []roll.VoterRecord) error {
	return f(ctx, station, records)
}
