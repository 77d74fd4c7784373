package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/votemap/secroll/roll"
)

// JSONL writes records as JSON lines to a writer, one line per record.
type JSONL struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONL creates a JSONL sink over w.
func NewJSONL(w io.Writer) *JSONL {
	return &JSONL{w: w}
}

func (s *JSONL) Write(ctx context.Context, station roll.PollingStation, records []roll.VoterRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	enc := json.NewEncoder(s.w)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("sink: encode record: %w", err)
		}
	}
	return nil
}
