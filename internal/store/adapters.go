package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/allaspectsdev/forkline/internal/stage"
)

// Compile-time assertion that Store can back the audit stage.
var _ stage.Recorder = (*Store)(nil)

// RecordRequest implements stage.Recorder. Records without a request id get
// a fresh UUID so the primary key stays unique.
func (s *Store) RecordRequest(ctx context.Context, rec *stage.Record) error {
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	return s.InsertRequest(&Request{
		ID:           id,
		Timestamp:    rec.Timestamp,
		Method:       rec.Method,
		Path:         rec.Path,
		RemoteAddr:   rec.RemoteAddr,
		User:         rec.User,
		StatusCode:   rec.StatusCode,
		BytesOut:     int64(rec.BytesOut),
		LatencyMs:    rec.Latency.Milliseconds(),
		ErrorMessage: rec.Error,
	})
}
