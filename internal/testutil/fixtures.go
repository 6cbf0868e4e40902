package testutil

import (
	"fmt"
	"net/http"
	"time"

	"github.com/allaspectsdev/forkline/internal/pipeline"
	"github.com/allaspectsdev/forkline/internal/store"
)

// SampleRequest returns a GET request for path with a request ID and a
// client address already assigned.
func SampleRequest(path string) *pipeline.Request {
	req := pipeline.NewRequest(http.MethodGet, path)
	req.ID = "req-sample"
	req.Scheme = "http"
	req.Host = "localhost"
	req.RemoteAddr = "127.0.0.1:51234"
	req.Header.Set("Accept", "application/json")
	return req
}

// SampleAuditRecord returns an audit record numbered i, timestamped at ts.
// Every fifth record is a server error.
func SampleAuditRecord(i int, ts time.Time) *store.Request {
	rec := &store.Request{
		ID:         fmt.Sprintf("req-%04d", i),
		Timestamp:  ts,
		Method:     http.MethodGet,
		Path:       fmt.Sprintf("/api/v1/items/%d", i),
		RemoteAddr: "127.0.0.1",
		StatusCode: http.StatusOK,
		BytesOut:   int64(100 + i),
		LatencyMs:  int64(i % 50),
	}
	if i%5 == 4 {
		rec.StatusCode = http.StatusInternalServerError
		rec.ErrorMessage = "upstream failed"
	}
	return rec
}
