package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a request record does not exist.
var ErrNotFound = errors.New("store: not found")

// Request is a single audited request record.
type Request struct {
	ID           string
	Timestamp    time.Time
	Method       string
	Path         string
	RemoteAddr   string
	User         string
	StatusCode   int
	BytesOut     int64
	LatencyMs    int64
	ErrorMessage string
}

// RequestStats holds aggregate statistics for a range of requests.
type RequestStats struct {
	TotalRequests int64
	ClientErrors  int64
	ServerErrors  int64
	Failures      int64
	AvgLatencyMs  float64
	TotalBytesOut int64
}

// DailyStats is one row of the per-day request history.
type DailyStats struct {
	Day          string
	Requests     int64
	Errors       int64
	AvgLatencyMs float64
}

const requestColumns = `id, timestamp, method, path, remote_addr, username,
		       status_code, bytes_out, latency_ms, error_message`

// InsertRequest stores a new request record. The caller is responsible
// for providing a unique ID.
func (s *Store) InsertRequest(r *Request) error {
	_, err := s.writer.Exec(`
		INSERT INTO requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, formatTime(r.Timestamp), r.Method, r.Path, r.RemoteAddr, r.User,
		r.StatusCode, r.BytesOut, r.LatencyMs, r.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("store: insert request: %w", err)
	}
	return nil
}

// GetRequest retrieves a single request by its ID. It returns an error
// wrapping ErrNotFound if the request does not exist.
func (s *Store) GetRequest(id string) (*Request, error) {
	row := s.reader.QueryRow(`SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: get request %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get request %s: %w", id, err)
	}
	return r, nil
}

// ListRequests returns a page of requests ordered by timestamp descending.
func (s *Store) ListRequests(limit, offset int) ([]*Request, error) {
	rows, err := s.reader.Query(`
		SELECT `+requestColumns+`
		FROM requests
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list requests: %w", err)
	}
	defer rows.Close()

	var results []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan request row: %w", err)
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list requests iteration: %w", err)
	}
	return results, nil
}

// GetRequestStats computes aggregate statistics for all requests whose
// timestamp is >= since.
func (s *Store) GetRequestStats(since time.Time) (*RequestStats, error) {
	stats := &RequestStats{}

	err := s.reader.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status_code BETWEEN 400 AND 499 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status_code >= 500 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN error_message != '' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(latency_ms), 0.0),
			COALESCE(SUM(bytes_out), 0)
		FROM requests
		WHERE timestamp >= ?`, formatTime(since),
	).Scan(
		&stats.TotalRequests,
		&stats.ClientErrors,
		&stats.ServerErrors,
		&stats.Failures,
		&stats.AvgLatencyMs,
		&stats.TotalBytesOut,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return stats, nil
		}
		return nil, fmt.Errorf("store: get request stats: %w", err)
	}

	return stats, nil
}

// GetDailyStats returns per-day aggregates for requests since the given time,
// oldest first.
func (s *Store) GetDailyStats(since time.Time) ([]DailyStats, error) {
	rows, err := s.reader.Query(`
		SELECT
			substr(timestamp, 1, 10) AS day,
			COUNT(*),
			COALESCE(SUM(CASE WHEN status_code >= 500 OR error_message != '' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(latency_ms), 0.0)
		FROM requests
		WHERE timestamp >= ?
		GROUP BY day
		ORDER BY day ASC`, formatTime(since),
	)
	if err != nil {
		return nil, fmt.Errorf("store: daily stats: %w", err)
	}
	defer rows.Close()

	var out []DailyStats
	for rows.Next() {
		var d DailyStats
		if err := rows.Scan(&d.Day, &d.Requests, &d.Errors, &d.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("store: scan daily stats: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: daily stats iteration: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*Request, error) {
	r := &Request{}
	var ts string
	if err := row.Scan(
		&r.ID, &ts, &r.Method, &r.Path, &r.RemoteAddr, &r.User,
		&r.StatusCode, &r.BytesOut, &r.LatencyMs, &r.ErrorMessage,
	); err != nil {
		return nil, err
	}
	t, err := time.Parse(timeLayout, ts)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
	}
	r.Timestamp = t
	return r, nil
}
