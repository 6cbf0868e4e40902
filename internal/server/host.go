package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/allaspectsdev/forkline/internal/pipeline"
	"github.com/allaspectsdev/forkline/internal/stage"
	"github.com/allaspectsdev/forkline/internal/tracing"
)

// Metrics receives one call per request served by a Host.
type Metrics interface {
	IncrementActive()
	DecrementActive()
	Record(resp *pipeline.Response, elapsed time.Duration)
	RecordError(err error, elapsed time.Duration)
}

// Host adapts a pipeline to net/http. It converts each *http.Request into a
// *pipeline.Request, runs the current pipeline and writes the Response.
// The pipeline can be replaced at any time with Swap; requests already in
// flight finish on the pipeline they started with.
type Host struct {
	current     atomic.Pointer[pipeline.Pipeline]
	metrics     Metrics
	logger      zerolog.Logger
	maxBodySize int64
}

// NewHost creates a Host serving p. A maxBodySize of 0 means unlimited.
// m may be nil.
func NewHost(p *pipeline.Pipeline, m Metrics, logger zerolog.Logger, maxBodySize int64) *Host {
	h := &Host{
		metrics:     m,
		logger:      logger,
		maxBodySize: maxBodySize,
	}
	h.current.Store(p)
	return h
}

// Swap installs p for all subsequent requests and returns the old pipeline.
func (h *Host) Swap(p *pipeline.Pipeline) *pipeline.Pipeline {
	return h.current.Swap(p)
}

// Pipeline returns the pipeline currently serving requests.
func (h *Host) Pipeline() *pipeline.Pipeline {
	return h.current.Load()
}

// ServeHTTP implements http.Handler.
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := h.convert(w, r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body", "")
		return
	}

	ctx, span := tracing.StartPipelineSpan(r.Context())
	defer span.End()

	if h.metrics != nil {
		h.metrics.IncrementActive()
		defer h.metrics.DecrementActive()
	}

	start := time.Now()
	resp, err := h.current.Load().Serve(ctx, req)
	elapsed := time.Since(start)

	tracing.SetRequestAttributes(ctx, req.ID, req.Method, req.Path)

	if err != nil {
		tracing.RecordError(ctx, err)
		if h.metrics != nil {
			h.metrics.RecordError(err, elapsed)
		}
		h.logError(req, err)
		status, msg := errorResponse(err)
		writeError(w, status, msg, req.ID)
		return
	}
	if resp == nil {
		// A middleware returned neither a response nor an error.
		err = errors.New("pipeline returned no response")
		if h.metrics != nil {
			h.metrics.RecordError(err, elapsed)
		}
		h.logError(req, err)
		writeError(w, http.StatusInternalServerError, "internal server error", req.ID)
		return
	}

	if h.metrics != nil {
		h.metrics.Record(resp, elapsed)
	}
	status := writeResponse(w, r, resp)
	tracing.SetResponseAttributes(ctx, status, len(resp.Body), resp.Header.Get(stage.CacheHeader))
}

func (h *Host) convert(w http.ResponseWriter, r *http.Request) (*pipeline.Request, error) {
	var body []byte
	if r.Body != nil && r.Body != http.NoBody {
		reader := io.Reader(r.Body)
		if h.maxBodySize > 0 {
			reader = http.MaxBytesReader(w, r.Body, h.maxBodySize)
		}
		b, err := io.ReadAll(reader)
		if err != nil {
			return nil, err
		}
		body = b
	}

	req := pipeline.NewRequest(r.Method, r.URL.Path)
	req.RawQuery = r.URL.RawQuery
	req.Scheme = scheme(r)
	req.Host = r.Host
	req.RemoteAddr = r.RemoteAddr
	req.Header = r.Header.Clone()
	req.Body = body
	return req, nil
}

func (h *Host) logError(req *pipeline.Request, err error) {
	ev := h.logger.Error().
		Err(err).
		Str("request_id", req.ID).
		Str("method", req.Method).
		Str("path", req.Path)
	var pe *stage.PanicError
	if errors.As(err, &pe) {
		ev = ev.Bytes("stack", pe.Stack)
	}
	ev.Msg("pipeline error")
}

// errorResponse maps a pipeline error to the status and message sent to the
// client. Details stay in the log.
func errorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, pipeline.ErrNoHandler):
		return http.StatusInternalServerError, "no handler"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func scheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "https" || p == "http" {
		return p
	}
	return "http"
}

// writeResponse copies resp to w and returns the status written.
func writeResponse(w http.ResponseWriter, r *http.Request, resp *pipeline.Response) int {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	if len(resp.Body) > 0 {
		w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}
	w.WriteHeader(status)
	if r.Method != http.MethodHead && len(resp.Body) > 0 {
		w.Write(resp.Body)
	}
	return status
}

func writeError(w http.ResponseWriter, status int, msg, requestID string) {
	body := map[string]string{"error": msg}
	if requestID != "" {
		body["request_id"] = requestID
		w.Header().Set(stage.RequestIDHeader, requestID)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
