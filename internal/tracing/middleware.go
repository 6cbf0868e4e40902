package tracing

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Headers read from the request and from the pipeline's response. They are
// repeated here because the stage package depends on tracing.
const (
	requestIDHeader = "X-Request-ID"
	cacheHeader     = "X-Cache"
)

// Span attribute keys specific to forkline.
const (
	AttrRequestID     = attribute.Key("forkline.request_id")
	AttrCache         = attribute.Key("forkline.cache")
	AttrResponseBytes = attribute.Key("forkline.response_bytes")
)

// HTTPMiddleware returns a chi-compatible middleware that opens the server
// span for one request. Incoming W3C trace context is continued and the
// span's context is written to the response headers.
//
// Every path belongs to the pipeline, so the span is named after the method
// only and the path is kept as an attribute. The request id is taken from the
// incoming header or, when the client sent none, from the id the pipeline
// echoed on the response.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		propagator := otel.GetTextMapPropagator()
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		attrs := []attribute.KeyValue{
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
			semconv.ServerAddress(r.Host),
			semconv.ClientAddress(r.RemoteAddr),
		}
		if ua := r.UserAgent(); ua != "" {
			attrs = append(attrs, semconv.UserAgentOriginal(ua))
		}
		incomingID := r.Header.Get(requestIDHeader)
		if incomingID != "" {
			attrs = append(attrs, AttrRequestID.String(incomingID))
		}

		ctx, span := Tracer().Start(ctx, "forkline "+r.Method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))
		rw := &recordingWriter{ResponseWriter: w}

		next.ServeHTTP(rw, r.WithContext(ctx))

		status := rw.statusCode()
		span.SetAttributes(
			semconv.HTTPResponseStatusCode(status),
			AttrResponseBytes.Int64(rw.bytes),
		)
		if incomingID == "" {
			if id := w.Header().Get(requestIDHeader); id != "" {
				span.SetAttributes(AttrRequestID.String(id))
			}
		}
		if c := w.Header().Get(cacheHeader); c != "" {
			span.SetAttributes(AttrCache.String(c))
		}
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	})
}

// recordingWriter remembers the status code and counts body bytes.
type recordingWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (rw *recordingWriter) WriteHeader(code int) {
	if rw.status == 0 {
		rw.status = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	return n, err
}

// statusCode returns the written status, or 200 when the handler wrote
// nothing.
func (rw *recordingWriter) statusCode() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

// Flush implements http.Flusher.
func (rw *recordingWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *recordingWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
