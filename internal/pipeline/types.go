package pipeline

import (
	"encoding/json"
	"net/http"
)

// Request represents an inbound request flowing through a pipeline.
//
// A Request is owned by the caller of Pipeline.Serve for the duration of the
// call. Middlewares may mutate it freely; mutations are visible to every
// middleware that runs afterwards. Middlewares must not retain a reference
// after their own Process call returns.
type Request struct {
	ID           string
	Method       string
	Path         string
	OriginalPath string // set by forks that strip a path prefix
	RawQuery     string
	Scheme       string
	Host         string
	RemoteAddr   string
	Header       http.Header
	Body         []byte
	Extensions   map[string]any
}

// NewRequest returns a Request with initialized header and extension maps.
func NewRequest(method, path string) *Request {
	return &Request{
		Method:     method,
		Path:       path,
		Header:     make(http.Header),
		Extensions: make(map[string]any),
	}
}

// Set stores a per-request value under key.
func (r *Request) Set(key string, value any) {
	if r.Extensions == nil {
		r.Extensions = make(map[string]any)
	}
	r.Extensions[key] = value
}

// Get returns the per-request value stored under key.
func (r *Request) Get(key string) (any, bool) {
	v, ok := r.Extensions[key]
	return v, ok
}

// Response is the result produced by exactly one middleware in a chain. The
// pipeline never inspects it; middlewares may modify or replace it on the way
// back up.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NewResponse returns a Response with the given status and an empty header.
func NewResponse(status int) *Response {
	return &Response{
		StatusCode: status,
		Header:     make(http.Header),
	}
}

// Text returns a plain-text response.
func Text(status int, body string) *Response {
	resp := NewResponse(status)
	resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp.Body = []byte(body)
	return resp
}

// JSON returns a response with v encoded as JSON.
func JSON(status int, v any) (*Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	resp := NewResponse(status)
	resp.Header.Set("Content-Type", "application/json; charset=utf-8")
	resp.Body = body
	return resp, nil
}

// SetHeader sets a header on the response, allocating the header map if needed.
func (r *Response) SetHeader(key, value string) {
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	r.Header.Set(key, value)
}
