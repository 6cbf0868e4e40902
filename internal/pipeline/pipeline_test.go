package pipeline

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// recorder collects the order in which middlewares run on the way down and
// on the way up.
type recorder struct {
	mu   sync.Mutex
	down []string
	up   []string
}

func (r *recorder) enter(name string) {
	r.mu.Lock()
	r.down = append(r.down, name)
	r.mu.Unlock()
}

func (r *recorder) leave(name string) {
	r.mu.Lock()
	r.up = append(r.up, name)
	r.mu.Unlock()
}

// passthrough records itself and delegates.
func passthrough(rec *recorder, name string) Middleware {
	return MiddlewareFunc(func(ctx context.Context, req *Request, next *Next) (*Response, error) {
		rec.enter(name)
		resp, err := next.Process(ctx, req)
		rec.leave(name)
		return resp, err
	})
}

// responder records itself and returns a response without calling next.
func responder(rec *recorder, name string, status int) Middleware {
	return MiddlewareFunc(func(ctx context.Context, req *Request, next *Next) (*Response, error) {
		rec.enter(name)
		rec.leave(name)
		return Text(status, name), nil
	})
}

func assertOrder(t *testing.T, label string, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: got %v, want %v", label, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("%s[%d]: got %q, want %q", label, i, got[i], want[i])
		}
	}
}

func newTestRequest(path string) *Request {
	return NewRequest(http.MethodGet, path)
}

// ---------------------------------------------------------------------------
// Ordering
// ---------------------------------------------------------------------------

// TestExecutionOrder verifies that middlewares run in registration order on
// the way down and in reverse order on the way up, and that nothing after the
// responding middleware executes.
func TestExecutionOrder(t *testing.T) {
	rec := &recorder{}
	never := MiddlewareFunc(func(ctx context.Context, req *Request, next *Next) (*Response, error) {
		t.Fatal("middleware after the responder must not run")
		return nil, nil
	})

	p, err := New(
		passthrough(rec, "first"),
		passthrough(rec, "second"),
		responder(rec, "third", http.StatusOK),
		never,
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := p.Serve(context.Background(), newTestRequest("/"))
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if string(resp.Body) != "third" {
		t.Errorf("body: got %q, want %q", resp.Body, "third")
	}

	assertOrder(t, "down", rec.down, []string{"first", "second", "third"})
	assertOrder(t, "up", rec.up, []string{"third", "second", "first"})
}

func TestShortCircuitStopsChain(t *testing.T) {
	rec := &recorder{}
	p := NewBuilder().
		Add(responder(rec, "gate", http.StatusUnauthorized)).
		Add(passthrough(rec, "later")).
		MustBuild()

	resp, err := p.Serve(context.Background(), newTestRequest("/"))
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status: got %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
	assertOrder(t, "down", rec.down, []string{"gate"})
}

// TestRequestMutationVisibleDownstream verifies that changes made by an
// earlier middleware are seen by later ones.
func TestRequestMutationVisibleDownstream(t *testing.T) {
	p := NewBuilder().
		AddFunc(func(ctx context.Context, req *Request, next *Next) (*Response, error) {
			req.Path = "/rewritten"
			req.Set("user", "alice")
			return next.Process(ctx, req)
		}).
		AddHandler(HandlerFunc(func(ctx context.Context, req *Request) (*Response, error) {
			user, _ := req.Get("user")
			return Text(http.StatusOK, req.Path+":"+user.(string)), nil
		})).
		MustBuild()

	resp, err := p.Serve(context.Background(), newTestRequest("/original"))
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if got := string(resp.Body); got != "/rewritten:alice" {
		t.Errorf("body: got %q, want %q", got, "/rewritten:alice")
	}
}

// TestPostProcessing mirrors a logging + header scenario: a header added on
// the way up is present on the final response and the outermost middleware
// observes the handler's 200.
func TestPostProcessing(t *testing.T) {
	var observed int

	p := NewBuilder().
		AddFunc(func(ctx context.Context, req *Request, next *Next) (*Response, error) {
			resp, err := next.Process(ctx, req)
			if resp != nil {
				observed = resp.StatusCode
			}
			return resp, err
		}).
		AddFunc(func(ctx context.Context, req *Request, next *Next) (*Response, error) {
			resp, err := next.Process(ctx, req)
			if err != nil {
				return nil, err
			}
			resp.SetHeader("X-Trace", "1")
			return resp, nil
		}).
		Add(HandleFunc(func(ctx context.Context, req *Request) (*Response, error) {
			return Text(http.StatusOK, "OK"), nil
		})).
		MustBuild()

	resp, err := p.Serve(context.Background(), newTestRequest("/"))
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if string(resp.Body) != "OK" {
		t.Errorf("body: got %q, want OK", resp.Body)
	}
	if resp.Header.Get("X-Trace") != "1" {
		t.Errorf("X-Trace: got %q, want 1", resp.Header.Get("X-Trace"))
	}
	if observed != http.StatusOK {
		t.Errorf("outer middleware observed %d, want 200", observed)
	}
}

func TestResponseReplacement(t *testing.T) {
	p := NewBuilder().
		AddFunc(func(ctx context.Context, req *Request, next *Next) (*Response, error) {
			if _, err := next.Process(ctx, req); err != nil {
				return nil, err
			}
			return Text(http.StatusInternalServerError, "replaced"), nil
		}).
		Add(HandleFunc(func(ctx context.Context, req *Request) (*Response, error) {
			return Text(http.StatusOK, "original"), nil
		})).
		MustBuild()

	resp, err := p.Serve(context.Background(), newTestRequest("/"))
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError || string(resp.Body) != "replaced" {
		t.Errorf("got %d %q, want 500 replaced", resp.StatusCode, resp.Body)
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestEmptyPipelineReturnsNoHandler(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Serve(context.Background(), newTestRequest("/"))
	if !errors.Is(err, ErrNoHandler) {
		t.Fatalf("expected ErrNoHandler, got %v", err)
	}
	if resp != nil {
		t.Errorf("expected nil response, got %+v", resp)
	}
}

func TestExhaustedPipelineReturnsNoHandler(t *testing.T) {
	rec := &recorder{}
	p := NewBuilder().
		Add(passthrough(rec, "a")).
		Add(passthrough(rec, "b")).
		MustBuild()

	_, err := p.Serve(context.Background(), newTestRequest("/"))
	if !errors.Is(err, ErrNoHandler) {
		t.Fatalf("expected ErrNoHandler, got %v", err)
	}
	assertOrder(t, "down", rec.down, []string{"a", "b"})
	assertOrder(t, "up", rec.up, []string{"b", "a"})
}

func TestHandlerErrorPropagatesUnchanged(t *testing.T) {
	boom := errors.New("boom")
	p := NewBuilder().
		AddFunc(func(ctx context.Context, req *Request, next *Next) (*Response, error) {
			return next.Process(ctx, req)
		}).
		Add(HandleFunc(func(ctx context.Context, req *Request) (*Response, error) {
			return nil, boom
		})).
		MustBuild()

	_, err := p.Serve(context.Background(), newTestRequest("/"))
	if err != boom {
		t.Fatalf("expected the handler's own error value, got %v", err)
	}
}

func TestBuildRejectsNilMiddleware(t *testing.T) {
	_, err := NewBuilder().Add(HandleFunc(nil), nil).Build()
	if !errors.Is(err, ErrNilMiddleware) {
		t.Fatalf("expected ErrNilMiddleware, got %v", err)
	}
}

func TestMustBuildPanicsOnNil(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected MustBuild to panic")
		}
	}()
	NewBuilder().Add(nil).MustBuild()
}

// ---------------------------------------------------------------------------
// Handler adapter
// ---------------------------------------------------------------------------

// TestHandleNeverInvokesNext verifies that a handler placed mid-chain returns
// its own response and that nothing after it runs.
func TestHandleNeverInvokesNext(t *testing.T) {
	rec := &recorder{}
	p := NewBuilder().
		Add(passthrough(rec, "before")).
		Add(HandleFunc(func(ctx context.Context, req *Request) (*Response, error) {
			rec.enter("handler")
			return Text(http.StatusTeapot, "handled"), nil
		})).
		Add(responder(rec, "after", http.StatusOK)).
		MustBuild()

	resp, err := p.Serve(context.Background(), newTestRequest("/"))
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("status: got %d, want %d", resp.StatusCode, http.StatusTeapot)
	}
	assertOrder(t, "down", rec.down, []string{"before", "handler"})
}

func TestHandleLeavesContinuationUnused(t *testing.T) {
	var captured *Next
	capture := MiddlewareFunc(func(ctx context.Context, req *Request, next *Next) (*Response, error) {
		captured = next
		return Handle(HandlerFunc(func(ctx context.Context, req *Request) (*Response, error) {
			return Text(http.StatusOK, "ok"), nil
		})).Process(ctx, req, next)
	})

	p := NewBuilder().Add(capture).MustBuild()
	if _, err := p.Serve(context.Background(), newTestRequest("/")); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if captured.Used() {
		t.Error("handler adapter must not invoke the continuation")
	}
}

// ---------------------------------------------------------------------------
// Nesting
// ---------------------------------------------------------------------------

// TestNestedPipelineIsClosed verifies that a plain pipeline registered as a
// middleware raises ErrNoHandler on exhaustion instead of falling through.
func TestNestedPipelineIsClosed(t *testing.T) {
	rec := &recorder{}
	inner := NewBuilder().Add(passthrough(rec, "inner")).MustBuild()
	outer := NewBuilder().
		Add(inner).
		Add(responder(rec, "fallback", http.StatusOK)).
		MustBuild()

	_, err := outer.Serve(context.Background(), newTestRequest("/"))
	if !errors.Is(err, ErrNoHandler) {
		t.Fatalf("expected ErrNoHandler from closed nested pipeline, got %v", err)
	}
	assertOrder(t, "down", rec.down, []string{"inner"})
}

func TestInlinePipelineFallsThrough(t *testing.T) {
	rec := &recorder{}
	inner := NewBuilder().Add(passthrough(rec, "inner")).MustBuild()
	outer := NewBuilder().
		Add(inner.Inline()).
		Add(responder(rec, "fallback", http.StatusOK)).
		MustBuild()

	resp, err := outer.Serve(context.Background(), newTestRequest("/"))
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if string(resp.Body) != "fallback" {
		t.Errorf("body: got %q, want fallback", resp.Body)
	}
	assertOrder(t, "down", rec.down, []string{"inner", "fallback"})
	assertOrder(t, "up", rec.up, []string{"fallback", "inner"})
}

func TestNestedPipelineResponds(t *testing.T) {
	rec := &recorder{}
	inner := NewBuilder().
		Add(passthrough(rec, "inner")).
		Add(responder(rec, "inner-handler", http.StatusAccepted)).
		MustBuild()
	outer := NewBuilder().
		Add(passthrough(rec, "outer")).
		Add(inner).
		MustBuild()

	resp, err := outer.Serve(context.Background(), newTestRequest("/"))
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status: got %d, want %d", resp.StatusCode, http.StatusAccepted)
	}
	assertOrder(t, "down", rec.down, []string{"outer", "inner", "inner-handler"})
}

// ---------------------------------------------------------------------------
// Builder lifecycle and concurrency
// ---------------------------------------------------------------------------

func TestBuiltPipelineUnaffectedByLaterAdds(t *testing.T) {
	rec := &recorder{}
	b := NewBuilder().Add(responder(rec, "first", http.StatusOK))
	p := b.MustBuild()
	b.Add(responder(rec, "second", http.StatusOK))

	if p.Len() != 1 {
		t.Fatalf("Len: got %d, want 1", p.Len())
	}
	if b.Len() != 2 {
		t.Fatalf("builder Len: got %d, want 2", b.Len())
	}
	mws := p.Middlewares()
	mws[0] = nil
	if p.Middlewares()[0] == nil {
		t.Error("Middlewares must return a copy")
	}
}

func TestConcurrentServe(t *testing.T) {
	p := NewBuilder().
		AddFunc(func(ctx context.Context, req *Request, next *Next) (*Response, error) {
			req.Set("seen", true)
			return next.Process(ctx, req)
		}).
		Add(HandleFunc(func(ctx context.Context, req *Request) (*Response, error) {
			return Text(http.StatusOK, req.Path), nil
		})).
		MustBuild()

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := p.Serve(context.Background(), newTestRequest("/concurrent"))
			if err != nil {
				errs <- err
				return
			}
			if string(resp.Body) != "/concurrent" {
				errs <- errors.New("unexpected body " + string(resp.Body))
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
