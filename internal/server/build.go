package server

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/allaspectsdev/forkline/internal/config"
	"github.com/allaspectsdev/forkline/internal/pipeline"
	"github.com/allaspectsdev/forkline/internal/stage"
)

// Deps carries the collaborators Build wires into the pipeline. Nil fields
// switch the matching stage off.
type Deps struct {
	Logger      zerolog.Logger
	Observer    stage.Observer    // per-stage timing
	Recorder    stage.Recorder    // audit log
	Credentials stage.Credentials // basic-auth routes
}

// Build assembles the request pipeline described by cfg:
//
//	recover, request id, logger, audit, rate limit, cache,
//	one fork per route, default response
//
// Each route is a path fork. Method and header conditions are checked by a
// nested fork inside it, so a route that does not apply falls through to the
// next one with its path restored.
func Build(cfg *config.Config, deps Deps) (*pipeline.Pipeline, error) {
	b := pipeline.NewBuilder()
	wrap := wrapper(cfg, deps)

	b.Add(wrap("recover", stage.Recover()))
	b.Add(wrap("request_id", stage.RequestID()))
	b.Add(wrap("logger", stage.Logger(deps.Logger)))

	if cfg.Audit.Enabled && deps.Recorder != nil {
		b.Add(wrap("audit", stage.Audit(deps.Recorder, deps.Logger)))
	}

	if cfg.RateLimit.Enabled {
		limiter, err := newRateLimiter(cfg.RateLimit)
		if err != nil {
			return nil, err
		}
		b.Add(wrap("rate_limit", limiter))
	}

	if cfg.Cache.Enabled {
		cache, err := stage.NewCache(cfg.Cache.Size, cfg.Cache.TTL(), stage.VaryOn(routeHeaders(cfg.Routes)...))
		if err != nil {
			return nil, fmt.Errorf("creating response cache: %w", err)
		}
		b.Add(wrap("cache", cache))
	}

	for i, rc := range cfg.Routes {
		fork, err := buildRoute(rc, cfg.Auth, deps)
		if err != nil {
			return nil, fmt.Errorf("route %d (%s): %w", i, rc.Label(), err)
		}
		b.Add(wrap("route."+rc.Label(), fork))
	}

	b.Add(wrap("default", fixedResponse(cfg.DefaultResponse)))

	return b.Build()
}

// wrapper returns a function that decorates a stage with timing and tracing
// according to cfg.
func wrapper(cfg *config.Config, deps Deps) func(string, pipeline.Middleware) pipeline.Middleware {
	timed := cfg.Metrics.StageTiming && deps.Observer != nil
	traced := cfg.Tracing.Enabled && cfg.Tracing.PerStage
	return func(name string, mw pipeline.Middleware) pipeline.Middleware {
		if traced {
			mw = stage.Traced(name, mw)
		}
		if timed {
			mw = stage.Timed(name, mw, deps.Observer)
		}
		return mw
	}
}

func newRateLimiter(rc config.RateLimitConfig) (*stage.RateLimiter, error) {
	if rc.PerClient {
		rl, err := stage.PerClientRateLimit(rate.Limit(rc.Rate), rc.Burst, rc.MaxClients)
		if err != nil {
			return nil, fmt.Errorf("creating rate limiter: %w", err)
		}
		return rl, nil
	}
	return stage.RateLimit(rate.Limit(rc.Rate), rc.Burst), nil
}

func buildRoute(rc config.RouteConfig, auth config.AuthConfig, deps Deps) (*pipeline.Fork, error) {
	inner, err := routeStages(rc, auth, deps)
	if err != nil {
		return nil, err
	}

	var opts []pipeline.ForkOption
	if rc.StripPrefix {
		opts = append(opts, pipeline.StripPrefix())
	}

	conds := routeConditions(rc)
	if len(conds) == 0 {
		return pipeline.WhenPath(rc.Prefix, func(b *pipeline.Builder) {
			b.Add(inner...)
		}, opts...)
	}

	guarded, err := pipeline.When(pipeline.All(conds...), func(b *pipeline.Builder) {
		b.Add(inner...)
	})
	if err != nil {
		return nil, err
	}
	return pipeline.WhenPath(rc.Prefix, func(b *pipeline.Builder) {
		b.Add(guarded)
	}, opts...)
}

func routeConditions(rc config.RouteConfig) []pipeline.Predicate {
	var conds []pipeline.Predicate
	if len(rc.Methods) > 0 {
		conds = append(conds, pipeline.Method(rc.Methods...))
	}
	if rc.Header != "" {
		conds = append(conds, pipeline.HeaderEquals(rc.Header, rc.HeaderValue))
	}
	return conds
}

// routeHeaders returns the request headers that decide which route answers.
// The cache keys on them so a header-selected response is only replayed to
// requests carrying the same header values.
func routeHeaders(routes []config.RouteConfig) []string {
	var names []string
	for _, rc := range routes {
		if rc.Header != "" {
			names = append(names, rc.Header)
		}
	}
	return names
}

// routeStages returns the middlewares run inside a matched route.
func routeStages(rc config.RouteConfig, auth config.AuthConfig, deps Deps) ([]pipeline.Middleware, error) {
	var mws []pipeline.Middleware

	if rc.RequireHTTPS {
		mws = append(mws, stage.RequireHTTPS())
	}

	switch strings.ToLower(rc.Auth) {
	case "":
	case "basic":
		if deps.Credentials == nil {
			return nil, fmt.Errorf("basic auth requires credentials")
		}
		mws = append(mws, stage.BasicAuth(auth.Realm, deps.Credentials))
	case "bearer":
		if auth.BearerToken == "" {
			return nil, fmt.Errorf("bearer auth requires auth.bearer_token")
		}
		mws = append(mws, stage.BearerAuth(auth.BearerToken))
	default:
		return nil, fmt.Errorf("unknown auth mode %q", rc.Auth)
	}

	keys := make([]string, 0, len(rc.Headers))
	for k := range rc.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		mws = append(mws, stage.SetHeader(k, rc.Headers[k]))
	}

	switch {
	case rc.Echo:
		mws = append(mws, stage.Echo())
	case rc.Response != nil:
		mws = append(mws, fixedResponse(*rc.Response))
	}
	return mws, nil
}

// fixedResponse answers every request with rc.
func fixedResponse(rc config.ResponseConfig) pipeline.Middleware {
	contentType := rc.ContentType
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	return pipeline.HandleFunc(func(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
		resp := pipeline.NewResponse(rc.Status)
		resp.SetHeader("Content-Type", contentType)
		resp.Body = []byte(rc.Body)
		return resp, nil
	})
}
