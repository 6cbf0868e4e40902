// Package stage provides reusable pipeline middlewares: request ids,
// logging, authentication, rate limiting, caching, auditing and
// instrumentation wrappers, plus a few terminal handlers.
//
// Every constructor returns a pipeline.Middleware, so stages can be freely
// combined with pipeline.Builder and pipeline forks.
package stage
