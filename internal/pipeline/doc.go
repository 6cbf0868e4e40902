// Package pipeline implements an ordered request-dispatch pipeline.
//
// Every request travels through a chain of middlewares. Each middleware may
// answer the request itself, change the request and hand it to the rest of the
// chain through its *Next, or inspect and rewrite the response the rest of the
// chain produced. Middlewares run in registration order on the way down and in
// reverse order on the way back up.
//
//	b := pipeline.NewBuilder()
//	b.Add(stage.RequestID())
//	b.Add(pipeline.MustWhenPath("/api/v2", func(v2 *pipeline.Builder) {
//		v2.Add(auth)
//		v2.AddHandler(apiV2)
//	}))
//	b.Add(pipeline.HandleFunc(notFound))
//	p := b.MustBuild()
//
//	resp, err := p.Serve(ctx, req)
//
// Pipelines and forks are built once and are read-only afterwards, so a single
// Pipeline can serve any number of concurrent requests.
package pipeline
