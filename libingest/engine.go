// Package libingest drives the ingestion engine: it maps cron triggers to
// adapter buckets, runs the adapters sequentially under a shared subrequest
// budget, and records one sync-log row per invocation.
package libingest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/quay/zlog"

	"github.com/vigilsec/vigil/driver"
	"github.com/vigilsec/vigil/internal/budget"
	"github.com/vigilsec/vigil/postgrest"
)

// DefaultDeadline caps a whole invocation. Adapters see it through the
// context on every outbound call.
const DefaultDeadline = 5 * time.Minute

// Options configures an Engine.
type Options struct {
	// StoreURL and StoreKey locate and authenticate the destination.
	StoreURL string
	StoreKey string
	// Env supplies adapter secrets. Nil means the process environment.
	Env driver.Environ
	// Budget is the subrequest cap per invocation. Non-positive means
	// budget.DefaultLimit.
	Budget int
	// Deadline is the wall-clock cap per invocation. Zero means
	// DefaultDeadline.
	Deadline time.Duration
	// Transport is the base RoundTripper for all outbound calls. Nil means
	// http.DefaultTransport.
	Transport http.RoundTripper
}

// Engine dispatches ingestion runs. Safe for concurrent use; each run gets
// its own budget and store client.
type Engine struct {
	opts  Options
	feeds map[string]factory
}

// New returns an Engine.
func New(_ context.Context, opts Options) (*Engine, error) {
	if opts.StoreURL == "" || opts.StoreKey == "" {
		return nil, fmt.Errorf("libingest: store URL and key are required")
	}
	if opts.Env == nil {
		opts.Env = driver.OSEnv{}
	}
	if opts.Deadline <= 0 {
		opts.Deadline = DefaultDeadline
	}
	return &Engine{opts: opts, feeds: feedFactories()}, nil
}

// Report is the aggregated outcome of one invocation. ID is unique per
// invocation and ties log lines, the HTTP response, and the sync-log row
// together.
type Report struct {
	ID       uuid.UUID                `json:"id"`
	Cron     string                   `json:"cron"`
	Bucket   string                   `json:"bucket"`
	Duration time.Duration            `json:"-"`
	Results  map[string]driver.Result `json:"results"`
}

// Status summarizes the per-feed results: error if any feed failed outright,
// partial if any was cut short, success otherwise.
func (r *Report) Status() string {
	status := "success"
	for _, res := range r.Results {
		switch {
		case !res.Success:
			return "error"
		case res.Partial:
			status = "partial"
		}
	}
	return status
}

// invocation is the per-run state: one budget, one counted client, one
// store handle.
func (e *Engine) invocation() (*http.Client, *postgrest.Client, error) {
	b := budget.New(e.opts.Budget)
	hc := &http.Client{
		Transport: budget.NewTransport(b, e.opts.Transport),
		Timeout:   30 * time.Second,
	}
	store, err := postgrest.New(e.opts.StoreURL, e.opts.StoreKey, postgrest.WithClient(hc))
	if err != nil {
		return nil, nil, err
	}
	return hc, store, nil
}

// RunCron executes the bucket registered for the cron expression. Unknown
// expressions are a logged no-op success.
func (e *Engine) RunCron(ctx context.Context, cron string) (*Report, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "libingest/Engine.RunCron", "cron", cron)

	b, ok := buckets[cron]
	if !ok {
		zlog.Warn(ctx).Msg("unknown cron trigger; nothing to do")
		return &Report{ID: uuid.New(), Cron: cron, Results: map[string]driver.Result{}}, nil
	}
	return e.run(ctx, cron, b)
}

// RunBucket executes a bucket by its friendly name.
func (e *Engine) RunBucket(ctx context.Context, name string) (*Report, error) {
	cron, b, ok := bucketByName(name)
	if !ok {
		return nil, fmt.Errorf("libingest: unknown bucket %q", name)
	}
	ctx = zlog.ContextWithValues(ctx, "component", "libingest/Engine.RunBucket", "bucket", name)
	return e.run(ctx, cron, b)
}

// RunFeed executes a single adapter under its own budget and writes a
// sync-log row, same as a bucket run.
func (e *Engine) RunFeed(ctx context.Context, name string) (*Report, error) {
	f, ok := e.feeds[name]
	if !ok {
		return nil, fmt.Errorf("libingest: unknown feed %q", name)
	}
	ctx = zlog.ContextWithValues(ctx, "component", "libingest/Engine.RunFeed", "feed", name)
	return e.run(ctx, "", bucket{name: name, feeds: []factory{f}})
}

// Known reports whether name is a bucket or feed this engine can run.
func (e *Engine) Known(name string) bool {
	if _, _, ok := bucketByName(name); ok {
		return true
	}
	_, ok := e.feeds[name]
	return ok
}

func (e *Engine) run(ctx context.Context, cron string, b bucket) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Deadline)
	defer cancel()

	hc, store, err := e.invocation()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	report := &Report{
		ID:      uuid.New(),
		Cron:    cron,
		Bucket:  b.name,
		Results: make(map[string]driver.Result, len(b.feeds)),
	}
	ctx = zlog.ContextWithValues(ctx, "run_id", report.ID.String())
	for _, f := range b.feeds {
		feed := f(hc)
		fctx := zlog.ContextWithValues(ctx, "feed", feed.Name())
		zlog.Info(fctx).Msg("feed start")
		res := feed.Ingest(fctx, store, e.opts.Env)
		report.Results[feed.Name()] = res
		observeFeed(res)
		ev := zlog.Info(fctx)
		if !res.Success {
			ev = zlog.Error(fctx)
		}
		ev.Bool("success", res.Success).
			Bool("partial", res.Partial).
			Int("updated", res.Updated).
			Int("failed", res.Failed).
			Msg("feed done")
	}
	if b.rpcAfter != "" {
		if err := store.RPC(ctx, b.rpcAfter, nil, nil); err != nil {
			zlog.Warn(ctx).Err(err).Str("rpc", b.rpcAfter).Msg("post-ingest rpc failed")
		}
	}
	report.Duration = time.Since(start)
	observeRun(b.name, report)

	writeSyncLog(ctx, store, report)
	return report, nil
}
