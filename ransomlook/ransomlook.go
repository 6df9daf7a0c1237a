// Package ransomlook ingests recent ransomware leak-site posts from
// ransomlook.io as incidents.
package ransomlook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/quay/zlog"

	"github.com/vigilsec/vigil"
	"github.com/vigilsec/vigil/driver"
	"github.com/vigilsec/vigil/internal/actors"
	"github.com/vigilsec/vigil/internal/budget"
	"github.com/vigilsec/vigil/internal/httputil"
	"github.com/vigilsec/vigil/postgrest"
)

//doc:url feed
const DefaultURL = `https://www.ransomlook.io/api/recent`

const name = `ransomlook`

var _ driver.Feed = (*Ingester)(nil)

// Ingester pulls the recent-posts endpoint and writes one incident per
// post. Incidents have no natural key downstream; posts are deduplicated
// within the batch by link (or group+title when the post has no link) and
// written with plain insert, so duplicates across runs are possible.
type Ingester struct {
	c   *http.Client
	url string
}

// Option configures the Ingester.
type Option func(*Ingester)

// WithURL overrides the feed endpoint.
func WithURL(u string) Option { return func(i *Ingester) { i.url = u } }

// WithClient sets the http.Client used for fetching.
func WithClient(c *http.Client) Option { return func(i *Ingester) { i.c = c } }

// NewIngester returns an Ingester configured by opts.
func NewIngester(opts ...Option) *Ingester {
	i := &Ingester{c: http.DefaultClient, url: DefaultURL}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Name implements driver.Feed.
func (*Ingester) Name() string { return name }

type post struct {
	PostTitle   string `json:"post_title"`
	GroupName   string `json:"group_name"`
	Discovered  string `json:"discovered"`
	Description string `json:"description"`
	Link        string `json:"link"`
	Website     string `json:"website"`
	Country     string `json:"country"`
}

// Ingest implements driver.Feed.
func (i *Ingester) Ingest(ctx context.Context, store *postgrest.Client, _ driver.Environ) driver.Result {
	ctx = zlog.ContextWithValues(ctx, "component", "ransomlook/Ingester.Ingest")

	req, err := httputil.NewRequest(ctx, http.MethodGet, i.url, nil)
	if err != nil {
		return driver.Fail(name, err)
	}
	res, err := i.c.Do(req)
	if err != nil {
		if budget.Exhausted(err) {
			return driver.PartialBudget(name, 0, 0)
		}
		return driver.Fail(name, err)
	}
	defer res.Body.Close()
	if err := httputil.CheckResponse(res, http.StatusOK); err != nil {
		return driver.Fail(name, err)
	}

	var posts []post
	if err := json.NewDecoder(res.Body).Decode(&posts); err != nil {
		return driver.Fail(name, fmt.Errorf("decoding recent posts: %w", err))
	}
	if len(posts) == 0 {
		return driver.Skip(name, "no recent posts")
	}

	// Distinct group names resolve to actor ids, creating absentees.
	var groups []string
	seen := map[string]struct{}{}
	for _, p := range posts {
		if p.GroupName == "" {
			continue
		}
		if _, ok := seen[p.GroupName]; ok {
			continue
		}
		seen[p.GroupName] = struct{}{}
		groups = append(groups, p.GroupName)
	}
	ids, err := actors.Resolve(ctx, store, groups, name)
	if err != nil {
		if budget.Exhausted(err) {
			return driver.PartialBudget(name, 0, 0)
		}
		return driver.Fail(name, fmt.Errorf("resolving actors: %w", err))
	}

	incidents := make([]vigil.Incident, 0, len(posts))
	for _, p := range posts {
		inc := vigil.Incident{
			VictimName:     p.PostTitle,
			ActorID:        ids[p.GroupName],
			Source:         name,
			IncidentDate:   vigil.Date(p.Discovered),
			DiscoveredDate: vigil.Today(),
			VictimSector:   vigil.InferSector(p.PostTitle),
			Status:         vigil.StatusClaimed,
			RawData: map[string]any{
				"post_title": p.PostTitle,
				"group_name": p.GroupName,
				"discovered": p.Discovered,
				"link":       p.Link,
				"website":    p.Website,
			},
		}
		if d := vigil.Date(p.Discovered); d != nil {
			inc.DiscoveredDate = *d
		}
		incidents = append(incidents, inc)
	}
	incidents = driver.Dedupe(incidents, func(in vigil.Incident) string {
		if l, _ := in.RawData["link"].(string); l != "" {
			return l
		}
		g, _ := in.RawData["group_name"].(string)
		return g + "\x00" + in.VictimName
	})

	var updated, failed int
	var lastErr string
	for _, batch := range driver.Chunks(incidents, 100) {
		if err := store.Insert(ctx, "incidents", batch); err != nil {
			if budget.Exhausted(err) {
				return driver.PartialBudget(name, updated, failed)
			}
			failed += len(batch)
			lastErr = err.Error()
			zlog.Warn(ctx).Err(err).Int("batch", len(batch)).Msg("incident insert failed")
			continue
		}
		updated += len(batch)
	}

	// Recompute actor trend counters downstream. Best effort.
	if err := store.RPC(ctx, "apply_actor_trends", nil, nil); err != nil && !budget.Exhausted(err) {
		zlog.Warn(ctx).Err(err).Msg("apply_actor_trends failed")
	}

	zlog.Info(ctx).Int("updated", updated).Int("failed", failed).Msg("ransomlook ingest finished")
	return driver.Result{Source: name, Success: true, Updated: updated, Failed: failed, LastError: lastErr}
}
