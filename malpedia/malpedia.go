// Package malpedia ingests threat actors from the Malpedia public API.
//
// Malware-family ingestion is intentionally left out; actor trends come from
// incident sources instead.
package malpedia

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/quay/zlog"

	"github.com/vigilsec/vigil"
	"github.com/vigilsec/vigil/driver"
	"github.com/vigilsec/vigil/internal/budget"
	"github.com/vigilsec/vigil/internal/httputil"
	"github.com/vigilsec/vigil/postgrest"
)

//doc:url feed
const DefaultURL = `https://malpedia.caad.fkie.fraunhofer.de/api/list/actors`

const name = `malpedia`

var _ driver.Feed = (*Ingester)(nil)

// Ingester fetches the actor list and upserts threat_actors keyed on name.
type Ingester struct {
	c   *http.Client
	url string
}

// Option configures the Ingester.
type Option func(*Ingester)

// WithURL overrides the API endpoint.
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

type actorEntry struct {
	Value string `json:"value"`
	Meta  struct {
		// country is a scalar in some records and an array in others.
		Country  vigil.StringList `json:"country"`
		Synonyms []string         `json:"synonyms"`
		Refs     []string         `json:"refs"`
	} `json:"meta"`
	Description string `json:"description"`
}

// Ingest implements driver.Feed.
func (i *Ingester) Ingest(ctx context.Context, store *postgrest.Client, _ driver.Environ) driver.Result {
	ctx = zlog.ContextWithValues(ctx, "component", "malpedia/Ingester.Ingest")

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

	// The API returns a map keyed by actor slug.
	var raw map[string]actorEntry
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return driver.Fail(name, fmt.Errorf("decoding actor list: %w", err))
	}
	if len(raw) == 0 {
		return driver.Skip(name, "no actors returned")
	}

	actors := make([]vigil.ThreatActor, 0, len(raw))
	for slug, e := range raw {
		n := e.Value
		if n == "" {
			n = slug
		}
		actors = append(actors, vigil.ThreatActor{
			Name:            n,
			Aliases:         vigil.NonNull(e.Meta.Synonyms),
			ActorType:       vigil.InferActorType(n, e.Description),
			Status:          "active",
			TargetCountries: []string{},
			TargetSectors:   []string{},
			Description:     e.Description,
			Source:          name,
			Metadata: map[string]any{
				"origin_country": e.Meta.Country.OrEmpty(),
				"refs":           vigil.NonNull(e.Meta.Refs),
			},
		})
	}
	actors = driver.Dedupe(actors, func(a vigil.ThreatActor) string { return a.Name })

	var updated, failed int
	var lastErr string
	for _, batch := range driver.Chunks(actors, 50) {
		if err := store.Upsert(ctx, "threat_actors", batch, postgrest.UpsertOpts{OnConflict: "name"}); err != nil {
			if budget.Exhausted(err) {
				return driver.PartialBudget(name, updated, failed)
			}
			failed += len(batch)
			lastErr = err.Error()
			continue
		}
		updated += len(batch)
	}
	zlog.Info(ctx).Int("updated", updated).Int("failed", failed).Msg("malpedia ingest finished")
	return driver.Result{Source: name, Success: true, Updated: updated, Failed: failed, LastError: lastErr}
}
