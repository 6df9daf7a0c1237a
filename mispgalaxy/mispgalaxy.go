// Package mispgalaxy ingests community-curated threat actors from the MISP
// galaxy repository.
package mispgalaxy

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
const DefaultURL = `https://raw.githubusercontent.com/MISP/misp-galaxy/main/clusters/threat-actor.json`

const name = `misp-galaxy`

var _ driver.Feed = (*Ingester)(nil)

// Ingester fetches the threat-actor cluster file and upserts threat_actors
// keyed on name.
type Ingester struct {
	c   *http.Client
	url string
}

// Option configures the Ingester.
type Option func(*Ingester)

// WithURL overrides the cluster file location.
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

type cluster struct {
	Values []struct {
		Value       string `json:"value"`
		Description string `json:"description"`
		Meta        struct {
			Country          vigil.StringList `json:"country"`
			Synonyms         []string         `json:"synonyms"`
			SuspectedVictims []string         `json:"cfr-suspected-victims"`
			TargetCategory   []string         `json:"cfr-target-category"`
		} `json:"meta"`
	} `json:"values"`
}

// Ingest implements driver.Feed.
func (i *Ingester) Ingest(ctx context.Context, store *postgrest.Client, _ driver.Environ) driver.Result {
	ctx = zlog.ContextWithValues(ctx, "component", "mispgalaxy/Ingester.Ingest")

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

	var cl cluster
	if err := json.NewDecoder(res.Body).Decode(&cl); err != nil {
		return driver.Fail(name, fmt.Errorf("decoding cluster: %w", err))
	}
	if len(cl.Values) == 0 {
		return driver.Skip(name, "no actors in cluster")
	}

	actors := make([]vigil.ThreatActor, 0, len(cl.Values))
	for _, v := range cl.Values {
		if v.Value == "" {
			continue
		}
		actors = append(actors, vigil.ThreatActor{
			Name:            v.Value,
			Aliases:         vigil.NonNull(v.Meta.Synonyms),
			ActorType:       vigil.InferActorType(v.Value, v.Description),
			Status:          "active",
			TargetCountries: vigil.NonNull(v.Meta.SuspectedVictims),
			TargetSectors:   vigil.NonNull(v.Meta.TargetCategory),
			Description:     v.Description,
			Source:          name,
			Metadata: map[string]any{
				"origin_country": v.Meta.Country.OrEmpty(),
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
	zlog.Info(ctx).Int("updated", updated).Int("failed", failed).Msg("misp-galaxy ingest finished")
	return driver.Result{Source: name, Success: true, Updated: updated, Failed: failed, LastError: lastErr}
}
