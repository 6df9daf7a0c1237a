// Package pulsedive ingests high-risk indicators from the Pulsedive explore
// API.
package pulsedive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/quay/zlog"
	"golang.org/x/time/rate"

	"github.com/vigilsec/vigil"
	"github.com/vigilsec/vigil/driver"
	"github.com/vigilsec/vigil/internal/budget"
	"github.com/vigilsec/vigil/internal/httputil"
	"github.com/vigilsec/vigil/postgrest"
)

//doc:url feed
const DefaultURL = `https://pulsedive.com/api/explore.php`

const (
	name = `pulsedive`

	// KeyEnv is the environment variable holding the API key.
	KeyEnv = `PULSEDIVE_API_KEY`
)

// queries are run in order, one fetch each, paced by the limiter. Pulsedive
// asks free-tier clients to stay under a request per second.
var queries = []string{
	`risk=critical type=ip`,
	`risk=critical type=domain`,
	`risk=high type=ip`,
	`risk=high type=url`,
}

var _ driver.Feed = (*Ingester)(nil)

// Ingester fetches one explore query per risk/type pair with 1.5 second
// spacing between fetches.
type Ingester struct {
	c   *http.Client
	url string
	lim *rate.Limiter
}

// Option configures the Ingester.
type Option func(*Ingester)

// WithURL overrides the API endpoint.
func WithURL(u string) Option { return func(i *Ingester) { i.url = u } }

// WithClient sets the http.Client used for fetching.
func WithClient(c *http.Client) Option { return func(i *Ingester) { i.c = c } }

// WithLimiter replaces the pacing limiter, for tests.
func WithLimiter(l *rate.Limiter) Option { return func(i *Ingester) { i.lim = l } }

// NewIngester returns an Ingester configured by opts.
func NewIngester(opts ...Option) *Ingester {
	i := &Ingester{
		c:   http.DefaultClient,
		url: DefaultURL,
		lim: rate.NewLimiter(rate.Every(1500*time.Millisecond), 1),
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Name implements driver.Feed.
func (*Ingester) Name() string { return name }

type exploreResponse struct {
	Results []struct {
		Indicator  string `json:"indicator"`
		Type       string `json:"type"`
		Risk       string `json:"risk"`
		StampAdded string `json:"stamp_added"`
		StampSeen  string `json:"stamp_seen"`
	} `json:"results"`
}

func riskConfidence(risk string) vigil.Confidence {
	switch risk {
	case "critical", "high":
		return vigil.ConfidenceHigh
	case "medium":
		return vigil.ConfidenceMedium
	default:
		return vigil.ConfidenceLow
	}
}

// Ingest implements driver.Feed.
func (i *Ingester) Ingest(ctx context.Context, store *postgrest.Client, env driver.Environ) driver.Result {
	ctx = zlog.ContextWithValues(ctx, "component", "pulsedive/Ingester.Ingest")

	key, ok := env.Lookup(KeyEnv)
	if !ok || key == "" {
		return driver.Skip(name, "PULSEDIVE_API_KEY not set")
	}

	var iocs []vigil.IOC
	for _, query := range queries {
		if err := i.lim.Wait(ctx); err != nil {
			return driver.Fail(name, err)
		}
		q := url.Values{}
		q.Set("q", query)
		q.Set("limit", "100")
		q.Set("key", key)
		req, err := httputil.NewRequest(ctx, http.MethodGet, i.url+"?"+q.Encode(), nil)
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
		var er exploreResponse
		err = httputil.CheckResponse(res, http.StatusOK)
		if err == nil {
			err = json.NewDecoder(res.Body).Decode(&er)
		}
		res.Body.Close()
		if err != nil {
			return driver.Fail(name, fmt.Errorf("query %q: %w", query, err))
		}
		for _, r := range er.Results {
			typ := vigil.IOCTypeFromPulsedive(r.Type)
			if typ == vigil.TypeUnknownIOC || r.Indicator == "" {
				continue
			}
			iocs = append(iocs, vigil.IOC{
				Type:       typ,
				Value:      r.Indicator,
				Confidence: riskConfidence(r.Risk),
				Source:     name,
				FirstSeen:  vigil.Timestamp(r.StampAdded),
				LastSeen:   vigil.Timestamp(r.StampSeen),
				Tags:       []string{"pulsedive", "risk-" + r.Risk},
				Metadata:   map[string]any{"risk": r.Risk},
			})
		}
	}
	if len(iocs) == 0 {
		return driver.Skip(name, "no indicators returned")
	}
	iocs = driver.Dedupe(iocs, func(i vigil.IOC) string { return i.Key() })

	var updated, failed int
	var lastErr string
	for _, batch := range driver.Chunks(iocs, 100) {
		if err := store.Upsert(ctx, "iocs", batch, postgrest.UpsertOpts{OnConflict: "type,value"}); err != nil {
			if budget.Exhausted(err) {
				return driver.PartialBudget(name, updated, failed)
			}
			failed += len(batch)
			lastErr = err.Error()
			continue
		}
		updated += len(batch)
	}
	zlog.Info(ctx).Int("updated", updated).Int("failed", failed).Msg("pulsedive ingest finished")
	return driver.Result{Source: name, Success: true, Updated: updated, Failed: failed, LastError: lastErr}
}
