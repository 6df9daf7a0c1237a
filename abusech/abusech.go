// Package abusech ingests the abuse.ch feed family: ThreatFox IOCs, URLhaus
// recent URLs, the Feodo Tracker botnet-C2 blocklist, and recent
// MalwareBazaar samples.
//
// ThreatFox, URLhaus, and MalwareBazaar require an Auth-Key; those ingesters
// skip without one. Feodo Tracker is open.
package abusech

import (
	"context"
	"net/http"

	"github.com/vigilsec/vigil"
	"github.com/vigilsec/vigil/driver"
	"github.com/vigilsec/vigil/internal/budget"
	"github.com/vigilsec/vigil/postgrest"
)

// KeyEnv is the environment variable holding the abuse.ch Auth-Key.
const KeyEnv = `ABUSECH_API_KEY`

// iocConflict is the natural key every IOC upsert batches on.
var iocConflict = postgrest.UpsertOpts{OnConflict: "type,value"}

// upsertIOCs writes iocs in batches of batchSize, deduplicating on
// (type,value) first. It returns counters plus ok=false when the budget ran
// out mid-way.
func upsertIOCs(ctx context.Context, store *postgrest.Client, iocs []vigil.IOC, batchSize int) (updated, failed int, lastErr string, ok bool) {
	iocs = driver.Dedupe(iocs, func(i vigil.IOC) string { return i.Key() })
	for _, batch := range driver.Chunks(iocs, batchSize) {
		if err := store.Upsert(ctx, "iocs", batch, iocConflict); err != nil {
			if budget.Exhausted(err) {
				return updated, failed, lastErr, false
			}
			failed += len(batch)
			lastErr = err.Error()
			continue
		}
		updated += len(batch)
	}
	return updated, failed, lastErr, true
}

// option plumbing shared by the four ingesters.
type feed struct {
	c   *http.Client
	url string
}

// Option configures any abuse.ch ingester.
type Option func(*feed)

// WithURL overrides the feed endpoint.
func WithURL(u string) Option { return func(f *feed) { f.url = u } }

// WithClient sets the http.Client used for fetching.
func WithClient(c *http.Client) Option { return func(f *feed) { f.c = c } }

func newFeed(url string, opts ...Option) feed {
	f := feed{c: http.DefaultClient, url: url}
	for _, o := range opts {
		o(&f)
	}
	return f
}

func authKey(env driver.Environ) (string, bool) {
	k, ok := env.Lookup(KeyEnv)
	return k, ok && k != ""
}
