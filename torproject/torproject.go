// Package torproject ingests the Tor bulk exit list as anonymization IOCs.
package torproject

import (
	"bufio"
	"context"
	"net/http"
	"regexp"

	"github.com/quay/zlog"

	"github.com/vigilsec/vigil"
	"github.com/vigilsec/vigil/driver"
	"github.com/vigilsec/vigil/internal/budget"
	"github.com/vigilsec/vigil/internal/httputil"
	"github.com/vigilsec/vigil/postgrest"
)

//doc:url feed
const DefaultURL = `https://check.torproject.org/torbulkexitlist`

const name = `tor-exits`

var (
	_ driver.Feed = (*Ingester)(nil)

	ipv4Re = regexp.MustCompile(`^(?:\d{1,3}\.){3}\d{1,3}$`)
)

// Ingester pulls the plain-text exit list, one address per line.
type Ingester struct {
	c   *http.Client
	url string
}

// Option configures the Ingester.
type Option func(*Ingester)

// WithURL overrides the list endpoint.
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

// Ingest implements driver.Feed.
func (i *Ingester) Ingest(ctx context.Context, store *postgrest.Client, _ driver.Environ) driver.Result {
	ctx = zlog.ContextWithValues(ctx, "component", "torproject/Ingester.Ingest")

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

	now := vigil.Now()
	var iocs []vigil.IOC
	sc := bufio.NewScanner(res.Body)
	for sc.Scan() {
		line := sc.Text()
		if !ipv4Re.MatchString(line) {
			continue
		}
		iocs = append(iocs, vigil.IOC{
			Type:       vigil.TypeIP,
			Value:      line,
			Confidence: vigil.ConfidenceHigh,
			Source:     name,
			LastSeen:   &now,
			Tags:       []string{"tor", "exit-node", "anonymization"},
		})
	}
	if err := sc.Err(); err != nil {
		return driver.Fail(name, err)
	}
	if len(iocs) == 0 {
		return driver.Skip(name, "empty exit list")
	}
	iocs = driver.Dedupe(iocs, func(i vigil.IOC) string { return i.Key() })

	var updated, failed int
	var lastErr string
	for _, batch := range driver.Chunks(iocs, 200) {
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
	zlog.Info(ctx).Int("updated", updated).Int("failed", failed).Msg("tor exit list ingest finished")
	return driver.Result{Source: name, Success: true, Updated: updated, Failed: failed, LastError: lastErr}
}
