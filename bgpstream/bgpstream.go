// Package bgpstream ingests routing incidents (hijacks, leaks, outages)
// from the BGPStream RSS feed and records the affected prefixes as ip
// indicators.
package bgpstream

import (
	"context"
	"io"
	"net/http"
	"net/netip"
	"regexp"
	"strings"

	"github.com/quay/zlog"

	"github.com/vigilsec/vigil"
	"github.com/vigilsec/vigil/driver"
	"github.com/vigilsec/vigil/internal/budget"
	"github.com/vigilsec/vigil/internal/httputil"
	"github.com/vigilsec/vigil/internal/rss"
	"github.com/vigilsec/vigil/postgrest"
)

//doc:url feed
const DefaultURL = `https://bgpstream.crosswork.cisco.com/rss`

const name = `bgpstream`

var (
	_ driver.Feed = (*Ingester)(nil)

	// prefixRe over-matches; ParseAddr rejects out-of-range octets.
	prefixRe = regexp.MustCompile(`(?:\d{1,3}\.){3}\d{1,3}(?:/\d{1,2})?`)
)

// Ingester extracts announced prefixes from event titles and descriptions.
// The prefix length is dropped; the base address is stored as an ip IOC
// tagged with the event kind.
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

// eventKind classifies an item title.
func eventKind(title string) string {
	t := strings.ToLower(title)
	switch {
	case strings.Contains(t, "hijack"):
		return "hijack"
	case strings.Contains(t, "leak"):
		return "leak"
	case strings.Contains(t, "outage"):
		return "outage"
	default:
		return "event"
	}
}

// Ingest implements driver.Feed.
func (i *Ingester) Ingest(ctx context.Context, store *postgrest.Client, _ driver.Environ) driver.Result {
	ctx = zlog.ContextWithValues(ctx, "component", "bgpstream/Ingester.Ingest")

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
	doc, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return driver.Fail(name, err)
	}

	items := rss.Parse(string(doc))
	if len(items) == 0 {
		return driver.Skip(name, "no events in feed")
	}

	var iocs []vigil.IOC
	for _, it := range items {
		kind := eventKind(it.Title)
		for _, prefix := range prefixRe.FindAllString(it.Title+" "+it.Description, -1) {
			addr, _, _ := strings.Cut(prefix, "/")
			ip, err := netip.ParseAddr(addr)
			if err != nil {
				continue
			}
			iocs = append(iocs, vigil.IOC{
				Type:       vigil.TypeIP,
				Value:      ip.String(),
				Confidence: vigil.ConfidenceMedium,
				Source:     name,
				FirstSeen:  it.PubDate,
				SourceURL:  it.Link,
				Tags:       []string{"bgp", kind},
				Metadata:   map[string]any{"prefix": prefix, "event": it.Title},
			})
		}
	}
	if len(iocs) == 0 {
		return driver.Skip(name, "no prefixes in events")
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
	zlog.Info(ctx).Int("updated", updated).Int("failed", failed).Msg("bgpstream ingest finished")
	return driver.Result{Source: name, Success: true, Updated: updated, Failed: failed, LastError: lastErr}
}
