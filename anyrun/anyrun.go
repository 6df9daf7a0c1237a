// Package anyrun scrapes the ANY.RUN malware-trends page for the families
// currently ranked there.
//
// The page has no stable API and its markup drifts. The scraper tries
// several extraction strategies and, when all of them come up empty, falls
// back to a static baseline so trend data never goes fully dark.
package anyrun

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/quay/zlog"

	"github.com/vigilsec/vigil"
	"github.com/vigilsec/vigil/driver"
	"github.com/vigilsec/vigil/internal/budget"
	"github.com/vigilsec/vigil/internal/httputil"
	"github.com/vigilsec/vigil/postgrest"
)

//doc:url feed
const DefaultURL = `https://any.run/malware-trends/`

const name = `anyrun`

// Baseline is written with source "anyrun-fallback" when scraping yields
// nothing.
var Baseline = []string{
	"AsyncRAT", "Remcos", "AgentTesla", "FormBook", "RedLine",
	"Lumma", "XWorm", "SmokeLoader", "Amadey", "DarkGate",
	"Vidar", "Stealc", "PikaBot", "GuLoader", "Cobalt Strike",
}

// knownFamilies is the keyword net for the last-resort text scan.
var knownFamilies = []string{
	"AsyncRAT", "Remcos", "AgentTesla", "FormBook", "RedLine",
	"Lumma", "XWorm", "SmokeLoader", "Amadey", "DarkGate",
	"Vidar", "Stealc", "PikaBot", "GuLoader", "Cobalt Strike",
	"Emotet", "QakBot", "NanoCore", "njRAT", "Raccoon",
	"IcedID", "TrickBot", "Rhadamanthys", "Snake Keylogger",
}

var _ driver.Feed = (*Ingester)(nil)

// Ingester scrapes the trends page and upserts malware_families keyed on
// name.
type Ingester struct {
	c   *http.Client
	url string
}

// Option configures the Ingester.
type Option func(*Ingester)

// WithURL overrides the page location.
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

type familyRow struct {
	Name        string  `json:"name"`
	MalwareType string  `json:"malware_type"`
	Source      string  `json:"source"`
	LastSeen    *string `json:"last_seen"`
	Rank        int     `json:"rank,omitempty"`
}

// extract tries, in order: JSON-LD ItemList blocks, data-family attributes,
// and a case-insensitive keyword scan of the page text.
func extract(doc *goquery.Document) []string {
	var names []string
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var ld struct {
			ItemListElement []struct {
				Name string `json:"name"`
				Item struct {
					Name string `json:"name"`
				} `json:"item"`
			} `json:"itemListElement"`
		}
		if err := json.Unmarshal([]byte(s.Text()), &ld); err != nil {
			return true
		}
		for _, e := range ld.ItemListElement {
			n := e.Name
			if n == "" {
				n = e.Item.Name
			}
			if n != "" {
				names = append(names, n)
			}
		}
		return len(names) == 0
	})
	if len(names) > 0 {
		return names
	}

	doc.Find(`[data-family]`).Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr("data-family"); ok && v != "" {
			names = append(names, v)
		}
	})
	if len(names) > 0 {
		return names
	}

	text := strings.ToLower(doc.Text())
	for _, f := range knownFamilies {
		if strings.Contains(text, strings.ToLower(f)) {
			names = append(names, f)
		}
	}
	return names
}

// Ingest implements driver.Feed.
func (i *Ingester) Ingest(ctx context.Context, store *postgrest.Client, _ driver.Environ) driver.Result {
	ctx = zlog.ContextWithValues(ctx, "component", "anyrun/Ingester.Ingest")

	source := name
	var names []string
	req, err := httputil.NewRequest(ctx, http.MethodGet, i.url, nil)
	if err != nil {
		return driver.Fail(name, err)
	}
	res, err := i.c.Do(req)
	switch {
	case err != nil && budget.Exhausted(err):
		return driver.PartialBudget(name, 0, 0)
	case err != nil:
		zlog.Warn(ctx).Err(err).Msg("trends page unreachable; using baseline")
	default:
		err = httputil.CheckResponse(res, http.StatusOK)
		if err == nil {
			var doc *goquery.Document
			doc, err = goquery.NewDocumentFromReader(res.Body)
			if err == nil {
				names = extract(doc)
			}
		}
		res.Body.Close()
		if err != nil {
			zlog.Warn(ctx).Err(err).Msg("trends page unparseable; using baseline")
		}
	}
	if len(names) == 0 {
		names = Baseline
		source = "anyrun-fallback"
	}

	rows := make([]familyRow, 0, len(names))
	now := vigil.Now()
	for idx, n := range names {
		rows = append(rows, familyRow{
			Name:        n,
			MalwareType: vigil.InferMalwareType(n),
			Source:      source,
			LastSeen:    &now,
			Rank:        idx + 1,
		})
	}
	rows = driver.Dedupe(rows, func(r familyRow) string { return strings.ToLower(r.Name) })

	var updated, failed int
	var lastErr string
	for _, batch := range driver.Chunks(rows, 50) {
		if err := store.Upsert(ctx, "malware_families", batch, postgrest.UpsertOpts{OnConflict: "name"}); err != nil {
			if budget.Exhausted(err) {
				return driver.PartialBudget(name, updated, failed)
			}
			failed += len(batch)
			lastErr = err.Error()
			continue
		}
		updated += len(batch)
	}
	zlog.Info(ctx).Str("source", source).Int("updated", updated).Int("failed", failed).Msg("anyrun ingest finished")
	return driver.Result{
		Source:    name,
		Success:   true,
		Updated:   updated,
		Failed:    failed,
		LastError: lastErr,
		Extra:     map[string]any{"fallback": source == "anyrun-fallback"},
	}
}
