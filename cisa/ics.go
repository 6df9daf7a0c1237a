package cisa

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/quay/zlog"

	"github.com/vigilsec/vigil"
	"github.com/vigilsec/vigil/driver"
	"github.com/vigilsec/vigil/internal/budget"
	"github.com/vigilsec/vigil/internal/httputil"
	"github.com/vigilsec/vigil/internal/rss"
	"github.com/vigilsec/vigil/postgrest"
)

//doc:url feed
const ICSURL = `https://www.cisa.gov/cybersecurity-advisories/ics-advisories.xml`

const icsName = `cisa-ics`

var (
	_ driver.Feed = (*ICS)(nil)

	advisoryIDRe = regexp.MustCompile(`(?i)ICSA-\d{2}-\d{3}-\d{2}`)
)

// ICS ingests industrial-control-systems advisories from the CISA RSS feed.
// Advisory ids come from the canonical ICSA pattern in the link or title;
// items without one get a synthesized id so reruns of the same item collide
// on upsert only within the run.
type ICS struct {
	c   *http.Client
	url string
}

// ICSOption configures an ICS ingester.
type ICSOption func(*ICS)

// WithICSURL overrides the feed endpoint.
func WithICSURL(u string) ICSOption { return func(i *ICS) { i.url = u } }

// WithICSClient sets the http.Client used for fetching.
func WithICSClient(c *http.Client) ICSOption { return func(i *ICS) { i.c = c } }

// NewICS returns an ICS ingester configured by opts.
func NewICS(opts ...ICSOption) *ICS {
	i := &ICS{c: http.DefaultClient, url: ICSURL}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Name implements driver.Feed.
func (*ICS) Name() string { return icsName }

// Ingest implements driver.Feed.
func (i *ICS) Ingest(ctx context.Context, store *postgrest.Client, _ driver.Environ) driver.Result {
	ctx = zlog.ContextWithValues(ctx, "component", "cisa/ICS.Ingest")

	req, err := httputil.NewRequest(ctx, http.MethodGet, i.url, nil)
	if err != nil {
		return driver.Fail(icsName, err)
	}
	res, err := i.c.Do(req)
	if err != nil {
		if budget.Exhausted(err) {
			return driver.PartialBudget(icsName, 0, 0)
		}
		return driver.Fail(icsName, err)
	}
	defer res.Body.Close()
	if err := httputil.CheckResponse(res, http.StatusOK); err != nil {
		return driver.Fail(icsName, err)
	}
	doc, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return driver.Fail(icsName, fmt.Errorf("reading feed: %w", err))
	}

	items := rss.Parse(string(doc))
	if len(items) == 0 {
		return driver.Skip(icsName, "no advisories in feed")
	}

	ts := time.Now().UTC().Unix()
	advisories := make([]vigil.ICSAdvisory, 0, len(items))
	for idx, it := range items {
		id := advisoryIDRe.FindString(it.Link)
		if id == "" {
			id = advisoryIDRe.FindString(it.Title)
		}
		if id == "" {
			id = fmt.Sprintf("ICS-%d-%d", ts, idx)
		}
		cves := vigil.CVERegexp.FindAllString(it.Title+" "+it.Description, -1)
		advisories = append(advisories, vigil.ICSAdvisory{
			AdvisoryID:       strings.ToUpper(id),
			Title:            it.Title,
			Description:      it.Description,
			Severity:         vigil.High,
			SourceURL:        it.Link,
			PublishedDate:    it.PubDate,
			CVEIDs:           vigil.NonNull(dedupeStrings(cves)),
			AffectedProducts: []string{},
			AffectedVendors:  []string{},
			Metadata:         map[string]any{"guid": it.GUID},
		})
	}
	advisories = driver.Dedupe(advisories, func(a vigil.ICSAdvisory) string { return a.AdvisoryID })

	var updated, failed int
	var lastErr string
	for _, batch := range driver.Chunks(advisories, 50) {
		if err := store.Upsert(ctx, "ics_advisories", batch, postgrest.UpsertOpts{OnConflict: "advisory_id"}); err != nil {
			if budget.Exhausted(err) {
				return driver.PartialBudget(icsName, updated, failed)
			}
			if postgrest.IsMissingTable(err) {
				zlog.Warn(ctx).Msg("ics_advisories table missing; skipping")
				return driver.Skip(icsName, "ics_advisories table missing")
			}
			failed += len(batch)
			lastErr = err.Error()
			continue
		}
		updated += len(batch)
	}
	zlog.Info(ctx).Int("updated", updated).Int("failed", failed).Msg("ics advisory ingest finished")
	return driver.Result{Source: icsName, Success: true, Updated: updated, Failed: failed, LastError: lastErr}
}

func dedupeStrings(xs []string) []string {
	seen := make(map[string]struct{}, len(xs))
	out := make([]string, 0, len(xs))
	for _, x := range xs {
		if _, ok := seen[x]; ok {
			continue
		}
		seen[x] = struct{}{}
		out = append(out, x)
	}
	return out
}
