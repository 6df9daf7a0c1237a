// Package vulncheck ingests the VulnCheck KEV index, a community-extended
// known-exploited catalog.
package vulncheck

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/quay/zlog"

	"github.com/vigilsec/vigil"
	"github.com/vigilsec/vigil/driver"
	"github.com/vigilsec/vigil/internal/budget"
	"github.com/vigilsec/vigil/internal/httputil"
	"github.com/vigilsec/vigil/postgrest"
)

//doc:url feed
const DefaultURL = `https://api.vulncheck.com/v3/index/vulncheck-kev`

const (
	name = `vulncheck`

	// KeyEnv is the environment variable holding the bearer token.
	KeyEnv = `VULNCHECK_API_KEY`

	// MaxPages bounds cursor pagination per run.
	MaxPages = 5
)

var _ driver.Feed = (*Ingester)(nil)

// Ingester pages through the index with the _meta.next_cursor token, at
// most MaxPages pages per run.
type Ingester struct {
	c   *http.Client
	url string
}

// Option configures the Ingester.
type Option func(*Ingester)

// WithURL overrides the index endpoint.
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

type kevRecord struct {
	// cve arrives as a scalar in old records and an array in new ones.
	CVE                        vigil.StringList `json:"cve"`
	VendorProject              string           `json:"vendorProject"`
	Product                    string           `json:"product"`
	ShortDescription           string           `json:"shortDescription"`
	DateAdded                  string           `json:"date_added"`
	DueDate                    string           `json:"dueDate"`
	KnownRansomwareCampaignUse string           `json:"knownRansomwareCampaignUse"`
}

type page struct {
	Data []kevRecord `json:"data"`
	Meta struct {
		NextCursor string `json:"next_cursor"`
	} `json:"_meta"`
}

// Ingest implements driver.Feed.
func (i *Ingester) Ingest(ctx context.Context, store *postgrest.Client, env driver.Environ) driver.Result {
	ctx = zlog.ContextWithValues(ctx, "component", "vulncheck/Ingester.Ingest")

	key, ok := env.Lookup(KeyEnv)
	if !ok || key == "" {
		return driver.Skip(name, "VULNCHECK_API_KEY not set")
	}

	var vulns []vigil.Vulnerability
	cursor := ""
	for p := 0; p < MaxPages; p++ {
		u := i.url
		if cursor != "" {
			u += "?" + url.Values{"cursor": {cursor}}.Encode()
		}
		req, err := httputil.NewRequest(ctx, http.MethodGet, u, nil)
		if err != nil {
			return driver.Fail(name, err)
		}
		req.Header.Set("Authorization", "Bearer "+key)
		res, err := i.c.Do(req)
		if err != nil {
			if budget.Exhausted(err) {
				return driver.PartialBudget(name, 0, 0)
			}
			return driver.Fail(name, err)
		}
		var pg page
		err = httputil.CheckResponse(res, http.StatusOK)
		if err == nil {
			err = json.NewDecoder(res.Body).Decode(&pg)
		}
		res.Body.Close()
		if err != nil {
			return driver.Fail(name, fmt.Errorf("page %d: %w", p, err))
		}
		for _, r := range pg.Data {
			cve := r.CVE.First()
			if !vigil.ValidCVE(cve) {
				continue
			}
			vendors, products := []string{}, []string{}
			if r.VendorProject != "" {
				vendors = append(vendors, r.VendorProject)
			}
			if r.Product != "" {
				products = append(products, r.Product)
			}
			vulns = append(vulns, vigil.Vulnerability{
				CVEID:                 cve,
				Description:           r.ShortDescription,
				Severity:              vigil.High,
				AffectedVendors:       vendors,
				AffectedProducts:      products,
				KEVDate:               vigil.Date(r.DateAdded),
				KEVDueDate:            vigil.Date(r.DueDate),
				ExploitedInWild:       true,
				RansomwareCampaignUse: r.KnownRansomwareCampaignUse == "Known",
				Source:                name,
			})
		}
		cursor = pg.Meta.NextCursor
		if cursor == "" {
			break
		}
	}
	if len(vulns) == 0 {
		return driver.Skip(name, "no records in index")
	}
	vulns = driver.Dedupe(vulns, func(v vigil.Vulnerability) string { return v.CVEID })

	var updated, failed int
	var lastErr string
	for _, batch := range driver.Chunks(vulns, 50) {
		if err := store.Upsert(ctx, "vulnerabilities", batch, postgrest.UpsertOpts{OnConflict: "cve_id"}); err != nil {
			if budget.Exhausted(err) {
				return driver.PartialBudget(name, updated, failed)
			}
			failed += len(batch)
			lastErr = err.Error()
			continue
		}
		updated += len(batch)
	}
	zlog.Info(ctx).Int("updated", updated).Int("failed", failed).Msg("vulncheck ingest finished")
	return driver.Result{Source: name, Success: true, Updated: updated, Failed: failed, LastError: lastErr}
}
