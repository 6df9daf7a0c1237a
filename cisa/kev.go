// Package cisa ingests the CISA Known Exploited Vulnerabilities catalog and
// the ICS advisory RSS feed.
package cisa

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
const KEVURL = `https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json`

const kevName = `cisa-kev`

var _ driver.Feed = (*KEV)(nil)

// KEV ingests the exploited-vulnerabilities catalog. Every entry marks its
// CVE as exploited in the wild; ransomware_campaign_use reflects the
// catalog's knownRansomwareCampaignUse flag.
type KEV struct {
	c   *http.Client
	url string
}

// KEVOption configures a KEV ingester.
type KEVOption func(*KEV)

// WithKEVURL overrides the catalog endpoint.
func WithKEVURL(u string) KEVOption { return func(k *KEV) { k.url = u } }

// WithKEVClient sets the http.Client used for fetching.
func WithKEVClient(c *http.Client) KEVOption { return func(k *KEV) { k.c = c } }

// NewKEV returns a KEV ingester configured by opts.
func NewKEV(opts ...KEVOption) *KEV {
	k := &KEV{c: http.DefaultClient, url: KEVURL}
	for _, o := range opts {
		o(k)
	}
	return k
}

// Name implements driver.Feed.
func (*KEV) Name() string { return kevName }

type kevCatalog struct {
	CatalogVersion  string     `json:"catalogVersion"`
	Count           int        `json:"count"`
	Vulnerabilities []kevEntry `json:"vulnerabilities"`
}

type kevEntry struct {
	CVEID                      string `json:"cveID"`
	VendorProject              string `json:"vendorProject"`
	Product                    string `json:"product"`
	VulnerabilityName          string `json:"vulnerabilityName"`
	DateAdded                  string `json:"dateAdded"`
	ShortDescription           string `json:"shortDescription"`
	RequiredAction             string `json:"requiredAction"`
	DueDate                    string `json:"dueDate"`
	KnownRansomwareCampaignUse string `json:"knownRansomwareCampaignUse"`
}

// Ingest implements driver.Feed.
func (k *KEV) Ingest(ctx context.Context, store *postgrest.Client, _ driver.Environ) driver.Result {
	ctx = zlog.ContextWithValues(ctx, "component", "cisa/KEV.Ingest")

	req, err := httputil.NewRequest(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return driver.Fail(kevName, err)
	}
	res, err := k.c.Do(req)
	if err != nil {
		if budget.Exhausted(err) {
			return driver.PartialBudget(kevName, 0, 0)
		}
		return driver.Fail(kevName, err)
	}
	defer res.Body.Close()
	if err := httputil.CheckResponse(res, http.StatusOK); err != nil {
		return driver.Fail(kevName, err)
	}

	var catalog kevCatalog
	if err := json.NewDecoder(res.Body).Decode(&catalog); err != nil {
		return driver.Fail(kevName, fmt.Errorf("decoding catalog: %w", err))
	}
	if len(catalog.Vulnerabilities) == 0 {
		return driver.Skip(kevName, "empty catalog")
	}
	zlog.Debug(ctx).Str("catalog", catalog.CatalogVersion).Int("count", catalog.Count).Msg("fetched catalog")

	vulns := make([]vigil.Vulnerability, 0, len(catalog.Vulnerabilities))
	for _, e := range catalog.Vulnerabilities {
		if !vigil.ValidCVE(e.CVEID) {
			continue
		}
		vendors := []string{}
		if e.VendorProject != "" {
			vendors = append(vendors, e.VendorProject)
		}
		products := []string{}
		if e.Product != "" {
			products = append(products, e.Product)
		}
		vulns = append(vulns, vigil.Vulnerability{
			CVEID:                 e.CVEID,
			Description:           e.ShortDescription,
			Severity:              vigil.High,
			AffectedVendors:       vendors,
			AffectedProducts:      products,
			KEVDate:               vigil.Date(e.DateAdded),
			KEVDueDate:            vigil.Date(e.DueDate),
			ExploitedInWild:       true,
			RansomwareCampaignUse: e.KnownRansomwareCampaignUse == "Known",
			Source:                kevName,
			Metadata: map[string]any{
				"vulnerability_name": e.VulnerabilityName,
				"required_action":    e.RequiredAction,
				"catalog_version":    catalog.CatalogVersion,
			},
		})
	}
	vulns = driver.Dedupe(vulns, func(v vigil.Vulnerability) string { return v.CVEID })

	var updated, failed int
	var lastErr string
	for _, batch := range driver.Chunks(vulns, 50) {
		if err := store.Upsert(ctx, "vulnerabilities", batch, postgrest.UpsertOpts{OnConflict: "cve_id"}); err != nil {
			if budget.Exhausted(err) {
				return driver.PartialBudget(kevName, updated, failed)
			}
			failed += len(batch)
			lastErr = err.Error()
			continue
		}
		updated += len(batch)
	}
	zlog.Info(ctx).Int("updated", updated).Int("failed", failed).Msg("kev ingest finished")
	return driver.Result{Source: kevName, Success: true, Updated: updated, Failed: failed, LastError: lastErr}
}
