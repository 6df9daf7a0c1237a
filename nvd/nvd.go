// Package nvd ingests recently published CVEs from the NVD 2.0 API.
package nvd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quay/zlog"

	"github.com/vigilsec/vigil"
	"github.com/vigilsec/vigil/driver"
	"github.com/vigilsec/vigil/internal/budget"
	"github.com/vigilsec/vigil/internal/httputil"
	"github.com/vigilsec/vigil/postgrest"
)

//doc:url feed
const DefaultURL = `https://services.nvd.nist.gov/rest/json/cves/2.0`

const name = `nvd`

// Window is how far back each run looks. Seven days keeps a single page
// within budget while overlapping enough that no publication is missed
// between daily runs.
const Window = 7 * 24 * time.Hour

var _ driver.Feed = (*Ingester)(nil)

// Ingester pulls CVEs published inside the window and upserts them keyed on
// cve_id. CVSS is taken from v3.1, then v3.0, then v2, first present wins.
type Ingester struct {
	c   *http.Client
	url string
	now func() time.Time
}

// Option configures the Ingester.
type Option func(*Ingester)

// WithURL overrides the API endpoint.
func WithURL(u string) Option { return func(i *Ingester) { i.url = u } }

// WithClient sets the http.Client used for fetching.
func WithClient(c *http.Client) Option { return func(i *Ingester) { i.c = c } }

// NewIngester returns an Ingester configured by opts.
func NewIngester(opts ...Option) *Ingester {
	i := &Ingester{c: http.DefaultClient, url: DefaultURL, now: time.Now}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Name implements driver.Feed.
func (*Ingester) Name() string { return name }

type apiResponse struct {
	TotalResults    int `json:"totalResults"`
	Vulnerabilities []struct {
		CVE cveItem `json:"cve"`
	} `json:"vulnerabilities"`
}

type cveItem struct {
	ID           string `json:"id"`
	Descriptions []struct {
		Lang  string `json:"lang"`
		Value string `json:"value"`
	} `json:"descriptions"`
	Metrics struct {
		CVSSMetricV31 []cvssMetric `json:"cvssMetricV31"`
		CVSSMetricV30 []cvssMetric `json:"cvssMetricV30"`
		CVSSMetricV2  []cvssMetric `json:"cvssMetricV2"`
	} `json:"metrics"`
	Configurations []struct {
		Nodes []struct {
			CPEMatch []struct {
				Criteria string `json:"criteria"`
			} `json:"cpeMatch"`
		} `json:"nodes"`
	} `json:"configurations"`
}

type cvssMetric struct {
	CVSSData struct {
		BaseScore    float64 `json:"baseScore"`
		VectorString string  `json:"vectorString"`
	} `json:"cvssData"`
}

func (c *cveItem) description() string {
	for _, d := range c.Descriptions {
		if d.Lang == "en" {
			return d.Value
		}
	}
	if len(c.Descriptions) > 0 {
		return c.Descriptions[0].Value
	}
	return ""
}

func (c *cveItem) cvss() (*float64, string) {
	for _, ms := range [][]cvssMetric{
		c.Metrics.CVSSMetricV31,
		c.Metrics.CVSSMetricV30,
		c.Metrics.CVSSMetricV2,
	} {
		if len(ms) > 0 {
			s := ms[0].CVSSData.BaseScore
			return &s, ms[0].CVSSData.VectorString
		}
	}
	return nil, ""
}

// cpeVendorProduct pulls vendor and product from the first CPE 2.3 match:
// cpe:2.3:part:vendor:product:…
func (c *cveItem) cpeVendorProduct() (string, string) {
	for _, cfg := range c.Configurations {
		for _, n := range cfg.Nodes {
			for _, m := range n.CPEMatch {
				parts := strings.Split(m.Criteria, ":")
				if len(parts) >= 5 {
					return parts[3], parts[4]
				}
			}
		}
	}
	return "", ""
}

// Ingest implements driver.Feed.
func (i *Ingester) Ingest(ctx context.Context, store *postgrest.Client, _ driver.Environ) driver.Result {
	ctx = zlog.ContextWithValues(ctx, "component", "nvd/Ingester.Ingest")

	end := i.now().UTC()
	start := end.Add(-Window)
	q := url.Values{}
	q.Set("pubStartDate", start.Format("2006-01-02T15:04:05.000"))
	q.Set("pubEndDate", end.Format("2006-01-02T15:04:05.000"))

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
	defer res.Body.Close()
	if err := httputil.CheckResponse(res, http.StatusOK); err != nil {
		return driver.Fail(name, err)
	}

	var ar apiResponse
	if err := json.NewDecoder(res.Body).Decode(&ar); err != nil {
		return driver.Fail(name, fmt.Errorf("decoding response: %w", err))
	}
	if len(ar.Vulnerabilities) == 0 {
		return driver.Skip(name, "no CVEs published in window")
	}

	vulns := make([]vigil.Vulnerability, 0, len(ar.Vulnerabilities))
	for _, w := range ar.Vulnerabilities {
		if !vigil.ValidCVE(w.CVE.ID) {
			continue
		}
		score, vector := w.CVE.cvss()
		vendor, product := w.CVE.cpeVendorProduct()
		vendors, products := []string{}, []string{}
		if vendor != "" && vendor != "*" {
			vendors = append(vendors, vendor)
		}
		if product != "" && product != "*" {
			products = append(products, product)
		}
		vulns = append(vulns, vigil.Vulnerability{
			CVEID:            w.CVE.ID,
			Description:      w.CVE.description(),
			CVSSScore:        score,
			CVSSVector:       vector,
			Severity:         vigil.SeverityFromCVSS(score),
			AffectedVendors:  vendors,
			AffectedProducts: products,
			Source:           name,
		})
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
	zlog.Info(ctx).Int("updated", updated).Int("failed", failed).Msg("nvd ingest finished")
	return driver.Result{Source: name, Success: true, Updated: updated, Failed: failed, LastError: lastErr}
}
