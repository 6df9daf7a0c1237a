// Package epss enriches stored vulnerabilities with Exploit Prediction
// Scoring System probabilities from the FIRST.org API.
package epss

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/quay/zlog"

	"github.com/vigilsec/vigil/driver"
	"github.com/vigilsec/vigil/internal/budget"
	"github.com/vigilsec/vigil/internal/httputil"
	"github.com/vigilsec/vigil/postgrest"
)

//doc:url feed
const DefaultURL = `https://api.first.org/data/v1/epss`

const name = `epss`

// MaxCVEs bounds how many stored CVEs one run scores. Each scored CVE costs
// one PATCH, so the cap is what keeps the whole run inside the subrequest
// budget: 1 select + ceil(n/100) queries + n updates.
const MaxCVEs = 40

var _ driver.Feed = (*Ingester)(nil)

// Ingester reads CVE ids that still lack an EPSS score, queries the API in
// comma-joined groups of up to 100, and PATCHes each scored row.
type Ingester struct {
	c   *http.Client
	url string
}

// Option configures the Ingester.
type Option func(*Ingester)

// WithURL overrides the API endpoint.
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

type scoreRow struct {
	CVE        string `json:"cve"`
	EPSS       string `json:"epss"`
	Percentile string `json:"percentile"`
}

type apiResponse struct {
	Data []scoreRow `json:"data"`
}

// Ingest implements driver.Feed.
func (i *Ingester) Ingest(ctx context.Context, store *postgrest.Client, _ driver.Environ) driver.Result {
	ctx = zlog.ContextWithValues(ctx, "component", "epss/Ingester.Ingest")

	var rows []struct {
		CVEID string `json:"cve_id"`
	}
	err := store.Select(ctx, "vulnerabilities", "cve_id", &rows,
		postgrest.Param{Key: "epss_score", Value: "is.null"},
		postgrest.Param{Key: "limit", Value: fmt.Sprint(MaxCVEs)},
	)
	if err != nil {
		if budget.Exhausted(err) {
			return driver.PartialBudget(name, 0, 0)
		}
		return driver.Fail(name, fmt.Errorf("selecting CVEs: %w", err))
	}
	if len(rows) == 0 {
		return driver.Skip(name, "no CVEs awaiting EPSS scores")
	}
	cves := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.CVEID != "" {
			cves = append(cves, r.CVEID)
		}
	}

	var updated, failed int
	var lastErr string
	for _, group := range driver.Chunks(cves, 100) {
		q := url.Values{}
		q.Set("cve", strings.Join(group, ","))
		req, err := httputil.NewRequest(ctx, http.MethodGet, i.url+"?"+q.Encode(), nil)
		if err != nil {
			return driver.Fail(name, err)
		}
		res, err := i.c.Do(req)
		if err != nil {
			if budget.Exhausted(err) {
				return driver.PartialBudget(name, updated, failed)
			}
			return driver.Fail(name, err)
		}
		var ar apiResponse
		err = httputil.CheckResponse(res, http.StatusOK)
		if err == nil {
			err = json.NewDecoder(res.Body).Decode(&ar)
		}
		res.Body.Close()
		if err != nil {
			lastErr = err.Error()
			failed += len(group)
			continue
		}
		for _, s := range ar.Data {
			patch := map[string]any{
				"epss_score":      jsonNumber(s.EPSS),
				"epss_percentile": jsonNumber(s.Percentile),
			}
			err := store.Update("vulnerabilities", patch).Eq("cve_id", s.CVE).Execute(ctx)
			switch {
			case err == nil:
				updated++
			case budget.Exhausted(err):
				return driver.PartialBudget(name, updated, failed)
			default:
				failed++
				lastErr = err.Error()
			}
		}
	}

	zlog.Info(ctx).Int("updated", updated).Int("failed", failed).Msg("epss enrichment finished")
	return driver.Result{Source: name, Success: true, Updated: updated, Failed: failed, LastError: lastErr}
}

// jsonNumber converts the API's stringly-typed scores to numbers, passing
// the raw string through when it will not parse.
func jsonNumber(s string) any {
	var f float64
	if _, err := fmt.Sscanf(s, "%g", &f); err == nil {
		return f
	}
	return s
}
