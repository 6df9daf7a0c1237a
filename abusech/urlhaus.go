package abusech

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
const URLhausURL = `https://urlhaus-api.abuse.ch/v1/urls/recent/`

const urlhausName = `urlhaus`

var _ driver.Feed = (*URLhaus)(nil)

// URLhaus ingests recently reported malware-distribution URLs.
type URLhaus struct{ feed }

// NewURLhaus returns a URLhaus ingester configured by opts.
func NewURLhaus(opts ...Option) *URLhaus {
	return &URLhaus{feed: newFeed(URLhausURL, opts...)}
}

// Name implements driver.Feed.
func (*URLhaus) Name() string { return urlhausName }

type urlhausEntry struct {
	ID        string   `json:"id"`
	URL       string   `json:"url"`
	URLStatus string   `json:"url_status"`
	Threat    string   `json:"threat"`
	DateAdded string   `json:"date_added"`
	Reference string   `json:"urlhaus_reference"`
	Tags      []string `json:"tags"`
}

type urlhausResponse struct {
	QueryStatus string         `json:"query_status"`
	URLs        []urlhausEntry `json:"urls"`
}

// Ingest implements driver.Feed.
func (u *URLhaus) Ingest(ctx context.Context, store *postgrest.Client, env driver.Environ) driver.Result {
	ctx = zlog.ContextWithValues(ctx, "component", "abusech/URLhaus.Ingest")

	key, ok := authKey(env)
	if !ok {
		return driver.Skip(urlhausName, "ABUSECH_API_KEY not set")
	}

	req, err := httputil.NewRequest(ctx, http.MethodGet, u.url, nil)
	if err != nil {
		return driver.Fail(urlhausName, err)
	}
	req.Header.Set("Auth-Key", key)
	res, err := u.c.Do(req)
	if err != nil {
		if budget.Exhausted(err) {
			return driver.PartialBudget(urlhausName, 0, 0)
		}
		return driver.Fail(urlhausName, err)
	}
	defer res.Body.Close()
	if err := httputil.CheckResponse(res, http.StatusOK); err != nil {
		return driver.Fail(urlhausName, err)
	}

	var ur urlhausResponse
	if err := json.NewDecoder(res.Body).Decode(&ur); err != nil {
		return driver.Fail(urlhausName, fmt.Errorf("decoding response: %w", err))
	}
	if ur.QueryStatus == "no_results" || len(ur.URLs) == 0 {
		return driver.Skip(urlhausName, "no recent URLs")
	}

	iocs := make([]vigil.IOC, 0, len(ur.URLs))
	for _, e := range ur.URLs {
		if e.URL == "" {
			continue
		}
		conf := vigil.ConfidenceMedium
		if e.URLStatus == "online" {
			conf = vigil.ConfidenceHigh
		}
		iocs = append(iocs, vigil.IOC{
			Type:       vigil.TypeURL,
			Value:      e.URL,
			Confidence: conf,
			Source:     urlhausName,
			FirstSeen:  vigil.Timestamp(e.DateAdded),
			SourceURL:  e.Reference,
			Tags:       vigil.NonNull(e.Tags),
			Metadata:   map[string]any{"threat": e.Threat, "url_status": e.URLStatus},
		})
	}

	updated, failed, lastErr, ok := upsertIOCs(ctx, store, iocs, 100)
	if !ok {
		return driver.PartialBudget(urlhausName, updated, failed)
	}
	zlog.Info(ctx).Int("updated", updated).Int("failed", failed).Msg("urlhaus ingest finished")
	return driver.Result{Source: urlhausName, Success: true, Updated: updated, Failed: failed, LastError: lastErr}
}
