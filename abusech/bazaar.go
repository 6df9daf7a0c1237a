package abusech

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/quay/zlog"

	"github.com/vigilsec/vigil"
	"github.com/vigilsec/vigil/driver"
	"github.com/vigilsec/vigil/internal/budget"
	"github.com/vigilsec/vigil/internal/httputil"
	"github.com/vigilsec/vigil/postgrest"
)

//doc:url feed
const BazaarURL = `https://mb-api.abuse.ch/api/v1/`

const bazaarName = `malwarebazaar`

var _ driver.Feed = (*Bazaar)(nil)

// Bazaar ingests recently submitted MalwareBazaar samples as file-hash
// IOCs.
type Bazaar struct{ feed }

// NewBazaar returns a MalwareBazaar ingester configured by opts.
func NewBazaar(opts ...Option) *Bazaar {
	return &Bazaar{feed: newFeed(BazaarURL, opts...)}
}

// Name implements driver.Feed.
func (*Bazaar) Name() string { return bazaarName }

type bazaarEntry struct {
	SHA256    string   `json:"sha256_hash"`
	SHA1      string   `json:"sha1_hash"`
	MD5       string   `json:"md5_hash"`
	Signature string   `json:"signature"`
	FirstSeen string   `json:"first_seen"`
	FileName  string   `json:"file_name"`
	Tags      []string `json:"tags"`
}

type bazaarResponse struct {
	QueryStatus string        `json:"query_status"`
	Data        []bazaarEntry `json:"data"`
}

// Ingest implements driver.Feed.
func (b *Bazaar) Ingest(ctx context.Context, store *postgrest.Client, env driver.Environ) driver.Result {
	ctx = zlog.ContextWithValues(ctx, "component", "abusech/Bazaar.Ingest")

	key, ok := authKey(env)
	if !ok {
		return driver.Skip(bazaarName, "ABUSECH_API_KEY not set")
	}

	form := url.Values{"query": {"get_recent"}, "selector": {"time"}}
	req, err := httputil.NewRequest(ctx, http.MethodPost, b.url, strings.NewReader(form.Encode()))
	if err != nil {
		return driver.Fail(bazaarName, err)
	}
	req.Header.Set("Auth-Key", key)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res, err := b.c.Do(req)
	if err != nil {
		if budget.Exhausted(err) {
			return driver.PartialBudget(bazaarName, 0, 0)
		}
		return driver.Fail(bazaarName, err)
	}
	defer res.Body.Close()
	if err := httputil.CheckResponse(res, http.StatusOK); err != nil {
		return driver.Fail(bazaarName, err)
	}

	var br bazaarResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return driver.Fail(bazaarName, fmt.Errorf("decoding response: %w", err))
	}
	if br.QueryStatus == "no_results" || len(br.Data) == 0 {
		return driver.Skip(bazaarName, "no recent samples")
	}

	iocs := make([]vigil.IOC, 0, len(br.Data))
	for _, e := range br.Data {
		if e.SHA256 == "" {
			continue
		}
		iocs = append(iocs, vigil.IOC{
			Type:          vigil.TypeSHA256,
			Value:         e.SHA256,
			Confidence:    vigil.ConfidenceHigh,
			Source:        bazaarName,
			MalwareFamily: e.Signature,
			FirstSeen:     vigil.Timestamp(e.FirstSeen),
			Tags:          vigil.NonNull(e.Tags),
			Metadata: map[string]any{
				"md5":       e.MD5,
				"sha1":      e.SHA1,
				"file_name": e.FileName,
			},
		})
	}

	updated, failed, lastErr, ok := upsertIOCs(ctx, store, iocs, 100)
	if !ok {
		return driver.PartialBudget(bazaarName, updated, failed)
	}
	zlog.Info(ctx).Int("updated", updated).Int("failed", failed).Msg("malwarebazaar ingest finished")
	return driver.Result{Source: bazaarName, Success: true, Updated: updated, Failed: failed, LastError: lastErr}
}
