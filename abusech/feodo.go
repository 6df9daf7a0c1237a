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
const FeodoURL = `https://feodotracker.abuse.ch/downloads/ipblocklist_recommended.json`

const feodoName = `feodo`

var _ driver.Feed = (*Feodo)(nil)

// Feodo ingests the Feodo Tracker recommended botnet-C2 blocklist. The list
// is curated for false-positive avoidance, so entries are written with high
// confidence.
type Feodo struct{ feed }

// NewFeodo returns a Feodo ingester configured by opts.
func NewFeodo(opts ...Option) *Feodo {
	return &Feodo{feed: newFeed(FeodoURL, opts...)}
}

// Name implements driver.Feed.
func (*Feodo) Name() string { return feodoName }

type feodoEntry struct {
	IPAddress  string `json:"ip_address"`
	Port       int    `json:"port"`
	Malware    string `json:"malware"`
	Status     string `json:"status"`
	FirstSeen  string `json:"first_seen"`
	LastOnline string `json:"last_online"`
	ASName     string `json:"as_name"`
}

// Ingest implements driver.Feed.
func (f *Feodo) Ingest(ctx context.Context, store *postgrest.Client, _ driver.Environ) driver.Result {
	ctx = zlog.ContextWithValues(ctx, "component", "abusech/Feodo.Ingest")

	req, err := httputil.NewRequest(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return driver.Fail(feodoName, err)
	}
	res, err := f.c.Do(req)
	if err != nil {
		if budget.Exhausted(err) {
			return driver.PartialBudget(feodoName, 0, 0)
		}
		return driver.Fail(feodoName, err)
	}
	defer res.Body.Close()
	if err := httputil.CheckResponse(res, http.StatusOK); err != nil {
		return driver.Fail(feodoName, err)
	}

	var entries []feodoEntry
	if err := json.NewDecoder(res.Body).Decode(&entries); err != nil {
		return driver.Fail(feodoName, fmt.Errorf("decoding blocklist: %w", err))
	}
	if len(entries) == 0 {
		return driver.Skip(feodoName, "empty blocklist")
	}

	iocs := make([]vigil.IOC, 0, len(entries))
	for _, e := range entries {
		if e.IPAddress == "" {
			continue
		}
		iocs = append(iocs, vigil.IOC{
			Type:          vigil.TypeIP,
			Value:         e.IPAddress,
			Confidence:    vigil.ConfidenceHigh,
			Source:        feodoName,
			MalwareFamily: e.Malware,
			FirstSeen:     vigil.Timestamp(e.FirstSeen),
			LastSeen:      vigil.Timestamp(e.LastOnline),
			Tags:          []string{"botnet", "c2"},
			Metadata:      map[string]any{"port": e.Port, "status": e.Status, "as_name": e.ASName},
		})
	}

	updated, failed, lastErr, ok := upsertIOCs(ctx, store, iocs, 100)
	if !ok {
		return driver.PartialBudget(feodoName, updated, failed)
	}
	zlog.Info(ctx).Int("updated", updated).Int("failed", failed).Msg("feodo ingest finished")
	return driver.Result{Source: feodoName, Success: true, Updated: updated, Failed: failed, LastError: lastErr}
}
