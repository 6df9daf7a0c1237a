package abusech

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/quay/zlog"

	"github.com/vigilsec/vigil"
	"github.com/vigilsec/vigil/driver"
	"github.com/vigilsec/vigil/internal/budget"
	"github.com/vigilsec/vigil/internal/httputil"
	"github.com/vigilsec/vigil/postgrest"
)

//doc:url feed
const ThreatFoxURL = `https://threatfox-api.abuse.ch/api/v1/`

const threatfoxName = `threatfox`

var _ driver.Feed = (*ThreatFox)(nil)

// ThreatFox ingests the last day of ThreatFox IOCs.
type ThreatFox struct{ feed }

// NewThreatFox returns a ThreatFox ingester configured by opts.
func NewThreatFox(opts ...Option) *ThreatFox {
	return &ThreatFox{feed: newFeed(ThreatFoxURL, opts...)}
}

// Name implements driver.Feed.
func (*ThreatFox) Name() string { return threatfoxName }

type threatfoxEntry struct {
	ID               json.Number `json:"id"`
	IOC              string      `json:"ioc"`
	IOCType          string      `json:"ioc_type"`
	ThreatType       string      `json:"threat_type"`
	MalwarePrintable string      `json:"malware_printable"`
	ConfidenceLevel  int         `json:"confidence_level"`
	FirstSeen        string      `json:"first_seen"`
	LastSeen         string      `json:"last_seen"`
	Tags             []string    `json:"tags"`
}

type threatfoxResponse struct {
	QueryStatus string           `json:"query_status"`
	Data        []threatfoxEntry `json:"data"`
}

// Ingest implements driver.Feed.
func (t *ThreatFox) Ingest(ctx context.Context, store *postgrest.Client, env driver.Environ) driver.Result {
	ctx = zlog.ContextWithValues(ctx, "component", "abusech/ThreatFox.Ingest")

	key, ok := authKey(env)
	if !ok {
		return driver.Skip(threatfoxName, "ABUSECH_API_KEY not set")
	}

	body := strings.NewReader(`{"query":"get_iocs","days":1}`)
	req, err := httputil.NewRequest(ctx, http.MethodPost, t.url, body)
	if err != nil {
		return driver.Fail(threatfoxName, err)
	}
	req.Header.Set("Auth-Key", key)
	req.Header.Set("Content-Type", "application/json")
	res, err := t.c.Do(req)
	if err != nil {
		if budget.Exhausted(err) {
			return driver.PartialBudget(threatfoxName, 0, 0)
		}
		return driver.Fail(threatfoxName, err)
	}
	defer res.Body.Close()
	if err := httputil.CheckResponse(res, http.StatusOK); err != nil {
		return driver.Fail(threatfoxName, err)
	}

	var tr threatfoxResponse
	if err := json.NewDecoder(res.Body).Decode(&tr); err != nil {
		return driver.Fail(threatfoxName, fmt.Errorf("decoding response: %w", err))
	}
	if tr.QueryStatus == "no_result" || len(tr.Data) == 0 {
		return driver.Skip(threatfoxName, "no IOCs reported")
	}

	iocs := make([]vigil.IOC, 0, len(tr.Data))
	for _, e := range tr.Data {
		if e.IOC == "" {
			continue
		}
		typ := vigil.IOCTypeFromThreatFox(e.IOCType)
		value := e.IOC
		if typ == vigil.TypeIP {
			// ip:port entries carry the port; the canonical value is
			// just the address.
			value, _, _ = strings.Cut(value, ":")
		}
		ioc := vigil.IOC{
			Type:          typ,
			Value:         value,
			Confidence:    vigil.ConfidenceFromScore(e.ConfidenceLevel),
			Source:        threatfoxName,
			MalwareFamily: e.MalwarePrintable,
			FirstSeen:     vigil.Timestamp(e.FirstSeen),
			LastSeen:      vigil.Timestamp(e.LastSeen),
			Tags:          vigil.NonNull(e.Tags),
			Metadata:      map[string]any{"threat_type": e.ThreatType},
		}
		if id, err := strconv.ParseInt(e.ID.String(), 10, 64); err == nil {
			ioc.SourceURL = fmt.Sprintf("https://threatfox.abuse.ch/ioc/%d/", id)
			ioc.Metadata["threatfox_id"] = id
		}
		iocs = append(iocs, ioc)
	}

	updated, failed, lastErr, ok := upsertIOCs(ctx, store, iocs, 100)
	if !ok {
		return driver.PartialBudget(threatfoxName, updated, failed)
	}
	zlog.Info(ctx).Int("updated", updated).Int("failed", failed).Msg("threatfox ingest finished")
	return driver.Result{Source: threatfoxName, Success: true, Updated: updated, Failed: failed, LastError: lastErr}
}
