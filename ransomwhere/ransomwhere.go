// Package ransomwhere ingests crowdsourced ransomware payment records.
package ransomwhere

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/quay/zlog"

	"github.com/vigilsec/vigil"
	"github.com/vigilsec/vigil/driver"
	"github.com/vigilsec/vigil/internal/budget"
	"github.com/vigilsec/vigil/internal/httputil"
	"github.com/vigilsec/vigil/postgrest"
)

//doc:url feed
const DefaultURL = `https://api.ransomwhe.re/export`

const (
	name = `ransomwhere`

	// MaxPayments clamps the export to the most recent records. The full
	// export grows without bound; the tail is what the stats need.
	MaxPayments = 2000

	satoshisPerBTC = 1e8
)

var _ driver.Feed = (*Ingester)(nil)

// Ingester turns payment addresses into crypto_wallet IOCs and aggregates
// per-family payment stats. The ransomware_payments table is optional
// downstream.
type Ingester struct {
	c   *http.Client
	url string
}

// Option configures the Ingester.
type Option func(*Ingester)

// WithURL overrides the export endpoint.
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

type payment struct {
	Address   string  `json:"address"`
	Family    string  `json:"family"`
	Amount    int64   `json:"amount"`
	AmountUSD float64 `json:"amountUSD"`
	CreatedAt string  `json:"createdAt"`
}

type export struct {
	Result []payment `json:"result"`
}

// Ingest implements driver.Feed.
func (i *Ingester) Ingest(ctx context.Context, store *postgrest.Client, _ driver.Environ) driver.Result {
	ctx = zlog.ContextWithValues(ctx, "component", "ransomwhere/Ingester.Ingest")

	req, err := httputil.NewRequest(ctx, http.MethodGet, i.url, nil)
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

	var ex export
	if err := json.NewDecoder(res.Body).Decode(&ex); err != nil {
		return driver.Fail(name, fmt.Errorf("decoding export: %w", err))
	}
	if len(ex.Result) == 0 {
		return driver.Skip(name, "no payments in export")
	}

	payments := ex.Result
	sort.SliceStable(payments, func(a, b int) bool {
		return payments[a].CreatedAt > payments[b].CreatedAt
	})
	if len(payments) > MaxPayments {
		payments = payments[:MaxPayments]
	}

	iocs := make([]vigil.IOC, 0, len(payments))
	stats := make(map[string]*vigil.PaymentStats)
	for _, p := range payments {
		if p.Address == "" {
			continue
		}
		family := p.Family
		if family == "" {
			family = "unknown"
		}
		iocs = append(iocs, vigil.IOC{
			Type:          vigil.TypeWallet,
			Value:         p.Address,
			Confidence:    vigil.ConfidenceHigh,
			Source:        name,
			MalwareFamily: p.Family,
			FirstSeen:     vigil.Timestamp(p.CreatedAt),
			Tags:          []string{"ransomware", "payment"},
			Metadata:      map[string]any{"family": family},
		})
		s := stats[family]
		if s == nil {
			s = &vigil.PaymentStats{FamilyName: family, Source: name}
			stats[family] = s
		}
		s.PaymentCount++
		s.TotalUSD += p.AmountUSD
		s.TotalBTC += float64(p.Amount) / satoshisPerBTC
		d := vigil.Date(p.CreatedAt)
		if d != nil {
			if s.FirstPayment == nil || *d < *s.FirstPayment {
				s.FirstPayment = d
			}
			if s.LastPayment == nil || *d > *s.LastPayment {
				s.LastPayment = d
			}
		}
	}
	iocs = driver.Dedupe(iocs, func(i vigil.IOC) string { return i.Key() })

	var updated, failed int
	var lastErr string
	for _, batch := range driver.Chunks(iocs, 500) {
		if err := store.Upsert(ctx, "iocs", batch, postgrest.UpsertOpts{OnConflict: "type,value"}); err != nil {
			if budget.Exhausted(err) {
				return driver.PartialBudget(name, updated, failed)
			}
			failed += len(batch)
			lastErr = err.Error()
			continue
		}
		updated += len(batch)
	}

	rows := make([]vigil.PaymentStats, 0, len(stats))
	for _, s := range stats {
		rows = append(rows, *s)
	}
	sort.Slice(rows, func(a, b int) bool { return rows[a].FamilyName < rows[b].FamilyName })
	var families int
	if len(rows) > 0 {
		switch err := store.Upsert(ctx, "ransomware_payments", rows, postgrest.UpsertOpts{OnConflict: "family_name"}); {
		case err == nil:
			families = len(rows)
		case budget.Exhausted(err):
			return driver.PartialBudget(name, updated, failed)
		case postgrest.IsMissingTable(err):
			zlog.Warn(ctx).Msg("ransomware_payments table missing; skipping stats")
		default:
			failed++
			lastErr = err.Error()
		}
	}

	zlog.Info(ctx).
		Int("wallets", updated).
		Int("families", families).
		Int("failed", failed).
		Msg("ransomwhere ingest finished")
	return driver.Result{
		Source:    name,
		Success:   true,
		Updated:   updated,
		Failed:    failed,
		LastError: lastErr,
		Extra:     map[string]any{"families": families},
	}
}
