// Package censys enriches stored IP indicators with host data from the
// Censys platform API.
package censys

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/quay/zlog"
	"golang.org/x/time/rate"

	"github.com/vigilsec/vigil/driver"
	"github.com/vigilsec/vigil/internal/budget"
	"github.com/vigilsec/vigil/internal/httputil"
	"github.com/vigilsec/vigil/postgrest"
)

//doc:url feed
const DefaultURL = `https://api.platform.censys.io/v3/global/asset/host`

const (
	name = `censys`

	// KeyEnv is the environment variable holding the bearer token.
	KeyEnv = `CENSYS_API_KEY`

	// MaxIPs bounds how many indicators one run enriches. Each IP costs one
	// lookup plus one PATCH.
	MaxIPs = 50
)

var _ driver.Feed = (*Ingester)(nil)

// Ingester looks up stored ip IOCs that have not been enriched yet, one
// host query per second. A 404 marks the indicator so it is not retried; a
// 429 halts the run.
type Ingester struct {
	c   *http.Client
	url string
	lim *rate.Limiter
}

// Option configures the Ingester.
type Option func(*Ingester)

// WithURL overrides the API endpoint.
func WithURL(u string) Option { return func(i *Ingester) { i.url = u } }

// WithClient sets the http.Client used for fetching.
func WithClient(c *http.Client) Option { return func(i *Ingester) { i.c = c } }

// WithLimiter replaces the pacing limiter, for tests.
func WithLimiter(l *rate.Limiter) Option { return func(i *Ingester) { i.lim = l } }

// NewIngester returns an Ingester configured by opts.
func NewIngester(opts ...Option) *Ingester {
	i := &Ingester{
		c:   http.DefaultClient,
		url: DefaultURL,
		lim: rate.NewLimiter(rate.Every(time.Second), 1),
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Name implements driver.Feed.
func (*Ingester) Name() string { return name }

type hostResponse struct {
	Result struct {
		AutonomousSystem struct {
			ASN  int    `json:"asn"`
			Name string `json:"name"`
		} `json:"autonomous_system"`
		Location struct {
			Country string `json:"country"`
			City    string `json:"city"`
		} `json:"location"`
		Services []struct {
			Port     int    `json:"port"`
			Protocol string `json:"protocol"`
		} `json:"services"`
	} `json:"result"`
}

// Ingest implements driver.Feed.
func (i *Ingester) Ingest(ctx context.Context, store *postgrest.Client, env driver.Environ) driver.Result {
	ctx = zlog.ContextWithValues(ctx, "component", "censys/Ingester.Ingest")

	key, ok := env.Lookup(KeyEnv)
	if !ok || key == "" {
		return driver.Skip(name, "CENSYS_API_KEY not set")
	}

	var rows []struct {
		Value    string         `json:"value"`
		Metadata map[string]any `json:"metadata"`
	}
	err := store.Select(ctx, "iocs", "value,metadata", &rows,
		postgrest.Param{Key: "type", Value: "eq.ip"},
		postgrest.Param{Key: "order", Value: "last_seen.desc"},
		postgrest.Param{Key: "limit", Value: "500"},
	)
	if err != nil {
		if budget.Exhausted(err) {
			return driver.PartialBudget(name, 0, 0)
		}
		return driver.Fail(name, fmt.Errorf("selecting indicators: %w", err))
	}

	type candidate struct {
		ip   string
		meta map[string]any
	}
	var todo []candidate
	for _, r := range rows {
		if r.Value == "" {
			continue
		}
		if r.Metadata != nil {
			if _, done := r.Metadata["censys_enriched"]; done {
				continue
			}
			if _, none := r.Metadata["censys_no_data"]; none {
				continue
			}
		}
		todo = append(todo, candidate{ip: r.Value, meta: r.Metadata})
		if len(todo) == MaxIPs {
			break
		}
	}
	if len(todo) == 0 {
		return driver.Skip(name, "no indicators awaiting enrichment")
	}

	patch := func(ip string, meta map[string]any) error {
		return store.Update("iocs", map[string]any{"metadata": meta}).
			Eq("type", "ip").
			Eq("value", ip).
			Execute(ctx)
	}

	var enriched, noData, failed int
	var lastErr string
	halted := false
	for _, c := range todo {
		if err := i.lim.Wait(ctx); err != nil {
			return driver.Fail(name, err)
		}
		req, err := httputil.NewRequest(ctx, http.MethodGet, i.url+"/"+c.ip, nil)
		if err != nil {
			return driver.Fail(name, err)
		}
		req.Header.Set("Authorization", "Bearer "+key)
		res, err := i.c.Do(req)
		if err != nil {
			if budget.Exhausted(err) {
				return partial(enriched, noData, failed)
			}
			failed++
			lastErr = err.Error()
			continue
		}
		meta := c.meta
		if meta == nil {
			meta = map[string]any{}
		}
		switch res.StatusCode {
		case http.StatusOK:
			var hr hostResponse
			err := json.NewDecoder(res.Body).Decode(&hr)
			res.Body.Close()
			if err != nil {
				failed++
				lastErr = err.Error()
				continue
			}
			ports := make([]int, 0, len(hr.Result.Services))
			for _, s := range hr.Result.Services {
				ports = append(ports, s.Port)
			}
			meta["censys_enriched"] = true
			meta["asn"] = hr.Result.AutonomousSystem.ASN
			meta["as_name"] = hr.Result.AutonomousSystem.Name
			meta["country"] = hr.Result.Location.Country
			meta["open_ports"] = ports
			err = patch(c.ip, meta)
			switch {
			case err == nil:
				enriched++
			case budget.Exhausted(err):
				return partial(enriched, noData, failed)
			default:
				failed++
				lastErr = err.Error()
			}
		case http.StatusNotFound:
			res.Body.Close()
			meta["censys_no_data"] = true
			err = patch(c.ip, meta)
			switch {
			case err == nil:
				noData++
			case budget.Exhausted(err):
				return partial(enriched, noData, failed)
			default:
				failed++
				lastErr = err.Error()
			}
		case http.StatusTooManyRequests:
			res.Body.Close()
			zlog.Warn(ctx).Str("ip", c.ip).Msg("rate limited; halting enrichment")
			halted = true
		default:
			err = httputil.CheckResponse(res, http.StatusOK)
			res.Body.Close()
			failed++
			lastErr = err.Error()
		}
		if halted {
			break
		}
	}

	zlog.Info(ctx).
		Int("enriched", enriched).
		Int("no_data", noData).
		Int("failed", failed).
		Bool("halted", halted).
		Msg("censys enrichment finished")
	return driver.Result{
		Source:    name,
		Success:   true,
		Updated:   enriched,
		Failed:    failed,
		LastError: lastErr,
		Extra:     map[string]any{"enriched": enriched, "noData": noData, "halted": halted},
	}
}

func partial(enriched, noData, failed int) driver.Result {
	r := driver.PartialBudget(name, enriched, failed)
	r.Extra = map[string]any{"enriched": enriched, "noData": noData}
	return r
}
