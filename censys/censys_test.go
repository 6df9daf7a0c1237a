package censys

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/quay/zlog"
	"golang.org/x/time/rate"

	"github.com/vigilsec/vigil/driver"
	"github.com/vigilsec/vigil/internal/budget"
	"github.com/vigilsec/vigil/postgrest"
)

func unlimited() Option { return WithLimiter(rate.NewLimiter(rate.Inf, 1)) }

func TestSkipsWithoutKey(t *testing.T) {
	t.Parallel()
	ctx := zlog.Test(context.Background(), t)
	store := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("store must not be touched without a key")
	}))
	defer store.Close()
	sc, err := postgrest.New(store.URL, "k", postgrest.WithClient(store.Client()))
	if err != nil {
		t.Fatal(err)
	}

	res := NewIngester(unlimited()).Ingest(ctx, sc, driver.MapEnv{})
	if !res.Success || !res.Skipped {
		t.Errorf("result: %#v", res)
	}
}

func TestEnrichAndNoData(t *testing.T) {
	t.Parallel()
	ctx := zlog.Test(context.Background(), t)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth: %q", got)
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/192.0.2.1"):
			io.WriteString(w, `{"result":{
				"autonomous_system":{"asn":64496,"name":"EXAMPLE-AS"},
				"location":{"country":"NL"},
				"services":[{"port":443,"protocol":"HTTPS"}]}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer api.Close()

	patches := map[string]map[string]any{}
	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			io.WriteString(w, `[
				{"value":"192.0.2.1","metadata":null},
				{"value":"192.0.2.2","metadata":{"seen_by":"tor"}},
				{"value":"192.0.2.3","metadata":{"censys_enriched":true}}
			]`)
		case http.MethodPatch:
			var body struct {
				Metadata map[string]any `json:"metadata"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			patches[r.URL.Query().Get("value")] = body.Metadata
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer store.Close()
	sc, err := postgrest.New(store.URL, "k", postgrest.WithClient(store.Client()))
	if err != nil {
		t.Fatal(err)
	}

	ing := NewIngester(WithURL(api.URL), WithClient(api.Client()), unlimited())
	res := ing.Ingest(ctx, sc, driver.MapEnv{KeyEnv: "tok"})
	if !res.Success || res.Updated != 1 {
		t.Fatalf("result: %#v", res)
	}
	got := patches["eq.192.0.2.1"]
	if got == nil || got["censys_enriched"] != true || got["asn"] != float64(64496) {
		t.Errorf("enriched patch: %#v", got)
	}
	nd := patches["eq.192.0.2.2"]
	if nd == nil || nd["censys_no_data"] != true || nd["seen_by"] != "tor" {
		t.Errorf("no-data patch: %#v", nd)
	}
	if _, ok := patches["eq.192.0.2.3"]; ok {
		t.Error("already-enriched indicator was retried")
	}
}

func TestRateLimitHalts(t *testing.T) {
	t.Parallel()
	ctx := zlog.Test(context.Background(), t)
	var lookups int
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		lookups++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer api.Close()

	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			io.WriteString(w, `[{"value":"192.0.2.1"},{"value":"192.0.2.2"}]`)
			return
		}
		t.Errorf("unexpected store call: %s", r.Method)
	}))
	defer store.Close()
	sc, err := postgrest.New(store.URL, "k", postgrest.WithClient(store.Client()))
	if err != nil {
		t.Fatal(err)
	}

	ing := NewIngester(WithURL(api.URL), WithClient(api.Client()), unlimited())
	res := ing.Ingest(ctx, sc, driver.MapEnv{KeyEnv: "tok"})
	if !res.Success {
		t.Fatalf("result: %#v", res)
	}
	if lookups != 1 {
		t.Errorf("lookups after 429: %d, want 1", lookups)
	}
	if halted, _ := res.Extra["halted"].(bool); !halted {
		t.Error("halted flag not set")
	}
}

func TestBudgetExhaustionIsPartial(t *testing.T) {
	t.Parallel()
	ctx := zlog.Test(context.Background(), t)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"result":{"autonomous_system":{"asn":64496}}}`)
	}))
	defer api.Close()
	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			io.WriteString(w, `[{"value":"192.0.2.1"},{"value":"192.0.2.2"}]`)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer store.Close()

	// Select + one lookup + one patch, then the budget runs dry.
	b := budget.New(3)
	hc := &http.Client{Transport: budget.NewTransport(b, nil)}
	sc, err := postgrest.New(store.URL, "k", postgrest.WithClient(hc))
	if err != nil {
		t.Fatal(err)
	}

	ing := NewIngester(WithURL(api.URL), WithClient(hc), unlimited())
	res := ing.Ingest(ctx, sc, driver.MapEnv{KeyEnv: "tok"})
	if !res.Success || !res.Partial || res.Reason != "budget" {
		t.Fatalf("result: %#v", res)
	}
	if res.Updated != 1 {
		t.Errorf("updated: %d, want 1", res.Updated)
	}
}
