package anyrun

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quay/zlog"

	"github.com/vigilsec/vigil/driver"
	"github.com/vigilsec/vigil/postgrest"
)

func collectStore(t *testing.T, rows *[]familyRow) *postgrest.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var batch []familyRow
		if err := json.Unmarshal(body, &batch); err != nil {
			t.Errorf("upsert body: %v", err)
		}
		*rows = append(*rows, batch...)
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)
	c, err := postgrest.New(srv.URL, "k", postgrest.WithClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestIngestJSONLD(t *testing.T) {
	t.Parallel()
	ctx := zlog.Test(context.Background(), t)
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `<html><head>
			<script type="application/ld+json">
			{"itemListElement":[{"name":"AsyncRAT"},{"item":{"name":"Lumma"}}]}
			</script></head><body></body></html>`)
	}))
	defer page.Close()

	var rows []familyRow
	ing := NewIngester(WithURL(page.URL), WithClient(page.Client()))
	res := ing.Ingest(ctx, collectStore(t, &rows), driver.MapEnv{})
	if !res.Success || res.Updated != 2 {
		t.Fatalf("result: %#v", res)
	}
	if fb, _ := res.Extra["fallback"].(bool); fb {
		t.Error("fallback flag set on a successful scrape")
	}
	if rows[0].Name != "AsyncRAT" || rows[0].Source != "anyrun" || rows[0].MalwareType != "rat" {
		t.Errorf("row: %#v", rows[0])
	}
	if rows[1].Name != "Lumma" || rows[1].MalwareType != "stealer" {
		t.Errorf("row: %#v", rows[1])
	}
}

func TestIngestDataFamilyAttrs(t *testing.T) {
	t.Parallel()
	ctx := zlog.Test(context.Background(), t)
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `<html><body>
			<div data-family="Remcos"></div>
			<div data-family="XWorm"></div>
		</body></html>`)
	}))
	defer page.Close()

	var rows []familyRow
	ing := NewIngester(WithURL(page.URL), WithClient(page.Client()))
	res := ing.Ingest(ctx, collectStore(t, &rows), driver.MapEnv{})
	if !res.Success || res.Updated != 2 {
		t.Fatalf("result: %#v", res)
	}
}

func TestIngestFallback(t *testing.T) {
	t.Parallel()
	ctx := zlog.Test(context.Background(), t)
	tt := []struct {
		Name string
		Page http.HandlerFunc
	}{
		{
			Name: "NoFamilies",
			Page: func(w http.ResponseWriter, _ *http.Request) {
				io.WriteString(w, `<html><body><p>nothing recognizable here</p></body></html>`)
			},
		},
		{
			Name: "SourceError",
			Page: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", http.StatusServiceUnavailable)
			},
		},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			page := httptest.NewServer(tc.Page)
			defer page.Close()

			var rows []familyRow
			ing := NewIngester(WithURL(page.URL), WithClient(page.Client()))
			res := ing.Ingest(ctx, collectStore(t, &rows), driver.MapEnv{})
			if !res.Success {
				t.Fatalf("result: %#v", res)
			}
			if fb, _ := res.Extra["fallback"].(bool); !fb {
				t.Error("fallback flag not set")
			}
			if len(rows) != len(Baseline) {
				t.Fatalf("wrote %d rows, want %d", len(rows), len(Baseline))
			}
			for _, r := range rows {
				if r.Source != "anyrun-fallback" {
					t.Errorf("source: %q", r.Source)
				}
			}
		})
	}
}
