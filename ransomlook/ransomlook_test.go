package ransomlook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/quay/zlog"

	"github.com/vigilsec/vigil"
	"github.com/vigilsec/vigil/driver"
	"github.com/vigilsec/vigil/postgrest"
)

func TestIngest(t *testing.T) {
	t.Parallel()
	ctx := zlog.Test(context.Background(), t)
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `[
			{"post_title":"Acme Corp","group_name":"LockBit","discovered":"2026-01-16 21:44:10.064656","link":"/post/acme"},
			{"post_title":"Acme Corp","group_name":"LockBit","discovered":"2026-01-16 21:44:10.064656","link":"/post/acme"}
		]`)
	}))
	defer feed.Close()

	var selects int
	var incidents []vigil.Incident
	var trendsCalled bool
	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/threat_actors"):
			selects++
			if selects == 1 {
				io.WriteString(w, `[]`)
				return
			}
			io.WriteString(w, `[{"id":"a1","name":"LockBit"}]`)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/threat_actors"):
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/incidents"):
			body, _ := io.ReadAll(r.Body)
			if err := json.Unmarshal(body, &incidents); err != nil {
				t.Errorf("incident body: %v", err)
			}
			w.WriteHeader(http.StatusCreated)
		case strings.Contains(r.URL.Path, "/rpc/apply_actor_trends"):
			trendsCalled = true
			io.WriteString(w, `null`)
		default:
			t.Errorf("unexpected store call: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer store.Close()
	sc, err := postgrest.New(store.URL, "k", postgrest.WithClient(store.Client()))
	if err != nil {
		t.Fatal(err)
	}

	ing := NewIngester(WithURL(feed.URL), WithClient(feed.Client()))
	res := ing.Ingest(ctx, sc, driver.MapEnv{})
	if !res.Success || res.Updated != 1 || res.Failed != 0 {
		t.Fatalf("result: %#v", res)
	}
	if len(incidents) != 1 {
		t.Fatalf("wrote %d incidents, want 1 after dedupe", len(incidents))
	}
	inc := incidents[0]
	if inc.VictimName != "Acme Corp" || inc.ActorID != "a1" || inc.Status != vigil.StatusClaimed {
		t.Errorf("incident: %#v", inc)
	}
	if inc.IncidentDate == nil || *inc.IncidentDate != "2026-01-16" {
		t.Errorf("incident_date: %v", inc.IncidentDate)
	}
	if inc.DiscoveredDate != "2026-01-16" {
		t.Errorf("discovered_date: %q", inc.DiscoveredDate)
	}
	if inc.VictimSector != "" {
		t.Errorf("victim_sector: %q", inc.VictimSector)
	}
	if got, _ := inc.RawData["post_title"].(string); got != "Acme Corp" {
		t.Errorf("raw_data.post_title: %q", got)
	}
	if !trendsCalled {
		t.Error("apply_actor_trends was not invoked")
	}
}

func TestIngestEmptyFeed(t *testing.T) {
	t.Parallel()
	ctx := zlog.Test(context.Background(), t)
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `[]`)
	}))
	defer feed.Close()
	store := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("store must not be touched for an empty feed")
	}))
	defer store.Close()
	sc, err := postgrest.New(store.URL, "k", postgrest.WithClient(store.Client()))
	if err != nil {
		t.Fatal(err)
	}

	ing := NewIngester(WithURL(feed.URL), WithClient(feed.Client()))
	res := ing.Ingest(ctx, sc, driver.MapEnv{})
	if !res.Success || !res.Skipped {
		t.Errorf("result: %#v", res)
	}
}
