package mispgalaxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/quay/zlog"

	"github.com/vigilsec/vigil"
	"github.com/vigilsec/vigil/driver"
	"github.com/vigilsec/vigil/postgrest"
)

func TestIngest(t *testing.T) {
	t.Parallel()
	ctx := zlog.Test(context.Background(), t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"values":[
			{"value":"Lazarus Group","description":"North Korean state-sponsored group.",
			 "meta":{"country":"KP","synonyms":["HIDDEN COBRA"],
			         "cfr-suspected-victims":["South Korea","United States"],
			         "cfr-target-category":["Government","Finance"]}},
			{"value":"Lazarus Group","description":"duplicate entry"},
			{"value":"","description":"nameless"}
		]}`)
	}))
	defer srv.Close()

	var written []vigil.ThreatActor
	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &written); err != nil {
			t.Fatalf("upsert body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer store.Close()
	sc, err := postgrest.New(store.URL, "k", postgrest.WithClient(store.Client()))
	if err != nil {
		t.Fatal(err)
	}

	i := NewIngester(WithURL(srv.URL), WithClient(srv.Client()))
	res := i.Ingest(ctx, sc, driver.MapEnv{})
	if !res.Success || res.Failed != 0 {
		t.Fatalf("result: %#v", res)
	}

	// Nameless entries drop, duplicates collapse first-wins.
	if res.Updated != 1 || len(written) != 1 {
		t.Fatalf("wrote %d rows: %#v", len(written), written)
	}
	got := written[0]
	if got.Name != "Lazarus Group" || got.Source != "misp-galaxy" {
		t.Errorf("actor: %#v", got)
	}
	if !cmp.Equal(got.TargetCountries, []string{"South Korea", "United States"}) {
		t.Errorf("target countries: %#v", got.TargetCountries)
	}
	if !cmp.Equal(got.TargetSectors, []string{"Government", "Finance"}) {
		t.Errorf("target sectors: %#v", got.TargetSectors)
	}
	if !cmp.Equal(got.Aliases, []string{"HIDDEN COBRA"}) {
		t.Errorf("aliases: %#v", got.Aliases)
	}
}
