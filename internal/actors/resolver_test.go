package actors

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
	"github.com/vigilsec/vigil/postgrest"
)

func TestResolveAllKnown(t *testing.T) {
	t.Parallel()
	ctx := zlog.Test(context.Background(), t)
	var selects, upserts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			selects++
			io.WriteString(w, `[{"id":"a1","name":"LockBit"},{"id":"a2","name":"BlackCat"}]`)
		case http.MethodPost:
			upserts++
			w.WriteHeader(http.StatusCreated)
		}
	}))
	defer srv.Close()
	store, err := postgrest.New(srv.URL, "k", postgrest.WithClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}

	got, err := Resolve(ctx, store, []string{"lockbit", "BlackCat"}, "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]string{"lockbit": "a1", "BlackCat": "a2"}
	if !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
	if selects != 1 || upserts != 0 {
		t.Errorf("calls: %d selects, %d upserts", selects, upserts)
	}
}

func TestResolveCreatesMissing(t *testing.T) {
	t.Parallel()
	ctx := zlog.Test(context.Background(), t)
	var selects int
	var created []vigil.ThreatActor
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			selects++
			if selects == 1 {
				io.WriteString(w, `[{"id":"a1","name":"LockBit"}]`)
				return
			}
			io.WriteString(w, `[{"id":"a1","name":"LockBit"},{"id":"a9","name":"Akira"}]`)
		case http.MethodPost:
			if err := json.NewDecoder(r.Body).Decode(&created); err != nil {
				t.Errorf("decoding upsert body: %v", err)
			}
			w.WriteHeader(http.StatusCreated)
		}
	}))
	defer srv.Close()
	store, err := postgrest.New(srv.URL, "k", postgrest.WithClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}

	got, err := Resolve(ctx, store, []string{"LockBit", "Akira"}, "ransomlook")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]string{"LockBit": "a1", "Akira": "a9"}
	if !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
	if len(created) != 1 {
		t.Fatalf("created %d actors, want 1", len(created))
	}
	a := created[0]
	if a.Name != "Akira" || a.Source != "ransomlook" || a.Status != "active" {
		t.Errorf("created actor: %#v", a)
	}
	if a.Aliases == nil || a.TargetCountries == nil || a.TargetSectors == nil {
		t.Error("array fields must not be null")
	}
	if selects != 2 {
		t.Errorf("selects: got %d, want 2", selects)
	}
}
