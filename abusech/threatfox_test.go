package abusech

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

func newTestStore(t *testing.T, onUpsert func(table string, body []byte)) *postgrest.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		if onUpsert != nil {
			onUpsert(r.URL.Path, b)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)
	c, err := postgrest.New(srv.URL, "k", postgrest.WithClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestThreatFoxSkipsWithoutKey(t *testing.T) {
	t.Parallel()
	ctx := zlog.Test(context.Background(), t)
	var fetched bool
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		fetched = true
	}))
	defer srv.Close()

	tf := NewThreatFox(WithURL(srv.URL), WithClient(srv.Client()))
	res := tf.Ingest(ctx, newTestStore(t, nil), driver.MapEnv{})
	if !res.Success || !res.Skipped {
		t.Errorf("result: %#v", res)
	}
	if fetched {
		t.Error("source was fetched despite missing key")
	}
}

func TestThreatFoxIngest(t *testing.T) {
	t.Parallel()
	ctx := zlog.Test(context.Background(), t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Auth-Key"); got != "abc" {
			t.Errorf("Auth-Key: %q", got)
		}
		var q struct {
			Query string `json:"query"`
			Days  int    `json:"days"`
		}
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil || q.Query != "get_iocs" || q.Days != 1 {
			t.Errorf("query body: %+v err: %v", q, err)
		}
		io.WriteString(w, `{"query_status":"ok","data":[
			{"id":42,"ioc":"8.8.8.8:443","ioc_type":"ip:port","threat_type":"botnet_cc",
			 "malware_printable":"Emotet","confidence_level":90,"first_seen":"2026-01-15T00:00:00Z"},
			{"id":43,"ioc":"8.8.8.8:443","ioc_type":"ip:port","threat_type":"botnet_cc",
			 "malware_printable":"Emotet","confidence_level":90,"first_seen":"2026-01-15T00:00:00Z"}
		]}`)
	}))
	defer srv.Close()

	var batches [][]vigil.IOC
	store := newTestStore(t, func(_ string, body []byte) {
		var b []vigil.IOC
		if err := json.Unmarshal(body, &b); err != nil {
			t.Fatalf("upsert body: %v", err)
		}
		batches = append(batches, b)
	})

	tf := NewThreatFox(WithURL(srv.URL), WithClient(srv.Client()))
	res := tf.Ingest(ctx, store, driver.MapEnv{KeyEnv: "abc"})
	if !res.Success || res.Updated != 1 {
		t.Fatalf("result: %#v", res)
	}
	if len(batches) != 1 || len(batches[0]) != 1 {
		t.Fatalf("batches: %#v", batches)
	}
	got := batches[0][0]
	ts := "2026-01-15T00:00:00.000Z"
	want := vigil.IOC{
		Type:          vigil.TypeIP,
		Value:         "8.8.8.8",
		Confidence:    vigil.ConfidenceHigh,
		Source:        "threatfox",
		MalwareFamily: "Emotet",
		FirstSeen:     &ts,
		SourceURL:     "https://threatfox.abuse.ch/ioc/42/",
		Tags:          []string{},
		Metadata:      map[string]any{"threat_type": "botnet_cc", "threatfox_id": float64(42)},
	}
	if !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
}

func TestThreatFoxNoResult(t *testing.T) {
	t.Parallel()
	ctx := zlog.Test(context.Background(), t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"query_status":"no_result","data":[]}`)
	}))
	defer srv.Close()

	tf := NewThreatFox(WithURL(srv.URL), WithClient(srv.Client()))
	res := tf.Ingest(ctx, newTestStore(t, nil), driver.MapEnv{KeyEnv: "abc"})
	if !res.Success || !res.Skipped {
		t.Errorf("result: %#v", res)
	}
}
