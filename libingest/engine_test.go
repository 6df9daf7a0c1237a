package libingest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/quay/zlog"

	"github.com/vigilsec/vigil/driver"
	"github.com/vigilsec/vigil/postgrest"
)

type fakeFeed struct {
	name   string
	result driver.Result
	calls  int
}

func (f *fakeFeed) Name() string { return f.name }

func (f *fakeFeed) Ingest(_ context.Context, _ *postgrest.Client, _ driver.Environ) driver.Result {
	f.calls++
	return f.result
}

func TestRunCronUnknown(t *testing.T) {
	t.Parallel()
	ctx := zlog.Test(context.Background(), t)
	e, err := New(ctx, Options{StoreURL: "http://store.invalid", StoreKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	report, err := e.RunCron(ctx, "59 23 * * *")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Results) != 0 {
		t.Errorf("results: %#v", report.Results)
	}
	if got := report.Status(); got != "success" {
		t.Errorf("status: %q", got)
	}
}

func TestRunWritesSyncLog(t *testing.T) {
	t.Parallel()
	ctx := zlog.Test(context.Background(), t)
	var entries []syncLogEntry
	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sync_log") {
			t.Errorf("unexpected store call: %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var batch []syncLogEntry
		if err := json.Unmarshal(body, &batch); err != nil {
			t.Errorf("sync log body: %v", err)
		}
		entries = append(entries, batch...)
		w.WriteHeader(http.StatusCreated)
	}))
	defer store.Close()

	e, err := New(ctx, Options{StoreURL: store.URL, StoreKey: "k"})
	if err != nil {
		t.Fatal(err)
	}

	ok := &fakeFeed{name: "alpha", result: driver.Result{Source: "alpha", Success: true, Updated: 3}}
	bad := &fakeFeed{name: "beta", result: driver.Result{Source: "beta", Error: "boom"}}
	report, err := e.run(ctx, CronDaily, bucket{name: "test", feeds: []factory{
		func(*http.Client) driver.Feed { return ok },
		func(*http.Client) driver.Feed { return bad },
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ok.calls != 1 || bad.calls != 1 {
		t.Errorf("feed calls: %d, %d", ok.calls, bad.calls)
	}
	if got := report.Status(); got != "error" {
		t.Errorf("status: %q", got)
	}
	if len(report.Results) != 2 || report.Results["alpha"].Updated != 3 {
		t.Errorf("results: %#v", report.Results)
	}

	if len(entries) != 1 {
		t.Fatalf("sync log rows: %d, want 1", len(entries))
	}
	entry := entries[0]
	if entry.Source != "engine" || entry.Status != "error" {
		t.Errorf("entry: %#v", entry)
	}
	if entry.Metadata["cron"] != CronDaily {
		t.Errorf("metadata.cron: %v", entry.Metadata["cron"])
	}
	if _, ok := entry.Metadata["duration_ms"]; !ok {
		t.Error("metadata.duration_ms missing")
	}
	if _, ok := entry.Metadata["results"]; !ok {
		t.Error("metadata.results missing")
	}
}

func TestRunFiresBucketRPC(t *testing.T) {
	t.Parallel()
	ctx := zlog.Test(context.Background(), t)
	var rpcCalled bool
	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/rpc/apply_actor_trends") {
			rpcCalled = true
			io.WriteString(w, `null`)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer store.Close()

	e, err := New(ctx, Options{StoreURL: store.URL, StoreKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	f := &fakeFeed{name: "alpha", result: driver.Result{Source: "alpha", Success: true}}
	_, err = e.run(ctx, CronMain, bucket{
		name:     "test",
		feeds:    []factory{func(*http.Client) driver.Feed { return f }},
		rpcAfter: "apply_actor_trends",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rpcCalled {
		t.Error("bucket rpc was not fired")
	}
}

func TestKnown(t *testing.T) {
	t.Parallel()
	ctx := zlog.Test(context.Background(), t)
	e, err := New(ctx, Options{StoreURL: "http://store.invalid", StoreKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"critical", "main", "daily", "weekly", "threatfox", "cisa-kev", "mitre-attack"} {
		if !e.Known(name) {
			t.Errorf("%q should be known", name)
		}
	}
	if e.Known("nope") {
		t.Error(`"nope" should not be known`)
	}
}

func TestReportStatus(t *testing.T) {
	t.Parallel()
	tt := []struct {
		Name    string
		Results map[string]driver.Result
		Want    string
	}{
		{Name: "Empty", Results: map[string]driver.Result{}, Want: "success"},
		{
			Name:    "AllGood",
			Results: map[string]driver.Result{"a": {Success: true}},
			Want:    "success",
		},
		{
			Name:    "Partial",
			Results: map[string]driver.Result{"a": {Success: true, Partial: true}},
			Want:    "partial",
		},
		{
			Name:    "Error",
			Results: map[string]driver.Result{"a": {Success: true}, "b": {Error: "x"}},
			Want:    "error",
		},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			r := Report{Results: tc.Results}
			if got := r.Status(); got != tc.Want {
				t.Errorf("got: %q, want: %q", got, tc.Want)
			}
		})
	}
}
