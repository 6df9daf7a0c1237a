package libingest

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quay/zlog"

	"github.com/vigilsec/vigil"
	"github.com/vigilsec/vigil/abusech"
	"github.com/vigilsec/vigil/censys"
	"github.com/vigilsec/vigil/pkg/jsonerr"
	"github.com/vigilsec/vigil/postgrest"
	"github.com/vigilsec/vigil/pulsedive"
	"github.com/vigilsec/vigil/vulncheck"
)

// NewHandler returns the engine's HTTP surface:
//
//	GET  /                 discovery document
//	GET  /health           liveness
//	GET  /ingest/{target}  run a bucket or a single feed
//	GET  /debug/supabase   destination connectivity check
//	GET  /metrics          Prometheus metrics
//
// All routes answer CORS preflight and allow any origin; the surface is
// meant to sit behind an authenticating proxy.
func NewHandler(e *Engine) http.Handler {
	r := mux.NewRouter()
	r.Use(corsMiddleware)
	r.HandleFunc("/", discoveryHandler).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/ingest/{target}", ingestHandler(e)).Methods(http.MethodGet, http.MethodPost, http.MethodOptions)
	r.HandleFunc("/debug/supabase", debugStoreHandler(e)).Methods(http.MethodGet, http.MethodOptions)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": vigil.Now(),
		"version":   vigil.Version,
	})
}

func discoveryHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "vigil-ingest",
		"agent":   vigil.UserAgent,
		"buckets": Buckets(),
		"endpoints": []string{
			"/", "/health", "/ingest/{bucket|feed}", "/debug/supabase", "/metrics",
		},
	})
}

func ingestHandler(e *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		target := mux.Vars(r)["target"]
		if !e.Known(target) {
			jsonerr.Error(w, &jsonerr.Response{
				Code:    "not-found",
				Message: "no bucket or feed named " + target,
			}, http.StatusNotFound)
			return
		}

		var report *Report
		var err error
		if _, _, ok := bucketByName(target); ok {
			report, err = e.RunBucket(ctx, target)
		} else {
			report, err = e.RunFeed(ctx, target)
		}
		if err != nil {
			zlog.Error(ctx).Err(err).Str("target", target).Msg("ingest run failed")
			jsonerr.Error(w, &jsonerr.Response{
				Code:    "ingest-error",
				Message: err.Error(),
			}, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"run_id":      report.ID.String(),
			"bucket":      report.Bucket,
			"status":      report.Status(),
			"duration_ms": report.Duration.Milliseconds(),
			"results":     report.Results,
		})
	}
}

// keyEnvs are the adapter secrets the debug endpoint reports presence for.
// Values never leave the process; only set/unset is exposed.
var keyEnvs = []string{
	abusech.KeyEnv,
	censys.KeyEnv,
	pulsedive.KeyEnv,
	vulncheck.KeyEnv,
}

// debugStoreHandler answers whether the destination is reachable with the
// configured credentials. It reads one sync_log row as the representative
// probe; the row itself is discarded. Env presence flags ride along so a
// silently-skipping adapter can be diagnosed from the same response.
func debugStoreHandler(e *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), e.opts.Deadline)
		defer cancel()

		env := make(map[string]bool, len(keyEnvs))
		for _, k := range keyEnvs {
			v, ok := e.opts.Env.Lookup(k)
			env[k] = ok && v != ""
		}

		_, store, err := e.invocation()
		if err != nil {
			jsonerr.Error(w, &jsonerr.Response{Code: "store-error", Message: err.Error()}, http.StatusInternalServerError)
			return
		}
		var rows []map[string]any
		err = store.Select(ctx, "sync_log", "source,status,completed_at", &rows,
			postgrest.Param{Key: "order", Value: "completed_at.desc"},
			postgrest.Param{Key: "limit", Value: "1"},
		)
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"connected": false,
				"error":     err.Error(),
				"env":       env,
			})
			return
		}
		resp := map[string]any{"connected": true, "env": env}
		if len(rows) > 0 {
			resp["last_sync"] = rows[0]
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
