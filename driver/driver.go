// Package driver defines the contract between the ingestion engine and the
// per-source feed adapters.
package driver

import (
	"context"
	"os"

	"github.com/vigilsec/vigil/postgrest"
)

// Feed is a single external-source ingester. One Ingest call performs the
// whole fetch → parse → normalize → dedupe → upsert cycle for its source
// and reports what happened; it never panics and never returns a Go error —
// all failure modes are folded into the Result.
type Feed interface {
	// Name is the stable identifier used in bucket definitions, HTTP
	// routes, and sync-log metadata.
	Name() string
	Ingest(ctx context.Context, store *postgrest.Client, env Environ) Result
}

// Environ looks up configuration values, usually process environment
// variables. Adapters requiring a secret consult this before any network
// traffic.
type Environ interface {
	Lookup(key string) (string, bool)
}

// OSEnv is the process-environment Environ.
type OSEnv struct{}

// Lookup implements Environ.
func (OSEnv) Lookup(key string) (string, bool) { return os.LookupEnv(key) }

// MapEnv is a fixed-map Environ, handy in tests.
type MapEnv map[string]string

// Lookup implements Environ.
func (m MapEnv) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}
