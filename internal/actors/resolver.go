// Package actors resolves actor names to stored ids, creating the missing
// ones along the way.
package actors

import (
	"context"
	"strings"

	"github.com/quay/zlog"

	"github.com/vigilsec/vigil"
	"github.com/vigilsec/vigil/postgrest"
)

type row struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Resolve maps each requested actor name to its stored id, case
// insensitively. Names with no stored actor are created in one batched
// upsert stamped with source; their ids come from a re-select. A name maps
// to the empty string only if creation failed.
//
// Cost: two subrequests when every name already exists, three otherwise.
// Fine for the handful of distinct groups a feed page names; a feed seeing
// hundreds of new actors per run should grow an upsert-returning-id RPC
// instead.
func Resolve(ctx context.Context, store *postgrest.Client, names []string, source string) (map[string]string, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "internal/actors/Resolve")

	byLower := func(rows []row) map[string]string {
		m := make(map[string]string, len(rows))
		for _, r := range rows {
			m[strings.ToLower(r.Name)] = r.ID
		}
		return m
	}

	var rows []row
	if err := store.Select(ctx, "threat_actors", "id,name", &rows); err != nil {
		return nil, err
	}
	known := byLower(rows)

	today := vigil.Today()
	var missing []vigil.ThreatActor
	seen := make(map[string]struct{})
	for _, n := range names {
		l := strings.ToLower(n)
		if _, ok := known[l]; ok {
			continue
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		missing = append(missing, vigil.ThreatActor{
			Name:            n,
			Aliases:         []string{},
			ActorType:       vigil.ActorRansomware,
			Status:          "active",
			Source:          source,
			FirstSeen:       &today,
			TargetCountries: []string{},
			TargetSectors:   []string{},
		})
	}

	if len(missing) > 0 {
		zlog.Debug(ctx).Int("count", len(missing)).Msg("creating missing actors")
		if err := store.Upsert(ctx, "threat_actors", missing, postgrest.UpsertOpts{
			OnConflict:       "name",
			IgnoreDuplicates: true,
		}); err != nil {
			return nil, err
		}
		rows = rows[:0]
		if err := store.Select(ctx, "threat_actors", "id,name", &rows); err != nil {
			return nil, err
		}
		known = byLower(rows)
	}

	out := make(map[string]string, len(names))
	for _, n := range names {
		out[n] = known[strings.ToLower(n)]
	}
	return out, nil
}
