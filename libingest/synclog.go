package libingest

import (
	"context"

	"github.com/quay/zlog"

	"github.com/vigilsec/vigil"
	"github.com/vigilsec/vigil/postgrest"
)

// syncLogEntry is the append-only run record. The engine writes these and
// never reads them back.
type syncLogEntry struct {
	Source      string         `json:"source"`
	Status      string         `json:"status"`
	CompletedAt string         `json:"completed_at"`
	Metadata    map[string]any `json:"metadata"`
}

// writeSyncLog records the invocation outcome. A failed write is logged and
// swallowed: the ingestion already happened and the log is advisory.
func writeSyncLog(ctx context.Context, store *postgrest.Client, r *Report) {
	entry := syncLogEntry{
		Source:      "engine",
		Status:      r.Status(),
		CompletedAt: vigil.Now(),
		Metadata: map[string]any{
			"run_id":      r.ID.String(),
			"cron":        r.Cron,
			"bucket":      r.Bucket,
			"duration_ms": r.Duration.Milliseconds(),
			"results":     r.Results,
		},
	}
	if err := store.Insert(ctx, "sync_log", entry); err != nil {
		zlog.Warn(ctx).Err(err).Msg("sync log write failed")
	}
}
