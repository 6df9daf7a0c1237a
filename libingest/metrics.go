package libingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vigilsec/vigil/driver"
)

var (
	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vigil",
		Subsystem: "ingest",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of ingestion invocations.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"bucket", "status"})

	feedResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Subsystem: "ingest",
		Name:      "feed_results_total",
		Help:      "Feed outcomes by terminal state.",
	}, []string{"feed", "state"})

	feedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vigil",
		Subsystem: "ingest",
		Name:      "feed_records_total",
		Help:      "Records written or failed per feed.",
	}, []string{"feed", "kind"})
)

func feedState(r driver.Result) string {
	switch {
	case !r.Success:
		return "failed"
	case r.Partial:
		return "partial"
	case r.Skipped:
		return "skipped"
	default:
		return "success"
	}
}

func observeFeed(r driver.Result) {
	feedResults.WithLabelValues(r.Source, feedState(r)).Inc()
	feedRecords.WithLabelValues(r.Source, "updated").Add(float64(r.Updated))
	feedRecords.WithLabelValues(r.Source, "failed").Add(float64(r.Failed))
}

func observeRun(bucket string, r *Report) {
	runDuration.WithLabelValues(bucket, r.Status()).Observe(r.Duration.Seconds())
}
