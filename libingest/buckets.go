package libingest

import (
	"net/http"

	"github.com/vigilsec/vigil/abusech"
	"github.com/vigilsec/vigil/anyrun"
	"github.com/vigilsec/vigil/bgpstream"
	"github.com/vigilsec/vigil/censys"
	"github.com/vigilsec/vigil/cisa"
	"github.com/vigilsec/vigil/driver"
	"github.com/vigilsec/vigil/epss"
	"github.com/vigilsec/vigil/malpedia"
	"github.com/vigilsec/vigil/mispgalaxy"
	"github.com/vigilsec/vigil/mitre"
	"github.com/vigilsec/vigil/nvd"
	"github.com/vigilsec/vigil/pulsedive"
	"github.com/vigilsec/vigil/ransomlook"
	"github.com/vigilsec/vigil/ransomwhere"
	"github.com/vigilsec/vigil/torproject"
	"github.com/vigilsec/vigil/vulncheck"
)

// Cron expressions double as bucket triggers; the scheduler passes them
// through verbatim.
const (
	CronCritical = `15 * * * *`
	CronMain     = `0 */6 * * *`
	CronDaily    = `0 3 * * *`
	CronWeekly   = `0 4 * * SUN`
)

// factory builds a feed bound to the invocation's budget-counting client.
type factory func(c *http.Client) driver.Feed

// bucket is an ordered adapter sequence plus an optional RPC fired after
// the last adapter.
type bucket struct {
	name     string
	feeds    []factory
	rpcAfter string
}

var buckets = map[string]bucket{
	CronCritical: {
		name: "critical",
		feeds: []factory{
			func(c *http.Client) driver.Feed { return ransomlook.NewIngester(ransomlook.WithClient(c)) },
			func(c *http.Client) driver.Feed { return abusech.NewThreatFox(abusech.WithClient(c)) },
		},
	},
	CronMain: {
		name: "main",
		feeds: []factory{
			func(c *http.Client) driver.Feed { return abusech.NewURLhaus(abusech.WithClient(c)) },
			func(c *http.Client) driver.Feed { return abusech.NewFeodo(abusech.WithClient(c)) },
			func(c *http.Client) driver.Feed { return abusech.NewBazaar(abusech.WithClient(c)) },
			func(c *http.Client) driver.Feed { return pulsedive.NewIngester(pulsedive.WithClient(c)) },
			func(c *http.Client) driver.Feed { return cisa.NewKEV(cisa.WithKEVClient(c)) },
			func(c *http.Client) driver.Feed { return vulncheck.NewIngester(vulncheck.WithClient(c)) },
			func(c *http.Client) driver.Feed { return nvd.NewIngester(nvd.WithClient(c)) },
		},
		rpcAfter: "apply_actor_trends",
	},
	CronDaily: {
		name: "daily",
		feeds: []factory{
			func(c *http.Client) driver.Feed { return malpedia.NewIngester(malpedia.WithClient(c)) },
			func(c *http.Client) driver.Feed { return mispgalaxy.NewIngester(mispgalaxy.WithClient(c)) },
			func(c *http.Client) driver.Feed { return epss.NewIngester(epss.WithClient(c)) },
			func(c *http.Client) driver.Feed { return torproject.NewIngester(torproject.WithClient(c)) },
			func(c *http.Client) driver.Feed { return cisa.NewICS(cisa.WithICSClient(c)) },
			func(c *http.Client) driver.Feed { return ransomwhere.NewIngester(ransomwhere.WithClient(c)) },
			func(c *http.Client) driver.Feed { return censys.NewIngester(censys.WithClient(c)) },
			func(c *http.Client) driver.Feed { return bgpstream.NewIngester(bgpstream.WithClient(c)) },
			func(c *http.Client) driver.Feed { return anyrun.NewIngester(anyrun.WithClient(c)) },
		},
	},
	CronWeekly: {
		name: "weekly",
		feeds: []factory{
			func(c *http.Client) driver.Feed { return mitre.NewAttack(mitre.WithAttackClient(c)) },
			func(c *http.Client) driver.Feed { return mitre.NewAtlas(mitre.WithAtlasClient(c)) },
		},
	},
}

// bucketByName resolves a friendly bucket name ("daily") to its definition.
func bucketByName(name string) (string, bucket, bool) {
	for cron, b := range buckets {
		if b.name == name {
			return cron, b, true
		}
	}
	return "", bucket{}, false
}

// feedFactories indexes every adapter by its feed name for single-feed
// invocations.
func feedFactories() map[string]factory {
	out := make(map[string]factory)
	for _, b := range buckets {
		for _, f := range b.feeds {
			name := f(nil).Name()
			out[name] = f
		}
	}
	return out
}

// Buckets reports bucket names to their cron expressions and adapter names,
// for the discovery endpoint.
func Buckets() map[string]map[string]any {
	out := make(map[string]map[string]any, len(buckets))
	for cron, b := range buckets {
		feeds := make([]string, 0, len(b.feeds))
		for _, f := range b.feeds {
			feeds = append(feeds, f(nil).Name())
		}
		out[b.name] = map[string]any{"cron": cron, "feeds": feeds}
	}
	return out
}
