package rss

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

const feedDoc = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>Advisories</title>
<item>
  <title><![CDATA[ICSA-24-123-01 Pumps &amp; Valves]]></title>
  <link>https://example.com/advisory/icsa-24-123-01</link>
  <description><![CDATA[<p>Affects CVE-2024-1234.</p>]]></description>
  <pubDate>Tue, 16 Jan 2024 10:00:00 GMT</pubDate>
  <guid isPermaLink="false">adv-1</guid>
</item>
<item>
  <title>Second advisory</title>
  <link>https://example.com/advisory/2</link>
  <pubDate>never</pubDate>
</item>
</channel></rss>`

func TestParse(t *testing.T) {
	t.Parallel()
	pub := "2024-01-16"
	want := []Item{
		{
			Title:       "ICSA-24-123-01 Pumps & Valves",
			Link:        "https://example.com/advisory/icsa-24-123-01",
			Description: "Affects CVE-2024-1234.",
			GUID:        "adv-1",
			PubDate:     &pub,
		},
		{
			Title: "Second advisory",
			Link:  "https://example.com/advisory/2",
		},
	}
	got := Parse(feedDoc)
	if !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
}

func TestParseEmpty(t *testing.T) {
	t.Parallel()
	got := Parse(`<rss><channel><title>nothing</title></channel></rss>`)
	if len(got) != 0 {
		t.Errorf("got %d items, want 0", len(got))
	}
}

func TestClean(t *testing.T) {
	t.Parallel()
	tt := []struct {
		Name string
		In   string
		Want string
	}{
		{Name: "CDATA", In: `<![CDATA[hello]]>`, Want: "hello"},
		{Name: "Entities", In: `a &amp; b &quot;c&quot;`, Want: `a & b "c"`},
		{Name: "Tags", In: `<p>text</p>`, Want: "text"},
		{Name: "Whitespace", In: "  padded  ", Want: "padded"},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			if got := Clean(tc.In); got != tc.Want {
				t.Errorf("got: %q, want: %q", got, tc.Want)
			}
		})
	}
}
