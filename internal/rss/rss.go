// Package rss extracts items from RSS/Atom-ish XML without insisting on
// well-formedness. Government advisory feeds drift structurally; a strict
// decoder would reject content that is still perfectly minable, so items are
// pulled out with tolerant regexes.
package rss

import (
	"html"
	"regexp"
	"strings"

	"github.com/vigilsec/vigil"
)

// Item is one <item> block, cleaned of CDATA wrappers, HTML entities, and
// residual markup. PubDate is nil when the date failed to parse.
type Item struct {
	Title       string
	Link        string
	Description string
	GUID        string
	PubDate     *string
}

var (
	itemRe  = regexp.MustCompile(`(?s)<item[\s>].*?</item>|<item>.*?</item>`)
	fieldRe = map[string]*regexp.Regexp{
		"title":       regexp.MustCompile(`(?s)<title[^>]*>(.*?)</title>`),
		"link":        regexp.MustCompile(`(?s)<link[^>]*>(.*?)</link>`),
		"description": regexp.MustCompile(`(?s)<description[^>]*>(.*?)</description>`),
		"pubDate":     regexp.MustCompile(`(?s)<pubDate[^>]*>(.*?)</pubDate>`),
		"guid":        regexp.MustCompile(`(?s)<guid[^>]*>(.*?)</guid>`),
	}
	cdataRe = regexp.MustCompile(`(?s)<!\[CDATA\[(.*?)\]\]>`)
	tagRe   = regexp.MustCompile(`<[^>]+>`)
)

// Clean strips CDATA wrappers, decodes the common HTML entities, and drops
// any remaining tags.
func Clean(s string) string {
	s = cdataRe.ReplaceAllString(s, "$1")
	s = strings.NewReplacer(
		"&lt;", "<",
		"&gt;", ">",
		"&amp;", "&",
		"&quot;", `"`,
	).Replace(s)
	s = html.UnescapeString(s)
	s = tagRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func field(block, name string) string {
	m := fieldRe[name].FindStringSubmatch(block)
	if m == nil {
		return ""
	}
	return Clean(m[1])
}

// Parse extracts every item block from doc. A document with no items yields
// an empty slice, not an error; the feed contract treats "nothing there" as
// a skip, not a failure.
func Parse(doc string) []Item {
	blocks := itemRe.FindAllString(doc, -1)
	items := make([]Item, 0, len(blocks))
	for _, b := range blocks {
		it := Item{
			Title:       field(b, "title"),
			Link:        field(b, "link"),
			Description: field(b, "description"),
			GUID:        field(b, "guid"),
		}
		if d := field(b, "pubDate"); d != "" {
			it.PubDate = vigil.Date(d)
		}
		items = append(items, it)
	}
	return items
}
