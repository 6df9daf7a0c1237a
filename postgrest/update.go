package postgrest

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// UpdateBuilder is a filtered PATCH under construction. Filters chain and
// combine with AND; nothing is sent until Execute is called.
type UpdateBuilder struct {
	c      *Client
	table  string
	record any
	q      url.Values
}

// Update starts a PATCH of record against table. Add at least one filter
// before Execute; an unfiltered PATCH would rewrite the whole table.
func (c *Client) Update(table string, record any) *UpdateBuilder {
	return &UpdateBuilder{c: c, table: table, record: record, q: url.Values{}}
}

// Eq filters on col = val.
func (b *UpdateBuilder) Eq(col, val string) *UpdateBuilder {
	b.q.Set(col, "eq."+val)
	return b
}

// In filters on col being any of vals.
func (b *UpdateBuilder) In(col string, vals []string) *UpdateBuilder {
	quoted := make([]string, len(vals))
	for i, v := range vals {
		quoted[i] = `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	}
	b.q.Set(col, "in.("+strings.Join(quoted, ",")+")")
	return b
}

// Execute issues the PATCH. One subrequest.
func (b *UpdateBuilder) Execute(ctx context.Context) error {
	body, err := encodeRecord(b.record)
	if err != nil {
		return err
	}
	_, err = b.c.do(ctx, http.MethodPatch, b.c.endpoint(b.table, b.q), body, "return=minimal")
	return err
}
