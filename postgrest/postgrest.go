// Package postgrest is a thin client for a PostgREST-compatible table API,
// the engine's only destination.
//
// The surface is deliberately small: select, insert, upsert with conflict
// resolution, a filtered update builder, and rpc. Every call is exactly one
// outbound request regardless of how many records it carries; callers batch.
// Errors are returned, never panicked, and carry the HTTP status plus the
// raw response body so adapters can recognize missing-table conditions.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/quay/zlog"

	"github.com/vigilsec/vigil/internal/httputil"
)

// Client talks to one PostgREST deployment. It is stateless and safe for
// concurrent use.
type Client struct {
	base *url.URL
	key  string
	c    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithClient sets the http.Client used for all requests. The engine passes
// a budget-counting client here.
func WithClient(hc *http.Client) Option {
	return func(c *Client) { c.c = hc }
}

// New returns a Client for the deployment at baseURL, authenticating with
// the service key.
func New(baseURL, key string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("postgrest: bad base URL: %w", err)
	}
	c := &Client{base: u, key: key, c: http.DefaultClient}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Error is a non-2xx response from the store. Message is the raw response
// body.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("postgrest: status %d: %s", e.Status, e.Message)
}

// IsMissingTable reports whether err is the store telling us a relation does
// not exist (undefined_table, SQLSTATE 42P01). Adapters downgrade such
// errors to a skipped sub-operation.
func IsMissingTable(err error) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	return strings.Contains(pe.Message, "42P01") || strings.Contains(pe.Message, "does not exist")
}

// Param is an extra query-string pair for Select: PostgREST filters
// ("status", "eq.active"), ordering ("order", "created_at.desc"), or limits
// ("limit", "40").
type Param struct {
	Key, Value string
}

func (c *Client) endpoint(table string, q url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/rest/v1/" + table
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) do(ctx context.Context, method, rawurl string, body io.Reader, prefer string) ([]byte, error) {
	req, err := httputil.NewRequest(ctx, method, rawurl, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("Content-Type", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}
	res, err := c.c.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("postgrest: reading response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		zlog.Debug(ctx).
			Str("component", "postgrest/Client.do").
			Int("status", res.StatusCode).
			Str("url", rawurl).
			Msg("store call failed")
		return nil, &Error{Status: res.StatusCode, Message: string(buf)}
	}
	return buf, nil
}

// encodeRecords marshals records, promoting a single object to a one-element
// array. PostgREST bulk endpoints always take arrays.
func encodeRecords(records any) (io.Reader, error) {
	b, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("postgrest: encoding records: %w", err)
	}
	t := bytes.TrimLeft(b, " \t\r\n")
	if len(t) > 0 && t[0] != '[' {
		b = append(append([]byte{'['}, b...), ']')
	}
	return bytes.NewReader(b), nil
}

// encodeRecord marshals a single record as-is; PATCH bodies are objects,
// not arrays.
func encodeRecord(record any) (io.Reader, error) {
	b, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("postgrest: encoding record: %w", err)
	}
	return bytes.NewReader(b), nil
}

// Select reads rows from table into dest, which must be a pointer to a
// slice. columns is the PostgREST select= expression ("*", "id,name", ...).
func (c *Client) Select(ctx context.Context, table, columns string, dest any, params ...Param) error {
	q := url.Values{}
	q.Set("select", columns)
	for _, p := range params {
		q.Set(p.Key, p.Value)
	}
	buf, err := c.do(ctx, http.MethodGet, c.endpoint(table, q), nil, "")
	if err != nil {
		return err
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(buf, dest); err != nil {
		return fmt.Errorf("postgrest: decoding %s rows: %w", table, err)
	}
	return nil
}

// Insert appends records to table. Duplicate-key violations surface as
// *Error; use Upsert when merging is intended.
func (c *Client) Insert(ctx context.Context, table string, records any) error {
	body, err := encodeRecords(records)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, c.endpoint(table, url.Values{}), body, "return=minimal")
	return err
}

// UpsertOpts control conflict handling for Upsert.
type UpsertOpts struct {
	// OnConflict is the comma-separated natural-key column list.
	OnConflict string
	// IgnoreDuplicates keeps the stored row instead of merging.
	IgnoreDuplicates bool
}

// Upsert writes records to table, merging on the declared natural key. The
// default resolution is merge-duplicates.
func (c *Client) Upsert(ctx context.Context, table string, records any, o UpsertOpts) error {
	body, err := encodeRecords(records)
	if err != nil {
		return err
	}
	q := url.Values{}
	if o.OnConflict != "" {
		q.Set("on_conflict", o.OnConflict)
	}
	resolution := "merge-duplicates"
	if o.IgnoreDuplicates {
		resolution = "ignore-duplicates"
	}
	prefer := fmt.Sprintf("resolution=%s,return=minimal", resolution)
	_, err = c.do(ctx, http.MethodPost, c.endpoint(table, q), body, prefer)
	return err
}

// RPC invokes a stored function with params (any JSON-encodable value, may
// be nil) and decodes the result into dest when non-nil.
func (c *Client) RPC(ctx context.Context, name string, params, dest any) error {
	var body io.Reader
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("postgrest: encoding rpc params: %w", err)
		}
		body = bytes.NewReader(b)
	} else {
		body = strings.NewReader("{}")
	}
	buf, err := c.do(ctx, http.MethodPost, c.endpoint("rpc/"+name, url.Values{}), body, "")
	if err != nil {
		return err
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(buf, dest); err != nil {
		return fmt.Errorf("postgrest: decoding rpc %s result: %w", name, err)
	}
	return nil
}
