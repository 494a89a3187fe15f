// Package gho implements the WHO Global Health Observatory OData client:
// paginated fetches with retry/backoff, restartable page sequences, and
// partition-scoped observation queries.
package gho

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/openhealth/gho-ingest/internal/logging"
)

// RawRecord is an untyped source record as delivered by an API page.
// It is transient: validated records move on, the rest are quarantined.
type RawRecord map[string]any

// Entity sets exposed by the GHO API.
const (
	indicatorEntity = "Indicator"
	countryEntity   = "DIMENSION/COUNTRY/DimensionValues"
)

// Client issues paginated fetches against the GHO OData API.
// It performs no writes; checkpoint advancement belongs to the loader.
type Client struct {
	baseURL  string
	pageSize int
	retry    RetryPolicy
	http     *http.Client
}

// NewClient creates a client for the given API base URL.
func NewClient(baseURL string, pageSize int, timeout time.Duration, retry RetryPolicy) *Client {
	return &Client{
		baseURL:  baseURL,
		pageSize: pageSize,
		retry:    retry,
		http:     &http.Client{Timeout: timeout},
	}
}

// PageSize returns the configured records-per-page.
func (c *Client) PageSize() int {
	return c.pageSize
}

// odataEnvelope is the wire shape of an OData response page.
type odataEnvelope struct {
	Value []RawRecord `json:"value"`
}

// getPage fetches a single page, applying the retry policy.
func (c *Client) getPage(ctx context.Context, pageURL string) ([]RawRecord, error) {
	var records []RawRecord

	err := c.retry.Do(ctx, func() error {
		logging.Debug("fetching %s", pageURL)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return &FetchError{Transient: false, Err: err}
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return classifyNetErr(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return classifyStatus(resp.StatusCode, fmt.Errorf("unexpected response: %s", body))
		}

		var envelope odataEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			// Malformed response schema is fatal, not retryable
			return &FetchError{Transient: false, Err: fmt.Errorf("decoding page: %w", err)}
		}

		records = envelope.Value
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// observationURL builds the page URL for a partition at a cursor.
func (c *Client) observationURL(key PartitionKey, cur Cursor) string {
	q := url.Values{}
	if key.CountryCode != "" {
		q.Set("$filter", fmt.Sprintf("SpatialDim eq '%s'", key.CountryCode))
	}
	q.Set("$orderby", "TimeDim asc")
	q.Set("$top", strconv.Itoa(cur.Top))
	q.Set("$skip", strconv.Itoa(cur.Skip))
	return fmt.Sprintf("%s/%s?%s", c.baseURL, key.IndicatorCode, q.Encode())
}

func (c *Client) entityURL(entity string, cur Cursor) string {
	q := url.Values{}
	q.Set("$top", strconv.Itoa(cur.Top))
	q.Set("$skip", strconv.Itoa(cur.Skip))
	return fmt.Sprintf("%s/%s?%s", c.baseURL, entity, q.Encode())
}

// Page is one committed unit of extraction.
type Page struct {
	Records    []RawRecord
	Cursor     Cursor // position this page was fetched at
	NextCursor Cursor // resume point after this page commits
	Last       bool   // source signalled exhaustion
}

// PageSeq is a restartable lazy page sequence over one partition.
// A fresh sequence can be constructed from any persisted cursor; pages
// arrive in strictly increasing cursor order.
type PageSeq struct {
	client *Client
	key    PartitionKey
	cursor Cursor
	done   bool
}

// Observations returns the page sequence for a partition, resuming at cur.
func (c *Client) Observations(key PartitionKey, cur Cursor) *PageSeq {
	if cur.Top < 1 {
		cur.Top = c.pageSize
	}
	return &PageSeq{client: c, key: key, cursor: cur}
}

// Next fetches the next page. It returns (nil, nil) once the sequence
// is exhausted.
func (s *PageSeq) Next(ctx context.Context) (*Page, error) {
	if s.done {
		return nil, nil
	}

	records, err := s.client.getPage(ctx, s.client.observationURL(s.key, s.cursor))
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", s.key, err)
	}

	page := &Page{
		Records:    records,
		Cursor:     s.cursor,
		NextCursor: s.cursor.Advance(len(records)),
		Last:       len(records) < s.cursor.Top,
	}
	s.cursor = page.NextCursor
	if page.Last {
		s.done = true
	}
	return page, nil
}

// fetchAll drains an entity set into memory. Used for the small
// dimension listings, never for observations.
func (c *Client) fetchAll(ctx context.Context, entity string) ([]RawRecord, error) {
	cur := StartCursor(c.pageSize)
	var all []RawRecord
	for {
		records, err := c.getPage(ctx, c.entityURL(entity, cur))
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", entity, err)
		}
		all = append(all, records...)
		if len(records) < cur.Top {
			return all, nil
		}
		cur = cur.Advance(len(records))
	}
}

// Indicators fetches the full indicator dimension listing.
func (c *Client) Indicators(ctx context.Context) ([]RawRecord, error) {
	return c.fetchAll(ctx, indicatorEntity)
}

// Countries fetches the full country dimension listing.
func (c *Client) Countries(ctx context.Context) ([]RawRecord, error) {
	return c.fetchAll(ctx, countryEntity)
}
