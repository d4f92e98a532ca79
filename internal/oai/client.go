// Package oai implements the subset of the OAI-PMH protocol used for IGSN
// harvesting: Identify, ListSets, and ListRecords with resumption-token
// pagination.
package oai

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// ErrNoMore signals the end of a paged listing.
var ErrNoMore = errors.New("no more results")

// ErrNoRecordsMatch is returned when the provider reports that no records
// match the request filter. It is a clean outcome, not a protocol failure.
var ErrNoRecordsMatch = errors.New("no records match the request")

// ProtocolError is an OAI-PMH level fault reported inside a well-formed
// response envelope.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("oai-pmh error %s: %s", e.Code, e.Message)
}

// DefaultMetadataPrefix is the metadata format requested from IGSN providers.
const DefaultMetadataPrefix = "igsn"

// Client talks to a single OAI-PMH provider endpoint.
type Client struct {
	base      *url.URL
	http      *http.Client
	logger    *slog.Logger
	userAgent string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithRequestTimeout sets the per-request timeout.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

// NewClient creates a client for the provider at the given base URL.
func NewClient(providerURL string, logger *slog.Logger, opts ...ClientOption) (*Client, error) {
	base, err := url.ParseRequestURI(providerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid provider URL %q: %w", providerURL, err)
	}

	c := &Client{
		base:      base,
		http:      &http.Client{Timeout: 60 * time.Second},
		logger:    logger,
		userAgent: "igsn-lib/0.2",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL returns the provider base URL.
func (c *Client) URL() string {
	return c.base.String()
}

// fetch issues one OAI-PMH request and decodes the response envelope.
// Protocol-level errors reported in the envelope are surfaced as
// *ProtocolError, with noRecordsMatch mapped to ErrNoRecordsMatch.
func (c *Client) fetch(ctx context.Context, verb string, vals url.Values) (*response, error) {
	vals.Set("verb", verb)

	reqURL := c.base.String() + "?" + vals.Encode()
	c.logger.Debug("oai-pmh request", slog.String("url", reqURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", verb, err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", verb, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%s request returned HTTP %d", verb, resp.StatusCode)
	}

	var envelope response
	if err := xml.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", verb, err)
	}

	if envelope.Error != nil {
		if envelope.Error.Code == "noRecordsMatch" {
			return nil, ErrNoRecordsMatch
		}
		return nil, &ProtocolError{Code: envelope.Error.Code, Message: envelope.Error.Message}
	}

	return &envelope, nil
}

// Identify calls the provider's Identify operation.
func (c *Client) Identify(ctx context.Context) (*Identify, error) {
	envelope, err := c.fetch(ctx, "Identify", url.Values{})
	if err != nil {
		return nil, err
	}
	if envelope.Identify == nil {
		return nil, fmt.Errorf("identify response carried no payload")
	}
	return envelope.Identify, nil
}

// ListSets returns the sets offered by the provider.
func (c *Client) ListSets(ctx context.Context) ([]Set, error) {
	sets := []Set{}
	vals := url.Values{}

	for {
		envelope, err := c.fetch(ctx, "ListSets", vals)
		if err != nil {
			return nil, err
		}
		if envelope.ListSets == nil {
			return nil, fmt.Errorf("listsets response carried no payload")
		}

		sets = append(sets, envelope.ListSets.Sets...)

		token := envelope.ListSets.ResumptionToken
		if token == nil || token.Value == "" {
			return sets, nil
		}
		vals = url.Values{"resumptionToken": {token.Value}}
	}
}

// listArgsValues translates ListArgs into request parameters.
func listArgsValues(args ListArgs) url.Values {
	prefix := args.Prefix
	if prefix == "" {
		prefix = DefaultMetadataPrefix
	}

	vals := url.Values{"metadataPrefix": {prefix}}
	if args.Set != "" {
		vals.Set("set", args.Set)
	}
	if args.From != nil {
		vals.Set("from", args.From.UTC().Format(TimeFormat))
	}
	if args.Until != nil {
		vals.Set("until", args.Until.UTC().Format(TimeFormat))
	}
	return vals
}

// RecordIterator pages through a ListRecords result.
type RecordIterator interface {
	// Next returns the next record, fetching further pages as needed.
	// ErrNoMore signals clean exhaustion.
	Next(ctx context.Context) (*Record, error)

	// Token returns the most recent resumption token, or nil when the
	// provider issued none.
	Token() *ResumptionToken
}

// ListRecords starts a paged listing of records matching args. The returned
// iterator follows the provider's resumption tokens transparently.
func (c *Client) ListRecords(ctx context.Context, args ListArgs) (RecordIterator, error) {
	it := &listRecordsIterator{client: c}
	if err := it.fetch(ctx, listArgsValues(args)); err != nil {
		return nil, err
	}
	return it, nil
}

type listRecordsIterator struct {
	client  *Client
	records []Record
	pos     int
	token   *ResumptionToken
	done    bool
}

func (it *listRecordsIterator) Next(ctx context.Context) (*Record, error) {
	for it.pos >= len(it.records) {
		if it.done {
			return nil, ErrNoMore
		}
		if err := it.fetch(ctx, url.Values{"resumptionToken": {it.token.Value}}); err != nil {
			return nil, err
		}
	}

	rec := &it.records[it.pos]
	it.pos++
	return rec, nil
}

func (it *listRecordsIterator) Token() *ResumptionToken {
	return it.token
}

func (it *listRecordsIterator) fetch(ctx context.Context, vals url.Values) error {
	envelope, err := it.client.fetch(ctx, "ListRecords", vals)
	if err != nil {
		return err
	}
	if envelope.ListRecords == nil {
		return fmt.Errorf("listrecords response carried no payload")
	}

	it.records = envelope.ListRecords.Records
	it.pos = 0

	token := envelope.ListRecords.ResumptionToken
	if token != nil {
		it.token = token
	}
	it.done = token == nil || token.Value == ""
	return nil
}

// RecordCount returns the provider-reported number of records matching args,
// taken from the first page's resumption token. Zero is returned when the
// provider reports no matches.
func (c *Client) RecordCount(ctx context.Context, args ListArgs) (int, error) {
	it, err := c.ListRecords(ctx, args)
	if err != nil {
		if errors.Is(err, ErrNoRecordsMatch) {
			return 0, nil
		}
		return 0, err
	}

	if token := it.Token(); token != nil && token.CompleteListSize > 0 {
		return token.CompleteListSize, nil
	}

	// Small result sets may arrive without a token; count the single page.
	count := 0
	for {
		_, err := it.Next(ctx)
		if errors.Is(err, ErrNoMore) {
			return count, nil
		}
		if err != nil {
			return count, err
		}
		count++
	}
}
