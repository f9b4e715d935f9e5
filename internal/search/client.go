// Package search queries Elasticsearch backends for matching log documents.
package search

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"logalert/internal/config"
	"logalert/internal/domain"
)

const (
	maxScrollResults = 10000
	scrollKeepalive  = 1 * time.Minute
	defaultTimeout   = 30 * time.Second
)

// ErrDisabledSource reports an attempt to build a client for a disabled data source.
var ErrDisabledSource = errors.New("data source is disabled")

// Options describes one Elasticsearch backend connection.
// Params: semicolon-separated URL list, credentials, TLS policy, and timeout.
// Returns: client construction input.
type Options struct {
	URL           string
	Username      string
	Password      string
	UseSSL        bool
	SkipVerify    bool
	CACertificate string
	QueryTimeout  time.Duration
}

// FromConfig converts the search config section into client options.
// Params: cfg search section.
// Returns: options for the environment-default backend.
func FromConfig(cfg config.SearchConfig) Options {
	return Options{
		URL:           cfg.URL,
		Username:      cfg.Username,
		Password:      cfg.Password,
		UseSSL:        cfg.UseSSL,
		SkipVerify:    cfg.SkipVerify,
		CACertificate: cfg.CACertificate,
		QueryTimeout:  time.Duration(cfg.QueryTimeoutSeconds) * time.Second,
	}
}

// FromDataSource converts a stored data source into client options.
// Params: source row and query timeout.
// Returns: options or ErrDisabledSource.
func FromDataSource(source domain.DataSource, timeout time.Duration) (Options, error) {
	if !source.Enabled {
		return Options{}, ErrDisabledSource
	}
	return Options{
		URL:           source.URL,
		Username:      source.Username,
		Password:      source.Password,
		UseSSL:        source.UseSSL,
		SkipVerify:    source.SkipVerify,
		CACertificate: source.CACertificate,
		QueryTimeout:  timeout,
	}, nil
}

// Client wraps one Elasticsearch connection pool.
// Params: built from Options.
// Returns: log query operations.
type Client struct {
	es      *elasticsearch.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient connects to the backend described by opts.
// Params: opts connection settings and logger.
// Returns: client or configuration error.
func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	addresses := parseAddresses(opts.URL)
	if len(addresses) == 0 {
		return nil, fmt.Errorf("no valid addresses in %q", opts.URL)
	}

	cfg := elasticsearch.Config{
		Addresses:  addresses,
		MaxRetries: 3,
	}
	if opts.Username != "" && opts.Password != "" {
		cfg.Username = opts.Username
		cfg.Password = opts.Password
	}

	// Pool sized for many concurrently evaluating rules.
	transport := &http.Transport{
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
	}

	if opts.UseSSL || strings.HasPrefix(addresses[0], "https://") {
		tlsConfig := &tls.Config{InsecureSkipVerify: opts.SkipVerify}
		if opts.CACertificate != "" {
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM([]byte(opts.CACertificate)) {
				return nil, errors.New("parse CA certificate failed")
			}
			tlsConfig.RootCAs = pool
		}
		transport.TLSClientConfig = tlsConfig
	}
	cfg.Transport = transport

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create search client: %w", err)
	}

	timeout := opts.QueryTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{es: es, timeout: timeout, logger: logger}, nil
}

// parseAddresses splits the semicolon-separated URL list.
// Params: raw URL string.
// Returns: trimmed non-empty addresses.
func parseAddresses(raw string) []string {
	var addresses []string
	for _, part := range strings.Split(raw, ";") {
		if addr := strings.TrimSpace(part); addr != "" {
			addresses = append(addresses, addr)
		}
	}
	return addresses
}

// QueryLogs runs the rule query over [from, to) and drains the scroll.
// Params: ctx, index pattern, conditions, window bounds, and page size.
// Returns: matched documents (capped) with _index and _id merged in, or error.
func (c *Client) QueryLogs(
	ctx context.Context,
	indexPattern string,
	conditions domain.QueryConditions,
	from, to time.Time,
	batchSize int,
) ([]map[string]any, error) {
	// Keep a worker slot from being held past the query budget. An existing
	// earlier deadline wins.
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	query, err := BuildQuery(conditions, from, to)
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	if batchSize <= 0 {
		batchSize = 200
	}
	req := esapi.SearchRequest{
		Index:  []string{indexPattern},
		Body:   bytes.NewReader(body),
		Scroll: scrollKeepalive,
		Size:   &batchSize,
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		var detail map[string]any
		if err := json.NewDecoder(res.Body).Decode(&detail); err != nil {
			return nil, fmt.Errorf("search error (status %s)", res.Status())
		}
		return nil, fmt.Errorf("search error: %v", detail)
	}

	var searchResp map[string]any
	if err := json.NewDecoder(res.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	scrollID, _ := searchResp["_scroll_id"].(string)
	results := extractDocuments(searchResp)
	c.logger.Debug("initial search page",
		"index_pattern", indexPattern,
		"docs", len(results))

	for scrollID != "" && len(results) < maxScrollResults {
		page, nextID, ok := c.scrollPage(ctx, scrollID)
		if !ok || len(page) == 0 {
			break
		}
		results = append(results, page...)
		scrollID = nextID
	}

	if scrollID != "" {
		clearReq := esapi.ClearScrollRequest{ScrollID: []string{scrollID}}
		_, _ = clearReq.Do(ctx, c.es)
	}

	c.logger.Debug("query completed",
		"index_pattern", indexPattern,
		"total_results", len(results))
	return results, nil
}

// scrollPage fetches one scroll batch.
// Params: ctx and current scroll id.
// Returns: page documents, next scroll id, and false on any scroll failure.
func (c *Client) scrollPage(ctx context.Context, scrollID string) ([]map[string]any, string, bool) {
	req := esapi.ScrollRequest{ScrollID: scrollID, Scroll: scrollKeepalive}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return nil, "", false
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, "", false
	}

	var resp map[string]any
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return nil, "", false
	}

	nextID, _ := resp["_scroll_id"].(string)
	return extractDocuments(resp), nextID, true
}

// Ping checks backend reachability.
// Params: ctx.
// Returns: nil when the cluster answers, error otherwise.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("ping returned error: %s", res.String())
	}
	return nil
}

// extractDocuments flattens hits into source maps with _index and _id merged in.
// Params: decoded search or scroll response.
// Returns: document maps.
func extractDocuments(response map[string]any) []map[string]any {
	hits, _ := response["hits"].(map[string]any)
	hitsList, _ := hits["hits"].([]any)

	var docs []map[string]any
	for _, hit := range hitsList {
		hitMap, _ := hit.(map[string]any)
		source, _ := hitMap["_source"].(map[string]any)

		doc := make(map[string]any, len(source)+2)
		for k, v := range source {
			doc[k] = v
		}
		doc["_index"], _ = hitMap["_index"].(string)
		doc["_id"], _ = hitMap["_id"].(string)
		docs = append(docs, doc)
	}
	return docs
}
