package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"logalert/internal/domain"
	"logalert/internal/search"
)

// SourceReader loads data source rows with decrypted credentials.
// Params: ctx and source id.
// Returns: source row or lookup error.
type SourceReader interface {
	GetByID(ctx context.Context, id uint) (*domain.DataSource, error)
}

// SearchProvider resolves per-rule search backends, falling back to the
// environment-default client for rules without a data source binding.
// Params: default client, source store, and query timeout.
// Returns: SearcherProvider implementation.
type SearchProvider struct {
	fallback LogSearcher
	sources  SourceReader
	timeout  time.Duration
	logger   *slog.Logger
}

// NewSearchProvider builds a search provider.
// Params: default backend client (may be nil), source store, timeout, logger.
// Returns: provider.
func NewSearchProvider(fallback LogSearcher, sources SourceReader, timeout time.Duration, logger *slog.Logger) *SearchProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchProvider{
		fallback: fallback,
		sources:  sources,
		timeout:  timeout,
		logger:   logger,
	}
}

// ForRule returns the search backend for one rule.
// Params: ctx and rule.
// Returns: data-source-bound client, the default client, or an error when
// the bound source is missing or disabled.
func (p *SearchProvider) ForRule(ctx context.Context, rule *domain.Rule) (LogSearcher, error) {
	if rule.DataSourceID == nil {
		if p.fallback == nil {
			return nil, fmt.Errorf("no search backend available")
		}
		return p.fallback, nil
	}

	// Fetched by id so credentials come back decrypted.
	source, err := p.sources.GetByID(ctx, *rule.DataSourceID)
	if err != nil {
		return nil, fmt.Errorf("load data source %d: %w", *rule.DataSourceID, err)
	}

	opts, err := search.FromDataSource(*source, p.timeout)
	if err != nil {
		return nil, err
	}
	client, err := search.NewClient(opts, p.logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}
