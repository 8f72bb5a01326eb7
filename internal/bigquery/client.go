// Package bigquery runs report queries and cost estimates against
// BigQuery, and lists the projects a credential can reach.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	bq "cloud.google.com/go/bigquery"
	apperrors "github.com/alexjbarnes/ga4-reports/internal/errors"
	"google.golang.org/api/iterator"
)

// maxRows caps the rows returned by a single query.
const maxRows = 10000

// Client executes queries with a bound credential and billing project.
type Client interface {
	ProjectID() string
	Run(ctx context.Context, sql string) (*Result, error)
	DryRun(ctx context.Context, sql string) (*Estimate, error)
	Close() error
}

// Result is a query result set.
type Result struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated,omitempty"`
}

// Estimate is the cost of a query as reported by a dry run. Display
// only; nothing is enforced against it.
type Estimate struct {
	BytesProcessed int64 `json:"bytes_processed"`
	CacheHit       bool  `json:"cache_hit"`
}

// queryClient implements Client on the BigQuery client library.
type queryClient struct {
	client  *bq.Client
	project string
	timeout time.Duration
	logger  *slog.Logger
}

func (c *queryClient) ProjectID() string {
	return c.project
}

func (c *queryClient) Run(ctx context.Context, sql string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()

	it, err := c.client.Query(sql).Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("running query: %w: %w", apperrors.ErrUpstream, err)
	}

	res := &Result{Rows: [][]any{}}

	for {
		var row []bq.Value

		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("reading query results: %w: %w", apperrors.ErrUpstream, err)
		}

		if len(res.Rows) == maxRows {
			res.Truncated = true
			break
		}

		values := make([]any, len(row))
		for i, v := range row {
			values[i] = v
		}

		res.Rows = append(res.Rows, values)
	}

	for _, f := range it.Schema {
		res.Columns = append(res.Columns, f.Name)
	}

	c.logger.Debug("query complete",
		slog.String("project", c.project),
		slog.Int("rows", len(res.Rows)),
		slog.Duration("elapsed", time.Since(start)),
	)

	return res, nil
}

func (c *queryClient) DryRun(ctx context.Context, sql string) (*Estimate, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := c.client.Query(sql)
	q.DryRun = true

	job, err := q.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("dry running query: %w: %w", apperrors.ErrUpstream, err)
	}

	status := job.LastStatus()
	if status == nil || status.Statistics == nil {
		return &Estimate{}, nil
	}

	if err := status.Err(); err != nil {
		return nil, fmt.Errorf("dry running query: %w: %w", apperrors.ErrUpstream, err)
	}

	est := &Estimate{BytesProcessed: status.Statistics.TotalBytesProcessed}
	if qs, ok := status.Statistics.Details.(*bq.QueryStatistics); ok {
		est.CacheHit = qs.CacheHit
	}

	return est, nil
}

func (c *queryClient) Close() error {
	return c.client.Close()
}
