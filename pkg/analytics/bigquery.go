package analytics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// BigQueryConfig names the events table.
type BigQueryConfig struct {
	ProjectID       string `yaml:"project_id"`
	DatasetID       string `yaml:"dataset_id"`
	TableID         string `yaml:"table_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

// NewBigQueryClient creates a BigQuery client. It uses Application Default
// Credentials unless a credentials file is configured.
func NewBigQueryClient(ctx context.Context, cfg *BigQueryConfig, logger zerolog.Logger) (*bigquery.Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info().Str("credentials_file", cfg.CredentialsFile).Msg("Using specified credentials file for BigQuery client.")
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery.NewClient: %w", err)
	}
	logger.Info().Str("project_id", cfg.ProjectID).Msg("BigQuery client created successfully.")
	return client, nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

// BigQueryInserter streams events into a table, creating it from Event's
// inferred schema when it does not exist.
type BigQueryInserter struct {
	inserter *bigquery.Inserter
	logger   zerolog.Logger
}

var _ EventInserter = (*BigQueryInserter)(nil)

// NewBigQueryInserter creates an inserter for cfg's table.
func NewBigQueryInserter(ctx context.Context, client *bigquery.Client, cfg *BigQueryConfig, logger zerolog.Logger) (*BigQueryInserter, error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	if cfg == nil || cfg.DatasetID == "" || cfg.TableID == "" {
		return nil, errors.New("bigquery dataset and table are required")
	}
	logger = logger.With().Str("component", "BigQueryInserter").Str("dataset_id", cfg.DatasetID).Str("table_id", cfg.TableID).Logger()

	table := client.Dataset(cfg.DatasetID).Table(cfg.TableID)
	if _, err := table.Metadata(ctx); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("failed to get BigQuery table metadata: %w", err)
		}
		logger.Warn().Msg("BigQuery table not found. Attempting to create with inferred schema.")
		schema, err := bigquery.InferSchema(Event{})
		if err != nil {
			return nil, fmt.Errorf("failed to infer event schema: %w", err)
		}
		meta := &bigquery.TableMetadata{
			Schema: schema,
			TimePartitioning: &bigquery.TimePartitioning{
				Type:  bigquery.DayPartitioningType,
				Field: "occurred_at",
			},
		}
		if err := table.Create(ctx, meta); err != nil {
			return nil, fmt.Errorf("failed to create BigQuery table %s.%s: %w", cfg.DatasetID, cfg.TableID, err)
		}
		logger.Info().Int("field_count", len(schema)).Msg("BigQuery table created.")
	}

	return &BigQueryInserter{inserter: table.Inserter(), logger: logger}, nil
}

// InsertEvents streams events. Event ids double as insert ids, so a
// redelivered batch is deduplicated by BigQuery on a best-effort basis.
func (i *BigQueryInserter) InsertEvents(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]*bigquery.StructSaver, len(events))
	for n := range events {
		rows[n] = &bigquery.StructSaver{Struct: &events[n], InsertID: events[n].ID}
	}

	if err := i.inserter.Put(ctx, rows); err != nil {
		var multiErr bigquery.PutMultiError
		if errors.As(err, &multiErr) {
			for _, rowErr := range multiErr {
				i.logger.Error().Int("row_index", rowErr.RowIndex).Msgf("BigQuery insert error for row: %v", rowErr.Errors)
			}
		}
		return fmt.Errorf("bigquery Inserter.Put failed: %w", err)
	}
	i.logger.Debug().Int("batch_size", len(events)).Msg("Inserted events into BigQuery.")
	return nil
}

// BigQueryReporter summarizes the events table with aggregate queries.
type BigQueryReporter struct {
	client *bigquery.Client
	table  string
	logger zerolog.Logger
}

var _ Reporter = (*BigQueryReporter)(nil)

// NewBigQueryReporter creates a reporter over cfg's table.
func NewBigQueryReporter(client *bigquery.Client, cfg *BigQueryConfig, logger zerolog.Logger) (*BigQueryReporter, error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	return &BigQueryReporter{
		client: client,
		table:  fmt.Sprintf("`%s.%s.%s`", client.Project(), cfg.DatasetID, cfg.TableID),
		logger: logger.With().Str("component", "BigQueryReporter").Logger(),
	}, nil
}

type totalsRow struct {
	Visits         int64 `bigquery:"visits"`
	Clicks         int64 `bigquery:"clicks"`
	UniqueVisitors int64 `bigquery:"unique_visitors"`
}

// Summarize runs the totals and top-products queries concurrently.
func (r *BigQueryReporter) Summarize(ctx context.Context, since time.Time, top int) (Summary, error) {
	if top <= 0 {
		top = 10
	}
	s := Summary{Since: since, TopProducts: []ProductStat{}}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		q := r.client.Query(fmt.Sprintf(`SELECT
  COUNTIF(event_type = 'visit') AS visits,
  COUNTIF(event_type = 'click') AS clicks,
  COUNT(DISTINCT visitor_id) AS unique_visitors
FROM %s
WHERE occurred_at >= @since`, r.table))
		q.Parameters = []bigquery.QueryParameter{{Name: "since", Value: since}}
		it, err := q.Read(gctx)
		if err != nil {
			return fmt.Errorf("totals query: %w", err)
		}
		var row totalsRow
		if err := it.Next(&row); err != nil && !errors.Is(err, iterator.Done) {
			return fmt.Errorf("totals row: %w", err)
		}
		s.Visits, s.Clicks, s.UniqueVisitors = row.Visits, row.Clicks, row.UniqueVisitors
		return nil
	})

	var topProducts []ProductStat
	g.Go(func() error {
		q := r.client.Query(fmt.Sprintf(`SELECT product_id, COUNT(*) AS clicks
FROM %s
WHERE event_type = 'click' AND occurred_at >= @since AND product_id != ''
GROUP BY product_id
ORDER BY clicks DESC, product_id
LIMIT @top`, r.table))
		q.Parameters = []bigquery.QueryParameter{
			{Name: "since", Value: since},
			{Name: "top", Value: top},
		}
		it, err := q.Read(gctx)
		if err != nil {
			return fmt.Errorf("top products query: %w", err)
		}
		for {
			var row ProductStat
			err := it.Next(&row)
			if errors.Is(err, iterator.Done) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("top products row: %w", err)
			}
			topProducts = append(topProducts, row)
		}
	})

	if err := g.Wait(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to summarize analytics.")
		return Summary{}, err
	}
	if topProducts != nil {
		s.TopProducts = topProducts
	}
	return s, nil
}
