package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/natalfamilia/natal-backend/pkg/config"
	"github.com/natalfamilia/natal-backend/pkg/logger"
)

const metadataTimeout = 10 * time.Second

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery table name is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")
)

// TableSpec declares a table whose schema is inferred from Row, a struct
// with bigquery tags. PartitionField, when set, names a TIMESTAMP column used
// for daily partitioning.
type TableSpec struct {
	Name           string
	Row            any
	PartitionField string
}

// Row is one streamed row. InsertID lets BigQuery drop a redelivered row on a
// best-effort basis; when empty the library generates one per call.
type Row struct {
	InsertID string
	Value    any
}

// Client streams rows into the tables of one dataset.
type Client struct {
	client       *bigquery.Client
	dataset      *bigquery.Dataset
	createTables bool
	logg         *logger.Logger

	mu      sync.RWMutex
	schemas map[string]bigquery.Schema
}

// NewClient connects and checks that the dataset exists. Tables are declared
// afterwards with EnsureTable.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errDatasetRequired
	}

	bqClient, err := bigquery.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	c := &Client{
		client:       bqClient,
		dataset:      bqClient.Dataset(datasetID),
		createTables: cfg.CreateTables,
		logg:         logg,
		schemas:      map[string]bigquery.Schema{},
	}
	if err := c.checkDataset(ctx); err != nil {
		_ = bqClient.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "dataset", datasetID), "bigquery client initialized")
	}
	return c, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	if creds := strings.TrimSpace(gcp.CredentialsJSON); creds != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return nil
}

func (c *Client) checkDataset(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()
	if _, err := c.dataset.Metadata(ctx); err != nil {
		if statusCode(err) == http.StatusNotFound {
			return fmt.Errorf("dataset %q does not exist", c.dataset.DatasetID)
		}
		return fmt.Errorf("checking dataset %q: %w", c.dataset.DatasetID, err)
	}
	return nil
}

// EnsureTable registers spec and creates the table when it is missing and
// table creation is enabled. A table created concurrently by another worker
// counts as success.
func (c *Client) EnsureTable(ctx context.Context, spec TableSpec) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return errTableNameRequired
	}
	schema, meta, err := tableMetadata(spec)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()
	table := c.dataset.Table(name)
	if _, err := table.Metadata(ctx); err != nil {
		if statusCode(err) != http.StatusNotFound {
			return fmt.Errorf("checking table %q: %w", name, err)
		}
		if !c.createTables {
			return fmt.Errorf("table %q does not exist", name)
		}
		if err := table.Create(ctx, meta); err != nil && statusCode(err) != http.StatusConflict {
			return fmt.Errorf("creating table %q: %w", name, err)
		}
		if c.logg != nil {
			c.logg.Info(c.logg.WithField(ctx, "table", name), "bigquery table created")
		}
	}

	c.mu.Lock()
	c.schemas[name] = schema
	c.mu.Unlock()
	return nil
}

func tableMetadata(spec TableSpec) (bigquery.Schema, *bigquery.TableMetadata, error) {
	schema, err := bigquery.InferSchema(spec.Row)
	if err != nil {
		return nil, nil, fmt.Errorf("infer schema for %q: %w", spec.Name, err)
	}
	meta := &bigquery.TableMetadata{Schema: schema}
	if field := strings.TrimSpace(spec.PartitionField); field != "" {
		meta.TimePartitioning = &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: field,
		}
	}
	return schema, meta, nil
}

// Ping checks the dataset and every registered table.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}
	if err := c.checkDataset(ctx); err != nil {
		return err
	}
	c.mu.RLock()
	names := make([]string, 0, len(c.schemas))
	for name := range c.schemas {
		names = append(names, name)
	}
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()
	for _, name := range names {
		if _, err := c.dataset.Table(name).Metadata(ctx); err != nil {
			return fmt.Errorf("checking table %q: %w", name, err)
		}
	}
	return nil
}

// InsertRows streams rows into a table registered with EnsureTable.
func (c *Client) InsertRows(ctx context.Context, table string, rows []Row) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return errTableNameRequired
	}
	if len(rows) == 0 {
		return nil
	}
	c.mu.RLock()
	schema, ok := c.schemas[table]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("table %q not registered", table)
	}
	return c.dataset.Table(table).Inserter().Put(ctx, savers(schema, rows))
}

func savers(schema bigquery.Schema, rows []Row) []*bigquery.StructSaver {
	out := make([]*bigquery.StructSaver, 0, len(rows))
	for _, r := range rows {
		out = append(out, &bigquery.StructSaver{
			Schema:   schema,
			InsertID: r.InsertID,
			Struct:   r.Value,
		})
	}
	return out
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func statusCode(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
