package source

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"

	"github.com/chtzvt/docslurp/internal/job"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PostgresSource reads documents stored as a JSON column next to a
// timestamp column, sorted by (timestamp, id).
type PostgresSource struct {
	db       *sql.DB
	query    string
	orderKey string
	idKey    string
}

func NewPostgresSource(ctx context.Context, opts job.SourceOptions) (Source, error) {
	table := opts.Postgres.Table
	if table == "" {
		table = opts.Collection
	}
	if table == "" {
		return nil, fmt.Errorf("postgres source requires a table")
	}
	idCol := opts.Postgres.IDColumn
	if idCol == "" {
		idCol = "id"
	}
	docCol := opts.Postgres.DocumentColumn
	if docCol == "" {
		docCol = "doc"
	}

	db, err := sql.Open("postgres", opts.URI)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	key := pq.QuoteIdentifier(opts.OrderKey)
	id := pq.QuoteIdentifier(idCol)
	query := fmt.Sprintf(
		`SELECT %[2]s::text, %[1]s, %[3]s FROM %[4]s
		 WHERE ($1::timestamptz IS NULL OR %[1]s >= $1)
		 ORDER BY %[1]s, %[2]s OFFSET $2 LIMIT $3`,
		key, id, pq.QuoteIdentifier(docCol), quoteTable(table))

	return &PostgresSource{db: db, query: query, orderKey: opts.OrderKey, idKey: opts.IDKey}, nil
}

// quoteTable quotes an optionally schema-qualified table name.
func quoteTable(name string) string {
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			return pq.QuoteIdentifier(name[:i]) + "." + pq.QuoteIdentifier(name[i+1:])
		}
	}
	return pq.QuoteIdentifier(name)
}

func (p *PostgresSource) Find(ctx context.Context, q Query) (Iterator, error) {
	from := sql.NullTime{Time: q.From, Valid: !q.From.IsZero()}
	limit := sql.NullInt64{Int64: q.Limit, Valid: q.Limit > 0}
	rows, err := p.db.QueryContext(ctx, p.query, from, q.Skip, limit)
	if err != nil {
		return nil, err
	}
	return &pgIterator{rows: rows, orderKey: p.orderKey, idKey: p.idKey}, nil
}

func (p *PostgresSource) Close(ctx context.Context) error {
	return p.db.Close()
}

type pgIterator struct {
	rows     *sql.Rows
	orderKey string
	idKey    string
}

func (it *pgIterator) Next(ctx context.Context) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var (
		id  string
		key sql.NullTime
		raw []byte
	)
	if err := it.rows.Scan(&id, &key, &raw); err != nil {
		return nil, err
	}
	if !key.Valid {
		return nil, fmt.Errorf("%w: row %s", ErrMissingOrderKey, id)
	}

	doc := make(map[string]interface{})
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode document %s: %w", id, err)
		}
	}
	if _, ok := doc[it.idKey]; !ok {
		doc[it.idKey] = id
	}
	if _, ok := doc[it.orderKey]; !ok {
		doc[it.orderKey] = key.Time.UTC().Format(time.RFC3339Nano)
	}
	return &Record{ID: id, Key: key.Time.UTC(), Doc: doc}, nil
}

func (it *pgIterator) Close(ctx context.Context) error {
	return it.rows.Close()
}

func init() {
	Register("postgres", NewPostgresSource)
	Register("postgresql", NewPostgresSource)
}
