package encoder

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/chtzvt/docslurp/internal/chunk"
	"github.com/chtzvt/docslurp/internal/normalize"
)

// ParquetEncoder writes one row group per chunk, so a file spanning several
// chunks never holds more than one chunk in memory.
type ParquetEncoder struct {
	schema  *parquet.Schema
	codec   compress.Codec
	columns []normalize.Column
	idCol   int
	keyCol  int
	valCols []int
}

func NewParquetEncoder(opts Options) (Encoder, error) {
	codec, err := parquetCodec(opts.Compression)
	if err != nil {
		return nil, err
	}
	if len(opts.Columns) == 0 {
		return nil, fmt.Errorf("parquet encoder needs at least one value column")
	}

	group := parquet.Group{
		normalize.IDColumn:  parquet.String(),
		normalize.KeyColumn: parquet.Timestamp(parquet.Nanosecond),
	}
	for _, c := range opts.Columns {
		if _, dup := group[c.Name]; dup {
			return nil, fmt.Errorf("duplicate parquet column %q", c.Name)
		}
		var node parquet.Node = parquet.String()
		if c.Optional {
			node = parquet.Optional(node)
		}
		group[c.Name] = node
	}
	schema := parquet.NewSchema("document", group)

	e := &ParquetEncoder{schema: schema, codec: codec, columns: opts.Columns}
	if e.idCol, err = leafIndex(schema, normalize.IDColumn); err != nil {
		return nil, err
	}
	if e.keyCol, err = leafIndex(schema, normalize.KeyColumn); err != nil {
		return nil, err
	}
	for _, c := range opts.Columns {
		idx, err := leafIndex(schema, c.Name)
		if err != nil {
			return nil, err
		}
		e.valCols = append(e.valCols, idx)
	}
	return e, nil
}

func leafIndex(schema *parquet.Schema, name string) (int, error) {
	leaf, ok := schema.Lookup(name)
	if !ok {
		return 0, fmt.Errorf("parquet schema has no column %q", name)
	}
	return leaf.ColumnIndex, nil
}

func parquetCodec(name string) (compress.Codec, error) {
	switch name {
	case "", "zstd":
		return &parquet.Zstd, nil
	case "snappy":
		return &parquet.Snappy, nil
	case "gzip":
		return &parquet.Gzip, nil
	case "none", "uncompressed":
		return &parquet.Uncompressed, nil
	default:
		return nil, fmt.Errorf("unsupported parquet compression: %s", name)
	}
}

func (e *ParquetEncoder) Extension() string { return ".parquet" }

func (e *ParquetEncoder) Schema() *parquet.Schema { return e.schema }

func (e *ParquetEncoder) Begin(path string) (Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, &EncodingError{Path: path, Err: err}
	}
	w := parquet.NewWriter(f, e.schema, parquet.Compression(e.codec), parquet.CreatedBy("docslurp", "", ""))
	return &parquetWriter{tracker: tracker{path: path}, enc: e, f: f, w: w}, nil
}

type parquetWriter struct {
	tracker
	enc *ParquetEncoder
	f   *os.File
	w   *parquet.Writer
}

func (p *parquetWriter) row(r normalize.Row) (parquet.Row, error) {
	if len(r.Values) != len(p.enc.valCols) {
		return nil, fmt.Errorf("row %s has %d values, schema has %d", r.ID, len(r.Values), len(p.enc.valCols))
	}
	row := make(parquet.Row, len(p.enc.valCols)+2)
	row[p.enc.idCol] = parquet.ByteArrayValue([]byte(r.ID)).Level(0, 0, p.enc.idCol)
	row[p.enc.keyCol] = parquet.Int64Value(r.Key.UnixNano()).Level(0, 0, p.enc.keyCol)
	for i, col := range p.enc.valCols {
		v := r.Values[i]
		switch {
		case v != nil && p.enc.columns[i].Optional:
			row[col] = parquet.ByteArrayValue([]byte(*v)).Level(0, 1, col)
		case v != nil:
			row[col] = parquet.ByteArrayValue([]byte(*v)).Level(0, 0, col)
		case p.enc.columns[i].Optional:
			row[col] = parquet.NullValue().Level(0, 0, col)
		default:
			return nil, fmt.Errorf("row %s: required column %q is null", r.ID, p.enc.columns[i].Name)
		}
	}
	return row, nil
}

func (p *parquetWriter) Write(c chunk.Chunk) error {
	if c.Len() == 0 {
		return nil
	}
	rows := make([]parquet.Row, 0, c.Len())
	for _, r := range c.Rows {
		row, err := p.row(r)
		if err != nil {
			return p.fail(err)
		}
		rows = append(rows, row)
	}
	if _, err := p.w.WriteRows(rows); err != nil {
		return p.fail(err)
	}
	// One row group per chunk.
	if err := p.w.Flush(); err != nil {
		return p.fail(err)
	}
	p.add(c)
	return nil
}

func (p *parquetWriter) Finalize() (FileRef, error) {
	if err := p.w.Close(); err != nil {
		p.f.Close()
		return FileRef{}, p.fail(err)
	}
	if err := p.f.Close(); err != nil {
		return FileRef{}, p.fail(err)
	}
	return p.ref()
}

func (p *parquetWriter) Abort() error {
	p.f.Close()
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func init() {
	Register("parquet", NewParquetEncoder)
}
