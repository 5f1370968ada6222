package encoder

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
	jsoniter "github.com/json-iterator/go"

	"github.com/chtzvt/docslurp/internal/chunk"
	"github.com/chtzvt/docslurp/internal/compression"
	"github.com/chtzvt/docslurp/internal/normalize"
)

// RowFormat renders rows of a line-oriented file.
type RowFormat interface {
	// Header returns any leading bytes (e.g., header row). May be empty.
	Header(cols []normalize.Column) ([]byte, error)
	Row(cols []normalize.Column, r normalize.Row) ([]byte, error)
	Extension() string
}

// LineEncoder streams rows through a RowFormat and a compressor.
type LineEncoder struct {
	format      RowFormat
	compression string
	columns     []normalize.Column
}

func NewLineEncoder(format RowFormat, opts Options) (*LineEncoder, error) {
	if !compression.Supported(opts.Compression) {
		return nil, fmt.Errorf("unsupported compression: %s", opts.Compression)
	}
	return &LineEncoder{format: format, compression: opts.Compression, columns: opts.Columns}, nil
}

func (l *LineEncoder) Extension() string {
	return l.format.Extension() + compression.Extension(l.compression)
}

func (l *LineEncoder) Begin(path string) (Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, &EncodingError{Path: path, Err: err}
	}
	cw, err := compression.NewWriter(f, l.compression)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, &EncodingError{Path: path, Err: err}
	}
	w := &lineWriter{tracker: tracker{path: path}, enc: l, f: f, cw: cw, bw: bufio.NewWriterSize(cw, 256<<10)}

	header, err := l.format.Header(l.columns)
	if err == nil && len(header) > 0 {
		_, err = w.bw.Write(header)
	}
	if err != nil {
		w.Abort()
		return nil, w.fail(err)
	}
	return w, nil
}

type lineWriter struct {
	tracker
	enc *LineEncoder
	f   *os.File
	cw  io.WriteCloser
	bw  *bufio.Writer
}

func (w *lineWriter) Write(c chunk.Chunk) error {
	for _, r := range c.Rows {
		if len(r.Values) != len(w.enc.columns) {
			return w.fail(fmt.Errorf("row %s has %d values, format has %d columns", r.ID, len(r.Values), len(w.enc.columns)))
		}
		b, err := w.enc.format.Row(w.enc.columns, r)
		if err != nil {
			return w.fail(fmt.Errorf("row %s: %w", r.ID, err))
		}
		if _, err := w.bw.Write(b); err != nil {
			return w.fail(err)
		}
	}
	w.add(c)
	return nil
}

func (w *lineWriter) Finalize() (FileRef, error) {
	if err := w.bw.Flush(); err != nil {
		w.f.Close()
		return FileRef{}, w.fail(err)
	}
	if err := w.cw.Close(); err != nil {
		w.f.Close()
		return FileRef{}, w.fail(err)
	}
	if err := w.f.Close(); err != nil {
		return FileRef{}, w.fail(err)
	}
	return w.ref()
}

func (w *lineWriter) Abort() error {
	w.cw.Close()
	w.f.Close()
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// JSONLFormat writes one JSON object per line. In payload mode the payload is
// embedded as a JSON value rather than a string.
type JSONLFormat struct {
	api jsoniter.API
}

func NewJSONLFormat() *JSONLFormat {
	return &JSONLFormat{api: jsoniter.Config{EscapeHTML: false}.Froze()}
}

func (j *JSONLFormat) Extension() string { return ".jsonl" }

func (j *JSONLFormat) Header(cols []normalize.Column) ([]byte, error) { return nil, nil }

func (j *JSONLFormat) Row(cols []normalize.Column, r normalize.Row) ([]byte, error) {
	s := j.api.BorrowStream(nil)
	defer j.api.ReturnStream(s)

	s.WriteObjectStart()
	s.WriteObjectField(normalize.IDColumn)
	s.WriteString(r.ID)
	s.WriteMore()
	s.WriteObjectField(normalize.KeyColumn)
	s.WriteString(r.Key.UTC().Format(time.RFC3339Nano))
	for i, c := range cols {
		s.WriteMore()
		s.WriteObjectField(c.Name)
		v := r.Values[i]
		switch {
		case v == nil:
			s.WriteNil()
		case c.Name == normalize.PayloadColumn && !c.Optional:
			s.WriteRaw(*v)
		default:
			s.WriteString(*v)
		}
	}
	s.WriteObjectEnd()
	s.WriteRaw("\n")
	if s.Error != nil {
		return nil, s.Error
	}
	out := make([]byte, len(s.Buffer()))
	copy(out, s.Buffer())
	return out, nil
}

// CBORFormat writes a CBOR sequence of maps using deterministic encoding.
type CBORFormat struct {
	em cbor.EncMode
}

func NewCBORFormat() (*CBORFormat, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	return &CBORFormat{em: em}, nil
}

func (c *CBORFormat) Extension() string { return ".cbor" }

func (c *CBORFormat) Header(cols []normalize.Column) ([]byte, error) { return nil, nil }

func (c *CBORFormat) Row(cols []normalize.Column, r normalize.Row) ([]byte, error) {
	m := make(map[string]interface{}, len(cols)+2)
	m[normalize.IDColumn] = r.ID
	m[normalize.KeyColumn] = r.Key.UTC()
	for i, col := range cols {
		if v := r.Values[i]; v != nil {
			m[col.Name] = *v
		} else {
			m[col.Name] = nil
		}
	}
	return c.em.Marshal(m)
}

// CSVFormat writes a header row followed by one record per row.
type CSVFormat struct{}

func (CSVFormat) Extension() string { return ".csv" }

func (CSVFormat) Header(cols []normalize.Column) ([]byte, error) {
	rec := []string{normalize.IDColumn, normalize.KeyColumn}
	for _, c := range cols {
		rec = append(rec, c.Name)
	}
	return csvLine(rec)
}

func (CSVFormat) Row(cols []normalize.Column, r normalize.Row) ([]byte, error) {
	rec := []string{r.ID, r.Key.UTC().Format(time.RFC3339Nano)}
	for i := range cols {
		rec = append(rec, r.Value(i))
	}
	return csvLine(rec)
}

func csvLine(rec []string) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	if err := w.Write(rec); err != nil {
		return nil, err
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func init() {
	Register("jsonl", func(opts Options) (Encoder, error) {
		return NewLineEncoder(NewJSONLFormat(), opts)
	})
	Register("cbor", func(opts Options) (Encoder, error) {
		f, err := NewCBORFormat()
		if err != nil {
			return nil, err
		}
		return NewLineEncoder(f, opts)
	})
	Register("csv", func(opts Options) (Encoder, error) {
		return NewLineEncoder(CSVFormat{}, opts)
	})
}
