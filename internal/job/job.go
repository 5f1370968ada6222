package job

import (
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	ChunkModeCount = "count"
	ChunkModeBytes = "bytes"

	NormalizePayload    = "payload"
	NormalizeStructured = "structured"

	CheckpointBlob = "blob"
	CheckpointEtcd = "etcd"
)

// Spec is the full description of one export: where documents come from,
// how they are batched and encoded, and where files and checkpoints go.
type Spec struct {
	Source     SourceOptions     `mapstructure:"source" json:"source" yaml:"source"`
	Output     OutputOptions     `mapstructure:"output" json:"output" yaml:"output"`
	Chunk      ChunkOptions      `mapstructure:"chunk" json:"chunk" yaml:"chunk"`
	Normalize  NormalizeOptions  `mapstructure:"normalize" json:"normalize" yaml:"normalize"`
	Checkpoint CheckpointOptions `mapstructure:"checkpoint" json:"checkpoint" yaml:"checkpoint"`
}

type SourceOptions struct {
	URI        string `mapstructure:"uri" json:"uri" yaml:"uri"`
	Database   string `mapstructure:"database" json:"database" yaml:"database"`
	Collection string `mapstructure:"collection" json:"collection" yaml:"collection"`

	// OrderKey is the monotonic field the export is sequenced and resumed on.
	OrderKey string `mapstructure:"order_key" json:"order_key" yaml:"order_key"`
	// IDKey breaks ties between documents sharing an ordering key.
	IDKey string `mapstructure:"id_key" json:"id_key" yaml:"id_key"`

	// PageSize bounds each server-side cursor; the adapter reopens at the
	// last ordering key once a page is consumed. 0 reads one unbounded cursor.
	PageSize int64 `mapstructure:"page_size" json:"page_size" yaml:"page_size"`

	MaxRetries int           `mapstructure:"max_retries" json:"max_retries" yaml:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay" json:"retry_delay" yaml:"retry_delay"`

	Postgres PostgresOptions `mapstructure:"postgres" json:"postgres" yaml:"postgres"`
}

type PostgresOptions struct {
	Table          string `mapstructure:"table" json:"table" yaml:"table"`
	IDColumn       string `mapstructure:"id_column" json:"id_column" yaml:"id_column"`
	DocumentColumn string `mapstructure:"document_column" json:"document_column" yaml:"document_column"`
}

type OutputOptions struct {
	Store        string                 `mapstructure:"store" json:"store" yaml:"store"`
	StoreOptions map[string]interface{} `mapstructure:"store_options" json:"store_options" yaml:"store_options"`
	Namespace    string                 `mapstructure:"namespace" json:"namespace" yaml:"namespace"`
	Format       string                 `mapstructure:"format" json:"format" yaml:"format"`
	Compression  string                 `mapstructure:"compression" json:"compression" yaml:"compression"`
	TmpDir       string                 `mapstructure:"tmp_dir" json:"tmp_dir" yaml:"tmp_dir"`
	MaxInFlight  int                    `mapstructure:"max_in_flight" json:"max_in_flight" yaml:"max_in_flight"`
}

type ChunkOptions struct {
	Mode    string `mapstructure:"mode" json:"mode" yaml:"mode"`
	Records int    `mapstructure:"records" json:"records" yaml:"records"`
	Bytes   int64  `mapstructure:"bytes" json:"bytes" yaml:"bytes"`
	// FileBytes is the byte ceiling of one output file in bytes mode.
	// Several chunks are streamed into the same file until it is reached.
	FileBytes int64 `mapstructure:"file_bytes" json:"file_bytes" yaml:"file_bytes"`
}

type NormalizeOptions struct {
	Mode   string   `mapstructure:"mode" json:"mode" yaml:"mode"`
	Fields []string `mapstructure:"fields" json:"fields" yaml:"fields"`
}

type CheckpointOptions struct {
	Store string      `mapstructure:"store" json:"store" yaml:"store"`
	Etcd  EtcdOptions `mapstructure:"etcd" json:"etcd" yaml:"etcd"`
}

type EtcdOptions struct {
	Endpoints   []string      `mapstructure:"endpoints" json:"endpoints" yaml:"endpoints"`
	Username    string        `mapstructure:"username" json:"username" yaml:"username"`
	Password    string        `mapstructure:"password" json:"password" yaml:"password"`
	Prefix      string        `mapstructure:"prefix" json:"prefix" yaml:"prefix"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" json:"dial_timeout" yaml:"dial_timeout"`
}

// ApplyDefaults fills every unset option with its default value.
func (s *Spec) ApplyDefaults() {
	if s.Source.OrderKey == "" {
		s.Source.OrderKey = "timestamp"
	}
	if s.Source.IDKey == "" {
		s.Source.IDKey = "_id"
	}
	if s.Source.RetryDelay == 0 {
		s.Source.RetryDelay = 5 * time.Second
	}
	if s.Output.Format == "" {
		s.Output.Format = "parquet"
	}
	if s.Output.MaxInFlight <= 0 {
		s.Output.MaxInFlight = 2
	}
	if s.Chunk.Mode == "" {
		s.Chunk.Mode = ChunkModeCount
	}
	if s.Chunk.Mode == ChunkModeCount && s.Chunk.Records <= 0 {
		s.Chunk.Records = 1000
	}
	if s.Chunk.Mode == ChunkModeBytes && s.Chunk.Bytes <= 0 {
		s.Chunk.Bytes = 128 << 20
	}
	if s.Normalize.Mode == "" {
		s.Normalize.Mode = NormalizePayload
	}
	if s.Checkpoint.Store == "" {
		s.Checkpoint.Store = CheckpointBlob
	}
	if s.Checkpoint.Etcd.Prefix == "" {
		s.Checkpoint.Etcd.Prefix = "/docslurp"
	}
	if s.Checkpoint.Etcd.DialTimeout == 0 {
		s.Checkpoint.Etcd.DialTimeout = 5 * time.Second
	}
}

// Namespace is the fixed key prefix of every object written for the
// exported collection.
func (s *Spec) Namespace() string {
	if s.Output.Namespace != "" {
		return strings.Trim(s.Output.Namespace, "/")
	}
	return path.Join(s.Source.Database, s.Source.Collection)
}

func (s *Spec) Validate() error {
	var missing []string

	if s.Source.URI == "" {
		missing = append(missing, "source.uri")
	}
	if s.Source.Collection == "" && s.Source.Postgres.Table == "" {
		missing = append(missing, "source.collection")
	}
	if s.Source.OrderKey == "" {
		missing = append(missing, "source.order_key")
	}
	if s.Source.MaxRetries < 0 {
		missing = append(missing, "source.max_retries")
	}
	if s.Output.Store == "" {
		missing = append(missing, "output.store")
	}
	if s.Namespace() == "" {
		missing = append(missing, "output.namespace")
	}

	switch s.Chunk.Mode {
	case ChunkModeCount:
		if s.Chunk.Records <= 0 {
			missing = append(missing, "chunk.records")
		}
	case ChunkModeBytes:
		if s.Chunk.Bytes <= 0 {
			missing = append(missing, "chunk.bytes")
		}
		if s.Chunk.FileBytes < 0 {
			missing = append(missing, "chunk.file_bytes")
		}
	default:
		missing = append(missing, "chunk.mode")
	}

	switch s.Normalize.Mode {
	case NormalizePayload:
	case NormalizeStructured:
		if len(s.Normalize.Fields) == 0 {
			missing = append(missing, "normalize.fields")
		}
	default:
		missing = append(missing, "normalize.mode")
	}

	switch s.Checkpoint.Store {
	case CheckpointBlob:
	case CheckpointEtcd:
		if len(s.Checkpoint.Etcd.Endpoints) == 0 {
			missing = append(missing, "checkpoint.etcd.endpoints")
		}
	default:
		missing = append(missing, "checkpoint.store")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing/invalid export fields: %s", strings.Join(missing, ", "))
	}
	return nil
}
