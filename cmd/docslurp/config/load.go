package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var envKeys = []string{
	"source.uri",
	"source.database",
	"source.collection",
	"source.order_key",
	"source.id_key",
	"source.page_size",
	"source.max_retries",
	"source.retry_delay",
	"source.postgres.table",
	"source.postgres.id_column",
	"source.postgres.document_column",
	"output.store",
	"output.namespace",
	"output.format",
	"output.compression",
	"output.tmp_dir",
	"output.max_in_flight",
	"chunk.mode",
	"chunk.records",
	"chunk.bytes",
	"chunk.file_bytes",
	"normalize.mode",
	"normalize.fields",
	"checkpoint.store",
	"checkpoint.etcd.endpoints",
	"checkpoint.etcd.username",
	"checkpoint.etcd.password",
	"checkpoint.etcd.prefix",
	"checkpoint.etcd.dial_timeout",
	"log.level",
	"log.format",
	"metrics.listen_addr",
}

// Load reads docslurp.yaml (or cfgFile) and DOCSLURP_* environment variables,
// fills defaults and validates the export spec.
func Load(cfgFile string) (*Config, error) {
	cfg, err := Read(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Export.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for commands that only need part of the
// configuration.
func Read(cfgFile string) (*Config, error) {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("docslurp")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/docslurp/")
	}

	v.SetEnvPrefix("DOCSLURP") // env vars like DOCSLURP_SOURCE__URI
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))

	v.SetDefault("source.order_key", "timestamp")
	v.SetDefault("source.id_key", "_id")
	v.SetDefault("source.page_size", 1000)
	v.SetDefault("source.max_retries", 5)
	v.SetDefault("source.retry_delay", 5*time.Second)
	v.SetDefault("output.store", "s3")
	v.SetDefault("output.format", "parquet")
	v.SetDefault("output.max_in_flight", 2)
	v.SetDefault("chunk.mode", "count")
	v.SetDefault("chunk.records", 1000)
	v.SetDefault("chunk.bytes", 128<<20)
	v.SetDefault("chunk.file_bytes", 512<<20)
	v.SetDefault("normalize.mode", "payload")
	v.SetDefault("checkpoint.store", "blob")
	v.SetDefault("checkpoint.etcd.prefix", "/docslurp")
	v.SetDefault("checkpoint.etcd.dial_timeout", 5*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	for _, k := range envKeys {
		v.BindEnv(k)
	}

	if err := v.ReadInConfig(); err != nil {
		// Environment-only deployments have no config file.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Export.ApplyDefaults()
	return &cfg, nil
}
