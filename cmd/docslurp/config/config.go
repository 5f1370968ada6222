package config

import "github.com/chtzvt/docslurp/internal/job"

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// Config is the whole process configuration. The export spec sits at the
// top level so keys read source.uri, output.store, and so on.
type Config struct {
	Export  job.Spec      `mapstructure:",squash" yaml:",inline"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	out := c
	if out.Export.Checkpoint.Etcd.Password != "" {
		out.Export.Checkpoint.Etcd.Password = "********"
	}
	if len(c.Export.Output.StoreOptions) > 0 {
		out.Export.Output.StoreOptions = make(map[string]interface{}, len(c.Export.Output.StoreOptions))
		for k, v := range c.Export.Output.StoreOptions {
			switch k {
			case "secret_access_key", "session_token", "account_key", "connection_string":
				v = "********"
			}
			out.Export.Output.StoreOptions[k] = v
		}
	}
	return out
}
