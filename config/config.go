package config

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tcriess/queue-coordinator/globals"
)

const (
	envPrefix = "QUEUE"

	defaultAddr              = ":8080"
	defaultLogLevel          = "info"
	defaultWebsocketPath     = "/ws"
	defaultTombstones        = 4096
	defaultRetentionSchedule = "@hourly"
	defaultMetricsPath       = "/metrics"
)

// Config is the global configuration object which is filled via the configuration file, the environment (prefix
// QUEUE_) and the command line flags, in increasing order of precedence.
type Config struct {
	LogLevel        string          `mapstructure:"log_level"`
	Addr            string          `mapstructure:"addr"`
	TransportConfig TransportConfig `mapstructure:"transport"`
	RegistryConfig  RegistryConfig  `mapstructure:"registry"`
	AdmissionConfig AdmissionConfig `mapstructure:"admission"`
	ArchiveConfig   ArchiveConfig   `mapstructure:"archive"`
	MetricsConfig   MetricsConfig   `mapstructure:"metrics"`
}

// TransportConfig selects the client-facing transports. Both may run side by side on the same coordinator.
type TransportConfig struct {
	Websocket     bool   `mapstructure:"websocket"`
	WebsocketPath string `mapstructure:"websocket_path"`
	SocketIO      bool   `mapstructure:"socketio"`
	AllowedOrigin string `mapstructure:"allowed_origin"`
}

type RegistryConfig struct {
	// number of destroyed room ids remembered
	Tombstones int `mapstructure:"tombstones"`
}

// AdmissionConfig holds an optional boolean expression deciding whether a user may enter a queue.
type AdmissionConfig struct {
	Rule string `mapstructure:"rule"`
}

// ArchiveConfig configures where final reports are archived. An empty Type disables the archive.
// Type is one of buntdb, sqlite or postgres.
type ArchiveConfig struct {
	Type              string        `mapstructure:"type"`
	DSN               string        `mapstructure:"dsn"`
	Retention         time.Duration `mapstructure:"retention"`
	RetentionSchedule string        `mapstructure:"retention_schedule"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.StringP("addr", "a", "", "address to listen on")
	flagSet.StringP("log-level", "l", "", "log level (trace, debug, info, warn, error)")
	flagSet.String("admission-rule", "", "expression deciding whether a user may enter a queue")
	flagSet.String("archive-type", "", "report archive backend (buntdb, sqlite, postgres)")
	flagSet.String("archive-dsn", "", "report archive data source")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	from := "-"
	to := "_"
	name = strings.Replace(name, from, to, -1)
	return pflag.NormalizedName(name)
}

// flag name -> configuration key, for flags addressing nested keys
var flagKeys = map[string]string{
	"admission_rule": "admission.rule",
	"archive_type":   "archive.type",
	"archive_dsn":    "archive.dsn",
}

// ReadConfiguration reads and parses the configuration located at configPath, which can either point to a single TOML
// file or to a directory, in which case all *.toml files in this directory are concatenated. It returns a Config
// object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if flagSet != nil {
		flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
		flagSet.VisitAll(func(f *pflag.Flag) {
			key := f.Name
			if k, ok := flagKeys[key]; ok {
				key = k
			}
			if err := v.BindPFlag(key, f); err != nil {
				globals.AppLogger.Error("could not bind flag (ignored)", "flag", f.Name, "error", err)
			}
		})
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := ioutil.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		v.SetConfigType("toml")
		err = v.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			return nil, fmt.Errorf("could not read config: %w", err)
		}
	}
	cfg := Config{}
	err := v.Unmarshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}
	globals.AppLogger.Debug("config", "cfg", cfg)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("addr", defaultAddr)
	v.SetDefault("transport.websocket", true)
	v.SetDefault("transport.websocket_path", defaultWebsocketPath)
	v.SetDefault("transport.socketio", true)
	v.SetDefault("transport.allowed_origin", "*")
	v.SetDefault("registry.tombstones", defaultTombstones)
	v.SetDefault("admission.rule", "")
	v.SetDefault("archive.type", "")
	v.SetDefault("archive.dsn", "")
	v.SetDefault("archive.retention", time.Duration(0))
	v.SetDefault("archive.retention_schedule", defaultRetentionSchedule)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", defaultMetricsPath)
}
