// Package kvstore runs the key-value server: configuration, logging,
// connection handling and graceful shutdown around pkg/store.
package kvstore

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the server's configuration. The env struct tag contains the
// environment variable name and its default value (after "="), following
// the same convention and reflection-based loader as the teacher's
// Atlas server configuration.
type Config struct {
	// The address to listen on.
	Addr string `env:"KV_ADDR=:6677"`

	// The maximum combined number of value and sorted-set entries held in
	// memory before least-recently-used eviction kicks in.
	Capacity int `env:"KV_CAPACITY=1000000"`

	// Path to the append-only log.
	AOFPath string `env:"KV_AOF_PATH=appendonly.aof"`

	// Whether to fsync after every append-only log record. Off by
	// default: spec.md treats persistence as best-effort.
	AOFFsync bool `env:"KV_AOF_FSYNC"`

	// Path to the optional sqlite3 cardinality snapshot database. Empty
	// disables the snapshot store entirely.
	SnapshotDBPath string `env:"KV_SNAPSHOT_DB_PATH"`

	// How often to refresh the cardinality snapshot.
	SnapshotInterval time.Duration `env:"KV_SNAPSHOT_INTERVAL=5m"`

	// Address for the debug/metrics HTTP server (/metrics,
	// /debug/pprof/*). Empty disables it.
	DebugAddr string `env:"KV_DEBUG_ADDR"`

	// The minimum log level (trace, debug, info, warn, error, fatal).
	LogLevel zerolog.Level `env:"KV_LOG_LEVEL=info"`

	// Whether to log to stdout.
	LogStdout bool `env:"KV_LOG_STDOUT=true"`

	// Whether to pretty-print stdout logs.
	LogStdoutPretty bool `env:"KV_LOG_STDOUT_PRETTY=true"`

	// The minimum log level for stdout.
	LogStdoutLevel zerolog.Level `env:"KV_LOG_STDOUT_LEVEL=trace"`

	// The log file to output to, if provided. Reopened on SIGHUP.
	LogFile string `env:"KV_LOG_FILE"`

	// The minimum log level for the log file.
	LogFileLevel zerolog.Level `env:"KV_LOG_FILE_LEVEL=info"`

	// For sd-notify.
	NotifySocket string `env:"NOTIFY_SOCKET"`
}

// UnmarshalEnv unmarshals an array of "KEY=VALUE" environment variable
// strings into c, applying the defaults recorded in each field's env tag
// for any variable that is missing.
func (c *Config) UnmarshalEnv(es []string) error {
	em := map[string]string{}
	for _, e := range es {
		if k, v, ok := strings.Cut(e, "="); ok {
			em[k] = v
		}
	}

	cv := reflect.ValueOf(c).Elem()
	for _, ctf := range reflect.VisibleFields(cv.Type()) {
		env, ok := ctf.Tag.Lookup("env")
		if !ok {
			continue
		}
		key, def, _ := strings.Cut(env, "=")

		val := def
		if v, exists := em[key]; exists {
			val = v
			delete(em, key)
		}

		cvf := cv.FieldByName(ctf.Name)
		switch cvf.Interface().(type) {
		case string:
			cvf.SetString(val)
		case int, int8, int16, int32, int64:
			if val == "" {
				cvf.SetInt(0)
			} else if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				cvf.SetInt(v)
			} else {
				return fmt.Errorf("env %s: parse %q: %w", key, val, err)
			}
		case bool:
			if val == "" {
				cvf.SetBool(false)
			} else if v, err := strconv.ParseBool(val); err == nil {
				cvf.SetBool(v)
			} else {
				return fmt.Errorf("env %s: parse %q: %w", key, val, err)
			}
		case zerolog.Level:
			if val == "" {
				cvf.Set(reflect.ValueOf(zerolog.InfoLevel))
			} else if v, err := zerolog.ParseLevel(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s: parse %q: %w", key, val, err)
			}
		case time.Duration:
			if v, err := time.ParseDuration(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s: parse %q: %w", key, val, err)
			}
		default:
			return fmt.Errorf("unhandled config field type %T (%s)", cvf.Interface(), env)
		}
	}
	for key, val := range em {
		if val != "" && strings.HasPrefix(key, "KV_") {
			return fmt.Errorf("unknown environment variable %q", key)
		}
	}
	return nil
}
