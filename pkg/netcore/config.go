// Package netcore implements the server-side connection multiplexer: a
// process-wide table of accepted sockets driven by a single poll(2)
// event loop, with per-connection authentication gating and idle
// timeout enforcement.
package netcore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the runtime configuration for a Server. The env struct tag
// contains the environment variable name and the default value if
// missing, or empty (if not ?=). All string arrays are comma-separated.
type Config struct {
	// The primary generation's listen addresses (comma-separated). Only
	// the first address is bound.
	Addr []string `env:"BATCHNET_ADDR?=:15001"`

	// The secondary generation's listen addresses (comma-separated). Only
	// the first address is bound. May be left empty to run with a single
	// generation.
	AddrSecondary []string `env:"BATCHNET_ADDR_SECONDARY"`

	// Connection table capacity. If zero, it is derived from the
	// process's RLIMIT_NOFILE.
	MaxConnections int `env:"BATCHNET_MAX_CONNECTIONS"`

	// Idle timeout for FromClient connections with no readable activity.
	MaxIdle time.Duration `env:"BATCHNET_MAX_IDLE=2m"`

	// Timeout passed to each readiness wait, and the read/write deadline
	// applied to every accepted connection (bounding how long the
	// security handshake or a handler may block the loop).
	WaitTime time.Duration `env:"BATCHNET_WAIT_TIME=2s"`

	// The home directory under which DBUserFile is resolved.
	Home string `env:"BATCHNET_HOME?=."`

	// Path, relative to Home, to the optional data-service user file.
	DBUserFile string `env:"BATCHNET_DB_USER_FILE?=server_priv/db_user"`

	// The security provider to use:
	//  - checkport (accept iff the peer connected from a privileged port)
	//  - hmac:<key> (challenge/response signed with the given key)
	Security string `env:"BATCHNET_SECURITY=checkport" sdcreds:"load,trimspace"`

	// The minimum log level (e.g., trace, debug, info, warn, error, fatal).
	LogLevel zerolog.Level `env:"BATCHNET_LOG_LEVEL=debug"`

	// Whether to log to stdout.
	LogStdout bool `env:"BATCHNET_LOG_STDOUT=true"`

	// Whether to use pretty logs on stdout.
	LogStdoutPretty bool `env:"BATCHNET_LOG_STDOUT_PRETTY=true"`

	// The minimum log level for stdout.
	LogStdoutLevel zerolog.Level `env:"BATCHNET_LOG_STDOUT_LEVEL=trace"`

	// The log file to output to, if provided. Reopened on SIGHUP.
	LogFile string `env:"BATCHNET_LOG_FILE"`

	// The minimum log level for the log file.
	LogFileLevel zerolog.Level `env:"BATCHNET_LOG_FILE_LEVEL=info"`

	// The permissions for the log file.
	LogFileChmod fs.FileMode `env:"BATCHNET_LOG_FILE_CHMOD"`

	// Secret token for accessing internal metrics. If it begins with @, it
	// is treated as the name of a systemd credential to load.
	MetricsSecret string `env:"BATCHNET_METRICS_SECRET" sdcreds:"load,trimspace"`

	// The storage backend for the job-submission collaborator:
	//  - memory
	//  - sqlite3:/path/to/jobs.db
	JobStore string `env:"BATCHNET_JOBSTORE=memory"`

	// For sd-notify.
	NotifySocket string `env:"NOTIFY_SOCKET"`
}

// UnmarshalEnv unmarshals an array of environment variables into c, setting
// default values as appropriate. If incremental is true, default values will
// not be set for missing env vars, but only for empty ones.
func (c *Config) UnmarshalEnv(es []string, incremental bool) error {
	em := map[string]string{}
	for _, e := range es {
		if strings.HasPrefix(e, "BATCHNET_") || strings.HasPrefix(e, "NOTIFY_SOCKET=") {
			if k, v, ok := strings.Cut(e, "="); ok {
				em[k] = v
			}
		}
	}
	cv := reflect.ValueOf(c).Elem()
	for _, ctf := range reflect.VisibleFields(cv.Type()) {
		env, ok := ctf.Tag.Lookup("env")
		if !ok {
			continue
		}

		// get the default value, and check if it can be explicitly set to an
		// empty value
		var unsettable bool
		key, val, _ := strings.Cut(env, "=")
		if strings.HasSuffix(key, "?") {
			key = strings.TrimSuffix(key, "?")
			unsettable = true
		}
		if v, exists := em[key]; exists {
			// expand credentials before attempting to set the var or checking
			// if it can be set to an empty value
			v, err := sdcreds(v, ctf.Tag.Get("sdcreds"))
			if err != nil {
				return fmt.Errorf("env %s: expand systemd credentials: %w", key, err)
			}

			// if the value is non-empty or we are allowed to set it to an empty
			// value, set it, otherwise simply keep the default
			if unsettable || v != "" {
				val = v
			}

			// we're finished processing this var
			delete(em, key)
		} else if incremental {
			// if we're only doing incremental updates, don't use the default
			// value if the current env list doesn't have the var
			continue
		}

		switch cvf := cv.FieldByName(ctf.Name); cvf.Interface().(type) {
		case string:
			cvf.SetString(val)
		case int, int8, int16, int32, int64:
			if val == "" {
				cvf.SetInt(0)
			} else if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				cvf.SetInt(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case bool:
			if val == "" {
				cvf.SetBool(false)
			} else if v, err := strconv.ParseBool(val); err == nil {
				cvf.SetBool(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case []string:
			if val == "" {
				cvf.Set(reflect.ValueOf([]string{}))
			} else {
				cvf.Set(reflect.ValueOf(strings.Split(val, ",")))
			}
		case zerolog.Level:
			if v, err := zerolog.ParseLevel(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case time.Duration:
			if v, err := time.ParseDuration(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case fs.FileMode:
			if val == "" {
				cvf.Set(reflect.ValueOf(fs.FileMode(0)))
			} else if v, err := strconv.ParseUint(val, 8, 32); err == nil {
				cvf.Set(reflect.ValueOf(fs.FileMode(v)))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		default:
			return fmt.Errorf("unhandled type %T (%s)", cvf.Interface(), env)
		}
	}
	for key, val := range em {
		if val != "" {
			return fmt.Errorf("unknown environment variable %q", key)
		}
	}
	return nil
}

// sdcreds expands systemd credentials in v (prefixed by "@") according to tag,
// which consists of a mode followed by optional flags.
//
// Mode:
//   - (none): return the original value
//   - load: read the cred contents
//
// Args:
//   - trimspace (load): trim leading/trailing whitespace from the cred value
func sdcreds(v string, tag string) (string, error) {
	if tag == "" {
		return v, nil
	}

	var mode struct {
		load bool
	}
	var opts struct {
		trimspace bool
	}

	tag, args, _ := strings.Cut(tag, ",")
	switch tag {
	case "load":
		mode.load = true
	default:
		return "", fmt.Errorf("invalid struct tag %q", tag)
	}
	for _, arg := range strings.Split(args, ",") {
		switch {
		case mode.load && arg == "trimspace":
			opts.trimspace = true
		case arg == "":
		default:
			return "", fmt.Errorf("invalid struct tag %q arg %q", tag, arg)
		}
	}

	if len(v) == 0 || v[0] != '@' {
		return v, nil
	}
	if !mode.load {
		return v, nil
	}

	crd := os.Getenv("CREDENTIALS_DIRECTORY")
	if crd == "" {
		return "", fmt.Errorf("expand %q: systemd CREDENTIALS_DIRECTORY env var not set", v)
	}
	if !filepath.IsAbs(crd) {
		return "", fmt.Errorf("expand %q: systemd CREDENTIALS_DIRECTORY=%q env var is not an absolute path", v, crd)
	}

	cred := v[1:]
	if strings.Contains(cred, "/") || strings.Contains(cred, string(filepath.Separator)) {
		return "", fmt.Errorf("expand %q: invalid credential name %q", v, cred)
	}

	pt := filepath.Join(crd, cred)
	buf, err := os.ReadFile(pt)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return v, fmt.Errorf("expand %q: no such credential %q", v, filepath.Base(pt))
		}
		return v, fmt.Errorf("expand %q: read credential %q: %w", v, filepath.Base(pt), err)
	}
	if opts.trimspace {
		buf = []byte(strings.TrimSpace(string(buf)))
	}
	return string(buf), nil
}
