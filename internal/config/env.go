package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "CRAWLCORE_"

// LoadDotEnv loads variables from the given .env files (".env" when none
// are given) into the process environment. Missing files are ignored;
// variables already set in the environment are not overwritten.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load %s: %w", strings.Join(existing, ", "), err)
	}
	return nil
}

// ApplyEnv overrides cfg with CRAWLCORE_* variables read through lookup
// (os.LookupEnv when nil). Malformed values return an error naming the variable.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	e := envReader{lookup: lookup}

	e.int("TOTAL_CONCURRENCY", &cfg.TotalConcurrency)
	e.int("PER_DOMAIN_CONCURRENCY", &cfg.PerDomainConcurrency)
	e.int("PER_IP_CONCURRENCY", &cfg.PerIPConcurrency)
	e.duration("DOWNLOAD_DELAY", &cfg.DownloadDelay)
	e.bool("RANDOMIZE_DELAY", &cfg.RandomizeDelay)
	e.duration("DOWNLOAD_TIMEOUT", &cfg.DownloadTimeout)
	e.duration("CONNECT_TIMEOUT", &cfg.ConnectTimeout)
	e.int64("MAXSIZE", &cfg.MaxSize)
	e.int64("WARNSIZE", &cfg.WarnSize)
	e.bool("FAIL_ON_DATALOSS", &cfg.FailOnDataloss)
	e.bool("TLS_VERIFY", &cfg.TLSVerify)
	e.string("BIND_ADDRESS", &cfg.BindAddress)
	e.string("PROXY", &cfg.Proxy)
	e.string("USER_AGENT", &cfg.UserAgent)
	e.string("LOG_FILE", &cfg.LogFile)
	e.string("DB_DIR", &cfg.DBDir)

	return e.err
}

// envReader keeps the first parse error so call sites stay linear.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(name string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	v, ok := e.lookup(EnvPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(name string, err error) {
	e.err = fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
}

func (e *envReader) string(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) int(name string, dst *int) {
	if v, ok := e.get(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) int64(name string, dst *int64) {
	if v, ok := e.get(name); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) bool(name string, dst *bool) {
	if v, ok := e.get(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = b
	}
}

// duration accepts Go duration strings and plain seconds ("2.5").
func (e *envReader) duration(name string, dst *time.Duration) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(name, err)
		return
	}
	*dst = time.Duration(secs * float64(time.Second))
}
