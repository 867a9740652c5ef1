package ejdb2

import (
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Options describes how a database is opened.
type Options struct {
	// Path to the database file. Required.
	Path string `yaml:"path"`
	// Truncate the database file on open.
	Truncate bool `yaml:"truncate"`
	// Open in read-only mode.
	Readonly bool `yaml:"readonly"`
	// Fail immediately if the file lock cannot be acquired instead of waiting.
	FileLockFailFast bool `yaml:"file_lock_fail_fast"`
	// Seed of the engine's random number generator. 0 lets the engine pick one.
	RandomSeed uint32 `yaml:"random_seed"`
	// Disable the write-ahead log.
	DisableWAL bool       `yaml:"disable_wal"`
	WAL        WALOptions `yaml:"wal"`
	// Max sort buffer size in bytes. 0 for the engine default.
	SortBufferSize uint32 `yaml:"sort_buffer_size"`
	// Initial size of the buffer used to process documents, in bytes. 0 for the engine default.
	DocumentBufferSize uint32      `yaml:"document_buffer_size"`
	HTTP               HTTPOptions `yaml:"http"`
}

// WALOptions tunes the write-ahead log. Zero values select engine defaults.
type WALOptions struct {
	CheckCRCOnCheckpoint bool          `yaml:"check_crc_on_checkpoint"`
	SavepointTimeout     time.Duration `yaml:"savepoint_timeout"`
	CheckpointTimeout    time.Duration `yaml:"checkpoint_timeout"`
	BufferSize           uint64        `yaml:"buffer_size"`
	CheckpointBufferSize uint64        `yaml:"checkpoint_buffer_size"`
}

// HTTPOptions configures the engine's embedded HTTP/WebSocket endpoint.
// Not available on Windows.
type HTTPOptions struct {
	Enabled     bool   `yaml:"enabled"`
	Port        int    `yaml:"port"`
	Bind        string `yaml:"bind"`
	AccessToken string `yaml:"access_token"`
	// Block the opening thread until the HTTP server stops.
	Blocking bool `yaml:"blocking"`
	// Allow anonymous read-only access when an access token is set.
	ReadAnon    bool   `yaml:"read_anon"`
	MaxBodySize uint64 `yaml:"max_body_size"`
}

// Option mutates Options.
type Option func(*Options)

// WithTruncate truncates the database file on open.
func WithTruncate() Option { return func(o *Options) { o.Truncate = true } }

// WithReadonly opens the database read-only.
func WithReadonly() Option { return func(o *Options) { o.Readonly = true } }

// WithoutWAL disables the write-ahead log.
func WithoutWAL() Option { return func(o *Options) { o.DisableWAL = true } }

// WithWAL enables the write-ahead log with the given tuning.
func WithWAL(wal WALOptions) Option {
	return func(o *Options) {
		o.DisableWAL = false
		o.WAL = wal
	}
}

func WithFileLockFailFast() Option { return func(o *Options) { o.FileLockFailFast = true } }

func WithRandomSeed(seed uint32) Option { return func(o *Options) { o.RandomSeed = seed } }

func WithSortBufferSize(n uint32) Option { return func(o *Options) { o.SortBufferSize = n } }

func WithDocumentBufferSize(n uint32) Option { return func(o *Options) { o.DocumentBufferSize = n } }

// WithHTTP enables the embedded HTTP endpoint.
func WithHTTP(http HTTPOptions) Option {
	return func(o *Options) {
		o.HTTP = http
		o.HTTP.Enabled = true
	}
}

// Validate checks Options without touching the engine.
func (o *Options) Validate() error {
	if strings.TrimSpace(o.Path) == "" {
		return invalidArgument("database path is required")
	}
	if o.Truncate && o.Readonly {
		return invalidArgument("truncate and readonly are mutually exclusive")
	}
	if o.WAL.SavepointTimeout < 0 || o.WAL.CheckpointTimeout < 0 {
		return invalidArgument("WAL timeouts must not be negative")
	}
	if o.HTTP.Enabled {
		if runtime.GOOS == "windows" {
			return invalidArgument("HTTP endpoint is not supported on windows")
		}
		if o.HTTP.Port < 0 || o.HTTP.Port > 65535 {
			return invalidArgument("invalid HTTP port %d", o.HTTP.Port)
		}
	}
	return nil
}

// native maps Options onto the engine's EJDB_OPTS. Strings are owned by cs.
func (o *Options) native(cs *cstrings) c_ejdb_opts_t {
	var n c_ejdb_opts_t

	n.Kv.Path = cs.str(o.Path)
	n.Kv.RandomSeed = o.RandomSeed
	if o.Truncate {
		n.Kv.Oflags |= iwkvTrunc
	}
	if o.Readonly {
		n.Kv.Oflags |= iwkvRdonly
	}
	n.Kv.FileLockFailFast = boolByte(o.FileLockFailFast)

	n.NoWal = boolByte(o.DisableWAL)
	n.Kv.Wal.Enabled = boolByte(!o.DisableWAL)
	n.Kv.Wal.CheckCRCOnCheckpoint = boolByte(o.WAL.CheckCRCOnCheckpoint)
	n.Kv.Wal.SavepointTimeoutSec = uint32(o.WAL.SavepointTimeout / time.Second)
	n.Kv.Wal.CheckpointTimeoutSec = uint32(o.WAL.CheckpointTimeout / time.Second)
	n.Kv.Wal.WalBufferSz = uintptr(o.WAL.BufferSize)
	n.Kv.Wal.CheckpointBufferSz = o.WAL.CheckpointBufferSize

	n.SortBufferSz = o.SortBufferSize
	n.DocumentBufferSz = o.DocumentBufferSize

	if o.HTTP.Enabled {
		n.Http.Enabled = 1
		n.Http.Port = int32(o.HTTP.Port)
		if o.HTTP.Bind != "" {
			n.Http.Bind = cs.str(o.HTTP.Bind)
		}
		if o.HTTP.AccessToken != "" {
			n.Http.AccessToken = cs.str(o.HTTP.AccessToken)
			n.Http.AccessTokenLen = uintptr(len(o.HTTP.AccessToken))
		}
		n.Http.Blocking = boolByte(o.HTTP.Blocking)
		n.Http.ReadAnon = boolByte(o.HTTP.ReadAnon)
		n.Http.MaxBodySize = uintptr(o.HTTP.MaxBodySize)
	}
	return n
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// ParseDSN supports format:
//
//	<path>[?truncate=bool&readonly=bool&wal=bool&wal_check_crc=bool&wal_savepoint_timeout=duration
//	  &wal_checkpoint_timeout=duration&wal_buffer_size=int&wal_checkpoint_buffer_size=int
//	  &sort_buffer_size=int&document_buffer_size=int&random_seed=int&file_lock_fail_fast=bool
//	  &http=bool&http_port=int&http_bind=string&http_access_token=string&http_read_anon=bool
//	  &http_max_body_size=int]
func ParseDSN(dsn string) (Options, error) {
	opts := Options{Path: dsn}
	qMark := strings.IndexByte(dsn, '?')
	if qMark < 0 {
		return opts, nil
	}
	opts.Path = dsn[:qMark]
	vals, err := url.ParseQuery(dsn[qMark+1:])
	if err != nil {
		return Options{}, errors.Wrap(err, "parsing DSN query")
	}

	p := dsnParser{vals: vals}
	p.bool("truncate", &opts.Truncate)
	p.bool("readonly", &opts.Readonly)
	p.bool("file_lock_fail_fast", &opts.FileLockFailFast)
	var wal = true
	p.bool("wal", &wal)
	opts.DisableWAL = !wal
	p.bool("wal_check_crc", &opts.WAL.CheckCRCOnCheckpoint)
	p.duration("wal_savepoint_timeout", &opts.WAL.SavepointTimeout)
	p.duration("wal_checkpoint_timeout", &opts.WAL.CheckpointTimeout)
	p.uint64("wal_buffer_size", &opts.WAL.BufferSize)
	p.uint64("wal_checkpoint_buffer_size", &opts.WAL.CheckpointBufferSize)
	p.uint32("sort_buffer_size", &opts.SortBufferSize)
	p.uint32("document_buffer_size", &opts.DocumentBufferSize)
	p.uint32("random_seed", &opts.RandomSeed)
	p.bool("http", &opts.HTTP.Enabled)
	p.int("http_port", &opts.HTTP.Port)
	p.string("http_bind", &opts.HTTP.Bind)
	p.string("http_access_token", &opts.HTTP.AccessToken)
	p.bool("http_read_anon", &opts.HTTP.ReadAnon)
	p.uint64("http_max_body_size", &opts.HTTP.MaxBodySize)

	if p.err != nil {
		return Options{}, p.err
	}
	return opts, nil
}

type dsnParser struct {
	vals url.Values
	err  error
}

func (p *dsnParser) raw(key string) (string, bool) {
	if p.err != nil || !p.vals.Has(key) {
		return "", false
	}
	return p.vals.Get(key), true
}

func (p *dsnParser) fail(key, v string, err error) {
	p.err = invalidArgument("DSN parameter %s=%q: %v", key, v, err)
}

func (p *dsnParser) string(key string, dst *string) {
	if v, ok := p.raw(key); ok {
		*dst = v
	}
}

func (p *dsnParser) bool(key string, dst *bool) {
	v, ok := p.raw(key)
	if !ok {
		return
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on", "":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		p.fail(key, v, fmt.Errorf("not a boolean"))
	}
}

func (p *dsnParser) int(key string, dst *int) {
	if v, ok := p.raw(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (p *dsnParser) uint32(key string, dst *uint32) {
	if v, ok := p.raw(key); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = uint32(n)
	}
}

func (p *dsnParser) uint64(key string, dst *uint64) {
	if v, ok := p.raw(key); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (p *dsnParser) duration(key string, dst *time.Duration) {
	v, ok := p.raw(key)
	if !ok {
		return
	}
	// Bare integers are seconds, the engine's own unit.
	if n, err := strconv.ParseUint(v, 10, 32); err == nil {
		*dst = time.Duration(n) * time.Second
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return
	}
	*dst = d
}

// ParseOptionsYAML decodes Options from a YAML document.
func ParseOptionsYAML(data []byte) (Options, error) {
	var opts Options
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, errors.Wrap(err, "decoding options")
	}
	return opts, nil
}

// LoadOptions reads Options from a YAML file.
func LoadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, errors.Wrapf(err, "reading options file %s", path)
	}
	return ParseOptionsYAML(data)
}
