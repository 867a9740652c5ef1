package main

import (
	"io"
	"os"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	ejdb2 "ejdb2.dev/ejdb2go"
	mbp "ejdb2.dev/ejdb2go/internal/mainboilerplate"
)

const iniFilename = "ejdb2ctl.ini"

// DatabaseConfig selects and configures the database operated on.
type DatabaseConfig struct {
	Path     string `long:"path" env:"PATH" description:"Database file, optionally as a DSN (eg. app.db?wal=off&sort_buffer_size=1048576)"`
	Options  string `long:"options" env:"OPTIONS" description:"YAML file of database options. --db.path, if set, overrides its path"`
	Readonly bool   `long:"readonly" env:"READONLY" description:"Open the database read-only"`
	Library  string `long:"library" env:"LIBRARY" description:"Path of the libejdb2 shared library. EJDB2_LIB_PATH and the system search path are used if not set"`
}

type config struct {
	DB  DatabaseConfig `group:"Database" namespace:"db" env-namespace:"EJDB2_DB"`
	Log mbp.LogConfig  `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

var (
	baseCfg *config

	stdout io.Writer = os.Stdout
	stdin  io.Reader = os.Stdin
)

// newParser builds the command tree over a fresh baseCfg.
func newParser() *flags.Parser {
	baseCfg = new(config)
	var parser = flags.NewParser(baseCfg, flags.Default)

	var cr = mbp.NewCommandRegistry()
	addDocumentCommands(cr)
	addQueryCommands(cr)
	addInfoCommands(cr)
	addAdminCommands(cr)
	mbp.Must(cr.AddCommands("", parser.Command), "failed to add commands")

	mbp.AddPrintConfigCmd(parser, iniFilename)
	return parser
}

func startup() {
	mbp.InitLog(baseCfg.Log)
}

// options resolves the database options from the configured options file,
// path or DSN, and flags.
func (cfg DatabaseConfig) options() (ejdb2.Options, error) {
	var opts ejdb2.Options
	var err error

	if cfg.Options != "" {
		if opts, err = ejdb2.LoadOptions(cfg.Options); err != nil {
			return opts, err
		}
	}
	if cfg.Path != "" {
		var dsn ejdb2.Options
		if dsn, err = ejdb2.ParseDSN(cfg.Path); err != nil {
			return opts, err
		}
		if cfg.Options == "" {
			opts = dsn
		} else {
			opts.Path = dsn.Path
		}
	}
	if cfg.Readonly {
		opts.Readonly = true
	}
	return opts, opts.Validate()
}

// openDB loads the engine and opens the configured database, which the
// caller must close.
func openDB() *ejdb2.DB {
	var cfg = baseCfg.DB
	mbp.Must(ejdb2.InitLibrary(ejdb2.LibraryConfig{Path: cfg.Library}), "failed to load libejdb2")

	opts, err := cfg.options()
	mbp.Must(err, "invalid database configuration")

	db, err := ejdb2.OpenOptions(opts)
	mbp.Must(err, "failed to open database", "path", opts.Path)
	log.WithFields(log.Fields{"path": db.Path(), "library": ejdb2.LibraryPath()}).Debug("opened database")
	return db
}

func closeDB(db *ejdb2.DB) {
	mbp.Must(db.Close(), "failed to close database", "path", db.Path())
}

func main() {
	mbp.MustParseConfig(newParser(), iniFilename)
}
