package mainboilerplate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
)

// Version and BuildDate are set with -ldflags -X.
var (
	Version   = "development"
	BuildDate = "unknown"
)

// ConfigDirEnv names a directory searched for INI files ahead of the defaults.
const ConfigDirEnv = "EJDB2_CONFIG_DIR"

// MustParseConfig loads the first configName found by configPaths into
// parser, then parses the command line over it. Environment bindings apply
// in between, as go-flags resolves them when an option is left unset.
func MustParseConfig(parser *flags.Parser, configName string) {
	var saved = parser.Options
	parser.Options |= flags.IgnoreUnknown // INI may carry options of other tools.

	if path, err := loadIni(flags.NewIniParser(parser), configPaths(configName)); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
		os.Exit(1)
	} else if path != "" {
		log.WithField("path", path).Debug("loaded config file")
	}

	parser.Options = saved
	MustParseArgs(parser)
}

// loadIni parses the first existing file of paths. It returns the path
// parsed, or "" if there was none.
func loadIni(ini *flags.IniParser, paths []string) (string, error) {
	for _, path := range paths {
		switch err := ini.ParseFile(path); {
		case err == nil:
			return path, nil
		case os.IsNotExist(err):
			continue
		default:
			return path, err
		}
	}
	return "", nil
}

// configPaths lists candidate locations of configName, most specific first:
// $EJDB2_CONFIG_DIR, the working directory, then the user config directory
// ($XDG_CONFIG_HOME/ejdb2 or ~/.config/ejdb2, and %UserProfile% on Windows).
func configPaths(configName string) []string {
	var dirs []string
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		dirs = append(dirs, dir)
	}
	dirs = append(dirs, ".")

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dirs = append(dirs, filepath.Join(xdg, "ejdb2"))
	} else if home := os.Getenv("HOME"); home != "" {
		dirs = append(dirs, filepath.Join(home, ".config", "ejdb2"))
	}
	if profile := os.Getenv("UserProfile"); profile != "" {
		dirs = append(dirs, filepath.Join(profile, ".config", "ejdb2"))
	}

	var out = make([]string, len(dirs))
	for i, dir := range dirs {
		out[i] = filepath.Join(dir, configName)
	}
	return out
}

// MustParseArgs parses os.Args into parser, exiting on input errors.
// Errors in the option structs themselves panic.
func MustParseArgs(parser *flags.Parser) {
	_, err := parser.ParseArgs(os.Args[1:])
	if err == nil {
		return
	}
	flagErr, ok := err.(*flags.Error)
	if !ok {
		Must(err, "fatal error")
	}

	switch flagErr.Type {
	case flags.ErrDuplicatedFlag, flags.ErrTag, flags.ErrInvalidTag, flags.ErrShortNameTooLong, flags.ErrMarshal:
		panic(err)
	case flags.ErrCommandRequired:
		fmt.Fprintln(os.Stderr)
		writeUsage(parser)
	case flags.ErrHelp:
		if parser.Options&flags.PrintErrors == 0 {
			writeUsage(parser)
		}
	}
	// Anything else was already printed by go-flags.
	os.Exit(1)
}

func writeUsage(parser *flags.Parser) {
	parser.WriteHelp(os.Stderr)
	fmt.Fprintf(os.Stderr, "\nVersion %s, built at %s.\n", Version, BuildDate)
}

// AddPrintConfigCmd adds a "print-config" command which writes the
// effective configuration as INI.
func AddPrintConfigCmd(parser *flags.Parser, configName string) {
	_, err := parser.AddCommand("print-config", "Print the effective configuration and exit", `
Print the configuration merged from `+configName+`, environment variables and
flags, in a form which can be saved as `+configName+`.
`, &printConfig{parser})
	Must(err, "failed to add print-config command")
}

type printConfig struct {
	*flags.Parser `no-flag:"t"`
}

func (p printConfig) Execute([]string) error {
	flags.NewIniParser(p.Parser).Write(os.Stdout,
		flags.IniIncludeComments|flags.IniCommentDefaults|flags.IniIncludeDefaults)
	return nil
}
