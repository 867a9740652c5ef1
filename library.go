// Go bindings for the EJDB2 embedded JSON database.
//
// The engine is a shared library (libejdb2, which also exports the iowow
// helpers it is built on) loaded at runtime through purego, so programs using
// this package build without cgo. The library is located in this order:
//
//   - LibraryConfig.Path, if set
//   - the EJDB2_LIB_PATH environment variable
//   - each of LibraryConfig.SearchPaths
//   - the per-platform cache directory ($EJDB2_GO_CACHE_DIR or the user cache dir)
//   - the system loader search path
//
// Loading happens once per process via sync.Once. Every entry point is
// registered at that time, so a missing symbol is reported up front rather
// than at the first call.
package ejdb2

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// LibraryConfig tells InitLibrary where to look for libejdb2.
type LibraryConfig struct {
	// Path is an exact path of the shared library. Takes precedence over everything else.
	Path string
	// SearchPaths are directories probed for the platform library file name.
	SearchPaths []string
}

var (
	libOnce   sync.Once
	libErr    error
	libHandle uintptr
	libPath   string
	// native address of jbl_xstr_json_printer, handed to the engine as a
	// printer when rendering rows into iwxstr buffers.
	xstrPrinter uintptr
)

// InitLibrary loads libejdb2 and registers its entry points. Only the first
// call does any work; later calls return the outcome of the first one.
func InitLibrary(cfg LibraryConfig) error {
	libOnce.Do(func() {
		libErr = loadEngine(cfg)
	})
	return libErr
}

// LibraryPath returns the path libejdb2 was loaded from, or "" if it is not loaded.
func LibraryPath() string {
	if InitLibrary(LibraryConfig{}) != nil {
		return ""
	}
	return libPath
}

func ensureLibrary() error {
	if err := InitLibrary(LibraryConfig{}); err != nil {
		return errors.Wrap(ErrLibraryNotLoaded, err.Error())
	}
	return nil
}

func loadEngine(cfg LibraryConfig) error {
	candidates, err := libraryCandidates(cfg)
	if err != nil {
		return err
	}
	var failures []string
	for _, candidate := range candidates {
		handle, err := openLibrary(candidate)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", candidate, err))
			continue
		}
		if err := registerEngine(handle); err != nil {
			return errors.WithMessagef(err, "registering entry points of %s", candidate)
		}
		libHandle, libPath = handle, candidate

		log.WithField("path", candidate).Debug("loaded ejdb2 library")

		return checkInit(c_ejdb_init())
	}
	return fmt.Errorf("unable to load ejdb2 library (tried %s)", strings.Join(failures, "; "))
}

// checkInit is split out so the error path of ejdb_init runs through the
// regular translator once the iwlog entry points are registered.
func checkInit(rc uint64) error {
	if err := check("ejdb_init", rc, ""); err != nil {
		return errors.WithMessage(err, "ejdb_init")
	}
	return nil
}

func registerEngine(handle uintptr) (err error) {
	// purego.RegisterLibFunc panics on a missing symbol.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	if err = register_iw(handle); err != nil {
		return err
	}
	if err = register_ejdb(handle); err != nil {
		return err
	}
	if err = register_jql(handle); err != nil {
		return err
	}
	if xstrPrinter, err = lookupSymbol(handle, "jbl_xstr_json_printer"); err != nil {
		return err
	}
	registerCallbacks()
	return nil
}

func libraryCandidates(cfg LibraryConfig) ([]string, error) {
	if cfg.Path != "" {
		return []string{cfg.Path}, nil
	}
	libName, err := libraryFileName("ejdb2")
	if err != nil {
		return nil, err
	}
	var out []string
	if p := os.Getenv("EJDB2_LIB_PATH"); p != "" {
		out = append(out, p)
	}
	for _, dir := range cfg.SearchPaths {
		out = append(out, filepath.Join(dir, libName))
	}
	if platform, err := platformDir(); err == nil {
		out = append(out, filepath.Join(cacheRoot(), "ejdb2", platform, libName))
	}
	// Bare name: let the system loader resolve it.
	out = append(out, libName)
	return out, nil
}

func libraryFileName(name string) (string, error) {
	switch runtime.GOOS {
	case "darwin":
		return fmt.Sprintf("lib%v.dylib", name), nil
	case "linux", "freebsd":
		return fmt.Sprintf("lib%v.so", name), nil
	case "windows":
		return fmt.Sprintf("lib%v.dll", name), nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

// platformDir names the cache subdirectory for the running platform,
// e.g. "linux_musl_amd64" or "darwin_arm64".
func platformDir() (string, error) {
	switch runtime.GOARCH {
	case "amd64", "arm64":
	default:
		// Native struct layouts are only laid out for 64-bit targets.
		return "", fmt.Errorf("unsupported architecture: %s", runtime.GOARCH)
	}
	libcVariant := ""
	if runtime.GOOS == "linux" && isMuslLibc() {
		libcVariant = "_musl"
	}
	return fmt.Sprintf("%s%s_%s", runtime.GOOS, libcVariant, runtime.GOARCH), nil
}

func cacheRoot() string {
	if root := os.Getenv("EJDB2_GO_CACHE_DIR"); root != "" {
		return root
	}
	if d, err := os.UserCacheDir(); err == nil {
		return d
	}
	return os.TempDir()
}

// isMuslLibc detects if the system is using musl libc (Alpine Linux, Void Linux, etc.)
func isMuslLibc() bool {
	if _, err := os.Stat("/etc/alpine-release"); err == nil {
		return true
	}
	cmd := exec.Command("ldd", "--version")
	if output, err := cmd.CombinedOutput(); err == nil {
		if strings.Contains(strings.ToLower(string(output)), "musl") {
			return true
		}
	}
	return false
}
