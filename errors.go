package ejdb2

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"ejdb2.dev/ejdb2go/metrics"
)

// Programmer errors. These are detected before any native call is made and
// indicate a bug in the calling code rather than an engine failure.
var (
	ErrInvalidHandle    = errors.New("ejdb2: invalid native handle")
	ErrDatabaseClosed   = errors.New("ejdb2: database closed")
	ErrQueryClosed      = errors.New("ejdb2: query closed")
	ErrInvalidArgument  = errors.New("ejdb2: invalid argument")
	ErrAmbiguousSlot    = errors.New("ejdb2: placeholder slot must be either an index or a name")
	ErrLibraryNotLoaded = errors.New("ejdb2: engine library not loaded")
)

var programmerErrors = []error{
	ErrInvalidHandle,
	ErrDatabaseClosed,
	ErrQueryClosed,
	ErrInvalidArgument,
	ErrAmbiguousSlot,
	ErrLibraryNotLoaded,
}

// Error is a failure reported by the engine. Code is the domain code and
// Errno the operating system error number embedded in the raw result code,
// if any.
type Error struct {
	Code    ErrorCode
	Errno   uint32
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("ejdb2: %s (code=%d, errno=%d)", e.Message, uint64(e.Code), e.Errno)
}

// IsNotFound reports whether err is the engine's "no such document" error.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code.isNotFound()
}

// IsParseError reports whether err is a JSON or query parse error.
func IsParseError(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code.isParse()
}

// IsProgrammerError reports whether err was raised by a local check rather
// than by the engine: closed or invalid handles, bad arguments.
func IsProgrammerError(err error) bool {
	for _, target := range programmerErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// CodeOf returns the engine code of err, or 0 if err is not an engine error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// stripErrno splits a raw result code into its domain code and the errno
// carried in the upper half.
func stripErrno(rc uint64) (ErrorCode, uint32) {
	return ErrorCode(rc & 0xffffffff), uint32(rc>>32) & 0x7fffffff
}

func translate(rc uint64, msg string) error {
	if rc == 0 {
		return nil
	}
	code, errno := stripErrno(rc)
	explained := explainCode(rc)
	switch {
	case msg == "":
		msg = explained
	case code.isParse() && explained != "" && !strings.Contains(msg, explained):
		msg = msg + ": " + explained
	}
	if msg == "" {
		msg = "unknown error " + code.String()
	}
	return &Error{Code: code, Errno: errno, Message: msg}
}

// check is the single funnel for native result codes.
func check(entry string, rc uint64, msg string) error {
	err := translate(rc, msg)
	if err == nil {
		metrics.NativeCallsTotal.WithLabelValues(entry, metrics.Ok).Inc()
		return nil
	}
	metrics.NativeCallsTotal.WithLabelValues(entry, metrics.Fail).Inc()
	metrics.EngineErrorsTotal.WithLabelValues(CodeOf(err).String()).Inc()
	return err
}

func explainCode(rc uint64) string {
	if c_iwlog_ecode_explained == nil {
		return ""
	}
	return copyCString(c_iwlog_ecode_explained(rc))
}

func invalidArgument(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}
