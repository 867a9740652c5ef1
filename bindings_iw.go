package ejdb2

import (
	"github.com/ebitengine/purego"
)

// iowow helpers exported by libejdb2.
var (
	c_iwlog_ecode_explained func(
		ecode uint64, // iwrc
	) uintptr // const char*

	c_iwxstr_new func() uintptr // IWXSTR*

	c_iwxstr_new2 func(
		siz uintptr, // size_t
	) uintptr // IWXSTR*

	c_iwxstr_destroy func(
		xstr uintptr, // IWXSTR*
	)

	c_iwxstr_size func(
		xstr uintptr, // IWXSTR*
	) uintptr // size_t

	c_iwxstr_ptr func(
		xstr uintptr, // IWXSTR*
	) uintptr // char*

	c_iwpool_create func(
		siz uintptr, // size_t
	) uintptr // IWPOOL*

	c_iwpool_destroy func(
		pool uintptr, // IWPOOL*
	)
)

func register_iw(handle uintptr) error {
	purego.RegisterLibFunc(&c_iwlog_ecode_explained, handle, "iwlog_ecode_explained")
	purego.RegisterLibFunc(&c_iwxstr_new, handle, "iwxstr_new")
	purego.RegisterLibFunc(&c_iwxstr_new2, handle, "iwxstr_new2")
	purego.RegisterLibFunc(&c_iwxstr_destroy, handle, "iwxstr_destroy")
	purego.RegisterLibFunc(&c_iwxstr_size, handle, "iwxstr_size")
	purego.RegisterLibFunc(&c_iwxstr_ptr, handle, "iwxstr_ptr")
	purego.RegisterLibFunc(&c_iwpool_create, handle, "iwpool_create")
	purego.RegisterLibFunc(&c_iwpool_destroy, handle, "iwpool_destroy")
	return nil
}

/** Allocate a growable native string buffer with an initial capacity of siz (0 for the engine default) */
func iwxstr_new(siz uintptr) (uintptr, error) {
	var xstr uintptr
	if siz == 0 {
		xstr = c_iwxstr_new()
	} else {
		xstr = c_iwxstr_new2(siz)
	}
	if xstr == 0 {
		return 0, check("iwxstr_new", uint64(ErrCodeAlloc), "native string buffer allocation failed")
	}
	return xstr, nil
}

/** Copy the buffer contents into a Go string */
func iwxstr_string(xstr uintptr) string {
	if xstr == 0 {
		return ""
	}
	return copyCBytes(c_iwxstr_ptr(xstr), int(c_iwxstr_size(xstr)))
}

func iwxstr_destroy(xstr uintptr) {
	if xstr == 0 {
		return
	}
	c_iwxstr_destroy(xstr)
}

/** Allocate a memory pool. siz 0 means the engine default unit size. */
func iwpool_create(siz uintptr) (uintptr, error) {
	pool := c_iwpool_create(siz)
	if pool == 0 {
		return 0, check("iwpool_create", uint64(ErrCodeAlloc), "native memory pool allocation failed")
	}
	return pool, nil
}

func iwpool_destroy(pool uintptr) {
	if pool == 0 {
		return
	}
	c_iwpool_destroy(pool)
}
