package ejdb2

import (
	"runtime"
	"unsafe"
)

// cstrings is the set of NUL-terminated buffers marshaled for one native
// call. Buffers stay reachable and at a fixed address until release.
//
//	cs := cstrings{}
//	defer cs.release()
//	rc := c_ejdb_del(db, cs.str(coll), id)
type cstrings struct {
	bufs [][]byte
}

// str returns a pointer to a NUL-terminated copy of s. The empty string
// still gets its own buffer: the engine distinguishes "" from NULL.
func (cs *cstrings) str(s string) uintptr {
	b := make([]byte, len(s)+1)
	copy(b, s)
	cs.bufs = append(cs.bufs, b)
	return uintptr(unsafe.Pointer(&b[0]))
}

// opt is str for optional arguments: nil maps to NULL.
func (cs *cstrings) opt(s *string) uintptr {
	if s == nil {
		return 0
	}
	return cs.str(*s)
}

func (cs *cstrings) release() {
	runtime.KeepAlive(cs.bufs)
	cs.bufs = nil
}

// pinnedString is a buffer the engine keeps after the call returns. It is
// released by the engine through stringFreeCallback, or by the binding when
// the engine never took ownership.
type pinnedString struct {
	buf    []byte
	pinner runtime.Pinner
}

func newPinnedString(s string) *pinnedString {
	p := &pinnedString{buf: make([]byte, len(s)+1)}
	copy(p.buf, s)
	p.pinner.Pin(&p.buf[0])
	return p
}

func (p *pinnedString) ptr() uintptr {
	return uintptr(unsafe.Pointer(&p.buf[0]))
}

func (p *pinnedString) unpin() {
	p.pinner.Unpin()
	p.buf = nil
}

func copyCString(p uintptr) string {
	if p == 0 {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Pointer(p + uintptr(n))) != 0 {
		n++
	}
	return copyCBytes(p, n)
}

func copyCBytes(p uintptr, n int) string {
	if p == 0 || n <= 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(p)), n))
}
