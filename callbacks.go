package ejdb2

import (
	"bytes"
	"io"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/pkg/errors"

	"ejdb2.dev/ejdb2go/metrics"
)

// Native callbacks are created once per process: purego callbacks are a
// limited resource that is never reclaimed. Each invocation finds its
// Go-side state through the opaque pointer the engine hands back, which is
// a token into one of the registries below rather than a Go pointer.
var (
	visitorCallback    uintptr // EJDB_EXEC_VISITOR
	printerCallback    uintptr // jbl_json_printer
	stringFreeCallback uintptr // void (*)(void*, void*)
	poolFreeCallback   uintptr // void (*)(void*, void*)
)

var (
	execs registry[*execState]
	sinks registry[*printSink]
	pins  registry[*pinnedString]
	pools registry[uintptr]
)

func registerCallbacks() {
	visitorCallback = purego.NewCallback(visitDocument)
	printerCallback = purego.NewCallback(printChunk)
	stringFreeCallback = purego.NewCallback(freePinned)
	poolFreeCallback = purego.NewCallback(destroyPool)
}

// registry maps opaque non-zero tokens to Go values handed to native code.
type registry[T any] struct {
	mu    sync.Mutex
	next  uintptr
	items map[uintptr]T
}

func (r *registry[T]) add(v T) uintptr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.items == nil {
		r.items = make(map[uintptr]T)
	}
	r.next++
	r.items[r.next] = v
	return r.next
}

func (r *registry[T]) get(tok uintptr) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items[tok]
	return v, ok
}

// take removes and returns the value of tok. Only the first take of a token succeeds.
func (r *registry[T]) take(tok uintptr) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items[tok]
	if ok {
		delete(r.items, tok)
	}
	return v, ok
}

func (r *registry[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// execState is the Go side of one ejdb_exec call.
type execState struct {
	visit    VisitorFunc
	rows     int64
	panicked bool
	panicVal interface{}
}

// visitDocument is the EJDB_EXEC_VISITOR. It runs on the goroutine blocked
// in ejdb_exec.
func visitDocument(ctx, doc, step uintptr) uintptr {
	out := (*int64)(unsafe.Pointer(step))
	*out = int64(StepStop)

	ux := (*c_ejdb_exec_t)(unsafe.Pointer(ctx))
	st, ok := execs.get(ux.Opaque)
	if !ok || st.visit == nil {
		return 0
	}
	d := (*c_ejdb_doc_t)(unsafe.Pointer(doc))
	json, rc := renderRow(d)
	if rc != 0 {
		return uintptr(rc)
	}
	st.rows++
	metrics.RowsVisitedTotal.Inc()

	// A panic must not unwind through native frames. It is stashed and
	// re-raised once ejdb_exec has returned.
	defer func() {
		if r := recover(); r != nil {
			st.panicked, st.panicVal = true, r
			*out = int64(StepStop)
		}
	}()
	*out = int64(st.visit(Document{ID: d.Id, JSON: json}).normalize())
	return 0
}

// renderRow renders the visited document into a scratch buffer sized at
// twice its binary size. The buffer is released before returning.
func renderRow(d *c_ejdb_doc_t) (string, uint64) {
	var xstr uintptr
	if sz := c_jbl_size(d.Raw) * 2; sz > 0 {
		xstr = c_iwxstr_new2(sz)
	} else {
		xstr = c_iwxstr_new()
	}
	if xstr == 0 {
		return "", uint64(ErrCodeAlloc)
	}
	defer c_iwxstr_destroy(xstr)

	var rc uint64
	if d.Node != 0 {
		rc = c_jbn_as_json(d.Node, xstrPrinter, xstr, jblPrintNone)
	} else {
		rc = c_jbl_as_json(d.Raw, xstrPrinter, xstr, jblPrintNone)
	}
	if rc != 0 {
		return "", rc
	}
	return iwxstr_string(xstr), 0
}

// printSink receives JSON chunks pushed by the engine printer.
type printSink struct {
	w   io.Writer
	err error
}

// printChunk is the jbl_json_printer. A NULL data writes ch count times.
// Otherwise data is written count times (at least once), with a negative
// size meaning NUL-terminated.
func printChunk(data, size, ch, count, op uintptr) uintptr {
	sink, ok := sinks.get(op)
	if !ok {
		return uintptr(ErrCodeInvalidArgs)
	}
	if sink.err != nil {
		return uintptr(ErrCodeIOErrno)
	}
	n := int(int32(count))

	var err error
	if data == 0 {
		if n > 0 {
			_, err = sink.w.Write(bytes.Repeat([]byte{byte(ch)}, n))
		}
	} else {
		var chunk string
		if sz := int(int32(size)); sz < 0 {
			chunk = copyCString(data)
		} else {
			chunk = copyCBytes(data, sz)
		}
		if n <= 0 {
			n = 1
		}
		for i := 0; i < n && err == nil; i++ {
			_, err = io.WriteString(sink.w, chunk)
		}
	}
	if err != nil {
		sink.err = err
		return uintptr(ErrCodeIOErrno)
	}
	return 0
}

// freePinned releases a string bound to a query placeholder. It is called
// by the engine when the value is replaced, reset or the query destroyed,
// and by the binding when the engine refused the value.
func freePinned(_, op uintptr) uintptr {
	if p, ok := pins.take(op); ok {
		p.unpin()
	}
	return 0
}

// destroyPool releases the memory pool backing a JSON placeholder value.
func destroyPool(_, op uintptr) uintptr {
	if pool, ok := pools.take(op); ok {
		iwpool_destroy(pool)
	}
	return 0
}

// writeJSON runs render with the Go printer and a sink over w. A write
// error from w takes precedence over the engine code it caused.
func writeJSON(w io.Writer, render func(pt, op uintptr) error) error {
	sink := &printSink{w: w}
	tok := sinks.add(sink)
	defer sinks.take(tok)

	err := render(printerCallback, tok)
	if sink.err != nil {
		return errors.WithStack(sink.err)
	}
	return err
}
