package ejdb2

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
	"unsafe"
)

// fakeEngine is an in-memory stand-in for libejdb2, installed by swapping
// the c_* function variables. It understands a tiny JQL subset:
//
//	[@coll]/* | [skip N] [limit N] [count]
//	[@coll]/[field = :name|:?|"literal"|number] | ...
//
// Pointers the binding dereferences (strings, iwxstr contents, exec and doc
// structs) are real Go memory; everything else is an opaque token.
type fakeEngine struct {
	t *testing.T

	mu      sync.Mutex
	next    uintptr
	keep    [][]byte
	stores  map[string]*fakeStore
	dbs     map[uintptr]*fakeDB
	jbls    map[uintptr]string
	nodes   map[uintptr]string
	nodeIn  map[uintptr]uintptr // node -> owning pool
	xstrs   map[uintptr]*bytes.Buffer
	pools   map[uintptr]bool
	queries map[uintptr]*fakeQuery
	explain map[ErrorCode]uintptr
	calls   map[string]int

	lastOpts       c_ejdb_opts_t
	lastPath       string
	lastHTTPBind   string
	lastHTTPToken  string
	lastCreateMode uint8
	// failNext makes the named entry point fail once with the given code.
	failNext map[string]ErrorCode
}

type fakeDB struct {
	path     string
	readonly bool
	store    *fakeStore
}

type fakeStore struct {
	nextDBID int64
	colls    map[string]*fakeColl
}

type fakeColl struct {
	dbid    int64
	nextID  int64
	docs    map[int64]string
	indexes []fakeIndex
}

type fakeIndex struct {
	ptr  string
	mode uint8
	dbid int64
}

type fakeFree struct {
	fn, ptr, op uintptr
}

type fakeQuery struct {
	text        string
	coll        string
	field       string
	literal     any
	hasLiteral  bool
	placeholder string
	positional  bool
	skip, limit int64
	count       bool
	errText     string

	bound bool
	value any
	free  fakeFree
}

type fakeRegexp struct{ re *regexp.Regexp }

const (
	fakeXstrPrinter = uintptr(0xA001)
	fakePrinter     = uintptr(0xA002)
	fakeVisitor     = uintptr(0xA003)
	fakeStringFree  = uintptr(0xA004)
	fakePoolFree    = uintptr(0xA005)
)

func allBindings() []any {
	return []any{
		&c_ejdb_init, &c_ejdb_version_major, &c_ejdb_version_minor, &c_ejdb_version_patch,
		&c_ejdb_open, &c_ejdb_close, &c_ejdb_get_meta, &c_ejdb_put, &c_ejdb_put_new,
		&c_ejdb_get, &c_ejdb_del, &c_ejdb_patch, &c_ejdb_merge_or_put,
		&c_ejdb_rename_collection, &c_ejdb_remove_collection, &c_ejdb_ensure_index,
		&c_ejdb_remove_index, &c_ejdb_online_backup, &c_ejdb_exec,
		&c_jbl_from_json, &c_jbl_as_json, &c_jbn_as_json, &c_jbn_from_json, &c_jbl_size, &c_jbl_destroy,
		&c_jql_create2, &c_jql_destroy, &c_jql_error, &c_jql_collection, &c_jql_get_skip,
		&c_jql_get_limit, &c_jql_reset, &c_jql_set_str2, &c_jql_set_regexp2, &c_jql_set_json2,
		&c_jql_set_i64, &c_jql_set_f64, &c_jql_set_bool, &c_jql_set_null,
		&c_iwlog_ecode_explained, &c_iwxstr_new, &c_iwxstr_new2, &c_iwxstr_destroy,
		&c_iwxstr_size, &c_iwxstr_ptr, &c_iwpool_create, &c_iwpool_destroy,
		&xstrPrinter, &visitorCallback, &printerCallback, &stringFreeCallback, &poolFreeCallback,
		&libErr,
	}
}

// snapshotBindings returns a func restoring every binding variable to its current value.
func snapshotBindings() func() {
	ptrs := allBindings()
	saved := make([]reflect.Value, len(ptrs))
	for i, p := range ptrs {
		saved[i] = reflect.ValueOf(reflect.ValueOf(p).Elem().Interface())
		if !saved[i].IsValid() {
			saved[i] = reflect.Zero(reflect.ValueOf(p).Elem().Type())
		}
	}
	return func() {
		for i, p := range ptrs {
			reflect.ValueOf(p).Elem().Set(saved[i])
		}
	}
}

func installFakeEngine(t *testing.T) *fakeEngine {
	t.Helper()
	libOnce.Do(func() {})
	t.Cleanup(snapshotBindings())

	f := &fakeEngine{
		t:        t,
		next:     0x10000,
		stores:   map[string]*fakeStore{},
		dbs:      map[uintptr]*fakeDB{},
		jbls:     map[uintptr]string{},
		nodes:    map[uintptr]string{},
		nodeIn:   map[uintptr]uintptr{},
		xstrs:    map[uintptr]*bytes.Buffer{},
		pools:    map[uintptr]bool{},
		queries:  map[uintptr]*fakeQuery{},
		explain:  map[ErrorCode]uintptr{},
		calls:    map[string]int{},
		failNext: map[string]ErrorCode{},
	}
	libErr = nil
	xstrPrinter = fakeXstrPrinter
	printerCallback = fakePrinter
	visitorCallback = fakeVisitor
	stringFreeCallback = fakeStringFree
	poolFreeCallback = fakePoolFree

	c_ejdb_init = func() uint64 { return 0 }
	c_ejdb_version_major = func() uint32 { return 2 }
	c_ejdb_version_minor = func() uint32 { return 73 }
	c_ejdb_version_patch = func() uint32 { return 0 }
	c_ejdb_open = f.open
	c_ejdb_close = f.close
	c_ejdb_get_meta = f.getMeta
	c_ejdb_put = f.put
	c_ejdb_put_new = f.putNew
	c_ejdb_get = f.get
	c_ejdb_del = f.del
	c_ejdb_patch = func(db, coll, patch uintptr, id int64) uint64 { return f.patch(db, coll, patch, id, false) }
	c_ejdb_merge_or_put = func(db, coll, patch uintptr, id int64) uint64 { return f.patch(db, coll, patch, id, true) }
	c_ejdb_rename_collection = f.renameCollection
	c_ejdb_remove_collection = f.removeCollection
	c_ejdb_ensure_index = f.ensureIndex
	c_ejdb_remove_index = f.removeIndex
	c_ejdb_online_backup = f.onlineBackup
	c_ejdb_exec = f.exec
	c_jbl_from_json = f.jblFromJSON
	c_jbl_as_json = func(jbl, pt, op uintptr, pf uint8) uint64 { return f.asJSON(f.jbls, jbl, pt, op, pf) }
	c_jbn_as_json = func(node, pt, op uintptr, pf uint8) uint64 { return f.asJSON(f.nodes, node, pt, op, pf) }
	c_jbn_from_json = f.jbnFromJSON
	c_jbl_size = func(jbl uintptr) uintptr {
		f.mu.Lock()
		defer f.mu.Unlock()
		return uintptr(len(f.jbls[jbl]))
	}
	c_jbl_destroy = func(jblp unsafe.Pointer) {
		f.mu.Lock()
		defer f.mu.Unlock()
		h := *(*uintptr)(jblp)
		if _, ok := f.jbls[h]; !ok {
			f.t.Errorf("jbl_destroy of unknown jbl %#x", h)
		}
		delete(f.jbls, h)
		f.calls["jbl_destroy"]++
		*(*uintptr)(jblp) = 0
	}

	c_jql_create2 = f.jqlCreate
	c_jql_destroy = f.jqlDestroy
	c_jql_error = func(q uintptr) uintptr {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.cstr(f.queries[q].errText)
	}
	c_jql_collection = func(q uintptr) uintptr {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.cstr(f.queries[q].coll)
	}
	c_jql_get_skip = func(q uintptr, skip unsafe.Pointer) uint64 {
		f.mu.Lock()
		defer f.mu.Unlock()
		*(*int64)(skip) = f.queries[q].skip
		return 0
	}
	c_jql_get_limit = func(q uintptr, limit unsafe.Pointer) uint64 {
		f.mu.Lock()
		defer f.mu.Unlock()
		*(*int64)(limit) = f.queries[q].limit
		return 0
	}
	c_jql_reset = f.jqlReset
	c_jql_set_str2 = func(q, placeholder uintptr, index int32, val, freefn, op uintptr) uint64 {
		return f.setValue("jql_set_str2", q, placeholder, index, copyCString(val), fakeFree{freefn, val, op})
	}
	c_jql_set_regexp2 = func(q, placeholder uintptr, index int32, expr, freefn, op uintptr) uint64 {
		re, err := regexp.Compile(copyCString(expr))
		if err != nil {
			return uint64(ErrCodeRegexpInvalid)
		}
		return f.setValue("jql_set_regexp2", q, placeholder, index, fakeRegexp{re}, fakeFree{freefn, expr, op})
	}
	c_jql_set_json2 = func(q, placeholder uintptr, index int32, node, freefn, op uintptr) uint64 {
		f.mu.Lock()
		text, ok := f.nodes[node]
		f.mu.Unlock()
		if !ok {
			return uint64(ErrCodeInvalidArgs)
		}
		var v any
		_ = json.Unmarshal([]byte(text), &v)
		return f.setValue("jql_set_json2", q, placeholder, index, v, fakeFree{freefn, node, op})
	}
	c_jql_set_i64 = func(q, placeholder uintptr, index int32, val int64) uint64 {
		return f.setValue("jql_set_i64", q, placeholder, index, val, fakeFree{})
	}
	c_jql_set_f64 = func(q, placeholder uintptr, index int32, val float64) uint64 {
		return f.setValue("jql_set_f64", q, placeholder, index, val, fakeFree{})
	}
	c_jql_set_bool = func(q, placeholder uintptr, index int32, val bool) uint64 {
		return f.setValue("jql_set_bool", q, placeholder, index, val, fakeFree{})
	}
	c_jql_set_null = func(q, placeholder uintptr, index int32) uint64 {
		return f.setValue("jql_set_null", q, placeholder, index, nil, fakeFree{})
	}

	c_iwlog_ecode_explained = f.explainCode
	c_iwxstr_new = func() uintptr { return f.newXstr() }
	c_iwxstr_new2 = func(uintptr) uintptr { return f.newXstr() }
	c_iwxstr_destroy = func(x uintptr) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.xstrs[x]; !ok {
			f.t.Errorf("iwxstr_destroy of unknown xstr %#x", x)
		}
		delete(f.xstrs, x)
		f.calls["iwxstr_destroy"]++
	}
	c_iwxstr_size = func(x uintptr) uintptr {
		f.mu.Lock()
		defer f.mu.Unlock()
		return uintptr(f.xstrs[x].Len())
	}
	c_iwxstr_ptr = func(x uintptr) uintptr {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.cstr(f.xstrs[x].String())
	}
	c_iwpool_create = func(uintptr) uintptr {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failLocked("iwpool_create") != 0 {
			return 0
		}
		h := f.token()
		f.pools[h] = true
		return h
	}
	c_iwpool_destroy = func(pool uintptr) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.pools[pool] {
			f.t.Errorf("iwpool_destroy of unknown or destroyed pool %#x", pool)
		}
		delete(f.pools, pool)
		for node, owner := range f.nodeIn {
			if owner == pool {
				delete(f.nodes, node)
				delete(f.nodeIn, node)
			}
		}
		f.calls["iwpool_destroy"]++
	}
	return f
}

// assertNoLeaks checks that every transient native object was released.
func (f *fakeEngine) assertNoLeaks() {
	f.t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.jbls) != 0 || len(f.xstrs) != 0 || len(f.pools) != 0 || len(f.nodes) != 0 {
		f.t.Errorf("leaked native objects: jbls=%d xstrs=%d pools=%d nodes=%d",
			len(f.jbls), len(f.xstrs), len(f.pools), len(f.nodes))
	}
	if n := pins.len(); n != 0 {
		f.t.Errorf("leaked %d pinned strings", n)
	}
	if n := pools.len(); n != 0 {
		f.t.Errorf("leaked %d pool tokens", n)
	}
	if n := sinks.len(); n != 0 {
		f.t.Errorf("leaked %d printer sinks", n)
	}
	if n := execs.len(); n != 0 {
		f.t.Errorf("leaked %d exec states", n)
	}
}

func (f *fakeEngine) callCount(entry string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[entry]
}

func (f *fakeEngine) failOnce(entry string, code ErrorCode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[entry] = code
}

func (f *fakeEngine) failLocked(entry string) uint64 {
	if code, ok := f.failNext[entry]; ok {
		delete(f.failNext, entry)
		return uint64(code)
	}
	return 0
}

func (f *fakeEngine) token() uintptr {
	f.next += 0x10
	return f.next
}

// cstr returns a NUL-terminated copy of s that stays valid for the test.
func (f *fakeEngine) cstr(s string) uintptr {
	b := append([]byte(s), 0)
	f.keep = append(f.keep, b)
	return uintptr(unsafe.Pointer(&b[0]))
}

func (f *fakeEngine) newXstr() uintptr {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLocked("iwxstr_new") != 0 {
		return 0
	}
	h := f.token()
	f.xstrs[h] = &bytes.Buffer{}
	f.calls["iwxstr_new"]++
	return h
}

func (f *fakeEngine) explainCode(rc uint64) uintptr {
	f.mu.Lock()
	defer f.mu.Unlock()
	code, _ := stripErrno(rc)
	if p, ok := f.explain[code]; ok {
		return p
	}
	p := f.cstr(fmt.Sprintf("fake engine error (%s)", code))
	f.explain[code] = p
	return p
}

func (f *fakeEngine) lookupDB(db uintptr) (*fakeDB, uint64) {
	d, ok := f.dbs[db]
	if !ok {
		f.t.Errorf("call on unknown db handle %#x", db)
		return nil, uint64(ErrCodeInvalidHandle)
	}
	return d, 0
}

func (f *fakeEngine) open(opts, ejdbp unsafe.Pointer) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rc := f.failLocked("ejdb_open"); rc != 0 {
		return rc
	}
	o := (*c_ejdb_opts_t)(opts)
	f.lastOpts = *o
	f.lastPath = copyCString(o.Kv.Path)
	f.lastHTTPBind = copyCString(o.Http.Bind)
	f.lastHTTPToken = copyCBytes(o.Http.AccessToken, int(o.Http.AccessTokenLen))
	if f.lastPath == "" {
		return uint64(ErrCodeInvalidArgs)
	}
	store := f.stores[f.lastPath]
	if store == nil || o.Kv.Oflags&iwkvTrunc != 0 {
		store = &fakeStore{nextDBID: 3, colls: map[string]*fakeColl{}}
		f.stores[f.lastPath] = store
	}
	h := f.token()
	f.dbs[h] = &fakeDB{path: f.lastPath, readonly: o.Kv.Oflags&iwkvRdonly != 0, store: store}
	*(*uintptr)(ejdbp) = h
	return 0
}

func (f *fakeEngine) close(ejdbp unsafe.Pointer) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := *(*uintptr)(ejdbp)
	f.calls["ejdb_close"]++
	if _, ok := f.dbs[h]; !ok {
		f.t.Errorf("ejdb_close of unknown or closed db %#x", h)
		return uint64(ErrCodeInvalidHandle)
	}
	delete(f.dbs, h)
	*(*uintptr)(ejdbp) = 0
	return 0
}

func (s *fakeStore) coll(name string, create bool) *fakeColl {
	c := s.colls[name]
	if c == nil && create {
		s.nextDBID++
		c = &fakeColl{dbid: s.nextDBID, docs: map[int64]string{}}
		s.colls[name] = c
	}
	return c
}

func (f *fakeEngine) jblFromJSON(jblp unsafe.Pointer, text uintptr) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := copyCString(text)
	f.calls["jbl_from_json"]++
	if !json.Valid([]byte(s)) {
		return uint64(ErrCodeJBLParseUnquotedString)
	}
	h := f.token()
	f.jbls[h] = compactJSON(s)
	*(*uintptr)(jblp) = h
	return 0
}

func (f *fakeEngine) jbnFromJSON(text uintptr, node unsafe.Pointer, pool uintptr) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.pools[pool] {
		f.t.Errorf("jbn_from_json into unknown pool %#x", pool)
		return uint64(ErrCodeInvalidArgs)
	}
	s := copyCString(text)
	if !json.Valid([]byte(s)) {
		return uint64(ErrCodeJBLParseJSON)
	}
	h := f.token()
	f.nodes[h] = compactJSON(s)
	f.nodeIn[h] = pool
	*(*uintptr)(node) = h
	return 0
}

func compactJSON(s string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return s
	}
	return buf.String()
}

func (f *fakeEngine) put(db, coll, jbl uintptr, id int64) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, rc := f.lookupDB(db)
	if rc != 0 {
		return rc
	}
	if d.readonly {
		return uint64(ErrCodeReadonly)
	}
	c := d.store.coll(copyCString(coll), true)
	c.docs[id] = f.jbls[jbl]
	if id > c.nextID {
		c.nextID = id
	}
	return 0
}

func (f *fakeEngine) putNew(db, coll, jbl uintptr, oid unsafe.Pointer) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, rc := f.lookupDB(db)
	if rc != 0 {
		return rc
	}
	if d.readonly {
		return uint64(ErrCodeReadonly)
	}
	c := d.store.coll(copyCString(coll), true)
	c.nextID++
	c.docs[c.nextID] = f.jbls[jbl]
	*(*int64)(oid) = c.nextID
	return 0
}

func (f *fakeEngine) get(db, coll uintptr, id int64, jblp unsafe.Pointer) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, rc := f.lookupDB(db)
	if rc != 0 {
		return rc
	}
	c := d.store.coll(copyCString(coll), false)
	if c == nil {
		return uint64(ErrCodeNotExists)
	}
	doc, ok := c.docs[id]
	if !ok {
		return uint64(ErrCodeNotExists)
	}
	h := f.token()
	f.jbls[h] = doc
	*(*uintptr)(jblp) = h
	return 0
}

func (f *fakeEngine) del(db, coll uintptr, id int64) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, rc := f.lookupDB(db)
	if rc != 0 {
		return rc
	}
	c := d.store.coll(copyCString(coll), false)
	if c == nil {
		return uint64(ErrCodeNotExists)
	}
	if _, ok := c.docs[id]; !ok {
		return uint64(ErrCodeNotExists)
	}
	delete(c.docs, id)
	return 0
}

// patch supports "add" and "replace" operations on top-level paths, and
// top-level merge patches.
func (f *fakeEngine) patch(db, coll, patch uintptr, id int64, upsert bool) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, rc := f.lookupDB(db)
	if rc != 0 {
		return rc
	}
	c := d.store.coll(copyCString(coll), upsert)
	var doc map[string]any
	if c != nil {
		if cur, ok := c.docs[id]; ok {
			_ = json.Unmarshal([]byte(cur), &doc)
		}
	}
	p := copyCString(patch)
	if !upsert {
		if doc == nil {
			return uint64(ErrCodeNotExists)
		}
		var ops []struct {
			Op    string `json:"op"`
			Path  string `json:"path"`
			Value any    `json:"value"`
		}
		if err := json.Unmarshal([]byte(p), &ops); err != nil {
			return uint64(ErrCodeJBLPatchInvalid)
		}
		for _, op := range ops {
			if op.Op != "add" && op.Op != "replace" {
				return uint64(ErrCodeJBLPatchInvalidOp)
			}
			doc[strings.TrimPrefix(op.Path, "/")] = op.Value
		}
	} else {
		var merge map[string]any
		if err := json.Unmarshal([]byte(p), &merge); err != nil {
			return uint64(ErrCodePatchJSONNotObject)
		}
		if doc == nil {
			doc = map[string]any{}
		}
		for k, v := range merge {
			if v == nil {
				delete(doc, k)
			} else {
				doc[k] = v
			}
		}
	}
	out, _ := json.Marshal(doc)
	c.docs[id] = string(out)
	if id > c.nextID {
		c.nextID = id
	}
	return 0
}

func (f *fakeEngine) renameCollection(db, coll, newColl uintptr) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, rc := f.lookupDB(db)
	if rc != 0 {
		return rc
	}
	from, to := copyCString(coll), copyCString(newColl)
	c := d.store.colls[from]
	if c == nil {
		return uint64(ErrCodeCollectionNotFound)
	}
	if d.store.colls[to] != nil {
		return uint64(ErrCodeTargetCollectionExists)
	}
	delete(d.store.colls, from)
	d.store.colls[to] = c
	return 0
}

func (f *fakeEngine) removeCollection(db, coll uintptr) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, rc := f.lookupDB(db)
	if rc != 0 {
		return rc
	}
	delete(d.store.colls, copyCString(coll))
	return 0
}

func (f *fakeEngine) ensureIndex(db, coll, path uintptr, mode uint8) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, rc := f.lookupDB(db)
	if rc != 0 {
		return rc
	}
	c := d.store.coll(copyCString(coll), true)
	ptr := copyCString(path)
	for _, idx := range c.indexes {
		if idx.ptr == ptr && idx.mode&^0x01 == mode&^0x01 {
			if idx.mode != mode {
				return uint64(ErrCodeMismatchedIndexUniquenessMode)
			}
			return 0
		}
	}
	d.store.nextDBID++
	c.indexes = append(c.indexes, fakeIndex{ptr: ptr, mode: mode, dbid: d.store.nextDBID})
	return 0
}

func (f *fakeEngine) removeIndex(db, coll, path uintptr, mode uint8) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, rc := f.lookupDB(db)
	if rc != 0 {
		return rc
	}
	c := d.store.coll(copyCString(coll), false)
	if c == nil {
		return uint64(ErrCodeCollectionNotFound)
	}
	ptr := copyCString(path)
	for i, idx := range c.indexes {
		if idx.ptr == ptr && idx.mode == mode {
			c.indexes = append(c.indexes[:i], c.indexes[i+1:]...)
			return 0
		}
	}
	return 0
}

func (f *fakeEngine) onlineBackup(db uintptr, ts unsafe.Pointer, target uintptr) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, rc := f.lookupDB(db)
	if rc != 0 {
		return rc
	}
	path := copyCString(target)
	if err := os.WriteFile(path, []byte("fake backup of "+d.path), 0o644); err != nil {
		return uint64(ErrCodeIOErrno)
	}
	// A backup opens as a copy of the live store.
	cp := &fakeStore{nextDBID: d.store.nextDBID, colls: map[string]*fakeColl{}}
	for name, c := range d.store.colls {
		cc := &fakeColl{dbid: c.dbid, nextID: c.nextID, docs: map[int64]string{}, indexes: append([]fakeIndex(nil), c.indexes...)}
		for id, doc := range c.docs {
			cc.docs[id] = doc
		}
		cp.colls[name] = cc
	}
	f.stores[path] = cp
	*(*uint64)(ts) = uint64(time.Now().UnixMilli())
	return 0
}

func (f *fakeEngine) getMeta(db uintptr, jblp unsafe.Pointer) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, rc := f.lookupDB(db)
	if rc != 0 {
		return rc
	}
	type idxMeta struct {
		Ptr  string `json:"ptr"`
		Mode uint8  `json:"mode"`
		IDBF int64  `json:"idbf"`
		DBID int64  `json:"dbid"`
		RNum int64  `json:"rnum"`
	}
	type collMeta struct {
		Name    string    `json:"name"`
		DBID    int64     `json:"dbid"`
		RNum    int64     `json:"rnum"`
		Indexes []idxMeta `json:"indexes"`
	}
	var names []string
	for name := range d.store.colls {
		names = append(names, name)
	}
	sort.Strings(names)
	colls := []collMeta{}
	for _, name := range names {
		c := d.store.colls[name]
		cm := collMeta{Name: name, DBID: c.dbid, RNum: int64(len(c.docs)), Indexes: []idxMeta{}}
		for _, idx := range c.indexes {
			cm.Indexes = append(cm.Indexes, idxMeta{Ptr: idx.ptr, Mode: idx.mode, DBID: idx.dbid, RNum: int64(len(c.docs))})
		}
		colls = append(colls, cm)
	}
	out, _ := json.Marshal(map[string]any{
		"version":     "2.73.0",
		"file":        d.path,
		"size":        4096,
		"collections": colls,
	})
	h := f.token()
	f.jbls[h] = string(out)
	*(*uintptr)(jblp) = h
	return 0
}

// asJSON pushes the document through pt the way the engine printer does:
// indentation as fill-character runs, and the rest as data chunks, some
// sized and some NUL-terminated.
func (f *fakeEngine) asJSON(table map[uintptr]string, h, pt, op uintptr, pf uint8) uint64 {
	f.mu.Lock()
	if rc := f.failLocked("jbl_as_json"); rc != 0 {
		f.mu.Unlock()
		return rc
	}
	text, ok := table[h]
	if !ok {
		f.mu.Unlock()
		f.t.Errorf("as_json of unknown object %#x", h)
		return uint64(ErrCodeInvalidArgs)
	}
	if pt == fakeXstrPrinter {
		defer f.mu.Unlock()
		x, ok := f.xstrs[op]
		if !ok {
			f.t.Errorf("xstr printer into unknown xstr %#x", op)
			return uint64(ErrCodeInvalidArgs)
		}
		x.WriteString(text)
		return 0
	}
	f.mu.Unlock()

	if pt != fakePrinter {
		f.t.Errorf("unexpected printer %#x", pt)
		return uint64(ErrCodeInvalidArgs)
	}
	if pf&jblPrintPretty != 0 {
		var buf bytes.Buffer
		_ = json.Indent(&buf, []byte(text), "", "  ")
		text = buf.String()
	}
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			if rc := f.print(0, 0, '\n', 1, op); rc != 0 {
				return rc
			}
		}
		trimmed := strings.TrimLeft(line, " ")
		if indent := len(line) - len(trimmed); indent > 0 {
			if rc := f.print(0, 0, ' ', indent, op); rc != 0 {
				return rc
			}
		}
		if trimmed == "" {
			continue
		}
		half := len(trimmed) / 2
		head := []byte(trimmed[:half])
		if half > 0 {
			if rc := f.print(uintptr(unsafe.Pointer(&head[0])), half, 0, 0, op); rc != 0 {
				return rc
			}
		}
		tail := append([]byte(trimmed[half:]), 0)
		rc := f.print(uintptr(unsafe.Pointer(&tail[0])), -1, 0, 1, op)
		runtime.KeepAlive(head)
		runtime.KeepAlive(tail)
		if rc != 0 {
			return rc
		}
	}
	return 0
}

func (f *fakeEngine) print(data uintptr, size int, ch byte, count int, op uintptr) uint64 {
	return uint64(printChunk(data, uintptr(int32(size)), uintptr(ch), uintptr(int32(count)), op))
}

var fakeQueryRe = regexp.MustCompile(`^\s*(?:@(\w+))?/(?:\*|\[\s*(\w+)\s*=\s*(:\?|:\w+|"[^"]*"|-?[0-9.]+)\s*\])\s*(?:\|\s*(.*))?$`)

func (f *fakeEngine) jqlCreate(qptr unsafe.Pointer, coll, query uintptr, mode uint8) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	text := copyCString(query)
	f.lastCreateMode = mode
	q := &fakeQuery{text: text}
	if coll != 0 {
		q.coll = copyCString(coll)
	}

	rc := q.parse()
	if rc != 0 && mode&jqlKeepQueryOnParseError == 0 {
		*(*uintptr)(qptr) = 0
		return rc
	}
	h := f.token()
	f.queries[h] = q
	*(*uintptr)(qptr) = h
	return rc
}

func (q *fakeQuery) parse() uint64 {
	m := fakeQueryRe.FindStringSubmatch(q.text)
	if m == nil {
		q.errText = "Syntax error: " + q.text + " <---"
		return uint64(ErrCodeQueryParse)
	}
	if q.coll == "" {
		q.coll = m[1]
	}
	q.field = m[2]
	switch v := m[3]; {
	case v == "":
	case v == ":?":
		q.positional = true
		q.placeholder = "?"
	case strings.HasPrefix(v, ":"):
		q.placeholder = v[1:]
	case strings.HasPrefix(v, `"`):
		q.literal, q.hasLiteral = strings.Trim(v, `"`), true
	default:
		n, _ := strconv.ParseFloat(v, 64)
		q.literal, q.hasLiteral = n, true
	}
	tokens := strings.Fields(m[4])
	for i := 0; i < len(tokens); i++ {
		switch tokens[i] {
		case "count":
			q.count = true
		case "skip", "limit":
			if i+1 == len(tokens) {
				q.errText = "Syntax error: " + q.text + " <---"
				return uint64(ErrCodeQueryParse)
			}
			n, err := strconv.ParseInt(tokens[i+1], 10, 64)
			if err != nil {
				q.errText = "Syntax error: " + q.text + " <---"
				return uint64(ErrCodeQueryParse)
			}
			if tokens[i] == "skip" {
				q.skip = n
			} else {
				q.limit = n
			}
			i++
		default:
			q.errText = "Syntax error: " + q.text + " <---"
			return uint64(ErrCodeQueryParse)
		}
	}
	return 0
}

func (f *fakeEngine) jqlDestroy(qptr unsafe.Pointer) {
	f.mu.Lock()
	h := *(*uintptr)(qptr)
	q, ok := f.queries[h]
	delete(f.queries, h)
	f.calls["jql_destroy"]++
	*(*uintptr)(qptr) = 0
	f.mu.Unlock()

	if !ok {
		f.t.Errorf("jql_destroy of unknown or destroyed query %#x", h)
		return
	}
	f.release(q.free)
}

func (f *fakeEngine) jqlReset(q uintptr, resetMatchCache, resetPlaceholders bool) {
	f.mu.Lock()
	fq := f.queries[q]
	free := fq.free
	if resetPlaceholders {
		fq.bound, fq.value, fq.free = false, nil, fakeFree{}
	}
	f.calls["jql_reset"]++
	f.mu.Unlock()

	if resetPlaceholders {
		f.release(free)
	}
}

// release calls the free callback of a placeholder value, if it has one.
func (f *fakeEngine) release(free fakeFree) {
	switch free.fn {
	case 0:
	case fakeStringFree:
		freePinned(free.ptr, free.op)
	case fakePoolFree:
		destroyPool(free.ptr, free.op)
	default:
		f.t.Errorf("unexpected free callback %#x", free.fn)
	}
}

func (f *fakeEngine) setValue(entry string, q, placeholder uintptr, index int32, v any, free fakeFree) uint64 {
	f.mu.Lock()
	f.calls[entry]++
	fq, ok := f.queries[q]
	if !ok {
		f.mu.Unlock()
		f.t.Errorf("%s on unknown query %#x", entry, q)
		return uint64(ErrCodeInvalidArgs)
	}
	if rc := f.failLocked(entry); rc != 0 {
		f.mu.Unlock()
		return rc
	}
	var match bool
	if placeholder != 0 {
		match = !fq.positional && fq.placeholder != "" && copyCString(placeholder) == fq.placeholder
	} else {
		match = fq.positional && index == 0
	}
	if !match {
		f.mu.Unlock()
		return uint64(ErrCodeInvalidPlaceholder)
	}
	prev := fq.free
	fq.bound, fq.value, fq.free = true, v, free
	f.mu.Unlock()

	f.release(prev)
	return 0
}

func (q *fakeQuery) matches(doc string) bool {
	if q.field == "" {
		return true
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return false
	}
	got, ok := m[q.field]
	if !ok {
		return false
	}
	want := q.literal
	if !q.hasLiteral {
		want = q.value
	}
	if re, ok := want.(fakeRegexp); ok {
		s, ok := got.(string)
		return ok && re.re.MatchString(s)
	}
	return reflect.DeepEqual(normalizeFakeValue(got), normalizeFakeValue(want))
}

func normalizeFakeValue(v any) any {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case int:
		return float64(x)
	}
	return v
}

func (f *fakeEngine) exec(uxp unsafe.Pointer) uint64 {
	ux := (*c_ejdb_exec_t)(uxp)

	f.mu.Lock()
	f.calls["ejdb_exec"]++
	d, rc := f.lookupDB(ux.Db)
	if rc != 0 {
		f.mu.Unlock()
		return rc
	}
	q, ok := f.queries[ux.Q]
	if !ok {
		f.mu.Unlock()
		f.t.Errorf("ejdb_exec of unknown query %#x", ux.Q)
		return uint64(ErrCodeInvalidArgs)
	}
	if ux.Log != 0 {
		f.xstrs[ux.Log].WriteString("[INDEX] NO [COLLECTOR] PLAIN\n")
	}
	if q.coll == "" {
		f.mu.Unlock()
		return uint64(ErrCodeNoCollection)
	}
	if q.placeholder != "" && !q.bound {
		f.mu.Unlock()
		return uint64(ErrCodeUnsetPlaceholder)
	}

	var rows []Document
	if c := d.store.coll(q.coll, false); c != nil {
		for id, doc := range c.docs {
			if q.matches(doc) {
				rows = append(rows, Document{ID: id, JSON: doc})
			}
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })

	skip, limit := q.skip, q.limit
	if ux.Skip > 0 {
		skip = ux.Skip
	}
	if ux.Limit > 0 {
		limit = ux.Limit
	}
	if skip >= int64(len(rows)) {
		rows = nil
	} else {
		rows = rows[skip:]
	}
	if limit > 0 && int64(len(rows)) > limit {
		rows = rows[:limit]
	}
	if q.count {
		ux.Cnt = int64(len(rows))
		f.mu.Unlock()
		return 0
	}
	f.mu.Unlock()

	if ux.Visitor == 0 {
		ux.Cnt = int64(len(rows))
		return 0
	}
	if ux.Visitor != fakeVisitor {
		f.t.Errorf("unexpected visitor %#x", ux.Visitor)
		return uint64(ErrCodeInvalidArgs)
	}

	for i := 0; i >= 0 && i < len(rows); {
		f.mu.Lock()
		raw := f.token()
		f.jbls[raw] = rows[i].JSON
		f.mu.Unlock()

		doc := &c_ejdb_doc_t{Id: rows[i].ID, Raw: raw}
		step := new(int64)
		rc := uint64(visitDocument(uintptr(uxp), uintptr(unsafe.Pointer(doc)), uintptr(unsafe.Pointer(step))))
		runtime.KeepAlive(doc)
		runtime.KeepAlive(step)

		f.mu.Lock()
		delete(f.jbls, raw)
		f.mu.Unlock()

		ux.Cnt++
		if rc != 0 {
			return rc
		}
		switch s := *step; {
		case s == 0:
			return 0
		case s > 0:
			i += int(s)
		default:
			i += int(s) + 1
		}
	}
	return 0
}
