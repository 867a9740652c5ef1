package ejdb2

import (
	"unsafe"

	"github.com/ebitengine/purego"
)

// open flags (iwkv_openflags)
const (
	iwkvRdonly uint8 = 0x02
	iwkvTrunc  uint8 = 0x04
)

// print flags (jbl_print_flags_t)
const (
	jblPrintNone   uint8 = 0x00
	jblPrintPretty uint8 = 0x01
)

// define all necessary private C structs
// private C structs MUST have fields with low level types (e.g. uintptr, numbers)

type c_iwkv_wal_opts_t struct {
	Enabled                  uint8   // bool
	CheckCRCOnCheckpoint     uint8   // bool
	_                        [2]byte // padding
	SavepointTimeoutSec      uint32
	CheckpointTimeoutSec     uint32
	_                        [4]byte // padding to 8-byte alignment
	WalBufferSz              uintptr // size_t
	CheckpointBufferSz       uint64
	WalLockInterceptor       uintptr // iwkv_wal_lock_interceptor
	WalLockInterceptorOpaque uintptr // void*
}

type c_iwkv_opts_t struct {
	Path             uintptr // const char*
	RandomSeed       uint32
	Oflags           uint8   // iwkv_openflags
	FileLockFailFast uint8   // bool
	_                [2]byte // padding
	Wal              c_iwkv_wal_opts_t
}

type c_ejdb_http_t struct {
	Enabled        uint8   // bool
	_              [3]byte // padding
	Port           int32
	Bind           uintptr // const char*
	AccessToken    uintptr // const char*
	AccessTokenLen uintptr // size_t
	Blocking       uint8   // bool
	ReadAnon       uint8   // bool
	_              [6]byte // padding
	MaxBodySize    uintptr // size_t
}

type c_ejdb_opts_t struct {
	Kv               c_iwkv_opts_t
	Http             c_ejdb_http_t
	NoWal            uint8   // bool
	_                [3]byte // padding
	SortBufferSz     uint32
	DocumentBufferSz uint32
	_                [4]byte // padding to 8-byte alignment
}

// Execution context of ejdb_exec. The visitor receives a pointer to this
// same struct, so Opaque carries the token of the Go-side execution state.
type c_ejdb_exec_t struct {
	Db      uintptr // EJDB
	Q       uintptr // JQL
	Visitor uintptr // EJDB_EXEC_VISITOR
	Opaque  uintptr // void*
	Skip    int64
	Limit   int64
	Cnt     int64
	Log     uintptr // IWXSTR*
	Pool    uintptr // IWPOOL*
}

// Used only for reading visitor payloads.
type c_ejdb_doc_t struct {
	Id   int64
	Raw  uintptr // JBL
	Node uintptr // JBL_NODE
	Next uintptr
	Prev uintptr
}

// then, define C extern methods
var (
	c_ejdb_init func() uint64

	c_ejdb_version_major func() uint32
	c_ejdb_version_minor func() uint32
	c_ejdb_version_patch func() uint32

	c_ejdb_open func(
		opts unsafe.Pointer, // const EJDB_OPTS*
		ejdbp unsafe.Pointer, // EJDB*
	) uint64

	c_ejdb_close func(
		ejdbp unsafe.Pointer, // EJDB*
	) uint64

	c_ejdb_get_meta func(
		db uintptr, // EJDB
		jblp unsafe.Pointer, // JBL*
	) uint64

	c_ejdb_put func(
		db uintptr,
		coll uintptr, // const char*
		jbl uintptr, // JBL
		id int64,
	) uint64

	c_ejdb_put_new func(
		db uintptr,
		coll uintptr, // const char*
		jbl uintptr, // JBL
		oid unsafe.Pointer, // int64_t*
	) uint64

	c_ejdb_get func(
		db uintptr,
		coll uintptr, // const char*
		id int64,
		jblp unsafe.Pointer, // JBL*
	) uint64

	c_ejdb_del func(
		db uintptr,
		coll uintptr, // const char*
		id int64,
	) uint64

	c_ejdb_patch func(
		db uintptr,
		coll uintptr, // const char*
		patchjson uintptr, // const char*
		id int64,
	) uint64

	c_ejdb_merge_or_put func(
		db uintptr,
		coll uintptr, // const char*
		patchjson uintptr, // const char*
		id int64,
	) uint64

	c_ejdb_rename_collection func(
		db uintptr,
		coll uintptr, // const char*
		newColl uintptr, // const char*
	) uint64

	c_ejdb_remove_collection func(
		db uintptr,
		coll uintptr, // const char*
	) uint64

	c_ejdb_ensure_index func(
		db uintptr,
		coll uintptr, // const char*
		path uintptr, // const char*
		mode uint8, // ejdb_idx_mode_t
	) uint64

	c_ejdb_remove_index func(
		db uintptr,
		coll uintptr, // const char*
		path uintptr, // const char*
		mode uint8, // ejdb_idx_mode_t
	) uint64

	c_ejdb_online_backup func(
		db uintptr,
		ts unsafe.Pointer, // uint64_t*
		target uintptr, // const char*
	) uint64

	c_ejdb_exec func(
		ux unsafe.Pointer, // EJDB_EXEC*
	) uint64

	c_jbl_from_json func(
		jblp unsafe.Pointer, // JBL*
		json uintptr, // const char*
	) uint64

	c_jbl_as_json func(
		jbl uintptr, // JBL
		pt uintptr, // jbl_json_printer
		op uintptr, // void*
		pf uint8, // jbl_print_flags_t
	) uint64

	c_jbn_as_json func(
		node uintptr, // JBL_NODE
		pt uintptr, // jbl_json_printer
		op uintptr, // void*
		pf uint8, // jbl_print_flags_t
	) uint64

	c_jbn_from_json func(
		json uintptr, // const char*
		node unsafe.Pointer, // JBL_NODE*
		pool uintptr, // IWPOOL*
	) uint64

	c_jbl_size func(
		jbl uintptr, // JBL
	) uintptr // size_t

	c_jbl_destroy func(
		jblp unsafe.Pointer, // JBL*
	)
)

// implement a function to register extern methods from loaded lib
// DO NOT load lib - as it will be done externally
func register_ejdb(handle uintptr) error {
	purego.RegisterLibFunc(&c_ejdb_init, handle, "ejdb_init")
	purego.RegisterLibFunc(&c_ejdb_version_major, handle, "ejdb_version_major")
	purego.RegisterLibFunc(&c_ejdb_version_minor, handle, "ejdb_version_minor")
	purego.RegisterLibFunc(&c_ejdb_version_patch, handle, "ejdb_version_patch")
	purego.RegisterLibFunc(&c_ejdb_open, handle, "ejdb_open")
	purego.RegisterLibFunc(&c_ejdb_close, handle, "ejdb_close")
	purego.RegisterLibFunc(&c_ejdb_get_meta, handle, "ejdb_get_meta")
	purego.RegisterLibFunc(&c_ejdb_put, handle, "ejdb_put")
	purego.RegisterLibFunc(&c_ejdb_put_new, handle, "ejdb_put_new")
	purego.RegisterLibFunc(&c_ejdb_get, handle, "ejdb_get")
	purego.RegisterLibFunc(&c_ejdb_del, handle, "ejdb_del")
	purego.RegisterLibFunc(&c_ejdb_patch, handle, "ejdb_patch")
	purego.RegisterLibFunc(&c_ejdb_merge_or_put, handle, "ejdb_merge_or_put")
	purego.RegisterLibFunc(&c_ejdb_rename_collection, handle, "ejdb_rename_collection")
	purego.RegisterLibFunc(&c_ejdb_remove_collection, handle, "ejdb_remove_collection")
	purego.RegisterLibFunc(&c_ejdb_ensure_index, handle, "ejdb_ensure_index")
	purego.RegisterLibFunc(&c_ejdb_remove_index, handle, "ejdb_remove_index")
	purego.RegisterLibFunc(&c_ejdb_online_backup, handle, "ejdb_online_backup")
	purego.RegisterLibFunc(&c_ejdb_exec, handle, "ejdb_exec")
	purego.RegisterLibFunc(&c_jbl_from_json, handle, "jbl_from_json")
	purego.RegisterLibFunc(&c_jbl_as_json, handle, "jbl_as_json")
	purego.RegisterLibFunc(&c_jbn_as_json, handle, "jbn_as_json")
	purego.RegisterLibFunc(&c_jbn_from_json, handle, "jbn_from_json")
	purego.RegisterLibFunc(&c_jbl_size, handle, "jbl_size")
	purego.RegisterLibFunc(&c_jbl_destroy, handle, "jbl_destroy")
	return nil
}

// Go wrappers over imported C bindings

/** Open database instance described by opts */
func ejdb_open(opts *c_ejdb_opts_t) (uintptr, error) {
	var db uintptr
	rc := c_ejdb_open(unsafe.Pointer(opts), unsafe.Pointer(&db))
	if err := check("ejdb_open", rc, ""); err != nil {
		return 0, err
	}
	return db, nil
}

/** Close database instance. Used as the release function of database handles. */
func ejdb_close(db uintptr) error {
	if db == 0 {
		return nil
	}
	rc := c_ejdb_close(unsafe.Pointer(&db))
	return check("ejdb_close", rc, "")
}

/** Parse JSON text into a binary document. The caller owns the result and must jbl_destroy it. */
func jbl_from_json(json string) (uintptr, error) {
	var cs cstrings
	defer cs.release()

	var jbl uintptr
	rc := c_jbl_from_json(unsafe.Pointer(&jbl), cs.str(json))
	if err := check("jbl_from_json", rc, ""); err != nil {
		jbl_destroy(jbl)
		return 0, err
	}
	return jbl, nil
}

/** Deallocate a binary document */
func jbl_destroy(jbl uintptr) {
	if jbl == 0 {
		return
	}
	c_jbl_destroy(unsafe.Pointer(&jbl))
}

/** Save a new document under a generated identifier */
func ejdb_put_new(db uintptr, coll string, jbl uintptr) (int64, error) {
	var cs cstrings
	defer cs.release()

	var id int64
	rc := c_ejdb_put_new(db, cs.str(coll), jbl, unsafe.Pointer(&id))
	if err := check("ejdb_put_new", rc, ""); err != nil {
		return 0, err
	}
	return id, nil
}

/** Save a document under the given identifier, replacing any existing one */
func ejdb_put(db uintptr, coll string, jbl uintptr, id int64) error {
	var cs cstrings
	defer cs.release()
	return check("ejdb_put", c_ejdb_put(db, cs.str(coll), jbl, id), "")
}

/** Load a document. The caller owns the result and must jbl_destroy it. */
func ejdb_get(db uintptr, coll string, id int64) (uintptr, error) {
	var cs cstrings
	defer cs.release()

	var jbl uintptr
	rc := c_ejdb_get(db, cs.str(coll), id, unsafe.Pointer(&jbl))
	if err := check("ejdb_get", rc, ""); err != nil {
		jbl_destroy(jbl)
		return 0, err
	}
	return jbl, nil
}

/** Remove a document */
func ejdb_del(db uintptr, coll string, id int64) error {
	var cs cstrings
	defer cs.release()
	return check("ejdb_del", c_ejdb_del(db, cs.str(coll), id), "")
}

/** Apply an RFC 6902 patch to an existing document */
func ejdb_patch(db uintptr, coll, patch string, id int64) error {
	var cs cstrings
	defer cs.release()
	return check("ejdb_patch", c_ejdb_patch(db, cs.str(coll), cs.str(patch), id), "")
}

/** Apply an RFC 7396 merge patch, creating the document if absent */
func ejdb_merge_or_put(db uintptr, coll, patch string, id int64) error {
	var cs cstrings
	defer cs.release()
	return check("ejdb_merge_or_put", c_ejdb_merge_or_put(db, cs.str(coll), cs.str(patch), id), "")
}

/** Rename a collection */
func ejdb_rename_collection(db uintptr, coll, newColl string) error {
	var cs cstrings
	defer cs.release()
	return check("ejdb_rename_collection", c_ejdb_rename_collection(db, cs.str(coll), cs.str(newColl)), "")
}

/** Remove a collection along with its documents and indexes */
func ejdb_remove_collection(db uintptr, coll string) error {
	var cs cstrings
	defer cs.release()
	return check("ejdb_remove_collection", c_ejdb_remove_collection(db, cs.str(coll)), "")
}

/** Create an index over a JSON pointer path, if it does not exist */
func ejdb_ensure_index(db uintptr, coll, path string, mode IndexMode) error {
	var cs cstrings
	defer cs.release()
	return check("ejdb_ensure_index", c_ejdb_ensure_index(db, cs.str(coll), cs.str(path), uint8(mode)), "")
}

/** Drop an index over a JSON pointer path */
func ejdb_remove_index(db uintptr, coll, path string, mode IndexMode) error {
	var cs cstrings
	defer cs.release()
	return check("ejdb_remove_index", c_ejdb_remove_index(db, cs.str(coll), cs.str(path), uint8(mode)), "")
}

/** Load database metadata. The caller owns the result and must jbl_destroy it. */
func ejdb_get_meta(db uintptr) (uintptr, error) {
	var jbl uintptr
	rc := c_ejdb_get_meta(db, unsafe.Pointer(&jbl))
	if err := check("ejdb_get_meta", rc, ""); err != nil {
		jbl_destroy(jbl)
		return 0, err
	}
	return jbl, nil
}

/** Create an online backup. Returns the backup completion time in milliseconds since epoch. */
func ejdb_online_backup(db uintptr, target string) (uint64, error) {
	var cs cstrings
	defer cs.release()

	var ts uint64
	rc := c_ejdb_online_backup(db, unsafe.Pointer(&ts), cs.str(target))
	if err := check("ejdb_online_backup", rc, ""); err != nil {
		return 0, err
	}
	return ts, nil
}

/** Execute a query. ux must stay reachable for the duration of the call. */
func ejdb_exec(ux *c_ejdb_exec_t) error {
	return check("ejdb_exec", c_ejdb_exec(unsafe.Pointer(ux)), "")
}

/** Render a binary document through the printer pt */
func jbl_as_json(jbl, pt, op uintptr, pretty bool) error {
	return check("jbl_as_json", c_jbl_as_json(jbl, pt, op, printFlags(pretty)), "")
}

/** Render a document node tree through the printer pt */
func jbn_as_json(node, pt, op uintptr, pretty bool) error {
	return check("jbn_as_json", c_jbn_as_json(node, pt, op, printFlags(pretty)), "")
}

/** Parse JSON text into a node tree allocated from pool */
func jbn_from_json(json string, pool uintptr) (uintptr, error) {
	var cs cstrings
	defer cs.release()

	var node uintptr
	rc := c_jbn_from_json(cs.str(json), unsafe.Pointer(&node), pool)
	if err := check("jbn_from_json", rc, ""); err != nil {
		return 0, err
	}
	return node, nil
}

func printFlags(pretty bool) uint8 {
	if pretty {
		return jblPrintPretty
	}
	return jblPrintNone
}
