package ejdb2

import (
	"unsafe"

	"github.com/ebitengine/purego"
)

// query creation flags (jql_create_mode_t)
const (
	jqlKeepQueryOnParseError uint8 = 0x01
	jqlSilentOnParseError    uint8 = 0x02
)

var (
	c_jql_create2 func(
		qptr unsafe.Pointer, // JQL*
		coll uintptr, // const char* | NULL
		query uintptr, // const char*
		mode uint8, // jql_create_mode_t
	) uint64

	c_jql_destroy func(
		qptr unsafe.Pointer, // JQL*
	)

	c_jql_error func(
		q uintptr, // JQL
	) uintptr // const char*

	c_jql_collection func(
		q uintptr, // JQL
	) uintptr // const char*

	c_jql_get_skip func(
		q uintptr,
		skip unsafe.Pointer, // int64_t*
	) uint64

	c_jql_get_limit func(
		q uintptr,
		limit unsafe.Pointer, // int64_t*
	) uint64

	c_jql_reset func(
		q uintptr,
		resetMatchCache bool,
		resetPlaceholders bool,
	)

	c_jql_set_str2 func(
		q uintptr,
		placeholder uintptr, // const char* | NULL
		index int32,
		val uintptr, // const char*
		freefn uintptr, // void (*)(void*, void*)
		op uintptr, // void*
	) uint64

	c_jql_set_regexp2 func(
		q uintptr,
		placeholder uintptr, // const char* | NULL
		index int32,
		expr uintptr, // const char*
		freefn uintptr, // void (*)(void*, void*)
		op uintptr, // void*
	) uint64

	c_jql_set_json2 func(
		q uintptr,
		placeholder uintptr, // const char* | NULL
		index int32,
		node uintptr, // JBL_NODE
		freefn uintptr, // void (*)(void*, void*)
		op uintptr, // void*
	) uint64

	c_jql_set_i64 func(
		q uintptr,
		placeholder uintptr, // const char* | NULL
		index int32,
		val int64,
	) uint64

	c_jql_set_f64 func(
		q uintptr,
		placeholder uintptr, // const char* | NULL
		index int32,
		val float64,
	) uint64

	c_jql_set_bool func(
		q uintptr,
		placeholder uintptr, // const char* | NULL
		index int32,
		val bool,
	) uint64

	c_jql_set_null func(
		q uintptr,
		placeholder uintptr, // const char* | NULL
		index int32,
	) uint64
)

func register_jql(handle uintptr) error {
	purego.RegisterLibFunc(&c_jql_create2, handle, "jql_create2")
	purego.RegisterLibFunc(&c_jql_destroy, handle, "jql_destroy")
	purego.RegisterLibFunc(&c_jql_error, handle, "jql_error")
	purego.RegisterLibFunc(&c_jql_collection, handle, "jql_collection")
	purego.RegisterLibFunc(&c_jql_get_skip, handle, "jql_get_skip")
	purego.RegisterLibFunc(&c_jql_get_limit, handle, "jql_get_limit")
	purego.RegisterLibFunc(&c_jql_reset, handle, "jql_reset")
	purego.RegisterLibFunc(&c_jql_set_str2, handle, "jql_set_str2")
	purego.RegisterLibFunc(&c_jql_set_regexp2, handle, "jql_set_regexp2")
	purego.RegisterLibFunc(&c_jql_set_json2, handle, "jql_set_json2")
	purego.RegisterLibFunc(&c_jql_set_i64, handle, "jql_set_i64")
	purego.RegisterLibFunc(&c_jql_set_f64, handle, "jql_set_f64")
	purego.RegisterLibFunc(&c_jql_set_bool, handle, "jql_set_bool")
	purego.RegisterLibFunc(&c_jql_set_null, handle, "jql_set_null")
	return nil
}

/** Compile a query.
 * On a parse failure the partially built query is kept just long enough to
 * read its diagnostic, then destroyed.
 */
func jql_create(coll *string, query string) (uintptr, error) {
	var cs cstrings
	defer cs.release()

	var q uintptr
	rc := c_jql_create2(unsafe.Pointer(&q), cs.opt(coll), cs.str(query), jqlKeepQueryOnParseError|jqlSilentOnParseError)
	if rc == 0 {
		return q, check("jql_create2", 0, "")
	}
	var msg string
	if q != 0 {
		if detail := copyCString(c_jql_error(q)); detail != "" {
			msg = "query parse error: " + detail
		}
		jql_destroy(q)
	}
	return 0, check("jql_create2", rc, msg)
}

/** Destroy a query. Used as the release function of query handles. */
func jql_destroy(q uintptr) error {
	if q == 0 {
		return nil
	}
	c_jql_destroy(unsafe.Pointer(&q))
	return nil
}

/** Collection name the query is bound to, "" if none */
func jql_collection(q uintptr) string {
	return copyCString(c_jql_collection(q))
}

/** Skip value encoded in the query text */
func jql_get_skip(q uintptr) (int64, error) {
	var v int64
	rc := c_jql_get_skip(q, unsafe.Pointer(&v))
	return v, check("jql_get_skip", rc, "")
}

/** Limit value encoded in the query text */
func jql_get_limit(q uintptr) (int64, error) {
	var v int64
	rc := c_jql_get_limit(q, unsafe.Pointer(&v))
	return v, check("jql_get_limit", rc, "")
}

/** Reset match state and placeholder values */
func jql_reset(q uintptr) {
	c_jql_reset(q, true, true)
}

/** Bind a string placeholder. The engine keeps val until it calls the free callback. */
func jql_set_str(q uintptr, slot Slot, val string, regexp bool) error {
	var cs cstrings
	defer cs.release()

	pin := newPinnedString(val)
	tok := pins.add(pin)
	entry, set := "jql_set_str2", c_jql_set_str2
	if regexp {
		entry, set = "jql_set_regexp2", c_jql_set_regexp2
	}
	rc := set(q, slot.placeholder(&cs), slot.index(), pin.ptr(), stringFreeCallback, tok)
	if rc != 0 {
		// The engine may or may not have called the free callback; take() is a no-op if it did.
		freePinned(0, tok)
	}
	return check(entry, rc, "")
}

/** Bind a JSON placeholder. node lives in pool, which the engine destroys through the free callback. */
func jql_set_json(q uintptr, slot Slot, node, pool uintptr) error {
	var cs cstrings
	defer cs.release()

	tok := pools.add(pool)
	rc := c_jql_set_json2(q, slot.placeholder(&cs), slot.index(), node, poolFreeCallback, tok)
	if rc != 0 {
		destroyPool(0, tok)
	}
	return check("jql_set_json2", rc, "")
}

func jql_set_i64(q uintptr, slot Slot, val int64) error {
	var cs cstrings
	defer cs.release()
	return check("jql_set_i64", c_jql_set_i64(q, slot.placeholder(&cs), slot.index(), val), "")
}

func jql_set_f64(q uintptr, slot Slot, val float64) error {
	var cs cstrings
	defer cs.release()
	return check("jql_set_f64", c_jql_set_f64(q, slot.placeholder(&cs), slot.index(), val), "")
}

func jql_set_bool(q uintptr, slot Slot, val bool) error {
	var cs cstrings
	defer cs.release()
	return check("jql_set_bool", c_jql_set_bool(q, slot.placeholder(&cs), slot.index(), val), "")
}

func jql_set_null(q uintptr, slot Slot) error {
	var cs cstrings
	defer cs.release()
	return check("jql_set_null", c_jql_set_null(q, slot.placeholder(&cs), slot.index()), "")
}
