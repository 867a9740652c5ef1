package ejdb2

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Query is a compiled JQL query. It may be executed any number of times,
// with different placeholder values and skip/limit overrides in between.
//
// A Query does not keep its DB open: once the DB is closed, executing the
// query fails with ErrDatabaseClosed. Close releases only the query itself.
type Query struct {
	db   *DB
	h    *handle
	text string
	coll string

	mu    sync.Mutex
	skip  int64 // 0 if not overridden
	limit int64 // 0 if not overridden
}

// Query compiles text, which names its collection inline ("@coll/...").
func (db *DB) Query(text string) (*Query, error) {
	return db.compile(nil, text)
}

// QueryCollection compiles text against coll. The collection given here
// takes precedence over one named in text.
func (db *DB) QueryCollection(coll, text string) (*Query, error) {
	if err := requireCollection(coll); err != nil {
		return nil, err
	}
	return db.compile(&coll, text)
}

func (db *DB) compile(coll *string, text string) (*Query, error) {
	if strings.TrimSpace(text) == "" {
		return nil, invalidArgument("query text is required")
	}
	var q *Query
	err := db.h.use(func(uintptr) error {
		raw, err := jql_create(coll, text)
		if err != nil {
			return err
		}
		q = &Query{
			db:   db,
			h:    acquire("query", raw, jql_destroy, ErrQueryClosed),
			text: text,
		}
		if coll != nil {
			q.coll = *coll
		} else {
			q.coll = jql_collection(raw)
		}
		attachCleanup(q, q.h)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// String returns the query text.
func (q *Query) String() string { return q.text }

// Collection returns the collection the query runs against.
func (q *Query) Collection() string { return q.coll }

// DB returns the database the query was compiled against.
func (q *Query) DB() *DB { return q.db }

// Close releases the query. Calling Close more than once is a no-op.
func (q *Query) Close() error {
	_, err := q.h.release()
	return err
}

// Skip returns the number of leading rows skipped: the override set with
// SetSkip if any, else the value encoded in the query text.
func (q *Query) Skip() (int64, error) {
	q.mu.Lock()
	skip := q.skip
	q.mu.Unlock()
	if skip > 0 {
		return skip, nil
	}
	err := q.h.use(func(raw uintptr) error {
		var err error
		skip, err = jql_get_skip(raw)
		return err
	})
	return skip, err
}

// SetSkip overrides the skip of the query text. 0 removes the override.
func (q *Query) SetSkip(n int64) error {
	if n < 0 {
		return invalidArgument("negative skip %d", n)
	}
	q.mu.Lock()
	q.skip = n
	q.mu.Unlock()
	return nil
}

// Limit returns the maximum number of rows visited: the override set with
// SetLimit if any, else the value encoded in the query text (0 means no limit).
func (q *Query) Limit() (int64, error) {
	q.mu.Lock()
	limit := q.limit
	q.mu.Unlock()
	if limit > 0 {
		return limit, nil
	}
	err := q.h.use(func(raw uintptr) error {
		var err error
		limit, err = jql_get_limit(raw)
		return err
	})
	return limit, err
}

// SetLimit overrides the limit of the query text. 0 removes the override.
func (q *Query) SetLimit(n int64) error {
	if n < 0 {
		return invalidArgument("negative limit %d", n)
	}
	q.mu.Lock()
	q.limit = n
	q.mu.Unlock()
	return nil
}

func (q *Query) overrides() (skip, limit int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.skip, q.limit
}

// Reset clears the query's cached match state and every bound placeholder
// value. The compiled query and any SetSkip/SetLimit overrides are kept.
func (q *Query) Reset() error {
	return q.h.use(func(raw uintptr) error {
		jql_reset(raw)
		return nil
	})
}

// Slot selects a placeholder, either by position (Index) or by name (Named).
// The zero Slot selects nothing and is rejected.
type Slot struct {
	idx    int
	name   string
	byIdx  bool
	byName bool
}

// Index selects the positional placeholder i, counting from 0.
func Index(i int) Slot { return Slot{idx: i, byIdx: true} }

// Named selects the placeholder ":name".
func Named(name string) Slot { return Slot{name: name, byName: true} }

func (s Slot) String() string {
	switch {
	case s.byIdx && !s.byName:
		return fmt.Sprintf("?%d", s.idx)
	case s.byName && !s.byIdx:
		return ":" + s.name
	default:
		return "<ambiguous>"
	}
}

func (s Slot) validate() error {
	switch {
	case s.byIdx == s.byName:
		return errors.WithStack(ErrAmbiguousSlot)
	case s.byIdx && (s.idx < 0 || s.idx > math.MaxInt32):
		return invalidArgument("placeholder index %d out of range", s.idx)
	case s.byName && s.name == "":
		return invalidArgument("placeholder name is required")
	}
	return nil
}

func (s Slot) placeholder(cs *cstrings) uintptr {
	if s.byName {
		return cs.str(s.name)
	}
	return 0
}

func (s Slot) index() int32 {
	if s.byName {
		return 0
	}
	return int32(s.idx)
}

func (q *Query) bind(slot Slot, fn func(raw uintptr) error) error {
	if err := slot.validate(); err != nil {
		return err
	}
	return q.h.use(fn)
}

// BindString binds a string value.
func (q *Query) BindString(slot Slot, val string) error {
	return q.bind(slot, func(raw uintptr) error {
		return jql_set_str(raw, slot, val, false)
	})
}

// BindRegexp binds a regular expression, for use with the "re" operator.
func (q *Query) BindRegexp(slot Slot, expr string) error {
	return q.bind(slot, func(raw uintptr) error {
		return jql_set_str(raw, slot, expr, true)
	})
}

// BindJSON binds an arbitrary JSON value.
func (q *Query) BindJSON(slot Slot, val string) error {
	return q.bind(slot, func(raw uintptr) error {
		pool, err := iwpool_create(jsonPoolSize)
		if err != nil {
			return err
		}
		node, err := jbn_from_json(val, pool)
		if err != nil {
			iwpool_destroy(pool)
			return err
		}
		// From here on the pool belongs to the query.
		return jql_set_json(raw, slot, node, pool)
	})
}

const jsonPoolSize = 1024

func (q *Query) BindInt64(slot Slot, val int64) error {
	return q.bind(slot, func(raw uintptr) error {
		return jql_set_i64(raw, slot, val)
	})
}

func (q *Query) BindFloat64(slot Slot, val float64) error {
	return q.bind(slot, func(raw uintptr) error {
		return jql_set_f64(raw, slot, val)
	})
}

func (q *Query) BindBool(slot Slot, val bool) error {
	return q.bind(slot, func(raw uintptr) error {
		return jql_set_bool(raw, slot, val)
	})
}

// BindNull binds the JSON null literal, so that the placeholder matches
// null-valued fields. Use Reset to drop previously bound values instead.
func (q *Query) BindNull(slot Slot) error {
	return q.bind(slot, func(raw uintptr) error {
		return jql_set_null(raw, slot)
	})
}

// Regexp marks a string passed to Bind as a regular expression.
type Regexp string

// Bind binds a Go value, picking the placeholder kind from its type.
// json.RawMessage binds as JSON, time.Time as an RFC 3339 string and []byte
// as a string. Unsupported types are an error.
func (q *Query) Bind(slot Slot, v any) error {
	if v == nil {
		return q.BindNull(slot)
	}
	switch x := v.(type) {
	case string:
		return q.BindString(slot, x)
	case Regexp:
		return q.BindRegexp(slot, string(x))
	case json.RawMessage:
		return q.BindJSON(slot, string(x))
	case []byte:
		return q.BindString(slot, string(x))
	case bool:
		return q.BindBool(slot, x)
	case int:
		return q.BindInt64(slot, int64(x))
	case int8:
		return q.BindInt64(slot, int64(x))
	case int16:
		return q.BindInt64(slot, int64(x))
	case int32:
		return q.BindInt64(slot, int64(x))
	case int64:
		return q.BindInt64(slot, x)
	case uint:
		return q.bindUint64(slot, uint64(x))
	case uint8:
		return q.BindInt64(slot, int64(x))
	case uint16:
		return q.BindInt64(slot, int64(x))
	case uint32:
		return q.BindInt64(slot, int64(x))
	case uint64:
		return q.bindUint64(slot, x)
	case float32:
		return q.BindFloat64(slot, float64(x))
	case float64:
		return q.BindFloat64(slot, x)
	case time.Time:
		return q.BindString(slot, x.Format(time.RFC3339Nano))
	default:
		return invalidArgument("cannot bind value of type %T to %s", v, slot)
	}
}

func (q *Query) bindUint64(slot Slot, x uint64) error {
	if x > math.MaxInt64 {
		return invalidArgument("value %d overflows int64", x)
	}
	return q.BindInt64(slot, int64(x))
}
