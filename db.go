package ejdb2

import (
	"fmt"
	"io"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"ejdb2.dev/ejdb2go/metrics"
)

// DB is an open database. All methods are safe for concurrent use; the
// engine provides its own locking and DB adds none on top of it.
type DB struct {
	h    *handle
	opts Options
}

// Open opens the database at path.
func Open(path string, opts ...Option) (*DB, error) {
	o := Options{Path: path}
	for _, opt := range opts {
		opt(&o)
	}
	return OpenOptions(o)
}

// OpenDSN opens a database described by a DSN. See ParseDSN.
func OpenDSN(dsn string) (*DB, error) {
	o, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	return OpenOptions(o)
}

// OpenOptions opens a database as described by opts. Options are validated
// before the engine is touched.
func OpenOptions(opts Options) (*DB, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := ensureLibrary(); err != nil {
		return nil, err
	}

	var cs cstrings
	defer cs.release()
	native := opts.native(&cs)

	raw, err := ejdb_open(&native)
	if err != nil {
		return nil, err
	}
	db := &DB{
		h:    acquire("db", raw, ejdb_close, ErrDatabaseClosed),
		opts: opts,
	}
	attachCleanup(db, db.h)

	log.WithFields(log.Fields{
		"path":     opts.Path,
		"truncate": opts.Truncate,
		"readonly": opts.Readonly,
		"wal":      !opts.DisableWAL,
		"http":     opts.HTTP.Enabled,
	}).Debug("opened database")

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.opts.Path }

// Options returns the options the database was opened with.
func (db *DB) Options() Options { return db.opts }

// Close releases the database. Calling Close more than once is a no-op.
// Queries compiled against the database remain owned by the caller and
// fail with ErrDatabaseClosed when executed.
func (db *DB) Close() error {
	released, err := db.h.release()
	if released {
		log.WithFields(log.Fields{"path": db.opts.Path, "err": err}).Debug("closed database")
	}
	return err
}

// Put saves json into coll. With id 0 a new identifier is assigned;
// otherwise the document at id is created or replaced. The effective
// identifier is returned.
func (db *DB) Put(coll, json string, id int64) (int64, error) {
	if err := requireCollection(coll); err != nil {
		return 0, err
	}
	if id < 0 {
		return 0, invalidArgument("negative document id %d", id)
	}
	var out int64
	err := db.h.use(func(raw uintptr) error {
		jbl, err := jbl_from_json(json)
		if err != nil {
			return err
		}
		defer jbl_destroy(jbl)

		if id == 0 {
			out, err = ejdb_put_new(raw, coll, jbl)
			return err
		}
		out = id
		return ejdb_put(raw, coll, jbl, id)
	})
	if err != nil {
		return 0, err
	}
	return out, nil
}

// Get returns the document id of coll as compact JSON. A missing document
// is reported with an error satisfying IsNotFound.
func (db *DB) Get(coll string, id int64) (string, error) {
	var sb strings.Builder
	if err := db.WriteDocument(&sb, coll, id, false); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// GetPretty is Get with indented output.
func (db *DB) GetPretty(coll string, id int64) (string, error) {
	var sb strings.Builder
	if err := db.WriteDocument(&sb, coll, id, true); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// WriteDocument renders the document id of coll into w.
func (db *DB) WriteDocument(w io.Writer, coll string, id int64, pretty bool) error {
	if err := requireCollection(coll); err != nil {
		return err
	}
	return db.h.use(func(raw uintptr) error {
		jbl, err := ejdb_get(raw, coll, id)
		if err != nil {
			return err
		}
		defer jbl_destroy(jbl)

		return writeJSON(w, func(pt, op uintptr) error {
			return jbl_as_json(jbl, pt, op, pretty)
		})
	})
}

// Delete removes the document id from coll. A missing document is reported
// with an error satisfying IsNotFound.
func (db *DB) Delete(coll string, id int64) error {
	if err := requireCollection(coll); err != nil {
		return err
	}
	return db.h.use(func(raw uintptr) error {
		return ejdb_del(raw, coll, id)
	})
}

// Patch applies an RFC 6902 JSON patch to an existing document.
func (db *DB) Patch(coll, patch string, id int64) error {
	return db.patch(coll, patch, id, false)
}

// MergeOrPut applies an RFC 7396 merge patch to the document id, creating
// it from the patch if it does not exist.
func (db *DB) MergeOrPut(coll, patch string, id int64) error {
	return db.patch(coll, patch, id, true)
}

func (db *DB) patch(coll, patch string, id int64, upsert bool) error {
	if err := requireCollection(coll); err != nil {
		return err
	}
	if id <= 0 {
		return invalidArgument("document id must be positive, got %d", id)
	}
	return db.h.use(func(raw uintptr) error {
		if upsert {
			return ejdb_merge_or_put(raw, coll, patch, id)
		}
		return ejdb_patch(raw, coll, patch, id)
	})
}

// RenameCollection renames coll to newColl. newColl must not exist.
func (db *DB) RenameCollection(coll, newColl string) error {
	if err := requireCollection(coll); err != nil {
		return err
	}
	if err := requireCollection(newColl); err != nil {
		return err
	}
	return db.h.use(func(raw uintptr) error {
		return ejdb_rename_collection(raw, coll, newColl)
	})
}

// RemoveCollection removes coll with all of its documents and indexes.
func (db *DB) RemoveCollection(coll string) error {
	if err := requireCollection(coll); err != nil {
		return err
	}
	return db.h.use(func(raw uintptr) error {
		return ejdb_remove_collection(raw, coll)
	})
}

// IndexMode selects the value type of an index, optionally combined with IndexUnique.
type IndexMode uint8

const (
	IndexUnique  IndexMode = 0x01
	IndexString  IndexMode = 0x04
	IndexInt64   IndexMode = 0x08
	IndexFloat64 IndexMode = 0x10
)

// Validate requires exactly one value type, with no bits outside the known set.
func (m IndexMode) Validate() error {
	switch m &^ IndexUnique {
	case IndexString, IndexInt64, IndexFloat64:
		return nil
	default:
		return invalidArgument("index mode %#x must combine exactly one of string, int64 or float64 with an optional unique flag", uint8(m))
	}
}

func (m IndexMode) String() string {
	var typ string
	switch m &^ IndexUnique {
	case IndexString:
		typ = "str"
	case IndexInt64:
		typ = "i64"
	case IndexFloat64:
		typ = "f64"
	default:
		return fmt.Sprintf("IndexMode(%#x)", uint8(m))
	}
	if m&IndexUnique != 0 {
		return typ + "|unique"
	}
	return typ
}

func indexMode(typ IndexMode, unique bool) IndexMode {
	if unique {
		return typ | IndexUnique
	}
	return typ
}

// EnsureIndex creates an index of coll over the JSON pointer path, if it does not exist.
func (db *DB) EnsureIndex(coll, path string, mode IndexMode) error {
	if err := checkIndexArgs(coll, path, mode); err != nil {
		return err
	}
	return db.h.use(func(raw uintptr) error {
		return ejdb_ensure_index(raw, coll, path, mode)
	})
}

// RemoveIndex drops the index of coll over path with the given mode.
func (db *DB) RemoveIndex(coll, path string, mode IndexMode) error {
	if err := checkIndexArgs(coll, path, mode); err != nil {
		return err
	}
	return db.h.use(func(raw uintptr) error {
		return ejdb_remove_index(raw, coll, path, mode)
	})
}

func (db *DB) EnsureStringIndex(coll, path string, unique bool) error {
	return db.EnsureIndex(coll, path, indexMode(IndexString, unique))
}

func (db *DB) EnsureInt64Index(coll, path string, unique bool) error {
	return db.EnsureIndex(coll, path, indexMode(IndexInt64, unique))
}

func (db *DB) EnsureFloat64Index(coll, path string, unique bool) error {
	return db.EnsureIndex(coll, path, indexMode(IndexFloat64, unique))
}

func (db *DB) RemoveStringIndex(coll, path string, unique bool) error {
	return db.RemoveIndex(coll, path, indexMode(IndexString, unique))
}

func (db *DB) RemoveInt64Index(coll, path string, unique bool) error {
	return db.RemoveIndex(coll, path, indexMode(IndexInt64, unique))
}

func (db *DB) RemoveFloat64Index(coll, path string, unique bool) error {
	return db.RemoveIndex(coll, path, indexMode(IndexFloat64, unique))
}

func checkIndexArgs(coll, path string, mode IndexMode) error {
	if err := requireCollection(coll); err != nil {
		return err
	}
	if path == "" {
		return invalidArgument("index path is required")
	}
	return mode.Validate()
}

// Info returns database metadata as compact JSON: file, size, and for every
// collection its record count and index descriptors.
func (db *DB) Info() (string, error) {
	var sb strings.Builder
	if err := db.WriteInfo(&sb, false); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// WriteInfo renders database metadata into w.
func (db *DB) WriteInfo(w io.Writer, pretty bool) error {
	return db.h.use(func(raw uintptr) error {
		jbl, err := ejdb_get_meta(raw)
		if err != nil {
			return err
		}
		defer jbl_destroy(jbl)

		return writeJSON(w, func(pt, op uintptr) error {
			return jbl_as_json(jbl, pt, op, pretty)
		})
	})
}

// OnlineBackup writes a consistent copy of the database to target while
// reads and writes continue. Every record committed before the returned
// time is present in the backup.
//
// Do not hold a query execution open (for instance, by calling OnlineBackup
// from within a visitor) across this call: the engine can deadlock waiting
// on its own cursor.
func (db *DB) OnlineBackup(target string) (time.Time, error) {
	if strings.TrimSpace(target) == "" {
		return time.Time{}, invalidArgument("backup target path is required")
	}
	var ts uint64
	err := db.h.use(func(raw uintptr) error {
		var err error
		ts, err = ejdb_online_backup(raw, target)
		return err
	})
	if err != nil {
		metrics.BackupsTotal.WithLabelValues(metrics.Fail).Inc()
		return time.Time{}, err
	}
	metrics.BackupsTotal.WithLabelValues(metrics.Ok).Inc()

	log.WithFields(log.Fields{"path": db.opts.Path, "target": target, "ts": ts}).Debug("online backup completed")
	return time.UnixMilli(int64(ts)), nil
}

// Version returns the engine version as "major.minor.patch".
func Version() (string, error) {
	if err := ensureLibrary(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d.%d.%d", c_ejdb_version_major(), c_ejdb_version_minor(), c_ejdb_version_patch()), nil
}

func requireCollection(coll string) error {
	if coll == "" {
		return invalidArgument("collection name is required")
	}
	return nil
}
