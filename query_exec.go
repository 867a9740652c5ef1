package ejdb2

import (
	"encoding/json"
	"io"
	"iter"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"ejdb2.dev/ejdb2go/metrics"
)

// Step tells the engine where to go after a visited row.
// Positive values advance that many rows.
type Step int64

const (
	// StepStop ends the execution. Any value below StepBack also stops.
	StepStop Step = 0
	// StepNext advances to the next row.
	StepNext Step = 1
	// StepRepeat visits the current row again.
	StepRepeat Step = -1
	// StepBack steps back one row.
	StepBack Step = -2
)

func (s Step) normalize() Step {
	if s < StepBack {
		return StepStop
	}
	return s
}

// Document is one query result row. It is a copy: it stays valid after the
// visitor returns.
type Document struct {
	ID   int64
	JSON string
}

// Decode unmarshals the document body into v.
func (d Document) Decode(v any) error {
	return errors.Wrapf(json.Unmarshal([]byte(d.JSON), v), "decoding document %d", d.ID)
}

// VisitorFunc receives each matching row, in the order the engine produces
// them, on the goroutine that called Execute.
type VisitorFunc func(doc Document) Step

// ExecOption adjusts a single execution.
type ExecOption func(*execConfig)

type execConfig struct {
	skip    int64
	limit   int64
	explain io.Writer
}

// WithSkip overrides the skip of the query text and of SetSkip for one execution.
func WithSkip(n int64) ExecOption { return func(c *execConfig) { c.skip = n } }

// WithLimit overrides the limit of the query text and of SetLimit for one execution.
func WithLimit(n int64) ExecOption { return func(c *execConfig) { c.limit = n } }

// WithExplain writes the engine's execution plan trace to w. The trace is
// written whether or not the execution succeeds.
func WithExplain(w io.Writer) ExecOption { return func(c *execConfig) { c.explain = w } }

// Execute runs the query, calling fn for every matching row until fn
// returns StepStop or rows run out. Stopping early is not an error.
//
// fn runs while the engine holds its cursor: it must not block for long,
// and must not call DB.OnlineBackup.
func (q *Query) Execute(fn VisitorFunc, opts ...ExecOption) error {
	if fn == nil {
		return invalidArgument("visitor is required")
	}
	_, err := q.exec("stream", fn, opts)
	return err
}

// First returns the first matching row. found is false if nothing matched.
func (q *Query) First(opts ...ExecOption) (doc Document, found bool, err error) {
	_, err = q.exec("first", func(d Document) Step {
		doc, found = d, true
		return StepStop
	}, opts)
	if err != nil {
		return Document{}, false, err
	}
	return doc, found, nil
}

// FirstJSON returns the body of the first matching row, or "" if nothing matched.
func (q *Query) FirstJSON(opts ...ExecOption) (string, error) {
	doc, _, err := q.First(opts...)
	return doc.JSON, err
}

// ScalarInt64 runs an aggregating query (such as "@coll/* | count") and
// returns its result.
func (q *Query) ScalarInt64(opts ...ExecOption) (int64, error) {
	return q.exec("scalar", nil, opts)
}

// All returns an iterator over matching rows. Breaking out of the loop
// stops the execution. An execution error is yielded as the last element.
func (q *Query) All(opts ...ExecOption) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		stopped := false
		err := q.Execute(func(d Document) Step {
			if !yield(d, nil) {
				stopped = true
				return StepStop
			}
			return StepNext
		}, opts...)
		if err != nil && !stopped {
			yield(Document{}, err)
		}
	}
}

// Collect returns all matching rows.
func (q *Query) Collect(opts ...ExecOption) ([]Document, error) {
	var out []Document
	err := q.Execute(func(d Document) Step {
		out = append(out, d)
		return StepNext
	}, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (q *Query) execConfig(opts []ExecOption) (execConfig, error) {
	var cfg execConfig
	cfg.skip, cfg.limit = q.overrides()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.skip < 0 || cfg.limit < 0 {
		return cfg, invalidArgument("negative skip (%d) or limit (%d)", cfg.skip, cfg.limit)
	}
	return cfg, nil
}

// exec drives one ejdb_exec call. With a nil fn no visitor is installed and
// the engine's result count is returned.
func (q *Query) exec(shape string, fn VisitorFunc, opts []ExecOption) (int64, error) {
	cfg, err := q.execConfig(opts)
	if err != nil {
		return 0, err
	}

	var cnt int64
	var st *execState
	err = q.db.h.use(func(db uintptr) error {
		return q.h.use(func(raw uintptr) (err error) {
			ux := &c_ejdb_exec_t{Db: db, Q: raw, Skip: cfg.skip, Limit: cfg.limit}

			if cfg.explain != nil {
				xlog, xerr := iwxstr_new(0)
				if xerr != nil {
					return xerr
				}
				defer iwxstr_destroy(xlog)
				defer func() {
					_, werr := io.WriteString(cfg.explain, iwxstr_string(xlog))
					if werr != nil && err == nil {
						err = errors.Wrap(werr, "writing explain log")
					}
				}()
				ux.Log = xlog
			}
			if fn != nil {
				st = &execState{visit: fn}
				tok := execs.add(st)
				defer execs.take(tok)
				ux.Visitor, ux.Opaque = visitorCallback, tok
			}

			start := time.Now()
			err = ejdb_exec(ux)
			metrics.ExecDurationSeconds.WithLabelValues(shape).Observe(time.Since(start).Seconds())
			cnt = ux.Cnt
			return err
		})
	})

	if st != nil && st.panicked {
		log.WithFields(log.Fields{"query": q.text, "panic": st.panicVal}).Error("query visitor panicked")
		panic(st.panicVal)
	}
	return cnt, err
}
