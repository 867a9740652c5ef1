package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	ejdb2 "ejdb2.dev/ejdb2go"
	mbp "ejdb2.dev/ejdb2go/internal/mainboilerplate"
)

type cmdQuery struct {
	Collection string   `long:"collection" short:"c" description:"Collection to query. Overrides a collection named in the query text"`
	Bind       []string `long:"bind" short:"b" description:"Bind a placeholder, as name=value or index=value. Values are JSON, or a plain string if they do not parse"`
	Regexp     []string `long:"regexp" description:"Bind a regular expression placeholder, as name=expr or index=expr"`
	Skip       int64    `long:"skip" description:"Skip this many rows. Overrides the query text"`
	Limit      int64    `long:"limit" description:"Return at most this many rows. Overrides the query text"`
	First      bool     `long:"first" description:"Print only the first matching row"`
	Count      bool     `long:"count" description:"Print the scalar result of an aggregating query, such as one ending in | count"`
	IDs        bool     `long:"ids" description:"Prefix each row with its document id"`
	Explain    bool     `long:"explain" description:"Print the execution plan after the rows"`
	Args       struct {
		Query string `positional-arg-name:"query" required:"yes"`
	} `positional-args:"yes"`
}

func addQueryCommands(cr mbp.CommandRegistry) {
	cr.AddCommand("", "query", "Run a JQL query", `
Run a JQL query and print matching documents, one per line.

Examples:

  # Documents of "parrots" with a name of "Bianca":
  ejdb2ctl query '@parrots/[name = :name]' --bind name='"Bianca"'

  # Positional placeholders are bound by index:
  ejdb2ctl query -c parrots '/[age > :?]' --bind 0=5

  # Number of documents:
  ejdb2ctl query --count '@parrots/* | count'
`, &cmdQuery{})
}

func (cmd *cmdQuery) Execute([]string) error {
	startup()
	var db = openDB()
	defer closeDB(db)

	var q *ejdb2.Query
	var err error
	if cmd.Collection != "" {
		q, err = db.QueryCollection(cmd.Collection, cmd.Args.Query)
	} else {
		q, err = db.Query(cmd.Args.Query)
	}
	if err != nil {
		return err
	}
	defer q.Close()

	if err := bindAll(q, cmd.Bind, false); err != nil {
		return err
	}
	if err := bindAll(q, cmd.Regexp, true); err != nil {
		return err
	}

	var opts []ejdb2.ExecOption
	if cmd.Skip > 0 {
		opts = append(opts, ejdb2.WithSkip(cmd.Skip))
	}
	if cmd.Limit > 0 {
		opts = append(opts, ejdb2.WithLimit(cmd.Limit))
	}
	var plan bytes.Buffer
	if cmd.Explain {
		opts = append(opts, ejdb2.WithExplain(&plan))
	}

	if err = cmd.run(q, opts); err == nil && cmd.Explain {
		_, err = fmt.Fprintln(stdout, strings.TrimSpace(plan.String()))
	}
	return err
}

func (cmd *cmdQuery) run(q *ejdb2.Query, opts []ejdb2.ExecOption) error {
	if cmd.Count {
		n, err := q.ScalarInt64(opts...)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, n)
		return err
	}

	var rows int
	for doc, err := range q.All(opts...) {
		if err != nil {
			return err
		}
		if err := cmd.print(doc); err != nil {
			return err
		}
		rows++
		if cmd.First {
			break
		}
	}
	log.WithFields(log.Fields{"query": q.String(), "rows": rows}).Info("query complete")
	return nil
}

func (cmd *cmdQuery) print(doc ejdb2.Document) error {
	var err error
	if cmd.IDs {
		_, err = fmt.Fprintf(stdout, "%d\t%s\n", doc.ID, doc.JSON)
	} else {
		_, err = fmt.Fprintln(stdout, doc.JSON)
	}
	return err
}

func bindAll(q *ejdb2.Query, bindings []string, regexp bool) error {
	for _, arg := range bindings {
		slot, value, err := parseBinding(arg, regexp)
		if err != nil {
			return err
		}
		if err = q.Bind(slot, value); err != nil {
			return errors.WithMessagef(err, "binding %q", arg)
		}
	}
	return nil
}

// parseBinding parses a name=value or index=value placeholder binding.
func parseBinding(arg string, regexp bool) (ejdb2.Slot, any, error) {
	var key, raw, ok = strings.Cut(arg, "=")
	if !ok || key == "" {
		return ejdb2.Slot{}, nil, errors.Errorf("invalid binding %q: expected name=value", arg)
	}

	var slot ejdb2.Slot
	if idx, err := strconv.Atoi(key); err == nil {
		slot = ejdb2.Index(idx)
	} else {
		slot = ejdb2.Named(strings.TrimPrefix(key, ":"))
	}

	if regexp {
		return slot, ejdb2.Regexp(raw), nil
	}
	return slot, parseValue(raw), nil
}

// parseValue maps a JSON literal to the Go type Query.Bind expects for it.
// Input which is not JSON is taken as a plain string.
func parseValue(raw string) any {
	var dec = json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return raw
	}
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case map[string]any, []any:
		return json.RawMessage(raw)
	default:
		// nil, bool or string.
		return x
	}
}
