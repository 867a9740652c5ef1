package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	ejdb2 "ejdb2.dev/ejdb2go"
	mbp "ejdb2.dev/ejdb2go/internal/mainboilerplate"
)

type cmdBackup struct {
	Args struct {
		Target string `positional-arg-name:"target" required:"yes"`
	} `positional-args:"yes"`
}

type indexArgs struct {
	Type   string `long:"type" short:"t" default:"string" choice:"string" choice:"i64" choice:"f64" description:"Type of the indexed values"`
	Unique bool   `long:"unique" short:"u" description:"Unique index"`
	Args   struct {
		Collection string `positional-arg-name:"collection" required:"yes"`
		Path       string `positional-arg-name:"path" required:"yes"`
	} `positional-args:"yes"`
}

type cmdIndexAdd indexArgs
type cmdIndexRm indexArgs

type cmdCollectionRename struct {
	Args struct {
		Collection string `positional-arg-name:"collection" required:"yes"`
		NewName    string `positional-arg-name:"new-name" required:"yes"`
	} `positional-args:"yes"`
}

type cmdCollectionRm struct {
	Args struct {
		Collection string `positional-arg-name:"collection" required:"yes"`
	} `positional-args:"yes"`
}

type cmdVersion struct{}

func addAdminCommands(cr mbp.CommandRegistry) {
	cr.AddCommand("", "backup", "Write a consistent copy of the database", `
Write a consistent copy of the database to the target file while it stays
open for use. Prints the time the copy was taken.
`, &cmdBackup{})

	// Commands which exist solely to group their sub-commands.
	cr.AddCommand("", "index", "Manage collection indexes", "", &struct{}{})
	cr.AddCommand("", "collection", "Manage collections", "", &struct{}{})

	cr.AddCommand("index", "add", "Create an index if it does not exist", "", &cmdIndexAdd{})
	cr.AddCommand("index", "rm", "Remove an index", "", &cmdIndexRm{})
	cr.AddCommand("collection", "rename", "Rename a collection", "", &cmdCollectionRename{})
	cr.AddCommand("collection", "rm", "Remove a collection and all of its documents", "", &cmdCollectionRm{})
	cr.AddCommand("", "version", "Print the engine and tool versions", "", &cmdVersion{})
}

func (cmd *cmdBackup) Execute([]string) error {
	startup()
	var db = openDB()
	defer closeDB(db)

	ts, err := db.OnlineBackup(cmd.Args.Target)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"target": cmd.Args.Target, "at": ts}).Info("backup complete")
	_, err = fmt.Fprintf(stdout, "%s (%s)\n", ts.Format("2006-01-02T15:04:05.000Z07:00"), humanize.Time(ts))
	return err
}

// mode combines --type and --unique.
func (a indexArgs) mode() (ejdb2.IndexMode, error) {
	var m ejdb2.IndexMode
	switch a.Type {
	case "string":
		m = ejdb2.IndexString
	case "i64":
		m = ejdb2.IndexInt64
	case "f64":
		m = ejdb2.IndexFloat64
	default:
		return 0, errors.Errorf("unknown index type %q", a.Type)
	}
	if a.Unique {
		m |= ejdb2.IndexUnique
	}
	return m, nil
}

func (cmd *cmdIndexAdd) Execute([]string) error {
	startup()
	mode, err := indexArgs(*cmd).mode()
	if err != nil {
		return err
	}
	var db = openDB()
	defer closeDB(db)

	return db.EnsureIndex(cmd.Args.Collection, cmd.Args.Path, mode)
}

func (cmd *cmdIndexRm) Execute([]string) error {
	startup()
	mode, err := indexArgs(*cmd).mode()
	if err != nil {
		return err
	}
	var db = openDB()
	defer closeDB(db)

	return db.RemoveIndex(cmd.Args.Collection, cmd.Args.Path, mode)
}

func (cmd *cmdCollectionRename) Execute([]string) error {
	startup()
	var db = openDB()
	defer closeDB(db)

	return db.RenameCollection(cmd.Args.Collection, cmd.Args.NewName)
}

func (cmd *cmdCollectionRm) Execute([]string) error {
	startup()
	var db = openDB()
	defer closeDB(db)

	return db.RemoveCollection(cmd.Args.Collection)
}

func (cmd *cmdVersion) Execute([]string) error {
	startup()
	mbp.Must(ejdb2.InitLibrary(ejdb2.LibraryConfig{Path: baseCfg.DB.Library}), "failed to load libejdb2")

	v, err := ejdb2.Version()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "ejdb2ctl %s, built at %s\nlibejdb2 %s (%s)\n", mbp.Version, mbp.BuildDate, v, ejdb2.LibraryPath())
	return err
}
