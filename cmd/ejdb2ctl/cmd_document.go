package main

import (
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"

	mbp "ejdb2.dev/ejdb2go/internal/mainboilerplate"
)

type documentArgs struct {
	Collection string `positional-arg-name:"collection" required:"yes"`
	ID         int64  `positional-arg-name:"id" required:"yes"`
}

type cmdPut struct {
	ID   int64 `long:"id" default:"0" description:"Document id to replace. A new id is allocated if 0"`
	Args struct {
		Collection string `positional-arg-name:"collection" required:"yes"`
		JSON       string `positional-arg-name:"json" description:"Document body. Read from stdin if omitted"`
	} `positional-args:"yes"`
}

type cmdGet struct {
	Pretty bool         `long:"pretty" short:"p" description:"Indent the document"`
	Args   documentArgs `positional-args:"yes"`
}

type cmdDel struct {
	Args documentArgs `positional-args:"yes"`
}

type cmdPatch struct {
	Merge bool `long:"merge" description:"Apply the body as a JSON merge patch, creating the document if it does not exist"`
	Args  struct {
		Collection string `positional-arg-name:"collection" required:"yes"`
		ID         int64  `positional-arg-name:"id" required:"yes"`
		Patch      string `positional-arg-name:"patch" description:"RFC 6902 patch or RFC 7396 merge patch. Read from stdin if omitted"`
	} `positional-args:"yes"`
}

func addDocumentCommands(cr mbp.CommandRegistry) {
	cr.AddCommand("", "put", "Store a JSON document", `
Store a JSON document in a collection, creating the collection if needed.
Prints the id of the stored document.
`, &cmdPut{})
	cr.AddCommand("", "get", "Print a document by id", "", &cmdGet{})
	cr.AddCommand("", "del", "Delete a document by id", "", &cmdDel{})
	cr.AddCommand("", "patch", "Patch a document by id", `
Apply a JSON patch (RFC 6902) to a document. With --merge, the body is a merge
patch (RFC 7396) and the document is created if it does not exist.
`, &cmdPatch{})
}

func (cmd *cmdPut) Execute([]string) error {
	startup()
	body, err := bodyOrStdin(cmd.Args.JSON)
	if err != nil {
		return err
	}

	var db = openDB()
	defer closeDB(db)

	id, err := db.Put(cmd.Args.Collection, body, cmd.ID)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"collection": cmd.Args.Collection, "id": id}).Info("stored document")
	_, err = fmt.Fprintln(stdout, id)
	return err
}

func (cmd *cmdGet) Execute([]string) error {
	startup()
	var db = openDB()
	defer closeDB(db)

	if err := db.WriteDocument(stdout, cmd.Args.Collection, cmd.Args.ID, cmd.Pretty); err != nil {
		return err
	}
	_, err := fmt.Fprintln(stdout)
	return err
}

func (cmd *cmdDel) Execute([]string) error {
	startup()
	var db = openDB()
	defer closeDB(db)

	return db.Delete(cmd.Args.Collection, cmd.Args.ID)
}

func (cmd *cmdPatch) Execute([]string) error {
	startup()
	body, err := bodyOrStdin(cmd.Args.Patch)
	if err != nil {
		return err
	}

	var db = openDB()
	defer closeDB(db)

	if cmd.Merge {
		return db.MergeOrPut(cmd.Args.Collection, body, cmd.Args.ID)
	}
	return db.Patch(cmd.Args.Collection, body, cmd.Args.ID)
}

func bodyOrStdin(arg string) (string, error) {
	if arg != "" {
		return arg, nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
