package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	mbp "ejdb2.dev/ejdb2go/internal/mainboilerplate"
)

type cmdInfo struct {
	JSON   bool `long:"json" description:"Print the raw metadata document"`
	Pretty bool `long:"pretty" short:"p" description:"Indent the metadata document. Implies --json"`
}

func addInfoCommands(cr mbp.CommandRegistry) {
	cr.AddCommand("", "info", "Print database metadata", `
Print the engine version, file, size, collections and their indexes.
`, &cmdInfo{})
}

func (cmd *cmdInfo) Execute([]string) error {
	startup()
	var db = openDB()
	defer closeDB(db)

	if cmd.JSON || cmd.Pretty {
		if err := db.WriteInfo(stdout, cmd.Pretty); err != nil {
			return err
		}
		_, err := fmt.Fprintln(stdout)
		return err
	}

	meta, err := db.Meta()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "version:\t%s\nfile:\t%s\nsize:\t%s\n\n", meta.Version, meta.File, humanize.IBytes(uint64(meta.Size)))

	var w = tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COLLECTION\tDOCUMENTS\tINDEXES")
	for _, c := range meta.Collections {
		var idx []string
		for _, i := range c.Indexes {
			idx = append(idx, fmt.Sprintf("%s (%s, %s rows)", i.Ptr, i.Mode, humanize.Comma(i.RNum)))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, humanize.Comma(c.RNum), strings.Join(idx, ", "))
	}
	return w.Flush()
}
