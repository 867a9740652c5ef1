package ejdb2

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Meta is the decoded form of DB.Info.
type Meta struct {
	Version     string           `json:"version"`
	File        string           `json:"file"`
	Size        int64            `json:"size"`
	Collections []CollectionMeta `json:"collections"`
}

type CollectionMeta struct {
	Name    string      `json:"name"`
	DBID    int64       `json:"dbid"`
	RNum    int64       `json:"rnum"`
	Indexes []IndexMeta `json:"indexes"`
}

type IndexMeta struct {
	Ptr  string    `json:"ptr"`
	Mode IndexMode `json:"mode"`
	IDBF int64     `json:"idbf"`
	DBID int64     `json:"dbid"`
	RNum int64     `json:"rnum"`
}

// Collection returns the metadata of the named collection, or nil.
func (m *Meta) Collection(name string) *CollectionMeta {
	for i := range m.Collections {
		if m.Collections[i].Name == name {
			return &m.Collections[i]
		}
	}
	return nil
}

// Meta returns database metadata.
func (db *DB) Meta() (*Meta, error) {
	info, err := db.Info()
	if err != nil {
		return nil, err
	}
	var m Meta
	if err := json.Unmarshal([]byte(info), &m); err != nil {
		return nil, errors.Wrap(err, "decoding database metadata")
	}
	return &m, nil
}
