// Package migrations embeds the SQL schema for the donation record store.
package migrations

import (
	"embed"
	"sort"
	"strings"
)

// FS holds the up and down migration files.
//
//go:embed *.sql
var FS embed.FS

// Up returns the contents of every up migration, ordered by file name.
func Up() ([]string, error) {
	entries, err := FS.ReadDir(".")
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	scripts := make([]string, 0, len(names))
	for _, name := range names {
		b, err := FS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, string(b))
	}
	return scripts, nil
}
