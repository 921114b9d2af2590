// Package sqlmigrate reads ordered SQL migration files shared by the
// relational store backends.
package sqlmigrate

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

const (
	upMarker   = "-- +migrate Up"
	downMarker = "-- +migrate Down"
)

// Migration is one embedded SQL file.
type Migration struct {
	Name string
	Up   string
	Down string
}

// Load returns the .sql files at the root of fsys sorted by name. Files
// with an empty Up section are skipped.
func Load(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		up, down := Split(string(content))
		if strings.TrimSpace(up) == "" {
			continue
		}
		out = append(out, Migration{Name: name, Up: up, Down: down})
	}
	return out, nil
}

// Split separates a migration file into its Up and Down sections. A file
// without markers is treated as Up only.
func Split(content string) (up, down string) {
	upIdx := strings.Index(content, upMarker)
	if upIdx == -1 {
		return content, ""
	}
	downIdx := strings.Index(content, downMarker)
	if downIdx == -1 {
		return content[upIdx+len(upMarker):], ""
	}
	return content[upIdx+len(upMarker) : downIdx], content[downIdx+len(downMarker):]
}

// IsAlreadyExists reports whether err came from idempotent DDL.
func IsAlreadyExists(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate column name")
}
