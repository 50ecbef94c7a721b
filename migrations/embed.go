// Package migrations embeds the collector's SQL schema migrations.
//
// Files follow the golang-migrate naming standard 001_name.(up|down).sql and are
// applied by storage.Migrate through the iofs source driver.
package migrations

import (
	"cmp"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
)

//go:embed *.sql
var embedded embed.FS

// FS is the embedded migration filesystem rooted at the migration files.
var FS fs.FS = embedded

var (
	// ErrNoMigrations is returned when the filesystem holds no migration files.
	ErrNoMigrations = errors.New("no migration files found")
	// ErrInvalidFilename is returned for files that do not match 001_name.(up|down).sql.
	ErrInvalidFilename = errors.New("invalid migration filename")
	// ErrUnpaired is returned when an up migration has no down migration or vice versa.
	ErrUnpaired = errors.New("unpaired migration")
	// ErrSequenceGap is returned when migration numbers are not contiguous from 001.
	ErrSequenceGap = errors.New("gap in migration sequence")
)

// Migration filename regex: 001_migration_name.up.sql or 001_migration_name.down.sql.
var filenamePattern = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// Info describes one migration file.
type Info struct {
	Sequence  int
	Name      string
	Direction string // "up" or "down"
	Filename  string
}

// List returns the migration files in fsys in apply order. Non-SQL files are
// ignored; SQL files with a non-conforming name are an error.
func List(fsys fs.FS) ([]Info, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var infos []Info

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}

		info, err := parseFilename(entry.Name())
		if err != nil {
			return nil, err
		}

		infos = append(infos, info)
	}

	slices.SortFunc(infos, func(a, b Info) int {
		return cmp.Or(cmp.Compare(a.Sequence, b.Sequence), cmp.Compare(a.Filename, b.Filename))
	})

	return infos, nil
}

// Validate checks that fsys holds at least one migration, that every up file has
// a down file, and that sequence numbers start at 001 without gaps.
func Validate(fsys fs.FS) error {
	infos, err := List(fsys)
	if err != nil {
		return err
	}

	if len(infos) == 0 {
		return ErrNoMigrations
	}

	directions := make(map[string][]string)

	var sequences []int

	for _, info := range infos {
		key := fmt.Sprintf("%03d_%s", info.Sequence, info.Name)
		if _, seen := directions[key]; !seen {
			sequences = append(sequences, info.Sequence)
		}

		directions[key] = append(directions[key], info.Direction)
	}

	for key, dirs := range directions {
		if !slices.Contains(dirs, "up") {
			return fmt.Errorf("%w: missing up migration for %s", ErrUnpaired, key)
		}

		if !slices.Contains(dirs, "down") {
			return fmt.Errorf("%w: missing down migration for %s", ErrUnpaired, key)
		}
	}

	slices.Sort(sequences)

	for i, seq := range sequences {
		if seq != i+1 {
			return fmt.Errorf("%w: expected %03d, found %03d", ErrSequenceGap, i+1, seq)
		}
	}

	return nil
}

func parseFilename(filename string) (Info, error) {
	matches := filenamePattern.FindStringSubmatch(filename)
	if len(matches) != 4 { //nolint:mnd
		return Info{}, fmt.Errorf("%w: %s (expected: 001_name.up.sql or 001_name.down.sql)",
			ErrInvalidFilename, filename)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return Info{}, fmt.Errorf("%w: bad sequence in %s: %w", ErrInvalidFilename, filename, err)
	}

	return Info{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, nil
}
