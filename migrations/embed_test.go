package migrations

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	require.NoError(t, Validate(FS))

	infos, err := List(FS)
	require.NoError(t, err)
	require.NotEmpty(t, infos)
	assert.Equal(t, 1, infos[0].Sequence)
	assert.Equal(t, "lineage_events", infos[0].Name)
}

func TestList_OrdersBySequenceThenDirection(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	fsys := fstest.MapFS{
		"002_b.up.sql":   {Data: []byte("SELECT 1;")},
		"001_a.up.sql":   {Data: []byte("SELECT 1;")},
		"002_b.down.sql": {Data: []byte("SELECT 1;")},
		"001_a.down.sql": {Data: []byte("SELECT 1;")},
		"README.md":      {Data: []byte("ignored")},
	}

	infos, err := List(fsys)
	require.NoError(t, err)

	var names []string
	for _, info := range infos {
		names = append(names, info.Filename)
	}

	assert.Equal(t, []string{"001_a.down.sql", "001_a.up.sql", "002_b.down.sql", "002_b.up.sql"}, names)
}

func TestValidate_Errors(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	sql := &fstest.MapFile{Data: []byte("SELECT 1;")}

	tests := []struct {
		name    string
		fsys    fstest.MapFS
		wantErr error
	}{
		{
			name:    "empty",
			fsys:    fstest.MapFS{},
			wantErr: ErrNoMigrations,
		},
		{
			name:    "bad filename",
			fsys:    fstest.MapFS{"1_bad.sql": sql},
			wantErr: ErrInvalidFilename,
		},
		{
			name:    "missing down",
			fsys:    fstest.MapFS{"001_a.up.sql": sql},
			wantErr: ErrUnpaired,
		},
		{
			name:    "missing up",
			fsys:    fstest.MapFS{"001_a.down.sql": sql},
			wantErr: ErrUnpaired,
		},
		{
			name: "gap",
			fsys: fstest.MapFS{
				"001_a.up.sql": sql, "001_a.down.sql": sql,
				"003_c.up.sql": sql, "003_c.down.sql": sql,
			},
			wantErr: ErrSequenceGap,
		},
		{
			name:    "does not start at one",
			fsys:    fstest.MapFS{"002_b.up.sql": sql, "002_b.down.sql": sql},
			wantErr: ErrSequenceGap,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, Validate(tt.fsys), tt.wantErr)
		})
	}
}
