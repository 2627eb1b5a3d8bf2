package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFilenamePattern(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
		version  string
		name     string
	}{
		{"0001_init.sql", true, "0001", "init"},
		{"0002_seed_billing_stores.sql", true, "0002", "seed_billing_stores"},
		{"001_invalid.sql", false, "", ""},
		{"0001_test", false, "", ""},
		{"0001.sql", false, "", ""},
		{"invalid_0001_test.sql", false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			m := migrationPattern.FindStringSubmatch(tt.filename)
			if !tt.valid {
				assert.Nil(t, m)
				return
			}
			require.NotNil(t, m)
			assert.Equal(t, tt.version, m[1])
			assert.Equal(t, tt.name, m[2])
		})
	}
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestReadMigrations(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"0002_second.sql": "CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.b` (id INT64);",
		"0001_first.sql":  "CREATE TABLE a (id INT);",
		"README.md":       "not a migration",
	})

	migrations, err := readMigrations(dir, map[string]string{"PROJECT_ID": "p", "DATASET_ID": "d"}, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "first", migrations[0].Name)
	assert.Equal(t, "CREATE TABLE `p.d.b` (id INT64);", migrations[1].SQL)
	assert.Len(t, migrations[0].Checksum, 64)
}

func TestReadMigrations_ChecksumIgnoresPlaceholders(t *testing.T) {
	dir := writeFiles(t, map[string]string{"0001_a.sql": "CREATE TABLE `{{PROJECT_ID}}.x` (id INT64);"})

	a, err := readMigrations(dir, map[string]string{"PROJECT_ID": "one"}, zerolog.Nop())
	require.NoError(t, err)
	b, err := readMigrations(dir, map[string]string{"PROJECT_ID": "two"}, zerolog.Nop())
	require.NoError(t, err)

	assert.NotEqual(t, a[0].SQL, b[0].SQL)
	assert.Equal(t, a[0].Checksum, b[0].Checksum)
}

func TestReadMigrations_DuplicateVersion(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"0001_a.sql": "SELECT 1;",
		"0001_b.sql": "SELECT 2;",
	})
	_, err := readMigrations(dir, nil, zerolog.Nop())
	assert.ErrorContains(t, err, "duplicate migration version 0001")
}

func TestRepositoryMigrationsParse(t *testing.T) {
	for _, name := range []string{"postgres", "bigquery"} {
		dir, err := findDir(filepath.Join("migrations", name))
		require.NoError(t, err)
		migrations, err := readMigrations(dir, nil, zerolog.Nop())
		require.NoError(t, err)
		assert.NotEmpty(t, migrations, name)
		assert.Equal(t, 1, migrations[0].Version, name)
	}
}

// fakeTarget records what run applied.
type fakeTarget struct {
	applied  []AppliedMigration
	ran      []int
	applyErr error
}

func (f *fakeTarget) Name() string { return "fake" }
func (f *fakeTarget) Close() error { return nil }
func (f *fakeTarget) EnsureSchemaMigrations(ctx context.Context) error { return nil }
func (f *fakeTarget) Applied(ctx context.Context) ([]AppliedMigration, error) {
	return f.applied, nil
}
func (f *fakeTarget) Apply(ctx context.Context, m Migration, appliedBy string) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.ran = append(f.ran, m.Version)
	return nil
}

func TestRun(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "a", Filename: "0001_a.sql", Checksum: "c1"},
		{Version: 2, Name: "b", Filename: "0002_b.sql", Checksum: "c2"},
		{Version: 3, Name: "c", Filename: "0003_c.sql", Checksum: "c3"},
	}

	t.Run("applies only pending", func(t *testing.T) {
		ft := &fakeTarget{applied: []AppliedMigration{{Version: 1, Checksum: "c1"}}}
		n, err := run(context.Background(), ft, migrations, "test", false, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, []int{2, 3}, ft.ran)
	})

	t.Run("dry run applies nothing", func(t *testing.T) {
		ft := &fakeTarget{}
		n, err := run(context.Background(), ft, migrations, "test", true, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Empty(t, ft.ran)
	})

	t.Run("modified migration", func(t *testing.T) {
		ft := &fakeTarget{applied: []AppliedMigration{{Version: 2, Checksum: "old"}}}
		_, err := run(context.Background(), ft, migrations, "test", false, zerolog.Nop())
		assert.ErrorContains(t, err, "0002_b was modified")
		assert.Empty(t, ft.ran)
	})

	t.Run("apply failure", func(t *testing.T) {
		ft := &fakeTarget{applyErr: errors.New("syntax error")}
		_, err := run(context.Background(), ft, migrations, "test", false, zerolog.Nop())
		assert.ErrorContains(t, err, "applying 0001_a.sql: syntax error")
	})
}
