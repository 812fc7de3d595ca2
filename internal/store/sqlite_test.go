package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()
	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "regelwerk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	applied, err := s.Migrate(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"0001_init.sql"}, applied)
	return s
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return openTestSQLite(t) })
}

func TestSQLiteStore_migrateIsIdempotent(t *testing.T) {
	s := openTestSQLite(t)
	applied, err := s.Migrate(context.Background())
	require.NoError(t, err)
	require.Empty(t, applied)
}

func TestSQLiteStore_malformedRecords(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	_, err := s.CreateField(ctx, sampleField("good", t0))
	require.NoError(t, err)
	_, err = s.CreateField(ctx, sampleField("legacy", t0))
	require.NoError(t, err)
	_, err = s.CreateTemplate(ctx, sampleTemplate("tpl", t0, "good"))
	require.NoError(t, err)

	// A row written by an older schema: free-form validation keys and an
	// unknown role.
	_, err = s.db.ExecContext(ctx,
		`UPDATE fields SET validation = '{"string":{"minLen":3}}' WHERE id = 'legacy'`)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx,
		`UPDATE templates SET role_config = '{"superuser":{"visible":true}}' WHERE id = 'tpl'`)
	require.NoError(t, err)

	_, err = s.GetField(ctx, "legacy")
	require.ErrorIs(t, err, ErrMalformedRecord)

	var mr *MalformedRecordError
	require.True(t, errors.As(err, &mr))
	require.Equal(t, "validation", mr.Column)

	_, err = s.GetField(ctx, "good")
	require.NoError(t, err)

	bad, err := s.Verify(ctx)
	require.NoError(t, err)
	require.Len(t, bad, 2)
	require.Equal(t, "legacy", bad[0].ID)
	require.Equal(t, "field", bad[0].Entity)
	require.Equal(t, "tpl", bad[1].ID)
	require.Equal(t, "role_config", bad[1].Column)
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("CREATE TABLE a (x INT);\n\nCREATE INDEX i ON a (x);\n")
	require.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE INDEX i ON a (x)"}, got)
}
