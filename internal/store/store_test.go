package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HerbHall/metricd/pkg/plugin"
)

func openMemory(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createTable(name string) func(*sql.Tx) error {
	return func(tx *sql.Tx) error {
		_, err := tx.Exec("CREATE TABLE " + name + " (id INTEGER PRIMARY KEY)")
		return err
	}
}

func TestMigrateAppliesInVersionOrder(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	var order []int
	mk := func(v int) plugin.Migration {
		return plugin.Migration{Version: v, Description: "step", Up: func(*sql.Tx) error {
			order = append(order, v)
			return nil
		}}
	}
	require.NoError(t, s.Migrate(ctx, "archive", []plugin.Migration{mk(2), mk(1), mk(3)}))
	assert.Equal(t, []int{1, 2, 3}, order)

	// Second run is a no-op.
	require.NoError(t, s.Migrate(ctx, "archive", []plugin.Migration{mk(2), mk(1), mk(3)}))
	assert.Equal(t, []int{1, 2, 3}, order)

	versions, err := s.AppliedVersions(ctx, "archive")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, versions)
}

func TestMigrateRejectsDuplicateVersions(t *testing.T) {
	s := openMemory(t)
	err := s.Migrate(context.Background(), "x", []plugin.Migration{
		{Version: 1, Up: createTable("a")},
		{Version: 1, Up: createTable("b")},
	})
	assert.True(t, errors.Is(err, ErrMigrationOrder))
}

func TestMigrateRollsBackFailedStep(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Migrate(ctx, "x", []plugin.Migration{{
		Version: 1,
		Up: func(tx *sql.Tx) error {
			if err := createTable("half")(tx); err != nil {
				return err
			}
			return boom
		},
	}})
	require.ErrorIs(t, err, boom)

	versions, err := s.AppliedVersions(ctx, "x")
	require.NoError(t, err)
	assert.Empty(t, versions)

	var n int
	require.NoError(t, s.DB().QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE name = 'half'").Scan(&n))
	assert.Zero(t, n)
}

func TestOwnersAreIndependent(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx, "a", []plugin.Migration{{Version: 1, Up: createTable("ta")}}))
	require.NoError(t, s.Migrate(ctx, "b", []plugin.Migration{{Version: 1, Up: createTable("tb")}}))

	va, _ := s.AppliedVersions(ctx, "a")
	vb, _ := s.AppliedVersions(ctx, "b")
	assert.Equal(t, []int{1}, va)
	assert.Equal(t, []int{1}, vb)
}

func TestSnapshot(t *testing.T) {
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "live.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx, "a", []plugin.Migration{{Version: 1, Up: createTable("samples")}}))

	dst := filepath.Join(dir, "copy.db")
	require.NoError(t, s.Snapshot(ctx, dst))

	cp, err := New(dst)
	require.NoError(t, err)
	defer cp.Close()
	versions, err := cp.AppliedVersions(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, versions)
}
