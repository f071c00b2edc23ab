package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func TestSecretRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.PutSecret(ctx, "warden/admin-password", "hunter2"))

	value, err := s.GetSecret(ctx, "warden/admin-password")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", value)

	// Overwrite replaces the value.
	require.NoError(t, s.PutSecret(ctx, "warden/admin-password", "hunter3"))
	value, err = s.GetSecret(ctx, "warden/admin-password")
	require.NoError(t, err)
	assert.Equal(t, "hunter3", value)
}

func TestGetSecretNotFound(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	_, err := s.GetSecret(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteSecret(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.PutSecret(ctx, "key", "value"))
	require.NoError(t, s.DeleteSecret(ctx, "key"))

	_, err := s.GetSecret(ctx, "key")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent secret is fine.
	assert.NoError(t, s.DeleteSecret(ctx, "key"))
}

type testRecord struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestRecordVersioning(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	// Version 0 write creates the record at version 1.
	require.NoError(t, s.PutRecord(ctx, "rec", testRecord{Name: "a", Count: 1}, 0))

	var got testRecord
	version, err := s.GetRecord(ctx, "rec", &got)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)
	assert.Equal(t, testRecord{Name: "a", Count: 1}, got)

	// A write conditional on the read version succeeds and bumps it.
	require.NoError(t, s.PutRecord(ctx, "rec", testRecord{Name: "b", Count: 2}, version))
	version, err = s.GetRecord(ctx, "rec", &got)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), version)
	assert.Equal(t, "b", got.Name)

	// A write presenting a stale version is rejected and changes nothing.
	err = s.PutRecord(ctx, "rec", testRecord{Name: "stale"}, 1)
	assert.ErrorIs(t, err, ErrVersionConflict)

	_, err = s.GetRecord(ctx, "rec", &got)
	require.NoError(t, err)
	assert.Equal(t, "b", got.Name)
}

func TestGetRecordNotFound(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	var out testRecord
	_, err := s.GetRecord(context.Background(), "missing", &out)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.CreateRecord(ctx, "guard", testRecord{Name: "first"}))

	err := s.CreateRecord(ctx, "guard", testRecord{Name: "second"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	var got testRecord
	version, err := s.GetRecord(ctx, "guard", &got)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)
	assert.Equal(t, "first", got.Name)
}

func TestDeleteRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.CreateRecord(ctx, "rec", testRecord{Name: "a"}))
	require.NoError(t, s.DeleteRecord(ctx, "rec"))

	_, err := s.GetRecord(ctx, "rec", nil)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent record is fine, and the key can be recreated at
	// version 1.
	require.NoError(t, s.DeleteRecord(ctx, "rec"))
	require.NoError(t, s.CreateRecord(ctx, "rec", testRecord{Name: "b"}))

	version, err := s.GetRecord(ctx, "rec", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)
}
