package roster

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/busdispatch/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestStoreEligibleKeepsRosterOrder(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Import(ctx, []EligibleWorker{
		{Name: "zoe", Days: []string{"monday", "tuesday"}},
		{Name: "adam", Days: []string{"tuesday"}},
		{Name: "mia", Days: []string{"monday"}},
	})
	require.NoError(t, err)

	got, err := s.Eligible(ctx, "monday")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "zoe", got[0].Name)
	assert.Equal(t, "mia", got[1].Name)

	none, err := s.Eligible(ctx, "Monday")
	require.NoError(t, err)
	assert.Empty(t, none, "day matching is case-sensitive")
}

func TestStoreImportUpserts(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Import(ctx, []EligibleWorker{
		{Name: "zoe", Days: []string{"monday"}},
		{Name: "adam", Days: []string{"monday"}},
	})
	require.NoError(t, err)
	_, err = s.Import(ctx, []EligibleWorker{{Name: "zoe", Days: []string{"friday"}}})
	require.NoError(t, err)

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []EligibleWorker{
		{Name: "zoe", Days: []string{"friday"}},
		{Name: "adam", Days: []string{"monday"}},
	}, all)
}

func TestStoreImportRejectsInvalid(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Import(ctx, []EligibleWorker{{Name: " ", Days: []string{"monday"}}})
	assert.ErrorIs(t, err, ErrEmptyName)

	_, err = s.Import(ctx, []EligibleWorker{{Name: "ann"}})
	assert.ErrorIs(t, err, ErrNoDays)

	_, err = s.Import(ctx, []EligibleWorker{{Name: "bob", Days: []string{""}}})
	assert.ErrorIs(t, err, ErrNoDays, "blank day")

	_, err = s.Import(ctx, []EligibleWorker{{Name: "cy", Days: []string{" ", "\t"}}})
	assert.ErrorIs(t, err, ErrNoDays, "whitespace days")

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStoreImportTrimsDays(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Import(ctx, []EligibleWorker{{Name: "dee", Days: []string{" monday ", "", "friday"}}})
	require.NoError(t, err)

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []EligibleWorker{{Name: "dee", Days: []string{"monday", "friday"}}}, all)

	eligible, err := s.Eligible(ctx, "monday")
	require.NoError(t, err)
	assert.Len(t, eligible, 1)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workers:
  - name: ann
    days: [monday, tuesday]
  - name: bob
    days: [wednesday]
`), 0o644))

	got, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []EligibleWorker{
		{Name: "ann", Days: []string{"monday", "tuesday"}},
		{Name: "bob", Days: []string{"wednesday"}},
	}, got)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDaysHelpers(t *testing.T) {
	assert.Equal(t, []string{"monday", "friday"}, ParseDays(" monday,, friday ,"))
	assert.Nil(t, ParseDays(""))
	assert.Equal(t, "monday,friday", FormatDays([]string{"monday", "friday"}))

	w := EligibleWorker{Name: "ann", Days: []string{"monday"}}
	assert.True(t, w.AvailableOn("monday"))
	assert.False(t, w.AvailableOn("mon"))
}
