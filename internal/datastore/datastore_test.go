package datastore

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightvibes/biomap/internal/conf"
	"github.com/lightvibes/biomap/internal/errors"
	"github.com/lightvibes/biomap/internal/narrative"
	"github.com/lightvibes/biomap/internal/prediction"
)

func openTestStore(t *testing.T) Interface {
	t.Helper()
	settings := &conf.Settings{}
	settings.Datastore.Enabled = true
	settings.Datastore.SQLite.Enabled = true
	settings.Datastore.SQLite.Path = filepath.Join(t.TempDir(), "nested", "history.db")

	store := New(settings)
	require.NotNil(t, store)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewSelectsBackend(t *testing.T) {
	t.Parallel()

	s := &conf.Settings{}
	assert.Nil(t, New(s))

	s.Datastore.Enabled = true
	assert.Nil(t, New(s))

	s.Datastore.MySQL.Enabled = true
	assert.IsType(t, &MySQLStore{}, New(s))

	s.Datastore.SQLite.Enabled = true
	assert.IsType(t, &SQLiteStore{}, New(s))
}

func TestSaveAndGet(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	rec := &PredictionRecord{SpeciesName: "Puma concolor", NSteps: 6, PredictionAmount: 12, Score: "7"}
	require.NoError(t, store.Save(t.Context(), rec))
	require.NoError(t, uuid.Validate(rec.ID))
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := store.Get(t.Context(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Puma concolor", got.SpeciesName)
	assert.Equal(t, "7", got.Score)
	assert.Equal(t, 12, got.PredictionAmount)
}

func TestGetErrors(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)

	_, err := store.Get(t.Context(), uuid.NewString())
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))

	_, err = store.Get(t.Context(), "not-a-uuid")
	require.Error(t, err)
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
}

func TestListNewestFirst(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"a", "b", "c"} {
		require.NoError(t, store.Save(t.Context(), &PredictionRecord{
			SpeciesName: name,
			CreatedAt:   base.Add(time.Duration(i) * time.Hour),
		}))
	}

	all, err := store.List(t.Context(), 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].SpeciesName)
	assert.Equal(t, "a", all[2].SpeciesName)

	two, err := store.List(t.Context(), 2)
	require.NoError(t, err)
	require.Len(t, two, 2)
	assert.Equal(t, "b", two[1].SpeciesName)
}

func TestSavePrediction(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	req := prediction.Request{SpeciesName: "Orcinus orca", NSteps: 3, PredictionAmount: 4}
	res := &prediction.Result{
		Plot:       "iVBORw0KGgo=",
		Assessment: &narrative.Assessment{Score: "5", Explanation: "Flat.", Prevention: "Monitor."},
	}
	require.NoError(t, store.SavePrediction(t.Context(), req, res))

	failed := &prediction.Result{Plot: "x", NarrativeError: "quota exceeded"}
	require.NoError(t, store.SavePrediction(t.Context(), req, failed))

	records, err := store.List(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	var withScore, withError int
	for _, r := range records {
		assert.Equal(t, "Orcinus orca", r.SpeciesName)
		if r.Score == "5" {
			withScore++
			assert.Equal(t, len(res.Plot), r.PlotBytes)
			assert.Equal(t, "Monitor.", r.Prevention)
		}
		if r.NarrativeError != "" {
			withError++
		}
	}
	assert.Equal(t, 1, withScore)
	assert.Equal(t, 1, withError)
}

func TestUnopenedStore(t *testing.T) {
	t.Parallel()

	store := &SQLiteStore{Settings: &conf.Settings{}}
	_, err := store.List(t.Context(), 1)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
	assert.Error(t, store.Open())
}

func TestMySQLDSN(t *testing.T) {
	t.Parallel()

	dsn := mysqlDSN(&conf.MySQLSettings{
		Username: "bio",
		Password: "secret",
		Host:     "db.local",
		Port:     "3306",
		Database: "biomap",
	})
	assert.True(t, strings.HasPrefix(dsn, "bio:secret@tcp(db.local:3306)/biomap?"), dsn)
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
}
