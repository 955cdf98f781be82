package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/form-detector/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newTestRun(id string, urls ...string) *model.Run {
	now := time.Now().UTC().Truncate(time.Second)
	run := &model.Run{
		ID:        id,
		Status:    model.RunStatusRunning,
		Progress:  model.Progress{Total: len(urls)},
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, u := range urls {
		it := model.NewItem(id+"-item-"+string(rune('a'+i)), u)
		run.Items = append(run.Items, it)
	}
	return run
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGetRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run := newTestRun("run-1", "https://x.com/a.pdf", "https://x.com/b.pdf", "https://x.com/c.pdf")
		require.NoError(t, s.CreateRun(ctx, run))

		got, err := s.GetRun(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusRunning, got.Status)
		assert.Equal(t, model.Progress{Current: 0, Total: 3}, got.Progress)
		require.Len(t, got.Items, 3)
		for i, it := range got.Items {
			assert.Equal(t, run.Items[i].ID, it.ID)
			assert.Equal(t, run.Items[i].URL, it.URL)
			assert.Equal(t, model.StatusIdle, it.Status)
			assert.Equal(t, model.PendingFilename, it.Filename)
			assert.Nil(t, it.IsFillable)
			assert.Nil(t, it.FieldCount)
		}
	})

	t.Run("SaveItemAndComplete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run := newTestRun("run-2", "https://x.com/a.pdf", "https://x.com/b.pdf")
		require.NoError(t, s.CreateRun(ctx, run))

		fields := 3
		ok := model.MarkFetching().Apply(run.Items[0])
		ok = model.MarkAnalyzing("a.pdf", "application/pdf", 2048, &fields).Apply(ok)
		ok = model.MarkCompleted(model.ClassificationResult{IsFillable: true, FieldCount: 3, Summary: "boxes"}).Apply(ok)
		require.NoError(t, s.SaveItem(ctx, "run-2", ok))

		bad := model.MarkFetching().Apply(run.Items[1])
		bad = model.MarkError("Network Error: timeout").Apply(bad)
		require.NoError(t, s.SaveItem(ctx, "run-2", bad))

		run.Status = model.RunStatusComplete
		require.NoError(t, s.CompleteRun(ctx, run))

		got, err := s.GetRun(ctx, "run-2")
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusComplete, got.Status)
		assert.Equal(t, model.Progress{Current: 2, Total: 2}, got.Progress)

		a := got.Items[0]
		assert.Equal(t, model.StatusCompleted, a.Status)
		assert.Equal(t, "a.pdf", a.Filename)
		require.NotNil(t, a.IsFillable)
		assert.True(t, *a.IsFillable)
		assert.Equal(t, 3, *a.FieldCount)
		assert.Equal(t, "boxes", *a.Summary)
		assert.Nil(t, a.ErrorMessage)
		assert.Equal(t, int64(2048), a.SizeBytes)
		assert.Equal(t, 3, *a.AcroFormFields)
		assert.NoError(t, a.Validate())

		b := got.Items[1]
		assert.Equal(t, model.StatusError, b.Status)
		assert.Equal(t, "Network Error: timeout", *b.ErrorMessage)
		assert.Nil(t, b.Summary)
		assert.NoError(t, b.Validate())

		assert.Equal(t, model.Stats{Total: 2, Fillable: 1, Errored: 1}, got.Stats())
	})

	t.Run("GetRun_NotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetRun(context.Background(), "missing")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("SaveItem_UnknownItem", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateRun(ctx, newTestRun("run-3", "https://x.com/a.pdf")))

		err := s.SaveItem(ctx, "run-3", model.NewItem("nope", "https://x.com/z.pdf"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("ListRuns", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		older := newTestRun("run-old", "https://x.com/a.pdf")
		older.CreatedAt = older.CreatedAt.Add(-time.Hour)
		require.NoError(t, s.CreateRun(ctx, older))
		require.NoError(t, s.CreateRun(ctx, newTestRun("run-new", "https://x.com/a.pdf", "https://x.com/b.pdf")))
		require.NoError(t, s.CompleteRun(ctx, older))

		runs, err := s.ListRuns(ctx, RunFilter{})
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "run-new", runs[0].ID)
		assert.Equal(t, 2, runs[0].Progress.Total)
		assert.Nil(t, runs[0].Items)

		complete, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusComplete})
		require.NoError(t, err)
		require.Len(t, complete, 1)
		assert.Equal(t, "run-old", complete[0].ID)

		limited, err := s.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, "run-old", limited[0].ID)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestSQLite_DuplicateRun(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	run := newTestRun("dup", "https://x.com/a.pdf")
	require.NoError(t, s.CreateRun(ctx, run))
	assert.Error(t, s.CreateRun(ctx, run))
}

func TestListLimit(t *testing.T) {
	assert.Equal(t, 100, listLimit(0))
	assert.Equal(t, 100, listLimit(-5))
	assert.Equal(t, 7, listLimit(7))
}
