package repository_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkodi/snaplink/internal/model"
	"github.com/darkodi/snaplink/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// unique keeps tests independent when a store instance is shared
func unique(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

func newLink(machineID, url string, created time.Time) *model.Link {
	return &model.Link{
		OriginalURL: url,
		ShortID:     unique("s"),
		MachineID:   machineID,
		CreatedAt:   created.UTC().Truncate(time.Millisecond),
	}
}

// runStoreContract exercises the behaviour every backend must share
func runStoreContract(t *testing.T, store repository.Repository) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("create and get", func(t *testing.T) {
		link := newLink(unique("m"), "https://example.com/abc123", now)
		require.NoError(t, store.Create(ctx, link))

		got, err := store.GetByShortID(ctx, link.ShortID)
		require.NoError(t, err)
		assert.Equal(t, link.OriginalURL, got.OriginalURL)
		assert.Equal(t, link.ShortID, got.ShortID)
		assert.Equal(t, link.MachineID, got.MachineID)
		assert.WithinDuration(t, link.CreatedAt, got.CreatedAt, time.Millisecond)
		assert.Zero(t, got.VisitCount)
		assert.Nil(t, got.LastVisited)
	})

	t.Run("duplicate short id", func(t *testing.T) {
		first := newLink(unique("m"), "https://example.com/one", now)
		require.NoError(t, store.Create(ctx, first))

		second := newLink(unique("m"), "https://example.com/two", now)
		second.ShortID = first.ShortID
		err := store.Create(ctx, second)
		assert.ErrorIs(t, err, repository.ErrDuplicateShortID)

		got, err := store.GetByShortID(ctx, first.ShortID)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/one", got.OriginalURL, "the first link must be untouched")
	})

	t.Run("get unknown", func(t *testing.T) {
		_, err := store.GetByShortID(ctx, unique("missing"))
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("find by url and machine", func(t *testing.T) {
		machine := unique("m")
		link := newLink(machine, "https://example.com/dedup", now)
		require.NoError(t, store.Create(ctx, link))

		got, err := store.FindByURLAndMachine(ctx, link.OriginalURL, machine)
		require.NoError(t, err)
		assert.Equal(t, link.ShortID, got.ShortID)

		_, err = store.FindByURLAndMachine(ctx, link.OriginalURL, unique("other"))
		assert.ErrorIs(t, err, repository.ErrNotFound)

		_, err = store.FindByURLAndMachine(ctx, "https://example.com/never", machine)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("record visit increments by one", func(t *testing.T) {
		link := newLink(unique("m"), "https://example.com/visits", now)
		require.NoError(t, store.Create(ctx, link))

		var last *model.Link
		for i := 1; i <= 3; i++ {
			at := now.Add(time.Duration(i) * time.Second)
			got, err := store.RecordVisit(ctx, link.ShortID, at)
			require.NoError(t, err)
			assert.Equal(t, int64(i), got.VisitCount)
			require.NotNil(t, got.LastVisited)
			assert.WithinDuration(t, at, *got.LastVisited, time.Millisecond)
			last = got
		}

		got, err := store.GetByShortID(ctx, link.ShortID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), got.VisitCount)
		assert.Equal(t, last.OriginalURL, got.OriginalURL)
		assert.WithinDuration(t, link.CreatedAt, got.CreatedAt, time.Millisecond, "createdAt is immutable")
	})

	t.Run("record visit on unknown id", func(t *testing.T) {
		id := unique("missing")
		_, err := store.RecordVisit(ctx, id, now)
		assert.ErrorIs(t, err, repository.ErrNotFound)

		_, err = store.GetByShortID(ctx, id)
		assert.ErrorIs(t, err, repository.ErrNotFound, "a failed visit must not create a record")
	})

	t.Run("concurrent visits are not lost", func(t *testing.T) {
		link := newLink(unique("m"), "https://example.com/hot", now)
		require.NoError(t, store.Create(ctx, link))

		const visitors = 20
		var wg sync.WaitGroup
		errs := make(chan error, visitors)
		for i := 0; i < visitors; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.RecordVisit(ctx, link.ShortID, time.Now())
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := store.GetByShortID(ctx, link.ShortID)
		require.NoError(t, err)
		assert.Equal(t, int64(visitors), got.VisitCount)
	})

	t.Run("list by machine newest first", func(t *testing.T) {
		machine := unique("m")
		oldest := newLink(machine, "https://example.com/1", now.Add(-2*time.Hour))
		middle := newLink(machine, "https://example.com/2", now.Add(-time.Hour))
		newest := newLink(machine, "https://example.com/3", now)
		foreign := newLink(unique("m"), "https://example.com/4", now)

		for _, l := range []*model.Link{middle, newest, oldest, foreign} {
			require.NoError(t, store.Create(ctx, l))
		}

		links, err := store.ListByMachine(ctx, machine)
		require.NoError(t, err)
		require.Len(t, links, 3)
		assert.Equal(t, newest.ShortID, links[0].ShortID)
		assert.Equal(t, middle.ShortID, links[1].ShortID)
		assert.Equal(t, oldest.ShortID, links[2].ShortID)
		for _, l := range links {
			assert.Equal(t, machine, l.MachineID)
		}
	})

	t.Run("list ties by creation time in reverse insertion order", func(t *testing.T) {
		machine := unique("m")
		var created []*model.Link
		for _, prefix := range []string{"zzzz", "aaaa", "mmmm"} {
			l := newLink(machine, "https://example.com/"+prefix, now)
			l.ShortID = unique(prefix)
			require.NoError(t, store.Create(ctx, l))
			created = append(created, l)
		}

		links, err := store.ListByMachine(ctx, machine)
		require.NoError(t, err)
		require.Len(t, links, 3)
		assert.Equal(t, created[2].ShortID, links[0].ShortID)
		assert.Equal(t, created[1].ShortID, links[1].ShortID)
		assert.Equal(t, created[0].ShortID, links[2].ShortID)
	})

	t.Run("long machine id", func(t *testing.T) {
		machine := unique(strings.Repeat("d", 300))
		link := newLink(machine, "https://example.com/long-device", now)
		require.NoError(t, store.Create(ctx, link))

		got, err := store.GetByShortID(ctx, link.ShortID)
		require.NoError(t, err)
		assert.Equal(t, machine, got.MachineID)

		links, err := store.ListByMachine(ctx, machine)
		require.NoError(t, err)
		require.Len(t, links, 1)
		assert.Equal(t, link.ShortID, links[0].ShortID)
	})

	t.Run("list for unknown machine is empty", func(t *testing.T) {
		links, err := store.ListByMachine(ctx, unique("nobody"))
		require.NoError(t, err)
		assert.NotNil(t, links)
		assert.Empty(t, links)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}
