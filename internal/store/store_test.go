package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prompt2web_server/internal/types"
)

func record(account string, created time.Time) types.ProjectRecord {
	return types.ProjectRecord{
		ID:        uuid.NewString(),
		AccountID: account,
		Prompt:    "a bakery site",
		Overview:  "# Bakery",
		Title:     "Bakery",
		Files:     types.FileSet{"index.html": "<h1>Bread</h1>"},
		IndexFile: "index.html",
		CreatedAt: created.UTC().Truncate(time.Millisecond),
	}
}

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()
	account := "acct-" + uuid.NewString()
	now := time.Now()

	older := record(account, now.Add(-time.Hour))
	newer := record(account, now)
	other := record("someone-else-"+uuid.NewString(), now)
	for _, r := range []types.ProjectRecord{older, newer, other} {
		require.NoError(t, s.Create(ctx, r))
	}

	list, err := s.List(ctx, account)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)

	got, err := s.Get(ctx, account, older.ID)
	require.NoError(t, err)
	assert.Equal(t, older.Files, got.Files)
	assert.Equal(t, older.Prompt, got.Prompt)
	assert.True(t, older.CreatedAt.Equal(got.CreatedAt))

	_, err = s.Get(ctx, account, other.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get(ctx, account, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	empty, err := s.List(ctx, "nobody-"+uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStore(t *testing.T) {
	s, err := NewMemory(16)
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
	assert.Equal(t, "memory", Backend(s))
}

func TestMemoryStoreCopiesFiles(t *testing.T) {
	s, err := NewMemory(4)
	require.NoError(t, err)
	ctx := context.Background()

	rec := record("a", time.Now())
	require.NoError(t, s.Create(ctx, rec))
	rec.Files["index.html"] = "mutated"

	got, err := s.Get(ctx, "a", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "<h1>Bread</h1>", got.Files["index.html"])
}

func TestMemoryStoreEvictsOldest(t *testing.T) {
	s, err := NewMemory(2)
	require.NoError(t, err)
	ctx := context.Background()

	first := record("a", time.Now())
	require.NoError(t, s.Create(ctx, first))
	require.NoError(t, s.Create(ctx, record("a", time.Now())))
	require.NoError(t, s.Create(ctx, record("a", time.Now())))

	_, err = s.Get(ctx, "a", first.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	s, err := NewRedis(context.Background(), RedisOptions{Addr: addr})
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	s, err := NewPostgres(context.Background(), dsn)
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}
