package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/thnyheim/misp2bro/internal/errors"
)

func TestFileStore_MissingFileIsFirstRun(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "misp-export.sha256"))
	got, ok, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, got)
}

func TestFileStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "misp-export.sha256")
	s := NewFileStore(path)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "abc123"))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abc123\n", string(raw))

	got, ok, err := s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc123", got)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should be renamed away")
}

func TestFileStore_ReadsFirstLineOnly(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"trailing whitespace and extra lines", "deadbeef  \nsomething else\n"},
		{"no trailing newline", "deadbeef"},
		{"crlf", "deadbeef\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "digest")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			got, ok, err := NewFileStore(path).Load(context.Background())
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "deadbeef", got)
		})
	}
}

func TestFileStore_UnreadableIsError(t *testing.T) {
	dir := t.TempDir()
	// A directory where the file should be cannot be read as a file.
	_, _, err := NewFileStore(dir).Load(context.Background())
	assert.Error(t, err)
}

type memStore struct {
	val     string
	ok      bool
	saves   int
	loadErr error
	saveErr error
}

func (m *memStore) Name() string { return "mem" }
func (m *memStore) Load(context.Context) (string, bool, error) {
	return m.val, m.ok, m.loadErr
}
func (m *memStore) Save(_ context.Context, d string) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.val, m.ok = d, true
	m.saves++
	return nil
}

func TestChangeDetector(t *testing.T) {
	ctx := context.Background()

	t.Run("first run persists and reports changed", func(t *testing.T) {
		m := &memStore{}
		changed, err := NewChangeDetector(m).HasChanged(ctx, "d1")
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, "d1", m.val)
		assert.Equal(t, 1, m.saves)
	})

	t.Run("same digest is unchanged and store untouched", func(t *testing.T) {
		m := &memStore{val: "d1", ok: true}
		changed, err := NewChangeDetector(m).HasChanged(ctx, "d1")
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, 0, m.saves)
	})

	t.Run("different digest overwrites", func(t *testing.T) {
		m := &memStore{val: "d1", ok: true}
		changed, err := NewChangeDetector(m).HasChanged(ctx, "d2")
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, "d2", m.val)
	})

	t.Run("load failure is a digest store error", func(t *testing.T) {
		m := &memStore{loadErr: errors.New("permission denied")}
		_, err := NewChangeDetector(m).HasChanged(ctx, "d1")
		require.Error(t, err)
		assert.ErrorIs(t, err, errs.ErrDigestStore)
		assert.Equal(t, 0, m.saves)
	})

	t.Run("save failure is a digest store error", func(t *testing.T) {
		m := &memStore{saveErr: errors.New("read-only file system")}
		changed, err := NewChangeDetector(m).HasChanged(ctx, "d1")
		require.Error(t, err)
		assert.False(t, changed)
		assert.ErrorIs(t, err, errs.ErrDigestStore)
	})
}

func TestChangeDetector_DiffersDoesNotSave(t *testing.T) {
	ctx := context.Background()

	m := &memStore{}
	cd := NewChangeDetector(m)
	changed, err := cd.Differs(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 0, m.saves)
	assert.False(t, m.ok)

	m = &memStore{val: "d1", ok: true}
	changed, err = NewChangeDetector(m).Differs(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = NewChangeDetector(&memStore{loadErr: errors.New("boom")}).Differs(ctx, "d1")
	assert.ErrorIs(t, err, errs.ErrDigestStore)
}

func TestChangeDetector_IdempotentOnFileStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "misp-export.sha256")
	cd := NewChangeDetector(NewFileStore(path))

	changed, err := cd.HasChanged(ctx, "cafebabe")
	require.NoError(t, err)
	assert.True(t, changed)
	before, err := os.Stat(path)
	require.NoError(t, err)

	changed, err = cd.HasChanged(ctx, "cafebabe")
	require.NoError(t, err)
	assert.False(t, changed)

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "cafebabe\n", string(raw))
}

// Needs a reachable redis; set MISP2BRO_TEST_REDIS_ADDR to run.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("MISP2BRO_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MISP2BRO_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	key := "misp2bro:test:" + strconv.Itoa(os.Getpid())

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() {
		client.Del(ctx, key)
		client.Close()
	})

	s := NewRedisStoreWithClient(client, key)
	assert.Equal(t, "redis:"+key, s.Name())

	_, ok, err := s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	cd := NewChangeDetector(s)
	changed, err := cd.HasChanged(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = cd.HasChanged(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRedisStore_DefaultKey(t *testing.T) {
	s := NewRedisStore(RedisOptions{Addr: "127.0.0.1:0"})
	defer s.Close()
	assert.Equal(t, "redis:"+DefaultRedisKey, s.Name())
}
