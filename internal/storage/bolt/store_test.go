package bolt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTemp(t)

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", "v1"))
	require.NoError(t, s.Set(ctx, "k", "v2"))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", v)

	require.NoError(t, s.Remove(ctx, "k"))
	require.NoError(t, s.Remove(ctx, "k"))
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	require.Error(t, s.Set(ctx, "", "x"))
}

func TestPersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sub", "audit.db")
	s, err := Open(Config{Path: path, Bucket: "custom"})
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "follower_audit_alice", "{}"))
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: path, Bucket: "custom"})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	v, ok, err := s.Get(ctx, "follower_audit_alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "{}", v)
}

func TestOpenTimesOutOnLockedFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "locked.db")
	s, err := Open(Config{Path: path})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = Open(Config{Path: path, Timeout: 50 * time.Millisecond})
	require.Error(t, err)
}

func TestKeysUsesPrefixSeek(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTemp(t)
	for _, k := range []string{"a_1", "ns_b", "ns_a", "z"} {
		require.NoError(t, s.Set(ctx, k, "x"))
	}
	keys, err := s.Keys(ctx, "ns_")
	require.NoError(t, err)
	require.Equal(t, []string{"ns_a", "ns_b"}, keys)
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(Config{})
	require.Error(t, err)
}
