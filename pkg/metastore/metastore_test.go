package metastore

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyra-app/securestore/pkg/crypt"
)

// testStore opens a Store against TEST_DATABASE_DSN. The Postgres-backed
// tests are skipped when the variable is unset.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set, skipping Postgres tests")
	}

	store, err := New(Config{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func randomExternalID(t *testing.T) string {
	t.Helper()
	b := make([]byte, 8)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return fmt.Sprintf("did:privy:test-%x", b)
}

func randomMaterial(t *testing.T) KeyMaterial {
	t.Helper()
	m := KeyMaterial{
		AESKey: make([]byte, crypt.KeyLength),
		IV:     make([]byte, crypt.IVLength),
		Tag:    make([]byte, crypt.TagLength),
	}
	for _, b := range [][]byte{m.AESKey, m.IV, m.Tag} {
		_, err := rand.Read(b)
		require.NoError(t, err)
	}
	return m
}

func TestEnsureUserIsIdempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	externalID := randomExternalID(t)

	first, err := store.EnsureUser(ctx, externalID)
	require.NoError(t, err)

	second, err := store.EnsureUser(ctx, externalID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLookupUserMissing(t *testing.T) {
	store := testStore(t)

	_, ok, err := store.LookupUser(context.Background(), randomExternalID(t))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVersioningMonotonicity(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	userID, err := store.EnsureUser(ctx, randomExternalID(t))
	require.NoError(t, err)

	next, err := store.NextVersion(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, next)

	const n = 5
	for i := 1; i <= n; i++ {
		_, version, err := store.AppendVersion(ctx, userID, fmt.Sprintf("cid-%d", i), randomMaterial(t))
		require.NoError(t, err)
		assert.Equal(t, i, version)
	}

	versions, err := store.AllVersions(ctx, userID)
	require.NoError(t, err)
	require.Len(t, versions, n)
	for i, v := range versions {
		assert.Equal(t, n-i, v.Version, "versions must come back descending")
	}

	latest, err := store.LatestVersion(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, n, latest.Version)
	assert.Equal(t, fmt.Sprintf("cid-%d", n), latest.CID)
}

func TestLatestVersionEmpty(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	userID, err := store.EnsureUser(ctx, randomExternalID(t))
	require.NoError(t, err)

	latest, err := store.LatestVersion(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestKeyMaterialSurvivesStorage(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	userID, err := store.EnsureUser(ctx, randomExternalID(t))
	require.NoError(t, err)

	material := randomMaterial(t)
	_, _, err = store.AppendVersion(ctx, userID, "cid-km", material)
	require.NoError(t, err)

	latest, err := store.LatestVersion(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, material, latest.KeyMaterial)
}

func TestDeleteVersionIsOwnerScoped(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	owner, err := store.EnsureUser(ctx, randomExternalID(t))
	require.NoError(t, err)
	other, err := store.EnsureUser(ctx, randomExternalID(t))
	require.NoError(t, err)

	rowID, _, err := store.AppendVersion(ctx, owner, "cid-del", randomMaterial(t))
	require.NoError(t, err)

	// A foreign delete is a silent no-op, not an error.
	require.NoError(t, store.DeleteVersion(ctx, other, rowID))
	versions, err := store.AllVersions(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, versions, 1)

	require.NoError(t, store.DeleteVersion(ctx, owner, rowID))
	versions, err = store.AllVersions(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, versions, 0)
}

func TestConcurrentAppendsAssignDistinctVersions(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	userID, err := store.EnsureUser(ctx, randomExternalID(t))
	require.NoError(t, err)

	const workers = 4
	type outcome struct {
		version int
		err     error
	}
	results := make(chan outcome, workers)
	for i := 0; i < workers; i++ {
		i := i
		go func() {
			_, version, err := store.AppendVersion(ctx, userID, fmt.Sprintf("cid-race-%d", i), randomMaterial(t))
			results <- outcome{version: version, err: err}
		}()
	}

	seen := make(map[int]bool)
	for i := 0; i < workers; i++ {
		r := <-results
		require.NoError(t, r.err)
		assert.False(t, seen[r.version], "version %d assigned twice", r.version)
		seen[r.version] = true
	}
}
