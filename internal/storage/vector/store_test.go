package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/confluo/internal/common"
	"github.com/ternarybob/confluo/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(arbor.NewLogger(), &common.VectorConfig{
		Path:      t.TempDir(),
		Dimension: 4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestVectorUpsertGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	collection := models.EntityJiraIssues.VectorCollection("tenant-a")
	point := &models.VectorPoint{
		TenantID:   "tenant-a",
		Collection: collection,
		ExternalID: "10001",
		Vector:     []float32{0.1, 0.2, 0.3, 0.4},
	}
	require.NoError(t, store.Upsert(ctx, point))

	got, err := store.Get(ctx, collection, "10001")
	require.NoError(t, err)
	assert.Equal(t, point.Vector, got.Vector)

	// Last writer wins.
	point.Vector = []float32{0.9, 0.8, 0.7, 0.6}
	require.NoError(t, store.Upsert(ctx, point))

	got, err = store.Get(ctx, collection, "10001")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.9, 0.8, 0.7, 0.6}, got.Vector)
}

func TestVectorDimensionEnforced(t *testing.T) {
	store := newTestStore(t)

	err := store.Upsert(context.Background(), &models.VectorPoint{
		TenantID:   "tenant-a",
		Collection: "tenant_tenant-a_jira_issues",
		ExternalID: "10001",
		Vector:     []float32{0.1, 0.2},
	})
	assert.Error(t, err)
}

func TestVectorTenantCollectionsIsolated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, tenant := range []string{"tenant-a", "tenant-b"} {
		require.NoError(t, store.Upsert(ctx, &models.VectorPoint{
			TenantID:   tenant,
			Collection: models.EntityJiraIssues.VectorCollection(tenant),
			ExternalID: "10001",
			Vector:     []float32{1, 2, 3, 4},
		}))
	}

	countA, err := store.Count(ctx, models.EntityJiraIssues.VectorCollection("tenant-a"))
	require.NoError(t, err)
	assert.Equal(t, 1, countA)

	_, err = store.Get(ctx, models.EntityJiraIssues.VectorCollection("tenant-c"), "10001")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestVectorDeleteIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	collection := models.EntityGitHubPRs.VectorCollection("tenant-a")
	require.NoError(t, store.Upsert(ctx, &models.VectorPoint{
		TenantID:   "tenant-a",
		Collection: collection,
		ExternalID: "gh-pr-42",
		Vector:     []float32{1, 2, 3, 4},
	}))

	require.NoError(t, store.Delete(ctx, collection, "gh-pr-42"))
	require.NoError(t, store.Delete(ctx, collection, "gh-pr-42"))

	_, err := store.Get(ctx, collection, "gh-pr-42")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
