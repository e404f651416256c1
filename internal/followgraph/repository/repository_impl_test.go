package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kinship/internal/followgraph/domain"
	"github.com/smallbiznis/kinship/internal/followgraph/repository"
	"github.com/smallbiznis/kinship/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEdge(t *testing.T, node *snowflake.Node, follower, following string, at time.Time) *domain.FollowEdge {
	t.Helper()
	return &domain.FollowEdge{ID: node.Generate(), FollowerID: follower, FollowingID: following, CreatedAt: at}
}

func TestAddEdgeRejectsSelfAndDuplicate(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := repository.Provide()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	now := time.Now().UTC()

	assert.ErrorIs(t, repo.AddEdge(ctx, db, newEdge(t, node, "u1", "u1", now)), domain.ErrInvalidEdge)
	assert.ErrorIs(t, repo.AddEdge(ctx, db, newEdge(t, node, "", "u1", now)), domain.ErrInvalidEdge)

	require.NoError(t, repo.AddEdge(ctx, db, newEdge(t, node, "u1", "u2", now)))
	assert.ErrorIs(t, repo.AddEdge(ctx, db, newEdge(t, node, "u1", "u2", now)), domain.ErrAlreadyExists)

	// the reverse direction is a different edge
	require.NoError(t, repo.AddEdge(ctx, db, newEdge(t, node, "u2", "u1", now)))
}

func TestRemoveEdge(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := repository.Provide()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	edge := newEdge(t, node, "u1", "u2", time.Now().UTC())
	require.NoError(t, repo.AddEdge(ctx, db, edge))

	removed, err := repo.RemoveEdge(ctx, db, "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, edge.ID, removed.ID)

	_, err = repo.RemoveEdge(ctx, db, "u1", "u2")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	found, err := repo.FindEdge(ctx, db, "u1", "u2")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestListFollowersAndFollowingNewestFirst(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := repository.Provide()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.AddEdge(ctx, db, newEdge(t, node, "u2", "u1", base)))
	require.NoError(t, repo.AddEdge(ctx, db, newEdge(t, node, "u3", "u1", base.Add(time.Minute))))
	require.NoError(t, repo.AddEdge(ctx, db, newEdge(t, node, "u1", "u3", base.Add(2*time.Minute))))

	followers, err := repo.ListFollowers(ctx, db, "u1")
	require.NoError(t, err)
	require.Len(t, followers, 2)
	assert.Equal(t, "u3", followers[0].FollowerID)
	assert.Equal(t, "u2", followers[1].FollowerID)
	assert.True(t, followers[1].CreatedAt.Equal(base))

	following, err := repo.ListFollowing(ctx, db, "u1")
	require.NoError(t, err)
	require.Len(t, following, 1)
	assert.Equal(t, "u3", following[0].FollowingID)

	empty, err := repo.ListFollowers(ctx, db, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
