package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kinship/internal/clock"
	"github.com/smallbiznis/kinship/internal/events"
	"github.com/smallbiznis/kinship/internal/followgraph/domain"
	"github.com/smallbiznis/kinship/internal/followgraph/repository"
	"github.com/smallbiznis/kinship/internal/followgraph/service"
	"github.com/smallbiznis/kinship/internal/observability/metrics"
	profiledomain "github.com/smallbiznis/kinship/internal/profile/domain"
	profilerepo "github.com/smallbiznis/kinship/internal/profile/repository"
	profileservice "github.com/smallbiznis/kinship/internal/profile/service"
	"github.com/smallbiznis/kinship/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type fixture struct {
	db   *gorm.DB
	svc  domain.Service
	logs *observer.ObservedLogs
}

func newFixture(t *testing.T, directory func(*gorm.DB) profiledomain.Directory) fixture {
	t.Helper()

	db := testutil.NewDB(t)
	for _, id := range []string{"u1", "u2", "u3"} {
		testutil.SeedUser(t, db, id, id+"@example.com", "name-"+id)
	}

	node, err := snowflake.NewNode(7)
	require.NoError(t, err)

	var dir profiledomain.Directory
	if directory != nil {
		dir = directory(db)
	} else {
		dir = profileservice.NewService(profileservice.Params{DB: db, Log: zap.NewNop(), Repo: profilerepo.Provide()})
	}

	core, logs := observer.New(zapcore.InfoLevel)
	svc := service.NewService(service.Params{
		DB:        db,
		Log:       zap.New(core),
		GenID:     node,
		Clock:     clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		Repo:      repository.Provide(),
		Directory: dir,
		Outbox:    events.NewOutbox(events.OutboxParams{DB: db, GenID: node}),
		Metrics:   metrics.NewNoop(),
	})
	return fixture{db: db, svc: svc, logs: logs}
}

func TestFollowValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Follow(ctx, "u1", "u1")
	assert.ErrorIs(t, err, domain.ErrInvalidEdge)

	_, err = f.svc.Follow(ctx, "u1", " ")
	assert.ErrorIs(t, err, domain.ErrMissingFollowingID)

	_, err = f.svc.Follow(ctx, "u1", "ghost")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestFollowUnfollowLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	edge, err := f.svc.Follow(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, "u1", edge.FollowerID)
	assert.Equal(t, "u2", edge.FollowingID)
	assert.NotEmpty(t, edge.ID)

	_, err = f.svc.Follow(ctx, "u1", "u2")
	assert.ErrorIs(t, err, domain.ErrAlreadyFollowing)

	status, err := f.svc.Status(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.True(t, status.IsFollowing)
	require.NotNil(t, status.FollowID)
	assert.Equal(t, edge.ID, *status.FollowID)
	assert.False(t, status.IsFollowedBy)

	reverse, err := f.svc.Status(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.False(t, reverse.IsFollowing)
	assert.True(t, reverse.IsFollowedBy)

	require.NoError(t, f.svc.Unfollow(ctx, "u1", "u2"))
	assert.ErrorIs(t, f.svc.Unfollow(ctx, "u1", "u2"), domain.ErrNotFollowing)

	status, err = f.svc.Status(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.False(t, status.IsFollowing)
	assert.Nil(t, status.FollowID)

	var types []string
	require.NoError(t, f.db.Raw(`SELECT event_type FROM social_events ORDER BY id`).Scan(&types).Error)
	assert.Equal(t, []string{events.EventFollowCreated, events.EventFollowDeleted}, types)
}

func TestFollowersScenario(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Follow(ctx, "u1", "u2")
	require.NoError(t, err)

	followers, err := f.svc.Followers(ctx, "u2")
	require.NoError(t, err)
	require.Equal(t, 1, followers.Count)
	assert.Equal(t, "u1", followers.Users[0].ID)
	assert.Equal(t, "u1@example.com", followers.Users[0].Email)
	require.NotNil(t, followers.Users[0].Profile)
	assert.Equal(t, "name-u1", *followers.Users[0].Profile.Name)
	assert.Equal(t, []string{"golang"}, followers.Users[0].Profile.Interests)

	following, err := f.svc.Following(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, following.Count)
	assert.Equal(t, "u2", following.Users[0].ID)

	require.NoError(t, f.svc.Unfollow(ctx, "u1", "u2"))
	followers, err = f.svc.Followers(ctx, "u2")
	require.NoError(t, err)
	assert.Zero(t, followers.Count)
	assert.Empty(t, followers.Users)
}

func TestConcurrentFollowCreatesExactlyOneEdge(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Follow(ctx, "u1", "u3")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrAlreadyFollowing):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)

	var count int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM follows WHERE follower_id = 'u1' AND following_id = 'u3'`).Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

type failingDirectory struct {
	profiledomain.Directory
}

func (failingDirectory) LookupCounterparts(context.Context, []string) (map[string]profiledomain.Counterpart, error) {
	return nil, errors.New("directory unavailable")
}

func TestFollowersDegradeToIdentityOnly(t *testing.T) {
	f := newFixture(t, func(db *gorm.DB) profiledomain.Directory {
		base := profileservice.NewService(profileservice.Params{DB: db, Log: zap.NewNop(), Repo: profilerepo.Provide()})
		return failingDirectory{Directory: base}
	})
	ctx := context.Background()

	_, err := f.svc.Follow(ctx, "u1", "u2")
	require.NoError(t, err)

	followers, err := f.svc.Followers(ctx, "u2")
	require.NoError(t, err)
	require.Equal(t, 1, followers.Count)
	assert.Equal(t, "u1", followers.Users[0].ID)
	assert.Empty(t, followers.Users[0].Email)
	assert.Nil(t, followers.Users[0].Profile)
}

func TestStoreFailuresAreLoggedWithIdentifiers(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.db.Exec(`DROP TABLE follows`).Error)

	assert.Error(t, f.svc.Unfollow(ctx, "u1", "u2"))
	_, err := f.svc.Status(ctx, "u1", "u2")
	assert.Error(t, err)
	_, err = f.svc.Followers(ctx, "u2")
	assert.Error(t, err)
	_, err = f.svc.Following(ctx, "u1")
	assert.Error(t, err)

	entries := f.logs.FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, entries, 4)

	unfollow := entries[0].ContextMap()
	assert.Equal(t, "u1", unfollow["follower_id"])
	assert.Equal(t, "u2", unfollow["following_id"])
	assert.Contains(t, unfollow, "error")

	assert.Equal(t, "status", entries[1].ContextMap()["operation"])
	assert.Equal(t, "u1", entries[1].ContextMap()["follower_id"])

	assert.Equal(t, "list_followers", entries[2].ContextMap()["operation"])
	assert.Equal(t, "u2", entries[2].ContextMap()["user_id"])

	assert.Equal(t, "list_following", entries[3].ContextMap()["operation"])
	assert.Equal(t, "u1", entries[3].ContextMap()["user_id"])
}

func TestUnfollowOfMissingEdgeIsNotLogged(t *testing.T) {
	f := newFixture(t, nil)

	err := f.svc.Unfollow(context.Background(), "u1", "u2")
	assert.ErrorIs(t, err, domain.ErrNotFollowing)
	assert.Zero(t, f.logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}
