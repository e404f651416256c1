package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// FollowEdge is a directed "follower follows following" relation.
type FollowEdge struct {
	ID          snowflake.ID
	FollowerID  string
	FollowingID string
	CreatedAt   time.Time
}

// Repository is the follow graph store. At most one edge exists per ordered pair
// and an edge never points at its own follower.
type Repository interface {
	AddEdge(ctx context.Context, db *gorm.DB, edge *FollowEdge) error
	RemoveEdge(ctx context.Context, db *gorm.DB, followerID, followingID string) (*FollowEdge, error)
	FindEdge(ctx context.Context, db *gorm.DB, followerID, followingID string) (*FollowEdge, error)
	ListFollowers(ctx context.Context, db *gorm.DB, userID string) ([]FollowEdge, error)
	ListFollowing(ctx context.Context, db *gorm.DB, userID string) ([]FollowEdge, error)
}
