package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kinship/internal/followgraph/domain"
	"github.com/smallbiznis/kinship/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

type edgeRow struct {
	ID          int64
	FollowerID  string
	FollowingID string
	CreatedAt   time.Time
}

func (r *repo) AddEdge(ctx context.Context, conn *gorm.DB, edge *domain.FollowEdge) error {
	if edge == nil {
		return domain.ErrInvalidEdge
	}
	follower := strings.TrimSpace(edge.FollowerID)
	following := strings.TrimSpace(edge.FollowingID)
	if follower == "" || following == "" || follower == following {
		return domain.ErrInvalidEdge
	}

	result := conn.WithContext(ctx).Exec(
		`INSERT INTO follows (id, follower_id, following_id, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (follower_id, following_id) DO NOTHING`,
		edge.ID.Int64(),
		follower,
		following,
		edge.CreatedAt,
	)
	if err := result.Error; err != nil {
		switch {
		case db.IsDuplicateKeyErr(err):
			return domain.ErrAlreadyExists
		case db.IsCheckViolationErr(err):
			return domain.ErrInvalidEdge
		}
		return err
	}
	if result.RowsAffected == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (r *repo) RemoveEdge(ctx context.Context, conn *gorm.DB, followerID, followingID string) (*domain.FollowEdge, error) {
	edge, err := r.FindEdge(ctx, conn, followerID, followingID)
	if err != nil {
		return nil, err
	}
	if edge == nil {
		return nil, domain.ErrNotFound
	}

	result := conn.WithContext(ctx).Exec(
		`DELETE FROM follows WHERE id = ?`,
		edge.ID.Int64(),
	)
	if result.Error != nil {
		return nil, result.Error
	}
	// a concurrent unfollow won the race
	if result.RowsAffected == 0 {
		return nil, domain.ErrNotFound
	}
	return edge, nil
}

func (r *repo) FindEdge(ctx context.Context, conn *gorm.DB, followerID, followingID string) (*domain.FollowEdge, error) {
	var row edgeRow
	err := conn.WithContext(ctx).Raw(
		`SELECT id, follower_id, following_id, created_at
		 FROM follows
		 WHERE follower_id = ? AND following_id = ?`,
		strings.TrimSpace(followerID),
		strings.TrimSpace(followingID),
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	edge := row.toDomain()
	return &edge, nil
}

func (r *repo) ListFollowers(ctx context.Context, conn *gorm.DB, userID string) ([]domain.FollowEdge, error) {
	return r.list(ctx, conn, `following_id = ?`, userID)
}

func (r *repo) ListFollowing(ctx context.Context, conn *gorm.DB, userID string) ([]domain.FollowEdge, error) {
	return r.list(ctx, conn, `follower_id = ?`, userID)
}

func (r *repo) list(ctx context.Context, conn *gorm.DB, where string, userID string) ([]domain.FollowEdge, error) {
	var rows []edgeRow
	err := conn.WithContext(ctx).Raw(
		`SELECT id, follower_id, following_id, created_at
		 FROM follows
		 WHERE `+where+`
		 ORDER BY created_at DESC, id DESC`,
		strings.TrimSpace(userID),
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	edges := make([]domain.FollowEdge, 0, len(rows))
	for _, row := range rows {
		edges = append(edges, row.toDomain())
	}
	return edges, nil
}

func (row edgeRow) toDomain() domain.FollowEdge {
	return domain.FollowEdge{
		ID:          snowflake.ID(row.ID),
		FollowerID:  row.FollowerID,
		FollowingID: row.FollowingID,
		CreatedAt:   row.CreatedAt.UTC(),
	}
}
