package domain

import (
	"context"
	"time"
)

type Service interface {
	Follow(ctx context.Context, actorID, targetID string) (*FollowResponse, error)
	Unfollow(ctx context.Context, actorID, targetID string) error
	Status(ctx context.Context, actorID, targetID string) (*StatusResponse, error)
	Followers(ctx context.Context, userID string) (*ListResponse, error)
	Following(ctx context.Context, userID string) (*ListResponse, error)
}

type FollowResponse struct {
	ID          string    `json:"id"`
	FollowerID  string    `json:"followerId"`
	FollowingID string    `json:"followingId"`
	CreatedAt   time.Time `json:"createdAt"`
}

type StatusResponse struct {
	IsFollowing  bool    `json:"isFollowing"`
	FollowID     *string `json:"followId"`
	IsFollowedBy bool    `json:"isFollowedBy"`
}

type ListResponse struct {
	Users []UserSummary `json:"users"`
	Count int           `json:"count"`
}

// UserSummary carries only the id when directory or profile data is unavailable.
type UserSummary struct {
	ID         string          `json:"id"`
	Email      string          `json:"email,omitempty"`
	Profile    *ProfileSummary `json:"profile,omitempty"`
	FollowedAt time.Time       `json:"followedAt"`
}

type ProfileSummary struct {
	Name      *string  `json:"name,omitempty"`
	Headline  *string  `json:"headline,omitempty"`
	Bio       *string  `json:"bio,omitempty"`
	PhotoURL  *string  `json:"photoUrl,omitempty"`
	Interests []string `json:"interests,omitempty"`
}
