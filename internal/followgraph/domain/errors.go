package domain

import "errors"

var (
	ErrInvalidEdge   = errors.New("invalid_edge")
	ErrAlreadyExists = errors.New("edge_already_exists")
	ErrNotFound      = errors.New("edge_not_found")

	ErrMissingFollowingID = errors.New("missing_following_id")
	ErrMissingUserID      = errors.New("missing_user_id")
	ErrAlreadyFollowing   = errors.New("already_following")
	ErrNotFollowing       = errors.New("not_following")
	ErrUserNotFound       = errors.New("user_not_found")
)
