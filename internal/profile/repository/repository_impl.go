package repository

import (
	"context"

	"github.com/smallbiznis/kinship/internal/profile/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var user domain.User
	err := db.WithContext(ctx).Raw(
		`SELECT id, email FROM users WHERE id = ?`,
		id,
	).Scan(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, nil
	}
	return &user, nil
}

func (r *repo) FindUsers(ctx context.Context, db *gorm.DB, ids []string) ([]domain.User, error) {
	var users []domain.User
	if len(ids) == 0 {
		return users, nil
	}
	err := db.WithContext(ctx).Raw(
		`SELECT id, email FROM users WHERE id IN ?`,
		ids,
	).Scan(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (r *repo) FindProfiles(ctx context.Context, db *gorm.DB, userIDs []string) ([]domain.Profile, error) {
	var profiles []domain.Profile
	if len(userIDs) == 0 {
		return profiles, nil
	}
	err := db.WithContext(ctx).Raw(
		`SELECT user_id, name, headline, bio, photo_url, interests
		 FROM profiles
		 WHERE user_id IN ?`,
		userIDs,
	).Scan(&profiles).Error
	if err != nil {
		return nil, err
	}
	return profiles, nil
}
