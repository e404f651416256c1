package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/kinship/internal/profile/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func NewService(p Params) domain.Directory {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("profile.directory"),
		repo: p.Repo,
	}
}

func (s *Service) GetUser(ctx context.Context, id string) (*domain.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.ErrUserNotFound
	}
	user, err := s.repo.FindUser(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrUserNotFound
	}
	return user, nil
}

// LookupCounterparts returns the users it could find. Ids without a user row are
// absent from the result; a missing profile leaves Counterpart.Profile nil.
func (s *Service) LookupCounterparts(ctx context.Context, ids []string) (map[string]domain.Counterpart, error) {
	out := make(map[string]domain.Counterpart, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	users, err := s.repo.FindUsers(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for _, user := range users {
		out[user.ID] = domain.Counterpart{ID: user.ID, Email: user.Email}
	}

	profiles, err := s.repo.FindProfiles(ctx, s.db, ids)
	if err != nil {
		// users are still useful without profiles
		s.log.Warn("profile lookup failed", zap.Int("count", len(ids)), zap.Error(err))
		return out, nil
	}
	for i := range profiles {
		profile := profiles[i]
		entry, ok := out[profile.UserID]
		if !ok {
			continue
		}
		entry.Profile = &profile
		out[profile.UserID] = entry
	}
	return out, nil
}
