package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kinship/internal/clock"
	"github.com/smallbiznis/kinship/internal/events"
	"github.com/smallbiznis/kinship/internal/followgraph/domain"
	"github.com/smallbiznis/kinship/internal/observability/metrics"
	"github.com/smallbiznis/kinship/internal/observability/tracing"
	profiledomain "github.com/smallbiznis/kinship/internal/profile/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	Directory profiledomain.Directory
	Outbox    *events.Outbox
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	directory profiledomain.Directory
	outbox    *events.Outbox
	metrics   *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("followgraph.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		directory: p.Directory,
		outbox:    p.Outbox,
		metrics:   p.Metrics,
	}
}

func (s *Service) Follow(ctx context.Context, actorID, targetID string) (resp *domain.FollowResponse, err error) {
	actorID = strings.TrimSpace(actorID)
	targetID = strings.TrimSpace(targetID)

	ctx, span := tracing.Start(ctx, "followgraph.follow", tracing.FollowEdge(actorID, targetID)...)
	defer func() {
		tracing.End(span, err, clientErrors...)
		s.metrics.RecordFollowOperation(ctx, "follow", resultOf(err))
	}()

	switch {
	case actorID == "":
		return nil, domain.ErrMissingUserID
	case targetID == "":
		return nil, domain.ErrMissingFollowingID
	case actorID == targetID:
		return nil, domain.ErrInvalidEdge
	}

	if _, err := s.directory.GetUser(ctx, targetID); err != nil {
		if errors.Is(err, profiledomain.ErrUserNotFound) {
			return nil, domain.ErrUserNotFound
		}
		s.log.Error("failed to look up follow target",
			zap.String("following_id", targetID),
			zap.Error(err),
		)
		return nil, err
	}

	edge := &domain.FollowEdge{
		ID:          s.genID.Generate(),
		FollowerID:  actorID,
		FollowingID: targetID,
		CreatedAt:   s.clock.Now(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.AddEdge(ctx, tx, edge); err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, events.Event{
			Type:        events.EventFollowCreated,
			AggregateID: actorID,
			DedupeKey:   events.EventFollowCreated + ":" + edge.ID.String(),
			Payload: events.FollowPayload{
				FollowID:    edge.ID.String(),
				FollowerID:  actorID,
				FollowingID: targetID,
				OccurredAt:  edge.CreatedAt,
			}.ToMap(),
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, domain.ErrAlreadyFollowing
		}
		if !errors.Is(err, domain.ErrInvalidEdge) {
			s.log.Error("failed to add follow edge",
				zap.String("follower_id", actorID),
				zap.String("following_id", targetID),
				zap.Error(err),
			)
		}
		return nil, err
	}

	return &domain.FollowResponse{
		ID:          edge.ID.String(),
		FollowerID:  edge.FollowerID,
		FollowingID: edge.FollowingID,
		CreatedAt:   edge.CreatedAt,
	}, nil
}

func (s *Service) Unfollow(ctx context.Context, actorID, targetID string) (err error) {
	actorID = strings.TrimSpace(actorID)
	targetID = strings.TrimSpace(targetID)

	ctx, span := tracing.Start(ctx, "followgraph.unfollow", tracing.FollowEdge(actorID, targetID)...)
	defer func() {
		tracing.End(span, err, clientErrors...)
		s.metrics.RecordFollowOperation(ctx, "unfollow", resultOf(err))
	}()

	switch {
	case actorID == "":
		return domain.ErrMissingUserID
	case targetID == "":
		return domain.ErrMissingFollowingID
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		edge, err := s.repo.RemoveEdge(ctx, tx, actorID, targetID)
		if err != nil {
			return err
		}
		return s.outbox.PublishTx(ctx, tx, events.Event{
			Type:        events.EventFollowDeleted,
			AggregateID: actorID,
			DedupeKey:   events.EventFollowDeleted + ":" + edge.ID.String(),
			Payload: events.FollowPayload{
				FollowID:    edge.ID.String(),
				FollowerID:  actorID,
				FollowingID: targetID,
				OccurredAt:  s.clock.Now(),
			}.ToMap(),
		})
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound):
		return domain.ErrNotFollowing
	default:
		s.log.Error("failed to remove follow edge",
			zap.String("follower_id", actorID),
			zap.String("following_id", targetID),
			zap.Error(err),
		)
		return err
	}
}

func (s *Service) Status(ctx context.Context, actorID, targetID string) (*domain.StatusResponse, error) {
	actorID = strings.TrimSpace(actorID)
	targetID = strings.TrimSpace(targetID)
	switch {
	case actorID == "":
		return nil, domain.ErrMissingUserID
	case targetID == "":
		return nil, domain.ErrMissingFollowingID
	}

	resp := &domain.StatusResponse{}
	if actorID == targetID {
		return resp, nil
	}

	outgoing, err := s.repo.FindEdge(ctx, s.db, actorID, targetID)
	if err != nil {
		s.logStoreError("status", err, zap.String("follower_id", actorID), zap.String("following_id", targetID))
		return nil, err
	}
	if outgoing != nil {
		id := outgoing.ID.String()
		resp.IsFollowing = true
		resp.FollowID = &id
	}

	incoming, err := s.repo.FindEdge(ctx, s.db, targetID, actorID)
	if err != nil {
		s.logStoreError("status", err, zap.String("follower_id", targetID), zap.String("following_id", actorID))
		return nil, err
	}
	resp.IsFollowedBy = incoming != nil

	return resp, nil
}

func (s *Service) Followers(ctx context.Context, userID string) (*domain.ListResponse, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrMissingUserID
	}
	edges, err := s.repo.ListFollowers(ctx, s.db, userID)
	if err != nil {
		s.logStoreError("list_followers", err, zap.String("user_id", userID))
		return nil, err
	}
	return s.enrich(ctx, edges, func(edge domain.FollowEdge) string { return edge.FollowerID }), nil
}

func (s *Service) Following(ctx context.Context, userID string) (*domain.ListResponse, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrMissingUserID
	}
	edges, err := s.repo.ListFollowing(ctx, s.db, userID)
	if err != nil {
		s.logStoreError("list_following", err, zap.String("user_id", userID))
		return nil, err
	}
	return s.enrich(ctx, edges, func(edge domain.FollowEdge) string { return edge.FollowingID }), nil
}

func (s *Service) enrich(ctx context.Context, edges []domain.FollowEdge, counterpart func(domain.FollowEdge) string) *domain.ListResponse {
	ids := make([]string, 0, len(edges))
	for _, edge := range edges {
		ids = append(ids, counterpart(edge))
	}

	found, err := s.directory.LookupCounterparts(ctx, ids)
	if err != nil {
		s.log.Warn("counterpart lookup failed, returning identities only",
			zap.Int("count", len(ids)),
			zap.Error(err),
		)
		found = nil
	}

	users := make([]domain.UserSummary, 0, len(edges))
	for _, edge := range edges {
		id := counterpart(edge)
		summary := domain.UserSummary{ID: id, FollowedAt: edge.CreatedAt}
		if entry, ok := found[id]; ok {
			summary.Email = entry.Email
			summary.Profile = toProfileSummary(entry.Profile)
		}
		users = append(users, summary)
	}

	return &domain.ListResponse{Users: users, Count: len(users)}
}

func (s *Service) logStoreError(op string, err error, fields ...zap.Field) {
	s.log.Error("follow graph read failed",
		append([]zap.Field{zap.String("operation", op), zap.Error(err)}, fields...)...,
	)
}

func toProfileSummary(profile *profiledomain.Profile) *domain.ProfileSummary {
	if profile == nil {
		return nil
	}
	summary := &domain.ProfileSummary{
		Name:     profile.Name,
		Headline: profile.Headline,
		Bio:      profile.Bio,
		PhotoURL: profile.PhotoURL,
	}
	if len(profile.Interests) > 0 {
		var interests []string
		if err := json.Unmarshal(profile.Interests, &interests); err == nil {
			summary.Interests = interests
		}
	}
	return summary
}

// clientErrors are rejections of the request, not failures of the service.
var clientErrors = []error{
	domain.ErrAlreadyFollowing,
	domain.ErrNotFollowing,
	domain.ErrInvalidEdge,
	domain.ErrUserNotFound,
	domain.ErrMissingFollowingID,
	domain.ErrMissingUserID,
}

func resultOf(err error) string {
	if err == nil {
		return "ok"
	}
	switch {
	case errors.Is(err, domain.ErrAlreadyFollowing):
		return "already_following"
	case errors.Is(err, domain.ErrNotFollowing):
		return "not_following"
	case errors.Is(err, domain.ErrInvalidEdge):
		return "invalid_edge"
	case errors.Is(err, domain.ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, domain.ErrMissingFollowingID), errors.Is(err, domain.ErrMissingUserID):
		return "validation_error"
	default:
		return "error"
	}
}
