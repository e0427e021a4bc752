package league

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/park285/elo-ladder-bot/internal/domain"
	"github.com/park285/elo-ladder-bot/internal/ladder"
	"go.uber.org/zap"
)

// Rankings returns the top of the room's ladder. An unknown room has no
// rankings.
func (s *Service) Rankings(ctx context.Context, room string, limit int) ([]domain.RankingEntry, error) {
	if limit <= 0 {
		limit = s.cfg.RankingLimit
	}
	g, err := s.dir.GroupByExternalID(ctx, room)
	if errors.Is(err, ladder.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.dir.Rankings(ctx, g.ID, limit)
}

// History returns the user's active rating changes in room, oldest first.
func (s *Service) History(ctx context.Context, room, userID string, limit int) ([]domain.EloHistory, error) {
	if limit <= 0 {
		limit = s.cfg.HistoryLimit
	}
	g, err := s.dir.GroupByExternalID(ctx, room)
	if err != nil {
		return nil, err
	}
	p, err := s.dir.PlayerByExternalID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.dir.EloHistory(ctx, g.ID, p.ID, limit)
}

// Standing is the rating row of one user in one room.
func (s *Service) Standing(ctx context.Context, room, userID string) (*domain.GroupPlayer, error) {
	g, err := s.dir.GroupByExternalID(ctx, room)
	if err != nil {
		return nil, err
	}
	p, err := s.dir.PlayerByExternalID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.dir.GroupPlayer(ctx, g.ID, p.ID)
}

// VerifyStudent links userID to a school login after checking that the
// login belongs to an active participant.
func (s *Service) VerifyStudent(ctx context.Context, user Member, nickname string) (*domain.Player, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return nil, &ladder.ValidationError{Field: "nickname", Reason: "must not be empty"}
	}
	if s.ids == nil {
		return nil, ErrIdentityDisabled
	}
	part, err := s.ids.Participant(ctx, nickname)
	if err != nil {
		return nil, err
	}
	if !part.Active() {
		return nil, fmt.Errorf("login=%s status=%s: %w", part.Login, part.Status, ErrNotVerified)
	}

	p, err := s.dir.EnsurePlayer(ctx, user.UserID, user.DisplayName)
	if err != nil {
		return nil, err
	}
	p.SchoolNickname = part.Login
	p.IsVerifiedStudent = true
	p.IsAllowedNonStudent = false
	if err := s.dir.UpdatePlayerIdentity(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("player_verified", zap.String("user_id", user.UserID), zap.String("login", part.Login))
	return p, nil
}

// RegisterGuest marks userID as an allowed non-student.
func (s *Service) RegisterGuest(ctx context.Context, user Member) (*domain.Player, error) {
	p, err := s.dir.EnsurePlayer(ctx, user.UserID, user.DisplayName)
	if err != nil {
		return nil, err
	}
	p.SchoolNickname = ""
	p.IsVerifiedStudent = false
	p.IsAllowedNonStudent = true
	if err := s.dir.UpdatePlayerIdentity(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("player_registered_guest", zap.String("user_id", user.UserID))
	return p, nil
}

// MemberJoined records the player so later mentions and reports find them.
func (s *Service) MemberJoined(ctx context.Context, room, roomName string, user Member) error {
	g, err := s.dir.EnsureGroup(ctx, room, roomName)
	if err != nil {
		return err
	}
	p, err := s.dir.EnsurePlayer(ctx, user.UserID, user.DisplayName)
	if err != nil {
		return err
	}
	_, err = s.dir.EnsureGroupPlayer(ctx, g.ID, p.ID)
	return err
}

// MemberLeft soft-deletes the player. Their matches and history are kept.
func (s *Service) MemberLeft(ctx context.Context, userID string) error {
	p, err := s.dir.PlayerByExternalID(ctx, userID)
	if errors.Is(err, ladder.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.dir.SoftDeletePlayer(ctx, p.ID, s.now()); err != nil {
		return err
	}
	s.logger.Info("player_soft_deleted", zap.String("user_id", userID), zap.Int64("player_id", p.ID))
	return nil
}

// BotRemoved deactivates the room's group when the bot leaves it.
func (s *Service) BotRemoved(ctx context.Context, room string) error {
	g, err := s.dir.GroupByExternalID(ctx, room)
	if errors.Is(err, ladder.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.dir.DeactivateGroup(ctx, g.ID)
}
