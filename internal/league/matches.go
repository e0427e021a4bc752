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

// Member is a chat user as seen in one message.
type Member struct {
	UserID      string
	DisplayName string
}

type ReportRequest struct {
	Room      string
	RoomName  string
	MessageID string
	Reporter  Member
	PlayerA   Member
	PlayerB   Member
	ScoreA    int
	ScoreB    int
}

type ReportResult struct {
	*ladder.MatchOutcome
	PlayerA *domain.Player
	PlayerB *domain.Player
}

// ReportMatch registers a result reported in a room. Groups, players and
// their rating rows are created on first use.
func (s *Service) ReportMatch(ctx context.Context, req ReportRequest) (*ReportResult, error) {
	if strings.TrimSpace(req.PlayerA.UserID) == "" || strings.TrimSpace(req.PlayerB.UserID) == "" {
		return nil, &ladder.ValidationError{Field: "player", Reason: "both players are required"}
	}
	if req.PlayerA.UserID == req.PlayerB.UserID {
		return nil, &ladder.ValidationError{Field: "player_b_id", Reason: "a player cannot play against themselves"}
	}

	key, err := ladder.IdempotencyKey(req.Room, req.MessageID)
	if err != nil {
		return nil, err
	}

	g, err := s.dir.EnsureGroup(ctx, req.Room, req.RoomName)
	if err != nil {
		return nil, fmt.Errorf("ensure group: %w", err)
	}
	a, err := s.enroll(ctx, g.ID, req.PlayerA)
	if err != nil {
		return nil, err
	}
	b, err := s.enroll(ctx, g.ID, req.PlayerB)
	if err != nil {
		return nil, err
	}

	out, err := s.engine.RegisterMatch(ctx, ladder.MatchReport{
		GroupID:        g.ID,
		PlayerAID:      a.ID,
		PlayerBID:      b.ID,
		ScoreA:         req.ScoreA,
		ScoreB:         req.ScoreB,
		IdempotencyKey: key,
		Actor:          req.Reporter.UserID,
	})
	if err != nil {
		return nil, err
	}
	return &ReportResult{MatchOutcome: out, PlayerA: a, PlayerB: b}, nil
}

func (s *Service) enroll(ctx context.Context, groupID int64, m Member) (*domain.Player, error) {
	p, err := s.dir.EnsurePlayer(ctx, m.UserID, m.DisplayName)
	if err != nil {
		return nil, fmt.Errorf("ensure player %s: %w", m.UserID, err)
	}
	if _, err := s.dir.EnsureGroupPlayer(ctx, groupID, p.ID); err != nil {
		return nil, fmt.Errorf("ensure group player %s: %w", m.UserID, err)
	}
	return p, nil
}

type UndoRequest struct {
	Room      string
	Requester Member
	// MatchID selects a match explicitly. Zero means the requester's most
	// recent active match in the room.
	MatchID int64
}

type UndoResult struct {
	*ladder.UndoOutcome
	Match   *domain.Match
	Player1 *domain.Player
	Player2 *domain.Player
	ByAdmin bool
}

// Undo reverses a match after checking that the requester took part in it
// (or is an admin) and that it is still within the undo window. Admins are
// not bound by the window.
func (s *Service) Undo(ctx context.Context, req UndoRequest) (*UndoResult, error) {
	g, err := s.dir.GroupByExternalID(ctx, req.Room)
	if err != nil {
		return nil, err
	}

	var requester *domain.Player
	if p, err := s.dir.PlayerByExternalID(ctx, req.Requester.UserID); err == nil {
		requester = p
	} else if !errors.Is(err, ladder.ErrNotFound) {
		return nil, err
	}

	m, err := s.undoTarget(ctx, g.ID, requester, req.MatchID)
	if err != nil {
		return nil, err
	}
	if m.IsUndone {
		return nil, fmt.Errorf("match id=%d: %w", m.ID, ladder.ErrAlreadyUndone)
	}

	participant := requester != nil && m.Involves(requester.ID)
	admin := s.IsAdmin(ctx, req.Room, req.Requester.UserID)
	if !participant && !admin {
		return nil, ErrNotParticipant
	}
	if !admin && s.now().Sub(m.CreatedAt) > s.cfg.UndoWindow {
		return nil, fmt.Errorf("match id=%d created %s: %w", m.ID, m.CreatedAt.Format("2006-01-02 15:04"), ErrUndoWindowExpired)
	}

	out, err := s.engine.UndoMatch(ctx, m.ID, req.Requester.UserID)
	if err != nil {
		return nil, err
	}
	res := &UndoResult{UndoOutcome: out, Match: m, ByAdmin: admin && !participant}
	if res.Player1, err = s.dir.PlayerByID(ctx, m.Player1ID); err != nil {
		return nil, err
	}
	if res.Player2, err = s.dir.PlayerByID(ctx, m.Player2ID); err != nil {
		return nil, err
	}
	if res.ByAdmin {
		s.logger.Info("match_undone_by_admin", zap.Int64("match_id", m.ID), zap.String("admin", req.Requester.UserID))
	}
	return res, nil
}

func (s *Service) undoTarget(ctx context.Context, groupID int64, requester *domain.Player, matchID int64) (*domain.Match, error) {
	if matchID > 0 {
		m, err := s.dir.MatchByID(ctx, matchID)
		if err != nil {
			return nil, err
		}
		if m.GroupID != groupID {
			// 다른 방의 경기는 존재하지 않는 것으로 취급
			return nil, fmt.Errorf("match id=%d: %w", matchID, ladder.ErrNotFound)
		}
		return m, nil
	}
	if requester == nil {
		return nil, fmt.Errorf("no matches for requester: %w", ladder.ErrNotFound)
	}
	return s.dir.LastActiveMatch(ctx, groupID, requester.ID)
}
