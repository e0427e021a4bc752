package ladder

import (
	"context"
	"fmt"

	"github.com/park285/elo-ladder-bot/internal/domain"
	"github.com/park285/elo-ladder-bot/internal/retry"
	"go.uber.org/zap"
)

type UndoOutcome struct {
	MatchID   int64
	GroupID   int64
	Player1ID int64
	Player2ID int64
	// rating before and after the reversal, per participant
	Player1EloBefore int
	Player1EloAfter  int
	Player2EloBefore int
	Player2EloAfter  int
	Attempts         int
}

// UndoMatch reverses the rating and counter effect of a match. The reversal
// subtracts the match's own delta from the current rating; it does not restore
// the stored pre-match snapshot. Who may undo and until when is decided by the
// caller.
func (e *Engine) UndoMatch(ctx context.Context, matchID int64, actor string) (*UndoOutcome, error) {
	if matchID <= 0 {
		return nil, invalid("match_id", "must be positive, got %d", matchID)
	}

	attempts := 0
	out, err := retry.Value(ctx, e.retrier, func(ctx context.Context) (*UndoOutcome, error) {
		attempts++
		return e.undoOnce(ctx, matchID, actor)
	})
	if err != nil {
		e.logger.Warn("match_undo_failed",
			zap.Int64("match_id", matchID),
			zap.String("actor", actor),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return nil, err
	}
	out.Attempts = attempts

	e.logger.Info("match_undone",
		zap.Int64("match_id", matchID),
		zap.Int64("group_id", out.GroupID),
		zap.String("actor", actor),
		zap.Int("elo_1", out.Player1EloAfter),
		zap.Int("elo_2", out.Player2EloAfter),
		zap.Int("attempts", attempts),
	)
	return out, nil
}

func (e *Engine) undoOnce(ctx context.Context, matchID int64, actor string) (*UndoOutcome, error) {
	var out *UndoOutcome
	err := e.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		m, err := tx.LockMatch(ctx, matchID)
		if err != nil {
			return fmt.Errorf("lock match id=%d: %w", matchID, err)
		}
		if m.IsUndone {
			return fmt.Errorf("match id=%d: %w", matchID, ErrAlreadyUndone)
		}

		p1, p2, err := lockPair(ctx, tx, m.GroupID, m.Player1ID, m.Player2ID)
		if err != nil {
			return err
		}

		delta1 := m.Player1EloAfter - m.Player1EloBefore
		delta2 := m.Player2EloAfter - m.Player2EloBefore
		rev1 := p1.CurrentElo - delta1
		rev2 := p2.CurrentElo - delta2
		if err := checkRange("player_1_elo", rev1); err != nil {
			return err
		}
		if err := checkRange("player_2_elo", rev2); err != nil {
			return err
		}

		next1 := revertResult(*p1, rev1, m.Player1Score, m.Player2Score)
		next2 := revertResult(*p2, rev2, m.Player2Score, m.Player1Score)
		if err := writeVersioned(ctx, tx, &next1, p1.Version); err != nil {
			return err
		}
		if err := writeVersioned(ctx, tx, &next2, p2.Version); err != nil {
			return err
		}

		now := e.now()
		if err := tx.MarkMatchUndone(ctx, matchID, actor, now); err != nil {
			return fmt.Errorf("mark match id=%d undone: %w", matchID, err)
		}

		// before/after are swapped relative to the registration rows
		for _, h := range []domain.EloHistory{
			{MatchID: matchID, GroupID: m.GroupID, PlayerID: m.Player1ID, EloBefore: m.Player1EloAfter, EloAfter: m.Player1EloBefore, EloChange: -delta1, CreatedAt: now, IsUndone: true},
			{MatchID: matchID, GroupID: m.GroupID, PlayerID: m.Player2ID, EloBefore: m.Player2EloAfter, EloAfter: m.Player2EloBefore, EloChange: -delta2, CreatedAt: now, IsUndone: true},
		} {
			if err := tx.InsertEloHistory(ctx, &h); err != nil {
				return fmt.Errorf("insert undo elo_history match=%d player=%d: %w", matchID, h.PlayerID, err)
			}
		}

		out = &UndoOutcome{
			MatchID:          matchID,
			GroupID:          m.GroupID,
			Player1ID:        m.Player1ID,
			Player2ID:        m.Player2ID,
			Player1EloBefore: p1.CurrentElo,
			Player1EloAfter:  rev1,
			Player2EloBefore: p2.CurrentElo,
			Player2EloAfter:  rev2,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// revertResult takes one match back out of gp's counters, never below zero.
func revertResult(gp domain.GroupPlayer, newElo, own, opp int) domain.GroupPlayer {
	gp.CurrentElo = newElo
	gp.MatchesPlayed = floorZero(gp.MatchesPlayed - 1)
	switch {
	case own > opp:
		gp.MatchesWon = floorZero(gp.MatchesWon - 1)
	case own < opp:
		gp.MatchesLost = floorZero(gp.MatchesLost - 1)
	}
	return gp
}
