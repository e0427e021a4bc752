package ladder

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/park285/elo-ladder-bot/internal/domain"
	"github.com/park285/elo-ladder-bot/internal/retry"
	"go.uber.org/zap"
)

// MaxScore is the largest score the matches table can hold.
const MaxScore = math.MaxInt32

// MatchReport is one reported result. Player A scored ScoreA.
type MatchReport struct {
	GroupID        int64
	PlayerAID      int64
	PlayerBID      int64
	ScoreA         int
	ScoreB         int
	IdempotencyKey string
	Actor          string
}

func (r MatchReport) validate() error {
	if r.GroupID <= 0 {
		return invalid("group_id", "must be positive, got %d", r.GroupID)
	}
	if r.PlayerAID <= 0 {
		return invalid("player_a_id", "must be positive, got %d", r.PlayerAID)
	}
	if r.PlayerBID <= 0 {
		return invalid("player_b_id", "must be positive, got %d", r.PlayerBID)
	}
	if r.PlayerAID == r.PlayerBID {
		return invalid("player_b_id", "a player cannot play against themselves")
	}
	if r.ScoreA < 0 || r.ScoreB < 0 {
		return invalid("score", "scores cannot be negative (%d-%d)", r.ScoreA, r.ScoreB)
	}
	if r.ScoreA > MaxScore || r.ScoreB > MaxScore {
		return invalid("score", "scores cannot exceed %d (%d-%d)", MaxScore, r.ScoreA, r.ScoreB)
	}
	if r.ScoreA == 0 && r.ScoreB == 0 {
		return invalid("score", "both scores are zero")
	}
	return validateIdempotencyKey(r.IdempotencyKey)
}

type MatchOutcome struct {
	MatchID    int64
	EloBeforeA int
	EloAfterA  int
	EloBeforeB int
	EloAfterB  int
	Attempts   int
}

func (o *MatchOutcome) ChangeA() int { return o.EloAfterA - o.EloBeforeA }
func (o *MatchOutcome) ChangeB() int { return o.EloAfterB - o.EloBeforeB }

// RegisterMatch records r and updates both ratings atomically. A version
// conflict retries the whole transaction; every other error is returned as is.
func (e *Engine) RegisterMatch(ctx context.Context, r MatchReport) (*MatchOutcome, error) {
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
	if err := r.validate(); err != nil {
		return nil, err
	}

	attempts := 0
	out, err := retry.Value(ctx, e.retrier, func(ctx context.Context) (*MatchOutcome, error) {
		attempts++
		return e.registerOnce(ctx, r)
	})
	if err != nil {
		e.logger.Warn("match_register_failed",
			zap.Int64("group_id", r.GroupID),
			zap.Int64("player_a", r.PlayerAID),
			zap.Int64("player_b", r.PlayerBID),
			zap.String("idempotency_key", r.IdempotencyKey),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return nil, err
	}
	out.Attempts = attempts

	e.logger.Info("match_registered",
		zap.Int64("match_id", out.MatchID),
		zap.Int64("group_id", r.GroupID),
		zap.Int64("player_a", r.PlayerAID),
		zap.Int64("player_b", r.PlayerBID),
		zap.Int("score_a", r.ScoreA),
		zap.Int("score_b", r.ScoreB),
		zap.Int("elo_a", out.EloAfterA),
		zap.Int("elo_b", out.EloAfterB),
		zap.Int("attempts", attempts),
	)
	return out, nil
}

func (e *Engine) registerOnce(ctx context.Context, r MatchReport) (*MatchOutcome, error) {
	var out *MatchOutcome
	err := e.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := checkIdempotency(ctx, tx, r.IdempotencyKey); err != nil {
			return err
		}

		// ratings must come from the rows read under lock, never from the caller
		a, b, err := lockPair(ctx, tx, r.GroupID, r.PlayerAID, r.PlayerBID)
		if err != nil {
			return err
		}

		newA, newB := e.calc.Calculate(a.CurrentElo, b.CurrentElo, r.ScoreA, r.ScoreB)
		if err := checkRange("player_a_elo", newA); err != nil {
			return err
		}
		if err := checkRange("player_b_elo", newB); err != nil {
			return err
		}

		nextA := applyResult(*a, newA, r.ScoreA, r.ScoreB)
		nextB := applyResult(*b, newB, r.ScoreB, r.ScoreA)
		if err := writeVersioned(ctx, tx, &nextA, a.Version); err != nil {
			return err
		}
		if err := writeVersioned(ctx, tx, &nextB, b.Version); err != nil {
			return err
		}

		now := e.now()
		m := &domain.Match{
			GroupID:          r.GroupID,
			Player1ID:        r.PlayerAID,
			Player2ID:        r.PlayerBID,
			Player1Score:     r.ScoreA,
			Player2Score:     r.ScoreB,
			Player1EloBefore: a.CurrentElo,
			Player2EloBefore: b.CurrentElo,
			Player1EloAfter:  newA,
			Player2EloAfter:  newB,
			IdempotencyKey:   r.IdempotencyKey,
			CreatedBy:        r.Actor,
			CreatedAt:        now,
		}
		matchID, err := tx.InsertMatch(ctx, m)
		if err != nil {
			return fmt.Errorf("insert match key=%s: %w", r.IdempotencyKey, err)
		}

		for _, h := range []domain.EloHistory{
			{MatchID: matchID, GroupID: r.GroupID, PlayerID: r.PlayerAID, EloBefore: a.CurrentElo, EloAfter: newA, EloChange: newA - a.CurrentElo, CreatedAt: now},
			{MatchID: matchID, GroupID: r.GroupID, PlayerID: r.PlayerBID, EloBefore: b.CurrentElo, EloAfter: newB, EloChange: newB - b.CurrentElo, CreatedAt: now},
		} {
			if err := tx.InsertEloHistory(ctx, &h); err != nil {
				return fmt.Errorf("insert elo_history match=%d player=%d: %w", matchID, h.PlayerID, err)
			}
		}

		out = &MatchOutcome{
			MatchID:    matchID,
			EloBeforeA: a.CurrentElo,
			EloAfterA:  newA,
			EloBeforeB: b.CurrentElo,
			EloAfterB:  newB,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// applyResult returns gp with the match folded into its rating and counters.
func applyResult(gp domain.GroupPlayer, newElo, own, opp int) domain.GroupPlayer {
	gp.CurrentElo = newElo
	gp.MatchesPlayed++
	switch {
	case own > opp:
		gp.MatchesWon++
	case own < opp:
		gp.MatchesLost++
	}
	return gp
}
