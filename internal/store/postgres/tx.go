package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/park285/elo-ladder-bot/internal/domain"
	"github.com/park285/elo-ladder-bot/internal/ladder"
)

const (
	qMatchByKey = `SELECT id FROM matches WHERE idempotency_key = $1`

	qLockGroupPlayer = `
SELECT id, group_id, player_id, current_elo, matches_played, matches_won, matches_lost, version, created_at, updated_at
FROM group_players
WHERE group_id = $1 AND player_id = $2
FOR UPDATE`

	qUpdateGroupPlayer = `
UPDATE group_players
SET current_elo = $1, matches_played = $2, matches_won = $3, matches_lost = $4,
    version = version + 1, updated_at = NOW()
WHERE id = $5 AND version = $6`

	qInsertMatch = `
INSERT INTO matches (group_id, player1_id, player2_id, player1_score, player2_score,
    player1_elo_before, player2_elo_before, player1_elo_after, player2_elo_after,
    idempotency_key, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING id`

	qInsertHistory = `
INSERT INTO elo_history (match_id, group_id, player_id, elo_before, elo_after, elo_change, created_at, is_undone)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	qLockMatch = `
SELECT ` + matchColumns + `
FROM matches
WHERE id = $1
FOR UPDATE`

	qMarkUndone = `
UPDATE matches SET is_undone = TRUE, undone_at = $2, undone_by = $3
WHERE id = $1 AND is_undone = FALSE`
)

const matchColumns = `id, group_id, player1_id, player2_id, player1_score, player2_score,
    player1_elo_before, player2_elo_before, player1_elo_after, player2_elo_after,
    idempotency_key, created_by, created_at, is_undone, undone_at, undone_by`

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) MatchIDByIdempotencyKey(ctx context.Context, key string) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, qMatchByKey, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup idempotency key: %w", err)
	}
	return id, true, nil
}

func (t *pgTx) LockGroupPlayer(ctx context.Context, groupID, playerID int64) (*domain.GroupPlayer, error) {
	gp, err := scanGroupPlayer(t.tx.QueryRowContext(ctx, qLockGroupPlayer, groupID, playerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group_player group=%d player=%d: %w", groupID, playerID, ladder.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lock group_player: %w", err)
	}
	return gp, nil
}

func (t *pgTx) UpdateGroupPlayer(ctx context.Context, gp *domain.GroupPlayer, expectedVersion int64) (bool, error) {
	res, err := t.tx.ExecContext(ctx, qUpdateGroupPlayer,
		gp.CurrentElo, gp.MatchesPlayed, gp.MatchesWon, gp.MatchesLost, gp.ID, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("update group_player: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (t *pgTx) InsertMatch(ctx context.Context, m *domain.Match) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, qInsertMatch,
		m.GroupID, m.Player1ID, m.Player2ID, m.Player1Score, m.Player2Score,
		m.Player1EloBefore, m.Player2EloBefore, m.Player1EloAfter, m.Player2EloAfter,
		m.IdempotencyKey, m.CreatedBy, m.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert match: %w", err)
	}
	return id, nil
}

func (t *pgTx) InsertEloHistory(ctx context.Context, h *domain.EloHistory) error {
	_, err := t.tx.ExecContext(ctx, qInsertHistory,
		h.MatchID, h.GroupID, h.PlayerID, h.EloBefore, h.EloAfter, h.EloChange, h.CreatedAt, h.IsUndone)
	if err != nil {
		return fmt.Errorf("insert elo_history: %w", err)
	}
	return nil
}

func (t *pgTx) LockMatch(ctx context.Context, matchID int64) (*domain.Match, error) {
	m, err := scanMatch(t.tx.QueryRowContext(ctx, qLockMatch, matchID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("match id=%d: %w", matchID, ladder.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lock match: %w", err)
	}
	return m, nil
}

func (t *pgTx) MarkMatchUndone(ctx context.Context, matchID int64, actor string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, qMarkUndone, matchID, at, actor)
	if err != nil {
		return fmt.Errorf("mark match undone: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("match id=%d: %w", matchID, ladder.ErrAlreadyUndone)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroupPlayer(row rowScanner) (*domain.GroupPlayer, error) {
	var gp domain.GroupPlayer
	err := row.Scan(&gp.ID, &gp.GroupID, &gp.PlayerID, &gp.CurrentElo,
		&gp.MatchesPlayed, &gp.MatchesWon, &gp.MatchesLost, &gp.Version,
		&gp.CreatedAt, &gp.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &gp, nil
}

func scanMatch(row rowScanner) (*domain.Match, error) {
	var (
		m        domain.Match
		undoneAt sql.NullTime
		undoneBy sql.NullString
	)
	err := row.Scan(&m.ID, &m.GroupID, &m.Player1ID, &m.Player2ID, &m.Player1Score, &m.Player2Score,
		&m.Player1EloBefore, &m.Player2EloBefore, &m.Player1EloAfter, &m.Player2EloAfter,
		&m.IdempotencyKey, &m.CreatedBy, &m.CreatedAt, &m.IsUndone, &undoneAt, &undoneBy)
	if err != nil {
		return nil, err
	}
	if undoneAt.Valid {
		t := undoneAt.Time
		m.UndoneAt = &t
	}
	m.UndoneBy = undoneBy.String
	return &m, nil
}
