package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/elo-ladder-bot/internal/domain"
	"github.com/park285/elo-ladder-bot/internal/ladder"
)

const (
	groupColumns  = `id, external_group_id, name, is_active, created_at, updated_at`
	playerColumns = `id, external_user_id, display_name, COALESCE(school_nickname, ''), is_verified_student, is_allowed_non_student, created_at, updated_at, deleted_at`
	gpColumns     = `id, group_id, player_id, current_elo, matches_played, matches_won, matches_lost, version, created_at, updated_at`

	qEnsureGroup = `
INSERT INTO groups (external_group_id, name) VALUES ($1, $2)
ON CONFLICT (external_group_id) DO UPDATE
SET name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE groups.name END,
    is_active = TRUE,
    updated_at = NOW()
RETURNING ` + groupColumns

	qDeactivateGroup = `UPDATE groups SET is_active = FALSE, updated_at = NOW() WHERE id = $1`

	qGroupByExt = `SELECT ` + groupColumns + ` FROM groups WHERE external_group_id = $1`

	qEnsurePlayer = `
INSERT INTO players (external_user_id, display_name) VALUES ($1, $2)
ON CONFLICT (external_user_id) DO UPDATE
SET display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE players.display_name END,
    deleted_at = NULL,
    updated_at = NOW()
RETURNING ` + playerColumns

	qPlayerByExt = `SELECT ` + playerColumns + ` FROM players WHERE external_user_id = $1`
	qPlayerByID  = `SELECT ` + playerColumns + ` FROM players WHERE id = $1`

	qUpdateIdentity = `
UPDATE players
SET school_nickname = NULLIF($2, ''), is_verified_student = $3, is_allowed_non_student = $4, updated_at = NOW()
WHERE id = $1`

	qSoftDelete = `
UPDATE players SET deleted_at = COALESCE(deleted_at, $2), updated_at = $2
WHERE id = $1`

	qEnsureGroupPlayer = `
INSERT INTO group_players (group_id, player_id) VALUES ($1, $2)
ON CONFLICT (group_id, player_id) DO NOTHING`

	qGroupPlayer = `SELECT ` + gpColumns + ` FROM group_players WHERE group_id = $1 AND player_id = $2`

	qRankings = `
SELECT gp.id, gp.group_id, gp.player_id, gp.current_elo, gp.matches_played, gp.matches_won,
       gp.matches_lost, gp.version, gp.created_at, gp.updated_at,
       p.external_user_id, p.display_name, COALESCE(p.school_nickname, '')
FROM group_players gp
JOIN players p ON p.id = gp.player_id
WHERE gp.group_id = $1 AND gp.matches_played > 0 AND p.deleted_at IS NULL
ORDER BY gp.current_elo DESC, gp.matches_played DESC, gp.player_id ASC
LIMIT $2`

	qMatchByID = `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`

	qLastActiveMatch = `
SELECT ` + matchColumns + `
FROM matches
WHERE group_id = $1 AND (player1_id = $2 OR player2_id = $2) AND is_undone = FALSE
ORDER BY id DESC
LIMIT 1`

	qEloHistory = `
SELECT id, match_id, group_id, player_id, elo_before, elo_after, elo_change, created_at, is_undone
FROM (
    SELECT h.*
    FROM elo_history h
    JOIN matches m ON m.id = h.match_id
    WHERE h.group_id = $1 AND h.player_id = $2 AND h.is_undone = FALSE AND m.is_undone = FALSE
    ORDER BY h.id DESC
    LIMIT $3
) recent
ORDER BY id ASC`

	qAuditTrail = `
SELECT id, match_id, group_id, player_id, elo_before, elo_after, elo_change, created_at, is_undone
FROM elo_history WHERE match_id = $1 ORDER BY id ASC`
)

func (s *Store) EnsureGroup(ctx context.Context, externalID, name string) (*domain.Group, error) {
	ext := strings.TrimSpace(externalID)
	if ext == "" {
		return nil, &ladder.ValidationError{Field: "external_group_id", Reason: "must not be empty"}
	}
	g, err := scanGroup(s.db.QueryRowContext(ctx, qEnsureGroup, ext, name))
	if err != nil {
		return nil, fmt.Errorf("ensure group: %w", mapError(err))
	}
	return g, nil
}

func (s *Store) GroupByExternalID(ctx context.Context, externalID string) (*domain.Group, error) {
	g, err := scanGroup(s.db.QueryRowContext(ctx, qGroupByExt, strings.TrimSpace(externalID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group ext=%s: %w", externalID, ladder.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("group by external id: %w", err)
	}
	return g, nil
}

func (s *Store) DeactivateGroup(ctx context.Context, groupID int64) error {
	res, err := s.db.ExecContext(ctx, qDeactivateGroup, groupID)
	if err != nil {
		return fmt.Errorf("deactivate group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("group id=%d: %w", groupID, ladder.ErrNotFound)
	}
	return nil
}

// EnsurePlayer upserts by external id. A soft-deleted player is restored.
func (s *Store) EnsurePlayer(ctx context.Context, externalUserID, displayName string) (*domain.Player, error) {
	ext := strings.TrimSpace(externalUserID)
	if ext == "" {
		return nil, &ladder.ValidationError{Field: "external_user_id", Reason: "must not be empty"}
	}
	p, err := scanPlayer(s.db.QueryRowContext(ctx, qEnsurePlayer, ext, displayName))
	if err != nil {
		return nil, fmt.Errorf("ensure player: %w", mapError(err))
	}
	return p, nil
}

func (s *Store) PlayerByExternalID(ctx context.Context, externalUserID string) (*domain.Player, error) {
	p, err := scanPlayer(s.db.QueryRowContext(ctx, qPlayerByExt, strings.TrimSpace(externalUserID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("player ext=%s: %w", externalUserID, ladder.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("player by external id: %w", err)
	}
	return p, nil
}

func (s *Store) PlayerByID(ctx context.Context, id int64) (*domain.Player, error) {
	p, err := scanPlayer(s.db.QueryRowContext(ctx, qPlayerByID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("player id=%d: %w", id, ladder.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("player by id: %w", err)
	}
	return p, nil
}

func (s *Store) UpdatePlayerIdentity(ctx context.Context, p *domain.Player) error {
	if p == nil {
		return errors.New("nil player")
	}
	res, err := s.db.ExecContext(ctx, qUpdateIdentity, p.ID, p.SchoolNickname, p.IsVerifiedStudent, p.IsAllowedNonStudent)
	if err != nil {
		return fmt.Errorf("update player identity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("player id=%d: %w", p.ID, ladder.ErrNotFound)
	}
	return nil
}

func (s *Store) SoftDeletePlayer(ctx context.Context, playerID int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, qSoftDelete, playerID, at)
	if err != nil {
		return fmt.Errorf("soft delete player: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("player id=%d: %w", playerID, ladder.ErrNotFound)
	}
	return nil
}

func (s *Store) EnsureGroupPlayer(ctx context.Context, groupID, playerID int64) (*domain.GroupPlayer, error) {
	if _, err := s.db.ExecContext(ctx, qEnsureGroupPlayer, groupID, playerID); err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("group=%d player=%d: %w", groupID, playerID, ladder.ErrNotFound)
		}
		return nil, fmt.Errorf("ensure group_player: %w", err)
	}
	return s.GroupPlayer(ctx, groupID, playerID)
}

func (s *Store) GroupPlayer(ctx context.Context, groupID, playerID int64) (*domain.GroupPlayer, error) {
	gp, err := scanGroupPlayer(s.db.QueryRowContext(ctx, qGroupPlayer, groupID, playerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group_player group=%d player=%d: %w", groupID, playerID, ladder.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("group_player: %w", err)
	}
	return gp, nil
}

func (s *Store) Rankings(ctx context.Context, groupID int64, limit int) ([]domain.RankingEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, qRankings, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("rankings: %w", err)
	}
	defer rows.Close()

	out := make([]domain.RankingEntry, 0, limit)
	for rows.Next() {
		var e domain.RankingEntry
		if err := rows.Scan(&e.ID, &e.GroupID, &e.PlayerID, &e.CurrentElo, &e.MatchesPlayed,
			&e.MatchesWon, &e.MatchesLost, &e.Version, &e.CreatedAt, &e.UpdatedAt,
			&e.ExternalUserID, &e.DisplayName, &e.SchoolNickname); err != nil {
			return nil, fmt.Errorf("scan ranking: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) MatchByID(ctx context.Context, id int64) (*domain.Match, error) {
	m, err := scanMatch(s.db.QueryRowContext(ctx, qMatchByID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("match id=%d: %w", id, ladder.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("match by id: %w", err)
	}
	return m, nil
}

func (s *Store) LastActiveMatch(ctx context.Context, groupID, playerID int64) (*domain.Match, error) {
	m, err := scanMatch(s.db.QueryRowContext(ctx, qLastActiveMatch, groupID, playerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active match group=%d player=%d: %w", groupID, playerID, ladder.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("last active match: %w", err)
	}
	return m, nil
}

func (s *Store) EloHistory(ctx context.Context, groupID, playerID int64, limit int) ([]domain.EloHistory, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, qEloHistory, groupID, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("elo history: %w", err)
	}
	return collectHistory(rows)
}

func (s *Store) AuditTrail(ctx context.Context, matchID int64) ([]domain.EloHistory, error) {
	rows, err := s.db.QueryContext(ctx, qAuditTrail, matchID)
	if err != nil {
		return nil, fmt.Errorf("audit trail: %w", err)
	}
	return collectHistory(rows)
}

func collectHistory(rows *sql.Rows) ([]domain.EloHistory, error) {
	defer rows.Close()
	var out []domain.EloHistory
	for rows.Next() {
		var h domain.EloHistory
		if err := rows.Scan(&h.ID, &h.MatchID, &h.GroupID, &h.PlayerID,
			&h.EloBefore, &h.EloAfter, &h.EloChange, &h.CreatedAt, &h.IsUndone); err != nil {
			return nil, fmt.Errorf("scan elo_history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func scanGroup(row rowScanner) (*domain.Group, error) {
	var g domain.Group
	if err := row.Scan(&g.ID, &g.ExternalGroupID, &g.Name, &g.IsActive, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	return &g, nil
}

func scanPlayer(row rowScanner) (*domain.Player, error) {
	var (
		p         domain.Player
		deletedAt sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.ExternalUserID, &p.DisplayName, &p.SchoolNickname,
		&p.IsVerifiedStudent, &p.IsAllowedNonStudent, &p.CreatedAt, &p.UpdatedAt, &deletedAt); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		p.DeletedAt = &t
	}
	return &p, nil
}
