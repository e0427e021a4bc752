package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/park285/elo-ladder-bot/internal/domain"
	"github.com/park285/elo-ladder-bot/internal/elo"
	"github.com/park285/elo-ladder-bot/internal/ladder"
)

func (s *Store) EnsureGroup(ctx context.Context, externalID, name string) (*domain.Group, error) {
	ext := normalizeExt(externalID)
	if ext == "" {
		return nil, &ladder.ValidationError{Field: "external_group_id", Reason: "must not be empty"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.groupsByExt[ext]; ok {
		g := s.groups[id]
		if !g.IsActive {
			g.IsActive = true
			g.UpdatedAt = s.now()
		}
		if name != "" && g.Name != name {
			g.Name = name
			g.UpdatedAt = s.now()
		}
		cp := *g
		return &cp, nil
	}
	s.nextGroupID++
	now := s.now()
	g := &domain.Group{
		ID:              s.nextGroupID,
		ExternalGroupID: ext,
		Name:            name,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.groups[g.ID] = g
	s.groupsByExt[ext] = g.ID
	cp := *g
	return &cp, nil
}

func (s *Store) GroupByExternalID(ctx context.Context, externalID string) (*domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.groupsByExt[normalizeExt(externalID)]
	if !ok {
		return nil, fmt.Errorf("group ext=%s: %w", externalID, ladder.ErrNotFound)
	}
	cp := *s.groups[id]
	return &cp, nil
}

// DeactivateGroup flags the group inactive. Ratings are kept; EnsureGroup
// reactivates it.
func (s *Store) DeactivateGroup(ctx context.Context, groupID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("group id=%d: %w", groupID, ladder.ErrNotFound)
	}
	g.IsActive = false
	g.UpdatedAt = s.now()
	return nil
}

// EnsurePlayer creates the player on first contact. A soft-deleted player who
// shows up again is restored.
func (s *Store) EnsurePlayer(ctx context.Context, externalUserID, displayName string) (*domain.Player, error) {
	ext := normalizeExt(externalUserID)
	if ext == "" {
		return nil, &ladder.ValidationError{Field: "external_user_id", Reason: "must not be empty"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if id, ok := s.playersByExt[ext]; ok {
		p := s.players[id]
		if p.DeletedAt != nil {
			p.DeletedAt = nil
			p.UpdatedAt = now
		}
		if displayName != "" && p.DisplayName != displayName {
			p.DisplayName = displayName
			p.UpdatedAt = now
		}
		cp := *p
		return &cp, nil
	}
	s.nextPlayerID++
	p := &domain.Player{
		ID:             s.nextPlayerID,
		ExternalUserID: ext,
		DisplayName:    displayName,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.players[p.ID] = p
	s.playersByExt[ext] = p.ID
	cp := *p
	return &cp, nil
}

func (s *Store) PlayerByExternalID(ctx context.Context, externalUserID string) (*domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.playersByExt[normalizeExt(externalUserID)]
	if !ok {
		return nil, fmt.Errorf("player ext=%s: %w", externalUserID, ladder.ErrNotFound)
	}
	cp := *s.players[id]
	return &cp, nil
}

func (s *Store) PlayerByID(ctx context.Context, id int64) (*domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[id]
	if !ok {
		return nil, fmt.Errorf("player id=%d: %w", id, ladder.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

// UpdatePlayerIdentity stores the verification fields of p.
func (s *Store) UpdatePlayerIdentity(ctx context.Context, p *domain.Player) error {
	if p == nil {
		return fmt.Errorf("nil player")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.players[p.ID]
	if !ok {
		return fmt.Errorf("player id=%d: %w", p.ID, ladder.ErrNotFound)
	}
	cur.SchoolNickname = p.SchoolNickname
	cur.IsVerifiedStudent = p.IsVerifiedStudent
	cur.IsAllowedNonStudent = p.IsAllowedNonStudent
	cur.UpdatedAt = s.now()
	return nil
}

func (s *Store) SoftDeletePlayer(ctx context.Context, playerID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[playerID]
	if !ok {
		return fmt.Errorf("player id=%d: %w", playerID, ladder.ErrNotFound)
	}
	if p.DeletedAt == nil {
		t := at
		p.DeletedAt = &t
		p.UpdatedAt = at
	}
	return nil
}

func (s *Store) EnsureGroupPlayer(ctx context.Context, groupID, playerID int64) (*domain.GroupPlayer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[groupID]; !ok {
		return nil, fmt.Errorf("group id=%d: %w", groupID, ladder.ErrNotFound)
	}
	if _, ok := s.players[playerID]; !ok {
		return nil, fmt.Errorf("player id=%d: %w", playerID, ladder.ErrNotFound)
	}
	key := gpKey{groupID, playerID}
	if id, ok := s.gpByKey[key]; ok {
		cp := *s.groupPlayers[id]
		return &cp, nil
	}
	s.nextGPID++
	now := s.now()
	gp := &domain.GroupPlayer{
		ID:         s.nextGPID,
		GroupID:    groupID,
		PlayerID:   playerID,
		CurrentElo: elo.DefaultRating,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.groupPlayers[gp.ID] = gp
	s.gpByKey[key] = gp.ID
	cp := *gp
	return &cp, nil
}

func (s *Store) GroupPlayer(ctx context.Context, groupID, playerID int64) (*domain.GroupPlayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.gpByKey[gpKey{groupID, playerID}]
	if !ok {
		return nil, fmt.Errorf("group_player group=%d player=%d: %w", groupID, playerID, ladder.ErrNotFound)
	}
	cp := *s.groupPlayers[id]
	return &cp, nil
}

// Rankings lists players with at least one match, best rating first.
func (s *Store) Rankings(ctx context.Context, groupID int64, limit int) ([]domain.RankingEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	s.mu.RLock()
	out := make([]domain.RankingEntry, 0, limit)
	for _, gp := range s.groupPlayers {
		if gp.GroupID != groupID || gp.MatchesPlayed == 0 {
			continue
		}
		p := s.players[gp.PlayerID]
		if p == nil || p.DeletedAt != nil {
			continue
		}
		out = append(out, domain.RankingEntry{
			GroupPlayer:    *gp,
			ExternalUserID: p.ExternalUserID,
			DisplayName:    p.DisplayName,
			SchoolNickname: p.SchoolNickname,
		})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CurrentElo != out[j].CurrentElo {
			return out[i].CurrentElo > out[j].CurrentElo
		}
		if out[i].MatchesPlayed != out[j].MatchesPlayed {
			return out[i].MatchesPlayed > out[j].MatchesPlayed
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MatchByID(ctx context.Context, id int64) (*domain.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[id]
	if !ok {
		return nil, fmt.Errorf("match id=%d: %w", id, ladder.ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

// LastActiveMatch returns the newest match of playerID in groupID that has not
// been undone.
func (s *Store) LastActiveMatch(ctx context.Context, groupID, playerID int64) (*domain.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *domain.Match
	for _, m := range s.matches {
		if m.GroupID != groupID || m.IsUndone || !m.Involves(playerID) {
			continue
		}
		if best == nil || m.ID > best.ID {
			best = m
		}
	}
	if best == nil {
		return nil, fmt.Errorf("active match group=%d player=%d: %w", groupID, playerID, ladder.ErrNotFound)
	}
	cp := *best
	return &cp, nil
}

// EloHistory returns the newest limit rows of active (not undone) matches for
// the player, oldest first.
func (s *Store) EloHistory(ctx context.Context, groupID, playerID int64, limit int) ([]domain.EloHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.EloHistory
	for _, h := range s.history {
		if h.GroupID != groupID || h.PlayerID != playerID || h.IsUndone {
			continue
		}
		if m, ok := s.matches[h.MatchID]; ok && m.IsUndone {
			continue
		}
		out = append(out, h)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// AuditTrail returns every history row of a match, including undo rows.
func (s *Store) AuditTrail(ctx context.Context, matchID int64) ([]domain.EloHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.EloHistory
	for _, h := range s.history {
		if h.MatchID == matchID {
			out = append(out, h)
		}
	}
	return out, nil
}

// MatchCount is the number of committed matches.
func (s *Store) MatchCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matches)
}
