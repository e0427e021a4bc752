// Package memstore is an in-memory store for development and tests, used when
// no database is configured.
//
// Transactions stage their writes and apply them at commit. Row locks are not
// emulated: two transactions may read the same row, and the version fence is
// re-checked at commit so the later writer fails with ladder.ErrOptimisticLock.
package memstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/park285/elo-ladder-bot/internal/domain"
	"github.com/park285/elo-ladder-bot/internal/elo"
	"github.com/park285/elo-ladder-bot/internal/ladder"
	"github.com/park285/elo-ladder-bot/internal/store/dbpool"
)

type gpKey struct {
	groupID  int64
	playerID int64
}

type Store struct {
	mu   sync.RWMutex
	gate *dbpool.Gate
	now  func() time.Time

	nextGroupID   int64
	nextPlayerID  int64
	nextGPID      int64
	nextMatchID   int64
	nextHistoryID int64

	groups       map[int64]*domain.Group
	groupsByExt  map[string]int64
	players      map[int64]*domain.Player
	playersByExt map[string]int64
	groupPlayers map[int64]*domain.GroupPlayer
	gpByKey      map[gpKey]int64
	matches      map[int64]*domain.Match
	matchByKey   map[string]int64
	history      []domain.EloHistory
}

type Option func(*Store)

// WithPoolSize bounds concurrent transactions like a connection pool would.
func WithPoolSize(n int) Option {
	return func(s *Store) { s.gate = dbpool.NewGate(n) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		gate:         dbpool.NewGate(dbpool.DefaultSize),
		now:          time.Now,
		groups:       make(map[int64]*domain.Group),
		groupsByExt:  make(map[string]int64),
		players:      make(map[int64]*domain.Player),
		playersByExt: make(map[string]int64),
		groupPlayers: make(map[int64]*domain.GroupPlayer),
		gpByKey:      make(map[gpKey]int64),
		matches:      make(map[int64]*domain.Match),
		matchByKey:   make(map[string]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) HealthCheck(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }

func (s *Store) Gate() *dbpool.Gate { return s.gate }

// InTx runs fn against a staged transaction and commits when fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx ladder.Tx) error) error {
	release, err := s.gate.Acquire()
	if err != nil {
		return err
	}
	defer release()
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{
		s:       s,
		writes:  make(map[int64]stagedWrite),
		undone:  make(map[int64]undoMark),
		matches: make(map[int64]*domain.Match),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

type stagedWrite struct {
	gp   domain.GroupPlayer
	base int64 // committed version the first write was conditioned on
}

type undoMark struct {
	actor string
	at    time.Time
}

type memTx struct {
	s       *Store
	writes  map[int64]stagedWrite
	matches map[int64]*domain.Match
	order   []int64
	history []domain.EloHistory
	undone  map[int64]undoMark
}

func (t *memTx) MatchIDByIdempotencyKey(ctx context.Context, key string) (int64, bool, error) {
	for _, id := range t.order {
		if t.matches[id].IdempotencyKey == key {
			return id, true, nil
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	id, ok := t.s.matchByKey[key]
	return id, ok, nil
}

func (t *memTx) LockGroupPlayer(ctx context.Context, groupID, playerID int64) (*domain.GroupPlayer, error) {
	t.s.mu.RLock()
	id, ok := t.s.gpByKey[gpKey{groupID, playerID}]
	var committed domain.GroupPlayer
	if ok {
		committed = *t.s.groupPlayers[id]
	}
	t.s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("group_player group=%d player=%d: %w", groupID, playerID, ladder.ErrNotFound)
	}
	if w, staged := t.writes[id]; staged {
		gp := w.gp
		return &gp, nil
	}
	return &committed, nil
}

func (t *memTx) UpdateGroupPlayer(ctx context.Context, gp *domain.GroupPlayer, expectedVersion int64) (bool, error) {
	if gp == nil {
		return false, fmt.Errorf("nil group player")
	}
	if !elo.InRange(gp.CurrentElo) {
		return false, &ladder.ValidationError{Field: "current_elo", Reason: fmt.Sprintf("%d outside [%d, %d]", gp.CurrentElo, elo.MinRating, elo.MaxRating)}
	}

	t.s.mu.RLock()
	committed, ok := t.s.groupPlayers[gp.ID]
	var committedVersion int64
	if ok {
		committedVersion = committed.Version
	}
	t.s.mu.RUnlock()
	if !ok {
		return false, nil
	}

	w, staged := t.writes[gp.ID]
	current := committedVersion
	base := committedVersion
	if staged {
		current = w.gp.Version
		base = w.base
	}
	if current != expectedVersion {
		return false, nil
	}

	next := *gp
	next.Version = expectedVersion + 1
	next.UpdatedAt = t.s.now()
	t.writes[gp.ID] = stagedWrite{gp: next, base: base}
	return true, nil
}

func (t *memTx) InsertMatch(ctx context.Context, m *domain.Match) (int64, error) {
	if m == nil {
		return 0, fmt.Errorf("nil match")
	}
	if id, exists, _ := t.MatchIDByIdempotencyKey(ctx, m.IdempotencyKey); exists {
		return 0, fmt.Errorf("%w: key=%s match=%d", ladder.ErrDuplicateMatch, m.IdempotencyKey, id)
	}
	t.s.mu.Lock()
	t.s.nextMatchID++
	id := t.s.nextMatchID
	t.s.mu.Unlock()

	cp := *m
	cp.ID = id
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = t.s.now()
	}
	t.matches[id] = &cp
	t.order = append(t.order, id)
	return id, nil
}

func (t *memTx) InsertEloHistory(ctx context.Context, h *domain.EloHistory) error {
	if h == nil {
		return fmt.Errorf("nil elo history")
	}
	t.history = append(t.history, *h)
	return nil
}

func (t *memTx) LockMatch(ctx context.Context, matchID int64) (*domain.Match, error) {
	var m domain.Match
	if staged, ok := t.matches[matchID]; ok {
		m = *staged
	} else {
		t.s.mu.RLock()
		committed, ok := t.s.matches[matchID]
		if ok {
			m = *committed
		}
		t.s.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("match id=%d: %w", matchID, ladder.ErrNotFound)
		}
	}
	if mark, ok := t.undone[matchID]; ok {
		at := mark.at
		m.IsUndone = true
		m.UndoneAt = &at
		m.UndoneBy = mark.actor
	}
	return &m, nil
}

func (t *memTx) MarkMatchUndone(ctx context.Context, matchID int64, actor string, at time.Time) error {
	if _, err := t.LockMatch(ctx, matchID); err != nil {
		return err
	}
	t.undone[matchID] = undoMark{actor: actor, at: at}
	return nil
}

// commit re-validates every staged write against committed state and applies
// all of them, or none.
func (s *Store) commit(t *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, w := range t.writes {
		cur, ok := s.groupPlayers[id]
		if !ok {
			return fmt.Errorf("group_player id=%d: %w", id, ladder.ErrNotFound)
		}
		if cur.Version != w.base {
			return fmt.Errorf("commit group_player id=%d version=%d: %w", id, w.base, ladder.ErrOptimisticLock)
		}
	}
	for _, id := range t.order {
		key := t.matches[id].IdempotencyKey
		if other, dup := s.matchByKey[key]; dup {
			return fmt.Errorf("%w: key=%s match=%d", ladder.ErrDuplicateMatch, key, other)
		}
	}
	for id := range t.undone {
		if m, ok := s.matches[id]; ok && m.IsUndone {
			return fmt.Errorf("match id=%d: %w", id, ladder.ErrAlreadyUndone)
		}
	}

	for id, w := range t.writes {
		gp := w.gp
		s.groupPlayers[id] = &gp
	}
	for _, id := range t.order {
		m := t.matches[id]
		s.matches[id] = m
		s.matchByKey[m.IdempotencyKey] = id
	}
	for id, mark := range t.undone {
		m, ok := s.matches[id]
		if !ok {
			continue
		}
		at := mark.at
		m.IsUndone = true
		m.UndoneAt = &at
		m.UndoneBy = mark.actor
	}
	for _, h := range t.history {
		s.nextHistoryID++
		h.ID = s.nextHistoryID
		if h.CreatedAt.IsZero() {
			h.CreatedAt = s.now()
		}
		s.history = append(s.history, h)
	}
	return nil
}

func normalizeExt(id string) string { return strings.TrimSpace(id) }
