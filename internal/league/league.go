// Package league is the room-facing facade over the rating engine: it maps
// chat rooms and users to groups and players and enforces who may do what.
package league

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/park285/elo-ladder-bot/internal/domain"
	"github.com/park285/elo-ladder-bot/internal/gateway"
	"github.com/park285/elo-ladder-bot/internal/identity"
	"github.com/park285/elo-ladder-bot/internal/ladder"
	"go.uber.org/zap"
)

var (
	ErrNotParticipant    = errors.New("requester is not a participant of the match")
	ErrUndoWindowExpired = errors.New("undo window expired")
	ErrNotVerified       = errors.New("participant is not active")
	ErrIdentityDisabled  = errors.New("identity verification is disabled")
)

const (
	DefaultUndoWindow   = 24 * time.Hour
	DefaultRankingLimit = 10
	DefaultHistoryLimit = 50
)

// Directory is the non-transactional part of the store.
type Directory interface {
	EnsureGroup(ctx context.Context, externalID, name string) (*domain.Group, error)
	GroupByExternalID(ctx context.Context, externalID string) (*domain.Group, error)
	DeactivateGroup(ctx context.Context, groupID int64) error
	EnsurePlayer(ctx context.Context, externalUserID, displayName string) (*domain.Player, error)
	PlayerByExternalID(ctx context.Context, externalUserID string) (*domain.Player, error)
	PlayerByID(ctx context.Context, id int64) (*domain.Player, error)
	UpdatePlayerIdentity(ctx context.Context, p *domain.Player) error
	SoftDeletePlayer(ctx context.Context, playerID int64, at time.Time) error
	EnsureGroupPlayer(ctx context.Context, groupID, playerID int64) (*domain.GroupPlayer, error)
	GroupPlayer(ctx context.Context, groupID, playerID int64) (*domain.GroupPlayer, error)
	Rankings(ctx context.Context, groupID int64, limit int) ([]domain.RankingEntry, error)
	MatchByID(ctx context.Context, id int64) (*domain.Match, error)
	LastActiveMatch(ctx context.Context, groupID, playerID int64) (*domain.Match, error)
	EloHistory(ctx context.Context, groupID, playerID int64, limit int) ([]domain.EloHistory, error)
}

// Store is what a backing database provides.
type Store interface {
	Directory
	ladder.TxRunner
	HealthCheck(ctx context.Context) error
}

type MembershipResolver interface {
	Membership(ctx context.Context, room, userID string) (gateway.Membership, error)
}

type ParticipantLookup interface {
	Participant(ctx context.Context, login string) (*identity.Participant, error)
}

type Config struct {
	UndoWindow   time.Duration
	RankingLimit int
	HistoryLimit int
	AdminUserIDs []string
}

type Service struct {
	dir     Directory
	engine  *ladder.Engine
	members MembershipResolver
	ids     ParticipantLookup
	admins  map[string]struct{}
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithMembership(m MembershipResolver) Option {
	return func(s *Service) { s.members = m }
}

func WithIdentity(l ParticipantLookup) Option {
	return func(s *Service) { s.ids = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(dir Directory, engine *ladder.Engine, cfg Config, logger *zap.Logger, opts ...Option) (*Service, error) {
	if dir == nil {
		return nil, errors.New("directory is required")
	}
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UndoWindow <= 0 {
		cfg.UndoWindow = DefaultUndoWindow
	}
	if cfg.RankingLimit <= 0 {
		cfg.RankingLimit = DefaultRankingLimit
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	s := &Service{
		dir:    dir,
		engine: engine,
		admins: make(map[string]struct{}, len(cfg.AdminUserIDs)),
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, id := range cfg.AdminUserIDs {
		if id = strings.TrimSpace(id); id != "" {
			s.admins[id] = struct{}{}
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) Config() Config { return s.cfg }

// IsAdmin reports whether userID may override undo restrictions in room:
// configured bot admins always, room owners and managers when membership
// lookup is available.
func (s *Service) IsAdmin(ctx context.Context, room, userID string) bool {
	if _, ok := s.admins[userID]; ok {
		return true
	}
	if s.members == nil {
		return false
	}
	m, err := s.members.Membership(ctx, room, userID)
	if err != nil {
		if !errors.Is(err, gateway.ErrNotMember) {
			s.logger.Warn("membership_lookup_failed", zap.String("room", room), zap.String("user_id", userID), zap.Error(err))
		}
		return false
	}
	return m.Role.IsAdmin()
}
