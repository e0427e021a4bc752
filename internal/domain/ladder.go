package domain

import "time"

type Player struct {
	ID                  int64
	ExternalUserID      string
	DisplayName         string
	SchoolNickname      string
	IsVerifiedStudent   bool
	IsAllowedNonStudent bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
	DeletedAt           *time.Time
}

func (p *Player) Deleted() bool { return p != nil && p.DeletedAt != nil }

type Group struct {
	ID              int64
	ExternalGroupID string
	Name            string
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// GroupPlayer is the per-group rating state of one player. Version is the
// optimistic-concurrency fence and grows by one on every successful write.
type GroupPlayer struct {
	ID            int64
	GroupID       int64
	PlayerID      int64
	CurrentElo    int
	MatchesPlayed int
	MatchesWon    int
	MatchesLost   int
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Match struct {
	ID               int64
	GroupID          int64
	Player1ID        int64
	Player2ID        int64
	Player1Score     int
	Player2Score     int
	Player1EloBefore int
	Player2EloBefore int
	Player1EloAfter  int
	Player2EloAfter  int
	IdempotencyKey   string
	CreatedBy        string
	CreatedAt        time.Time
	IsUndone         bool
	UndoneAt         *time.Time
	UndoneBy         string
}

// Involves reports whether playerID is one of the two participants.
func (m *Match) Involves(playerID int64) bool {
	return m != nil && (m.Player1ID == playerID || m.Player2ID == playerID)
}

type EloHistory struct {
	ID        int64
	MatchID   int64
	GroupID   int64
	PlayerID  int64
	EloBefore int
	EloAfter  int
	EloChange int
	CreatedAt time.Time
	IsUndone  bool
}

// RankingEntry is a GroupPlayer joined with its player's display fields.
type RankingEntry struct {
	GroupPlayer
	ExternalUserID string
	DisplayName    string
	SchoolNickname string
}
