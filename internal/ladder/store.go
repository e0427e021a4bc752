package ladder

import (
	"context"
	"time"

	"github.com/park285/elo-ladder-bot/internal/domain"
)

// Tx is the set of reads and writes the engine issues inside one transaction.
// Implementations return ErrNotFound (wrapped) for absent rows.
type Tx interface {
	// MatchIDByIdempotencyKey returns the id of the match carrying key, if any.
	MatchIDByIdempotencyKey(ctx context.Context, key string) (int64, bool, error)
	// LockGroupPlayer reads the row with an exclusive row lock held until the
	// transaction ends.
	LockGroupPlayer(ctx context.Context, groupID, playerID int64) (*domain.GroupPlayer, error)
	// UpdateGroupPlayer writes elo and counters, bumps version by one, and
	// applies only when the stored version equals expectedVersion. It reports
	// whether a row was updated.
	UpdateGroupPlayer(ctx context.Context, gp *domain.GroupPlayer, expectedVersion int64) (bool, error)
	InsertMatch(ctx context.Context, m *domain.Match) (int64, error)
	InsertEloHistory(ctx context.Context, h *domain.EloHistory) error
	LockMatch(ctx context.Context, matchID int64) (*domain.Match, error)
	MarkMatchUndone(ctx context.Context, matchID int64, actor string, at time.Time) error
}

// TxRunner opens a transaction, runs fn and commits when fn returns nil.
// Any error rolls the transaction back. A runner backed by a bounded pool
// returns ErrPoolExhausted when no connection is free.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
