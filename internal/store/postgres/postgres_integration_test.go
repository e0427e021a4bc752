package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/park285/elo-ladder-bot/internal/ladder"
	"github.com/park285/elo-ladder-bot/internal/store/postgres"
	"go.uber.org/zap"
)

// openTestStore connects to TEST_DATABASE_URL. Each test gets fresh external
// ids so runs do not collide.
func openTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	_ = godotenv.Load("../../../.env")

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := postgres.Open(ctx, postgres.Options{DatabaseURL: url, MaxOpenConns: 4}, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := st.HealthCheck(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}
	return st
}

func TestRegisterAndUndo_Integration(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())

	g, err := st.EnsureGroup(ctx, "room-"+suffix, "integration")
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	a, err := st.EnsurePlayer(ctx, "a-"+suffix, "Alice")
	if err != nil {
		t.Fatalf("player a: %v", err)
	}
	b, err := st.EnsurePlayer(ctx, "b-"+suffix, "Bob")
	if err != nil {
		t.Fatalf("player b: %v", err)
	}
	for _, p := range []int64{a.ID, b.ID} {
		if _, err := st.EnsureGroupPlayer(ctx, g.ID, p); err != nil {
			t.Fatalf("group player: %v", err)
		}
	}

	eng, err := ladder.NewEngine(st, ladder.DefaultConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	key, err := ladder.IdempotencyKey("room-"+suffix, "msg-1")
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	report := ladder.MatchReport{
		GroupID:        g.ID,
		PlayerAID:      a.ID,
		PlayerBID:      b.ID,
		ScoreA:         3,
		ScoreB:         1,
		IdempotencyKey: key,
		Actor:          a.ExternalUserID,
	}
	out, err := eng.RegisterMatch(ctx, report)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if out.EloAfterA != 1516 || out.EloAfterB != 1484 {
		t.Fatalf("after = %d/%d, want 1516/1484", out.EloAfterA, out.EloAfterB)
	}

	if _, err := eng.RegisterMatch(ctx, report); !errors.Is(err, ladder.ErrDuplicateMatch) {
		t.Fatalf("second register err = %v, want duplicate", err)
	}

	ranks, err := st.Rankings(ctx, g.ID, 10)
	if err != nil {
		t.Fatalf("rankings: %v", err)
	}
	if len(ranks) != 2 || ranks[0].PlayerID != a.ID {
		t.Fatalf("rankings = %+v", ranks)
	}

	if _, err := eng.UndoMatch(ctx, out.MatchID, a.ExternalUserID); err != nil {
		t.Fatalf("undo: %v", err)
	}
	gpA, err := st.GroupPlayer(ctx, g.ID, a.ID)
	if err != nil {
		t.Fatalf("group player: %v", err)
	}
	if gpA.CurrentElo != 1500 || gpA.MatchesPlayed != 0 || gpA.Version != 2 {
		t.Fatalf("after undo = %+v", gpA)
	}

	trail, err := st.AuditTrail(ctx, out.MatchID)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(trail) != 4 {
		t.Fatalf("audit rows = %d, want 4", len(trail))
	}

	if _, err := eng.UndoMatch(ctx, out.MatchID, a.ExternalUserID); !errors.Is(err, ladder.ErrAlreadyUndone) {
		t.Fatalf("second undo err = %v, want already undone", err)
	}
}
