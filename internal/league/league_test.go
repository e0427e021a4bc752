package league_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/park285/elo-ladder-bot/internal/gateway"
	"github.com/park285/elo-ladder-bot/internal/gateway/gatewaytest"
	"github.com/park285/elo-ladder-bot/internal/identity"
	"github.com/park285/elo-ladder-bot/internal/ladder"
	"github.com/park285/elo-ladder-bot/internal/league"
	"github.com/park285/elo-ladder-bot/internal/store/memstore"
)

const room = "room-1"

var (
	alice = league.Member{UserID: "u-alice", DisplayName: "alice"}
	bob   = league.Member{UserID: "u-bob", DisplayName: "bob"}
	carol = league.Member{UserID: "u-carol", DisplayName: "carol"}
)

type fakeIdentity map[string]*identity.Participant

func (f fakeIdentity) Participant(ctx context.Context, login string) (*identity.Participant, error) {
	p, ok := f[login]
	if !ok {
		return nil, identity.ErrParticipantNotFound
	}
	return p, nil
}

type env struct {
	svc   *league.Service
	store *memstore.Store
	gw    *gatewaytest.Recorder
	now   *time.Time
}

func newEnv(t *testing.T, cfg league.Config) *env {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	st := memstore.New(memstore.WithClock(clock))
	eng, err := ladder.NewEngine(st, ladder.DefaultConfig(), nil, ladder.WithClock(clock))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	gw := gatewaytest.NewRecorder()
	ids := fakeIdentity{
		"jdoe":  {Login: "jdoe", Status: identity.StatusActive},
		"froze": {Login: "froze", Status: "TEMPORARY_BLOCKING"},
	}
	svc, err := league.New(st, eng, cfg, nil,
		league.WithMembership(gw),
		league.WithIdentity(ids),
		league.WithClock(clock),
	)
	if err != nil {
		t.Fatalf("league.New: %v", err)
	}
	return &env{svc: svc, store: st, gw: gw, now: &now}
}

func (e *env) report(t *testing.T, msgID string, a, b league.Member, sa, sb int) *league.ReportResult {
	t.Helper()
	res, err := e.svc.ReportMatch(context.Background(), league.ReportRequest{
		Room:      room,
		RoomName:  "ping pong",
		MessageID: msgID,
		Reporter:  a,
		PlayerA:   a,
		PlayerB:   b,
		ScoreA:    sa,
		ScoreB:    sb,
	})
	if err != nil {
		t.Fatalf("ReportMatch: %v", err)
	}
	return res
}

func TestReportMatchCreatesEverything(t *testing.T) {
	e := newEnv(t, league.Config{})
	res := e.report(t, "m1", alice, bob, 3, 1)

	if res.EloAfterA != 1516 || res.EloAfterB != 1484 {
		t.Fatalf("after = %d/%d", res.EloAfterA, res.EloAfterB)
	}
	if res.PlayerA.ExternalUserID != "u-alice" || res.PlayerB.DisplayName != "bob" {
		t.Fatalf("players = %+v %+v", res.PlayerA, res.PlayerB)
	}

	ranks, err := e.svc.Rankings(context.Background(), room, 0)
	if err != nil {
		t.Fatalf("Rankings: %v", err)
	}
	if len(ranks) != 2 || ranks[0].ExternalUserID != "u-alice" {
		t.Fatalf("rankings = %+v", ranks)
	}
}

func TestReportMatchSameMessageTwice(t *testing.T) {
	e := newEnv(t, league.Config{})
	e.report(t, "m1", alice, bob, 1, 0)

	_, err := e.svc.ReportMatch(context.Background(), league.ReportRequest{
		Room: room, MessageID: "m1", Reporter: alice, PlayerA: alice, PlayerB: bob, ScoreA: 1,
	})
	if !errors.Is(err, ladder.ErrDuplicateMatch) {
		t.Fatalf("err = %v, want ErrDuplicateMatch", err)
	}
}

func TestReportMatchRequiresMessageID(t *testing.T) {
	e := newEnv(t, league.Config{})
	for _, pair := range [][2]league.Member{{alice, bob}, {bob, carol}} {
		_, err := e.svc.ReportMatch(context.Background(), league.ReportRequest{
			Room: room, MessageID: "", Reporter: pair[0], PlayerA: pair[0], PlayerB: pair[1], ScoreA: 1,
		})
		if !errors.Is(err, ladder.ErrValidation) {
			t.Fatalf("%s vs %s: err = %v, want validation", pair[0].DisplayName, pair[1].DisplayName, err)
		}
	}
	if n := e.store.MatchCount(); n != 0 {
		t.Fatalf("matches committed = %d", n)
	}
}

func TestReportMatchRejectsSelfPlay(t *testing.T) {
	e := newEnv(t, league.Config{})
	_, err := e.svc.ReportMatch(context.Background(), league.ReportRequest{
		Room: room, MessageID: "m1", Reporter: alice, PlayerA: alice, PlayerB: alice, ScoreA: 1,
	})
	if !errors.Is(err, ladder.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestUndoLastMatchByParticipant(t *testing.T) {
	e := newEnv(t, league.Config{})
	e.report(t, "m1", alice, bob, 3, 0)
	second := e.report(t, "m2", alice, bob, 0, 3)

	res, err := e.svc.Undo(context.Background(), league.UndoRequest{Room: room, Requester: bob})
	if err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if res.MatchID != second.MatchID {
		t.Fatalf("undid match %d, want latest %d", res.MatchID, second.MatchID)
	}
	if res.ByAdmin {
		t.Fatal("participant undo flagged as admin")
	}

	gp, err := e.svc.Standing(context.Background(), room, "u-alice")
	if err != nil {
		t.Fatalf("Standing: %v", err)
	}
	if gp.CurrentElo != 1516 || gp.MatchesPlayed != 1 {
		t.Fatalf("alice = %+v", gp)
	}
}

func TestUndoRequiresParticipantOrAdmin(t *testing.T) {
	e := newEnv(t, league.Config{})
	m := e.report(t, "m1", alice, bob, 3, 0)
	e.report(t, "m-other", carol, bob, 1, 0)

	_, err := e.svc.Undo(context.Background(), league.UndoRequest{Room: room, Requester: carol, MatchID: m.MatchID})
	if !errors.Is(err, league.ErrNotParticipant) {
		t.Fatalf("err = %v, want ErrNotParticipant", err)
	}

	e.gw.SetRole(room, carol.UserID, gateway.RoleManager)
	res, err := e.svc.Undo(context.Background(), league.UndoRequest{Room: room, Requester: carol, MatchID: m.MatchID})
	if err != nil {
		t.Fatalf("admin Undo: %v", err)
	}
	if !res.ByAdmin {
		t.Fatal("expected admin undo")
	}
}

func TestUndoWindow(t *testing.T) {
	e := newEnv(t, league.Config{UndoWindow: time.Hour, AdminUserIDs: []string{"u-root"}})
	m := e.report(t, "m1", alice, bob, 3, 0)

	*e.now = e.now.Add(2 * time.Hour)
	_, err := e.svc.Undo(context.Background(), league.UndoRequest{Room: room, Requester: alice, MatchID: m.MatchID})
	if !errors.Is(err, league.ErrUndoWindowExpired) {
		t.Fatalf("err = %v, want ErrUndoWindowExpired", err)
	}

	root := league.Member{UserID: "u-root"}
	if _, err := e.svc.Undo(context.Background(), league.UndoRequest{Room: room, Requester: root, MatchID: m.MatchID}); err != nil {
		t.Fatalf("configured admin bypasses window: %v", err)
	}
	if _, err := e.svc.Undo(context.Background(), league.UndoRequest{Room: room, Requester: root, MatchID: m.MatchID}); !errors.Is(err, ladder.ErrAlreadyUndone) {
		t.Fatalf("second undo err = %v", err)
	}
}

func TestUndoMatchFromAnotherRoom(t *testing.T) {
	e := newEnv(t, league.Config{})
	m := e.report(t, "m1", alice, bob, 3, 0)
	if _, err := e.svc.ReportMatch(context.Background(), league.ReportRequest{
		Room: "room-2", MessageID: "x", Reporter: alice, PlayerA: alice, PlayerB: bob, ScoreA: 1,
	}); err != nil {
		t.Fatalf("ReportMatch room-2: %v", err)
	}

	_, err := e.svc.Undo(context.Background(), league.UndoRequest{Room: "room-2", Requester: alice, MatchID: m.MatchID})
	if !errors.Is(err, ladder.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestVerifyStudentAndGuest(t *testing.T) {
	e := newEnv(t, league.Config{})
	ctx := context.Background()

	p, err := e.svc.VerifyStudent(ctx, alice, " jdoe ")
	if err != nil {
		t.Fatalf("VerifyStudent: %v", err)
	}
	if !p.IsVerifiedStudent || p.SchoolNickname != "jdoe" {
		t.Fatalf("player = %+v", p)
	}

	if _, err := e.svc.VerifyStudent(ctx, bob, "froze"); !errors.Is(err, league.ErrNotVerified) {
		t.Fatalf("inactive err = %v", err)
	}
	if _, err := e.svc.VerifyStudent(ctx, bob, "ghost"); !errors.Is(err, identity.ErrParticipantNotFound) {
		t.Fatalf("unknown err = %v", err)
	}

	g, err := e.svc.RegisterGuest(ctx, alice)
	if err != nil {
		t.Fatalf("RegisterGuest: %v", err)
	}
	stored, err := e.store.PlayerByID(ctx, g.ID)
	if err != nil {
		t.Fatalf("PlayerByID: %v", err)
	}
	if stored.IsVerifiedStudent || !stored.IsAllowedNonStudent || stored.SchoolNickname != "" {
		t.Fatalf("guest = %+v", stored)
	}
}

func TestMemberLeftHidesFromRankings(t *testing.T) {
	e := newEnv(t, league.Config{})
	ctx := context.Background()
	e.report(t, "m1", alice, bob, 3, 0)

	if err := e.svc.MemberLeft(ctx, bob.UserID); err != nil {
		t.Fatalf("MemberLeft: %v", err)
	}
	if err := e.svc.MemberLeft(ctx, "u-stranger"); err != nil {
		t.Fatalf("unknown member left: %v", err)
	}
	ranks, err := e.svc.Rankings(ctx, room, 10)
	if err != nil {
		t.Fatalf("Rankings: %v", err)
	}
	if len(ranks) != 1 || ranks[0].ExternalUserID != alice.UserID {
		t.Fatalf("rankings = %+v", ranks)
	}

	// 재입장 시 복구
	if err := e.svc.MemberJoined(ctx, room, "", bob); err != nil {
		t.Fatalf("MemberJoined: %v", err)
	}
	ranks, _ = e.svc.Rankings(ctx, room, 10)
	if len(ranks) != 2 {
		t.Fatalf("rankings after rejoin = %d", len(ranks))
	}
}

func TestHistoryOldestFirst(t *testing.T) {
	e := newEnv(t, league.Config{})
	e.report(t, "m1", alice, bob, 1, 0)
	e.report(t, "m2", alice, bob, 1, 0)

	hist, err := e.svc.History(context.Background(), room, alice.UserID, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 || hist[0].EloBefore != 1500 || hist[1].EloBefore != hist[0].EloAfter {
		t.Fatalf("history = %+v", hist)
	}
}

func TestRankingsUnknownRoom(t *testing.T) {
	e := newEnv(t, league.Config{})
	ranks, err := e.svc.Rankings(context.Background(), "nowhere", 5)
	if err != nil || len(ranks) != 0 {
		t.Fatalf("Rankings = %v, %v", ranks, err)
	}
}
