package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/park285/elo-ladder-bot/internal/adapter/ladderpresenter"
	"github.com/park285/elo-ladder-bot/internal/chart"
	"github.com/park285/elo-ladder-bot/internal/ladder"
	"github.com/park285/elo-ladder-bot/internal/league"
	"go.uber.org/zap"
)

func (r *Router) handleStart(ctx context.Context, req *request) error {
	r.reply(ctx, req, r.formatter.Start())
	return nil
}

func (r *Router) handleHelp(ctx context.Context, req *request) error {
	if len(req.args) > 0 {
		if _, ok := r.handlers[strings.ToLower(req.args[0])]; ok {
			r.reply(ctx, req, r.formatter.CommandHelp(helpKey(strings.ToLower(req.args[0]))))
			return nil
		}
	}
	r.reply(ctx, req, r.formatter.Help())
	return nil
}

// match @a @b <scoreA> <scoreB>
func (r *Router) handleMatch(ctx context.Context, req *request) error {
	fields := strings.Fields(req.body)
	if len(fields) < 4 {
		r.reply(ctx, req, r.formatter.Text("match.usage", nil))
		return nil
	}
	names := mentionNames(strings.Join(fields[:len(fields)-2], " "))
	if len(names) != 2 {
		r.reply(ctx, req, r.formatter.Text("match.usage", nil))
		return nil
	}
	scores := make([]int, 2)
	for i, tok := range fields[len(fields)-2:] {
		n, err := strconv.Atoi(tok)
		if err != nil || n < 0 {
			r.reply(ctx, req, r.formatter.Text("match.bad_score", map[string]any{"Value": tok}))
			return nil
		}
		scores[i] = n
	}

	players, err := r.resolveMembers(ctx, req, names)
	if err != nil {
		return r.mentionFailure(ctx, req, err)
	}

	res, err := r.svc.ReportMatch(ctx, league.ReportRequest{
		Room:      req.room,
		RoomName:  req.roomName,
		MessageID: req.messageID,
		Reporter:  req.user,
		PlayerA:   players[0],
		PlayerB:   players[1],
		ScoreA:    scores[0],
		ScoreB:    scores[1],
	})
	if err != nil {
		return err
	}
	req.logger.Info("match_reported",
		zap.Int64("match_id", res.MatchID),
		zap.Int("attempts", res.Attempts),
		zap.Int("change_a", res.ChangeA()),
	)
	r.reply(ctx, req, r.formatter.Recorded(ladderpresenter.ToMatchSummary(res, scores[0], scores[1])))
	return nil
}

func (r *Router) mentionFailure(ctx context.Context, req *request, err error) error {
	var ue *unresolvedError
	if errors.As(err, &ue) {
		r.reply(ctx, req, r.formatter.Text("match.mention_unknown", map[string]any{"Name": ue.name}))
		return nil
	}
	return err
}

func (r *Router) handleRanking(ctx context.Context, req *request) error {
	entries, err := r.svc.Rankings(ctx, req.room, 0)
	if err != nil {
		return err
	}
	r.reply(ctx, req, r.formatter.Rankings(req.roomName, ladderpresenter.ToRankingRows(entries)))
	return nil
}

func (r *Router) handleMe(ctx context.Context, req *request) error {
	name := req.user.DisplayName
	if name == "" {
		name = req.user.UserID
	}
	gp, err := r.svc.Standing(ctx, req.room, req.user.UserID)
	if errors.Is(err, ladder.ErrNotFound) {
		gp, err = nil, nil
	}
	if err != nil {
		return err
	}
	r.reply(ctx, req, r.formatter.Standing(ladderpresenter.ToStanding(name, gp)))
	return nil
}

// history [@user]
func (r *Router) handleHistory(ctx context.Context, req *request) error {
	target := req.user
	if req.body != "" {
		names := mentionNames(req.body)
		if len(names) == 0 {
			names = []string{req.body}
		}
		members, err := r.resolveMembers(ctx, req, names[:1])
		if err != nil {
			return r.mentionFailure(ctx, req, err)
		}
		target = members[0]
	}
	name := target.DisplayName
	if name == "" {
		name = target.UserID
	}

	hist, err := r.svc.History(ctx, req.room, target.UserID, r.cfg.HistoryLimit)
	if errors.Is(err, ladder.ErrNotFound) || (err == nil && len(hist) == 0) {
		r.reply(ctx, req, r.formatter.Text("history.empty", map[string]any{"Name": name}))
		return nil
	}
	if err != nil {
		return err
	}
	png, err := chart.RenderHistory(hist, chart.Options{
		Title:  fmt.Sprintf("ELO history (%d matches)", len(hist)),
		Width:  r.cfg.ChartWidth,
		Height: r.cfg.ChartHeight,
	})
	if err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	if err := r.presenter.Chart(ctx, req.room, "", png); err != nil {
		req.logger.Warn("chart_send_failed", zap.Error(err))
	}
	return nil
}

// id <nickname>
func (r *Router) handleID(ctx context.Context, req *request) error {
	if len(req.args) == 0 {
		r.reply(ctx, req, r.formatter.Text("id.usage", nil))
		return nil
	}
	nickname := req.args[0]
	p, err := r.svc.VerifyStudent(ctx, req.user, nickname)
	if err != nil {
		r.replyError(ctx, req, err, map[string]any{"Nickname": nickname})
		return nil
	}
	r.reply(ctx, req, r.formatter.Text("id.verified", map[string]any{"Nickname": p.SchoolNickname}))
	return nil
}

func (r *Router) handleGuest(ctx context.Context, req *request) error {
	if _, err := r.svc.RegisterGuest(ctx, req.user); err != nil {
		return err
	}
	r.reply(ctx, req, r.formatter.Text("id.guest", nil))
	return nil
}

// undo [matchID]
func (r *Router) handleUndo(ctx context.Context, req *request) error {
	var matchID int64
	if len(req.args) > 0 {
		tok := strings.TrimPrefix(req.args[0], "#")
		id, err := strconv.ParseInt(tok, 10, 64)
		if err != nil || id <= 0 {
			r.reply(ctx, req, r.formatter.Text("undo.bad_id", map[string]any{"Value": req.args[0]}))
			return nil
		}
		matchID = id
	}
	res, err := r.svc.Undo(ctx, league.UndoRequest{Room: req.room, Requester: req.user, MatchID: matchID})
	if err != nil {
		return err
	}
	req.logger.Info("match_undone", zap.Int64("match_id", res.MatchID), zap.Bool("by_admin", res.ByAdmin))
	r.reply(ctx, req, r.formatter.Undone(ladderpresenter.ToUndoSummary(res)))
	return nil
}
