// Package ladderpresenter turns league results into chat messages: DTO
// conversion, catalog-backed text and delivery through the gateway.
package ladderpresenter

import (
	"fmt"
	"strings"
	"time"

	"github.com/park285/elo-ladder-bot/internal/msgcat"
	"github.com/park285/elo-ladder-bot/pkg/ladderdto"
	"go.uber.org/zap"
)

// 이 줄 수를 넘는 랭킹은 '전체보기'로 접는다.
const rankingFoldRows = 5

type PrefixProvider interface {
	Prefix() string
}

type Formatter struct {
	cat            *msgcat.Catalog
	prefixProvider PrefixProvider
	undoWindow     time.Duration
	rankingLimit   int
	initialRating  int
	logger         *zap.Logger
}

type FormatterConfig struct {
	UndoWindow    time.Duration
	RankingLimit  int
	InitialRating int
}

func NewFormatter(cat *msgcat.Catalog, provider PrefixProvider, cfg FormatterConfig, logger *zap.Logger) *Formatter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Formatter{
		cat:            cat,
		prefixProvider: provider,
		undoWindow:     cfg.UndoWindow,
		rankingLimit:   cfg.RankingLimit,
		initialRating:  cfg.InitialRating,
		logger:         logger,
	}
}

func (f *Formatter) Prefix() string {
	if f == nil || f.prefixProvider == nil {
		return ""
	}
	return strings.TrimSpace(f.prefixProvider.Prefix())
}

// vars is the data every template can rely on, merged with extra.
func (f *Formatter) vars(extra map[string]any) map[string]any {
	v := map[string]any{
		"Prefix":   f.Prefix(),
		"Rating":   f.initialRating,
		"Hours":    int(f.undoWindow.Hours()),
		"Limit":    f.rankingLimit,
		"Reason":   "",
		"Value":    "",
		"Name":     "",
		"Nickname": "",
	}
	for k, val := range extra {
		v[k] = val
	}
	return v
}

// render never fails outward: a broken template is logged and the internal
// error text is used instead.
func (f *Formatter) render(key string, data any) string {
	text, err := f.cat.Render(key, data)
	if err == nil {
		return text
	}
	f.logger.Error("message_render_failed", zap.String("key", key), zap.Error(err))
	if fallback, ferr := f.cat.Render("error.internal", f.vars(nil)); ferr == nil {
		return fallback
	}
	return key
}

func (f *Formatter) Text(key string, extra map[string]any) string {
	return f.render(key, f.vars(extra))
}

func (f *Formatter) Help() string  { return f.Text("help.text", nil) }
func (f *Formatter) Start() string { return f.Text("start.text", nil) }

func (f *Formatter) Unknown() string { return f.Text("unknown", nil) }

func (f *Formatter) Greeting(name string) string {
	return f.Text("join.greeting", map[string]any{"Name": name})
}

// CommandHelp returns "<cmd>.help", falling back to the general help text.
func (f *Formatter) CommandHelp(cmd string) string {
	key := cmd + ".help"
	if !f.cat.Has(key) {
		return f.Help()
	}
	return f.Text(key, nil)
}

func (f *Formatter) Recorded(m ladderdto.MatchSummary) string {
	return f.Text("match.recorded", map[string]any{
		"MatchID": m.MatchID,
		"NameA":   m.NameA,
		"NameB":   m.NameB,
		"ScoreA":  m.ScoreA,
		"ScoreB":  m.ScoreB,
		"BeforeA": m.BeforeA,
		"AfterA":  m.AfterA,
		"BeforeB": m.BeforeB,
		"AfterB":  m.AfterB,
		"ChangeA": signed(m.ChangeA()),
		"ChangeB": signed(m.ChangeB()),
	})
}

func (f *Formatter) Undone(u ladderdto.UndoSummary) string {
	return f.Text("undo.done", map[string]any{
		"MatchID": u.MatchID,
		"Name1":   u.Name1,
		"Name2":   u.Name2,
		"Before1": u.Before1,
		"After1":  u.After1,
		"Before2": u.Before2,
		"After2":  u.After2,
	})
}

// Rankings renders the table. Long tables get Kakao see-more padding so the
// room only shows the header until expanded.
func (f *Formatter) Rankings(room string, rows []ladderdto.RankingRow) string {
	if len(rows) == 0 {
		return f.Text("ranking.empty", nil)
	}
	header := f.Text("ranking.header", map[string]any{"Room": room, "Count": len(rows)})
	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, f.Text("ranking.row", map[string]any{
			"Rank":   r.Rank,
			"Name":   r.Name,
			"Elo":    r.Elo,
			"Won":    r.Won,
			"Lost":   r.Lost,
			"Played": r.Played,
		}))
	}
	if len(rows) <= rankingFoldRows {
		return header + "\n" + strings.Join(lines, "\n")
	}
	return foldBelow(header+f.Text("ranking.see_more", nil), lines)
}

func (f *Formatter) Standing(s ladderdto.Standing) string {
	if s.Played == 0 {
		return f.Text("me.none", map[string]any{"Name": s.Name})
	}
	return f.Text("me.text", map[string]any{
		"Name":   s.Name,
		"Elo":    s.Elo,
		"Won":    s.Won,
		"Lost":   s.Lost,
		"Played": s.Played,
	})
}

// Error picks "<cmd>.<code>", then "error.<code>", then error.internal.
func (f *Formatter) Error(cmd string, de ladderdto.DomainError, extra map[string]any) string {
	code := de.Code
	if code == "" {
		code = ladderdto.CodeInternal
	}
	data := map[string]any{}
	for k, v := range extra {
		data[k] = v
	}
	if code == ladderdto.CodeInvalid {
		data["Reason"] = de.Message
	}
	for _, key := range []string{cmd + "." + code, "error." + code} {
		if cmd == "" && strings.HasPrefix(key, ".") {
			continue
		}
		if f.cat.Has(key) {
			return f.Text(key, data)
		}
	}
	return f.Text("error.internal", data)
}

func signed(n int) string {
	if n > 0 {
		return fmt.Sprintf("+%d", n)
	}
	return fmt.Sprintf("%d", n)
}
