// Package command parses prefixed chat messages and runs them against the
// league service.
package command

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/park285/elo-ladder-bot/internal/adapter/ladderpresenter"
	"github.com/park285/elo-ladder-bot/internal/domain"
	"github.com/park285/elo-ladder-bot/internal/gateway"
	"github.com/park285/elo-ladder-bot/internal/irisfast"
	"github.com/park285/elo-ladder-bot/internal/league"
	"github.com/park285/elo-ladder-bot/internal/mention"
	"github.com/park285/elo-ladder-bot/pkg/ladderdto"
	"go.uber.org/zap"
)

// Service is the part of league.Service the commands use.
type Service interface {
	ReportMatch(ctx context.Context, req league.ReportRequest) (*league.ReportResult, error)
	Undo(ctx context.Context, req league.UndoRequest) (*league.UndoResult, error)
	Rankings(ctx context.Context, room string, limit int) ([]domain.RankingEntry, error)
	History(ctx context.Context, room, userID string, limit int) ([]domain.EloHistory, error)
	Standing(ctx context.Context, room, userID string) (*domain.GroupPlayer, error)
	VerifyStudent(ctx context.Context, user league.Member, nickname string) (*domain.Player, error)
	RegisterGuest(ctx context.Context, user league.Member) (*domain.Player, error)
	MemberJoined(ctx context.Context, room, roomName string, user league.Member) error
	MemberLeft(ctx context.Context, userID string) error
	BotRemoved(ctx context.Context, room string) error
}

const defaultHandleTimeout = 30 * time.Second

type Config struct {
	Prefix       string
	AllowedRooms []string

	// BotUserID lets the router recognise its own kick/leave feed.
	BotUserID     string
	HandleTimeout time.Duration
	GreetOnJoin   bool
	HistoryLimit  int
	ChartWidth    int
	ChartHeight   int
}

type Router struct {
	cfg       Config
	svc       Service
	mentions  mention.Cache
	presenter *ladderpresenter.Presenter
	formatter *ladderpresenter.Formatter
	logger    *zap.Logger
	allowed   map[string]struct{}
	handlers  map[string]handlerFunc
}

type handlerFunc func(ctx context.Context, req *request) error

// request is one parsed command invocation.
type request struct {
	id        string
	msg       *irisfast.Message
	room      string
	roomName  string
	messageID string
	user      league.Member
	cmd       string
	args      []string
	// body is the text after the command word, untouched
	body   string
	logger *zap.Logger
}

func New(cfg Config, svc Service, gw gateway.Gateway, formatter *ladderpresenter.Formatter, mentions mention.Cache, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = defaultHandleTimeout
	}
	r := &Router{
		cfg:       cfg,
		svc:       svc,
		mentions:  mentions,
		presenter: ladderpresenter.NewPresenter(gw),
		formatter: formatter,
		logger:    logger,
		allowed:   make(map[string]struct{}, len(cfg.AllowedRooms)),
	}
	for _, room := range cfg.AllowedRooms {
		if room = strings.TrimSpace(room); room != "" {
			r.allowed[room] = struct{}{}
		}
	}
	r.handlers = map[string]handlerFunc{
		"start":    r.handleStart,
		"help":     r.handleHelp,
		"match":    r.handleMatch,
		"ranking":  r.handleRanking,
		"rank":     r.handleRanking,
		"me":       r.handleMe,
		"history":  r.handleHistory,
		"id":       r.handleID,
		"id_guest": r.handleGuest,
		"undo":     r.handleUndo,
	}
	return r
}

func (r *Router) Prefix() string { return r.cfg.Prefix }

// Handle processes one inbound message. It is safe to call concurrently.
func (r *Router) Handle(ctx context.Context, msg *irisfast.Message) {
	if msg == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.HandleTimeout)
	defer cancel()

	if !r.roomAllowed(msg) {
		r.logger.Debug("message_ignored_room", zap.String("room", msg.RoomID()))
		return
	}
	if feed := msg.Feed(); feed != nil {
		r.handleFeed(ctx, msg, feed)
		return
	}

	r.rememberSender(ctx, msg)

	text := strings.TrimSpace(msg.Msg)
	if text == "" || r.cfg.Prefix == "" || !strings.HasPrefix(text, r.cfg.Prefix) {
		return
	}
	req := r.parse(msg, strings.TrimSpace(strings.TrimPrefix(text, r.cfg.Prefix)))
	r.dispatch(ctx, req)
}

func (r *Router) parse(msg *irisfast.Message, raw string) *request {
	req := &request{
		id:        uuid.NewString(),
		msg:       msg,
		room:      msg.RoomID(),
		roomName:  strings.TrimSpace(msg.Room),
		messageID: msg.MessageID(),
		user:      league.Member{UserID: msg.UserID(), DisplayName: msg.SenderName()},
	}
	if raw == "" {
		req.cmd = "help"
	} else {
		fields := strings.Fields(raw)
		req.cmd = strings.ToLower(fields[0])
		req.args = fields[1:]
		req.body = strings.TrimSpace(strings.TrimPrefix(raw, fields[0]))
	}
	req.logger = r.logger.With(
		zap.String("request_id", req.id),
		zap.String("cmd", req.cmd),
		zap.String("room", req.room),
		zap.String("user_id", req.user.UserID),
	)
	return req
}

func (r *Router) dispatch(ctx context.Context, req *request) {
	defer func() {
		if rec := recover(); rec != nil {
			req.logger.Error("command_panic", zap.Any("panic", rec), zap.Stack("stack"))
			r.reply(ctx, req, r.formatter.Text("error.internal", nil))
		}
	}()

	h, ok := r.handlers[req.cmd]
	if !ok {
		r.reply(ctx, req, r.formatter.Unknown())
		return
	}
	if len(req.args) == 1 && strings.EqualFold(req.args[0], "help") {
		r.reply(ctx, req, r.formatter.CommandHelp(helpKey(req.cmd)))
		return
	}

	start := time.Now()
	err := h(ctx, req)
	if err != nil {
		r.replyError(ctx, req, err, nil)
	}
	req.logger.Debug("command_done", zap.Duration("took", time.Since(start)), zap.Bool("failed", err != nil))
}

func helpKey(cmd string) string {
	switch cmd {
	case "id_guest":
		return "id"
	case "rank":
		return "ranking"
	}
	return cmd
}

func (r *Router) reply(ctx context.Context, req *request, text string) {
	if err := r.presenter.Text(ctx, req.room, text); err != nil {
		req.logger.Warn("reply_failed", zap.Error(err))
	}
}

// replyError maps err to a catalog message for req's command. Unknown
// failures are logged at error level.
func (r *Router) replyError(ctx context.Context, req *request, err error, extra map[string]any) {
	de := ladderpresenter.ToDomainError(err)
	if de.Code == ladderdto.CodeInternal {
		req.logger.Error("command_failed", zap.Error(err))
	} else {
		req.logger.Info("command_rejected", zap.String("code", de.Code), zap.Error(err))
	}
	r.reply(ctx, req, r.formatter.Error(req.cmd, de, extra))
}

func (r *Router) roomAllowed(msg *irisfast.Message) bool {
	if len(r.allowed) == 0 {
		return true
	}
	if _, ok := r.allowed[msg.RoomID()]; ok {
		return true
	}
	_, ok := r.allowed[strings.TrimSpace(msg.Room)]
	return ok
}

func (r *Router) rememberSender(ctx context.Context, msg *irisfast.Message) {
	if r.mentions == nil {
		return
	}
	name, uid := msg.SenderName(), msg.UserID()
	if name == "" || uid == "" || name == uid {
		return
	}
	if err := r.mentions.Remember(ctx, msg.RoomID(), name, uid); err != nil {
		r.logger.Warn("mention_remember_failed", zap.String("room", msg.RoomID()), zap.Error(err))
	}
}
