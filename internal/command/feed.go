package command

import (
	"context"
	"strings"

	"github.com/park285/elo-ladder-bot/internal/irisfast"
	"github.com/park285/elo-ladder-bot/internal/league"
	"go.uber.org/zap"
)

// handleFeed applies membership system messages: joins register and greet,
// leaves and kicks soft-delete. The bot itself leaving deactivates the room.
func (r *Router) handleFeed(ctx context.Context, msg *irisfast.Message, feed *irisfast.Feed) {
	room := msg.RoomID()
	logger := r.logger.With(zap.String("room", room), zap.Int("feed_type", feed.Type))

	switch feed.Type {
	case irisfast.FeedJoin, irisfast.FeedInvite:
		var greetings []string
		for _, m := range feed.Members {
			uid := strings.TrimSpace(m.UserID.String())
			if uid == "" || uid == r.cfg.BotUserID {
				continue
			}
			member := league.Member{UserID: uid, DisplayName: strings.TrimSpace(m.Nickname)}
			if err := r.svc.MemberJoined(ctx, room, strings.TrimSpace(msg.Room), member); err != nil {
				logger.Warn("member_join_failed", zap.String("user_id", uid), zap.Error(err))
				continue
			}
			if r.mentions != nil && member.DisplayName != "" {
				if err := r.mentions.Remember(ctx, room, member.DisplayName, uid); err != nil {
					logger.Warn("mention_remember_failed", zap.Error(err))
				}
			}
			greetings = append(greetings, r.formatter.Greeting(member.DisplayName))
		}
		if r.cfg.GreetOnJoin && len(greetings) > 0 {
			if err := r.presenter.Text(ctx, room, strings.Join(greetings, "\n\n")); err != nil {
				logger.Warn("greeting_failed", zap.Error(err))
			}
		}
	case irisfast.FeedLeave, irisfast.FeedKick:
		for _, m := range feed.Members {
			uid := strings.TrimSpace(m.UserID.String())
			if uid == "" {
				continue
			}
			if r.cfg.BotUserID != "" && uid == r.cfg.BotUserID {
				if err := r.svc.BotRemoved(ctx, room); err != nil {
					logger.Warn("group_deactivate_failed", zap.Error(err))
				} else {
					logger.Info("group_deactivated")
				}
				continue
			}
			if err := r.svc.MemberLeft(ctx, uid); err != nil {
				logger.Warn("member_leave_failed", zap.String("user_id", uid), zap.Error(err))
			}
		}
	default:
		logger.Debug("feed_ignored")
	}
}
