package irisfast

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/park285/elo-ladder-bot/internal/gateway"
	"go.uber.org/zap"
)

// open_chat_member.link_member_type values.
const (
	linkMemberOwner   = 1
	linkMemberMember  = 2
	linkMemberManager = 4
	linkMemberBot     = 8
)

const qMembership = `SELECT m.link_member_type, m.nickname
FROM db2.open_chat_member m
JOIN chat_rooms r ON r.link_id = m.link_id
WHERE r.id = ? AND m.user_id = ?
LIMIT 1`

// Gateway sends through an Egress and answers membership questions with
// Iris /query.
type Gateway struct {
	client *Client
	egress Egress
	logger *zap.Logger
}

var _ gateway.Gateway = (*Gateway)(nil)

func NewGateway(client *Client, egress Egress, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{client: client, egress: egress, logger: logger}
}

func (g *Gateway) SendText(ctx context.Context, room, text string) error {
	return g.egress.SendText(ctx, room, text)
}

func (g *Gateway) SendImage(ctx context.Context, room string, png []byte) error {
	return g.egress.SendImage(ctx, room, png)
}

// React is not available through Iris; the call is logged and dropped.
func (g *Gateway) React(ctx context.Context, room, messageID, emoji string) error {
	g.logger.Debug("react_unsupported", zap.String("room", room), zap.String("message_id", messageID), zap.String("emoji", emoji))
	return nil
}

func (g *Gateway) Membership(ctx context.Context, room, userID string) (gateway.Membership, error) {
	rows, err := g.client.Query(ctx, qMembership, room, userID)
	if err != nil {
		return gateway.Membership{}, fmt.Errorf("membership query: %w", err)
	}
	if len(rows) == 0 {
		return gateway.Membership{}, gateway.ErrNotMember
	}
	row := rows[0]
	m := gateway.Membership{Room: room, UserID: userID, Role: roleFromLinkType(row["link_member_type"])}
	if nick, ok := row["nickname"].(string); ok {
		m.Nickname = nick
	}
	return m, nil
}

// roleFromLinkType accepts the value as Iris returns it, a string or a number.
func roleFromLinkType(v any) gateway.Role {
	var n int
	switch t := v.(type) {
	case float64:
		n = int(t)
	case string:
		n, _ = strconv.Atoi(strings.TrimSpace(t))
	case int:
		n = t
	}
	switch n {
	case linkMemberOwner:
		return gateway.RoleOwner
	case linkMemberManager:
		return gateway.RoleManager
	case linkMemberMember:
		return gateway.RoleMember
	case linkMemberBot:
		return gateway.RoleBot
	default:
		return gateway.RoleUnknown
	}
}
