// Package gateway is the outbound side of the chat platform as the bot sees it.
package gateway

import (
	"context"
	"errors"
)

// Role is a member's standing in a room.
type Role string

const (
	RoleUnknown Role = ""
	RoleOwner   Role = "owner"
	RoleManager Role = "manager"
	RoleMember  Role = "member"
	RoleBot     Role = "bot"
)

// IsAdmin reports whether the role may moderate the room.
func (r Role) IsAdmin() bool { return r == RoleOwner || r == RoleManager }

type Membership struct {
	Room     string
	UserID   string
	Nickname string
	Role     Role
}

// ErrNotMember is returned by Membership when the user is not in the room.
var ErrNotMember = errors.New("not a member of the room")

// ErrUnsupported marks operations the platform cannot perform.
var ErrUnsupported = errors.New("operation not supported by gateway")

type Gateway interface {
	SendText(ctx context.Context, room, text string) error
	SendImage(ctx context.Context, room string, png []byte) error
	React(ctx context.Context, room, messageID, emoji string) error
	Membership(ctx context.Context, room, userID string) (Membership, error)
}
