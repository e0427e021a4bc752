// Package gatewaytest provides a recording gateway for tests.
package gatewaytest

import (
	"context"
	"strings"
	"sync"

	"github.com/park285/elo-ladder-bot/internal/gateway"
)

type Sent struct {
	Room  string
	Text  string
	Image []byte
}

type Reaction struct {
	Room      string
	MessageID string
	Emoji     string
}

// Recorder keeps every outbound call in order. Memberships are looked up in
// Members keyed by room + "/" + user id; absent entries yield ErrNotMember.
type Recorder struct {
	mu        sync.Mutex
	sent      []Sent
	reactions []Reaction
	members   map[string]gateway.Membership
	// SendErr, when set, is returned by SendText and SendImage.
	SendErr error
}

var _ gateway.Gateway = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{members: make(map[string]gateway.Membership)}
}

func (r *Recorder) SetRole(room, userID string, role gateway.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[room+"/"+userID] = gateway.Membership{Room: room, UserID: userID, Role: role}
}

func (r *Recorder) SendText(ctx context.Context, room, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SendErr != nil {
		return r.SendErr
	}
	r.sent = append(r.sent, Sent{Room: room, Text: text})
	return nil
}

func (r *Recorder) SendImage(ctx context.Context, room string, png []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SendErr != nil {
		return r.SendErr
	}
	r.sent = append(r.sent, Sent{Room: room, Image: append([]byte(nil), png...)})
	return nil
}

func (r *Recorder) React(ctx context.Context, room, messageID, emoji string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reactions = append(r.reactions, Reaction{Room: room, MessageID: messageID, Emoji: emoji})
	return nil
}

func (r *Recorder) Membership(ctx context.Context, room, userID string) (gateway.Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[room+"/"+userID]
	if !ok {
		return gateway.Membership{}, gateway.ErrNotMember
	}
	return m, nil
}

func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

func (r *Recorder) Reactions() []Reaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Reaction(nil), r.reactions...)
}

// Texts returns the text bodies sent so far, images skipped.
func (r *Recorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, s := range r.sent {
		if s.Image == nil {
			out = append(out, s.Text)
		}
	}
	return out
}

// LastText is the most recent text message, or "".
func (r *Recorder) LastText() string {
	texts := r.Texts()
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

// Contains reports whether any sent text contains sub.
func (r *Recorder) Contains(sub string) bool {
	for _, t := range r.Texts() {
		if strings.Contains(t, sub) {
			return true
		}
	}
	return false
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
	r.reactions = nil
}
