package command

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/park285/elo-ladder-bot/internal/irisfast"
	"github.com/park285/elo-ladder-bot/internal/league"
	"go.uber.org/zap"
)

// mentionNames extracts the "@name" chunks of s in order. Text before the
// first '@' is ignored. Names may contain spaces.
func mentionNames(s string) []string {
	parts := strings.Split(s, "@")
	out := make([]string, 0, len(parts))
	for _, p := range parts[1:] {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// unresolvedError names the first mention no user id could be found for.
type unresolvedError struct{ name string }

func (e *unresolvedError) Error() string { return "unresolved mention: " + e.name }

// resolveMembers maps names to users. Iris attachment mentions are tried
// first, matched by name length and then by order; the mention cache covers
// the rest.
func (r *Router) resolveMembers(ctx context.Context, req *request, names []string) ([]league.Member, error) {
	tagged := req.msg.Mentions()
	used := make([]bool, len(tagged))
	out := make([]league.Member, 0, len(names))

	for _, name := range names {
		uid := pickTagged(tagged, used, name, len(tagged) == len(names))
		if uid != "" {
			r.remember(ctx, req, name, uid)
			out = append(out, league.Member{UserID: uid, DisplayName: name})
			continue
		}
		if r.mentions != nil {
			cached, ok, err := r.mentions.Resolve(ctx, req.room, name)
			if err != nil {
				req.logger.Warn("mention_resolve_failed", zap.String("name", name), zap.Error(err))
			} else if ok {
				out = append(out, league.Member{UserID: cached, DisplayName: name})
				continue
			}
		}
		return nil, &unresolvedError{name: name}
	}
	return out, nil
}

// pickTagged returns the first unused attachment mention whose length fits
// name. With byOrder set the next unused one is taken when none fits.
func pickTagged(tagged []irisfast.Mention, used []bool, name string, byOrder bool) string {
	n := utf8.RuneCountInString(name)
	for i, m := range tagged {
		if used[i] || strings.TrimSpace(m.UserID) == "" {
			continue
		}
		if m.Len == n || m.Len == n+1 {
			used[i] = true
			return strings.TrimSpace(m.UserID)
		}
	}
	if !byOrder {
		return ""
	}
	for i, m := range tagged {
		if !used[i] && strings.TrimSpace(m.UserID) != "" {
			used[i] = true
			return strings.TrimSpace(m.UserID)
		}
	}
	return ""
}

func (r *Router) remember(ctx context.Context, req *request, name, uid string) {
	if r.mentions == nil {
		return
	}
	if err := r.mentions.Remember(ctx, req.room, name, uid); err != nil {
		req.logger.Warn("mention_remember_failed", zap.String("name", name), zap.Error(err))
	}
}
