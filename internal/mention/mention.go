// Package mention remembers which user id sits behind a display name in a
// room, so "@name" arguments can be resolved.
package mention

import (
	"context"
	"strings"
	"time"
)

const (
	DefaultTTL        = 7 * 24 * time.Hour
	DefaultMaxEntries = 500
)

type Cache interface {
	Remember(ctx context.Context, room, name, userID string) error
	// Resolve returns the user id last seen under name in room.
	Resolve(ctx context.Context, room, name string) (string, bool, error)
}

type Options struct {
	TTL        time.Duration
	MaxEntries int
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = DefaultMaxEntries
	}
	return o
}

// NormalizeName folds a display name or "@name" argument to the cache key form.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "@")
	return strings.ToLower(strings.TrimSpace(name))
}
