package ladder

import (
	"context"
	"fmt"
	"strings"
)

const MaxIdempotencyKeyLen = 255

// IdempotencyKey derives the key for a match report from the room it was
// posted in and the message that carried it. Both parts are required: a key
// built from an empty message id would collide with every other report in
// the room.
func IdempotencyKey(room, messageID string) (string, error) {
	room = strings.TrimSpace(room)
	messageID = strings.TrimSpace(messageID)
	if room == "" {
		return "", invalid("room", "must not be empty")
	}
	if messageID == "" {
		return "", invalid("message_id", "must not be empty")
	}
	return room + "_" + messageID, nil
}

func validateIdempotencyKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return invalid("idempotency_key", "must not be empty")
	}
	if len(key) > MaxIdempotencyKeyLen {
		return invalid("idempotency_key", "exceeds %d characters", MaxIdempotencyKeyLen)
	}
	return nil
}

// checkIdempotency must run inside the transaction that writes the match.
func checkIdempotency(ctx context.Context, tx Tx, key string) error {
	id, exists, err := tx.MatchIDByIdempotencyKey(ctx, key)
	if err != nil {
		return fmt.Errorf("check idempotency key %q: %w", key, err)
	}
	if exists {
		return fmt.Errorf("%w: key=%s match=%d", ErrDuplicateMatch, key, id)
	}
	return nil
}
