// Package idempotency replays the stored response of a mutation retried with
// the same Idempotency-Key by the same actor on the same endpoint.
package idempotency

import (
	"context"
	"strings"
)

const Header = "Idempotency-Key"

type ActorContext struct {
	ActorID        string
	IdempotencyKey string
}

func (a ActorContext) enabled() bool {
	return strings.TrimSpace(a.IdempotencyKey) != "" && a.ActorID != ""
}

type Store interface {
	GetIdempotencyRecord(ctx context.Context, actorID, idempotencyKey, endpoint string) (int, map[string]any, bool, error)
	SaveIdempotencyRecord(ctx context.Context, actorID, idempotencyKey, endpoint string, responseStatus int, responseBody map[string]any) error
}

func Replay(ctx context.Context, st Store, actor ActorContext, endpoint string) (int, map[string]any, bool, error) {
	if !actor.enabled() {
		return 0, nil, false, nil
	}
	status, body, found, err := st.GetIdempotencyRecord(ctx, actor.ActorID, actor.IdempotencyKey, endpoint)
	if err != nil {
		return 0, nil, false, err
	}
	if !found {
		return 0, nil, false, nil
	}
	return status, body, true, nil
}

// Save stores a response for later replay. Only successful responses are
// kept; a failed mutation may be retried under the same key.
func Save(ctx context.Context, st Store, actor ActorContext, endpoint string, status int, response map[string]any) error {
	if !actor.enabled() || status >= 300 {
		return nil
	}
	return st.SaveIdempotencyRecord(ctx, actor.ActorID, actor.IdempotencyKey, endpoint, status, response)
}
