// Package authn resolves the caller identity that the session gateway puts in
// front of every request. Credentials are checked by the gateway, not here.
package authn

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/joshblitstein/HardWareMarket-sub000/pkg/domain"
)

const (
	HeaderActorID      = "X-Actor-Id"
	HeaderActorType    = "X-Actor-Type"
	HeaderGatewayToken = "X-Gateway-Token"
)

var ErrUnauthorized = errors.New("unauthorized")

// Resolve reads the actor from request headers. When gatewayToken is set the
// request must carry the same token.
func Resolve(r *http.Request, gatewayToken string) (domain.Actor, error) {
	if gatewayToken != "" {
		got := r.Header.Get(HeaderGatewayToken)
		if subtle.ConstantTimeCompare([]byte(got), []byte(gatewayToken)) != 1 {
			return domain.Actor{}, ErrUnauthorized
		}
	}
	id := strings.TrimSpace(r.Header.Get(HeaderActorID))
	if id == "" {
		return domain.Actor{}, ErrUnauthorized
	}
	ut, ok := domain.ParseUserType(r.Header.Get(HeaderActorType))
	if !ok {
		return domain.Actor{}, ErrUnauthorized
	}
	return domain.Actor{UserID: id, UserType: ut}, nil
}

type ctxKey struct{}

func WithActor(ctx context.Context, a domain.Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

func ActorFrom(ctx context.Context) (domain.Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(domain.Actor)
	return a, ok
}

// Middleware rejects requests without a resolvable actor and stores the
// actor in the request context. onFail writes the rejection.
func Middleware(gatewayToken string, onFail func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := Resolve(r, gatewayToken)
			if err != nil {
				onFail(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}
