package main

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"claimflow/auth"

	"golang.org/x/time/rate"
)

type ctxKey string

const ctxKeyActor ctxKey = "actor"

func actorFrom(ctx context.Context) (auth.Actor, bool) {
	actor, ok := ctx.Value(ctxKeyActor).(auth.Actor)
	return actor, ok && actor.ID != ""
}

func withActor(ctx context.Context, actor auth.Actor) context.Context {
	return context.WithValue(ctx, ctxKeyActor, actor)
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "bearer token required")
			return
		}
		actor, err := s.tokens.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(r.Context())
		if !ok || !actor.IsAdmin() {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// actorLimiter keeps one token bucket per authenticated actor for mutating
// requests. Reads are not limited.
type actorLimiter struct {
	mu     sync.Mutex
	rps    rate.Limit
	burst  int
	idle   time.Duration
	actors map[string]*actorBucket
	now    func() time.Time
}

type actorBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newActorLimiter(rps float64, burst int) *actorLimiter {
	return &actorLimiter{
		rps:    rate.Limit(rps),
		burst:  burst,
		idle:   10 * time.Minute,
		actors: make(map[string]*actorBucket),
		now:    time.Now,
	}
}

func (l *actorLimiter) allow(actorID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.actors[actorID]
	if !ok {
		l.evictIdle(now)
		b = &actorBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.actors[actorID] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// evictIdle drops buckets unused for longer than idle. Callers hold mu.
func (l *actorLimiter) evictIdle(now time.Time) {
	for id, b := range l.actors {
		if now.Sub(b.lastSeen) > l.idle {
			delete(l.actors, id)
		}
	}
}

func (l *actorLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		actor, _ := actorFrom(r.Context())
		if !l.allow(actor.ID) {
			w.Header().Set("Retry-After", strconv.Itoa(1))
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
