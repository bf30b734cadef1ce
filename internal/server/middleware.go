package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nerdneilsfield/dreamforge/internal/models"
	"github.com/nerdneilsfield/dreamforge/internal/storage"
)

type ctxKey int

const userKey ctxKey = iota

func userFrom(ctx context.Context) (models.User, bool) {
	u, ok := ctx.Value(userKey).(models.User)
	return u, ok
}

// lang picks the response language: the user's stored preference, then Accept-Language.
func (s *Server) lang(r *http.Request) string {
	var stored string
	if u, ok := userFrom(r.Context()); ok {
		stored = u.Language
	}
	return s.deps.I18n.Match(stored, r.Header.Get("Accept-Language"))
}

func (s *Server) sessionToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if c, err := r.Cookie(s.deps.Config.Session.CookieName); err == nil {
		return c.Value
	}
	return ""
}

type userHandler func(w http.ResponseWriter, r *http.Request, user models.User)

// authed resolves the session to a user before calling h.
func (s *Server) authed(h userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.sessionToken(r)
		if token == "" {
			s.Error(w, r, errUnauthenticated)
			return
		}
		userID, err := s.deps.Sessions.Parse(token)
		if err != nil {
			s.deps.Logger.Debug("Rejected session", zap.Error(err))
			s.Error(w, r, errUnauthenticated)
			return
		}
		user, err := s.deps.Users.GetUser(r.Context(), userID)
		if errors.Is(err, storage.ErrNotFound) {
			s.Error(w, r, errUnauthenticated)
			return
		}
		if err != nil {
			s.Error(w, r, err)
			return
		}
		r = r.WithContext(context.WithValue(r.Context(), userKey, user))
		h(w, r, user)
	})
}

// admin behaves like authed and additionally requires an administrator.
func (s *Server) admin(h userHandler) http.Handler {
	return s.authed(func(w http.ResponseWriter, r *http.Request, user models.User) {
		if !s.deps.Authorizer.IsAdmin(user.ID) {
			s.deps.Logger.Warn("Non-admin tried an admin route", zap.Int64("user_id", user.ID), zap.String("path", r.URL.Path))
			s.Error(w, r, errForbidden)
			return
		}
		h(w, r, user)
	})
}

// limited applies the per-user generation rate limit.
func (s *Server) limited(h userHandler) userHandler {
	return func(w http.ResponseWriter, r *http.Request, user models.User) {
		if !s.limiter.Allow(strconv.FormatInt(user.ID, 10)) {
			s.deps.Logger.Info("Rate limit exceeded", zap.Int64("user_id", user.ID), zap.String("path", r.URL.Path))
			s.Error(w, r, errRateLimited)
			return
		}
		h(w, r, user)
	}
}

// RateLimiter keeps one token bucket per key.
type RateLimiter struct {
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute events per key with the given burst.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
	}
}

func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter.Allow()
}

// Cleanup drops limiters idle for longer than idle.
func (rl *RateLimiter) Cleanup(idle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-idle)
	for key, e := range rl.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
}

func (rl *RateLimiter) runCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup(interval)
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// logRequests logs one line per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.deps.Logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("took", time.Since(start)),
			zap.String("remote", r.RemoteAddr))
	})
}

// CORS adds Access-Control headers for allowed origins and short-circuits OPTIONS requests.
func CORS(allowedOrigins []string, next http.Handler) http.Handler {
	allowAll := false
	normalized := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
			break
		}
		normalized = append(normalized, strings.ToLower(origin))
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowAll || containsOrigin(normalized, origin)) {
			// credentialed requests cannot use a wildcard origin
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept-Language")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func containsOrigin(allowed []string, origin string) bool {
	origin = strings.ToLower(origin)
	for _, candidate := range allowed {
		if candidate == origin {
			return true
		}
	}
	return false
}
