package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/R3E-Network/bridge_layer/pkg/logger"
)

type contextKey string

const identityKey contextKey = "identity"

// Claims are the JWT claims accepted by the gateway. Identity falls back to
// the registered subject when the custom claim is absent.
type Claims struct {
	Identity string `json:"identity,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) identity() string {
	if c.Identity != "" {
		return c.Identity
	}
	return c.Subject
}

// Identity extracts the authenticated identity from the request context.
func Identity(ctx context.Context) string {
	identity, _ := ctx.Value(identityKey).(string)
	return identity
}

// authMiddleware validates HS256 bearer tokens and stores the caller
// identity in the request context. Role checks stay in the engine; the
// gateway only authenticates.
type authMiddleware struct {
	secret    []byte
	log       *logger.Logger
	skipPaths map[string]bool
}

func newAuthMiddleware(secret string, log *logger.Logger, skipPaths []string) *authMiddleware {
	skip := make(map[string]bool)
	for _, path := range skipPaths {
		skip[path] = true
	}
	return &authMiddleware{secret: []byte(secret), log: log, skipPaths: skip}
}

func (m *authMiddleware) handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, errors.New("missing Authorization header"))
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, errors.New("invalid Authorization header format"))
			return
		}

		identity, err := m.validateToken(parts[1])
		if err != nil {
			m.log.WithError(err).WithField("path", r.URL.Path).Warn("token validation failed")
			writeError(w, http.StatusUnauthorized, errors.New("invalid token"))
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *authMiddleware) validateToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", errors.New("invalid claims")
	}
	identity := claims.identity()
	if identity == "" {
		return "", errors.New("token names no identity")
	}
	return identity, nil
}

// rateLimiter caps request rates per authenticated identity, falling back
// to the remote address before authentication.
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newRateLimiter(requestsPerSecond, burst int) *rateLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 20
	}
	if burst <= 0 {
		burst = requestsPerSecond * 2
	}
	return &rateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

func (rl *rateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	limiter, ok := rl.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = limiter
	}
	return limiter
}

func (rl *rateLimiter) handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := Identity(r.Context())
		if key == "" {
			key = r.RemoteAddr
		}
		if !rl.limiter(key).Allow() {
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
