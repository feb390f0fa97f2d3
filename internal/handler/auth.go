package handler

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/aadvita/dues-engine/internal/domain"
	"github.com/aadvita/dues-engine/pkg/response"
)

const adminRole = "admin"

// TickSecretHeader carries the shared secret expected by POST /api/v1/tick.
const TickSecretHeader = "X-Tick-Secret"

type adminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueAdminToken signs an HS256 token for subject with the admin role.
func IssueAdminToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("admin token secret is empty")
	}
	now := time.Now()
	claims := adminClaims{
		Role: adminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// AdminAuth requires a bearer token carrying the admin role and puts its subject
// on the request context as the actor.
func AdminAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := parseAdminToken(secret, r.Header.Get("Authorization"))
			if err != nil {
				response.Unauthorized(w, "Invalid or missing admin token")
				return
			}
			next.ServeHTTP(w, r.WithContext(domain.WithActor(r.Context(), subject)))
		})
	}
}

func parseAdminToken(secret []byte, header string) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("admin auth is not configured")
	}

	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return "", errors.New("missing bearer token")
	}

	claims := &adminClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Role != adminRole || claims.Subject == "" {
		return "", errors.New("not an admin token")
	}
	return claims.Subject, nil
}

// TickSecret guards the scheduler endpoint with a shared secret header.
func TickSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			given := r.Header.Get(TickSecretHeader)
			if secret == "" || subtle.ConstantTimeCompare([]byte(given), []byte(secret)) != 1 {
				response.Forbidden(w, "Invalid tick secret")
				return
			}
			next.ServeHTTP(w, r.WithContext(domain.WithActor(r.Context(), "scheduler")))
		})
	}
}

// ClientLimiter hands out one token bucket per client address, so a single
// client exhausting its budget does not block other applicants.
type ClientLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idle    time.Duration
	clients map[string]*clientBucket
	swept   time.Time
	now     func() time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientLimiter allows limit events per second with the given burst per client.
// Buckets unused for idle are dropped.
func NewClientLimiter(limit rate.Limit, burst int, idle time.Duration) *ClientLimiter {
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	return &ClientLimiter{
		limit:   limit,
		burst:   burst,
		idle:    idle,
		clients: make(map[string]*clientBucket),
		now:     time.Now,
	}
}

// Allow reports whether client may make one more request now.
func (l *ClientLimiter) Allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.swept) > l.idle {
		for key, bucket := range l.clients {
			if now.Sub(bucket.lastSeen) > l.idle {
				delete(l.clients, key)
			}
		}
		l.swept = now
	}

	bucket, ok := l.clients[client]
	if !ok {
		bucket = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[client] = bucket
	}
	bucket.lastSeen = now
	return bucket.limiter.AllowN(now, 1)
}

// clientAddress is the connection's remote IP. Forwarding headers are ignored
// because any client can set them.
func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit rejects requests beyond the calling client's budget with 429.
func RateLimit(limiter *ClientLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientAddress(r)) {
				response.TooManyRequests(w, "Too many registration attempts, try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
