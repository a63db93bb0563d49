// Package api implements the REST API of the lobby client: status and
// history endpoints, actions forwarded to the runner and a websocket event
// stream.
package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// AuthMiddleware checks the static API token and the IP whitelist.
type AuthMiddleware struct {
	token     string
	whitelist []string
}

// NewAuthMiddleware creates a new auth middleware. An empty token disables
// token checks and an empty whitelist allows every client.
func NewAuthMiddleware(token string, whitelist []string) *AuthMiddleware {
	return &AuthMiddleware{token: token, whitelist: whitelist}
}

// RequireAuth returns a Gin middleware that verifies the Bearer token.
// Websocket clients may pass it as the token query parameter.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if am.token == "" {
			c.Next()
			return
		}

		token := extractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "missing or invalid authorization header",
			})
			c.Abort()
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(am.token)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// IPWhitelist returns a middleware that restricts access to whitelisted IPs.
func (am *AuthMiddleware) IPWhitelist() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(am.whitelist) == 0 {
			c.Next()
			return
		}

		clientIP := c.ClientIP()
		ip := net.ParseIP(clientIP)
		for _, entry := range am.whitelist {
			if clientIP == entry {
				c.Next()
				return
			}
			if _, cidr, err := net.ParseCIDR(entry); err == nil && ip != nil && cidr.Contains(ip) {
				c.Next()
				return
			}
		}

		c.JSON(http.StatusForbidden, gin.H{
			"error": "access denied: IP not whitelisted",
		})
		c.Abort()
	}
}

// RateLimiter implements a per-client token bucket.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket
	rate    int
	burst   int
	now     func() time.Time
}

type clientBucket struct {
	tokens    float64
	lastCheck time.Time
}

// NewRateLimiter creates a rate limiter with the specified requests per second.
func NewRateLimiter(rps int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*clientBucket),
		rate:    rps,
		burst:   rps * 2,
		now:     time.Now,
	}
}

// Allow takes one token from key's bucket.
func (rl *RateLimiter) Allow(key string) bool {
	if rl.rate <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	bucket, exists := rl.clients[key]
	if !exists {
		bucket = &clientBucket{tokens: float64(rl.burst), lastCheck: now}
		rl.clients[key] = bucket
	}

	bucket.tokens += now.Sub(bucket.lastCheck).Seconds() * float64(rl.rate)
	if bucket.tokens > float64(rl.burst) {
		bucket.tokens = float64(rl.burst)
	}
	bucket.lastCheck = now

	if bucket.tokens < 1 {
		return false
	}
	bucket.tokens--
	return true
}

// Middleware returns a Gin middleware that rate limits by client IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// SecurityHeaders adds security-related HTTP headers.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Server", "lobbyclient")

		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.Header("X-Frame-Options", "DENY")
			c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		}

		c.Next()
	}
}

// RequestLogger logs incoming HTTP requests.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		log.Debug().
			Str("component", "api").
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("api request")
	}
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
