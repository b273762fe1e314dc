package api

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"chartvision/internal/monitor"
	"chartvision/internal/session"
)

const sessionContextKey = "Session"

// Per-IP rate limiters
var (
	ipLimiters = make(map[string]*rate.Limiter)
	limiterMu  sync.RWMutex
)

func getIPLimiter(ip string) *rate.Limiter {
	limiterMu.RLock()
	limiter, exists := ipLimiters[ip]
	limiterMu.RUnlock()
	if exists {
		return limiter
	}

	limiterMu.Lock()
	defer limiterMu.Unlock()
	if limiter, exists := ipLimiters[ip]; exists {
		return limiter
	}
	// 20 req/s per IP, burst 50
	limiter = rate.NewLimiter(rate.Limit(20), 50)
	ipLimiters[ip] = limiter
	return limiter
}

// Reset the limiter table periodically so idle IPs don't accumulate.
func init() {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			limiterMu.Lock()
			ipLimiters = make(map[string]*rate.Limiter)
			limiterMu.Unlock()
		}
	}()
}

// CORSMiddleware handles Cross-Origin Resource Sharing
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, X-Session-ID, X-Requested-With, accept, origin, Cache-Control")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// RequestIDMiddleware adds unique request ID for tracking
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("RequestID", requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}

// RateLimitMiddleware prevents API abuse with per-IP rate limiting
func RateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !getIPLimiter(ip).Allow() {
			log.Printf("[RATE_LIMIT] IP %s exceeded rate limit", ip)
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate limit exceeded",
				"message": "too many requests, please slow down",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequestLogger logs all API requests with timing and status; optionally records metrics.
func RequestLogger(metrics *monitor.SystemMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method
		requestID := c.GetString("RequestID")
		if requestID == "" {
			requestID = "unknown"
		}

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		if metrics != nil {
			metrics.IncrementAPI()
			metrics.APILatency.RecordDuration(latency)
			if statusCode >= 400 {
				metrics.IncrementAPIErrors()
			}
		}

		log.Printf("[API] %s | %s %s | %d | %v | %s",
			requestID[:8],
			method,
			path,
			statusCode,
			latency,
			c.ClientIP(),
		)
	}
}

// SessionMiddleware resolves the X-Session-ID header to a live session.
func (s *Server) SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sid := c.GetHeader("X-Session-ID")
		if sid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "X-Session-ID header required"})
			return
		}
		sess, ok := s.Sessions.Get(sid)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired session"})
			return
		}
		c.Set(sessionContextKey, sess)
		c.Next()
	}
}

// currentSession returns the session resolved by SessionMiddleware.
func currentSession(c *gin.Context) session.Session {
	v, _ := c.Get(sessionContextKey)
	sess, _ := v.(session.Session)
	return sess
}

// userClaims are the JWT claims accepted for user attribution.
type userClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// bearerUserID extracts a user id from an optional Bearer token. An
// absent or invalid token just means anonymous attribution.
func bearerUserID(c *gin.Context, secret string) string {
	header := c.GetHeader("Authorization")
	if header == "" || secret == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	token, err := jwt.ParseWithClaims(parts[1], &userClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return ""
	}
	claims, ok := token.Claims.(*userClaims)
	if !ok {
		return ""
	}
	if claims.UserID != "" {
		return claims.UserID
	}
	return claims.Subject
}
