package http

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/dropbin/internal/bundle"
	"github.com/dmitrijs2005/dropbin/internal/common"
	"github.com/dmitrijs2005/dropbin/internal/server/auth"
)

const tierKey = "tier"

func (s *Server) observe(c *gin.Context) {
	start := time.Now()
	c.Next()

	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	code := strconv.Itoa(c.Writer.Status())
	s.metrics.ObserveRequest(route, code, time.Since(start))
	s.logger.Debug(c.Request.Context(), "request", "route", route, "code", code, "client_ip", c.ClientIP(), "duration", time.Since(start))
}

func (s *Server) limitBody(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	c.Next()
}

// rateLimit applies the per client IP bucket of prefix. Rejections carry the
// remaining budget and the wait in both the body and the headers.
func (s *Server) rateLimit(prefix string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}
		d := s.limiter.Allow(prefix, c.ClientIP())
		if d.Remaining < math.MaxInt32 {
			c.Header(common.RateLimitRemainingHeaderName, strconv.Itoa(d.Remaining))
		}
		if d.Allowed {
			c.Next()
			return
		}

		secs := int(math.Ceil(d.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		s.metrics.RateLimited(prefix)
		s.logger.Info(c.Request.Context(), "rate limited", "route", prefix, "client_ip", c.ClientIP(), "retry_after", secs)

		remaining := d.Remaining
		c.Header(common.RetryAfterHeaderName, strconv.Itoa(secs))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, bundle.ErrorResponse{
			Error:      "too many requests, try again later",
			Remaining:  &remaining,
			RetryAfter: secs,
		})
	}
}

// resolveTier reads an optional bearer access token. No token means an
// anonymous caller; a bad token is rejected rather than downgraded.
func (s *Server) resolveTier(c *gin.Context) {
	h := c.GetHeader("Authorization")
	if h == "" {
		c.Set(tierKey, bundle.TierAnonymous)
		c.Next()
		return
	}

	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || token == "" {
		s.abortWithError(c, common.ErrInvalidToken)
		return
	}
	tier, _, err := auth.TierFromToken(token, s.jwtSecret)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Set(tierKey, tier)
	c.Next()
}

func tierOf(c *gin.Context) bundle.Tier {
	if v, ok := c.Get(tierKey); ok {
		if t, ok := v.(bundle.Tier); ok {
			return t
		}
	}
	return bundle.TierAnonymous
}
