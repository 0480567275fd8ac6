package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Mutter0815/BulkMailer/internal/auth"
	"github.com/Mutter0815/BulkMailer/internal/campaign"
	"github.com/Mutter0815/BulkMailer/pkg/logx"
	"github.com/Mutter0815/BulkMailer/pkg/metrics"
)

const (
	ctxUserID    = "user_id"
	ctxUserEmail = "user_email"
)

func Observability() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid := c.Request.Header.Get("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-ID", rid)

		c.Set("request_id", rid)
		c.Next()

		lat := time.Since(start).Seconds()
		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		metrics.APIRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(c.Request.Method, path).Observe(lat)

		logx.L().Infow("http_access",
			"rid", rid,
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration", lat,
			"client_ip", c.ClientIP(),
			"user_id", c.GetString(ctxUserID),
		)
	}
}

// RequireAuth resolves the bearer token to a caller identity and rejects
// the request with 401 when that is not possible.
func RequireAuth(v auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			reject(c, "missing bearer token", nil)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		id, err := v.Verify(ctx, token)
		cancel()
		if err != nil {
			var ae *campaign.AuthenticationError
			if !errors.As(err, &ae) {
				logx.L().Errorw("auth_provider_error", "rid", c.GetString("request_id"), "error", err)
			}
			reject(c, "token verification failed", err)
			return
		}

		c.Set(ctxUserID, id.UserID)
		c.Set(ctxUserEmail, id.Email)
		c.Next()
	}
}

func reject(c *gin.Context, reason string, err error) {
	metrics.AuthFailuresTotal.Inc()
	logx.L().Infow("auth_rejected", "rid", c.GetString("request_id"), "reason", reason, "error", err)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication"})
}
