package logger

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

type RequestObserver interface {
	ObserveRequest(method, route, status string, seconds float64)
}

// New logs every request once it completes and reports its duration to obs.
func New(log *slog.Logger, obs RequestObserver) gin.HandlerFunc {
	log = log.With(slog.String("component", "middleware/logger"))

	log.Info("logger middleware enabled")

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)

		log.Info("request completed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("remote_addr", c.ClientIP()),
			slog.String("user_agent", c.Request.UserAgent()),
			slog.Int("status", status),
			slog.Int("bytes", c.Writer.Size()),
			slog.String("duration", elapsed.String()),
		)

		if obs != nil {
			obs.ObserveRequest(c.Request.Method, route, strconv.Itoa(status), elapsed.Seconds())
		}
	}
}
