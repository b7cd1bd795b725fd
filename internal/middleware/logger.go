package middleware

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

const (
	loggerKey       = "logger"
	requestIDHeader = "X-Request-ID"
)

// RequestLogger attaches a *logrus.Entry carrying a request id to every
// request and logs its completion.  An incoming X-Request-ID is reused,
// otherwise a new one is generated and echoed back.
func RequestLogger(log *logrus.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			id := req.Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set(requestIDHeader, id)

			entry := log.WithFields(logrus.Fields{
				"request_id": id,
				"method":     req.Method,
				"path":       req.URL.Path,
			})
			c.Set(loggerKey, entry)

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			entry = Logger(c).WithFields(logrus.Fields{
				"status":      c.Response().Status,
				"duration_ms": time.Since(start).Milliseconds(),
				"remote_ip":   c.RealIP(),
			})
			switch status := c.Response().Status; {
			case status >= 500:
				entry.Error("request failed")
			case status >= 400:
				entry.Info("request rejected")
			default:
				entry.Debug("request completed")
			}
			return nil
		}
	}
}

// Logger returns the request-scoped entry, or one on the standard logger
// when RequestLogger is not installed.
func Logger(c echo.Context) *logrus.Entry {
	if e, ok := c.Get(loggerKey).(*logrus.Entry); ok {
		return e
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// WithLogFields adds fields to the request-scoped entry.
func WithLogFields(c echo.Context, fields map[string]any) {
	if e, ok := c.Get(loggerKey).(*logrus.Entry); ok {
		c.Set(loggerKey, e.WithFields(logrus.Fields(fields)))
	}
}
