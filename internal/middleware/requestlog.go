package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// RequestLogger logs one line per request with the request id set by echo's
// RequestID middleware. Errors are passed to c.Error first so the logged
// status is the one the client receives.
func RequestLogger(log *logrus.Entry) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			fields := logrus.Fields{
				"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
				"method":     req.Method,
				"path":       c.Path(),
				"status":     c.Response().Status,
				"latency_ms": time.Since(start).Milliseconds(),
				"ip":         c.RealIP(),
			}
			if id, ok := IdentityFrom(c); ok {
				fields["user_id"] = id.ID
			}
			entry := log.WithFields(fields)
			switch {
			case c.Response().Status >= 500:
				entry.Error("request")
			case c.Response().Status >= 400:
				entry.Warn("request")
			default:
				entry.Info("request")
			}
			return nil
		}
	}
}
