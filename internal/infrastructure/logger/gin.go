package logger

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const ginLoggerKey = "logger"

// RequestLogger logs every request with the fields the label workflow
// cares about: request id, order id (when the route carries one),
// status and latency. The request-scoped logger is stashed in the gin
// context and the request id is stamped onto the request context so the
// query logger can pick it up.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetString("request_id")

		reqLog := log.With(
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
		)
		if orderID := c.Param("order_id"); orderID != "" {
			reqLog = reqLog.With(zap.String("order_id", orderID))
		}
		c.Set(ginLoggerKey, reqLog)
		if requestID != "" {
			c.Request = c.Request.WithContext(WithRequestID(c.Request.Context(), requestID))
		}

		c.Next()

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if query := c.Request.URL.RawQuery; query != "" {
			fields = append(fields, zap.String("query", query))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", c.Errors.Errors()))
		}

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			reqLog.Error("http request", fields...)
		case status >= http.StatusBadRequest:
			reqLog.Warn("http request", fields...)
		default:
			reqLog.Info("http request", fields...)
		}
	}
}

// Recovery converts handler panics into logged 500 responses
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic in handler",
					zap.String("request_id", c.GetString("request_id")),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.Any("panic", r),
					zap.Stack("stacktrace"),
				)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// FromGin returns the request-scoped logger, or a no-op logger when the
// request logger middleware did not run
func FromGin(c *gin.Context) *zap.Logger {
	if value, ok := c.Get(ginLoggerKey); ok {
		if log, ok := value.(*zap.Logger); ok {
			return log
		}
	}
	return zap.NewNop()
}
