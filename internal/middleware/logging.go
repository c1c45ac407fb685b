package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/neogan74/dualkv/internal/logger"
)

const (
	// RequestIDHeader carries the correlation ID in and out.
	RequestIDHeader = "X-Request-ID"

	requestIDKey = "request_id"
	loggerKey    = "logger"
)

// RequestLogging assigns each request a correlation ID, exposes a
// request-scoped logger and logs the outcome.
func RequestLogging(log logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get(RequestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.New().String()
		}
		c.Locals(requestIDKey, requestID)
		c.Set(RequestIDHeader, requestID)

		requestLogger := log.WithFields(logger.RequestID(requestID))
		c.Locals(loggerKey, requestLogger)

		start := time.Now()
		err := c.Next()
		if err != nil {
			// Let the app error handler write the status before it is logged.
			if handlerErr := c.App().ErrorHandler(c, err); handlerErr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
			err = nil
		}

		status := c.Response().StatusCode()
		fields := []logger.Field{
			logger.String("method", c.Method()),
			logger.String("path", c.Path()),
			logger.Int("status", status),
			logger.Duration("duration", time.Since(start)),
			logger.Int("response_size", len(c.Response().Body())),
		}

		switch {
		case status >= 500:
			requestLogger.Error("Request completed", fields...)
		case status >= 400:
			requestLogger.Warn("Request completed", fields...)
		default:
			requestLogger.Debug("Request completed", fields...)
		}
		return err
	}
}

// GetRequestID returns the request ID, or "" outside RequestLogging.
func GetRequestID(c *fiber.Ctx) string {
	if requestID, ok := c.Locals(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetLogger returns the request-scoped logger, falling back to the default.
func GetLogger(c *fiber.Ctx) logger.Logger {
	if log, ok := c.Locals(loggerKey).(logger.Logger); ok {
		return log
	}
	return logger.GetDefault()
}
