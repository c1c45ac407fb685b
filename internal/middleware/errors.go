package middleware

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/dualkv/internal/logger"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message,omitempty"`
	Step      string    `json:"step,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path,omitempty"`
}

// BadRequest replies 400.
func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, "", message)
}

// NotFound replies 404.
func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, "", message)
}

// InternalServerError replies 500.
func InternalServerError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, "", message)
}

// Error replies with status and a structured body. Step names the storage
// step that failed, if any.
func Error(c *fiber.Ctx, status int, step, message string) error {
	response := ErrorResponse{
		Error:     statusText(status),
		Message:   message,
		Step:      step,
		RequestID: GetRequestID(c),
		Timestamp: time.Now(),
		Path:      c.Path(),
	}

	log := GetLogger(c)
	fields := []logger.Field{
		logger.String("method", c.Method()),
		logger.String("path", c.Path()),
		logger.Int("status", status),
		logger.String("message", message),
	}
	if step != "" {
		fields = append(fields, logger.String("step", step))
	}
	if status >= fiber.StatusInternalServerError {
		log.Error("HTTP error response", fields...)
	} else {
		log.Warn("HTTP error response", fields...)
	}

	return c.Status(status).JSON(response)
}

func statusText(status int) string {
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "Error"
}
