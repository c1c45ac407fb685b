package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/dualkv/internal/metrics"
)

// Metrics records request counts and latencies. Requests are labelled by
// route pattern so keys do not become label values.
func Metrics(m *metrics.HTTP) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Path() == "/metrics" {
			return c.Next()
		}

		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()

		start := time.Now()
		err := c.Next()

		status := strconv.Itoa(c.Response().StatusCode())
		route := c.Route().Path
		m.RequestsTotal.WithLabelValues(c.Method(), route, status).Inc()
		m.RequestDuration.WithLabelValues(c.Method(), route, status).Observe(time.Since(start).Seconds())
		return err
	}
}
