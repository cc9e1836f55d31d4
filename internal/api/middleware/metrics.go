package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/chestguard/chestguard/internal/observability/metrics"
)

// unmatchedRoute labels requests that hit no route so unknown paths cannot
// blow up label cardinality.
const unmatchedRoute = "unmatched"

// NewHTTPMetrics records request counts, latency, response size and
// in-flight requests. Paths are labelled by route pattern.
func NewHTTPMetrics(m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if m == nil {
			return next
		}
		return func(c echo.Context) error {
			m.RequestStarted()
			defer m.RequestFinished()

			start := time.Now()
			err := next(c)
			if err != nil {
				// Let the error handler write the response so the status is final.
				c.Error(err)
			}

			req := c.Request()
			path := c.Path()
			if path == "" {
				path = unmatchedRoute
			}
			status := c.Response().Status

			m.RecordHTTPRequest(req.Method, path, status, time.Since(start).Seconds())
			m.RecordHTTPResponseSize(req.Method, path, c.Response().Size)
			switch {
			case status >= http.StatusInternalServerError:
				m.RecordHTTPRequestError(req.Method, path, "server_error")
			case status >= http.StatusBadRequest:
				m.RecordHTTPRequestError(req.Method, path, "client_error")
			}
			return nil
		}
	}
}
