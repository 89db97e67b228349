package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TracingMiddleware continues any W3C trace from the caller and wraps the
// handler chain in a server span named after the matched route.
func TracingMiddleware(serviceName string) gin.HandlerFunc {
	if strings.TrimSpace(serviceName) == "" {
		serviceName = "captionq"
	}
	tracer := otel.Tracer(serviceName + "/http")
	propagator := otel.GetTextMapPropagator()

	return func(c *gin.Context) {
		ctx := propagator.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, spanName(c.Request.Method, c.FullPath(), c.Request.URL.Path),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.path", c.Request.URL.Path),
				attribute.String("http.host", c.Request.Host),
			),
		)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		if sid := c.Param("id"); sid != "" {
			span.SetAttributes(attribute.String("captionq.session_id", sid))
		}
		if rid := RequestID(c); rid != "" {
			span.SetAttributes(attribute.String("captionq.request_id", rid))
		}

		c.Next()

		status := c.Writer.Status()
		if route := c.FullPath(); route != "" {
			span.SetAttributes(attribute.String("http.route", route))
		}
		span.SetAttributes(attribute.Int("http.status_code", status))
		if len(c.Errors) > 0 {
			span.RecordError(c.Errors.Last())
		}
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

func spanName(method, route, path string) string {
	if route == "" {
		route = path
	}
	return "HTTP " + method + " " + route
}
