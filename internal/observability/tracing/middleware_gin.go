package tracing

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/agentmarket/internal/callerctx"
	obscontext "github.com/smallbiznis/agentmarket/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// GinMiddleware opens a server span per request. It runs after the request
// logger so the request id is already on the context, and records the
// ledger error kind of failed requests without their messages.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("agentmarket/http")
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		method := strings.ToUpper(c.Request.Method)
		ctx, span := tracer.Start(ctx, "HTTP "+method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			if member, err := baggage.NewMember("request_id", requestID); err == nil {
				if bag, err := baggage.New(member); err == nil {
					ctx = baggage.ContextWithBaggage(ctx, bag)
				}
			}
			span.SetAttributes(attribute.String("request_id", requestID))
		}

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		span.SetName("HTTP " + method + " " + route)

		attrs := []attribute.KeyValue{
			attribute.String("http.method", method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
			attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
		}
		if id := c.Param("id"); id != "" {
			attrs = append(attrs, attribute.String("market.entity_id", id))
		}
		_, hasCaller := callerctx.CallerFromContext(c.Request.Context())
		attrs = append(attrs, attribute.Bool("market.caller_present", hasCaller))
		span.SetAttributes(SafeAttributes(attrs...)...)

		if status < http.StatusBadRequest {
			return
		}
		if lastErr := c.Errors.Last(); lastErr != nil {
			if safeErr := SafeError(lastErr.Err); safeErr != nil {
				span.SetAttributes(attribute.String("market.error", safeErr.Error()))
				if status >= http.StatusInternalServerError {
					span.RecordError(safeErr)
				}
			}
		}
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, "request error")
		}
	}
}
