package tracing

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/smallbiznis/agentmarket/internal/ledgererr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Keys that may carry addresses, tokens or payment data never reach a span.
var blockedAttributeFragments = []string{
	"address",
	"authorization",
	"token",
	"secret",
	"endpoint_url",
	"payment",
}

// ExtractContext restores the remote span context carried by the carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// SafeAttributes drops attributes whose key may leak caller data.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		key := strings.ToLower(string(attr.Key))
		if blocked(key) {
			continue
		}
		out = append(out, attr)
	}
	return out
}

func blocked(key string) bool {
	for _, fragment := range blockedAttributeFragments {
		if strings.Contains(key, fragment) {
			return true
		}
	}
	return false
}

// SafeError reduces err to its stable kind and code so span events never
// carry free-form messages.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	kind := ledgererr.KindOf(err)
	code := ledgererr.CodeOf(err)
	switch {
	case code != "":
		return errors.New(string(kind) + ":" + code)
	case kind != "":
		return errors.New(string(kind))
	default:
		return errors.New("internal_error")
	}
}

// WrapHTTPClient makes client propagate the active trace and record a client span per request.
func WrapHTTPClient(client *http.Client) *http.Client {
	if client == nil {
		client = &http.Client{}
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := *client
	wrapped.Transport = &tracingTransport{base: base, tracer: otel.Tracer("agentmarket/http-client")}
	return &wrapped
}

type tracingTransport struct {
	base   http.RoundTripper
	tracer trace.Tracer
}

func (t *tracingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, span := t.tracer.Start(req.Context(), "HTTP "+req.Method, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	req = req.Clone(ctx)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	span.SetAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("net.peer.name", req.URL.Hostname()),
	)

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		span.RecordError(SafeError(err))
		span.SetStatus(codes.Error, "request failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, "upstream error")
	}
	return resp, nil
}
