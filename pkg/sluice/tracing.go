package sluice

import (
	"go.opentelemetry.io/otel/propagation"

	"github.com/albertbausili/sluice/internal/h1"
)

// headerCarrier adapts request headers to propagation.TextMapCarrier.
// Header names are already lower-cased by the decoder.
type headerCarrier struct {
	req *h1.Request
}

var _ propagation.TextMapCarrier = headerCarrier{}

func (hc headerCarrier) Get(key string) string {
	return hc.req.Header(key)
}

// Set is a no-op; request headers are read-only once decoded.
func (hc headerCarrier) Set(string, string) {}

func (hc headerCarrier) Keys() []string {
	keys := make([]string, 0, len(hc.req.Headers))
	for _, h := range hc.req.Headers {
		keys = append(keys, h[0])
	}
	return keys
}
