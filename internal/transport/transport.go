// Package transport frames provider operations over stdio JSON lines and
// gRPC. Every adapter funnels requests into the same Handler.
package transport

import (
	"context"

	domainErrors "csharp-provider/internal/core/errors"
	"csharp-provider/internal/core/provider"
	"csharp-provider/internal/shared/observability"
)

// Handler runs one operation; *provider.Provider.Handle satisfies it.
type Handler func(ctx context.Context, operation string, args map[string]any) (any, error)

type Adapter interface {
	Start(ctx context.Context, handler Handler) error
	Stop() error
}

// Response is the envelope written for every request.
type Response struct {
	ID     any                 `json:"id,omitempty"`
	OK     bool                `json:"ok"`
	Result any                 `json:"result,omitempty"`
	Error  *provider.ErrorBody `json:"error,omitempty"`
}

// Status labels of the requests counter.
const (
	statusOK        = "ok"
	statusError     = "error"
	statusThrottled = "throttled"
)

// call runs handler and records the request metric.
func call(ctx context.Context, handler Handler, operation string, args map[string]any) (any, error) {
	result, err := handler(ctx, operation, args)
	status := statusOK
	if err != nil {
		status = statusError
	}
	observability.RequestsTotal.WithLabelValues(metricOperation(operation), status).Inc()
	return result, err
}

// metricOperation bounds the label set to known operations.
func metricOperation(operation string) string {
	for _, op := range provider.Operations {
		if op == operation {
			return op
		}
	}
	return "unknown"
}

func throttled(operation string) error {
	observability.RequestsThrottled.Inc()
	observability.RequestsTotal.WithLabelValues(metricOperation(operation), statusThrottled).Inc()
	return domainErrors.AddContext(
		domainErrors.New(domainErrors.CodeRateLimited, "rate limit exceeded"),
		domainErrors.CtxOperation, operation)
}
