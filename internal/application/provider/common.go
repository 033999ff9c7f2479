package provider

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/notifyx/notifyx/internal/domain"
)

// defaultHTTPTimeout bounds outbound provider calls that carry no
// deadline of their own.
const defaultHTTPTimeout = 30 * time.Second

// healthTracker derives provider health from recent send outcomes.
type healthTracker struct {
	consecutiveFailures atomic.Int64
}

func (h *healthTracker) record(success bool) {
	if success {
		h.consecutiveFailures.Store(0)
		return
	}
	h.consecutiveFailures.Add(1)
}

func (h *healthTracker) status() domain.HealthStatus {
	n := h.consecutiveFailures.Load()
	switch {
	case n == 0:
		return domain.HealthStatusHealthy
	case n < 5:
		return domain.HealthStatusDegraded
	default:
		return domain.HealthStatusUnhealthy
	}
}

// resultFromStatus classifies an HTTP response status into a delivery
// result. 429 and 5xx are transient; other 4xx are permanent.
func resultFromStatus(status int, providerMessageID string) domain.DeliveryResult {
	if status >= 200 && status < 300 {
		return domain.DeliveryResult{Success: true, ProviderMessageID: providerMessageID}
	}
	retryable := status == http.StatusTooManyRequests || status >= 500
	return domain.DeliveryResult{
		Success:      false,
		ErrorCode:    "HTTP_" + strconv.Itoa(status),
		ErrorMessage: "provider returned status " + strconv.Itoa(status),
		Retryable:    retryable,
	}
}

// transportResult wraps a transport-level failure (socket error,
// timeout) as a transient delivery result.
func transportResult(err error) domain.DeliveryResult {
	return domain.DeliveryResult{
		Success:      false,
		ErrorCode:    "TRANSPORT",
		ErrorMessage: err.Error(),
		Retryable:    true,
	}
}

func stringConfig(config map[string]any, key string) string {
	if v, ok := config[key].(string); ok {
		return v
	}
	return ""
}

func boolConfig(config map[string]any, key string) bool {
	if v, ok := config[key].(bool); ok {
		return v
	}
	return false
}
