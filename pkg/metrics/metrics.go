// Package metrics records engine counters with VictoriaMetrics and exposes
// them in Prometheus text format.
package metrics

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
	"github.com/amirasaad/ecclesia/pkg/config"
)

// Setup starts pushing metrics when a push URL is configured.
func Setup(cfg *config.Metrics, logger *slog.Logger) {
	if cfg == nil || cfg.PushURL == "" {
		return
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if err := vm.InitPush(cfg.PushURL, interval, cfg.CommonLabels, true); err != nil {
		logger.Error("error initializing metrics push", "error", err)
	}
}

// WritePrometheus writes every registered metric plus process metrics.
func WritePrometheus(w io.Writer) {
	vm.WritePrometheus(w, true)
}

// ChargeAttempted counts charge attempts by gateway and outcome
// (approved, pending, refused, duplicate, indeterminate, error).
func ChargeAttempted(gateway, outcome string) {
	vm.GetOrCreateCounter(fmt.Sprintf(`ecclesia_charges_total{gateway=%q,outcome=%q}`, gateway, outcome)).Inc()
}

// GatewayCallDuration observes the latency of one gateway operation.
func GatewayCallDuration(gateway, op string, start time.Time) {
	vm.GetOrCreateHistogram(fmt.Sprintf(`ecclesia_gateway_call_duration_seconds{gateway=%q,op=%q}`, gateway, op)).UpdateDuration(start)
}

// Transition counts status transitions by source and outcome
// (applied, noop, dropped, conflict).
func Transition(source, outcome string) {
	vm.GetOrCreateCounter(fmt.Sprintf(`ecclesia_transitions_total{source=%q,outcome=%q}`, source, outcome)).Inc()
}

// NotificationDispatched counts delivery attempts by channel and outcome
// (sent, failed, deduplicated).
func NotificationDispatched(channel, outcome string) {
	vm.GetOrCreateCounter(fmt.Sprintf(`ecclesia_notifications_total{channel=%q,outcome=%q}`, channel, outcome)).Inc()
}

// SchedulerRun counts scheduler invocations by status (executed, skipped).
func SchedulerRun(status string) {
	vm.GetOrCreateCounter(fmt.Sprintf(`ecclesia_scheduler_runs_total{status=%q}`, status)).Inc()
}

// RateLimited counts rejected requests per route policy.
func RateLimited(policy string) {
	vm.GetOrCreateCounter(fmt.Sprintf(`ecclesia_rate_limited_total{policy=%q}`, policy)).Inc()
}

// StoreFailOpen counts limiter store failures that let a request through.
func StoreFailOpen(component string) {
	vm.GetOrCreateCounter(fmt.Sprintf(`ecclesia_fail_open_total{component=%q}`, component)).Inc()
}
