package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/faqdesk/sentry-watchdog/internal/config"
	"github.com/faqdesk/sentry-watchdog/internal/models"
)

// Prober executes one health observation against its target. Implementations
// never return transport errors to the caller: every failure mode is folded
// into the ProbeResult. Probes hold no mutable state and are safe to invoke
// concurrently.
type Prober interface {
	Name() string
	Probe(ctx context.Context) models.ProbeResult
}

// Options carries the probe settings shared across target kinds.
type Options struct {
	Timeout               time.Duration
	PoolAlertThresholdPct float64
}

// New builds the prober for a target descriptor.
func New(target config.TargetConfig, opts Options) (Prober, error) {
	switch target.Kind {
	case "http":
		return NewHTTPProber(target.Name, target.URL, opts), nil
	case "tcp":
		return NewTCPProber(target.Name, target.Address, opts.Timeout), nil
	case "redis":
		return NewRedisProber(target.Name, RedisConfig{
			Addr:     target.Address,
			Password: target.Password,
			DB:       target.DB,
			TLS:      target.TLS,
			Timeout:  opts.Timeout,
		}), nil
	case "exec":
		return NewExecProber(target.Name, target.Command, target.Expect), nil
	default:
		return nil, fmt.Errorf("unknown probe kind %q for target %s", target.Kind, target.Name)
	}
}

func newResult(target string, start time.Time, status models.HealthStatus, detail string) models.ProbeResult {
	return models.ProbeResult{
		Target:     target,
		Status:     status,
		ObservedAt: start.UTC(),
		Detail:     detail,
		Latency:    time.Since(start),
	}
}
