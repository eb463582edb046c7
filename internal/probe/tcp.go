package probe

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/faqdesk/sentry-watchdog/internal/models"
)

// TCPProber considers a target healthy when its port accepts a connection.
// A refused or timed-out dial is unknown rather than unhealthy: the probe
// cannot tell a dead service from an unreachable one.
type TCPProber struct {
	name    string
	address string
	timeout time.Duration
}

// NewTCPProber builds a prober that dials address.
func NewTCPProber(name, address string, timeout time.Duration) *TCPProber {
	return &TCPProber{name: name, address: address, timeout: timeout}
}

// Name returns the target name.
func (p *TCPProber) Name() string { return p.name }

// Probe dials the target once.
func (p *TCPProber) Probe(ctx context.Context) models.ProbeResult {
	start := time.Now()

	dialer := net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.address)
	if err != nil {
		return newResult(p.name, start, models.StatusUnknown, fmt.Sprintf("dial %s: %v", p.address, err))
	}
	_ = conn.Close()

	return newResult(p.name, start, models.StatusHealthy, "")
}
