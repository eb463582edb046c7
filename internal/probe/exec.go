package probe

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/faqdesk/sentry-watchdog/internal/models"
)

// ExecProber runs an inspection command, e.g. a container state query. A zero
// exit with the expected output is healthy; a zero exit with different output
// is unhealthy (the runtime answered and reported a stopped state); a non-zero
// exit or invocation failure is unknown. When expect is empty any zero exit
// counts as healthy.
type ExecProber struct {
	name    string
	command []string
	expect  string
}

// NewExecProber builds a prober around an inspection command.
func NewExecProber(name string, command []string, expect string) *ExecProber {
	return &ExecProber{name: name, command: command, expect: expect}
}

// Name returns the target name.
func (p *ExecProber) Name() string { return p.name }

// Probe runs the command once under the caller's context.
func (p *ExecProber) Probe(ctx context.Context) models.ProbeResult {
	start := time.Now()

	if len(p.command) == 0 {
		return newResult(p.name, start, models.StatusUnknown, "no probe command configured")
	}

	cmd := exec.CommandContext(ctx, p.command[0], p.command[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := err.Error()
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			detail = fmt.Sprintf("%v: %s", err, msg)
		}
		return newResult(p.name, start, models.StatusUnknown, detail)
	}

	got := strings.TrimSpace(stdout.String())
	if p.expect != "" && got != p.expect {
		return newResult(p.name, start, models.StatusUnhealthy, fmt.Sprintf("state %q, want %q", got, p.expect))
	}

	return newResult(p.name, start, models.StatusHealthy, "")
}
