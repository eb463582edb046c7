package probe

import (
	"context"
	"strings"
	"testing"

	"github.com/faqdesk/sentry-watchdog/internal/models"
)

func TestExecProbeExpectedOutput(t *testing.T) {
	prober := NewExecProber("container", []string{"sh", "-c", "echo true"}, "true")
	result := prober.Probe(context.Background())
	if result.Status != models.StatusHealthy {
		t.Fatalf("expected healthy, got %s (%s)", result.Status, result.Detail)
	}
}

func TestExecProbeUnexpectedOutput(t *testing.T) {
	prober := NewExecProber("container", []string{"sh", "-c", "echo false"}, "true")
	result := prober.Probe(context.Background())
	if result.Status != models.StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", result.Status)
	}
	if !strings.Contains(result.Detail, "false") {
		t.Fatalf("expected observed state in detail, got %q", result.Detail)
	}
}

func TestExecProbeNonZeroExit(t *testing.T) {
	prober := NewExecProber("container", []string{"sh", "-c", "echo no such container >&2; exit 125"}, "true")
	result := prober.Probe(context.Background())
	if result.Status != models.StatusUnknown {
		t.Fatalf("expected unknown on non-zero exit, got %s", result.Status)
	}
	if !strings.Contains(result.Detail, "no such container") {
		t.Fatalf("expected stderr in detail, got %q", result.Detail)
	}
}

func TestExecProbeMissingBinary(t *testing.T) {
	prober := NewExecProber("container", []string{"definitely-not-a-binary-xyz"}, "")
	result := prober.Probe(context.Background())
	if result.Status != models.StatusUnknown {
		t.Fatalf("expected unknown on invocation failure, got %s", result.Status)
	}
}

func TestExecProbeNoExpectAcceptsAnyOutput(t *testing.T) {
	prober := NewExecProber("container", []string{"sh", "-c", "echo whatever"}, "")
	result := prober.Probe(context.Background())
	if result.Status != models.StatusHealthy {
		t.Fatalf("expected healthy without expectation, got %s", result.Status)
	}
}
