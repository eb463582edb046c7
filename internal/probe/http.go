package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/faqdesk/sentry-watchdog/internal/models"
)

// maxBodyBytes bounds how much of a health response is read for diagnosis.
const maxBodyBytes = 64 * 1024

// HTTPProber treats a 200 response as healthy, any other status as unhealthy,
// and a transport failure as unknown. When the body carries connection pool
// gauges, occupancy above the alert threshold degrades a healthy verdict to
// unhealthy so pool exhaustion is caught before the endpoint itself fails.
type HTTPProber struct {
	name     string
	url      string
	alertPct float64
	client   *http.Client
}

// NewHTTPProber builds a prober for an HTTP health endpoint.
func NewHTTPProber(name, url string, opts Options) *HTTPProber {
	return &HTTPProber{
		name:     name,
		url:      url,
		alertPct: opts.PoolAlertThresholdPct,
		client:   &http.Client{Timeout: opts.Timeout},
	}
}

// Name returns the target name.
func (p *HTTPProber) Name() string { return p.name }

// healthBody is the subset of a health endpoint response the prober reads.
type healthBody struct {
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Pool    *models.PoolStats `json:"pool"`
}

// Probe performs one GET against the health endpoint.
func (p *HTTPProber) Probe(ctx context.Context) models.ProbeResult {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return newResult(p.name, start, models.StatusUnknown, fmt.Sprintf("build request: %v", err))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return newResult(p.name, start, models.StatusUnknown, fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return newResult(p.name, start, models.StatusUnknown, fmt.Sprintf("read response: %v", err))
	}

	var body healthBody
	parsed := json.Unmarshal(raw, &body) == nil

	if resp.StatusCode != http.StatusOK {
		detail := resp.Status
		if parsed && body.Message != "" {
			detail = fmt.Sprintf("%s: %s", resp.Status, body.Message)
		} else if excerpt := bodyExcerpt(raw); excerpt != "" {
			detail = fmt.Sprintf("%s: %s", resp.Status, excerpt)
		}
		result := newResult(p.name, start, models.StatusUnhealthy, detail)
		if parsed {
			result.Pool = body.Pool
		}
		return result
	}

	// Endpoint reachable and answering 200. The body can still downgrade
	// the verdict: an explicit unhealthy status, or pool pressure over the
	// alert threshold.
	if parsed && strings.EqualFold(body.Status, "unhealthy") {
		result := newResult(p.name, start, models.StatusUnhealthy, firstNonEmpty(body.Message, "endpoint reports unhealthy"))
		result.Pool = body.Pool
		return result
	}

	if parsed && body.Pool != nil && p.alertPct > 0 {
		if occ := body.Pool.Occupancy(); occ >= p.alertPct {
			detail := fmt.Sprintf("connection pool at %.0f%% (threshold %.0f%%)", occ, p.alertPct)
			result := newResult(p.name, start, models.StatusUnhealthy, detail)
			result.Pool = body.Pool
			return result
		}
	}

	result := newResult(p.name, start, models.StatusHealthy, "")
	if parsed {
		result.Pool = body.Pool
	}
	return result
}

func bodyExcerpt(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
