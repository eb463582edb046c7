package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/faqdesk/sentry-watchdog/internal/utils"
)

// ErrNoResource marks a target with no snapshotable state configured. The
// caller records the skip and proceeds with recovery.
var ErrNoResource = errors.New("no snapshot resource configured")

// Agent produces point-in-time dumps of a monitored resource by invoking an
// external tool with the resource and a destination path appended to the
// configured command. Success is the tool's exit code, not artifact content.
// Each call writes a fresh timestamp-addressed artifact; the agent never
// overwrites or deletes existing ones.
type Agent struct {
	dir     string
	command []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewAgent builds a snapshot agent writing artifacts under dir.
func NewAgent(dir string, command []string, timeout time.Duration, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{dir: dir, command: command, timeout: timeout, logger: logger}
}

// Snapshot dumps resourceID and returns the artifact path.
func (a *Agent) Snapshot(ctx context.Context, resourceID string) (string, error) {
	if resourceID == "" {
		return "", ErrNoResource
	}
	if len(a.command) == 0 {
		return "", utils.NewAppError("snapshot", utils.FailSnapshot, "no snapshot command configured", nil)
	}

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", utils.NewAppError("snapshot", utils.FailSnapshot, "create snapshot dir", err)
	}

	artifact := a.artifactPath(resourceID, time.Now())

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	args := append(append([]string(nil), a.command[1:]...), resourceID, artifact)
	cmd := exec.CommandContext(ctx, a.command[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	a.logger.Info("taking snapshot", "resource", resourceID, "artifact", artifact)
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return "", utils.NewAppError("snapshot", utils.FailSnapshot, fmt.Sprintf("dump %s", resourceID), err)
	}

	return artifact, nil
}

// artifactPath builds a timestamped destination that does not collide with
// any existing artifact.
func (a *Agent) artifactPath(resourceID string, now time.Time) string {
	base := filepath.Join(a.dir, fmt.Sprintf("%s_backup_%s", sanitize(filepath.Base(resourceID)), utils.Stamp(now)))
	path := base
	for i := 2; ; i++ {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return path
		}
		path = fmt.Sprintf("%s_%d", base, i)
	}
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}
