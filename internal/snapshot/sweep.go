package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/faqdesk/sentry-watchdog/internal/audit"
)

// Auditor receives housekeeping events for the decision log.
type Auditor interface {
	Append(e audit.Entry) error
}

// Sweeper deletes snapshot artifacts older than maxAge while keeping at
// least minKeep of them regardless of age. It owns its own schedule and is
// never invoked from the recovery path.
type Sweeper struct {
	dir      string
	maxAge   time.Duration
	minKeep  int
	interval time.Duration
	logger   *slog.Logger
	auditor  Auditor
}

// NewSweeper builds a retention sweeper over the snapshot directory.
func NewSweeper(dir string, maxAge, interval time.Duration, minKeep int, logger *slog.Logger, auditor Auditor) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		dir:      dir,
		maxAge:   maxAge,
		minKeep:  minKeep,
		interval: interval,
		logger:   logger,
		auditor:  auditor,
	}
}

// Run sweeps on a fixed interval until the context ends.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.Sweep(time.Now())
			if err != nil {
				s.logger.Warn("retention sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				s.logger.Info("retention sweep removed artifacts", "removed", removed)
			}
			if s.auditor != nil {
				entry := audit.Entry{Event: audit.EventSweep, Detail: fmt.Sprintf("removed %d artifacts", removed)}
				if err := s.auditor.Append(entry); err != nil {
					s.logger.Warn("audit append failed", "error", err)
				}
			}
		}
	}
}

// Sweep removes artifacts older than the cutoff, oldest first, stopping
// before the kept count would drop below minKeep. It returns how many were
// removed.
func (s *Sweeper) Sweep(now time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	type artifact struct {
		path    string
		modTime time.Time
	}

	var artifacts []artifact
	for _, entry := range entries {
		if !strings.Contains(entry.Name(), "_backup_") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, artifact{
			path:    filepath.Join(s.dir, entry.Name()),
			modTime: info.ModTime(),
		})
	}

	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].modTime.Before(artifacts[j].modTime) })

	cutoff := now.Add(-s.maxAge)
	removed := 0
	for _, art := range artifacts {
		if len(artifacts)-removed <= s.minKeep {
			break
		}
		if !art.modTime.Before(cutoff) {
			break
		}
		if err := os.RemoveAll(art.path); err != nil {
			s.logger.Warn("failed to remove artifact", "path", art.path, "error", err)
			continue
		}
		removed++
	}

	return removed, nil
}
