package watchdog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/faqdesk/sentry-watchdog/internal/audit"
	"github.com/faqdesk/sentry-watchdog/internal/config"
	"github.com/faqdesk/sentry-watchdog/internal/history"
	"github.com/faqdesk/sentry-watchdog/internal/models"
	"github.com/faqdesk/sentry-watchdog/internal/recovery"
	"github.com/faqdesk/sentry-watchdog/internal/snapshot"
)

type scriptedProber struct {
	name string

	mu       sync.Mutex
	statuses []models.HealthStatus
	idx      int
}

func newScriptedProber(name string, statuses ...models.HealthStatus) *scriptedProber {
	return &scriptedProber{name: name, statuses: statuses}
}

func (p *scriptedProber) Name() string { return p.name }

// Probe pops the next scripted status; the last one repeats forever.
func (p *scriptedProber) Probe(ctx context.Context) models.ProbeResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := p.idx
	if i >= len(p.statuses) {
		i = len(p.statuses) - 1
	} else {
		p.idx++
	}
	status := p.statuses[i]
	detail := ""
	if status != models.StatusHealthy {
		detail = "connection refused"
	}
	return models.ProbeResult{
		Target:     p.name,
		Status:     status,
		ObservedAt: time.Now().UTC(),
		Detail:     detail,
		Latency:    time.Millisecond,
	}
}

type fakeRunner struct {
	mu    sync.Mutex
	errs  []error
	calls int
	last  []string
}

func (f *fakeRunner) Run(ctx context.Context, command []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	f.last = command
	if i < len(f.errs) {
		return f.errs[i]
	}
	return nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAgent struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (f *fakeAgent) Snapshot(ctx context.Context, resourceID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, resourceID)
	if f.err != nil {
		return "", f.err
	}
	if resourceID == "" {
		return "", snapshot.ErrNoResource
	}
	return "backups/" + resourceID + "_backup_20260102_0304", nil
}

func (f *fakeAgent) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeNotifier struct {
	mu       sync.Mutex
	err      error
	episodes []*models.RecoveryEpisode
}

func (f *fakeNotifier) Notify(ctx context.Context, episode *models.RecoveryEpisode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.episodes = append(f.episodes, episode)
	return f.err
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.episodes)
}

func (f *fakeNotifier) lastOutcome() models.EpisodeOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.episodes) == 0 {
		return ""
	}
	return f.episodes[len(f.episodes)-1].FinalOutcome
}

type recordingAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAuditor) Append(e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *recordingAuditor) count(event audit.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Event == event {
			n++
		}
	}
	return n
}

func (r *recordingAuditor) firstIndex(event audit.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.Event == event {
			return i
		}
	}
	return -1
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(onRecovery bool) *config.Config {
	return &config.Config{
		Watchdog: config.WatchdogConfig{
			ProbeInterval:       5 * time.Millisecond,
			ProbeTimeout:        time.Second,
			MaxRecoveryAttempts: 3,
			RecoveryRetryDelay:  0,
			ActionTimeout:       time.Second,
		},
		Snapshot: config.SnapshotConfig{Timeout: time.Second},
		Notify:   config.NotifyConfig{OnRecovery: onRecovery},
	}
}

type loopFixture struct {
	loop     *Loop
	runner   *fakeRunner
	agent    *fakeAgent
	notifier *fakeNotifier
	auditor  *recordingAuditor
	recorder *history.Recorder
}

func newLoopFixture(prober Prober, resource string, onRecovery bool) *loopFixture {
	logger := testLogger()
	cfg := testConfig(onRecovery)
	runner := &fakeRunner{}
	agent := &fakeAgent{}
	notifier := &fakeNotifier{}
	auditor := &recordingAuditor{}
	recorder := history.NewRecorder(logger, nil)
	recoverer := recovery.NewRecoverer(runner, cfg.Watchdog.MaxRecoveryAttempts, 0, time.Second, time.Second, logger, auditor)

	targets := []Target{{
		Prober:           prober,
		RestartCommand:   []string{"svc", "restart", "faq-db"},
		SnapshotResource: resource,
	}}
	loop := NewLoop(logger, cfg, targets, agent, recoverer, notifier, recorder, nil, auditor)
	return &loopFixture{
		loop:     loop,
		runner:   runner,
		agent:    agent,
		notifier: notifier,
		auditor:  auditor,
		recorder: recorder,
	}
}

func (f *loopFixture) start(t *testing.T) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.loop.Run(ctx) }()

	var once sync.Once
	stop = func() {
		once.Do(func() {
			cancel()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("loop did not drain after cancellation")
			}
		})
	}
	t.Cleanup(stop)
	return stop
}

func (f *loopFixture) closedEpisodes() []history.EpisodeDigest {
	return f.recorder.Recent(0)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestLoopRecoversOnUnhealthyEdge(t *testing.T) {
	prober := newScriptedProber("faq-db",
		models.StatusHealthy, models.StatusHealthy, models.StatusUnhealthy, models.StatusHealthy)
	f := newLoopFixture(prober, "/var/lib/faq/faq.db", false)
	stop := f.start(t)

	waitFor(t, "episode to close", func() bool { return len(f.closedEpisodes()) == 1 })
	stop()

	ep := f.closedEpisodes()[0]
	if ep.Outcome != models.EpisodeRecovered {
		t.Fatalf("expected recovered, got %s", ep.Outcome)
	}
	if ep.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", ep.Attempts)
	}
	if f.runner.count() != 1 {
		t.Fatalf("expected 1 restart, got %d", f.runner.count())
	}
	if f.notifier.count() != 0 {
		t.Fatalf("recovered episode must not notify by default, got %d", f.notifier.count())
	}
	if f.agent.count() != 1 {
		t.Fatalf("expected 1 snapshot, got %d", f.agent.count())
	}
	if ep.SnapshotRef == "" {
		t.Fatal("expected snapshot reference on the episode")
	}

	// Capture happens before the first restart attempt.
	snapIdx := f.auditor.firstIndex(audit.EventSnapshotTaken)
	attIdx := f.auditor.firstIndex(audit.EventAttempt)
	if snapIdx == -1 || attIdx == -1 || snapIdx > attIdx {
		t.Fatalf("snapshot must precede the first attempt (snapshot=%d attempt=%d)", snapIdx, attIdx)
	}

	if st, ok := f.loop.Board().Get("faq-db"); !ok || st.State != models.StateIdle {
		t.Fatalf("expected idle board state, got %+v", st)
	}
}

func TestLoopEscalatesOnceAndKeepsWatching(t *testing.T) {
	prober := newScriptedProber("faq-db", models.StatusUnhealthy)
	f := newLoopFixture(prober, "/var/lib/faq/faq.db", false)
	stop := f.start(t)

	waitFor(t, "escalation notification", func() bool { return f.notifier.count() == 1 })

	// Several more degraded probes must not open another episode.
	time.Sleep(60 * time.Millisecond)
	stop()

	if got := f.auditor.count(audit.EventEpisodeOpened); got != 1 {
		t.Fatalf("expected exactly one episode, got %d", got)
	}
	if f.notifier.count() != 1 {
		t.Fatalf("expected exactly one notification, got %d", f.notifier.count())
	}
	eps := f.closedEpisodes()
	if len(eps) != 1 || eps[0].Outcome != models.EpisodeEscalated {
		t.Fatalf("expected one escalated episode, got %+v", eps)
	}
	if eps[0].Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", eps[0].Attempts)
	}
	if st, _ := f.loop.Board().Get("faq-db"); st.State != models.StateEscalated {
		t.Fatalf("expected escalated board state, got %s", st.State)
	}
}

func TestLoopActionFailureConsumesBudget(t *testing.T) {
	prober := newScriptedProber("faq-db", models.StatusUnhealthy, models.StatusHealthy)
	f := newLoopFixture(prober, "/var/lib/faq/faq.db", false)
	f.runner.errs = []error{errors.New("unit not loaded")}
	stop := f.start(t)

	waitFor(t, "episode to close", func() bool { return len(f.closedEpisodes()) == 1 })
	stop()

	ep := f.closedEpisodes()[0]
	if ep.Outcome != models.EpisodeRecovered {
		t.Fatalf("expected recovered, got %s", ep.Outcome)
	}
	if ep.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", ep.Attempts)
	}
	if f.runner.count() != 2 {
		t.Fatalf("expected 2 restart invocations, got %d", f.runner.count())
	}
}

func TestLoopSnapshotFailureNeverBlocksRecovery(t *testing.T) {
	prober := newScriptedProber("faq-db", models.StatusUnhealthy, models.StatusHealthy)
	f := newLoopFixture(prober, "/var/lib/faq/faq.db", false)
	f.agent.err = errors.New("dump tool exited 1")
	stop := f.start(t)

	waitFor(t, "episode to close", func() bool { return len(f.closedEpisodes()) == 1 })
	stop()

	ep := f.closedEpisodes()[0]
	if ep.Outcome != models.EpisodeRecovered {
		t.Fatalf("snapshot failure must not stop recovery, got %s", ep.Outcome)
	}
	if f.auditor.count(audit.EventSnapshotFailed) != 1 {
		t.Fatal("expected snapshot failure in the audit log")
	}
	if f.runner.count() != 1 {
		t.Fatalf("expected restart to run, got %d invocations", f.runner.count())
	}
}

func TestLoopSkipsSnapshotForStatelessTarget(t *testing.T) {
	prober := newScriptedProber("faq-bot", models.StatusUnhealthy, models.StatusHealthy)
	f := newLoopFixture(prober, "", false)
	stop := f.start(t)

	waitFor(t, "episode to close", func() bool { return len(f.closedEpisodes()) == 1 })
	stop()

	if f.auditor.count(audit.EventSnapshotSkipped) != 1 {
		t.Fatal("expected snapshot skip in the audit log")
	}
	if f.auditor.count(audit.EventSnapshotFailed) != 0 {
		t.Fatal("a stateless target is a skip, not a failure")
	}
	if ep := f.closedEpisodes()[0]; ep.Outcome != models.EpisodeRecovered {
		t.Fatalf("expected recovered, got %s", ep.Outcome)
	}
}

func TestLoopEscalatedTargetReturnsToIdleOnHealthyProbe(t *testing.T) {
	// Trigger, three failed re-probes, then the operator fixes it.
	prober := newScriptedProber("faq-db",
		models.StatusUnhealthy, models.StatusUnhealthy, models.StatusUnhealthy,
		models.StatusUnhealthy, models.StatusHealthy)
	f := newLoopFixture(prober, "/var/lib/faq/faq.db", false)
	stop := f.start(t)

	waitFor(t, "return to idle after escalation", func() bool {
		st, _ := f.loop.Board().Get("faq-db")
		return f.notifier.count() == 1 && st.State == models.StateIdle
	})
	stop()

	if got := f.auditor.count(audit.EventEpisodeOpened); got != 1 {
		t.Fatalf("healthy probe after escalation must not open an episode, got %d", got)
	}
}

func TestLoopNotifiesOnRecoveryWhenEnabled(t *testing.T) {
	prober := newScriptedProber("faq-db", models.StatusUnhealthy, models.StatusHealthy)
	f := newLoopFixture(prober, "/var/lib/faq/faq.db", true)
	stop := f.start(t)

	waitFor(t, "recovery notification", func() bool { return f.notifier.count() == 1 })
	stop()

	if f.notifier.lastOutcome() != models.EpisodeRecovered {
		t.Fatalf("expected recovered notification, got %s", f.notifier.lastOutcome())
	}
}

func TestLoopSurvivesNotifierFailure(t *testing.T) {
	prober := newScriptedProber("faq-db", models.StatusUnhealthy)
	f := newLoopFixture(prober, "/var/lib/faq/faq.db", false)
	f.notifier.err = errors.New("telegram unreachable")
	stop := f.start(t)

	waitFor(t, "notification failure audited", func() bool {
		return f.auditor.count(audit.EventNotifyFailed) == 1
	})

	// The loop keeps probing after a failed delivery.
	probesBefore := f.auditor.count(audit.EventProbe)
	waitFor(t, "probing to continue", func() bool {
		return f.auditor.count(audit.EventProbe) > probesBefore
	})
	stop()
}

func TestLoopShutdownDrainsOpenEpisode(t *testing.T) {
	prober := newScriptedProber("faq-db", models.StatusUnhealthy, models.StatusHealthy)
	f := newLoopFixture(prober, "/var/lib/faq/faq.db", false)

	// Hold the restart long enough for cancellation to land mid-episode.
	release := make(chan struct{})
	f.runner.errs = nil
	slowRunner := &blockingRunner{release: release}
	recoverer := recovery.NewRecoverer(slowRunner, 3, 0, time.Second, time.Second, testLogger(), f.auditor)
	f.loop.recoverer = recoverer

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.loop.Run(ctx) }()

	waitFor(t, "restart to start", func() bool { return slowRunner.started() })
	cancel()
	close(release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not drain open episode")
	}

	eps := f.closedEpisodes()
	if len(eps) != 1 {
		t.Fatalf("expected the in-flight episode to close, got %d", len(eps))
	}
	if eps[0].Outcome != models.EpisodeRecovered {
		t.Fatalf("drained episode should finish its work, got %s", eps[0].Outcome)
	}
}

type blockingRunner struct {
	release chan struct{}
	mu      sync.Mutex
	began   bool
}

func (b *blockingRunner) Run(ctx context.Context, command []string) error {
	b.mu.Lock()
	b.began = true
	b.mu.Unlock()
	<-b.release
	return nil
}

func (b *blockingRunner) started() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.began
}
