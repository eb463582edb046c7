package history

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/faqdesk/sentry-watchdog/internal/models"
)

type fakeEpisodeStore struct {
	stored int
	err    error
}

func (f *fakeEpisodeStore) StoreEpisode(ctx context.Context, episode *models.RecoveryEpisode) error {
	f.stored++
	return f.err
}

func closedEpisode(target string, outcome models.EpisodeOutcome, attempts int, closedAt time.Time) *models.RecoveryEpisode {
	ep := models.NewEpisode(models.ProbeResult{
		Target:     target,
		Status:     models.StatusUnhealthy,
		ObservedAt: closedAt.Add(-time.Minute),
	})
	for i := 1; i <= attempts; i++ {
		ep.Attempts = append(ep.Attempts, models.RecoveryAttempt{Number: i, Action: models.ActionRestart})
	}
	ep.Close(outcome, closedAt)
	return ep
}

func TestRecorderAggregatesPerTarget(t *testing.T) {
	store := &fakeEpisodeStore{}
	recorder := NewRecorder(nil, store)
	now := time.Now().UTC()

	recorder.Record(context.Background(), closedEpisode("faq-db", models.EpisodeRecovered, 1, now))
	recorder.Record(context.Background(), closedEpisode("faq-db", models.EpisodeEscalated, 3, now.Add(time.Hour)))
	recorder.Record(context.Background(), closedEpisode("faq-cache", models.EpisodeRecovered, 2, now))

	stats := recorder.Stats()
	if len(stats) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(stats))
	}
	// Escalations sort first.
	db := stats[0]
	if db.Target != "faq-db" {
		t.Fatalf("expected faq-db first, got %s", db.Target)
	}
	if db.Episodes != 2 || db.Recovered != 1 || db.Escalated != 1 {
		t.Fatalf("unexpected aggregate: %+v", db)
	}
	if db.TotalAttempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", db.TotalAttempts)
	}
	if db.LastOutcome != models.EpisodeEscalated {
		t.Fatalf("unexpected last outcome %s", db.LastOutcome)
	}
	if !db.LastEscalation.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected last escalation %v", db.LastEscalation)
	}
	if store.stored != 3 {
		t.Fatalf("expected 3 stored episodes, got %d", store.stored)
	}
}

func TestRecorderIgnoresOpenEpisodes(t *testing.T) {
	store := &fakeEpisodeStore{}
	recorder := NewRecorder(nil, store)

	open := models.NewEpisode(models.ProbeResult{Target: "faq-db", Status: models.StatusUnhealthy})
	recorder.Record(context.Background(), open)

	if len(recorder.Stats()) != 0 || store.stored != 0 {
		t.Fatal("open episode must not be recorded")
	}
}

func TestRecorderSurvivesStoreFailure(t *testing.T) {
	store := &fakeEpisodeStore{err: errors.New("disk full")}
	recorder := NewRecorder(nil, store)
	now := time.Now().UTC()

	recorder.Record(context.Background(), closedEpisode("faq-db", models.EpisodeRecovered, 1, now))

	stats := recorder.Stats()
	if len(stats) != 1 || stats[0].Episodes != 1 {
		t.Fatalf("aggregates must survive store failure: %+v", stats)
	}
}

func TestRecorderRecentIsNewestFirstAndBounded(t *testing.T) {
	recorder := NewRecorder(nil, nil)
	now := time.Now().UTC()

	for i := 0; i < maxRecent+10; i++ {
		target := fmt.Sprintf("svc-%d", i)
		recorder.Record(context.Background(), closedEpisode(target, models.EpisodeRecovered, 1, now.Add(time.Duration(i)*time.Second)))
	}

	all := recorder.Recent(0)
	if len(all) != maxRecent {
		t.Fatalf("expected ring bounded at %d, got %d", maxRecent, len(all))
	}
	if all[0].Target != fmt.Sprintf("svc-%d", maxRecent+9) {
		t.Fatalf("expected newest first, got %s", all[0].Target)
	}

	top := recorder.Recent(5)
	if len(top) != 5 {
		t.Fatalf("expected 5 digests, got %d", len(top))
	}
	if top[4].Target != fmt.Sprintf("svc-%d", maxRecent+5) {
		t.Fatalf("unexpected fifth digest %s", top[4].Target)
	}
}

func TestStoreFuncAdapts(t *testing.T) {
	var got *models.RecoveryEpisode
	store := StoreFunc(func(ctx context.Context, episode *models.RecoveryEpisode) error {
		got = episode
		return nil
	})

	ep := closedEpisode("faq-db", models.EpisodeRecovered, 1, time.Now().UTC())
	if err := store.StoreEpisode(context.Background(), ep); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != ep {
		t.Fatal("episode not forwarded")
	}
}
