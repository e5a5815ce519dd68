package workers

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"dice-match-system/models"
	"dice-match-system/repository"
)

const (
	// DefaultReapInterval is how often the sweep runs.
	DefaultReapInterval = 30 * time.Second
	// DefaultMatchRetention keeps terminal matches queryable for rematch
	// requests and result screens before they are collected.
	DefaultMatchRetention = 30 * time.Minute
)

// ReaperWorker is the background garbage collector: it expires and removes
// sessions past their TTL, invitations past theirs, and terminal matches
// past the retention window. Expiry is observed lazily on the read path too;
// the reaper just bounds how long stale documents linger.
type ReaperWorker struct {
	Sessions    *repository.SessionRepository
	Invitations *repository.InvitationRepository
	Matches     *repository.MatchRepository
	Clock       clockwork.Clock

	Interval       time.Duration
	MatchRetention time.Duration

	scheduler gocron.Scheduler
}

func NewReaperWorker(sessions *repository.SessionRepository, invitations *repository.InvitationRepository, matches *repository.MatchRepository, clock clockwork.Clock) *ReaperWorker {
	return &ReaperWorker{
		Sessions:       sessions,
		Invitations:    invitations,
		Matches:        matches,
		Clock:          clock,
		Interval:       DefaultReapInterval,
		MatchRetention: DefaultMatchRetention,
	}
}

// Start schedules the periodic sweep. Call Shutdown to stop it.
func (w *ReaperWorker) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler(gocron.WithClock(w.Clock))
	if err != nil {
		return err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(w.Interval),
		gocron.NewTask(func() {
			if err := w.SweepOnce(ctx); err != nil {
				log.Printf("[Reaper] sweep error: %v", err)
			}
		}),
	)
	if err != nil {
		return err
	}

	sched.Start()
	w.scheduler = sched
	log.Println("🧹 Starting session/invitation reaper…")
	return nil
}

func (w *ReaperWorker) Shutdown() {
	if w.scheduler != nil {
		_ = w.scheduler.Shutdown()
	}
}

// SweepOnce runs a single collection pass. Exposed for tests and for
// the startup sweep.
func (w *ReaperWorker) SweepOnce(ctx context.Context) error {
	now := w.Clock.Now()

	sessions, err := w.Sessions.FindExpired(ctx, now)
	if err != nil {
		return err
	}
	for i := range sessions {
		s := &sessions[i]
		// Flip to expired first so stream watchers observe the terminal
		// status before the document disappears.
		if err := w.Sessions.MarkExpired(ctx, s.ID); err != nil && !isGone(err) {
			log.Printf("[Reaper] failed to expire session %s: %v", s.ID, err)
			continue
		}
		if err := w.Sessions.Delete(ctx, s.ID); err != nil && !isGone(err) {
			log.Printf("[Reaper] failed to delete session %s: %v", s.ID, err)
			continue
		}
		log.Printf("🧹 [Reaper] expired %s session %s (mode %s)", s.SessionType, s.ID, s.GameMode)
	}

	invitations, err := w.Invitations.FindExpired(ctx, now)
	if err != nil {
		return err
	}
	for i := range invitations {
		inv := &invitations[i]
		if err := w.Invitations.MarkExpired(ctx, inv.ID); err != nil && !isGone(err) {
			log.Printf("[Reaper] failed to expire invitation %s: %v", inv.ID, err)
			continue
		}
		if err := w.Invitations.Delete(ctx, inv.ID); err != nil && !isGone(err) {
			log.Printf("[Reaper] failed to delete invitation %s: %v", inv.ID, err)
			continue
		}
		log.Printf("🧹 [Reaper] expired invitation %s", inv.ID)
	}

	matches, err := w.Matches.FindTerminalBefore(ctx, now.Add(-w.MatchRetention))
	if err != nil {
		return err
	}
	for i := range matches {
		m := &matches[i]
		if err := w.Matches.Delete(ctx, m.ID); err != nil {
			log.Printf("[Reaper] failed to delete match %s: %v", m.ID, err)
			continue
		}
		log.Printf("🧹 [Reaper] collected %s match %s", m.Status, m.ID)
	}

	return nil
}

func isGone(err error) bool {
	return err == nil || errors.Is(err, models.ErrNotFound)
}
