package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"crosspost/internal/logging"
	"crosspost/internal/model"
)

// Entry is one queued delayed publish, used for platforms without native
// scheduling support.
type Entry struct {
	ID       string
	Post     *model.Post
	Platform model.Platform
	UserID   string
	At       time.Time
}

// Scheduler holds queued delayed publishes in memory and publishes each one
// through the orchestrator once its time arrives. The queue does not survive
// a restart.
type Scheduler struct {
	orch *Orchestrator
	log  *logging.Logger
	cron *cron.Cron

	mu      sync.Mutex
	pending map[string]Entry
	nextID  int
	runCtx  context.Context

	// OnResult, when set, receives the result of every fired entry.
	OnResult func(Entry, model.PublishResult)
}

func newScheduler(orch *Orchestrator, log *logging.Logger) *Scheduler {
	s := &Scheduler{
		orch:    orch,
		log:     log,
		cron:    cron.New(cron.WithSeconds()),
		pending: make(map[string]Entry),
	}
	// Sweep every 30 seconds; entries fire on the first sweep at or past
	// their time. Sweeps run under the Run context so a shutdown also
	// cancels in-flight fires.
	s.cron.AddFunc("*/30 * * * * *", func() { s.sweep(s.context()) })
	return s
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return s.runCtx
	}
	return context.Background()
}

// Add queues a delayed publish and returns its entry id.
func (s *Scheduler) Add(post *model.Post, p model.Platform, userID string, whenUTC time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("scheduled-%d", s.nextID)
	s.pending[id] = Entry{ID: id, Post: post, Platform: p, UserID: userID, At: whenUTC}
	return id
}

// Cancel removes a queued entry. It reports whether the entry was still
// pending.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id]
	delete(s.pending, id)
	return ok
}

// Pending returns a snapshot of the queued entries.
func (s *Scheduler) Pending() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]Entry, 0, len(s.pending))
	for _, e := range s.pending {
		entries = append(entries, e)
	}
	return entries
}

func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()
	s.cron.Start()
	<-ctx.Done()

	ctxStop := s.cron.Stop()
	select {
	case <-ctxStop.Done():
		return nil
	case <-time.After(10 * time.Second):
		return errors.New("cron stop timeout")
	}
}

// sweep fires every due entry. Each entry is removed from the queue before
// publishing so a slow publish cannot fire twice.
func (s *Scheduler) sweep(ctx context.Context) {
	now := time.Now().UTC()

	s.mu.Lock()
	var due []Entry
	for id, e := range s.pending {
		if !e.At.After(now) {
			due = append(due, e)
			delete(s.pending, id)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		s.log.Infof("scheduler: firing %s for %s", e.ID, e.Platform)
		result := s.orch.publishOne(ctx, e.Post, e.Platform, e.UserID)
		if !result.Success {
			s.log.Errorf("scheduler: %s failed on %s: %s", e.ID, e.Platform, result.ErrorMessage)
		}
		if s.OnResult != nil {
			s.OnResult(e, result)
		}
	}
}
