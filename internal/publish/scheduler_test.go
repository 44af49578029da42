package publish

import (
	"context"
	"testing"
	"time"

	"crosspost/internal/model"
	"crosspost/internal/platform"
)

func TestSchedulerSweepFiresDueEntries(t *testing.T) {
	telegram := &fakeAdapter{id: model.PlatformTelegram, externalID: "77"}
	resolver := testResolver(t, nil, cred(model.PlatformTelegram))
	orch := New([]platform.Adapter{telegram}, platform.NewRegistry(), resolver)

	s := orch.Scheduler()
	var fired []model.PublishResult
	s.OnResult = func(e Entry, r model.PublishResult) { fired = append(fired, r) }

	s.Add(textPost(), model.PlatformTelegram, "u1", time.Now().UTC().Add(-time.Second))
	s.Add(textPost(), model.PlatformTelegram, "u1", time.Now().UTC().Add(time.Hour))

	s.sweep(context.Background())

	if len(fired) != 1 {
		t.Fatalf("fired %d entries, want only the due one", len(fired))
	}
	if !fired[0].Success || fired[0].ExternalID != "77" {
		t.Errorf("fired result = %+v", fired[0])
	}
	if calls, _ := telegram.calls(); calls != 1 {
		t.Errorf("publish calls = %d, want 1", calls)
	}
	if len(s.Pending()) != 1 {
		t.Errorf("pending = %d, want the future entry only", len(s.Pending()))
	}
}

func TestSchedulerSweepDoesNotFireTwice(t *testing.T) {
	telegram := &fakeAdapter{id: model.PlatformTelegram, externalID: "77"}
	resolver := testResolver(t, nil, cred(model.PlatformTelegram))
	orch := New([]platform.Adapter{telegram}, platform.NewRegistry(), resolver)

	s := orch.Scheduler()
	s.Add(textPost(), model.PlatformTelegram, "u1", time.Now().UTC().Add(-time.Second))

	s.sweep(context.Background())
	s.sweep(context.Background())

	if calls, _ := telegram.calls(); calls != 1 {
		t.Errorf("publish calls = %d, want 1 across repeated sweeps", calls)
	}
}

func TestSchedulerRunAdoptsCallerContext(t *testing.T) {
	telegram := &fakeAdapter{id: model.PlatformTelegram}
	resolver := testResolver(t, nil, cred(model.PlatformTelegram))
	orch := New([]platform.Adapter{telegram}, platform.NewRegistry(), resolver)
	s := orch.Scheduler()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Once Run is up, sweeps must fire under the caller's context, not
	// a fresh background one.
	deadline := time.After(2 * time.Second)
	for s.context() != ctx {
		select {
		case <-deadline:
			t.Fatalf("scheduler never adopted the run context")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return after cancellation")
	}
}

func TestSchedulerCancel(t *testing.T) {
	telegram := &fakeAdapter{id: model.PlatformTelegram}
	resolver := testResolver(t, nil, cred(model.PlatformTelegram))
	orch := New([]platform.Adapter{telegram}, platform.NewRegistry(), resolver)

	s := orch.Scheduler()
	id := s.Add(textPost(), model.PlatformTelegram, "u1", time.Now().UTC().Add(-time.Second))

	if !s.Cancel(id) {
		t.Fatalf("cancel reported entry missing")
	}
	if s.Cancel(id) {
		t.Errorf("second cancel reported entry still pending")
	}

	s.sweep(context.Background())
	if calls, _ := telegram.calls(); calls != 0 {
		t.Errorf("cancelled entry still published")
	}
}
