package timers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"twitchbot/internal/domain"
)

type memRepo struct {
	mu   sync.Mutex
	rows map[timerKey]*domain.MessageTimer
}

func newMemRepo() *memRepo { return &memRepo{rows: map[timerKey]*domain.MessageTimer{}} }

func (r *memRepo) SaveMessageTimer(_ context.Context, t *domain.MessageTimer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[newKey(t.Channel, t.Name)] = clone(t)
	return nil
}

func (r *memRepo) GetMessageTimer(_ context.Context, channel, name string) (*domain.MessageTimer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.rows[newKey(channel, name)]; ok {
		return clone(t), nil
	}
	return nil, domain.ErrNotFound
}

func (r *memRepo) ListMessageTimers(_ context.Context, channel string) ([]*domain.MessageTimer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.MessageTimer
	for k, t := range r.rows {
		if channel == "" || k.channel == channel {
			out = append(out, clone(t))
		}
	}
	return out, nil
}

func (r *memRepo) DeleteMessageTimer(_ context.Context, channel, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := newKey(channel, name)
	if _, ok := r.rows[k]; !ok {
		return domain.ErrNotFound
	}
	delete(r.rows, k)
	return nil
}

type stubSender struct {
	mu    sync.Mutex
	lines []string
}

func (s *stubSender) Say(_ context.Context, channel, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, channel+": "+text)
	return nil
}

func (s *stubSender) Whisper(context.Context, string, string) error { return nil }

func (s *stubSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func newEngine(t *testing.T, repo *memRepo, sender *stubSender) *Engine {
	t.Helper()
	e := NewEngine(repo, sender)
	e.SetUnit(time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return e
}

func TestSetGetRoundTrip(t *testing.T) {
	repo := newMemRepo()
	e := newEngine(t, repo, &stubSender{})
	ctx := context.Background()

	in := &domain.MessageTimer{Channel: "#Demo", Name: "Discord", Message: "join us", IntervalSeconds: 600}
	if err := e.Set(ctx, in); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := e.Get(ctx, "demo", "discord")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := domain.MessageTimer{Channel: "demo", Name: "discord", Message: "join us", IntervalSeconds: 600}
	if *got != want {
		t.Fatalf("got %+v, want %+v", *got, want)
	}

	fresh := NewEngine(repo, &stubSender{})
	if got, err := fresh.Get(ctx, "demo", "discord"); err != nil || got.Message != "join us" {
		t.Fatalf("repository read = %+v, %v", got, err)
	}
}

func TestIntervalTooShort(t *testing.T) {
	e := newEngine(t, newMemRepo(), &stubSender{})
	ctx := context.Background()
	err := e.Set(ctx, &domain.MessageTimer{Channel: "demo", Name: "x", Message: "m", IntervalSeconds: 9})
	if !errors.Is(err, ErrIntervalTooShort) {
		t.Fatalf("expected ErrIntervalTooShort, got %v", err)
	}
	if err := e.Set(ctx, &domain.MessageTimer{Channel: "demo", Name: "x", Message: "m", IntervalSeconds: 10}); err != nil {
		t.Fatalf("10 seconds should be allowed: %v", err)
	}
	if err := e.SetInterval(ctx, "demo", "x", 5); !errors.Is(err, ErrIntervalTooShort) {
		t.Fatalf("SetInterval: %v", err)
	}
}

func TestActivateSendsAndDeactivateStops(t *testing.T) {
	repo := newMemRepo()
	sender := &stubSender{}
	e := newEngine(t, repo, sender)
	ctx := context.Background()

	if err := e.Set(ctx, &domain.MessageTimer{Channel: "demo", Name: "hi", Message: "hello", IntervalSeconds: 10}); err != nil {
		t.Fatal(err)
	}
	if e.Running("demo", "hi") {
		t.Fatal("inactive timer should not run")
	}
	if err := e.Activate(ctx, "demo", "hi"); err != nil {
		t.Fatal(err)
	}
	if stored, _ := repo.GetMessageTimer(ctx, "demo", "hi"); !stored.Active {
		t.Fatal("activation must persist the active flag")
	}
	waitFor(t, time.Second, func() bool { return sender.count() >= 3 })

	if err := e.Deactivate(ctx, "demo", "hi"); err != nil {
		t.Fatal(err)
	}
	if e.Running("demo", "hi") {
		t.Fatal("deactivated timer still running")
	}
	n := sender.count()
	time.Sleep(40 * time.Millisecond)
	if sender.count() > n+1 {
		t.Fatalf("messages kept flowing after deactivate: %d -> %d", n, sender.count())
	}
}

func TestStartLaunchesStoredActiveTimers(t *testing.T) {
	repo := newMemRepo()
	_ = repo.SaveMessageTimer(context.Background(), &domain.MessageTimer{
		Channel: "demo", Name: "a", Message: "stored", IntervalSeconds: 10, Active: true,
	})
	sender := &stubSender{}
	e := newEngine(t, repo, sender)
	if !e.Running("demo", "a") {
		t.Fatal("stored active timer not launched")
	}
	waitFor(t, time.Second, func() bool { return sender.count() >= 1 })

	if err := e.Delete(context.Background(), "demo", "a"); err != nil {
		t.Fatal(err)
	}
	if e.Running("demo", "a") || len(e.List("demo")) != 0 {
		t.Fatal("delete should stop and forget the timer")
	}
}
