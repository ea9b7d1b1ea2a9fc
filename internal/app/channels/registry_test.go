package channels

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"twitchbot/internal/domain"
)

type stubStreams struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (s *stubStreams) StreamInfo(_ context.Context, channel string) (*domain.StreamInfo, error) {
	s.calls.Add(1)
	if s.fail.Load() {
		return nil, errors.New("helix down")
	}
	return &domain.StreamInfo{Title: channel + " live", ViewerCount: 7, StartedAt: time.Now().Add(-time.Hour)}, nil
}

type stubChatters struct{}

func (stubChatters) Chatters(context.Context, string) ([]string, error) {
	return []string{"alice", "bob"}, nil
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

func TestEnsureCaseFolds(t *testing.T) {
	r := NewRegistry("mybot", nil, nil)
	a := r.Ensure("#Demo")
	b := r.Ensure("demo")
	if a != b {
		t.Fatal("expected the same channel for case variants")
	}
	if names := r.Names(); len(names) != 1 || names[0] != "demo" {
		t.Fatalf("names = %v", names)
	}
}

func TestUpdateLoopRunsImmediatelyAndRepeats(t *testing.T) {
	streams := &stubStreams{}
	r := NewRegistry("mybot", streams, stubChatters{})
	r.SetInterval(20 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Ensure("demo")
	r.Start(ctx)

	ch, _ := r.Get("demo")
	waitFor(t, time.Second, func() bool { return ch.Live() && len(ch.Chatters()) == 2 })
	up, ok := ch.Uptime(time.Now())
	if !ok || up < 59*time.Minute {
		t.Fatalf("uptime = %v, %v", up, ok)
	}

	streams.fail.Store(true)
	before := streams.calls.Load()
	waitFor(t, time.Second, func() bool { return streams.calls.Load() >= before+2 })
	if !ch.Live() {
		t.Fatal("failed update should keep the cached stream")
	}
}

func TestObserveBotJoinPartAndUserstate(t *testing.T) {
	r := NewRegistry("mybot", nil, nil)

	r.Observe(&domain.ChatEvent{Kind: domain.KindUserJoin, Author: "mybot", Channel: "demo"})
	if _, ok := r.Get("demo"); !ok {
		t.Fatal("bot join should register the channel")
	}
	if r.IsPrivileged("demo") {
		t.Fatal("not privileged before USERSTATE")
	}

	r.Observe(&domain.ChatEvent{Kind: domain.KindNone, Command: "USERSTATE", Channel: "demo", Badges: map[string]string{"moderator": "1"}})
	if !r.IsPrivileged("demo") {
		t.Fatal("moderator badge should make the channel privileged")
	}
	if !r.IsPrivileged("mybot") {
		t.Fatal("own channel is always privileged")
	}

	now := time.Now()
	r.Observe(&domain.ChatEvent{Kind: domain.KindPrivmsg, Author: "alice", Channel: "other", ReceivedAt: now})
	other, ok := r.Get("other")
	if !ok || !other.Snapshot().LastChat.Equal(now) {
		t.Fatal("first reference should lazily register and record chat time")
	}

	r.Observe(&domain.ChatEvent{Kind: domain.KindUserPart, Author: "mybot", Channel: "demo"})
	if _, ok := r.Get("demo"); ok {
		t.Fatal("bot part should remove the channel")
	}
}
