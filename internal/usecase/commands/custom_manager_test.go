package commands

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"twitchbot/internal/domain"
)

type memoryRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.CustomCommand
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{rows: map[string]*domain.CustomCommand{}}
}

func (r *memoryRepo) UpsertCustomCommand(_ context.Context, cmd *domain.CustomCommand) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *cmd
	r.rows[cmd.Channel+"/"+cmd.Name] = &cp
	return nil
}

func (r *memoryRepo) GetCustomCommand(_ context.Context, channel, name string) (*domain.CustomCommand, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.rows[channel+"/"+name]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *memoryRepo) ListCustomCommands(_ context.Context, channel string) ([]*domain.CustomCommand, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.CustomCommand
	for k, c := range r.rows {
		if strings.HasPrefix(k, channel+"/") {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memoryRepo) DeleteCustomCommand(_ context.Context, channel, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, channel+"/"+name)
	return nil
}

type captureSender struct {
	mu   sync.Mutex
	says []string
}

func (s *captureSender) Say(_ context.Context, channel, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.says = append(s.says, channel+": "+text)
	return nil
}

func (s *captureSender) Whisper(_ context.Context, user, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.says = append(s.says, "@"+user+": "+text)
	return nil
}

func TestCustomCommandLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	reg := NewRegistry("!")
	reg.MustRegister(&Command{Name: "roll", Handler: noop})

	m := NewCustomCommandManager(repo, "!")
	m.SetReservedChecker(reg.IsReserved)

	if _, err := m.Upsert(ctx, "demo", "!roll", "x", true); !errors.Is(err, ErrReservedName) {
		t.Fatalf("expected reserved, got %v", err)
	}
	if _, err := m.Upsert(ctx, "demo", "hi", "hello %user", true); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Upsert(ctx, "demo", "hi", "again", true); !errors.Is(err, ErrCommandExists) {
		t.Fatalf("expected exists, got %v", err)
	}
	if _, err := m.Upsert(ctx, "demo", "nope", "x", false); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("edit of missing: %v", err)
	}
	if _, err := m.Upsert(ctx, "demo", "hi", "", false); !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("empty response: %v", err)
	}

	// A fresh manager reads what the first one persisted.
	fresh := NewCustomCommandManager(repo, "!")
	if _, err := fresh.Find(ctx, "#Demo", "!HI"); err != nil {
		t.Fatalf("find after reload: %v", err)
	}
	if _, err := fresh.Find(ctx, "other", "hi"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("custom commands are per channel")
	}

	if err := m.Delete(ctx, "demo", "hi"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := m.Delete(ctx, "demo", "hi"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestCustomCommandRender(t *testing.T) {
	ctx := context.Background()
	m := NewCustomCommandManager(nil, "!")
	m.SetUptime(func(channel string) (time.Duration, bool) {
		return 2*time.Hour + 5*time.Minute + 3*time.Second, channel == "demo"
	})
	if _, err := m.Upsert(ctx, "demo", "up", "%user in %channel live for %uptime", true); err != nil {
		t.Fatal(err)
	}

	cmd, ok := m.Command(ctx, "demo", "!up")
	if !ok || cmd.FullName() != "!up" {
		t.Fatalf("command = %v, %v", cmd, ok)
	}

	sender := &captureSender{}
	inv := &Invocation{
		Event:   &domain.ChatEvent{Kind: domain.KindPrivmsg, Author: "alice", Tags: map[string]string{"display-name": "Alice"}},
		Command: cmd,
		Channel: "demo",
		Sender:  sender,
	}
	if err := cmd.Handler(ctx, inv); err != nil {
		t.Fatal(err)
	}
	want := "demo: Alice in demo live for 2 hours 5 minutes"
	if len(sender.says) != 1 || sender.says[0] != want {
		t.Fatalf("says = %q, want %q", sender.says, want)
	}
}
