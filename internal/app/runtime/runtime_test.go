package runtime

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"twitchbot/internal/app/events"
	"twitchbot/internal/app/replywait"
	"twitchbot/internal/domain"
	"twitchbot/internal/infrastructure/config"
	"twitchbot/internal/interface/adapters/twitch/twitchtest"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Nick = "bot"
	cfg.OAuth = "oauth:secret"
	cfg.Owner = "owner"
	cfg.Channels = []string{"demo"}
	cfg.DataDir = dir
	cfg.ModsFolder = filepath.Join(dir, "mods")
	cfg.Database.DSN = filepath.Join(dir, "bot.db")
	cfg.HandlerLimit = 8
	return cfg
}

func startRuntime(t *testing.T, cfg *config.Config) (*Runtime, *twitchtest.Server) {
	t.Helper()
	srv := twitchtest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	r, err := Start(context.Background(), Options{Config: cfg, Dial: srv.Dial})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(r.Stop)

	if !srv.WaitFor(2*time.Second, func(lines []string) bool { return slices.Contains(lines, "JOIN #demo") }) {
		t.Fatalf("no JOIN, got %v", srv.Received())
	}
	return r, srv
}

func waitLine(t *testing.T, srv *twitchtest.Server, want string) {
	t.Helper()
	if !srv.WaitFor(2*time.Second, func(lines []string) bool { return slices.Contains(lines, want) }) {
		t.Fatalf("never sent %q, got %v", want, srv.Received())
	}
}

func TestRuntimeServesChat(t *testing.T) {
	r, srv := startRuntime(t, testConfig(t))

	feed, cancel := r.Bus().Subscribe(events.TopicChatEvent)
	defer cancel()

	if err := srv.WriteString("PING :tmi.twitch.tv"); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitLine(t, srv, "PONG :tmi.twitch.tv")

	if err := srv.WriteString("@display-name=Alice :alice!alice@alice.tmi.twitch.tv PRIVMSG #demo :!ping"); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitLine(t, srv, "PRIVMSG #demo :Pong!")

	select {
	case payload := <-feed:
		dto, ok := payload.(events.ChatEventDTO)
		if !ok || dto.Author != "alice" || dto.Content != "!ping" {
			t.Fatalf("unexpected feed payload %#v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("chat event never reached the bus")
	}

	if err := r.health(); err != nil {
		t.Fatalf("health = %v", err)
	}
	if _, ok := r.Channels().Get("demo"); !ok {
		t.Fatal("demo not tracked")
	}
}

func TestStopPartsAndQuits(t *testing.T) {
	r, srv := startRuntime(t, testConfig(t))

	r.Stop()
	waitLine(t, srv, "PART #demo")
	waitLine(t, srv, "QUIT")

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run after Stop = %v", err)
	}
}

func TestRunReportsWireFault(t *testing.T) {
	r, srv := startRuntime(t, testConfig(t))

	_ = srv.Close()

	errc := make(chan error, 1)
	go func() { errc <- r.Run(context.Background()) }()
	select {
	case err := <-errc:
		if !errors.Is(err, ErrWireFault) {
			t.Fatalf("Run = %v, want ErrWireFault", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the connection dropped")
	}
	if err := r.health(); err == nil {
		t.Fatal("health should report the lost connection")
	}
}

func TestStartRejectsUnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "mysql"

	_, err := Start(context.Background(), Options{Config: cfg, Dial: twitchtest.NewServer().Dial})
	if !errors.Is(err, config.ErrMisconfigured) {
		t.Fatalf("Start = %v, want ErrMisconfigured", err)
	}
}

func TestBuiltinCommandsRegistered(t *testing.T) {
	r, _ := startRuntime(t, testConfig(t))

	for _, name := range []string{"!ping", "!addcmd", "!perm", "!timer", "!poll", "!quote", "!counter", "!balance", "!mod"} {
		if _, ok := r.Commands().Lookup(name); !ok {
			t.Errorf("%s not registered", name)
		}
	}
	if got := r.Mods().Names(); !slices.Contains(got, "eventlog") || !slices.Contains(got, "loyalty") {
		t.Fatalf("mods = %v", got)
	}
}

func TestPanickingReplyPredicateKeepsReaderAlive(t *testing.T) {
	r, srv := startRuntime(t, testConfig(t))

	errc := make(chan error, 1)
	go func() {
		_, err := r.Replies().Wait(context.Background(), func(*domain.ChatEvent) bool { panic("predicate exploded") }, 2*time.Second, replywait.Options{})
		errc <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for r.Replies().Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("wait never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := srv.WriteString(":alice!alice@alice.tmi.twitch.tv PRIVMSG #demo :hello"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := <-errc; !errors.Is(err, replywait.ErrPredicatePanic) {
		t.Fatalf("Wait = %v", err)
	}

	if err := srv.WriteString(":alice!alice@alice.tmi.twitch.tv PRIVMSG #demo :!ping"); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitLine(t, srv, "PRIVMSG #demo :Pong!")
}
