package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"twitchbot/internal/app/channels"
	"twitchbot/internal/app/events"
	"twitchbot/internal/infrastructure/telemetry"
	"twitchbot/internal/usecase/commands"
)

type fakeCatalog struct {
	mu      sync.Mutex
	channel string
	err     error
}

func (f *fakeCatalog) List(_ context.Context, channel string) ([]commands.CommandDTO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channel = channel
	if f.err != nil {
		return nil, f.err
	}
	return []commands.CommandDTO{
		{Name: "ping", Context: "channel", Source: commands.CommandSourceBuiltin},
		{Name: "hi", Response: "hello", Context: "channel", Source: commands.CommandSourceCustom, Editable: true},
	}, nil
}

type fakeDirectory []channels.Snapshot

func (f fakeDirectory) Snapshots() []channels.Snapshot { return f }

func newTestServer(t *testing.T, bus *events.Bus, catalog CommandCatalog) (*Server, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s := NewServer(Config{}, bus, catalog, fakeDirectory{{Name: "demo", IsModerator: true, Chatters: 3}})
	ts := httptest.NewServer(s.Handler(ctx))
	t.Cleanup(ts.Close)
	s.forward(ctx)
	return s, ts
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

func getBody(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestHealthz(t *testing.T) {
	s, ts := newTestServer(t, events.NewBus(), &fakeCatalog{})

	code, body := getBody(t, ts.URL+"/healthz")
	if code != http.StatusOK || !strings.Contains(body, `"ok"`) {
		t.Fatalf("healthz = %d %s", code, body)
	}

	s.SetHealth(func() error { return errors.New("irc disconnected") })
	code, body = getBody(t, ts.URL+"/healthz")
	if code != http.StatusServiceUnavailable || !strings.Contains(body, "irc disconnected") {
		t.Fatalf("healthz = %d %s", code, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	telemetry.Init()
	telemetry.FrameRejected()
	_, ts := newTestServer(t, events.NewBus(), &fakeCatalog{})

	code, body := getBody(t, ts.URL+"/metrics")
	if code != http.StatusOK || !strings.Contains(body, "bot_irc_frames_rejected_total") {
		t.Fatalf("metrics = %d, missing counter", code)
	}
}

func TestCommandsAPI(t *testing.T) {
	catalog := &fakeCatalog{}
	_, ts := newTestServer(t, events.NewBus(), catalog)

	code, body := getBody(t, ts.URL+"/api/commands?channel=%23Demo")
	if code != http.StatusOK {
		t.Fatalf("status %d: %s", code, body)
	}
	catalog.mu.Lock()
	channel := catalog.channel
	catalog.mu.Unlock()
	if channel != "demo" {
		t.Fatalf("channel = %q, want demo", channel)
	}
	var list []commands.CommandDTO
	if err := json.Unmarshal([]byte(body), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 2 || list[1].Response != "hello" || !list[1].Editable {
		t.Fatalf("unexpected list %+v", list)
	}

	catalog.mu.Lock()
	catalog.err = errors.New("store down")
	catalog.mu.Unlock()
	if code, _ := getBody(t, ts.URL+"/api/commands"); code != http.StatusInternalServerError {
		t.Fatalf("status %d, want 500", code)
	}
}

func TestChannelsAPIAndCORS(t *testing.T) {
	_, ts := newTestServer(t, events.NewBus(), &fakeCatalog{})

	code, body := getBody(t, ts.URL+"/api/channels")
	if code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	var snaps []channels.Snapshot
	if err := json.Unmarshal([]byte(body), &snaps); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snaps) != 1 || snaps[0].Name != "demo" || snaps[0].Chatters != 3 {
		t.Fatalf("unexpected snapshots %+v", snaps)
	}

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/channels", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight = %d %v", resp.StatusCode, resp.Header)
	}
}

func TestEventFeed(t *testing.T) {
	bus := events.NewBus()
	s, ts := newTestServer(t, bus, &fakeCatalog{})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitFor(t, time.Second, func() bool { return s.Clients() == 1 })

	bus.Publish(events.TopicChatEvent, events.ChatEventDTO{Kind: "privmsg", Channel: "demo", Author: "alice", Content: "hi"})
	bus.Publish(events.TopicPoll, events.PollDTO{State: "ended", ID: 4, Channel: "demo", Title: "best"})

	seen := map[string]json.RawMessage{}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(seen) < 2 {
		var env struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read: %v", err)
		}
		seen[env.Type] = env.Data
	}

	var chat events.ChatEventDTO
	if err := json.Unmarshal(seen[events.TopicChatEvent], &chat); err != nil || chat.Author != "alice" || chat.Content != "hi" {
		t.Fatalf("chat envelope = %s (%v)", seen[events.TopicChatEvent], err)
	}
	var poll events.PollDTO
	if err := json.Unmarshal(seen[events.TopicPoll], &poll); err != nil || poll.ID != 4 || poll.State != "ended" {
		t.Fatalf("poll envelope = %s (%v)", seen[events.TopicPoll], err)
	}

	conn.Close()
	waitFor(t, time.Second, func() bool { return s.Clients() == 0 })
}
