package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"twitchbot/internal/domain"
)

// fakeServer is a PubSub edge that records LISTENs per connection.
type fakeServer struct {
	*httptest.Server
	upgrader websocket.Upgrader

	wmu     sync.Mutex
	mu      sync.Mutex
	conns   []*websocket.Conn
	listens [][]string
	pings   int
	// answerPing toggles PONG replies.
	answerPing bool
	// reject lists topics answered with ERR_BADAUTH.
	reject map[string]bool
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	s := &fakeServer{answerPing: true, reject: map[string]bool{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(func() {
		s.mu.Lock()
		for _, c := range s.conns {
			_ = c.Close()
		}
		s.mu.Unlock()
		s.Close()
	})
	return s
}

func (s *fakeServer) writeJSON(conn *websocket.Conn, v any) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return conn.WriteJSON(v)
}

func (s *fakeServer) url() string { return "ws" + strings.TrimPrefix(s.URL, "http") }

func (s *fakeServer) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Type {
		case "PING":
			s.mu.Lock()
			s.pings++
			answer := s.answerPing
			s.mu.Unlock()
			if answer {
				_ = s.writeJSON(conn, frame{Type: "PONG"})
			}
		case "LISTEN":
			var d listenData
			_ = json.Unmarshal(f.Data, &d)
			s.mu.Lock()
			s.listens = append(s.listens, d.Topics)
			bad := false
			for _, t := range d.Topics {
				bad = bad || s.reject[t]
			}
			s.mu.Unlock()
			resp := frame{Type: "RESPONSE", Nonce: f.Nonce}
			if bad {
				resp.Error = "ERR_BADAUTH"
			}
			_ = s.writeJSON(conn, resp)
		}
	}
}

func (s *fakeServer) latest() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return nil
	}
	return s.conns[len(s.conns)-1]
}

func (s *fakeServer) counts() (conns, listens, pings int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns), len(s.listens), s.pings
}

func (s *fakeServer) send(t *testing.T, topic, message string) {
	t.Helper()
	data, _ := json.Marshal(map[string]string{"topic": topic, "message": message})
	if err := s.writeJSON(s.latest(), frame{Type: "MESSAGE", Data: data}); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type collector struct {
	mu     sync.Mutex
	events []*domain.PubSubEvent
}

func (c *collector) handle(_ context.Context, ev *domain.PubSubEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collector) at(i int) *domain.PubSubEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[i]
}

func startClient(t *testing.T, cfg Config, h Handler) (*Client, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(cfg, h)
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("Run did not return")
		}
	})
	return c, done
}

func TestListenAndMessage(t *testing.T) {
	srv := newFakeServer(t)
	events := &collector{}
	c, _ := startClient(t, Config{URL: srv.url(), Token: "oauth:secret"}, events.handle)

	if err := c.Listen(context.Background(), "demo", ChannelTopics("1001", "")...); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	waitFor(t, func() bool {
		_, listens, _ := srv.counts()
		return listens >= 1 && srv.latest() != nil
	})

	srv.send(t, "channel-points-channel-v1.1001",
		`{"type":"reward-redeemed","data":{"redemption":{"user":{"id":"7","login":"Alice"},"reward":{"id":"r1","title":"Hydrate","cost":50},"user_input":"water"}}}`)
	waitFor(t, func() bool { return events.len() == 1 })

	ev := events.at(0)
	if ev.Kind != domain.PubSubRedemption || ev.Channel != "demo" || ev.User != "alice" ||
		ev.RewardTitle != "Hydrate" || ev.Cost != 50 || ev.Text != "water" || ev.ChannelID != "1001" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestReconnectReplaysListens(t *testing.T) {
	srv := newFakeServer(t)
	c, _ := startClient(t, Config{URL: srv.url(), RetryDelay: time.Millisecond}, nil)
	_ = c.Listen(context.Background(), "demo", "polls.1001", "following.1001")

	waitFor(t, func() bool {
		conns, listens, _ := srv.counts()
		return conns == 1 && listens == 1
	})
	if err := srv.writeJSON(srv.latest(), frame{Type: "RECONNECT"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, func() bool {
		conns, listens, _ := srv.counts()
		return conns == 2 && listens == 2
	})

	srv.mu.Lock()
	replayed := srv.listens[1]
	srv.mu.Unlock()
	if len(replayed) != 2 || replayed[0] != "following.1001" || replayed[1] != "polls.1001" {
		t.Fatalf("replayed %v", replayed)
	}
}

func TestPongTimeoutReconnects(t *testing.T) {
	srv := newFakeServer(t)
	srv.answerPing = false
	startClient(t, Config{
		URL:          srv.url(),
		PingInterval: 20 * time.Millisecond,
		PongTimeout:  20 * time.Millisecond,
		RetryDelay:   time.Millisecond,
	}, nil)

	waitFor(t, func() bool {
		conns, _, pings := srv.counts()
		return conns >= 2 && pings >= 1
	})
}

func TestHeartbeatKeepsSession(t *testing.T) {
	srv := newFakeServer(t)
	startClient(t, Config{
		URL:          srv.url(),
		PingInterval: 10 * time.Millisecond,
		PongTimeout:  200 * time.Millisecond,
	}, nil)

	waitFor(t, func() bool {
		_, _, pings := srv.counts()
		return pings >= 3
	})
	if conns, _, _ := srv.counts(); conns != 1 {
		t.Fatalf("expected one connection, got %d", conns)
	}
}

func TestRejectedTopicIsForgotten(t *testing.T) {
	srv := newFakeServer(t)
	srv.reject["whispers.2002"] = true
	c, _ := startClient(t, Config{URL: srv.url()}, nil)

	waitFor(t, func() bool { return srv.latest() != nil })
	_ = c.Listen(context.Background(), "bot", WhisperTopic("2002"))
	waitFor(t, func() bool { return len(c.Topics()) == 0 })
}

func TestUnlisten(t *testing.T) {
	c := NewClient(Config{}, nil)
	_ = c.Listen(context.Background(), "demo", "polls.1")
	_ = c.Listen(context.Background(), "other", "polls.2")
	if err := c.Unlisten(context.Background(), "demo"); err != nil {
		t.Fatalf("Unlisten: %v", err)
	}
	if got := c.Topics(); len(got) != 1 || got[0] != "polls.2" {
		t.Fatalf("topics %v", got)
	}
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	c := NewClient(Config{URL: url, MaxAttempts: 3, RetryDelay: time.Millisecond}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Run(ctx); !errors.Is(err, ErrGaveUp) {
		t.Fatalf("expected ErrGaveUp, got %v", err)
	}
}

func TestDroppedSessionsBackOffAndGiveUp(t *testing.T) {
	var (
		mu    sync.Mutex
		dials []time.Time
	)
	var upgrader websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		dials = append(dials, time.Now())
		mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close()
	}))
	defer srv.Close()

	const delay = 50 * time.Millisecond
	c := NewClient(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), MaxAttempts: 3, RetryDelay: delay}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Run(ctx); !errors.Is(err, ErrGaveUp) {
		t.Fatalf("expected ErrGaveUp, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(dials) != 3 {
		t.Fatalf("dialed %d times, want 3", len(dials))
	}
	for i := 1; i < len(dials); i++ {
		if gap := dials[i].Sub(dials[i-1]); gap < delay {
			t.Fatalf("redial %d came after %v, want at least %v", i, gap, delay)
		}
	}
}

func TestHealthySessionResetsFailures(t *testing.T) {
	srv := newFakeServer(t)
	c, done := startClient(t, Config{URL: srv.url(), MaxAttempts: 2, RetryDelay: time.Millisecond}, nil)
	_ = c.Listen(context.Background(), "demo", "polls.1001")

	for i := 1; i <= 3; i++ {
		waitFor(t, func() bool {
			conns, listens, _ := srv.counts()
			return conns == i && listens == i
		})
		// give the client time to read the RESPONSE before the drop
		time.Sleep(20 * time.Millisecond)
		_ = srv.latest().Close()
	}
	waitFor(t, func() bool {
		conns, _, _ := srv.counts()
		return conns == 4
	})
	select {
	case err := <-done:
		t.Fatalf("Run returned %v after healthy sessions", err)
	default:
	}
}
