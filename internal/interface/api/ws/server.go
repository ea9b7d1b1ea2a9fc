// Package ws serves the bot's ops surface: Prometheus metrics, a health
// probe, a read-only JSON API and a websocket feed of bus events.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"twitchbot/internal/app/channels"
	"twitchbot/internal/app/events"
	"twitchbot/internal/infrastructure/logger"
	"twitchbot/internal/usecase/commands"
)

const (
	shutdownTimeout = 5 * time.Second
	writeTimeout    = 10 * time.Second
)

// FeedTopics are the bus topics forwarded to /ws/events clients.
var FeedTopics = []string{
	events.TopicChatEvent,
	events.TopicPubSubEvent,
	events.TopicNotification,
	events.TopicPoll,
}

type Config struct {
	Addr string
}

type EventSource interface {
	Subscribe(topic string) (<-chan any, func())
}

type CommandCatalog interface {
	List(ctx context.Context, channel string) ([]commands.CommandDTO, error)
}

type ChannelDirectory interface {
	Snapshots() []channels.Snapshot
}

// HealthFunc reports nil while the bot is serving.
type HealthFunc func() error

// Envelope is the frame written to feed clients.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type Server struct {
	addr     string
	upgrader websocket.Upgrader
	log      *slog.Logger

	events   EventSource
	catalog  CommandCatalog
	channels ChannelDirectory

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	health  HealthFunc
	httpSrv *http.Server
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func NewServer(cfg Config, source EventSource, catalog CommandCatalog, directory ChannelDirectory) *Server {
	return &Server{
		addr: cfg.Addr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log:      logger.Service("ops"),
		events:   source,
		catalog:  catalog,
		channels: directory,
		clients:  make(map[*wsClient]struct{}),
	}
}

func (s *Server) SetHealth(fn HealthFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health = fn
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/ws/events", func(w http.ResponseWriter, r *http.Request) {
		s.handleWS(ctx, w, r)
	})
	mux.HandleFunc("/api/commands", s.handleCommands)
	mux.HandleFunc("/api/channels", s.handleChannels)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			setCORSHeaders(w)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		mux.ServeHTTP(w, r)
	})
}

// Start serves until ctx is cancelled, forwarding bus events to feed clients.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()

	s.forward(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("shutdown failed", "error", err)
		}
		s.closeClients()
	}()

	s.log.Info("ops server listening", "addr", s.addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// forward subscribes to every feed topic before returning, then broadcasts
// from background goroutines until ctx is done or the bus closes.
func (s *Server) forward(ctx context.Context) {
	if s.events == nil {
		return
	}
	for _, topic := range FeedTopics {
		feed, cancel := s.events.Subscribe(topic)
		go func(topic string, feed <-chan any, cancel func()) {
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-feed:
					if !ok {
						return
					}
					s.Broadcast(ctx, Envelope{Type: topic, Data: payload})
				}
			}
		}(topic, feed, cancel)
	}
}

func (s *Server) handleWS(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "error", err)
		return
	}

	client := &wsClient{conn: conn}

	s.mu.Lock()
	s.clients[client] = struct{}{}
	clientCount := len(s.clients)
	s.mu.Unlock()

	s.log.Info("feed client connected", "remote", r.RemoteAddr, "clients", clientCount)

	go s.handleClient(ctx, client)
}

// handleClient drains the read side so close frames are seen. The feed is
// one-way; inbound text is ignored.
func (s *Server) handleClient(ctx context.Context, client *wsClient) {
	defer s.dropClient(client)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, _, err := client.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("feed read ended", "error", err)
			}
			return
		}
	}
}

func (s *Server) dropClient(client *wsClient) {
	s.mu.Lock()
	_, ok := s.clients[client]
	delete(s.clients, client)
	clientCount := len(s.clients)
	s.mu.Unlock()

	if ok {
		client.conn.Close()
		s.log.Info("feed client disconnected", "clients", clientCount)
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[*wsClient]struct{})
	s.mu.Unlock()

	for c := range clients {
		c.conn.Close()
	}
}

// Clients reports the number of connected feed clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Broadcast writes env to every feed client, dropping clients whose write
// fails.
func (s *Server) Broadcast(ctx context.Context, env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		s.log.Error("encode envelope failed", "type", env.Type, "error", err)
		return
	}

	s.mu.RLock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		if ctx.Err() != nil {
			return
		}
		if err := c.writeJSON(json.RawMessage(payload)); err != nil {
			s.log.Warn("removing feed client after write error", "error", err)
			s.dropClient(c)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	health := s.health
	s.mu.RUnlock()

	if health != nil {
		if err := health(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "commands unavailable")
		return
	}

	channel := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(r.URL.Query().Get("channel")), "#"))
	list, err := s.catalog.List(r.Context(), channel)
	if err != nil {
		s.log.Error("list commands failed", "channel", channel, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []commands.CommandDTO{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.channels == nil {
		writeError(w, http.StatusServiceUnavailable, "channels unavailable")
		return
	}

	snaps := s.channels.Snapshots()
	if snaps == nil {
		snaps = []channels.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
