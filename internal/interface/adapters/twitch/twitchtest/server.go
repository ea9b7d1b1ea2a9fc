// Package twitchtest is an in-memory chat server for connection tests.
package twitchtest

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// Server accepts a single client over net.Pipe and records every line it
// writes. Don't forget to close.
type Server struct {
	mu       sync.Mutex
	conn     net.Conn
	received []string
	notify   chan struct{}
}

func NewServer() *Server {
	return &Server{notify: make(chan struct{}, 1)}
}

// Dial matches twitchadapter.DialFunc.
func (s *Server) Dial(ctx context.Context, addr string) (net.Conn, error) {
	client, server := net.Pipe()
	s.mu.Lock()
	s.conn = server
	s.mu.Unlock()
	go s.read(server)
	return client, nil
}

func (s *Server) read(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		s.mu.Lock()
		s.received = append(s.received, strings.TrimRight(scanner.Text(), "\r"))
		s.mu.Unlock()
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
}

// WriteString sends a line to the client, appending CRLF when missing.
func (s *Server) WriteString(str string) error {
	if !strings.HasSuffix(str, "\r\n") {
		str += "\r\n"
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return io.ErrClosedPipe
	}
	_, err := io.WriteString(conn, str)
	return err
}

// Received returns a copy of every line the client wrote so far.
func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

// WaitFor blocks until pred holds for the received lines or timeout passes.
func (s *Server) WaitFor(timeout time.Duration, pred func(lines []string) bool) bool {
	deadline := time.After(timeout)
	for {
		if pred(s.Received()) {
			return true
		}
		select {
		case <-s.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			return pred(s.Received())
		}
	}
}

// Close drops the connection; the client sees a read error.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
