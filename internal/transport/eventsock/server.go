// Package eventsock is the ingest entry point: a unix-socket line server
// the event-hook forwarders write to. One line is one event, fields
// tab-separated so rom paths may contain spaces.
package eventsock

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// Handler ingests one front-end event.
type Handler interface {
	HandleEvent(name string, args []string) error
}

// Server accepts event lines on a unix domain socket.
type Server struct {
	path    string
	handler Handler
	ln      net.Listener
}

// NewServer creates a server listening at the socket path once started.
func NewServer(path string, handler Handler) *Server {
	return &Server{path: path, handler: handler}
}

// Start binds the socket and begins accepting connections. A stale socket
// file from a previous run is removed first.
func (s *Server) Start(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen on event socket: %w", err)
	}
	s.ln = ln

	log.Info().Str("socket", s.path).Msg("Event ingest socket listening")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	go s.acceptLoop(ctx)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("Event socket accept failed")
			continue
		}
		go s.handleConn(conn)
	}
}

// handleConn serves one hook invocation. Hooks are short-lived processes
// that write a single line and wait for the OK/ERR reply.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if err := s.dispatch(line); err != nil {
			log.Warn().Err(err).Str("line", line).Msg("Rejected event line")
			fmt.Fprintf(conn, "ERR %s\n", err)
			continue
		}
		fmt.Fprintln(conn, "OK")
	}
}

func (s *Server) dispatch(line string) error {
	fields := strings.Split(line, "\t")
	name := fields[0]
	if name == "" {
		return errors.New("empty event name")
	}
	if name == "ping" {
		return nil
	}
	return s.handler.HandleEvent(name, fields[1:])
}

// Close stops the listener and removes the socket file.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	err := s.ln.Close()
	os.Remove(s.path)
	return err
}
