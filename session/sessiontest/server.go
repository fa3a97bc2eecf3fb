// Package sessiontest provides an in-process line service that stands in for
// the LinuxCNC remote shell in tests.
package sessiontest

import (
	"bufio"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"
)

// Handler produces the reply to one received line. Returning ok=false keeps
// the service silent for that line.
type Handler func(line string) (reply string, ok bool)

// Echo replies to every line with the line itself followed by CR LF.
func Echo(line string) (string, bool) {
	return line + "\r\n", true
}

// Silent never replies.
func Silent(string) (string, bool) {
	return "", false
}

// Server is a TCP line service bound to a loopback port.
type Server struct {
	listener net.Listener
	handler  Handler

	mu    sync.Mutex
	lines []string
	conns []net.Conn
	wg    sync.WaitGroup
}

// Start listens on 127.0.0.1 with an ephemeral port and serves until the
// test ends.
func Start(t testing.TB, handler Handler) *Server {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &Server{listener: listener, handler: handler}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Host returns the listening host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.listener.Addr().String())
	return host
}

// Port returns the listening port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.listener.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Lines returns every line received so far, terminators stripped, in order.
func (s *Server) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

// WaitLines blocks until at least n lines were received or timeout elapses,
// and returns the lines received.
func (s *Server) WaitLines(n int, timeout time.Duration) []string {
	deadline := time.Now().Add(timeout)
	for {
		lines := s.Lines()
		if len(lines) >= n || time.Now().After(deadline) {
			return lines
		}
		time.Sleep(time.Millisecond)
	}
}

// DropConnections closes every accepted connection, simulating the remote
// shell going away.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

// Close stops the listener and closes open connections.
func (s *Server) Close() {
	s.listener.Close()
	s.DropConnections()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	// ScanLines drops the trailing CR of each CR LF terminated line.
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		s.mu.Lock()
		s.lines = append(s.lines, line)
		s.mu.Unlock()

		reply, ok := s.handler(line)
		if !ok {
			continue
		}
		if _, err := conn.Write([]byte(reply)); err != nil {
			return
		}
	}
}
