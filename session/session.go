// Package session owns the TCP connection to the LinuxCNC remote shell.
//
// The protocol is line oriented on the request side only: every command is
// sent as ASCII terminated by CR LF. Replies carry no framing, so a response
// is whatever bytes one bounded read returns. The remote shell does not
// answer every command; a read window that elapses without data is a normal
// empty response, not an error.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"
)

// DefaultPort is the port linuxcncrsh listens on.
const DefaultPort = 5007

// LineTerminator is appended to every command sent.
const LineTerminator = "\r\n"

// Read policies.
const (
	// PolicyPoll waits up to Timeout for data and returns empty if none arrives.
	PolicyPoll = "poll"
	// PolicyDelay sleeps Delay after sending, then reads.
	PolicyDelay = "delay"
)

const (
	defaultTimeout       = 250 * time.Millisecond
	defaultDialTimeout   = 5 * time.Second
	defaultBufferSize    = 4095
	defaultMaxLineLength = 4093
)

// ErrLineTooLong is returned by SendLine when the command exceeds MaxLineLength.
var ErrLineTooLong = errors.New("command line too long")

// ConnectionError reports a failure to reach the remote shell.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to create command socket: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Options configures a Session. Zero values select the defaults.
type Options struct {
	// Policy is PolicyPoll (default) or PolicyDelay.
	Policy string
	// Timeout bounds every read. Under PolicyDelay a zero Timeout means the
	// read blocks until data arrives.
	Timeout time.Duration
	// Delay is the pause between sending and reading under PolicyDelay.
	Delay time.Duration
	// DialTimeout bounds Connect.
	DialTimeout time.Duration
	// BufferSize is the most bytes a single response may carry.
	BufferSize int
	// MaxLineLength is the longest command accepted, excluding the terminator.
	MaxLineLength int
}

func (o Options) withDefaults() Options {
	if o.Policy != PolicyDelay {
		o.Policy = PolicyPoll
	}
	if o.Timeout <= 0 && o.Policy == PolicyPoll {
		o.Timeout = defaultTimeout
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
	if o.BufferSize <= 0 {
		o.BufferSize = defaultBufferSize
	}
	if o.MaxLineLength <= 0 {
		o.MaxLineLength = defaultMaxLineLength
	}
	return o
}

// Session is one open connection to the remote shell. It is not safe for
// concurrent use; the console drives it from a single goroutine.
type Session struct {
	conn net.Conn
	opts Options
	buf  []byte
}

// Connect dials host:port. Failure returns a *ConnectionError.
func Connect(ctx context.Context, host string, port int, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	if port <= 0 {
		port = DefaultPort
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Err: err}
	}
	slog.Debug("connected", "addr", addr, "policy", opts.Policy, "timeout", opts.Timeout)
	return New(conn, opts), nil
}

// New wraps an established connection.
func New(conn net.Conn, opts Options) *Session {
	opts = opts.withDefaults()
	return &Session{
		conn: conn,
		opts: opts,
		buf:  make([]byte, opts.BufferSize),
	}
}

// RemoteAddr returns the remote endpoint address.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// Options returns the effective options.
func (s *Session) Options() Options {
	return s.opts
}

// SendLine writes text followed by CR LF.
func (s *Session) SendLine(text string) error {
	if len(text) > s.opts.MaxLineLength {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrLineTooLong, len(text), s.opts.MaxLineLength)
	}
	slog.Debug("send", "line", text)
	if _, err := io.WriteString(s.conn, text+LineTerminator); err != nil {
		return fmt.Errorf("send %q: %w", text, err)
	}
	return nil
}

// ReadResponse returns the bytes of one bounded read. If the read window
// elapses with no data it returns nil and no error. A closed connection or
// any other read failure is returned as an error.
func (s *Session) ReadResponse() ([]byte, error) {
	if s.opts.Policy == PolicyDelay && s.opts.Delay > 0 {
		time.Sleep(s.opts.Delay)
	}

	var deadline time.Time
	if s.opts.Timeout > 0 {
		deadline = time.Now().Add(s.opts.Timeout)
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}

	n, err := s.conn.Read(s.buf)
	if n > 0 {
		out := make([]byte, n)
		copy(out, s.buf[:n])
		slog.Debug("recv", "bytes", n)
		return out, nil
	}
	if err == nil {
		return nil, nil
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		slog.Debug("no reply within read window", "timeout", s.opts.Timeout)
		return nil, nil
	}
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("remote shell closed the connection: %w", err)
	}
	return nil, fmt.Errorf("read response: %w", err)
}

// Exchange sends cmd and returns the response of one bounded read.
func (s *Session) Exchange(cmd string) ([]byte, error) {
	if err := s.SendLine(cmd); err != nil {
		return nil, err
	}
	return s.ReadResponse()
}

// Close closes the connection.
func (s *Session) Close() error {
	return s.conn.Close()
}
