// Package irctest provides a scripted fake IRC server for tests.
package irctest

import (
	"bufio"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Server accepts client connections on a loopback port
type Server struct {
	t        *testing.T
	listener net.Listener
}

// NewServer starts listening on 127.0.0.1 on a free port. It is closed when
// the test ends.
func NewServer(t *testing.T) *Server {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "Should listen on loopback")
	t.Cleanup(func() { listener.Close() })

	return &Server{t: t, listener: listener}
}

// Host returns the address to dial, without the port
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.listener.Addr().String())
	return host
}

// Port returns the listening port
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.listener.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// Accept waits for the next client connection
func (s *Server) Accept(timeout time.Duration) *Conn {
	s.t.Helper()

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := s.listener.Accept()
		ch <- result{conn, err}
	}()

	select {
	case r := <-ch:
		require.NoError(s.t, r.err, "Should accept a client")
		s.t.Cleanup(func() { r.conn.Close() })
		return &Conn{t: s.t, Conn: r.conn, reader: bufio.NewReader(r.conn)}
	case <-time.After(timeout):
		s.t.Fatalf("no client connected within %s", timeout)
		return nil
	}
}

// Close stops accepting connections
func (s *Server) Close() error {
	return s.listener.Close()
}

// Conn is the server side of one client connection
type Conn struct {
	net.Conn
	t      *testing.T
	reader *bufio.Reader
}

// Send writes line to the client, terminated with CRLF
func (c *Conn) Send(line string) {
	c.t.Helper()
	_, err := c.Conn.Write([]byte(line + "\r\n"))
	require.NoError(c.t, err, "Should send: "+line)
}

// ReadLine returns the next raw line from the client, terminator included
func (c *Conn) ReadLine(timeout time.Duration) (string, error) {
	c.Conn.SetReadDeadline(time.Now().Add(timeout))
	defer c.Conn.SetReadDeadline(time.Time{})
	return c.reader.ReadString('\n')
}

// Expect reads the next line and requires it to equal want once the CRLF
// terminator is removed. The terminator itself must be CRLF.
func (c *Conn) Expect(want string, timeout time.Duration) {
	c.t.Helper()
	line, err := c.ReadLine(timeout)
	require.NoError(c.t, err, "Should receive: "+want)
	require.True(c.t, strings.HasSuffix(line, "\r\n"), "line %q must end in CRLF", line)
	require.Equal(c.t, want, strings.TrimSuffix(line, "\r\n"))
}

// ExpectHandshake consumes the USER, NICK, IDENTIFY and JOIN lines a
// session sends while connecting.
func (c *Conn) ExpectHandshake(nickname, realname, credential, channel string) {
	c.t.Helper()
	c.Expect("USER "+nickname+" 0 * :"+realname, 5*time.Second)
	c.Expect("NICK "+nickname, 5*time.Second)
	c.Expect("PRIVMSG NickServ :IDENTIFY "+nickname+" "+credential, 5*time.Second)
	c.Expect("JOIN "+channel, 5*time.Second)
}

// ExpectNothing requires that no line arrives within d
func (c *Conn) ExpectNothing(d time.Duration) {
	c.t.Helper()
	line, err := c.ReadLine(d)
	require.Error(c.t, err, "unexpected line %q", line)
	var netErr net.Error
	require.True(c.t, errors.As(err, &netErr) && netErr.Timeout(), "expected a timeout, got %v", err)
}
