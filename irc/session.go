package irc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lanternbot/ircbot/wait"
)

const (
	// DefaultPort is the plain-text IRC port.
	DefaultPort = 6667

	// DefaultHandshakeTimeout bounds the wait for a reply after each
	// handshake command.
	DefaultHandshakeTimeout = 2 * time.Second

	// Version is reported in replies to CTCP VERSION queries.
	Version = "ircbot 0.1.0"

	// MaxVerbosity is the highest diagnostic level.
	MaxVerbosity = 5

	dialTimeout  = 30 * time.Second
	writeTimeout = 30 * time.Second
	lineBuffer   = 64
)

// State is the lifecycle position of a Session
type State int32

const (
	StateUnconnected State = iota
	StateConnecting
	StateHandshaking
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// DialFunc opens the transport to the server
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Option configures a Session
type Option func(*Session)

// WithVerbosity sets the diagnostic level, clamped to 0-5
func WithVerbosity(level int) Option {
	return func(s *Session) { s.SetVerbosity(level) }
}

// WithLogger sets the diagnostic sink
func WithLogger(logger *log.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithDialer replaces the TCP dialer
func WithDialer(dial DialFunc) Option {
	return func(s *Session) { s.dial = dial }
}

// WithPort overrides the server port
func WithPort(port int) Option {
	return func(s *Session) { s.port = port }
}

// WithRealname sets the realname sent in USER
func WithRealname(realname string) Option {
	return func(s *Session) { s.realname = realname }
}

// WithHandshakeTimeout sets how long to wait for a reply after each
// handshake command
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Session) { s.handshakeTimeout = d }
}

// WithBackoff sets the strategy used between connection attempts
func WithBackoff(strategy wait.Strategy) Option {
	return func(s *Session) { s.backoff = strategy }
}

// WithVersionReply sets the text returned to CTCP VERSION queries
func WithVersionReply(reply string) Option {
	return func(s *Session) { s.versionReply = reply }
}

// WithMetrics attaches metrics the session updates
func WithMetrics(m *Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

type lineResult struct {
	line string
	err  error
}

// Session is a single client connection to one IRC server. It has one
// reader and one writer; GetLine and GetMessage must not be called
// concurrently with each other.
type Session struct {
	nickname         string
	credential       string
	realname         string
	versionReply     string
	port             int
	handshakeTimeout time.Duration
	dial             DialFunc
	backoff          wait.Strategy
	logger           *log.Logger
	metrics          *Metrics
	verbosity        atomic.Int32
	connID           atomic.Value

	mu    sync.Mutex
	state State
	conn  net.Conn
	lines chan lineResult
	done  chan struct{}

	writeMu sync.Mutex
}

// NewSession creates an unconnected session for nickname. Both nickname and
// credential are required.
func NewSession(nickname, credential string, opts ...Option) (*Session, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" || credential == "" {
		return nil, ErrMissingIdentity
	}

	s := &Session{
		nickname:         nickname,
		credential:       credential,
		realname:         DefaultRealname,
		versionReply:     Version,
		port:             DefaultPort,
		handshakeTimeout: DefaultHandshakeTimeout,
		dial:             (&net.Dialer{Timeout: dialTimeout}).DialContext,
		backoff:          wait.NewReconnectStrategy(),
		logger:           log.Default(),
	}
	s.connID.Store("-")

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Nickname returns the session's nickname
func (s *Session) Nickname() string {
	return s.nickname
}

// SetVerbosity sets the diagnostic level, clamped to 0-5
func (s *Session) SetVerbosity(level int) {
	s.verbosity.Store(int32(clampVerbosity(level)))
}

// Verbosity returns the diagnostic level
func (s *Session) Verbosity() int {
	return int(s.verbosity.Load())
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect dials server and performs the login handshake, joining channel.
// Failed attempts are retried with backoff until one succeeds or ctx is
// done. Any existing connection is closed first.
func (s *Session) Connect(ctx context.Context, server, channel string) error {
	s.Close()

	address := net.JoinHostPort(server, strconv.Itoa(s.port))
	s.setState(StateConnecting)
	s.debugf(1, "Connecting to: %s", address)

	err := wait.Retry(func(ctx context.Context) error {
		if err := s.open(ctx, address); err != nil {
			return err
		}
		if err := s.handshake(ctx, channel); err != nil {
			s.disconnect(nil)
			s.setState(StateConnecting)
			return err
		}
		return nil
	}, &wait.Options{
		Context:  ctx,
		Strategy: s.backoff,
		Notify: func(attempt int, err error, next time.Duration) {
			s.metrics.count(dialFailures)
			s.debugf(0, "Connection failed (%v). Retrying in %s.", err, next)
		},
	})
	if err != nil {
		s.disconnect(nil)
		return err
	}

	s.setState(StateReady)
	s.debugf(1, "Ready on %s as %s.", address, s.nickname)
	return nil
}

func (s *Session) open(ctx context.Context, address string) error {
	s.metrics.count(dialAttempts)

	conn, err := s.dial(ctx, "tcp", address)
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}

	lines := make(chan lineResult, lineBuffer)
	done := make(chan struct{})

	s.mu.Lock()
	s.conn = conn
	s.lines = lines
	s.done = done
	s.state = StateHandshaking
	s.mu.Unlock()

	s.connID.Store(uuid.NewString()[:8])
	s.metrics.setState(StateHandshaking)

	go s.readLines(conn, lines, done)

	s.debugf(1, "Connected.")
	return nil
}

func (s *Session) handshake(ctx context.Context, channel string) error {
	steps := []string{
		FormatUser(s.nickname, s.realname),
		FormatNick(s.nickname),
		FormatIdentify(s.nickname, s.credential),
		FormatJoin(channel),
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Send(step); err != nil {
			return err
		}
		// The reply only paces the handshake; a timeout is fine.
		if _, _, err := s.GetLine(s.handshakeTimeout); err != nil {
			return err
		}
	}

	return nil
}

// readLines feeds lines from conn to the session until a read fails.
// Lines longer than MaxLineLength are skipped whole.
func (s *Session) readLines(conn net.Conn, lines chan<- lineResult, done <-chan struct{}) {
	reader := bufio.NewReaderSize(conn, MaxLineLength+1)

	for {
		line, isPrefix, err := reader.ReadLine()
		if err == nil && isPrefix {
			dropped := len(line)
			for isPrefix && err == nil {
				line, isPrefix, err = reader.ReadLine()
				dropped += len(line)
			}
			s.metrics.count(linesDropped)
			s.debugf(3, "Dropped oversized line (%d bytes)", dropped)
			if err == nil {
				continue
			}
			line = nil
		}

		select {
		case lines <- lineResult{line: string(line), err: err}:
		case <-done:
			return
		}

		if err != nil {
			return
		}
	}
}

// Close closes the connection, if any, and leaves the session Unconnected
func (s *Session) Close() error {
	return s.disconnect(nil)
}

// disconnect tears down conn, or whatever connection is current if conn is
// nil. It is a no-op if conn has already been replaced.
func (s *Session) disconnect(conn net.Conn) error {
	s.mu.Lock()
	if conn != nil && s.conn != conn {
		s.mu.Unlock()
		return nil
	}
	old, done := s.conn, s.done
	s.conn, s.lines, s.done = nil, nil, nil
	s.state = StateUnconnected
	s.mu.Unlock()

	s.metrics.setState(StateUnconnected)

	if done != nil {
		close(done)
	}
	if old != nil {
		return old.Close()
	}
	return nil
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.metrics.setState(state)
}

var lineBreaks = strings.NewReplacer("\r", "", "\n", " ")

// Send writes one line to the server, terminated with CRLF. Line breaks
// inside raw are removed so a call can never produce more than one line.
func (s *Session) Send(raw string) error {
	line := lineBreaks.Replace(strings.TrimRight(raw, " \t\r\n"))

	s.mu.Lock()
	conn, state := s.conn, s.state
	s.mu.Unlock()

	if conn == nil || (state != StateHandshaking && state != StateReady) {
		return &TransportError{Op: "write", Err: ErrNotReady}
	}

	s.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := io.WriteString(conn, line+"\r\n")
	s.writeMu.Unlock()

	if err != nil {
		s.debugf(0, "Write failed: %v", err)
		s.disconnect(conn)
		return &TransportError{Op: "write", Err: err}
	}

	s.metrics.count(linesSent)
	s.debugf(1, "-> %s", s.redact(line))
	return nil
}

// GetLine waits up to timeout for one line from the server. It returns
// ok=false with a nil error when nothing arrived in time. PING challenges
// are answered here and reported as no line. A non-positive timeout polls.
func (s *Session) GetLine(timeout time.Duration) (line string, ok bool, err error) {
	s.mu.Lock()
	conn, lines := s.conn, s.lines
	s.mu.Unlock()

	if lines == nil {
		return "", false, &TransportError{Op: "read", Err: ErrNotReady}
	}

	var result lineResult
	if timeout <= 0 {
		select {
		case result = <-lines:
		default:
			return "", false, nil
		}
	} else {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case result = <-lines:
		case <-timer.C:
			return "", false, nil
		}
	}

	if result.err != nil {
		s.debugf(0, "Connection lost: %v", result.err)
		s.disconnect(conn)
		return "", false, &TransportError{Op: "read", Err: result.err}
	}

	s.metrics.count(linesReceived)
	line = strings.TrimRight(result.line, " \t\r\n")
	s.debugf(1, "<- %s", line)

	if strings.HasPrefix(line, CmdPing+" ") {
		s.metrics.count(pings)
		token := strings.TrimSpace(line[len(CmdPing)+1:])
		if err := s.Send(FormatPong(token)); err != nil {
			return "", false, err
		}
		return "", false, nil
	}

	return line, true, nil
}

// GetMessage waits up to timeout for a line and parses it. It returns nil
// without an error on timeout, for PINGs, for lines that do not parse and
// for CTCP VERSION queries, which are answered automatically.
func (s *Session) GetMessage(timeout time.Duration) (*Message, error) {
	line, ok, err := s.GetLine(timeout)
	if err != nil || !ok {
		return nil, err
	}

	msg := Parse(line)
	if msg == nil {
		s.metrics.count(parseMisses)
		s.debugf(3, "Ignoring unparsed line: %q", line)
		return nil, nil
	}

	s.debugf(2, "SENDER:    '%s'", msg.Sender)
	s.debugf(2, "MSG_TYPE:  '%s'", msg.Kind)
	s.debugf(2, "TARGET:    '%s'", msg.Target)
	if msg.HasText {
		s.debugf(2, "MSG_TEXT:  '%s'", msg.Text)
	}

	if msg.isVersionQuery(s.nickname) {
		s.metrics.count(ctcpReplies)
		s.debugf(1, "Answering CTCP VERSION from %s", msg.Sender)
		return nil, s.Send(FormatNotice(msg.Sender, CTCP("VERSION", s.versionReply)))
	}

	return msg, nil
}

// RouteMessage reads one message and dispatches it through r. It returns
// the message if a handler was called for it.
func (s *Session) RouteMessage(r *Router, timeout time.Duration) (*Message, error) {
	msg, err := s.GetMessage(timeout)
	if msg == nil {
		return nil, err
	}

	routed, err := r.Route(s, msg)
	if !routed {
		return nil, err
	}
	return msg, err
}

// JoinChannel joins channel
func (s *Session) JoinChannel(channel string) error {
	return s.Send(FormatJoin(channel))
}

// Part leaves channel
func (s *Session) Part(channel, reason string) error {
	return s.Send(FormatPart(channel, reason))
}

// SendChatMessage sends text to a channel or nickname
func (s *Session) SendChatMessage(target, text string) error {
	return s.Send(FormatPrivmsg(target, text))
}

// GrantOperator asks the server to give user operator status on channel.
// The server does not confirm; it only works if we are a channel operator.
func (s *Session) GrantOperator(channel, user string) error {
	return s.Send(FormatOperator(channel, user))
}

// Quit sends QUIT and closes the connection
func (s *Session) Quit(reason string) error {
	err := s.Send(FormatQuit(reason))
	s.Close()
	return err
}

func (s *Session) redact(line string) string {
	if s.credential == "" {
		return line
	}
	return strings.ReplaceAll(line, s.credential, Mask(s.credential))
}

func (s *Session) debugf(level int, format string, args ...any) {
	level = clampVerbosity(level)
	if s.Verbosity() < level || s.logger == nil {
		return
	}

	indent := ""
	if level > 1 {
		indent = strings.Repeat("   ", level-1)
	}
	s.logger.Printf("IRC[%d] [%s] %s%s", level, s.connID.Load(), indent, fmt.Sprintf(format, args...))
}

func clampVerbosity(level int) int {
	if level < 0 {
		return 0
	}
	if level > MaxVerbosity {
		return MaxVerbosity
	}
	return level
}
