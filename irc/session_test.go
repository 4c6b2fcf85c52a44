package irc_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lanternbot/ircbot/irc"
	"github.com/lanternbot/ircbot/irc/irctest"
	"github.com/lanternbot/ircbot/wait"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testNick     = "BotName"
	testPassword = "hunter2"
	testChannel  = "#test"
)

func newSession(t *testing.T, srv *irctest.Server, opts ...irc.Option) *irc.Session {
	t.Helper()

	base := []irc.Option{
		irc.WithPort(srv.Port()),
		irc.WithHandshakeTimeout(20 * time.Millisecond),
		irc.WithBackoff(wait.NewFixedStrategy(10 * time.Millisecond)),
		irc.WithLogger(log.New(io.Discard, "", 0)),
	}
	s, err := irc.NewSession(testNick, testPassword, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func connect(t *testing.T, s *irc.Session, srv *irctest.Server) *irctest.Conn {
	t.Helper()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Connect(context.Background(), srv.Host(), testChannel)
	}()

	conn := srv.Accept(5 * time.Second)
	conn.ExpectHandshake(testNick, irc.DefaultRealname, testPassword, testChannel)

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Connect did not return")
	}
	require.Equal(t, irc.StateReady, s.State())
	return conn
}

func TestNewSessionRequiresIdentity(t *testing.T) {
	_, err := irc.NewSession("", "secret")
	assert.ErrorIs(t, err, irc.ErrMissingIdentity)

	_, err = irc.NewSession("BotName", "")
	assert.ErrorIs(t, err, irc.ErrMissingIdentity)

	s, err := irc.NewSession("BotName", "secret")
	require.NoError(t, err)
	assert.Equal(t, "BotName", s.Nickname())
	assert.Equal(t, irc.StateUnconnected, s.State())
}

func TestVerbosityClamped(t *testing.T) {
	s, err := irc.NewSession("BotName", "secret", irc.WithVerbosity(9))
	require.NoError(t, err)
	assert.Equal(t, 5, s.Verbosity())

	s.SetVerbosity(-3)
	assert.Equal(t, 0, s.Verbosity())

	s.SetVerbosity(2)
	assert.Equal(t, 2, s.Verbosity())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unconnected", irc.StateUnconnected.String())
	assert.Equal(t, "connecting", irc.StateConnecting.String())
	assert.Equal(t, "handshaking", irc.StateHandshaking.String())
	assert.Equal(t, "ready", irc.StateReady.String())
	assert.Equal(t, "State(9)", irc.State(9).String())
}

func TestSendRequiresConnection(t *testing.T) {
	s, err := irc.NewSession("BotName", "secret")
	require.NoError(t, err)

	err = s.SendChatMessage("#test", "hello")
	assert.ErrorIs(t, err, irc.ErrNotReady)
	assert.True(t, irc.IsTransportError(err))

	_, ok, err := s.GetLine(10 * time.Millisecond)
	assert.False(t, ok)
	assert.ErrorIs(t, err, irc.ErrNotReady)

	msg, err := s.GetMessage(10 * time.Millisecond)
	assert.Nil(t, msg)
	assert.ErrorIs(t, err, irc.ErrNotReady)
}

func TestConnectHandshake(t *testing.T) {
	srv := irctest.NewServer(t)
	s := newSession(t, srv)
	conn := connect(t, s, srv)

	require.NoError(t, s.SendChatMessage(testChannel, "Hello bob, welcome to #test!"))
	conn.Expect("PRIVMSG #test :Hello bob, welcome to #test!", time.Second)

	require.NoError(t, s.JoinChannel("#bots"))
	conn.Expect("JOIN #bots", time.Second)

	require.NoError(t, s.GrantOperator(testChannel, "alice"))
	conn.Expect("MODE #test +o alice", time.Second)

	require.NoError(t, s.Part("#bots", "later"))
	conn.Expect("PART #bots :later", time.Second)
}

func TestConnectAnswersPingDuringHandshake(t *testing.T) {
	srv := irctest.NewServer(t)
	s := newSession(t, srv, irc.WithHandshakeTimeout(time.Second))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Connect(context.Background(), srv.Host(), testChannel)
	}()

	conn := srv.Accept(5 * time.Second)
	conn.Expect("USER BotName 0 * :"+irc.DefaultRealname, time.Second)
	conn.Send("PING :handshake")
	conn.Expect("PONG :handshake", time.Second)
	conn.Expect("NICK BotName", 2*time.Second)
	conn.Send(":irc.example.net NOTICE * :*** Checking ident")
	conn.Expect("PRIVMSG NickServ :IDENTIFY BotName hunter2", 2*time.Second)
	conn.Send(":NickServ!services@services. NOTICE BotName :You are now identified")
	conn.Expect("JOIN #test", 2*time.Second)
	conn.Send(":BotName!bot@localhost JOIN #test")

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Connect did not return")
	}
	assert.Equal(t, irc.StateReady, s.State())
}

func TestConnectUsesRealname(t *testing.T) {
	srv := irctest.NewServer(t)
	s := newSession(t, srv, irc.WithRealname("Greeter of the channel"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Connect(context.Background(), srv.Host(), testChannel)
	}()

	conn := srv.Accept(5 * time.Second)
	conn.ExpectHandshake(testNick, "Greeter of the channel", testPassword, testChannel)
	require.NoError(t, <-errCh)
}

func TestSendTerminatesWithCRLF(t *testing.T) {
	srv := irctest.NewServer(t)
	s := newSession(t, srv)
	conn := connect(t, s, srv)

	require.NoError(t, s.Send("JOIN #x\r\n  "))
	conn.Expect("JOIN #x", time.Second)

	require.NoError(t, s.Send("PRIVMSG #x :one\r\nQUIT"))
	conn.Expect("PRIVMSG #x :one QUIT", time.Second)
}

func TestPingPong(t *testing.T) {
	srv := irctest.NewServer(t)
	s := newSession(t, srv)
	conn := connect(t, s, srv)

	conn.Send("PING :abc123")

	line, ok, err := s.GetLine(time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, line)

	conn.Expect("PONG :abc123", time.Second)
	conn.ExpectNothing(50 * time.Millisecond)
}

func TestGetLineTimeout(t *testing.T) {
	srv := irctest.NewServer(t)
	s := newSession(t, srv)
	connect(t, s, srv)

	start := time.Now()
	line, ok, err := s.GetLine(50 * time.Millisecond)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, line)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, time.Second)

	line, ok, err = s.GetLine(0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, line)
	assert.Equal(t, irc.StateReady, s.State())
}

func TestGetLineReturnsTrimmedLines(t *testing.T) {
	srv := irctest.NewServer(t)
	s := newSession(t, srv)
	conn := connect(t, s, srv)

	conn.Send(":irc.example.net 001 BotName :Welcome   ")
	_, err := conn.Write([]byte(":bob!b@h JOIN #test\n"))
	require.NoError(t, err)

	line, ok, err := s.GetLine(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ":irc.example.net 001 BotName :Welcome", line)

	line, ok, err = s.GetLine(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ":bob!b@h JOIN #test", line)
}

func TestGetLineKeepsLeadingWhitespace(t *testing.T) {
	srv := irctest.NewServer(t)
	s := newSession(t, srv)
	conn := connect(t, s, srv)

	conn.Send("  :bob!b@h JOIN #test \t")

	line, ok, err := s.GetLine(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "  :bob!b@h JOIN #test", line)
}

func TestOversizedLineIsDropped(t *testing.T) {
	srv := irctest.NewServer(t)
	metrics := irc.NewMetrics(prometheus.NewRegistry())
	s := newSession(t, srv, irc.WithMetrics(metrics))
	conn := connect(t, s, srv)

	conn.Send(":alice!a@h PRIVMSG #test :" + strings.Repeat("x", 9000))
	conn.Send(":bob!b@h JOIN #test")

	msg, err := s.GetMessage(time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "JOIN", msg.Kind)
	assert.Equal(t, "bob", msg.Sender)
	assert.Equal(t, irc.StateReady, s.State())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.LinesDropped))
}

func TestGetMessage(t *testing.T) {
	srv := irctest.NewServer(t)
	s := newSession(t, srv)
	conn := connect(t, s, srv)

	conn.Send(":irc.example.net 372 BotName :- message of the day")
	conn.Send(":bob!b@h JOIN #test")

	msg, err := s.GetMessage(time.Second)
	require.NoError(t, err)
	assert.Nil(t, msg, "numeric replies do not parse")

	msg, err = s.GetMessage(time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "bob", msg.Sender)
	assert.Equal(t, "JOIN", msg.Kind)
	assert.Equal(t, "#test", msg.Target)
	assert.False(t, msg.HasText)

	msg, err = s.GetMessage(20 * time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestCTCPVersionIsAnsweredAndSuppressed(t *testing.T) {
	srv := irctest.NewServer(t)
	s := newSession(t, srv, irc.WithVersionReply("testbot 1.0"))
	conn := connect(t, s, srv)

	conn.Send(":alice!a@h PRIVMSG BotName :\x01VERSION\x01")
	conn.Send(":alice!a@h PRIVMSG BotName :hi")

	msg, err := s.GetMessage(time.Second)
	require.NoError(t, err)
	assert.Nil(t, msg)
	conn.Expect("NOTICE alice :\x01VERSION testbot 1.0\x01", time.Second)

	msg, err = s.GetMessage(time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "hi", msg.Text)
	assert.True(t, msg.IsDirect(s.Nickname()))
}

func TestCTCPVersionInChannelIsDelivered(t *testing.T) {
	srv := irctest.NewServer(t)
	s := newSession(t, srv)
	conn := connect(t, s, srv)

	conn.Send(":alice!a@h PRIVMSG #test :\x01VERSION\x01")

	msg, err := s.GetMessage(time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.True(t, msg.IsChannelMessage(s.Nickname()))
	conn.ExpectNothing(50 * time.Millisecond)
}

func TestReadFailureDropsSession(t *testing.T) {
	srv := irctest.NewServer(t)
	s := newSession(t, srv)
	conn := connect(t, s, srv)

	require.NoError(t, conn.Close())

	_, ok, err := s.GetLine(time.Second)
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, irc.IsTransportError(err))
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, irc.StateUnconnected, s.State())

	err = s.SendChatMessage(testChannel, "anyone?")
	assert.ErrorIs(t, err, irc.ErrNotReady)
}

func TestReconnectAfterLoss(t *testing.T) {
	srv := irctest.NewServer(t)
	s := newSession(t, srv)
	conn := connect(t, s, srv)

	require.NoError(t, conn.Close())
	_, _, err := s.GetLine(time.Second)
	require.Error(t, err)

	conn = connect(t, s, srv)
	require.NoError(t, s.SendChatMessage(testChannel, "I'm back"))
	conn.Expect("PRIVMSG #test :I'm back", time.Second)
}

func TestConnectClosesPreviousConnection(t *testing.T) {
	srv := irctest.NewServer(t)
	s := newSession(t, srv)
	first := connect(t, s, srv)

	connect(t, s, srv)

	_, err := first.ReadLine(time.Second)
	assert.ErrorIs(t, err, io.EOF)
}

type recordingStrategy struct {
	wait.Strategy
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingStrategy) Next() (time.Duration, bool) {
	d, ok := r.Strategy.Next()
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return d, ok
}

func TestConnectRetriesWithBackoff(t *testing.T) {
	srv := irctest.NewServer(t)

	var attempts atomic.Int32
	dialer := &net.Dialer{Timeout: time.Second}
	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		if attempts.Add(1) <= 3 {
			return nil, errors.New("connection refused")
		}
		return dialer.DialContext(ctx, network, address)
	}

	strategy := &recordingStrategy{
		Strategy: wait.NewExponentialBackoffStrategy(time.Millisecond, 2.0, 3*time.Millisecond, false),
	}

	reg := prometheus.NewRegistry()
	metrics := irc.NewMetrics(reg)
	s := newSession(t, srv, irc.WithDialer(dial), irc.WithBackoff(strategy), irc.WithMetrics(metrics))
	connect(t, s, srv)

	assert.Equal(t, int32(4), attempts.Load())
	strategy.mu.Lock()
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}, strategy.delays)
	strategy.mu.Unlock()

	assert.Equal(t, float64(4), testutil.ToFloat64(metrics.DialAttempts))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.DialFailures))
}

func TestConnectStopsWhenContextDone(t *testing.T) {
	var attempts atomic.Int32
	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		attempts.Add(1)
		return nil, errors.New("no route to host")
	}

	s, err := irc.NewSession(testNick, testPassword,
		irc.WithDialer(dial),
		irc.WithBackoff(wait.NewFixedStrategy(5*time.Millisecond)),
		irc.WithLogger(log.New(io.Discard, "", 0)),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err = s.Connect(ctx, "irc.invalid", testChannel)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, attempts.Load(), int32(1))
	assert.Equal(t, irc.StateUnconnected, s.State())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDiagnosticsMaskCredential(t *testing.T) {
	srv := irctest.NewServer(t)
	out := &syncBuffer{}
	s := newSession(t, srv, irc.WithLogger(log.New(out, "", 0)), irc.WithVerbosity(2))
	conn := connect(t, s, srv)

	conn.Send(":alice!a@h PRIVMSG #test :hello there")
	_, err := s.GetMessage(time.Second)
	require.NoError(t, err)

	logs := out.String()
	assert.Contains(t, logs, "-> PRIVMSG NickServ :IDENTIFY BotName ********")
	assert.Contains(t, logs, "IRC[1]")
	assert.Contains(t, logs, "-> JOIN #test")
	assert.Contains(t, logs, "<- :alice!a@h PRIVMSG #test :hello there")
	assert.Contains(t, logs, "MSG_TEXT:  'hello there'")
	assert.NotContains(t, logs, testPassword)
}

func TestDiagnosticsSilentAtVerbosityZero(t *testing.T) {
	srv := irctest.NewServer(t)
	out := &syncBuffer{}
	s := newSession(t, srv, irc.WithLogger(log.New(out, "", 0)))
	connect(t, s, srv)

	require.NoError(t, s.SendChatMessage(testChannel, "quiet"))
	assert.NotContains(t, out.String(), "->")
}

func TestMetricsCountTraffic(t *testing.T) {
	srv := irctest.NewServer(t)
	reg := prometheus.NewRegistry()
	metrics := irc.NewMetrics(reg)
	s := newSession(t, srv, irc.WithMetrics(metrics))
	conn := connect(t, s, srv)

	assert.Equal(t, float64(irc.StateReady), testutil.ToFloat64(metrics.State))
	assert.Equal(t, float64(4), testutil.ToFloat64(metrics.LinesSent))

	conn.Send("PING :abc")
	_, _, err := s.GetLine(time.Second)
	require.NoError(t, err)
	conn.Expect("PONG :abc", time.Second)

	conn.Send(":irc.example.net 001 BotName :Welcome")
	_, err = s.GetMessage(time.Second)
	require.NoError(t, err)

	assert.Equal(t, float64(5), testutil.ToFloat64(metrics.LinesSent))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.LinesReceived))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Pings))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ParseMisses))

	require.NoError(t, s.Close())
	assert.Equal(t, float64(irc.StateUnconnected), testutil.ToFloat64(metrics.State))
}

func TestQuitClosesSession(t *testing.T) {
	srv := irctest.NewServer(t)
	s := newSession(t, srv)
	conn := connect(t, s, srv)

	require.NoError(t, s.Quit("Shutting down"))
	conn.Expect("QUIT :Shutting down", time.Second)
	assert.Equal(t, irc.StateUnconnected, s.State())
}
