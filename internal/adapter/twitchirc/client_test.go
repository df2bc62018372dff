package twitchirc

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testNick    = "donationbot"
	testChannel = "musikhjalpen"
)

// fakeChat answers the login like the Twitch chat server: 001 after NICK,
// a JOIN echo for the bot, PONG for PING. PRIVMSG lines are collected
// separately from everything else.
type fakeChat struct {
	ln       net.Listener
	authFail bool
	noJoin   bool

	lines    chan string
	privmsgs chan string

	mu   sync.Mutex
	conn net.Conn
}

func startFakeChat(t *testing.T, configure ...func(*fakeChat)) *fakeChat {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &fakeChat{
		ln:       ln,
		lines:    make(chan string, 64),
		privmsgs: make(chan string, 16),
	}
	for _, fn := range configure {
		fn(srv)
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			srv.mu.Lock()
			srv.conn = conn
			srv.mu.Unlock()
			go srv.serve(conn)
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		srv.hangup()
	})
	return srv
}

func (s *fakeChat) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeChat) serve(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		if strings.HasPrefix(line, "PRIVMSG ") {
			s.privmsgs <- line
			continue
		}
		select {
		case s.lines <- line:
		default:
		}

		switch {
		case strings.HasPrefix(line, "NICK "):
			if s.authFail {
				s.write(conn, ":tmi.twitch.tv NOTICE * :Login authentication failed")
				continue
			}
			s.write(conn, fmt.Sprintf(":tmi.twitch.tv 001 %s :Welcome, GLHF!", testNick))
		case strings.HasPrefix(line, "JOIN #"):
			if !s.noJoin {
				s.write(conn, fmt.Sprintf(":%[1]s!%[1]s@%[1]s.tmi.twitch.tv JOIN %[2]s", testNick, strings.TrimPrefix(line, "JOIN ")))
			}
		case strings.HasPrefix(line, "PING"):
			s.write(conn, ":tmi.twitch.tv PONG tmi.twitch.tv"+strings.TrimPrefix(line, "PING"))
		}
	}
}

func (s *fakeChat) write(conn net.Conn, line string) {
	_, _ = fmt.Fprintf(conn, "%s\r\n", line)
}

func (s *fakeChat) send(t *testing.T, line string) {
	t.Helper()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	require.NotNil(t, conn, "no client connected")
	s.write(conn, line)
}

func (s *fakeChat) hangup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

// waitForLine returns the first non-PRIVMSG line matching pred.
func (s *fakeChat) waitForLine(t *testing.T, pred func(string) bool) string {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case line := <-s.lines:
			if pred(line) {
				return line
			}
		case <-timeout:
			t.Fatal("expected line not received")
			return ""
		}
	}
}

func (s *fakeChat) nextPrivmsg(t *testing.T) string {
	t.Helper()
	select {
	case line := <-s.privmsgs:
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("no PRIVMSG received")
		return ""
	}
}

func newTestClient(srv *fakeChat, clock clockwork.Clock) *Client {
	return New(Config{
		Host:    "127.0.0.1",
		Port:    srv.port(),
		Nick:    "DonationBot",
		OAuth:   "abc123",
		Channel: "#Musikhjalpen",
	}, clock)
}

func connect(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(func() { _ = c.Close() })
}

func TestConnect_Handshake(t *testing.T) {
	srv := startFakeChat(t)
	c := newTestClient(srv, clockwork.NewRealClock())
	connect(t, c)

	var seen []string
	for _, prefix := range []string{"PASS ", "NICK ", "JOIN "} {
		prefix := prefix
		seen = append(seen, srv.waitForLine(t, func(l string) bool { return strings.HasPrefix(l, prefix) }))
	}
	assert.Equal(t, []string{"PASS oauth:abc123", "NICK donationbot", "JOIN #musikhjalpen"}, seen)

	select {
	case <-c.Done():
		t.Fatal("connection reported lost right after login")
	default:
	}
}

func TestConnect_AuthFailure(t *testing.T) {
	srv := startFakeChat(t, func(s *fakeChat) { s.authFail = true })
	c := newTestClient(srv, clockwork.NewRealClock())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	assert.ErrorIs(t, c.Connect(ctx), ErrAuthFailed)
}

func TestConnect_TimesOutWithoutJoinEcho(t *testing.T) {
	srv := startFakeChat(t, func(s *fakeChat) { s.noJoin = true })
	c := newTestClient(srv, clockwork.NewRealClock())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, c.Connect(ctx), context.DeadlineExceeded)
}

func TestConnect_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	c := New(Config{Host: "127.0.0.1", Port: port, Nick: "bot", OAuth: "x", Channel: "chan"}, clockwork.NewRealClock())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err = c.Connect(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_AnswersPing(t *testing.T) {
	srv := startFakeChat(t)
	c := newTestClient(srv, clockwork.NewRealClock())
	connect(t, c)

	srv.send(t, "PING :tmi.twitch.tv")

	pong := srv.waitForLine(t, func(l string) bool { return strings.HasPrefix(l, "PONG") })
	assert.Contains(t, pong, "tmi.twitch.tv")
}

func TestDeliver_SendsPrivmsg(t *testing.T) {
	srv := startFakeChat(t)
	c := newTestClient(srv, clockwork.NewRealClock())
	c.limiter.SetLimit(1000)
	connect(t, c)

	require.NoError(t, c.Deliver(context.Background(), domain.DonationEvent{Class: domain.ClassDonation, Amount: 50, Sequence: 1}))
	require.NoError(t, c.Deliver(context.Background(), domain.DonationEvent{Class: domain.ClassSprintDonation, Amount: 250, Sequence: 2}))

	assert.Equal(t, "PRIVMSG #musikhjalpen :En hjälte skänkte 50 kr", srv.nextPrivmsg(t))
	assert.Equal(t, "PRIVMSG #musikhjalpen :🎉 SPRINT DONATION! 250 kr 🎉", srv.nextPrivmsg(t))
}

func TestDeliver_SpacesMessagesBySendInterval(t *testing.T) {
	srv := startFakeChat(t)
	clock := clockwork.NewFakeClock()
	c := newTestClient(srv, clock)
	require.Equal(t, DefaultSendInterval, c.cfg.SendInterval)
	connect(t, c)

	require.NoError(t, c.Deliver(context.Background(), domain.DonationEvent{Class: domain.ClassDonation, Amount: 10, Sequence: 1}))
	assert.Equal(t, "PRIVMSG #musikhjalpen :En hjälte skänkte 10 kr", srv.nextPrivmsg(t))

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Deliver(context.Background(), domain.DonationEvent{Class: domain.ClassDonation, Amount: 20, Sequence: 2})
	}()

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(DefaultSendInterval - time.Millisecond)

	select {
	case line := <-srv.privmsgs:
		t.Fatalf("second message sent before the send interval elapsed: %q", line)
	case <-time.After(100 * time.Millisecond):
	}

	clock.Advance(time.Millisecond)

	assert.Equal(t, "PRIVMSG #musikhjalpen :En hjälte skänkte 20 kr", srv.nextPrivmsg(t))
	require.NoError(t, <-errCh)
}

func TestDeliver_CancelledWhileThrottled(t *testing.T) {
	srv := startFakeChat(t)
	clock := clockwork.NewFakeClock()
	c := newTestClient(srv, clock)
	connect(t, c)

	require.NoError(t, c.Deliver(context.Background(), domain.DonationEvent{Amount: 1}))
	srv.nextPrivmsg(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Deliver(ctx, domain.DonationEvent{Amount: 2}) }()

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestDone_ClosesWhenServerHangsUp(t *testing.T) {
	srv := startFakeChat(t)
	c := newTestClient(srv, clockwork.NewRealClock())
	connect(t, c)

	srv.hangup()

	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("Done not closed after the server hung up")
	}
	assert.ErrorIs(t, c.Deliver(context.Background(), domain.DonationEvent{Amount: 1}), ErrNotConnected)
}

func TestClose_EndsConnection(t *testing.T) {
	srv := startFakeChat(t)
	c := newTestClient(srv, clockwork.NewRealClock())
	connect(t, c)
	done := c.Done()

	require.NoError(t, c.Close())

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("connection still running after Close")
	}
	assert.ErrorIs(t, c.Deliver(context.Background(), domain.DonationEvent{Amount: 1}), ErrNotConnected)
}

func TestNotConnected(t *testing.T) {
	c := New(Config{Nick: "bot", OAuth: "x", Channel: "chan"}, clockwork.NewRealClock())

	assert.ErrorIs(t, c.Deliver(context.Background(), domain.DonationEvent{Amount: 1}), ErrNotConnected)
	select {
	case <-c.Done():
	default:
		t.Fatal("Done must be closed without a connection")
	}
	assert.NoError(t, c.Close())
}

func TestNew_Defaults(t *testing.T) {
	clock := clockwork.NewRealClock()

	plain := New(Config{}, clock)
	assert.Equal(t, DefaultHost, plain.cfg.Host)
	assert.Equal(t, DefaultPort, plain.cfg.Port)
	assert.Equal(t, DefaultSendInterval, plain.cfg.SendInterval)

	secure := New(Config{TLS: true}, clock)
	assert.Equal(t, DefaultTLSPort, secure.cfg.Port)

	explicit := New(Config{TLS: true, Port: 443}, clock)
	assert.Equal(t, 443, explicit.cfg.Port)
}

func TestOAuthPassword(t *testing.T) {
	assert.Equal(t, "oauth:abc", oauthPassword("abc"))
	assert.Equal(t, "oauth:abc", oauthPassword("oauth:abc"))
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "one two", sanitize("one\r\ntwo\n"))
}
