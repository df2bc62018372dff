// Package twitchirc posts donation messages to a Twitch channel over the
// chat IRC interface.
package twitchirc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/jonboulle/clockwork"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/domain"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/platform/retry"
	"golang.org/x/time/rate"
)

const (
	DefaultHost         = "irc.chat.twitch.tv"
	DefaultPort         = 6667
	DefaultTLSPort      = 6697
	DefaultSendInterval = 500 * time.Millisecond

	disconnectWait = 5 * time.Second
)

var (
	ErrAuthFailed   = errors.New("twitch authentication failed")
	ErrNotConnected = errors.New("not connected to twitch chat")
)

// closedChan is returned by Done while there is no connection.
var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Config describes the chat connection. Port 0 picks 6667, or 6697 with TLS.
// SendInterval is the minimum gap between two chat messages.
type Config struct {
	Host         string
	Port         int
	TLS          bool
	Nick         string
	OAuth        string
	Channel      string
	SendInterval time.Duration
}

// Client is a forwarder sink. Each Connect opens a fresh chat connection;
// Done reports when that connection drops so the forwarder can reconnect
// before the next event.
type Client struct {
	cfg     Config
	clock   clockwork.Clock
	limiter *rate.Limiter

	mu   sync.Mutex
	conn *connection
}

// connection is one run of the IRC client. err is set before done closes.
type connection struct {
	irc    *twitch.Client
	joined chan struct{}
	done   chan struct{}
	err    error
}

func New(cfg Config, clock clockwork.Clock) *Client {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
		if cfg.TLS {
			cfg.Port = DefaultTLSPort
		}
	}
	if cfg.SendInterval <= 0 {
		cfg.SendInterval = DefaultSendInterval
	}
	cfg.Channel = strings.ToLower(strings.TrimPrefix(cfg.Channel, "#"))
	cfg.Nick = strings.ToLower(cfg.Nick)

	return &Client{
		cfg:     cfg,
		clock:   clock,
		limiter: rate.NewLimiter(rate.Every(cfg.SendInterval), 1),
	}
}

func (c *Client) Name() string {
	return "twitch"
}

// Connect logs in and joins the channel. It returns once the server echoes
// the join, and fails with ErrAuthFailed when the server rejects the token.
func (c *Client) Connect(ctx context.Context) error {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	slog.Info("Connecting to Twitch chat", "addr", addr, "tls", c.cfg.TLS, "channel", c.cfg.Channel)

	irc := twitch.NewClient(c.cfg.Nick, oauthPassword(c.cfg.OAuth))
	irc.IrcAddress = addr
	irc.TLS = c.cfg.TLS

	conn := &connection{
		irc:    irc,
		joined: make(chan struct{}),
		done:   make(chan struct{}),
	}
	var joinOnce sync.Once
	irc.OnSelfJoinMessage(func(m twitch.UserJoinMessage) {
		if strings.EqualFold(m.Channel, c.cfg.Channel) {
			joinOnce.Do(func() { close(conn.joined) })
		}
	})
	irc.Join(c.cfg.Channel)

	go conn.run()

	select {
	case <-conn.joined:
	case <-conn.done:
		if errors.Is(conn.err, twitch.ErrLoginAuthenticationFailed) {
			return fmt.Errorf("%w: %w", ErrAuthFailed, conn.err)
		}
		return fmt.Errorf("connection closed during login: %w", conn.err)
	case <-ctx.Done():
		go conn.abandon()
		return fmt.Errorf("waiting for join confirmation: %w", ctx.Err())
	}

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.mu.Unlock()
	if old != nil {
		_ = old.close()
	}

	slog.Info("Joined Twitch channel", "channel", c.cfg.Channel, "nick", c.cfg.Nick)
	return nil
}

// Done is closed when the current connection is lost, and is always closed
// while the client is not connected.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return closedChan
	}
	return c.conn.done
}

// Deliver posts the event's message to the channel, spaced by SendInterval.
func (c *Client) Deliver(ctx context.Context, ev domain.DonationEvent) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	select {
	case <-conn.done:
		return fmt.Errorf("%w: %w", ErrNotConnected, conn.err)
	default:
	}

	if err := c.throttle(ctx); err != nil {
		return err
	}

	msg := sanitize(ev.Message())
	conn.irc.Say(c.cfg.Channel, msg)
	slog.InfoContext(ctx, "Sent to Twitch chat", "channel", c.cfg.Channel, "message", msg)
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.close()
}

// throttle waits on the client's clock until the limiter admits one message.
func (c *Client) throttle(ctx context.Context) error {
	now := c.clock.Now()
	r := c.limiter.ReserveN(now, 1)
	if err := retry.Sleep(ctx, c.clock, r.DelayFrom(now)); err != nil {
		r.CancelAt(c.clock.Now())
		return err
	}
	return nil
}

func (conn *connection) run() {
	err := conn.irc.Connect()
	if err != nil && !errors.Is(err, twitch.ErrClientDisconnected) {
		slog.Warn("Twitch chat connection closed", "error", err)
	}
	if err == nil {
		err = net.ErrClosed
	}
	conn.err = err
	close(conn.done)
}

func (conn *connection) close() error {
	select {
	case <-conn.done:
		return nil
	default:
	}

	if err := conn.irc.Disconnect(); err != nil && !errors.Is(err, twitch.ErrConnectionIsNotOpen) {
		return err
	}

	select {
	case <-conn.done:
	case <-time.After(disconnectWait):
		slog.Warn("Twitch chat connection did not close in time")
	}
	return nil
}

// abandon closes a connection whose login outlived its caller.
func (conn *connection) abandon() {
	select {
	case <-conn.joined:
		_ = conn.close()
	case <-conn.done:
	}
}

func oauthPassword(token string) string {
	if strings.HasPrefix(token, "oauth:") {
		return token
	}
	return "oauth:" + token
}

// sanitize keeps a message on a single IRC line.
func sanitize(msg string) string {
	return strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(msg))
}
