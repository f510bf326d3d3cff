// Package chat connects the bot to Twitch IRC. It delivers outbound
// announcements and converts raw membership events (JOIN/PART) into validated
// presence signals for the session engine. The conversion is the only place
// untyped platform payloads are inspected; everything downstream works with
// the strict signal type.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/shiftwatch/session"
	"github.com/onnwee/shiftwatch/telemetry"
)

// Resolver maps a chat login to a tracked user ID. Logins without a tracked
// identity are rejected at the boundary.
type Resolver interface {
	IDByLogin(login string) (string, bool)
}

// Config wires a Client.
type Config struct {
	// Username is the bot's login.
	Username string
	// OAuthToken is the chat token in oauth:-prefixed form.
	OAuthToken string
	// Channel is the target channel to join and announce in.
	Channel string
}

// Client wraps the IRC connection for one channel.
type Client struct {
	irc      *twitch.Client
	channel  string
	botLogin string
	resolver Resolver
	push     func(session.Signal)
	closing  atomic.Bool
}

// New builds a Client. push receives validated presence signals; it must not
// block (the engine's Push is non-blocking by design).
func New(cfg Config, resolver Resolver, push func(session.Signal)) *Client {
	irc := twitch.NewClient(cfg.Username, cfg.OAuthToken)
	// Membership capability is required to receive JOIN/PART events.
	irc.Capabilities = []string{twitch.TagsCapability, twitch.CommandsCapability, twitch.MembershipCapability}

	c := &Client{
		irc:      irc,
		channel:  strings.ToLower(cfg.Channel),
		botLogin: strings.ToLower(cfg.Username),
		resolver: resolver,
		push:     push,
	}

	irc.OnConnect(func() {
		slog.Info("irc connected", slog.String("channel", c.channel))
	})
	irc.OnUserJoinMessage(func(m twitch.UserJoinMessage) {
		c.handleMembership(m.Channel, m.User, true)
	})
	irc.OnUserPartMessage(func(m twitch.UserPartMessage) {
		c.handleMembership(m.Channel, m.User, false)
	})

	return c
}

// handleMembership is the narrow validation step at the platform boundary: a
// raw membership event either becomes a strict session.Signal or is rejected
// here. Unknown logins (not on the roster) and the bot's own events are
// dropped.
func (c *Client) handleMembership(channel, login string, active bool) {
	if !strings.EqualFold(channel, c.channel) {
		return
	}
	login = strings.ToLower(strings.TrimSpace(login))
	if login == "" || login == c.botLogin {
		return
	}
	id, ok := c.resolver.IDByLogin(login)
	if !ok {
		telemetry.SignalsRejected.Inc()
		slog.Debug("membership event for untracked login; rejected",
			slog.String("login", login), slog.Bool("active", active))
		return
	}
	c.push(session.Signal{ID: id, Active: active})
}

// Run joins the channel and blocks on the IRC connection until ctx is
// cancelled. Reconnects are handled by the underlying library.
func (c *Client) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		// Flag before tearing down the writer so a concurrent Send fails
		// explicitly instead of enqueueing into a dead connection.
		c.closing.Store(true)
		c.irc.Disconnect()
		close(done)
	}()

	c.irc.Join(c.channel)
	if err := c.irc.Connect(); err != nil && ctx.Err() == nil {
		slog.Error("twitch chat connect error", slog.Any("err", err))
		return err
	}
	<-done
	return nil
}

// Send queues one outbound message to the channel. The library handles
// platform rate limiting internally. Once shutdown of the connection has
// begun, Send fails instead of silently dropping the message.
func (c *Client) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closing.Load() {
		return errors.New("chat connection closed")
	}
	c.irc.Say(c.channel, text)
	return nil
}
