// Package bot is a small greeter built on the irc package. It welcomes
// people joining the main channel, asks people who leave to come back,
// optionally grants operator status to configured names and answers
// private messages with a short description of itself.
package bot

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/lanternbot/ircbot/irc"
)

// DefaultAbout is the reply to private messages
const DefaultAbout = "Hello, I'm a bot skeleton. I can't really do anything, " +
	"I exist merely as an example of how to write an IRC bot that others " +
	"can extend if they want."

// DefaultPoll is how long Run waits for a message before looping
const DefaultPoll = 5 * time.Second

// Greeter handles routed messages for the main channel
type Greeter struct {
	irc.NopHandler

	MainChannel string

	// Operators are nicknames or nick!user@host masks granted operator
	// status when they join.
	Operators []string
	About     string

	// Out receives a line for every chat message seen. Defaults to stdout.
	Out io.Writer
}

func (g *Greeter) out() io.Writer {
	if g.Out == nil {
		return os.Stdout
	}
	return g.Out
}

func (g *Greeter) isMain(channel string) bool {
	return strings.EqualFold(channel, g.MainChannel)
}

// isOperator matches m's sender against Operators. Entries containing '!'
// must match the full nick!user@host, others just the nickname.
func (g *Greeter) isOperator(m *irc.Message) bool {
	return slices.ContainsFunc(g.Operators, func(op string) bool {
		if strings.Contains(op, "!") {
			return strings.EqualFold(op, m.Hostmask())
		}
		return strings.EqualFold(op, m.Sender)
	})
}

func isSelf(s *irc.Session, nick string) bool {
	return strings.EqualFold(nick, s.Nickname())
}

// OnJoin welcomes the sender and ops them if they are listed in Operators
func (g *Greeter) OnJoin(s *irc.Session, m *irc.Message) error {
	if !g.isMain(m.Target) || isSelf(s, m.Sender) {
		return nil
	}

	if err := s.SendChatMessage(m.Target, fmt.Sprintf("Hello %s, welcome to %s!", m.Sender, m.Target)); err != nil {
		return err
	}

	if g.isOperator(m) {
		return s.GrantOperator(m.Target, m.Sender)
	}
	return nil
}

// OnPart asks the sender to come back
func (g *Greeter) OnPart(s *irc.Session, m *irc.Message) error {
	if !g.isMain(m.Target) || isSelf(s, m.Sender) {
		return nil
	}
	return s.SendChatMessage(m.Sender, fmt.Sprintf("Please come back to %s soon!", m.Target))
}

// OnDirectMessage prints the message and replies with About
func (g *Greeter) OnDirectMessage(s *irc.Session, m *irc.Message) error {
	fmt.Fprintf(g.out(), "Private message: %s->%s: %s\n", m.Sender, m.Target, m.Text)

	about := g.About
	if about == "" {
		about = DefaultAbout
	}
	return s.SendChatMessage(m.Sender, about)
}

// OnChannelMessage prints the message
func (g *Greeter) OnChannelMessage(s *irc.Session, m *irc.Message) error {
	fmt.Fprintf(g.out(), "Channel message: %s @ %s: %s\n", m.Sender, m.Target, m.Text)
	return nil
}

// Runner drives a session: it connects, joins the extra channels and
// routes messages until its context is done. A lost connection is
// reconnected on the next pass.
type Runner struct {
	Session *irc.Session
	Router  *irc.Router
	Server  string
	Channel string
	Extra   []string
	Poll    time.Duration

	// Tick, when set, is called after every pass of the loop, including
	// passes that timed out without a message.
	Tick func(ctx context.Context)

	Logger *log.Logger
}

func (r *Runner) logf(format string, args ...any) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

func (r *Runner) connect(ctx context.Context) error {
	if err := r.Session.Connect(ctx, r.Server, r.Channel); err != nil {
		return err
	}
	for _, channel := range r.Extra {
		if err := r.Session.JoinChannel(channel); err != nil {
			return err
		}
	}
	return nil
}

// Run loops until ctx is done, then sends QUIT. It returns nil on a clean
// shutdown and the connect error if ctx ended during a connect attempt.
func (r *Runner) Run(ctx context.Context) error {
	poll := r.Poll
	if poll <= 0 {
		poll = DefaultPoll
	}
	router := r.Router
	if router == nil {
		router = irc.NewRouter(nil)
	}

	for {
		if ctx.Err() != nil {
			if r.Session.State() != irc.StateUnconnected {
				r.Session.Quit("Shutting down")
			}
			return nil
		}

		if r.Session.State() != irc.StateReady {
			if err := r.connect(ctx); err != nil {
				if ctx.Err() != nil {
					return err
				}
				r.logf("[bot] connect: %v", err)
				continue
			}
		}

		_, err := r.Session.RouteMessage(router, poll)
		switch {
		case err == nil:
		case irc.IsTransportError(err):
			r.logf("[bot] connection lost: %v", err)
		default:
			r.logf("[bot] handler: %v", err)
		}

		if r.Tick != nil {
			r.Tick(ctx)
		}
	}
}
