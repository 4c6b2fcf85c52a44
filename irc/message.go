package irc

import (
	"regexp"
	"strings"
)

// Verbs the client issues or classifies on.
const (
	CmdJoin    = "JOIN"
	CmdPart    = "PART"
	CmdPrivmsg = "PRIVMSG"
	CmdNotice  = "NOTICE"
	CmdPing    = "PING"
	CmdPong    = "PONG"
	CmdMode    = "MODE"
	CmdNick    = "NICK"
	CmdUser    = "USER"
	CmdQuit    = "QUIT"
)

// ctcpDelim wraps CTCP payloads inside PRIVMSG and NOTICE text.
const ctcpDelim = "\x01"

// MaxLineLength bounds a single inbound line, terminator included.
const MaxLineLength = 8191

// lineRE is the grammar of the lines the client understands:
// source nick up to '!', the user@host token, verb, target and an optional
// trailing text that runs to the end of the line.
var lineRE = regexp.MustCompile(`^:(([^!]*)![^ ]*) ([^ ]+) ([^ ]+) ?(:(.*))?$`)

// Message is one parsed line from the server
type Message struct {
	Sender  string // nickname of the originator
	User    string // username from the source, may be empty
	Host    string // host from the source, may be empty
	Kind    string // verb, upper-cased
	Target  string // channel or nickname the message is addressed to
	Text    string // trailing text, valid when HasText is set
	HasText bool
	Raw     string
}

// Parse parses a raw IRC line. It returns nil if the line does not match
// the client grammar; that is not an error.
func Parse(line string) *Message {
	line = strings.TrimRight(line, " \t\r\n")
	if line == "" {
		return nil
	}

	match := lineRE.FindStringSubmatch(line)
	if match == nil {
		return nil
	}

	msg := &Message{
		Sender: match[2],
		Kind:   strings.ToUpper(match[3]),
		Target: match[4],
		Raw:    line,
	}
	_, msg.User, msg.Host = ParseHostmask(match[1])

	if match[5] != "" {
		msg.Text = match[6]
		msg.HasText = true
	} else if strings.HasPrefix(msg.Target, ":") {
		// sole parameter sent in trailing form, e.g. "JOIN :#chan"
		msg.Target = msg.Target[1:]
	}

	return msg
}

// IsDirect reports whether m is a private message to nickname
func (m *Message) IsDirect(nickname string) bool {
	return m.Kind == CmdPrivmsg && strings.EqualFold(m.Target, nickname)
}

// IsChannelMessage reports whether m is a PRIVMSG not addressed to nickname
func (m *Message) IsChannelMessage(nickname string) bool {
	return m.Kind == CmdPrivmsg && !strings.EqualFold(m.Target, nickname)
}

// IsCTCP reports whether the text is a CTCP payload
func (m *Message) IsCTCP() bool {
	return len(m.Text) >= 2 && strings.HasPrefix(m.Text, ctcpDelim) && strings.HasSuffix(m.Text, ctcpDelim)
}

// CTCPCommand returns the CTCP command and its arguments, or empty strings
// if the text is not CTCP.
func (m *Message) CTCPCommand() (command, args string) {
	if !m.IsCTCP() {
		return "", ""
	}
	body := m.Text[1 : len(m.Text)-1]
	command, args, _ = strings.Cut(body, " ")
	return strings.ToUpper(command), args
}

// isVersionQuery reports whether m is a CTCP VERSION request sent to nickname
func (m *Message) isVersionQuery(nickname string) bool {
	if !m.IsDirect(nickname) {
		return false
	}
	command, args := m.CTCPCommand()
	return command == "VERSION" && args == ""
}

// Hostmask returns the sender's full nick!user@host
func (m *Message) Hostmask() string {
	return FormatHostmask(m.Sender, m.User, m.Host)
}

// String returns the message in line form, with the source reduced to
// the sender's nickname.
func (m *Message) String() string {
	var builder strings.Builder

	if m.Sender != "" {
		builder.WriteString(":")
		builder.WriteString(m.Sender)
		builder.WriteString(" ")
	}

	builder.WriteString(m.Kind)

	if m.Target != "" {
		builder.WriteString(" ")
		builder.WriteString(m.Target)
	}

	if m.HasText {
		builder.WriteString(" :")
		builder.WriteString(m.Text)
	}

	return builder.String()
}

// ParseHostmask splits a nick!user@host source. Missing parts are left
// empty; a source without '!' is all nick.
func ParseHostmask(hostmask string) (nick, user, host string) {
	nick, userHost, ok := strings.Cut(hostmask, "!")
	if !ok {
		return nick, "", ""
	}
	user, host, _ = strings.Cut(userHost, "@")
	return nick, user, host
}

// FormatHostmask joins the parts of a source. Empty user and host parts are
// left out.
func FormatHostmask(nick, user, host string) string {
	mask := nick
	if user != "" {
		mask += "!" + user
	}
	if host != "" {
		mask += "@" + host
	}
	return mask
}
