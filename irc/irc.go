/*
Package irc implements a small Internet Relay Chat (IRC) client core: one
long-lived connection to one server, the login handshake, line I/O with
timeouts and a parser for the IRC line grammar.

# Connection lifecycle

A Session moves through Unconnected, Connecting, Handshaking and Ready.
Connect dials the server on port 6667 and retries forever with exponential
backoff (10 seconds, doubling, capped at 10 minutes) until it gets through,
then sends USER, NICK, the NickServ IDENTIFY and JOIN, pausing up to two
seconds after each for a reply from the server.

Once Ready, GetLine and GetMessage return within the requested timeout
whether or not anything arrived, so a caller can interleave periodic work
with message handling. PING challenges are answered inside GetLine and never
reach the caller. CTCP VERSION queries are answered inside GetMessage.

A read or write failure drops the session back to Unconnected and is
returned as a *TransportError. The session does not reconnect on its own;
the caller decides when to call Connect again.

# Parsing

Parse accepts lines of the form

	:<nick>!<user>@<host> <verb> <target>[ :<text>]

and returns nil for anything else. Unknown verbs pass through untouched.

# Usage

	s, err := irc.NewSession(nick, password, irc.WithVerbosity(1))
	if err != nil {
	    log.Fatal(err)
	}
	if err := s.Connect(ctx, "irc.libera.chat", "#bots"); err != nil {
	    log.Fatal(err)
	}
	for {
	    msg, err := s.GetMessage(5 * time.Second)
	    if err != nil {
	        // connection lost, call Connect again
	    }
	    if msg == nil {
	        continue
	    }
	    // handle msg
	}

A Router maps messages onto a Handler with one method per event kind.
*/
package irc
