package irc

import (
	"fmt"
	"strings"
)

// DefaultRealname is sent in USER when no realname is configured.
const DefaultRealname = "Experimental bot."

// FormatUser formats the USER registration line
func FormatUser(nickname, realname string) string {
	return fmt.Sprintf("%s %s 0 * :%s", CmdUser, nickname, realname)
}

// FormatNick formats a NICK line
func FormatNick(nickname string) string {
	return CmdNick + " " + nickname
}

// FormatIdentify formats the NickServ identification message
func FormatIdentify(nickname, credential string) string {
	return FormatPrivmsg("NickServ", fmt.Sprintf("IDENTIFY %s %s", nickname, credential))
}

// FormatJoin formats a JOIN line
func FormatJoin(channel string) string {
	return CmdJoin + " " + channel
}

// FormatPart formats a PART line with an optional reason
func FormatPart(channel, reason string) string {
	if reason == "" {
		return CmdPart + " " + channel
	}
	return fmt.Sprintf("%s %s :%s", CmdPart, channel, reason)
}

// FormatPrivmsg formats a PRIVMSG to a channel or nickname
func FormatPrivmsg(target, text string) string {
	return fmt.Sprintf("%s %s :%s", CmdPrivmsg, target, text)
}

// FormatNotice formats a NOTICE to a channel or nickname
func FormatNotice(target, text string) string {
	return fmt.Sprintf("%s %s :%s", CmdNotice, target, text)
}

// FormatOperator formats the MODE line granting channel operator status
func FormatOperator(channel, user string) string {
	return fmt.Sprintf("%s %s +o %s", CmdMode, channel, user)
}

// FormatPong formats the reply to a PING carrying token
func FormatPong(token string) string {
	return CmdPong + " " + token
}

// FormatQuit formats a QUIT line with an optional reason
func FormatQuit(reason string) string {
	if reason == "" {
		return CmdQuit
	}
	return CmdQuit + " :" + reason
}

// CTCP wraps a CTCP command and its arguments in the CTCP delimiters
func CTCP(command, args string) string {
	body := strings.ToUpper(command)
	if args != "" {
		body += " " + args
	}
	return ctcpDelim + body + ctcpDelim
}

// Mask hides a secret for diagnostic output
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
