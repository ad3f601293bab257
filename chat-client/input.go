package main

import (
	"errors"
	"strings"

	"github.com/gosuda/portal-chat/chatclient"
)

const usage = "commands: /register <user> <password>, /login <user> <password>; after login every line is sent to the room"

var errNotLoggedIn = errors.New("not logged in; " + usage)

// parseLine turns one line of terminal input into a form. Once the chat
// pane is showing every line is chat text, slashes included. A nil form
// with a nil error means the line is ignored.
func parseLine(line string, chatting bool) (*chatclient.Form, error) {
	if chatting {
		return &chatclient.Form{Kind: chatclient.FormChat, Text: line}, nil
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, nil
	}

	var kind chatclient.FormKind
	switch fields[0] {
	case "/register":
		kind = chatclient.FormRegister
	case "/login":
		kind = chatclient.FormLogin
	case "/help":
		return nil, errors.New(usage)
	default:
		return nil, errNotLoggedIn
	}

	// Empty fields go through so the widget reports them the same way as
	// any other form.
	f := &chatclient.Form{Kind: kind}
	if len(fields) > 1 {
		f.Username = fields[1]
	}
	if len(fields) > 2 {
		f.Password = strings.Join(fields[2:], " ")
	}
	return f, nil
}
