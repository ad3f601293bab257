package chatclient

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

const (
	websocketPath = "/websocket"
	fixedWSPort   = "4444"
)

// ResolveEndpoint picks the websocket URL for a server base URL.
//
// A non-empty override wins. With fixedHost the port is pinned to 4444 on the
// base URL's host name; otherwise the base URL's host (and port) are reused,
// with wss for https bases.
func ResolveEndpoint(base, override string, fixedHost bool) (string, error) {
	if override = strings.TrimSpace(override); override != "" {
		u, err := url.Parse(override)
		if err != nil {
			return "", fmt.Errorf("parse websocket endpoint: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return "", fmt.Errorf("websocket endpoint %q: scheme must be ws or wss", override)
		}
		return u.String(), nil
	}

	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	if u.Host == "" {
		return "", errors.New("server url has no host")
	}

	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	host := u.Host
	if fixedHost {
		scheme = "ws"
		host = net.JoinHostPort(u.Hostname(), fixedWSPort)
	}
	return (&url.URL{Scheme: scheme, Host: host, Path: websocketPath}).String(), nil
}
